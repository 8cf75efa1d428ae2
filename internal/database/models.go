package database

import "time"

// Storefront identifiers.
const (
	StoreIOS     = "ios"
	StoreAndroid = "android"
)

// ValidStore reports whether s names a supported storefront.
func ValidStore(s string) bool {
	return s == StoreIOS || s == StoreAndroid
}

// App is a registered storefront listing.
type App struct {
	ID         int64
	Store      string
	ExternalID string
	Name       string
	CreatedAt  time.Time
}

// Review is a stored, normalized review.
type Review struct {
	ID        int64
	AppID     int64
	Store     string
	ReviewID  string
	Author    string
	Rating    int
	Title     string
	Text      string
	Language  string
	Version   string
	Country   string
	CreatedAt time.Time
	FetchedAt time.Time
}

// UpsertResult reports the outcome of UpsertReview.
type UpsertResult struct {
	Inserted  bool
	CreatedAt time.Time
	FetchedAt time.Time
}

// TimestampsMatch reports whether fetched_at equals created_at after the
// write. Older callers used this to guess that a row was new; it misfires
// whenever a source timestamp coincides with ingest time. Prefer Inserted.
func (r UpsertResult) TimestampsMatch() bool {
	return r.CreatedAt.Equal(r.FetchedAt)
}

// ReviewQuery selects reviews created at or after Since. A nil AppID
// matches every app; Limit <= 0 means no cap.
type ReviewQuery struct {
	AppID *int64
	Since time.Time
	Limit int
}

// Summary is one analysis result per (store, app, date key).
type Summary struct {
	ID          int64
	Store       string
	AppID       int64
	DateKey     string
	Window      string
	TopicsJSON  string
	Narrative   string
	ReviewCount int
	GeneratedAt time.Time
}

// Run kinds recorded in run_reports.
const (
	RunIngest  = "ingest"
	RunAnalyze = "analyze"
	RunRefresh = "refresh"
)

// RunReport holds metadata about a pipeline run.
type RunReport struct {
	ID               int64
	RunID            string
	Kind             string
	StartedAt        time.Time
	FinishedAt       time.Time
	AppsProcessed    int
	AppsFailed       int
	ReviewsNew       int
	ReviewsUpdated   int
	SummariesWritten int
}

// Stats contains aggregate database statistics.
type Stats struct {
	Apps           int
	Reviews        int
	Summaries      int
	ReviewsByStore map[string]int
	LastRun        *RunReport
}
