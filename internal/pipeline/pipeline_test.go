package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/TobiSchelling/reviewpulse/internal/collect"
	"github.com/TobiSchelling/reviewpulse/internal/config"
	"github.com/TobiSchelling/reviewpulse/internal/database"
	"github.com/TobiSchelling/reviewpulse/internal/enrich"
	"github.com/TobiSchelling/reviewpulse/internal/retry"
	"github.com/TobiSchelling/reviewpulse/internal/runlock"
	"github.com/TobiSchelling/reviewpulse/internal/textutil"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

type fakeSource struct {
	store   string
	reviews map[string][]collect.RawReview
	errs    map[string]error
	calls   int
}

func (f *fakeSource) Store() string { return f.store }

func (f *fakeSource) Fetch(_ context.Context, externalID string) ([]collect.RawReview, error) {
	f.calls++
	if err := f.errs[externalID]; err != nil {
		return nil, err
	}
	return f.reviews[externalID], nil
}

type fakeEnricher struct {
	samples [][]string
	rollups [][]enrich.TopicDigest
	labels  []string
}

func (f *fakeEnricher) SummarizeCluster(_ context.Context, samples []string) enrich.Annotation {
	f.samples = append(f.samples, samples)
	return enrich.Annotation{
		Summary:    fmt.Sprintf("summary %d", len(f.samples)),
		Sentiment:  textutil.Negative,
		Urgency:    enrich.High,
		Suggestion: "fix it",
	}
}

func (f *fakeEnricher) Rollup(_ context.Context, topics []enrich.TopicDigest, label string) string {
	f.rollups = append(f.rollups, topics)
	f.labels = append(f.labels, label)
	return "overall narrative"
}

func testConfig() *config.Config {
	return &config.Config{
		Analysis: config.Analysis{DefaultWindow: "quarterly", Windows: config.DefaultWindows()},
	}
}

func raw(id, text string, rating int) collect.RawReview {
	return collect.RawReview{
		ID:     id,
		Author: "tester",
		Rating: rating,
		Text:   text,
		Date:   time.Now().Add(-time.Hour),
	}
}

type fixture struct {
	db       *database.DB
	p        *Pipeline
	ios      *fakeSource
	android  *fakeSource
	enricher *fakeEnricher
	locker   *runlock.Local
	appA     int64
	appB     int64
	sleeps   []time.Duration
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		db:       openTestDB(t),
		ios:      &fakeSource{store: database.StoreIOS, reviews: map[string][]collect.RawReview{}, errs: map[string]error{}},
		android:  &fakeSource{store: database.StoreAndroid, reviews: map[string][]collect.RawReview{}, errs: map[string]error{}},
		enricher: &fakeEnricher{},
		locker:   runlock.NewLocal(),
	}

	var err error
	if f.appA, err = f.db.AddApp(database.StoreIOS, "111", "App A"); err != nil {
		t.Fatal(err)
	}
	if f.appB, err = f.db.AddApp(database.StoreAndroid, "com.example.b", "App B"); err != nil {
		t.Fatal(err)
	}

	f.ios.reviews["111"] = []collect.RawReview{
		raw("a1", "Login crashes every single time", 1),
		raw("a2", "Login crashes every single time", 2),
		raw("a3", "Beautiful design and smooth animations", 5),
	}
	f.android.reviews["com.example.b"] = []collect.RawReview{
		raw("b1", "Payment screen freezes constantly", 1),
	}

	collector := collect.NewCollector(retry.Once(), f.ios, f.android)
	f.p = NewWithDeps(testConfig(), f.db, Deps{Collector: collector, Enricher: f.enricher, Locker: f.locker})
	f.p.sleep = func(ctx context.Context, d time.Duration) bool {
		f.sleeps = append(f.sleeps, d)
		return ctx.Err() == nil
	}
	return f
}

func ingestFor(t *testing.T, rep *IngestReport, store string) AppIngest {
	t.Helper()
	for _, a := range rep.Apps {
		if a.Store == store {
			return a
		}
	}
	t.Fatalf("no %s app in report", store)
	return AppIngest{}
}

func TestIngestIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rep, err := f.p.Ingest(ctx)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if rep.New != 4 || rep.Updated != 0 || rep.Failed != 0 {
		t.Errorf("expected 4 new, got %+v", rep)
	}
	if rep.Totals[database.StoreIOS] != 3 || rep.Totals[database.StoreAndroid] != 1 {
		t.Errorf("unexpected totals %v", rep.Totals)
	}

	rep, err = f.p.Ingest(ctx)
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if rep.New != 0 || rep.Updated != 4 {
		t.Errorf("expected 0 new / 4 updated on rerun, got %d/%d", rep.New, rep.Updated)
	}

	count, err := f.db.CountReviews(&f.appA)
	if err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Errorf("expected 3 stored reviews for app A, got %d", count)
	}

	last, err := f.db.LastRunReport()
	if err != nil || last == nil {
		t.Fatalf("expected run report, got %v (%v)", last, err)
	}
	if last.Kind != database.RunIngest || last.ReviewsUpdated != 4 || last.RunID != rep.RunID {
		t.Errorf("unexpected run report %+v", last)
	}
}

func TestIngestCountsRejections(t *testing.T) {
	f := newFixture(t)
	f.ios.reviews["111"] = append(f.ios.reviews["111"],
		raw("a4", "Rating out of range here", 0),
		raw("a5", "too short", 3),
		raw("", "Missing identifier entirely", 3),
	)

	rep, err := f.p.Ingest(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	a := ingestFor(t, rep, database.StoreIOS)
	if a.Fetched != 6 || a.Usable != 3 || a.New != 3 {
		t.Errorf("unexpected app report %+v", a)
	}
	total := 0
	for _, n := range a.Rejected {
		total += n
	}
	if total != 3 {
		t.Errorf("expected 3 rejections, got %v", a.Rejected)
	}
}

func TestIngestIsolatesFailingApp(t *testing.T) {
	f := newFixture(t)
	f.android.errs["com.example.b"] = errors.New("503 from proxy")

	rep, err := f.p.Ingest(context.Background())
	if err != nil {
		t.Fatalf("a single failing app should not fail the run: %v", err)
	}
	if rep.Failed != 1 || rep.New != 3 {
		t.Errorf("expected 1 failure and 3 new, got %+v", rep)
	}
	if b := ingestFor(t, rep, database.StoreAndroid); !strings.Contains(b.Err, "503 from proxy") {
		t.Errorf("expected error recorded for app B, got %q", b.Err)
	}
}

func TestIngestSkipsLockedApp(t *testing.T) {
	f := newFixture(t)
	release, err := f.locker.Acquire(context.Background(), "ios:111")
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	rep, err := f.p.Ingest(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if a := ingestFor(t, rep, database.StoreIOS); rep.Failed != 1 || !strings.Contains(a.Err, runlock.ErrLocked.Error()) {
		t.Errorf("expected app A skipped as locked, got %+v", a)
	}
	if f.ios.calls != 0 {
		t.Errorf("locked app should not be fetched, got %d calls", f.ios.calls)
	}
}

func TestIngestWithoutAppsIsConfigError(t *testing.T) {
	db := openTestDB(t)
	p := NewWithDeps(testConfig(), db, Deps{Collector: collect.NewCollector(retry.Once()), Enricher: &fakeEnricher{}})
	if _, err := p.Ingest(context.Background()); !errors.Is(err, config.ErrInvalid) {
		t.Errorf("expected ErrInvalid, got %v", err)
	}
}

func TestAnalyzeWritesSummariesPerApp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appC, err := f.db.AddApp(database.StoreIOS, "333", "App C")
	if err != nil {
		t.Fatal(err)
	}
	f.android.reviews["com.example.b"] = append(f.android.reviews["com.example.b"],
		raw("b2", "Payment screen freezes constantly", 2))
	if _, err := f.p.Ingest(ctx); err != nil {
		t.Fatal(err)
	}

	rep, err := f.p.Analyze(ctx, "")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if rep.Summaries != 2 || rep.Failed != 0 {
		t.Errorf("expected summaries for A and B only, got %+v", rep)
	}
	if rep.Window != "last 3 months" || rep.DateKey != database.GetToday() {
		t.Errorf("unexpected window/date %q/%q", rep.Window, rep.DateKey)
	}

	if s, err := f.db.GetSummary(database.StoreIOS, appC, rep.DateKey); err != nil || s != nil {
		t.Errorf("expected no summary for empty app C, got %+v (%v)", s, err)
	}

	s, err := f.db.GetSummary(database.StoreIOS, f.appA, rep.DateKey)
	if err != nil || s == nil {
		t.Fatalf("expected summary for app A: %v", err)
	}
	if s.Narrative != "overall narrative" || s.ReviewCount != 3 || s.Window != "last 3 months" {
		t.Errorf("unexpected summary %+v", s)
	}

	var stored []Topic
	if err := json.Unmarshal([]byte(s.TopicsJSON), &stored); err != nil {
		t.Fatalf("topics JSON: %v", err)
	}
	if len(stored) != 1 || stored[0].Count != 2 {
		t.Fatalf("expected one login topic of 2, got %+v", stored)
	}
	if stored[0].AISummary == nil || stored[0].AISummary.Urgency != enrich.High {
		t.Errorf("expected annotation stored with topic, got %+v", stored[0].AISummary)
	}

	if len(f.enricher.rollups) != 2 || f.enricher.labels[0] != "last 3 months" {
		t.Errorf("expected one rollup per app with window label, got %v", f.enricher.labels)
	}
	if d := f.enricher.rollups[0][0]; d.Urgency != "high" || d.Sentiment != "negative" {
		t.Errorf("rollup digest should use annotation values, got %+v", d)
	}

	last, _ := f.db.LastRunReport()
	if last.Kind != database.RunAnalyze || last.SummariesWritten != 2 {
		t.Errorf("unexpected run report %+v", last)
	}
}

func TestAnalyzeRerunOverwritesSummary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.p.Ingest(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := f.p.Analyze(ctx, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := f.p.Analyze(ctx, ""); err != nil {
		t.Fatal(err)
	}
	stats, err := f.db.GetStats()
	if err != nil {
		t.Fatal(err)
	}
	if stats.Summaries != 2 {
		t.Errorf("expected reruns to overwrite, got %d summaries", stats.Summaries)
	}
}

func TestAnalyzeWithoutTopicsSkipsRollup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.p.Ingest(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := f.p.Analyze(ctx, ""); err != nil {
		t.Fatal(err)
	}

	s, err := f.db.GetSummary(database.StoreAndroid, f.appB, database.GetToday())
	if err != nil || s == nil {
		t.Fatalf("expected summary for app B: %v", err)
	}
	if s.Narrative != NoTopicsNarrative || s.TopicsJSON != "[]" {
		t.Errorf("expected empty topic summary, got %+v", s)
	}
	if len(f.enricher.rollups) != 1 {
		t.Errorf("expected a rollup only for app A, got %d", len(f.enricher.rollups))
	}
}

func TestAnalyzeWaitsBetweenEnrichmentCalls(t *testing.T) {
	f := newFixture(t)
	f.p.cfg.Enrichment.CallDelay = time.Second
	f.ios.reviews["111"] = append(f.ios.reviews["111"],
		raw("a4", "Beautiful design and smooth animations", 4))
	ctx := context.Background()
	if _, err := f.p.Ingest(ctx); err != nil {
		t.Fatal(err)
	}
	f.sleeps = nil

	if _, err := f.p.Analyze(ctx, ""); err != nil {
		t.Fatal(err)
	}
	// App A: two clusters and a rollup means two waits. App B has no topics.
	if len(f.sleeps) != 2 {
		t.Fatalf("expected 2 waits, got %v", f.sleeps)
	}
	for _, d := range f.sleeps {
		if d != time.Second {
			t.Errorf("expected 1s wait, got %s", d)
		}
	}
	if len(f.enricher.samples) != 2 {
		t.Errorf("expected 2 cluster calls, got %d", len(f.enricher.samples))
	}
}

func TestAnalyzeStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	if _, err := f.p.Ingest(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	f.p.sleep = func(context.Context, time.Duration) bool {
		cancel()
		return false
	}
	rep, err := f.p.Analyze(ctx, "")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	// App B is analyzed first and needs no wait; app A is interrupted
	// before its rollup.
	if rep.Summaries != 1 || rep.Failed != 1 {
		t.Errorf("expected one summary and one interrupted app, got %+v", rep)
	}
	if s, _ := f.db.GetSummary(database.StoreIOS, f.appA, database.GetToday()); s != nil {
		t.Error("interrupted app should not have a summary")
	}
}

func TestAnalyzeUnknownWindow(t *testing.T) {
	f := newFixture(t)
	if _, err := f.p.Analyze(context.Background(), "yearly"); err == nil {
		t.Error("expected error for unknown window")
	}
}

func TestAnalyzeRecentWindowExcludesOldReviews(t *testing.T) {
	f := newFixture(t)
	old := raw("a9", "Login crashes every single time", 1)
	old.Date = time.Now().AddDate(0, 0, -10)
	f.ios.reviews["111"] = append(f.ios.reviews["111"], old)
	ctx := context.Background()
	if _, err := f.p.Ingest(ctx); err != nil {
		t.Fatal(err)
	}

	rep, err := f.p.Analyze(ctx, "recent")
	if err != nil {
		t.Fatal(err)
	}
	for _, a := range rep.Apps {
		if a.AppID == f.appA && a.Reviews != 3 {
			t.Errorf("expected the 10-day-old review outside the recent window, got %d", a.Reviews)
		}
	}
}

func TestRefresh(t *testing.T) {
	f := newFixture(t)
	rep, err := f.p.Refresh(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rep.Ingest.New != 4 || rep.Analysis.Summaries != 2 {
		t.Errorf("unexpected refresh report ingest=%+v analysis=%+v", rep.Ingest, rep.Analysis)
	}
}
