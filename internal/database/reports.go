package database

import (
	"database/sql"
)

// InsertRunReport records a finished pipeline run.
func (db *DB) InsertRunReport(r RunReport) (int64, error) {
	result, err := db.conn.Exec(
		`INSERT INTO run_reports
		(run_id, kind, started_at, finished_at, apps_processed, apps_failed,
		 reviews_new, reviews_updated, summaries_written)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Kind, formatTime(r.StartedAt), formatTime(r.FinishedAt),
		r.AppsProcessed, r.AppsFailed, r.ReviewsNew, r.ReviewsUpdated, r.SummariesWritten,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// LastRunReport returns the most recently started run, or nil.
func (db *DB) LastRunReport() (*RunReport, error) {
	row := db.conn.QueryRow(
		`SELECT id, run_id, kind, started_at, finished_at, apps_processed, apps_failed,
		reviews_new, reviews_updated, summaries_written
		FROM run_reports ORDER BY started_at DESC, id DESC LIMIT 1`,
	)
	var r RunReport
	var started, finished string
	if err := row.Scan(&r.ID, &r.RunID, &r.Kind, &started, &finished, &r.AppsProcessed,
		&r.AppsFailed, &r.ReviewsNew, &r.ReviewsUpdated, &r.SummariesWritten); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	var err error
	if r.StartedAt, err = parseTime(started); err != nil {
		return nil, err
	}
	if r.FinishedAt, err = parseTime(finished); err != nil {
		return nil, err
	}
	return &r, nil
}

// GetStats returns aggregate database statistics.
func (db *DB) GetStats() (*Stats, error) {
	s := &Stats{}

	queries := []struct {
		sql  string
		dest *int
	}{
		{"SELECT COUNT(*) FROM apps", &s.Apps},
		{"SELECT COUNT(*) FROM reviews", &s.Reviews},
		{"SELECT COUNT(*) FROM summaries", &s.Summaries},
	}

	for _, q := range queries {
		if err := db.conn.QueryRow(q.sql).Scan(q.dest); err != nil {
			return nil, err
		}
	}

	byStore, err := db.CountReviewsByStore()
	if err != nil {
		return nil, err
	}
	s.ReviewsByStore = byStore

	if s.LastRun, err = db.LastRunReport(); err != nil {
		return nil, err
	}
	return s, nil
}
