package database

import (
	"database/sql"
	"time"
)

// UpsertSummary writes the summary for (store, app, date key), replacing any
// earlier one for the same key.
func (db *DB) UpsertSummary(s Summary) error {
	generated := s.GeneratedAt
	if generated.IsZero() {
		generated = time.Now()
	}
	_, err := db.conn.Exec(
		`INSERT INTO summaries
		(store, app_id, date_key, window_label, topics_json, narrative, review_count, generated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(store, app_id, date_key) DO UPDATE SET
			window_label = excluded.window_label,
			topics_json = excluded.topics_json,
			narrative = excluded.narrative,
			review_count = excluded.review_count,
			generated_at = excluded.generated_at`,
		s.Store, s.AppID, s.DateKey, s.Window, s.TopicsJSON, s.Narrative, s.ReviewCount, formatTime(generated),
	)
	return err
}

const summaryColumns = `id, store, app_id, date_key, window_label, topics_json, narrative, review_count, generated_at`

// GetSummary returns the summary for a key, or nil if none exists.
func (db *DB) GetSummary(store string, appID int64, dateKey string) (*Summary, error) {
	row := db.conn.QueryRow(
		"SELECT "+summaryColumns+" FROM summaries WHERE store = ? AND app_id = ? AND date_key = ?",
		store, appID, dateKey,
	)
	s, err := scanSummary(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return s, err
}

// LatestSummary returns the most recent summary for an app, or nil.
func (db *DB) LatestSummary(appID int64) (*Summary, error) {
	row := db.conn.QueryRow(
		"SELECT "+summaryColumns+" FROM summaries WHERE app_id = ? ORDER BY date_key DESC LIMIT 1",
		appID,
	)
	s, err := scanSummary(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return s, err
}

// ListSummaries returns summaries for a date key across all apps.
func (db *DB) ListSummaries(dateKey string) ([]Summary, error) {
	rows, err := db.conn.Query(
		"SELECT "+summaryColumns+" FROM summaries WHERE date_key = ? ORDER BY store, app_id", dateKey,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		s, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func scanSummary(sc scanner) (*Summary, error) {
	var s Summary
	var generated string
	if err := sc.Scan(&s.ID, &s.Store, &s.AppID, &s.DateKey, &s.Window,
		&s.TopicsJSON, &s.Narrative, &s.ReviewCount, &generated); err != nil {
		return nil, err
	}
	t, err := parseTime(generated)
	if err != nil {
		return nil, err
	}
	s.GeneratedAt = t
	return &s, nil
}
