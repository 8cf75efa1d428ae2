package database

import (
	"fmt"
	"time"

	"github.com/TobiSchelling/reviewpulse/internal/normalize"
)

// UpsertReview stores a normalized review under (store, review_id). An
// existing row keeps its content and created_at; only fetched_at moves.
// A zero review date falls back to fetchedAt.
func (db *DB) UpsertReview(appID int64, store string, r normalize.Review, fetchedAt time.Time) (UpsertResult, error) {
	created := r.Date
	if created.IsZero() {
		created = fetchedAt
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return UpsertResult{}, err
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT INTO reviews
		(app_id, store, review_id, author, rating, title, text, language, version, country, created_at, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(store, review_id) DO NOTHING`,
		appID, store, r.ID, r.Author, r.Rating, r.Title, r.Text, r.Language,
		r.Version, r.Country, formatTime(created), formatTime(fetchedAt),
	)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("inserting review %s: %w", r.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return UpsertResult{}, err
	}

	if n == 0 {
		if _, err := tx.Exec(
			"UPDATE reviews SET fetched_at = ? WHERE store = ? AND review_id = ?",
			formatTime(fetchedAt), store, r.ID,
		); err != nil {
			return UpsertResult{}, fmt.Errorf("touching review %s: %w", r.ID, err)
		}
	}

	var createdStr, fetchedStr string
	if err := tx.QueryRow(
		"SELECT created_at, fetched_at FROM reviews WHERE store = ? AND review_id = ?", store, r.ID,
	).Scan(&createdStr, &fetchedStr); err != nil {
		return UpsertResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return UpsertResult{}, err
	}

	out := UpsertResult{Inserted: n > 0}
	if out.CreatedAt, err = parseTime(createdStr); err != nil {
		return UpsertResult{}, err
	}
	if out.FetchedAt, err = parseTime(fetchedStr); err != nil {
		return UpsertResult{}, err
	}
	return out, nil
}

// ReviewsSince returns reviews created at or after q.Since, newest first.
func (db *DB) ReviewsSince(q ReviewQuery) ([]Review, error) {
	query := `SELECT id, app_id, store, review_id, author, rating, title, text, language,
		version, country, created_at, fetched_at
		FROM reviews WHERE created_at >= ?`
	args := []any{formatTime(q.Since)}
	if q.AppID != nil {
		query += " AND app_id = ?"
		args = append(args, *q.AppID)
	}
	query += " ORDER BY created_at DESC, id DESC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reviews []Review
	for rows.Next() {
		var r Review
		var created, fetched string
		if err := rows.Scan(&r.ID, &r.AppID, &r.Store, &r.ReviewID, &r.Author, &r.Rating,
			&r.Title, &r.Text, &r.Language, &r.Version, &r.Country, &created, &fetched); err != nil {
			return nil, err
		}
		if r.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		if r.FetchedAt, err = parseTime(fetched); err != nil {
			return nil, err
		}
		reviews = append(reviews, r)
	}
	return reviews, rows.Err()
}

// CountReviews returns the number of stored reviews for one app, or for all
// apps when appID is nil.
func (db *DB) CountReviews(appID *int64) (int, error) {
	query := "SELECT COUNT(*) FROM reviews"
	var args []any
	if appID != nil {
		query += " WHERE app_id = ?"
		args = append(args, *appID)
	}
	var n int
	err := db.conn.QueryRow(query, args...).Scan(&n)
	return n, err
}

// CountReviewsByStore returns review totals keyed by store.
func (db *DB) CountReviewsByStore() (map[string]int, error) {
	rows, err := db.conn.Query("SELECT store, COUNT(*) FROM reviews GROUP BY store")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var store string
		var n int
		if err := rows.Scan(&store, &n); err != nil {
			return nil, err
		}
		counts[store] = n
	}
	return counts, rows.Err()
}
