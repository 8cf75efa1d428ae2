package database

import (
	"database/sql"
	"fmt"
)

// AddApp registers a listing, or renames it if (store, external_id) exists.
// Returns the app ID.
func (db *DB) AddApp(store, externalID, name string) (int64, error) {
	if !ValidStore(store) {
		return 0, fmt.Errorf("unknown store %q", store)
	}
	if _, err := db.conn.Exec(
		`INSERT INTO apps (store, external_id, name) VALUES (?, ?, ?)
		ON CONFLICT(store, external_id) DO UPDATE SET name = excluded.name`,
		store, externalID, name,
	); err != nil {
		return 0, err
	}
	var id int64
	err := db.conn.QueryRow(
		"SELECT id FROM apps WHERE store = ? AND external_id = ?", store, externalID,
	).Scan(&id)
	return id, err
}

// SyncApps registers every app in the list. Returns how many were new.
func (db *DB) SyncApps(apps []App) (int, error) {
	before, err := db.countApps()
	if err != nil {
		return 0, err
	}
	for _, a := range apps {
		if _, err := db.AddApp(a.Store, a.ExternalID, a.Name); err != nil {
			return 0, fmt.Errorf("registering %s/%s: %w", a.Store, a.ExternalID, err)
		}
	}
	after, err := db.countApps()
	if err != nil {
		return 0, err
	}
	return after - before, nil
}

// ListApps returns all registered apps ordered by store then name.
func (db *DB) ListApps() ([]App, error) {
	rows, err := db.conn.Query(
		"SELECT id, store, external_id, name, created_at FROM apps ORDER BY store, name, id",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var apps []App
	for rows.Next() {
		a, err := scanApp(rows)
		if err != nil {
			return nil, err
		}
		apps = append(apps, *a)
	}
	return apps, rows.Err()
}

// GetApp returns a single app by ID, or nil if it does not exist.
func (db *DB) GetApp(appID int64) (*App, error) {
	row := db.conn.QueryRow(
		"SELECT id, store, external_id, name, created_at FROM apps WHERE id = ?", appID,
	)
	a, err := scanApp(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

// RemoveApp deletes an app together with its reviews and summaries.
func (db *DB) RemoveApp(appID int64) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, q := range []string{
		"DELETE FROM reviews WHERE app_id = ?",
		"DELETE FROM summaries WHERE app_id = ?",
		"DELETE FROM apps WHERE id = ?",
	} {
		if _, err := tx.Exec(q, appID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (db *DB) countApps() (int, error) {
	var n int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM apps").Scan(&n)
	return n, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanApp(s scanner) (*App, error) {
	var a App
	var created sql.NullString
	if err := s.Scan(&a.ID, &a.Store, &a.ExternalID, &a.Name, &created); err != nil {
		return nil, err
	}
	if created.Valid {
		// datetime('now') writes the same layout as formatTime.
		a.CreatedAt, _ = parseTime(created.String)
	}
	return &a, nil
}
