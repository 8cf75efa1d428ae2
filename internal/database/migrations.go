package database

import "database/sql"

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS apps (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    store TEXT NOT NULL CHECK(store IN ('ios', 'android')),
    external_id TEXT NOT NULL,
    name TEXT NOT NULL,
    created_at TEXT DEFAULT (datetime('now')),
    UNIQUE (store, external_id)
);

CREATE TABLE IF NOT EXISTS reviews (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    app_id INTEGER NOT NULL REFERENCES apps(id),
    store TEXT NOT NULL,
    review_id TEXT NOT NULL,
    author TEXT NOT NULL DEFAULT '',
    rating INTEGER NOT NULL CHECK(rating BETWEEN 1 AND 5),
    title TEXT NOT NULL DEFAULT '',
    text TEXT NOT NULL,
    language TEXT NOT NULL,
    version TEXT NOT NULL DEFAULT '',
    country TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,
    fetched_at TEXT NOT NULL,
    UNIQUE (store, review_id)
);

CREATE TABLE IF NOT EXISTS summaries (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    store TEXT NOT NULL,
    app_id INTEGER NOT NULL REFERENCES apps(id),
    date_key TEXT NOT NULL,
    topics_json TEXT NOT NULL,
    narrative TEXT NOT NULL,
    generated_at TEXT NOT NULL,
    UNIQUE (store, app_id, date_key)
);

CREATE INDEX IF NOT EXISTS idx_reviews_app_created ON reviews(app_id, created_at);
CREATE INDEX IF NOT EXISTS idx_reviews_created ON reviews(created_at);
`)
			return err
		},
	},
	{
		Version:     2,
		Description: "run reports and summary window metadata",
		Up: func(tx *sql.Tx) error {
			if _, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS run_reports (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT UNIQUE NOT NULL,
    kind TEXT NOT NULL,
    started_at TEXT NOT NULL,
    finished_at TEXT NOT NULL,
    apps_processed INTEGER DEFAULT 0,
    apps_failed INTEGER DEFAULT 0,
    reviews_new INTEGER DEFAULT 0,
    reviews_updated INTEGER DEFAULT 0,
    summaries_written INTEGER DEFAULT 0
);
`); err != nil {
				return err
			}
			// ALTER TABLE ADD COLUMN has no IF NOT EXISTS; skip columns a
			// half-applied run already added.
			for _, col := range []struct{ name, ddl string }{
				{"window_label", "ALTER TABLE summaries ADD COLUMN window_label TEXT NOT NULL DEFAULT ''"},
				{"review_count", "ALTER TABLE summaries ADD COLUMN review_count INTEGER NOT NULL DEFAULT 0"},
			} {
				exists, err := columnExists(tx, "summaries", col.name)
				if err != nil {
					return err
				}
				if exists {
					continue
				}
				if _, err := tx.Exec(col.ddl); err != nil {
					return err
				}
			}
			return nil
		},
	},
}

func columnExists(tx *sql.Tx, table, column string) (bool, error) {
	var n int
	err := tx.QueryRow(
		"SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?", table, column,
	).Scan(&n)
	return n > 0, err
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
