package database

import (
	"database/sql"

	_ "modernc.org/sqlite" // SQLite driver
)

// SchemaVersion is the schema this build of the service expects. The health
// check compares it against the value persisted in the settings table.
const SchemaVersion = "3"

// New creates a new database connection pool.
func New(dataSourceName string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dataSourceName+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}
	if err = db.Ping(); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate runs the SQL statements to set up the database schema.
func Migrate(db *sql.DB) error {
	const sqlStmt = `
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT NOT NULL PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS backups (
		id TEXT NOT NULL PRIMARY KEY,
		version TEXT NOT NULL,
		created_by_user_id TEXT,
		has_database BOOLEAN NOT NULL DEFAULT FALSE,
		size_bytes INTEGER NOT NULL,
		path TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS update_history (
		id TEXT NOT NULL PRIMARY KEY,
		action TEXT NOT NULL, -- update | rollback | backup
		version TEXT NOT NULL,
		success BOOLEAN NOT NULL,
		changelog_json TEXT,
		messages_json TEXT,
		errors_json TEXT,
		backup_id TEXT,
		user_id TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Single staged package per installation. The fixed id enforces that a
	-- new validation replaces the previous pending entry.
	CREATE TABLE IF NOT EXISTS pending_update (
		id INTEGER NOT NULL PRIMARY KEY CHECK (id = 1),
		local_file_path TEXT NOT NULL,
		version TEXT NOT NULL,
		changelog_json TEXT,
		source TEXT NOT NULL, -- upload | remote
		uploaded_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT NOT NULL PRIMARY KEY,
		user_id TEXT,
		payload TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	if _, err := db.Exec(sqlStmt); err != nil {
		return err
	}

	// Seed the schema version marker on first run.
	_, err := db.Exec(
		"INSERT INTO settings (key, value) VALUES ('schema_version', ?) ON CONFLICT(key) DO NOTHING",
		SchemaVersion,
	)
	return err
}
