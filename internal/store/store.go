// Package store is the embedded relational store: missions, the
// append-only event log, and workspace records, all in one sqlite file.
package store

import (
	"database/sql"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// The event log has a single logical writer per mission, but sqlite
	// still needs serialized access across slots.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS missions (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		workspace_id TEXT,
		harness TEXT NOT NULL,
		agent TEXT,
		model_override TEXT,
		history TEXT,
		archived INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		mission_id TEXT NOT NULL REFERENCES missions(id),
		sequence INTEGER NOT NULL,
		type TEXT NOT NULL,
		timestamp TIMESTAMP NOT NULL,
		content TEXT,
		meta TEXT,
		UNIQUE(mission_id, sequence)
	);

	CREATE TABLE IF NOT EXISTS workspaces (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		kind TEXT NOT NULL,
		root TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		error_message TEXT,
		env TEXT,
		skills TEXT,
		init_script TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_missions_status ON missions(status);
	CREATE INDEX IF NOT EXISTS idx_events_mission ON events(mission_id);
	`

	_, err := s.db.Exec(schema)
	return err
}
