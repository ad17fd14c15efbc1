// Package store provides the SQLite-backed persistence layer: observer
// sessions, the durable master log, and client connection history.
package store

import (
	"database/sql"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO)
)

// Store wraps the database. Master-log and history writes are best-effort:
// failures are logged and never propagate to the broadcast path.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open creates the database, enables WAL mode and applies the schema.
func Open(path string, log zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, err
	}

	if err := createTables(db); err != nil {
		return nil, err
	}

	return &Store{
		db:  db,
		log: log.With().Str("component", "store").Logger(),
	}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		csrf_token TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at);

	CREATE TABLE IF NOT EXISTS master_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		message TEXT NOT NULL,
		logged_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS connections (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		client_id TEXT NOT NULL,
		display_name TEXT,
		connected_at DATETIME NOT NULL,
		disconnected_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_connections_client ON connections(client_id);
	`

	_, err := db.Exec(schema)
	return err
}

// DB exposes the underlying handle for the session layer.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// AppendMasterLog durably records one master-log line, fire-and-forget.
func (s *Store) AppendMasterLog(message string) {
	if _, err := s.db.Exec(`INSERT INTO master_log (message) VALUES (?)`, message); err != nil {
		s.log.Debug().Err(err).Msg("master log persist failed")
	}
}

// ClearMasterLog removes all persisted master-log lines.
func (s *Store) ClearMasterLog() {
	if _, err := s.db.Exec(`DELETE FROM master_log`); err != nil {
		s.log.Debug().Err(err).Msg("master log clear failed")
	}
}

// RecordConnect opens a connection-history row for a client.
func (s *Store) RecordConnect(id, name string) {
	_, err := s.db.Exec(
		`INSERT INTO connections (client_id, display_name, connected_at) VALUES (?, ?, ?)`,
		id, name, time.Now(),
	)
	if err != nil {
		s.log.Debug().Err(err).Str("client", id).Msg("connect record failed")
	}
}

// RecordDisconnect closes the latest open history row for a client.
func (s *Store) RecordDisconnect(id string) {
	_, err := s.db.Exec(`
		UPDATE connections SET disconnected_at = ?
		WHERE client_id = ? AND disconnected_at IS NULL`,
		time.Now(), id,
	)
	if err != nil {
		s.log.Debug().Err(err).Str("client", id).Msg("disconnect record failed")
	}
}
