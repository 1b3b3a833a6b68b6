package sqlite

import (
	"database/sql"
	"os"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/errors"
	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite database connection with thread-safe access.
type DB struct {
	conn *sql.DB
	mu   sync.RWMutex
}

// New creates and initializes a new SQLite database connection.
func New(dbPath string) (*DB, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errors.Wrap(err, "failed to create database directory")
		}
	}

	conn, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "failed to migrate database")
	}

	return db, nil
}

// migrate creates the necessary tables if they don't exist.
func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS streams (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		stream TEXT NOT NULL,
		source TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		ended_at DATETIME,
		frames INTEGER DEFAULT 0,
		skipped_frames INTEGER DEFAULT 0,
		tracker_failures INTEGER DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS detections (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL,
		frame_id INTEGER NOT NULL,
		category TEXT NOT NULL,
		source TEXT NOT NULL,
		x INTEGER DEFAULT 0,
		y INTEGER DEFAULT 0,
		width INTEGER DEFAULT 0,
		height INTEGER DEFAULT 0,
		score INTEGER DEFAULT 0,
		tracked INTEGER DEFAULT 0,
		FOREIGN KEY (run_id) REFERENCES streams(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_streams_stream ON streams(stream);
	CREATE INDEX IF NOT EXISTS idx_detections_run_frame ON detections(run_id, frame_id);
	CREATE INDEX IF NOT EXISTS idx_detections_category ON detections(category);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn returns the underlying database connection for use by repositories.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Lock acquires a write lock.
func (db *DB) Lock() {
	db.mu.Lock()
}

// Unlock releases the write lock.
func (db *DB) Unlock() {
	db.mu.Unlock()
}

// RLock acquires a read lock.
func (db *DB) RLock() {
	db.mu.RLock()
}

// RUnlock releases the read lock.
func (db *DB) RUnlock() {
	db.mu.RUnlock()
}
