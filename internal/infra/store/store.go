// Package store provides durable storage for users, requests, play history,
// credentials and playlists, backed by SQLite.
package store

import (
	"context"
	"database/sql"

	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// Sentinel errors surfaced to callers.
var (
	ErrNotFound         = errors.New("not found")
	ErrDuplicateRequest = errors.New("duplicate unplayed request")
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	username       TEXT PRIMARY KEY,
	display_name   TEXT NOT NULL DEFAULT '',
	created_at     DATETIME NOT NULL,
	access_granted INTEGER NOT NULL DEFAULT 0,
	served         INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS requests (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	username       TEXT NOT NULL REFERENCES users(username) ON DELETE CASCADE,
	track_id       TEXT NOT NULL,
	track_uri      TEXT NOT NULL,
	track_name     TEXT NOT NULL DEFAULT '',
	artist_name    TEXT NOT NULL DEFAULT '',
	duration_ms    INTEGER NOT NULL DEFAULT 0,
	queue_position INTEGER NOT NULL,
	submitted_at   DATETIME NOT NULL,
	played         INTEGER NOT NULL DEFAULT 0,
	played_at      DATETIME
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_requests_unplayed
	ON requests(username, track_id) WHERE played = 0;

CREATE TABLE IF NOT EXISTS history (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	track_id      TEXT NOT NULL,
	track_uri     TEXT NOT NULL,
	track_name    TEXT NOT NULL DEFAULT '',
	artist_id     TEXT NOT NULL DEFAULT '',
	artist_name   TEXT NOT NULL DEFAULT '',
	album_name    TEXT NOT NULL DEFAULT '',
	album_art_url TEXT NOT NULL DEFAULT '',
	duration_ms   INTEGER NOT NULL DEFAULT 0,
	requested_by  TEXT,
	observed_at   DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_history_track_time ON history(track_id, observed_at);

CREATE TABLE IF NOT EXISTS credentials (
	id            INTEGER PRIMARY KEY CHECK (id = 1),
	access_token  TEXT NOT NULL,
	refresh_token TEXT NOT NULL,
	expires_at    DATETIME NOT NULL,
	updated_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS playlists (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	username   TEXT NOT NULL,
	name       TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS playlist_tracks (
	playlist_id INTEGER NOT NULL REFERENCES playlists(id) ON DELETE CASCADE,
	track_id    TEXT NOT NULL,
	track_uri   TEXT NOT NULL,
	track_name  TEXT NOT NULL DEFAULT '',
	artist_name TEXT NOT NULL DEFAULT '',
	duration_ms INTEGER NOT NULL DEFAULT 0,
	position    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// Store wraps the SQLite database handle.
type Store struct {
	db *sqlx.DB
}

// Open opens (creating if necessary) the SQLite database at path and
// ensures the schema exists. Use ":memory:" for an in-memory database.
func Open(path string) (*Store, error) {
	dsn := "file:" + path + "?_busy_timeout=5000&_foreign_keys=on"
	if path == ":memory:" {
		dsn = "file::memory:?_foreign_keys=on"
	}
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	// SQLite handles one writer at a time; serialize access through a
	// single connection so concurrent writes queue instead of failing.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to create schema")
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// GetSetting returns the value of a settings key, or "" if unset.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.GetContext(ctx, &value, `SELECT value FROM settings WHERE key = ?`, key)
	if err != nil {
		if isNoRows(err) {
			return "", nil
		}
		return "", errors.Wrap(err, "failed to get setting")
	}
	return value, nil
}

// SetSetting stores a settings key.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return errors.Wrap(err, "failed to set setting")
}

// activeKey is the settings key for the operator-toggled scheduler push.
const activeKey = "active"

// IsActive reports whether the scheduler push is enabled.
func (s *Store) IsActive(ctx context.Context) (bool, error) {
	v, err := s.GetSetting(ctx, activeKey)
	if err != nil {
		return false, err
	}
	return v == "true", nil
}

// SetActive toggles the scheduler push.
func (s *Store) SetActive(ctx context.Context, active bool) error {
	v := "false"
	if active {
		v = "true"
	}
	return s.SetSetting(ctx, activeKey, v)
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
