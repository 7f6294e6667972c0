// Package localstore is the agent's durable key-value state, kept in a
// SQLite file next to the agent's config.
package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const (
	KeyAuthToken = "auth_token"
	KeyConsent   = "consent"
)

type Store struct {
	db *sql.DB
}

// Open creates the database at path if needed. ":memory:" is private to
// the returned Store.
func Open(path string) (*Store, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("creating state directory: %w", err)
		}
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening state: %w", err)
	}
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS kv (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating kv table: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Get returns ok=false when key is unset.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading %s: %w", key, err)
	}
	return v, true, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	return nil
}

// Token returns the stored auth token, or "" when logged out.
func (s *Store) Token(ctx context.Context) (string, error) {
	v, _, err := s.Get(ctx, KeyAuthToken)
	return v, err
}

func (s *Store) SetToken(ctx context.Context, token string) error {
	if token == "" {
		return s.Delete(ctx, KeyAuthToken)
	}
	return s.Set(ctx, KeyAuthToken, token)
}

func (s *Store) Consent(ctx context.Context) (bool, error) {
	v, _, err := s.Get(ctx, KeyConsent)
	return v == "true", err
}

func (s *Store) SetConsent(ctx context.Context, granted bool) error {
	if !granted {
		return s.Delete(ctx, KeyConsent)
	}
	return s.Set(ctx, KeyConsent, "true")
}
