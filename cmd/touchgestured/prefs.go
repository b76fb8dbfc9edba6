package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrUnsupported = errors.New("unsupported")
)

const prefsSchema = `
CREATE TABLE IF NOT EXISTS preferences (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS components (
	name       TEXT PRIMARY KEY,
	enabled    INTEGER NOT NULL,
	updated_at TEXT NOT NULL
);
`

// prefReadTimeout bounds a single preference lookup made from the dispatch loop.
const prefReadTimeout = 200 * time.Millisecond

// PreferenceStore persists user preferences and the component registry in
// a small sqlite database.
type PreferenceStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenPreferenceStore opens (creating if needed) the sqlite database at path.
// The path ":memory:" is accepted for tests.
func OpenPreferenceStore(ctx context.Context, path string, logger *slog.Logger) (*PreferenceStore, error) {
	if logger == nil {
		logger = discardLogger()
	}
	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("create prefs dir: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps ":memory:" a single database and serialises writers.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, prefsSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate prefs: %w", err)
	}
	return &PreferenceStore{db: db, logger: logger}, nil
}

func (s *PreferenceStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// GetString returns the stored value for key or ErrNotFound.
func (s *PreferenceStore) GetString(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM preferences WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get preference %s: %w", key, err)
	}
	return v, nil
}

// PutString upserts a preference.
func (s *PreferenceStore) PutString(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO preferences(key, value, updated_at)
VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
	value=excluded.value,
	updated_at=excluded.updated_at
`, key, value, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("put preference %s: %w", key, err)
	}
	return nil
}

// GetBool returns the stored boolean for key, or ErrNotFound.
func (s *PreferenceStore) GetBool(ctx context.Context, key string) (bool, error) {
	v, err := s.GetString(ctx, key)
	if err != nil {
		return false, err
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("preference %s is not a boolean: %w", key, err)
	}
	return b, nil
}

func (s *PreferenceStore) PutBool(ctx context.Context, key string, value bool) error {
	return s.PutString(ctx, key, strconv.FormatBool(value))
}

// Bool reads key fresh from the database, falling back to def when the key is
// absent or the read fails.
func (s *PreferenceStore) Bool(key string, def bool) bool {
	ctx, cancel := context.WithTimeout(context.Background(), prefReadTimeout)
	defer cancel()
	v, err := s.GetBool(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Warn("preference read failed", "key", key, "error", err)
		}
		return def
	}
	return v
}

// ============================================================================
// Component registry
// ============================================================================

// Component is a named surface that can be hidden without restarting the daemon.
type Component struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

// SetComponentEnabled records the enabled state of a component.
func (s *PreferenceStore) SetComponentEnabled(ctx context.Context, name string, enabled bool) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO components(name, enabled, updated_at)
VALUES (?, ?, ?)
ON CONFLICT(name) DO UPDATE SET
	enabled=excluded.enabled,
	updated_at=excluded.updated_at
`, name, boolToInt(enabled), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("set component %s: %w", name, err)
	}
	return nil
}

// ComponentEnabled returns a component's state. Unregistered components are
// enabled.
func (s *PreferenceStore) ComponentEnabled(ctx context.Context, name string) (bool, error) {
	var v int
	err := s.db.QueryRowContext(ctx, `SELECT enabled FROM components WHERE name = ?`, name).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("get component %s: %w", name, err)
	}
	return v != 0, nil
}

// Components lists every registered component ordered by name.
func (s *PreferenceStore) Components(ctx context.Context) ([]Component, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, enabled FROM components ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list components: %w", err)
	}
	defer rows.Close()

	var out []Component
	for rows.Next() {
		var c Component
		var enabled int
		if err := rows.Scan(&c.Name, &enabled); err != nil {
			return nil, fmt.Errorf("scan component: %w", err)
		}
		c.Enabled = enabled != 0
		out = append(out, c)
	}
	return out, rows.Err()
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
