package manifest

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteStoreSchema = `
CREATE TABLE IF NOT EXISTS capability_manifests (
	name TEXT PRIMARY KEY,
	version TEXT NOT NULL,
	payload BLOB NOT NULL,
	updated_at TEXT NOT NULL
);`

// SQLiteStore persists manifests as JSON payloads in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a manifest store at dsn.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("manifest: sqlite store dsn is required")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("manifest: sqlite store open: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("manifest: sqlite store set WAL mode: %w", err)
	}
	if _, err := db.Exec(sqliteStoreSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("manifest: sqlite store create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// List returns all manifests ordered by name.
func (s *SQLiteStore) List(ctx context.Context) ([]Manifest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.db == nil {
		return nil, errors.New("manifest: sqlite store is nil")
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT payload
FROM capability_manifests
ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("manifest: sqlite list: %w", err)
	}
	defer rows.Close()

	out := []Manifest{}
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("manifest: sqlite scan: %w", err)
		}
		m, err := Parse(payload, false)
		if err != nil {
			return nil, fmt.Errorf("manifest: sqlite decode: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("manifest: sqlite rows: %w", err)
	}
	return out, nil
}

// Get returns a manifest by name.
func (s *SQLiteStore) Get(ctx context.Context, name string) (Manifest, bool, error) {
	if err := ctx.Err(); err != nil {
		return Manifest{}, false, err
	}
	if s == nil || s.db == nil {
		return Manifest{}, false, errors.New("manifest: sqlite store is nil")
	}

	var payload []byte
	err := s.db.QueryRowContext(ctx, `
SELECT payload
FROM capability_manifests
WHERE name = ?`, name).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Manifest{}, false, nil
		}
		return Manifest{}, false, fmt.Errorf("manifest: sqlite get %q: %w", name, err)
	}

	m, err := Parse(payload, false)
	if err != nil {
		return Manifest{}, false, fmt.Errorf("manifest: sqlite decode %q: %w", name, err)
	}
	return m, true, nil
}

// Upsert validates m and inserts or replaces it by name.
func (s *SQLiteStore) Upsert(ctx context.Context, m Manifest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return errors.New("manifest: sqlite store is nil")
	}
	if err := Validate(m); err != nil {
		return err
	}

	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("manifest: sqlite encode %q: %w", m.Name, err)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO capability_manifests (name, version, payload, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(name) DO UPDATE SET
	version = excluded.version,
	payload = excluded.payload,
	updated_at = excluded.updated_at`,
		m.Name,
		m.Version,
		payload,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("manifest: sqlite upsert %q: %w", m.Name, err)
	}
	return nil
}

// Delete removes a manifest by name. Deleting a missing name is a no-op.
func (s *SQLiteStore) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return errors.New("manifest: sqlite store is nil")
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM capability_manifests WHERE name = ?`, name); err != nil {
		return fmt.Errorf("manifest: sqlite delete %q: %w", name, err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
