// Package store is the single source of truth (C1): every pipeline stage's
// state lives here, and every cross-stage coordination primitive (claim
// protocol, deterministic-id upsert, CAS update) is expressed as a plain
// conditional SQL statement against PostgreSQL — no advisory locks.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// ErrNotFound is returned by lookup methods when no row matches.
var ErrNotFound = errors.New("store: not found")

// Store wraps a shared *sqlx.DB connection pool. All methods are safe for
// concurrent use by many worker goroutines.
type Store struct {
	DB *sqlx.DB
}

// New wraps an already-opened, pooled *sql.DB (pgx stdlib driver) in a
// *sqlx.DB for ergonomic struct scanning.
func New(database *sql.DB) *Store {
	return &Store{DB: sqlx.NewDb(database, "pgx")}
}

// jsonMap marshals a free-form metadata map for storage in a jsonb column.
// A nil map is stored as an empty JSON object so Metadata is never null to
// downstream readers.
func jsonMap(m map[string]any) ([]byte, error) {
	if m == nil {
		m = map[string]any{}
	}
	return json.Marshal(m)
}

func unmarshalMap(raw []byte) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]any{}
	}
	return m
}

func jsonStrings(ss []string) ([]byte, error) {
	if ss == nil {
		ss = []string{}
	}
	return json.Marshal(ss)
}

func unmarshalStrings(raw []byte) []string {
	if len(raw) == 0 {
		return nil
	}
	var ss []string
	if err := json.Unmarshal(raw, &ss); err != nil {
		return nil
	}
	return ss
}

// nowUTC is a small seam so tests could in principle stub time; production
// code always calls it directly.
func nowUTC() time.Time {
	return time.Now().UTC()
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("store: %s: %w", op, err)
}
