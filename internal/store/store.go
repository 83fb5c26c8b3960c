package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrStaleJob is returned by a job transition whose guard matched no row:
// the job is already terminal or another worker reclaimed it.
var ErrStaleJob = errors.New("job not inflight")

// Store holds the queries shared by the intake API and the delivery
// worker. Both binaries see the same rows, so the claim-then-transition
// discipline lives here rather than in either binary.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// --- scan helpers ---

func strPtr(ns sql.NullString) *string {
	if ns.Valid {
		return &ns.String
	}
	return nil
}

func timePtr(nt sql.NullTime) *time.Time {
	if nt.Valid {
		return &nt.Time
	}
	return nil
}

// nullInt maps a zero value to SQL NULL; zero means "not applicable"
// for http_status and latency_ms.
func nullInt(v int) any {
	if v == 0 {
		return nil
	}
	return v
}

func nullInt64(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}
