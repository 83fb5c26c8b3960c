package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/aegishook/aegishook/internal/event"
)

// InsertEvent persists the event and returns its id. With an idempotency
// key, a duplicate publish returns the existing id and created=false so
// the caller can skip fan-out.
func (s *Store) InsertEvent(ctx context.Context, e *event.Event, idemKey string) (string, bool, error) {
	attrs, err := json.Marshal(e.Attributes)
	if err != nil {
		return "", false, fmt.Errorf("encode attributes: %w", err)
	}

	if idemKey != "" {
		// 1) Insert-or-ignore (no RETURNING here)
		ct, err := s.pool.Exec(ctx, `
			INSERT INTO aegishook.events(tenant_id, kind, severity, subject, attributes, idempotency_key, created_at)
			VALUES ($1, $2, $3, $4, $5::json, $6, $7)
			ON CONFLICT ON CONSTRAINT uq_events_tenant_idem DO NOTHING`,
			e.TenantID, string(e.Kind), e.Severity, e.Subject, string(attrs), idemKey, e.CreatedAt,
		)
		if err != nil {
			return "", false, fmt.Errorf("insert event (idempotent): %w", err)
		}

		// 2) Fetch the event id whether inserted now or already existed
		var id string
		if err := s.pool.QueryRow(ctx, `
			SELECT id FROM aegishook.events
			WHERE tenant_id = $1 AND idempotency_key = $2
			LIMIT 1`,
			e.TenantID, idemKey,
		).Scan(&id); err != nil {
			return "", false, fmt.Errorf("select event id (idempotent): %w", err)
		}
		return id, ct.RowsAffected() > 0, nil
	}

	// No idempotency key: always a new event
	var id string
	if err := s.pool.QueryRow(ctx, `
		INSERT INTO aegishook.events(tenant_id, kind, severity, subject, attributes, created_at)
		VALUES ($1, $2, $3, $4, $5::json, $6)
		RETURNING id`,
		e.TenantID, string(e.Kind), e.Severity, e.Subject, string(attrs), e.CreatedAt,
	).Scan(&id); err != nil {
		return "", false, fmt.Errorf("insert event: %w", err)
	}
	return id, true, nil
}

// GetEvent loads one event with its attribute order intact.
func (s *Store) GetEvent(ctx context.Context, id string) (*event.Event, error) {
	var e event.Event
	var kind string
	var attrs []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, kind, severity, subject, attributes::text, created_at
		FROM aegishook.events
		WHERE id = $1`, id,
	).Scan(&e.ID, &e.TenantID, &kind, &e.Severity, &e.Subject, &attrs, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	e.Kind = event.Kind(kind)
	if err := json.Unmarshal(attrs, &e.Attributes); err != nil {
		return nil, fmt.Errorf("decode attributes: %w", err)
	}
	return &e, nil
}
