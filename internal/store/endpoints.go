package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/aegishook/aegishook/internal/delivery"
	"github.com/aegishook/aegishook/internal/siem"
)

// EndpointUpdate carries the mutable endpoint fields for a partial
// update. Nil fields keep their current value.
type EndpointUpdate struct {
	URL     *string
	Format  *siem.Format
	Secret  *string
	Enabled *bool
}

// CreateEndpoint inserts the endpoint and fills in the generated id and
// timestamps on the passed struct.
func (s *Store) CreateEndpoint(ctx context.Context, ep *delivery.Endpoint) error {
	return s.pool.QueryRow(ctx, `
		INSERT INTO aegishook.endpoints(tenant_id, url, format, secret, enabled)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`,
		ep.TenantID, ep.URL, string(ep.Format), ep.Secret, ep.Enabled,
	).Scan(&ep.ID, &ep.CreatedAt, &ep.UpdatedAt)
}

// Endpoint returns the current config for one endpoint of a tenant. The
// dispatcher calls this before every attempt so enable/disable and
// format changes apply to the very next attempt.
func (s *Store) Endpoint(ctx context.Context, tenantID, endpointID string) (*delivery.Endpoint, error) {
	var ep delivery.Endpoint
	var format string
	err := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, url, format, secret, enabled, created_at, updated_at
		FROM aegishook.endpoints
		WHERE id = $1 AND tenant_id = $2`,
		endpointID, tenantID,
	).Scan(&ep.ID, &ep.TenantID, &ep.URL, &format, &ep.Secret, &ep.Enabled, &ep.CreatedAt, &ep.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	ep.Format = siem.Format(format)
	return &ep, nil
}

// ListEndpoints returns every endpoint configured for the tenant.
func (s *Store) ListEndpoints(ctx context.Context, tenantID string) ([]delivery.Endpoint, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, url, format, secret, enabled, created_at, updated_at
		FROM aegishook.endpoints
		WHERE tenant_id = $1
		ORDER BY created_at ASC`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []delivery.Endpoint
	for rows.Next() {
		var ep delivery.Endpoint
		var format string
		if err := rows.Scan(&ep.ID, &ep.TenantID, &ep.URL, &format, &ep.Secret, &ep.Enabled, &ep.CreatedAt, &ep.UpdatedAt); err != nil {
			return nil, err
		}
		ep.Format = siem.Format(format)
		out = append(out, ep)
	}
	return out, rows.Err()
}

// ListEnabledEndpoints returns the fan-out targets for a new event.
func (s *Store) ListEnabledEndpoints(ctx context.Context, tenantID string) ([]delivery.Endpoint, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, url, format, secret, enabled, created_at, updated_at
		FROM aegishook.endpoints
		WHERE tenant_id = $1 AND enabled
		ORDER BY created_at ASC`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []delivery.Endpoint
	for rows.Next() {
		var ep delivery.Endpoint
		var format string
		if err := rows.Scan(&ep.ID, &ep.TenantID, &ep.URL, &format, &ep.Secret, &ep.Enabled, &ep.CreatedAt, &ep.UpdatedAt); err != nil {
			return nil, err
		}
		ep.Format = siem.Format(format)
		out = append(out, ep)
	}
	return out, rows.Err()
}

// UpdateEndpoint applies a partial update and returns the new config.
func (s *Store) UpdateEndpoint(ctx context.Context, tenantID, endpointID string, upd EndpointUpdate) (*delivery.Endpoint, error) {
	var formatStr *string
	if upd.Format != nil {
		f := string(*upd.Format)
		formatStr = &f
	}

	var ep delivery.Endpoint
	var format string
	err := s.pool.QueryRow(ctx, `
		UPDATE aegishook.endpoints
		SET url        = COALESCE($3, url),
		    format     = COALESCE($4, format),
		    secret     = COALESCE($5, secret),
		    enabled    = COALESCE($6, enabled),
		    updated_at = now()
		WHERE id = $1 AND tenant_id = $2
		RETURNING id, tenant_id, url, format, secret, enabled, created_at, updated_at`,
		endpointID, tenantID, upd.URL, formatStr, upd.Secret, upd.Enabled,
	).Scan(&ep.ID, &ep.TenantID, &ep.URL, &format, &ep.Secret, &ep.Enabled, &ep.CreatedAt, &ep.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	ep.Format = siem.Format(format)
	return &ep, nil
}
