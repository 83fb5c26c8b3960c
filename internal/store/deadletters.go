package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/aegishook/aegishook/internal/delivery"
)

// InsertDeadLetter writes the exhaustion record for a job. attempts_made
// is derived from the attempt log rather than taken from the caller, so
// it always reflects attempts actually recorded (zero for a job
// dead-lettered before its first send). The primary key on job_id plus
// DO NOTHING keeps the record exactly-once even if two workers race the
// same exhaustion.
func (s *Store) InsertDeadLetter(ctx context.Context, rec *delivery.DeadLetterRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO aegishook.dead_letters(job_id, tenant_id, endpoint_id, event_id, attempts_made, last_outcome, last_reason)
		VALUES ($1, $2, $3, $4,
		        (SELECT COUNT(*) FROM aegishook.delivery_attempts WHERE job_id = $1),
		        $5, $6)
		ON CONFLICT (job_id) DO NOTHING`,
		rec.JobID, rec.TenantID, rec.EndpointID, rec.EventID, string(rec.LastOutcome), rec.LastReason)
	return err
}

// GetDeadLetter loads one dead-letter record by job id.
func (s *Store) GetDeadLetter(ctx context.Context, jobID string) (*delivery.DeadLetterRecord, error) {
	var rec delivery.DeadLetterRecord
	var outcome string
	err := s.pool.QueryRow(ctx, `
		SELECT job_id, tenant_id, endpoint_id, event_id, attempts_made, last_outcome, last_reason, created_at
		FROM aegishook.dead_letters
		WHERE job_id = $1`, jobID,
	).Scan(&rec.JobID, &rec.TenantID, &rec.EndpointID, &rec.EventID, &rec.AttemptsMade, &outcome, &rec.LastReason, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rec.LastOutcome = delivery.Outcome(outcome)
	return &rec, nil
}

// ListDeadLetters returns the tenant's dead-letter records, newest first.
func (s *Store) ListDeadLetters(ctx context.Context, tenantID string, limit int) ([]delivery.DeadLetterRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT job_id, tenant_id, endpoint_id, event_id, attempts_made, last_outcome, last_reason, created_at
		FROM aegishook.dead_letters
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []delivery.DeadLetterRecord
	for rows.Next() {
		var rec delivery.DeadLetterRecord
		var outcome string
		if err := rows.Scan(&rec.JobID, &rec.TenantID, &rec.EndpointID, &rec.EventID,
			&rec.AttemptsMade, &outcome, &rec.LastReason, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.LastOutcome = delivery.Outcome(outcome)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Resubmit creates a fresh pending job for a dead-lettered one. The new
// job references the same event and endpoint, starts at attempt zero
// and links back through resubmitted_from. The dead-letter record and
// the original job stay untouched.
func (s *Store) Resubmit(ctx context.Context, jobID string) (*delivery.Job, error) {
	var eventID, endpointID, tenantID string
	err := s.pool.QueryRow(ctx, `
		SELECT j.event_id, j.endpoint_id, j.tenant_id
		FROM aegishook.delivery_jobs j
		JOIN aegishook.dead_letters dl ON dl.job_id = j.id
		WHERE j.id = $1`, jobID,
	).Scan(&eventID, &endpointID, &tenantID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load source job: %w", err)
	}

	var j delivery.Job
	err = s.pool.QueryRow(ctx, `
		INSERT INTO aegishook.delivery_jobs(event_id, endpoint_id, tenant_id, status, resubmitted_from)
		VALUES ($1, $2, $3, 'pending', $4)
		RETURNING id, next_attempt_at, created_at, updated_at`,
		eventID, endpointID, tenantID, jobID,
	).Scan(&j.ID, &j.NextAttemptAt, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert resubmission: %w", err)
	}
	j.EventID = eventID
	j.EndpointID = endpointID
	j.TenantID = tenantID
	j.Status = delivery.StatusPending
	from := jobID
	j.ResubmittedFrom = &from
	return &j, nil
}
