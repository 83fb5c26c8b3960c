package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/aegishook/aegishook/internal/delivery"
)

// CreateJobs fans an event out to the given endpoints, one pending job
// per endpoint. Pairs that already have a job are skipped, so a
// duplicate publish cannot double-deliver.
func (s *Store) CreateJobs(ctx context.Context, eventID, tenantID string, endpointIDs []string) ([]delivery.Job, error) {
	if len(endpointIDs) == 0 {
		return nil, nil
	}

	batch := &pgx.Batch{}
	for _, epID := range endpointIDs {
		batch.Queue(`
			INSERT INTO aegishook.delivery_jobs(event_id, endpoint_id, tenant_id, status)
			VALUES ($1, $2, $3, 'pending')
			ON CONFLICT (event_id, endpoint_id) WHERE resubmitted_from IS NULL DO NOTHING
			RETURNING id, next_attempt_at, created_at, updated_at`,
			eventID, epID, tenantID)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	jobs := make([]delivery.Job, 0, len(endpointIDs))
	for _, epID := range endpointIDs {
		var j delivery.Job
		err := br.QueryRow().Scan(&j.ID, &j.NextAttemptAt, &j.CreatedAt, &j.UpdatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			// already fanned out for this pair
			continue
		}
		if err != nil {
			return nil, err
		}
		j.EventID = eventID
		j.EndpointID = epID
		j.TenantID = tenantID
		j.Status = delivery.StatusPending
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// ClaimJob atomically moves a due job into inflight and assigns the next
// attempt number. The claim carries an expiry so a worker lost
// mid-attempt cannot strand the job: once the expiry passes, the queue's
// redelivery of the task reclaims it here. Returns claimed=false when
// another worker holds the job or it is already terminal.
func (s *Store) ClaimJob(ctx context.Context, jobID string, ttl time.Duration) (*delivery.Job, bool, error) {
	var j delivery.Job
	var status string
	var claimExp sql.NullTime
	var resubFrom sql.NullString
	err := s.pool.QueryRow(ctx, `
		UPDATE aegishook.delivery_jobs
		SET status = 'inflight',
		    attempt = attempt + 1,
		    claim_expires_at = now() + make_interval(secs => $2),
		    updated_at = now()
		WHERE id = $1
		  AND (status IN ('pending', 'retrying')
		       OR (status = 'inflight' AND claim_expires_at < now()))
		RETURNING id, event_id, endpoint_id, tenant_id, status, attempt,
		          next_attempt_at, claim_expires_at, resubmitted_from, created_at, updated_at`,
		jobID, ttl.Seconds(),
	).Scan(&j.ID, &j.EventID, &j.EndpointID, &j.TenantID, &status, &j.Attempt,
		&j.NextAttemptAt, &claimExp, &resubFrom, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	j.Status = delivery.JobStatus(status)
	j.ClaimExpiresAt = timePtr(claimExp)
	j.ResubmittedFrom = strPtr(resubFrom)
	return &j, true, nil
}

// MarkSucceeded finalizes a job after a successful attempt. All
// transitions are guarded on inflight so terminal states stay immutable.
func (s *Store) MarkSucceeded(ctx context.Context, jobID string) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE aegishook.delivery_jobs
		SET status = 'succeeded', claim_expires_at = NULL, updated_at = now()
		WHERE id = $1 AND status = 'inflight'`, jobID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrStaleJob
	}
	return nil
}

// MarkRetrying schedules the next attempt and releases the claim.
func (s *Store) MarkRetrying(ctx context.Context, jobID string, nextAt time.Time) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE aegishook.delivery_jobs
		SET status = 'retrying', next_attempt_at = $2, claim_expires_at = NULL, updated_at = now()
		WHERE id = $1 AND status = 'inflight'`, jobID, nextAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrStaleJob
	}
	return nil
}

// MarkExhausted finalizes a job that will never be attempted again.
func (s *Store) MarkExhausted(ctx context.Context, jobID string) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE aegishook.delivery_jobs
		SET status = 'exhausted', claim_expires_at = NULL, updated_at = now()
		WHERE id = $1 AND status = 'inflight'`, jobID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrStaleJob
	}
	return nil
}

// RecordAttempt appends one attempt to the job's log. The composite
// primary key rejects a duplicate attempt number outright.
func (s *Store) RecordAttempt(ctx context.Context, a *delivery.Attempt) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO aegishook.delivery_attempts(job_id, attempt_number, scheduled_at, executed_at, outcome, reason, http_status, latency_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.JobID, a.Number, a.ScheduledAt, a.ExecutedAt, string(a.Outcome), a.Reason,
		nullInt(a.HTTPStatus), nullInt64(a.LatencyMS))
	return err
}

// ListAttempts returns a job's attempt log in attempt order.
func (s *Store) ListAttempts(ctx context.Context, jobID string) ([]delivery.Attempt, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT job_id, attempt_number, scheduled_at, executed_at, outcome, reason, http_status, latency_ms
		FROM aegishook.delivery_attempts
		WHERE job_id = $1
		ORDER BY attempt_number ASC`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []delivery.Attempt
	for rows.Next() {
		var a delivery.Attempt
		var outcome string
		var executed sql.NullTime
		var httpStatus sql.NullInt32
		var latency sql.NullInt64
		if err := rows.Scan(&a.JobID, &a.Number, &a.ScheduledAt, &executed, &outcome, &a.Reason, &httpStatus, &latency); err != nil {
			return nil, err
		}
		a.Outcome = delivery.Outcome(outcome)
		a.ExecutedAt = timePtr(executed)
		if httpStatus.Valid {
			a.HTTPStatus = int(httpStatus.Int32)
		}
		if latency.Valid {
			a.LatencyMS = latency.Int64
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetJob loads one job by id.
func (s *Store) GetJob(ctx context.Context, jobID string) (*delivery.Job, error) {
	var j delivery.Job
	var status string
	var claimExp sql.NullTime
	var resubFrom sql.NullString
	err := s.pool.QueryRow(ctx, `
		SELECT id, event_id, endpoint_id, tenant_id, status, attempt,
		       next_attempt_at, claim_expires_at, resubmitted_from, created_at, updated_at
		FROM aegishook.delivery_jobs
		WHERE id = $1`, jobID,
	).Scan(&j.ID, &j.EventID, &j.EndpointID, &j.TenantID, &status, &j.Attempt,
		&j.NextAttemptAt, &claimExp, &resubFrom, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	j.Status = delivery.JobStatus(status)
	j.ClaimExpiresAt = timePtr(claimExp)
	j.ResubmittedFrom = strPtr(resubFrom)
	return &j, nil
}

// ListJobsByEvent returns every delivery job spawned for an event,
// resubmissions included.
func (s *Store) ListJobsByEvent(ctx context.Context, eventID string) ([]delivery.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, event_id, endpoint_id, tenant_id, status, attempt,
		       next_attempt_at, claim_expires_at, resubmitted_from, created_at, updated_at
		FROM aegishook.delivery_jobs
		WHERE event_id = $1
		ORDER BY created_at ASC`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []delivery.Job
	for rows.Next() {
		var j delivery.Job
		var status string
		var claimExp sql.NullTime
		var resubFrom sql.NullString
		if err := rows.Scan(&j.ID, &j.EventID, &j.EndpointID, &j.TenantID, &status, &j.Attempt,
			&j.NextAttemptAt, &claimExp, &resubFrom, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, err
		}
		j.Status = delivery.JobStatus(status)
		j.ClaimExpiresAt = timePtr(claimExp)
		j.ResubmittedFrom = strPtr(resubFrom)
		out = append(out, j)
	}
	return out, rows.Err()
}
