package delivery

import "time"

// DefaultMaxAttempts is the delivery attempt ceiling. The fifth
// transient failure dead-letters the job instead of scheduling a sixth
// attempt.
const DefaultMaxAttempts = 5

type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusInflight  JobStatus = "inflight"
	StatusRetrying  JobStatus = "retrying"
	StatusSucceeded JobStatus = "succeeded"
	StatusExhausted JobStatus = "exhausted"
)

// Terminal reports whether the status admits no further transitions.
// Terminal jobs never record another attempt.
func (s JobStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusExhausted
}

// Job tracks delivery of one event to one endpoint. Exactly one job
// exists per (event, endpoint) pair at fan-out; resubmissions of a
// dead-lettered job are fresh rows linked through ResubmittedFrom.
type Job struct {
	ID              string     `json:"id"`
	EventID         string     `json:"event_id"`
	TenantID        string     `json:"tenant_id"`
	EndpointID      string     `json:"endpoint_id"`
	Status          JobStatus  `json:"status"`
	Attempt         int        `json:"attempt"` // attempts recorded so far
	NextAttemptAt   time.Time  `json:"next_attempt_at"`
	ClaimExpiresAt  *time.Time `json:"claim_expires_at,omitempty"`
	ResubmittedFrom *string    `json:"resubmitted_from,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeTransient Outcome = "transient_failure"
	OutcomePermanent Outcome = "permanent_failure"
	OutcomeCancelled Outcome = "cancelled"
)

func (o Outcome) Retryable() bool {
	return o == OutcomeTransient
}

// Attempt is one entry of a job's append-only attempt log.
type Attempt struct {
	JobID       string     `json:"job_id"`
	Number      int        `json:"attempt_number"` // 1-based, strictly increasing
	ScheduledAt time.Time  `json:"scheduled_at"`
	ExecutedAt  *time.Time `json:"executed_at,omitempty"` // nil when nothing was sent (cancelled)
	Outcome     Outcome    `json:"outcome"`
	Reason      string     `json:"reason,omitempty"`
	HTTPStatus  int        `json:"http_status,omitempty"`
	LatencyMS   int64      `json:"latency_ms,omitempty"`
}
