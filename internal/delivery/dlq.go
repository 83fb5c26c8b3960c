package delivery

import "time"

const DLQType = "delivery.dead_letter"

// DeadLetterRecord is the durable row written exactly once when a job
// exhausts. Never mutated afterward; operator resubmission spawns a
// fresh job and leaves the record in place.
type DeadLetterRecord struct {
	JobID        string    `json:"job_id"`
	TenantID     string    `json:"tenant_id"`
	EndpointID   string    `json:"endpoint_id"`
	EventID      string    `json:"event_id"`
	AttemptsMade int       `json:"attempts_made"`
	LastOutcome  Outcome   `json:"last_outcome"`
	LastReason   string    `json:"last_reason,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// DeadLetter is the operator alert published to the DLQ topic when a
// job exhausts.
type DeadLetter struct {
	Type       string  `json:"type"`    // "delivery.dead_letter"
	Version    string  `json:"version"` // schema version
	At         string  `json:"at"`      // RFC3339 time the alert was emitted
	Outcome    Outcome `json:"outcome"` // last attempt outcome
	Reason     string  `json:"reason"`  // human/debug text
	Attempts   int     `json:"attempts"`
	HTTPStatus int     `json:"http_status,omitempty"`
	Task       Task    `json:"task"` // full delivery snapshot
}

func NewDeadLetter(t Task, attempts, httpStatus int, outcome Outcome, reason string) DeadLetter {
	return DeadLetter{
		Type:       DLQType,
		Version:    "v1",
		At:         time.Now().Format(time.RFC3339Nano),
		Outcome:    outcome,
		Reason:     reason,
		Attempts:   attempts,
		HTTPStatus: httpStatus,
		Task:       t,
	}
}
