package delivery

import "github.com/aegishook/aegishook/internal/event"

// Task is the queue envelope for one due job. The event snapshot rides
// along (events are immutable) but job state and endpoint config are
// re-read from the store when the task is handled.
type Task struct {
	JobID        string            `json:"job_id"`
	EventID      string            `json:"event_id"`
	TenantID     string            `json:"tenant_id"`
	EndpointID   string            `json:"endpoint_id"`
	Attempt      int               `json:"attempt"` // attempt number this task will execute
	Event        event.Event       `json:"event"`
	PublishedAt  string            `json:"published_at"` // RFC3339
	TraceHeaders map[string]string `json:"trace_headers,omitempty"` // OTel trace propagation headers
}
