package delivery

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/aegishook/aegishook/internal/event"
)

// The task envelope crosses the queue between intake and workers; a
// round trip must hand the worker the exact event snapshot that was
// accepted, attribute order included, or redelivered bodies would
// encode differently.
func TestTaskRoundTrip(t *testing.T) {
	task := Task{
		JobID:      "job-123",
		EventID:    "evt-456",
		TenantID:   "tenant-789",
		EndpointID: "ep-abc",
		Attempt:    3,
		Event: event.Event{
			ID:       "evt-456",
			TenantID: "tenant-789",
			Kind:     event.KindAlert,
			Severity: 9,
			Subject:  "lateral movement detected",
			Attributes: event.Attributes{
				{Key: "zebra", Value: "first"},
				{Key: "alpha", Value: "second"},
				{Key: "count", Value: 42},
			},
			CreatedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		},
		PublishedAt: "2025-06-01T12:00:01Z",
		TraceHeaders: map[string]string{
			"traceparent": "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01",
		},
	}

	data, err := json.Marshal(task)
	if err != nil {
		t.Fatalf("marshal task: %v", err)
	}

	// Attribute order must survive the wire format itself, not just the
	// decoded struct.
	raw := string(data)
	zi, ai := strings.Index(raw, `"zebra"`), strings.Index(raw, `"alpha"`)
	if zi < 0 || ai < 0 || zi > ai {
		t.Errorf("attribute order lost in wire form: zebra at %d, alpha at %d", zi, ai)
	}

	var got Task
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}
	if got.JobID != task.JobID || got.EventID != task.EventID || got.TenantID != task.TenantID {
		t.Errorf("identity fields changed: got %s/%s/%s", got.JobID, got.EventID, got.TenantID)
	}
	if got.Attempt != 3 {
		t.Errorf("attempt = %d, want 3", got.Attempt)
	}
	if got.Event.Subject != task.Event.Subject {
		t.Errorf("event subject = %q, want %q", got.Event.Subject, task.Event.Subject)
	}
	if len(got.Event.Attributes) != 3 {
		t.Fatalf("attribute count = %d, want 3", len(got.Event.Attributes))
	}
	for i, want := range []string{"zebra", "alpha", "count"} {
		if got.Event.Attributes[i].Key != want {
			t.Errorf("attribute[%d] key = %q, want %q", i, got.Event.Attributes[i].Key, want)
		}
	}
	if got.TraceHeaders["traceparent"] == "" {
		t.Error("trace headers dropped")
	}
}

func TestDeadLetterEnvelopeRoundTrip(t *testing.T) {
	env := DeadLetter{
		Type:       DLQType,
		Version:    "v1",
		At:         "2025-06-01T12:00:00.123456789Z",
		Outcome:    OutcomeTransient,
		Reason:     "http_5xx",
		Attempts:   5,
		HTTPStatus: 503,
		Task: Task{
			JobID:      "job-123",
			EventID:    "evt-456",
			TenantID:   "tenant-789",
			EndpointID: "ep-abc",
		},
	}

	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	var got DeadLetter
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if got.Type != DLQType || got.Version != "v1" {
		t.Errorf("envelope header = %s/%s, want %s/v1", got.Type, got.Version, DLQType)
	}
	if got.Outcome != OutcomeTransient || got.Reason != "http_5xx" {
		t.Errorf("outcome/reason = %s/%s, want transient_failure/http_5xx", got.Outcome, got.Reason)
	}
	if got.Attempts != 5 || got.HTTPStatus != 503 {
		t.Errorf("attempts/status = %d/%d, want 5/503", got.Attempts, got.HTTPStatus)
	}
	if got.Task.JobID != "job-123" {
		t.Errorf("task snapshot job_id = %q, want job-123", got.Task.JobID)
	}
}

func TestNewDeadLetterTimestamp(t *testing.T) {
	before := time.Now()
	dl := NewDeadLetter(Task{JobID: "job-1"}, 1, 0, OutcomeCancelled, "endpoint_disabled")
	after := time.Now()

	at, err := time.Parse(time.RFC3339Nano, dl.At)
	if err != nil {
		t.Fatalf("parse At: %v", err)
	}
	if at.Before(before.Add(-time.Second)) || at.After(after.Add(time.Second)) {
		t.Errorf("At = %v outside [%v, %v]", at, before, after)
	}
}

func TestDLQTypeConstant(t *testing.T) {
	if DLQType != "delivery.dead_letter" {
		t.Errorf("DLQType = %q, want %q", DLQType, "delivery.dead_letter")
	}
}
