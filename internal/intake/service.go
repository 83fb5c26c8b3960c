package intake

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/aegishook/aegishook/internal/delivery"
	"github.com/aegishook/aegishook/internal/event"
	"github.com/aegishook/aegishook/internal/logging"
	"github.com/aegishook/aegishook/internal/metrics"
	"github.com/aegishook/aegishook/internal/siem"
	"github.com/aegishook/aegishook/internal/store"
	"github.com/aegishook/aegishook/internal/tracing"
)

// Store is the slice of the persistence layer the intake API drives.
// *store.Store satisfies it.
type Store interface {
	InsertEvent(ctx context.Context, e *event.Event, idemKey string) (string, bool, error)
	GetEvent(ctx context.Context, id string) (*event.Event, error)
	CreateEndpoint(ctx context.Context, ep *delivery.Endpoint) error
	Endpoint(ctx context.Context, tenantID, endpointID string) (*delivery.Endpoint, error)
	ListEndpoints(ctx context.Context, tenantID string) ([]delivery.Endpoint, error)
	ListEnabledEndpoints(ctx context.Context, tenantID string) ([]delivery.Endpoint, error)
	UpdateEndpoint(ctx context.Context, tenantID, endpointID string, upd store.EndpointUpdate) (*delivery.Endpoint, error)
	CreateJobs(ctx context.Context, eventID, tenantID string, endpointIDs []string) ([]delivery.Job, error)
	ListJobsByEvent(ctx context.Context, eventID string) ([]delivery.Job, error)
	ListAttempts(ctx context.Context, jobID string) ([]delivery.Attempt, error)
	ListDeadLetters(ctx context.Context, tenantID string, limit int) ([]delivery.DeadLetterRecord, error)
	GetDeadLetter(ctx context.Context, jobID string) (*delivery.DeadLetterRecord, error)
	Resubmit(ctx context.Context, jobID string) (*delivery.Job, error)
}

// Publisher enqueues delivery tasks. *nsq.Producer satisfies it.
type Publisher interface {
	Publish(topic string, body []byte) error
}

// Service implements the intake API: accept events, fan them out to the
// tenant's enabled endpoints, manage endpoint config and expose delivery
// state to operators.
type Service struct {
	store  Store
	pub    Publisher
	topic  string
	logger *logging.Logger
}

func NewService(st Store, pub Publisher, topic string) *Service {
	return &Service{
		store:  st,
		pub:    pub,
		topic:  topic,
		logger: logging.New("intake"),
	}
}

// ValidationError marks a request the caller can fix. Handlers map it
// to a 400.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func invalidf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// generateSecret generates a random base64-encoded string of n bytes
func generateSecret(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

type PublishResult struct {
	EventID string
	Created bool // false for a duplicate idempotency key
	Fanout  int
}

// PublishEvent accepts one event and fans it out: persist, create one
// pending job per enabled endpoint and enqueue a task for each. A
// duplicate idempotency key returns the original event id without
// fanning out again.
func (s *Service) PublishEvent(ctx context.Context, e *event.Event, idemKey string) (*PublishResult, error) {
	ctx, span := tracing.StartSpan(ctx, "intake.PublishEvent",
		attribute.String("tenant_id", e.TenantID),
		attribute.String("kind", string(e.Kind)),
		attribute.Bool("has_idempotency_key", idemKey != ""),
	)
	defer span.End()

	if err := e.Validate(); err != nil {
		return nil, invalidf("%v", err)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	id, created, err := s.store.InsertEvent(ctx, e, idemKey)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return nil, err
	}
	e.ID = id
	span.SetAttributes(attribute.String("event_id", id))

	if !created {
		// Duplicate publish. If the original already fanned out, stop
		// here; otherwise a crash interrupted the first publish between
		// the event insert and the fan-out, and this retry finishes it.
		jobs, err := s.store.ListJobsByEvent(ctx, id)
		if err != nil {
			tracing.SetSpanError(ctx, err)
			return nil, err
		}
		if len(jobs) > 0 {
			tracing.AddSpanEvent(ctx, "duplicate_event_detected")
			return &PublishResult{EventID: id}, nil
		}
	}

	endpoints, err := s.store.ListEnabledEndpoints(ctx, e.TenantID)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return nil, err
	}
	endpointIDs := make([]string, len(endpoints))
	for i, ep := range endpoints {
		endpointIDs[i] = ep.ID
	}

	jobs, err := s.store.CreateJobs(ctx, id, e.TenantID, endpointIDs)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return nil, fmt.Errorf("fan out: %w", err)
	}

	traceHeaders := tracing.PropagateTraceToNSQ(ctx)
	publishedAt := time.Now().UTC().Format(time.RFC3339)
	for _, j := range jobs {
		task := delivery.Task{
			JobID:        j.ID,
			EventID:      id,
			TenantID:     e.TenantID,
			EndpointID:   j.EndpointID,
			Attempt:      1,
			Event:        *e,
			PublishedAt:  publishedAt,
			TraceHeaders: traceHeaders,
		}
		// The attribute values already round-tripped through JSON on the
		// way in, so this cannot fail.
		b, _ := json.Marshal(task)
		if err := s.pub.Publish(s.topic, b); err != nil {
			tracing.SetSpanError(ctx, err)
			return nil, fmt.Errorf("nsq publish: %w", err)
		}
	}
	if len(jobs) > 0 {
		tracing.AddSpanEvent(ctx, "nsq.published_tasks",
			attribute.Int("task_count", len(jobs)),
			attribute.String("topic", s.topic))
	}

	metrics.RecordEventPublished(e.TenantID)
	span.SetAttributes(attribute.Int("fanout_count", len(jobs)))

	s.logger.WithContext(ctx).WithTenant(e.TenantID).WithEvent(id).WithFields(map[string]any{
		"fanout": len(jobs),
	}).Info("event accepted")

	return &PublishResult{EventID: id, Created: created, Fanout: len(jobs)}, nil
}

type CreateEndpointParams struct {
	URL     string
	Format  string
	Secret  string
	Enabled *bool
}

// CreateEndpoint registers a webhook receiver for the tenant. An empty
// secret gets a generated one; the caller sees it exactly once, in the
// create response.
func (s *Service) CreateEndpoint(ctx context.Context, tenantID string, p CreateEndpointParams) (*delivery.Endpoint, error) {
	if tenantID == "" || p.URL == "" {
		return nil, invalidf("tenant_id and url are required")
	}
	if _, err := url.ParseRequestURI(p.URL); err != nil {
		return nil, invalidf("invalid url: %v", err)
	}

	format := siem.FormatJSON
	if p.Format != "" {
		f, err := siem.ParseFormat(p.Format)
		if err != nil {
			return nil, invalidf("%v", err)
		}
		format = f
	}

	secret := p.Secret
	if secret == "" {
		var err error
		secret, err = generateSecret(32) // 256-bit
		if err != nil {
			return nil, err
		}
	}

	enabled := true
	if p.Enabled != nil {
		enabled = *p.Enabled
	}

	ep := &delivery.Endpoint{
		TenantID: tenantID,
		URL:      p.URL,
		Format:   format,
		Secret:   secret,
		Enabled:  enabled,
	}
	if err := s.store.CreateEndpoint(ctx, ep); err != nil {
		return nil, err
	}

	s.logger.WithContext(ctx).WithTenant(tenantID).WithEndpoint(ep.ID).WithFields(map[string]any{
		"format": string(format),
	}).Info("endpoint created")
	return ep, nil
}

type UpdateEndpointParams struct {
	URL     *string
	Format  *string
	Secret  *string
	Enabled *bool
}

// UpdateEndpoint applies a partial config change. The worker re-reads
// endpoint config before every attempt, so a disable here cancels the
// next attempt of any in-progress delivery.
func (s *Service) UpdateEndpoint(ctx context.Context, tenantID, endpointID string, p UpdateEndpointParams) (*delivery.Endpoint, error) {
	if p.URL != nil {
		if _, err := url.ParseRequestURI(*p.URL); err != nil {
			return nil, invalidf("invalid url: %v", err)
		}
	}
	upd := store.EndpointUpdate{URL: p.URL, Secret: p.Secret, Enabled: p.Enabled}
	if p.Format != nil {
		f, err := siem.ParseFormat(*p.Format)
		if err != nil {
			return nil, invalidf("%v", err)
		}
		upd.Format = &f
	}

	ep, err := s.store.UpdateEndpoint(ctx, tenantID, endpointID, upd)
	if err != nil {
		return nil, err
	}
	if p.Enabled != nil {
		s.logger.WithContext(ctx).WithTenant(tenantID).WithEndpoint(endpointID).WithFields(map[string]any{
			"enabled": *p.Enabled,
		}).Info("endpoint toggled")
	}
	return ep, nil
}

func (s *Service) Endpoint(ctx context.Context, tenantID, endpointID string) (*delivery.Endpoint, error) {
	return s.store.Endpoint(ctx, tenantID, endpointID)
}

func (s *Service) ListEndpoints(ctx context.Context, tenantID string) ([]delivery.Endpoint, error) {
	eps, err := s.store.ListEndpoints(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if eps == nil {
		eps = []delivery.Endpoint{}
	}
	return eps, nil
}

// JobDeliveries pairs one delivery job with its attempt log.
type JobDeliveries struct {
	Job      delivery.Job       `json:"job"`
	Attempts []delivery.Attempt `json:"attempts"`
}

// EventDeliveries returns every delivery job for an event with its full
// attempt history.
func (s *Service) EventDeliveries(ctx context.Context, tenantID, eventID string) ([]JobDeliveries, error) {
	ev, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if ev.TenantID != tenantID {
		// Cross-tenant reads look like a missing event.
		return nil, store.ErrNotFound
	}

	jobs, err := s.store.ListJobsByEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	out := make([]JobDeliveries, 0, len(jobs))
	for _, j := range jobs {
		attempts, err := s.store.ListAttempts(ctx, j.ID)
		if err != nil {
			return nil, err
		}
		if attempts == nil {
			attempts = []delivery.Attempt{}
		}
		out = append(out, JobDeliveries{Job: j, Attempts: attempts})
	}
	return out, nil
}

// Failures lists the tenant's dead-lettered deliveries, newest first.
func (s *Service) Failures(ctx context.Context, tenantID string, limit int) ([]delivery.DeadLetterRecord, error) {
	recs, err := s.store.ListDeadLetters(ctx, tenantID, limit)
	if err != nil {
		return nil, err
	}
	if recs == nil {
		recs = []delivery.DeadLetterRecord{}
	}
	return recs, nil
}

// ResubmitFailure spawns a fresh delivery job for a dead-lettered one
// and enqueues it. The dead-letter record and the exhausted job stay in
// place; the new job links back through resubmitted_from.
func (s *Service) ResubmitFailure(ctx context.Context, tenantID, jobID string) (*delivery.Job, error) {
	ctx, span := tracing.StartSpan(ctx, "intake.ResubmitFailure",
		attribute.String("tenant_id", tenantID),
		attribute.String("job_id", jobID),
	)
	defer span.End()

	rec, err := s.store.GetDeadLetter(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if rec.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	ev, err := s.store.GetEvent(ctx, rec.EventID)
	if err != nil {
		return nil, err
	}

	job, err := s.store.Resubmit(ctx, jobID)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("new_job_id", job.ID))

	task := delivery.Task{
		JobID:        job.ID,
		EventID:      rec.EventID,
		TenantID:     tenantID,
		EndpointID:   rec.EndpointID,
		Attempt:      1,
		Event:        *ev,
		PublishedAt:  time.Now().UTC().Format(time.RFC3339),
		TraceHeaders: tracing.PropagateTraceToNSQ(ctx),
	}
	b, _ := json.Marshal(task)
	if err := s.pub.Publish(s.topic, b); err != nil {
		tracing.SetSpanError(ctx, err)
		return nil, fmt.Errorf("nsq publish: %w", err)
	}

	s.logger.WithContext(ctx).WithTenant(tenantID).WithJob(job.ID).WithFields(map[string]any{
		"resubmitted_from": jobID,
	}).Info("dead-lettered delivery resubmitted")
	return job, nil
}
