package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/aegishook/aegishook/internal/delivery"
	"github.com/aegishook/aegishook/internal/logging"
	"github.com/aegishook/aegishook/internal/metrics"
	"github.com/aegishook/aegishook/internal/siem"
	"github.com/aegishook/aegishook/internal/signature"
	"github.com/aegishook/aegishook/internal/store"
	"github.com/aegishook/aegishook/internal/tracing"
)

// busyDelay is the requeue wait when the endpoint's lease is held by
// another in-flight attempt.
const busyDelay = time.Second

// Jobs is the slice of the store the dispatcher drives: the atomic
// claim, the append-only attempt log and the state transitions.
type Jobs interface {
	ClaimJob(ctx context.Context, jobID string, ttl time.Duration) (*delivery.Job, bool, error)
	GetJob(ctx context.Context, jobID string) (*delivery.Job, error)
	RecordAttempt(ctx context.Context, a *delivery.Attempt) error
	MarkSucceeded(ctx context.Context, jobID string) error
	MarkRetrying(ctx context.Context, jobID string, nextAt time.Time) error
	MarkExhausted(ctx context.Context, jobID string) error
	InsertDeadLetter(ctx context.Context, rec *delivery.DeadLetterRecord) error
}

// Endpoints re-reads tenant config. The dispatcher calls it before
// every attempt so a disable takes effect on the next attempt.
type Endpoints interface {
	Endpoint(ctx context.Context, tenantID, endpointID string) (*delivery.Endpoint, error)
}

// Lease caps in-flight attempts per endpoint.
type Lease interface {
	Acquire(ctx context.Context, endpointID string) (release func(context.Context) error, ok bool, err error)
}

// Publisher emits dead-letter envelopes. *nsq.Producer satisfies it.
type Publisher interface {
	Publish(topic string, body []byte) error
}

// Disposition tells the queue consumer what to do with the message.
type Disposition int

const (
	// DispositionDone finishes the message: the job reached a terminal
	// state or no longer exists.
	DispositionDone Disposition = iota
	// DispositionRetry requeues the message after Delay.
	DispositionRetry
	// DispositionBusy requeues after Delay without touching the job; the
	// endpoint's lease or the job's claim is held by another attempt.
	DispositionBusy
)

type Result struct {
	Disposition Disposition
	Delay       time.Duration
	Attempt     int // attempt number this handle executed, 0 if none
}

// Options wires a Dispatcher. Zero values fall back to the deployment
// defaults.
type Options struct {
	Jobs      Jobs
	Endpoints Endpoints
	Transport Transport
	Lease     Lease
	Publisher Publisher

	MaxAttempts int
	ClaimTTL    time.Duration
	Policy      delivery.Policy
	DLQTopic    string
	PublishDLQ  bool
	Logger      *logging.Logger
}

// Dispatcher executes one delivery attempt per queue message: claim the
// job, re-read the endpoint, encode, sign, send, record the attempt and
// transition the state machine.
type Dispatcher struct {
	opts Options
}

func New(opts Options) *Dispatcher {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = delivery.DefaultMaxAttempts
	}
	if opts.ClaimTTL <= 0 {
		opts.ClaimTTL = 30 * time.Second
	}
	if opts.Policy == (delivery.Policy{}) {
		opts.Policy = delivery.DefaultPolicy()
	}
	if opts.Logger == nil {
		opts.Logger = logging.New("dispatch")
	}
	return &Dispatcher{opts: opts}
}

// Handle runs one attempt for the task's job. Infrastructure errors
// (store or lease unreachable) return a non-nil error with nothing
// recorded; the consumer requeues the message and the claim protocol
// absorbs the redelivery.
func (d *Dispatcher) Handle(ctx context.Context, t delivery.Task) (Result, error) {
	ctx, span := tracing.StartSpan(ctx, "dispatch.Handle",
		attribute.String("job_id", t.JobID),
		attribute.String("event_id", t.EventID),
		attribute.String("tenant_id", t.TenantID),
		attribute.String("endpoint_id", t.EndpointID),
	)
	defer span.End()

	// Per-endpoint cap first: if another attempt for this endpoint is in
	// flight anywhere, step back without touching the job.
	release, ok, err := d.opts.Lease.Acquire(ctx, t.EndpointID)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return Result{}, err
	}
	if !ok {
		tracing.AddSpanEvent(ctx, "lease.busy")
		metrics.RecordLeaseBusy()
		return Result{Disposition: DispositionBusy, Delay: busyDelay}, nil
	}
	defer func() { _ = release(ctx) }()

	job, claimed, err := d.opts.Jobs.ClaimJob(ctx, t.JobID, d.opts.ClaimTTL)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return Result{}, err
	}
	if !claimed {
		return d.claimSkipped(ctx, t.JobID)
	}
	span.SetAttributes(attribute.Int("attempt", job.Attempt))

	if job.Attempt > d.opts.MaxAttempts {
		// A claim number past the ceiling means a prior exhaustion was
		// interrupted between its writes. Finish the retirement without
		// sending or recording anything.
		return d.exhaust(ctx, t, job, delivery.OutcomeTransient, "max_attempts", 0, job.Attempt-1)
	}

	ep, err := d.opts.Endpoints.Endpoint(ctx, job.TenantID, job.EndpointID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		tracing.SetSpanError(ctx, err)
		return Result{}, err
	}
	if err != nil {
		return d.cancel(ctx, t, job, "endpoint_missing")
	}
	if !ep.Enabled {
		return d.cancel(ctx, t, job, "endpoint_disabled")
	}

	body, err := siem.BuildBody(&t.Event, ep.Format)
	if err != nil {
		var fe *siem.FormatError
		if errors.As(err, &fe) {
			// Structural encoding problems are permanent: no attempt is
			// recorded and the job dead-letters immediately.
			tracing.AddSpanEvent(ctx, "encode.format_error")
			metrics.RecordEncodeFailure(string(ep.Format))
			return d.exhaust(ctx, t, job, delivery.OutcomePermanent, "format_error: "+fe.Error(), 0, job.Attempt-1)
		}
		tracing.SetSpanError(ctx, err)
		return Result{}, err
	}

	ts := time.Now().UTC().Format(time.RFC3339)
	req := Request{
		URL:  ep.URL,
		Body: body,
		Headers: map[string]string{
			signature.Header:          signature.Sign(ep.Secret, body, ts),
			signature.TimestampHeader: ts,
		},
	}
	if traceID := tracing.GetTraceID(ctx); traceID != "" {
		req.Headers["X-Trace-Id"] = traceID
	}

	tracing.AddSpanEvent(ctx, "http.send_webhook")
	start := time.Now()
	status, doErr := d.opts.Transport.Deliver(ctx, req)
	latency := time.Since(start)

	outcome, reason := delivery.Classify(doErr, status)
	span.SetAttributes(
		attribute.Int("http.status_code", status),
		attribute.Int64("http.latency_ms", latency.Milliseconds()),
		attribute.String("outcome", string(outcome)),
	)
	if doErr != nil {
		span.SetAttributes(attribute.String("http.error", doErr.Error()))
	}

	executed := start.UTC()
	att := &delivery.Attempt{
		JobID:       job.ID,
		Number:      job.Attempt,
		ScheduledAt: job.NextAttemptAt,
		ExecutedAt:  &executed,
		Outcome:     outcome,
		Reason:      reason,
		HTTPStatus:  status,
		LatencyMS:   latency.Milliseconds(),
	}
	if err := d.opts.Jobs.RecordAttempt(ctx, att); err != nil {
		tracing.SetSpanError(ctx, err)
		return Result{}, err
	}

	if status > 0 {
		metrics.RecordHTTPDelivery(job.TenantID, job.EndpointID, strconv.Itoa(status), latency)
	}

	switch {
	case outcome == delivery.OutcomeSuccess:
		if err := d.opts.Jobs.MarkSucceeded(ctx, job.ID); err != nil {
			return d.transitionLost(ctx, job, err)
		}
		tracing.AddSpanEvent(ctx, "delivery.success")
		metrics.RecordDelivery("delivered", job.TenantID, job.EndpointID, latency)
		return Result{Disposition: DispositionDone, Attempt: job.Attempt}, nil

	case outcome == delivery.OutcomeTransient && job.Attempt < d.opts.MaxAttempts:
		delay := d.opts.Policy.NextDelay(job.Attempt)
		nextAt := time.Now().UTC().Add(delay)
		if err := d.opts.Jobs.MarkRetrying(ctx, job.ID, nextAt); err != nil {
			return d.transitionLost(ctx, job, err)
		}
		tracing.AddSpanEvent(ctx, "delivery.requeue",
			attribute.Int("attempt", job.Attempt),
			attribute.String("delay", delay.String()),
		)
		metrics.RecordRetry(reason)
		metrics.RecordDelivery("failed", job.TenantID, job.EndpointID, latency)
		d.opts.Logger.WithContext(ctx).WithJob(job.ID).WithEndpoint(job.EndpointID).WithFields(map[string]any{
			"attempt": job.Attempt,
			"delay":   delay.String(),
		}).Info("requeue delivery")
		return Result{Disposition: DispositionRetry, Delay: delay, Attempt: job.Attempt}, nil

	default:
		// Permanent failure, or a transient one at the attempt ceiling.
		metrics.RecordDelivery("failed", job.TenantID, job.EndpointID, latency)
		return d.exhaust(ctx, t, job, outcome, reason, status, job.Attempt)
	}
}

// claimSkipped settles a message whose job refused the claim. Terminal
// jobs finish the message; a job still behind a live claim must come
// back after that claim can expire, because this message may be the
// queue's only copy. That matters when the claim is our own: a handle
// that claimed and then hit an infrastructure error gets its message
// redelivered within the claim window, and finishing it would strand
// the job inflight forever.
func (d *Dispatcher) claimSkipped(ctx context.Context, jobID string) (Result, error) {
	job, err := d.opts.Jobs.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			tracing.AddSpanEvent(ctx, "claim.skipped")
			return Result{Disposition: DispositionDone}, nil
		}
		tracing.SetSpanError(ctx, err)
		return Result{}, err
	}
	if job.Status.Terminal() {
		tracing.AddSpanEvent(ctx, "claim.skipped")
		return Result{Disposition: DispositionDone}, nil
	}
	delay := busyDelay
	if job.ClaimExpiresAt != nil {
		if rem := time.Until(*job.ClaimExpiresAt); rem > delay {
			delay = rem
		}
	}
	tracing.AddSpanEvent(ctx, "claim.held", attribute.String("delay", delay.String()))
	return Result{Disposition: DispositionBusy, Delay: delay}, nil
}

// cancel records a cancelled attempt (nothing was sent, executed_at
// stays unset) and retires the job.
func (d *Dispatcher) cancel(ctx context.Context, t delivery.Task, job *delivery.Job, reason string) (Result, error) {
	tracing.AddSpanEvent(ctx, "delivery.cancelled", attribute.String("reason", reason))
	att := &delivery.Attempt{
		JobID:       job.ID,
		Number:      job.Attempt,
		ScheduledAt: job.NextAttemptAt,
		Outcome:     delivery.OutcomeCancelled,
		Reason:      reason,
	}
	if err := d.opts.Jobs.RecordAttempt(ctx, att); err != nil {
		tracing.SetSpanError(ctx, err)
		return Result{}, err
	}
	metrics.RecordDelivery("cancelled", job.TenantID, job.EndpointID, 0)
	return d.exhaust(ctx, t, job, delivery.OutcomeCancelled, reason, 0, job.Attempt)
}

// exhaust retires a job for good: dead-letter record first, terminal
// transition second. Both writes are idempotent, so an interruption
// between them is healed by the message redelivery.
func (d *Dispatcher) exhaust(ctx context.Context, t delivery.Task, job *delivery.Job, outcome delivery.Outcome, reason string, httpStatus, attempts int) (Result, error) {
	rec := &delivery.DeadLetterRecord{
		JobID:       job.ID,
		TenantID:    job.TenantID,
		EndpointID:  job.EndpointID,
		EventID:     job.EventID,
		LastOutcome: outcome,
		LastReason:  reason,
	}
	if err := d.opts.Jobs.InsertDeadLetter(ctx, rec); err != nil {
		tracing.SetSpanError(ctx, err)
		return Result{}, err
	}
	if err := d.opts.Jobs.MarkExhausted(ctx, job.ID); err != nil {
		return d.transitionLost(ctx, job, err)
	}

	tracing.AddSpanEvent(ctx, "delivery.dead_letter",
		attribute.String("outcome", string(outcome)),
		attribute.Int("attempts", attempts),
	)
	d.opts.Logger.WithContext(ctx).WithJob(job.ID).WithEndpoint(job.EndpointID).WithFields(map[string]any{
		"outcome":  string(outcome),
		"reason":   reason,
		"attempts": attempts,
	}).Warn("delivery dead-lettered")

	if d.opts.PublishDLQ && d.opts.Publisher != nil {
		env := delivery.NewDeadLetter(t, attempts, httpStatus, outcome, reason)
		b, _ := json.Marshal(env)
		if err := d.opts.Publisher.Publish(d.opts.DLQTopic, b); err != nil {
			// The durable record is already written; the topic alert is
			// best-effort.
			d.opts.Logger.WithContext(ctx).WithJob(job.ID).WithError(err).Error("dlq publish failed")
			tracing.SetSpanError(ctx, err)
		} else {
			tracing.AddSpanEvent(ctx, "nsq.published_dlq", attribute.String("topic", d.opts.DLQTopic))
		}
	}
	metrics.RecordDLQ(reason)
	return Result{Disposition: DispositionDone, Attempt: job.Attempt}, nil
}

// transitionLost handles a guarded transition that matched no row:
// another worker reclaimed the job after our claim expired. Their
// handle owns the job now, so this message is done.
func (d *Dispatcher) transitionLost(ctx context.Context, job *delivery.Job, err error) (Result, error) {
	if errors.Is(err, store.ErrStaleJob) {
		d.opts.Logger.WithContext(ctx).WithJob(job.ID).Warn("job transition lost to another worker")
		return Result{Disposition: DispositionDone}, nil
	}
	tracing.SetSpanError(ctx, err)
	return Result{}, err
}
