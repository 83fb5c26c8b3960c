// Package api exposes the intake service over HTTP: event ingestion,
// endpoint configuration and the operator surfaces for delivery state
// and dead-lettered deliveries.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/aegishook/aegishook/internal/auth"
	"github.com/aegishook/aegishook/internal/delivery"
	"github.com/aegishook/aegishook/internal/event"
	"github.com/aegishook/aegishook/internal/intake"
	"github.com/aegishook/aegishook/internal/logging"
	"github.com/aegishook/aegishook/internal/store"
)

// Handler holds the API's dependencies.
type Handler struct {
	svc    *intake.Service
	logger *logging.Logger
}

func NewHandler(svc *intake.Service) *Handler {
	return &Handler{svc: svc, logger: logging.New("api")}
}

// Router assembles the /api/v1 surface. healthz and metrics handlers
// are passed in by the binary so the router stays free of database and
// registry concerns; the validator resolves the tenant for everything
// else.
func Router(h *Handler, validator *auth.Validator, healthz, metricsHandler http.Handler) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(validator.HTTPMiddleware)

	r.Method(http.MethodGet, "/healthz", healthz)
	r.Method(http.MethodGet, "/metrics", metricsHandler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/ping", h.Ping)
		r.Post("/events", h.PublishEvent)
		r.Get("/events/{eventID}/deliveries", h.EventDeliveries)

		r.Route("/integrations/webhook", func(r chi.Router) {
			r.Post("/", h.CreateEndpoint)
			r.Get("/", h.ListEndpoints)
			r.Get("/{endpointID}", h.GetEndpoint)
			r.Patch("/{endpointID}", h.UpdateEndpoint)
			r.Get("/failures", h.ListFailures)
			r.Post("/failures/{jobID}/resubmit", h.ResubmitFailure)
		})
	})
	return r
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps service errors onto HTTP statuses: validation
// problems are the caller's to fix, missing rows are 404, the rest is
// an internal failure the caller cannot act on.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *intake.ValidationError
	switch {
	case errors.As(err, &ve):
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: ve.Msg})
	case errors.Is(err, store.ErrNotFound):
		h.writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
	default:
		h.logger.WithContext(r.Context()).WithError(err).Error("request failed")
		h.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func tenantID(r *http.Request) string {
	id, _ := auth.TenantFromContext(r.Context())
	return id
}

func (h *Handler) Ping(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"message": "pong"})
}

type publishEventRequest struct {
	ID        string           `json:"id,omitempty"`
	Kind      string           `json:"kind"`
	Severity  int              `json:"severity"`
	Subject   string           `json:"subject"`
	Attrs     event.Attributes `json:"attributes,omitempty"`
	CreatedAt *time.Time       `json:"created_at,omitempty"`
}

type publishEventResponse struct {
	EventID     string `json:"event_id"`
	FanoutCount int    `json:"fanout_count"`
}

// PublishEvent handles POST /api/v1/events. The tenant comes from the
// request identity, never the body; the optional Idempotency-Key header
// deduplicates producer retries.
func (h *Handler) PublishEvent(w http.ResponseWriter, r *http.Request) {
	var req publishEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed JSON body: " + err.Error()})
		return
	}

	e := &event.Event{
		ID:         req.ID,
		TenantID:   tenantID(r),
		Kind:       event.Kind(req.Kind),
		Severity:   req.Severity,
		Subject:    req.Subject,
		Attributes: req.Attrs,
	}
	if req.CreatedAt != nil {
		e.CreatedAt = *req.CreatedAt
	}

	res, err := h.svc.PublishEvent(r.Context(), e, r.Header.Get("Idempotency-Key"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	status := http.StatusAccepted
	if !res.Created {
		status = http.StatusOK // duplicate publish, nothing new enqueued
	}
	h.writeJSON(w, status, publishEventResponse{EventID: res.EventID, FanoutCount: res.Fanout})
}

type endpointRequest struct {
	URL     string  `json:"url"`
	Format  *string `json:"format,omitempty"`
	Secret  *string `json:"secret,omitempty"`
	Enabled *bool   `json:"enabled,omitempty"`
}

// endpointResponse carries the secret only on creation; the struct's
// own JSON encoding never exposes it again.
type endpointResponse struct {
	Endpoint *delivery.Endpoint `json:"endpoint"`
	Secret   string             `json:"secret,omitempty"`
}

// CreateEndpoint handles POST /api/v1/integrations/webhook.
func (h *Handler) CreateEndpoint(w http.ResponseWriter, r *http.Request) {
	var req endpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed JSON body: " + err.Error()})
		return
	}

	p := intake.CreateEndpointParams{URL: req.URL, Enabled: req.Enabled}
	if req.Format != nil {
		p.Format = *req.Format
	}
	if req.Secret != nil {
		p.Secret = *req.Secret
	}
	ep, err := h.svc.CreateEndpoint(r.Context(), tenantID(r), p)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, endpointResponse{Endpoint: ep, Secret: ep.Secret})
}

// ListEndpoints handles GET /api/v1/integrations/webhook.
func (h *Handler) ListEndpoints(w http.ResponseWriter, r *http.Request) {
	eps, err := h.svc.ListEndpoints(r.Context(), tenantID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string][]delivery.Endpoint{"endpoints": eps})
}

// GetEndpoint handles GET /api/v1/integrations/webhook/{endpointID}.
func (h *Handler) GetEndpoint(w http.ResponseWriter, r *http.Request) {
	ep, err := h.svc.Endpoint(r.Context(), tenantID(r), chi.URLParam(r, "endpointID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, endpointResponse{Endpoint: ep})
}

// UpdateEndpoint handles PATCH /api/v1/integrations/webhook/{endpointID}.
// Omitted fields keep their current value; a disable here stops the
// next attempt of every in-progress delivery to the endpoint.
func (h *Handler) UpdateEndpoint(w http.ResponseWriter, r *http.Request) {
	var req endpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed JSON body: " + err.Error()})
		return
	}

	p := intake.UpdateEndpointParams{Format: req.Format, Secret: req.Secret, Enabled: req.Enabled}
	if req.URL != "" {
		p.URL = &req.URL
	}
	ep, err := h.svc.UpdateEndpoint(r.Context(), tenantID(r), chi.URLParam(r, "endpointID"), p)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, endpointResponse{Endpoint: ep})
}

// ListFailures handles GET /api/v1/integrations/webhook/failures: the
// tenant's dead-lettered deliveries, newest first.
func (h *Handler) ListFailures(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid limit"})
			return
		}
		limit = n
	}
	recs, err := h.svc.Failures(r.Context(), tenantID(r), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string][]delivery.DeadLetterRecord{"failures": recs})
}

// ResubmitFailure handles POST
// /api/v1/integrations/webhook/failures/{jobID}/resubmit. The response
// is the fresh job; the dead-letter record stays in place.
func (h *Handler) ResubmitFailure(w http.ResponseWriter, r *http.Request) {
	job, err := h.svc.ResubmitFailure(r.Context(), tenantID(r), chi.URLParam(r, "jobID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]*delivery.Job{"job": job})
}

// EventDeliveries handles GET /api/v1/events/{eventID}/deliveries: each
// delivery job for the event with its full attempt log.
func (h *Handler) EventDeliveries(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.EventDeliveries(r.Context(), tenantID(r), chi.URLParam(r, "eventID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string][]intake.JobDeliveries{"deliveries": out})
}
