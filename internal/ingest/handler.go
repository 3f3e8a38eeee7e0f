// Package ingest accepts raw cloud audit records over HTTP and Kafka,
// normalizes them into canonical events, and enqueues them for scoring.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"cloudsentinel/internal/queue"
	"cloudsentinel/internal/schema"
)

// Normalize converts a raw provider audit record into a canonical event.
func Normalize(provider string, raw map[string]any) (*schema.Event, error) {
	switch strings.ToLower(provider) {
	case "aws", "cloudtrail":
		return schema.FromCloudTrail(raw)
	case "azure", "azuremonitor":
		return schema.FromAzureMonitor(raw)
	case "gcp", "gcplogging":
		return schema.FromGCPLogging(raw)
	default:
		return nil, fmt.Errorf("unknown provider %q", provider)
	}
}

// Handler handles HTTP event ingestion.
type Handler struct {
	validator   *schema.Validator
	queue       *queue.RingBuffer
	maxPayload  int
	maxBatch    int
	startTime   time.Time
	eventsTotal atomic.Uint64
}

// NewHandler creates an ingest Handler.
func NewHandler(validator *schema.Validator, q *queue.RingBuffer) *Handler {
	return &Handler{
		validator:  validator,
		queue:      q,
		maxPayload: 10 * 1024 * 1024, // 10MB default
		maxBatch:   1000,
		startTime:  time.Now(),
	}
}

// WithMaxPayload sets the maximum payload size.
func (h *Handler) WithMaxPayload(size int) *Handler {
	h.maxPayload = size
	return h
}

// WithMaxBatch sets the maximum batch size.
func (h *Handler) WithMaxBatch(size int) *Handler {
	h.maxBatch = size
	return h
}

// Routes returns the ingest HTTP routes.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/events", h.HandleEvents)
	mux.HandleFunc("GET /health", h.HealthCheck)
	mux.HandleFunc("GET /metrics", h.Metrics)
	return mux
}

// IngestRequest is the request body for event ingestion. Records are
// raw provider audit log entries in the provider's native format.
type IngestRequest struct {
	Provider string           `json:"provider"`
	Records  []map[string]any `json:"records"`
}

// IngestResponse is the response for event ingestion.
type IngestResponse struct {
	Success   bool     `json:"success"`
	Accepted  int      `json:"accepted"`
	Rejected  int      `json:"rejected"`
	Errors    []string `json:"errors,omitempty"`
	RequestID string   `json:"request_id"`
}

// HandleEvents handles POST /v1/events.
func (h *Handler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.New().String()

	r.Body = http.MaxBytesReader(w, r.Body, int64(h.maxPayload))

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			respondError(w, http.StatusRequestEntityTooLarge, "payload too large", requestID)
			return
		}
		respondError(w, http.StatusBadRequest, "failed to read request body", requestID)
		return
	}

	var req IngestRequest
	if err := json.Unmarshal(body, &req); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err), requestID)
		return
	}

	if req.Provider == "" {
		respondError(w, http.StatusBadRequest, "provider is required", requestID)
		return
	}

	if len(req.Records) == 0 {
		respondError(w, http.StatusBadRequest, "no records provided", requestID)
		return
	}

	if len(req.Records) > h.maxBatch {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("batch size exceeds maximum of %d", h.maxBatch), requestID)
		return
	}

	var accepted, rejected, overloaded int
	var errs []string

	for i, raw := range req.Records {
		event, err := Normalize(req.Provider, raw)
		if err != nil {
			rejected++
			errs = append(errs, fmt.Sprintf("record[%d]: %s", i, err.Error()))
			continue
		}

		if err := h.validator.Validate(event); err != nil {
			rejected++
			errs = append(errs, fmt.Sprintf("record[%d]: %s", i, err.Error()))
			continue
		}

		if err := h.queue.Push(event); err != nil {
			rejected++
			if errors.Is(err, queue.ErrQueueFull) {
				overloaded++
				errs = append(errs, fmt.Sprintf("record[%d]: queue full", i))
			} else {
				errs = append(errs, fmt.Sprintf("record[%d]: %s", i, err.Error()))
			}
			continue
		}

		accepted++
		h.eventsTotal.Add(1)
	}

	resp := IngestResponse{
		Success:   rejected == 0,
		Accepted:  accepted,
		Rejected:  rejected,
		RequestID: requestID,
	}
	if len(errs) > 0 {
		resp.Errors = errs
	}

	status := http.StatusOK
	switch {
	case accepted == 0 && overloaded > 0:
		// Nothing fit in the queue. Tell the client to back off and retry.
		status = http.StatusServiceUnavailable
		w.Header().Set("Retry-After", "5")
	case accepted == 0 && rejected > 0:
		status = http.StatusBadRequest
	case rejected > 0:
		status = http.StatusMultiStatus
	}

	respondJSON(w, status, resp)
}

// HealthCheck handles GET /health.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	metrics := h.queue.Metrics()

	status := "healthy"
	if metrics.Depth > int(float64(metrics.Capacity)*0.9) {
		status = "degraded"
	}

	resp := map[string]any{
		"status":         status,
		"queue_depth":    metrics.Depth,
		"queue_capacity": metrics.Capacity,
		"uptime_seconds": int(time.Since(h.startTime).Seconds()),
	}

	respondJSON(w, http.StatusOK, resp)
}

// Metrics handles GET /metrics (Prometheus format).
func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	metrics := h.queue.Metrics()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	fmt.Fprintf(w, "# HELP sentinel_events_total Total number of events ingested\n")
	fmt.Fprintf(w, "# TYPE sentinel_events_total counter\n")
	fmt.Fprintf(w, "sentinel_events_total %d\n\n", h.eventsTotal.Load())

	fmt.Fprintf(w, "# HELP sentinel_queue_pushed_total Total events pushed to queue\n")
	fmt.Fprintf(w, "# TYPE sentinel_queue_pushed_total counter\n")
	fmt.Fprintf(w, "sentinel_queue_pushed_total %d\n\n", metrics.Pushed)

	fmt.Fprintf(w, "# HELP sentinel_queue_popped_total Total events popped from queue\n")
	fmt.Fprintf(w, "# TYPE sentinel_queue_popped_total counter\n")
	fmt.Fprintf(w, "sentinel_queue_popped_total %d\n\n", metrics.Popped)

	fmt.Fprintf(w, "# HELP sentinel_queue_dropped_total Total events dropped due to full queue\n")
	fmt.Fprintf(w, "# TYPE sentinel_queue_dropped_total counter\n")
	fmt.Fprintf(w, "sentinel_queue_dropped_total %d\n\n", metrics.Dropped)

	fmt.Fprintf(w, "# HELP sentinel_queue_depth Current queue depth\n")
	fmt.Fprintf(w, "# TYPE sentinel_queue_depth gauge\n")
	fmt.Fprintf(w, "sentinel_queue_depth %d\n\n", metrics.Depth)

	fmt.Fprintf(w, "# HELP sentinel_queue_capacity Queue capacity\n")
	fmt.Fprintf(w, "# TYPE sentinel_queue_capacity gauge\n")
	fmt.Fprintf(w, "sentinel_queue_capacity %d\n\n", metrics.Capacity)

	fmt.Fprintf(w, "# HELP sentinel_uptime_seconds Uptime in seconds\n")
	fmt.Fprintf(w, "# TYPE sentinel_uptime_seconds gauge\n")
	fmt.Fprintf(w, "sentinel_uptime_seconds %d\n", int(time.Since(h.startTime).Seconds()))
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, requestID string) {
	resp := map[string]any{
		"success":    false,
		"error":      message,
		"request_id": requestID,
	}
	respondJSON(w, status, resp)
}
