package storage

import (
	"context"

	"github.com/google/uuid"

	"cloudsentinel/internal/alerting"
	"cloudsentinel/internal/model"
	"cloudsentinel/internal/response"
	"cloudsentinel/internal/schema"
)

// ProcessedEvent is an event together with the scores the pipeline
// assigned to it. AlertID is set when the event raised an alert.
type ProcessedEvent struct {
	Event        *schema.Event
	AnomalyScore float64
	ThreatScore  float64
	IsAnomaly    bool
	AlertID      *uuid.UUID
}

// EventFilter selects processed events for listing.
type EventFilter struct {
	ActorID       string
	EventType     string
	AnomaliesOnly bool
	Limit         int
}

// Store is the full persistence surface of the pipeline. It covers the
// event log, the alert lifecycle, analyst feedback, the response audit
// trail, and model metadata.
type Store interface {
	// AppendEvent persists a processed event that raised no alert.
	AppendEvent(ctx context.Context, pe *ProcessedEvent) error

	// AppendEventWithAlert persists an event and the alert it raised
	// as a pair. The alert is durable before the event references it,
	// so a stored event never points at a missing alert.
	AppendEventWithAlert(ctx context.Context, pe *ProcessedEvent, alert *alerting.Alert) error

	// ListEvents lists processed events, newest first.
	ListEvents(ctx context.Context, filter EventFilter) ([]*ProcessedEvent, error)

	// Alert lifecycle.
	GetAlert(ctx context.Context, id uuid.UUID) (*alerting.Alert, error)
	UpdateAlert(ctx context.Context, alert *alerting.Alert) error
	ListAlerts(ctx context.Context, filter alerting.AlertFilter) ([]*alerting.Alert, error)

	// Analyst feedback.
	AppendFeedback(ctx context.Context, fb *alerting.Feedback) error
	ListFeedback(ctx context.Context, alertID *uuid.UUID) ([]*alerting.Feedback, error)

	// Response audit trail.
	AppendResponse(ctx context.Context, rec *response.Record) error
	ListResponses(ctx context.Context, alertID *uuid.UUID) ([]*response.Record, error)

	// Model metadata.
	model.MetaStore

	Ping(ctx context.Context) error
	Close() error
}

// Stores must satisfy the narrower interfaces the other packages
// consume.
var (
	_ alerting.Store  = Store(nil)
	_ response.Sink   = Store(nil)
	_ model.MetaStore = Store(nil)
)
