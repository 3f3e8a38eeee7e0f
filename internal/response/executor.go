package response

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"cloudsentinel/internal/alerting"
)

// ErrUnknownAction is returned when no handler is registered for an
// action type. The attempt is still audited.
var ErrUnknownAction = errors.New("unknown action type")

// RecordStatus is the outcome of a response attempt.
type RecordStatus string

const (
	RecordCompleted RecordStatus = "completed"
	RecordFailed    RecordStatus = "failed"
)

// Record is the audit entry written for every response attempt,
// successful or not.
type Record struct {
	ResponseID uuid.UUID      `json:"response_id"`
	AlertID    uuid.UUID      `json:"alert_id"`
	ActionType ActionType     `json:"action_type"`
	Status     RecordStatus   `json:"status"`
	DryRun     bool           `json:"dry_run"`
	Details    map[string]any `json:"details,omitempty"`
	Error      string         `json:"error,omitempty"`
	ExecutedAt time.Time      `json:"executed_at"`
}

// Handler performs one mitigation action. It returns detail fields for
// the audit record.
type Handler func(ctx context.Context, alert *alerting.Alert) (map[string]any, error)

// Sink persists audit records.
type Sink interface {
	AppendResponse(ctx context.Context, rec *Record) error
}

// ExecutorConfig configures the response executor.
type ExecutorConfig struct {
	DryRun        bool          `yaml:"dry_run"`
	ActionTimeout time.Duration `yaml:"action_timeout"`
}

// DefaultExecutorConfig returns default executor configuration.
// Dry run is on by default so a fresh deployment observes before it
// touches accounts or firewalls.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		DryRun:        true,
		ActionTimeout: 30 * time.Second,
	}
}

// Executor dispatches actions to registered handlers and audits every
// attempt through the sink.
type Executor struct {
	config   ExecutorConfig
	sink     Sink
	mu       sync.RWMutex
	handlers map[ActionType]Handler
}

// NewExecutor creates an executor with the built-in handlers
// registered.
func NewExecutor(config ExecutorConfig, sink Sink) *Executor {
	e := &Executor{
		config:   config,
		sink:     sink,
		handlers: make(map[ActionType]Handler),
	}
	e.Register(ActionDisableAccount, disableAccount)
	e.Register(ActionBlockIP, blockIP)
	e.Register(ActionRevokeAPIKey, revokeAPIKey)
	e.Register(ActionRotateCredentials, rotateCredentials)
	e.Register(ActionCreateIncident, createIncident)
	return e
}

// Register installs or replaces the handler for an action type.
func (e *Executor) Register(action ActionType, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[action] = h
}

// Execute runs one action against an alert. The dryRun argument
// applies to this call only; Respond passes the configured default.
// Exactly one audit record is written per call, whatever the outcome.
// Handler panics are captured as failed attempts rather than taking
// the pipeline down.
func (e *Executor) Execute(ctx context.Context, alert *alerting.Alert, action ActionType, dryRun bool) (*Record, error) {
	rec := &Record{
		ResponseID: uuid.New(),
		AlertID:    alert.AlertID,
		ActionType: action,
		DryRun:     dryRun,
		ExecutedAt: time.Now().UTC(),
	}

	details, err := e.run(ctx, alert, action, dryRun)
	rec.Details = details
	if err != nil {
		rec.Status = RecordFailed
		rec.Error = err.Error()
	} else {
		rec.Status = RecordCompleted
	}

	if sinkErr := e.sink.AppendResponse(ctx, rec); sinkErr != nil {
		slog.Error("failed to audit response",
			"alert_id", alert.AlertID,
			"action", action,
			"error", sinkErr)
		if err == nil {
			err = fmt.Errorf("audit response: %w", sinkErr)
		}
	}

	slog.Info("response executed",
		"alert_id", alert.AlertID,
		"action", action,
		"status", rec.Status,
		"dry_run", rec.DryRun)
	return rec, err
}

func (e *Executor) run(ctx context.Context, alert *alerting.Alert, action ActionType, dryRun bool) (details map[string]any, err error) {
	e.mu.RLock()
	handler, ok := e.handlers[action]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}

	if dryRun {
		return map[string]any{
			"message":    fmt.Sprintf("would execute %s", action),
			"actor_id":   alert.ActorID,
			"ip_address": alert.IPAddress,
		}, nil
	}

	defer func() {
		if r := recover(); r != nil {
			details = nil
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	runCtx := ctx
	if e.config.ActionTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.config.ActionTimeout)
		defer cancel()
	}
	return handler(runCtx, alert)
}

// Respond applies the policy to an alert and executes the chosen
// action. It returns nil when the policy decides no action is needed.
func (e *Executor) Respond(ctx context.Context, alert *alerting.Alert) (*Record, error) {
	action, ok := Decide(alert)
	if !ok {
		slog.Debug("no automated response",
			"alert_id", alert.AlertID,
			"category", alert.Category,
			"severity", alert.Severity)
		return nil, nil
	}
	return e.Execute(ctx, alert, action, e.config.DryRun)
}

// The built-in handlers log intent. Wiring them to the cloud provider
// APIs (IAM, security groups, ticketing) is deployment-specific and
// done through Register.

func disableAccount(ctx context.Context, alert *alerting.Alert) (map[string]any, error) {
	slog.Info("disabling user account", "actor_id", alert.ActorID)
	return map[string]any{
		"actor_id": alert.ActorID,
		"message":  fmt.Sprintf("account %s has been disabled", alert.ActorID),
	}, nil
}

func blockIP(ctx context.Context, alert *alerting.Alert) (map[string]any, error) {
	slog.Info("blocking ip address", "ip_address", alert.IPAddress)
	return map[string]any{
		"ip_address": alert.IPAddress,
		"message":    fmt.Sprintf("ip %s has been blocked", alert.IPAddress),
	}, nil
}

func revokeAPIKey(ctx context.Context, alert *alerting.Alert) (map[string]any, error) {
	slog.Info("revoking api key", "actor_id", alert.ActorID)
	return map[string]any{
		"actor_id": alert.ActorID,
		"message":  "api key has been revoked",
	}, nil
}

func rotateCredentials(ctx context.Context, alert *alerting.Alert) (map[string]any, error) {
	slog.Info("rotating credentials", "actor_id", alert.ActorID)
	return map[string]any{
		"actor_id": alert.ActorID,
		"message":  "credentials have been rotated",
	}, nil
}

func createIncident(ctx context.Context, alert *alerting.Alert) (map[string]any, error) {
	incidentID := fmt.Sprintf("INC-%d", time.Now().UnixNano())
	slog.Info("creating incident",
		"incident_id", incidentID,
		"title", alert.Title,
		"severity", alert.Severity)
	return map[string]any{
		"incident_id": incidentID,
		"summary":     alert.Title,
		"severity":    string(alert.Severity),
		"message":     "incident created",
	}, nil
}
