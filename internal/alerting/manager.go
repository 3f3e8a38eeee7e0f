package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"cloudsentinel/internal/scoring"
)

var (
	// ErrAlertNotFound is returned when an alert ID is unknown.
	ErrAlertNotFound = errors.New("alert not found")
	// ErrInvalidStatus is returned for an unrecognized lifecycle status.
	ErrInvalidStatus = errors.New("invalid alert status")
)

// Store is the persistence surface the manager needs.
type Store interface {
	GetAlert(ctx context.Context, id uuid.UUID) (*Alert, error)
	UpdateAlert(ctx context.Context, alert *Alert) error
	ListAlerts(ctx context.Context, filter AlertFilter) ([]*Alert, error)
	AppendFeedback(ctx context.Context, fb *Feedback) error
	ListFeedback(ctx context.Context, alertID *uuid.UUID) ([]*Feedback, error)
}

// NotificationChannel delivers an alert to an external destination.
type NotificationChannel interface {
	Name() string
	Send(ctx context.Context, alert *Alert) error
}

// ManagerConfig configures the alert manager.
type ManagerConfig struct {
	NotifyTimeout time.Duration `yaml:"notify_timeout"`
}

// DefaultManagerConfig returns default manager configuration.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		NotifyTimeout: 10 * time.Second,
	}
}

// Manager owns the alert lifecycle: status transitions, analyst
// feedback, quality metrics, and notification fan-out.
type Manager struct {
	config   ManagerConfig
	store    Store
	channels []NotificationChannel
	mu       sync.RWMutex
}

// NewManager creates a new alert manager backed by store.
func NewManager(config ManagerConfig, store Store) *Manager {
	return &Manager{
		config:   config,
		store:    store,
		channels: make([]NotificationChannel, 0),
	}
}

// AddChannel adds a notification channel.
func (m *Manager) AddChannel(channel NotificationChannel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = append(m.channels, channel)
	slog.Info("added notification channel", "name", channel.Name())
}

// Notify fans the alert out to every channel. Only critical and high
// severity alerts are delivered; lower severities stay queryable in
// storage without paging anyone.
func (m *Manager) Notify(ctx context.Context, alert *Alert) {
	if !alert.Severity.Notifiable() {
		slog.Debug("skipping notification", "alert_id", alert.AlertID, "severity", alert.Severity)
		return
	}

	m.mu.RLock()
	channels := m.channels
	m.mu.RUnlock()

	for _, channel := range channels {
		go func(ch NotificationChannel) {
			sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.config.NotifyTimeout)
			defer cancel()
			if err := ch.Send(sendCtx, alert); err != nil {
				slog.Error("notification failed",
					"channel", ch.Name(),
					"alert_id", alert.AlertID,
					"error", err)
			} else {
				slog.Debug("notification sent",
					"channel", ch.Name(),
					"alert_id", alert.AlertID)
			}
		}(channel)
	}
}

// Get retrieves an alert by ID.
func (m *Manager) Get(ctx context.Context, id uuid.UUID) (*Alert, error) {
	return m.store.GetAlert(ctx, id)
}

// List lists alerts matching the filter, newest first.
func (m *Manager) List(ctx context.Context, filter AlertFilter) ([]*Alert, error) {
	return m.store.ListAlerts(ctx, filter)
}

// StatusUpdate describes an analyst-driven lifecycle change.
type StatusUpdate struct {
	Status     AlertStatus
	AssignedTo string
	Notes      string
}

// UpdateStatus applies a lifecycle transition to an alert. Moving to a
// terminal status stamps ResolvedAt; reopening clears it.
func (m *Manager) UpdateStatus(ctx context.Context, id uuid.UUID, update StatusUpdate) (*Alert, error) {
	if !ValidStatus(update.Status) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, update.Status)
	}

	alert, err := m.store.GetAlert(ctx, id)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	alert.Status = update.Status
	alert.UpdatedAt = now
	if update.AssignedTo != "" {
		alert.AssignedTo = update.AssignedTo
	}
	if update.Notes != "" {
		alert.ResolutionNotes = update.Notes
	}
	if update.Status.Terminal() {
		alert.ResolvedAt = &now
	} else {
		alert.ResolvedAt = nil
	}

	if err := m.store.UpdateAlert(ctx, alert); err != nil {
		return nil, fmt.Errorf("update alert %s: %w", id, err)
	}

	slog.Info("alert status updated",
		"alert_id", id,
		"status", alert.Status,
		"assigned_to", alert.AssignedTo)
	return alert, nil
}

// SubmitFeedback records an analyst verdict. A false-positive verdict
// also closes the alert as false_positive regardless of its current
// status; a true-positive verdict leaves the lifecycle alone.
func (m *Manager) SubmitFeedback(ctx context.Context, alertID uuid.UUID, analystID string, truePositive bool, notes string) (*Feedback, error) {
	alert, err := m.store.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}

	fb := &Feedback{
		FeedbackID:   uuid.New(),
		AlertID:      alertID,
		AnalystID:    analystID,
		TruePositive: truePositive,
		Notes:        notes,
		CreatedAt:    time.Now().UTC(),
	}
	if err := m.store.AppendFeedback(ctx, fb); err != nil {
		return nil, fmt.Errorf("append feedback for %s: %w", alertID, err)
	}

	if !truePositive {
		now := fb.CreatedAt
		alert.Status = StatusFalsePositive
		alert.UpdatedAt = now
		alert.ResolvedAt = &now
		if notes != "" {
			alert.ResolutionNotes = notes
		}
		if err := m.store.UpdateAlert(ctx, alert); err != nil {
			return nil, fmt.Errorf("mark alert %s false positive: %w", alertID, err)
		}
	}

	slog.Info("feedback recorded",
		"alert_id", alertID,
		"analyst", analystID,
		"true_positive", truePositive)
	return fb, nil
}

// Metrics summarizes detection quality from recorded feedback.
type Metrics struct {
	TotalAlerts       int                      `json:"total_alerts"`
	ByStatus          map[AlertStatus]int      `json:"by_status"`
	BySeverity        map[scoring.Severity]int `json:"by_severity"`
	FeedbackCount     int                      `json:"feedback_count"`
	TruePositives     int                      `json:"true_positives"`
	FalsePositives    int                      `json:"false_positives"`
	Precision         float64                  `json:"precision"`
	FalsePositiveRate float64                  `json:"false_positive_rate"`
}

// ComputeMetrics derives precision and false positive rate from the
// feedback recorded so far. Computed on demand, never cached.
func (m *Manager) ComputeMetrics(ctx context.Context) (*Metrics, error) {
	return m.ComputeMetricsSince(ctx, time.Time{})
}

// ComputeMetricsSince is ComputeMetrics restricted to alerts detected
// and feedback recorded after the cutoff. A zero cutoff means all time.
func (m *Manager) ComputeMetricsSince(ctx context.Context, since time.Time) (*Metrics, error) {
	alerts, err := m.store.ListAlerts(ctx, AlertFilter{})
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	feedback, err := m.store.ListFeedback(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("list feedback: %w", err)
	}

	metrics := &Metrics{
		ByStatus:   make(map[AlertStatus]int),
		BySeverity: make(map[scoring.Severity]int),
	}
	for _, a := range alerts {
		if !since.IsZero() && a.DetectedAt.Before(since) {
			continue
		}
		metrics.TotalAlerts++
		metrics.ByStatus[a.Status]++
		metrics.BySeverity[a.Severity]++
	}

	for _, fb := range feedback {
		if !since.IsZero() && fb.CreatedAt.Before(since) {
			continue
		}
		metrics.FeedbackCount++
		if fb.TruePositive {
			metrics.TruePositives++
		} else {
			metrics.FalsePositives++
		}
	}
	if metrics.FeedbackCount > 0 {
		metrics.Precision = float64(metrics.TruePositives) / float64(metrics.FeedbackCount)
		metrics.FalsePositiveRate = float64(metrics.FalsePositives) / float64(metrics.FeedbackCount)
	}

	return metrics, nil
}
