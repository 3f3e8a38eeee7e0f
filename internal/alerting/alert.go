// Package alerting provides alert lifecycle management and notification
// delivery for detected threats.
package alerting

import (
	"time"

	"github.com/google/uuid"

	"cloudsentinel/internal/intel"
	"cloudsentinel/internal/schema"
	"cloudsentinel/internal/scoring"
)

// AlertStatus represents the lifecycle state of an alert.
type AlertStatus string

const (
	StatusOpen          AlertStatus = "open"
	StatusInvestigating AlertStatus = "investigating"
	StatusResolved      AlertStatus = "resolved"
	StatusFalsePositive AlertStatus = "false_positive"
)

// ValidStatus reports whether s is a known alert status.
func ValidStatus(s AlertStatus) bool {
	switch s {
	case StatusOpen, StatusInvestigating, StatusResolved, StatusFalsePositive:
		return true
	}
	return false
}

// Terminal reports whether the status closes the alert.
func (s AlertStatus) Terminal() bool {
	return s == StatusResolved || s == StatusFalsePositive
}

// Alert represents a detected threat raised by the pipeline.
type Alert struct {
	AlertID           uuid.UUID        `json:"alert_id"`
	SourceEventID     uuid.UUID        `json:"source_event_id"`
	Severity          scoring.Severity `json:"severity"`
	Category          scoring.Category `json:"category"`
	Title             string           `json:"title"`
	Description       string           `json:"description"`
	ThreatScore       float64          `json:"threat_score"`
	Confidence        float64          `json:"confidence"`
	Indicators        intel.Indicators `json:"indicators"`
	MITRETactics      []string         `json:"mitre_tactics,omitempty"`
	IntelSnapshot     *intel.Report    `json:"intel,omitempty"`
	AffectedResources []string         `json:"affected_resources,omitempty"`
	ActorID           string           `json:"actor_id,omitempty"`
	IPAddress         string           `json:"ip_address,omitempty"`
	Geo               *schema.Geo      `json:"geo,omitempty"`
	Status            AlertStatus      `json:"status"`
	AssignedTo        string           `json:"assigned_to,omitempty"`
	ResolutionNotes   string           `json:"resolution_notes,omitempty"`
	DetectedAt        time.Time        `json:"detected_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
	ResolvedAt        *time.Time       `json:"resolved_at,omitempty"`
}

// NewAlert builds an open alert from a scored event.
func NewAlert(ev *schema.Event, category scoring.Category, severity scoring.Severity, threatScore, confidence float64, report intel.Report) *Alert {
	now := time.Now().UTC()
	a := &Alert{
		AlertID:           uuid.New(),
		SourceEventID:     ev.EventID,
		Severity:          severity,
		Category:          category,
		Title:             scoring.Title(category, ev),
		Description:       scoring.Description(ev, confidence),
		ThreatScore:       threatScore,
		Confidence:        confidence,
		Indicators:        scoring.ExtractIndicators(ev),
		AffectedResources: ev.Resources,
		ActorID:           ev.ActorID,
		IPAddress:         ev.IPAddress,
		Geo:               ev.Geo,
		Status:            StatusOpen,
		DetectedAt:        now,
		UpdatedAt:         now,
	}
	a.MITRETactics = intel.MITRETactics(a.Indicators)
	if report.Available {
		snapshot := report
		a.IntelSnapshot = &snapshot
	}
	return a
}

// Feedback is an analyst verdict on a resolved or reviewed alert.
type Feedback struct {
	FeedbackID   uuid.UUID `json:"feedback_id"`
	AlertID      uuid.UUID `json:"alert_id"`
	AnalystID    string    `json:"analyst_id"`
	TruePositive bool      `json:"true_positive"`
	Notes        string    `json:"notes,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// AlertFilter selects alerts for listing.
type AlertFilter struct {
	Status   *AlertStatus
	Severity *scoring.Severity
	Category *scoring.Category
	ActorID  string
	Since    *time.Time
	Until    *time.Time
	Limit    int
	Offset   int
}

// Matches reports whether the alert passes the filter.
func (f *AlertFilter) Matches(a *Alert) bool {
	if f.Status != nil && a.Status != *f.Status {
		return false
	}
	if f.Severity != nil && a.Severity != *f.Severity {
		return false
	}
	if f.Category != nil && a.Category != *f.Category {
		return false
	}
	if f.ActorID != "" && a.ActorID != f.ActorID {
		return false
	}
	if f.Since != nil && a.DetectedAt.Before(*f.Since) {
		return false
	}
	if f.Until != nil && a.DetectedAt.After(*f.Until) {
		return false
	}
	return true
}
