// Package schema defines the canonical cloud audit event for CloudSentinel.
// All ingested provider records are normalized to this structure before
// detection and storage.
package schema

import (
	"time"

	"github.com/google/uuid"
)

// Event represents one normalized cloud audit record.
// Events are immutable once ingested; downstream stages only read them.
type Event struct {
	// Required fields
	EventID   uuid.UUID `json:"event_id" validate:"required"`
	Provider  string    `json:"provider" validate:"required,max=64"`
	Service   string    `json:"service" validate:"required,max=128"`
	EventType string    `json:"event_type" validate:"required,event_type_format,max=256"`
	Timestamp time.Time `json:"timestamp" validate:"required"`
	Status    Status    `json:"status" validate:"required,oneof=success failed unknown"`

	// Optional fields
	EventName string         `json:"event_name,omitempty" validate:"max=256"`
	ActorID   string         `json:"actor_id,omitempty" validate:"max=256"`
	IPAddress string         `json:"ip_address,omitempty" validate:"omitempty,ip"`
	UserAgent string         `json:"user_agent,omitempty" validate:"max=1024"`
	Geo       *Geo           `json:"geo,omitempty"`
	Resources []string       `json:"resources,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`

	// Internal fields (set by system)
	SchemaVersion string    `json:"schema_version"`
	ReceivedAt    time.Time `json:"received_at"`
}

// Geo carries geolocation enrichment for an event.
type Geo struct {
	Country string `json:"country,omitempty" validate:"max=64"`
	City    string `json:"city,omitempty" validate:"max=128"`

	// CountryChange is set by the enrichment layer when the source country
	// differs from the actor's recent baseline.
	CountryChange bool `json:"country_change,omitempty"`
}

// Status represents the outcome of the recorded activity.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusUnknown Status = "unknown"
)

// IsValid checks if the status is a valid value.
func (s Status) IsValid() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusUnknown:
		return true
	}
	return false
}

// Country returns the event's country code, or "" when no geo data exists.
func (e *Event) Country() string {
	if e.Geo == nil {
		return ""
	}
	return e.Geo.Country
}

// CountryChanged reports whether enrichment flagged a country change.
func (e *Event) CountryChanged() bool {
	return e.Geo != nil && e.Geo.CountryChange
}

// SchemaVersionCurrent is the current version of the event schema.
const SchemaVersionCurrent = "1.0.0"
