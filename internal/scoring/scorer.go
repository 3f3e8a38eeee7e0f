// Package scoring turns anomaly scores into calibrated threat scores,
// severity tiers, and threat categories. Everything in this package is
// deterministic arithmetic over its inputs; identical inputs always yield
// identical outputs.
package scoring

import (
	"strings"

	"cloudsentinel/internal/intel"
)

// Severity is a threat severity tier.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Severity thresholds on the threat score.
const (
	criticalThreshold = 0.8
	highThreshold     = 0.6
	mediumThreshold   = 0.4
)

// eventMultiplier is one row of the event-type weighting table. Multiple
// rows can match one event type; the largest multiplier wins, never the
// product.
type eventMultiplier struct {
	substr     string
	multiplier float64
}

// eventMultipliers weights event families by destructive potential.
var eventMultipliers = []eventMultiplier{
	{"login", 1.0},
	{"access", 1.2},
	{"modify", 1.5},
	{"delete", 1.8},
	{"privilege", 2.0},
	{"admin", 2.0},
}

// Intelligence weighting factors.
const (
	maliciousIPFactor = 1.5
	threatActorFactor = 1.8
)

// Score computes the threat score and severity tier for an event.
// The anomaly score is the base; the event-type multiplier and the
// intelligence factors only ever increase it, and the result is clamped
// to [0,1] after every multiplicative step so compounding signals cannot
// overflow the range.
func Score(anomalyScore float64, eventType string, report intel.Report) (float64, Severity) {
	score := clamp(anomalyScore)

	lower := strings.ToLower(eventType)
	multiplier := 1.0
	for _, em := range eventMultipliers {
		if strings.Contains(lower, em.substr) && em.multiplier > multiplier {
			multiplier = em.multiplier
		}
	}
	score = clamp(score * multiplier)

	if report.Available {
		if report.IsMaliciousIP {
			score = clamp(score * maliciousIPFactor)
		}
		if report.IsKnownThreatActor {
			score = clamp(score * threatActorFactor)
		}
	}

	return score, SeverityFor(score)
}

// SeverityFor classifies a threat score into its severity tier.
func SeverityFor(score float64) Severity {
	switch {
	case score >= criticalThreshold:
		return SeverityCritical
	case score >= highThreshold:
		return SeverityHigh
	case score >= mediumThreshold:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Notifiable reports whether a severity warrants outbound notification.
func (s Severity) Notifiable() bool {
	return s == SeverityCritical || s == SeverityHigh
}

// IsValid checks if the severity is a valid tier.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return true
	}
	return false
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
