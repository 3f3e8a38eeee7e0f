package scoring

import (
	"fmt"
	"strings"
	"time"

	"cloudsentinel/internal/intel"
	"cloudsentinel/internal/schema"
)

// Title generates a descriptive alert title for a categorized event.
func Title(category Category, ev *schema.Event) string {
	switch category {
	case CategorySuspiciousLogin:
		return fmt.Sprintf("Suspicious login attempt from %s", orUnknown(ev.IPAddress, "unknown IP"))
	case CategoryAccountTakeover:
		return fmt.Sprintf("Potential account takeover for user %s", orUnknown(ev.ActorID, "unknown"))
	case CategoryPrivilegeEscalation:
		return "Privilege escalation attempt detected"
	case CategoryDataExfiltration:
		return "Potential data exfiltration detected"
	case CategoryMaliciousIP:
		return fmt.Sprintf("Activity from malicious IP %s", orUnknown(ev.IPAddress, "unknown"))
	default:
		return "Unusual activity pattern detected"
	}
}

// Description generates the alert body from the event and anomaly score.
func Description(ev *schema.Event, anomalyScore float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Anomalous activity detected with confidence score of %.2f.\n\n", anomalyScore)
	fmt.Fprintf(&b, "Event: %s\n", orUnknown(ev.EventType, "unknown"))
	fmt.Fprintf(&b, "User: %s\n", orUnknown(ev.ActorID, "unknown"))
	fmt.Fprintf(&b, "Source IP: %s\n", orUnknown(ev.IPAddress, "unknown"))
	fmt.Fprintf(&b, "Time: %s\n", ev.Timestamp.UTC().Format(time.RFC3339))

	if ev.Geo != nil {
		fmt.Fprintf(&b, "Location: %s, %s\n",
			orUnknown(ev.Geo.City, "unknown"),
			orUnknown(ev.Geo.Country, "unknown"),
		)
	}

	return b.String()
}

// ExtractIndicators pulls the compromise indicators from an event.
func ExtractIndicators(ev *schema.Event) intel.Indicators {
	lower := strings.ToLower(ev.EventType)
	return intel.Indicators{
		EventType:           ev.EventType,
		IPAddress:           ev.IPAddress,
		UserAgent:           ev.UserAgent,
		FailedLogin:         ev.Status == schema.StatusFailed,
		UnusualTime:         unusualTime(ev.Timestamp),
		PrivilegeEscalation: strings.Contains(lower, "privilege") || strings.Contains(lower, "admin"),
		DataExfiltration:    strings.Contains(lower, "download") || strings.Contains(lower, "export"),
	}
}

// unusualTime reports activity outside 9-18 weekday business hours.
func unusualTime(t time.Time) bool {
	if t.IsZero() {
		return false
	}
	businessHours := t.Hour() >= 9 && t.Hour() <= 18
	weekday := t.Weekday() != time.Saturday && t.Weekday() != time.Sunday
	return !(businessHours && weekday)
}

func orUnknown(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
