// Package intel provides external threat intelligence lookups with a
// Redis-backed cache and graceful degradation: a lookup failure yields an
// explicit unavailable report, never an error that blocks detection.
package intel

import "time"

// Report is the merged result of screening one IP across providers.
// Available is false when every provider failed or timed out; callers
// treat that as "no intelligence", not as a clean result.
type Report struct {
	IPAddress          string    `json:"ip_address"`
	Available          bool      `json:"available"`
	IsMaliciousIP      bool      `json:"is_malicious_ip"`
	IsKnownThreatActor bool      `json:"is_known_threat_actor"`
	Sources            []Source  `json:"sources,omitempty"`
	CheckedAt          time.Time `json:"checked_at"`
}

// Source is one provider's raw verdict contributing to a report.
type Source struct {
	Name            string         `json:"name"`
	MaliciousCount  int            `json:"malicious_count,omitempty"`
	SuspiciousCount int            `json:"suspicious_count,omitempty"`
	TotalEngines    int            `json:"total_engines,omitempty"`
	Details         map[string]any `json:"details,omitempty"`
}

// Unavailable returns the degraded report for an IP.
func Unavailable(ip string) Report {
	return Report{
		IPAddress: ip,
		Available: false,
		CheckedAt: time.Now().UTC(),
	}
}

// Indicators are the compromise signals extracted from an event, used for
// MITRE tactic mapping and carried on alerts.
type Indicators struct {
	EventType           string `json:"event_type,omitempty"`
	IPAddress           string `json:"ip_address,omitempty"`
	UserAgent           string `json:"user_agent,omitempty"`
	FailedLogin         bool   `json:"failed_login"`
	UnusualTime         bool   `json:"unusual_time"`
	PrivilegeEscalation bool   `json:"privilege_escalation"`
	DataExfiltration    bool   `json:"data_exfiltration"`
}

// MITRETactics maps indicators to MITRE ATT&CK technique references.
func MITRETactics(ind Indicators) []string {
	var tactics []string
	if ind.FailedLogin {
		tactics = append(tactics, "T1110 - Brute Force")
	}
	if ind.PrivilegeEscalation {
		tactics = append(tactics, "T1068 - Exploitation for Privilege Escalation")
	}
	if ind.UnusualTime {
		tactics = append(tactics, "T1078 - Valid Accounts")
	}
	if ind.DataExfiltration {
		tactics = append(tactics, "T1041 - Exfiltration Over C2 Channel")
	}
	return tactics
}
