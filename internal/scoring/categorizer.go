package scoring

import (
	"strings"

	"cloudsentinel/internal/intel"
	"cloudsentinel/internal/schema"
)

// Category is a label from the fixed threat taxonomy.
type Category string

const (
	CategorySuspiciousLogin     Category = "suspicious_login"
	CategoryAccountTakeover     Category = "account_takeover"
	CategoryPrivilegeEscalation Category = "privilege_escalation"
	CategoryDataExfiltration    Category = "data_exfiltration"
	CategoryMaliciousIP         Category = "malicious_ip"
	CategoryUnusualActivity     Category = "unusual_activity"
)

// categoryRule is one row of the categorization table.
type categoryRule struct {
	category Category
	match    func(ev *schema.Event, anomalyScore float64, report intel.Report) bool
}

// categoryRules is evaluated in order, first match wins. The order is
// deliberate precedence, not cosmetics: identity-compromise signals
// outrank generic exfiltration signals, and the intelligence verdict is
// the weakest specific signal before the fallback. Do not reorder.
var categoryRules = []categoryRule{
	{
		category: CategorySuspiciousLogin,
		match: func(ev *schema.Event, anomalyScore float64, _ intel.Report) bool {
			return strings.Contains(strings.ToLower(ev.EventType), "login") && anomalyScore > 0.7
		},
	},
	{
		category: CategoryAccountTakeover,
		match: func(ev *schema.Event, _ float64, _ intel.Report) bool {
			return ev.CountryChanged()
		},
	},
	{
		category: CategoryPrivilegeEscalation,
		match: func(ev *schema.Event, _ float64, _ intel.Report) bool {
			lower := strings.ToLower(ev.EventType)
			return strings.Contains(lower, "privilege") || strings.Contains(lower, "admin")
		},
	},
	{
		category: CategoryDataExfiltration,
		match: func(ev *schema.Event, _ float64, _ intel.Report) bool {
			lower := strings.ToLower(ev.EventType)
			return strings.Contains(lower, "download") || strings.Contains(lower, "export")
		},
	},
	{
		category: CategoryMaliciousIP,
		match: func(_ *schema.Event, _ float64, report intel.Report) bool {
			return report.Available && report.IsMaliciousIP
		},
	},
}

// Categorize classifies an event into the threat taxonomy.
func Categorize(ev *schema.Event, anomalyScore float64, report intel.Report) Category {
	for _, rule := range categoryRules {
		if rule.match(ev, anomalyScore, report) {
			return rule.category
		}
	}
	return CategoryUnusualActivity
}

// Categories returns the taxonomy in rule precedence order, fallback last.
func Categories() []Category {
	out := make([]Category, 0, len(categoryRules)+1)
	for _, rule := range categoryRules {
		out = append(out, rule.category)
	}
	return append(out, CategoryUnusualActivity)
}
