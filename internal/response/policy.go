// Package response executes automated mitigation actions for alerts
// and records an audit trail of every attempt.
package response

import (
	"cloudsentinel/internal/alerting"
	"cloudsentinel/internal/scoring"
)

// ActionType identifies a mitigation action.
type ActionType string

const (
	ActionDisableAccount    ActionType = "disable_account"
	ActionBlockIP           ActionType = "block_ip"
	ActionRevokeAPIKey      ActionType = "revoke_api_key"
	ActionRotateCredentials ActionType = "rotate_credentials"
	ActionCreateIncident    ActionType = "create_incident"
)

// autoResponseConfidence is the minimum alert confidence for any
// automated action.
const autoResponseConfidence = 0.8

// policyRules maps alert categories to their automated action, in
// evaluation order. Categories absent here never trigger automatically
// and are left to analysts.
var policyRules = []struct {
	category scoring.Category
	action   ActionType
}{
	{scoring.CategoryAccountTakeover, ActionDisableAccount},
	{scoring.CategoryMaliciousIP, ActionBlockIP},
	{scoring.CategoryDataExfiltration, ActionRevokeAPIKey},
	{scoring.CategoryPrivilegeEscalation, ActionCreateIncident},
}

// Decide returns the automated action for an alert, if any. Automated
// response is limited to critical and high severity alerts whose
// confidence is at least 0.8; everything else requires a human.
func Decide(alert *alerting.Alert) (ActionType, bool) {
	if alert.Severity != scoring.SeverityCritical && alert.Severity != scoring.SeverityHigh {
		return "", false
	}
	if alert.Confidence < autoResponseConfidence {
		return "", false
	}
	for _, rule := range policyRules {
		if alert.Category == rule.category {
			return rule.action, true
		}
	}
	return "", false
}
