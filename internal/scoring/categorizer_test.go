package scoring

import (
	"testing"
	"time"

	"cloudsentinel/internal/intel"
	"cloudsentinel/internal/schema"
)

func TestCategorize(t *testing.T) {
	tests := []struct {
		name         string
		event        *schema.Event
		anomalyScore float64
		report       intel.Report
		want         Category
	}{
		{
			name:         "anomalous login",
			event:        &schema.Event{EventType: "ConsoleLogin"},
			anomalyScore: 0.75,
			want:         CategorySuspiciousLogin,
		},
		{
			name:         "login below score threshold falls through",
			event:        &schema.Event{EventType: "ConsoleLogin"},
			anomalyScore: 0.7,
			want:         CategoryUnusualActivity,
		},
		{
			name:  "country change",
			event: &schema.Event{EventType: "GetObject", Geo: &schema.Geo{Country: "RO", CountryChange: true}},
			want:  CategoryAccountTakeover,
		},
		{
			name:  "privilege event",
			event: &schema.Event{EventType: "UpdatePrivilegePolicy"},
			want:  CategoryPrivilegeEscalation,
		},
		{
			name:  "admin event",
			event: &schema.Event{EventType: "AdminCreateUser"},
			want:  CategoryPrivilegeEscalation,
		},
		{
			name:  "export event",
			event: &schema.Event{EventType: "ExportSnapshot"},
			want:  CategoryDataExfiltration,
		},
		{
			name:   "malicious ip",
			event:  &schema.Event{EventType: "GetObject"},
			report: available(true, false),
			want:   CategoryMaliciousIP,
		},
		{
			name:   "unavailable intel does not classify malicious",
			event:  &schema.Event{EventType: "GetObject"},
			report: intel.Report{IsMaliciousIP: true},
			want:   CategoryUnusualActivity,
		},
		{
			name:  "fallback",
			event: &schema.Event{EventType: "DescribeInstances"},
			want:  CategoryUnusualActivity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Categorize(tt.event, tt.anomalyScore, tt.report)
			if got != tt.want {
				t.Errorf("Categorize() = %q, want %q", got, tt.want)
			}
			// Identical inputs always classify identically.
			if again := Categorize(tt.event, tt.anomalyScore, tt.report); again != got {
				t.Errorf("Categorize not idempotent: %q then %q", got, again)
			}
		})
	}
}

// Rule precedence is part of the contract: a takeover signal beats a
// privilege match, and a privilege match beats the intel verdict.
func TestCategorize_Precedence(t *testing.T) {
	ev := &schema.Event{
		EventType: "AdminExportLogin",
		Geo:       &schema.Geo{CountryChange: true},
	}
	report := available(true, false)

	if got := Categorize(ev, 0.9, report); got != CategorySuspiciousLogin {
		t.Errorf("login rule should win: got %q", got)
	}

	ev.EventType = "AdminExport"
	if got := Categorize(ev, 0.9, report); got != CategoryAccountTakeover {
		t.Errorf("country change should win over privilege/export: got %q", got)
	}

	ev.Geo.CountryChange = false
	if got := Categorize(ev, 0.9, report); got != CategoryPrivilegeEscalation {
		t.Errorf("privilege should win over export and intel: got %q", got)
	}

	ev.EventType = "ExportSnapshot"
	if got := Categorize(ev, 0.9, report); got != CategoryDataExfiltration {
		t.Errorf("export should win over intel: got %q", got)
	}
}

func TestCategories_Order(t *testing.T) {
	want := []Category{
		CategorySuspiciousLogin,
		CategoryAccountTakeover,
		CategoryPrivilegeEscalation,
		CategoryDataExfiltration,
		CategoryMaliciousIP,
		CategoryUnusualActivity,
	}
	got := Categories()
	if len(got) != len(want) {
		t.Fatalf("Categories() returned %d entries, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Categories()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestExtractIndicators(t *testing.T) {
	ev := &schema.Event{
		EventType: "AdminDownloadReport",
		IPAddress: "203.0.113.10",
		UserAgent: "curl/8.0",
		Status:    schema.StatusFailed,
		Timestamp: time.Date(2026, 3, 7, 3, 0, 0, 0, time.UTC), // Saturday 3am
	}

	ind := ExtractIndicators(ev)
	if !ind.FailedLogin {
		t.Error("FailedLogin = false for failed event")
	}
	if !ind.UnusualTime {
		t.Error("UnusualTime = false for weekend 3am")
	}
	if !ind.PrivilegeEscalation {
		t.Error("PrivilegeEscalation = false for admin event")
	}
	if !ind.DataExfiltration {
		t.Error("DataExfiltration = false for download event")
	}

	// Tuesday mid-morning success has no indicators beyond identity fields.
	quiet := ExtractIndicators(&schema.Event{
		EventType: "GetObject",
		Status:    schema.StatusSuccess,
		Timestamp: time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC),
	})
	if quiet.FailedLogin || quiet.UnusualTime || quiet.PrivilegeEscalation || quiet.DataExfiltration {
		t.Errorf("unexpected indicators: %+v", quiet)
	}
}
