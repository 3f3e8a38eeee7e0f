package schema

import (
	"testing"
)

func TestFromCloudTrail(t *testing.T) {
	raw := map[string]any{
		"eventID":         "f3c1a2b4-0000-4000-8000-000000000001",
		"eventName":       "DeleteBucket",
		"eventTime":       "2026-03-01T12:30:00Z",
		"sourceIPAddress": "198.51.100.7",
		"userAgent":       "aws-cli/2.15",
		"userIdentity":    map[string]any{"principalId": "AIDAEXAMPLE"},
		"resources": []any{
			map[string]any{"ARN": "arn:aws:s3:::prod-backups"},
		},
	}

	ev, err := FromCloudTrail(raw)
	if err != nil {
		t.Fatalf("FromCloudTrail() error: %v", err)
	}

	if ev.Provider != "AWS" || ev.Service != "CloudTrail" {
		t.Errorf("unexpected provider/service: %s/%s", ev.Provider, ev.Service)
	}
	if ev.EventType != "DeleteBucket" {
		t.Errorf("event type = %q, want DeleteBucket", ev.EventType)
	}
	if ev.ActorID != "AIDAEXAMPLE" {
		t.Errorf("actor = %q, want AIDAEXAMPLE", ev.ActorID)
	}
	if ev.IPAddress != "198.51.100.7" {
		t.Errorf("ip = %q", ev.IPAddress)
	}
	if len(ev.Resources) != 1 || ev.Resources[0] != "arn:aws:s3:::prod-backups" {
		t.Errorf("resources = %v", ev.Resources)
	}
	if ev.Status != StatusSuccess {
		t.Errorf("status = %q, want success", ev.Status)
	}
	if ev.EventID.String() != "f3c1a2b4-0000-4000-8000-000000000001" {
		t.Errorf("event id not preserved: %s", ev.EventID)
	}
}

func TestFromCloudTrail_ErrorCodeMeansFailed(t *testing.T) {
	raw := map[string]any{
		"eventName": "ConsoleLogin",
		"errorCode": "AccessDenied",
	}
	ev, err := FromCloudTrail(raw)
	if err != nil {
		t.Fatalf("FromCloudTrail() error: %v", err)
	}
	if ev.Status != StatusFailed {
		t.Errorf("status = %q, want failed", ev.Status)
	}
}

func TestFromCloudTrail_MissingEventName(t *testing.T) {
	if _, err := FromCloudTrail(map[string]any{"eventID": "x"}); err == nil {
		t.Error("expected error for missing eventName")
	}
}

func TestFromAzureMonitor(t *testing.T) {
	raw := map[string]any{
		"operationId":    "op-123",
		"operationName":  "Microsoft.Compute/virtualMachines/delete",
		"caller":         "alice@example.com",
		"eventTimestamp": "2026-03-01T08:00:00Z",
		"status":         "Succeeded",
		"httpRequest":    map[string]any{"clientIpAddress": "203.0.113.99"},
	}

	ev, err := FromAzureMonitor(raw)
	if err != nil {
		t.Fatalf("FromAzureMonitor() error: %v", err)
	}
	if ev.Provider != "Azure" {
		t.Errorf("provider = %q", ev.Provider)
	}
	if ev.ActorID != "alice@example.com" {
		t.Errorf("actor = %q", ev.ActorID)
	}
	if ev.IPAddress != "203.0.113.99" {
		t.Errorf("ip = %q", ev.IPAddress)
	}
	if ev.Status != StatusSuccess {
		t.Errorf("status = %q", ev.Status)
	}
}

func TestFromGCPLogging(t *testing.T) {
	raw := map[string]any{
		"insertId":  "gcp-1",
		"timestamp": "2026-03-01T09:15:00Z",
		"protoPayload": map[string]any{
			"methodName":         "google.iam.admin.v1.CreateServiceAccountKey",
			"authenticationInfo": map[string]any{"principalEmail": "svc@proj.iam.gserviceaccount.com"},
			"requestMetadata":    map[string]any{"callerIp": "192.0.2.44"},
			"status":             map[string]any{"code": float64(7)},
		},
	}

	ev, err := FromGCPLogging(raw)
	if err != nil {
		t.Fatalf("FromGCPLogging() error: %v", err)
	}
	if ev.EventType != "google.iam.admin.v1.CreateServiceAccountKey" {
		t.Errorf("event type = %q", ev.EventType)
	}
	if ev.ActorID != "svc@proj.iam.gserviceaccount.com" {
		t.Errorf("actor = %q", ev.ActorID)
	}
	if ev.Status != StatusFailed {
		t.Errorf("status = %q, want failed for non-zero code", ev.Status)
	}
}

func TestParseOrNewID_Stable(t *testing.T) {
	a := parseOrNewID("cloudtrail-event-7")
	b := parseOrNewID("cloudtrail-event-7")
	if a != b {
		t.Errorf("derived ids differ for identical input: %s vs %s", a, b)
	}
}
