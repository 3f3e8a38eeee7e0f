package schema

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Normalizers convert raw provider audit records into canonical events.
// Field lookups are best effort: a record missing optional fields still
// normalizes, with the gaps left zero-valued for downstream stages.

// FromCloudTrail converts a raw AWS CloudTrail record.
func FromCloudTrail(raw map[string]any) (*Event, error) {
	eventName := str(raw, "eventName")
	if eventName == "" {
		return nil, fmt.Errorf("cloudtrail record missing eventName")
	}

	ev := &Event{
		EventID:       parseOrNewID(str(raw, "eventID")),
		Provider:      "AWS",
		Service:       "CloudTrail",
		EventType:     eventName,
		EventName:     eventName,
		IPAddress:     str(raw, "sourceIPAddress"),
		UserAgent:     str(raw, "userAgent"),
		Timestamp:     parseTime(str(raw, "eventTime")),
		Status:        outcomeFromError(raw),
		Payload:       raw,
		SchemaVersion: SchemaVersionCurrent,
		ReceivedAt:    time.Now().UTC(),
	}

	if identity, ok := raw["userIdentity"].(map[string]any); ok {
		ev.ActorID = str(identity, "principalId")
	}
	if resources, ok := raw["resources"].([]any); ok {
		for _, r := range resources {
			if rm, ok := r.(map[string]any); ok {
				if arn := str(rm, "ARN"); arn != "" {
					ev.Resources = append(ev.Resources, arn)
				}
			}
		}
	}

	return ev, nil
}

// FromAzureMonitor converts a raw Azure Monitor activity log record.
func FromAzureMonitor(raw map[string]any) (*Event, error) {
	opName := str(raw, "operationName")
	if opName == "" {
		return nil, fmt.Errorf("azure record missing operationName")
	}

	ev := &Event{
		EventID:       parseOrNewID(str(raw, "operationId")),
		Provider:      "Azure",
		Service:       "Monitor",
		EventType:     opName,
		EventName:     opName,
		ActorID:       str(raw, "caller"),
		Timestamp:     parseTime(str(raw, "eventTimestamp")),
		Status:        outcomeFromStatus(str(raw, "status")),
		Payload:       raw,
		SchemaVersion: SchemaVersionCurrent,
		ReceivedAt:    time.Now().UTC(),
	}

	if req, ok := raw["httpRequest"].(map[string]any); ok {
		ev.IPAddress = str(req, "clientIpAddress")
	}

	return ev, nil
}

// FromGCPLogging converts a raw GCP Cloud Logging audit record.
func FromGCPLogging(raw map[string]any) (*Event, error) {
	payload, _ := raw["protoPayload"].(map[string]any)
	methodName := str(payload, "methodName")
	if methodName == "" {
		return nil, fmt.Errorf("gcp record missing protoPayload.methodName")
	}

	ev := &Event{
		EventID:       parseOrNewID(str(raw, "insertId")),
		Provider:      "GCP",
		Service:       "CloudLogging",
		EventType:     methodName,
		EventName:     methodName,
		Timestamp:     parseTime(str(raw, "timestamp")),
		Status:        StatusUnknown,
		Payload:       raw,
		SchemaVersion: SchemaVersionCurrent,
		ReceivedAt:    time.Now().UTC(),
	}

	if auth, ok := payload["authenticationInfo"].(map[string]any); ok {
		ev.ActorID = str(auth, "principalEmail")
	}
	if meta, ok := payload["requestMetadata"].(map[string]any); ok {
		ev.IPAddress = str(meta, "callerIp")
	}
	if status, ok := payload["status"].(map[string]any); ok {
		if code, ok := status["code"].(float64); ok {
			if code == 0 {
				ev.Status = StatusSuccess
			} else {
				ev.Status = StatusFailed
			}
		}
	}

	return ev, nil
}

func str(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// parseOrNewID reuses the provider's record id when it is already a UUID,
// otherwise derives a stable UUID from it so resubmission keeps the same id.
func parseOrNewID(id string) uuid.UUID {
	if id == "" {
		return uuid.New()
	}
	if parsed, err := uuid.Parse(id); err == nil {
		return parsed
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id))
}

func parseTime(raw string) time.Time {
	if raw == "" {
		return time.Now().UTC()
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05Z"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC()
		}
	}
	return time.Now().UTC()
}

func outcomeFromError(raw map[string]any) Status {
	if _, ok := raw["errorCode"]; ok {
		return StatusFailed
	}
	return StatusSuccess
}

func outcomeFromStatus(status string) Status {
	switch status {
	case "Succeeded", "succeeded", "success":
		return StatusSuccess
	case "Failed", "failed":
		return StatusFailed
	default:
		return StatusUnknown
	}
}
