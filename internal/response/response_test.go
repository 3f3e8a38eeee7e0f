package response

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"cloudsentinel/internal/alerting"
	"cloudsentinel/internal/scoring"
)

type memSink struct {
	mu      sync.Mutex
	records []*Record
	err     error
}

func (s *memSink) AppendResponse(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, rec)
	return nil
}

func (s *memSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func alertWith(category scoring.Category, severity scoring.Severity, confidence float64) *alerting.Alert {
	return &alerting.Alert{
		AlertID:    uuid.New(),
		Category:   category,
		Severity:   severity,
		Confidence: confidence,
		ActorID:    "alice",
		IPAddress:  "203.0.113.9",
		Title:      "test alert",
		DetectedAt: time.Now().UTC(),
	}
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name       string
		category   scoring.Category
		severity   scoring.Severity
		confidence float64
		wantAction ActionType
		wantOK     bool
	}{
		{"account takeover critical", scoring.CategoryAccountTakeover, scoring.SeverityCritical, 0.9, ActionDisableAccount, true},
		{"malicious ip high", scoring.CategoryMaliciousIP, scoring.SeverityHigh, 0.85, ActionBlockIP, true},
		{"exfiltration high", scoring.CategoryDataExfiltration, scoring.SeverityHigh, 0.8, ActionRevokeAPIKey, true},
		{"privilege escalation critical", scoring.CategoryPrivilegeEscalation, scoring.SeverityCritical, 0.8, ActionCreateIncident, true},
		{"confidence exactly at gate", scoring.CategoryMaliciousIP, scoring.SeverityCritical, 0.8, ActionBlockIP, true},
		{"confidence below gate", scoring.CategoryAccountTakeover, scoring.SeverityCritical, 0.79, "", false},
		{"medium severity blocked", scoring.CategoryAccountTakeover, scoring.SeverityMedium, 0.95, "", false},
		{"low severity blocked", scoring.CategoryMaliciousIP, scoring.SeverityLow, 0.95, "", false},
		{"suspicious login never automated", scoring.CategorySuspiciousLogin, scoring.SeverityCritical, 0.95, "", false},
		{"unusual activity never automated", scoring.CategoryUnusualActivity, scoring.SeverityCritical, 0.95, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			action, ok := Decide(alertWith(tt.category, tt.severity, tt.confidence))
			if ok != tt.wantOK {
				t.Fatalf("Decide() ok = %v, want %v", ok, tt.wantOK)
			}
			if action != tt.wantAction {
				t.Errorf("Decide() action = %q, want %q", action, tt.wantAction)
			}
		})
	}
}

func TestExecutor_Execute_DryRun(t *testing.T) {
	sink := &memSink{}
	exec := NewExecutor(DefaultExecutorConfig(), sink)
	alert := alertWith(scoring.CategoryMaliciousIP, scoring.SeverityCritical, 0.9)

	rec, err := exec.Execute(context.Background(), alert, ActionBlockIP, true)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !rec.DryRun {
		t.Error("record should be marked dry run")
	}
	if rec.Status != RecordCompleted {
		t.Errorf("Status = %q, want %q", rec.Status, RecordCompleted)
	}
	if sink.count() != 1 {
		t.Errorf("audit records = %d, want 1", sink.count())
	}
}

func TestExecutor_Execute_Live(t *testing.T) {
	sink := &memSink{}
	cfg := ExecutorConfig{DryRun: false, ActionTimeout: time.Second}
	exec := NewExecutor(cfg, sink)
	alert := alertWith(scoring.CategoryAccountTakeover, scoring.SeverityCritical, 0.9)

	rec, err := exec.Execute(context.Background(), alert, ActionDisableAccount, false)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if rec.DryRun {
		t.Error("DryRun should be false")
	}
	if rec.Details["actor_id"] != "alice" {
		t.Errorf("Details = %v", rec.Details)
	}
}

func TestExecutor_Execute_PerCallDryRun(t *testing.T) {
	sink := &memSink{}
	exec := NewExecutor(ExecutorConfig{DryRun: false, ActionTimeout: time.Second}, sink)
	invoked := false
	exec.Register(ActionBlockIP, func(ctx context.Context, a *alerting.Alert) (map[string]any, error) {
		invoked = true
		return map[string]any{"ip_address": a.IPAddress}, nil
	})
	alert := alertWith(scoring.CategoryMaliciousIP, scoring.SeverityHigh, 0.9)

	// A dry run against a live executor must not reach the handler.
	rec, err := exec.Execute(context.Background(), alert, ActionBlockIP, true)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !rec.DryRun {
		t.Error("record should be marked dry run")
	}
	if invoked {
		t.Error("handler ran during dry run")
	}

	// A live call against the same executor does.
	rec, err = exec.Execute(context.Background(), alert, ActionBlockIP, false)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if rec.DryRun {
		t.Error("DryRun should be false")
	}
	if !invoked {
		t.Error("handler did not run")
	}
	if sink.count() != 2 {
		t.Errorf("audit records = %d, want 2", sink.count())
	}
}

func TestExecutor_Execute_UnknownAction(t *testing.T) {
	sink := &memSink{}
	exec := NewExecutor(ExecutorConfig{DryRun: false}, sink)
	alert := alertWith(scoring.CategoryMaliciousIP, scoring.SeverityHigh, 0.9)

	rec, err := exec.Execute(context.Background(), alert, ActionType("self_destruct"), false)
	if !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("Execute() error = %v, want ErrUnknownAction", err)
	}
	if rec.Status != RecordFailed {
		t.Errorf("Status = %q, want %q", rec.Status, RecordFailed)
	}
	// Failed attempts are audited too.
	if sink.count() != 1 {
		t.Errorf("audit records = %d, want 1", sink.count())
	}
}

func TestExecutor_Execute_HandlerError(t *testing.T) {
	sink := &memSink{}
	exec := NewExecutor(ExecutorConfig{DryRun: false}, sink)
	exec.Register(ActionBlockIP, func(ctx context.Context, a *alerting.Alert) (map[string]any, error) {
		return nil, errors.New("firewall unreachable")
	})
	alert := alertWith(scoring.CategoryMaliciousIP, scoring.SeverityHigh, 0.9)

	rec, err := exec.Execute(context.Background(), alert, ActionBlockIP, false)
	if err == nil {
		t.Fatal("expected handler error")
	}
	if rec.Status != RecordFailed || rec.Error == "" {
		t.Errorf("record = %+v", rec)
	}
	if sink.count() != 1 {
		t.Errorf("audit records = %d, want 1", sink.count())
	}
}

func TestExecutor_Execute_HandlerPanic(t *testing.T) {
	sink := &memSink{}
	exec := NewExecutor(ExecutorConfig{DryRun: false}, sink)
	exec.Register(ActionRotateCredentials, func(ctx context.Context, a *alerting.Alert) (map[string]any, error) {
		panic("boom")
	})
	alert := alertWith(scoring.CategoryAccountTakeover, scoring.SeverityCritical, 0.9)

	rec, err := exec.Execute(context.Background(), alert, ActionRotateCredentials, false)
	if err == nil {
		t.Fatal("expected error from panicking handler")
	}
	if rec.Status != RecordFailed {
		t.Errorf("Status = %q, want %q", rec.Status, RecordFailed)
	}
	if sink.count() != 1 {
		t.Errorf("audit records = %d, want 1", sink.count())
	}
}

func TestExecutor_Respond(t *testing.T) {
	sink := &memSink{}
	exec := NewExecutor(DefaultExecutorConfig(), sink)
	ctx := context.Background()

	// Policy miss executes nothing and audits nothing.
	rec, err := exec.Respond(ctx, alertWith(scoring.CategorySuspiciousLogin, scoring.SeverityCritical, 0.95))
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if rec != nil {
		t.Errorf("expected no record, got %+v", rec)
	}
	if sink.count() != 0 {
		t.Errorf("audit records = %d, want 0", sink.count())
	}

	// Policy hit executes the mapped action.
	rec, err = exec.Respond(ctx, alertWith(scoring.CategoryDataExfiltration, scoring.SeverityHigh, 0.85))
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if rec == nil || rec.ActionType != ActionRevokeAPIKey {
		t.Errorf("record = %+v, want revoke_api_key", rec)
	}
	if rec != nil && !rec.DryRun {
		t.Error("Respond should inherit the configured dry-run default")
	}
	if sink.count() != 1 {
		t.Errorf("audit records = %d, want 1", sink.count())
	}
}

func TestExecutor_Execute_SinkFailure(t *testing.T) {
	sink := &memSink{err: errors.New("storage down")}
	exec := NewExecutor(DefaultExecutorConfig(), sink)
	alert := alertWith(scoring.CategoryMaliciousIP, scoring.SeverityHigh, 0.9)

	if _, err := exec.Execute(context.Background(), alert, ActionBlockIP, true); err == nil {
		t.Error("expected error when audit sink fails")
	}
}
