package alerting

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"cloudsentinel/internal/intel"
	"cloudsentinel/internal/schema"
	"cloudsentinel/internal/scoring"
)

// fakeStore is a minimal in-memory Store for manager tests.
type fakeStore struct {
	mu       sync.Mutex
	alerts   map[uuid.UUID]*Alert
	feedback []*Feedback
}

func newFakeStore() *fakeStore {
	return &fakeStore{alerts: make(map[uuid.UUID]*Alert)}
}

func (s *fakeStore) put(a *Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.alerts[a.AlertID] = &cp
}

func (s *fakeStore) GetAlert(ctx context.Context, id uuid.UUID) (*Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok {
		return nil, ErrAlertNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *fakeStore) UpdateAlert(ctx context.Context, alert *Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.alerts[alert.AlertID]; !ok {
		return ErrAlertNotFound
	}
	cp := *alert
	s.alerts[alert.AlertID] = &cp
	return nil
}

func (s *fakeStore) ListAlerts(ctx context.Context, filter AlertFilter) ([]*Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Alert
	for _, a := range s.alerts {
		if filter.Matches(a) {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeStore) AppendFeedback(ctx context.Context, fb *Feedback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feedback = append(s.feedback, fb)
	return nil
}

func (s *fakeStore) ListFeedback(ctx context.Context, alertID *uuid.UUID) ([]*Feedback, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Feedback
	for _, fb := range s.feedback {
		if alertID == nil || fb.AlertID == *alertID {
			out = append(out, fb)
		}
	}
	return out, nil
}

// captureChannel records every alert it is asked to send.
type captureChannel struct {
	mu   sync.Mutex
	sent []*Alert
}

func (c *captureChannel) Name() string { return "capture" }

func (c *captureChannel) Send(ctx context.Context, alert *Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, alert)
	return nil
}

func (c *captureChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func testAlert(severity scoring.Severity) *Alert {
	ev := &schema.Event{
		EventID:   uuid.New(),
		EventType: "ConsoleLogin",
		ActorID:   "alice",
		IPAddress: "203.0.113.5",
		Timestamp: time.Now().UTC(),
	}
	return NewAlert(ev, scoring.CategorySuspiciousLogin, severity, 0.85, 0.72, intel.Report{})
}

func TestNewAlert(t *testing.T) {
	ev := &schema.Event{
		EventID:   uuid.New(),
		EventType: "AdminCreateUser",
		ActorID:   "bob",
		IPAddress: "198.51.100.7",
		Resources: []string{"arn:aws:iam::123456789012:user/new"},
		Timestamp: time.Now().UTC(),
	}
	report := intel.Report{IPAddress: ev.IPAddress, Available: true, IsMaliciousIP: true}

	a := NewAlert(ev, scoring.CategoryPrivilegeEscalation, scoring.SeverityCritical, 0.95, 0.8, report)

	if a.Status != StatusOpen {
		t.Errorf("Status = %q, want %q", a.Status, StatusOpen)
	}
	if a.SourceEventID != ev.EventID {
		t.Error("SourceEventID not carried from event")
	}
	if a.IntelSnapshot == nil || !a.IntelSnapshot.IsMaliciousIP {
		t.Error("intel snapshot missing despite available report")
	}
	if len(a.AffectedResources) != 1 {
		t.Errorf("AffectedResources = %v", a.AffectedResources)
	}
	if a.Title == "" || a.Description == "" {
		t.Error("alert is missing title or description")
	}

	// Unavailable intel leaves no snapshot.
	b := NewAlert(ev, scoring.CategoryPrivilegeEscalation, scoring.SeverityHigh, 0.9, 0.8, intel.Report{IsMaliciousIP: true})
	if b.IntelSnapshot != nil {
		t.Error("unavailable report should not be snapshotted")
	}
}

func TestManager_UpdateStatus(t *testing.T) {
	store := newFakeStore()
	mgr := NewManager(DefaultManagerConfig(), store)
	ctx := context.Background()

	a := testAlert(scoring.SeverityHigh)
	store.put(a)

	got, err := mgr.UpdateStatus(ctx, a.AlertID, StatusUpdate{Status: StatusInvestigating, AssignedTo: "carol"})
	if err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}
	if got.Status != StatusInvestigating || got.AssignedTo != "carol" {
		t.Errorf("got status %q assigned %q", got.Status, got.AssignedTo)
	}
	if got.ResolvedAt != nil {
		t.Error("non-terminal status should not set ResolvedAt")
	}

	got, err = mgr.UpdateStatus(ctx, a.AlertID, StatusUpdate{Status: StatusResolved, Notes: "benign maintenance"})
	if err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}
	if got.ResolvedAt == nil {
		t.Error("resolved alert should have ResolvedAt")
	}
	if got.ResolutionNotes != "benign maintenance" {
		t.Errorf("ResolutionNotes = %q", got.ResolutionNotes)
	}

	// Reopening clears the resolution timestamp.
	got, err = mgr.UpdateStatus(ctx, a.AlertID, StatusUpdate{Status: StatusOpen})
	if err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}
	if got.ResolvedAt != nil {
		t.Error("reopened alert should clear ResolvedAt")
	}
}

func TestManager_UpdateStatus_Invalid(t *testing.T) {
	store := newFakeStore()
	mgr := NewManager(DefaultManagerConfig(), store)

	a := testAlert(scoring.SeverityLow)
	store.put(a)

	if _, err := mgr.UpdateStatus(context.Background(), a.AlertID, StatusUpdate{Status: "escalated"}); err == nil {
		t.Error("expected error for unknown status")
	}
	if _, err := mgr.UpdateStatus(context.Background(), uuid.New(), StatusUpdate{Status: StatusOpen}); err == nil {
		t.Error("expected error for unknown alert")
	}
}

func TestManager_SubmitFeedback(t *testing.T) {
	store := newFakeStore()
	mgr := NewManager(DefaultManagerConfig(), store)
	ctx := context.Background()

	a := testAlert(scoring.SeverityMedium)
	store.put(a)

	// True positive leaves the lifecycle alone.
	if _, err := mgr.SubmitFeedback(ctx, a.AlertID, "carol", true, ""); err != nil {
		t.Fatalf("SubmitFeedback() error = %v", err)
	}
	cur, _ := store.GetAlert(ctx, a.AlertID)
	if cur.Status != StatusOpen {
		t.Errorf("true positive changed status to %q", cur.Status)
	}

	// False positive forces the terminal false_positive status.
	if _, err := mgr.SubmitFeedback(ctx, a.AlertID, "carol", false, "scheduled job"); err != nil {
		t.Fatalf("SubmitFeedback() error = %v", err)
	}
	cur, _ = store.GetAlert(ctx, a.AlertID)
	if cur.Status != StatusFalsePositive {
		t.Errorf("status = %q, want %q", cur.Status, StatusFalsePositive)
	}
	if cur.ResolvedAt == nil {
		t.Error("false positive should stamp ResolvedAt")
	}
}

func TestManager_ComputeMetrics(t *testing.T) {
	store := newFakeStore()
	mgr := NewManager(DefaultManagerConfig(), store)
	ctx := context.Background()

	alerts := []*Alert{
		testAlert(scoring.SeverityCritical),
		testAlert(scoring.SeverityHigh),
		testAlert(scoring.SeverityHigh),
		testAlert(scoring.SeverityLow),
	}
	for _, a := range alerts {
		store.put(a)
	}

	for i, tp := range []bool{true, true, true, false} {
		if _, err := mgr.SubmitFeedback(ctx, alerts[i].AlertID, "carol", tp, ""); err != nil {
			t.Fatalf("SubmitFeedback() error = %v", err)
		}
	}

	m, err := mgr.ComputeMetrics(ctx)
	if err != nil {
		t.Fatalf("ComputeMetrics() error = %v", err)
	}
	if m.TotalAlerts != 4 {
		t.Errorf("TotalAlerts = %d, want 4", m.TotalAlerts)
	}
	if m.TruePositives != 3 || m.FalsePositives != 1 {
		t.Errorf("TP/FP = %d/%d, want 3/1", m.TruePositives, m.FalsePositives)
	}
	if m.Precision != 0.75 {
		t.Errorf("Precision = %v, want 0.75", m.Precision)
	}
	if m.FalsePositiveRate != 0.25 {
		t.Errorf("FalsePositiveRate = %v, want 0.25", m.FalsePositiveRate)
	}
	if m.BySeverity[scoring.SeverityHigh] != 2 {
		t.Errorf("BySeverity[high] = %d, want 2", m.BySeverity[scoring.SeverityHigh])
	}
	if m.ByStatus[StatusFalsePositive] != 1 {
		t.Errorf("ByStatus[false_positive] = %d, want 1", m.ByStatus[StatusFalsePositive])
	}
}

func TestManager_ComputeMetricsSince(t *testing.T) {
	store := newFakeStore()
	mgr := NewManager(DefaultManagerConfig(), store)
	ctx := context.Background()

	old := testAlert(scoring.SeverityHigh)
	old.DetectedAt = time.Now().Add(-48 * time.Hour)
	store.put(old)

	recent := testAlert(scoring.SeverityCritical)
	store.put(recent)

	if _, err := mgr.SubmitFeedback(ctx, old.AlertID, "carol", false, ""); err != nil {
		t.Fatalf("SubmitFeedback() error = %v", err)
	}
	if _, err := mgr.SubmitFeedback(ctx, recent.AlertID, "carol", true, ""); err != nil {
		t.Fatalf("SubmitFeedback() error = %v", err)
	}

	// The old alert is outside the window; its feedback was submitted
	// just now, so only the alert itself drops out.
	m, err := mgr.ComputeMetricsSince(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("ComputeMetricsSince() error = %v", err)
	}
	if m.TotalAlerts != 1 {
		t.Errorf("TotalAlerts = %d, want 1", m.TotalAlerts)
	}
	if m.FeedbackCount != 2 {
		t.Errorf("FeedbackCount = %d, want 2", m.FeedbackCount)
	}

	// A future cutoff excludes everything.
	m, err = mgr.ComputeMetricsSince(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("ComputeMetricsSince() error = %v", err)
	}
	if m.TotalAlerts != 0 || m.FeedbackCount != 0 || m.Precision != 0 {
		t.Errorf("metrics = %+v, want empty", m)
	}
}

func TestManager_Notify_SeverityGate(t *testing.T) {
	store := newFakeStore()
	mgr := NewManager(DefaultManagerConfig(), store)
	capture := &captureChannel{}
	mgr.AddChannel(capture)
	ctx := context.Background()

	mgr.Notify(ctx, testAlert(scoring.SeverityCritical))
	mgr.Notify(ctx, testAlert(scoring.SeverityHigh))
	mgr.Notify(ctx, testAlert(scoring.SeverityMedium))
	mgr.Notify(ctx, testAlert(scoring.SeverityLow))

	deadline := time.Now().Add(2 * time.Second)
	for capture.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	// Give stray sends a moment to land before asserting the cap.
	time.Sleep(50 * time.Millisecond)

	if got := capture.count(); got != 2 {
		t.Errorf("notified %d alerts, want 2 (critical and high only)", got)
	}
}

func TestAlertFilter_Matches(t *testing.T) {
	a := testAlert(scoring.SeverityHigh)
	a.Status = StatusInvestigating

	status := StatusInvestigating
	severity := scoring.SeverityHigh
	wrongSeverity := scoring.SeverityLow
	since := a.DetectedAt.Add(-time.Minute)
	future := a.DetectedAt.Add(time.Minute)

	tests := []struct {
		name   string
		filter AlertFilter
		want   bool
	}{
		{"empty filter", AlertFilter{}, true},
		{"status match", AlertFilter{Status: &status}, true},
		{"severity match", AlertFilter{Severity: &severity}, true},
		{"severity mismatch", AlertFilter{Severity: &wrongSeverity}, false},
		{"actor match", AlertFilter{ActorID: "alice"}, true},
		{"actor mismatch", AlertFilter{ActorID: "mallory"}, false},
		{"since before detection", AlertFilter{Since: &since}, true},
		{"since after detection", AlertFilter{Since: &future}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Matches(a); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}
