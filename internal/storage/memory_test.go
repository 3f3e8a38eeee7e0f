package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"cloudsentinel/internal/alerting"
	"cloudsentinel/internal/model"
	"cloudsentinel/internal/response"
	"cloudsentinel/internal/schema"
	"cloudsentinel/internal/scoring"
)

func processedEvent(actorID string, anomaly bool) *ProcessedEvent {
	return &ProcessedEvent{
		Event: &schema.Event{
			EventID:   uuid.New(),
			EventType: "ConsoleLogin",
			ActorID:   actorID,
			Timestamp: time.Now().UTC(),
		},
		AnomalyScore: 0.6,
		ThreatScore:  0.55,
		IsAnomaly:    anomaly,
	}
}

func storedAlert() *alerting.Alert {
	now := time.Now().UTC()
	return &alerting.Alert{
		AlertID:    uuid.New(),
		Severity:   scoring.SeverityHigh,
		Category:   scoring.CategorySuspiciousLogin,
		Title:      "Suspicious login",
		ActorID:    "alice",
		Status:     alerting.StatusOpen,
		DetectedAt: now,
		UpdatedAt:  now,
	}
}

func TestMemoryStore_Events(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.AppendEvent(ctx, processedEvent("alice", false)); err != nil {
		t.Fatalf("AppendEvent() error = %v", err)
	}
	if err := s.AppendEvent(ctx, processedEvent("bob", true)); err != nil {
		t.Fatalf("AppendEvent() error = %v", err)
	}

	all, err := s.ListEvents(ctx, EventFilter{})
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("ListEvents() = %d events, want 2", len(all))
	}
	// Newest first.
	if all[0].Event.ActorID != "bob" {
		t.Errorf("first event actor = %q, want bob", all[0].Event.ActorID)
	}

	anomalies, _ := s.ListEvents(ctx, EventFilter{AnomaliesOnly: true})
	if len(anomalies) != 1 || anomalies[0].Event.ActorID != "bob" {
		t.Errorf("anomaly filter returned %d events", len(anomalies))
	}

	byActor, _ := s.ListEvents(ctx, EventFilter{ActorID: "alice"})
	if len(byActor) != 1 {
		t.Errorf("actor filter returned %d events", len(byActor))
	}
}

func TestMemoryStore_EventWithAlert(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	alert := storedAlert()
	pe := processedEvent("alice", true)
	pe.AlertID = &alert.AlertID

	if err := s.AppendEventWithAlert(ctx, pe, alert); err != nil {
		t.Fatalf("AppendEventWithAlert() error = %v", err)
	}

	got, err := s.GetAlert(ctx, alert.AlertID)
	if err != nil {
		t.Fatalf("GetAlert() error = %v", err)
	}
	if got.Title != alert.Title {
		t.Errorf("Title = %q", got.Title)
	}

	events, _ := s.ListEvents(ctx, EventFilter{})
	if len(events) != 1 || events[0].AlertID == nil || *events[0].AlertID != alert.AlertID {
		t.Error("stored event does not reference its alert")
	}

	if _, err := s.GetAlert(ctx, uuid.New()); !errors.Is(err, alerting.ErrAlertNotFound) {
		t.Errorf("GetAlert(unknown) = %v, want ErrAlertNotFound", err)
	}
}

func TestMemoryStore_UpdateAlert(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	alert := storedAlert()
	if err := s.AppendEventWithAlert(ctx, processedEvent("alice", true), alert); err != nil {
		t.Fatal(err)
	}

	alert.Status = alerting.StatusResolved
	if err := s.UpdateAlert(ctx, alert); err != nil {
		t.Fatalf("UpdateAlert() error = %v", err)
	}
	got, _ := s.GetAlert(ctx, alert.AlertID)
	if got.Status != alerting.StatusResolved {
		t.Errorf("Status = %q after update", got.Status)
	}

	if err := s.UpdateAlert(ctx, storedAlert()); !errors.Is(err, alerting.ErrAlertNotFound) {
		t.Errorf("UpdateAlert(unknown) = %v, want ErrAlertNotFound", err)
	}
}

func TestMemoryStore_FeedbackAndResponses(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	a1 := uuid.New()
	a2 := uuid.New()
	s.AppendFeedback(ctx, &alerting.Feedback{FeedbackID: uuid.New(), AlertID: a1, TruePositive: true})
	s.AppendFeedback(ctx, &alerting.Feedback{FeedbackID: uuid.New(), AlertID: a2, TruePositive: false})

	all, _ := s.ListFeedback(ctx, nil)
	if len(all) != 2 {
		t.Errorf("ListFeedback(nil) = %d, want 2", len(all))
	}
	one, _ := s.ListFeedback(ctx, &a1)
	if len(one) != 1 || !one[0].TruePositive {
		t.Errorf("ListFeedback(a1) = %v", one)
	}

	s.AppendResponse(ctx, &response.Record{ResponseID: uuid.New(), AlertID: a1, ActionType: response.ActionBlockIP, Status: response.RecordCompleted})
	recs, _ := s.ListResponses(ctx, &a1)
	if len(recs) != 1 || recs[0].ActionType != response.ActionBlockIP {
		t.Errorf("ListResponses(a1) = %v", recs)
	}
}

func TestMemoryStore_ModelActivation(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for _, name := range []string{"baseline-v1", "baseline-v2"} {
		if err := s.SaveModelMeta(ctx, &model.Meta{
			ID:        uuid.New(),
			Name:      name,
			ModelType: model.ModelType,
			TrainedAt: time.Now().UTC(),
		}); err != nil {
			t.Fatalf("SaveModelMeta(%s) error = %v", name, err)
		}
	}

	if _, err := s.ActiveModelMeta(ctx); !errors.Is(err, model.ErrModelNotFound) {
		t.Errorf("ActiveModelMeta() before activation = %v, want ErrModelNotFound", err)
	}

	if err := s.ActivateModel(ctx, "baseline-v1"); err != nil {
		t.Fatalf("ActivateModel() error = %v", err)
	}
	active, err := s.ActiveModelMeta(ctx)
	if err != nil {
		t.Fatalf("ActiveModelMeta() error = %v", err)
	}
	if active.Name != "baseline-v1" || active.DeployedAt == nil {
		t.Errorf("active = %+v", active)
	}

	// Activating the second deactivates the first.
	if err := s.ActivateModel(ctx, "baseline-v2"); err != nil {
		t.Fatalf("ActivateModel() error = %v", err)
	}
	models, _ := s.ListModels(ctx)
	activeCount := 0
	for _, m := range models {
		if m.IsActive {
			activeCount++
			if m.Name != "baseline-v2" {
				t.Errorf("active model = %q, want baseline-v2", m.Name)
			}
		}
	}
	if activeCount != 1 {
		t.Errorf("active models = %d, want exactly 1", activeCount)
	}

	if err := s.ActivateModel(ctx, "missing"); !errors.Is(err, model.ErrModelNotFound) {
		t.Errorf("ActivateModel(missing) = %v, want ErrModelNotFound", err)
	}
}

func TestMemoryStore_Closed(t *testing.T) {
	s := NewMemoryStore()
	s.Close()
	if err := s.AppendEvent(context.Background(), processedEvent("alice", false)); !errors.Is(err, ErrClosed) {
		t.Errorf("AppendEvent() after close = %v, want ErrClosed", err)
	}
}
