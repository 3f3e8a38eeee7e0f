package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"cloudsentinel/internal/alerting"
	"cloudsentinel/internal/model"
	"cloudsentinel/internal/response"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	events    []*ProcessedEvent
	alerts    map[uuid.UUID]*alerting.Alert
	feedback  []*alerting.Feedback
	responses []*response.Record
	models    map[string]*model.Meta
	closed    bool
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		alerts: make(map[uuid.UUID]*alerting.Alert),
		models: make(map[string]*model.Meta),
	}
}

func (s *MemoryStore) AppendEvent(ctx context.Context, pe *ProcessedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.events = append(s.events, pe)
	return nil
}

func (s *MemoryStore) AppendEventWithAlert(ctx context.Context, pe *ProcessedEvent, alert *alerting.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	cp := *alert
	s.alerts[alert.AlertID] = &cp
	s.events = append(s.events, pe)
	return nil
}

func (s *MemoryStore) ListEvents(ctx context.Context, filter EventFilter) ([]*ProcessedEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*ProcessedEvent
	for i := len(s.events) - 1; i >= 0; i-- {
		pe := s.events[i]
		if filter.ActorID != "" && pe.Event.ActorID != filter.ActorID {
			continue
		}
		if filter.EventType != "" && pe.Event.EventType != filter.EventType {
			continue
		}
		if filter.AnomaliesOnly && !pe.IsAnomaly {
			continue
		}
		out = append(out, pe)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) GetAlert(ctx context.Context, id uuid.UUID) (*alerting.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alerts[id]
	if !ok {
		return nil, fmt.Errorf("%w: alert %s", alerting.ErrAlertNotFound, id)
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) UpdateAlert(ctx context.Context, alert *alerting.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.alerts[alert.AlertID]; !ok {
		return fmt.Errorf("%w: alert %s", alerting.ErrAlertNotFound, alert.AlertID)
	}
	cp := *alert
	s.alerts[alert.AlertID] = &cp
	return nil
}

func (s *MemoryStore) ListAlerts(ctx context.Context, filter alerting.AlertFilter) ([]*alerting.Alert, error) {
	s.mu.RLock()
	var out []*alerting.Alert
	for _, a := range s.alerts {
		if filter.Matches(a) {
			cp := *a
			out = append(out, &cp)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].DetectedAt.After(out[j].DetectedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) AppendFeedback(ctx context.Context, fb *alerting.Feedback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feedback = append(s.feedback, fb)
	return nil
}

func (s *MemoryStore) ListFeedback(ctx context.Context, alertID *uuid.UUID) ([]*alerting.Feedback, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*alerting.Feedback
	for _, fb := range s.feedback {
		if alertID == nil || fb.AlertID == *alertID {
			out = append(out, fb)
		}
	}
	return out, nil
}

func (s *MemoryStore) AppendResponse(ctx context.Context, rec *response.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, rec)
	return nil
}

func (s *MemoryStore) ListResponses(ctx context.Context, alertID *uuid.UUID) ([]*response.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*response.Record
	for _, rec := range s.responses {
		if alertID == nil || rec.AlertID == *alertID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *MemoryStore) SaveModelMeta(ctx context.Context, meta *model.Meta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *meta
	s.models[meta.Name] = &cp
	return nil
}

func (s *MemoryStore) GetModelMeta(ctx context.Context, name string) (*model.Meta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	meta, ok := s.models[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrModelNotFound, name)
	}
	cp := *meta
	return &cp, nil
}

func (s *MemoryStore) ActivateModel(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.models[name]
	if !ok {
		return fmt.Errorf("%w: %s", model.ErrModelNotFound, name)
	}
	now := time.Now().UTC()
	for _, meta := range s.models {
		meta.IsActive = false
	}
	target.IsActive = true
	target.DeployedAt = &now
	return nil
}

func (s *MemoryStore) ActiveModelMeta(ctx context.Context) (*model.Meta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, meta := range s.models {
		if meta.IsActive {
			cp := *meta
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: no active model", model.ErrModelNotFound)
}

func (s *MemoryStore) ListModels(ctx context.Context) ([]*model.Meta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Meta, 0, len(s.models))
	for _, meta := range s.models {
		cp := *meta
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].TrainedAt.After(out[j].TrainedAt)
	})
	return out, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
