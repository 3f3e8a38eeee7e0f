// Package pipeline runs the detection flow for each ingested event:
// anomaly prediction, intel lookup, threat scoring, alert creation,
// and automated response.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"cloudsentinel/internal/alerting"
	"cloudsentinel/internal/intel"
	"cloudsentinel/internal/model"
	"cloudsentinel/internal/response"
	"cloudsentinel/internal/schema"
	"cloudsentinel/internal/scoring"
	"cloudsentinel/internal/storage"
)

// Config holds the pipeline gates.
type Config struct {
	// AnomalyGate is the minimum anomaly score an event flagged by the
	// detector must reach before threat scoring runs.
	AnomalyGate float64 `yaml:"anomaly_gate"`
	// AlertThreshold is the minimum threat score that raises an alert.
	// Inclusive: a score exactly at the threshold alerts.
	AlertThreshold float64 `yaml:"alert_threshold"`
}

// DefaultConfig returns the default pipeline configuration. Both gates
// sit at 0.5; they are independent knobs and may be tuned apart.
func DefaultConfig() Config {
	return Config{
		AnomalyGate:    0.5,
		AlertThreshold: 0.5,
	}
}

// Result describes what the pipeline did with one event.
type Result struct {
	Event        *schema.Event
	AnomalyScore float64
	IsAnomaly    bool
	ThreatScore  float64
	Severity     scoring.Severity
	Category     scoring.Category
	Alert        *alerting.Alert
	Response     *response.Record
}

// Predictor scores an event for anomaly. Satisfied by model.Slot, which
// delegates to whichever detector is active at call time.
type Predictor interface {
	Predict(ev *schema.Event) (bool, float64)
}

var _ Predictor = (*model.Slot)(nil)

// Processor runs the detection stages for single events.
type Processor struct {
	config   Config
	slot     Predictor
	intel    *intel.Service
	store    storage.Store
	alerts   *alerting.Manager
	executor *response.Executor
}

// NewProcessor wires the detection stages together. The gates are read
// from cfg; a divergence between them is legitimate but worth knowing
// about, so it is logged once here.
func NewProcessor(cfg Config, slot Predictor, intelSvc *intel.Service, store storage.Store, alerts *alerting.Manager, executor *response.Executor) *Processor {
	if cfg.AnomalyGate != cfg.AlertThreshold {
		slog.Warn("pipeline gates diverge",
			"anomaly_gate", cfg.AnomalyGate,
			"alert_threshold", cfg.AlertThreshold)
	}
	return &Processor{
		config:   cfg,
		slot:     slot,
		intel:    intelSvc,
		store:    store,
		alerts:   alerts,
		executor: executor,
	}
}

// ProcessEvent runs one event through the full pipeline. Persistence
// failures abort the run and surface to the caller; intel failures do
// not, the event is scored without intel instead.
func (p *Processor) ProcessEvent(ctx context.Context, ev *schema.Event) (*Result, error) {
	isAnomaly, anomalyScore := p.slot.Predict(ev)

	res := &Result{
		Event:        ev,
		AnomalyScore: anomalyScore,
		IsAnomaly:    isAnomaly,
	}

	if !isAnomaly || anomalyScore < p.config.AnomalyGate {
		if err := p.store.AppendEvent(ctx, p.processed(res, nil)); err != nil {
			return nil, fmt.Errorf("persist event %s: %w", ev.EventID, err)
		}
		return res, nil
	}

	report := p.intel.Lookup(ctx, ev.IPAddress)

	threatScore, severity := scoring.Score(anomalyScore, ev.EventType, report)
	category := scoring.Categorize(ev, anomalyScore, report)
	res.ThreatScore = threatScore
	res.Severity = severity
	res.Category = category

	if threatScore < p.config.AlertThreshold {
		if err := p.store.AppendEvent(ctx, p.processed(res, nil)); err != nil {
			return nil, fmt.Errorf("persist event %s: %w", ev.EventID, err)
		}
		return res, nil
	}

	alert := alerting.NewAlert(ev, category, severity, threatScore, anomalyScore, report)
	res.Alert = alert

	if err := p.store.AppendEventWithAlert(ctx, p.processed(res, alert), alert); err != nil {
		return nil, fmt.Errorf("persist event %s with alert: %w", ev.EventID, err)
	}

	slog.Info("alert raised",
		"alert_id", alert.AlertID,
		"event_id", ev.EventID,
		"severity", severity,
		"category", category,
		"threat_score", threatScore)

	p.alerts.Notify(ctx, alert)

	rec, err := p.executor.Respond(ctx, alert)
	if err != nil {
		// The alert is already durable; a failed response must not
		// fail the event.
		slog.Error("automated response failed",
			"alert_id", alert.AlertID,
			"error", err)
	}
	res.Response = rec

	return res, nil
}

func (p *Processor) processed(res *Result, alert *alerting.Alert) *storage.ProcessedEvent {
	pe := &storage.ProcessedEvent{
		Event:        res.Event,
		AnomalyScore: res.AnomalyScore,
		ThreatScore:  res.ThreatScore,
		IsAnomaly:    res.IsAnomaly,
	}
	if alert != nil {
		pe.AlertID = &alert.AlertID
	}
	return pe
}
