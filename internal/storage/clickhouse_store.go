package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/google/uuid"

	"cloudsentinel/internal/alerting"
	"cloudsentinel/internal/intel"
	"cloudsentinel/internal/model"
	"cloudsentinel/internal/response"
	"cloudsentinel/internal/schema"
	"cloudsentinel/internal/scoring"
)

// ClickHouseStore implements Store on top of ClickHouse. Mutable rows
// (alerts, models) live in ReplacingMergeTree tables versioned by
// updated_at; updates insert a new row version and reads use FINAL.
type ClickHouseStore struct {
	client *ClickHouseClient
	events *BatchWriter
}

var _ Store = (*ClickHouseStore)(nil)

// NewClickHouseStore creates a store over an established connection.
// Plain events go through the batch writer; events that raised an
// alert are written synchronously so the pair is durable together.
func NewClickHouseStore(client *ClickHouseClient, batchCfg BatchWriterConfig) *ClickHouseStore {
	return &ClickHouseStore{
		client: client,
		events: NewBatchWriter(client, batchCfg),
	}
}

// Migrate runs pending schema migrations.
func (s *ClickHouseStore) Migrate(ctx context.Context) error {
	if err := s.client.EnsureDatabase(ctx); err != nil {
		return err
	}
	return NewMigrator(s.client).Run(ctx)
}

func (s *ClickHouseStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}

func (s *ClickHouseStore) Close() error {
	if err := s.events.Close(); err != nil {
		return err
	}
	return s.client.Close()
}

// EventMetrics returns batch writer counters.
func (s *ClickHouseStore) EventMetrics() BatchWriterMetrics {
	return s.events.Metrics()
}

// AppendEvent queues a processed event for batched insertion.
func (s *ClickHouseStore) AppendEvent(ctx context.Context, pe *ProcessedEvent) error {
	return s.events.Write(pe)
}

// AppendEventWithAlert writes the event first, then the alert derived
// from it, both synchronously. The event goes first so a failed alert
// insert surfaces an error the caller can retry without ever leaving
// an alert row that references a missing event.
func (s *ClickHouseStore) AppendEventWithAlert(ctx context.Context, pe *ProcessedEvent, alert *alerting.Alert) error {
	if err := s.client.Exec(ctx, insertEventQuery, eventArgs(pe)...); err != nil {
		return WrapQueryError("AppendEventWithAlert", "events", err)
	}
	return s.insertAlert(ctx, alert)
}

const insertEventQuery = `
	INSERT INTO events (
		event_id, provider, service, event_type, event_name, status,
		actor_id, ip_address, user_agent, country, city, country_change,
		resources, payload, schema_version,
		anomaly_score, threat_score, is_anomaly, alert_id,
		timestamp, received_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

func eventArgs(pe *ProcessedEvent) []any {
	ev := pe.Event
	payload, _ := json.Marshal(ev.Payload)

	country := ""
	city := ""
	countryChange := uint8(0)
	if ev.Geo != nil {
		country = ev.Geo.Country
		city = ev.Geo.City
		if ev.Geo.CountryChange {
			countryChange = 1
		}
	}

	return []any{
		ev.EventID,
		ev.Provider,
		ev.Service,
		ev.EventType,
		ev.EventName,
		string(ev.Status),
		ev.ActorID,
		ev.IPAddress,
		ev.UserAgent,
		country,
		city,
		countryChange,
		ev.Resources,
		string(payload),
		ev.SchemaVersion,
		pe.AnomalyScore,
		pe.ThreatScore,
		boolToUInt8(pe.IsAnomaly),
		pe.AlertID,
		ev.Timestamp,
		ev.ReceivedAt,
	}
}

// ListEvents lists processed events, newest first.
func (s *ClickHouseStore) ListEvents(ctx context.Context, filter EventFilter) ([]*ProcessedEvent, error) {
	query := `
		SELECT
			event_id, provider, service, event_type, event_name, status,
			actor_id, ip_address, user_agent, country, city, country_change,
			resources, payload, schema_version,
			anomaly_score, threat_score, is_anomaly, alert_id,
			timestamp, received_at
		FROM events
		WHERE 1 = 1
	`
	var args []any
	if filter.ActorID != "" {
		query += " AND actor_id = ?"
		args = append(args, filter.ActorID)
	}
	if filter.EventType != "" {
		query += " AND event_type = ?"
		args = append(args, filter.EventType)
	}
	if filter.AnomaliesOnly {
		query += " AND is_anomaly = 1"
	}
	query += " ORDER BY timestamp DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.client.Query(ctx, query, args...)
	if err != nil {
		return nil, WrapQueryError("ListEvents", "events", err)
	}
	defer rows.Close()

	var out []*ProcessedEvent
	for rows.Next() {
		pe, err := scanEvent(rows)
		if err != nil {
			return nil, WrapQueryError("ListEvents", "events", err)
		}
		out = append(out, pe)
	}
	return out, rows.Err()
}

func scanEvent(rows driver.Rows) (*ProcessedEvent, error) {
	var (
		ev            schema.Event
		status        string
		country, city string
		countryChange uint8
		payload       string
		isAnomaly     uint8
		pe            ProcessedEvent
	)
	if err := rows.Scan(
		&ev.EventID, &ev.Provider, &ev.Service, &ev.EventType, &ev.EventName, &status,
		&ev.ActorID, &ev.IPAddress, &ev.UserAgent, &country, &city, &countryChange,
		&ev.Resources, &payload, &ev.SchemaVersion,
		&pe.AnomalyScore, &pe.ThreatScore, &isAnomaly, &pe.AlertID,
		&ev.Timestamp, &ev.ReceivedAt,
	); err != nil {
		return nil, err
	}

	ev.Status = schema.Status(status)
	if country != "" || city != "" {
		ev.Geo = &schema.Geo{Country: country, City: city, CountryChange: countryChange == 1}
	}
	if payload != "" {
		_ = json.Unmarshal([]byte(payload), &ev.Payload)
	}
	pe.Event = &ev
	pe.IsAnomaly = isAnomaly == 1
	return &pe, nil
}

func (s *ClickHouseStore) insertAlert(ctx context.Context, a *alerting.Alert) error {
	indicators, err := json.Marshal(a.Indicators)
	if err != nil {
		return fmt.Errorf("marshal indicators: %w", err)
	}
	intelJSON := []byte("")
	if a.IntelSnapshot != nil {
		intelJSON, err = json.Marshal(a.IntelSnapshot)
		if err != nil {
			return fmt.Errorf("marshal intel snapshot: %w", err)
		}
	}

	country := ""
	city := ""
	if a.Geo != nil {
		country = a.Geo.Country
		city = a.Geo.City
	}

	query := `
		INSERT INTO alerts (
			alert_id, source_event_id, severity, category, title, description,
			threat_score, confidence, indicators, mitre_tactics, intel,
			affected_resources, actor_id, ip_address, country, city,
			status, assigned_to, resolution_notes,
			detected_at, updated_at, resolved_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	err = s.client.Exec(ctx, query,
		a.AlertID,
		a.SourceEventID,
		string(a.Severity),
		string(a.Category),
		a.Title,
		a.Description,
		a.ThreatScore,
		a.Confidence,
		string(indicators),
		a.MITRETactics,
		string(intelJSON),
		a.AffectedResources,
		a.ActorID,
		a.IPAddress,
		country,
		city,
		string(a.Status),
		a.AssignedTo,
		a.ResolutionNotes,
		a.DetectedAt,
		a.UpdatedAt,
		a.ResolvedAt,
	)
	if err != nil {
		return WrapQueryError("insertAlert", "alerts", err)
	}
	return nil
}

const selectAlertColumns = `
	alert_id, source_event_id, severity, category, title, description,
	threat_score, confidence, indicators, mitre_tactics, intel,
	affected_resources, actor_id, ip_address, country, city,
	status, assigned_to, resolution_notes,
	detected_at, updated_at, resolved_at
`

func (s *ClickHouseStore) GetAlert(ctx context.Context, id uuid.UUID) (*alerting.Alert, error) {
	query := "SELECT " + selectAlertColumns + " FROM alerts FINAL WHERE alert_id = ?"
	rows, err := s.client.Query(ctx, query, id)
	if err != nil {
		return nil, WrapQueryError("GetAlert", "alerts", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, fmt.Errorf("%w: alert %s", alerting.ErrAlertNotFound, id)
	}
	return scanAlert(rows)
}

// UpdateAlert inserts a new row version; FINAL reads resolve to the
// latest updated_at.
func (s *ClickHouseStore) UpdateAlert(ctx context.Context, alert *alerting.Alert) error {
	return s.insertAlert(ctx, alert)
}

func (s *ClickHouseStore) ListAlerts(ctx context.Context, filter alerting.AlertFilter) ([]*alerting.Alert, error) {
	query := "SELECT " + selectAlertColumns + " FROM alerts FINAL WHERE 1 = 1"
	var args []any

	if filter.Status != nil {
		query += " AND status = ?"
		args = append(args, string(*filter.Status))
	}
	if filter.Severity != nil {
		query += " AND severity = ?"
		args = append(args, string(*filter.Severity))
	}
	if filter.Category != nil {
		query += " AND category = ?"
		args = append(args, string(*filter.Category))
	}
	if filter.ActorID != "" {
		query += " AND actor_id = ?"
		args = append(args, filter.ActorID)
	}
	if filter.Since != nil {
		query += " AND detected_at >= ?"
		args = append(args, *filter.Since)
	}
	if filter.Until != nil {
		query += " AND detected_at <= ?"
		args = append(args, *filter.Until)
	}

	query += " ORDER BY detected_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.client.Query(ctx, query, args...)
	if err != nil {
		return nil, WrapQueryError("ListAlerts", "alerts", err)
	}
	defer rows.Close()

	var out []*alerting.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, WrapQueryError("ListAlerts", "alerts", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAlert(rows driver.Rows) (*alerting.Alert, error) {
	var (
		a                  alerting.Alert
		severity, category string
		status             string
		indicators         string
		intelJSON          string
		country, city      string
	)
	if err := rows.Scan(
		&a.AlertID, &a.SourceEventID, &severity, &category, &a.Title, &a.Description,
		&a.ThreatScore, &a.Confidence, &indicators, &a.MITRETactics, &intelJSON,
		&a.AffectedResources, &a.ActorID, &a.IPAddress, &country, &city,
		&status, &a.AssignedTo, &a.ResolutionNotes,
		&a.DetectedAt, &a.UpdatedAt, &a.ResolvedAt,
	); err != nil {
		return nil, err
	}

	a.Severity = scoring.Severity(severity)
	a.Category = scoring.Category(category)
	a.Status = alerting.AlertStatus(status)
	if indicators != "" {
		_ = json.Unmarshal([]byte(indicators), &a.Indicators)
	}
	if intelJSON != "" {
		var report intel.Report
		if err := json.Unmarshal([]byte(intelJSON), &report); err == nil {
			a.IntelSnapshot = &report
		}
	}
	if country != "" || city != "" {
		a.Geo = &schema.Geo{Country: country, City: city}
	}
	return &a, nil
}

func (s *ClickHouseStore) AppendFeedback(ctx context.Context, fb *alerting.Feedback) error {
	query := `
		INSERT INTO feedback (feedback_id, alert_id, analyst_id, true_positive, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	err := s.client.Exec(ctx, query,
		fb.FeedbackID, fb.AlertID, fb.AnalystID,
		boolToUInt8(fb.TruePositive), fb.Notes, fb.CreatedAt,
	)
	if err != nil {
		return WrapQueryError("AppendFeedback", "feedback", err)
	}
	return nil
}

func (s *ClickHouseStore) ListFeedback(ctx context.Context, alertID *uuid.UUID) ([]*alerting.Feedback, error) {
	query := `
		SELECT feedback_id, alert_id, analyst_id, true_positive, notes, created_at
		FROM feedback
	`
	var args []any
	if alertID != nil {
		query += " WHERE alert_id = ?"
		args = append(args, *alertID)
	}
	query += " ORDER BY created_at"

	rows, err := s.client.Query(ctx, query, args...)
	if err != nil {
		return nil, WrapQueryError("ListFeedback", "feedback", err)
	}
	defer rows.Close()

	var out []*alerting.Feedback
	for rows.Next() {
		var fb alerting.Feedback
		var tp uint8
		if err := rows.Scan(&fb.FeedbackID, &fb.AlertID, &fb.AnalystID, &tp, &fb.Notes, &fb.CreatedAt); err != nil {
			return nil, WrapQueryError("ListFeedback", "feedback", err)
		}
		fb.TruePositive = tp == 1
		out = append(out, &fb)
	}
	return out, rows.Err()
}

func (s *ClickHouseStore) AppendResponse(ctx context.Context, rec *response.Record) error {
	details, _ := json.Marshal(rec.Details)
	query := `
		INSERT INTO responses (response_id, alert_id, action_type, status, dry_run, details, error, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	err := s.client.Exec(ctx, query,
		rec.ResponseID, rec.AlertID, string(rec.ActionType), string(rec.Status),
		boolToUInt8(rec.DryRun), string(details), rec.Error, rec.ExecutedAt,
	)
	if err != nil {
		return WrapQueryError("AppendResponse", "responses", err)
	}
	return nil
}

func (s *ClickHouseStore) ListResponses(ctx context.Context, alertID *uuid.UUID) ([]*response.Record, error) {
	query := `
		SELECT response_id, alert_id, action_type, status, dry_run, details, error, executed_at
		FROM responses
	`
	var args []any
	if alertID != nil {
		query += " WHERE alert_id = ?"
		args = append(args, *alertID)
	}
	query += " ORDER BY executed_at"

	rows, err := s.client.Query(ctx, query, args...)
	if err != nil {
		return nil, WrapQueryError("ListResponses", "responses", err)
	}
	defer rows.Close()

	var out []*response.Record
	for rows.Next() {
		var rec response.Record
		var action, status, details string
		var dryRun uint8
		if err := rows.Scan(&rec.ResponseID, &rec.AlertID, &action, &status, &dryRun, &details, &rec.Error, &rec.ExecutedAt); err != nil {
			return nil, WrapQueryError("ListResponses", "responses", err)
		}
		rec.ActionType = response.ActionType(action)
		rec.Status = response.RecordStatus(status)
		rec.DryRun = dryRun == 1
		if details != "" {
			_ = json.Unmarshal([]byte(details), &rec.Details)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func (s *ClickHouseStore) SaveModelMeta(ctx context.Context, meta *model.Meta) error {
	return s.insertModelMeta(ctx, meta, time.Now().UTC())
}

func (s *ClickHouseStore) insertModelMeta(ctx context.Context, meta *model.Meta, updatedAt time.Time) error {
	query := `
		INSERT INTO models (
			id, name, model_type, sample_count, feature_count, contamination,
			artifact_path, is_active, trained_at, deployed_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	err := s.client.Exec(ctx, query,
		meta.ID, meta.Name, meta.ModelType,
		uint32(meta.SampleCount), uint32(meta.FeatureCount), meta.Contamination,
		meta.ArtifactPath, boolToUInt8(meta.IsActive),
		meta.TrainedAt, meta.DeployedAt, updatedAt,
	)
	if err != nil {
		return WrapQueryError("SaveModelMeta", "models", err)
	}
	return nil
}

const selectModelColumns = `
	id, name, model_type, sample_count, feature_count, contamination,
	artifact_path, is_active, trained_at, deployed_at
`

func (s *ClickHouseStore) GetModelMeta(ctx context.Context, name string) (*model.Meta, error) {
	query := "SELECT " + selectModelColumns + " FROM models FINAL WHERE name = ? LIMIT 1"
	rows, err := s.client.Query(ctx, query, name)
	if err != nil {
		return nil, WrapQueryError("GetModelMeta", "models", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, fmt.Errorf("%w: %s", model.ErrModelNotFound, name)
	}
	return scanModelMeta(rows)
}

func (s *ClickHouseStore) ActiveModelMeta(ctx context.Context) (*model.Meta, error) {
	query := "SELECT " + selectModelColumns + " FROM models FINAL WHERE is_active = 1 LIMIT 1"
	rows, err := s.client.Query(ctx, query)
	if err != nil {
		return nil, WrapQueryError("ActiveModelMeta", "models", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, fmt.Errorf("%w: no active model", model.ErrModelNotFound)
	}
	return scanModelMeta(rows)
}

func (s *ClickHouseStore) ListModels(ctx context.Context) ([]*model.Meta, error) {
	query := "SELECT " + selectModelColumns + " FROM models FINAL ORDER BY trained_at DESC"
	rows, err := s.client.Query(ctx, query)
	if err != nil {
		return nil, WrapQueryError("ListModels", "models", err)
	}
	defer rows.Close()

	var out []*model.Meta
	for rows.Next() {
		meta, err := scanModelMeta(rows)
		if err != nil {
			return nil, WrapQueryError("ListModels", "models", err)
		}
		out = append(out, meta)
	}
	return out, rows.Err()
}

// ActivateModel rewrites every model row so exactly the named model is
// active. All row versions share one updated_at, so FINAL reads observe
// the activation as a unit.
func (s *ClickHouseStore) ActivateModel(ctx context.Context, name string) error {
	models, err := s.ListModels(ctx)
	if err != nil {
		return err
	}

	found := false
	for _, meta := range models {
		if meta.Name == name {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: %s", model.ErrModelNotFound, name)
	}

	now := time.Now().UTC()
	for _, meta := range models {
		active := meta.Name == name
		if meta.IsActive == active {
			continue
		}
		meta.IsActive = active
		if active {
			meta.DeployedAt = &now
		}
		if err := s.insertModelMeta(ctx, meta, now); err != nil {
			return err
		}
	}
	return nil
}

func scanModelMeta(rows driver.Rows) (*model.Meta, error) {
	var meta model.Meta
	var sampleCount, featureCount uint32
	var isActive uint8
	if err := rows.Scan(
		&meta.ID, &meta.Name, &meta.ModelType, &sampleCount, &featureCount,
		&meta.Contamination, &meta.ArtifactPath, &isActive,
		&meta.TrainedAt, &meta.DeployedAt,
	); err != nil {
		return nil, err
	}
	meta.SampleCount = int(sampleCount)
	meta.FeatureCount = int(featureCount)
	meta.IsActive = isActive == 1
	return &meta, nil
}

func boolToUInt8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
