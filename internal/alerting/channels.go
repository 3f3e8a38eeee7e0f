package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"cloudsentinel/internal/scoring"
)

// WebhookChannel sends alerts via HTTP webhook.
type WebhookChannel struct {
	name    string
	url     string
	headers map[string]string
	client  *http.Client
}

// NewWebhookChannel creates a new webhook channel.
func NewWebhookChannel(name, url string, headers map[string]string) *WebhookChannel {
	return &WebhookChannel{
		name:    name,
		url:     url,
		headers: headers,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (w *WebhookChannel) Name() string {
	return w.name
}

func (w *WebhookChannel) Send(ctx context.Context, alert *Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, string(body))
	}

	return nil
}

// SlackChannel sends alerts to Slack.
type SlackChannel struct {
	webhookURL string
	channel    string
	username   string
	client     *http.Client
}

// NewSlackChannel creates a new Slack channel.
func NewSlackChannel(webhookURL, channel, username string) *SlackChannel {
	return &SlackChannel{
		webhookURL: webhookURL,
		channel:    channel,
		username:   username,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (s *SlackChannel) Name() string {
	return "slack"
}

func (s *SlackChannel) Send(ctx context.Context, alert *Alert) error {
	color := s.severityColor(alert.Severity)

	payload := map[string]interface{}{
		"channel":  s.channel,
		"username": s.username,
		"attachments": []map[string]interface{}{
			{
				"color":  color,
				"title":  fmt.Sprintf("[%s] %s", strings.ToUpper(string(alert.Severity)), alert.Title),
				"text":   alert.Description,
				"fields": s.buildFields(alert),
				"footer": fmt.Sprintf("Alert ID: %s | Category: %s", alert.AlertID.String()[:8], alert.Category),
				"ts":     alert.DetectedAt.Unix(),
			},
		},
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.webhookURL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("slack returned %d: %s", resp.StatusCode, string(body))
	}

	return nil
}

func (s *SlackChannel) severityColor(sev scoring.Severity) string {
	switch sev {
	case scoring.SeverityCritical:
		return "#FF0000"
	case scoring.SeverityHigh:
		return "#FFA500"
	case scoring.SeverityMedium:
		return "#FFFF00"
	case scoring.SeverityLow:
		return "#00FF00"
	default:
		return "#808080"
	}
}

func (s *SlackChannel) buildFields(alert *Alert) []map[string]interface{} {
	fields := []map[string]interface{}{
		{"title": "Severity", "value": string(alert.Severity), "short": true},
		{"title": "Threat Score", "value": fmt.Sprintf("%.2f", alert.ThreatScore), "short": true},
	}

	if alert.ActorID != "" {
		fields = append(fields, map[string]interface{}{
			"title": "User", "value": alert.ActorID, "short": true,
		})
	}
	if alert.IPAddress != "" {
		fields = append(fields, map[string]interface{}{
			"title": "Source IP", "value": alert.IPAddress, "short": true,
		})
	}
	if len(alert.MITRETactics) > 0 {
		fields = append(fields, map[string]interface{}{
			"title": "MITRE ATT&CK", "value": strings.Join(alert.MITRETactics, ", "), "short": false,
		})
	}
	if len(alert.AffectedResources) > 0 {
		fields = append(fields, map[string]interface{}{
			"title": "Resources", "value": strings.Join(alert.AffectedResources, ", "), "short": false,
		})
	}

	return fields
}

// PagerDutyChannel sends alerts to PagerDuty.
type PagerDutyChannel struct {
	routingKey string
	endpoint   string
	client     *http.Client
}

// NewPagerDutyChannel creates a new PagerDuty channel.
func NewPagerDutyChannel(routingKey string) *PagerDutyChannel {
	return &PagerDutyChannel{
		routingKey: routingKey,
		endpoint:   "https://events.pagerduty.com/v2/enqueue",
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (p *PagerDutyChannel) Name() string {
	return "pagerduty"
}

func (p *PagerDutyChannel) Send(ctx context.Context, alert *Alert) error {
	payload := map[string]interface{}{
		"routing_key":  p.routingKey,
		"event_action": "trigger",
		"dedup_key":    alert.AlertID.String(),
		"payload": map[string]interface{}{
			"summary":   alert.Title,
			"source":    "cloudsentinel",
			"severity":  p.mapSeverity(alert.Severity),
			"timestamp": alert.DetectedAt.Format(time.RFC3339),
			"custom_details": map[string]interface{}{
				"description":  alert.Description,
				"category":     string(alert.Category),
				"threat_score": alert.ThreatScore,
				"actor_id":     alert.ActorID,
				"ip_address":   alert.IPAddress,
			},
		},
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 202 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("pagerduty returned %d: %s", resp.StatusCode, string(body))
	}

	return nil
}

func (p *PagerDutyChannel) mapSeverity(sev scoring.Severity) string {
	switch sev {
	case scoring.SeverityCritical:
		return "critical"
	case scoring.SeverityHigh:
		return "error"
	case scoring.SeverityMedium:
		return "warning"
	default:
		return "info"
	}
}

// LogChannel writes alerts to the structured log, for development.
type LogChannel struct{}

// NewLogChannel creates a new log channel.
func NewLogChannel() *LogChannel {
	return &LogChannel{}
}

func (l *LogChannel) Name() string {
	return "log"
}

func (l *LogChannel) Send(ctx context.Context, alert *Alert) error {
	slog.Warn("ALERT",
		"alert_id", alert.AlertID,
		"severity", alert.Severity,
		"category", alert.Category,
		"title", alert.Title,
		"threat_score", alert.ThreatScore,
		"actor_id", alert.ActorID,
		"ip_address", alert.IPAddress)
	return nil
}
