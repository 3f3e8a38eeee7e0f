package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RetentionConfig holds TTL settings for storage tables. Zero disables
// the policy for that table.
type RetentionConfig struct {
	EventsTTL    time.Duration `yaml:"events_ttl"`
	AlertsTTL    time.Duration `yaml:"alerts_ttl"`
	FeedbackTTL  time.Duration `yaml:"feedback_ttl"`
	ResponsesTTL time.Duration `yaml:"responses_ttl"`
}

// DefaultRetentionConfig returns the default retention policy: events
// age out after 90 days, everything tied to analyst review after a
// year.
func DefaultRetentionConfig() RetentionConfig {
	return RetentionConfig{
		EventsTTL:    90 * 24 * time.Hour,
		AlertsTTL:    365 * 24 * time.Hour,
		FeedbackTTL:  365 * 24 * time.Hour,
		ResponsesTTL: 365 * 24 * time.Hour,
	}
}

// RetentionManager applies TTL policies to the storage tables.
type RetentionManager struct {
	client *ClickHouseClient
	config RetentionConfig
}

// NewRetentionManager creates a new retention manager.
func NewRetentionManager(client *ClickHouseClient, config RetentionConfig) *RetentionManager {
	return &RetentionManager{
		client: client,
		config: config,
	}
}

// ApplyTTLs updates TTL settings on all tables to match the configured
// retention periods. Call after migrations have run.
func (r *RetentionManager) ApplyTTLs(ctx context.Context) error {
	policies := []struct {
		table  string
		column string
		ttl    time.Duration
	}{
		{"events", "timestamp", r.config.EventsTTL},
		{"alerts", "detected_at", r.config.AlertsTTL},
		{"feedback", "created_at", r.config.FeedbackTTL},
		{"responses", "executed_at", r.config.ResponsesTTL},
	}

	for _, p := range policies {
		if p.ttl <= 0 {
			continue
		}

		days := int(p.ttl.Hours() / 24)
		if days < 1 {
			days = 1
		}

		query := fmt.Sprintf(
			"ALTER TABLE %s MODIFY TTL %s + INTERVAL %d DAY DELETE",
			p.table, p.column, days,
		)

		if err := r.client.Exec(ctx, query); err != nil {
			// A missing table should not fail startup.
			slog.Warn("failed to apply TTL policy",
				"table", p.table,
				"ttl_days", days,
				"error", err,
			)
			continue
		}

		slog.Info("applied retention policy",
			"table", p.table,
			"ttl_days", days,
		)
	}

	return nil
}
