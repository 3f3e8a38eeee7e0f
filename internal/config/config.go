// Package config handles configuration loading for CloudSentinel.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"cloudsentinel/internal/alerting"
	"cloudsentinel/internal/ingest"
	"cloudsentinel/internal/intel"
	"cloudsentinel/internal/kafka"
	"cloudsentinel/internal/model"
	"cloudsentinel/internal/pipeline"
	"cloudsentinel/internal/response"
	"cloudsentinel/internal/schema"
	"cloudsentinel/internal/storage"
)

// Config holds the complete application configuration.
type Config struct {
	Server     ServerConfig            `yaml:"server"`
	Ingest     IngestConfig            `yaml:"ingest"`
	Kafka      KafkaConfig             `yaml:"kafka"`
	Queue      QueueConfig             `yaml:"queue"`
	Validation ValidationConfig        `yaml:"validation"`
	Auth       ingest.AuthConfig       `yaml:"auth"`
	RateLimit  ingest.RateLimitConfig  `yaml:"rate_limit"`
	Pipeline   pipeline.Config         `yaml:"pipeline"`
	Consumer   pipeline.ConsumerConfig `yaml:"consumer"`
	Storage    StorageConfig           `yaml:"storage"`
	Intel      intel.Config            `yaml:"intel"`
	Model      ModelConfig             `yaml:"model"`
	Alerting   AlertingConfig          `yaml:"alerting"`
	Response   response.ExecutorConfig `yaml:"response"`
	Logging    LoggingConfig           `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	HTTPPort     int           `yaml:"http_port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// IngestConfig holds HTTP ingestion settings.
type IngestConfig struct {
	MaxBatchSize   int `yaml:"max_batch_size"`
	MaxPayloadSize int `yaml:"max_payload_size"`
}

// KafkaConfig holds stream ingestion settings.
type KafkaConfig struct {
	Enabled      bool `yaml:"enabled"`
	kafka.Config `yaml:",inline"`
}

// QueueConfig holds ingest queue settings.
type QueueConfig struct {
	Size int `yaml:"size"`
}

// ValidationConfig holds event validation settings.
type ValidationConfig struct {
	MaxEventAge time.Duration `yaml:"max_event_age"`
	MaxFuture   time.Duration `yaml:"max_future"`
}

// ValidatorConfig converts to the schema validator's configuration.
func (v ValidationConfig) ValidatorConfig() schema.ValidatorConfig {
	return schema.ValidatorConfig{
		MaxAge:    v.MaxEventAge,
		MaxFuture: v.MaxFuture,
	}
}

// StorageConfig holds storage settings.
type StorageConfig struct {
	// Enabled selects ClickHouse. When false the service runs on the
	// in-memory store, which is for development only.
	Enabled     bool                      `yaml:"enabled"`
	ClickHouse  storage.ClickHouseConfig  `yaml:"clickhouse"`
	BatchWriter storage.BatchWriterConfig `yaml:"batch_writer"`
	Retention   storage.RetentionConfig   `yaml:"retention"`
}

// ModelConfig holds model artifact and training settings.
type ModelConfig struct {
	// ArtifactDir is the local bundle directory, used when S3 is disabled.
	ArtifactDir string `yaml:"artifact_dir"`

	// Contamination is the expected anomaly fraction used for training.
	Contamination float64 `yaml:"contamination"`

	S3 S3ArtifactConfig `yaml:"s3"`
}

// S3ArtifactConfig selects the S3 bundle store for model artifacts.
type S3ArtifactConfig struct {
	Enabled        bool `yaml:"enabled"`
	model.S3Config `yaml:",inline"`
}

// AlertingConfig holds alert lifecycle and notification settings.
type AlertingConfig struct {
	NotifyTimeout time.Duration      `yaml:"notify_timeout"`
	Slack         SlackChannelConfig `yaml:"slack"`
	PagerDuty     PagerDutyConfig    `yaml:"pagerduty"`
	Webhooks      []WebhookConfig    `yaml:"webhooks"`
	LogAlerts     bool               `yaml:"log_alerts"`
}

// ManagerConfig converts to the alert manager's configuration.
func (a AlertingConfig) ManagerConfig() alerting.ManagerConfig {
	return alerting.ManagerConfig{NotifyTimeout: a.NotifyTimeout}
}

// SlackChannelConfig configures the Slack notification channel.
type SlackChannelConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
	Channel    string `yaml:"channel"`
	Username   string `yaml:"username"`
}

// PagerDutyConfig configures the PagerDuty notification channel.
type PagerDutyConfig struct {
	Enabled    bool   `yaml:"enabled"`
	RoutingKey string `yaml:"routing_key"`
}

// WebhookConfig configures a generic webhook notification channel.
type WebhookConfig struct {
	Name    string            `yaml:"name"`
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:     8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Ingest: IngestConfig{
			MaxBatchSize:   1000,
			MaxPayloadSize: 10 * 1024 * 1024, // 10MB
		},
		Kafka: KafkaConfig{
			Enabled: false,
			Config:  *kafka.DefaultConfig(),
		},
		Queue: QueueConfig{
			Size: 100000,
		},
		Validation: ValidationConfig{
			MaxEventAge: 7 * 24 * time.Hour,
			MaxFuture:   5 * time.Minute,
		},
		Auth:      ingest.DefaultAuthConfig(),
		RateLimit: ingest.DefaultRateLimitConfig(),
		Pipeline:  pipeline.DefaultConfig(),
		Consumer:  pipeline.DefaultConsumerConfig(),
		Storage: StorageConfig{
			Enabled:     false, // In-memory store for development without ClickHouse.
			ClickHouse:  storage.DefaultClickHouseConfig(),
			BatchWriter: storage.DefaultBatchWriterConfig(),
			Retention:   storage.DefaultRetentionConfig(),
		},
		Intel: intel.DefaultConfig(),
		Model: ModelConfig{
			ArtifactDir:   "data/models",
			Contamination: 0.1,
			S3: S3ArtifactConfig{
				Enabled:  false,
				S3Config: model.DefaultS3Config(),
			},
		},
		Alerting: AlertingConfig{
			NotifyTimeout: 10 * time.Second,
			LogAlerts:     true,
		},
		Response: response.DefaultExecutorConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from a file or returns defaults.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configPath := os.Getenv("SENTINEL_CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides. Secrets are
// expected through the environment rather than the config file.
func (c *Config) applyEnvOverrides() {
	if port := os.Getenv("SENTINEL_HTTP_PORT"); port != "" {
		fmt.Sscanf(port, "%d", &c.Server.HTTPPort)
	}

	if level := os.Getenv("SENTINEL_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}

	if apiKey := os.Getenv("SENTINEL_API_KEY"); apiKey != "" {
		c.Auth.APIKeys = append(c.Auth.APIKeys, apiKey)
		c.Auth.Enabled = true
	}

	if enabled := os.Getenv("SENTINEL_STORAGE_ENABLED"); enabled == "true" {
		c.Storage.Enabled = true
	}

	if host := os.Getenv("CLICKHOUSE_HOST"); host != "" {
		c.Storage.ClickHouse.Hosts = splitAndTrim(host, ",")
	}
	if db := os.Getenv("CLICKHOUSE_DATABASE"); db != "" {
		c.Storage.ClickHouse.Database = db
	}
	if user := os.Getenv("CLICKHOUSE_USER"); user != "" {
		c.Storage.ClickHouse.Username = user
	}
	if pass := os.Getenv("CLICKHOUSE_PASSWORD"); pass != "" {
		c.Storage.ClickHouse.Password = pass
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		c.Kafka.Brokers = splitAndTrim(brokers, ",")
		c.Kafka.Enabled = true
	}
	if user := os.Getenv("KAFKA_SASL_USERNAME"); user != "" {
		c.Kafka.SASLUsername = user
	}
	if pass := os.Getenv("KAFKA_SASL_PASSWORD"); pass != "" {
		c.Kafka.SASLPassword = pass
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Intel.Redis.Addr = addr
		c.Intel.Redis.Enabled = true
	}
	if pass := os.Getenv("REDIS_PASSWORD"); pass != "" {
		c.Intel.Redis.Password = pass
	}

	if key := os.Getenv("VIRUSTOTAL_API_KEY"); key != "" {
		c.Intel.VirusTotalAPIKey = key
	}
	if key := os.Getenv("SHODAN_API_KEY"); key != "" {
		c.Intel.ShodanAPIKey = key
	}

	if url := os.Getenv("SLACK_WEBHOOK_URL"); url != "" {
		c.Alerting.Slack.WebhookURL = url
		c.Alerting.Slack.Enabled = true
	}
	if key := os.Getenv("PAGERDUTY_ROUTING_KEY"); key != "" {
		c.Alerting.PagerDuty.RoutingKey = key
		c.Alerting.PagerDuty.Enabled = true
	}

	if dryRun := os.Getenv("SENTINEL_RESPONSE_DRY_RUN"); dryRun == "false" {
		c.Response.DryRun = false
	}
}

// splitAndTrim splits a string by separator and drops empty parts.
func splitAndTrim(s, sep string) []string {
	parts := make([]string, 0)
	for _, part := range strings.Split(s, sep) {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port: %d", c.Server.HTTPPort)
	}

	if c.Queue.Size <= 0 {
		return fmt.Errorf("queue size must be positive")
	}

	if c.Ingest.MaxBatchSize <= 0 {
		return fmt.Errorf("max_batch_size must be positive")
	}

	if c.Pipeline.AnomalyGate < 0 || c.Pipeline.AnomalyGate > 1 {
		return fmt.Errorf("anomaly_gate must be in [0, 1], got %v", c.Pipeline.AnomalyGate)
	}

	if c.Pipeline.AlertThreshold < 0 || c.Pipeline.AlertThreshold > 1 {
		return fmt.Errorf("alert_threshold must be in [0, 1], got %v", c.Pipeline.AlertThreshold)
	}

	if c.Consumer.Workers <= 0 {
		return fmt.Errorf("consumer workers must be positive")
	}

	if c.Model.Contamination <= 0 || c.Model.Contamination >= 0.5 {
		return fmt.Errorf("contamination must be in (0, 0.5), got %v", c.Model.Contamination)
	}

	if c.Kafka.Enabled {
		if err := c.Kafka.Config.Validate(); err != nil {
			return err
		}
	}

	if c.Alerting.Slack.Enabled && c.Alerting.Slack.WebhookURL == "" {
		return fmt.Errorf("slack channel enabled without webhook_url")
	}

	if c.Alerting.PagerDuty.Enabled && c.Alerting.PagerDuty.RoutingKey == "" {
		return fmt.Errorf("pagerduty channel enabled without routing_key")
	}

	return nil
}
