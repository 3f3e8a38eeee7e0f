package intel

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config configures the intelligence service.
type Config struct {
	Enabled       bool          `yaml:"enabled"`
	LookupTimeout time.Duration `yaml:"lookup_timeout"`
	CacheTTL      time.Duration `yaml:"cache_ttl"`

	VirusTotalAPIKey string `yaml:"virustotal_api_key"`
	ShodanAPIKey     string `yaml:"shodan_api_key"`

	// KnownThreatActors is a locally maintained IP list flagged as known
	// threat actor infrastructure.
	KnownThreatActors []string `yaml:"known_threat_actors"`

	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig holds Redis cache connection settings.
type RedisConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PoolSize     int           `yaml:"pool_size"`
}

// DefaultConfig returns the default intelligence configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		LookupTimeout: 10 * time.Second,
		CacheTTL:      time.Hour,
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			PoolSize:     10,
		},
	}
}

// Service screens IPs against external reputation providers. All failures
// degrade to an unavailable report; the pipeline never blocks on intel.
type Service struct {
	config    Config
	providers []Provider
	cache     *redis.Client
	logger    *slog.Logger

	// Local threat actor list, lowercased.
	actors map[string]bool

	// In-process fallback cache used when Redis is disabled.
	mu       sync.RWMutex
	memCache map[string]cachedReport

	// Statistics
	lookups   int64
	cacheHits int64
	failures  int64
}

type cachedReport struct {
	report Report
	expiry time.Time
}

// NewService creates the intelligence service. Redis is optional; when
// disabled or unreachable the service falls back to an in-process cache.
func NewService(cfg Config, logger *slog.Logger) *Service {
	s := &Service{
		config:   cfg,
		logger:   logger,
		actors:   make(map[string]bool),
		memCache: make(map[string]cachedReport),
	}

	for _, ip := range cfg.KnownThreatActors {
		s.actors[strings.ToLower(strings.TrimSpace(ip))] = true
	}

	if cfg.VirusTotalAPIKey != "" {
		s.providers = append(s.providers, NewVirusTotalProvider(cfg.VirusTotalAPIKey, cfg.LookupTimeout))
	}
	if cfg.ShodanAPIKey != "" {
		s.providers = append(s.providers, NewShodanProvider(cfg.ShodanAPIKey, cfg.LookupTimeout))
	}

	if cfg.Redis.Enabled {
		s.cache = redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
			PoolSize:     cfg.Redis.PoolSize,
		})
	}

	return s
}

// AddProvider registers an additional reputation provider.
func (s *Service) AddProvider(p Provider) {
	s.providers = append(s.providers, p)
}

// Lookup screens an IP. The returned report has Available=false when the
// service is disabled, the IP is empty, or every provider failed; callers
// treat that as missing enrichment and continue.
func (s *Service) Lookup(ctx context.Context, ip string) Report {
	if !s.config.Enabled || ip == "" {
		return Unavailable(ip)
	}

	if cached, ok := s.cachedLookup(ctx, ip); ok {
		s.mu.Lock()
		s.cacheHits++
		s.mu.Unlock()
		return cached
	}

	s.mu.Lock()
	s.lookups++
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.config.LookupTimeout)
	defer cancel()

	report := Report{
		IPAddress: ip,
		CheckedAt: time.Now().UTC(),
	}

	succeeded := 0
	for _, p := range s.providers {
		src, err := p.Check(ctx, ip)
		if err != nil {
			s.logger.Warn("intel provider lookup failed",
				"provider", p.Name(),
				"ip", ip,
				"error", err,
			)
			continue
		}
		succeeded++
		report.Sources = append(report.Sources, *src)
		if src.MaliciousCount > 0 {
			report.IsMaliciousIP = true
		}
	}

	// The local actor list needs no provider, so an actor-list hit counts
	// as available intelligence even when every provider is down.
	if s.actors[strings.ToLower(ip)] {
		report.IsKnownThreatActor = true
		succeeded++
	}

	// No sources consulted means no intelligence exists, whether the
	// providers all failed or none are configured.
	if succeeded == 0 {
		if len(s.providers) > 0 {
			s.mu.Lock()
			s.failures++
			s.mu.Unlock()
		}
		return Unavailable(ip)
	}

	report.Available = true
	s.storeCached(ctx, ip, report)
	return report
}

func (s *Service) cachedLookup(ctx context.Context, ip string) (Report, bool) {
	if s.cache != nil {
		data, err := s.cache.Get(ctx, cacheKey(ip)).Result()
		if err == nil {
			var r Report
			if json.Unmarshal([]byte(data), &r) == nil {
				return r, true
			}
		} else if !errors.Is(err, redis.Nil) {
			s.logger.Debug("intel cache read failed", "error", err)
		}
		return Report{}, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.memCache[ip]; ok && time.Now().Before(c.expiry) {
		return c.report, true
	}
	return Report{}, false
}

func (s *Service) storeCached(ctx context.Context, ip string, r Report) {
	if s.cache != nil {
		data, err := json.Marshal(r)
		if err != nil {
			return
		}
		if err := s.cache.Set(ctx, cacheKey(ip), data, s.config.CacheTTL).Err(); err != nil {
			s.logger.Debug("intel cache write failed", "error", err)
		}
		return
	}

	s.mu.Lock()
	s.memCache[ip] = cachedReport{report: r, expiry: time.Now().Add(s.config.CacheTTL)}
	s.mu.Unlock()
}

// Stats returns lookup statistics.
func (s *Service) Stats() map[string]int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]int64{
		"lookups":    s.lookups,
		"cache_hits": s.cacheHits,
		"failures":   s.failures,
	}
}

// Close releases the Redis connection if one exists.
func (s *Service) Close() error {
	if s.cache != nil {
		return s.cache.Close()
	}
	return nil
}

func cacheKey(ip string) string {
	return "intel:ip:" + strings.ToLower(ip)
}
