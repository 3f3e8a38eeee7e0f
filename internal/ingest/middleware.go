package ingest

import (
	"log/slog"
	"net/http"
	"time"
)

// AuthConfig configures API key authentication for the ingest API.
type AuthConfig struct {
	Enabled      bool     `json:"enabled" yaml:"enabled"`
	APIKeyHeader string   `json:"api_key_header" yaml:"api_key_header"`
	APIKeys      []string `json:"api_keys" yaml:"api_keys"`
}

// DefaultAuthConfig returns auth disabled with the standard key header.
func DefaultAuthConfig() AuthConfig {
	return AuthConfig{
		APIKeyHeader: "X-API-Key",
	}
}

// MiddlewareConfig bundles the middleware settings for the ingest API.
type MiddlewareConfig struct {
	Auth      AuthConfig      `json:"auth" yaml:"auth"`
	RateLimit RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`
}

// DefaultMiddlewareConfig returns the default middleware settings.
func DefaultMiddlewareConfig() MiddlewareConfig {
	return MiddlewareConfig{
		Auth:      DefaultAuthConfig(),
		RateLimit: DefaultRateLimitConfig(),
	}
}

// WithMiddleware wraps the handler with the ingest middleware stack.
// The returned limiter is non-nil only when rate limiting is enabled;
// callers own its Stop.
func WithMiddleware(handler http.Handler, cfg MiddlewareConfig) (http.Handler, *RateLimiter) {
	// Applied in reverse order so recovery runs outermost.
	h := handler

	var limiter *RateLimiter
	if cfg.RateLimit.Enabled {
		limiter = NewRateLimiter(cfg.RateLimit)
		h = limiter.Middleware(h)
	}

	if cfg.Auth.Enabled {
		h = authMiddleware(h, cfg.Auth)
	}

	h = loggingMiddleware(h)
	h = recoveryMiddleware(h)

	return h, limiter
}

// loggingMiddleware logs HTTP requests.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)

		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration_ms", duration.Milliseconds(),
			"remote_addr", r.RemoteAddr,
		)
	})
}

// authMiddleware checks for a valid API key.
func authMiddleware(next http.Handler, authCfg AuthConfig) http.Handler {
	validKeys := make(map[string]bool)
	for _, key := range authCfg.APIKeys {
		validKeys[key] = true
	}

	header := authCfg.APIKeyHeader
	if header == "" {
		header = "X-API-Key"
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Health and metrics stay open for probes and scrapers.
		if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		apiKey := r.Header.Get(header)
		if apiKey == "" {
			http.Error(w, `{"success":false,"error":"missing API key"}`, http.StatusUnauthorized)
			return
		}

		if !validKeys[apiKey] {
			http.Error(w, `{"success":false,"error":"invalid API key"}`, http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// recoveryMiddleware recovers from panics.
func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				slog.Error("panic recovered", "error", err, "path", r.URL.Path)
				http.Error(w, `{"success":false,"error":"internal server error"}`, http.StatusInternalServerError)
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
