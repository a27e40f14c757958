// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, the sqlite store path, the Postgres
// listen DSN for change capture, push provider credentials, the fallback
// poller cadence, rate limiting, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// CaptureConfig defines the change-capture listener settings. The bridge
// LISTENs on two Postgres channels fed by row triggers; the DSN points at the
// business database, which is owned by another service.
type CaptureConfig struct {
	Enabled        bool          // CAPTURE_ENABLED
	DSN            string        // CAPTURE_DSN (postgres:// URL or key=value form)
	CreatedChannel string        // CAPTURE_CREATED_CHANNEL
	StatusChannel  string        // CAPTURE_STATUS_CHANNEL
	ReconnectDelay time.Duration // delay after an established connection drops
	ConnectDelay   time.Duration // delay after a failed connect attempt
}

// PushConfig defines the external push capability settings.
type PushConfig struct {
	ExpoURL     string        // EXPO_PUSH_URL
	FCMURL      string        // FCM_PUSH_URL
	FCMKey      string        // FCM_SERVER_KEY
	SendTimeout time.Duration // per-record cap on one send call
}

// PollerConfig defines the delivery fallback poller settings.
type PollerConfig struct {
	Enabled  bool          // POLLER_ENABLED
	Interval time.Duration // POLL_INTERVAL
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging
	LogLevel    string // debug|info|warn|error|fatal|panic
	LogPretty   bool   // pretty console logs in dev
	APIBasePath string // base path for API routes

	// App
	DBPath       string // SQLite path (feed store, requests, users, messages)
	FeedCapacity int    // max retained notifications per user

	// Delivery paths
	Capture CaptureConfig
	Push    PushConfig
	Poller  PollerConfig

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging
		LogLevel:    strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:   getbool("LOG_PRETTY", false),
		APIBasePath: normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// App
		DBPath:       getenv("DB_PATH", "notify.db"),
		FeedCapacity: getint("FEED_CAPACITY", 100),

		// Change capture
		Capture: CaptureConfig{
			Enabled:        getbool("CAPTURE_ENABLED", false),
			DSN:            getenv("CAPTURE_DSN", ""),
			CreatedChannel: getenv("CAPTURE_CREATED_CHANNEL", "lesson_request_created"),
			StatusChannel:  getenv("CAPTURE_STATUS_CHANNEL", "lesson_request_status_changed"),
			ReconnectDelay: getdur("CAPTURE_RECONNECT_DELAY", 5*time.Second),
			ConnectDelay:   getdur("CAPTURE_CONNECT_DELAY", 10*time.Second),
		},

		// Push capability
		Push: PushConfig{
			ExpoURL:     getenv("EXPO_PUSH_URL", "https://exp.host/--/api/v2/push/send"),
			FCMURL:      getenv("FCM_PUSH_URL", "https://fcm.googleapis.com/fcm/send"),
			FCMKey:      getenv("FCM_SERVER_KEY", ""),
			SendTimeout: getdur("PUSH_SEND_TIMEOUT", 10*time.Second),
		},

		// Fallback poller
		Poller: PollerConfig{
			Enabled:  getbool("POLLER_ENABLED", true),
			Interval: getdur("POLL_INTERVAL", 5*time.Second),
		},

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-notify-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if cfg.FeedCapacity < 1 {
		return cfg, errors.New("FEED_CAPACITY must be >= 1")
	}
	if cfg.Capture.Enabled && strings.TrimSpace(cfg.Capture.DSN) == "" {
		return cfg, errors.New("CAPTURE_DSN must not be empty when CAPTURE_ENABLED is set")
	}
	if cfg.Capture.ReconnectDelay <= 0 || cfg.Capture.ConnectDelay <= 0 {
		return cfg, errors.New("capture retry delays must be positive durations")
	}
	if cfg.Poller.Interval <= 0 {
		return cfg, errors.New("POLL_INTERVAL must be > 0")
	}
	if cfg.Push.SendTimeout <= 0 {
		return cfg, errors.New("PUSH_SEND_TIMEOUT must be > 0")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// normalizeBasePath ensures the base path starts with "/" and has no
// trailing slash ("" and "/" both mean the router root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" || p == "/" {
		return ""
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return strings.TrimRight(p, "/")
}
