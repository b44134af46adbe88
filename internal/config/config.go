package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Defaults used when the corresponding environment variable is unset.
const (
	DefaultAPIBaseURL      = "http://localhost:8000"
	DefaultChatSocketURL   = "ws://localhost:8000"
	DefaultMonitorFallback = "http://localhost:8001"
	DefaultHistoryPageSize = 20
	DefaultProbeTimeout    = 2 * time.Second
	DefaultZipkinURL       = "http://localhost:9411/api/v2/spans"
)

// Config holds all configuration for the realtime client core.
type Config struct {
	// APIBaseURL is the REST backend used for chat history pagination.
	APIBaseURL string `validate:"required,url"`
	// ChatSocketURL is the websocket base for the authenticated chat namespace.
	ChatSocketURL string `validate:"required"`
	// MonitorCandidates is the ordered list of monitor endpoints probed during
	// service discovery. May be empty, in which case MonitorFallbackURL is used.
	MonitorCandidates []string
	// MonitorFallbackURL is used when no candidate answers the health probe.
	MonitorFallbackURL string `validate:"required,url"`
	// StateDir is where the bearer token and discovered monitor URL persist.
	StateDir string `validate:"required"`
	// HistoryPageSize is the page size for chat history fetches.
	HistoryPageSize int `validate:"gt=0"`
	// ProbeTimeout bounds each individual service-discovery health check.
	ProbeTimeout time.Duration `validate:"gt=0"`
	// TracingEnabled turns on event-bus tracing via Zipkin.
	TracingEnabled bool
	// ZipkinURL is the span collector endpoint used when tracing is enabled.
	ZipkinURL string `validate:"required,url"`
}

// New loads configuration from environment variables, reading a .env file
// first if one is present.
func New() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		// No .env file is fine; we rely on the environment.
		_ = err
	}

	cfg := &Config{
		APIBaseURL:         getenv("PULSEPAL_API_URL", DefaultAPIBaseURL),
		ChatSocketURL:      getenv("PULSEPAL_CHAT_SOCKET_URL", DefaultChatSocketURL),
		MonitorFallbackURL: getenv("PULSEPAL_MONITOR_FALLBACK_URL", DefaultMonitorFallback),
		StateDir:           getenv("PULSEPAL_STATE_DIR", defaultStateDir()),
		HistoryPageSize:    DefaultHistoryPageSize,
		ProbeTimeout:       DefaultProbeTimeout,
		TracingEnabled:     os.Getenv("PULSEPAL_TRACING_ENABLED") == "true",
		ZipkinURL:          getenv("PULSEPAL_ZIPKIN_URL", DefaultZipkinURL),
	}

	if raw := os.Getenv("PULSEPAL_MONITOR_CANDIDATES"); raw != "" {
		for _, c := range strings.Split(raw, ",") {
			if c = strings.TrimSpace(c); c != "" {
				cfg.MonitorCandidates = append(cfg.MonitorCandidates, c)
			}
		}
	}
	if raw := os.Getenv("PULSEPAL_HISTORY_PAGE_SIZE"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid PULSEPAL_HISTORY_PAGE_SIZE %q: %w", raw, err)
		}
		cfg.HistoryPageSize = n
	}
	if raw := os.Getenv("PULSEPAL_PROBE_TIMEOUT"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid PULSEPAL_PROBE_TIMEOUT %q: %w", raw, err)
		}
		cfg.ProbeTimeout = d
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".pulsepal"
	}
	return filepath.Join(home, ".pulsepal")
}
