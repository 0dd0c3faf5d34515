// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes worker settings such
// as batch/lease/chunk tuning, resolution thresholds, the AI client, the admin
// HTTP server, logging, rate limiting, and observability.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/grocerly/go-ingredient-worker/internal/sysutil"
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
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-ingredient-worker")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// AIConfig defines the AI standardizer client settings.
type AIConfig struct {
	BaseURL    string        // AI_BASE_URL
	APIKey     string        // AI_API_KEY
	Model      string        // AI_MODEL
	Timeout    time.Duration // AI_TIMEOUT hard per-call timeout
	RetryCount int           // AI_RETRY_COUNT retries on 429/5xx
	RetryWait  time.Duration // AI_RETRY_WAIT initial backoff
	MaxBatch   int           // AI_MAX_BATCH caps per-call payload size
	RPS        float64       // AI_RPS client-side pacing (0 = unpaced)
	Burst      int           // AI_BURST pacing bucket size
}

// WorkerConfig defines the processor loop settings.
type WorkerConfig struct {
	ResolverID       string        // RESOLVER_ID worker identity on leases and writes
	BatchLimit       int           // BATCH_LIMIT rows claimed per cycle
	MaxCycles        int           // MAX_CYCLES 0 = run forever
	Interval         time.Duration // WORKER_INTERVAL sleep between empty cycles
	ChunkSize        int           // CHUNK_SIZE rows per AI call
	ChunkConcurrency int           // CHUNK_CONCURRENCY parallel chunks in flight
	LeaseDuration    time.Duration // LEASE_DURATION exclusive claim window
	DryRun           bool          // DRY_RUN resolve without persisting
	Context          string        // STANDARDIZE_CONTEXT recipe|pantry|dynamic
	ReviewMode       string        // REVIEW_MODE ingredient|unit|any
	SourceFilter     string        // SOURCE_FILTER scraper|recipe|any

	MinConfidence      float64 // DOUBLECHECK_MIN_CONFIDENCE
	MinSimilarity      float64 // DOUBLECHECK_MIN_SIMILARITY
	MinWriteConfidence float64 // MIN_WRITE_CONFIDENCE floor for a live write

	UnitEnabled       bool    // UNIT_RESOLUTION_ENABLED
	UnitDryRun        bool    // UNIT_DRY_RUN
	UnitMinConfidence float64 // UNIT_MIN_CONFIDENCE

	SampleCacheTTL time.Duration // SAMPLE_CACHE_TTL vocabulary sample reuse window
	SampleLimit    int           // SAMPLE_LIMIT names sent to the AI prompt
}

// Config holds all configuration values for the application.
type Config struct {
	// Admin HTTP server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging
	LogLevel  string // debug|info|warn|error|fatal|panic
	LogPretty bool   // pretty console logs in dev

	// App
	DBPath string // SQLite path

	// Rate limiting (admin surface)
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Domain
	Worker WorkerConfig
	AI     AIConfig

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
		// Admin HTTP server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging
		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),

		// App
		DBPath: getenv("DB_PATH", "ingredients.db"),

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

		// Worker
		Worker: WorkerConfig{
			ResolverID:       getenv("RESOLVER_ID", defaultResolverID()),
			BatchLimit:       getint("BATCH_LIMIT", 50),
			MaxCycles:        getint("MAX_CYCLES", 0),
			Interval:         getdur("WORKER_INTERVAL", 30*time.Second),
			ChunkSize:        getint("CHUNK_SIZE", 20),
			ChunkConcurrency: getint("CHUNK_CONCURRENCY", 2),
			LeaseDuration:    getdur("LEASE_DURATION", 120*time.Second),
			DryRun:           getbool("DRY_RUN", false),
			Context:          strings.ToLower(getenv("STANDARDIZE_CONTEXT", "dynamic")),
			ReviewMode:       strings.ToLower(getenv("REVIEW_MODE", "ingredient")),
			SourceFilter:     strings.ToLower(getenv("SOURCE_FILTER", "any")),

			MinConfidence:      getfloat("DOUBLECHECK_MIN_CONFIDENCE", 0.85),
			MinSimilarity:      getfloat("DOUBLECHECK_MIN_SIMILARITY", 0.82),
			MinWriteConfidence: getfloat("MIN_WRITE_CONFIDENCE", 0.3),

			UnitEnabled:       getbool("UNIT_RESOLUTION_ENABLED", false),
			UnitDryRun:        getbool("UNIT_DRY_RUN", false),
			UnitMinConfidence: getfloat("UNIT_MIN_CONFIDENCE", 0.6),

			SampleCacheTTL: getdur("SAMPLE_CACHE_TTL", 5*time.Minute),
			SampleLimit:    getint("SAMPLE_LIMIT", 150),
		},

		// AI client
		AI: AIConfig{
			BaseURL:    getenv("AI_BASE_URL", ""),
			APIKey:     getenv("AI_API_KEY", ""),
			Model:      getenv("AI_MODEL", "gpt-4o-mini"),
			Timeout:    getdur("AI_TIMEOUT", 30*time.Second),
			RetryCount: getint("AI_RETRY_COUNT", 2),
			RetryWait:  getdur("AI_RETRY_WAIT", time.Second),
			MaxBatch:   getint("AI_MAX_BATCH", 25),
			RPS:        getfloat("AI_RPS", 0),
			Burst:      getint("AI_BURST", 1),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-ingredient-worker"),
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
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}

	w := cfg.Worker
	if strings.TrimSpace(w.ResolverID) == "" {
		return cfg, errors.New("RESOLVER_ID must not be empty")
	}
	if w.BatchLimit < 1 {
		return cfg, errors.New("BATCH_LIMIT must be >= 1")
	}
	if w.MaxCycles < 0 {
		return cfg, errors.New("MAX_CYCLES must be >= 0")
	}
	if w.Interval <= 0 {
		return cfg, errors.New("WORKER_INTERVAL must be > 0")
	}
	if w.ChunkSize < 1 {
		return cfg, errors.New("CHUNK_SIZE must be >= 1")
	}
	if w.ChunkConcurrency < 1 {
		return cfg, errors.New("CHUNK_CONCURRENCY must be >= 1")
	}
	if w.LeaseDuration <= 0 {
		return cfg, errors.New("LEASE_DURATION must be > 0")
	}
	switch w.Context {
	case "recipe", "pantry", "dynamic":
	default:
		return cfg, errors.New("STANDARDIZE_CONTEXT must be one of: recipe, pantry, dynamic")
	}
	switch w.ReviewMode {
	case "ingredient", "unit", "any":
	default:
		return cfg, errors.New("REVIEW_MODE must be one of: ingredient, unit, any")
	}
	switch w.SourceFilter {
	case "scraper", "recipe", "any":
	default:
		return cfg, errors.New("SOURCE_FILTER must be one of: scraper, recipe, any")
	}
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"DOUBLECHECK_MIN_CONFIDENCE", w.MinConfidence},
		{"DOUBLECHECK_MIN_SIMILARITY", w.MinSimilarity},
		{"MIN_WRITE_CONFIDENCE", w.MinWriteConfidence},
		{"UNIT_MIN_CONFIDENCE", w.UnitMinConfidence},
	} {
		if f.v < 0 || f.v > 1 {
			return cfg, fmt.Errorf("%s must be between 0 and 1", f.name)
		}
	}
	if w.SampleCacheTTL <= 0 {
		return cfg, errors.New("SAMPLE_CACHE_TTL must be > 0")
	}
	if w.SampleLimit < 0 {
		return cfg, errors.New("SAMPLE_LIMIT must be >= 0")
	}

	if cfg.AI.Timeout <= 0 {
		return cfg, errors.New("AI_TIMEOUT must be > 0")
	}
	if cfg.AI.RetryCount < 0 {
		return cfg, errors.New("AI_RETRY_COUNT must be >= 0")
	}
	if cfg.AI.MaxBatch < 1 {
		return cfg, errors.New("AI_MAX_BATCH must be >= 1")
	}
	if cfg.AI.RPS < 0 {
		return cfg, errors.New("AI_RPS must be >= 0")
	}
	if cfg.AI.Burst < 1 {
		return cfg, errors.New("AI_BURST must be >= 1")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// defaultResolverID generates a stable-per-process worker identity.
func defaultResolverID() string {
	return "worker-" + uuid.NewString()[:8]
}

// ---- helpers ----

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
		if sysutil.IsTruthy(v) {
			return true
		}
		switch strings.ToLower(strings.TrimSpace(v)) {
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
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}
