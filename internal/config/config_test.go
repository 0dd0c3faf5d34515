package config

import (
	"os"
	"reflect"
	"strings"
	"testing"
	"time"
)

// --- MustLoad ---

func TestMustLoad_PanicsOnInvalidConfig(t *testing.T) {
	t.Setenv("LOG_LEVEL", "verbose") // invalid -> Load() error
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("MustLoad should panic on invalid config")
		}
	}()
	_ = MustLoad()
}

// --- Load success + normalization + parsing ---

func TestLoad_Success_DefaultsAndOverrides(t *testing.T) {
	// Server timeouts / sizes (valid)
	t.Setenv("PORT", "8088")
	t.Setenv("READ_TIMEOUT", "2s")
	t.Setenv("READ_HEADER_TIMEOUT", "1s")
	t.Setenv("WRITE_TIMEOUT", "3s")
	t.Setenv("IDLE_TIMEOUT", "4s")
	t.Setenv("MAX_HEADER_BYTES", "8192")
	t.Setenv("GIN_MODE", "weird") // will normalize to "release"

	// Logging
	t.Setenv("LOG_LEVEL", "warning") // will normalize to "warn"
	t.Setenv("LOG_PRETTY", "yes")

	// App
	t.Setenv("DB_PATH", "db.sqlite")

	// Rate limiting (use invalids for parse to fall back to defaults)
	t.Setenv("RATE_RPS", "x")      // -> default 5.0
	t.Setenv("RATE_BURST", "nope") // -> default 10

	// Web protection
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.com , , http://b ")
	t.Setenv("ENABLE_HSTS", "TRUE")
	t.Setenv("HSTS_MAX_AGE", "24h")

	// Worker
	t.Setenv("RESOLVER_ID", "worker-test")
	t.Setenv("BATCH_LIMIT", "25")
	t.Setenv("MAX_CYCLES", "3")
	t.Setenv("WORKER_INTERVAL", "10s")
	t.Setenv("CHUNK_SIZE", "5")
	t.Setenv("CHUNK_CONCURRENCY", "4")
	t.Setenv("LEASE_DURATION", "90s")
	t.Setenv("DRY_RUN", "on")
	t.Setenv("STANDARDIZE_CONTEXT", "Recipe") // normalized to lowercase
	t.Setenv("REVIEW_MODE", "any")
	t.Setenv("SOURCE_FILTER", "scraper")
	t.Setenv("DOUBLECHECK_MIN_CONFIDENCE", "0.9")
	t.Setenv("DOUBLECHECK_MIN_SIMILARITY", "0.8")
	t.Setenv("MIN_WRITE_CONFIDENCE", "0.25")
	t.Setenv("UNIT_RESOLUTION_ENABLED", "1")
	t.Setenv("UNIT_DRY_RUN", "0")
	t.Setenv("UNIT_MIN_CONFIDENCE", "0.5")
	t.Setenv("SAMPLE_CACHE_TTL", "10m")
	t.Setenv("SAMPLE_LIMIT", "100")

	// AI client
	t.Setenv("AI_BASE_URL", "https://ai.example.com/v1")
	t.Setenv("AI_API_KEY", "sk-test")
	t.Setenv("AI_MODEL", "test-model")
	t.Setenv("AI_TIMEOUT", "12s")
	t.Setenv("AI_RETRY_COUNT", "3")
	t.Setenv("AI_RETRY_WAIT", "500ms")
	t.Setenv("AI_MAX_BATCH", "10")
	t.Setenv("AI_RPS", "2.5")
	t.Setenv("AI_BURST", "5")

	// OTEL
	t.Setenv("OTEL_ENABLED", "1")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "otel:4317")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "0")
	t.Setenv("OTEL_SERVICE_NAME", "svc")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.75")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	// Server
	if cfg.Port != "8088" ||
		cfg.ReadTimeout != 2*time.Second ||
		cfg.ReadHeaderTimeout != 1*time.Second ||
		cfg.WriteTimeout != 3*time.Second ||
		cfg.IdleTimeout != 4*time.Second ||
		cfg.MaxHeaderBytes != 8192 ||
		cfg.GinMode != "release" {
		t.Fatalf("server fields unexpected: %+v", cfg)
	}

	// Logging
	if cfg.LogLevel != "warn" || !cfg.LogPretty {
		t.Fatalf("logging unexpected: %+v", cfg)
	}

	// App
	if cfg.DBPath != "db.sqlite" {
		t.Fatalf("app fields unexpected: %+v", cfg)
	}

	// Rate limiting (parse fallback to defaults)
	if cfg.RateRPS != 5.0 || cfg.RateBurst != 10 {
		t.Fatalf("rate limiting unexpected: %+v", cfg)
	}

	// Web protection
	if !reflect.DeepEqual(cfg.CORS.AllowedOrigins, []string{"https://a.com", "http://b"}) {
		t.Fatalf("cors origins unexpected: %#v", cfg.CORS.AllowedOrigins)
	}
	if !cfg.Security.EnableHSTS || cfg.Security.HSTSMaxAge != 24*time.Hour {
		t.Fatalf("security unexpected: %+v", cfg.Security)
	}

	// Worker
	w := cfg.Worker
	if w.ResolverID != "worker-test" || w.BatchLimit != 25 || w.MaxCycles != 3 ||
		w.Interval != 10*time.Second || w.ChunkSize != 5 || w.ChunkConcurrency != 4 ||
		w.LeaseDuration != 90*time.Second || !w.DryRun ||
		w.Context != "recipe" || w.ReviewMode != "any" || w.SourceFilter != "scraper" {
		t.Fatalf("worker fields unexpected: %+v", w)
	}
	if w.MinConfidence != 0.9 || w.MinSimilarity != 0.8 || w.MinWriteConfidence != 0.25 {
		t.Fatalf("thresholds unexpected: %+v", w)
	}
	if !w.UnitEnabled || w.UnitDryRun || w.UnitMinConfidence != 0.5 {
		t.Fatalf("unit pass fields unexpected: %+v", w)
	}
	if w.SampleCacheTTL != 10*time.Minute || w.SampleLimit != 100 {
		t.Fatalf("sample fields unexpected: %+v", w)
	}

	// AI client
	ai := cfg.AI
	if ai.BaseURL != "https://ai.example.com/v1" || ai.APIKey != "sk-test" || ai.Model != "test-model" ||
		ai.Timeout != 12*time.Second || ai.RetryCount != 3 || ai.RetryWait != 500*time.Millisecond ||
		ai.MaxBatch != 10 || ai.RPS != 2.5 || ai.Burst != 5 {
		t.Fatalf("ai fields unexpected: %+v", ai)
	}

	// OTEL
	if !cfg.OTEL.Enabled || cfg.OTEL.Endpoint != "otel:4317" || cfg.OTEL.Insecure || cfg.OTEL.ServiceName != "svc" || cfg.OTEL.SampleRatio != 0.75 {
		t.Fatalf("otel unexpected: %+v", cfg.OTEL)
	}
}

func TestLoad_DefaultResolverIDIsGenerated(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !strings.HasPrefix(cfg.Worker.ResolverID, "worker-") || len(cfg.Worker.ResolverID) != len("worker-")+8 {
		t.Fatalf("generated resolver id unexpected: %q", cfg.Worker.ResolverID)
	}
}

// --- Load validations (each case triggers exactly one validation error) ---

func TestLoad_ValidationErrors(t *testing.T) {
	cases := []struct {
		name string
		key  string
		val  string
		want string
	}{
		{"invalid LOG_LEVEL", "LOG_LEVEL", "verbose", "LOG_LEVEL"},
		{"empty PORT via spaces", "PORT", "   ", "PORT must not be empty"},
		{"non-positive timeouts", "READ_TIMEOUT", "0s", "timeouts must be positive"},
		{"max header bytes <= 0", "MAX_HEADER_BYTES", "0", "MAX_HEADER_BYTES"},
		{"empty DB_PATH", "DB_PATH", "   ", "DB_PATH must not be empty"},
		{"rate rps negative", "RATE_RPS", "-1", "RATE_RPS"},
		{"rate burst < 1", "RATE_BURST", "0", "RATE_BURST"},
		{"hsts max age negative", "HSTS_MAX_AGE", "-1s", "HSTS_MAX_AGE"},
		{"empty RESOLVER_ID via spaces", "RESOLVER_ID", "   ", "RESOLVER_ID"},
		{"batch limit < 1", "BATCH_LIMIT", "0", "BATCH_LIMIT"},
		{"max cycles negative", "MAX_CYCLES", "-1", "MAX_CYCLES"},
		{"chunk size < 1", "CHUNK_SIZE", "0", "CHUNK_SIZE"},
		{"chunk concurrency < 1", "CHUNK_CONCURRENCY", "0", "CHUNK_CONCURRENCY"},
		{"invalid context", "STANDARDIZE_CONTEXT", "kitchen", "STANDARDIZE_CONTEXT"},
		{"invalid review mode", "REVIEW_MODE", "everything", "REVIEW_MODE"},
		{"invalid source filter", "SOURCE_FILTER", "api", "SOURCE_FILTER"},
		{"doublecheck confidence out of range", "DOUBLECHECK_MIN_CONFIDENCE", "1.5", "DOUBLECHECK_MIN_CONFIDENCE"},
		{"doublecheck similarity out of range", "DOUBLECHECK_MIN_SIMILARITY", "-0.1", "DOUBLECHECK_MIN_SIMILARITY"},
		{"write confidence out of range", "MIN_WRITE_CONFIDENCE", "2", "MIN_WRITE_CONFIDENCE"},
		{"unit confidence out of range", "UNIT_MIN_CONFIDENCE", "1.1", "UNIT_MIN_CONFIDENCE"},
		{"sample cache ttl non-positive", "SAMPLE_CACHE_TTL", "0s", "SAMPLE_CACHE_TTL"},
		{"sample limit negative", "SAMPLE_LIMIT", "-1", "SAMPLE_LIMIT"},
		{"ai timeout non-positive", "AI_TIMEOUT", "0s", "AI_TIMEOUT"},
		{"ai retry count negative", "AI_RETRY_COUNT", "-1", "AI_RETRY_COUNT"},
		{"ai max batch < 1", "AI_MAX_BATCH", "0", "AI_MAX_BATCH"},
		{"ai rps negative", "AI_RPS", "-2", "AI_RPS"},
		{"ai burst < 1", "AI_BURST", "0", "AI_BURST"},
		{"otel sample ratio out of range", "OTEL_TRACES_SAMPLER_ARG", "1.5", "OTEL_TRACES_SAMPLER_ARG"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.val)
			if _, err := Load(); err == nil || !containsErr(err, tc.want) {
				t.Fatalf("expected %s validation error, got: %v", tc.key, err)
			}
		})
	}

	t.Run("negative durations via worker knobs", func(t *testing.T) {
		t.Setenv("WORKER_INTERVAL", "-1s")
		if _, err := Load(); err == nil || !containsErr(err, "WORKER_INTERVAL") {
			t.Fatalf("expected WORKER_INTERVAL validation error, got: %v", err)
		}
	})
	t.Run("lease duration non-positive", func(t *testing.T) {
		t.Setenv("LEASE_DURATION", "-5s")
		if _, err := Load(); err == nil || !containsErr(err, "LEASE_DURATION") {
			t.Fatalf("expected LEASE_DURATION validation error, got: %v", err)
		}
	})
}

// --- helpers ---

func TestHelpers_getenv(t *testing.T) {
	t.Setenv("X_EMPTY", "")
	if getenv("X_EMPTY", "d") != "d" {
		t.Fatalf("getenv should fall back to default on empty var")
	}
	t.Setenv("X_SET", "val")
	if getenv("X_SET", "d") != "val" {
		t.Fatalf("getenv should read set value")
	}
}

func TestHelpers_getfloat_getint_getdur(t *testing.T) {
	t.Setenv("F_VALID", "3.14")
	if getfloat("F_VALID", 0) != 3.14 {
		t.Fatalf("getfloat parse failed")
	}
	t.Setenv("F_BAD", "nope")
	if getfloat("F_BAD", 1.23) != 1.23 {
		t.Fatalf("getfloat default on bad parse failed")
	}

	t.Setenv("I_VALID", "42")
	if getint("I_VALID", 0) != 42 {
		t.Fatalf("getint parse failed")
	}
	t.Setenv("I_BAD", "x")
	if getint("I_BAD", 7) != 7 {
		t.Fatalf("getint default on bad parse failed")
	}

	t.Setenv("D_VALID", "150ms")
	if getdur("D_VALID", time.Second) != 150*time.Millisecond {
		t.Fatalf("getdur parse failed")
	}
	t.Setenv("D_BAD", "zzz")
	if getdur("D_BAD", 2*time.Second) != 2*time.Second {
		t.Fatalf("getdur default on bad parse failed")
	}
}

func TestHelpers_getbool(t *testing.T) {
	trueVals := []string{"1", "true", "TRUE", " yes ", "Y", "on", "On"}
	for i, v := range trueVals {
		k := "B_T_" + config_strconv(i)
		t.Setenv(k, v)
		if !getbool(k, false) {
			t.Fatalf("getbool(%q) = false; want true", v)
		}
	}
	falseVals := []string{"0", "false", "FALSE", " no ", "N", "off", "Off"}
	for i, v := range falseVals {
		k := "B_F_" + config_strconv(i)
		t.Setenv(k, v)
		if getbool(k, true) {
			t.Fatalf("getbool(%q) = true; want false", v)
		}
	}
	// default on unset/empty
	t.Setenv("B_EMPTY", "")
	if !getbool("B_EMPTY", true) || getbool("B_EMPTY", false) {
		t.Fatalf("getbool default behavior unexpected")
	}
}

func TestHelpers_splitCSV(t *testing.T) {
	if out := splitCSV(""); out != nil {
		t.Fatalf("splitCSV empty should return nil")
	}
	in := " a, ,b ,  c  ,"
	want := []string{"a", "b", "c"}
	if got := splitCSV(in); !reflect.DeepEqual(got, want) {
		t.Fatalf("splitCSV mismatch: got %#v want %#v", got, want)
	}
}

// small helper (avoid fmt just for ints)
func config_strconv(i int) string { return string('a' + rune(i)) }

// Ensure tests don't leak env to others.
func TestMain(m *testing.M) {
	os.Unsetenv("PORT")
	os.Exit(m.Run())
}

// containsErr reports whether err's message contains the given substring.
func containsErr(err error, want string) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), want)
}

func TestMustLoad_Success_NoPanic(t *testing.T) {
	// No special env needed; defaults are valid.
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("MustLoad should not panic on valid defaults, got: %v", r)
		}
	}()
	cfg := MustLoad()
	if cfg.Worker.BatchLimit != 50 {
		t.Fatalf("unexpected default config from MustLoad: %+v", cfg.Worker)
	}
}
