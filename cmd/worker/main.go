// Command worker runs the ingredient canonicalization pipeline: the queue
// processor loop plus a small admin HTTP surface for health, metrics, queue
// inspection, dry-run previews, and the price cache.
//
// Configuration comes from the environment (a local .env is honored). With
// MAX_CYCLES set the process exits once the cycle budget is spent or the
// queue drains; otherwise it runs until SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/grocerly/go-ingredient-worker/internal/config"
	httpapi "github.com/grocerly/go-ingredient-worker/internal/http"
	"github.com/grocerly/go-ingredient-worker/internal/observability"
	"github.com/grocerly/go-ingredient-worker/internal/repo"
	"github.com/grocerly/go-ingredient-worker/internal/services"
	"github.com/grocerly/go-ingredient-worker/internal/standardize"
	"github.com/grocerly/go-ingredient-worker/internal/sysutil"
	"github.com/grocerly/go-ingredient-worker/internal/worker"
)

// version is stamped by the build; "dev" for local runs.
var version = sysutil.FirstNonEmpty(os.Getenv("VERSION"), "dev")

func main() {
	_ = godotenv.Load()

	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	logger := log.With().
		Str("service", cfg.OTEL.ServiceName).
		Str("version", version).
		Str("resolver_id", cfg.Worker.ResolverID).
		Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		logger.Fatal().Err(err).Msg("otel setup failed")
	}

	db, err := repo.OpenSQLite(cfg.DBPath, cfg.OTEL.Enabled)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		logger.Fatal().Err(err).Msg("migrate failed")
	}

	// Pipeline wiring: AI client → double-checking resolver → processor loop.
	ai := standardize.NewClient(standardize.Config{
		BaseURL:    cfg.AI.BaseURL,
		APIKey:     cfg.AI.APIKey,
		Model:      cfg.AI.Model,
		Timeout:    cfg.AI.Timeout,
		RetryCount: cfg.AI.RetryCount,
		RetryWait:  cfg.AI.RetryWait,
	}, logger)
	resolver := services.NewResolverService(db, cfg.Worker.MinConfidence, cfg.Worker.MinSimilarity)

	var limiter *rate.Limiter
	if cfg.AI.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.AI.RPS), cfg.AI.Burst)
	}
	w := worker.New(db, cfg.Worker, cfg.AI.MaxBatch, ai, resolver, logger, limiter)

	// Admin surface.
	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, db, w, cfg)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	srvErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("admin server listening")
		srvErr <- srv.ListenAndServe()
	}()

	workerDone := make(chan error, 1)
	go func() {
		logger.Info().
			Int("batch_limit", cfg.Worker.BatchLimit).
			Int("max_cycles", cfg.Worker.MaxCycles).
			Bool("dry_run", cfg.Worker.DryRun).
			Msg("worker starting")
		workerDone <- w.Run(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("admin server failed")
		}
		stop()
	case err := <-workerDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("worker stopped with error")
		} else {
			logger.Info().Msg("worker finished")
		}
		stop()
	}

	// Stop claiming, drain the server, flush traces.
	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		logger.Warn().Err(err).Msg("admin server shutdown")
	}
	if err := shutdownOTel(shutCtx); err != nil {
		logger.Warn().Err(err).Msg("otel shutdown")
	}
	logger.Info().Msg("bye")
}
