// Package main is the entry point for the matching API server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/onnwee/lostfound/internal/api"
	"github.com/onnwee/lostfound/internal/app"
	"github.com/onnwee/lostfound/internal/auth"
	"github.com/onnwee/lostfound/internal/config"
	"github.com/onnwee/lostfound/internal/experiment"
	"github.com/onnwee/lostfound/internal/feedback"
	"github.com/onnwee/lostfound/internal/jobs"
	"github.com/onnwee/lostfound/internal/matching"
	"github.com/onnwee/lostfound/internal/middleware"
	"github.com/onnwee/lostfound/internal/ranking"
	"github.com/onnwee/lostfound/internal/retrieval"
	sig "github.com/onnwee/lostfound/internal/signal"
	"github.com/onnwee/lostfound/internal/tracing"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

const (
	serviceName     = "lostfound-api"
	shutdownTimeout = 10 * time.Second
	// rateLimitIdle is how long an in-memory bucket may sit unused.
	rateLimitIdle = 10 * time.Minute
)

// metricSet is a group of collectors registered as one.
type metricSet interface {
	Register(prometheus.Registerer) error
}

func main() {
	help := flag.Bool("help", false, "display help message")
	configPath := flag.String("config", "", "path to a YAML config file")
	runLearner := flag.Bool("learner", false, "run the weight learning job in this process")
	flag.Parse()

	if *help {
		fmt.Println("Lost & Found Matching API Server")
		fmt.Println()
		fmt.Println("Usage: api [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configPath)
	if len(errs) > 0 {
		for _, err := range errs {
			slog.Error("invalid configuration", "error", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	if err := run(cfg, logger, *runLearner, quit); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

// run wires the server and blocks until quit delivers a signal or the
// listener fails.
func run(cfg *config.Config, logger *slog.Logger, runLearner bool, quit <-chan os.Signal) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("configuration loaded", "config", cfg.LogSummary())

	tp, err := tracing.NewProvider(tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: version,
		Enabled:        cfg.TracingEnabled,
		Environment:    cfg.Env,
		ExporterType:   cfg.TracingExporterType,
		OTLPEndpoint:   cfg.TracingEndpoint,
		SamplingRate:   cfg.TracingSampleRate,
		InsecureMode:   cfg.TracingInsecure,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to flush traces", "error", err)
		}
	}()

	stores, err := app.OpenStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := stores.Close(); err != nil {
			logger.Error("failed to close stores", "error", err)
		}
	}()

	registry, err := app.NewRegistry(ctx, cfg, stores.Snapshots, logger)
	if err != nil {
		return fmt.Errorf("failed to load ranking weights: %w", err)
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	jobMetrics := jobs.NewMetrics()
	matchMetrics := matching.NewMetrics()
	httpMetrics := middleware.NewMetrics()
	for _, m := range []metricSet{jobMetrics, matchMetrics, httpMetrics} {
		if err := m.Register(promRegistry); err != nil {
			return fmt.Errorf("failed to register metrics: %w", err)
		}
	}

	syncer := ranking.NewSyncer(registry, stores.Snapshots, cfg.WeightSyncInterval(), logger)
	syncer.SetMetrics(jobMetrics)
	syncer.Start(ctx)
	defer syncer.Stop()

	retriever, err := retrieval.NewRetriever(stores.Reports, retrieval.Config{
		MaxRadiusKm: cfg.MatchMaxRadiusKm,
		MaxDays:     cfg.MatchMaxDays,
		Cap:         cfg.MatchCandidateCap,
	}, logger)
	if err != nil {
		return err
	}
	engine := experiment.NewEngine(stores.Experiments, stores.Feedback, logger)
	svc, err := matching.NewService(matching.Config{
		ProviderTimeout: cfg.ProviderTimeout(),
		Workers:         cfg.MatchWorkers,
	}, matching.Dependencies{
		Reports:   stores.Reports,
		Retriever: retriever,
		Signals: sig.NewSet(sig.Config{
			NLPEnabled:            cfg.NLPEnabled,
			CVEnabled:             cfg.CVEnabled,
			MaxRadiusKm:           cfg.MatchMaxRadiusKm,
			MaxDays:               cfg.MatchMaxDays,
			VisionEmbeddingWeight: cfg.VisionEmbeddingWeight,
		}),
		Registry:    registry,
		Experiments: engine,
		Feedback:    stores.Feedback,
		Ledger:      stores.Ledger,
		Metrics:     matchMetrics,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	learner, promoter := app.NewLearning(cfg, stores, registry, logger)
	if runLearner {
		job := feedback.NewJob(feedback.JobConfig{
			Interval:    cfg.LearnerInterval(),
			AutoPromote: cfg.LearnerAutoPromote,
			Logger:      logger,
			JobMetrics:  jobMetrics,
		}, learner, promoter, registry)
		job.Start(ctx)
		defer job.Stop()
	}

	var limitStore middleware.RateLimitStore
	if stores.Redis != nil {
		limitStore = middleware.NewRedisRateLimitStore(stores.Redis)
	} else {
		mem := middleware.NewInMemoryRateLimitStore()
		go cleanupRateLimits(ctx, mem)
		limitStore = mem
	}

	dbChecker, redisChecker := stores.HealthCheckers()
	handler := api.NewRouter(api.RouterConfig{
		Match:          api.NewMatchHandlers(svc),
		Weights:        api.NewWeightHandlers(learner, promoter, stores.Proposals, registry),
		Experiments:    api.NewExperimentHandlers(engine, registry),
		Health:         api.NewHealthHandlers(api.HealthHandlersConfig{DBChecker: dbChecker, RedisChecker: redisChecker}),
		Audit:          stores.Audit,
		Tokens:         auth.NewJWTService(cfg.JWTSecret, ""),
		RateLimitStore: limitStore,
		Metrics:        httpMetrics,
		Gatherer:       promRegistry,
		Logger:         logger,
		ServiceName:    serviceName,
	})

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", "port", cfg.Port, "version", version)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-quit:
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	logger.Info("shutting down server...")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

// cleanupRateLimits drops idle in-memory buckets until ctx is cancelled.
func cleanupRateLimits(ctx context.Context, store *middleware.InMemoryRateLimitStore) {
	ticker := time.NewTicker(rateLimitIdle / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			store.Cleanup(rateLimitIdle)
		}
	}
}
