// Package main is the entry point for the weight learning worker.
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
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/lostfound/internal/app"
	"github.com/onnwee/lostfound/internal/config"
	"github.com/onnwee/lostfound/internal/feedback"
	"github.com/onnwee/lostfound/internal/jobs"
	"github.com/onnwee/lostfound/internal/middleware"
	"github.com/onnwee/lostfound/internal/tracing"
)

var version = "dev"

const (
	serviceName     = "lostfound-learner"
	shutdownTimeout = 10 * time.Second
)

func main() {
	help := flag.Bool("help", false, "display help message")
	configPath := flag.String("config", "", "path to a YAML config file")
	once := flag.Bool("once", false, "run a single learning pass and exit")
	metricsAddr := flag.String("metrics-addr", "", "address to serve /metrics on (disabled when empty)")
	flag.Parse()

	if *help {
		fmt.Println("Lost & Found Weight Learner")
		fmt.Println()
		fmt.Println("Usage: learner [options]")
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

	if err := run(cfg, logger, *once, *metricsAddr, quit); err != nil {
		logger.Error("learner error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger, once bool, metricsAddr string, quit <-chan os.Signal) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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
	if stores.DB == nil {
		logger.Warn("learner has no database, it only sees feedback recorded in this process")
	}

	registry, err := app.NewRegistry(ctx, cfg, stores.Snapshots, logger)
	if err != nil {
		return fmt.Errorf("failed to load ranking weights: %w", err)
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector())
	jobMetrics := jobs.NewMetrics()
	if err := jobMetrics.Register(promRegistry); err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	learner, promoter := app.NewLearning(cfg, stores, registry, logger)
	job := feedback.NewJob(feedback.JobConfig{
		Interval:    cfg.LearnerInterval(),
		AutoPromote: cfg.LearnerAutoPromote,
		Logger:      logger,
		JobMetrics:  jobMetrics,
	}, learner, promoter, registry)

	if once {
		prop, err := job.RunNow(ctx)
		if err != nil {
			return err
		}
		if prop != nil {
			logger.Info("proposal created",
				"proposal_id", prop.ID,
				"status", prop.Status,
				"holdout_auc", prop.HoldoutAUC,
				"baseline_auc", prop.BaselineAUC)
		}
		return nil
	}

	var metricsServer *http.Server
	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))
		metricsServer = &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info("serving metrics", "addr", metricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	job.Start(ctx)
	logger.Info("learner started", "interval", cfg.LearnerInterval(), "auto_promote", cfg.LearnerAutoPromote, "version", version)

	<-quit
	logger.Info("shutting down learner...")
	job.Stop()

	if metricsServer != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelShutdown()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("metrics server forced to shutdown: %w", err)
		}
	}
	return nil
}
