// Package app assembles the stores and weight components shared by the API
// server and the learner binary from a loaded configuration.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/onnwee/lostfound/internal/audit"
	"github.com/onnwee/lostfound/internal/config"
	"github.com/onnwee/lostfound/internal/db"
	"github.com/onnwee/lostfound/internal/experiment"
	"github.com/onnwee/lostfound/internal/feedback"
	"github.com/onnwee/lostfound/internal/health"
	"github.com/onnwee/lostfound/internal/matching"
	"github.com/onnwee/lostfound/internal/ranking"
	"github.com/onnwee/lostfound/internal/report"
)

// Stores holds every persistence dependency. DB and Redis are nil when the
// corresponding in-memory implementation is used.
type Stores struct {
	DB    *sql.DB
	Redis *redis.Client

	Reports     report.Store
	Feedback    feedback.Store
	Proposals   feedback.ProposalStore
	Experiments experiment.Repository
	Snapshots   ranking.SnapshotStore
	Ledger      matching.Ledger
	Audit       audit.Repository
}

// OpenStores connects to Postgres and Redis when their URLs are set and
// falls back to in-memory stores otherwise. Config validation already
// requires both URLs in production.
func OpenStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Stores, error) {
	s := &Stores{}

	if cfg.DatabaseURL != "" {
		conn, err := db.OpenPostgres(ctx, cfg.DatabaseURL, db.DefaultPoolConfig())
		if err != nil {
			return nil, err
		}
		s.DB = conn
		s.Reports = report.NewPostgresStore(conn, logger)
		s.Feedback = feedback.NewPostgresStore(conn)
		s.Proposals = feedback.NewPostgresProposalStore(conn)
		s.Experiments = experiment.NewPostgresRepository(conn)
		s.Audit = audit.NewPostgresRepository(conn)
		logger.Info("using postgres stores")
	} else {
		s.Reports = report.NewInMemoryStore()
		s.Feedback = feedback.NewInMemoryStore()
		s.Proposals = feedback.NewInMemoryProposalStore()
		s.Experiments = experiment.NewInMemoryRepository()
		s.Audit = audit.NewInMemoryRepository()
		logger.Warn("DATABASE_URL not set, using in-memory stores")
	}

	if cfg.RedisURL != "" {
		client, err := db.OpenRedis(ctx, cfg.RedisURL)
		if err != nil {
			if cerr := s.Close(); cerr != nil {
				err = errors.Join(err, cerr)
			}
			return nil, err
		}
		s.Redis = client
		s.Snapshots = ranking.NewRedisSnapshotStore(client, "")
		s.Ledger = matching.NewRedisLedger(client, cfg.LedgerTTL())
		logger.Info("using redis for weight snapshots and match ledger")
	} else {
		s.Snapshots = ranking.NewInMemorySnapshotStore()
		s.Ledger = matching.NewInMemoryLedger(cfg.LedgerTTL())
		logger.Warn("REDIS_URL not set, weight snapshots and issued matches stay in process")
	}
	return s, nil
}

// HealthCheckers returns readiness checkers for the configured connections.
// Unconfigured connections yield nil so they report as not configured.
func (s *Stores) HealthCheckers() (database, cache health.Checker) {
	if s.DB != nil {
		database = health.NewDBChecker(s.DB)
	}
	if s.Redis != nil {
		cache = health.NewRedisChecker(s.Redis)
	}
	return database, cache
}

// Close releases the database pool and Redis client.
func (s *Stores) Close() error {
	var errs []error
	if s.DB != nil {
		if err := s.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	return errors.Join(errs...)
}

// NewRegistry seeds the weight registry from the calibration file, then
// adopts a newer snapshot when one is stored.
func NewRegistry(ctx context.Context, cfg *config.Config, snapshots ranking.SnapshotStore, logger *slog.Logger) (*ranking.Registry, error) {
	initial, err := ranking.LoadCalibration(cfg.RankingCalibrationPath)
	if err != nil {
		return nil, err
	}
	registry, err := ranking.NewRegistry(initial, logger)
	if err != nil {
		return nil, err
	}
	if snapshots != nil {
		if _, err := ranking.NewSyncer(registry, snapshots, cfg.WeightSyncInterval(), logger).SyncNow(ctx); err != nil {
			logger.Warn("failed to load weight snapshot, using calibration", "error", err)
		}
	}
	active := registry.Active()
	logger.Info("ranking weights loaded",
		"version", active.Version,
		"source", active.Source,
		"weights", active.String())
	return registry, nil
}

// LearnerConfig maps configuration onto the learner's settings.
func LearnerConfig(cfg *config.Config) feedback.LearnerConfig {
	return feedback.LearnerConfig{
		Lookback:     cfg.LearnerLookback(),
		MinSamples:   cfg.LearnerMinSamples,
		HoldoutEvery: cfg.LearnerHoldoutEvery,
		GridStep:     cfg.LearnerGridStep,
		MaxDelta:     cfg.LearnerMaxDelta,
	}
}

// NewLearning builds the learner and promoter over the shared stores.
func NewLearning(cfg *config.Config, stores *Stores, registry *ranking.Registry, logger *slog.Logger) (*feedback.Learner, *feedback.Promoter) {
	learner := feedback.NewLearner(stores.Feedback, stores.Proposals, LearnerConfig(cfg), logger)
	promoter := feedback.NewPromoter(stores.Proposals, registry, stores.Snapshots, cfg.LearnerMaxDelta, logger)
	return learner, promoter
}
