package api

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/lostfound/internal/audit"
	"github.com/onnwee/lostfound/internal/middleware"
)

// RouterConfig carries the handlers and cross-cutting dependencies of the
// HTTP surface.
type RouterConfig struct {
	Match       *MatchHandlers
	Weights     *WeightHandlers
	Experiments *ExperimentHandlers
	Health      *HealthHandlers

	// Audit, when set, records admin changes and serves the audit trail.
	Audit audit.Repository

	Tokens         middleware.TokenValidator
	RateLimitStore middleware.RateLimitStore
	PublicLimit    middleware.RateLimitConfig
	AdminLimit     middleware.RateLimitConfig

	Metrics     *middleware.Metrics
	Gatherer    prometheus.Gatherer
	Logger      *slog.Logger
	ServiceName string
}

// NewRouter builds the routing table. Public routes accept an optional
// bearer token; admin routes require the admin role. Middleware order from
// the outside in: tracing, request id, logging, HTTP metrics.
func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RateLimitStore == nil {
		cfg.RateLimitStore = middleware.NewInMemoryRateLimitStore()
	}
	if cfg.PublicLimit.RequestsPerWindow == 0 {
		cfg.PublicLimit = middleware.DefaultPublicLimit()
	}
	if cfg.AdminLimit.RequestsPerWindow == 0 {
		cfg.AdminLimit = middleware.DefaultAdminLimit()
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "lostfound-api"
	}

	authn := middleware.Authenticate(cfg.Tokens, cfg.Metrics)
	publicLimit := middleware.RateLimiter(cfg.RateLimitStore, cfg.PublicLimit, middleware.UserKeyFunc(), cfg.Metrics)
	adminLimit := middleware.RateLimiter(cfg.RateLimitStore, cfg.AdminLimit, middleware.UserKeyFunc(), cfg.Metrics)
	requireAdmin := middleware.RequireAdmin(cfg.Metrics)

	public := func(h http.HandlerFunc) http.Handler {
		return authn(publicLimit(h))
	}
	admin := func(h http.HandlerFunc) http.Handler {
		return authn(requireAdmin(adminLimit(h)))
	}
	recorder := audit.NewRecorder(cfg.Audit, cfg.Logger)
	audited := func(entityType, action string, h http.HandlerFunc) http.Handler {
		return authn(requireAdmin(adminLimit(recorder.Middleware(entityType, action)(h))))
	}

	mux := http.NewServeMux()

	if cfg.Health != nil {
		mux.HandleFunc("GET /health", cfg.Health.Health)
		mux.HandleFunc("GET /health/ready", cfg.Health.Ready)
	}
	if cfg.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	if m := cfg.Match; m != nil {
		mux.Handle("GET /api/v1/reports/{id}/matches", public(m.RankMatches))
		mux.Handle("POST /api/v1/feedback", public(m.RecordFeedback))
		mux.Handle("GET /api/v1/weights", public(m.ActiveWeights))
	}

	if wh := cfg.Weights; wh != nil {
		mux.Handle("POST /api/v1/admin/weights/proposals", audited(audit.EntityWeightProposal, audit.ActionCreateProposal, wh.CreateProposal))
		mux.Handle("GET /api/v1/admin/weights/proposals", admin(wh.ListProposals))
		mux.Handle("GET /api/v1/admin/weights/proposals/{id}", admin(wh.GetProposal))
		mux.Handle("POST /api/v1/admin/weights/proposals/{id}/promote", audited(audit.EntityWeightProposal, audit.ActionPromoteProposal, wh.PromoteProposal))
		mux.Handle("POST /api/v1/admin/weights/proposals/{id}/reject", audited(audit.EntityWeightProposal, audit.ActionRejectProposal, wh.RejectProposal))
	}

	if e := cfg.Experiments; e != nil {
		mux.Handle("POST /api/v1/admin/experiments", audited(audit.EntityExperiment, audit.ActionCreateExperiment, e.CreateExperiment))
		mux.Handle("GET /api/v1/admin/experiments", admin(e.ListExperiments))
		mux.Handle("GET /api/v1/admin/experiments/{id}", admin(e.GetExperiment))
		mux.Handle("POST /api/v1/admin/experiments/{id}/start", audited(audit.EntityExperiment, audit.ActionStartExperiment, e.StartExperiment))
		mux.Handle("POST /api/v1/admin/experiments/{id}/conclude", audited(audit.EntityExperiment, audit.ActionConcludeExperiment, e.ConcludeExperiment))
		mux.Handle("GET /api/v1/experiments/{id}/assignment", public(e.Assignment))
		mux.Handle("GET /api/v1/experiments/{id}/analysis", public(e.Analysis))
	}

	if cfg.Audit != nil {
		ah := NewAuditHandlers(cfg.Audit)
		mux.Handle("GET /api/v1/admin/audit", admin(ah.ListEntries))
		mux.Handle("GET /api/v1/admin/audit/verify", admin(ah.VerifyChain))
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
		WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "The requested resource was not found")
	})

	var handler http.Handler = mux
	handler = middleware.HTTPMetrics(cfg.Metrics)(handler)
	handler = middleware.Logging(cfg.Logger)(handler)
	handler = middleware.RequestID(handler)
	handler = middleware.Tracing(cfg.ServiceName)(handler)
	return handler
}
