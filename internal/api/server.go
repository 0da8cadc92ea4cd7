package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lvonguyen/cloudgate/internal/audit"
	"github.com/lvonguyen/cloudgate/internal/cloud"
	"github.com/lvonguyen/cloudgate/internal/gateway"
	"github.com/lvonguyen/cloudgate/internal/observability"
	"github.com/lvonguyen/cloudgate/internal/playbook"
)

// Server wires the provider gateways and the playbook engine into a chi
// router.
type Server struct {
	gateways map[cloud.Kind]*gateway.Gateway
	executor *playbook.Executor
	library  *playbook.Library
	trail    *audit.Trail
	metrics  *observability.Metrics
	limiter  *RateLimiter
	logger   *zap.Logger
	version  string
}

// Options configures a Server. Limiter and Metrics may be nil.
type Options struct {
	Gateways map[cloud.Kind]*gateway.Gateway
	Executor *playbook.Executor
	Library  *playbook.Library
	Trail    *audit.Trail
	Metrics  *observability.Metrics
	Limiter  *RateLimiter
	Logger   *zap.Logger
	Version  string
}

// NewServer assembles the API server.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		gateways: opts.Gateways,
		executor: opts.Executor,
		library:  opts.Library,
		trail:    opts.Trail,
		metrics:  opts.Metrics,
		limiter:  opts.Limiter,
		logger:   logger,
		version:  opts.Version,
	}
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))
	if s.limiter != nil {
		r.Use(s.limiter.Middleware())
	}

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	if s.metrics != nil {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/{provider}", func(r chi.Router) {
			r.Post("/execute", s.handleExecute)
			r.Get("/context", s.handleCurrentContext)
			r.Get("/contexts", s.handleListContexts)
		})

		r.Route("/playbooks", func(r chi.Router) {
			r.Get("/", s.handleListPlaybooks)
			r.Get("/{id}", s.handleGetPlaybook)
			r.Get("/{id}/export", s.handleExportPlaybook)
		})

		r.Route("/remediations", func(r chi.Router) {
			r.Post("/", s.handleRemediate)
			r.Get("/", s.handleHistory)
			r.Get("/{id}", s.handleGetExecution)
			r.Post("/{id}/approve", s.handleApprove)
			r.Post("/{id}/reject", s.handleReject)
			r.Post("/{id}/rollback", s.handleRollback)
		})

		r.Get("/audit", s.handleAudit)
	})

	return r
}
