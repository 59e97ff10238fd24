// Package orchestratorapi implements the orchestrator's three HTTP
// surfaces (§6.1 REST, §6.2 internal, plus the §12 supplemental
// operability endpoint), the workflow-stage gating that sits in front
// of every mutation, and the handoff chain that drives a session from
// one agent to the next. It is the Go-native analogue of the
// teacher's core.BaseAgent HTTP wiring (mux + recovery + logging
// middleware, a single *http.Server), generalized from "one agent's
// capabilities" to "the orchestrator's client and internal contracts".
package orchestratorapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/agentic-nwb/orchestrator/internal/logging"
	"github.com/agentic-nwb/orchestrator/internal/obs"
	"github.com/agentic-nwb/orchestrator/internal/registry"
	"github.com/agentic-nwb/orchestrator/internal/router"
	"github.com/agentic-nwb/orchestrator/internal/session"
)

// CachePinger is satisfied by session.RedisCache; it is optional
// (health reporting degrades gracefully without it) so the Server can
// also be built directly over a Cache implementation in tests.
type CachePinger interface {
	Ping(ctx context.Context) bool
}

// Server holds every dependency the handlers need: the session store,
// the agent registry, the message router, and the ambient
// logging/observability providers.
type Server struct {
	store  *session.Store
	reg    *registry.Registry
	router *router.Router
	cache  CachePinger // nil-able

	outputDir string
	version   string

	logger logging.Logger
	obs    *obs.Provider // nil-able

	healthClient *http.Client

	httpServer *http.Server
}

// Config bundles Server's constructor arguments.
type Config struct {
	Store     *session.Store
	Registry  *registry.Registry
	Router    *router.Router
	Cache     CachePinger
	OutputDir string
	Version   string
	Logger    logging.Logger
	Obs       *obs.Provider
}

// New builds a Server and wires its mux, but does not start listening.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NoOp{}
	}
	s := &Server{
		store:        cfg.Store,
		reg:          cfg.Registry,
		router:       cfg.Router,
		cache:        cfg.Cache,
		outputDir:    cfg.OutputDir,
		version:      cfg.Version,
		logger:       logger.WithComponent("orchestratorapi"),
		obs:          cfg.Obs,
		healthClient: &http.Client{Timeout: 5 * time.Second},
	}
	return s
}

// Handler builds the full mux with middleware applied, using Go's
// method+wildcard ServeMux patterns (the stdlib router the teacher
// itself relies on — no third-party router appears anywhere in the
// pack).
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// REST surface (§6.1).
	mux.HandleFunc("POST /api/v1/sessions/initialize", s.handleInitialize)
	mux.HandleFunc("GET /api/v1/sessions/{id}/status", s.handleStatus)
	mux.HandleFunc("POST /api/v1/sessions/{id}/clarify", s.handleClarify)
	mux.HandleFunc("GET /api/v1/sessions/{id}/result", s.handleResult)
	mux.HandleFunc("GET /api/v1/health", s.handleHealth)

	// Internal surface (§6.2).
	mux.HandleFunc("POST /internal/register_agent", s.handleRegisterAgent)
	mux.HandleFunc("GET /internal/sessions/{id}/context", s.handleGetContext)
	mux.HandleFunc("PATCH /internal/sessions/{id}/context", s.handlePatchContext)
	mux.HandleFunc("POST /internal/route_message", s.handleRouteMessage)

	// Supplemental operability endpoint (§12).
	mux.HandleFunc("GET /internal/sessions", s.handleListSessions)

	var handler http.Handler = mux
	handler = recoveryMiddleware(s.logger)(handler)
	handler = loggingMiddleware(s.logger)(handler)
	if s.obs != nil {
		handler = s.obs.WrapHandler("orchestrator.http", handler)
	}
	return handler
}

// healthCheckInterval is how often Run polls every registered agent's
// GET /health and updates its registry.Status.
const healthCheckInterval = 30 * time.Second

// runHealthChecks polls GET /health on every registered agent every
// healthCheckInterval, marking it healthy or unhealthy in the
// registry. handleHealth's agents_registered lists every registered
// agent regardless of that status.
func (s *Server) runHealthChecks(ctx context.Context) {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, rec := range s.reg.List() {
				s.reg.SetStatus(rec.AgentName, s.probeHealth(ctx, rec.BaseURL))
			}
		}
	}
}

// probeHealth issues a GET to baseURL+"/health" and classifies the
// agent as healthy only on a 200 response.
func (s *Server) probeHealth(ctx context.Context, baseURL string) registry.Status {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return registry.StatusUnhealthy
	}
	resp, err := s.healthClient.Do(req)
	if err != nil {
		return registry.StatusUnhealthy
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return registry.StatusUnhealthy
	}
	return registry.StatusHealthy
}

// Run starts the HTTP server on addr and blocks until ctx is
// cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.runHealthChecks(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("orchestrator listening", map[string]interface{}{"addr": addr})
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server failed: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
