package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/walletguard/walletguard/internal/config"
	"github.com/walletguard/walletguard/internal/logger"
	"github.com/walletguard/walletguard/internal/metrics"
	"github.com/walletguard/walletguard/internal/middleware"
	"github.com/walletguard/walletguard/internal/storage"
	apperrors "github.com/walletguard/walletguard/pkg/errors"
)

// Server represents the HTTP server
type Server struct {
	config     *config.Config
	service    CustodyService
	limiter    *middleware.RateLimiter
	tokenAuth  *middleware.AuthMiddleware
	operator   *middleware.OperatorAuth
	metrics    *metrics.Registry
	store      *storage.Store
	httpServer *http.Server
}

// NewServer creates a new API server
func NewServer(
	cfg *config.Config,
	service CustodyService,
	limiter *middleware.RateLimiter,
	tokenAuth *middleware.AuthMiddleware,
	operator *middleware.OperatorAuth,
	reg *metrics.Registry,
	store *storage.Store,
) *Server {
	return &Server{
		config:    cfg,
		service:   service,
		limiter:   limiter,
		tokenAuth: tokenAuth,
		operator:  operator,
		metrics:   reg,
		store:     store,
	}
}

// Handler builds the route table wrapped in the full middleware chain.
// Start serves it; tests mount it directly.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health and metrics endpoints (no auth required)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", s.metrics.Handler())

	// Challenge issuance is the only unauthenticated mutation, so it sits
	// behind the per-IP limiter. Everything after it is gated by a signed
	// challenge or a session token checked in the service layer.
	mux.Handle("/v1/auth/challenge", s.limiter.Limit(http.HandlerFunc(s.handleChallenge)))
	mux.HandleFunc("/v1/auth/unlock", s.handleUnlock)

	mux.HandleFunc("/v1/session", s.handleSession)

	mux.HandleFunc("/v1/execution/enable", s.handleEnableExecution)
	mux.HandleFunc("/v1/execution/revoke", s.handleRevokeExecution)
	mux.HandleFunc("/v1/execution/status", s.handleExecutionStatus)

	mux.HandleFunc("/v1/mnemonic", s.handleMnemonic)
	mux.HandleFunc("/v1/mnemonic/reveal", s.handleRevealMnemonic)

	mux.HandleFunc("/v1/policy", s.handlePolicy)
	mux.HandleFunc("/v1/policy/verify", s.handleVerifyPolicy)

	// Emergency stop accepts an operator key or a bearer token so both a
	// human operator and the owner's backend can pull it. Clearing the
	// stop is operator-only.
	mux.Handle("/v1/emergency-stop",
		middleware.RequireAny(s.operator, s.tokenAuth)(http.HandlerFunc(s.handleEmergencyStop)))
	mux.Handle("/v1/admin/emergency-clear",
		s.operator.Require(http.HandlerFunc(s.handleEmergencyClear)))

	routes := []string{
		"/healthz",
		"/metrics",
		"/v1/auth/challenge",
		"/v1/auth/unlock",
		"/v1/session",
		"/v1/execution/enable",
		"/v1/execution/revoke",
		"/v1/execution/status",
		"/v1/mnemonic",
		"/v1/mnemonic/reveal",
		"/v1/policy",
		"/v1/policy/verify",
		"/v1/emergency-stop",
		"/v1/admin/emergency-clear",
	}
	observe := middleware.Observe(s.metrics, routes)

	// Chain: RequestID -> AuditContext -> Observe -> Recover -> LimitBody -> Routes.
	// Observe wraps Recover so a recovered panic is still recorded as a 500.
	return middleware.RequestID(middleware.AuditContext(observe(middleware.Recover(middleware.LimitBody(mux)))))
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.Info(context.Background(), "starting http server", "port", s.config.Port)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// handleHealth reports liveness. A failing database ping surfaces as 503
// so load balancers stop routing here before requests start erroring.
// A server wired without a store probes nothing and reports ok.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := s.store.Ping(ctx); err != nil {
			s.writeError(w, apperrors.StorageUnavailable(err))
			return
		}
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
