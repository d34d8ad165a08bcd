// Package server exposes the payment flow over HTTP: intent initiation,
// verification, and access checks.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/codebazaar/paygate/pkg/access"
	"github.com/codebazaar/paygate/pkg/chain"
	"github.com/codebazaar/paygate/pkg/ledger"
	"github.com/codebazaar/paygate/pkg/pricing"
	"github.com/codebazaar/paygate/pkg/types"
)

// Verifier is the verification engine surface the handlers call.
type Verifier interface {
	Verify(ctx context.Context, intentID, txHash, payer string) (*types.VerifyOutcome, error)
}

// Server wires the HTTP API over the payment components.
type Server struct {
	router   *gin.Engine
	ledger   *ledger.Store
	resolver *pricing.Resolver
	engine   Verifier
	access   *access.Service
	chain    chain.Client
	intent   IntentPolicy
	logger   *slog.Logger
	validate *validator.Validate
}

// IntentPolicy carries the knobs the initiate handler needs.
type IntentPolicy struct {
	TTL           time.Duration
	RetryAfterSec int
}

// Deps bundles the constructor arguments.
type Deps struct {
	Ledger   *ledger.Store
	Resolver *pricing.Resolver
	Engine   Verifier
	Access   *access.Service
	Chain    chain.Client
	Logger   *slog.Logger
	Registry *prometheus.Registry
	Policy   IntentPolicy
}

// New builds the router. gin runs in release mode; callers set
// GIN_MODE=debug for development.
func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		router:   router,
		ledger:   deps.Ledger,
		resolver: deps.Resolver,
		engine:   deps.Engine,
		access:   deps.Access,
		chain:    deps.Chain,
		intent:   deps.Policy,
		logger:   deps.Logger,
		validate: validator.New(),
	}

	api := router.Group("/api")
	{
		api.POST("/payments/initiate", s.handleInitiate)
		api.POST("/payments/verify", s.handleVerify)
		api.GET("/projects/:id/access", s.handleAccess)
	}

	router.GET("/healthz", s.handleHealthz)
	if deps.Registry != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{})))
	}

	return s
}

// Handler returns the http.Handler for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until the listener fails.
func (s *Server) Run(addr string) error { return s.router.Run(addr) }
