// Package fakestore provides an in-process document store that answers
// requests with the authentication challenges of a real deployment. It
// backs the command-line serve-fake command and the client tests.
package fakestore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/docstore-client/internal/config"
	"github.com/vyrodovalexey/docstore-client/internal/store"
)

// Options configures a fake store.
type Options struct {
	// Address is the listen address used by Start.
	Address string
	// Mode selects the challenge behavior, one of the config.Mode* values.
	Mode string
	// Keyring holds the accepted API keys. Required for the secured and
	// legacy modes.
	Keyring        *Keyring
	MetricsEnabled bool
}

// ErrMissingKeyring is returned by New when a token-issuing mode has no
// keyring.
var ErrMissingKeyring = errors.New("fakestore: a keyring is required in secured and legacy modes")

// Server is the fake document store.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	opts       Options
	logger     *zap.Logger
	issuer     *tokenIssuer
	hub        *changesHub
}

// New creates a new Server instance.
func New(opts Options, logger *zap.Logger, docs store.Store) (*Server, error) {
	if (opts.Mode == config.ModeSecured || opts.Mode == config.ModeLegacy) && opts.Keyring == nil {
		return nil, ErrMissingKeyring
	}

	s := &Server{
		router: mux.NewRouter(),
		opts:   opts,
		logger: logger,
		issuer: newTokenIssuer(opts.Keyring, logger),
		hub:    newChangesHub(logger),
	}

	s.setupMiddleware()
	s.setupRoutes(docs)
	s.setupHTTPServer()

	return s, nil
}

// NewFromConfig creates a Server from the fake store settings of cfg.
func NewFromConfig(cfg *config.Config, logger *zap.Logger, docs store.Store) (*Server, error) {
	opts := Options{
		Address:        cfg.FakeStoreAddress(),
		Mode:           cfg.FakeStoreMode,
		MetricsEnabled: cfg.MetricsEnabled,
	}

	if cfg.FakeStoreAPIKeys != "" {
		keyring, err := ParseAPIKeys(cfg.FakeStoreAPIKeys)
		if err != nil {
			return nil, fmt.Errorf("parsing fake store API keys: %w", err)
		}
		opts.Keyring = keyring
	}

	return New(opts, logger, docs)
}

// setupMiddleware configures the middleware chain.
func (s *Server) setupMiddleware() {
	// first applied = outermost
	s.router.Use(recovery(s.logger))
	s.router.Use(requestID())

	if s.opts.MetricsEnabled {
		s.router.Use(metrics())
	}

	s.router.Use(logging(s.logger))
	s.router.Use(challenge(s.opts.Mode, s.issuer, s.logger))
}

// setupRoutes configures the routes.
func (s *Server) setupRoutes(docs store.Store) {
	s.issuer.registerRoutes(s.router)

	h := &documentHandler{
		store:  docs,
		hub:    s.hub,
		mode:   s.opts.Mode,
		logger: s.logger,
	}
	h.registerRoutes(s.router)
	s.hub.registerRoutes(s.router)

	if s.opts.MetricsEnabled {
		s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	}
}

// setupHTTPServer configures the HTTP server.
func (s *Server) setupHTTPServer() {
	s.httpServer = &http.Server{
		Addr:              s.opts.Address,
		Handler:           s.router,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("starting fake store",
		zap.String("address", s.opts.Address),
		zap.String("mode", s.opts.Mode),
		zap.Bool("metrics_enabled", s.opts.MetricsEnabled),
	)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("fake store listen and serve: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down fake store")

	s.hub.closeAll()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("fake store shutdown: %w", err)
	}

	s.logger.Info("fake store shutdown complete")
	return nil
}

// Handler returns the server's HTTP handler, for use with httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Exchanges returns the number of token exchange requests received.
func (s *Server) Exchanges() int64 {
	return s.issuer.exchanges.Load()
}

// RevokeTokens invalidates every issued token, so the next request with a
// cached token is challenged again. It returns the number revoked.
func (s *Server) RevokeTokens() int {
	n := s.issuer.revoke()
	s.logger.Info("tokens revoked", zap.Int("count", n))
	return n
}

// Subscribers returns the number of open change feeds.
func (s *Server) Subscribers() int {
	return s.hub.subscribers()
}

// CloseSubscriptions ends every open change feed.
func (s *Server) CloseSubscriptions() {
	s.hub.closeAll()
}
