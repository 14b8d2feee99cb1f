// Package server exposes the namespace state over a read-only HTTP API so
// dashboards and automation can see the managed fleet without shell access.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nucypher/nucypher-ops/pkg/deploy"
)

const name = "nucypher-ops"

// version is stamped by the build; see cmd/nucypher-ops.
var version = "dev"

// SetVersion records the build version reported by the API.
func SetVersion(v string) { version = v }

// Server serves the ops API for one state store.
type Server struct {
	cfg   *Config
	store *deploy.Store

	limiter *rate.Limiter

	mu    sync.RWMutex
	ready bool
}

// New creates a server over the given store. A nil config uses defaults.
func New(cfg *Config, store *deploy.Store) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Server{
		cfg:     cfg,
		store:   store,
		limiter: rate.NewLimiter(cfg.RateLimit, cfg.RateLimitBurst),
	}
}

// Handler builds the fully wired HTTP handler; exposed for tests.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Address, s.cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.setupRoutes(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	s.mu.Lock()
	s.ready = true
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("ops API listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.mu.Lock()
	s.ready = false
	s.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	slog.Info("shutting down ops API", "timeout", s.cfg.ShutdownTimeout)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}

// SetReady flips the readiness probe; exposed for tests.
func (s *Server) SetReady(ready bool) {
	s.mu.Lock()
	s.ready = ready
	s.mu.Unlock()
}

type contextKey string

const contextKeyRequestID contextKey = "requestID"

// withMiddleware wraps a handler with request IDs, logging, and rate
// limiting.
func (s *Server) withMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return s.withRequestID(s.withLogging(s.withRateLimit(next)))
}

func (s *Server) withRequestID(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = newRequestID()
		}
		w.Header().Set("X-Request-ID", requestID)
		ctx := context.WithValue(r.Context(), contextKeyRequestID, requestID)
		next(w, r.WithContext(ctx))
	}
}

func (s *Server) withLogging(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next(w, r)
		slog.Debug("handled request",
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
			"duration", time.Since(start),
		)
	}
}

func (s *Server) withRateLimit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			WriteError(w, r, http.StatusTooManyRequests,
				ErrCodeRateLimitExceeded, "rate limit exceeded", true, nil)
			return
		}
		next(w, r)
	}
}
