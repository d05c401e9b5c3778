// Package api implements the till-sync HTTP server: the authoritative
// product catalog and transaction store that terminals sync against.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/marcus/till/internal/serverdb"
)

// Server is the HTTP API server for till-sync.
type Server struct {
	config      Config
	http        *http.Server
	store       *serverdb.ServerDB
	log         *slog.Logger
	metrics     *Metrics
	rateLimiter *RateLimiter
	cancel      context.CancelFunc
	addr        string
}

// NewServer creates a new Server with the given config and store.
func NewServer(cfg Config, store *serverdb.ServerDB, log *slog.Logger) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("server store is required")
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	s := &Server{
		config:      cfg,
		store:       store,
		log:         log,
		metrics:     NewMetrics(),
		rateLimiter: NewRateLimiter(),
	}

	s.http = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// Start begins listening for HTTP requests (non-blocking).
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.addr = ln.Addr().String()

	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server", "err", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.housekeeping(ctx, 5*time.Minute)

	return nil
}

// Addr returns the bound listen address once Start has succeeded.
func (s *Server) Addr() string {
	return s.addr
}

// housekeeping drops stale rate-limit buckets and expired violation records.
func (s *Server) housekeeping(ctx context.Context, every time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("cleanup panic", "panic", r)
		}
	}()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.rateLimiter.Cleanup()
			n, err := s.store.CleanupRateLimitEvents(s.config.RateLimitEventRetention)
			if err != nil {
				s.log.Error("cleanup rate limit events", "err", err)
			} else if n > 0 {
				s.log.Info("cleaned up rate limit events", "count", n)
			}
		}
	}
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	return s.http.Shutdown(ctx)
}

// Metrics exposes the server counters.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Handler builds the HTTP handler with all routes and middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	read := func(h http.HandlerFunc) http.HandlerFunc {
		return s.requireAuth(s.withRateLimit(h, "read", s.config.RateLimitRead))
	}
	write := func(h http.HandlerFunc) http.HandlerFunc {
		return s.requireAuth(s.withRateLimit(h, "write", s.config.RateLimitWrite))
	}

	// Health & metrics
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /metricz", s.handleMetrics)

	// Identity
	mux.HandleFunc("GET /v1/me", read(s.handleMe))

	// Catalog
	mux.HandleFunc("GET /v1/products", read(s.handleListProducts))
	mux.HandleFunc("GET /v1/products/{id}", read(s.handleGetProduct))
	mux.HandleFunc("PUT /v1/products/{id}", write(s.handlePutProduct))
	mux.HandleFunc("DELETE /v1/products/{id}", write(s.handleDeleteProduct))

	// Transactions
	mux.HandleFunc("PUT /v1/transactions/{id}", write(s.handlePutTransaction))
	mux.HandleFunc("PUT /v1/transactions/{id}/items", write(s.handlePutTransactionItems))
	mux.HandleFunc("GET /v1/transactions/{id}", read(s.handleGetTransaction))

	return chain(mux,
		recoveryMiddleware,
		requestIDMiddleware,
		loggerMiddleware(s.log),
		metricsMiddleware(s.metrics),
		loggingMiddleware,
		corsMiddleware(s.config.CORSAllowedOrigins),
		maxBytesMiddleware(s.config.MaxBodyBytes),
	)
}

// handleHealth returns a health check response, pinging the server DB.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error", "detail": "db unreachable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleMetrics returns a snapshot of server metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

// writeStoreError maps store sentinels onto HTTP statuses.
func writeStoreError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, serverdb.ErrNotFound):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, serverdb.ErrForbidden):
		writeError(w, http.StatusForbidden, ErrCodeForbidden, err.Error())
	default:
		logFor(r.Context()).Error(op, "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, op+" failed")
	}
}
