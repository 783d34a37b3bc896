package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/marcus/wander/internal/serverdb"
)

// Server is the HTTP API server for wander-sync.
type Server struct {
	config      Config
	http        *http.Server
	store       *serverdb.ServerDB
	hub         *changeHub
	metrics     *Metrics
	rateLimiter *RateLimiter
	cancel      context.CancelFunc
}

// NewServer creates a new Server with the given config and store.
func NewServer(cfg Config, store *serverdb.ServerDB) (*Server, error) {
	s := &Server{
		config:      cfg,
		store:       store,
		hub:         newChangeHub(),
		metrics:     NewMetrics(),
		rateLimiter: NewRateLimiter(),
	}

	s.http = &http.Server{
		Addr:        cfg.ListenAddr,
		Handler:     s.routes(),
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: the change stream endpoint holds connections open.
		IdleTimeout: 120 * time.Second,
	}

	return s, nil
}

// Handler returns the server's HTTP handler, for mounting in tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Start begins listening for HTTP requests (non-blocking).
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	go func() {
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("http server", "err", err)
		}
	}()

	// Periodically clean up expired auth requests
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("cleanup panic", "panic", r)
			}
		}()
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := s.store.CleanupExpiredAuthRequests()
				if err != nil {
					slog.Error("cleanup expired auth requests", "err", err)
				} else if n > 0 {
					slog.Info("cleaned up expired auth requests", "count", n)
				}
			}
		}
	}()

	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	return s.http.Shutdown(ctx)
}

// routes builds the HTTP handler with all routes and middleware.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	// Health & metrics
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /metricz", s.handleMetrics)

	// Auth (public)
	mux.HandleFunc("POST /v1/auth/login/start", s.handleLoginStart)
	mux.HandleFunc("POST /v1/auth/login/poll", s.handleLoginPoll)
	mux.HandleFunc("GET /auth/verify", s.handleVerifyPage)
	mux.HandleFunc("POST /auth/verify", s.handleVerifySubmit)

	// Records
	mux.HandleFunc("PUT /v1/records/{entity}/{id}", s.requireAuth(s.withRateLimit(s.handleUpsertRecord, s.config.RateLimitWrite)))
	mux.HandleFunc("DELETE /v1/records/{entity}/{id}", s.requireAuth(s.withRateLimit(s.handleDeleteRecord, s.config.RateLimitWrite)))
	mux.HandleFunc("GET /v1/records/{entity}/changes", s.requireAuth(s.withRateLimit(s.handleChanges, s.config.RateLimitRead)))

	// Attachments
	mux.HandleFunc("POST /v1/attachments", s.requireAuth(s.withRateLimit(s.handleUploadAttachment, s.config.RateLimitWrite)))
	mux.HandleFunc("GET /v1/attachments/{blobID}", s.requireAuth(s.withRateLimit(s.handleGetAttachment, s.config.RateLimitOther)))

	// Realtime change stream (long-lived, not rate limited)
	mux.HandleFunc("GET /v1/changes/stream", s.requireAuth(s.handleChangeStream))

	return chain(mux, recoveryMiddleware, requestIDMiddleware, loggerMiddleware, metricsMiddleware(s.metrics), loggingMiddleware, maxBytesMiddleware(s.config.MaxBlobSize+1<<20), authRateLimitMiddleware(s.rateLimiter, s.config.RateLimitAuth))
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
