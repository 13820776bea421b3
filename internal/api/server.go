// Package api exposes the chat, wellness and session endpoints over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Saispecial/avika-backend-api/internal/flow"
	"github.com/Saispecial/avika-backend-api/internal/metrics"
	"github.com/Saispecial/avika-backend-api/internal/wellness"
)

const (
	// DefaultAddr is the listen address when none is configured.
	DefaultAddr = ":8080"
	// maxBodyBytes bounds request bodies.
	maxBodyBytes     = 64 << 10
	readTimeout      = 15 * time.Second
	writeTimeout     = 60 * time.Second
	shutdownTimeout  = 10 * time.Second
	readHeaderTimeout = 5 * time.Second
)

// Features reports which optional integrations are configured. It is
// surfaced by the health endpoints.
type Features struct {
	Responder  bool   `json:"responder"`
	Model      string `json:"model,omitempty"`
	Redis      bool   `json:"redis"`
	Supabase   bool   `json:"supabase"`
	Encryption bool   `json:"encryption"`
	Auth       bool   `json:"auth"`
	Store      string `json:"store"`
}

// Opts holds server configuration.
type Opts struct {
	Addr      string
	JWTSecret string
	RateLimit float64
	RateBurst int
	Version   string
	Features  Features
}

// Option configures a Server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// WithJWTSecret enables bearer authentication on /api routes.
func WithJWTSecret(secret string) Option {
	return func(o *Opts) {
		o.JWTSecret = secret
	}
}

// WithRateLimit sets the per-session turn rate and burst.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(o *Opts) {
		o.RateLimit = perSecond
		o.RateBurst = burst
	}
}

// WithVersion sets the version reported by /health.
func WithVersion(v string) Option {
	return func(o *Opts) {
		o.Version = v
	}
}

// WithFeatures sets the feature flags reported by the health endpoints.
func WithFeatures(f Features) Option {
	return func(o *Opts) {
		o.Features = f
	}
}

// Server is the HTTP front of the chat service.
type Server struct {
	flow      *flow.Service
	wellness  *wellness.Service
	auth      *authenticator
	limiter   *sessionLimiter
	addr      string
	version   string
	features  Features
	startedAt time.Time
}

// NewServer wires the handlers over the given services.
func NewServer(fl *flow.Service, wl *wellness.Service, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr, RateLimit: DefaultRateLimit, RateBurst: DefaultRateBurst, Version: "dev"}
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &Server{
		flow:      fl,
		wellness:  wl,
		limiter:   newSessionLimiter(cfg.RateLimit, cfg.RateBurst),
		addr:      cfg.Addr,
		version:   cfg.Version,
		features:  cfg.Features,
		startedAt: time.Now(),
	}
	if cfg.JWTSecret != "" {
		s.auth = newAuthenticator(cfg.JWTSecret)
		s.features.Auth = true
	} else {
		slog.Warn("api.NewServer: JWT_SECRET not set, /api routes are unauthenticated")
	}
	return s
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthHandler)
	mux.HandleFunc("GET /health/detailed", s.detailedHealthHandler)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("POST /api/chat", s.auth.requireAuth(s.chatHandler))
	mux.HandleFunc("POST /api/wellness", s.auth.requireAuth(s.wellnessHandler))
	mux.HandleFunc("GET /api/sessions/{id}/state", s.auth.requireAuth(s.sessionStateHandler))
	mux.HandleFunc("GET /api/sessions/{id}/history", s.auth.requireAuth(s.sessionHistoryHandler))
	mux.HandleFunc("DELETE /api/sessions/{id}", s.auth.requireAuth(s.resetSessionHandler))

	return withRequestID(mux)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	slog.Info("Server.Run: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown failed: %w", err)
	}
	return nil
}
