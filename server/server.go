// Package server exposes audience matching over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/daveroberts0321/flagfilter/audience"
)

// maxBodyBytes bounds every request body.
const maxBodyBytes = 1 << 20

type Options struct {
	// RatePerSecond of zero disables per-app rate limiting.
	RatePerSecond float64
	Burst         int
	// APIKeys maps bearer tokens to app ids. When empty, requests choose
	// their app with the X-App-Id header.
	APIKeys map[string]string
	Logger  *slog.Logger
}

type Server struct {
	store   *audience.Store
	matcher *audience.Matcher
	apiKeys map[string]string
	logger  *slog.Logger
	schemas *schemas
	limiter *bucketLimiter
	handler http.Handler
}

// New builds the HTTP handler for store. Filters are evaluated through
// matcher so compiled queries are shared across requests.
func New(store *audience.Store, matcher *audience.Matcher, opts Options) (*Server, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	sc, err := compileSchemas()
	if err != nil {
		return nil, fmt.Errorf("failed to compile request schemas: %w", err)
	}
	s := &Server{
		store:   store,
		matcher: matcher,
		apiKeys: opts.APIKeys,
		logger:  logger,
		schemas: sc,
	}
	if opts.RatePerSecond > 0 {
		s.limiter = newBucketLimiter(opts.RatePerSecond, opts.Burst)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.health)
	mux.HandleFunc("GET /api/openapi.yaml", s.openAPIDoc)
	mux.Handle("GET /debug/vars", metricsHandler())
	mux.HandleFunc("POST /api/filters/check", s.checkFilter)

	mux.Handle("POST /api/match", s.withApp(s.match))
	mux.Handle("GET /api/audiences", s.withApp(s.listAudiences))
	mux.Handle("POST /api/audiences", s.withApp(s.createAudience))
	mux.Handle("POST /api/audiences/evaluate", s.withApp(s.evaluateAudiences))
	mux.Handle("GET /api/audiences/{audienceID}", s.withApp(s.getAudience))
	mux.Handle("PUT /api/audiences/{audienceID}", s.withApp(s.updateAudience))
	mux.Handle("DELETE /api/audiences/{audienceID}", s.withApp(s.deleteAudience))
	mux.Handle("GET /api/flags", s.withApp(s.listFlags))
	mux.Handle("POST /api/flags/evaluate", s.withApp(s.evaluateFlags))
	mux.Handle("GET /api/overrides", s.withApp(s.listOverrides))
	mux.Handle("POST /api/overrides/evaluate", s.withApp(s.evaluateOverrides))

	s.handler = s.logRequests(s.recoverPanics(mux))
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	s.logger.Info("serving", "addr", ln.Addr().String())

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down: %w", err)
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
