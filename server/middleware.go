package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/daveroberts0321/flagfilter/audience"
)

// AppHeader selects the app when no API keys are configured.
const AppHeader = "X-App-Id"

type key int

const appKey key = iota

// appID returns the app chosen by withApp.
func appID(ctx context.Context) string {
	id, _ := ctx.Value(appKey).(string)
	return id
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(p)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)
		if sw.status == 0 {
			sw.status = http.StatusOK
		}
		requests.Add(1)
		respCodes.Add(strconv.Itoa(sw.status), 1)
		s.logger.Info("request",
			"method", r.Method,
			"url", r.URL.String(),
			"status", sw.status,
			"duration", time.Since(start))
	})
}

func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				s.logger.Error("handler panic", "method", r.Method, "url", r.URL.String(), "panic", v)
				writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// withApp resolves the app a request acts for and applies its rate limit.
func (s *Server) withApp(h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		app, ok := s.resolveApp(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if s.limiter != nil && !s.limiter.Allow(app) {
			rateLimited.Add(1)
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		h.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), appKey, app)))
	})
}

func (s *Server) resolveApp(r *http.Request) (string, bool) {
	if len(s.apiKeys) == 0 {
		if id := r.Header.Get(AppHeader); id != "" {
			return id, true
		}
		return audience.DefaultApp, true
	}
	typ, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || typ != "Bearer" {
		return "", false
	}
	app, ok := s.apiKeys[token]
	return app, ok
}

// bucketLimiter keeps one token bucket per app.
type bucketLimiter struct {
	freq  rate.Limit
	burst int

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

func newBucketLimiter(perSecond float64, burst int) *bucketLimiter {
	if burst < 1 {
		burst = 1
	}
	return &bucketLimiter{
		freq:    rate.Limit(perSecond),
		burst:   burst,
		buckets: make(map[string]*rate.Limiter),
	}
}

func (b *bucketLimiter) Allow(id string) bool {
	return b.bucket(id).Allow()
}

func (b *bucketLimiter) bucket(id string) *rate.Limiter {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.buckets[id]
	if !ok {
		l = rate.NewLimiter(b.freq, b.burst)
		b.buckets[id] = l
	}
	return l
}
