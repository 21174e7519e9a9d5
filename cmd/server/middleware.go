package main

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"
)

// withInternalAuth is a no-op when no shared secret is configured.
func (a *app) withInternalAuth(next http.Handler) http.Handler {
	shared := a.cfg.InternalSharedSecret
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if shared != "" {
			got := r.Header.Get("X-Internal-Auth")
			if subtle.ConstantTimeCompare([]byte(got), []byte(shared)) != 1 {
				writeErr(w, http.StatusUnauthorized, "unauthorized", "Invalid authentication")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (a *app) withConcurrencyLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.requestSem.TryAcquire(1) {
			writeErr(w, http.StatusServiceUnavailable, "capacity", "Service at capacity")
			return
		}
		defer a.requestSem.Release(1)

		a.metrics.incActive()
		defer a.metrics.decActive()

		next.ServeHTTP(w, r)
	})
}

func (a *app) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.limiters.get(getClientIP(r)).Allow() {
			w.Header().Set("Retry-After", "60")
			writeErr(w, http.StatusTooManyRequests, "rate_limit", "Rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *app) withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				if err == http.ErrAbortHandler {
					panic(err)
				}
				a.logger.Error("panic", "error", err, "request_id", middleware.GetReqID(r.Context()))
				writeErr(w, http.StatusInternalServerError, "internal_error", "Internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (a *app) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		a.logger.Info("request",
			"method", r.Method,
			"path", sanitizeLogString(r.URL.Path),
			"status", status,
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

// ---------- Helpers ----------

// limiterStore keeps one token bucket per client IP.
type limiterStore struct {
	mu    sync.Mutex
	every time.Duration
	burst int
	m     map[string]*rate.Limiter
}

func newLimiterStore(every time.Duration, burst int) *limiterStore {
	if every <= 0 {
		every = 600 * time.Millisecond // ~100/min
	}
	if burst <= 0 {
		burst = 20
	}
	return &limiterStore{every: every, burst: burst, m: map[string]*rate.Limiter{}}
}

func (s *limiterStore) get(ip string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.m[ip]
	if !ok {
		l = rate.NewLimiter(rate.Every(s.every), s.burst)
		s.m[ip] = l
	}
	return l
}

func (s *limiterStore) reset() {
	s.mu.Lock()
	s.m = map[string]*rate.Limiter{}
	s.mu.Unlock()
}

func getClientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		if idx := strings.Index(ip, ","); idx > 0 {
			return strings.TrimSpace(ip[:idx])
		}
		return strings.TrimSpace(ip)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return strings.TrimSpace(ip)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func sanitizeLogString(s string) string {
	s = strings.ReplaceAll(s, "\n", "")
	s = strings.ReplaceAll(s, "\r", "")
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
