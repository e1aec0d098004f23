package gateway

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/brickfoundry/gateway/pkg/api"
	"github.com/brickfoundry/gateway/pkg/auth"
	"github.com/brickfoundry/gateway/pkg/privacy"
)

// BurstLimiter is a coarse per-client token bucket in front of the
// pipeline. The daily quota is the contractual limit; this guard only
// absorbs pathological bursts before any crypto work happens.
type BurstLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rps      rate.Limit
	burst    int
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewBurstLimiter creates a limiter allowing rps requests per second
// with the given burst per client address.
func NewBurstLimiter(rps, burst int) *BurstLimiter {
	bl := &BurstLimiter{
		visitors: make(map[string]*visitor),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
	go bl.cleanup()
	return bl
}

func (bl *BurstLimiter) visitor(ip string) *rate.Limiter {
	bl.mu.Lock()
	defer bl.mu.Unlock()
	v, ok := bl.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(bl.rps, bl.burst)}
		bl.visitors[ip] = v
	}
	v.lastSeen = time.Now()
	return v.limiter
}

func (bl *BurstLimiter) cleanup() {
	for {
		time.Sleep(time.Minute)
		bl.mu.Lock()
		for ip, v := range bl.visitors {
			if time.Since(v.lastSeen) > 3*time.Minute {
				delete(bl.visitors, ip)
			}
		}
		bl.mu.Unlock()
	}
}

// Middleware rejects clients that exceed the burst allowance.
func (bl *BurstLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = strings.Trim(r.RemoteAddr, "[]")
		}
		if !bl.visitor(ip).Allow() {
			env := &api.Envelope{
				OK:        false,
				Timestamp: time.Now().UTC().Format(time.RFC3339),
				RequestID: auth.GetRequestID(r.Context()),
				Error: api.NewError(api.CodeRateLimited, "too many requests").
					WithRetryAfter(time.Second.Milliseconds()),
			}
			api.Write(w, env)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// AccessLogMiddleware writes one redacted slog line per request.
func AccessLogMiddleware(logger *slog.Logger, redactor *privacy.Redactor) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)

			logger.Info("http",
				"method", r.Method,
				"path", redactor.Scrub(r.URL.Path),
				"status", sw.status,
				"duration_ms", time.Since(started).Milliseconds(),
				"request_id", auth.GetRequestID(r.Context()))
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}
