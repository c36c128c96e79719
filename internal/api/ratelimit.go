package api

import (
	"bufio"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"tourplan/internal/metrics"
)

// rateLimitMiddleware applies a token-bucket limit per client IP. Probe
// and metrics endpoints bypass the limiter.
func rateLimitMiddleware(next http.Handler, rps float64, burst int) http.Handler {
	if rps <= 0 {
		return next
	}
	var mu sync.Mutex
	limiters := map[string]*rate.Limiter{}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/healthz", "/readyz", "/metrics":
			next.ServeHTTP(w, r)
			return
		}
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		mu.Lock()
		lim, ok := limiters[host]
		if !ok {
			lim = rate.NewLimiter(rate.Limit(rps), burst)
			limiters[host] = lim
		}
		mu.Unlock()
		if !lim.Allow() {
			writeProblem(w, http.StatusTooManyRequests, "rate limited", "too many requests", r.URL.Path)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE streaming working through the middleware stack.
func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack keeps WebSocket upgrades working through the middleware stack.
func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		status := strconv.Itoa(rec.status)
		route := routePattern(r.URL.Path)
		metrics.HTTPRequests.WithLabelValues(r.Method, route, status).Inc()
		metrics.HTTPDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
	})
}

// routePattern collapses resource ids out of the path so the metric label
// set stays bounded no matter how many guests, tours or jobs exist.
func routePattern(path string) string {
	parts := strings.Split(path, "/")
	if len(parts) < 4 || parts[1] != "v1" {
		return path
	}
	switch parts[2] {
	case "guests", "vehicles", "tours", "subscriptions", "jobs":
		if parts[3] != "" {
			parts[3] = "{id}"
		}
	case "optimize":
		if len(parts) >= 5 && (parts[3] == "status" || parts[3] == "result") && parts[4] != "" {
			parts[4] = "{id}"
		}
	case "admin":
		if len(parts) >= 5 && parts[3] == "webhook-deliveries" && parts[4] != "" {
			parts[4] = "{id}"
		}
	}
	return strings.Join(parts, "/")
}
