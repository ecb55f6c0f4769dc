package apihttp

import (
	"bufio"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"clipstudio/internal/metrics"
)

const (
	healthPath  = "/internal/health"
	metricsPath = "/metrics"
	wsPath      = "/ws"
)

// Longest query and user agent kept on a request log line.
const (
	maxLoggedQuery     = 180
	maxLoggedUserAgent = 120
)

// isServicePath reports paths served for operators rather than renderers.
// They bypass the control rate limit and are not traced.
func isServicePath(path string) bool {
	return path == healthPath || path == metricsPath
}

// statusRecorder remembers what a handler wrote so the outer middleware can
// log and meter it.
type statusRecorder struct {
	http.ResponseWriter
	status int
	size   int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Write(b []byte) (int, error) {
	n, err := rec.ResponseWriter.Write(b)
	rec.size += n
	return n, err
}

func (rec *statusRecorder) Flush() {
	if f, ok := rec.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack lets the renderer socket upgrade pass through the chain.
func (rec *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rec.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	return h.Hijack()
}

// serveRecorded runs next and returns what it wrote and how long it took.
func serveRecorded(next http.Handler, w http.ResponseWriter, r *http.Request) (*statusRecorder, time.Duration) {
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	start := time.Now()
	next.ServeHTTP(rec, r)
	return rec, time.Since(start)
}

// corsMiddleware reflects the request origin when it is whitelisted. An
// empty whitelist allows every origin. Same-origin requests (no Origin
// header) get no CORS headers.
func corsMiddleware(allowed []string, next http.Handler) http.Handler {
	whitelist := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			whitelist[o] = struct{}{}
		}
	}
	allowOrigin := func(origin string) bool {
		if origin == "" {
			return false
		}
		_, ok := whitelist[origin]
		return ok || len(whitelist) == 0
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := strings.TrimSpace(r.Header.Get("Origin")); allowOrigin(origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Vary", "Origin")
			h.Set("Access-Control-Allow-Methods", "GET, POST, PATCH, PUT, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
			h.Set("Access-Control-Expose-Headers", "Content-Length, X-Request-ID")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func loggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec, elapsed := serveRecorded(next, w, r)
		logger.LogAttrs(r.Context(), requestLogLevel(r.URL.Path, rec.status), "control request",
			requestAttrs(r, rec, elapsed)...)
	})
}

func requestAttrs(r *http.Request, rec *statusRecorder, elapsed time.Duration) []slog.Attr {
	attrs := make([]slog.Attr, 0, 8)
	attrs = append(attrs,
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", rec.status),
		slog.Int("bytes", rec.size),
		slog.Int64("durationMs", elapsed.Milliseconds()),
		slog.String("clientIP", clientIP(r)),
	)
	if q := strings.TrimSpace(r.URL.RawQuery); q != "" {
		attrs = append(attrs, slog.String("query", truncate(q, maxLoggedQuery)))
	}
	if ua := strings.TrimSpace(r.UserAgent()); ua != "" {
		attrs = append(attrs, slog.String("userAgent", truncate(ua, maxLoggedUserAgent)))
	}
	return attrs
}

// requestLogLevel keeps polling traffic at debug unless it fails.
func requestLogLevel(path string, status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case status >= http.StatusBadRequest:
		return slog.LevelWarn
	case isServicePath(path) || path == "/preview":
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

func recoveryMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			logger.Error("control handler panicked",
				slog.Any("panic", rec),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("clientIP", clientIP(r)),
				slog.String("stack", string(debug.Stack())),
			)
			writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		}()
		next.ServeHTTP(w, r)
	})
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == metricsPath {
			next.ServeHTTP(w, r)
			return
		}
		rec, elapsed := serveRecorded(next, w, r)
		route := normalizeRoute(r.URL.Path)
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())
	})
}

// normalizeRoute maps a request path onto the route label used in metrics
// so segment indexes and asset names do not explode cardinality.
func normalizeRoute(path string) string {
	switch path {
	case metricsPath, healthPath, wsPath, "/preview", "/music",
		"/project", "/project/resume", "/project/render":
		return path
	}
	for _, group := range []struct{ prefix, route string }{
		{"/playback/", "/playback"},
		{"/settings/", "/settings"},
		{"/project/segments/", "/project/segments/:index"},
		{"/project/", "/project/assets"},
	} {
		if strings.HasPrefix(path, group.prefix) {
			return group.route
		}
	}
	return "/other"
}

// clientIP prefers the first forwarded hop, then X-Real-IP, then the peer
// address.
func clientIP(r *http.Request) string {
	if first, _, _ := strings.Cut(r.Header.Get("X-Forwarded-For"), ","); strings.TrimSpace(first) != "" {
		return strings.TrimSpace(first)
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil && host != "" {
		return host
	}
	return addr
}

func truncate(s string, limit int) string {
	switch {
	case limit <= 0 || len(s) <= limit:
		return s
	case limit <= 3:
		return s[:limit]
	default:
		return s[:limit-3] + "..."
	}
}

// rateLimitMiddleware shares one token bucket across all control requests
// and answers 429 once it runs dry. rps <= 0 disables it.
func rateLimitMiddleware(rps float64, burst int, next http.Handler) http.Handler {
	if rps <= 0 {
		return next
	}
	limiter := rate.NewLimiter(rate.Limit(rps), max(burst, 1))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isServicePath(r.URL.Path) && !limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}
