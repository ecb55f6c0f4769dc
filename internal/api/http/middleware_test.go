package apihttp

import (
	"bufio"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestCorsMiddleware(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    string
	}{
		{"nil whitelist reflects", nil, "http://example.com", "http://example.com"},
		{"empty whitelist reflects", []string{}, "http://anything.com", "http://anything.com"},
		{"whitelisted", []string{"http://allowed.com", "http://renderer.local"}, "http://renderer.local", "http://renderer.local"},
		{"rejected", []string{"http://allowed.com"}, "http://evil.com", ""},
		{"trailing slash trimmed", []string{"http://example.com/"}, "http://example.com", "http://example.com"},
		{"spaces trimmed", []string{"  http://spaced.com  "}, "http://spaced.com", "http://spaced.com"},
		{"no origin header", []string{"http://allowed.com"}, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := corsMiddleware(tt.allowed, okHandler())
			req := httptest.NewRequest(http.MethodGet, "/preview", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.want {
				t.Fatalf("Allow-Origin = %q, want %q", got, tt.want)
			}
			if rec.Code != http.StatusOK {
				t.Fatalf("handler should still run, got %d", rec.Code)
			}
			if tt.want != "" {
				if got := rec.Header().Get("Vary"); got != "Origin" {
					t.Fatalf("Vary = %q", got)
				}
				if !strings.Contains(rec.Header().Get("Access-Control-Allow-Methods"), "PATCH") {
					t.Fatalf("Allow-Methods missing PATCH: %q", rec.Header().Get("Access-Control-Allow-Methods"))
				}
			}
		})
	}
}

func TestCorsMiddleware_PreflightReturns204(t *testing.T) {
	called := false
	handler := corsMiddleware(nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	req := httptest.NewRequest(http.MethodOptions, "/settings/music", nil)
	req.Header.Set("Origin", "http://example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for preflight, got %d", rec.Code)
	}
	if called {
		t.Fatal("preflight should not reach the next handler")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	handler := rateLimitMiddleware(0.001, 2, okHandler())
	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/playback/toggle", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d within burst: got %d", i, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/playback/toggle", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "1" {
		t.Fatalf("Retry-After = %q", got)
	}
	if !strings.Contains(rec.Body.String(), "rate_limited") {
		t.Fatalf("body = %q", rec.Body.String())
	}

	for _, path := range []string{healthPath, "/metrics"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s should bypass the limiter, got %d", path, rec.Code)
		}
	}
}

func TestRateLimitMiddleware_DisabledWhenNonPositive(t *testing.T) {
	handler := rateLimitMiddleware(0, 1, okHandler())
	for i := 0; i < 20; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/preview", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: got %d", i, rec.Code)
		}
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	panics := map[string]any{
		"string": "boom",
		"error":  errors.New("bad state"),
	}
	for name, value := range panics {
		t.Run(name, func(t *testing.T) {
			handler := recoveryMiddleware(discardLogger(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				panic(value)
			}))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/preview", nil))
			if rec.Code != http.StatusInternalServerError {
				t.Fatalf("expected 500, got %d", rec.Code)
			}
			if code := decodeErrorCode(t, rec); code != "internal_error" {
				t.Fatalf("code = %q", code)
			}
		})
	}

	handler := recoveryMiddleware(discardLogger(), okHandler())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/preview", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected pass-through 200, got %d", rec.Code)
	}
}

func TestLoggingMiddleware_RecordsStatus(t *testing.T) {
	var buf strings.Builder
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	handler := loggingMiddleware(logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte("busy"))
	}))
	req := httptest.NewRequest(http.MethodPost, "/playback/seek?x=1", nil)
	req.Header.Set("User-Agent", "renderer/1.0")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	for _, want := range []string{"level=WARN", "status=409", "bytes=4", "userAgent=renderer/1.0"} {
		if !strings.Contains(out, want) {
			t.Fatalf("log line missing %q: %s", want, out)
		}
	}
}

func TestStatusRecorder(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &statusRecorder{ResponseWriter: rec, status: http.StatusOK}
	rw.WriteHeader(http.StatusAccepted)
	_, _ = rw.Write([]byte("hello"))
	_, _ = rw.Write([]byte(" world"))
	if rw.status != http.StatusAccepted || rw.size != 11 {
		t.Fatalf("status=%d size=%d", rw.status, rw.size)
	}

	rw.Flush()
	if !rec.Flushed {
		t.Fatal("Flush not forwarded")
	}

	// httptest.ResponseRecorder is not a Hijacker.
	if _, _, err := rw.Hijack(); !errors.Is(err, http.ErrNotSupported) {
		t.Fatalf("hijack err = %v, want ErrNotSupported", err)
	}

	hj := &statusRecorder{ResponseWriter: &hijackRecorder{ResponseRecorder: httptest.NewRecorder()}}
	if _, _, err := hj.Hijack(); err != nil {
		t.Fatalf("hijack: %v", err)
	}
}

type hijackRecorder struct {
	*httptest.ResponseRecorder
}

func (h *hijackRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return nil, nil, nil
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		xff        string
		realIP     string
		remoteAddr string
		want       string
	}{
		{"forwarded first hop", "10.0.0.1, 10.0.0.2", "", "127.0.0.1:9000", "10.0.0.1"},
		{"real ip", "", "192.168.1.5", "127.0.0.1:9000", "192.168.1.5"},
		{"remote addr", "", "", "172.16.0.3:5555", "172.16.0.3"},
		{"remote addr without port", "", "", "172.16.0.4", "172.16.0.4"},
		{"blank forwarded falls through", " , ", "", "172.16.0.5:1", "172.16.0.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}
			if got := clientIP(req); got != tt.want {
				t.Fatalf("clientIP = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in    string
		limit int
		want  string
	}{
		{"short", 10, "short"},
		{"exactly", 7, "exactly"},
		{"truncate me", 8, "trunc..."},
		{"abcdef", 3, "abc"},
		{"abc", 0, "abc"},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.limit); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.limit, got, tt.want)
		}
	}
}

func TestRequestLogLevel(t *testing.T) {
	tests := []struct {
		path   string
		status int
		want   slog.Level
	}{
		{"/preview", http.StatusOK, slog.LevelDebug},
		{healthPath, http.StatusOK, slog.LevelDebug},
		{metricsPath, http.StatusOK, slog.LevelDebug},
		{"/project", http.StatusOK, slog.LevelInfo},
		{"/playback/toggle", http.StatusOK, slog.LevelInfo},
		{"/preview", http.StatusConflict, slog.LevelWarn},
		{"/project/render", http.StatusBadGateway, slog.LevelError},
	}
	for _, tt := range tests {
		if got := requestLogLevel(tt.path, tt.status); got != tt.want {
			t.Errorf("requestLogLevel(%q, %d) = %v, want %v", tt.path, tt.status, got, tt.want)
		}
	}
}

func TestNormalizeRoute(t *testing.T) {
	tests := map[string]string{
		"/preview":                         "/preview",
		"/music":                           "/music",
		"/metrics":                         "/metrics",
		healthPath:                         healthPath,
		"/ws":                              "/ws",
		"/playback/seek":                   "/playback",
		"/settings/subtitles/visibility":   "/settings",
		"/project":                         "/project",
		"/project/resume":                  "/project/resume",
		"/project/render":                  "/project/render",
		"/project/segments/3/image":        "/project/segments/:index",
		"/project/segments/3/image/upload": "/project/segments/:index",
		"/project/thumbnail":               "/project/assets",
		"/project/music/upload":            "/project/assets",
		"/favicon.ico":                     "/other",
	}
	for path, want := range tests {
		if got := normalizeRoute(path); got != want {
			t.Errorf("normalizeRoute(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestMetricsMiddleware_PassesThrough(t *testing.T) {
	for _, path := range []string{"/metrics", "/playback/toggle"} {
		handler := metricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))
		if rec.Code != http.StatusTeapot {
			t.Fatalf("%s: status = %d", path, rec.Code)
		}
	}
}

func TestMiddlewareChain_PanicBehindLimiterAndCors(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("handler exploded")
	})
	handler := recoveryMiddleware(discardLogger(),
		rateLimitMiddleware(100, 10, metricsMiddleware(corsMiddleware([]string{"http://renderer.local"}, inner))))

	req := httptest.NewRequest(http.MethodPost, "/playback/toggle", nil)
	req.Header.Set("Origin", "http://renderer.local")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 from recovery, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://renderer.local" {
		t.Fatalf("CORS headers should survive the panic, got %q", got)
	}
}
