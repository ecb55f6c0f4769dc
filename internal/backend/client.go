// Package backend talks to the generation backend: REST calls for projects
// and music, and the websocket push channel for project status.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"clipstudio/internal/domain/ports"
	"clipstudio/internal/metrics"
)

const (
	maxErrorBody    = 1024
	maxResponseBody = 8 << 20
)

type Config struct {
	BaseURL string
	// Timeout bounds a whole request. Zero leaves requests unbounded.
	Timeout time.Duration
	// RPS limits outbound calls; zero disables the limiter.
	RPS    float64
	Burst  int
	Client *http.Client
	Logger *slog.Logger
}

type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

func NewClient(cfg Config) *Client {
	httpClient := cfg.Client
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var limiter *rate.Limiter
	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = int(cfg.RPS) + 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		http:    httpClient,
		limiter: limiter,
		logger:  logger,
	}
}

func (c *Client) BaseURL() string { return c.baseURL }

// doJSON sends in as a JSON body (when non-nil) and decodes the response
// into out (when non-nil).
func (c *Client) doJSON(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}
	return c.do(ctx, op, method, path, contentType, body, out)
}

// doUpload posts file as the "file" field of a multipart form.
func (c *Client) doUpload(ctx context.Context, op, path string, file ports.Upload, out any) error {
	if file.Body == nil {
		return fmt.Errorf("%s: upload body is required", op)
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	name := strings.TrimSpace(file.Filename)
	if name == "" {
		name = "upload"
	}
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return fmt.Errorf("%s: build form: %w", op, err)
	}
	if _, err := io.Copy(part, file.Body); err != nil {
		return fmt.Errorf("%s: read upload: %w", op, err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("%s: build form: %w", op, err)
	}
	return c.do(ctx, op, http.MethodPost, path, mw.FormDataContentType(), &buf, out)
}

func (c *Client) do(ctx context.Context, op, method, path, contentType string, body io.Reader, out any) (err error) {
	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		metrics.BackendRequestDuration.WithLabelValues(op, outcome).Observe(time.Since(start).Seconds())
	}()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return wrapTransport(op, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	requestID := uuid.NewString()
	req.Header.Set("X-Request-ID", requestID)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("backend request failed",
			slog.String("op", op),
			slog.String("requestId", requestID),
			slog.String("error", err.Error()),
		)
		return wrapTransport(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Op: op, Code: resp.StatusCode, Body: errorMessage(raw)}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody))
		return nil
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return wrapTransport(op, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

// errorMessage extracts {"message": ...} from typical backend error bodies
// and falls back to the trimmed raw body.
func errorMessage(raw []byte) string {
	var payload struct {
		Message any `json:"message"`
	}
	if json.Unmarshal(raw, &payload) == nil {
		switch m := payload.Message.(type) {
		case string:
			return m
		case []any:
			parts := make([]string, 0, len(m))
			for _, p := range m {
				parts = append(parts, fmt.Sprint(p))
			}
			return strings.Join(parts, "; ")
		}
	}
	return strings.TrimSpace(string(raw))
}
