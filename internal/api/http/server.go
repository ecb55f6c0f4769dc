package apihttp

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"clipstudio/internal/domain"
	"clipstudio/internal/preview"
)

// Preview is the control surface of the preview orchestrator.
type Preview interface {
	Snapshot(ctx context.Context) (preview.Snapshot, error)
	Submit(ctx context.Context, script, aspectRatio string) error
	Resume(ctx context.Context, id domain.ProjectID) error
	StartOver(ctx context.Context) error

	TogglePlay(ctx context.Context) error
	Seek(ctx context.Context, seconds float64) error
	ResetPlayback(ctx context.Context) error

	EditSubtitleSettings(ctx context.Context, patch preview.SubtitleSettingsPatch) error
	EditMusicSettings(ctx context.Context, patch preview.MusicSettingsPatch) error
	SetShowSubtitles(ctx context.Context, show bool) error
	UpdateSubtitles(ctx context.Context, subs []domain.Subtitle) error

	RegenerateSegmentImage(ctx context.Context, index int, prompt string) error
	UploadSegmentImage(ctx context.Context, index int, filename string, data []byte) error
	RegenerateThumbnail(ctx context.Context, prompt string) error
	UploadThumbnail(ctx context.Context, filename string, data []byte) error
	UploadMusic(ctx context.Context, filename string, data []byte) error
	RequestRender(ctx context.Context) error

	MusicLibrary(ctx context.Context) ([]domain.Music, error)
}

const defaultMaxUploadBytes = 50 << 20

type Server struct {
	preview        Preview
	hub            *Hub
	ownHub         bool
	allowedOrigins []string
	rateRPS        float64
	rateBurst      int
	maxUpload      int64
	logger         *slog.Logger
	handler        http.Handler
}

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithHub attaches a hub the caller runs and closes. Without it the server
// creates and owns one.
func WithHub(hub *Hub) ServerOption {
	return func(s *Server) {
		s.hub = hub
	}
}

// WithAllowedOrigins configures the CORS allowed origins whitelist.
// When empty (default), any origin is permitted (development mode).
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

func WithRateLimit(rps float64, burst int) ServerOption {
	return func(s *Server) {
		s.rateRPS = rps
		s.rateBurst = burst
	}
}

func WithMaxUploadBytes(n int64) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.maxUpload = n
		}
	}
}

func NewServer(p Preview, opts ...ServerOption) *Server {
	s := &Server{
		preview:   p,
		rateRPS:   100,
		rateBurst: 200,
		maxUpload: defaultMaxUploadBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.hub == nil {
		s.hub = NewHub(s.logger)
		s.ownHub = true
		go s.hub.Run()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /preview", s.handleSnapshot)

	mux.HandleFunc("POST /project", s.handleSubmit)
	mux.HandleFunc("DELETE /project", s.handleStartOver)
	mux.HandleFunc("POST /project/resume", s.handleResume)
	mux.HandleFunc("PUT /project/subtitles", s.handleUpdateSubtitles)
	mux.HandleFunc("POST /project/segments/{index}/image", s.handleRegenerateSegment)
	mux.HandleFunc("POST /project/segments/{index}/image/upload", s.handleUploadSegment)
	mux.HandleFunc("POST /project/thumbnail", s.handleRegenerateThumbnail)
	mux.HandleFunc("POST /project/thumbnail/upload", s.handleUploadThumbnail)
	mux.HandleFunc("POST /project/music/upload", s.handleUploadMusic)
	mux.HandleFunc("POST /project/render", s.handleRender)

	mux.HandleFunc("POST /playback/toggle", s.handleTogglePlay)
	mux.HandleFunc("POST /playback/seek", s.handleSeek)
	mux.HandleFunc("POST /playback/reset", s.handleResetPlayback)

	mux.HandleFunc("PATCH /settings/subtitles", s.handleSubtitleSettings)
	mux.HandleFunc("PUT /settings/subtitles/visibility", s.handleSubtitleVisibility)
	mux.HandleFunc("PATCH /settings/music", s.handleMusicSettings)

	mux.HandleFunc("GET /music", s.handleMusicLibrary)
	mux.HandleFunc("GET "+healthPath, s.handleHealth)
	mux.Handle("GET "+metricsPath, promhttp.Handler())
	mux.HandleFunc("GET "+wsPath, s.handleWS)

	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "preview-agent",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return !isServicePath(r.URL.Path) && r.URL.Path != wsPath
		}),
	)
	s.handler = recoveryMiddleware(s.logger, rateLimitMiddleware(s.rateRPS, s.rateBurst, metricsMiddleware(corsMiddleware(s.allowedOrigins, traced))))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("ws upgrade failed", slog.String("error", err.Error()))
		return
	}
	client := &wsClient{
		hub:  s.hub,
		conn: conn,
		send: make(chan []byte, 256),
	}
	if !s.hub.join(client) {
		conn.Close()
		return
	}
	go client.writePump()
	go client.readPump()
}

// Close disconnects renderers when the server owns its hub.
func (s *Server) Close() {
	if s.ownHub {
		s.hub.Close()
	}
}
