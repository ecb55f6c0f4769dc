package apihttp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"clipstudio/internal/domain"
	"clipstudio/internal/preview"
)

type submitRequest struct {
	Script      string `json:"script"`
	AspectRatio string `json:"aspectRatio"`
}

type resumeRequest struct {
	ProjectID string `json:"projectId"`
}

type seekRequest struct {
	Time *float64 `json:"time"`
}

type visibilityRequest struct {
	Show *bool `json:"show"`
}

type subtitlesRequest struct {
	Subtitles []domain.Subtitle `json:"subtitles"`
}

type promptRequest struct {
	Prompt string `json:"prompt"`
}

type healthResponse struct {
	Status    string `json:"status"`
	Phase     string `json:"phase,omitempty"`
	ProjectID string `json:"projectId,omitempty"`
	Renderers int    `json:"renderers"`
}

// respond runs op and answers with the resulting snapshot.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, status int, op func(context.Context) error) {
	if err := op(r.Context()); err != nil {
		writePreviewError(w, err)
		return
	}
	snap, err := s.preview.Snapshot(r.Context())
	if err != nil {
		writePreviewError(w, err)
		return
	}
	writeJSON(w, status, snap)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.preview.Snapshot(r.Context())
	if err != nil {
		writePreviewError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Renderers: s.hub.ClientCount()}
	snap, err := s.preview.Snapshot(r.Context())
	if err != nil {
		resp.Status = "degraded"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	resp.Phase = snap.Lifecycle.Phase.String()
	resp.ProjectID = string(snap.Lifecycle.ProjectID)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	s.respond(w, r, http.StatusAccepted, func(ctx context.Context) error {
		return s.preview.Submit(ctx, req.Script, strings.TrimSpace(req.AspectRatio))
	})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	var req resumeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	id := strings.TrimSpace(req.ProjectID)
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "projectId is required")
		return
	}
	s.respond(w, r, http.StatusAccepted, func(ctx context.Context) error {
		return s.preview.Resume(ctx, domain.ProjectID(id))
	})
}

func (s *Server) handleStartOver(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, http.StatusOK, s.preview.StartOver)
}

func (s *Server) handleTogglePlay(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, http.StatusOK, s.preview.TogglePlay)
}

func (s *Server) handleSeek(w http.ResponseWriter, r *http.Request) {
	var req seekRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Time == nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "time is required")
		return
	}
	s.respond(w, r, http.StatusOK, func(ctx context.Context) error {
		return s.preview.Seek(ctx, *req.Time)
	})
}

func (s *Server) handleResetPlayback(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, http.StatusOK, s.preview.ResetPlayback)
}

func (s *Server) handleSubtitleSettings(w http.ResponseWriter, r *http.Request) {
	var patch preview.SubtitleSettingsPatch
	if !decodeJSON(w, r, &patch) {
		return
	}
	s.respond(w, r, http.StatusOK, func(ctx context.Context) error {
		return s.preview.EditSubtitleSettings(ctx, patch)
	})
}

func (s *Server) handleMusicSettings(w http.ResponseWriter, r *http.Request) {
	var patch preview.MusicSettingsPatch
	if !decodeJSON(w, r, &patch) {
		return
	}
	s.respond(w, r, http.StatusOK, func(ctx context.Context) error {
		return s.preview.EditMusicSettings(ctx, patch)
	})
}

func (s *Server) handleSubtitleVisibility(w http.ResponseWriter, r *http.Request) {
	var req visibilityRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Show == nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "show is required")
		return
	}
	s.respond(w, r, http.StatusOK, func(ctx context.Context) error {
		return s.preview.SetShowSubtitles(ctx, *req.Show)
	})
}

func (s *Server) handleUpdateSubtitles(w http.ResponseWriter, r *http.Request) {
	var req subtitlesRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	s.respond(w, r, http.StatusAccepted, func(ctx context.Context) error {
		return s.preview.UpdateSubtitles(ctx, req.Subtitles)
	})
}

func (s *Server) handleRegenerateSegment(w http.ResponseWriter, r *http.Request) {
	index, err := parseSegmentIndex(r.PathValue("index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	var req promptRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	s.respond(w, r, http.StatusAccepted, func(ctx context.Context) error {
		return s.preview.RegenerateSegmentImage(ctx, index, req.Prompt)
	})
}

func (s *Server) handleUploadSegment(w http.ResponseWriter, r *http.Request) {
	index, err := parseSegmentIndex(r.PathValue("index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	name, data, ok := s.upload(w, r)
	if !ok {
		return
	}
	s.respond(w, r, http.StatusAccepted, func(ctx context.Context) error {
		return s.preview.UploadSegmentImage(ctx, index, name, data)
	})
}

func (s *Server) handleRegenerateThumbnail(w http.ResponseWriter, r *http.Request) {
	var req promptRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	s.respond(w, r, http.StatusAccepted, func(ctx context.Context) error {
		return s.preview.RegenerateThumbnail(ctx, req.Prompt)
	})
}

func (s *Server) handleUploadThumbnail(w http.ResponseWriter, r *http.Request) {
	name, data, ok := s.upload(w, r)
	if !ok {
		return
	}
	s.respond(w, r, http.StatusAccepted, func(ctx context.Context) error {
		return s.preview.UploadThumbnail(ctx, name, data)
	})
}

func (s *Server) handleUploadMusic(w http.ResponseWriter, r *http.Request) {
	name, data, ok := s.upload(w, r)
	if !ok {
		return
	}
	s.respond(w, r, http.StatusAccepted, func(ctx context.Context) error {
		return s.preview.UploadMusic(ctx, name, data)
	})
}

func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, http.StatusAccepted, s.preview.RequestRender)
}

func (s *Server) handleMusicLibrary(w http.ResponseWriter, r *http.Request) {
	tracks, err := s.preview.MusicLibrary(r.Context())
	if err != nil {
		s.logger.Warn("music library fetch failed", slog.String("error", err.Error()))
		writePreviewError(w, err)
		return
	}
	if tracks == nil {
		tracks = []domain.Music{}
	}
	writeJSON(w, http.StatusOK, tracks)
}

func (s *Server) upload(w http.ResponseWriter, r *http.Request) (string, []byte, bool) {
	name, data, err := readUpload(w, r, s.maxUpload)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "too_large", "upload too large")
			return "", nil, false
		}
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return "", nil, false
	}
	return name, data, true
}
