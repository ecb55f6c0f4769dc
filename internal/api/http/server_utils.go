package apihttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"clipstudio/internal/backend"
	"clipstudio/internal/domain"
	"clipstudio/internal/lifecycle"
	"clipstudio/internal/loop"
	"clipstudio/internal/preview"
)

type errorEnvelope struct {
	Error errorPayload `json:"error"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var errMissingFile = errors.New("file is required")

// writePreviewError maps orchestrator and backend errors onto the error
// envelope.
func writePreviewError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidPhase), errors.Is(err, domain.ErrNoProject):
		writeError(w, http.StatusConflict, "invalid_phase", err.Error())
	case errors.Is(err, preview.ErrBusy):
		writeError(w, http.StatusConflict, "busy", err.Error())
	case errors.Is(err, domain.ErrInvalidSettings),
		errors.Is(err, domain.ErrInvalidSegment),
		errors.Is(err, lifecycle.ErrEmptyScript):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, backend.ErrHTTP), errors.Is(err, backend.ErrTransport):
		writeError(w, http.StatusBadGateway, "backend_error", err.Error())
	case errors.Is(err, domain.ErrDisposed), errors.Is(err, loop.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, "unavailable", "preview is shutting down")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "unavailable", "request cancelled")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorEnvelope{Error: errorPayload{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// decodeJSON reads a bounded JSON body. Unknown fields are rejected so a
// typo in a settings patch fails loudly instead of being ignored.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, 1<<20)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("invalid json: %v", err))
		return false
	}
	return true
}

// readUpload returns the "file" part of a multipart request.
func readUpload(w http.ResponseWriter, r *http.Request, limit int64) (string, []byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, limit+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return "", nil, err
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return "", nil, errMissingFile
		}
		return "", nil, err
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		return "", nil, err
	}
	if int64(len(data)) > limit {
		return "", nil, fmt.Errorf("file exceeds %d bytes", limit)
	}
	if len(data) == 0 {
		return "", nil, errMissingFile
	}
	return header.Filename, data, nil
}

func parseSegmentIndex(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, errors.New("segment index is required")
	}
	index, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid segment index %q", raw)
	}
	if index < 0 {
		return 0, errors.New("segment index must be >= 0")
	}
	return index, nil
}
