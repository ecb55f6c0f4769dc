package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"clipstudio/internal/domain"
	"clipstudio/internal/domain/ports"
)

const (
	wsReadLimit    = 64 << 10
	wsWriteTimeout = 10 * time.Second
	wsPongWait     = 60 * time.Second
	wsPingPeriod   = 30 * time.Second
)

type wsEnvelope struct {
	Type      string          `json:"type"`
	ProjectID string          `json:"projectId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// EventSource subscribes to project status updates over the backend
// websocket. Every subscription uses its own connection.
type EventSource struct {
	wsURL    string
	clientID string
	dialer   *websocket.Dialer
	logger   *slog.Logger
}

func NewEventSource(wsURL string, logger *slog.Logger) *EventSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventSource{
		wsURL:    strings.TrimRight(strings.TrimSpace(wsURL), "/"),
		clientID: uuid.NewString(),
		dialer:   websocket.DefaultDialer,
		logger:   logger,
	}
}

// WSURLFromHTTP derives the websocket base from an http(s) base URL.
func WSURLFromHTTP(base string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return base
	}
}

func (s *EventSource) Subscribe(ctx context.Context, id domain.ProjectID) (<-chan domain.ProjectEvent, error) {
	endpoint := s.wsURL + "/ws?clientId=" + url.QueryEscape(s.clientID)
	conn, resp, err := s.dialer.DialContext(ctx, endpoint, http.Header{})
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, wrapTransport("subscribe", err)
	}

	join := wsEnvelope{Type: "join-project", ProjectID: string(id)}
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(join); err != nil {
		conn.Close()
		return nil, wrapTransport("join project", err)
	}

	out := make(chan domain.ProjectEvent, 16)
	go s.readLoop(ctx, conn, id, out)
	return out, nil
}

func (s *EventSource) readLoop(ctx context.Context, conn *websocket.Conn, id domain.ProjectID, out chan<- domain.ProjectEvent) {
	defer close(out)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(wsPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(time.Second))
				conn.Close()
				return
			case <-stop:
				conn.Close()
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
					return
				}
			}
		}
	}()

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warn("project event stream closed",
					slog.String("projectId", string(id)),
					slog.String("error", err.Error()),
				)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))

		ev, ok, err := decodeEvent(data)
		if err != nil {
			s.logger.Debug("ignoring malformed project event", slog.String("error", err.Error()))
			continue
		}
		if !ok {
			continue
		}
		if ev.ProjectID == "" {
			ev.ProjectID = id
		}
		select {
		case out <- ev:
		case <-ctx.Done():
			return
		}
	}
}

func decodeEvent(data []byte) (domain.ProjectEvent, bool, error) {
	var env wsEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return domain.ProjectEvent{}, false, err
	}
	if env.Type != "project-update" {
		return domain.ProjectEvent{}, false, nil
	}
	var ev domain.ProjectEvent
	if err := json.Unmarshal(env.Data, &ev); err != nil {
		return domain.ProjectEvent{}, false, fmt.Errorf("decode project-update: %w", err)
	}
	if ev.Status == "" {
		return domain.ProjectEvent{}, false, nil
	}
	return ev, true, nil
}

var _ ports.EventSource = (*EventSource)(nil)
