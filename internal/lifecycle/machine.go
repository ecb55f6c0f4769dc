// Package lifecycle tracks one server-side project from submission to the
// finished video.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"clipstudio/internal/domain"
	"clipstudio/internal/domain/ports"
	"clipstudio/internal/loop"
	"clipstudio/internal/metrics"
)

var ErrEmptyScript = errors.New("script is required")

// DefaultVideoFile is the render output name used when neither the event
// nor the project names the video.
const DefaultVideoFile = "final_video.mp4"

type Source string

const (
	SourcePush      Source = "push"
	SourceReconcile Source = "reconcile"
)

// API is the backend slice the machine calls.
type API interface {
	CreateProject(ctx context.Context, script, aspectRatio string) (domain.CreateProjectResult, error)
	GetProject(ctx context.Context, id domain.ProjectID) (domain.Project, error)
	RenderVideo(ctx context.Context, id domain.ProjectID, opts domain.RenderOptions) error
}

// State is a snapshot of the machine. Project is nil until a full project
// has been fetched.
type State struct {
	Phase     domain.Phase    `json:"phase"`
	ProjectID domain.ProjectID `json:"projectId,omitempty"`
	Project   *domain.Project `json:"project,omitempty"`
	VideoURL  string          `json:"videoUrl,omitempty"`
	LastError string          `json:"lastError,omitempty"`
	Busy      bool            `json:"busy"`
}

type (
	TransitionFunc func(from, to domain.Phase, s State)
	ReplacedFunc   func(s State)
)

type statusUpdate struct {
	status   domain.ProjectStatus
	videoURL string
	message  string
	project  *domain.Project
}

// Machine is owned by the event loop; its methods must run on it.
type Machine struct {
	loop     *loop.Loop
	api      API
	events   ports.EventSource
	sessions ports.SessionStore
	logger   *slog.Logger

	state       State
	epoch       uint64
	unsubscribe context.CancelFunc
	fetching    bool
	submitting  bool
	rendering   bool
	sessionDone chan struct{}

	onTransition []TransitionFunc
	onReplaced   []ReplacedFunc
}

func NewMachine(l *loop.Loop, api API, events ports.EventSource, sessions ports.SessionStore, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{
		loop:     l,
		api:      api,
		events:   events,
		sessions: sessions,
		logger:   logger,
		state:    State{Phase: domain.PhaseInput},
	}
}

func (m *Machine) OnTransition(fn TransitionFunc) { m.onTransition = append(m.onTransition, fn) }
func (m *Machine) OnProjectReplaced(fn ReplacedFunc) { m.onReplaced = append(m.onReplaced, fn) }

func (m *Machine) State() State {
	s := m.state
	if s.Project != nil {
		p := s.Project.Clone()
		s.Project = &p
	}
	s.Busy = m.fetching || m.submitting || m.rendering
	return s
}

// Submit asks the backend to start generating a project from script. It is
// allowed from input and, as a fresh start, from failed.
func (m *Machine) Submit(script, aspectRatio string) error {
	if strings.TrimSpace(script) == "" {
		return ErrEmptyScript
	}
	if m.state.Phase != domain.PhaseInput && m.state.Phase != domain.PhaseFailed {
		return fmt.Errorf("%w: submit in %s", domain.ErrInvalidPhase, m.state.Phase)
	}
	if m.submitting {
		return fmt.Errorf("%w: submission in progress", domain.ErrInvalidPhase)
	}
	if m.state.Phase == domain.PhaseFailed {
		m.Reset()
	}

	m.submitting = true
	m.state.LastError = ""
	epoch := m.epoch
	loop.Go(m.loop, func() (domain.CreateProjectResult, error) {
		return m.api.CreateProject(context.Background(), script, aspectRatio)
	}, func(res domain.CreateProjectResult, err error) {
		if epoch != m.epoch {
			return
		}
		m.submitting = false
		if err == nil && res.ProjectID == "" {
			err = errors.New("backend returned no project id")
		}
		if err != nil {
			m.state.LastError = err.Error()
			m.logger.Warn("project submission failed", slog.String("error", err.Error()))
			m.replaced()
			return
		}
		m.logger.Info("project submitted", slog.String("projectId", string(res.ProjectID)))
		m.track(res.ProjectID)
	})
	return nil
}

// Resume re-attaches to a project known from an earlier run. The current
// status is learned from the reconciliation fetch.
func (m *Machine) Resume(id domain.ProjectID) error {
	if strings.TrimSpace(string(id)) == "" {
		return domain.ErrNoProject
	}
	m.Reset()
	m.track(id)
	return nil
}

func (m *Machine) track(id domain.ProjectID) {
	m.state.ProjectID = id
	m.transitionTo(domain.PhaseProcessing)
	m.saveSession(id)
	m.subscribe(id)
}

func (m *Machine) subscribe(id domain.ProjectID) {
	epoch := m.epoch
	if m.events == nil {
		m.reconcile(id)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.unsubscribe = cancel

	loop.Go(m.loop, func() (<-chan domain.ProjectEvent, error) {
		return m.events.Subscribe(ctx, id)
	}, func(ch <-chan domain.ProjectEvent, err error) {
		if epoch != m.epoch {
			cancel()
			return
		}
		if err != nil {
			m.logger.Warn("project event subscription failed",
				slog.String("projectId", string(id)),
				slog.String("error", err.Error()),
			)
		} else {
			go m.forward(epoch, ch)
		}
		m.reconcile(id)
	})
}

func (m *Machine) forward(epoch uint64, ch <-chan domain.ProjectEvent) {
	for ev := range ch {
		ev := ev
		if !m.loop.Post(func() {
			if epoch != m.epoch {
				return
			}
			if ev.ProjectID != "" && ev.ProjectID != m.state.ProjectID {
				return
			}
			m.applyStatus(statusUpdate{status: ev.Status, videoURL: ev.VideoURL, message: ev.Message}, SourcePush)
		}) {
			return
		}
	}
}

// reconcile fetches the project once so a status change that happened
// before the subscription existed is not missed.
func (m *Machine) reconcile(id domain.ProjectID) {
	epoch := m.epoch
	loop.Go(m.loop, func() (domain.Project, error) {
		return m.api.GetProject(context.Background(), id)
	}, func(p domain.Project, err error) {
		if epoch != m.epoch {
			return
		}
		if err != nil {
			m.logger.Warn("project reconciliation failed",
				slog.String("projectId", string(id)),
				slog.String("error", err.Error()),
			)
			if errors.Is(err, domain.ErrNotFound) {
				m.state.LastError = err.Error()
				m.Reset()
			}
			return
		}
		m.applyStatus(statusUpdate{status: p.Status, project: &p}, SourceReconcile)
	})
}

// applyStatus is the single entry point for status observations from
// either source. Statuses at or behind the current phase are ignored.
func (m *Machine) applyStatus(u statusUpdate, source Source) {
	from := m.state.Phase
	target, known := domain.PhaseForStatus(u.status)
	if !known || !from.AcceptsEvents() {
		m.countEvent(source, "ignored")
		return
	}

	if target == domain.PhaseFailed {
		msg := strings.TrimSpace(u.message)
		if msg == "" {
			msg = "generation failed"
		}
		m.state.LastError = msg
		m.stopEvents()
		m.countEvent(source, "applied")
		m.transitionTo(domain.PhaseFailed)
		return
	}
	if rank(target) <= rank(from) {
		m.countEvent(source, "ignored")
		return
	}

	switch target {
	case domain.PhasePreview:
		if u.project == nil {
			m.fetchDraft(source)
			return
		}
		m.countEvent(source, "applied")
		m.setProject(*u.project)
		m.transitionTo(domain.PhasePreview)

	case domain.PhaseGenerating:
		m.countEvent(source, "applied")
		if u.project != nil {
			m.setProject(*u.project)
		}
		m.transitionTo(domain.PhaseGenerating)

	case domain.PhaseCompleted:
		m.countEvent(source, "applied")
		if u.project != nil {
			m.setProject(*u.project)
		}
		m.state.VideoURL = m.videoRef(u.videoURL)
		m.stopEvents()
		m.transitionTo(domain.PhaseCompleted)

	default:
		m.countEvent(source, "applied")
		m.transitionTo(target)
	}
}

// fetchDraft loads the full project before entering preview. Concurrent
// draft_ready observations share one request.
func (m *Machine) fetchDraft(source Source) {
	if m.fetching {
		m.countEvent(source, "ignored")
		return
	}
	m.fetching = true
	id, epoch := m.state.ProjectID, m.epoch
	loop.Go(m.loop, func() (domain.Project, error) {
		return m.api.GetProject(context.Background(), id)
	}, func(p domain.Project, err error) {
		if epoch != m.epoch {
			return
		}
		m.fetching = false
		if err != nil {
			m.state.LastError = err.Error()
			m.logger.Warn("draft fetch failed",
				slog.String("projectId", string(id)),
				slog.String("error", err.Error()),
			)
			m.replaced()
			return
		}
		status := p.Status
		if status == "" {
			status = domain.ProjectDraftReady
		}
		m.applyStatus(statusUpdate{status: status, project: &p}, source)
	})
}

// RequestRender starts final rendering. A failed request returns to
// preview; otherwise only server events move the machine on.
func (m *Machine) RequestRender(opts domain.RenderOptions) error {
	if m.state.Phase != domain.PhasePreview {
		return fmt.Errorf("%w: render in %s", domain.ErrInvalidPhase, m.state.Phase)
	}
	id, epoch := m.state.ProjectID, m.epoch
	m.rendering = true
	m.state.LastError = ""
	m.transitionTo(domain.PhaseGenerating)

	loop.Go(m.loop, func() (struct{}, error) {
		return struct{}{}, m.api.RenderVideo(context.Background(), id, opts)
	}, func(_ struct{}, err error) {
		if epoch != m.epoch {
			return
		}
		m.rendering = false
		if err == nil {
			m.replaced()
			return
		}
		m.logger.Warn("render request failed",
			slog.String("projectId", string(id)),
			slog.String("error", err.Error()),
		)
		m.state.LastError = err.Error()
		if m.state.Phase == domain.PhaseGenerating {
			m.transitionTo(domain.PhasePreview)
		}
	})
	return nil
}

// ReplaceProject swaps the cached project for a newer server snapshot.
func (m *Machine) ReplaceProject(p domain.Project) error {
	if m.state.ProjectID == "" {
		return domain.ErrNoProject
	}
	if p.ID != "" && p.ID != m.state.ProjectID {
		return fmt.Errorf("%w: project %s is not the current project", domain.ErrInvalidPhase, p.ID)
	}
	if p.ID == "" {
		p.ID = m.state.ProjectID
	}
	m.setProject(p)
	return nil
}

// Reset abandons the current project and returns to input.
func (m *Machine) Reset() {
	m.stopEvents()
	m.epoch++
	m.fetching, m.submitting, m.rendering = false, false, false

	hadProject := m.state.ProjectID != ""
	lastErr := m.state.LastError
	from := m.state.Phase
	m.state = State{Phase: domain.PhaseInput}
	if from == domain.PhaseFailed || from == domain.PhaseProcessing {
		m.state.LastError = lastErr
	}
	if hadProject {
		m.clearSession()
	}
	if from != domain.PhaseInput {
		m.transitionFrom(from, domain.PhaseInput)
	}
}

// Dispose stops listening for events. In-flight requests are left to
// finish; their results are dropped.
func (m *Machine) Dispose() {
	m.stopEvents()
	m.epoch++
}

func (m *Machine) setProject(p domain.Project) {
	cp := p.Clone()
	m.state.Project = &cp
	m.replaced()
}

func (m *Machine) replaced() {
	s := m.State()
	for _, fn := range m.onReplaced {
		fn(s)
	}
}

func (m *Machine) transitionTo(to domain.Phase) {
	m.transitionFrom(m.state.Phase, to)
}

func (m *Machine) transitionFrom(from, to domain.Phase) {
	m.state.Phase = to
	metrics.LifecycleTransitionsTotal.WithLabelValues(from.String(), to.String()).Inc()
	m.logger.Info("project phase transition",
		slog.String("projectId", string(m.state.ProjectID)),
		slog.String("from", from.String()),
		slog.String("to", to.String()),
	)
	s := m.State()
	for _, fn := range m.onTransition {
		fn(from, to, s)
	}
}

func (m *Machine) stopEvents() {
	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}
}

func (m *Machine) videoRef(fromEvent string) string {
	if v := strings.TrimSpace(fromEvent); v != "" {
		return v
	}
	if m.state.Project != nil && strings.TrimSpace(m.state.Project.VideoPath) != "" {
		return m.state.Project.VideoPath
	}
	return DefaultVideoFile
}

func (m *Machine) countEvent(source Source, outcome string) {
	metrics.ProjectEventsTotal.WithLabelValues(string(source), outcome).Inc()
}

func (m *Machine) saveSession(id domain.ProjectID) {
	m.writeSession("save", func(ctx context.Context) error {
		return m.sessions.SetCurrentProjectID(ctx, id)
	})
}

func (m *Machine) clearSession() {
	m.writeSession("clear", func(ctx context.Context) error {
		return m.sessions.ClearCurrentProjectID(ctx)
	})
}

// writeSession runs session store writes one after another in the order
// they were issued.
func (m *Machine) writeSession(op string, write func(context.Context) error) {
	if m.sessions == nil {
		return
	}
	prev := m.sessionDone
	done := make(chan struct{})
	m.sessionDone = done
	loop.Go(m.loop, func() (struct{}, error) {
		defer close(done)
		if prev != nil {
			<-prev
		}
		return struct{}{}, write(context.Background())
	}, func(_ struct{}, err error) {
		if err != nil {
			m.logger.Warn("session store write failed",
				slog.String("op", op),
				slog.String("error", err.Error()),
			)
		}
	})
}

func rank(p domain.Phase) int {
	switch p {
	case domain.PhaseProcessing:
		return 1
	case domain.PhasePreview:
		return 2
	case domain.PhaseGenerating:
		return 3
	case domain.PhaseCompleted:
		return 4
	default:
		return 0
	}
}
