package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"clipstudio/internal/domain"
	"clipstudio/internal/loop"
)

type fakeAPI struct {
	mu         sync.Mutex
	createRes  domain.CreateProjectResult
	createErr  error
	project    domain.Project
	getErr     error
	getCalls   int
	renderErr  error
	renderOpts []domain.RenderOptions
}

func (f *fakeAPI) CreateProject(context.Context, string, string) (domain.CreateProjectResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createRes, f.createErr
}

func (f *fakeAPI) GetProject(_ context.Context, id domain.ProjectID) (domain.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.getErr != nil {
		return domain.Project{}, f.getErr
	}
	p := f.project
	p.ID = id
	return p, nil
}

func (f *fakeAPI) RenderVideo(_ context.Context, _ domain.ProjectID, opts domain.RenderOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renderOpts = append(f.renderOpts, opts)
	return f.renderErr
}

func (f *fakeAPI) setProject(p domain.Project) {
	f.mu.Lock()
	f.project = p
	f.mu.Unlock()
}

func (f *fakeAPI) gets() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getCalls
}

type fakeEvents struct {
	mu   sync.Mutex
	subs []chan domain.ProjectEvent
	err  error
}

func (f *fakeEvents) Subscribe(ctx context.Context, _ domain.ProjectID) (<-chan domain.ProjectEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	ch := make(chan domain.ProjectEvent, 8)
	f.subs = append(f.subs, ch)
	return ch, nil
}

func (f *fakeEvents) push(ev domain.ProjectEvent) {
	f.mu.Lock()
	ch := f.subs[len(f.subs)-1]
	f.mu.Unlock()
	ch <- ev
}

type fakeSessions struct {
	mu      sync.Mutex
	current domain.ProjectID
}

func (f *fakeSessions) GetCurrentProjectID(context.Context) (domain.ProjectID, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current, f.current != "", nil
}

func (f *fakeSessions) SetCurrentProjectID(_ context.Context, id domain.ProjectID) error {
	f.mu.Lock()
	f.current = id
	f.mu.Unlock()
	return nil
}

func (f *fakeSessions) ClearCurrentProjectID(context.Context) error {
	f.mu.Lock()
	f.current = ""
	f.mu.Unlock()
	return nil
}

func (f *fakeSessions) get() domain.ProjectID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type transition struct{ from, to domain.Phase }

type harness struct {
	t           *testing.T
	loop        *loop.Loop
	api         *fakeAPI
	events      *fakeEvents
	sessions    *fakeSessions
	m           *Machine
	mu          sync.Mutex
	transitions []transition
	replaced    int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	l := loop.New(discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = l.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-l.Done()
	})
	h := &harness{
		t:        t,
		loop:     l,
		api:      &fakeAPI{createRes: domain.CreateProjectResult{ProjectID: "p1", Status: domain.ProjectPending}},
		events:   &fakeEvents{},
		sessions: &fakeSessions{},
	}
	h.api.project = domain.Project{Status: domain.ProjectProcessing}
	h.m = NewMachine(l, h.api, h.events, h.sessions, discardLogger())
	h.on(func(m *Machine) {
		m.OnTransition(func(from, to domain.Phase, _ State) {
			h.mu.Lock()
			h.transitions = append(h.transitions, transition{from, to})
			h.mu.Unlock()
		})
		m.OnProjectReplaced(func(State) {
			h.mu.Lock()
			h.replaced++
			h.mu.Unlock()
		})
	})
	return h
}

func (h *harness) on(fn func(m *Machine)) {
	h.t.Helper()
	if err := h.loop.Call(context.Background(), func() { fn(h.m) }); err != nil {
		h.t.Fatalf("loop call: %v", err)
	}
}

func (h *harness) flush() {
	h.t.Helper()
	if err := h.loop.Flush(context.Background()); err != nil {
		h.t.Fatalf("flush: %v", err)
	}
}

func (h *harness) state() State {
	var s State
	h.on(func(m *Machine) { s = m.State() })
	return s
}

func (h *harness) waitPhase(want domain.Phase) State {
	h.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		h.flush()
		s := h.state()
		if s.Phase == want {
			return s
		}
		if time.Now().After(deadline) {
			h.t.Fatalf("phase = %s, want %s", s.Phase, want)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func (h *harness) countTransitionsTo(to domain.Phase) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, tr := range h.transitions {
		if tr.to == to {
			n++
		}
	}
	return n
}

func (h *harness) submit() {
	h.t.Helper()
	h.on(func(m *Machine) {
		if err := m.Submit("A story about cats.", "16:9"); err != nil {
			h.t.Errorf("Submit: %v", err)
		}
	})
	h.waitPhase(domain.PhaseProcessing)
	h.flush()
}

func TestSubmitToPreview(t *testing.T) {
	h := newHarness(t)
	h.submit()
	if got := h.sessions.get(); got != "p1" {
		t.Fatalf("session = %q, want p1", got)
	}

	h.api.setProject(domain.Project{Status: domain.ProjectDraftReady, AudioDuration: 20})
	h.events.push(domain.ProjectEvent{Status: domain.ProjectDraftReady})
	s := h.waitPhase(domain.PhasePreview)
	if s.Project == nil || s.Project.AudioDuration != 20 {
		t.Fatalf("project not loaded: %+v", s.Project)
	}
	if n := h.countTransitionsTo(domain.PhasePreview); n != 1 {
		t.Fatalf("preview transitions = %d, want 1", n)
	}
}

func TestSubmitValidation(t *testing.T) {
	h := newHarness(t)
	h.on(func(m *Machine) {
		if err := m.Submit("   ", "16:9"); !errors.Is(err, ErrEmptyScript) {
			t.Errorf("err = %v, want ErrEmptyScript", err)
		}
	})
}

func TestSubmitFailureStaysInInput(t *testing.T) {
	h := newHarness(t)
	h.api.createErr = errors.New("backend unavailable")
	h.on(func(m *Machine) { _ = m.Submit("script", "9:16") })
	h.flush()
	s := h.state()
	if s.Phase != domain.PhaseInput || s.LastError == "" {
		t.Fatalf("state = %+v", s)
	}
	if s.Busy {
		t.Fatal("still busy after failure")
	}
}

func TestDuplicateDraftReadyAppliedOnce(t *testing.T) {
	h := newHarness(t)
	h.submit()
	h.api.setProject(domain.Project{Status: domain.ProjectDraftReady})

	h.events.push(domain.ProjectEvent{Status: domain.ProjectDraftReady})
	h.events.push(domain.ProjectEvent{Status: domain.ProjectDraftReady})
	h.waitPhase(domain.PhasePreview)
	h.events.push(domain.ProjectEvent{Status: domain.ProjectDraftReady})
	h.on(func(m *Machine) { m.reconcile("p1") })
	h.flush()
	time.Sleep(20 * time.Millisecond)
	h.flush()

	if n := h.countTransitionsTo(domain.PhasePreview); n != 1 {
		t.Fatalf("preview transitions = %d, want 1", n)
	}
	if s := h.state(); s.Phase != domain.PhasePreview {
		t.Fatalf("phase = %s", s.Phase)
	}
}

func TestReconcileCatchesMissedCompletion(t *testing.T) {
	h := newHarness(t)
	h.api.setProject(domain.Project{Status: domain.ProjectCompleted, VideoPath: "out.mp4"})
	h.on(func(m *Machine) { _ = m.Submit("script", "16:9") })
	s := h.waitPhase(domain.PhaseCompleted)
	if s.VideoURL != "out.mp4" {
		t.Fatalf("video = %q, want out.mp4", s.VideoURL)
	}

	h.events.push(domain.ProjectEvent{Status: domain.ProjectCompleted, VideoURL: "other.mp4"})
	time.Sleep(20 * time.Millisecond)
	h.flush()
	if n := h.countTransitionsTo(domain.PhaseCompleted); n != 1 {
		t.Fatalf("completed transitions = %d, want 1", n)
	}
	if got := h.state().VideoURL; got != "out.mp4" {
		t.Fatalf("video changed to %q", got)
	}
}

func TestCompletedVideoFallbacks(t *testing.T) {
	tests := []struct {
		name     string
		eventURL string
		want     string
	}{
		{"event url", "http://cdn/v.mp4", "http://cdn/v.mp4"},
		{"default file", "", DefaultVideoFile},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.submit()
			h.events.push(domain.ProjectEvent{Status: domain.ProjectCompleted, VideoURL: tt.eventURL})
			s := h.waitPhase(domain.PhaseCompleted)
			if s.VideoURL != tt.want {
				t.Fatalf("video = %q, want %q", s.VideoURL, tt.want)
			}
		})
	}
}

func TestFailedEventAndReset(t *testing.T) {
	h := newHarness(t)
	h.submit()
	h.events.push(domain.ProjectEvent{Status: domain.ProjectFailed, Message: "tts quota exceeded"})
	s := h.waitPhase(domain.PhaseFailed)
	if s.LastError != "tts quota exceeded" {
		t.Fatalf("error = %q", s.LastError)
	}

	h.on(func(m *Machine) {
		m.applyStatus(statusUpdate{status: domain.ProjectDraftReady}, SourcePush)
	})
	if got := h.state().Phase; got != domain.PhaseFailed {
		t.Fatalf("failed phase left on event: %s", got)
	}

	h.on(func(m *Machine) { m.Reset() })
	h.flush()
	s = h.state()
	if s.Phase != domain.PhaseInput || s.ProjectID != "" {
		t.Fatalf("after reset: %+v", s)
	}
	if got := h.sessions.get(); got != "" {
		t.Fatalf("session not cleared: %q", got)
	}
}

func TestSubmitAllowedFromFailed(t *testing.T) {
	h := newHarness(t)
	h.submit()
	h.events.push(domain.ProjectEvent{Status: domain.ProjectFailed})
	h.waitPhase(domain.PhaseFailed)
	h.on(func(m *Machine) {
		if err := m.Submit("again", "16:9"); err != nil {
			t.Errorf("Submit from failed: %v", err)
		}
	})
	h.waitPhase(domain.PhaseProcessing)
}

func TestOutOfOrderEventIgnored(t *testing.T) {
	h := newHarness(t)
	h.submit()
	h.api.setProject(domain.Project{Status: domain.ProjectDraftReady})
	h.events.push(domain.ProjectEvent{Status: domain.ProjectDraftReady})
	h.waitPhase(domain.PhasePreview)
	h.on(func(m *Machine) {
		m.applyStatus(statusUpdate{status: domain.ProjectProcessing}, SourcePush)
		m.applyStatus(statusUpdate{status: "mystery"}, SourcePush)
	})
	if got := h.state().Phase; got != domain.PhasePreview {
		t.Fatalf("phase = %s", got)
	}
}

func enterPreview(t *testing.T, h *harness) {
	t.Helper()
	h.api.setProject(domain.Project{Status: domain.ProjectDraftReady})
	h.on(func(m *Machine) { _ = m.Submit("script", "16:9") })
	h.waitPhase(domain.PhasePreview)
}

func TestRenderFailureReturnsToPreview(t *testing.T) {
	h := newHarness(t)
	enterPreview(t, h)
	h.api.renderErr = errors.New("render queue full")
	h.on(func(m *Machine) {
		if err := m.RequestRender(domain.RenderOptions{AspectRatio: "16:9"}); err != nil {
			t.Errorf("RequestRender: %v", err)
		}
		if m.State().Phase != domain.PhaseGenerating {
			t.Errorf("phase = %s, want generating", m.State().Phase)
		}
	})
	s := h.waitPhase(domain.PhasePreview)
	if s.LastError == "" {
		t.Fatal("render error not surfaced")
	}
}

func TestRenderThenCompleted(t *testing.T) {
	h := newHarness(t)
	enterPreview(t, h)
	h.on(func(m *Machine) { _ = m.RequestRender(domain.RenderOptions{}) })
	h.flush()
	h.events.push(domain.ProjectEvent{Status: domain.ProjectGeneratingVideo})
	h.events.push(domain.ProjectEvent{Status: domain.ProjectCompleted, VideoURL: "final.mp4"})
	s := h.waitPhase(domain.PhaseCompleted)
	if s.VideoURL != "final.mp4" {
		t.Fatalf("video = %q", s.VideoURL)
	}
	if n := h.countTransitionsTo(domain.PhaseGenerating); n != 1 {
		t.Fatalf("generating transitions = %d, want 1", n)
	}
}

func TestRenderRequiresPreview(t *testing.T) {
	h := newHarness(t)
	h.on(func(m *Machine) {
		if err := m.RequestRender(domain.RenderOptions{}); !errors.Is(err, domain.ErrInvalidPhase) {
			t.Errorf("err = %v", err)
		}
	})
}

func TestResumeUnknownProject(t *testing.T) {
	h := newHarness(t)
	h.api.getErr = fmt.Errorf("get project: %w", domain.ErrNotFound)
	h.on(func(m *Machine) { _ = m.Resume("gone") })
	h.flush()
	time.Sleep(10 * time.Millisecond)
	h.flush()
	s := h.state()
	if s.Phase != domain.PhaseInput || s.LastError == "" {
		t.Fatalf("state = %+v", s)
	}
	if got := h.sessions.get(); got != "" {
		t.Fatalf("session = %q, want cleared", got)
	}
}

func TestResumeInPreview(t *testing.T) {
	h := newHarness(t)
	h.api.setProject(domain.Project{Status: domain.ProjectDraftReady, Segments: []domain.Segment{{Index: 0}}})
	h.on(func(m *Machine) { _ = m.Resume("p9") })
	s := h.waitPhase(domain.PhasePreview)
	if s.ProjectID != "p9" || s.Project == nil || len(s.Project.Segments) != 1 {
		t.Fatalf("state = %+v", s)
	}
	if h.api.gets() != 1 {
		t.Fatalf("gets = %d, want a single reconciliation fetch", h.api.gets())
	}
}

func TestSubscribeFailureStillReconciles(t *testing.T) {
	h := newHarness(t)
	h.events.err = errors.New("dial refused")
	h.api.setProject(domain.Project{Status: domain.ProjectDraftReady})
	h.on(func(m *Machine) { _ = m.Submit("script", "16:9") })
	h.waitPhase(domain.PhasePreview)
}

func TestReplaceProject(t *testing.T) {
	h := newHarness(t)
	enterPreview(t, h)
	h.mu.Lock()
	before := h.replaced
	h.mu.Unlock()
	h.on(func(m *Machine) {
		if err := m.ReplaceProject(domain.Project{ID: "p1", ThumbnailPath: "thumb.png"}); err != nil {
			t.Errorf("ReplaceProject: %v", err)
		}
		if err := m.ReplaceProject(domain.Project{ID: "other"}); err == nil {
			t.Error("expected mismatch error")
		}
	})
	if got := h.state().Project.ThumbnailPath; got != "thumb.png" {
		t.Fatalf("thumbnail = %q", got)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.replaced != before+1 {
		t.Fatalf("replaced hooks = %d, want %d", h.replaced, before+1)
	}
}
