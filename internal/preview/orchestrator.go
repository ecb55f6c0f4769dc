// Package preview is the root of the preview agent. It owns the event loop
// consumers (lifecycle machine, settings controller, audio engine) and turns
// the voice clock into published playback frames.
package preview

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"clipstudio/internal/audio"
	"clipstudio/internal/domain"
	"clipstudio/internal/domain/ports"
	"clipstudio/internal/lifecycle"
	"clipstudio/internal/loop"
	"clipstudio/internal/media"
	"clipstudio/internal/settings"
	"clipstudio/internal/timeline"
)

const (
	DefaultTickInterval       = 250 * time.Millisecond
	DefaultTransitionDuration = 1000 * time.Millisecond
)

// Message types sent to the Publisher.
const (
	MsgLifecycle = "lifecycle"
	MsgPlayback  = "playback"
	MsgSettings  = "settings"
	MsgError     = "error"
)

// Publisher fans frames out to renderers.
type Publisher interface {
	Broadcast(msgType string, data any)
}

type Options struct {
	TickInterval       time.Duration
	TransitionDuration time.Duration
	SettingsDebounce   time.Duration
}

type Deps struct {
	API       ports.ProjectAPI
	Events    ports.EventSource
	Sessions  ports.SessionStore
	Music     ports.MusicLibrary
	Opener    ports.TrackOpener
	Resolver  *media.Resolver
	Publisher Publisher
	Logger    *slog.Logger
}

type Orchestrator struct {
	loop      *loop.Loop
	api       ports.ProjectAPI
	music     ports.MusicLibrary
	opener    ports.TrackOpener
	resolver  *media.Resolver
	publisher Publisher
	logger    *slog.Logger
	opts      Options

	machine  *lifecycle.Machine
	settings *settings.Controller

	// Everything below is only valid while the preview phase is active.
	engine           *audio.Engine
	project          domain.Project
	effects          []domain.Effect
	effectsFor       domain.ProjectID
	playback         domain.PlaybackState
	stopTick         func()
	cancelTransition func()

	pending   map[string]bool
	gen       uint64
	lastError string
	disposed  bool
}

func New(l *loop.Loop, deps Deps, opts Options) *Orchestrator {
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.TransitionDuration <= 0 {
		opts.TransitionDuration = DefaultTransitionDuration
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	resolver := deps.Resolver
	if resolver == nil {
		resolver = media.NewResolver("")
	}
	publisher := deps.Publisher
	if publisher == nil {
		publisher = nopPublisher{}
	}

	o := &Orchestrator{
		loop:      l,
		api:       deps.API,
		music:     deps.Music,
		opener:    deps.Opener,
		resolver:  resolver,
		publisher: publisher,
		logger:    logger,
		opts:      opts,
		pending:   make(map[string]bool),
	}
	o.machine = lifecycle.NewMachine(l, deps.API, deps.Events, deps.Sessions, logger.With(slog.String("component", "lifecycle")))
	o.settings = settings.NewController(l, deps.API, opts.SettingsDebounce, logger.With(slog.String("component", "settings")))

	o.machine.OnTransition(o.onTransition)
	o.machine.OnProjectReplaced(o.onProjectReplaced)
	o.settings.OnChange(o.onSettingsChange)
	o.settings.OnError(o.onSettingsError)
	return o
}

func (o *Orchestrator) onTransition(from, to domain.Phase, s lifecycle.State) {
	switch {
	case to == domain.PhasePreview:
		o.startPreview(s)
	case from == domain.PhasePreview:
		o.stopPreview()
	}
	if to == domain.PhaseInput {
		o.settings.Clear()
		o.resolver.Forget()
		o.effects, o.effectsFor = nil, ""
	}
	o.publishLifecycle()
}

func (o *Orchestrator) onProjectReplaced(s lifecycle.State) {
	if o.engine == nil || s.Project == nil {
		o.publishLifecycle()
		return
	}
	p := *s.Project
	prevSegments := len(o.project.Segments)
	o.project = p
	if len(p.Segments) != prevSegments {
		o.assignEffects(p, true)
	}
	o.settings.Rebase(p)
	o.initAudio(context.Background())
	o.refreshFrame(true)
	o.publishLifecycle()
}

func (o *Orchestrator) startPreview(s lifecycle.State) {
	if s.Project == nil {
		o.logger.Warn("preview entered without project", slog.String("projectId", string(s.ProjectID)))
		return
	}
	o.stopPreview()
	p := *s.Project
	o.project = p
	o.assignEffects(p, false)
	o.settings.Rebase(p)

	o.engine = audio.NewEngine(o.opener, o.logger.With(slog.String("component", "audio")))
	o.playback = domain.PlaybackState{
		Duration:           p.Duration(),
		ActiveSegmentIndex: -1,
	}
	o.initAudio(context.Background())
	o.refreshFrame(false)
	o.logger.Info("preview started",
		slog.String("projectId", string(p.ID)),
		slog.Int("segments", len(p.Segments)),
		slog.Float64("duration", p.Duration()),
	)
}

// stopPreview disposes the audio engine and timers. It is safe to call
// when no preview is active.
func (o *Orchestrator) stopPreview() {
	o.stopTicker()
	if o.cancelTransition != nil {
		o.cancelTransition()
		o.cancelTransition = nil
	}
	if o.engine != nil {
		o.engine.Dispose()
		o.engine = nil
		o.playback = domain.PlaybackState{}
		o.publisher.Broadcast(MsgPlayback, nil)
	}
}

// assignEffects draws one transition effect per segment. Effects stay fixed
// for a loaded project unless force is set.
func (o *Orchestrator) assignEffects(p domain.Project, force bool) {
	if !force && o.effectsFor == p.ID && len(o.effects) == len(p.Segments) {
		return
	}
	rng := rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	o.effects = timeline.AssignEffects(len(p.Segments), rng)
	o.effectsFor = p.ID
}

func (o *Orchestrator) initAudio(ctx context.Context) {
	if o.engine == nil {
		return
	}
	music := o.settings.Music()
	voiceURL := o.resolver.URL(o.project.ID, o.project.AudioPath)
	musicURL := o.resolver.MusicURL(o.project, music)
	if err := o.engine.Initialize(ctx, voiceURL, musicURL, music, o.project.Duration()); err != nil {
		o.logger.Warn("audio initialisation failed",
			slog.String("projectId", string(o.project.ID)),
			slog.String("error", err.Error()),
		)
	}
}

func (o *Orchestrator) onSettingsChange(ch settings.Change) {
	if ch.Kind == settings.KindSubtitles {
		o.publisher.Broadcast(MsgSettings, o.settingsView())
		if o.engine != nil {
			o.playback.ShowSubtitles = ch.Subtitles.ShowSubtitles
			o.publishPlayback()
		}
		return
	}

	if o.engine != nil {
		m := ch.Music
		if settings.NeedsTrackChange(ch.PrevMusic, m) {
			url := o.resolver.MusicURL(o.project, m)
			if err := o.engine.SetBackgroundMusic(context.Background(), url, m.MusicVolume); err != nil {
				o.logger.Warn("background music switch failed", slog.String("error", err.Error()))
			}
		}
		o.engine.UpdateVolumes(m.VoiceVolume, m.MusicVolume)
		o.engine.UpdateFadeSettings(m.MusicFadeIn, m.MusicFadeOut, o.project.Duration())
		o.refreshFrame(false)
	}
	o.publisher.Broadcast(MsgSettings, o.settingsView())
}

func (o *Orchestrator) onSettingsError(kind settings.Kind, err error) {
	o.lastError = err.Error()
	o.publisher.Broadcast(MsgError, errorView{Scope: string(kind), Message: err.Error()})
}

func (o *Orchestrator) settingsView() settingsView {
	return settingsView{Subtitles: o.settings.Subtitles(), Music: o.settings.Music()}
}

func (o *Orchestrator) publishLifecycle() {
	o.publisher.Broadcast(MsgLifecycle, o.snapshot())
}

func (o *Orchestrator) publishPlayback() {
	if o.engine == nil {
		return
	}
	o.publisher.Broadcast(MsgPlayback, o.playback)
}

type nopPublisher struct{}

func (nopPublisher) Broadcast(string, any) {}
