// Package clocktrack provides headless audio tracks whose position is
// driven by a wall clock. The preview agent never produces sound; it only
// needs a faithful playback clock for the voice and music tracks.
package clocktrack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"clipstudio/internal/domain/ports"
	"clipstudio/internal/media"
)

var ErrClosed = errors.New("track closed")

type Opener struct {
	prober media.DurationProber
	now    func() time.Time
	logger *slog.Logger
}

func NewOpener(prober media.DurationProber, logger *slog.Logger) *Opener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Opener{prober: prober, now: time.Now, logger: logger}
}

// Open starts probing the duration of url in the background and returns
// immediately. The probe outlives ctx's cancellation and is stopped by
// Close.
func (o *Opener) Open(ctx context.Context, url string, loop bool) (ports.Track, error) {
	src := strings.TrimSpace(url)
	if src == "" {
		return nil, errors.New("track url is required")
	}
	probeCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t := &Track{
		url:       src,
		loop:      loop,
		volume:    1,
		now:       o.now,
		cancel:    cancel,
		probeDone: make(chan struct{}),
	}
	go t.probe(probeCtx, o.prober, o.logger)
	return t, nil
}

type Track struct {
	url  string
	loop bool
	now  func() time.Time

	mu        sync.Mutex
	duration  float64
	probeErr  error
	probeDone chan struct{}
	cancel    context.CancelFunc

	playing   bool
	offset    float64
	startedAt time.Time
	volume    float64
	closed    bool
}

func (t *Track) probe(ctx context.Context, prober media.DurationProber, logger *slog.Logger) {
	defer close(t.probeDone)
	if prober == nil {
		return
	}
	seconds, err := prober.ProbeDuration(ctx, t.url)

	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		if ctx.Err() == nil {
			logger.Warn("audio duration probe failed",
				slog.String("url", t.url),
				slog.String("error", err.Error()),
			)
		}
		t.probeErr = err
		if t.playing {
			t.offset = t.rawPositionLocked()
			t.playing = false
		}
		return
	}
	t.duration = seconds
}

// Play resumes the clock. It fails when the track could not be decoded or
// was closed.
func (t *Track) Play() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	if t.probeErr != nil {
		return fmt.Errorf("decode %s: %w", t.url, t.probeErr)
	}
	if t.playing {
		return nil
	}
	if !t.loop && t.duration > 0 && t.offset >= t.duration {
		t.offset = 0
	}
	t.playing = true
	t.startedAt = t.now()
	return nil
}

func (t *Track) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.playing {
		return
	}
	t.offset = t.wrapLocked(t.rawPositionLocked())
	t.playing = false
}

func (t *Track) Position() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.wrapLocked(t.rawPositionLocked())
}

func (t *Track) Seek(seconds float64) {
	if math.IsNaN(seconds) || seconds < 0 {
		seconds = 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.offset = t.wrapLocked(seconds)
	t.startedAt = t.now()
}

func (t *Track) SetVolume(gain float64) {
	t.mu.Lock()
	t.volume = math.Max(0, math.Min(1, gain))
	t.mu.Unlock()
}

func (t *Track) Volume() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.volume
}

// Ended reports whether a non-looping track has played to its end. It is
// false while the duration is still unknown.
func (t *Track) Ended() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.loop || t.duration <= 0 {
		return false
	}
	return t.rawPositionLocked() >= t.duration
}

func (t *Track) Duration() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.duration
}

func (t *Track) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.playing = false
	t.mu.Unlock()
	t.cancel()
	return nil
}

func (t *Track) rawPositionLocked() float64 {
	if !t.playing {
		return t.offset
	}
	return t.offset + t.now().Sub(t.startedAt).Seconds()
}

func (t *Track) wrapLocked(pos float64) float64 {
	if t.duration <= 0 {
		return pos
	}
	if t.loop {
		return math.Mod(pos, t.duration)
	}
	return math.Min(pos, t.duration)
}
