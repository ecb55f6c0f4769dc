// Package audio drives the voice and background-music tracks of a preview
// from a single clock. The voice track is the clock; music only follows it.
//
// An Engine is not safe for concurrent use. It is owned by the preview
// event loop and every method must be called from that goroutine.
package audio

import (
	"context"
	"log/slog"
	"strings"

	"clipstudio/internal/domain"
	"clipstudio/internal/domain/ports"
	"clipstudio/internal/metrics"
)

type Engine struct {
	opener ports.TrackOpener
	logger *slog.Logger

	voice    ports.Track
	music    ports.Track
	voiceURL string
	musicURL string

	voiceGain float64
	musicBase float64
	fadeIn    float64
	fadeOut   float64
	duration  float64

	playing  bool
	current  float64
	disposed bool
}

func NewEngine(opener ports.TrackOpener, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		opener:    opener,
		logger:    logger,
		voiceGain: 1,
		musicBase: percentToGain(domain.DefaultMusicSettings().MusicVolume),
	}
}

// Initialize binds the voice and music sources. A new voice source resets
// the clock to zero; an unchanged voice source keeps its position even when
// the music source changes.
func (e *Engine) Initialize(ctx context.Context, voiceURL, musicURL string, settings domain.MusicSettings, duration float64) error {
	if e.disposed {
		return domain.ErrDisposed
	}
	voiceURL = strings.TrimSpace(voiceURL)
	if e.voice == nil || voiceURL != e.voiceURL {
		e.closeVoice()
		track, err := e.opener.Open(ctx, voiceURL, false)
		if err != nil {
			metrics.AudioErrorsTotal.WithLabelValues("voice", "open").Inc()
			e.logger.Warn("voice track open failed",
				slog.String("url", voiceURL),
				slog.String("error", err.Error()),
			)
			return err
		}
		e.voice = track
		e.voiceURL = voiceURL
		e.playing = false
		e.current = 0
	}

	e.voiceGain = percentToGain(settings.VoiceVolume)
	e.voice.SetVolume(e.voiceGain)
	e.UpdateFadeSettings(settings.MusicFadeIn, settings.MusicFadeOut, duration)
	return e.SetBackgroundMusic(ctx, musicURL, settings.MusicVolume)
}

// SetBackgroundMusic swaps or removes the music track. An empty url removes
// the resource entirely. A replacement starts immediately if the voice is
// playing.
func (e *Engine) SetBackgroundMusic(ctx context.Context, url string, baseVolume int) error {
	if e.disposed {
		return domain.ErrDisposed
	}
	e.musicBase = percentToGain(baseVolume)
	url = strings.TrimSpace(url)

	if url == "" {
		e.closeMusic()
		return nil
	}
	if e.music != nil && url == e.musicURL {
		e.applyMusicVolume()
		return nil
	}

	e.closeMusic()
	track, err := e.opener.Open(ctx, url, true)
	if err != nil {
		metrics.AudioErrorsTotal.WithLabelValues("music", "open").Inc()
		e.logger.Warn("music track open failed",
			slog.String("url", url),
			slog.String("error", err.Error()),
		)
		return err
	}
	e.music = track
	e.musicURL = url
	e.applyMusicVolume()
	if e.playing {
		e.playMusic()
	}
	return nil
}

func (e *Engine) UpdateVolumes(voiceVolume, musicVolume int) {
	if e.disposed {
		return
	}
	e.voiceGain = percentToGain(voiceVolume)
	e.musicBase = percentToGain(musicVolume)
	if e.voice != nil {
		e.voice.SetVolume(e.voiceGain)
	}
	e.applyMusicVolume()
}

func (e *Engine) UpdateFadeSettings(fadeIn, fadeOut, duration float64) {
	if e.disposed {
		return
	}
	e.fadeIn = max(fadeIn, 0)
	e.fadeOut = max(fadeOut, 0)
	e.duration = max(duration, 0)
	e.applyMusicVolume()
}

// TogglePlay starts or pauses both tracks. A rejected play is logged and
// leaves the engine paused.
func (e *Engine) TogglePlay() {
	if e.disposed || e.voice == nil {
		return
	}
	if e.playing {
		e.voice.Pause()
		if e.music != nil {
			e.music.Pause()
		}
		e.playing = false
		return
	}
	if err := e.voice.Play(); err != nil {
		metrics.AudioErrorsTotal.WithLabelValues("voice", "play").Inc()
		e.logger.Warn("voice playback rejected", slog.String("error", err.Error()))
		return
	}
	e.playing = true
	e.playMusic()
}

func (e *Engine) Seek(t float64) {
	if e.disposed || e.voice == nil {
		return
	}
	if t < 0 {
		t = 0
	}
	if e.duration > 0 && t > e.duration {
		t = e.duration
	}
	e.voice.Seek(t)
	e.current = t
	e.applyMusicVolume()
}

// Tick samples the voice clock and refreshes the fade envelope. It returns
// the current time. When the voice track has finished both tracks stop and
// the clock rewinds to zero.
func (e *Engine) Tick() float64 {
	if e.disposed || e.voice == nil {
		return e.current
	}
	if e.voice.Ended() {
		e.Reset()
		return 0
	}
	e.current = e.voice.Position()
	e.applyMusicVolume()
	return e.current
}

func (e *Engine) Reset() {
	if e.disposed {
		return
	}
	if e.voice != nil {
		e.voice.Pause()
		e.voice.Seek(0)
	}
	if e.music != nil {
		e.music.Pause()
		e.music.Seek(0)
	}
	e.playing = false
	e.current = 0
	e.applyMusicVolume()
}

// Dispose releases both tracks. The engine is unusable afterwards.
func (e *Engine) Dispose() {
	if e.disposed {
		return
	}
	e.closeVoice()
	e.closeMusic()
	e.playing = false
	e.current = 0
	e.disposed = true
}

func (e *Engine) Playing() bool        { return e.playing }
func (e *Engine) CurrentTime() float64 { return e.current }
func (e *Engine) HasMusic() bool       { return e.music != nil }
func (e *Engine) MusicURL() string     { return e.musicURL }
func (e *Engine) VoiceGain() float64   { return e.voiceGain }

// MusicGain is the effective background gain after the fade envelope.
func (e *Engine) MusicGain() float64 {
	if e.music == nil {
		return 0
	}
	return e.musicBase * FadeMultiplier(e.current, e.duration, e.fadeIn, e.fadeOut)
}

func (e *Engine) applyMusicVolume() {
	if e.music == nil {
		return
	}
	e.music.SetVolume(e.MusicGain())
}

func (e *Engine) playMusic() {
	if e.music == nil {
		return
	}
	if err := e.music.Play(); err != nil {
		metrics.AudioErrorsTotal.WithLabelValues("music", "play").Inc()
		e.logger.Warn("music playback rejected", slog.String("error", err.Error()))
	}
}

func (e *Engine) closeVoice() {
	if e.voice == nil {
		return
	}
	e.voice.Pause()
	if err := e.voice.Close(); err != nil {
		e.logger.Debug("voice track close failed", slog.String("error", err.Error()))
	}
	e.voice = nil
	e.voiceURL = ""
}

func (e *Engine) closeMusic() {
	if e.music == nil {
		return
	}
	e.music.Pause()
	if err := e.music.Close(); err != nil {
		e.logger.Debug("music track close failed", slog.String("error", err.Error()))
	}
	e.music = nil
	e.musicURL = ""
}
