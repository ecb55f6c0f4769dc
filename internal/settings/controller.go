// Package settings keeps subtitle and music settings optimistic locally and
// eventually consistent with the backend.
package settings

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bep/debounce"

	"clipstudio/internal/domain"
	"clipstudio/internal/loop"
	"clipstudio/internal/metrics"
)

type Kind string

const (
	KindSubtitles Kind = "subtitles"
	KindMusic     Kind = "music"
)

const DefaultDebounce = 500 * time.Millisecond

// Store is the backend slice the controller persists through.
type Store interface {
	UpdateSubtitleSettings(ctx context.Context, id domain.ProjectID, s domain.SubtitleSettings) (domain.Project, error)
	UpdateMusicSettings(ctx context.Context, id domain.ProjectID, s domain.MusicSettings) (domain.Project, error)
}

// Change describes a local settings update. PrevMusic is the music state
// before the change so listeners can tell a parameter tweak from a track
// switch.
type Change struct {
	Kind      Kind
	Subtitles domain.SubtitleSettings
	Music     domain.MusicSettings
	PrevMusic domain.MusicSettings
	Reverted  bool
}

type (
	ChangeFunc func(Change)
	ErrorFunc  func(Kind, error)
)

// Controller is owned by the event loop; none of its methods may be called
// from another goroutine.
type Controller struct {
	loop   *loop.Loop
	store  Store
	logger *slog.Logger

	debounceSubtitles func(func())
	debounceMusic     func(func())

	projectID domain.ProjectID
	epoch     uint64

	subtitles          domain.SubtitleSettings
	confirmedSubtitles domain.SubtitleSettings
	pendingSubtitles   []func(*domain.SubtitleSettings)
	subtitleSaves      saveSeq

	music          domain.MusicSettings
	confirmedMusic domain.MusicSettings
	pendingMusic   []func(*domain.MusicSettings)
	musicSaves     saveSeq

	onChange []ChangeFunc
	onError  []ErrorFunc
}

func NewController(l *loop.Loop, store Store, delay time.Duration, logger *slog.Logger) *Controller {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		loop:               l,
		store:              store,
		logger:             logger,
		debounceSubtitles:  debounce.New(delay),
		debounceMusic:      debounce.New(delay),
		subtitles:          domain.DefaultSubtitleSettings(),
		confirmedSubtitles: domain.DefaultSubtitleSettings(),
		music:              domain.DefaultMusicSettings(),
		confirmedMusic:     domain.DefaultMusicSettings(),
	}
}

func (c *Controller) OnChange(fn ChangeFunc) { c.onChange = append(c.onChange, fn) }
func (c *Controller) OnError(fn ErrorFunc)   { c.onError = append(c.onError, fn) }

func (c *Controller) Subtitles() domain.SubtitleSettings { return c.subtitles }
func (c *Controller) Music() domain.MusicSettings        { return c.music.Clone() }

// ConfirmedSubtitles and ConfirmedMusic are the last values the backend
// acknowledged.
func (c *Controller) ConfirmedSubtitles() domain.SubtitleSettings { return c.confirmedSubtitles }
func (c *Controller) ConfirmedMusic() domain.MusicSettings        { return c.confirmedMusic.Clone() }

// Rebase adopts the settings of a freshly fetched project as the confirmed
// baseline. Unsent edits for the same project are replayed on top; loading
// a different project discards them.
func (c *Controller) Rebase(p domain.Project) {
	prevMusic := c.music.Clone()
	if p.ID != c.projectID {
		c.projectID = p.ID
		c.epoch++
		c.pendingSubtitles = nil
		c.pendingMusic = nil
		c.subtitleSaves = saveSeq{}
		c.musicSaves = saveSeq{}
	}

	c.confirmedSubtitles = p.SubtitleSettings
	c.confirmedMusic = p.MusicSettings.Clone()
	c.replaySubtitles()
	c.replayMusic()

	c.notify(Change{Kind: KindSubtitles, Subtitles: c.subtitles, Music: c.Music(), PrevMusic: prevMusic})
	c.notify(Change{Kind: KindMusic, Subtitles: c.subtitles, Music: c.Music(), PrevMusic: prevMusic})
}

// Clear forgets the current project. Debounced saves that fire afterwards
// are dropped.
func (c *Controller) Clear() {
	c.projectID = ""
	c.epoch++
	c.pendingSubtitles = nil
	c.pendingMusic = nil
	c.subtitleSaves = saveSeq{}
	c.musicSaves = saveSeq{}
	c.subtitles = domain.DefaultSubtitleSettings()
	c.confirmedSubtitles = c.subtitles
	c.music = domain.DefaultMusicSettings()
	c.confirmedMusic = c.music
}

// EditSubtitles applies edit locally right away and schedules a debounced
// save of the resulting settings.
func (c *Controller) EditSubtitles(edit func(*domain.SubtitleSettings)) error {
	if err := c.applySubtitles(edit); err != nil {
		return err
	}
	epoch := c.epoch
	c.debounceSubtitles(func() {
		c.loop.Post(func() {
			if epoch == c.epoch {
				c.flushSubtitles()
			}
		})
	})
	return nil
}

// SetShowSubtitles toggles subtitle visibility and saves without waiting
// for the debounce window.
func (c *Controller) SetShowSubtitles(show bool) error {
	if err := c.applySubtitles(func(s *domain.SubtitleSettings) { s.ShowSubtitles = show }); err != nil {
		return err
	}
	c.flushSubtitles()
	return nil
}

func (c *Controller) EditMusic(edit func(*domain.MusicSettings)) error {
	if c.projectID == "" {
		return domain.ErrNoProject
	}
	next := c.music.Clone()
	edit(&next)
	if err := next.Validate(); err != nil {
		return err
	}
	prev := c.music
	c.music = next
	c.pendingMusic = append(c.pendingMusic, edit)
	c.notify(Change{Kind: KindMusic, Subtitles: c.subtitles, Music: c.Music(), PrevMusic: prev})

	epoch := c.epoch
	c.debounceMusic(func() {
		c.loop.Post(func() {
			if epoch == c.epoch {
				c.flushMusic()
			}
		})
	})
	return nil
}

func (c *Controller) applySubtitles(edit func(*domain.SubtitleSettings)) error {
	if c.projectID == "" {
		return domain.ErrNoProject
	}
	next := c.subtitles
	edit(&next)
	if err := next.Validate(); err != nil {
		return err
	}
	c.subtitles = next
	c.pendingSubtitles = append(c.pendingSubtitles, edit)
	c.notify(Change{Kind: KindSubtitles, Subtitles: c.subtitles, Music: c.Music(), PrevMusic: c.Music()})
	return nil
}

// replaySubtitles rebuilds the local subtitle settings from the confirmed
// baseline plus the edits not yet sent. Edits that no longer validate on
// top of the new baseline are dropped.
func (c *Controller) replaySubtitles() {
	subs := c.confirmedSubtitles
	kept := c.pendingSubtitles[:0]
	for _, edit := range c.pendingSubtitles {
		next := subs
		edit(&next)
		if next.Validate() != nil {
			continue
		}
		subs = next
		kept = append(kept, edit)
	}
	c.pendingSubtitles = kept
	c.subtitles = subs
}

func (c *Controller) replayMusic() {
	music := c.confirmedMusic.Clone()
	kept := c.pendingMusic[:0]
	for _, edit := range c.pendingMusic {
		next := music.Clone()
		edit(&next)
		if next.Validate() != nil {
			continue
		}
		music = next
		kept = append(kept, edit)
	}
	c.pendingMusic = kept
	c.music = music
}

func (c *Controller) flushSubtitles() {
	if len(c.pendingSubtitles) == 0 {
		return
	}
	c.pendingSubtitles = nil
	sent := c.subtitles
	id, epoch := c.projectID, c.epoch
	seq := c.subtitleSaves.next()

	loop.Go(c.loop, func() (domain.Project, error) {
		return c.store.UpdateSubtitleSettings(context.Background(), id, sent)
	}, func(_ domain.Project, err error) {
		if epoch != c.epoch {
			return
		}
		r := c.subtitleSaves.finish(seq, err == nil)
		switch {
		case err != nil && r.superseded:
			c.logger.Debug("superseded settings save failed",
				slog.String("kind", string(KindSubtitles)),
				slog.String("error", err.Error()),
			)
			return
		case err != nil:
			c.persistFailed(KindSubtitles, err)
		case !r.advanced:
			metrics.SettingsPersistTotal.WithLabelValues(string(KindSubtitles), "ok").Inc()
			return
		default:
			metrics.SettingsPersistTotal.WithLabelValues(string(KindSubtitles), "ok").Inc()
			c.confirmedSubtitles = sent
		}
		if !r.settled {
			return
		}
		prev, prevMusic := c.subtitles, c.Music()
		c.replaySubtitles()
		if err != nil || prev != c.subtitles {
			c.notify(Change{Kind: KindSubtitles, Subtitles: c.subtitles, Music: c.Music(), PrevMusic: prevMusic, Reverted: err != nil})
		}
	})
}

func (c *Controller) flushMusic() {
	if len(c.pendingMusic) == 0 {
		return
	}
	c.pendingMusic = nil
	sent := c.music.Clone()
	id, epoch := c.projectID, c.epoch
	seq := c.musicSaves.next()

	loop.Go(c.loop, func() (domain.Project, error) {
		return c.store.UpdateMusicSettings(context.Background(), id, sent)
	}, func(_ domain.Project, err error) {
		if epoch != c.epoch {
			return
		}
		r := c.musicSaves.finish(seq, err == nil)
		switch {
		case err != nil && r.superseded:
			c.logger.Debug("superseded settings save failed",
				slog.String("kind", string(KindMusic)),
				slog.String("error", err.Error()),
			)
			return
		case err != nil:
			c.persistFailed(KindMusic, err)
		case !r.advanced:
			metrics.SettingsPersistTotal.WithLabelValues(string(KindMusic), "ok").Inc()
			return
		default:
			metrics.SettingsPersistTotal.WithLabelValues(string(KindMusic), "ok").Inc()
			c.confirmedMusic = sent
		}
		if !r.settled {
			return
		}
		prev := c.music
		c.replayMusic()
		if err != nil || !prev.Equal(c.music) {
			c.notify(Change{Kind: KindMusic, Subtitles: c.subtitles, Music: c.Music(), PrevMusic: prev, Reverted: err != nil})
		}
	})
}

func (c *Controller) persistFailed(kind Kind, err error) {
	metrics.SettingsPersistTotal.WithLabelValues(string(kind), "error").Inc()
	metrics.SettingsRevertsTotal.WithLabelValues(string(kind)).Inc()
	c.logger.Warn("settings save failed, reverting",
		slog.String("kind", string(kind)),
		slog.String("projectId", string(c.projectID)),
		slog.String("error", err.Error()),
	)
	wrapped := fmt.Errorf("save %s settings: %w", kind, err)
	for _, fn := range c.onError {
		fn(kind, wrapped)
	}
}

func (c *Controller) notify(ch Change) {
	for _, fn := range c.onChange {
		fn(ch)
	}
}

// NeedsTrackChange reports whether moving from prev to next requires a new
// background track rather than a volume or fade update.
func NeedsTrackChange(prev, next domain.MusicSettings) bool {
	if prev.EnableMusic != next.EnableMusic {
		return true
	}
	if !next.EnableMusic {
		return false
	}
	return prev.MusicSource != next.MusicSource || prev.TrackID() != next.TrackID()
}

// saveSeq orders overlapping saves of one settings kind. Only the latest
// request decides whether local state reverts, and the confirmed baseline
// never moves back to an older request's value.
type saveSeq struct {
	sent      uint64
	answered  uint64
	confirmed uint64
}

type saveResult struct {
	// superseded is set when a newer save was issued after this one.
	superseded bool
	// advanced is set when this save's value becomes the confirmed baseline.
	advanced bool
	// settled is set when no save is left in flight.
	settled bool
}

func (s *saveSeq) next() uint64 {
	s.sent++
	return s.sent
}

func (s *saveSeq) finish(seq uint64, ok bool) saveResult {
	if seq == s.sent {
		s.answered = seq
	}
	r := saveResult{superseded: seq != s.sent}
	if ok && seq > s.confirmed {
		s.confirmed = seq
		r.advanced = true
	}
	r.settled = s.answered == s.sent
	return r
}
