package preview

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"clipstudio/internal/domain"
	"clipstudio/internal/domain/ports"
	"clipstudio/internal/loop"
)

var ErrBusy = errors.New("operation already in progress")

// The exported methods below are safe to call from any goroutine except the
// loop itself.

func (o *Orchestrator) do(ctx context.Context, fn func() error) error {
	var err error
	if callErr := o.loop.Call(ctx, func() {
		if o.disposed {
			err = domain.ErrDisposed
			return
		}
		err = fn()
	}); callErr != nil {
		return callErr
	}
	return err
}

func (o *Orchestrator) Snapshot(ctx context.Context) (Snapshot, error) {
	var s Snapshot
	err := o.loop.Call(ctx, func() { s = o.snapshot() })
	return s, err
}

func (o *Orchestrator) Submit(ctx context.Context, script, aspectRatio string) error {
	return o.do(ctx, func() error {
		if err := o.machine.Submit(script, aspectRatio); err != nil {
			return err
		}
		o.lastError = ""
		o.publishLifecycle()
		return nil
	})
}

// Resume re-attaches to a project id remembered from a previous run.
func (o *Orchestrator) Resume(ctx context.Context, id domain.ProjectID) error {
	return o.do(ctx, func() error {
		o.resetLocal()
		return o.machine.Resume(id)
	})
}

func (o *Orchestrator) TogglePlay(ctx context.Context) error {
	return o.do(ctx, func() error {
		if err := o.requirePreview(); err != nil {
			return err
		}
		o.engine.TogglePlay()
		if o.engine.Playing() {
			o.startTicker()
		} else {
			o.stopTicker()
		}
		o.refreshFrame(false)
		return nil
	})
}

func (o *Orchestrator) Seek(ctx context.Context, seconds float64) error {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return fmt.Errorf("%w: seek position must be finite", domain.ErrInvalidSettings)
	}
	return o.do(ctx, func() error {
		if err := o.requirePreview(); err != nil {
			return err
		}
		o.engine.Seek(seconds)
		o.refreshFrame(false)
		return nil
	})
}

func (o *Orchestrator) ResetPlayback(ctx context.Context) error {
	return o.do(ctx, func() error {
		if err := o.requirePreview(); err != nil {
			return err
		}
		o.engine.Reset()
		o.stopTicker()
		o.refreshFrame(false)
		return nil
	})
}

func (o *Orchestrator) EditSubtitleSettings(ctx context.Context, patch SubtitleSettingsPatch) error {
	return o.do(ctx, func() error {
		if err := o.requirePreview(); err != nil {
			return err
		}
		return o.settings.EditSubtitles(patch.apply)
	})
}

func (o *Orchestrator) EditMusicSettings(ctx context.Context, patch MusicSettingsPatch) error {
	return o.do(ctx, func() error {
		if err := o.requirePreview(); err != nil {
			return err
		}
		return o.settings.EditMusic(patch.apply)
	})
}

func (o *Orchestrator) SetShowSubtitles(ctx context.Context, show bool) error {
	return o.do(ctx, func() error {
		if err := o.requirePreview(); err != nil {
			return err
		}
		return o.settings.SetShowSubtitles(show)
	})
}

// UpdateSubtitles replaces the subtitle list locally and persists it. A
// failed save restores the previous list.
func (o *Orchestrator) UpdateSubtitles(ctx context.Context, subs []domain.Subtitle) error {
	for i, s := range subs {
		if s.Start < 0 || s.End < s.Start {
			return fmt.Errorf("%w: subtitle %d has an invalid time range", domain.ErrInvalidSettings, i)
		}
	}
	subs = append([]domain.Subtitle(nil), subs...)
	return o.do(ctx, func() error {
		if err := o.requirePreview(); err != nil {
			return err
		}
		previous := append([]domain.Subtitle(nil), o.project.Subtitles...)
		if err := o.machine.ReplaceProject(o.localProject().WithSubtitles(subs)); err != nil {
			return err
		}
		return o.projectOp("subtitles", func(ctx context.Context, id domain.ProjectID) (domain.Project, error) {
			return o.api.UpdateSubtitles(ctx, id, subs)
		}, nil, func() {
			if o.engine != nil {
				_ = o.machine.ReplaceProject(o.localProject().WithSubtitles(previous))
			}
		})
	})
}

func (o *Orchestrator) RegenerateSegmentImage(ctx context.Context, index int, prompt string) error {
	return o.do(ctx, func() error {
		if err := o.requirePreview(); err != nil {
			return err
		}
		seg, ok := o.project.Segment(index)
		if !ok {
			return fmt.Errorf("%w: %d", domain.ErrInvalidSegment, index)
		}
		prompt = strings.TrimSpace(prompt)
		if prompt == "" {
			prompt = seg.Prompt
		}
		return o.projectOp(segmentKey(index), func(ctx context.Context, id domain.ProjectID) (domain.Project, error) {
			return o.api.RegenerateSegmentImage(ctx, id, index, prompt)
		}, o.bustSegment(index), nil)
	})
}

func (o *Orchestrator) UploadSegmentImage(ctx context.Context, index int, filename string, data []byte) error {
	return o.do(ctx, func() error {
		if err := o.requirePreview(); err != nil {
			return err
		}
		if _, ok := o.project.Segment(index); !ok {
			return fmt.Errorf("%w: %d", domain.ErrInvalidSegment, index)
		}
		return o.projectOp(segmentKey(index), func(ctx context.Context, id domain.ProjectID) (domain.Project, error) {
			return o.api.UploadSegmentImage(ctx, id, index, ports.Upload{Filename: filename, Body: bytes.NewReader(data)})
		}, o.bustSegment(index), nil)
	})
}

func (o *Orchestrator) RegenerateThumbnail(ctx context.Context, prompt string) error {
	return o.do(ctx, func() error {
		if err := o.requirePreview(); err != nil {
			return err
		}
		prompt = strings.TrimSpace(prompt)
		if prompt == "" {
			prompt = o.project.ThumbnailPrompt
		}
		return o.projectOp("thumbnail", func(ctx context.Context, id domain.ProjectID) (domain.Project, error) {
			return o.api.RegenerateThumbnail(ctx, id, prompt)
		}, o.bustThumbnail, nil)
	})
}

func (o *Orchestrator) UploadThumbnail(ctx context.Context, filename string, data []byte) error {
	return o.do(ctx, func() error {
		if err := o.requirePreview(); err != nil {
			return err
		}
		return o.projectOp("thumbnail", func(ctx context.Context, id domain.ProjectID) (domain.Project, error) {
			return o.api.UploadThumbnail(ctx, id, ports.Upload{Filename: filename, Body: bytes.NewReader(data)})
		}, o.bustThumbnail, nil)
	})
}

// UploadMusic stores a custom background track and switches the project
// to it.
func (o *Orchestrator) UploadMusic(ctx context.Context, filename string, data []byte) error {
	return o.do(ctx, func() error {
		if err := o.requirePreview(); err != nil {
			return err
		}
		const key = "music"
		if o.pending[key] {
			return fmt.Errorf("%w: %s", ErrBusy, key)
		}
		id, gen := o.project.ID, o.gen
		o.pending[key] = true
		o.publishLifecycle()

		loop.Go(o.loop, func() (string, error) {
			return o.api.UploadProjectMusic(context.Background(), id, ports.Upload{Filename: filename, Body: bytes.NewReader(data)})
		}, func(path string, err error) {
			if gen != o.gen {
				return
			}
			delete(o.pending, key)
			if err != nil {
				o.opFailed(key, err)
				return
			}
			if o.engine == nil || o.project.ID != id {
				o.publishLifecycle()
				return
			}
			o.resolver.Bust(id, path)
			updated := o.localProject()
			updated.CustomMusicPath = path
			if err := o.machine.ReplaceProject(updated); err != nil {
				o.opFailed(key, err)
				return
			}
			if err := o.settings.EditMusic(func(m *domain.MusicSettings) {
				m.EnableMusic = true
				m.MusicSource = domain.MusicSourceCustom
			}); err != nil {
				o.opFailed(key, err)
			}
		})
		return nil
	})
}

func (o *Orchestrator) RequestRender(ctx context.Context) error {
	return o.do(ctx, func() error {
		if err := o.requirePreview(); err != nil {
			return err
		}
		opts := domain.RenderOptions{
			SubtitleSettings: o.settings.Subtitles(),
			MusicSettings:    o.settings.Music(),
			AspectRatio:      o.project.AspectRatio,
		}
		return o.machine.RequestRender(opts)
	})
}

// StartOver abandons the current project and returns to script input.
func (o *Orchestrator) StartOver(ctx context.Context) error {
	return o.do(ctx, func() error {
		o.resetLocal()
		o.machine.Reset()
		o.publishLifecycle()
		return nil
	})
}

func (o *Orchestrator) MusicLibrary(ctx context.Context) ([]domain.Music, error) {
	if o.music == nil {
		return nil, errors.New("music library not configured")
	}
	return o.music.GetMusicLibrary(ctx)
}

// Close tears the preview down. Requests already in flight are not
// cancelled; their results are discarded.
func (o *Orchestrator) Close(ctx context.Context) error {
	return o.loop.Call(ctx, func() {
		if o.disposed {
			return
		}
		o.stopPreview()
		o.machine.Dispose()
		o.disposed = true
	})
}

func (o *Orchestrator) requirePreview() error {
	if o.engine == nil {
		return fmt.Errorf("%w: preview is not active", domain.ErrInvalidPhase)
	}
	return nil
}

func (o *Orchestrator) resetLocal() {
	o.gen++
	o.pending = make(map[string]bool)
	o.lastError = ""
}

// localProject is the cached project stamped with the settings the backend
// has confirmed, so a local replacement never rolls back a saved edit.
func (o *Orchestrator) localProject() domain.Project {
	return o.project.
		WithSubtitleSettings(o.settings.ConfirmedSubtitles()).
		WithMusicSettings(o.settings.ConfirmedMusic())
}

// projectOp runs a backend call that returns a new project snapshot and
// swaps it in. bust runs before the swap; onFail runs after a failure.
func (o *Orchestrator) projectOp(
	key string,
	work func(context.Context, domain.ProjectID) (domain.Project, error),
	bust func(domain.Project),
	onFail func(),
) error {
	if o.pending[key] {
		return fmt.Errorf("%w: %s", ErrBusy, key)
	}
	id, gen := o.project.ID, o.gen
	o.pending[key] = true
	o.publishLifecycle()

	loop.Go(o.loop, func() (domain.Project, error) {
		return work(context.Background(), id)
	}, func(p domain.Project, err error) {
		if gen != o.gen {
			return
		}
		delete(o.pending, key)
		if err != nil {
			if onFail != nil && o.project.ID == id {
				onFail()
			}
			o.opFailed(key, err)
			return
		}
		if bust != nil {
			bust(p)
		}
		if err := o.machine.ReplaceProject(p); err != nil {
			o.logger.Debug("dropping project update", slog.String("op", key), slog.String("error", err.Error()))
			o.publishLifecycle()
		}
	})
	return nil
}

func (o *Orchestrator) opFailed(key string, err error) {
	o.lastError = err.Error()
	o.logger.Warn("project operation failed",
		slog.String("op", key),
		slog.String("projectId", string(o.project.ID)),
		slog.String("error", err.Error()),
	)
	o.publisher.Broadcast(MsgError, errorView{Scope: key, Message: err.Error()})
	o.publishLifecycle()
}

func (o *Orchestrator) bustSegment(index int) func(domain.Project) {
	return func(p domain.Project) {
		if seg, ok := p.Segment(index); ok {
			o.resolver.Bust(p.ID, seg.ImagePath)
		}
	}
}

func (o *Orchestrator) bustThumbnail(p domain.Project) {
	o.resolver.Bust(p.ID, p.ThumbnailPath)
}

func segmentKey(i int) string {
	return fmt.Sprintf("segment:%d", i)
}
