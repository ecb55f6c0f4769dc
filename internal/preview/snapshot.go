package preview

import (
	"sort"

	"clipstudio/internal/domain"
	"clipstudio/internal/lifecycle"
)

type settingsView struct {
	Subtitles domain.SubtitleSettings `json:"subtitleSettings"`
	Music     domain.MusicSettings    `json:"musicSettings"`
}

type errorView struct {
	Scope   string `json:"scope"`
	Message string `json:"message"`
}

// Assets are the resolved URLs of a project's media.
type Assets struct {
	AudioURL      string   `json:"audioUrl,omitempty"`
	VideoURL      string   `json:"videoUrl,omitempty"`
	ThumbnailURL  string   `json:"thumbnailUrl,omitempty"`
	SegmentImages []string `json:"segmentImages,omitempty"`
}

// Snapshot is the full externally visible state of the agent.
type Snapshot struct {
	Lifecycle        lifecycle.State         `json:"lifecycle"`
	Playback         *domain.PlaybackState   `json:"playback,omitempty"`
	SubtitleSettings domain.SubtitleSettings `json:"subtitleSettings"`
	MusicSettings    domain.MusicSettings    `json:"musicSettings"`
	Effects          []domain.Effect         `json:"effects,omitempty"`
	Assets           Assets                  `json:"assets"`
	Pending          []string                `json:"pending,omitempty"`
	LastError        string                  `json:"lastError,omitempty"`
}

func (o *Orchestrator) snapshot() Snapshot {
	s := Snapshot{
		Lifecycle:        o.machine.State(),
		SubtitleSettings: o.settings.Subtitles(),
		MusicSettings:    o.settings.Music(),
		Effects:          append([]domain.Effect(nil), o.effects...),
		LastError:        o.lastError,
	}
	if o.engine != nil {
		pb := o.playback
		s.Playback = &pb
	}
	for k := range o.pending {
		s.Pending = append(s.Pending, k)
	}
	sort.Strings(s.Pending)

	if p := s.Lifecycle.Project; p != nil {
		s.Assets.AudioURL = o.resolver.URL(p.ID, p.AudioPath)
		s.Assets.ThumbnailURL = o.resolver.URL(p.ID, p.ThumbnailPath)
		for _, seg := range p.Segments {
			s.Assets.SegmentImages = append(s.Assets.SegmentImages, o.resolver.URL(p.ID, seg.ImagePath))
		}
	}
	if v := s.Lifecycle.VideoURL; v != "" {
		s.Assets.VideoURL = o.resolver.URL(s.Lifecycle.ProjectID, v)
	}
	return s
}
