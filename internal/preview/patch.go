package preview

import (
	"strings"

	"clipstudio/internal/domain"
)

// SubtitleSettingsPatch carries the fields a user changed; nil fields are
// left alone.
type SubtitleSettingsPatch struct {
	FontSize      *int     `json:"fontSize,omitempty"`
	FontFamily    *string  `json:"fontFamily,omitempty"`
	Color         *string  `json:"color,omitempty"`
	YPosition     *float64 `json:"yPosition,omitempty"`
	LetterSpacing *float64 `json:"letterSpacing,omitempty"`
}

func (p SubtitleSettingsPatch) apply(s *domain.SubtitleSettings) {
	if p.FontSize != nil {
		s.FontSize = *p.FontSize
	}
	if p.FontFamily != nil {
		s.FontFamily = strings.TrimSpace(*p.FontFamily)
	}
	if p.Color != nil {
		s.Color = strings.TrimSpace(*p.Color)
	}
	if p.YPosition != nil {
		s.YPosition = *p.YPosition
	}
	if p.LetterSpacing != nil {
		s.LetterSpacing = *p.LetterSpacing
	}
}

// MusicSettingsPatch carries changed music fields. An empty
// BackgroundMusicID clears the library selection.
type MusicSettingsPatch struct {
	EnableMusic       *bool               `json:"enableMusic,omitempty"`
	MusicSource       *domain.MusicSource `json:"musicSource,omitempty"`
	BackgroundMusicID *string             `json:"backgroundMusicId,omitempty"`
	VoiceVolume       *int                `json:"voiceVolume,omitempty"`
	MusicVolume       *int                `json:"musicVolume,omitempty"`
	MusicFadeIn       *float64            `json:"musicFadeIn,omitempty"`
	MusicFadeOut      *float64            `json:"musicFadeOut,omitempty"`
}

func (p MusicSettingsPatch) apply(m *domain.MusicSettings) {
	if p.EnableMusic != nil {
		m.EnableMusic = *p.EnableMusic
	}
	if p.MusicSource != nil {
		m.MusicSource = *p.MusicSource
	}
	if p.BackgroundMusicID != nil {
		id := strings.TrimSpace(*p.BackgroundMusicID)
		if id == "" {
			m.BackgroundMusicID = nil
		} else {
			m.BackgroundMusicID = &id
		}
	}
	if p.VoiceVolume != nil {
		m.VoiceVolume = *p.VoiceVolume
	}
	if p.MusicVolume != nil {
		m.MusicVolume = *p.MusicVolume
	}
	if p.MusicFadeIn != nil {
		m.MusicFadeIn = *p.MusicFadeIn
	}
	if p.MusicFadeOut != nil {
		m.MusicFadeOut = *p.MusicFadeOut
	}
}
