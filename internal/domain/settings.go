package domain

import (
	"fmt"
	"regexp"
	"strings"
)

type MusicSource string

const (
	MusicSourceLibrary MusicSource = "library"
	MusicSourceCustom  MusicSource = "custom"
)

const DefaultSubtitleColor = "#F4D03F"

var hexColorPattern = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

type SubtitleSettings struct {
	FontSize      int     `json:"fontSize"`
	FontFamily    string  `json:"fontFamily"`
	Color         string  `json:"color"`
	YPosition     float64 `json:"yPosition"`
	LetterSpacing float64 `json:"letterSpacing"`
	ShowSubtitles bool    `json:"showSubtitles"`
}

func DefaultSubtitleSettings() SubtitleSettings {
	return SubtitleSettings{
		FontSize:      30,
		FontFamily:    "Permanent Marker",
		Color:         DefaultSubtitleColor,
		YPosition:     50,
		LetterSpacing: 0,
		ShowSubtitles: true,
	}
}

func (s SubtitleSettings) Validate() error {
	if s.FontSize <= 0 {
		return fmt.Errorf("%w: fontSize must be positive", ErrInvalidSettings)
	}
	if !hexColorPattern.MatchString(strings.TrimSpace(s.Color)) {
		return fmt.Errorf("%w: color %q is not a hex colour", ErrInvalidSettings, s.Color)
	}
	if s.YPosition < 0 || s.YPosition > 100 {
		return fmt.Errorf("%w: yPosition must be within 0-100", ErrInvalidSettings)
	}
	return nil
}

type MusicSettings struct {
	EnableMusic       bool        `json:"enableMusic"`
	MusicSource       MusicSource `json:"musicSource"`
	BackgroundMusicID *string     `json:"backgroundMusicId"`
	VoiceVolume       int         `json:"voiceVolume"`
	MusicVolume       int         `json:"musicVolume"`
	MusicFadeIn       float64     `json:"musicFadeIn"`
	MusicFadeOut      float64     `json:"musicFadeOut"`
}

func DefaultMusicSettings() MusicSettings {
	return MusicSettings{
		EnableMusic: true,
		MusicSource: MusicSourceLibrary,
		VoiceVolume: 100,
		MusicVolume: 15,
	}
}

func (s MusicSettings) Clone() MusicSettings {
	out := s
	if s.BackgroundMusicID != nil {
		id := *s.BackgroundMusicID
		out.BackgroundMusicID = &id
	}
	return out
}

// TrackID returns the selected library track id or "" when none is selected.
func (s MusicSettings) TrackID() string {
	if s.BackgroundMusicID == nil {
		return ""
	}
	return strings.TrimSpace(*s.BackgroundMusicID)
}

func (s MusicSettings) Validate() error {
	if s.VoiceVolume < 0 || s.VoiceVolume > 100 {
		return fmt.Errorf("%w: voiceVolume must be within 0-100", ErrInvalidSettings)
	}
	if s.MusicVolume < 0 || s.MusicVolume > 100 {
		return fmt.Errorf("%w: musicVolume must be within 0-100", ErrInvalidSettings)
	}
	if s.MusicFadeIn < 0 || s.MusicFadeOut < 0 {
		return fmt.Errorf("%w: fades must not be negative", ErrInvalidSettings)
	}
	switch s.MusicSource {
	case MusicSourceLibrary, MusicSourceCustom:
	default:
		return fmt.Errorf("%w: unknown music source %q", ErrInvalidSettings, s.MusicSource)
	}
	return nil
}

// Equal compares by value, dereferencing the optional track id.
func (s MusicSettings) Equal(other MusicSettings) bool {
	if s.TrackID() != other.TrackID() {
		return false
	}
	a, b := s, other
	a.BackgroundMusicID, b.BackgroundMusicID = nil, nil
	return a == b
}
