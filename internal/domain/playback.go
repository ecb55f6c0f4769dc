package domain

type Effect string

const (
	EffectZoom    Effect = "zoom"
	EffectOrbital Effect = "orbital"
)

// Effects is the fixed set transitions are drawn from.
var Effects = []Effect{EffectZoom, EffectOrbital}

// PlaybackState is client-only and never persisted.
type PlaybackState struct {
	CurrentTime        float64 `json:"currentTime"`
	Duration           float64 `json:"duration"`
	IsPlaying          bool    `json:"isPlaying"`
	ActiveSegmentIndex int     `json:"activeSegmentIndex"`
	ActiveImage        string  `json:"activeImage,omitempty"`
	PreviousImage      string  `json:"previousImage,omitempty"`
	ActiveSubtitleText string  `json:"activeSubtitleText"`
	CurrentEffect      Effect  `json:"currentEffect,omitempty"`
	VoiceVolume        float64 `json:"voiceVolume"`
	MusicVolume        float64 `json:"musicVolume"`
	ShowSubtitles      bool    `json:"showSubtitles"`
}
