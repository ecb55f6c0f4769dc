package domain

type ProjectID string

type ProjectStatus string

const (
	ProjectPending         ProjectStatus = "pending"
	ProjectProcessing      ProjectStatus = "processing"
	ProjectDraftReady      ProjectStatus = "draft_ready"
	ProjectGeneratingVideo ProjectStatus = "generating_video"
	ProjectCompleted       ProjectStatus = "completed"
	ProjectFailed          ProjectStatus = "failed"
)

// DefaultAudioDuration is used whenever a project reports no usable
// narration length.
const DefaultAudioDuration = 15.0

type Segment struct {
	Index     int    `json:"index"`
	ImagePath string `json:"imagePath"`
	Prompt    string `json:"prompt"`
}

type Subtitle struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Contains reports whether t falls inside the closed interval [Start, End].
func (s Subtitle) Contains(t float64) bool {
	return t >= s.Start && t <= s.End
}

// Project is a server-owned snapshot. Values are treated as immutable:
// every With* helper returns a copy and never touches the receiver's slices.
type Project struct {
	ID               ProjectID        `json:"id"`
	Status           ProjectStatus    `json:"status"`
	AudioPath        string           `json:"audioPath,omitempty"`
	AudioDuration    float64          `json:"audioDuration,omitempty"`
	AspectRatio      string           `json:"aspectRatio,omitempty"`
	Segments         []Segment        `json:"segments"`
	Subtitles        []Subtitle       `json:"subtitles"`
	SubtitleSettings SubtitleSettings `json:"subtitleSettings"`
	MusicSettings    MusicSettings    `json:"musicSettings"`
	ThumbnailPath    string           `json:"thumbnailPath,omitempty"`
	ThumbnailPrompt  string           `json:"thumbnailPrompt,omitempty"`
	VideoPath        string           `json:"videoPath,omitempty"`
	CustomMusicPath  string           `json:"customMusicPath,omitempty"`
}

// Duration returns the narration length, falling back to
// DefaultAudioDuration when the backend has not reported one.
func (p Project) Duration() float64 {
	if p.AudioDuration > 0 {
		return p.AudioDuration
	}
	return DefaultAudioDuration
}

func (p Project) Segment(index int) (Segment, bool) {
	if index < 0 || index >= len(p.Segments) {
		return Segment{}, false
	}
	return p.Segments[index], true
}

func (p Project) Clone() Project {
	out := p
	if p.Segments != nil {
		out.Segments = append([]Segment(nil), p.Segments...)
	}
	if p.Subtitles != nil {
		out.Subtitles = append([]Subtitle(nil), p.Subtitles...)
	}
	out.MusicSettings = p.MusicSettings.Clone()
	return out
}

func (p Project) WithSubtitles(subs []Subtitle) Project {
	out := p.Clone()
	out.Subtitles = append([]Subtitle(nil), subs...)
	return out
}

func (p Project) WithSubtitleSettings(s SubtitleSettings) Project {
	out := p.Clone()
	out.SubtitleSettings = s
	return out
}

func (p Project) WithMusicSettings(s MusicSettings) Project {
	out := p.Clone()
	out.MusicSettings = s.Clone()
	return out
}

// ProjectEvent is a push-channel payload for one project.
type ProjectEvent struct {
	ProjectID ProjectID     `json:"projectId,omitempty"`
	Status    ProjectStatus `json:"status"`
	VideoURL  string        `json:"videoUrl,omitempty"`
	Message   string        `json:"message,omitempty"`
}

// CreateProjectResult is the backend's acknowledgement of a script submission.
type CreateProjectResult struct {
	ProjectID ProjectID     `json:"projectId"`
	Status    ProjectStatus `json:"status,omitempty"`
	Message   string        `json:"message,omitempty"`
}

type RenderOptions struct {
	SubtitleSettings SubtitleSettings `json:"subtitleSettings"`
	MusicSettings    MusicSettings    `json:"musicSettings"`
	AspectRatio      string           `json:"aspectRatio,omitempty"`
}

type Music struct {
	ID       string  `json:"_id"`
	Title    string  `json:"title"`
	Artist   string  `json:"artist,omitempty"`
	Duration float64 `json:"duration,omitempty"`
	Path     string  `json:"path,omitempty"`
}
