package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"clipstudio/internal/domain"
	"clipstudio/internal/domain/ports"
)

// projectWire is the backend's project document. Older projects may lack
// settings entirely, and the id may arrive as Mongo's _id.
type projectWire struct {
	MongoID          domain.ProjectID         `json:"_id"`
	ID               domain.ProjectID         `json:"id"`
	Status           domain.ProjectStatus     `json:"status"`
	AudioPath        string                   `json:"audioPath"`
	AudioDuration    float64                  `json:"audioDuration"`
	AspectRatio      string                   `json:"aspectRatio"`
	Segments         []domain.Segment         `json:"segments"`
	Subtitles        []domain.Subtitle        `json:"subtitles"`
	SubtitleSettings *domain.SubtitleSettings `json:"subtitleSettings"`
	MusicSettings    *musicSettingsWire       `json:"musicSettings"`
	ThumbnailPath    string                   `json:"thumbnailPath"`
	ThumbnailPrompt  string                   `json:"thumbnailPrompt"`
	VideoPath        string                   `json:"videoPath"`
	CustomMusicPath  string                   `json:"customMusicPath"`
}

// musicSettingsWire keeps enableMusic optional so a missing field keeps
// the default of true.
type musicSettingsWire struct {
	EnableMusic       *bool              `json:"enableMusic"`
	MusicSource       domain.MusicSource `json:"musicSource"`
	BackgroundMusicID *string            `json:"backgroundMusicId"`
	VoiceVolume       *int               `json:"voiceVolume"`
	MusicVolume       *int               `json:"musicVolume"`
	MusicFadeIn       float64            `json:"musicFadeIn"`
	MusicFadeOut      float64            `json:"musicFadeOut"`
}

func (w projectWire) toDomain(fallbackID domain.ProjectID) domain.Project {
	id := w.ID
	if id == "" {
		id = w.MongoID
	}
	if id == "" {
		id = fallbackID
	}
	p := domain.Project{
		ID:               id,
		Status:           w.Status,
		AudioPath:        w.AudioPath,
		AudioDuration:    w.AudioDuration,
		AspectRatio:      w.AspectRatio,
		Segments:         w.Segments,
		Subtitles:        w.Subtitles,
		SubtitleSettings: domain.DefaultSubtitleSettings(),
		MusicSettings:    domain.DefaultMusicSettings(),
		ThumbnailPath:    w.ThumbnailPath,
		ThumbnailPrompt:  w.ThumbnailPrompt,
		VideoPath:        w.VideoPath,
		CustomMusicPath:  w.CustomMusicPath,
	}
	if s := w.SubtitleSettings; s != nil {
		merged := *s
		def := domain.DefaultSubtitleSettings()
		if merged.FontSize <= 0 {
			merged.FontSize = def.FontSize
		}
		if strings.TrimSpace(merged.FontFamily) == "" {
			merged.FontFamily = def.FontFamily
		}
		if strings.TrimSpace(merged.Color) == "" {
			merged.Color = def.Color
		}
		p.SubtitleSettings = merged
	}
	if m := w.MusicSettings; m != nil {
		ms := domain.DefaultMusicSettings()
		if m.EnableMusic != nil {
			ms.EnableMusic = *m.EnableMusic
		}
		if m.MusicSource != "" {
			ms.MusicSource = m.MusicSource
		}
		ms.BackgroundMusicID = m.BackgroundMusicID
		if m.VoiceVolume != nil {
			ms.VoiceVolume = *m.VoiceVolume
		}
		if m.MusicVolume != nil {
			ms.MusicVolume = *m.MusicVolume
		}
		ms.MusicFadeIn = m.MusicFadeIn
		ms.MusicFadeOut = m.MusicFadeOut
		p.MusicSettings = ms
	}
	return p
}

func projectPath(id domain.ProjectID, rest ...string) string {
	b := strings.Builder{}
	b.WriteString("/projects/")
	b.WriteString(url.PathEscape(string(id)))
	for _, r := range rest {
		b.WriteByte('/')
		b.WriteString(r)
	}
	return b.String()
}

func (c *Client) projectCall(ctx context.Context, op, method string, id domain.ProjectID, path string, in any) (domain.Project, error) {
	var wire projectWire
	if err := c.doJSON(ctx, op, method, path, in, &wire); err != nil {
		return domain.Project{}, err
	}
	return wire.toDomain(id), nil
}

func (c *Client) CreateProject(ctx context.Context, script, aspectRatio string) (domain.CreateProjectResult, error) {
	body := map[string]string{"script": script}
	if ar := strings.TrimSpace(aspectRatio); ar != "" {
		body["aspectRatio"] = ar
	}
	var res domain.CreateProjectResult
	if err := c.doJSON(ctx, "create_project", http.MethodPost, "/scripts/process", body, &res); err != nil {
		return domain.CreateProjectResult{}, err
	}
	return res, nil
}

func (c *Client) GetProject(ctx context.Context, id domain.ProjectID) (domain.Project, error) {
	return c.projectCall(ctx, "get_project", http.MethodGet, id, projectPath(id), nil)
}

func (c *Client) RegenerateSegmentImage(ctx context.Context, id domain.ProjectID, segmentIndex int, prompt string) (domain.Project, error) {
	path := projectPath(id, "segment", fmt.Sprint(segmentIndex), "image")
	return c.projectCall(ctx, "regenerate_segment_image", http.MethodPut, id, path, map[string]string{"prompt": prompt})
}

func (c *Client) UploadSegmentImage(ctx context.Context, id domain.ProjectID, segmentIndex int, file ports.Upload) (domain.Project, error) {
	var wire projectWire
	path := projectPath(id, "segment", fmt.Sprint(segmentIndex), "image", "upload")
	if err := c.doUpload(ctx, "upload_segment_image", path, file, &wire); err != nil {
		return domain.Project{}, err
	}
	return wire.toDomain(id), nil
}

func (c *Client) UpdateSubtitles(ctx context.Context, id domain.ProjectID, subtitles []domain.Subtitle) (domain.Project, error) {
	if subtitles == nil {
		subtitles = []domain.Subtitle{}
	}
	body := map[string]any{"subtitles": subtitles}
	return c.projectCall(ctx, "update_subtitles", http.MethodPut, id, projectPath(id, "subtitles"), body)
}

func (c *Client) UpdateSubtitleSettings(ctx context.Context, id domain.ProjectID, settings domain.SubtitleSettings) (domain.Project, error) {
	return c.projectCall(ctx, "update_subtitle_settings", http.MethodPut, id, projectPath(id, "subtitle-settings"), settings)
}

func (c *Client) UpdateMusicSettings(ctx context.Context, id domain.ProjectID, settings domain.MusicSettings) (domain.Project, error) {
	return c.projectCall(ctx, "update_music_settings", http.MethodPut, id, projectPath(id, "music-settings"), settings)
}

func (c *Client) UploadProjectMusic(ctx context.Context, id domain.ProjectID, file ports.Upload) (string, error) {
	var res struct {
		CustomMusicPath string `json:"customMusicPath"`
	}
	if err := c.doUpload(ctx, "upload_project_music", projectPath(id, "music", "upload"), file, &res); err != nil {
		return "", err
	}
	if strings.TrimSpace(res.CustomMusicPath) == "" {
		return "", fmt.Errorf("upload_project_music: backend returned no customMusicPath")
	}
	return res.CustomMusicPath, nil
}

func (c *Client) RenderVideo(ctx context.Context, id domain.ProjectID, opts domain.RenderOptions) error {
	return c.doJSON(ctx, "render_video", http.MethodPost, projectPath(id, "render"), opts, nil)
}

func (c *Client) RegenerateThumbnail(ctx context.Context, id domain.ProjectID, prompt string) (domain.Project, error) {
	return c.projectCall(ctx, "regenerate_thumbnail", http.MethodPut, id, projectPath(id, "thumbnail"), map[string]string{"prompt": prompt})
}

func (c *Client) UploadThumbnail(ctx context.Context, id domain.ProjectID, file ports.Upload) (domain.Project, error) {
	var wire projectWire
	if err := c.doUpload(ctx, "upload_thumbnail", projectPath(id, "thumbnail", "upload"), file, &wire); err != nil {
		return domain.Project{}, err
	}
	return wire.toDomain(id), nil
}

var _ ports.ProjectAPI = (*Client)(nil)
