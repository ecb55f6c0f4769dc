package ports

import (
	"context"
	"io"

	"clipstudio/internal/domain"
)

// Upload is a file handed to the backend as multipart form data.
type Upload struct {
	Filename string
	Body     io.Reader
}

type ProjectAPI interface {
	CreateProject(ctx context.Context, script, aspectRatio string) (domain.CreateProjectResult, error)
	GetProject(ctx context.Context, id domain.ProjectID) (domain.Project, error)
	RegenerateSegmentImage(ctx context.Context, id domain.ProjectID, segmentIndex int, prompt string) (domain.Project, error)
	UploadSegmentImage(ctx context.Context, id domain.ProjectID, segmentIndex int, file Upload) (domain.Project, error)
	UpdateSubtitles(ctx context.Context, id domain.ProjectID, subtitles []domain.Subtitle) (domain.Project, error)
	UpdateSubtitleSettings(ctx context.Context, id domain.ProjectID, settings domain.SubtitleSettings) (domain.Project, error)
	UpdateMusicSettings(ctx context.Context, id domain.ProjectID, settings domain.MusicSettings) (domain.Project, error)
	UploadProjectMusic(ctx context.Context, id domain.ProjectID, file Upload) (string, error)
	RenderVideo(ctx context.Context, id domain.ProjectID, opts domain.RenderOptions) error
	RegenerateThumbnail(ctx context.Context, id domain.ProjectID, prompt string) (domain.Project, error)
	UploadThumbnail(ctx context.Context, id domain.ProjectID, file Upload) (domain.Project, error)
}

type MusicLibrary interface {
	GetMusicLibrary(ctx context.Context) ([]domain.Music, error)
}

// EventSource is the per-project push channel. Subscribe returns a channel
// that is closed when the subscription ends, either because ctx was
// cancelled or because the connection dropped.
type EventSource interface {
	Subscribe(ctx context.Context, id domain.ProjectID) (<-chan domain.ProjectEvent, error)
}
