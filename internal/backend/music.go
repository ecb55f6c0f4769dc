package backend

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"clipstudio/internal/domain"
	"clipstudio/internal/domain/ports"
)

const musicCacheKey = "clipstudio:music:library"

func (c *Client) GetMusicLibrary(ctx context.Context) ([]domain.Music, error) {
	var tracks []domain.Music
	if err := c.doJSON(ctx, "get_music_library", http.MethodGet, "/music", nil, &tracks); err != nil {
		return nil, err
	}
	if tracks == nil {
		tracks = []domain.Music{}
	}
	return tracks, nil
}

// CachedMusicLibrary keeps the music library in Redis. Cache failures are
// logged and fall through to the backend.
type CachedMusicLibrary struct {
	next   ports.MusicLibrary
	redis  *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewCachedMusicLibrary(next ports.MusicLibrary, client *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedMusicLibrary {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedMusicLibrary{next: next, redis: client, ttl: ttl, logger: logger}
}

func (l *CachedMusicLibrary) GetMusicLibrary(ctx context.Context) ([]domain.Music, error) {
	if l.redis != nil {
		data, err := l.redis.Get(ctx, musicCacheKey).Bytes()
		switch {
		case err == nil:
			var tracks []domain.Music
			if json.Unmarshal(data, &tracks) == nil {
				return tracks, nil
			}
		case err != redis.Nil:
			l.logger.Warn("music cache read failed", slog.String("error", err.Error()))
		}
	}

	tracks, err := l.next.GetMusicLibrary(ctx)
	if err != nil {
		return nil, err
	}

	if l.redis != nil {
		if data, err := json.Marshal(tracks); err == nil {
			if err := l.redis.Set(ctx, musicCacheKey, data, l.ttl).Err(); err != nil {
				l.logger.Warn("music cache write failed", slog.String("error", err.Error()))
			}
		}
	}
	return tracks, nil
}

// Invalidate drops the cached library.
func (l *CachedMusicLibrary) Invalidate(ctx context.Context) error {
	if l.redis == nil {
		return nil
	}
	return l.redis.Del(ctx, musicCacheKey).Err()
}

var _ ports.MusicLibrary = (*CachedMusicLibrary)(nil)
