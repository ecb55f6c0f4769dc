package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DurationProber reports the playable length of an audio resource in seconds.
type DurationProber interface {
	ProbeDuration(ctx context.Context, input string) (float64, error)
}

var ErrProbe = errors.New("duration probe failed")

const (
	defaultProbeCacheSize = 128
	defaultProbeCacheTTL  = 10 * time.Minute
)

type probeEntry struct {
	seconds  float64
	storedAt time.Time
}

// CachedProber routes WAV inputs to a dedicated decoder and everything else
// to a fallback prober. Results are kept in an LRU for ttl.
type CachedProber struct {
	wav      DurationProber
	fallback DurationProber
	cache    *lru.Cache[string, probeEntry]
	ttl      time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

func NewCachedProber(wav, fallback DurationProber, size int, ttl time.Duration, logger *slog.Logger) *CachedProber {
	if size <= 0 {
		size = defaultProbeCacheSize
	}
	if ttl <= 0 {
		ttl = defaultProbeCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	// lru.New only errors on non-positive size which is guarded above.
	cache, _ := lru.New[string, probeEntry](size)
	return &CachedProber{
		wav:      wav,
		fallback: fallback,
		cache:    cache,
		ttl:      ttl,
		now:      time.Now,
		logger:   logger,
	}
}

func (p *CachedProber) ProbeDuration(ctx context.Context, input string) (float64, error) {
	key := strings.TrimSpace(input)
	if key == "" {
		return 0, fmt.Errorf("%w: input is required", ErrProbe)
	}
	if entry, ok := p.cache.Get(key); ok {
		if p.now().Sub(entry.storedAt) < p.ttl {
			return entry.seconds, nil
		}
		p.cache.Remove(key)
	}

	prober := p.fallback
	if p.wav != nil && isWAV(key) {
		prober = p.wav
	}
	if prober == nil {
		return 0, fmt.Errorf("%w: no prober for %s", ErrProbe, key)
	}

	seconds, err := prober.ProbeDuration(ctx, key)
	if err != nil && prober == p.wav && p.fallback != nil {
		p.logger.Debug("wav probe failed, falling back",
			slog.String("input", key),
			slog.String("error", err.Error()),
		)
		seconds, err = p.fallback.ProbeDuration(ctx, key)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrProbe, err)
	}
	p.cache.Add(key, probeEntry{seconds: seconds, storedAt: p.now()})
	return seconds, nil
}

func isWAV(input string) bool {
	name := input
	if u, err := url.Parse(input); err == nil && u.Path != "" {
		name = u.Path
	}
	return strings.EqualFold(path.Ext(name), ".wav")
}
