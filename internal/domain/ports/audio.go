package ports

import "context"

// Track is one exclusively owned audio playback resource.
type Track interface {
	Play() error
	Pause()
	// Position is the playback position in seconds.
	Position() float64
	Seek(seconds float64)
	// SetVolume takes a gain in [0,1].
	SetVolume(gain float64)
	Ended() bool
	Close() error
}

type TrackOpener interface {
	Open(ctx context.Context, url string, loop bool) (Track, error)
}
