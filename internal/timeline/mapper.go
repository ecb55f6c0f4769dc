// Package timeline maps a playback position onto the visual state of a
// project preview. Everything here is pure so it can be called freely while
// scrubbing.
package timeline

import (
	"math"
	"math/rand/v2"

	"clipstudio/internal/domain"
)

type Position struct {
	SegmentIndex int
	SubtitleText string
}

// Map returns the active segment and subtitle for time t.
func Map(t float64, p domain.Project) Position {
	return Position{
		SegmentIndex: SegmentIndex(t, p),
		SubtitleText: SubtitleAt(t, p.Subtitles),
	}
}

// SliceDuration is the length of one segment's window. Segments split the
// narration into equal slices regardless of their content.
func SliceDuration(p domain.Project) float64 {
	n := len(p.Segments)
	if n == 0 {
		return 0
	}
	return p.Duration() / float64(n)
}

// SegmentIndex returns the segment active at t, clamped to the valid range,
// or -1 when the project has no segments.
func SegmentIndex(t float64, p domain.Project) int {
	n := len(p.Segments)
	if n == 0 {
		return -1
	}
	slice := SliceDuration(p)
	if math.IsNaN(t) || t <= 0 {
		return 0
	}
	if t >= slice*float64(n) {
		return n - 1
	}
	idx := int(math.Floor(t / slice))
	if idx < 0 {
		return 0
	}
	if idx > n-1 {
		return n - 1
	}
	return idx
}

// SubtitleAt returns the text of the first subtitle, in sequence order,
// whose closed interval contains t.
func SubtitleAt(t float64, subs []domain.Subtitle) string {
	for _, s := range subs {
		if s.Contains(t) {
			return s.Text
		}
	}
	return ""
}

// SegmentWindow returns the [start, end) time range of segment i.
func SegmentWindow(p domain.Project, i int) (float64, float64) {
	slice := SliceDuration(p)
	return float64(i) * slice, float64(i+1) * slice
}

// SegmentSubtitles returns the subtitles that start inside segment i's window.
func SegmentSubtitles(p domain.Project, i int) []domain.Subtitle {
	if i < 0 || i >= len(p.Segments) {
		return nil
	}
	start, end := SegmentWindow(p, i)
	last := i == len(p.Segments)-1
	var out []domain.Subtitle
	for _, s := range p.Subtitles {
		if s.Start >= start && (s.Start < end || last) {
			out = append(out, s)
		}
	}
	return out
}

// AssignEffects draws one transition effect per segment. Callers seed rng
// once per project load so the assignment is stable for that load.
func AssignEffects(n int, rng *rand.Rand) []domain.Effect {
	if n <= 0 {
		return nil
	}
	out := make([]domain.Effect, n)
	for i := range out {
		out[i] = domain.Effects[rng.IntN(len(domain.Effects))]
	}
	return out
}

// EffectAt returns effects[i] or the first effect when i is out of range.
func EffectAt(effects []domain.Effect, i int) domain.Effect {
	if i < 0 || i >= len(effects) {
		return domain.Effects[0]
	}
	return effects[i]
}
