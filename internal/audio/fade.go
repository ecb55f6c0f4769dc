package audio

// FadeMultiplier returns the background-music gain multiplier at time t for
// a track of length duration. The fade-in window is checked first; when the
// two windows overlap the fade-in wins inside its own window and the tail
// falls through to the fade-out branch unchanged.
func FadeMultiplier(t, duration, fadeIn, fadeOut float64) float64 {
	var m float64
	switch {
	case fadeIn > 0 && t < fadeIn:
		m = t / fadeIn
	case fadeOut > 0 && duration > 0 && t > duration-fadeOut:
		m = 1 - (t-(duration-fadeOut))/fadeOut
	default:
		m = 1
	}
	return clamp01(m)
}

func clamp01(v float64) float64 {
	if v != v || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func percentToGain(v int) float64 {
	return clamp01(float64(v) / 100)
}
