package ffprobe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

var ErrNoAudio = errors.New("no audio stream")

type Prober struct {
	binary string
}

func New(binary string) *Prober {
	bin := strings.TrimSpace(binary)
	if bin == "" {
		bin = "ffprobe"
	}
	return &Prober{binary: bin}
}

// ProbeDuration returns the length in seconds of the first audio stream of
// input, which may be a local path or an http(s) URL.
func (p *Prober) ProbeDuration(ctx context.Context, input string) (float64, error) {
	src := strings.TrimSpace(input)
	if src == "" {
		return 0, errors.New("input is required")
	}
	return p.runProbe(ctx, []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		"-show_format",
		src,
	})
}

const maxProbeTimeout = 30 * time.Second

func (p *Prober) runProbe(ctx context.Context, args []string) (float64, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, maxProbeTimeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, p.binary, args...)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if runErr := cmd.Run(); runErr != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return 0, fmt.Errorf("ffprobe failed: %w", runErr)
		}
		return 0, fmt.Errorf("ffprobe failed: %w: %s", runErr, msg)
	}

	duration, err := parseProbeOutput(stdout.Bytes())
	if err != nil {
		return 0, fmt.Errorf("ffprobe output parse failed: %w", err)
	}
	return duration, nil
}

type probePayload struct {
	Streams []probeStream `json:"streams"`
	Format  probeFormat   `json:"format"`
}

type probeStream struct {
	CodecType string `json:"codec_type"`
	Duration  string `json:"duration"`
}

type probeFormat struct {
	Duration string `json:"duration"`
}

// parseProbeOutput prefers the audio stream's own duration and falls back
// to the container duration.
func parseProbeOutput(data []byte) (float64, error) {
	var payload probePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return 0, err
	}

	hasAudio := false
	for _, stream := range payload.Streams {
		if stream.CodecType != "audio" {
			continue
		}
		hasAudio = true
		if d := parseSeconds(stream.Duration); d > 0 {
			return d, nil
		}
	}
	if !hasAudio {
		return 0, ErrNoAudio
	}
	if d := parseSeconds(payload.Format.Duration); d > 0 {
		return d, nil
	}
	return 0, errors.New("duration not reported")
}

func parseSeconds(raw string) float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	d, err := strconv.ParseFloat(raw, 64)
	if err != nil || d <= 0 {
		return 0
	}
	return d
}
