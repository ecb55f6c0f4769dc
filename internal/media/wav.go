package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// maxWAVDownload bounds how much of a remote WAV is buffered for decoding.
const maxWAVDownload = 256 << 20

// WAVProber decodes RIFF headers to compute the duration of WAV files
// without spawning ffprobe. Remote inputs are fetched with client.
type WAVProber struct {
	client *http.Client
}

func NewWAVProber(client *http.Client) *WAVProber {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &WAVProber{client: client}
}

func (p *WAVProber) ProbeDuration(ctx context.Context, input string) (float64, error) {
	src := strings.TrimSpace(input)
	if src == "" {
		return 0, errors.New("input is required")
	}

	var rs io.ReadSeeker
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		data, err := p.fetch(ctx, src)
		if err != nil {
			return 0, err
		}
		rs = bytes.NewReader(data)
	} else {
		f, err := os.Open(src)
		if err != nil {
			return 0, fmt.Errorf("open wav: %w", err)
		}
		defer f.Close()
		rs = f
	}
	return decodeWAVDuration(rs)
}

func (p *WAVProber) fetch(ctx context.Context, src string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch wav: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch wav: status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxWAVDownload))
}

func decodeWAVDuration(rs io.ReadSeeker) (float64, error) {
	decoder := wav.NewDecoder(rs)
	if !decoder.IsValidFile() {
		return 0, errors.New("not a valid WAV file")
	}
	d, err := decoder.Duration()
	if err == nil && d > 0 {
		return d.Seconds(), nil
	}
	// Some encoders leave the data chunk size unset; estimate from the
	// PCM chunk instead.
	if err := decoder.FwdToPCM(); err != nil {
		return 0, fmt.Errorf("wav pcm chunk: %w", err)
	}
	return pcmSeconds(decoder.Format(), int(decoder.BitDepth), decoder.PCMLen())
}

func pcmSeconds(format *audio.Format, bitDepth int, pcmBytes int64) (float64, error) {
	if format == nil || format.SampleRate <= 0 || format.NumChannels <= 0 || bitDepth <= 0 {
		return 0, errors.New("wav format incomplete")
	}
	frameBytes := int64(format.NumChannels * bitDepth / 8)
	if frameBytes <= 0 || pcmBytes <= 0 {
		return 0, errors.New("wav has no samples")
	}
	return float64(pcmBytes/frameBytes) / float64(format.SampleRate), nil
}
