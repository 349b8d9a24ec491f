package media

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/purestory/whisper-service/internal/whisper"
)

// ProbeResult describes the audio stream found in an uploaded container
type ProbeResult struct {
	Duration float64 // container duration in seconds
	Codec    string  // audio codec name, e.g. "aac", "pcm_s16le"
	Format   string  // container format name(s) from the demuxer
}

// Prober validates uploaded containers with ffprobe
type Prober struct {
	ffprobePath string
}

// NewProber creates a prober using the given ffprobe binary ("ffprobe" when empty)
func NewProber(ffprobePath string) *Prober {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Prober{ffprobePath: ffprobePath}
}

// ffprobeOutput is the subset of `ffprobe -print_format json` we consume
type ffprobeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
	} `json:"streams"`
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
	} `json:"format"`
}

// Probe checks that the file contains a decodable audio stream and returns
// its metadata. Files ffprobe cannot parse, and containers without any audio
// stream, are rejected as invalid input.
func (p *Prober) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	cmd := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "error",
		"-show_streams",
		"-show_format",
		"-print_format", "json",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok {
			detail := strings.TrimSpace(string(ee.Stderr))
			return nil, whisper.NewError(whisper.KindInvalidInput, "file is not a decodable audio or video container: %s", detail)
		}
		return nil, fmt.Errorf("failed to run ffprobe: %w", err)
	}

	var parsed ffprobeOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	result := &ProbeResult{Format: parsed.Format.FormatName}
	if parsed.Format.Duration != "" {
		if d, err := strconv.ParseFloat(parsed.Format.Duration, 64); err == nil {
			result.Duration = d
		}
	}

	for _, s := range parsed.Streams {
		if s.CodecType == "audio" {
			result.Codec = s.CodecName
			return result, nil
		}
	}
	return nil, whisper.NewError(whisper.KindInvalidInput, "no audio stream found in uploaded file")
}
