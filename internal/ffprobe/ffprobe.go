// Package ffprobe extracts per-file media parameters using ffprobe.
package ffprobe

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/five82/splice/internal/errors"
)

// UnknownCodec is reported when a video stream declares no codec name.
const UnknownCodec = "unknown"

// MediaParameters describes one input file. Optional fields are nil when the
// container does not declare them; audio fields are nil when there is no
// audio stream.
type MediaParameters struct {
	Codec           string
	Profile         *string
	Width           uint32
	Height          uint32
	FrameRate       float64
	PixelFormat     *string
	AudioCodec      *string
	AudioSampleRate *uint32
	AudioChannels   *uint32
	Bitrate         *uint64
	Duration        float64
}

// HasAudio reports whether an audio stream was found.
func (m *MediaParameters) HasAudio() bool {
	return m.AudioCodec != nil
}

// AudioCodecName returns the audio codec, or "none" when absent.
func (m *MediaParameters) AudioCodecName() string {
	if m.AudioCodec == nil {
		return "none"
	}
	return *m.AudioCodec
}

// Prober reads media parameters for a file.
type Prober interface {
	Probe(ctx context.Context, path string) (*MediaParameters, error)
}

// CLIProber runs the ffprobe binary.
type CLIProber struct {
	// Path is the ffprobe binary. Empty means "ffprobe" on PATH.
	Path string
	// Timeout bounds a single probe. Zero means no extra bound.
	Timeout time.Duration
}

// NewCLIProber creates a prober for the given binary.
func NewCLIProber(path string, timeout time.Duration) *CLIProber {
	return &CLIProber{Path: path, Timeout: timeout}
}

// Probe runs ffprobe against path. Every failure is returned as a
// KindProbe error naming the file.
func (p *CLIProber) Probe(ctx context.Context, path string) (*MediaParameters, error) {
	bin := p.Path
	if bin == "" {
		bin = "ffprobe"
	}
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, bin,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	output, err := cmd.Output()
	if err != nil {
		return nil, errors.NewProbeError(path, "cannot open file",
			errors.WrapExecError(bin, err, strings.TrimSpace(stderr.String())))
	}

	return ParseParameters(path, output)
}

// ffprobeOutput represents the JSON output from ffprobe.
type ffprobeOutput struct {
	Format  ffprobeFormat   `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeFormat struct {
	Duration string `json:"duration"`
	BitRate  string `json:"bit_rate"`
}

type ffprobeStream struct {
	Index      int    `json:"index"`
	CodecType  string `json:"codec_type"`
	CodecName  string `json:"codec_name"`
	Profile    string `json:"profile"`
	Width      int64  `json:"width"`
	Height     int64  `json:"height"`
	RFrameRate string `json:"r_frame_rate"`
	PixFmt     string `json:"pix_fmt"`
	BitRate    string `json:"bit_rate"`
	SampleRate string `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

// parseFFprobeOutput decodes raw ffprobe JSON.
func parseFFprobeOutput(data []byte) (*ffprobeOutput, error) {
	var result ffprobeOutput
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, errors.NewJSONParseError("failed to parse ffprobe output", err)
	}
	return &result, nil
}

// ParseParameters converts raw ffprobe JSON for path into MediaParameters.
// Exported for callers that obtain ffprobe output some other way.
func ParseParameters(path string, data []byte) (*MediaParameters, error) {
	probe, err := parseFFprobeOutput(data)
	if err != nil {
		return nil, errors.NewProbeError(path, "unreadable probe output", err)
	}
	params, err := extractMediaParameters(probe)
	if err != nil {
		return nil, errors.NewProbeError(path, err.Error(), nil)
	}
	return params, nil
}

type noVideoError struct{}

func (noVideoError) Error() string { return "no video stream found" }

// extractMediaParameters applies the stream selection rules: the first
// video stream in declared order, and the first audio stream if any.
func extractMediaParameters(probe *ffprobeOutput) (*MediaParameters, error) {
	var video, audio *ffprobeStream
	for i := range probe.Streams {
		s := &probe.Streams[i]
		switch s.CodecType {
		case "video":
			if video == nil {
				video = s
			}
		case "audio":
			if audio == nil {
				audio = s
			}
		}
	}
	if video == nil {
		return nil, noVideoError{}
	}

	codec := video.CodecName
	if codec == "" {
		codec = UnknownCodec
	}

	params := &MediaParameters{
		Codec:       codec,
		Profile:     optString(video.Profile),
		Width:       clampDimension(video.Width),
		Height:      clampDimension(video.Height),
		FrameRate:   ParseFrameRate(video.RFrameRate),
		PixelFormat: optString(video.PixFmt),
		Bitrate:     optUint64(video.BitRate),
	}

	if d, err := strconv.ParseFloat(probe.Format.Duration, 64); err == nil && d > 0 {
		params.Duration = d
	}

	if audio != nil {
		name := audio.CodecName
		if name == "" {
			name = UnknownCodec
		}
		params.AudioCodec = &name
		if sr, err := strconv.ParseUint(audio.SampleRate, 10, 32); err == nil {
			v := uint32(sr)
			params.AudioSampleRate = &v
		}
		if audio.Channels > 0 {
			v := uint32(audio.Channels)
			params.AudioChannels = &v
		}
	}

	return params, nil
}

// ParseFrameRate parses a rational "num/den" (or plain decimal) frame rate.
// A zero denominator or unparsable value yields 0.
func ParseFrameRate(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	if num, den, ok := strings.Cut(s, "/"); ok {
		n, err := strconv.ParseFloat(num, 64)
		if err != nil {
			return 0
		}
		d, err := strconv.ParseFloat(den, 64)
		if err != nil || d == 0 {
			return 0
		}
		return n / d
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func optUint64(s string) *uint64 {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return nil
	}
	return &v
}

func clampDimension(v int64) uint32 {
	if v <= 0 {
		return 0
	}
	return uint32(v)
}
