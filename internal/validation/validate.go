package validation

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/five82/splice/internal/ffprobe"
)

const (
	// durationToleranceSecs is the allowed difference between the output
	// duration and the summed input durations.
	durationToleranceSecs = 1.0
	// perInputToleranceSecs widens the tolerance for every join point, where
	// container timestamps may be rounded.
	perInputToleranceSecs = 0.1
)

// Options contains the expectations for an output. Nil or empty fields
// skip the corresponding check.
type Options struct {
	ExpectedCodec      string
	ExpectedDimensions *[2]uint32
	ExpectedDuration   *float64
	ExpectAudio        bool
	InputCount         int
}

// ExpectationsFor derives the expected output of a job from its probed
// inputs. A stream copy keeps the first input's codec; a re-encode produces
// the codec of encoder. Both keep the first input's canvas. params may be
// nil when probing failed.
func ExpectationsFor(params []*ffprobe.MediaParameters, reencode bool, encoder string) Options {
	opts := Options{InputCount: len(params)}
	if reencode {
		opts.ExpectedCodec = CodecForEncoder(encoder)
	}
	if len(params) == 0 {
		return opts
	}

	ref := params[0]
	if !reencode {
		opts.ExpectedCodec = ref.Codec
	}
	opts.ExpectedDimensions = &[2]uint32{ref.Width, ref.Height}

	var total float64
	known := true
	for _, p := range params {
		if p.Duration <= 0 {
			known = false
		}
		total += p.Duration
		if p.HasAudio() {
			opts.ExpectAudio = true
		}
	}
	if known {
		opts.ExpectedDuration = &total
	}
	return opts
}

// CodecForEncoder maps an ffmpeg encoder name to the codec name ffprobe
// reports for its output.
func CodecForEncoder(encoder string) string {
	switch strings.ToLower(encoder) {
	case "libx264", "h264_nvenc", "h264_qsv", "h264_videotoolbox":
		return "h264"
	case "libx265", "hevc_nvenc", "hevc_qsv", "hevc_videotoolbox":
		return "hevc"
	case "libsvtav1", "libaom-av1", "librav1e":
		return "av1"
	case "libvpx-vp9":
		return "vp9"
	default:
		return strings.TrimPrefix(strings.ToLower(encoder), "lib")
	}
}

// Validate probes output and compares it with opts.
func Validate(ctx context.Context, prober ffprobe.Prober, output string, opts Options) (*Result, error) {
	props, err := prober.Probe(ctx, output)
	if err != nil {
		return nil, fmt.Errorf("failed to probe output: %w", err)
	}
	return Compare(props, opts), nil
}

// Compare checks probed output parameters against opts.
func Compare(props *ffprobe.MediaParameters, opts Options) *Result {
	result := &Result{
		IsCodecCorrect: true,
		CodecName:      props.Codec,
		ExpectedCodec:  opts.ExpectedCodec,
		ActualDuration: props.Duration,
	}

	if opts.ExpectedCodec != "" {
		result.IsCodecCorrect = strings.EqualFold(props.Codec, opts.ExpectedCodec)
	}

	if opts.ExpectedDimensions != nil {
		result.ActualDimensions = &[2]uint32{props.Width, props.Height}
		result.ExpectedDimensions = opts.ExpectedDimensions
		result.IsDimensionsCorrect, result.DimensionsMessage = validateDimensions(
			props.Width, props.Height,
			opts.ExpectedDimensions[0], opts.ExpectedDimensions[1],
		)
	} else {
		result.IsDimensionsCorrect = true
		result.DimensionsMessage = "Dimension validation skipped"
	}

	if opts.ExpectedDuration != nil {
		result.ExpectedDuration = opts.ExpectedDuration
		tolerance := durationToleranceSecs + perInputToleranceSecs*float64(max(opts.InputCount-1, 0))
		result.IsDurationCorrect, result.DurationMessage = validateDuration(props.Duration, *opts.ExpectedDuration, tolerance)
	} else {
		result.IsDurationCorrect = true
		result.DurationMessage = "Duration validation skipped"
	}

	result.IsAudioCorrect, result.AudioMessage = validateAudio(props, opts.ExpectAudio)
	return result
}

// validateDimensions checks that dimensions match expected values.
func validateDimensions(actualW, actualH, expectedW, expectedH uint32) (bool, string) {
	if actualW == expectedW && actualH == expectedH {
		return true, fmt.Sprintf("Dimensions match: %dx%d", actualW, actualH)
	}
	return false, fmt.Sprintf("Dimension mismatch: got %dx%d, expected %dx%d",
		actualW, actualH, expectedW, expectedH)
}

// validateDuration checks that duration is within tolerance.
func validateDuration(actual, expected, tolerance float64) (bool, string) {
	diff := math.Abs(actual - expected)
	if diff <= tolerance {
		return true, fmt.Sprintf("Duration matches inputs (%.1fs)", actual)
	}
	return false, fmt.Sprintf("Duration mismatch: got %.1fs, expected %.1fs (diff: %.1fs)",
		actual, expected, diff)
}

func validateAudio(props *ffprobe.MediaParameters, expectAudio bool) (bool, string) {
	switch {
	case props.HasAudio():
		return true, fmt.Sprintf("Audio track is %s", props.AudioCodecName())
	case expectAudio:
		return false, "No audio track, expected one"
	default:
		return true, "No audio tracks"
	}
}
