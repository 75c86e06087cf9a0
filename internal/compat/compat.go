// Package compat decides whether a list of inputs can be merged by stream
// copy. Every input is compared against the first one (the reference).
package compat

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"

	"github.com/five82/splice/internal/ffprobe"
)

// FrameRateTolerance is the largest frame rate difference treated as equal.
const FrameRateTolerance = 0.01

// Verdict is the result of a compatibility check. Compatible is true iff
// Issues is empty.
type Verdict struct {
	Compatible bool     `json:"compatible"`
	Issues     []string `json:"issues"`
}

func newVerdict(issues []string) Verdict {
	if issues == nil {
		issues = []string{}
	}
	return Verdict{Compatible: len(issues) == 0, Issues: issues}
}

// Check compares every element after the first against the first on codec,
// resolution, frame rate and audio codec, in that order. All four axes are
// checked for every file. A list of zero or one element is compatible.
func Check(params []*ffprobe.MediaParameters) Verdict {
	if len(params) < 2 {
		return newVerdict(nil)
	}

	ref := params[0]
	var issues []string
	for i := 1; i < len(params); i++ {
		cur := params[i]
		n := i + 1

		if cur.Codec != ref.Codec {
			issues = append(issues, fmt.Sprintf("File %d: Codec mismatch (%s vs %s)", n, cur.Codec, ref.Codec))
		}
		if cur.Width != ref.Width || cur.Height != ref.Height {
			issues = append(issues, fmt.Sprintf("File %d: Resolution mismatch (%dx%d vs %dx%d)",
				n, cur.Width, cur.Height, ref.Width, ref.Height))
		}
		if frameRateDiffers(cur.FrameRate, ref.FrameRate) {
			issues = append(issues, fmt.Sprintf("File %d: Frame rate mismatch (%s vs %s)",
				n, formatRate(cur.FrameRate), formatRate(ref.FrameRate)))
		}
		if !sameAudioCodec(cur, ref) {
			issues = append(issues, fmt.Sprintf("File %d: Audio codec mismatch (%s vs %s)",
				n, cur.AudioCodecName(), ref.AudioCodecName()))
		}
	}
	return newVerdict(issues)
}

// frameRateDiffers reports |a-b| > FrameRateTolerance. The difference is
// rounded to 1e-9 first so that a decimal delta of exactly 0.01 is not
// pushed over the threshold by binary float error.
func frameRateDiffers(a, b float64) bool {
	d := math.Round(math.Abs(a-b)*1e9) / 1e9
	return d > FrameRateTolerance
}

func sameAudioCodec(a, b *ffprobe.MediaParameters) bool {
	if a.AudioCodec == nil || b.AudioCodec == nil {
		return a.AudioCodec == nil && b.AudioCodec == nil
	}
	return *a.AudioCodec == *b.AudioCodec
}

func formatRate(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// ProbeAll probes every path concurrently and returns results in input
// order. If any probe fails, the error for the lowest failing index is
// returned.
func ProbeAll(ctx context.Context, prober ffprobe.Prober, paths []string) ([]*ffprobe.MediaParameters, error) {
	results := make([]*ffprobe.MediaParameters, len(paths))
	errs := make([]error, len(paths))

	var wg sync.WaitGroup
	for i, path := range paths {
		wg.Add(1)
		go func(i int, path string) {
			defer wg.Done()
			results[i], errs[i] = prober.Probe(ctx, path)
		}(i, path)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}

// CheckFiles probes paths and checks the results. A probe failure never
// returns an error: it yields an incompatible verdict with a single issue
// describing the failure, which routes the job to re-encoding. The probe
// error is also returned separately so callers can log or count it.
func CheckFiles(ctx context.Context, prober ffprobe.Prober, paths []string) (Verdict, []*ffprobe.MediaParameters, error) {
	params, err := ProbeAll(ctx, prober, paths)
	if err != nil {
		return newVerdict([]string{fmt.Sprintf("Error validating files: %v", err)}), nil, err
	}
	return Check(params), params, nil
}

// TotalDuration sums input durations. ok is false if any duration is unknown.
func TotalDuration(params []*ffprobe.MediaParameters) (total float64, ok bool) {
	if len(params) == 0 {
		return 0, false
	}
	for _, p := range params {
		if p == nil || p.Duration <= 0 {
			return 0, false
		}
		total += p.Duration
	}
	return total, true
}
