package ffmpeg

import (
	"fmt"
	"strconv"
	"strings"
)

// Segment describes one re-encode input as far as it is known. A zero
// Width or Height means the resolution is unknown.
type Segment struct {
	Width    uint32
	Height   uint32
	HasAudio bool
	Duration float64
}

// Graph is a concat filter graph and its output labels.
type Graph struct {
	Filter     string
	VideoLabel string
	AudioLabel string
}

// silentAudio is substituted for inputs known to have no audio stream.
const silentAudio = "anullsrc=channel_layout=stereo:sample_rate=48000"

// FilterChain joins filters into a single chain.
type FilterChain struct {
	filters []string
}

// NewFilterChain creates a new empty filter chain.
func NewFilterChain() *FilterChain {
	return &FilterChain{}
}

// Add appends a filter. Empty filters are ignored.
func (c *FilterChain) Add(filter string) *FilterChain {
	if filter != "" {
		c.filters = append(c.filters, filter)
	}
	return c
}

// Build returns the comma-joined chain, or "" when empty.
func (c *FilterChain) Build() string {
	return strings.Join(c.filters, ",")
}

// BuildConcatGraph returns a graph that concatenates every input's video
// and audio in order: [0:v][0:a][1:v][1:a]...concat=n=N:v=1:a=1[outv][outa].
//
// The concat filter needs one resolution and sample aspect ratio across
// segments. When the first segment's resolution is known and another known
// segment differs, that segment is scaled and padded onto the first one's
// canvas. Every video segment, the first included, is then set to square
// pixels. Segments known to lack audio get a silent track of their
// duration. If no segment has audio the graph has video only.
func BuildConcatGraph(segments []Segment) Graph {
	n := len(segments)
	anyAudio := false
	for _, s := range segments {
		if s.HasAudio {
			anyAudio = true
			break
		}
	}

	var canvasW, canvasH uint32
	if n > 0 {
		canvasW, canvasH = segments[0].Width, segments[0].Height
	}

	var pre []string
	var pads strings.Builder
	for i, s := range segments {
		chain := NewFilterChain()
		if canvasW > 0 && canvasH > 0 && s.Width > 0 && s.Height > 0 &&
			(s.Width != canvasW || s.Height != canvasH) {
			chain.Add(fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease", canvasW, canvasH)).
				Add(fmt.Sprintf("pad=%d:%d:(ow-iw)/2:(oh-ih)/2", canvasW, canvasH))
		}
		chain.Add("setsar=1")
		vpad := fmt.Sprintf("[v%d]", i)
		pre = append(pre, fmt.Sprintf("[%d:v]%s%s", i, chain.Build(), vpad))
		pads.WriteString(vpad)

		if !anyAudio {
			continue
		}
		apad := fmt.Sprintf("[%d:a]", i)
		if !s.HasAudio && s.Duration > 0 {
			label := fmt.Sprintf("[a%d]", i)
			chain := NewFilterChain().
				Add(silentAudio).
				Add("atrim=duration=" + strconv.FormatFloat(s.Duration, 'f', -1, 64))
			pre = append(pre, chain.Build()+label)
			apad = label
		}
		pads.WriteString(apad)
	}

	g := Graph{VideoLabel: "[outv]"}
	audioCount := 0
	if anyAudio {
		audioCount = 1
		g.AudioLabel = "[outa]"
	}
	concat := fmt.Sprintf("%sconcat=n=%d:v=1:a=%d%s%s", pads.String(), n, audioCount, g.VideoLabel, g.AudioLabel)
	g.Filter = strings.Join(append(pre, concat), ";")
	return g
}
