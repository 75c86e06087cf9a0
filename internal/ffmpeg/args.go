// Package ffmpeg builds and runs ffmpeg invocations for concatenation.
package ffmpeg

import (
	"fmt"
	"strconv"
)

// EncodePreset is the fixed quality preset for the re-encode path. Output
// parameters come from here, never from the inputs.
type EncodePreset struct {
	VideoCodec   string
	VideoPreset  string
	CRF          uint8
	AudioCodec   string
	AudioBitrate string
}

// ArgsBuilder assembles an ffmpeg argument list with method chaining.
type ArgsBuilder struct {
	global []string
	inputs []string
	filter string
	output []string
}

// NewArgsBuilder creates a builder with the flags every invocation uses.
func NewArgsBuilder() *ArgsBuilder {
	return &ArgsBuilder{
		global: []string{"-hide_banner", "-nostdin", "-y"},
	}
}

// Input adds an input with options placed before its -i.
func (b *ArgsBuilder) Input(path string, opts ...string) *ArgsBuilder {
	b.inputs = append(b.inputs, opts...)
	b.inputs = append(b.inputs, "-i", path)
	return b
}

// FilterComplex sets the -filter_complex graph.
func (b *ArgsBuilder) FilterComplex(graph string) *ArgsBuilder {
	b.filter = graph
	return b
}

// Map adds a -map for a stream specifier or graph label.
func (b *ArgsBuilder) Map(spec string) *ArgsBuilder {
	b.output = append(b.output, "-map", spec)
	return b
}

// OutputOption adds a key/value option applied to the output.
func (b *ArgsBuilder) OutputOption(key, value string) *ArgsBuilder {
	b.output = append(b.output, key, value)
	return b
}

// Build returns the final argument list ending with dest.
func (b *ArgsBuilder) Build(dest string) []string {
	args := make([]string, 0, len(b.global)+len(b.inputs)+len(b.output)+3)
	args = append(args, b.global...)
	args = append(args, b.inputs...)
	if b.filter != "" {
		args = append(args, "-filter_complex", b.filter)
	}
	args = append(args, b.output...)
	return append(args, dest)
}

// StreamCopyArgs returns arguments that read manifest through the concat
// demuxer and copy every stream without re-encoding.
func StreamCopyArgs(manifest, output string) []string {
	return NewArgsBuilder().
		Input(manifest, "-f", "concat", "-safe", "0").
		OutputOption("-c", "copy").
		Build(output)
}

// ReencodeArgs returns arguments that feed every input to graph and encode
// the labelled outputs with preset.
func ReencodeArgs(inputs []string, graph Graph, output string, preset EncodePreset) []string {
	b := NewArgsBuilder()
	for _, in := range inputs {
		b.Input(in)
	}
	b.FilterComplex(graph.Filter).Map(graph.VideoLabel)
	if graph.AudioLabel != "" {
		b.Map(graph.AudioLabel)
	}
	b.OutputOption("-c:v", preset.VideoCodec).
		OutputOption("-preset", preset.VideoPreset).
		OutputOption("-crf", strconv.Itoa(int(preset.CRF)))
	if graph.AudioLabel != "" {
		b.OutputOption("-c:a", preset.AudioCodec).
			OutputOption("-b:a", preset.AudioBitrate)
	}
	return b.Build(output)
}

// String renders the preset for logs.
func (p EncodePreset) String() string {
	return fmt.Sprintf("%s preset=%s crf=%d, %s %s", p.VideoCodec, p.VideoPreset, p.CRF, p.AudioCodec, p.AudioBitrate)
}
