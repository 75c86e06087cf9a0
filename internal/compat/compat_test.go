package compat

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/five82/splice/internal/errors"
	"github.com/five82/splice/internal/ffprobe"
)

func strPtr(s string) *string { return &s }

func params(codec string, w, h uint32, fps float64, audio string) *ffprobe.MediaParameters {
	p := &ffprobe.MediaParameters{Codec: codec, Width: w, Height: h, FrameRate: fps, Duration: 10}
	if audio != "" {
		p.AudioCodec = strPtr(audio)
	}
	return p
}

type fakeProber struct {
	results map[string]*ffprobe.MediaParameters
	calls   atomic.Int32
}

func (f *fakeProber) Probe(_ context.Context, path string) (*ffprobe.MediaParameters, error) {
	f.calls.Add(1)
	p, ok := f.results[path]
	if !ok {
		return nil, errors.NewProbeError(path, "no video stream found", nil)
	}
	return p, nil
}

func TestCheckSingleInputIsCompatible(t *testing.T) {
	v := Check([]*ffprobe.MediaParameters{params("h264", 1920, 1080, 30, "aac")})
	if !v.Compatible || len(v.Issues) != 0 {
		t.Errorf("single input verdict = %+v, want compatible", v)
	}
	if v.Issues == nil {
		t.Error("Issues should be an empty slice, not nil")
	}
}

func TestCheckIdenticalInputs(t *testing.T) {
	in := []*ffprobe.MediaParameters{
		params("h264", 1920, 1080, 30, "aac"),
		params("h264", 1920, 1080, 30, "aac"),
		params("h264", 1920, 1080, 30.005, "aac"),
	}
	if v := Check(in); !v.Compatible {
		t.Errorf("verdict = %+v, want compatible", v)
	}
}

func TestCheckSingleAxisMismatch(t *testing.T) {
	ref := params("h264", 1920, 1080, 30, "aac")

	tests := []struct {
		name  string
		other *ffprobe.MediaParameters
		want  string
	}{
		{"codec", params("hevc", 1920, 1080, 30, "aac"), "File 3: Codec mismatch (hevc vs h264)"},
		{"resolution", params("h264", 1280, 720, 30, "aac"), "File 3: Resolution mismatch (1280x720 vs 1920x1080)"},
		{"frame rate", params("h264", 1920, 1080, 25, "aac"), "File 3: Frame rate mismatch (25 vs 30)"},
		{"audio codec", params("h264", 1920, 1080, 30, "opus"), "File 3: Audio codec mismatch (opus vs aac)"},
		{"audio missing", params("h264", 1920, 1080, 30, ""), "File 3: Audio codec mismatch (none vs aac)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Check([]*ffprobe.MediaParameters{ref, ref, tt.other})
			if v.Compatible {
				t.Fatal("expected incompatible verdict")
			}
			if len(v.Issues) != 1 {
				t.Fatalf("got %d issues, want 1: %v", len(v.Issues), v.Issues)
			}
			if v.Issues[0] != tt.want {
				t.Errorf("issue = %q, want %q", v.Issues[0], tt.want)
			}
		})
	}
}

func TestCheckAllAxesReportedInOrder(t *testing.T) {
	v := Check([]*ffprobe.MediaParameters{
		params("h264", 1920, 1080, 30, "aac"),
		params("vp9", 640, 480, 24, ""),
	})

	want := []string{
		"File 2: Codec mismatch (vp9 vs h264)",
		"File 2: Resolution mismatch (640x480 vs 1920x1080)",
		"File 2: Frame rate mismatch (24 vs 30)",
		"File 2: Audio codec mismatch (none vs aac)",
	}
	if len(v.Issues) != len(want) {
		t.Fatalf("got %v, want %v", v.Issues, want)
	}
	for i := range want {
		if v.Issues[i] != want[i] {
			t.Errorf("Issues[%d] = %q, want %q", i, v.Issues[i], want[i])
		}
	}
}

func TestCheckFrameRateBoundary(t *testing.T) {
	ref := params("h264", 1920, 1080, 30, "aac")

	exact := Check([]*ffprobe.MediaParameters{ref, params("h264", 1920, 1080, 30.01, "aac")})
	if !exact.Compatible {
		t.Errorf("delta of exactly 0.01 should be compatible, got %v", exact.Issues)
	}

	over := Check([]*ffprobe.MediaParameters{ref, params("h264", 1920, 1080, 30.011, "aac")})
	if over.Compatible {
		t.Error("delta of 0.011 should be incompatible")
	}

	below := Check([]*ffprobe.MediaParameters{ref, params("h264", 1920, 1080, 29.99, "aac")})
	if !below.Compatible {
		t.Errorf("delta of -0.01 should be compatible, got %v", below.Issues)
	}
}

func TestCheckBothWithoutAudio(t *testing.T) {
	v := Check([]*ffprobe.MediaParameters{
		params("h264", 1920, 1080, 30, ""),
		params("h264", 1920, 1080, 30, ""),
	})
	if !v.Compatible {
		t.Errorf("two silent inputs should be compatible, got %v", v.Issues)
	}
}

func TestCheckFilesProbesEveryInput(t *testing.T) {
	prober := &fakeProber{results: map[string]*ffprobe.MediaParameters{
		"a.mp4": params("h264", 1920, 1080, 30, "aac"),
		"b.mp4": params("h264", 1920, 1080, 30, "aac"),
		"c.mp4": params("h264", 1280, 720, 30, "aac"),
	}}

	v, got, err := CheckFiles(context.Background(), prober, []string{"a.mp4", "b.mp4", "c.mp4"})
	if err != nil {
		t.Fatalf("CheckFiles() error = %v", err)
	}
	if prober.calls.Load() != 3 {
		t.Errorf("probe calls = %d, want 3", prober.calls.Load())
	}
	if len(got) != 3 || got[2].Width != 1280 {
		t.Errorf("results not in input order: %+v", got)
	}
	if v.Compatible || len(v.Issues) != 1 || !strings.HasPrefix(v.Issues[0], "File 3: Resolution") {
		t.Errorf("verdict = %+v", v)
	}
}

func TestCheckFilesProbeFailureDegrades(t *testing.T) {
	prober := &fakeProber{results: map[string]*ffprobe.MediaParameters{
		"a.mp4": params("h264", 1920, 1080, 30, "aac"),
	}}

	v, got, err := CheckFiles(context.Background(), prober, []string{"a.mp4", "song.mp3"})
	if err == nil || !errors.IsProbe(err) {
		t.Errorf("expected probe error to be reported, got %v", err)
	}
	if got != nil {
		t.Error("params should be nil on probe failure")
	}
	if v.Compatible {
		t.Error("probe failure must yield incompatible verdict")
	}
	if len(v.Issues) != 1 {
		t.Fatalf("expected single synthetic issue, got %v", v.Issues)
	}
	if !strings.HasPrefix(v.Issues[0], "Error validating files: ") || !strings.Contains(v.Issues[0], "song.mp3") {
		t.Errorf("issue = %q", v.Issues[0])
	}
}

func TestTotalDuration(t *testing.T) {
	a := params("h264", 1, 1, 30, "")
	b := params("h264", 1, 1, 30, "")
	b.Duration = 5.5

	total, ok := TotalDuration([]*ffprobe.MediaParameters{a, b})
	if !ok || total != 15.5 {
		t.Errorf("TotalDuration = %v, %v; want 15.5, true", total, ok)
	}

	b.Duration = 0
	if _, ok := TotalDuration([]*ffprobe.MediaParameters{a, b}); ok {
		t.Error("unknown duration should report ok=false")
	}
	if _, ok := TotalDuration(nil); ok {
		t.Error("empty list should report ok=false")
	}
}
