package executor

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/five82/splice/internal/errors"
	"github.com/five82/splice/internal/ffmpeg"
	"github.com/five82/splice/internal/ffprobe"
	"github.com/five82/splice/internal/progress"
)

type nativeFixture struct {
	exec    *Native
	runner  *fakeRunner
	prober  *fakeProber
	tracker *progress.Tracker
	rec     *recorder
	dir     string
}

func newNativeFixture(t *testing.T) *nativeFixture {
	t.Helper()
	tr, rec := newTestTracker()
	f := &nativeFixture{
		runner:  newFakeRunner(),
		prober:  &fakeProber{results: map[string]*ffprobe.MediaParameters{}},
		tracker: tr,
		rec:     rec,
		dir:     t.TempDir(),
	}
	f.exec = NewNative(testConfig(t),
		WithRunner(f.runner),
		WithProber(f.prober),
		WithTracker(tr),
		quietLogger(),
	)
	return f
}

// inputs registers probe results for names under the fixture directory.
func (f *nativeFixture) inputs(params map[string]*ffprobe.MediaParameters, names ...string) []string {
	paths := make([]string, len(names))
	for i, n := range names {
		paths[i] = filepath.Join(f.dir, n)
		if p, ok := params[n]; ok {
			f.prober.results[paths[i]] = p
		}
	}
	return paths
}

func assertMonotonic(t *testing.T, snaps []progress.Snapshot) {
	t.Helper()
	var last uint8
	for i, s := range snaps {
		if s.Phase.IsReset() {
			last = s.Percent
			continue
		}
		if s.Percent < last {
			t.Errorf("snapshot %d (%s %q) percent %d < previous %d", i, s.Phase, s.Message, s.Percent, last)
		}
		last = s.Percent
	}
}

func TestNativeStreamCopyThreeInputs(t *testing.T) {
	f := newNativeFixture(t)
	same := mediaParams("h264", 1920, 1080, "aac", 10)
	in := f.inputs(map[string]*ffprobe.MediaParameters{"a.mp4": same, "b.mp4": same, "c.mp4": same},
		"a.mp4", "b.mp4", "c.mp4")
	f.runner.progress = []ffmpeg.Progress{
		{ElapsedSecs: 6, Speed: 3, Percent: 20},
		{ElapsedSecs: 15, Speed: 3, Percent: 50},
		{ElapsedSecs: 30, Speed: 3, Percent: 100},
	}
	out := filepath.Join(f.dir, "joined.mp4")

	if err := f.exec.Concatenate(context.Background(), in, out); err != nil {
		t.Fatalf("Concatenate() error = %v", err)
	}

	call := f.runner.lastCall(t)
	if argValue(call.Args, "-c") != "copy" {
		t.Errorf("expected stream copy args, got %v", call.Args)
	}
	if call.Args[len(call.Args)-1] != out {
		t.Errorf("output = %s, want %s", call.Args[len(call.Args)-1], out)
	}
	if call.TotalSecs != 30 {
		t.Errorf("TotalSecs = %v, want 30", call.TotalSecs)
	}

	want := "file '" + in[0] + "'\nfile '" + in[1] + "'\nfile '" + in[2] + "'\n"
	if len(f.runner.manifests) != 1 || f.runner.manifests[0] != want {
		t.Errorf("manifest = %q, want %q", f.runner.manifests, want)
	}
	manifest := manifestArg(call.Args)
	if !strings.HasPrefix(filepath.Base(manifest), "concat_list_") {
		t.Errorf("manifest name %s should use the concat_list prefix", manifest)
	}
	if _, err := os.Stat(manifest); !os.IsNotExist(err) {
		t.Error("manifest should be removed after success")
	}

	snap := f.exec.Progress()
	if snap.Phase != progress.PhaseComplete || snap.Percent != 100 || snap.Message != "Concatenation complete!" {
		t.Errorf("final snapshot = %+v", snap)
	}
	if f.exec.Busy() {
		t.Error("executor should be idle after completion")
	}

	snaps := f.rec.forJob(snap.JobID)
	assertMonotonic(t, snaps)
	var sawCopying, sawStrategy bool
	for _, s := range snaps {
		if s.Message == "Using stream copy (fast concatenation)..." {
			sawStrategy = true
			if s.Percent != 20 {
				t.Errorf("strategy reported at %d, want 20", s.Percent)
			}
		}
		if s.Message == "Stream copying... 0:15" {
			sawCopying = true
			if s.Percent != 60 {
				t.Errorf("50%% engine progress mapped to %d, want 60", s.Percent)
			}
			if s.ETASeconds == nil || *s.ETASeconds != 5 {
				t.Errorf("ETA = %v, want 5", s.ETASeconds)
			}
		}
	}
	if !sawStrategy || !sawCopying {
		t.Errorf("missing expected snapshots: %+v", snaps)
	}
}

func TestNativeSingleInputUsesStreamCopy(t *testing.T) {
	f := newNativeFixture(t)
	in := f.inputs(map[string]*ffprobe.MediaParameters{"only.mkv": mediaParams("hevc", 3840, 2160, "", 5)}, "only.mkv")

	if err := f.exec.Concatenate(context.Background(), in, filepath.Join(f.dir, "out.mkv")); err != nil {
		t.Fatalf("Concatenate() error = %v", err)
	}
	if manifestArg(f.runner.lastCall(t).Args) == "" {
		t.Error("single input should use the stream copy path")
	}
}

func TestNativeReencodeOnResolutionMismatch(t *testing.T) {
	f := newNativeFixture(t)
	in := f.inputs(map[string]*ffprobe.MediaParameters{
		"a.mp4": mediaParams("h264", 1920, 1080, "aac", 10),
		"b.mp4": mediaParams("h264", 1280, 720, "aac", 10),
	}, "a.mp4", "b.mp4")
	f.runner.progress = []ffmpeg.Progress{{ElapsedSecs: 42, Percent: -1}}

	if err := f.exec.Concatenate(context.Background(), in, filepath.Join(f.dir, "out.mp4")); err != nil {
		t.Fatalf("Concatenate() error = %v", err)
	}

	call := f.runner.lastCall(t)
	if got := inputArgs(call.Args); len(got) != 2 || got[0] != in[0] || got[1] != in[1] {
		t.Errorf("inputs = %v, want %v", got, in)
	}
	graph := argValue(call.Args, "-filter_complex")
	if !strings.Contains(graph, "[1:v]scale=1920:1080") || !strings.Contains(graph, "concat=n=2:v=1:a=1[outv][outa]") {
		t.Errorf("filter graph = %s", graph)
	}
	if argValue(call.Args, "-c:v") != "libx264" || argValue(call.Args, "-crf") != "23" || argValue(call.Args, "-b:a") != "192k" {
		t.Errorf("re-encode preset missing from %v", call.Args)
	}
	if len(f.runner.manifests) != 0 {
		t.Error("re-encode should not write a concat list")
	}

	snaps := f.rec.forJob(f.exec.Progress().JobID)
	assertMonotonic(t, snaps)

	var sawReencoding bool
	for _, s := range snaps {
		if s.Message == "Re-encoding required due to parameter mismatch..." && s.Percent != 20 {
			t.Errorf("strategy reported at %d, want 20", s.Percent)
		}
		if s.Message == "Re-encoding... 0:42" {
			sawReencoding = true
			// 42s of 20s total clamps to the end of the encoding range.
			if s.Percent != 95 {
				t.Errorf("percent = %d, want 95", s.Percent)
			}
		}
	}
	if !sawReencoding {
		t.Error("expected a timemark progress message")
	}
}

func TestNativeProbeFailureFallsBackToReencode(t *testing.T) {
	f := newNativeFixture(t)
	in := f.inputs(map[string]*ffprobe.MediaParameters{"a.mp4": mediaParams("h264", 1920, 1080, "aac", 10)},
		"a.mp4", "broken.mp4")
	f.runner.progress = []ffmpeg.Progress{{ElapsedSecs: 3, Percent: -1}}

	if err := f.exec.Concatenate(context.Background(), in, filepath.Join(f.dir, "out.mp4")); err != nil {
		t.Fatalf("Concatenate() error = %v", err)
	}
	call := f.runner.lastCall(t)
	graph := argValue(call.Args, "-filter_complex")
	if graph != "[0:v][0:a][1:v][1:a]concat=n=2:v=1:a=1[outv][outa]" {
		t.Errorf("filter graph = %s", graph)
	}
	if call.TotalSecs != 0 {
		t.Errorf("TotalSecs = %v, want 0 when a probe failed", call.TotalSecs)
	}
	for _, s := range f.rec.forJob(f.exec.Progress().JobID) {
		if s.Message == "Re-encoding... 0:03" && s.Percent != 25 {
			t.Errorf("unknown-duration progress should hold at 25, got %d", s.Percent)
		}
	}
}

func TestNativeEngineFailure(t *testing.T) {
	f := newNativeFixture(t)
	same := mediaParams("h264", 1920, 1080, "aac", 10)
	in := f.inputs(map[string]*ffprobe.MediaParameters{"a.mp4": same, "b.mp4": same}, "a.mp4", "b.mp4")
	f.runner.err = errors.NewEngineError("Invalid data found when processing input", nil)

	err := f.exec.Concatenate(context.Background(), in, filepath.Join(f.dir, "out.mp4"))
	if !errors.IsEngine(err) {
		t.Fatalf("Concatenate() error = %v, want engine error", err)
	}

	snap := f.exec.Progress()
	if snap.Phase != progress.PhaseError || snap.Percent != 0 {
		t.Errorf("snapshot = %+v, want error phase at 0", snap)
	}
	if !strings.HasPrefix(snap.Message, "Error: ") || !strings.Contains(snap.Message, "Invalid data found") {
		t.Errorf("error message = %q", snap.Message)
	}
	if _, err := os.Stat(manifestArg(f.runner.lastCall(t).Args)); !os.IsNotExist(err) {
		t.Error("manifest should be removed after failure")
	}
	if f.exec.Busy() {
		t.Error("executor should be released after failure")
	}
}

func TestNativeEmptyInputLeavesProgress(t *testing.T) {
	f := newNativeFixture(t)
	before := f.exec.Progress()

	err := f.exec.Concatenate(context.Background(), nil, "out.mp4")
	if !errors.IsInvalidInput(err) {
		t.Fatalf("Concatenate() error = %v, want invalid input", err)
	}
	if after := f.exec.Progress(); after.Seq != before.Seq {
		t.Errorf("progress changed: %+v -> %+v", before, after)
	}
}

func TestNativeBusyThenCancel(t *testing.T) {
	f := newNativeFixture(t)
	same := mediaParams("h264", 1920, 1080, "aac", 10)
	in := f.inputs(map[string]*ffprobe.MediaParameters{"a.mp4": same, "b.mp4": same}, "a.mp4", "b.mp4")
	out := filepath.Join(f.dir, "out.mp4")
	f.runner.setBlock(true)

	done, err := f.exec.Start(context.Background(), in, out)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitSignal(t, f.runner.started, "engine start")

	active := f.exec.Progress()
	if _, err := f.exec.Start(context.Background(), in, out); !errors.IsBusy(err) {
		t.Fatalf("second Start() error = %v, want busy", err)
	}
	if now := f.exec.Progress(); now.Seq != active.Seq || now.JobID != active.JobID {
		t.Errorf("busy rejection changed progress: %+v -> %+v", active, now)
	}

	res := f.exec.Cancel()
	if !res.Cancelled || !res.Cancellable || res.JobID != active.JobID {
		t.Errorf("Cancel() = %+v", res)
	}
	snap := f.exec.Progress()
	if snap.Phase != progress.PhaseIdle || snap.Percent != 0 || snap.Message != "Cancelled" {
		t.Errorf("snapshot after cancel = %+v", snap)
	}
	if f.exec.Busy() {
		t.Error("cancel should release the executor immediately")
	}

	f.runner.setBlock(false)
	if err := f.exec.Concatenate(context.Background(), in, out); err != nil {
		t.Fatalf("Concatenate() after cancel error = %v", err)
	}
	if err := waitResult(t, done); !errors.IsCancelled(err) {
		t.Errorf("cancelled job result = %v, want cancelled", err)
	}
	if f.exec.Progress().Phase != progress.PhaseComplete {
		t.Errorf("cancelled job overwrote the new job's state: %+v", f.exec.Progress())
	}
}

func TestNativeCancelWhileIdle(t *testing.T) {
	f := newNativeFixture(t)
	res := f.exec.Cancel()
	if res.Cancelled {
		t.Error("Cancel() with no job should report nothing cancelled")
	}
	if snap := f.exec.Progress(); snap.Phase != progress.PhaseIdle || snap.Message != "Cancelled" {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestNativeContextCancel(t *testing.T) {
	f := newNativeFixture(t)
	same := mediaParams("h264", 1920, 1080, "aac", 10)
	in := f.inputs(map[string]*ffprobe.MediaParameters{"a.mp4": same}, "a.mp4")
	f.runner.setBlock(true)

	ctx, cancel := context.WithCancel(context.Background())
	done, err := f.exec.Start(ctx, in, filepath.Join(f.dir, "out.mp4"))
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitSignal(t, f.runner.started, "engine start")
	cancel()

	if err := waitResult(t, done); !errors.IsCancelled(err) {
		t.Errorf("result = %v, want cancelled", err)
	}
	if snap := f.exec.Progress(); snap.Phase != progress.PhaseIdle || snap.Message != "Cancelled" {
		t.Errorf("snapshot = %+v", snap)
	}
	if f.exec.Busy() {
		t.Error("executor should be released")
	}
}

func TestNativeNewJobResetsPercent(t *testing.T) {
	f := newNativeFixture(t)
	same := mediaParams("h264", 1920, 1080, "aac", 10)
	in := f.inputs(map[string]*ffprobe.MediaParameters{"a.mp4": same}, "a.mp4")
	out := filepath.Join(f.dir, "out.mp4")

	for range 2 {
		if err := f.exec.Concatenate(context.Background(), in, out); err != nil {
			t.Fatalf("Concatenate() error = %v", err)
		}
	}
	second := f.rec.forJob(f.exec.Progress().JobID)
	if len(second) == 0 || second[0].Phase != progress.PhaseValidating || second[0].Percent != 0 {
		t.Errorf("second job should start validating at 0, got %+v", second)
	}
}

func TestNativeValidateCompatibility(t *testing.T) {
	f := newNativeFixture(t)
	in := f.inputs(map[string]*ffprobe.MediaParameters{
		"a.mp4": mediaParams("h264", 1920, 1080, "aac", 10),
		"b.mp4": mediaParams("hevc", 1920, 1080, "", 10),
	}, "a.mp4", "b.mp4")

	v, err := f.exec.ValidateCompatibility(context.Background(), in)
	if err != nil {
		t.Fatalf("ValidateCompatibility() error = %v", err)
	}
	want := []string{
		"File 2: Codec mismatch (hevc vs h264)",
		"File 2: Audio codec mismatch (none vs aac)",
	}
	if v.Compatible || len(v.Issues) != len(want) {
		t.Fatalf("verdict = %+v", v)
	}
	for i := range want {
		if v.Issues[i] != want[i] {
			t.Errorf("issue %d = %q, want %q", i, v.Issues[i], want[i])
		}
	}

	if _, err := f.exec.ValidateCompatibility(context.Background(), nil); !errors.IsInvalidInput(err) {
		t.Errorf("empty ValidateCompatibility() error = %v, want invalid input", err)
	}
	if f.exec.Busy() {
		t.Error("validation should not claim the executor")
	}
}

func TestNativeResolvesRelativeInputs(t *testing.T) {
	f := newNativeFixture(t)
	t.Chdir(f.dir)
	abs := filepath.Join(f.dir, "a.mp4")
	f.prober.results[abs] = mediaParams("h264", 1920, 1080, "aac", 10)

	if err := f.exec.Concatenate(context.Background(), []string{"a.mp4"}, "out.mp4"); err != nil {
		t.Fatalf("Concatenate() error = %v", err)
	}
	if want := "file '" + abs + "'\n"; f.runner.manifests[0] != want {
		t.Errorf("manifest = %q, want %q", f.runner.manifests[0], want)
	}
}

func TestNativeDefaultOutputPath(t *testing.T) {
	f := newNativeFixture(t)
	same := mediaParams("h264", 1920, 1080, "aac", 10)
	in := f.inputs(map[string]*ffprobe.MediaParameters{"clip.mp4": same}, "clip.mp4")

	if err := f.exec.Concatenate(context.Background(), in, ""); err != nil {
		t.Fatalf("Concatenate() error = %v", err)
	}
	args := f.runner.lastCall(t).Args
	if got, want := args[len(args)-1], filepath.Join(f.dir, "clip_joined.mp4"); got != want {
		t.Errorf("output = %s, want %s", got, want)
	}
}
