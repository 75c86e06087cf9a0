package reporter

import (
	"bufio"
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/five82/splice/internal/progress"
)

type recordingReporter struct {
	NullReporter
	events []string
}

func (r *recordingReporter) JobStarted(JobStartInfo)            { r.events = append(r.events, "started") }
func (r *recordingReporter) Compatibility(CompatibilitySummary) { r.events = append(r.events, "compat") }
func (r *recordingReporter) Progress(progress.Snapshot)         { r.events = append(r.events, "progress") }
func (r *recordingReporter) JobComplete(JobOutcome)             { r.events = append(r.events, "complete") }
func (r *recordingReporter) Cancelled(string)                   { r.events = append(r.events, "cancelled") }
func (r *recordingReporter) Error(ReporterError)                { r.events = append(r.events, "error") }

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	sc := bufio.NewScanner(buf)
	for sc.Scan() {
		var m map[string]interface{}
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("invalid JSON line %q: %v", sc.Text(), err)
		}
		out = append(out, m)
	}
	return out
}

func TestCompositeReporterFansOut(t *testing.T) {
	a, b := &recordingReporter{}, &recordingReporter{}
	c := NewCompositeReporter(a, b)

	c.JobStarted(JobStartInfo{})
	c.Compatibility(CompatibilitySummary{})
	c.Progress(progress.Snapshot{})
	c.JobComplete(JobOutcome{})
	c.Cancelled("Cancelled")
	c.Error(ReporterError{})
	c.Warning("ignored by recorder")
	c.Verbose("ignored by recorder")

	want := "started,compat,progress,complete,cancelled,error"
	for _, r := range []*recordingReporter{a, b} {
		if got := strings.Join(r.events, ","); got != want {
			t.Errorf("events = %s, want %s", got, want)
		}
	}
}

func TestObserverForwardsSnapshots(t *testing.T) {
	rec := &recordingReporter{}
	tr := progress.NewTracker(4)
	tr.AddObserver(Observer(rec))

	tr.Set(progress.Update{Percent: 10, Phase: progress.PhaseValidating})
	tr.Set(progress.Update{Percent: 20, Phase: progress.PhaseProcessing})
	if len(rec.events) != 2 {
		t.Errorf("events = %v, want two progress events", rec.events)
	}
}

func TestJSONReporterEvents(t *testing.T) {
	var buf bytes.Buffer
	r := NewJSONReporterWithWriter(&buf)

	r.JobStarted(JobStartInfo{Inputs: []string{"a.mp4", "b.mp4"}, Output: "out.mp4", Executor: "native"})
	r.Compatibility(CompatibilitySummary{Compatible: true, Strategy: "stream_copy"})
	eta := uint32(12)
	r.Progress(progress.Snapshot{Percent: 40, Phase: progress.PhaseEncoding, Message: "Stream copying... 0:10", ETASeconds: &eta, JobID: "j1"})
	r.JobComplete(JobOutcome{Output: "out.mp4", OutputSize: 2048, TotalTime: 3 * time.Second})

	lines := decodeLines(t, &buf)
	if len(lines) != 4 {
		t.Fatalf("got %d lines, want 4", len(lines))
	}
	wantTypes := []string{"job_started", "compatibility", "progress", "job_complete"}
	for i, want := range wantTypes {
		if lines[i]["type"] != want {
			t.Errorf("line %d type = %v, want %s", i, lines[i]["type"], want)
		}
		if _, ok := lines[i]["timestamp"]; !ok {
			t.Errorf("line %d has no timestamp", i)
		}
	}
	if issues, ok := lines[1]["issues"].([]interface{}); !ok || len(issues) != 0 {
		t.Errorf("issues should be an empty array, got %v", lines[1]["issues"])
	}
	if lines[2]["phase"] != "encoding" || lines[2]["percent"] != float64(40) || lines[2]["eta_seconds"] != float64(12) {
		t.Errorf("progress event = %v", lines[2])
	}
	if lines[3]["duration_seconds"] != float64(3) {
		t.Errorf("job_complete event = %v", lines[3])
	}
}

func TestJSONReporterThrottlesProgress(t *testing.T) {
	var buf bytes.Buffer
	r := NewJSONReporterWithWriter(&buf)

	r.Progress(progress.Snapshot{Percent: 30, Phase: progress.PhaseEncoding, Message: "0:01"})
	r.Progress(progress.Snapshot{Percent: 30, Phase: progress.PhaseEncoding, Message: "0:02"})
	r.Progress(progress.Snapshot{Percent: 31, Phase: progress.PhaseEncoding, Message: "0:03"})
	r.Progress(progress.Snapshot{Percent: 95, Phase: progress.PhaseProcessing, Message: "Finalizing output..."})
	r.Progress(progress.Snapshot{Percent: 0, Phase: progress.PhaseIdle, Message: "Cancelled"})

	lines := decodeLines(t, &buf)
	var msgs []string
	for _, l := range lines {
		msgs = append(msgs, l["message"].(string))
	}
	want := "0:01,0:03,Finalizing output...,Cancelled"
	if got := strings.Join(msgs, ","); got != want {
		t.Errorf("emitted = %s, want %s", got, want)
	}
}

func TestTerminalReporterOutput(t *testing.T) {
	var out, errOut bytes.Buffer
	r := NewTerminalReporterWithWriters(&out, &errOut)

	r.JobStarted(JobStartInfo{Inputs: []string{"/videos/a.mp4", "/videos/b.mp4"}, Output: "/videos/out.mp4", Executor: "native"})
	r.Compatibility(CompatibilitySummary{
		Compatible: false,
		Issues:     []string{"File 2: Resolution mismatch (1280x720 vs 1920x1080)"},
		Strategy:   "reencode",
	})
	r.Progress(progress.Snapshot{Percent: 0, Phase: progress.PhaseValidating, Message: "Validating input files..."})
	r.Progress(progress.Snapshot{Percent: 0, Phase: progress.PhaseValidating, Message: "Validating input files..."})
	r.Progress(progress.Snapshot{Percent: 50, Phase: progress.PhaseEncoding, Message: "Re-encoding... 0:10"})
	r.Progress(progress.Snapshot{Percent: 40, Phase: progress.PhaseEncoding, Message: "Re-encoding... 0:11"})
	if r.maxPercent != 50 {
		t.Errorf("maxPercent = %d, want 50 (bar never moves backwards)", r.maxPercent)
	}
	r.JobComplete(JobOutcome{Output: "/videos/out.mp4", OutputSize: 1024, TotalTime: time.Minute})

	text := out.String()
	for _, want := range []string{"INPUTS", "1. a.mp4", "COMPATIBILITY", "Resolution mismatch", "reencode", "VALIDATING", "ENCODING", "RESULTS", "1.00 KiB"} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}
	if strings.Count(text, "Validating input files...") != 1 {
		t.Error("repeated messages should be printed once")
	}
}

func TestTerminalReporterErrorGoesToErrOut(t *testing.T) {
	var out, errOut bytes.Buffer
	r := NewTerminalReporterWithWriters(&out, &errOut)

	r.Error(ReporterError{Title: "Concatenation failed", Message: "Engine error: boom", Suggestion: "Check the inputs"})
	if out.Len() != 0 {
		t.Errorf("stdout should be empty, got %q", out.String())
	}
	for _, want := range []string{"ERROR Concatenation failed", "Engine error: boom", "Suggestion: Check the inputs"} {
		if !strings.Contains(errOut.String(), want) {
			t.Errorf("stderr missing %q: %s", want, errOut.String())
		}
	}
}
