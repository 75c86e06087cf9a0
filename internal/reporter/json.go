package reporter

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/five82/splice/internal/progress"
)

// JSONReporter outputs NDJSON events, one object per line.
type JSONReporter struct {
	writer      io.Writer
	mu          sync.Mutex
	lastPercent int
	lastPhase   progress.Phase
	lastEmit    time.Time
}

// NewJSONReporter creates a new JSON reporter that writes to stdout.
func NewJSONReporter() *JSONReporter {
	return NewJSONReporterWithWriter(os.Stdout)
}

// NewJSONReporterWithWriter creates a JSON reporter with a custom writer.
func NewJSONReporterWithWriter(w io.Writer) *JSONReporter {
	return &JSONReporter{
		writer:      w,
		lastPercent: -1,
	}
}

func (r *JSONReporter) timestamp() int64 {
	return time.Now().Unix()
}

func (r *JSONReporter) write(v interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	_, _ = fmt.Fprintln(r.writer, string(data))
}

func (r *JSONReporter) JobStarted(info JobStartInfo) {
	r.mu.Lock()
	r.lastPercent = -1
	r.lastPhase = ""
	r.lastEmit = time.Time{}
	r.mu.Unlock()

	r.write(map[string]interface{}{
		"type":      "job_started",
		"inputs":    info.Inputs,
		"output":    info.Output,
		"executor":  info.Executor,
		"timestamp": r.timestamp(),
	})
}

func (r *JSONReporter) Compatibility(summary CompatibilitySummary) {
	issues := summary.Issues
	if issues == nil {
		issues = []string{}
	}
	r.write(map[string]interface{}{
		"type":       "compatibility",
		"inputs":     summary.Inputs,
		"compatible": summary.Compatible,
		"issues":     issues,
		"strategy":   summary.Strategy,
		"timestamp":  r.timestamp(),
	})
}

// Progress emits a snapshot when the phase changes, the percent rises, or
// minInterval has passed since the last emitted snapshot.
func (r *JSONReporter) Progress(snap progress.Snapshot) {
	const minInterval = 5 * time.Second
	now := time.Now()

	r.mu.Lock()
	percent := int(snap.Percent)
	shouldEmit := snap.Phase != r.lastPhase ||
		percent > r.lastPercent ||
		r.lastEmit.IsZero() ||
		now.Sub(r.lastEmit) >= minInterval
	if !shouldEmit {
		r.mu.Unlock()
		return
	}
	if snap.Phase.IsReset() || percent > r.lastPercent {
		r.lastPercent = percent
	}
	r.lastPhase = snap.Phase
	r.lastEmit = now
	r.mu.Unlock()

	event := map[string]interface{}{
		"type":      "progress",
		"phase":     snap.Phase,
		"percent":   snap.Percent,
		"message":   snap.Message,
		"job_id":    snap.JobID,
		"timestamp": r.timestamp(),
	}
	if snap.ETASeconds != nil {
		event["eta_seconds"] = *snap.ETASeconds
	}
	r.write(event)
}

func (r *JSONReporter) JobComplete(outcome JobOutcome) {
	r.write(map[string]interface{}{
		"type":             "job_complete",
		"output":           outcome.Output,
		"output_size":      outcome.OutputSize,
		"duration_seconds": int64(outcome.TotalTime.Seconds()),
		"timestamp":        r.timestamp(),
	})
}

func (r *JSONReporter) Cancelled(message string) {
	r.write(map[string]interface{}{
		"type":      "cancelled",
		"message":   message,
		"timestamp": r.timestamp(),
	})
}

func (r *JSONReporter) Warning(message string) {
	r.write(map[string]interface{}{
		"type":      "warning",
		"message":   message,
		"timestamp": r.timestamp(),
	})
}

func (r *JSONReporter) Error(err ReporterError) {
	r.write(map[string]interface{}{
		"type":       "error",
		"title":      err.Title,
		"message":    err.Message,
		"context":    err.Context,
		"suggestion": err.Suggestion,
		"timestamp":  r.timestamp(),
	})
}

func (r *JSONReporter) Verbose(message string) {
	r.write(map[string]interface{}{
		"type":      "verbose",
		"message":   message,
		"timestamp": r.timestamp(),
	})
}
