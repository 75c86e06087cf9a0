// Package executor runs concatenation jobs end to end. Native spawns the
// engine as a child process and can stop it; Sandboxed drives an
// in-process engine that runs every call to completion. Both share one
// pipeline: probe, check, select, encode, finalize.
package executor

import (
	"context"
	"sync"

	"github.com/five82/splice/internal/compat"
	"github.com/five82/splice/internal/ffprobe"
	"github.com/five82/splice/internal/ffmpeg"
	"github.com/five82/splice/internal/logging"
	"github.com/five82/splice/internal/progress"
	"github.com/five82/splice/internal/sandbox"
)

// Executor runs at most one concatenation job at a time.
type Executor interface {
	// Start claims the executor and runs the job in the background. It
	// fails immediately with a busy error if a job is active, or an invalid
	// input error for an empty list.
	Start(ctx context.Context, inputs []string, output string) (*Handle, error)
	// Concatenate is Start followed by waiting for the result.
	Concatenate(ctx context.Context, inputs []string, output string) error
	// ValidateCompatibility probes inputs and reports whether they can be
	// stream copied. It does not claim the executor.
	ValidateCompatibility(ctx context.Context, inputs []string) (compat.Verdict, error)
	// Cancel stops the active job and releases the executor immediately.
	Cancel() CancelResult
	// Progress returns the current progress snapshot.
	Progress() progress.Snapshot
	// Subscribe streams the current snapshot followed by every change.
	Subscribe() (<-chan progress.Snapshot, func())
	// Busy reports whether a job is active.
	Busy() bool
	// Cancellable reports whether Cancel can stop a running engine call.
	Cancellable() bool
}

// CancelResult describes the outcome of a cancel request.
type CancelResult struct {
	// Cancelled is true if a job was active and has been released.
	Cancelled bool `json:"cancelled"`
	// Cancellable is false when the engine call keeps running in the
	// background until it completes on its own.
	Cancellable bool `json:"cancellable"`

	JobID string `json:"jobId,omitempty"`
}

// Outcome is the result of a finished job.
type Outcome struct {
	// Strategy is the path the job took, or "none" if it ended before one
	// was chosen.
	Strategy string
	Err      error
}

// Handle is a job accepted by Start.
type Handle struct {
	JobID string
	// Output is the resolved output path. It is empty when the job writes
	// to a stream.
	Output string

	done    <-chan Outcome
	once    sync.Once
	outcome Outcome
}

// NewHandle wraps the result channel of a started job.
func NewHandle(jobID, output string, done <-chan Outcome) *Handle {
	return &Handle{JobID: jobID, Output: output, done: done}
}

// Wait blocks until the job finishes. It may be called more than once.
func (h *Handle) Wait() Outcome {
	h.once.Do(func() {
		h.outcome = <-h.done
	})
	return h.outcome
}

// StartHook is told about a job once it has claimed the executor and
// before its first progress snapshot is published. It runs while progress
// publishing is held and must not call the executor.
type StartHook func(jobID string, inputs []string, output string)

// options collects settings shared by both executors.
type options struct {
	runner  ffmpeg.Runner
	prober  ffprobe.Prober
	engine  sandbox.Engine
	tracker *progress.Tracker
	logger  *logging.Logger
	onStart StartHook
}

// Option configures an executor.
type Option func(*options)

// WithRunner sets the engine runner used by Native.
func WithRunner(r ffmpeg.Runner) Option {
	return func(o *options) {
		o.runner = r
	}
}

// WithProber sets the media prober used by Native.
func WithProber(p ffprobe.Prober) Option {
	return func(o *options) {
		o.prober = p
	}
}

// WithEngine sets the in-process engine used by Sandboxed.
func WithEngine(e sandbox.Engine) Option {
	return func(o *options) {
		o.engine = e
	}
}

// WithTracker sets the progress tracker the executor publishes to.
func WithTracker(t *progress.Tracker) Option {
	return func(o *options) {
		o.tracker = t
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithStartHook registers fn for every job that claims the executor.
func WithStartHook(fn StartHook) Option {
	return func(o *options) {
		o.onStart = fn
	}
}
