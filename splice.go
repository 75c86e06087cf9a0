// Package splice provides a Go library for joining video files with FFmpeg.
//
// Splice probes every input, stream copies when all inputs share codec,
// resolution, frame rate and audio codec, and re-encodes to a fixed H.264/AAC
// preset otherwise. One job runs at a time; progress is published as a
// single snapshot that can be polled or subscribed to.
//
// Basic usage:
//
//	merger, err := splice.New(
//	    splice.WithCRF(20),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	result, err := merger.Concatenate(ctx, []string{"a.mp4", "b.mp4"}, "joined.mp4")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	fmt.Printf("Wrote %s (%s)\n", result.OutputFile, result.Strategy)
package splice

import (
	"context"
	"io"
	"time"

	"github.com/five82/splice/internal/compat"
	"github.com/five82/splice/internal/config"
	"github.com/five82/splice/internal/discovery"
	"github.com/five82/splice/internal/errors"
	"github.com/five82/splice/internal/executor"
	"github.com/five82/splice/internal/logging"
	"github.com/five82/splice/internal/progress"
	"github.com/five82/splice/internal/reporter"
	"github.com/five82/splice/internal/strategy"
	"github.com/five82/splice/internal/util"
)

// Re-exported types
type (
	// Progress is a snapshot of the current job's progress.
	Progress = progress.Snapshot
	// Phase is the coarse stage of the current job.
	Phase = progress.Phase
	// Verdict is the result of a compatibility check.
	Verdict = compat.Verdict
	// CancelResult describes the outcome of a cancel request.
	CancelResult = executor.CancelResult
	// Reporter receives job events.
	Reporter = reporter.Reporter
	// Handle is a job started in the background.
	Handle = executor.Handle
	// Outcome is the result of a finished job.
	Outcome = executor.Outcome
)

const (
	PhaseIdle       = progress.PhaseIdle
	PhaseLoading    = progress.PhaseLoading
	PhaseValidating = progress.PhaseValidating
	PhaseProcessing = progress.PhaseProcessing
	PhaseEncoding   = progress.PhaseEncoding
	PhaseComplete   = progress.PhaseComplete
	PhaseError      = progress.PhaseError
)

// Sentinel errors usable with errors.Is. They match on error kind.
var (
	ErrBusy         error = &errors.CoreError{Kind: errors.KindBusy}
	ErrInvalidInput error = &errors.CoreError{Kind: errors.KindInvalidInput}
	ErrCancelled    error = &errors.CoreError{Kind: errors.KindCancelled}
	ErrProbe        error = &errors.CoreError{Kind: errors.KindProbe}
	ErrEngine       error = &errors.CoreError{Kind: errors.KindEngine}
)

// Result contains the result of a finished concatenation.
type Result struct {
	OutputFile string
	OutputSize uint64
	// Strategy is "stream_copy" or "reencode".
	Strategy string
	Duration time.Duration
}

type options struct {
	cfg      *config.Config
	sandbox  bool
	reporter Reporter
	logger   *logging.Logger
	execOpts []executor.Option
}

// Option configures the merger.
type Option func(*options)

// WithConfig replaces the base configuration. Later options still apply.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) {
		c := *cfg
		o.cfg = &c
	}
}

// WithFFmpeg sets the ffmpeg and ffprobe binaries.
func WithFFmpeg(ffmpegPath, ffprobePath string) Option {
	return func(o *options) {
		o.cfg.FFmpegPath = ffmpegPath
		o.cfg.FFprobePath = ffprobePath
	}
}

// WithTempDir sets the directory for concat lists and sandbox scratch space.
func WithTempDir(dir string) Option {
	return func(o *options) {
		o.cfg.TempDir = dir
	}
}

// WithCRF sets the constant-quality value used when re-encoding (0-51).
func WithCRF(crf uint8) Option {
	return func(o *options) {
		o.cfg.VideoCRF = crf
	}
}

// WithVideoPreset sets the x264 speed preset used when re-encoding.
func WithVideoPreset(preset string) Option {
	return func(o *options) {
		o.cfg.VideoPreset = preset
	}
}

// WithAudioBitrate sets the AAC bitrate used when re-encoding, e.g. "192k".
func WithAudioBitrate(bitrate string) Option {
	return func(o *options) {
		o.cfg.AudioBitrate = bitrate
	}
}

// WithSandbox selects the sandboxed executor. Inputs are copied into a
// private scratch area and engine calls cannot be cancelled.
func WithSandbox() Option {
	return func(o *options) {
		o.sandbox = true
	}
}

// WithReporter sends job events and every progress change to r.
func WithReporter(r Reporter) Option {
	return func(o *options) {
		o.reporter = r
	}
}

// WithLogger sets the logger. The default is the global logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// Merger concatenates videos, one job at a time.
type Merger struct {
	cfg       *config.Config
	exec      executor.Executor
	sandboxed *executor.Sandboxed
	rep       Reporter
	log       *logging.Logger
}

// New creates a new Merger with the given options.
func New(opts ...Option) (*Merger, error) {
	o := &options{cfg: config.NewConfig()}
	for _, opt := range opts {
		opt(o)
	}

	if err := o.cfg.Validate(); err != nil {
		return nil, errors.NewConfigError(err.Error())
	}
	if o.logger == nil {
		o.logger = logging.Global()
	}
	if o.reporter == nil {
		o.reporter = reporter.NullReporter{}
	}

	m := &Merger{cfg: o.cfg, rep: o.reporter, log: o.logger}

	tracker := progress.NewTracker(o.cfg.SubscriberBuffer)
	tracker.AddObserver(reporter.Observer(o.reporter))

	execOpts := append([]executor.Option{
		executor.WithTracker(tracker),
		executor.WithLogger(o.logger),
		executor.WithStartHook(m.jobStarted),
	}, o.execOpts...)

	if o.sandbox {
		m.sandboxed = executor.NewSandboxed(o.cfg, execOpts...)
		m.exec = m.sandboxed
	} else {
		m.exec = executor.NewNative(o.cfg, execOpts...)
	}
	return m, nil
}

// Executor exposes the underlying executor, for serving it over HTTP.
func (m *Merger) Executor() executor.Executor {
	return m.exec
}

// Config returns a copy of the merger's configuration.
func (m *Merger) Config() config.Config {
	return *m.cfg
}

// Initialize prepares the engine ahead of the first job. It is a no-op for
// the native executor.
func (m *Merger) Initialize(ctx context.Context) error {
	if m.sandboxed == nil {
		return nil
	}
	return m.sandboxed.Initialize(ctx)
}

// Close releases engine resources.
func (m *Merger) Close() error {
	if m.sandboxed == nil {
		return nil
	}
	return m.sandboxed.Close()
}

// Start begins a job in the background. See Concatenate.
func (m *Merger) Start(ctx context.Context, inputs []string, output string) (*Handle, error) {
	return m.exec.Start(ctx, inputs, output)
}

// Concatenate joins inputs, in order, into output. An empty output writes
// "<first input stem>_joined.mp4" next to the first input. It returns
// ErrBusy if a job is already running and ErrCancelled if the job was
// cancelled.
func (m *Merger) Concatenate(ctx context.Context, inputs []string, output string) (*Result, error) {
	return m.run(func() (*Handle, error) {
		return m.exec.Start(ctx, inputs, output)
	})
}

// ConcatenateTo joins inputs and writes the result to w. It requires the
// sandboxed executor.
func (m *Merger) ConcatenateTo(ctx context.Context, inputs []string, w io.Writer) (*Result, error) {
	if m.sandboxed == nil {
		return nil, errors.NewConfigError("writing to a stream requires the sandboxed executor")
	}
	return m.run(func() (*Handle, error) {
		return m.sandboxed.StartTo(ctx, inputs, w)
	})
}

// run starts a job and waits for it, reporting how it ended. Rejected
// starts are returned without reporting.
func (m *Merger) run(start func() (*Handle, error)) (*Result, error) {
	began := time.Now()
	h, err := start()
	if err != nil {
		return nil, err
	}

	out := h.Wait()
	elapsed := time.Since(began)

	switch {
	case out.Err == nil:
	case errors.IsCancelled(out.Err):
		m.rep.Cancelled("Concatenation cancelled")
		return nil, out.Err
	default:
		m.rep.Error(reporter.ReporterError{
			Title:      "Concatenation failed",
			Message:    out.Err.Error(),
			Suggestion: suggestionFor(out.Err),
		})
		return nil, out.Err
	}

	res := &Result{OutputFile: h.Output, Duration: elapsed, Strategy: out.Strategy}
	if h.Output != "" {
		if size, statErr := util.GetFileSize(h.Output); statErr == nil {
			res.OutputSize = size
		} else {
			m.log.Warn("failed to stat output", "output", h.Output, "error", statErr)
		}
	}
	m.rep.Verbose("Strategy: " + out.Strategy)
	m.rep.JobComplete(reporter.JobOutcome{Output: h.Output, OutputSize: res.OutputSize, TotalTime: elapsed})
	return res, nil
}

// jobStarted reports a job once it holds the executor, ahead of its first
// progress event.
func (m *Merger) jobStarted(_ string, inputs []string, output string) {
	m.rep.JobStarted(reporter.JobStartInfo{Inputs: inputs, Output: output, Executor: m.executorName()})
}

// ValidateCompatibility probes inputs and reports whether they can be
// joined without re-encoding. It may run while a job is active.
func (m *Merger) ValidateCompatibility(ctx context.Context, inputs []string) (Verdict, error) {
	v, err := m.exec.ValidateCompatibility(ctx, inputs)
	if err != nil {
		return v, err
	}
	m.rep.Compatibility(reporter.CompatibilitySummary{
		Inputs:     inputs,
		Compatible: v.Compatible,
		Issues:     v.Issues,
		Strategy:   strategy.Select(v).String(),
	})
	return v, nil
}

// Cancel stops the active job. The result reports whether a job was
// cancelled and whether the engine call could be interrupted.
func (m *Merger) Cancel() CancelResult {
	res := m.exec.Cancel()
	if res.Cancelled && !res.Cancellable {
		m.rep.Verbose("The running engine call cannot be interrupted and will finish in the background")
	}
	return res
}

// Progress returns the current progress snapshot.
func (m *Merger) Progress() Progress {
	return m.exec.Progress()
}

// Subscribe streams the current snapshot and every change after it. Call
// the returned function to stop.
func (m *Merger) Subscribe() (<-chan Progress, func()) {
	return m.exec.Subscribe()
}

// Busy reports whether a job is running.
func (m *Merger) Busy() bool {
	return m.exec.Busy()
}

// Cancellable reports whether Cancel can stop a running engine call.
func (m *Merger) Cancellable() bool {
	return m.exec.Cancellable()
}

func (m *Merger) executorName() string {
	if m.sandboxed != nil {
		return "sandboxed"
	}
	return "native"
}

func suggestionFor(err error) string {
	switch {
	case errors.IsProbe(err):
		return "Check that every input is a readable video file"
	case errors.IsKind(err, errors.KindCommand):
		return "Check that ffmpeg and ffprobe are installed and on PATH"
	default:
		return ""
	}
}

// FindVideos finds video files in a directory, sorted by name.
func FindVideos(dir string) ([]string, error) {
	result, err := discovery.FindVideoFiles(dir)
	if err != nil {
		return nil, err
	}
	return result.Files, nil
}
