package executor

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/five82/splice/internal/compat"
	"github.com/five82/splice/internal/config"
	"github.com/five82/splice/internal/errors"
	"github.com/five82/splice/internal/ffmpeg"
	"github.com/five82/splice/internal/ffprobe"
	"github.com/five82/splice/internal/job"
	"github.com/five82/splice/internal/metrics"
	"github.com/five82/splice/internal/progress"
	"github.com/five82/splice/internal/sandbox"
)

// Sandbox progress messages.
const (
	msgLoading     = "Loading FFmpeg core..."
	msgEngineReady = "Engine ready"
)

// loadingPercent is reported while the engine loads.
const loadingPercent = 5

// Sandboxed runs jobs on an in-process engine with a virtual filesystem.
// Inputs are copied in, the output is copied out.
//
// Engine calls cannot be interrupted. Cancel releases the executor and
// reports the cancelled state at once, but the engine call in flight keeps
// running until it finishes, and a following job waits for it before its
// own engine call starts.
type Sandboxed struct {
	*pipeline
	engine sandbox.Engine

	loadMu sync.Mutex
}

var _ Executor = (*Sandboxed)(nil)

// NewSandboxed creates a sandboxed executor from cfg. Without WithEngine it
// uses a scratch-directory engine under the configured temp dir.
func NewSandboxed(cfg *config.Config, opts ...Option) *Sandboxed {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	s := &Sandboxed{engine: o.engine}
	if s.engine == nil {
		s.engine = sandbox.NewScratchEngine(cfg.FFmpegPath, cfg.FFprobePath, cfg.GetTempDir())
	}
	s.pipeline = newPipeline(metrics.ExecutorSandboxed, cfg, s, o)
	return s
}

// Initialize loads the engine ahead of the first job. Progress shows the
// loading phase only while no job is active.
func (s *Sandboxed) Initialize(ctx context.Context) error {
	if s.engine.Loaded() {
		return nil
	}
	s.publishIdle(progress.Update{Percent: loadingPercent, Phase: progress.PhaseLoading, Message: msgLoading})
	if err := s.load(ctx); err != nil {
		s.publishIdle(progress.Update{Phase: progress.PhaseError, Message: msgErrorPrefix + err.Error()})
		return err
	}
	s.publishIdle(progress.Update{Phase: progress.PhaseIdle, Message: msgEngineReady})
	return nil
}

func (s *Sandboxed) publishIdle(u progress.Update) {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	if s.slot.Busy() {
		return
	}
	s.tracker.Set(u)
}

func (s *Sandboxed) load(ctx context.Context) error {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()
	if s.engine.Loaded() {
		return nil
	}
	s.log.Info("loading engine")
	if err := s.engine.Load(ctx); err != nil {
		return errors.NewEngineError("failed to load engine", err)
	}
	return nil
}

// Close releases the engine's virtual filesystem.
func (s *Sandboxed) Close() error {
	return s.engine.Close()
}

// Start implements Executor. The output is written to the output path.
func (s *Sandboxed) Start(ctx context.Context, inputs []string, output string) (*Handle, error) {
	return s.start(ctx, inputs, output, nil)
}

// Concatenate implements Executor.
func (s *Sandboxed) Concatenate(ctx context.Context, inputs []string, output string) error {
	return s.concatenate(ctx, inputs, output, nil)
}

// StartTo is Start with the output bytes written to w instead of a file.
func (s *Sandboxed) StartTo(ctx context.Context, inputs []string, w io.Writer) (*Handle, error) {
	if w == nil {
		return nil, errors.NewInvalidInputError("no output writer provided")
	}
	return s.start(ctx, inputs, "", w)
}

// ConcatenateTo runs a job and writes the output bytes to w instead of a
// file.
func (s *Sandboxed) ConcatenateTo(ctx context.Context, inputs []string, w io.Writer) error {
	h, err := s.StartTo(ctx, inputs, w)
	if err != nil {
		return err
	}
	return h.Wait().Err
}

// ValidateCompatibility implements Executor. Inputs are copied into the
// engine for probing and removed afterwards.
func (s *Sandboxed) ValidateCompatibility(ctx context.Context, inputs []string) (compat.Verdict, error) {
	if len(inputs) == 0 {
		return compat.Verdict{}, errors.NewInvalidInputError("no input files provided")
	}
	if err := s.load(ctx); err != nil {
		return compat.Verdict{}, err
	}
	r := &run{job: &job.Job{ID: job.NewID(), Inputs: inputs}}
	defer s.release(r)
	if err := s.copyIn(r, nil); err != nil {
		return compat.Verdict{}, err
	}
	return s.validate(ctx, r.staged)
}

// Cancel implements Executor. The engine call in flight is not stopped;
// see Sandboxed.
func (s *Sandboxed) Cancel() CancelResult {
	return s.cancel()
}

// engineName returns the virtual file name for a job artifact. The whole
// job ID is kept so concurrent jobs and validations never share a name.
func engineName(r *run, name string) string {
	return "job" + strings.ReplaceAll(r.job.ID, "-", "") + "_" + name
}

func (s *Sandboxed) stage(ctx context.Context, r *run, report func(progress.Update)) error {
	if !s.engine.Loaded() {
		report(progress.Update{Percent: loadingPercent, Phase: progress.PhaseLoading, Message: msgLoading})
		if err := s.load(ctx); err != nil {
			return err
		}
	}
	if err := s.copyIn(r, report); err != nil {
		return err
	}

	ext := filepath.Ext(r.job.Output)
	if ext == "" {
		ext = filepath.Ext(r.job.Inputs[0])
	}
	if ext == "" {
		ext = ".mp4"
	}
	r.output = engineName(r, "output"+ext)
	return nil
}

// copyIn writes every input into the engine, reporting per-file progress
// inside the first half of the validating range when report is set.
func (s *Sandboxed) copyIn(r *run, report func(progress.Update)) error {
	n := len(r.job.Inputs)
	r.staged = make([]string, 0, n)
	for i, in := range r.job.Inputs {
		data, err := os.ReadFile(in)
		if err != nil {
			return errors.NewIOError(fmt.Sprintf("failed to read %s", in), err)
		}
		ext := filepath.Ext(in)
		if ext == "" {
			ext = ".mp4"
		}
		name := engineName(r, fmt.Sprintf("video%d%s", i, ext))
		if err := s.engine.WriteFile(name, data); err != nil {
			return err
		}
		r.staged = append(r.staged, name)

		if report != nil {
			pct := uint8((i + 1) * int(s.cfg.ValidateEndPercent) / (2 * n))
			report(progress.Update{
				Percent: pct,
				Phase:   progress.PhaseValidating,
				Message: fmt.Sprintf("Loaded %d/%d files", i+1, n),
			})
		}
	}
	return nil
}

func (s *Sandboxed) prober() ffprobe.Prober {
	return engineProber{s.engine}
}

// engineProber probes files inside the engine's virtual filesystem.
type engineProber struct {
	engine sandbox.Engine
}

func (p engineProber) Probe(ctx context.Context, name string) (*ffprobe.MediaParameters, error) {
	return p.engine.Probe(ctx, name)
}

func (s *Sandboxed) writeManifest(r *run, content string) (string, func() error, error) {
	name := engineName(r, "list.txt")
	if err := s.engine.WriteFile(name, []byte(content)); err != nil {
		return "", nil, err
	}
	return name, func() error { return s.engine.DeleteFile(name) }, nil
}

// exec runs the engine call to completion. ctx is not consulted once the
// call has started.
func (s *Sandboxed) exec(_ context.Context, _ *run, args []string, _ float64, onProgress ffmpeg.ProgressCallback) error {
	return s.engine.Exec(args, func(ev sandbox.Event) {
		pct := -1.0
		if ev.Ratio >= 0 {
			pct = min(ev.Ratio*100, 100)
		}
		onProgress(ffmpeg.Progress{ElapsedSecs: ev.TimeSecs, Percent: pct})
	})
}

func (s *Sandboxed) finalize(r *run) error {
	data, err := s.engine.ReadFile(r.output)
	if err != nil {
		return err
	}
	if r.sink != nil {
		if _, err := r.sink.Write(data); err != nil {
			return errors.NewIOError("failed to write output", err)
		}
		return nil
	}
	if err := os.WriteFile(r.job.Output, data, 0644); err != nil {
		return errors.NewIOError(fmt.Sprintf("failed to write %s", r.job.Output), err)
	}
	return nil
}

func (s *Sandboxed) release(r *run) {
	names := append([]string(nil), r.staged...)
	if r.output != "" {
		names = append(names, r.output)
	}
	for _, name := range names {
		if err := s.engine.DeleteFile(name); err != nil {
			s.log.Warn("failed to delete engine file", "file", name, "error", err)
		}
	}
}

func (s *Sandboxed) cancellable() bool {
	return false
}
