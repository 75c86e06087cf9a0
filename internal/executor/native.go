package executor

import (
	"context"
	"os"
	"path/filepath"

	"github.com/five82/splice/internal/compat"
	"github.com/five82/splice/internal/config"
	"github.com/five82/splice/internal/errors"
	"github.com/five82/splice/internal/ffmpeg"
	"github.com/five82/splice/internal/ffprobe"
	"github.com/five82/splice/internal/metrics"
	"github.com/five82/splice/internal/progress"
	"github.com/five82/splice/internal/util"
)

// ManifestPrefix names concat lists in the temp directory.
const ManifestPrefix = "concat_list"

// Native runs ffmpeg as a child process. Cancel kills the process group.
type Native struct {
	*pipeline
	runner ffmpeg.Runner
	probe  ffprobe.Prober
}

var _ Executor = (*Native)(nil)

// NewNative creates a native executor from cfg.
func NewNative(cfg *config.Config, opts ...Option) *Native {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	n := &Native{runner: o.runner, probe: o.prober}
	if n.runner == nil {
		n.runner = ffmpeg.NewProcessRunner(cfg.FFmpegPath)
	}
	if n.probe == nil {
		n.probe = ffprobe.NewCLIProber(cfg.FFprobePath, cfg.ProbeTimeout)
	}
	n.pipeline = newPipeline(metrics.ExecutorNative, cfg, n, o)
	return n
}

// Start implements Executor.
func (n *Native) Start(ctx context.Context, inputs []string, output string) (*Handle, error) {
	return n.start(ctx, inputs, output, nil)
}

// Concatenate implements Executor.
func (n *Native) Concatenate(ctx context.Context, inputs []string, output string) error {
	return n.concatenate(ctx, inputs, output, nil)
}

// ValidateCompatibility implements Executor.
func (n *Native) ValidateCompatibility(ctx context.Context, inputs []string) (compat.Verdict, error) {
	return n.validate(ctx, inputs)
}

// Cancel implements Executor. The engine process group is killed.
func (n *Native) Cancel() CancelResult {
	return n.cancel()
}

// stage resolves inputs to absolute paths. The concat demuxer resolves
// relative entries against the list's directory, not the working one.
func (n *Native) stage(_ context.Context, r *run, _ func(progress.Update)) error {
	r.staged = make([]string, len(r.job.Inputs))
	for i, in := range r.job.Inputs {
		abs, err := filepath.Abs(in)
		if err != nil {
			return errors.NewPathError("cannot resolve input " + in)
		}
		r.staged[i] = abs
	}
	r.output = r.job.Output
	return nil
}

func (n *Native) prober() ffprobe.Prober {
	return n.probe
}

func (n *Native) writeManifest(_ *run, content string) (string, func() error, error) {
	path, err := util.CreateTempFilePath(n.cfg.GetTempDir(), ManifestPrefix, "txt")
	if err != nil {
		return "", nil, errors.NewIOError("failed to create concat list", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", nil, errors.NewIOError("failed to write concat list", err)
	}
	return path, func() error { return os.Remove(path) }, nil
}

func (n *Native) exec(ctx context.Context, r *run, args []string, totalSecs float64, onProgress ffmpeg.ProgressCallback) error {
	proc, err := n.runner.Start(ctx, ffmpeg.Command{Args: args, TotalSecs: totalSecs}, onProgress)
	if err != nil {
		return err
	}
	if !r.job.Attach(proc) {
		_ = proc.Terminate()
		_ = proc.Wait()
		return errors.NewCancelledError()
	}
	defer r.job.Detach()
	return proc.Wait()
}

// finalize is a no-op: ffmpeg writes the output path directly.
func (n *Native) finalize(*run) error {
	return nil
}

func (n *Native) release(*run) {}

func (n *Native) cancellable() bool {
	return true
}
