package executor

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/five82/splice/internal/compat"
	"github.com/five82/splice/internal/config"
	"github.com/five82/splice/internal/errors"
	"github.com/five82/splice/internal/ffmpeg"
	"github.com/five82/splice/internal/ffprobe"
	"github.com/five82/splice/internal/job"
	"github.com/five82/splice/internal/logging"
	"github.com/five82/splice/internal/metrics"
	"github.com/five82/splice/internal/progress"
	"github.com/five82/splice/internal/strategy"
	"github.com/five82/splice/internal/util"
	"github.com/five82/splice/internal/validation"
)

// Progress messages.
const (
	msgValidating    = "Validating input files..."
	msgManifest      = "Created concatenation list..."
	msgReencodeStart = "Starting re-encode..."
	msgStreamCopying = "Stream copying..."
	msgReencoding    = "Re-encoding..."
	msgFinalizing    = "Finalizing output..."
	msgComplete      = "Concatenation complete!"
	msgErrorPrefix   = "Error: "
)

// run is the per-job state shared between the pipeline and its backend.
type run struct {
	job   *job.Job
	sink  io.Writer
	start time.Time

	// staged are the input names the engine reads, in output order.
	staged []string
	// output is the name the engine writes to.
	output string

	strategy string
}

// backend is the part of a job that depends on how the engine is reached.
type backend interface {
	// stage makes the inputs visible to the engine and fills r.staged and
	// r.output.
	stage(ctx context.Context, r *run, report func(progress.Update)) error
	prober() ffprobe.Prober
	// writeManifest stores the concat list and returns its engine name and
	// a function that removes it.
	writeManifest(r *run, content string) (name string, remove func() error, err error)
	// exec runs one engine call. totalSecs is zero when unknown.
	exec(ctx context.Context, r *run, args []string, totalSecs float64, onProgress ffmpeg.ProgressCallback) error
	// finalize delivers the engine output to the caller's target.
	finalize(r *run) error
	// release removes everything stage created. Failures are logged only.
	release(r *run)
	cancellable() bool
}

// pipeline is the strategy-independent job runner.
type pipeline struct {
	name    string
	cfg     *config.Config
	be      backend
	tracker *progress.Tracker
	log     *logging.Logger

	slot    job.Slot
	onStart StartHook

	// pubMu orders slot changes with the snapshots published for them, so
	// nothing from a finished or cancelled job lands after its final state.
	pubMu sync.Mutex
}

func newPipeline(name string, cfg *config.Config, be backend, o *options) *pipeline {
	tracker := o.tracker
	if tracker == nil {
		tracker = progress.NewTracker(cfg.SubscriberBuffer)
	}
	log := o.logger
	if log == nil {
		log = logging.Global()
	}
	return &pipeline{
		name:    name,
		cfg:     cfg,
		be:      be,
		tracker: tracker,
		onStart: o.onStart,
		log:     log.WithPrefix("executor").With("executor", name),
	}
}

func (p *pipeline) preset() ffmpeg.EncodePreset {
	return ffmpeg.EncodePreset{
		VideoCodec:   p.cfg.VideoCodec,
		VideoPreset:  p.cfg.VideoPreset,
		CRF:          p.cfg.VideoCRF,
		AudioCodec:   p.cfg.AudioCodec,
		AudioBitrate: p.cfg.AudioBitrate,
	}
}

// start claims the slot and launches the job. When sink is nil the output
// is written to the resolved output path.
func (p *pipeline) start(ctx context.Context, inputs []string, output string, sink io.Writer) (*Handle, error) {
	if len(inputs) > 0 && sink == nil {
		output = util.ResolveOutputPath(inputs[0], output)
	}

	p.pubMu.Lock()
	j, err := p.slot.Begin(ctx, inputs, output)
	if err != nil {
		p.pubMu.Unlock()
		if errors.IsBusy(err) {
			metrics.BusyRejections.WithLabelValues(p.name).Inc()
			p.log.Warn("rejected job while busy", "inputs", len(inputs))
		}
		return nil, err
	}
	if p.onStart != nil {
		p.onStart(j.ID, j.Inputs, j.Output)
	}
	p.tracker.Set(progress.Update{Phase: progress.PhaseValidating, Message: msgValidating, JobID: j.ID})
	p.pubMu.Unlock()

	metrics.JobsInProgress.WithLabelValues(p.name).Inc()
	p.log.Info("job started", "job", j.ID, "inputs", len(j.Inputs), "output", j.Output)

	done := make(chan Outcome, 1)
	go func() {
		r := &run{job: j, sink: sink, start: time.Now(), strategy: metrics.StrategyNone}
		err := p.finish(r, p.process(r))
		done <- Outcome{Strategy: r.strategy, Err: err}
		close(done)
	}()
	return NewHandle(j.ID, j.Output, done), nil
}

func (p *pipeline) concatenate(ctx context.Context, inputs []string, output string, sink io.Writer) error {
	h, err := p.start(ctx, inputs, output, sink)
	if err != nil {
		return err
	}
	return h.Wait().Err
}

// report publishes u for j unless j is no longer the active job.
func (p *pipeline) report(j *job.Job, u progress.Update) {
	p.pubMu.Lock()
	defer p.pubMu.Unlock()
	if p.slot.Active() != j {
		return
	}
	u.JobID = j.ID
	p.tracker.Set(u)
}

// transition moves j forward, treating a refused move as cancellation.
func transition(j *job.Job, to job.State) error {
	if err := j.Transition(to); err != nil {
		if j.State() == job.StateCancelled {
			return errors.NewCancelledError()
		}
		return err
	}
	return nil
}

func (p *pipeline) process(r *run) error {
	j := r.job
	ctx := j.Context()
	log := p.log.With("job", j.ID)

	defer p.be.release(r)
	if err := p.be.stage(ctx, r, func(u progress.Update) { p.report(j, u) }); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return errors.NewCancelledError()
	}

	verdict, params := p.check(ctx, log, r.staged)
	if err := transition(j, job.StateSelecting); err != nil {
		return err
	}

	s := strategy.Select(verdict)
	r.strategy = s.String()
	log.Info("strategy selected", "strategy", r.strategy, "issues", len(verdict.Issues))
	p.report(j, progress.Update{Percent: p.cfg.ValidateEndPercent, Phase: progress.PhaseProcessing, Message: s.Description()})

	if err := transition(j, job.StateEncoding); err != nil {
		return err
	}

	total, _ := compat.TotalDuration(params)
	var err error
	switch s {
	case strategy.StreamCopy:
		err = p.streamCopy(ctx, log, r, total)
	default:
		err = p.reencode(ctx, r, params, total)
	}
	if err != nil {
		return err
	}

	p.report(j, progress.Update{Percent: p.cfg.EncodeEndPercent, Phase: progress.PhaseProcessing, Message: msgFinalizing})
	if ctx.Err() != nil {
		return errors.NewCancelledError()
	}
	if p.cfg.VerifyOutput {
		p.verify(ctx, log, r, s, params)
	}
	return p.be.finalize(r)
}

// verify compares the engine output with what the inputs predict. A
// mismatch is logged and counted but never fails the job.
func (p *pipeline) verify(ctx context.Context, log *logging.Logger, r *run, s strategy.Strategy, params []*ffprobe.MediaParameters) {
	opts := validation.ExpectationsFor(params, s == strategy.Reencode, p.cfg.VideoCodec)
	result, err := validation.Validate(ctx, p.be.prober(), r.output, opts)
	if err != nil {
		metrics.OutputVerifications.WithLabelValues(metrics.VerifySkipped).Inc()
		log.Warn("output verification skipped", "error", err)
		return
	}
	if result.IsValid() {
		metrics.OutputVerifications.WithLabelValues(metrics.VerifyPassed).Inc()
		log.Debug("output verified", "codec", result.CodecName, "duration", util.FormatDuration(result.ActualDuration))
		return
	}
	metrics.OutputVerifications.WithLabelValues(metrics.VerifyFailed).Inc()
	for _, failure := range result.GetFailures() {
		log.Warn("output verification failed", "check", failure)
	}
}

// check probes and compares the staged inputs. Probe failures degrade to
// an incompatible verdict and are only logged.
func (p *pipeline) check(ctx context.Context, log *logging.Logger, names []string) (compat.Verdict, []*ffprobe.MediaParameters) {
	verdict, params, probeErr := compat.CheckFiles(ctx, p.be.prober(), names)
	switch {
	case probeErr != nil:
		metrics.ProbeFailures.Inc()
		metrics.CompatibilityChecks.WithLabelValues(metrics.ResultProbeFailed).Inc()
		log.Warn("probe failed, falling back to re-encode", "error", probeErr)
	case verdict.Compatible:
		metrics.CompatibilityChecks.WithLabelValues(metrics.ResultCompatible).Inc()
	default:
		metrics.CompatibilityChecks.WithLabelValues(metrics.ResultIncompatible).Inc()
	}
	for _, issue := range verdict.Issues {
		log.Debug("compatibility issue", "issue", issue)
	}
	return verdict, params
}

func (p *pipeline) streamCopy(ctx context.Context, log *logging.Logger, r *run, total float64) error {
	manifest, remove, err := p.be.writeManifest(r, ffmpeg.FormatManifest(r.staged))
	if err != nil {
		return err
	}
	defer func() {
		if err := remove(); err != nil {
			log.Warn("failed to remove concat list", "manifest", manifest, "error", err)
		}
	}()

	p.report(r.job, progress.Update{Percent: p.cfg.EncodeStartPercent, Phase: progress.PhaseEncoding, Message: msgManifest})
	return p.encode(ctx, r, ffmpeg.StreamCopyArgs(manifest, r.output), total, msgStreamCopying)
}

func (p *pipeline) reencode(ctx context.Context, r *run, params []*ffprobe.MediaParameters, total float64) error {
	segments := make([]ffmpeg.Segment, len(r.staged))
	for i := range segments {
		if params == nil {
			segments[i] = ffmpeg.Segment{HasAudio: true}
			continue
		}
		mp := params[i]
		segments[i] = ffmpeg.Segment{
			Width:    mp.Width,
			Height:   mp.Height,
			HasAudio: mp.HasAudio(),
			Duration: mp.Duration,
		}
	}

	graph := ffmpeg.BuildConcatGraph(segments)
	p.log.Debug("re-encode preset", "job", r.job.ID, "preset", p.preset().String())
	p.report(r.job, progress.Update{Percent: p.cfg.EncodeStartPercent, Phase: progress.PhaseEncoding, Message: msgReencodeStart})
	return p.encode(ctx, r, ffmpeg.ReencodeArgs(r.staged, graph, r.output, p.preset()), total, msgReencoding)
}

// encode runs the engine and maps its progress onto the encoding range.
func (p *pipeline) encode(ctx context.Context, r *run, args []string, total float64, label string) error {
	rng := progress.Range{Start: p.cfg.EncodeStartPercent, End: p.cfg.EncodeEndPercent}
	began := time.Now()

	return p.be.exec(ctx, r, args, total, func(pr ffmpeg.Progress) {
		pct := pr.Percent
		if pct < 0 && total > 0 {
			pct = min(pr.ElapsedSecs/total*100, 100)
		}

		u := progress.Update{
			Percent: p.cfg.EncodeStartPercent,
			Phase:   progress.PhaseEncoding,
			Message: label + " " + util.FormatTimemark(pr.ElapsedSecs),
		}
		if pct >= 0 {
			u.Percent = rng.Map(pct)
			if pr.Speed > 0 && total > 0 {
				u.ETASeconds = progress.EngineETA(total, pr.ElapsedSecs, float64(pr.Speed))
			} else {
				u.ETASeconds = progress.ElapsedETA(time.Since(began), pct)
			}
		}
		p.report(r.job, u)
	})
}

// finish publishes the terminal state for r and returns the job result.
// A job that was cancelled meanwhile publishes nothing further.
func (p *pipeline) finish(r *run, err error) error {
	j := r.job
	log := p.log.With("job", j.ID, "strategy", r.strategy)
	if err != nil && !errors.IsCancelled(err) && j.Context().Err() != nil {
		err = errors.NewCancelledError()
	}

	p.pubMu.Lock()
	status := metrics.StatusCancelled
	switch {
	case err == nil:
		if p.slot.Finish(j, job.StateComplete) {
			status = metrics.StatusComplete
			p.tracker.Set(progress.Update{Percent: 100, Phase: progress.PhaseComplete, Message: msgComplete, JobID: j.ID})
		} else {
			err = errors.NewCancelledError()
		}
	case errors.IsCancelled(err):
		if p.slot.Finish(j, job.StateCancelled) {
			p.tracker.Set(progress.Update{Phase: progress.PhaseIdle, Message: progress.MessageCancelled, JobID: j.ID})
		}
	default:
		if p.slot.Finish(j, job.StateError) {
			status = metrics.StatusError
			p.tracker.Set(progress.Update{Phase: progress.PhaseError, Message: msgErrorPrefix + err.Error(), JobID: j.ID})
		} else {
			err = errors.NewCancelledError()
		}
	}
	p.pubMu.Unlock()

	elapsed := time.Since(r.start)
	metrics.JobsInProgress.WithLabelValues(p.name).Dec()
	metrics.JobsTotal.WithLabelValues(p.name, r.strategy, status).Inc()
	metrics.JobDuration.WithLabelValues(p.name, r.strategy).Observe(elapsed.Seconds())

	switch status {
	case metrics.StatusComplete:
		log.Info("job complete", "output", j.Output, "duration", util.FormatDuration(elapsed.Seconds()))
	case metrics.StatusError:
		log.Error("job failed", "error", err)
	default:
		log.Info("job cancelled")
	}
	return err
}

// cancel releases the slot and publishes the cancelled state.
func (p *pipeline) cancel() CancelResult {
	p.pubMu.Lock()
	j, termErr := p.slot.Cancel()
	u := progress.Update{Phase: progress.PhaseIdle, Message: progress.MessageCancelled}
	if j != nil {
		u.JobID = j.ID
	}
	p.tracker.Set(u)
	p.pubMu.Unlock()

	res := CancelResult{Cancellable: p.be.cancellable()}
	if j == nil {
		return res
	}
	res.Cancelled = true
	res.JobID = j.ID
	if termErr != nil {
		p.log.Warn("failed to terminate engine", "job", j.ID, "error", termErr)
	}
	if !res.Cancellable {
		p.log.Warn("engine call cannot be interrupted and will run to completion in the background", "job", j.ID)
	}
	p.log.Info("cancel requested", "job", j.ID)
	return res
}

func (p *pipeline) validate(ctx context.Context, names []string) (compat.Verdict, error) {
	if len(names) == 0 {
		return compat.Verdict{}, errors.NewInvalidInputError("no input files provided")
	}
	verdict, _ := p.check(ctx, p.log, names)
	return verdict, nil
}

func (p *pipeline) Progress() progress.Snapshot {
	return p.tracker.Snapshot()
}

func (p *pipeline) Subscribe() (<-chan progress.Snapshot, func()) {
	return p.tracker.Subscribe()
}

func (p *pipeline) Busy() bool {
	return p.slot.Busy()
}

func (p *pipeline) Cancellable() bool {
	return p.be.cancellable()
}
