package ffmpeg

import (
	"context"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/five82/splice/internal/errors"
	"github.com/five82/splice/internal/logging"
)

// Command is one engine invocation.
type Command struct {
	Args []string
	// TotalSecs is the expected output duration used to compute percent.
	// Zero means unknown.
	TotalSecs float64
	// Dir is the working directory. Empty means the current one.
	Dir string
}

// Process is a running engine invocation.
type Process interface {
	// Wait blocks until the engine exits.
	Wait() error
	// Terminate stops the engine forcefully.
	Terminate() error
}

// Runner starts engine invocations.
type Runner interface {
	Start(ctx context.Context, cmd Command, onProgress ProgressCallback) (Process, error)
}

// killGrace bounds how long Wait waits for output pipes after a kill.
const killGrace = 2 * time.Second

// ProcessRunner runs the ffmpeg binary as a child process in its own
// process group, so termination also reaches any helpers it spawned.
type ProcessRunner struct {
	// Path is the ffmpeg binary. Empty means "ffmpeg" on PATH.
	Path string
}

// NewProcessRunner creates a runner for the given binary.
func NewProcessRunner(path string) *ProcessRunner {
	return &ProcessRunner{Path: path}
}

type process struct {
	cmd  *exec.Cmd
	ctx  context.Context
	bin  string
	done chan struct{}
	tail stderrTail

	mu         sync.Mutex
	waitErr    error
	terminated bool
}

// Start launches ffmpeg. Cancelling ctx kills the process group.
func (r *ProcessRunner) Start(ctx context.Context, c Command, onProgress ProgressCallback) (Process, error) {
	bin := r.Path
	if bin == "" {
		bin = "ffmpeg"
	}

	cmd := exec.CommandContext(ctx, bin, c.Args...)
	cmd.Dir = c.Dir
	cmd.WaitDelay = killGrace
	setProcessGroup(cmd)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, errors.NewCommandStartError(bin, err)
	}

	logging.Debug("starting engine", "bin", bin, "args", strings.Join(c.Args, " "))
	if err := cmd.Start(); err != nil {
		return nil, errors.NewCommandStartError(bin, err)
	}

	p := &process{cmd: cmd, ctx: ctx, bin: bin, done: make(chan struct{})}
	go func() {
		parseProgress(stderr, &p.tail, c.TotalSecs, onProgress)
		err := cmd.Wait()
		p.mu.Lock()
		p.waitErr = err
		p.mu.Unlock()
		close(p.done)
	}()
	return p, nil
}

// Wait blocks until ffmpeg exits. A kill through Terminate or ctx yields a
// cancelled error; a non-zero exit yields an engine error carrying the
// last line ffmpeg logged.
func (p *process) Wait() error {
	<-p.done
	p.mu.Lock()
	err, terminated := p.waitErr, p.terminated
	p.mu.Unlock()

	if err == nil {
		return nil
	}
	if terminated || p.ctx.Err() != nil {
		return errors.NewCancelledError()
	}

	stderr := p.tail.String()
	if strings.Contains(stderr, "No streams found") {
		return errors.NewNoStreamsFoundError(p.bin)
	}
	reason := lastErrorLine(stderr)
	cause := errors.WrapExecError(p.bin, err, reason)
	if reason == "" {
		reason = err.Error()
	}
	return errors.NewEngineError(reason, cause)
}

// Terminate kills the process group. It is safe to call more than once
// and after exit.
func (p *process) Terminate() error {
	p.mu.Lock()
	p.terminated = true
	p.mu.Unlock()

	select {
	case <-p.done:
		return nil
	default:
	}
	return killProcessGroup(p.cmd)
}
