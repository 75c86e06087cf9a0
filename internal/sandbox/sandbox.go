// Package sandbox is the in-process engine boundary. Inputs are written into
// a private virtual filesystem, the engine is invoked through a call
// interface, and outputs are read back as bytes. A running Exec cannot be
// interrupted.
package sandbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/five82/splice/internal/errors"
	"github.com/five82/splice/internal/ffmpeg"
	"github.com/five82/splice/internal/ffprobe"
	"github.com/five82/splice/internal/util"
)

// ScratchPrefix names engine scratch directories in the base directory.
const ScratchPrefix = "splice_sandbox"

// Event is an engine progress report.
type Event struct {
	// Ratio is completion in 0-1, or negative when unknown.
	Ratio float64
	// TimeSecs is the engine position in the output.
	TimeSecs float64
}

// Engine is an in-process transcoding engine.
type Engine interface {
	// Load prepares the engine. It is safe to call more than once.
	Load(ctx context.Context) error
	// Loaded reports whether Load has succeeded.
	Loaded() bool
	WriteFile(name string, data []byte) error
	ReadFile(name string) ([]byte, error)
	DeleteFile(name string) error
	// Probe reads media parameters of a file in the virtual filesystem.
	Probe(ctx context.Context, name string) (*ffprobe.MediaParameters, error)
	// Exec runs the engine with args that refer to virtual file names.
	// It runs to completion once started.
	Exec(args []string, onProgress func(Event)) error
	// Close releases the virtual filesystem.
	Close() error
}

// ScratchEngine backs the virtual filesystem with a private scratch
// directory and runs ffmpeg inside it. Exec calls are serialized.
type ScratchEngine struct {
	ffmpegPath  string
	ffprobePath string
	baseDir     string

	mu      sync.Mutex
	scratch *util.TempDir

	execMu sync.Mutex
	runner ffmpeg.Runner
}

// NewScratchEngine creates an engine whose scratch space lives under baseDir.
func NewScratchEngine(ffmpegPath, ffprobePath, baseDir string) *ScratchEngine {
	return &ScratchEngine{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		baseDir:     baseDir,
		runner:      ffmpeg.NewProcessRunner(ffmpegPath),
	}
}

// Load checks the engine binaries and creates the scratch directory.
func (e *ScratchEngine) Load(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.scratch != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	for _, bin := range []string{e.ffmpegPath, e.ffprobePath} {
		if _, err := lookPath(bin); err != nil {
			return errors.NewCommandStartError(bin, err)
		}
	}

	dir, err := util.CreateTempDir(e.baseDir, ScratchPrefix)
	if err != nil {
		return errors.NewIOError("failed to create engine filesystem", err)
	}
	e.scratch = dir
	return nil
}

// Loaded reports whether Load has succeeded.
func (e *ScratchEngine) Loaded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.scratch != nil
}

// path resolves a virtual name inside the scratch directory.
func (e *ScratchEngine) path(name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.scratch == nil {
		return "", errors.NewEngineError("engine not loaded", nil)
	}
	return filepath.Join(e.scratch.Path(), name), nil
}

// WriteFile stores data under name.
func (e *ScratchEngine) WriteFile(name string, data []byte) error {
	p, err := e.path(name)
	if err != nil {
		return err
	}
	if err := os.WriteFile(p, data, 0644); err != nil {
		return errors.NewIOError(fmt.Sprintf("write %s", name), err)
	}
	return nil
}

// ReadFile returns the contents of name.
func (e *ScratchEngine) ReadFile(name string) ([]byte, error) {
	p, err := e.path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, errors.NewIOError(fmt.Sprintf("read %s", name), err)
	}
	return data, nil
}

// DeleteFile removes name. A missing file is not an error.
func (e *ScratchEngine) DeleteFile(name string) error {
	p, err := e.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return errors.NewIOError(fmt.Sprintf("delete %s", name), err)
	}
	return nil
}

// Probe runs ffprobe on a file in the virtual filesystem. Errors name the
// virtual file.
func (e *ScratchEngine) Probe(ctx context.Context, name string) (*ffprobe.MediaParameters, error) {
	p, err := e.path(name)
	if err != nil {
		return nil, err
	}
	params, err := ffprobe.NewCLIProber(e.ffprobePath, 0).Probe(ctx, p)
	if err != nil {
		return nil, errors.NewProbeError(name, "probe failed", err)
	}
	return params, nil
}

// Exec runs ffmpeg in the scratch directory. There is no way to stop it
// once started.
func (e *ScratchEngine) Exec(args []string, onProgress func(Event)) error {
	e.mu.Lock()
	loaded := e.scratch != nil
	var dir string
	if loaded {
		dir = e.scratch.Path()
	}
	e.mu.Unlock()
	if !loaded {
		return errors.NewEngineError("engine not loaded", nil)
	}

	e.execMu.Lock()
	defer e.execMu.Unlock()

	proc, err := e.runner.Start(context.Background(), ffmpeg.Command{Args: args, Dir: dir}, func(p ffmpeg.Progress) {
		if onProgress == nil {
			return
		}
		ratio := -1.0
		if p.Percent >= 0 {
			ratio = p.Percent / 100
		}
		onProgress(Event{Ratio: ratio, TimeSecs: p.ElapsedSecs})
	})
	if err != nil {
		return err
	}
	return proc.Wait()
}

// Close removes the scratch directory.
func (e *ScratchEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.scratch == nil {
		return nil
	}
	err := e.scratch.Cleanup()
	e.scratch = nil
	return err
}

// ValidateName rejects names that would escape the virtual filesystem.
func ValidateName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return errors.NewPathError(fmt.Sprintf("invalid engine file name %q", name))
	case strings.ContainsAny(name, `/\`), strings.ContainsRune(name, 0):
		return errors.NewPathError(fmt.Sprintf("engine file name %q must not contain separators", name))
	case strings.HasPrefix(name, "-"):
		return errors.NewPathError(fmt.Sprintf("engine file name %q must not start with '-'", name))
	}
	return nil
}
