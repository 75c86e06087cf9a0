package executor

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/five82/splice/internal/config"
	"github.com/five82/splice/internal/errors"
	"github.com/five82/splice/internal/ffmpeg"
	"github.com/five82/splice/internal/ffprobe"
	"github.com/five82/splice/internal/logging"
	"github.com/five82/splice/internal/progress"
	"github.com/five82/splice/internal/sandbox"
)

func strPtr(s string) *string { return &s }

func mediaParams(codec string, w, h uint32, audio string, dur float64) *ffprobe.MediaParameters {
	p := &ffprobe.MediaParameters{Codec: codec, Width: w, Height: h, FrameRate: 30, Duration: dur}
	if audio != "" {
		p.AudioCodec = strPtr(audio)
	}
	return p
}

type fakeProber struct {
	results map[string]*ffprobe.MediaParameters
}

func (f *fakeProber) Probe(_ context.Context, path string) (*ffprobe.MediaParameters, error) {
	p, ok := f.results[path]
	if !ok {
		return nil, errors.NewProbeError(path, "cannot open file", nil)
	}
	return p, nil
}

type fakeProcess struct {
	ctx  context.Context
	done chan struct{}
	once sync.Once
	err  error

	mu         sync.Mutex
	terminated bool
}

func (p *fakeProcess) Wait() error {
	select {
	case <-p.done:
	case <-p.ctx.Done():
		return errors.NewCancelledError()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.terminated {
		return errors.NewCancelledError()
	}
	return p.err
}

func (p *fakeProcess) Terminate() error {
	p.mu.Lock()
	p.terminated = true
	p.mu.Unlock()
	p.once.Do(func() { close(p.done) })
	return nil
}

// fakeRunner records every engine call and the concat list it was given.
type fakeRunner struct {
	mu        sync.Mutex
	calls     []ffmpeg.Command
	manifests []string
	progress  []ffmpeg.Progress
	err       error
	block     bool
	started   chan struct{}
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{started: make(chan struct{}, 4)}
}

func (r *fakeRunner) Start(ctx context.Context, c ffmpeg.Command, cb ffmpeg.ProgressCallback) (ffmpeg.Process, error) {
	r.mu.Lock()
	r.calls = append(r.calls, c)
	if m := manifestArg(c.Args); m != "" {
		data, _ := os.ReadFile(m)
		r.manifests = append(r.manifests, string(data))
	}
	block, err, prog := r.block, r.err, r.progress
	r.mu.Unlock()

	for _, p := range prog {
		if cb != nil {
			cb(p)
		}
	}
	proc := &fakeProcess{ctx: ctx, done: make(chan struct{}), err: err}
	if !block {
		proc.once.Do(func() { close(proc.done) })
	}
	select {
	case r.started <- struct{}{}:
	default:
	}
	return proc, nil
}

func (r *fakeRunner) setBlock(b bool) {
	r.mu.Lock()
	r.block = b
	r.mu.Unlock()
}

func (r *fakeRunner) lastCall(t *testing.T) ffmpeg.Command {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.calls) == 0 {
		t.Fatal("engine was not called")
	}
	return r.calls[len(r.calls)-1]
}

// manifestArg returns the concat list path in a stream copy argument list.
func manifestArg(args []string) string {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == "-f" && args[i+1] == "concat" {
			for k := i + 2; k+1 < len(args); k++ {
				if args[k] == "-i" {
					return args[k+1]
				}
			}
		}
	}
	return ""
}

// inputArgs returns every -i value.
func inputArgs(args []string) []string {
	var out []string
	for i := 0; i+1 < len(args); i++ {
		if args[i] == "-i" {
			out = append(out, args[i+1])
		}
	}
	return out
}

func argValue(args []string, key string) string {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == key {
			return args[i+1]
		}
	}
	return ""
}

// memEngine is an in-memory sandbox engine. Exec concatenates the bytes
// of its inputs into the output name.
type memEngine struct {
	mu      sync.Mutex
	loaded  bool
	loadErr error
	files   map[string][]byte
	// params is keyed by file content.
	params map[string]*ffprobe.MediaParameters
	execs  [][]string
	events []sandbox.Event
	// release, when set, blocks Exec until closed.
	release chan struct{}
	running chan struct{}
}

func newMemEngine() *memEngine {
	return &memEngine{
		files:   map[string][]byte{},
		params:  map[string]*ffprobe.MediaParameters{},
		running: make(chan struct{}, 4),
	}
}

func (e *memEngine) Load(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.loadErr != nil {
		return e.loadErr
	}
	e.loaded = true
	return nil
}

func (e *memEngine) Loaded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loaded
}

func (e *memEngine) WriteFile(name string, data []byte) error {
	if err := sandbox.ValidateName(name); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.files[name] = append([]byte(nil), data...)
	return nil
}

func (e *memEngine) ReadFile(name string) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	data, ok := e.files[name]
	if !ok {
		return nil, errors.NewIOError("read "+name, os.ErrNotExist)
	}
	return data, nil
}

func (e *memEngine) DeleteFile(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.files, name)
	return nil
}

func (e *memEngine) Probe(_ context.Context, name string) (*ffprobe.MediaParameters, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	data, ok := e.files[name]
	if !ok {
		return nil, errors.NewProbeError(name, "cannot open file", nil)
	}
	p, ok := e.params[string(data)]
	if !ok {
		return nil, errors.NewProbeError(name, "no video stream found", nil)
	}
	return p, nil
}

func (e *memEngine) Exec(args []string, onProgress func(sandbox.Event)) error {
	e.mu.Lock()
	e.execs = append(e.execs, append([]string(nil), args...))
	release := e.release
	events := e.events
	e.mu.Unlock()

	select {
	case e.running <- struct{}{}:
	default:
	}
	if release != nil {
		<-release
	}
	for _, ev := range events {
		if onProgress != nil {
			onProgress(ev)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	var sources []string
	if m := manifestArg(args); m != "" {
		for _, line := range strings.Split(strings.TrimSpace(string(e.files[m])), "\n") {
			sources = append(sources, strings.Trim(strings.TrimPrefix(line, "file "), "'"))
		}
	} else {
		sources = inputArgs(args)
	}
	var out []byte
	for _, src := range sources {
		data, ok := e.files[src]
		if !ok {
			return errors.NewEngineError(src+": No such file or directory", nil)
		}
		out = append(out, data...)
	}
	e.files[args[len(args)-1]] = out
	return nil
}

func (e *memEngine) Close() error { return nil }

func (e *memEngine) fileCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.files)
}

// recorder collects every published snapshot.
type recorder struct {
	mu    sync.Mutex
	snaps []progress.Snapshot
}

func (r *recorder) observe(s progress.Snapshot) {
	r.mu.Lock()
	r.snaps = append(r.snaps, s)
	r.mu.Unlock()
}

func (r *recorder) forJob(id string) []progress.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []progress.Snapshot
	for _, s := range r.snaps {
		if s.JobID == id {
			out = append(out, s)
		}
	}
	return out
}

func (r *recorder) all() []progress.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]progress.Snapshot(nil), r.snaps...)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewConfig()
	cfg.TempDir = t.TempDir()
	return cfg
}

func newTestTracker() (*progress.Tracker, *recorder) {
	tr := progress.NewTracker(64)
	rec := &recorder{}
	tr.AddObserver(rec.observe)
	return tr, rec
}

func quietLogger() Option {
	return WithLogger(logging.Discard())
}

// touchInputs creates named files under dir and returns their paths.
func touchInputs(t *testing.T, dir string, names ...string) []string {
	t.Helper()
	paths := make([]string, len(names))
	for i, n := range names {
		paths[i] = filepath.Join(dir, n)
		if err := os.WriteFile(paths[i], []byte(n), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return paths
}

func waitSignal(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func waitResult(t *testing.T, h *Handle) error {
	t.Helper()
	ch := make(chan error, 1)
	go func() { ch <- h.Wait().Err }()
	select {
	case err := <-ch:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for job result")
		return nil
	}
}
