// Package job tracks the single active concatenation job of an executor.
package job

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/five82/splice/internal/errors"
)

// State is the lifecycle stage of a job.
type State int

const (
	StateIdle State = iota
	StateValidating
	StateSelecting
	StateEncoding
	StateComplete
	StateError
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateValidating:
		return "validating"
	case StateSelecting:
		return "selecting"
	case StateEncoding:
		return "encoding"
	case StateComplete:
		return "complete"
	case StateError:
		return "error"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether no further transitions are possible.
func (s State) IsTerminal() bool {
	return s == StateComplete || s == StateError || s == StateCancelled
}

// isValidTransition enforces the allowed job state machine edges.
func isValidTransition(from, to State) bool {
	switch from {
	case StateIdle:
		return to == StateValidating
	case StateValidating:
		return to == StateSelecting || to == StateError || to == StateCancelled
	case StateSelecting:
		return to == StateEncoding || to == StateError || to == StateCancelled
	case StateEncoding:
		return to == StateComplete || to == StateError || to == StateCancelled
	default:
		return false
	}
}

// NewID returns a collision-resistant job identifier.
func NewID() string {
	return uuid.NewString()
}

// Handle is a running external operation that can be stopped forcefully.
type Handle interface {
	Terminate() error
}

// Job is one concatenation request. Inputs are in output order.
type Job struct {
	ID      string
	Inputs  []string
	Output  string
	Created time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	state  State
	handle Handle
}

// Context is cancelled when the job is cancelled or finished.
func (j *Job) Context() context.Context {
	return j.ctx
}

// State returns the current state.
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Transition moves the job to the given state.
func (j *Job) Transition(to State) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state == to {
		return nil
	}
	if !isValidTransition(j.state, to) {
		return fmt.Errorf("invalid transition: %s -> %s", j.state, to)
	}
	j.state = to
	return nil
}

// Attach records the running external operation. It returns false if the
// job is already terminal, in which case the caller must stop h itself.
func (j *Job) Attach(h Handle) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state.IsTerminal() {
		return false
	}
	j.handle = h
	return true
}

// Detach clears the running operation handle.
func (j *Job) Detach() {
	j.mu.Lock()
	j.handle = nil
	j.mu.Unlock()
}

// terminal moves the job to a terminal state and returns the handle that
// was active, or ok=false if the job had already finished.
func (j *Job) terminal(to State) (h Handle, ok bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state.IsTerminal() {
		return nil, false
	}
	j.state = to
	h = j.handle
	j.handle = nil
	return h, true
}

// Slot holds at most one active job. A second Begin while one is active is
// rejected, never queued.
type Slot struct {
	mu     sync.Mutex
	active *Job
}

// Begin atomically claims the slot and returns a job in the Validating
// state. It fails with a busy error if another job is active, or an
// invalid input error for an empty input list.
func (s *Slot) Begin(parent context.Context, inputs []string, output string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil {
		return nil, errors.NewBusyError()
	}
	if len(inputs) == 0 {
		return nil, errors.NewInvalidInputError("no input files provided")
	}

	ctx, cancel := context.WithCancel(parent)
	j := &Job{
		ID:      NewID(),
		Inputs:  append([]string(nil), inputs...),
		Output:  output,
		Created: time.Now(),
		ctx:     ctx,
		cancel:  cancel,
		state:   StateIdle,
	}
	_ = j.Transition(StateValidating)
	s.active = j
	return j, nil
}

// Active returns the active job or nil.
func (s *Slot) Active() *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Busy reports whether a job is active.
func (s *Slot) Busy() bool {
	return s.Active() != nil
}

// Finish moves j to a terminal state and releases the slot. It returns
// false if j is no longer the active job, for example because it was
// cancelled; the caller must then not publish any further state for it.
func (s *Slot) Finish(j *Job, to State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != j {
		return false
	}
	if _, ok := j.terminal(to); !ok {
		return false
	}
	s.active = nil
	j.cancel()
	return true
}

// Cancel cancels the active job, if any, and releases the slot
// immediately. The job's context is cancelled and its handle terminated.
// The returned error is from Terminate and does not affect the release.
func (s *Slot) Cancel() (*Job, error) {
	s.mu.Lock()
	j := s.active
	if j == nil {
		s.mu.Unlock()
		return nil, nil
	}
	h, _ := j.terminal(StateCancelled)
	s.active = nil
	s.mu.Unlock()

	j.cancel()
	if h != nil {
		return j, h.Terminate()
	}
	return j, nil
}
