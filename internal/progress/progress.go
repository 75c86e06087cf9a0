// Package progress holds the single mutable progress slot for a merger.
// The executor is the only writer. Readers either poll Snapshot or receive
// every change through observers and subscriptions.
package progress

import (
	"math"
	"sync"
	"time"
)

// Phase is the coarse stage of the current job.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseLoading    Phase = "loading"
	PhaseValidating Phase = "validating"
	PhaseProcessing Phase = "processing"
	PhaseEncoding   Phase = "encoding"
	PhaseComplete   Phase = "complete"
	PhaseError      Phase = "error"
)

// IsReset reports whether entering this phase may drop percent back to 0.
func (p Phase) IsReset() bool {
	return p == PhaseIdle || p == PhaseError
}

// Messages used outside of a running job.
const (
	MessageReady     = "Ready to process"
	MessageCancelled = "Cancelled"
)

// Snapshot is an immutable copy of the progress model.
type Snapshot struct {
	Percent    uint8     `json:"percent"`
	Phase      Phase     `json:"phase"`
	Message    string    `json:"message"`
	ETASeconds *uint32   `json:"estimatedTimeRemaining,omitempty"`
	JobID      string    `json:"jobId,omitempty"`
	Seq        uint64    `json:"seq"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Update is a requested change to the progress model.
type Update struct {
	Percent    uint8
	Phase      Phase
	Message    string
	ETASeconds *uint32
	JobID      string
}

// Observer is called synchronously, in order, for every change.
type Observer func(Snapshot)

// Tracker owns the progress slot.
type Tracker struct {
	mu        sync.Mutex
	cur       Snapshot
	subs      map[int]chan Snapshot
	nextSub   int
	buffer    int
	observers []Observer

	// notifyMu serializes Set so observers run in Seq order without mu held.
	notifyMu sync.Mutex
	now      func() time.Time
}

// NewTracker creates a tracker in the idle state. buffer is the channel
// size for subscriptions.
func NewTracker(buffer int) *Tracker {
	if buffer < 1 {
		buffer = 1
	}
	t := &Tracker{
		subs:   make(map[int]chan Snapshot),
		buffer: buffer,
		now:    time.Now,
	}
	t.cur = Snapshot{Phase: PhaseIdle, Message: MessageReady, UpdatedAt: t.now()}
	return t
}

// Snapshot returns the current progress.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cur
}

// AddObserver registers fn for every subsequent change.
func (t *Tracker) AddObserver(fn Observer) {
	t.mu.Lock()
	t.observers = append(t.observers, fn)
	t.mu.Unlock()
}

// Set applies u and returns the stored snapshot. Within one job percent
// never decreases unless u enters a reset phase (idle or error); a lower
// value is raised to the current one. An update for a different job starts
// from its own value. Complete always stores 100. Observers must not call Set.
func (t *Tracker) Set(u Update) Snapshot {
	t.notifyMu.Lock()
	defer t.notifyMu.Unlock()
	t.mu.Lock()

	percent := min(u.Percent, 100)
	if u.Phase == PhaseComplete {
		percent = 100
	}
	if !u.Phase.IsReset() && u.JobID == t.cur.JobID && percent < t.cur.Percent {
		percent = t.cur.Percent
	}

	var eta *uint32
	if u.ETASeconds != nil {
		v := *u.ETASeconds
		eta = &v
	}

	t.cur = Snapshot{
		Percent:    percent,
		Phase:      u.Phase,
		Message:    u.Message,
		ETASeconds: eta,
		JobID:      u.JobID,
		Seq:        t.cur.Seq + 1,
		UpdatedAt:  t.now(),
	}
	snap := t.cur

	for _, ch := range t.subs {
		deliver(ch, snap)
	}
	observers := append([]Observer(nil), t.observers...)
	t.mu.Unlock()

	for _, fn := range observers {
		fn(snap)
	}

	return snap
}

// deliver sends without blocking. A full channel drops its oldest entry so
// slow readers always see the latest state.
func deliver(ch chan Snapshot, snap Snapshot) {
	for {
		select {
		case ch <- snap:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// Subscribe returns a channel receiving the current snapshot followed by
// every change, and a function that ends the subscription and closes the
// channel.
func (t *Tracker) Subscribe() (<-chan Snapshot, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextSub
	t.nextSub++
	ch := make(chan Snapshot, t.buffer)
	ch <- t.cur
	t.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.subs, id)
			close(ch)
			t.mu.Unlock()
		})
	}
}

// Range is the slice of the overall percent given to one external operation.
type Range struct {
	Start uint8
	End   uint8
}

// Map converts an engine completion percentage (0-100) into overall percent.
// Out of range and NaN inputs are clamped.
func (r Range) Map(enginePercent float64) uint8 {
	if enginePercent != enginePercent || enginePercent < 0 {
		enginePercent = 0
	}
	enginePercent = min(enginePercent, 100)
	span := float64(r.End) - float64(r.Start)
	return uint8(math.Round(float64(r.Start) + enginePercent*span/100))
}

// EngineETA estimates seconds remaining from the engine's position and
// speed over a known total duration.
func EngineETA(totalSecs, positionSecs, speed float64) *uint32 {
	if totalSecs <= 0 || speed <= 0 || positionSecs < 0 {
		return nil
	}
	remaining := max(totalSecs-positionSecs, 0)
	v := uint32(math.Round(remaining / speed))
	return &v
}

// ElapsedETA extrapolates seconds remaining from wall time spent and
// percent done. It is only defined for 0 < percent < 100.
func ElapsedETA(elapsed time.Duration, percent float64) *uint32 {
	if percent <= 0 || percent >= 100 || elapsed <= 0 {
		return nil
	}
	total := elapsed.Seconds() * 100 / percent
	v := uint32(math.Round(total - elapsed.Seconds()))
	return &v
}
