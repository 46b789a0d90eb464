// Package progress counts outstanding units of work for one sync pass.
package progress

import (
	"sync"

	"github.com/pders01/fwrdsync/internal/debuglog"
)

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Total     int
	Remaining int
}

// Complete reports whether no work is outstanding.
func (s Snapshot) Complete() bool { return s.Remaining == 0 }

// Fraction is the completed share of the pass, 1 when idle.
func (s Snapshot) Fraction() float64 {
	if s.Total == 0 {
		return 1
	}
	return float64(s.Total-s.Remaining) / float64(s.Total)
}

// Tracker is a concurrency-safe task counter. Remaining never exceeds Total,
// and both reset to zero when the last task completes.
//
// A pass started with TryBegin is exclusive with other passes but not with
// operation Steps. Clear starts a new generation: Steps from before it no
// longer complete anything.
type Tracker struct {
	mu        sync.Mutex
	total     int
	remaining int
	// passLeft counts the tasks of the claimed pass. The pass ends when
	// they are done, even if operation Steps are still outstanding.
	passLeft int
	gen      uint64

	// deliverMu is taken before mu is released, so observers see changes in
	// the order they were made.
	deliverMu sync.Mutex
	obsMu     sync.Mutex
	nextObsID int
	observers map[int]func(Snapshot)
}

func NewTracker() *Tracker {
	return &Tracker{observers: make(map[int]func(Snapshot))}
}

// AddTasks adds n tasks to both counters. During a pass they belong to it.
func (t *Tracker) AddTasks(n int) {
	if n <= 0 {
		return
	}
	t.mu.Lock()
	t.total += n
	t.remaining += n
	if t.passLeft > 0 {
		t.passLeft += n
	}
	t.publishLocked()
}

// TryBegin starts a pass of n tasks unless one is already running. It is the
// check-and-start used to keep refresh passes mutually exclusive. Tasks of
// operations in progress stay counted alongside the pass.
func (t *Tracker) TryBegin(n int) bool {
	t.mu.Lock()
	if t.passLeft > 0 {
		t.mu.Unlock()
		return false
	}
	if n <= 0 {
		t.mu.Unlock()
		return true
	}
	t.passLeft = n
	t.total += n
	t.remaining += n
	t.publishLocked()
	return true
}

// CompleteTask marks one task done. Completing with nothing remaining is a
// programmer error; it is logged and ignored.
func (t *Tracker) CompleteTask() {
	t.CompleteTasks(1)
}

// CompleteTasks marks n tasks done.
func (t *Tracker) CompleteTasks(n int) {
	if n <= 0 {
		return
	}
	t.mu.Lock()
	t.passLeft = max(t.passLeft-n, 0)
	t.completeLocked(n)
}

// completeIn completes n tasks only if no Clear happened since gen.
func (t *Tracker) completeIn(gen uint64, n int) {
	t.mu.Lock()
	if t.gen != gen {
		t.mu.Unlock()
		debuglog.Debugf("progress: dropping %d task(s) of a cleared pass", n)
		return
	}
	t.completeLocked(n)
}

func (t *Tracker) completeLocked(n int) {
	if t.remaining < n {
		debuglog.Errorf("progress: completing %d task(s) with %d remaining", n, t.remaining)
		n = t.remaining
	}
	if n == 0 {
		t.mu.Unlock()
		return
	}
	t.remaining -= n
	if t.remaining == 0 {
		t.total = 0
		t.passLeft = 0
	}
	t.publishLocked()
}

// IsComplete reports whether remaining is zero.
func (t *Tracker) IsComplete() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remaining == 0
}

// Clear force-resets both counters so a failed pass never blocks the next one.
func (t *Tracker) Clear() {
	t.mu.Lock()
	t.gen++
	t.passLeft = 0
	if t.total == 0 && t.remaining == 0 {
		t.mu.Unlock()
		return
	}
	t.total = 0
	t.remaining = 0
	t.publishLocked()
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) Fraction() float64 {
	return t.Snapshot().Fraction()
}

// Subscribe registers fn to receive every counter change, in order. Callbacks
// run on the goroutine that changed the counters, after the lock is released,
// and must not change the tracker themselves.
func (t *Tracker) Subscribe(fn func(Snapshot)) (cancel func()) {
	t.obsMu.Lock()
	if t.observers == nil {
		t.observers = make(map[int]func(Snapshot))
	}
	id := t.nextObsID
	t.nextObsID++
	t.observers[id] = fn
	t.obsMu.Unlock()

	return func() {
		t.obsMu.Lock()
		delete(t.observers, id)
		t.obsMu.Unlock()
	}
}

func (t *Tracker) snapshotLocked() Snapshot {
	return Snapshot{Total: t.total, Remaining: t.remaining}
}

// publishLocked releases mu and delivers the current counters.
func (t *Tracker) publishLocked() {
	snap := t.snapshotLocked()
	t.deliverMu.Lock()
	t.mu.Unlock()
	defer t.deliverMu.Unlock()
	t.notify(snap)
}

func (t *Tracker) notify(snap Snapshot) {
	t.obsMu.Lock()
	fns := make([]func(Snapshot), 0, len(t.observers))
	for _, fn := range t.observers {
		fns = append(fns, fn)
	}
	t.obsMu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

// Steps tracks the tasks one operation added, so it can hand back exactly
// those on an early return. It is not safe for concurrent use.
type Steps struct {
	t    *Tracker
	gen  uint64
	left int
}

// Steps adds n tasks owned by the returned value.
func (t *Tracker) Steps(n int) *Steps {
	n = max(n, 0)
	t.mu.Lock()
	gen := t.gen
	if n == 0 {
		t.mu.Unlock()
		return &Steps{t: t, gen: gen}
	}
	t.total += n
	t.remaining += n
	t.publishLocked()
	return &Steps{t: t, gen: gen, left: n}
}

// Done completes one owned task.
func (s *Steps) Done() {
	if s.left == 0 {
		return
	}
	s.left--
	s.t.completeIn(s.gen, 1)
}

// Finish completes every owned task not yet done.
func (s *Steps) Finish() {
	if s.left == 0 {
		return
	}
	n := s.left
	s.left = 0
	s.t.completeIn(s.gen, n)
}
