// Package scheduler implements the pull-based arrow scheduler:
// workers call NextAssignment to be handed an arrow to fire, and
// report back what happened so the scheduler can decide what to do
// next.
//
// Grounded on src/libraries/JANA/Engine/JScheduler.h and
// JArrowTopology: the scheduler never runs arrows itself — it only
// picks, for each worker that asks, the best currently-runnable arrow.
// "Best" prioritizes sinks first (to bound memory held by in-flight
// events), then arrows with the deepest upstream queue (to relieve
// backpressure), falling back to round-robin among ties.
package scheduler

import (
	"sync"
	"sync/atomic"

	"github.com/oriys/jana2go/internal/arrow"
)

// arrowState tracks one arrow's scheduling bookkeeping. busy is
// claimed via CompareAndSwap by whichever worker is assigned the
// arrow and held for the duration of that worker's Fire call, since
// the engine does not require arrow implementations to be reentrant.
type arrowState struct {
	mu    sync.Mutex // guards state transitions (Initialize/Pause/Resume/Finalize)
	busy  atomic.Bool
	a     arrow.Arrow
	state arrow.RunState
}

// Scheduler hands out arrow assignments to workers and tracks global
// run/pause/finish state.
type Scheduler struct {
	mu     sync.RWMutex
	states []*arrowState
	rrNext atomic.Int64

	finishedCount atomic.Int32
	total         int

	depthFunc func(a arrow.Arrow) int
}

// DepthFunc reports an arrow's upstream-queue depth, used to break
// priority ties toward the most congested arrow. The topology package
// supplies the concrete implementation (mailbox.Depth of the arrow's
// input), passed in rather than imported here to avoid a scheduler ->
// topology import cycle.
type DepthFunc func(a arrow.Arrow) int

// New constructs a Scheduler over the given arrows, all initially
// Uninitialized.
func New(arrows []arrow.Arrow, depthFunc DepthFunc) *Scheduler {
	s := &Scheduler{
		states:    make([]*arrowState, len(arrows)),
		total:     len(arrows),
		depthFunc: depthFunc,
	}
	for i, a := range arrows {
		s.states[i] = &arrowState{a: a, state: arrow.StateUninitialized}
	}
	if depthFunc == nil {
		s.depthFunc = func(arrow.Arrow) int { return 0 }
	}
	return s
}

// InitializeAll runs Initialize on every arrow, transitioning them to
// Active. Returns the first error encountered, if any.
func (s *Scheduler) InitializeAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.states {
		if err := st.a.Initialize(); err != nil {
			return err
		}
		st.state = arrow.StateActive
	}
	return nil
}

// Assignment is what NextAssignment hands back to a worker.
type Assignment struct {
	Arrow arrow.Arrow
	index int
}

// NextAssignment picks the best runnable arrow for a worker at the
// given location, excluding prevArrow if prevResult was
// ComeBackLater (no point immediately retrying the arrow that just
// said it has nothing to do). Returns ok=false if every arrow has
// finished (the run is complete).
func (s *Scheduler) NextAssignment(location int, prevArrow arrow.Arrow, prevResult arrow.Status) (Assignment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *arrowState
	var bestIdx int
	bestScore := -1

	n := len(s.states)
	start := int(s.rrNext.Add(1)) % max(n, 1)

	for i := 0; i < n; i++ {
		idx := (start + i) % n
		st := s.states[idx]

		if st.state != arrow.StateActive {
			continue
		}
		if st.busy.Load() {
			continue // another worker is already firing this arrow
		}
		if st.a == prevArrow && prevResult == arrow.StatusComeBackLater {
			continue
		}

		score := s.priorityScore(st.a)
		if score > bestScore {
			bestScore = score
			best = st
			bestIdx = idx
		}
	}

	if best == nil {
		if s.allFinished() {
			return Assignment{}, false
		}
		return Assignment{}, true // nothing runnable right now, but not done
	}
	if !best.busy.CompareAndSwap(false, true) {
		// Lost a race with another worker's scan; caller treats this as
		// a no-op tick and will retry on its next loop iteration.
		return Assignment{}, true
	}
	return Assignment{Arrow: best.a, index: bestIdx}, true
}

// Release clears the busy flag for the arrow in assignment without
// recording a Status, used when a worker abandons an assignment
// (e.g. on shutdown) without firing it.
func (s *Scheduler) Release(a Assignment) {
	if a.Arrow == nil {
		return
	}
	s.states[a.index].busy.Store(false)
}

// priorityScore ranks sinks highest, then by upstream queue depth.
func (s *Scheduler) priorityScore(a arrow.Arrow) int {
	base := 0
	if a.IsSink() {
		base = 1_000_000
	}
	return base + s.depthFunc(a)
}

// ReportResult records the outcome of firing the arrow from
// assignment, finalizing it (and counting it toward completion) if
// Status was Finished.
func (s *Scheduler) ReportResult(a Assignment, status arrow.Status) error {
	if a.Arrow == nil {
		return nil
	}
	st := s.states[a.index]
	defer st.busy.Store(false)

	st.mu.Lock()
	defer st.mu.Unlock()

	if status == arrow.StatusFinished && st.state == arrow.StateActive {
		if err := st.a.Finalize(); err != nil {
			return err
		}
		st.state = arrow.StateFinalized
		s.finishedCount.Add(1)
	}
	return nil
}

// allFinished reports whether every arrow has reached StateFinalized.
func (s *Scheduler) allFinished() bool {
	return int(s.finishedCount.Load()) >= s.total
}

// Done reports whether the whole topology has finished running.
func (s *Scheduler) Done() bool {
	return s.allFinished()
}

// Pause transitions every Active arrow to Paused; workers calling
// NextAssignment will see nothing runnable until Resume.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.states {
		st.mu.Lock()
		if st.state == arrow.StateActive {
			st.state = arrow.StatePaused
		}
		st.mu.Unlock()
	}
}

// Resume transitions every Paused arrow back to Active.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.states {
		st.mu.Lock()
		if st.state == arrow.StatePaused {
			st.state = arrow.StateActive
		}
		st.mu.Unlock()
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
