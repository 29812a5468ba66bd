// Package arrow implements the dataflow units the scheduler fires:
// sources that create events, maps that transform one event into one
// event, unfolds that split a coarse event into many finer-grained
// children, folds that gather children back into their parent, sinks
// that retire events, and the multilevel source that seeds more than
// one level of the hierarchy at once.
//
// Grounded on src/libraries/JANA/Engine/JArrow.h and its JMapArrow,
// JUnfoldArrow, JFoldArrow, JEventSourceArrow, JSubeventArrow
// subclasses: every concrete arrow implements the same Fire contract,
// returning a Status the scheduler uses to decide whether to requeue
// it, back off, or retire it for good.
package arrow

import (
	"time"

	"github.com/oriys/jana2go/internal/metrics"
)

// Status reports what happened on one Fire call, driving the
// scheduler's requeue/backoff/finalize decision.
type Status int

const (
	// StatusKeepGoing means the arrow produced output and should be
	// fired again immediately; there is more work ready right now.
	StatusKeepGoing Status = iota
	// StatusComeBackLater means the arrow found no work ready (an
	// empty input queue, a full output queue); the worker should back
	// off before trying this arrow again.
	StatusComeBackLater
	// StatusFinished means the arrow will never produce output again
	// and should be finalized and removed from scheduling.
	StatusFinished
)

func (s Status) String() string {
	switch s {
	case StatusKeepGoing:
		return "KeepGoing"
	case StatusComeBackLater:
		return "ComeBackLater"
	case StatusFinished:
		return "Finished"
	default:
		return "Unknown"
	}
}

// RunState is an arrow's lifecycle state in the topology, independent
// of per-Fire Status.
type RunState int

const (
	StateUninitialized RunState = iota
	StateActive
	StatePaused
	StateFinalized
)

func (s RunState) String() string {
	switch s {
	case StateUninitialized:
		return "Uninitialized"
	case StateActive:
		return "Active"
	case StatePaused:
		return "Paused"
	case StateFinalized:
		return "Finalized"
	default:
		return "Unknown"
	}
}

// Arrow is the common interface every dataflow node implements.
// Initialize/Finalize bracket the arrow's participation in a run;
// Fire performs one unit of work (at most ChunkSize events' worth) and
// reports what happened.
type Arrow interface {
	Name() string
	Initialize() error
	Finalize() error
	// Fire performs one scheduling quantum of work at the given
	// location (NUMA/CPU locality the calling worker runs at),
	// recording metrics into m, and returns the resulting Status.
	Fire(m *metrics.ArrowMetrics, location int) (Status, error)
	// IsSource reports whether this arrow originates events rather
	// than consuming them, used by the scheduler's priority scan.
	IsSource() bool
	// IsSink reports whether this arrow retires events rather than
	// passing them downstream, used by the scheduler's priority scan
	// (sinks are scheduled ahead of interior arrows to bound memory).
	IsSink() bool
	// ChunkSize is the maximum number of events processed per Fire call.
	ChunkSize() int
}

// Base provides the bookkeeping shared by every concrete arrow: name,
// lifecycle state, and chunk size. Concrete arrows embed Base and
// implement the rest of Arrow themselves.
type Base struct {
	NameVal      string
	Chunksize    int
	state        RunState
}

func NewBase(name string, chunksize int) Base {
	if chunksize < 1 {
		chunksize = 1
	}
	return Base{NameVal: name, Chunksize: chunksize, state: StateUninitialized}
}

func (b *Base) Name() string    { return b.NameVal }
func (b *Base) ChunkSize() int  { return b.Chunksize }
func (b *Base) State() RunState { return b.state }
func (b *Base) SetState(s RunState) { b.state = s }
func (b *Base) IsSource() bool  { return false }
func (b *Base) IsSink() bool    { return false }

// measure times a Fire call and folds the result into m, matching
// JArrowMetrics::update's per-call bookkeeping.
func measure(m *metrics.ArrowMetrics, status Status, start time.Time, messageCount, queueVisits int) {
	m.Update(messageCount, queueVisits, time.Since(start), 0, status.String())
}
