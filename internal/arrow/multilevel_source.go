package arrow

import (
	"errors"
	"time"

	"github.com/oriys/jana2go/internal/event"
	"github.com/oriys/jana2go/internal/mailbox"
	"github.com/oriys/jana2go/internal/metrics"
)

// MultilevelEmitter produces events at more than one Level from a
// single input stream — e.g. a source that reads a run header once,
// then a sequence of timeslices each carrying that run as parent.
// Grounded on JANA2's multi-level JEventSource (e.g. streaming DAQ
// sources that emit both Timeslice and Run-boundary events).
type MultilevelEmitter interface {
	// Emit produces the next event at whichever level is next in its
	// internal sequence (the Emitter decides level ordering), attaching
	// any already-known parents itself via Event.SetParent before
	// returning. Returns ErrExhausted/ErrNotReady like Emitter.
	Emit(location int) (*event.Event, error)
}

// heldEvent is a queued eviction: a previously held parent on its way
// to its output mailbox once backpressure clears.
type heldEvent struct {
	ev  *event.Event
	out *mailbox.Mailbox
	loc int
}

// MultilevelSourceArrow is a SourceArrow that fans its output across
// one Mailbox per Level. It rotates through levels as the emitter
// produces events, holding back the most recent event at each level
// as that level's current parent candidate so children emitted
// meanwhile can still be attached to it; each time a new event at the
// same level arrives, the held one is evicted to its output mailbox
// and marked released (the source is done attaching children to it),
// and the new event takes its place as held. Grounded on JANA2's
// multi-level JEventSourceArrow rotation/eviction behavior.
type MultilevelSourceArrow struct {
	Base
	emitter  MultilevelEmitter
	outputs  map[event.Level]*mailbox.Mailbox
	finished bool

	held            map[event.Level]*event.Event
	pendingEviction []heldEvent
}

// NewMultilevelSourceArrow constructs a MultilevelSourceArrow. outputs
// maps each Level this source can emit to the mailbox downstream
// arrows at that level read from.
func NewMultilevelSourceArrow(name string, emitter MultilevelEmitter, outputs map[event.Level]*mailbox.Mailbox, chunksize int) *MultilevelSourceArrow {
	return &MultilevelSourceArrow{
		Base:    NewBase(name, chunksize),
		emitter: emitter,
		outputs: outputs,
		held:    make(map[event.Level]*event.Event),
	}
}

func (a *MultilevelSourceArrow) IsSource() bool { return true }

func (a *MultilevelSourceArrow) Initialize() error {
	a.SetState(StateActive)
	return nil
}

func (a *MultilevelSourceArrow) Finalize() error {
	a.SetState(StateFinalized)
	return nil
}

func (a *MultilevelSourceArrow) Fire(m *metrics.ArrowMetrics, location int) (Status, error) {
	start := time.Now()
	produced := 0

	if !a.finished {
	emitLoop:
		for i := 0; i < a.Chunksize; i++ {
			ev, err := a.emitter.Emit(location)
			switch {
			case errors.Is(err, ErrExhausted):
				a.finished = true
				a.evictAll(location)
				break emitLoop
			case errors.Is(err, ErrNotReady):
				break emitLoop
			case err != nil:
				measure(m, StatusComeBackLater, start, produced, len(a.outputs))
				return StatusComeBackLater, err
			}

			out, ok := a.outputs[ev.Level()]
			if !ok {
				measure(m, StatusComeBackLater, start, produced, len(a.outputs))
				return StatusComeBackLater, errUnroutedLevel(ev.Level())
			}

			if prev, wasHeld := a.held[ev.Level()]; wasHeld {
				prev.MarkReleased()
				a.pendingEviction = append(a.pendingEviction, heldEvent{ev: prev, out: out, loc: location})
			}
			a.held[ev.Level()] = ev
			produced++
		}
	}

	// Attempt every queued eviction once, immediately, regardless of
	// which branch above ran — matches UnfoldArrow's drainPending
	// idiom of pushing as much as possible within the same Fire call
	// rather than waiting for the next one.
	evicted := a.drainPendingEviction()

	if a.finished && len(a.held) == 0 && len(a.pendingEviction) == 0 {
		for _, out := range a.outputs {
			out.MarkFinished(location)
		}
		measure(m, StatusFinished, start, produced, len(a.outputs))
		return StatusFinished, nil
	}

	status := StatusComeBackLater
	if produced > 0 || evicted > 0 {
		status = StatusKeepGoing
	}
	measure(m, status, start, produced, len(a.outputs))
	return status, nil
}

// evictAll moves every currently held parent into pendingEviction,
// marking each released since the source will never attach another
// child to it once exhausted.
func (a *MultilevelSourceArrow) evictAll(location int) {
	for lvl, ev := range a.held {
		ev.MarkReleased()
		a.pendingEviction = append(a.pendingEviction, heldEvent{ev: ev, out: a.outputs[lvl], loc: location})
		delete(a.held, lvl)
	}
}

// drainPendingEviction pushes queued evictions to their output
// mailboxes in order, stopping (and leaving the remainder queued) the
// first time a mailbox has no room. Returns the number pushed.
func (a *MultilevelSourceArrow) drainPendingEviction() int {
	n := 0
	for len(a.pendingEviction) > 0 {
		item := a.pendingEviction[0]
		if !item.out.TryPush(item.loc, item.ev) {
			break
		}
		a.pendingEviction = a.pendingEviction[1:]
		n++
	}
	return n
}

type errUnroutedLevel event.Level

func (e errUnroutedLevel) Error() string {
	return "multilevel source arrow has no output mailbox for level " + event.Level(e).String()
}
