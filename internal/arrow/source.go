package arrow

import (
	"errors"
	"time"

	"github.com/oriys/jana2go/internal/event"
	"github.com/oriys/jana2go/internal/mailbox"
	"github.com/oriys/jana2go/internal/metrics"
)

// ErrExhausted is returned by an Emitter once it will never produce
// another event (end of input reached).
var ErrExhausted = errors.New("arrow: source exhausted")

// ErrNotReady is returned by an Emitter when no event is available
// right now but more may arrive later (e.g. waiting on a socket).
var ErrNotReady = errors.New("arrow: source not ready")

// Emitter is the user-supplied logic a SourceArrow drives: produce one
// event at the given location, or report ErrNotReady/ErrExhausted.
type Emitter interface {
	Emit(location int) (*event.Event, error)
}

// SourceArrow originates events into the topology, polling an Emitter
// and pushing its output onto a downstream Mailbox. Grounded on
// JEventSourceArrow.
type SourceArrow struct {
	Base
	emitter  Emitter
	output   *mailbox.Mailbox
	finished bool
}

// NewSourceArrow constructs a SourceArrow with the given chunk size.
func NewSourceArrow(name string, emitter Emitter, output *mailbox.Mailbox, chunksize int) *SourceArrow {
	return &SourceArrow{
		Base:    NewBase(name, chunksize),
		emitter: emitter,
		output:  output,
	}
}

func (a *SourceArrow) IsSource() bool { return true }

func (a *SourceArrow) Initialize() error {
	a.SetState(StateActive)
	return nil
}

func (a *SourceArrow) Finalize() error {
	a.SetState(StateFinalized)
	return nil
}

// Fire emits up to ChunkSize events, pushing each onto the output
// mailbox at location. Returns StatusFinished once the Emitter
// reports ErrExhausted and the output mailbox has been marked
// finished at every location that will ever be touched.
func (a *SourceArrow) Fire(m *metrics.ArrowMetrics, location int) (Status, error) {
	if a.finished {
		return StatusFinished, nil
	}
	start := time.Now()

	produced := 0
	for i := 0; i < a.Chunksize; i++ {
		if !a.output.Reserve(location) {
			status := StatusComeBackLater
			if produced > 0 {
				status = StatusKeepGoing
			}
			measure(m, status, start, produced, 1)
			return status, nil
		}

		ev, err := a.emitter.Emit(location)
		switch {
		case errors.Is(err, ErrExhausted):
			a.output.UnreserveWithoutPush(location)
			a.finished = true
			for loc := 0; loc < a.output.NLocations(); loc++ {
				a.output.MarkFinished(loc)
			}
			status := StatusFinished
			if produced > 0 {
				status = StatusKeepGoing
			}
			measure(m, status, start, produced, 1)
			return status, nil
		case errors.Is(err, ErrNotReady):
			a.output.UnreserveWithoutPush(location)
			status := StatusComeBackLater
			if produced > 0 {
				status = StatusKeepGoing
			}
			measure(m, status, start, produced, 1)
			return status, nil
		case err != nil:
			a.output.UnreserveWithoutPush(location)
			measure(m, StatusComeBackLater, start, produced, 1)
			return StatusComeBackLater, err
		}

		a.output.PushAndUnreserve(location, ev)
		produced++
	}

	measure(m, StatusKeepGoing, start, produced, 1)
	return StatusKeepGoing, nil
}
