package arrow

import (
	"fmt"
	"time"

	"github.com/oriys/jana2go/internal/event"
	"github.com/oriys/jana2go/internal/janaerr"
	"github.com/oriys/jana2go/internal/mailbox"
	"github.com/oriys/jana2go/internal/metrics"
)

// MapFunc transforms one input event into one output event,
// returning the same event unless the processor chooses to substitute
// another (e.g. after wrapping it). Grounded on JMapArrow's single
// Process() callback per input message.
type MapFunc func(ev *event.Event) (*event.Event, error)

// MapArrow pulls one event from its input mailbox, applies fn, and
// pushes the result to its output mailbox — a 1:1 transform stage.
type MapArrow struct {
	Base
	input  *mailbox.Mailbox
	output *mailbox.Mailbox
	fn     MapFunc
}

// NewMapArrow constructs a MapArrow.
func NewMapArrow(name string, input, output *mailbox.Mailbox, fn MapFunc, chunksize int) *MapArrow {
	return &MapArrow{
		Base:   NewBase(name, chunksize),
		input:  input,
		output: output,
		fn:     fn,
	}
}

func (a *MapArrow) Initialize() error {
	a.SetState(StateActive)
	return nil
}

func (a *MapArrow) Finalize() error {
	a.SetState(StateFinalized)
	return nil
}

// Fire pulls and transforms up to ChunkSize events.
func (a *MapArrow) Fire(m *metrics.ArrowMetrics, location int) (Status, error) {
	start := time.Now()
	processed := 0
	queueVisits := 0

	for i := 0; i < a.Chunksize; i++ {
		if !a.output.Reserve(location) {
			status := StatusComeBackLater
			if processed > 0 {
				status = StatusKeepGoing
			}
			measure(m, status, start, processed, queueVisits+1)
			return status, nil
		}

		item, ok := a.input.PopAndReserve(location)
		queueVisits++
		if !ok {
			a.output.UnreserveWithoutPush(location)
			if a.input.Status(location) == mailbox.StatusFinished {
				a.output.MarkFinished(location)
				status := StatusFinished
				if processed > 0 {
					status = StatusKeepGoing
				}
				measure(m, status, start, processed, queueVisits)
				return status, nil
			}
			status := StatusComeBackLater
			if processed > 0 {
				status = StatusKeepGoing
			}
			measure(m, status, start, processed, queueVisits)
			return status, nil
		}

		ev, ok := item.(*event.Event)
		if !ok {
			a.output.UnreserveWithoutPush(location)
			return StatusComeBackLater, janaerr.New(janaerr.KindTopology, "map arrow received non-event item")
		}

		out, err := runUserFunc(a.NameVal, func() (*event.Event, error) { return a.fn(ev) })
		if err != nil {
			a.output.UnreserveWithoutPush(location)
			measure(m, StatusComeBackLater, start, processed, queueVisits)
			return StatusComeBackLater, err
		}

		a.output.PushAndUnreserve(location, out)
		processed++
	}

	measure(m, StatusKeepGoing, start, processed, queueVisits)
	return StatusKeepGoing, nil
}

// runUserFunc recovers a panicking user callback and wraps it as a
// UserComponentFailure, matching spec.md §7's requirement that any
// user Init/Process/Emit failure be caught and reported with the
// offending component's identity rather than crashing the worker.
func runUserFunc(component string, fn func() (*event.Event, error)) (ev *event.Event, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &janaerr.UserComponentFailure{Component: component, Cause: panicAsError(p)}
		}
	}()
	return fn()
}

func panicAsError(p any) error {
	if e, ok := p.(error); ok {
		return e
	}
	return janaerr.New(janaerr.KindUserComponentFailure, fmt.Sprintf("panic: %v", p))
}
