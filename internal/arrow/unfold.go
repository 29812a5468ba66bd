package arrow

import (
	"time"

	"github.com/oriys/jana2go/internal/event"
	"github.com/oriys/jana2go/internal/janaerr"
	"github.com/oriys/jana2go/internal/mailbox"
	"github.com/oriys/jana2go/internal/metrics"
)

// UnfoldFunc splits one coarse parent event into its finer-grained
// children (e.g. a Timeslice into its constituent Events), returning
// the children in processing order. Grounded on JUnfoldArrow.
type UnfoldFunc func(parent *event.Event) ([]*event.Event, error)

// UnfoldArrow pulls one parent event, splits it via fn, attaches each
// child to the parent at ChildLevel, and pushes the children
// downstream. A single UnfoldArrow instance is only ever fired by one
// worker at a time (the scheduler serializes Fire per arrow), so the
// pendingChildren retry buffer below needs no locking of its own.
type UnfoldArrow struct {
	Base
	ChildLevel event.Level
	input      *mailbox.Mailbox
	output     *mailbox.Mailbox
	fn         UnfoldFunc

	pendingChildren []*event.Event
	pendingLocation int
}

// NewUnfoldArrow constructs an UnfoldArrow.
func NewUnfoldArrow(name string, childLevel event.Level, input, output *mailbox.Mailbox, fn UnfoldFunc, chunksize int) *UnfoldArrow {
	return &UnfoldArrow{
		Base:       NewBase(name, chunksize),
		ChildLevel: childLevel,
		input:      input,
		output:     output,
		fn:         fn,
	}
}

func (a *UnfoldArrow) Initialize() error {
	a.SetState(StateActive)
	return nil
}

func (a *UnfoldArrow) Finalize() error {
	a.SetState(StateFinalized)
	return nil
}

// Fire drains any pending children left over from a prior
// backpressured attempt before pulling a new parent.
func (a *UnfoldArrow) Fire(m *metrics.ArrowMetrics, location int) (Status, error) {
	start := time.Now()

	if len(a.pendingChildren) > 0 {
		ok := a.drainPending()
		if !ok {
			measure(m, StatusComeBackLater, start, 0, 0)
			return StatusComeBackLater, nil
		}
	}

	item, ok := a.input.PopAndReserve(location)
	if !ok {
		if a.input.Status(location) == mailbox.StatusFinished {
			a.output.MarkFinished(location)
			measure(m, StatusFinished, start, 0, 1)
			return StatusFinished, nil
		}
		measure(m, StatusComeBackLater, start, 0, 1)
		return StatusComeBackLater, nil
	}

	parent, ok := item.(*event.Event)
	if !ok {
		return StatusComeBackLater, janaerr.New(janaerr.KindTopology, "unfold arrow received non-event item")
	}

	children, err := a.fn(parent)
	if err != nil {
		return StatusComeBackLater, &janaerr.UserComponentFailure{Component: a.NameVal, Cause: err}
	}

	for _, child := range children {
		if err := child.SetParent(parent); err != nil {
			return StatusComeBackLater, err
		}
	}
	// fn returns the parent's complete child set in one call, so the
	// parent needs no further children attached — mark it released
	// immediately so FoldArrow can recycle it as soon as the last
	// child (of those just attached) finishes, rather than waiting on
	// a release signal that will never separately arrive.
	parent.MarkReleased()

	a.pendingChildren = children
	a.pendingLocation = location
	a.drainPending()

	status := StatusKeepGoing
	if len(a.pendingChildren) > 0 {
		status = StatusComeBackLater
	}
	measure(m, status, start, len(children), 1)
	return status, nil
}

// drainPending tries to push all pendingChildren to the output
// mailbox, stopping (and leaving the remainder queued) the first time
// the mailbox has no room. Returns true once the buffer is fully
// drained.
func (a *UnfoldArrow) drainPending() bool {
	for len(a.pendingChildren) > 0 {
		if !a.output.TryPush(a.pendingLocation, a.pendingChildren[0]) {
			return false
		}
		a.pendingChildren = a.pendingChildren[1:]
	}
	return true
}
