package arrow

import (
	"time"

	"github.com/oriys/jana2go/internal/event"
	"github.com/oriys/jana2go/internal/janaerr"
	"github.com/oriys/jana2go/internal/mailbox"
	"github.com/oriys/jana2go/internal/metrics"
)

// FoldFunc merges one child's results into its parent's accumulating
// state. It is called once per child, in arrival order, which need
// not match the children's original emission order — callers whose
// merge is not commutative must tolerate reordering or use a
// reorder buffer upstream of the fold.
type FoldFunc func(parent, child *event.Event) error

// FoldArrow is the inverse of UnfoldArrow: it gathers every child of a
// parent at ParentLevel back together and, once the parent's last
// outstanding child has arrived, pushes the parent downstream.
// Grounded on JFoldArrow.
type FoldArrow struct {
	Base
	ParentLevel event.Level
	input       *mailbox.Mailbox
	output      *mailbox.Mailbox
	fn          FoldFunc

	pendingParent   *event.Event
	pendingLocation int

	// awaitingRelease holds parents whose last attached child has
	// already arrived (ChildCount reached zero) but whose producing
	// arrow hasn't yet called MarkReleased — e.g. a
	// MultilevelSourceArrow still holding the parent as the current
	// one for its level. Polled on every Fire until the producer
	// releases them.
	awaitingRelease []*event.Event
}

// NewFoldArrow constructs a FoldArrow.
func NewFoldArrow(name string, parentLevel event.Level, input, output *mailbox.Mailbox, fn FoldFunc, chunksize int) *FoldArrow {
	return &FoldArrow{
		Base:        NewBase(name, chunksize),
		ParentLevel: parentLevel,
		input:       input,
		output:      output,
		fn:          fn,
	}
}

func (a *FoldArrow) Initialize() error {
	a.SetState(StateActive)
	return nil
}

func (a *FoldArrow) Finalize() error {
	a.SetState(StateFinalized)
	return nil
}

func (a *FoldArrow) Fire(m *metrics.ArrowMetrics, location int) (Status, error) {
	start := time.Now()

	if a.pendingParent != nil {
		if !a.output.TryPush(a.pendingLocation, a.pendingParent) {
			measure(m, StatusComeBackLater, start, 0, 0)
			return StatusComeBackLater, nil
		}
		a.pendingParent = nil
	}

	if a.drainAwaitingRelease(location) {
		measure(m, StatusKeepGoing, start, 0, 0)
		return StatusKeepGoing, nil
	}

	item, ok := a.input.PopAndReserve(location)
	if !ok {
		if a.input.Status(location) == mailbox.StatusFinished {
			if a.pendingParent != nil || len(a.awaitingRelease) > 0 {
				// Children stopped arriving, but some parent is still
				// waiting on its producer to call MarkReleased (or on
				// backpressure to clear) — finishing now would drop it.
				measure(m, StatusComeBackLater, start, 0, 1)
				return StatusComeBackLater, nil
			}
			a.output.MarkFinished(location)
			measure(m, StatusFinished, start, 0, 1)
			return StatusFinished, nil
		}
		measure(m, StatusComeBackLater, start, 0, 1)
		return StatusComeBackLater, nil
	}

	child, ok := item.(*event.Event)
	if !ok {
		return StatusComeBackLater, janaerr.New(janaerr.KindTopology, "fold arrow received non-event item")
	}

	parent, hadParent := child.GetParent(a.ParentLevel)
	if !hadParent {
		return StatusComeBackLater, janaerr.New(janaerr.KindHierarchyMismatch,
			"fold arrow "+a.NameVal+" received a child with no parent at the configured level")
	}

	if err := a.fn(parent, child); err != nil {
		// Detach the child from the parent's count even though its
		// merge failed, so a failure on one child doesn't leave the
		// parent permanently short one release and unable to ever
		// reach a zero child count.
		child.ReleaseParent(a.ParentLevel)
		return StatusComeBackLater, &janaerr.UserComponentFailure{Component: a.NameVal, Cause: err}
	}

	_, _, isLast := child.ReleaseParent(a.ParentLevel)
	if isLast {
		if a.output.TryPush(location, parent) {
			measure(m, StatusKeepGoing, start, 1, 1)
			return StatusKeepGoing, nil
		}
		a.pendingParent = parent
		a.pendingLocation = location
		measure(m, StatusComeBackLater, start, 1, 1)
		return StatusComeBackLater, nil
	}
	if parent.ChildCount() == 0 && !parent.Released() {
		// Every currently-attached child has arrived, but the producer
		// hasn't said it's done attaching children to this parent yet.
		// Hold it until Released() flips, rather than recycling it
		// while more children may still be on their way.
		a.awaitingRelease = append(a.awaitingRelease, parent)
	}

	measure(m, StatusKeepGoing, start, 1, 1)
	return StatusKeepGoing, nil
}

// drainAwaitingRelease pushes every awaitingRelease parent that has
// since become Released() to the output mailbox, stopping (and
// leaving the remainder queued) the first time the mailbox has no
// room. Returns whether it pushed anything this call.
func (a *FoldArrow) drainAwaitingRelease(location int) bool {
	if len(a.awaitingRelease) == 0 {
		return false
	}
	still := a.awaitingRelease[:0]
	pushedAny := false
	blocked := false
	for _, p := range a.awaitingRelease {
		if blocked || !p.Released() {
			still = append(still, p)
			continue
		}
		if a.output.TryPush(location, p) {
			pushedAny = true
			continue
		}
		blocked = true
		still = append(still, p)
	}
	a.awaitingRelease = still
	return pushedAny
}
