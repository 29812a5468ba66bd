package arrow

import (
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oriys/jana2go/internal/event"
	"github.com/oriys/jana2go/internal/janaerr"
	"github.com/oriys/jana2go/internal/mailbox"
	"github.com/oriys/jana2go/internal/metrics"
)

// Processor is a registered sink-side consumer of retiring events.
// ProcessParallel runs first and may run concurrently across the
// processors registered on a sink (it must not touch state shared with
// another processor without its own synchronization); Process runs
// after every ProcessParallel has completed and is serialized per
// processor by a dedicated mutex, so a processor's own accumulating
// state (histograms, output streams) never needs its own lock.
// Grounded on JEventProcessor's Process/ProcessParallel split.
type Processor interface {
	ProcessParallel(ev *event.Event) error
	Process(ev *event.Event) error
}

// FuncProcessor adapts a plain function to the Processor interface for
// callers that only need the serialized Process phase. ProcessParallel
// is a no-op.
type FuncProcessor func(ev *event.Event) error

func (f FuncProcessor) ProcessParallel(ev *event.Event) error { return nil }
func (f FuncProcessor) Process(ev *event.Event) error         { return f(ev) }

// Retirer is notified when an event is fully retired, so its pool can
// reclaim it (and, if it has a parent, the parent's child count can
// be decremented).
type Retirer interface {
	Retire(ev *event.Event)
}

// SinkArrow is the terminal arrow in a chain: it runs the registered
// processors on each incoming event and then retires it.
type SinkArrow struct {
	Base
	input      *mailbox.Mailbox
	processors []Processor
	mus        []sync.Mutex
	retirer    Retirer

	ordered bool
	reorder *reorderBuffer
	nextSeq uint64
}

// SinkOption configures a SinkArrow at construction time.
type SinkOption func(*SinkArrow)

// WithOrdering makes the sink retire events in strictly increasing
// EventNumber order, buffering out-of-order arrivals until their turn
// comes, per spec.md's ordered-mode sink requirement.
func WithOrdering(startSeq uint64) SinkOption {
	return func(s *SinkArrow) {
		s.ordered = true
		s.nextSeq = startSeq
		s.reorder = newReorderBuffer()
	}
}

// NewSinkArrow constructs a SinkArrow running every processor in
// processors on each retiring event.
func NewSinkArrow(name string, input *mailbox.Mailbox, processors []Processor, retirer Retirer, chunksize int, opts ...SinkOption) *SinkArrow {
	s := &SinkArrow{
		Base:       NewBase(name, chunksize),
		input:      input,
		processors: processors,
		mus:        make([]sync.Mutex, len(processors)),
		retirer:    retirer,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (a *SinkArrow) IsSink() bool { return true }

func (a *SinkArrow) Initialize() error {
	a.SetState(StateActive)
	return nil
}

func (a *SinkArrow) Finalize() error {
	a.SetState(StateFinalized)
	return nil
}

func (a *SinkArrow) Fire(m *metrics.ArrowMetrics, location int) (Status, error) {
	start := time.Now()
	processed := 0

	for i := 0; i < a.Chunksize; i++ {
		item, ok := a.input.PopAndReserve(location)
		if !ok {
			if a.input.Status(location) == mailbox.StatusFinished && (a.reorder == nil || a.reorder.Empty()) {
				status := StatusFinished
				if processed > 0 {
					status = StatusKeepGoing
				}
				measure(m, status, start, processed, 1)
				return status, nil
			}
			status := StatusComeBackLater
			if processed > 0 {
				status = StatusKeepGoing
			}
			measure(m, status, start, processed, 1)
			return status, nil
		}

		ev, ok := item.(*event.Event)
		if !ok {
			return StatusComeBackLater, janaerr.New(janaerr.KindTopology, "sink arrow received non-event item")
		}

		if a.ordered {
			a.reorder.Push(ev)
			for {
				next, ok := a.reorder.PopIfSeq(a.nextSeq)
				if !ok {
					break
				}
				if err := a.retireOne(next); err != nil {
					return StatusComeBackLater, err
				}
				a.nextSeq++
				processed++
			}
			continue
		}

		if err := a.retireOne(ev); err != nil {
			return StatusComeBackLater, err
		}
		processed++
	}

	status := StatusKeepGoing
	if processed == 0 {
		status = StatusComeBackLater
	}
	measure(m, status, start, processed, 1)
	return status, nil
}

// retireOne runs every processor's ProcessParallel phase concurrently
// via an errgroup, then every processor's Process phase serialized by
// that processor's own mutex, before handing ev to the retirer.
func (a *SinkArrow) retireOne(ev *event.Event) error {
	parallelErr := a.runParallelPhase(ev)
	serialErr := a.runSerialPhase(ev)
	if parallelErr != nil || serialErr != nil {
		ev.MarkFailed()
	}
	a.retirer.Retire(ev)
	if parallelErr != nil {
		return parallelErr
	}
	return serialErr
}

func (a *SinkArrow) runParallelPhase(ev *event.Event) error {
	var g errgroup.Group
	for _, p := range a.processors {
		p := p
		g.Go(func() error {
			return runVoidUserFunc(a.NameVal, func() error { return p.ProcessParallel(ev) })
		})
	}
	return g.Wait()
}

func (a *SinkArrow) runSerialPhase(ev *event.Event) error {
	var firstErr error
	for i, p := range a.processors {
		a.mus[i].Lock()
		err := runVoidUserFunc(a.NameVal, func() error { return p.Process(ev) })
		a.mus[i].Unlock()
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// runVoidUserFunc recovers a panicking processor and wraps both
// panics and ordinary returned errors as a UserComponentFailure,
// matching FoldArrow/UnfoldArrow's explicit wrapping of user-supplied
// callback failures so the worker can recognize and surface them to
// the supervisor (spec.md §7's UserComponentFailure policy).
func runVoidUserFunc(component string, fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &janaerr.UserComponentFailure{Component: component, Cause: panicAsError(p)}
		}
	}()
	if err := fn(); err != nil {
		return &janaerr.UserComponentFailure{Component: component, Cause: err}
	}
	return nil
}
