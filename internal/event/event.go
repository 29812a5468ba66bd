// Package event implements the per-event unit of work, its place in
// the run/timeslice/event/subevent hierarchy, and the pooled lifecycle
// that lets events be recycled rather than garbage collected.
//
// Grounded on the original engine's JEvent and JEventLevel: an Event
// carries an event/run number, a Level in the processing hierarchy, up
// to one parent Event per Level above it (a Timeslice's parent at
// LevelRun is the run header event, etc.), and the factory.Set that
// lazily computes and caches this event's data products.
package event

import (
	"fmt"
	"reflect"
	"sync/atomic"

	"github.com/oriys/jana2go/internal/factory"
	"github.com/oriys/jana2go/internal/janaerr"
)

// Level identifies an event's position in the processing hierarchy,
// mirroring JEventLevel. Levels are ordered coarsest-to-finest;
// a Level's parent lives at a strictly lower Level value.
type Level int

const (
	LevelRun Level = iota
	LevelSubrun
	LevelTimeslice
	LevelEvent
	LevelSubevent
	numLevels
)

func (l Level) String() string {
	switch l {
	case LevelRun:
		return "Run"
	case LevelSubrun:
		return "Subrun"
	case LevelTimeslice:
		return "Timeslice"
	case LevelEvent:
		return "Event"
	case LevelSubevent:
		return "Subevent"
	default:
		return "Unknown"
	}
}

// Event is one unit of work flowing through the topology: a single
// quantum at some Level of the run/timeslice/event/subevent hierarchy.
type Event struct {
	eventNumber uint64
	runNumber   int32
	level       Level

	parents [numLevels]*Event

	childCount atomic.Int32
	released   atomic.Bool

	factories *factory.Set

	origin string // name of the source arrow that created this event
	failed atomic.Bool
}

// UpcasterTable is the shared, read-only dispatch table built once at
// topology-freeze time and handed to every Event's factory.Set.
type UpcasterTable = map[reflect.Type]map[reflect.Type]func(any) any

// New constructs an Event at the given level, backed by a fresh
// factory.Set built against the shared upcaster dispatch table.
func New(level Level, eventNumber uint64, runNumber int32, origin string, upcasters UpcasterTable) *Event {
	return &Event{
		eventNumber: eventNumber,
		runNumber:   runNumber,
		level:       level,
		origin:      origin,
		factories:   factory.NewSet(upcasters),
	}
}

// EventNumber returns the event's sequence number within its run.
func (e *Event) EventNumber() uint64 { return e.eventNumber }

// RunNumber returns the run number this event belongs to.
func (e *Event) RunNumber() int32 { return e.runNumber }

// Level returns the event's position in the processing hierarchy.
func (e *Event) Level() Level { return e.level }

// Origin returns the name of the source arrow that created this event.
func (e *Event) Origin() string { return e.origin }

// Factories returns the event's per-type lazy computation slots.
func (e *Event) Factories() *factory.Set { return e.factories }

// MarkFailed records that processing this event encountered an
// unrecoverable user-component failure; a sink arrow sets it when a
// processor fails, before handing the event to its Retirer.
func (e *Event) MarkFailed() { e.failed.Store(true) }

// Failed reports whether MarkFailed was called on this event.
func (e *Event) Failed() bool { return e.failed.Load() }

// SetParent attaches parent as this event's ancestor at parent.Level().
// It is an error (HierarchyMismatch) to attach a parent at or below
// this event's own level, or to attach two different parents at the
// same level.
func (e *Event) SetParent(parent *Event) error {
	if parent.level >= e.level {
		return janaerr.New(janaerr.KindHierarchyMismatch,
			fmt.Sprintf("cannot set %s parent on %s event: parent level must be coarser", parent.level, e.level))
	}
	if existing := e.parents[parent.level]; existing != nil && existing != parent {
		return janaerr.New(janaerr.KindHierarchyMismatch,
			fmt.Sprintf("%s event already has a %s parent", e.level, parent.level))
	}
	e.parents[parent.level] = parent
	parent.childCount.Add(1)
	return nil
}

// GetParent returns this event's ancestor at level, if one was set.
func (e *Event) GetParent(level Level) (*Event, bool) {
	p := e.parents[level]
	return p, p != nil
}

// ReleaseParent detaches the parent at level and returns it, along
// with whether the parent is now fully retired: its child count has
// reached zero *and* its producing arrow has called MarkReleased on
// it to signal it will never attach another child. A parent whose
// count reaches zero before it is marked released is not yet safe to
// recycle — its producer may still be about to attach more children
// to it (e.g. an UnfoldArrow still filling out this parent's
// sibling-child list, or a MultilevelSourceArrow still holding it as
// the current parent for a level it hasn't rotated off of yet).
func (e *Event) ReleaseParent(level Level) (*Event, bool, bool) {
	p := e.parents[level]
	if p == nil {
		return nil, false, false
	}
	e.parents[level] = nil
	remaining := p.childCount.Add(-1)
	return p, true, remaining == 0 && p.Released()
}

// ChildCount returns the number of outstanding children still holding
// a reference to this event as a parent.
func (e *Event) ChildCount() int32 { return e.childCount.Load() }

// MarkReleased records that this event's producing arrow is done
// attaching children to it — no further SetParent call naming this
// event will ever happen. Returns whether the child count was already
// zero at the moment of the mark, meaning no future ReleaseParent call
// will observe the (remaining==0 && Released()) condition for this
// event and the caller is responsible for handing it to its consumer
// itself (see FoldArrow's awaitingRelease poll loop).
func (e *Event) MarkReleased() (alreadyZero bool) {
	e.released.Store(true)
	return e.childCount.Load() == 0
}

// Released reports whether MarkReleased has been called on this
// event.
func (e *Event) Released() bool { return e.released.Load() }

// Reset clears the event's mutable state so it can be reused from a
// pool for a new quantum of work. Pool lifecycle hooks call this
// instead of discarding the Event (and its factory.Set) to GC.
func (e *Event) Reset(level Level, eventNumber uint64, runNumber int32, origin string) {
	e.level = level
	e.eventNumber = eventNumber
	e.runNumber = runNumber
	e.origin = origin
	e.childCount.Store(0)
	e.released.Store(false)
	e.failed.Store(false)
	for i := range e.parents {
		e.parents[i] = nil
	}
	e.factories.ResetAll()
}
