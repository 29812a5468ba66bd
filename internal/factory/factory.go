// Package factory implements per-event, per-type lazy computation:
// JANA2's FactorySet/JFactory machinery translated into Go generics.
//
// The original engine leans on C++ template specialization and RTTI
// (dynamic_cast) to let a caller ask a FactorySet for "the JObjects of
// type Track tagged 'kalman'" without the FactorySet itself knowing
// about Track at compile time. Go has no RTTI-based upcasting, so this
// package replaces it with an explicit type-erased dispatch table:
// a producer type registers an "upcaster" function from its concrete
// type to each interface it satisfies, and GetAs looks the function up
// by reflect.Type instead of doing a runtime type assertion chain.
package factory

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/oriys/jana2go/internal/callgraph"
	"github.com/oriys/jana2go/internal/janaerr"
)

// Status tracks whether a Factory's Process has run yet for the
// current event.
type Status int

const (
	StatusUnprocessed Status = iota
	StatusProcessing
	StatusProcessed
	StatusInserted // result was inserted directly by a caller, bypassing Process
)

// Flags is a bitset of per-factory behavior toggles, mirroring
// JFactory::JFactory_Flags_t.
type Flags uint32

const (
	FlagNone Flags = 0
	// FlagNotOwner marks a factory whose Collection items are owned by
	// another factory (aliasing), so Reset must not attempt to recycle
	// them into an object pool.
	FlagNotOwner Flags = 1 << iota
	// FlagPersistent marks a factory whose Collection should survive
	// across events rather than being reset on each new event, used for
	// calibration-constant-like factories.
	FlagPersistent
)

// ProcessFunc computes a factory's output collection for the current
// event. ctx carries whatever event-scoped handle the caller's wiring
// needs (an *event.Event in practice); it is passed as `any` here to
// avoid an import cycle between factory and event.
type ProcessFunc func(ctx any) ([]any, error)

// Factory holds one (type, tag) slot's lazily computed collection.
type Factory struct {
	mu sync.Mutex

	typ  reflect.Type
	tag  string
	flags Flags

	status  Status
	process ProcessFunc
	items   []any
	err     error
}

// NewFactory constructs a Factory for typ/tag backed by process.
func NewFactory(typ reflect.Type, tag string, process ProcessFunc, flags Flags) *Factory {
	return &Factory{typ: typ, tag: tag, process: process, flags: flags}
}

// Type returns the concrete element type this factory produces.
func (f *Factory) Type() reflect.Type { return f.typ }

// Tag returns the factory's tag (JANA2's "short name" disambiguator).
func (f *Factory) Tag() string { return f.tag }

// Status returns the factory's current computation status.
func (f *Factory) Status() Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

// ensure runs process once and memoizes a successful result; if
// process fails the status returns to Unprocessed and the next access
// runs it again. It records the call-graph edge for the invocation if
// rec is non-nil.
func (f *Factory) ensure(ctx any, rec *callgraph.Recorder) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.status == StatusProcessed || f.status == StatusInserted {
		return f.err
	}
	if f.status == StatusProcessing {
		return janaerr.New(janaerr.KindHierarchyMismatch,
			fmt.Sprintf("cyclic factory dependency detected on %s:%q", f.typ, f.tag))
	}

	f.status = StatusProcessing
	if rec != nil {
		rec.StartCall(f.typ.String(), f.tag)
	}

	items, err := func() (items []any, err error) {
		defer func() {
			if p := recover(); p != nil {
				err = &janaerr.UserComponentFailure{
					Component: f.typ.String(),
					Cause:     fmt.Errorf("panic: %v", p),
				}
			}
		}()
		return f.process(ctx)
	}()

	if rec != nil {
		src := callgraph.SourceComputed
		rec.EndCall(src)
	}

	if err != nil {
		f.status = StatusUnprocessed
		f.err = &janaerr.UserComponentFailure{Component: f.typ.String(), Cause: err}
		return f.err
	}
	f.items = items
	f.status = StatusProcessed
	f.err = nil
	return nil
}

// InsertDirect sets the factory's collection directly, skipping
// Process (used when a caller already has the data, e.g. an event
// source populating its own declared outputs).
func (f *Factory) InsertDirect(items []any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = items
	f.status = StatusInserted
	f.err = nil
}

// Reset clears the factory's memoized result so it recomputes lazily
// on next access, unless it carries FlagPersistent.
func (f *Factory) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.flags&FlagPersistent != 0 {
		return
	}
	f.items = nil
	f.status = StatusUnprocessed
	f.err = nil
}

// key identifies a Factory by its (concrete type, tag) pair.
type key struct {
	typ reflect.Type
	tag string
}

// Set is the per-event collection of Factory slots, JANA2's FactorySet
// equivalent.
type Set struct {
	mu        sync.RWMutex
	factories map[key]*Factory
	upcasters map[reflect.Type]map[reflect.Type]func(any) any
	recorder  *callgraph.Recorder
}

// NewSet constructs an empty Set, sharing the given upcaster table
// (built once at topology-freeze time and reused read-only across all
// per-event Sets).
func NewSet(upcasters map[reflect.Type]map[reflect.Type]func(any) any) *Set {
	return &Set{
		factories: make(map[key]*Factory),
		upcasters: upcasters,
		recorder:  callgraph.NewRecorder(),
	}
}

// Register adds f to the set under its (Type, Tag) key. Registering
// two factories under the same key is a configuration error caught at
// topology-build time, not here.
func (s *Set) Register(f *Factory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.factories[key{typ: f.typ, tag: f.tag}] = f
}

// Lookup returns the Factory registered for typ/tag, if any.
func (s *Set) Lookup(typ reflect.Type, tag string) (*Factory, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.factories[key{typ: typ, tag: tag}]
	return f, ok
}

// CallGraph returns the recorded call-graph edges for this event.
func (s *Set) CallGraph() []callgraph.Call {
	return s.recorder.History()
}

// ResetAll resets every non-persistent factory, called when an Event
// is recycled back into its pool.
func (s *Set) ResetAll() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, f := range s.factories {
		f.Reset()
	}
	s.recorder.Reset()
}

// Get retrieves (lazily computing if needed) the typed collection
// produced by the factory registered for T/tag.
func Get[T any](s *Set, ctx any, tag string) ([]T, error) {
	var zero T
	typ := reflect.TypeOf(zero)
	f, ok := s.Lookup(typ, tag)
	if !ok {
		return nil, janaerr.New(janaerr.KindConfiguration,
			fmt.Sprintf("no factory registered for %s tag %q", typ, tag))
	}
	if err := f.ensure(ctx, s.recorder); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]T, len(f.items))
	for i, it := range f.items {
		out[i] = it.(T)
	}
	return out, nil
}

// Insert registers items directly as the output of T/tag, creating
// the Factory slot if one does not already exist. Used by a source
// arrow seeding the initial per-event collections.
func Insert[T any](s *Set, tag string, items []T) {
	var zero T
	typ := reflect.TypeOf(zero)
	erased := make([]any, len(items))
	for i, it := range items {
		erased[i] = it
	}
	s.mu.Lock()
	f, ok := s.factories[key{typ: typ, tag: tag}]
	if !ok {
		f = NewFactory(typ, tag, nil, FlagNone)
		s.factories[key{typ: typ, tag: tag}] = f
	}
	s.mu.Unlock()
	f.InsertDirect(erased)
}

// RegisterUpcaster records that a value of concrete type From can be
// viewed as interface type To via fn, populating the dispatch table
// GetAs consults. Called once per (From, To) pair at topology-build
// time.
func RegisterUpcaster(table map[reflect.Type]map[reflect.Type]func(any) any, from, to reflect.Type, fn func(any) any) {
	m, ok := table[from]
	if !ok {
		m = make(map[reflect.Type]func(any) any)
		table[from] = m
	}
	m[to] = fn
}

// GetAs retrieves every item across all registered factories whose
// concrete producer type has a registered upcaster to interface S,
// replacing the original engine's dynamic_cast-based
// JEvent::GetAs<S>(). tag, if non-empty, restricts the search to
// factories with that tag.
func GetAs[S any](s *Set, ctx any, tag string) ([]S, error) {
	var zero S
	target := reflect.TypeOf(&zero).Elem()

	s.mu.RLock()
	candidates := make([]*Factory, 0)
	for k, f := range s.factories {
		if tag != "" && k.tag != tag {
			continue
		}
		if _, ok := s.upcasters[k.typ][target]; ok {
			candidates = append(candidates, f)
		}
	}
	s.mu.RUnlock()

	var out []S
	for _, f := range candidates {
		if err := f.ensure(ctx, s.recorder); err != nil {
			return nil, err
		}
		f.mu.Lock()
		upcast := s.upcasters[f.typ][target]
		for _, it := range f.items {
			out = append(out, upcast(it).(S))
		}
		f.mu.Unlock()
	}
	return out, nil
}
