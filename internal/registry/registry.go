// Package registry implements the component registration protocol:
// event sources, arrows, processors, factory generators, and services
// declare themselves by name before topology.Freeze, and no further
// registrations are accepted once the run starts.
//
// Grounded on JComponentManager: registration is closed (subsequent
// calls return a ConfigurationError) the moment the topology is
// frozen, preventing plugins loaded late from corrupting an
// in-progress run.
package registry

import (
	"fmt"
	"sync"

	"github.com/oriys/jana2go/internal/arrow"
	"github.com/oriys/jana2go/internal/factory"
	"github.com/oriys/jana2go/internal/janaerr"
)

// SourceFactory constructs a fresh event source component by name.
type SourceFactory func() (any, error)

// ArrowFactory constructs a fresh arrow.Arrow (map, unfold, or fold)
// by name. A single Arrow instance returned here is wired into the
// topology exactly once per call.
type ArrowFactory func() (arrow.Arrow, error)

// ProcessorFactory constructs a fresh sink-side arrow.Processor by
// name, for plugins that register their own event processors instead
// of going through the demo topology's inline FuncProcessor.
type ProcessorFactory func() (arrow.Processor, error)

// FactoryGeneratorFunc constructs a fresh *factory.Factory by name,
// mirroring JFactoryGenerator: a plugin registers one of these per
// (type, tag) combination it can produce, and the FactorySet looks it
// up lazily the first time something asks for that combination.
type FactoryGeneratorFunc func() (*factory.Factory, error)

// ServiceFactory constructs a fresh shared service component (e.g. a
// calibration database handle or a geometry lookup) by name. Services
// are constructed once and shared across the run, unlike sources and
// arrows which are constructed per topology.
type ServiceFactory func() (any, error)

// Registry holds the set of component constructors declared before
// the topology is frozen.
type Registry struct {
	mu                sync.Mutex
	closed            bool
	sources           map[string]SourceFactory
	arrows            map[string]ArrowFactory
	processors        map[string]ProcessorFactory
	factoryGenerators map[string]FactoryGeneratorFunc
	services          map[string]ServiceFactory
	plugins           map[string]bool
}

// New constructs an empty, open Registry.
func New() *Registry {
	return &Registry{
		sources:           make(map[string]SourceFactory),
		arrows:            make(map[string]ArrowFactory),
		processors:        make(map[string]ProcessorFactory),
		factoryGenerators: make(map[string]FactoryGeneratorFunc),
		services:          make(map[string]ServiceFactory),
		plugins:           make(map[string]bool),
	}
}

// RegisterSource declares an event source constructor under name.
func (r *Registry) RegisterSource(name string, factory SourceFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return janaerr.New(janaerr.KindConfiguration, fmt.Sprintf("cannot register source %q: registry is closed", name))
	}
	if _, exists := r.sources[name]; exists {
		return janaerr.New(janaerr.KindConfiguration, fmt.Sprintf("source %q registered twice", name))
	}
	r.sources[name] = factory
	return nil
}

// RegisterArrow declares a map/unfold/fold arrow constructor under
// name.
func (r *Registry) RegisterArrow(name string, factory ArrowFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return janaerr.New(janaerr.KindConfiguration, fmt.Sprintf("cannot register arrow %q: registry is closed", name))
	}
	if _, exists := r.arrows[name]; exists {
		return janaerr.New(janaerr.KindConfiguration, fmt.Sprintf("arrow %q registered twice", name))
	}
	r.arrows[name] = factory
	return nil
}

// RegisterProcessor declares a sink-side processor constructor under
// name.
func (r *Registry) RegisterProcessor(name string, factory ProcessorFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return janaerr.New(janaerr.KindConfiguration, fmt.Sprintf("cannot register processor %q: registry is closed", name))
	}
	if _, exists := r.processors[name]; exists {
		return janaerr.New(janaerr.KindConfiguration, fmt.Sprintf("processor %q registered twice", name))
	}
	r.processors[name] = factory
	return nil
}

// RegisterFactoryGenerator declares a factory-producing constructor
// under name, typically the (type, tag) pair the factory computes.
func (r *Registry) RegisterFactoryGenerator(name string, gen FactoryGeneratorFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return janaerr.New(janaerr.KindConfiguration, fmt.Sprintf("cannot register factory generator %q: registry is closed", name))
	}
	if _, exists := r.factoryGenerators[name]; exists {
		return janaerr.New(janaerr.KindConfiguration, fmt.Sprintf("factory generator %q registered twice", name))
	}
	r.factoryGenerators[name] = gen
	return nil
}

// RegisterService declares a shared service constructor under name.
func (r *Registry) RegisterService(name string, factory ServiceFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return janaerr.New(janaerr.KindConfiguration, fmt.Sprintf("cannot register service %q: registry is closed", name))
	}
	if _, exists := r.services[name]; exists {
		return janaerr.New(janaerr.KindConfiguration, fmt.Sprintf("service %q registered twice", name))
	}
	r.services[name] = factory
	return nil
}

// RegisterPlugin records that a plugin named name has been loaded.
func (r *Registry) RegisterPlugin(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return janaerr.New(janaerr.KindConfiguration, fmt.Sprintf("cannot register plugin %q: registry is closed", name))
	}
	r.plugins[name] = true
	return nil
}

// Source looks up a previously registered source constructor.
func (r *Registry) Source(name string) (SourceFactory, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.sources[name]
	return f, ok
}

// Arrow looks up a previously registered arrow constructor.
func (r *Registry) Arrow(name string) (ArrowFactory, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.arrows[name]
	return f, ok
}

// Processor looks up a previously registered processor constructor.
func (r *Registry) Processor(name string) (ProcessorFactory, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.processors[name]
	return f, ok
}

// FactoryGenerator looks up a previously registered factory generator.
func (r *Registry) FactoryGenerator(name string) (FactoryGeneratorFunc, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.factoryGenerators[name]
	return f, ok
}

// Service looks up a previously registered service constructor.
func (r *Registry) Service(name string) (ServiceFactory, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.services[name]
	return f, ok
}

// Close permanently closes the registry to further registrations,
// called immediately before topology.Freeze.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}

// Closed reports whether Close has been called.
func (r *Registry) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}
