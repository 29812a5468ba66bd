// Package topology builds and validates the directed graph of arrows,
// mailboxes, and pools that make up one run of the engine.
//
// Construction happens in three phases, mirroring JANA2's
// JTopologyBuilder: Register (arrows and resources declare themselves,
// by name, without wiring), Wire (edges between named resources are
// declared), and Freeze (the graph is validated and made immutable —
// every subsequent query is lock-free since nothing can change).
package topology

import (
	"fmt"
	"sort"

	"github.com/oriys/jana2go/internal/arrow"
	"github.com/oriys/jana2go/internal/janaerr"
	"github.com/oriys/jana2go/internal/mailbox"
	"github.com/oriys/jana2go/internal/pool"
)

// edge records a producer-or-consumer relationship an arrow declared
// to a named mailbox during Wire, for validation at Freeze time.
type edge struct {
	arrowName string
	resource  string
	isPool    bool
	produces  bool
}

// Topology is the engine's frozen dataflow graph: an ordered list of
// arrows plus the named mailboxes/pools wired between them.
type Topology struct {
	frozen bool

	arrows    []arrow.Arrow
	arrowIdx  map[string]int
	mailboxes map[string]*mailbox.Mailbox
	pools     map[string]*pool.Pool[any]

	edges []edge
}

// New constructs an empty, unfrozen Topology.
func New() *Topology {
	return &Topology{
		arrowIdx:  make(map[string]int),
		mailboxes: make(map[string]*mailbox.Mailbox),
		pools:     make(map[string]*pool.Pool[any]),
	}
}

// RegisterArrow adds an arrow to the topology. Panics are not used;
// a duplicate name is rejected here with a ConfigurationError.
func (t *Topology) RegisterArrow(a arrow.Arrow) error {
	if t.frozen {
		return janaerr.ErrFrozen
	}
	if _, exists := t.arrowIdx[a.Name()]; exists {
		return janaerr.New(janaerr.KindConfiguration, fmt.Sprintf("arrow %q registered twice", a.Name()))
	}
	t.arrowIdx[a.Name()] = len(t.arrows)
	t.arrows = append(t.arrows, a)
	return nil
}

// RegisterMailbox adds a named mailbox to the topology.
func (t *Topology) RegisterMailbox(name string, m *mailbox.Mailbox) error {
	if t.frozen {
		return janaerr.ErrFrozen
	}
	if _, exists := t.mailboxes[name]; exists {
		return janaerr.New(janaerr.KindConfiguration, fmt.Sprintf("mailbox %q registered twice", name))
	}
	t.mailboxes[name] = m
	return nil
}

// RegisterPool adds a named pool to the topology.
func (t *Topology) RegisterPool(name string, p *pool.Pool[any]) error {
	if t.frozen {
		return janaerr.ErrFrozen
	}
	if _, exists := t.pools[name]; exists {
		return janaerr.New(janaerr.KindConfiguration, fmt.Sprintf("pool %q registered twice", name))
	}
	t.pools[name] = p
	return nil
}

// WireProduces declares that arrowName writes to the named mailbox
// (or pool, if isPool is true).
func (t *Topology) WireProduces(arrowName, resource string, isPool bool) error {
	if t.frozen {
		return janaerr.ErrFrozen
	}
	t.edges = append(t.edges, edge{arrowName: arrowName, resource: resource, isPool: isPool, produces: true})
	return nil
}

// WireConsumes declares that arrowName reads from the named mailbox
// (or pool, if isPool is true).
func (t *Topology) WireConsumes(arrowName, resource string, isPool bool) error {
	if t.frozen {
		return janaerr.ErrFrozen
	}
	t.edges = append(t.edges, edge{arrowName: arrowName, resource: resource, isPool: isPool, produces: false})
	return nil
}

// Freeze validates the declared graph and makes the Topology
// immutable. Validation mirrors spec.md §5's structural invariants:
// every mailbox has exactly one producer and at least one consumer,
// every pool has at least one producer and one consumer, every source
// arrow can reach a sink via a directed path, and the producer/consumer
// graph has no cycles. Pool edges count like mailbox edges and no edge
// is exempt, so a pool that a sink produces into and a source consumes
// from is rejected as a cycle.
func (t *Topology) Freeze() error {
	if t.frozen {
		return nil
	}

	producers := make(map[string][]string) // resource -> arrow names
	consumers := make(map[string][]string)
	for _, e := range t.edges {
		if _, ok := t.arrowIdx[e.arrowName]; !ok {
			return janaerr.New(janaerr.KindTopology, fmt.Sprintf("wired arrow %q was never registered", e.arrowName))
		}
		if e.isPool {
			if _, ok := t.pools[e.resource]; !ok {
				return janaerr.New(janaerr.KindTopology, fmt.Sprintf("wired pool %q was never registered", e.resource))
			}
		} else {
			if _, ok := t.mailboxes[e.resource]; !ok {
				return janaerr.New(janaerr.KindTopology, fmt.Sprintf("wired mailbox %q was never registered", e.resource))
			}
		}
		if e.produces {
			producers[e.resource] = append(producers[e.resource], e.arrowName)
		} else {
			consumers[e.resource] = append(consumers[e.resource], e.arrowName)
		}
	}

	for name := range t.mailboxes {
		if len(producers[name]) != 1 {
			return janaerr.New(janaerr.KindTopology,
				fmt.Sprintf("mailbox %q must have exactly one producer, has %d", name, len(producers[name])))
		}
		if len(consumers[name]) < 1 {
			return janaerr.New(janaerr.KindTopology, fmt.Sprintf("mailbox %q has no consumer", name))
		}
	}
	for name := range t.pools {
		if len(producers[name]) < 1 || len(consumers[name]) < 1 {
			return janaerr.New(janaerr.KindTopology, fmt.Sprintf("pool %q must have at least one producer and one consumer", name))
		}
	}

	if err := t.checkAcyclic(producers, consumers); err != nil {
		return err
	}
	if err := t.checkSourcesReachSinks(producers, consumers); err != nil {
		return err
	}

	t.frozen = true
	return nil
}

// checkAcyclic builds the arrow-to-arrow adjacency implied by
// resource sharing (arrow A produces resource R, arrow B consumes R =>
// edge A->B) and rejects any cycle.
func (t *Topology) checkAcyclic(producers, consumers map[string][]string) error {
	adj := make(map[string][]string)
	for resource, prods := range producers {
		for _, p := range prods {
			adj[p] = append(adj[p], consumers[resource]...)
		}
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int)
	names := make([]string, 0, len(t.arrowIdx))
	for n := range t.arrowIdx {
		names = append(names, n)
	}
	sort.Strings(names)

	var visit func(n string) error
	visit = func(n string) error {
		color[n] = gray
		for _, next := range adj[n] {
			switch color[next] {
			case gray:
				return janaerr.New(janaerr.KindTopology, fmt.Sprintf("topology contains a cycle through arrow %q", next))
			case white:
				if err := visit(next); err != nil {
					return err
				}
			}
		}
		color[n] = black
		return nil
	}

	for _, n := range names {
		if color[n] == white {
			if err := visit(n); err != nil {
				return err
			}
		}
	}
	return nil
}

// checkSourcesReachSinks verifies every source arrow can reach at
// least one sink arrow via a directed path of shared resources.
func (t *Topology) checkSourcesReachSinks(producers, consumers map[string][]string) error {
	adj := make(map[string][]string)
	for resource, prods := range producers {
		for _, p := range prods {
			adj[p] = append(adj[p], consumers[resource]...)
		}
	}

	for _, a := range t.arrows {
		if !a.IsSource() {
			continue
		}
		if !t.reachesSink(a.Name(), adj) {
			return janaerr.New(janaerr.KindTopology, fmt.Sprintf("source arrow %q cannot reach any sink", a.Name()))
		}
	}
	return nil
}

func (t *Topology) reachesSink(start string, adj map[string][]string) bool {
	seen := map[string]bool{start: true}
	queue := []string{start}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if idx, ok := t.arrowIdx[n]; ok && t.arrows[idx].IsSink() {
			return true
		}
		for _, next := range adj[n] {
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return false
}

// Arrows returns the topology's arrows in registration order. Only
// valid after Freeze.
func (t *Topology) Arrows() []arrow.Arrow {
	return t.arrows
}

// Arrow looks up a registered arrow by name.
func (t *Topology) Arrow(name string) (arrow.Arrow, bool) {
	idx, ok := t.arrowIdx[name]
	if !ok {
		return nil, false
	}
	return t.arrows[idx], true
}

// Mailbox looks up a registered mailbox by name.
func (t *Topology) Mailbox(name string) (*mailbox.Mailbox, bool) {
	m, ok := t.mailboxes[name]
	return m, ok
}

// Frozen reports whether Freeze has completed successfully.
func (t *Topology) Frozen() bool { return t.frozen }

// UpstreamDepth sums the queued depth of every mailbox arrowName
// consumes from, for the scheduler's DepthFunc to break priority ties
// toward the most congested arrow. Pool-backed consumption doesn't
// count: pools don't carry a meaningful "backlog" the way mailboxes do.
func (t *Topology) UpstreamDepth(arrowName string) int {
	total := 0
	for _, e := range t.edges {
		if e.arrowName != arrowName || e.produces || e.isPool {
			continue
		}
		if mb, ok := t.mailboxes[e.resource]; ok {
			total += mb.Depth()
		}
	}
	return total
}
