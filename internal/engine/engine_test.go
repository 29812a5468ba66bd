package engine

import (
	"context"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oriys/jana2go/internal/affinity"
	"github.com/oriys/jana2go/internal/arrow"
	"github.com/oriys/jana2go/internal/config"
	"github.com/oriys/jana2go/internal/event"
	"github.com/oriys/jana2go/internal/factory"
	"github.com/oriys/jana2go/internal/janaerr"
	"github.com/oriys/jana2go/internal/mailbox"
	"github.com/oriys/jana2go/internal/metrics"
	"github.com/oriys/jana2go/internal/scheduler"
	"github.com/oriys/jana2go/internal/supervisor"
	"github.com/oriys/jana2go/internal/topology"
	"github.com/oriys/jana2go/internal/worker"
)

// engineConfig builds a EngineConfig tuned for fast, deterministic
// test runs: small chunk sizes so a single Fire call rarely drains an
// entire mailbox, and a short checkin/backoff so a stalled run fails
// fast instead of hanging out the test's timeout.
func engineConfig(nthreads int) config.EngineConfig {
	cfg := config.DefaultConfig().Engine
	cfg.NThreads = nthreads
	cfg.EventQueueThreshold = 64
	cfg.SourceChunksize = 4
	cfg.ProcessorChunksize = 4
	cfg.InitialBackoff = time.Millisecond
	cfg.MaxBackoffTries = 8
	cfg.CheckinTime = 200 * time.Millisecond
	cfg.TickerIntervalMS = 20
	return cfg
}

// runTopology freezes topo, wires it to a scheduler and worker pool
// through a Supervisor, and runs it to completion (or failure),
// mirroring cmd/jana2go/run.go's production wiring.
func runTopology(t *testing.T, topo *topology.Topology, cfg config.EngineConfig) error {
	t.Helper()
	if err := topo.Freeze(); err != nil {
		t.Fatalf("freeze topology: %v", err)
	}

	depthFunc := func(a arrow.Arrow) int { return topo.UpstreamDepth(a.Name()) }
	sched := scheduler.New(topo.Arrows(), depthFunc)

	registry := metrics.NewRegistry()
	defer registry.Close()

	sup := supervisor.New(cfg, sched, registry)
	mapping := affinity.Initialize(cfg.Affinity, cfg.Locality, cfg.NThreads)
	pool := worker.NewPool(cfg.NThreads, sched, registry, sup, cfg, mapping.GetLocID)
	sup.SetPool(pool)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return sup.Run(ctx)
}

type noopRetirer struct{}

func (noopRetirer) Retire(ev *event.Event) {}

// ---- S1: Source of 100 ints; map x2; map -1; sink sums. ----

type intEmitter struct {
	n, max uint64
}

func (e *intEmitter) Emit(location int) (*event.Event, error) {
	if e.n >= e.max {
		return nil, arrow.ErrExhausted
	}
	ev := event.New(event.LevelEvent, e.n, 1, "engine.source", nil)
	factory.Insert[int](ev.Factories(), "raw", []int{int(e.n)})
	e.n++
	return ev, nil
}

func TestEngineSumOfTransformedInts(t *testing.T) {
	cfg := engineConfig(2)
	mapping := affinity.Initialize(cfg.Affinity, cfg.Locality, cfg.NThreads)
	nloc := mapping.NLocations()

	topo := topology.New()
	raw := mailbox.New("raw", nloc, cfg.EventQueueThreshold)
	doubled := mailbox.New("doubled", nloc, cfg.EventQueueThreshold)
	result := mailbox.New("result", nloc, cfg.EventQueueThreshold)

	src := arrow.NewSourceArrow("src", &intEmitter{max: 100}, raw, cfg.SourceChunksize)
	doubler := arrow.NewMapArrow("doubler", raw, doubled, func(ev *event.Event) (*event.Event, error) {
		vals, err := factory.Get[int](ev.Factories(), ev, "raw")
		if err != nil {
			return nil, err
		}
		factory.Insert[int](ev.Factories(), "doubled", []int{vals[0] * 2})
		return ev, nil
	}, cfg.ProcessorChunksize)
	decrementer := arrow.NewMapArrow("decrementer", doubled, result, func(ev *event.Event) (*event.Event, error) {
		vals, err := factory.Get[int](ev.Factories(), ev, "doubled")
		if err != nil {
			return nil, err
		}
		factory.Insert[int](ev.Factories(), "result", []int{vals[0] - 1})
		return ev, nil
	}, cfg.ProcessorChunksize)

	var sum int64
	summer := arrow.FuncProcessor(func(ev *event.Event) error {
		vals, err := factory.Get[int](ev.Factories(), ev, "result")
		if err != nil {
			return err
		}
		atomic.AddInt64(&sum, int64(vals[0]))
		return nil
	})
	sink := arrow.NewSinkArrow("sink", result, []arrow.Processor{summer}, noopRetirer{}, cfg.ProcessorChunksize)

	for _, err := range []error{
		topo.RegisterArrow(src),
		topo.RegisterArrow(doubler),
		topo.RegisterArrow(decrementer),
		topo.RegisterArrow(sink),
		topo.RegisterMailbox("raw", raw),
		topo.RegisterMailbox("doubled", doubled),
		topo.RegisterMailbox("result", result),
		topo.WireProduces("src", "raw", false),
		topo.WireConsumes("doubler", "raw", false),
		topo.WireProduces("doubler", "doubled", false),
		topo.WireConsumes("decrementer", "doubled", false),
		topo.WireProduces("decrementer", "result", false),
		topo.WireConsumes("sink", "result", false),
	} {
		if err != nil {
			t.Fatalf("wiring error: %v", err)
		}
	}

	if err := runTopology(t, topo, cfg); err != nil {
		t.Fatalf("unexpected run failure: %v", err)
	}

	want := int64(0)
	for i := 0; i < 100; i++ {
		want += int64(2*i - 1)
	}
	if sum != want {
		t.Fatalf("expected sum %d, got %d", want, sum)
	}
}

// ---- S2: nskip=30, nevents=20, source bound=100. ----

type boundedSkipEmitter struct {
	idx, skip, bound uint64
	emitted, max     uint64
}

func (e *boundedSkipEmitter) Emit(location int) (*event.Event, error) {
	if e.emitted >= e.max {
		return nil, arrow.ErrExhausted
	}
	for {
		e.idx++
		if e.idx > e.bound {
			return nil, arrow.ErrExhausted
		}
		if e.idx > e.skip {
			break
		}
	}
	ev := event.New(event.LevelEvent, e.idx, 1, "engine.source", nil)
	e.emitted++
	return ev, nil
}

func TestEngineNSkipNEventsBoundary(t *testing.T) {
	cfg := engineConfig(2)
	mapping := affinity.Initialize(cfg.Affinity, cfg.Locality, cfg.NThreads)
	nloc := mapping.NLocations()

	topo := topology.New()
	in := mailbox.New("events", nloc, cfg.EventQueueThreshold)

	src := arrow.NewSourceArrow("src", &boundedSkipEmitter{skip: 30, bound: 100, max: 20}, in, cfg.SourceChunksize)

	var mu sync.Mutex
	var numbers []uint64
	collector := arrow.FuncProcessor(func(ev *event.Event) error {
		mu.Lock()
		numbers = append(numbers, ev.EventNumber())
		mu.Unlock()
		return nil
	})
	sink := arrow.NewSinkArrow("sink", in, []arrow.Processor{collector}, noopRetirer{}, cfg.ProcessorChunksize)

	for _, err := range []error{
		topo.RegisterArrow(src),
		topo.RegisterArrow(sink),
		topo.RegisterMailbox("events", in),
		topo.WireProduces("src", "events", false),
		topo.WireConsumes("sink", "events", false),
	} {
		if err != nil {
			t.Fatalf("wiring error: %v", err)
		}
	}

	if err := runTopology(t, topo, cfg); err != nil {
		t.Fatalf("unexpected run failure: %v", err)
	}

	if len(numbers) != 20 {
		t.Fatalf("expected 20 events processed, got %d", len(numbers))
	}
	min, max := numbers[0], numbers[0]
	for _, n := range numbers {
		if n < min {
			min = n
		}
		if n > max {
			max = n
		}
	}
	if min != 31 {
		t.Fatalf("expected first event number 31, got %d", min)
	}
	if max != 50 {
		t.Fatalf("expected last event number 50, got %d", max)
	}
}

// ---- S3: Timeslice source with 2 timeslices, unfolder emitting 3
// children each, fold + sink. ----

type timesliceEmitter struct {
	n, max uint64
}

func (e *timesliceEmitter) Emit(location int) (*event.Event, error) {
	if e.n >= e.max {
		return nil, arrow.ErrExhausted
	}
	ev := event.New(event.LevelTimeslice, e.n, 1, "engine.source", nil)
	e.n++
	return ev, nil
}

func TestEngineMultiParentMultiChildFoldReleasesEachParentOnce(t *testing.T) {
	cfg := engineConfig(2)
	mapping := affinity.Initialize(cfg.Affinity, cfg.Locality, cfg.NThreads)
	nloc := mapping.NLocations()

	topo := topology.New()
	timeslices := mailbox.New("timeslices", nloc, cfg.EventQueueThreshold)
	children := mailbox.New("children", nloc, cfg.EventQueueThreshold)
	parents := mailbox.New("parents", nloc, cfg.EventQueueThreshold)

	src := arrow.NewSourceArrow("src", &timesliceEmitter{max: 2}, timeslices, cfg.SourceChunksize)
	unfold := arrow.NewUnfoldArrow("unfold", event.LevelEvent, timeslices, children, func(parent *event.Event) ([]*event.Event, error) {
		out := make([]*event.Event, 3)
		for i := range out {
			out[i] = event.New(event.LevelEvent, parent.EventNumber()*10+uint64(i), 1, "unfold", nil)
		}
		return out, nil
	}, cfg.ProcessorChunksize)

	var merged int64
	fold := arrow.NewFoldArrow("fold", event.LevelTimeslice, children, parents, func(parent, child *event.Event) error {
		atomic.AddInt64(&merged, 1)
		return nil
	}, cfg.ProcessorChunksize)

	var mu sync.Mutex
	retireCounts := make(map[*event.Event]int)
	releasedAtRetire := make(map[*event.Event]bool)
	retirer := retirerFunc(func(ev *event.Event) {
		mu.Lock()
		retireCounts[ev]++
		releasedAtRetire[ev] = ev.Released() && ev.ChildCount() == 0
		mu.Unlock()
	})
	sink := arrow.NewSinkArrow("sink", parents, []arrow.Processor{arrow.FuncProcessor(func(ev *event.Event) error { return nil })}, retirer, cfg.ProcessorChunksize)

	for _, err := range []error{
		topo.RegisterArrow(src),
		topo.RegisterArrow(unfold),
		topo.RegisterArrow(fold),
		topo.RegisterArrow(sink),
		topo.RegisterMailbox("timeslices", timeslices),
		topo.RegisterMailbox("children", children),
		topo.RegisterMailbox("parents", parents),
		topo.WireProduces("src", "timeslices", false),
		topo.WireConsumes("unfold", "timeslices", false),
		topo.WireProduces("unfold", "children", false),
		topo.WireConsumes("fold", "children", false),
		topo.WireProduces("fold", "parents", false),
		topo.WireConsumes("sink", "parents", false),
	} {
		if err != nil {
			t.Fatalf("wiring error: %v", err)
		}
	}

	if err := runTopology(t, topo, cfg); err != nil {
		t.Fatalf("unexpected run failure: %v", err)
	}

	if merged != 6 {
		t.Fatalf("expected 6 children merged, got %d", merged)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(retireCounts) != 2 {
		t.Fatalf("expected exactly 2 parents retired, got %d", len(retireCounts))
	}
	for ev, count := range retireCounts {
		if count != 1 {
			t.Fatalf("expected parent retired exactly once, got %d for event %d", count, ev.EventNumber())
		}
		if !releasedAtRetire[ev] {
			t.Fatalf("expected parent %d to be released with zero child count at retirement", ev.EventNumber())
		}
	}
}

type retirerFunc func(ev *event.Event)

func (f retirerFunc) Retire(ev *event.Event) { f(ev) }

// ---- S4: Factory A depends on B depends on C; only A requested. ----

func TestEngineFactoryDependencyChainCallGraph(t *testing.T) {
	cfg := engineConfig(1)
	mapping := affinity.Initialize(cfg.Affinity, cfg.Locality, cfg.NThreads)
	nloc := mapping.NLocations()

	topo := topology.New()
	in := mailbox.New("in", nloc, cfg.EventQueueThreshold)
	out := mailbox.New("out", nloc, cfg.EventQueueThreshold)

	var mu sync.Mutex
	var order []string
	counts := map[string]int{}

	src := arrow.NewSourceArrow("src", &intEmitter{max: 1}, in, cfg.SourceChunksize)
	compute := arrow.NewMapArrow("compute", in, out, func(ev *event.Event) (*event.Event, error) {
		set := ev.Factories()

		processC := func(ctx any) ([]any, error) {
			mu.Lock()
			order = append(order, "C")
			counts["C"]++
			mu.Unlock()
			return []any{0}, nil
		}
		processB := func(ctx any) ([]any, error) {
			if _, err := factory.Get[int](set, ctx, "C"); err != nil {
				return nil, err
			}
			mu.Lock()
			order = append(order, "B")
			counts["B"]++
			mu.Unlock()
			return []any{0}, nil
		}
		processA := func(ctx any) ([]any, error) {
			if _, err := factory.Get[int](set, ctx, "B"); err != nil {
				return nil, err
			}
			mu.Lock()
			order = append(order, "A")
			counts["A"]++
			mu.Unlock()
			return []any{0}, nil
		}

		set.Register(factory.NewFactory(reflect.TypeOf(0), "C", processC, factory.FlagNone))
		set.Register(factory.NewFactory(reflect.TypeOf(0), "B", processB, factory.FlagNone))
		set.Register(factory.NewFactory(reflect.TypeOf(0), "A", processA, factory.FlagNone))

		if _, err := factory.Get[int](set, ev, "A"); err != nil {
			return nil, err
		}
		factory.Insert[int](set, "callgraph-done", []int{1})
		return ev, nil
	}, cfg.ProcessorChunksize)

	var capturedGraph []string
	sink := arrow.NewSinkArrow("sink", out, []arrow.Processor{arrow.FuncProcessor(func(ev *event.Event) error {
		for _, c := range ev.Factories().CallGraph() {
			mu.Lock()
			capturedGraph = append(capturedGraph, c.CallerTag+"->"+c.CalleeTag)
			mu.Unlock()
		}
		return nil
	})}, noopRetirer{}, cfg.ProcessorChunksize)

	for _, err := range []error{
		topo.RegisterArrow(src),
		topo.RegisterArrow(compute),
		topo.RegisterArrow(sink),
		topo.RegisterMailbox("in", in),
		topo.RegisterMailbox("out", out),
		topo.WireProduces("src", "in", false),
		topo.WireConsumes("compute", "in", false),
		topo.WireProduces("compute", "out", false),
		topo.WireConsumes("sink", "out", false),
	} {
		if err != nil {
			t.Fatalf("wiring error: %v", err)
		}
	}

	if err := runTopology(t, topo, cfg); err != nil {
		t.Fatalf("unexpected run failure: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if !reflect.DeepEqual(order, []string{"C", "B", "A"}) {
		t.Fatalf("expected process order [C B A], got %v", order)
	}
	for _, name := range []string{"A", "B", "C"} {
		if counts[name] != 1 {
			t.Fatalf("expected %s processed exactly once, got %d", name, counts[name])
		}
	}
	hasEdge := func(edge string) bool {
		for _, e := range capturedGraph {
			if e == edge {
				return true
			}
		}
		return false
	}
	if !hasEdge("A->B") {
		t.Fatalf("expected call graph edge A->B, got %v", capturedGraph)
	}
	if !hasEdge("B->C") {
		t.Fatalf("expected call graph edge B->C, got %v", capturedGraph)
	}
}

// ---- S5: User Process throws on event 3. ----

func TestEngineExceptionPropagationStopsRun(t *testing.T) {
	cfg := engineConfig(1)
	mapping := affinity.Initialize(cfg.Affinity, cfg.Locality, cfg.NThreads)
	nloc := mapping.NLocations()

	topo := topology.New()
	in := mailbox.New("in", nloc, cfg.EventQueueThreshold)

	src := arrow.NewSourceArrow("src", &intEmitter{max: 10}, in, cfg.SourceChunksize)
	failer := arrow.FuncProcessor(func(ev *event.Event) error {
		if ev.EventNumber() == 3 {
			return janaerr.New(janaerr.KindUserComponentFailure, "simulated failure on event 3")
		}
		return nil
	})
	sink := arrow.NewSinkArrow("failing-sink", in, []arrow.Processor{failer}, noopRetirer{}, 1)

	for _, err := range []error{
		topo.RegisterArrow(src),
		topo.RegisterArrow(sink),
		topo.RegisterMailbox("in", in),
		topo.WireProduces("src", "in", false),
		topo.WireConsumes("failing-sink", "in", false),
	} {
		if err != nil {
			t.Fatalf("wiring error: %v", err)
		}
	}

	runErr := runTopology(t, topo, cfg)
	if runErr == nil {
		t.Fatal("expected the run to stop with an error after event 3 fails")
	}
	ucf, ok := runErr.(*janaerr.UserComponentFailure)
	if !ok {
		t.Fatalf("expected a *janaerr.UserComponentFailure, got %T: %v", runErr, runErr)
	}
	if ucf.Component != "failing-sink" {
		t.Fatalf("expected the failure to name the failing-sink component, got %q", ucf.Component)
	}
}

// ---- S6: nthreads=4, source emits 10000 events, all retire exactly
// once, concurrently. ----

func TestEngineThroughputUnderConcurrency(t *testing.T) {
	const total = 10000
	cfg := engineConfig(4)
	mapping := affinity.Initialize(cfg.Affinity, cfg.Locality, cfg.NThreads)
	nloc := mapping.NLocations()

	topo := topology.New()
	in := mailbox.New("in", nloc, cfg.EventQueueThreshold, mailbox.WithStealing(true))

	src := arrow.NewSourceArrow("src", &intEmitter{max: total}, in, cfg.SourceChunksize)

	var retired int64
	var mu sync.Mutex
	seen := make(map[uint64]bool, total)
	retirer := retirerFunc(func(ev *event.Event) {
		atomic.AddInt64(&retired, 1)
		mu.Lock()
		if seen[ev.EventNumber()] {
			t.Errorf("event %d retired twice", ev.EventNumber())
		}
		seen[ev.EventNumber()] = true
		mu.Unlock()
	})
	sink := arrow.NewSinkArrow("sink", in, []arrow.Processor{arrow.FuncProcessor(func(ev *event.Event) error { return nil })}, retirer, cfg.ProcessorChunksize)

	for _, err := range []error{
		topo.RegisterArrow(src),
		topo.RegisterArrow(sink),
		topo.RegisterMailbox("in", in),
		topo.WireProduces("src", "in", false),
		topo.WireConsumes("sink", "in", false),
	} {
		if err != nil {
			t.Fatalf("wiring error: %v", err)
		}
	}

	started := time.Now()
	if err := runTopology(t, topo, cfg); err != nil {
		t.Fatalf("unexpected run failure: %v", err)
	}
	elapsed := time.Since(started)

	if retired != total {
		t.Fatalf("expected all %d events to retire, got %d", total, retired)
	}
	if len(seen) != total {
		t.Fatalf("expected %d distinct events retired, got %d", total, len(seen))
	}
	if elapsed <= 0 {
		t.Fatalf("expected a measurable elapsed duration, got %v", elapsed)
	}
}
