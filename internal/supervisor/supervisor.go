// Package supervisor owns the top-level run lifecycle: starting the
// worker pool, logging progress on a ticker, handling pause/stop
// requests (SIGINT is turned into these by package signalhandler),
// and capturing the first
// UserComponentFailure so the run can abort cleanly instead of
// hanging.
//
// Grounded on the JApplication run loop plus the teacher's
// asyncqueue.WorkerPool start/stop and elastic-manager idioms for
// goroutine lifecycle, and JSignalHandler for the three-strikes SIGINT
// policy.
package supervisor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oriys/jana2go/internal/config"
	"github.com/oriys/jana2go/internal/janaerr"
	"github.com/oriys/jana2go/internal/logging"
	"github.com/oriys/jana2go/internal/metrics"
	"github.com/oriys/jana2go/internal/scheduler"
	"github.com/oriys/jana2go/internal/worker"
)

// RunState mirrors the engine's top-level run states, separate from
// arrow.RunState (which tracks individual arrows).
type RunState int32

const (
	StateInitializing RunState = iota
	StateRunning
	StatePaused
	StateStopped
)

// Supervisor coordinates one engine run end to end.
type Supervisor struct {
	cfg   config.EngineConfig
	sched *scheduler.Scheduler
	pool  *worker.Pool

	registry *metrics.Registry

	state      atomic.Int32
	firstFail  atomic.Pointer[error]
	pausedCh   chan struct{}
	stoppedCh  chan struct{}
	pauseOnce  sync.Once
	stopOnce   sync.Once

	tickerStop chan struct{}
	wg         sync.WaitGroup
}

// New constructs a Supervisor over an already-built Scheduler. Call
// SetPool before Run — the worker Pool itself is typically
// constructed with this Supervisor as its FailureSink, so the two
// must be wired together after both exist.
func New(cfg config.EngineConfig, sched *scheduler.Scheduler, registry *metrics.Registry) *Supervisor {
	s := &Supervisor{
		cfg:       cfg,
		sched:     sched,
		registry:  registry,
		pausedCh:  make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
	s.state.Store(int32(StateInitializing))
	return s
}

// SetPool attaches the worker Pool this Supervisor will start and stop
// on Run. Must be called before Run.
func (s *Supervisor) SetPool(pool *worker.Pool) {
	s.pool = pool
}

// ReportFailure records the first UserComponentFailure seen by any
// worker (implements worker.FailureSink). Subsequent calls are
// no-ops: only the first failure is retained, matching JANA2's
// "the first exception wins" convention for run-ending error reports.
func (s *Supervisor) ReportFailure(err error) {
	e := err
	s.firstFail.CompareAndSwap(nil, &e)
	logging.Op().Error("user component failure captured by supervisor", "error", err)
}

// FirstFailure returns the first failure captured, if any.
func (s *Supervisor) FirstFailure() error {
	p := s.firstFail.Load()
	if p == nil {
		return nil
	}
	return *p
}

// Run starts the scheduler's arrows and the worker pool, blocking
// until the topology finishes, a fatal user-component failure is
// captured, or ctx is cancelled. The completion watcher runs in an
// errgroup; the progress-logging ticker runs in its own goroutine and
// is stopped and joined once the watcher returns.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.sched.InitializeAll(); err != nil {
		return janaerr.Wrap(janaerr.KindConfiguration, "arrow initialization failed", err)
	}
	s.state.Store(int32(StateRunning))
	s.tickerStop = make(chan struct{})

	s.pool.Start()

	var tickerWG sync.WaitGroup
	tickerWG.Add(1)
	go func() {
		defer tickerWG.Done()
		s.runMetricsTicker()
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.watchCompletion(gctx) })

	err := g.Wait()
	close(s.tickerStop)
	tickerWG.Wait()
	s.pool.Stop()
	s.state.Store(int32(StateStopped))
	close(s.stoppedCh)

	if err != nil {
		return err
	}
	if fail := s.FirstFailure(); fail != nil {
		return fail
	}
	return nil
}

func (s *Supervisor) watchCompletion(ctx context.Context) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if s.sched.Done() {
				return nil
			}
			if s.FirstFailure() != nil {
				return nil
			}
		}
	}
}

func (s *Supervisor) runMetricsTicker() {
	interval := time.Duration(s.cfg.TickerIntervalMS) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.tickerStop:
			return
		case <-ticker.C:
			logging.Op().Debug("engine tick", "events_completed", s.registry.Snapshot().EventsCompleted)
		}
	}
}

// RequestPause pauses every arrow, letting in-flight Fire calls
// finish but scheduling no new ones until RequestResume.
func (s *Supervisor) RequestPause() {
	s.sched.Pause()
	s.state.Store(int32(StatePaused))
	s.pauseOnce.Do(func() { close(s.pausedCh) })
}

// RequestResume undoes RequestPause.
func (s *Supervisor) RequestResume() {
	s.sched.Resume()
	s.state.Store(int32(StateRunning))
}

// RequestStop asks every worker to exit after its current Fire call
// completes, without waiting for the topology to finish naturally.
func (s *Supervisor) RequestStop() {
	s.stopOnce.Do(func() {
		s.firstFail.CompareAndSwap(nil, errPtr(janaerr.ErrShutdown))
	})
}

// WaitUntilPaused blocks until RequestPause has taken effect.
func (s *Supervisor) WaitUntilPaused() {
	<-s.pausedCh
}

// WaitUntilStopped blocks until Run has returned.
func (s *Supervisor) WaitUntilStopped() {
	<-s.stoppedCh
}

// State returns the supervisor's current top-level run state.
func (s *Supervisor) State() RunState {
	return RunState(s.state.Load())
}

func errPtr(err error) *error { return &err }
