// Package worker implements the goroutine pool that pulls arrow
// assignments from the scheduler and fires them, backing off when
// there is nothing useful to do.
//
// Grounded on src/lib/JANA/JWorker.cc's worker loop: request an
// assignment, fire it, measure useful/idle/retry time, and on
// ComeBackLater retry with a bounded, configurable backoff (Linear or
// Exponential) before giving up and checking in with the supervisor.
// The goroutine lifecycle (start/stop via a stopCh + sync.WaitGroup)
// follows the teacher's asyncqueue.WorkerPool idiom.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/oriys/jana2go/internal/arrow"
	"github.com/oriys/jana2go/internal/config"
	"github.com/oriys/jana2go/internal/janaerr"
	"github.com/oriys/jana2go/internal/logging"
	"github.com/oriys/jana2go/internal/metrics"
	"github.com/oriys/jana2go/internal/observability"
	"github.com/oriys/jana2go/internal/scheduler"
)

// Scheduler is the subset of scheduler.Scheduler a Worker depends on,
// narrowed to an interface so tests can supply a fake.
type Scheduler interface {
	NextAssignment(location int, prevArrow arrow.Arrow, prevResult arrow.Status) (scheduler.Assignment, bool)
	ReportResult(a scheduler.Assignment, status arrow.Status) error
	Release(a scheduler.Assignment)
}

// FailureSink receives the first UserComponentFailure encountered by
// any worker, so the supervisor can decide whether to abort the run.
type FailureSink interface {
	ReportFailure(err error)
}

// Pool runs a fixed set of Worker goroutines, each pulling assignments
// from a shared Scheduler.
type Pool struct {
	workers []*Worker
	wg      sync.WaitGroup
	stopCh  chan struct{}
}

// NewPool constructs a Pool of n workers, each assigned location
// locationFunc(workerID) for mailbox/pool shard affinity.
func NewPool(n int, sched Scheduler, registry *metrics.Registry, failures FailureSink, cfg config.EngineConfig, locationFunc func(workerID int) int) *Pool {
	p := &Pool{stopCh: make(chan struct{})}
	for i := 0; i < n; i++ {
		loc := 0
		if locationFunc != nil {
			loc = locationFunc(i)
		}
		p.workers = append(p.workers, newWorker(i, loc, sched, registry, failures, cfg))
	}
	return p
}

// Start launches every worker's goroutine.
func (p *Pool) Start() {
	for _, w := range p.workers {
		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			w.run(p.stopCh)
		}(w)
	}
}

// Stop signals every worker to exit and waits for them to drain.
func (p *Pool) Stop() {
	close(p.stopCh)
	p.wg.Wait()
}

// Metrics returns a snapshot of every worker's accumulated metrics,
// indexed by worker ID.
func (p *Pool) Metrics() []metrics.WorkerMetrics {
	out := make([]metrics.WorkerMetrics, len(p.workers))
	for i, w := range p.workers {
		out[i] = w.metrics.Snapshot()
	}
	return out
}

// Worker pulls assignments from the Scheduler and fires them,
// tracking useful/idle/retry time and backing off on ComeBackLater.
type Worker struct {
	id       int
	location int
	sched    Scheduler
	registry *metrics.Registry
	failures FailureSink
	cfg      config.EngineConfig
	metrics  metrics.WorkerMetrics

	arrowMetrics sync.Map // arrow name -> *metrics.ArrowMetrics
}

func newWorker(id, location int, sched Scheduler, registry *metrics.Registry, failures FailureSink, cfg config.EngineConfig) *Worker {
	return &Worker{id: id, location: location, sched: sched, registry: registry, failures: failures, cfg: cfg}
}

func (w *Worker) arrowMetricsFor(name string) *metrics.ArrowMetrics {
	v, _ := w.arrowMetrics.LoadOrStore(name, &metrics.ArrowMetrics{})
	return v.(*metrics.ArrowMetrics)
}

// run is the main worker loop: request an assignment, fire it if one
// was given, retry with backoff on ComeBackLater, and report each
// result back to the scheduler before asking for the next assignment.
func (w *Worker) run(stopCh <-chan struct{}) {
	var prevArrow arrow.Arrow
	prevResult := arrow.StatusKeepGoing

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		schedStart := time.Now()
		assignment, ok := w.sched.NextAssignment(w.location, prevArrow, prevResult)
		schedTime := time.Since(schedStart)

		if !ok {
			// Topology fully finished: nothing left to do, ever.
			return
		}
		if assignment.Arrow == nil {
			idle := w.backoffWait(stopCh)
			w.metrics.Update(1, 0, 0, schedTime, idle)
			prevArrow, prevResult = nil, arrow.StatusComeBackLater
			continue
		}

		status, useful, retryTime, err := w.fireWithBackoff(assignment.Arrow, stopCh)
		if err != nil {
			if janaerr.AsJanaError(err, janaerr.KindUserComponentFailure) || isUserComponentFailure(err) {
				if w.failures != nil {
					w.failures.ReportFailure(err)
				}
			}
			logging.Op().Error("arrow fire failed", "arrow", assignment.Arrow.Name(), "worker", w.id, "error", err)
		}

		if reportErr := w.sched.ReportResult(assignment, status); reportErr != nil {
			logging.Op().Error("failed to finalize arrow", "arrow", assignment.Arrow.Name(), "error", reportErr)
		}

		if w.registry != nil {
			w.registry.RecordFire(status.String(), useful, err != nil)
		}
		w.metrics.Update(1, useful, retryTime, schedTime, 0)

		prevArrow, prevResult = assignment.Arrow, status
	}
}

// fireTraced wraps a single a.Fire call in a span tagged with the
// arrow's name and the running event count it has processed so far,
// so a trace backend can correlate spans across an arrow's lifetime
// even though Fire itself has no event-scoped context to pass through.
func (w *Worker) fireTraced(a arrow.Arrow, am *metrics.ArrowMetrics) (arrow.Status, error) {
	_, span := observability.StartSpan(context.Background(), "arrow.fire",
		observability.AttrArrowName.String(a.Name()),
		observability.AttrEventNumber.Int64(am.TotalMessageCount),
		observability.AttrLocation.Int(w.location),
	)
	defer span.End()

	status, err := a.Fire(am, w.location)
	if err != nil {
		observability.SetSpanError(span, err)
	} else {
		observability.SetSpanOK(span)
	}
	return status, err
}

func isUserComponentFailure(err error) bool {
	_, ok := err.(*janaerr.UserComponentFailure)
	return ok
}

// fireWithBackoff fires a once, retrying on ComeBackLater up to
// MaxBackoffTries times (or until CheckinTime total elapsed),
// following JWorker.cc's retry loop exactly: KeepGoing/Finished reset
// the retry counter and return immediately; ComeBackLater sleeps for
// an amount controlled by the configured BackoffStrategy and tries
// again.
func (w *Worker) fireWithBackoff(a arrow.Arrow, stopCh <-chan struct{}) (arrow.Status, time.Duration, time.Duration, error) {
	am := w.arrowMetricsFor(a.Name())
	backoff := w.cfg.InitialBackoff
	tries := 0
	var retryTime time.Duration
	deadline := time.Now().Add(w.cfg.CheckinTime)

	for {
		fireStart := time.Now()
		status, err := w.fireTraced(a, am)
		useful := time.Since(fireStart)

		if status != arrow.StatusComeBackLater || err != nil {
			return status, useful, retryTime, err
		}

		tries++
		if tries > w.cfg.MaxBackoffTries || time.Now().After(deadline) {
			return status, useful, retryTime, nil
		}

		sleepStart := time.Now()
		select {
		case <-time.After(backoff):
		case <-stopCh:
			return status, useful, retryTime, nil
		}
		retryTime += time.Since(sleepStart)

		switch w.cfg.Backoff {
		case config.BackoffExponential:
			backoff *= 2
		default:
			backoff += w.cfg.InitialBackoff
		}
	}
}

// backoffWait sleeps for CheckinTime (or until stopCh fires) when the
// scheduler had nothing runnable at all, returning the time spent
// idling.
func (w *Worker) backoffWait(stopCh <-chan struct{}) time.Duration {
	start := time.Now()
	checkin := w.cfg.CheckinTime
	if checkin <= 0 {
		checkin = 50 * time.Millisecond
	}
	select {
	case <-time.After(checkin):
	case <-stopCh:
	}
	return time.Since(start)
}
