// Package metrics collects and exposes engine runtime observability data.
//
// # Design rationale
//
// Two metric stores coexist in this package:
//
//  1. The in-process Metrics struct (per-arrow counters + time series)
//     for the lightweight JSON perf-summary endpoint described in
//     spec.md §6 ("Observable outputs").
//  2. A Prometheus registry (prometheus.go) for scraping by external
//     monitoring systems.
//
// Keeping both lets a standalone run print a perf summary without a
// Prometheus sidecar while still supporting production monitoring.
//
// # Concurrency — hot path
//
// RecordFire is called from every worker on every arrow.Fire and must be
// as fast as possible. It uses atomic increments for global counters and
// dispatches a lightweight event onto a buffered channel (tsChan) for the
// time-series worker to process asynchronously. This avoids holding any
// lock on the hot path, mirroring the teacher's RecordInvocationWithDetails
// design.
//
// # Invariants
//
//   - TotalFires == KeepGoingCount + ComeBackLaterCount + FinishedCount.
//   - The time-series ring buffer holds at most timeSeriesBucketCount
//     buckets (60 at 1-second granularity, covering the last minute).
//   - tsChan capacity is 8192 events; events dropped when full are
//     counted in tsDroppedEvents for observability.
package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

const (
	timeSeriesBucketDuration = time.Second
	timeSeriesBucketCount    = 60
)

// TimeSeriesBucket stores metrics for a single time bucket.
type TimeSeriesBucket struct {
	Timestamp    time.Time
	Fires        int64
	Errors       int64
	TotalLatency int64
	Count        int64
}

// ArrowMetrics collects counters for a single arrow, mutex-guarded per
// spec.md §5 ("Metrics: each object keeps a mutable mutex").
type ArrowMetrics struct {
	mu sync.Mutex

	TotalMessageCount int64
	LastMessageCount  int64
	TotalQueueVisits  int64
	LastQueueVisits   int64
	TotalLatency      time.Duration
	LastLatency       time.Duration
	TotalQueueLatency time.Duration
	LastQueueLatency  time.Duration
	LastStatus        string
}

// Update folds a single fire's results into the running totals.
func (m *ArrowMetrics) Update(messageCount int, queueVisits int, latency, queueLatency time.Duration, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TotalMessageCount += int64(messageCount)
	m.LastMessageCount = int64(messageCount)
	m.TotalQueueVisits += int64(queueVisits)
	m.LastQueueVisits = int64(queueVisits)
	m.TotalLatency += latency
	m.LastLatency = latency
	m.TotalQueueLatency += queueLatency
	m.LastQueueLatency = queueLatency
	m.LastStatus = status
}

// Take destructively merges src into m and clears src (mirrors
// JArrowMetrics::take in the original engine — used when a worker
// publishes its thread-local metrics buffer upstream into the arrow's
// shared record).
func (m *ArrowMetrics) Take(src *ArrowMetrics) {
	src.mu.Lock()
	snapshot := *src
	*src = ArrowMetrics{}
	src.mu.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.TotalMessageCount += snapshot.TotalMessageCount
	m.LastMessageCount = snapshot.LastMessageCount
	m.TotalQueueVisits += snapshot.TotalQueueVisits
	m.LastQueueVisits = snapshot.LastQueueVisits
	m.TotalLatency += snapshot.TotalLatency
	m.LastLatency = snapshot.LastLatency
	m.TotalQueueLatency += snapshot.TotalQueueLatency
	m.LastQueueLatency = snapshot.LastQueueLatency
	if snapshot.LastStatus != "" {
		m.LastStatus = snapshot.LastStatus
	}
}

// Snapshot returns a copy safe to read concurrently with further updates.
func (m *ArrowMetrics) Snapshot() ArrowMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *m
	cp.mu = sync.Mutex{}
	return cp
}

// WorkerMetrics accumulates per-worker scheduler/useful/retry/idle time,
// mirroring JWorkerMetrics.
type WorkerMetrics struct {
	mu sync.Mutex

	SchedulerVisitCount int64
	TotalUsefulTime     time.Duration
	TotalRetryTime      time.Duration
	TotalSchedulerTime  time.Duration
	TotalIdleTime       time.Duration
	LastUsefulTime      time.Duration
	LastRetryTime       time.Duration
	LastSchedulerTime   time.Duration
	LastIdleTime        time.Duration
}

// Update folds one worker-loop iteration's timings into the totals.
func (m *WorkerMetrics) Update(visits int64, useful, retry, scheduler, idle time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SchedulerVisitCount += visits
	m.TotalUsefulTime += useful
	m.TotalRetryTime += retry
	m.TotalSchedulerTime += scheduler
	m.TotalIdleTime += idle
	m.LastUsefulTime = useful
	m.LastRetryTime = retry
	m.LastSchedulerTime = scheduler
	m.LastIdleTime = idle
}

// Snapshot returns a copy safe to read concurrently with further updates.
func (m *WorkerMetrics) Snapshot() WorkerMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *m
	cp.mu = sync.Mutex{}
	return cp
}

// Registry collects and exposes aggregate engine runtime metrics for the
// lightweight JSON perf-summary endpoint.
type Registry struct {
	TotalFires          atomic.Int64
	KeepGoingCount      atomic.Int64
	ComeBackLaterCount  atomic.Int64
	FinishedCount       atomic.Int64
	EventsCompleted     atomic.Int64
	EventsFailed        atomic.Int64

	TotalLatencyMs atomic.Int64
	MinLatencyMs   atomic.Int64
	MaxLatencyMs   atomic.Int64

	mu         sync.RWMutex
	buckets    []TimeSeriesBucket
	tsChan     chan tsEvent
	tsDropped  atomic.Int64
	startOnce  sync.Once
	closed     atomic.Bool
}

type tsEvent struct {
	latency time.Duration
	failed  bool
}

// NewRegistry constructs a Registry and starts its background
// time-series worker goroutine.
func NewRegistry() *Registry {
	r := &Registry{
		tsChan: make(chan tsEvent, 8192),
	}
	r.startOnce.Do(func() { go r.runTimeSeries() })
	return r
}

// RecordFire records the outcome of a single arrow.Fire call.
func (r *Registry) RecordFire(status string, latency time.Duration, failed bool) {
	r.TotalFires.Add(1)
	switch status {
	case "KeepGoing":
		r.KeepGoingCount.Add(1)
	case "ComeBackLater":
		r.ComeBackLaterCount.Add(1)
	case "Finished":
		r.FinishedCount.Add(1)
	}
	if failed {
		r.EventsFailed.Add(1)
	} else {
		r.EventsCompleted.Add(1)
	}

	ms := latency.Milliseconds()
	r.TotalLatencyMs.Add(ms)
	for {
		cur := r.MinLatencyMs.Load()
		if cur != 0 && cur <= ms {
			break
		}
		if r.MinLatencyMs.CompareAndSwap(cur, ms) {
			break
		}
	}
	for {
		cur := r.MaxLatencyMs.Load()
		if cur >= ms {
			break
		}
		if r.MaxLatencyMs.CompareAndSwap(cur, ms) {
			break
		}
	}

	select {
	case r.tsChan <- tsEvent{latency: latency, failed: failed}:
	default:
		r.tsDropped.Add(1)
	}
}

func (r *Registry) runTimeSeries() {
	ticker := time.NewTicker(timeSeriesBucketDuration)
	defer ticker.Stop()

	current := TimeSeriesBucket{Timestamp: time.Now()}
	for {
		select {
		case ev, ok := <-r.tsChan:
			if !ok {
				return
			}
			current.Fires++
			current.TotalLatency += ev.latency.Milliseconds()
			current.Count++
			if ev.failed {
				current.Errors++
			}
		case <-ticker.C:
			r.mu.Lock()
			r.buckets = append(r.buckets, current)
			if len(r.buckets) > timeSeriesBucketCount {
				r.buckets = r.buckets[len(r.buckets)-timeSeriesBucketCount:]
			}
			r.mu.Unlock()
			current = TimeSeriesBucket{Timestamp: time.Now()}
		}
	}
}

// Close stops the background time-series worker.
func (r *Registry) Close() {
	if r.closed.CompareAndSwap(false, true) {
		close(r.tsChan)
	}
}

// TimeSeries returns a copy of the retained buckets.
func (r *Registry) TimeSeries() []TimeSeriesBucket {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]TimeSeriesBucket, len(r.buckets))
	copy(out, r.buckets)
	return out
}

// Summary is the JSON-serializable perf-summary snapshot.
type Summary struct {
	TotalFires         int64 `json:"total_fires"`
	KeepGoingCount     int64 `json:"keep_going_count"`
	ComeBackLaterCount int64 `json:"come_back_later_count"`
	FinishedCount      int64 `json:"finished_count"`
	EventsCompleted    int64 `json:"events_completed"`
	EventsFailed       int64 `json:"events_failed"`
	AvgLatencyMs       float64 `json:"avg_latency_ms"`
	MinLatencyMs       int64 `json:"min_latency_ms"`
	MaxLatencyMs       int64 `json:"max_latency_ms"`
	DroppedTSEvents    int64 `json:"dropped_ts_events"`
}

// Snapshot builds a JSON-serializable summary of current counters.
func (r *Registry) Snapshot() Summary {
	total := r.TotalFires.Load()
	avg := 0.0
	if total > 0 {
		avg = float64(r.TotalLatencyMs.Load()) / float64(total)
	}
	return Summary{
		TotalFires:         total,
		KeepGoingCount:     r.KeepGoingCount.Load(),
		ComeBackLaterCount: r.ComeBackLaterCount.Load(),
		FinishedCount:      r.FinishedCount.Load(),
		EventsCompleted:    r.EventsCompleted.Load(),
		EventsFailed:       r.EventsFailed.Load(),
		AvgLatencyMs:       avg,
		MinLatencyMs:       r.MinLatencyMs.Load(),
		MaxLatencyMs:       r.MaxLatencyMs.Load(),
		DroppedTSEvents:    r.tsDropped.Load(),
	}
}

// Handler returns an http.Handler serving the JSON perf summary.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(r.Snapshot())
	})
}
