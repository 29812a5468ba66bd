package scheduler

import (
	"testing"

	"github.com/oriys/jana2go/internal/arrow"
	"github.com/oriys/jana2go/internal/metrics"
)

type stubArrow struct {
	name             string
	isSource, isSink bool
}

func (s *stubArrow) Name() string      { return s.name }
func (s *stubArrow) Initialize() error { return nil }
func (s *stubArrow) Finalize() error   { return nil }
func (s *stubArrow) Fire(m *metrics.ArrowMetrics, location int) (arrow.Status, error) {
	return arrow.StatusKeepGoing, nil
}
func (s *stubArrow) IsSource() bool { return s.isSource }
func (s *stubArrow) IsSink() bool   { return s.isSink }
func (s *stubArrow) ChunkSize() int { return 1 }

func TestNextAssignmentPrefersSinks(t *testing.T) {
	interior := &stubArrow{name: "interior"}
	sink := &stubArrow{name: "sink", isSink: true}
	s := New([]arrow.Arrow{interior, sink}, nil)
	s.InitializeAll()

	a, ok := s.NextAssignment(0, nil, arrow.StatusKeepGoing)
	if !ok {
		t.Fatal("expected an assignment to be available")
	}
	if a.Arrow != sink {
		t.Fatalf("expected the sink to be prioritized, got %v", a.Arrow.Name())
	}
}

func TestNextAssignmentSkipsBusyArrow(t *testing.T) {
	only := &stubArrow{name: "only"}
	s := New([]arrow.Arrow{only}, nil)
	s.InitializeAll()

	a, ok := s.NextAssignment(0, nil, arrow.StatusKeepGoing)
	if !ok || a.Arrow != only {
		t.Fatalf("expected to be assigned the only arrow, got %v ok=%v", a.Arrow, ok)
	}

	_, ok = s.NextAssignment(0, nil, arrow.StatusKeepGoing)
	if !ok {
		t.Fatal("expected ok=true (run not finished) even with nothing runnable")
	}
}

func TestReportResultReleasesBusyAndAllowsReassignment(t *testing.T) {
	only := &stubArrow{name: "only"}
	s := New([]arrow.Arrow{only}, nil)
	s.InitializeAll()

	a, _ := s.NextAssignment(0, nil, arrow.StatusKeepGoing)
	if err := s.ReportResult(a, arrow.StatusKeepGoing); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	a2, ok := s.NextAssignment(0, nil, arrow.StatusKeepGoing)
	if !ok || a2.Arrow != only {
		t.Fatalf("expected the arrow to be reassignable after ReportResult, got %v ok=%v", a2.Arrow, ok)
	}
}

func TestReportResultFinishedMarksDone(t *testing.T) {
	only := &stubArrow{name: "only"}
	s := New([]arrow.Arrow{only}, nil)
	s.InitializeAll()

	a, _ := s.NextAssignment(0, nil, arrow.StatusKeepGoing)
	if err := s.ReportResult(a, arrow.StatusFinished); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !s.Done() {
		t.Fatal("expected Done() to report true once the only arrow finishes")
	}

	_, ok := s.NextAssignment(0, nil, arrow.StatusKeepGoing)
	if ok {
		t.Fatal("expected NextAssignment to report ok=false once the run is done")
	}
}

func TestReleaseClearsBusyWithoutFinalizing(t *testing.T) {
	only := &stubArrow{name: "only"}
	s := New([]arrow.Arrow{only}, nil)
	s.InitializeAll()

	a, _ := s.NextAssignment(0, nil, arrow.StatusKeepGoing)
	s.Release(a)

	a2, ok := s.NextAssignment(0, nil, arrow.StatusKeepGoing)
	if !ok || a2.Arrow != only {
		t.Fatalf("expected the arrow to be reassignable after Release, got %v ok=%v", a2.Arrow, ok)
	}
}

func TestPauseStopsAssignmentsAndResumeRestoresThem(t *testing.T) {
	only := &stubArrow{name: "only"}
	s := New([]arrow.Arrow{only}, nil)
	s.InitializeAll()

	s.Pause()
	paused, ok := s.NextAssignment(0, nil, arrow.StatusKeepGoing)
	if !ok {
		t.Fatal("expected ok=true (run not finished) while paused")
	}
	if paused.Arrow != nil {
		t.Fatalf("expected no assignment while paused, got %v", paused.Arrow.Name())
	}

	s.Resume()
	a, ok := s.NextAssignment(0, nil, arrow.StatusKeepGoing)
	if !ok || a.Arrow != only {
		t.Fatalf("expected the arrow to be assignable again after Resume, got %v ok=%v", a.Arrow, ok)
	}
}

func TestDepthFuncBreaksPriorityTies(t *testing.T) {
	shallow := &stubArrow{name: "shallow"}
	deep := &stubArrow{name: "deep"}
	depths := map[string]int{"shallow": 1, "deep": 100}

	s := New([]arrow.Arrow{shallow, deep}, func(a arrow.Arrow) int { return depths[a.Name()] })
	s.InitializeAll()

	a, ok := s.NextAssignment(0, nil, arrow.StatusKeepGoing)
	if !ok {
		t.Fatal("expected an assignment")
	}
	if a.Arrow.Name() != "deep" {
		t.Fatalf("expected the deeper-queued arrow to win the priority tie, got %v", a.Arrow.Name())
	}
}
