package event

import "testing"

func TestSetParentAndGetParent(t *testing.T) {
	run := New(LevelRun, 0, 1, "source", nil)
	ts := New(LevelTimeslice, 0, 1, "source", nil)

	if err := ts.SetParent(run); err != nil {
		t.Fatalf("unexpected error setting parent: %v", err)
	}
	parent, ok := ts.GetParent(LevelRun)
	if !ok || parent != run {
		t.Fatalf("expected GetParent to return the run event, got %v ok=%v", parent, ok)
	}
	if run.ChildCount() != 1 {
		t.Fatalf("expected run's child count to be 1, got %d", run.ChildCount())
	}
}

func TestSetParentRejectsCoarserOrEqualLevel(t *testing.T) {
	a := New(LevelEvent, 0, 1, "source", nil)
	b := New(LevelEvent, 1, 1, "source", nil)

	if err := a.SetParent(b); err == nil {
		t.Fatal("expected error setting a same-level event as parent")
	}

	run := New(LevelRun, 0, 1, "source", nil)
	if err := run.SetParent(a); err == nil {
		t.Fatal("expected error setting a finer-level event as parent")
	}
}

func TestReleaseParentTracksLastChild(t *testing.T) {
	run := New(LevelRun, 0, 1, "source", nil)
	childA := New(LevelTimeslice, 0, 1, "source", nil)
	childB := New(LevelTimeslice, 1, 1, "source", nil)

	childA.SetParent(run)
	childB.SetParent(run)
	run.MarkReleased()

	_, hadParent, isLast := childA.ReleaseParent(LevelRun)
	if !hadParent {
		t.Fatal("expected childA to have a parent")
	}
	if isLast {
		t.Fatal("expected childA's release not to be the last (childB still holds a reference)")
	}

	_, _, isLast = childB.ReleaseParent(LevelRun)
	if !isLast {
		t.Fatal("expected childB's release to be the last")
	}
}

func TestReleaseParentWithholdsUntilProducerReleasesParent(t *testing.T) {
	run := New(LevelRun, 0, 1, "source", nil)
	child := New(LevelTimeslice, 0, 1, "source", nil)
	child.SetParent(run)

	// The producer hasn't called MarkReleased yet (it may still intend
	// to attach more children to run), so even though this is the only
	// outstanding child, ReleaseParent must not report it as last.
	_, _, isLast := child.ReleaseParent(LevelRun)
	if isLast {
		t.Fatal("expected ReleaseParent not to report last until the producer marks the parent released")
	}
	if run.ChildCount() != 0 {
		t.Fatalf("expected run's child count to reach zero, got %d", run.ChildCount())
	}
	if run.Released() {
		t.Fatal("expected run not to be released yet")
	}

	run.MarkReleased()
	if !run.Released() {
		t.Fatal("expected Released to report true after MarkReleased")
	}
}

func TestMarkReleasedReportsWhetherChildCountWasAlreadyZero(t *testing.T) {
	run := New(LevelRun, 0, 1, "source", nil)
	if alreadyZero := run.MarkReleased(); !alreadyZero {
		t.Fatal("expected MarkReleased on a childless parent to report the count was already zero")
	}

	run2 := New(LevelRun, 1, 1, "source", nil)
	child := New(LevelTimeslice, 0, 1, "source", nil)
	child.SetParent(run2)
	if alreadyZero := run2.MarkReleased(); alreadyZero {
		t.Fatal("expected MarkReleased to report false while a child is still outstanding")
	}
}

func TestResetClearsState(t *testing.T) {
	ev := New(LevelEvent, 5, 1, "source", nil)
	ev.MarkFailed()
	ev.MarkReleased()

	ev.Reset(LevelEvent, 10, 2, "other-source")

	if ev.EventNumber() != 10 || ev.RunNumber() != 2 || ev.Origin() != "other-source" {
		t.Fatalf("expected Reset to overwrite identity fields, got number=%d run=%d origin=%s",
			ev.EventNumber(), ev.RunNumber(), ev.Origin())
	}
	if ev.Failed() {
		t.Fatal("expected Reset to clear the failed flag")
	}
	if ev.Released() {
		t.Fatal("expected Reset to clear the released flag")
	}
}
