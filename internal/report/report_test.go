package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/oriys/jana2go/internal/metrics"
)

func TestBuildComputesDuration(t *testing.T) {
	started := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	finished := started.Add(1500 * time.Millisecond)

	s := Build("run-1", started, finished, metrics.Summary{TotalFires: 10}, ExitOK, nil)
	if s.DurationMs != 1500 {
		t.Fatalf("expected duration 1500ms, got %d", s.DurationMs)
	}
	if s.FailureText != "" {
		t.Fatalf("expected no failure text on a clean run, got %q", s.FailureText)
	}
	if s.ExitCode != ExitOK {
		t.Fatalf("expected ExitOK, got %d", s.ExitCode)
	}
}

func TestBuildRecordsFailureText(t *testing.T) {
	s := Build("run-2", time.Now(), time.Now(), metrics.Summary{}, ExitUserComponentFailure, errors.New("boom"))
	if s.FailureText != "boom" {
		t.Fatalf("expected failure text %q, got %q", "boom", s.FailureText)
	}
}

func TestWriteJSONProducesValidIndentedJSON(t *testing.T) {
	s := Build("run-3", time.Now(), time.Now(), metrics.Summary{TotalFires: 3}, ExitOK, nil)

	var buf bytes.Buffer
	if err := s.WriteJSON(&buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded Summary
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("expected valid JSON output, got error: %v", err)
	}
	if decoded.Metrics.TotalFires != 3 {
		t.Fatalf("expected decoded TotalFires 3, got %d", decoded.Metrics.TotalFires)
	}
	if decoded.RunID != "run-3" {
		t.Fatalf("expected decoded RunID %q, got %q", "run-3", decoded.RunID)
	}
}

func TestNewRunIDProducesDistinctValues(t *testing.T) {
	a := NewRunID()
	b := NewRunID()
	if a == "" || b == "" {
		t.Fatal("expected NewRunID to produce non-empty identifiers")
	}
	if a == b {
		t.Fatal("expected two calls to NewRunID to produce distinct identifiers")
	}
}
