// Package report builds the end-of-run performance summary and maps
// run outcomes to process exit codes, per spec.md §6's "Observable
// outputs".
package report

import (
	"encoding/json"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/oriys/jana2go/internal/metrics"
)

// Exit codes, matching the original engine's convention of
// distinguishing a clean run from a user-component failure from a
// configuration/topology error caught before any event was processed.
const (
	ExitOK                  = 0
	ExitUserComponentFailure = 1
	ExitConfigurationError  = 2
	ExitTimeout             = 3
	ExitInterrupted         = 130
)

// Summary is the JSON document printed (or written to the
// configured output) at the end of a run.
type Summary struct {
	RunID       string          `json:"run_id"`
	StartedAt   time.Time       `json:"started_at"`
	FinishedAt  time.Time       `json:"finished_at"`
	DurationMs  int64           `json:"duration_ms"`
	Metrics     metrics.Summary `json:"metrics"`
	ExitCode    int             `json:"exit_code"`
	FailureText string          `json:"failure,omitempty"`
}

// NewRunID generates a fresh identifier for one engine run, used to
// correlate a printed Summary with the structured log lines and
// traces it produced.
func NewRunID() string {
	return uuid.New().String()
}

// Build assembles a Summary from a metrics snapshot and run outcome.
func Build(runID string, started, finished time.Time, snap metrics.Summary, exitCode int, failure error) Summary {
	s := Summary{
		RunID:      runID,
		StartedAt:  started,
		FinishedAt: finished,
		DurationMs: finished.Sub(started).Milliseconds(),
		Metrics:    snap,
		ExitCode:   exitCode,
	}
	if failure != nil {
		s.FailureText = failure.Error()
	}
	return s
}

// WriteJSON writes the summary as indented JSON to w.
func (s Summary) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}
