package model

import (
	"fmt"
	"time"
)

// TestCase is one top-level test enumerated from a test binary.
type TestCase struct {
	Package string
	Name    string
}

// String returns the fully-qualified test name.
func (t TestCase) String() string {
	if t.Package == "" {
		return t.Name
	}

	return t.Package + "::" + t.Name
}

// Status is the classification of a single test execution.
type Status int

const (
	// Passed indicates the test binary reported success.
	Passed Status = iota
	// Failed indicates the checker found an interleaving that fails the test.
	Failed
	// Errored indicates a crash, timeout or unexpected exit.
	Errored
	// Skipped indicates the test skipped itself.
	Skipped
	// Unresolved indicates a failing test whose checkpoint could not be
	// produced, stored or replayed.
	Unresolved
)

func (s Status) String() string {
	switch s {
	case Passed:
		return "ok"
	case Failed:
		return "failed"
	case Errored:
		return "errored"
	case Skipped:
		return "skipped"
	case Unresolved:
		return "unresolved"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Phase names the pipeline pass a test execution belongs to.
type Phase string

const (
	// PhaseExplore is the initial exhaustive pass without diagnostics.
	PhaseExplore Phase = "explore"
	// PhaseReproduce re-runs a failing test while the checker writes a checkpoint.
	PhaseReproduce Phase = "reproduce"
	// PhaseReplay replays a checkpoint with logging and location tracking.
	PhaseReplay Phase = "replay"
)

// Outcome is what a single child-process execution produced.
type Outcome struct {
	Status   Status
	Summary  string
	Output   string
	Duration time.Duration
	Err      error
}

// TestReport records an outcome for a test in a given phase.
type TestReport struct {
	Test     TestCase
	Phase    Phase
	Status   Status
	Summary  string
	Output   string
	Duration time.Duration
}

// NewTestReport captures outcome as a report of test in phase.
func NewTestReport(test TestCase, phase Phase, outcome Outcome) TestReport {
	return TestReport{
		Test:     test,
		Phase:    phase,
		Status:   outcome.Status,
		Summary:  outcome.Summary,
		Output:   outcome.Output,
		Duration: outcome.Duration,
	}
}
