package model

import "time"

// CheckpointMeta is stored next to every checkpoint trace.
type CheckpointMeta struct {
	Fingerprint    Fingerprint `yaml:"fingerprint"`
	Package        string      `yaml:"package"`
	Test           string      `yaml:"test"`
	RunID          string      `yaml:"run_id"`
	CreatedAt      time.Time   `yaml:"created_at"`
	Tuning         Tuning      `yaml:"tuning"`
	FailureSummary string      `yaml:"failure_summary,omitempty"`
}

// Checkpoint is one stored failing execution path. Trace is opaque checker
// output. Path is filled in by the store that loaded the checkpoint.
type Checkpoint struct {
	Meta  CheckpointMeta
	Trace []byte
	Path  Path
}

// Ref returns a reference to the stored checkpoint.
func (c Checkpoint) Ref() CheckpointRef {
	return CheckpointRef{
		Fingerprint: c.Meta.Fingerprint,
		Package:     c.Meta.Package,
		Test:        c.Meta.Test,
		Path:        c.Path,
	}
}

// CheckpointRef points into the checkpoint store without carrying the trace.
type CheckpointRef struct {
	Fingerprint Fingerprint
	Package     string
	Test        string
	Path        Path
	Reused      bool
}

// RunResult is the aggregate outcome of one pipeline invocation. Unresolved
// counts failed tests that ended without a usable checkpoint; they are also
// included in Failed.
type RunResult struct {
	RunID       string
	Passed      int
	Failed      int
	Skipped     int
	Errored     int
	Unresolved  int
	Checkpoints []CheckpointRef
	Warnings    []string

	// NoTests is set when the built artifacts contain no tests at all.
	NoTests bool
	// FilterMatchedNothing is set when tests exist but the filter excluded
	// all of them.
	FilterMatchedNothing bool
}

// Total returns the number of tests that produced a final status.
func (r RunResult) Total() int {
	return r.Passed + r.Failed + r.Skipped + r.Errored
}

// Success reports whether every executed test passed or skipped.
func (r RunResult) Success() bool {
	return r.Failed == 0 && r.Errored == 0
}
