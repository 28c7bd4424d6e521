package model

import (
	"errors"
	"fmt"
)

// ErrExecutableNotFound is wrapped by TestExecutionError when the test
// binary could not be started at all.
var ErrExecutableNotFound = errors.New("test executable not found")

// ConfigError reports an invalid flag, environment or config file value.
type ConfigError struct {
	Key string
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration %q: %v", e.Key, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// BuildFailedError carries the compiler diagnostics of a failed build
// verbatim.
type BuildFailedError struct {
	Package     string
	Diagnostics string
	Err         error
}

func (e *BuildFailedError) Error() string {
	if e.Diagnostics == "" {
		return fmt.Sprintf("build %s failed: %v", e.Package, e.Err)
	}

	return fmt.Sprintf("build %s failed: %v\n%s", e.Package, e.Err, e.Diagnostics)
}

func (e *BuildFailedError) Unwrap() error { return e.Err }

// BuildIntegrityError is returned when a freshly built artifact cannot be
// read back for fingerprinting.
type BuildIntegrityError struct {
	Path Path
	Err  error
}

func (e *BuildIntegrityError) Error() string {
	return fmt.Sprintf("artifact %s is unreadable: %v", e.Path, e.Err)
}

func (e *BuildIntegrityError) Unwrap() error { return e.Err }

// TestExecutionError describes a child process that crashed, was killed or
// could not be started.
type TestExecutionError struct {
	Test     TestCase
	ExitCode int
	Err      error
}

func (e *TestExecutionError) Error() string {
	return fmt.Sprintf("test %s: exit code %d: %v", e.Test, e.ExitCode, e.Err)
}

func (e *TestExecutionError) Unwrap() error { return e.Err }

// CheckpointIOError wraps a read or write failure in the checkpoint store.
type CheckpointIOError struct {
	Op   string
	Path string
	Err  error
}

func (e *CheckpointIOError) Error() string {
	return fmt.Sprintf("checkpoint %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *CheckpointIOError) Unwrap() error { return e.Err }

// CheckpointMismatchError is recorded when replaying a stored checkpoint does
// not reproduce the recorded failure.
type CheckpointMismatchError struct {
	Test TestCase
	Diff string
}

func (e *CheckpointMismatchError) Error() string {
	if e.Diff == "" {
		return fmt.Sprintf("checkpoint for %s did not reproduce the failure", e.Test)
	}

	return fmt.Sprintf("checkpoint for %s did not reproduce the failure:\n%s", e.Test, e.Diff)
}

// TestsFailedError is returned by a run that completed but had failing,
// errored or unresolved tests.
type TestsFailedError struct {
	Failed     int
	Errored    int
	Unresolved int
}

func (e *TestsFailedError) Error() string {
	return fmt.Sprintf("%d failed, %d errored, %d unresolved", e.Failed, e.Errored, e.Unresolved)
}
