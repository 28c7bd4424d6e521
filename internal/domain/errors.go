package domain

import (
	"context"
	"errors"

	m "gloom.dev/pkg/gloom/internal/model"
)

// Process exit codes.
const (
	ExitOK            = 0
	ExitTestsFailed   = 1
	ExitBuildFailed   = 2
	ExitConfigError   = 3
	ExitInternalError = 4
)

// ExitCode maps an error returned by the workflow or the CLI to the process
// exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var (
		testsFailed *m.TestsFailedError
		buildFailed *m.BuildFailedError
		integrity   *m.BuildIntegrityError
		configErr   *m.ConfigError
	)

	switch {
	case errors.Is(err, context.Canceled):
		// An interrupted run did not prove the tests pass, whichever phase
		// it was stopped in.
		return ExitTestsFailed
	case errors.As(err, &testsFailed):
		return ExitTestsFailed
	case errors.As(err, &buildFailed), errors.As(err, &integrity):
		return ExitBuildFailed
	case errors.As(err, &configErr):
		return ExitConfigError
	default:
		return ExitInternalError
	}
}

// resultError returns a TestsFailedError for an unsuccessful result.
func resultError(result m.RunResult) error {
	if result.Success() {
		return nil
	}

	return &m.TestsFailedError{
		Failed:     result.Failed,
		Errored:    result.Errored,
		Unresolved: result.Unresolved,
	}
}
