package adapter

import (
	"context"
	"errors"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	m "gloom.dev/pkg/gloom/internal/model"
)

func TestLocalTestBinaryAdapter_Flaky(t *testing.T) {
	artifact := buildFlaky(t)
	binaries := NewLocalTestBinaryAdapter()
	cfg := m.DefaultExecutionConfig()
	cfg.TestTimeout = time.Minute
	ctx := context.Background()

	t.Run("List drops benchmarks and keeps source order", func(t *testing.T) {
		tests, err := binaries.List(ctx, artifact)
		require.NoError(t, err)

		names := make([]string, 0, len(tests))
		for _, tc := range tests {
			assert.Equal(t, artifact.Package, tc.Package)
			names = append(names, tc.Name)
		}

		assert.Equal(t, []string{"TestOk", "TestSkipped", "TestFlaky", "TestCrash", "TestSlow"}, names)
	})

	t.Run("passing test", func(t *testing.T) {
		outcome, err := binaries.Test(artifact, "TestOk").Run(ctx, cfg)
		require.NoError(t, err)
		assert.Equal(t, m.Passed, outcome.Status, outcome.Output)
	})

	t.Run("skipped test", func(t *testing.T) {
		outcome, err := binaries.Test(artifact, "TestSkipped").Run(ctx, cfg)
		require.NoError(t, err)
		assert.Equal(t, m.Skipped, outcome.Status, outcome.Output)
	})

	t.Run("failing test", func(t *testing.T) {
		outcome, err := binaries.Test(artifact, "TestFlaky").Run(ctx, cfg)
		require.NoError(t, err)
		assert.Equal(t, m.Failed, outcome.Status)
		assert.Contains(t, outcome.Summary, "lost update")
	})

	t.Run("crash is errored", func(t *testing.T) {
		t.Setenv("FLAKY_CRASH", "1")

		outcome, err := binaries.Test(artifact, "TestCrash").Run(ctx, cfg)
		require.NoError(t, err)
		assert.Equal(t, m.Errored, outcome.Status)

		var execErr *m.TestExecutionError
		require.ErrorAs(t, outcome.Err, &execErr)
		assert.Equal(t, 3, execErr.ExitCode)
	})

	t.Run("timeout is errored", func(t *testing.T) {
		t.Setenv("FLAKY_SLOW", "1")

		short := cfg
		short.TestTimeout = 500 * time.Millisecond

		outcome, err := binaries.Test(artifact, "TestSlow").Run(ctx, short)
		require.NoError(t, err)
		assert.Equal(t, m.Errored, outcome.Status)
		assert.ErrorIs(t, outcome.Err, context.DeadlineExceeded)
	})

	t.Run("reproduce then replay", func(t *testing.T) {
		test := binaries.Test(artifact, "TestFlaky")

		outcome, trace, err := test.RunProducingCheckpoint(ctx, cfg)
		require.NoError(t, err)
		assert.Equal(t, m.Failed, outcome.Status)
		require.Equal(t, `{"branch":3,"threads":[0,1,0]}`, string(trace))

		original := append([]byte(nil), trace...)

		replayed, err := test.Replay(ctx, cfg, trace)
		require.NoError(t, err)
		assert.Equal(t, m.Failed, replayed.Status)
		assert.Contains(t, replayed.Output, "replaying "+string(original))
		assert.Contains(t, replayed.Output, "location=1")
		assert.Equal(t, original, trace)
	})

	t.Run("no checkpoint written for passing test", func(t *testing.T) {
		outcome, trace, err := binaries.Test(artifact, "TestOk").RunProducingCheckpoint(ctx, cfg)
		require.NoError(t, err)
		assert.Equal(t, m.Passed, outcome.Status)
		assert.Nil(t, trace)
	})
}

func TestLocalTestBinaryAdapter_MissingExecutable(t *testing.T) {
	artifact := m.BuildArtifact{
		Package: "example/missing",
		Path:    m.Path(filepath.Join(t.TempDir(), "missing.test")),
	}

	binaries := NewLocalTestBinaryAdapter()

	_, err := binaries.Test(artifact, "TestX").Run(context.Background(), m.DefaultExecutionConfig())
	require.Error(t, err)
	assert.ErrorIs(t, err, m.ErrExecutableNotFound)

	_, err = binaries.List(context.Background(), artifact)
	assert.ErrorIs(t, err, m.ErrExecutableNotFound)
}

func TestClassify(t *testing.T) {
	test := m.TestCase{Package: "p", Name: "TestA"}
	exitErr := exitError(t, 1)

	tests := []struct {
		name        string
		output      string
		runErr      error
		deadlineErr error
		wantStatus  m.Status
		wantSummary string
	}{
		{
			name:       "pass",
			output:     "=== RUN   TestA\n--- PASS: TestA (0.00s)\nPASS\n",
			wantStatus: m.Passed,
		},
		{
			name:       "skip",
			output:     "=== RUN   TestA\n    a_test.go:5: not here\n--- SKIP: TestA (0.00s)\nPASS\n",
			wantStatus: m.Skipped,
		},
		{
			name:        "fail reports first error location",
			output:      "=== RUN   TestA\n    a_test.go:9: boom\n    a_test.go:10: again\n--- FAIL: TestA (0.01s)\nFAIL\n",
			runErr:      exitErr,
			wantStatus:  m.Failed,
			wantSummary: "a_test.go:9: boom",
		},
		{
			name:        "checker panic inside test is a failure",
			output:      "=== RUN   TestA\n--- FAIL: TestA (0.00s)\npanic: deadlock detected [recovered]\n",
			runErr:      exitErr,
			wantStatus:  m.Failed,
			wantSummary: "panic: deadlock detected [recovered]",
		},
		{
			name:        "fail marker of a similarly named test does not count",
			output:      "--- FAIL: TestAB (0.00s)\n",
			runErr:      exitErr,
			wantStatus:  m.Errored,
			wantSummary: "--- FAIL: TestAB (0.00s)",
		},
		{
			name:        "crash without marker",
			output:      "fatal error: all goroutines are asleep\n",
			runErr:      exitErr,
			wantStatus:  m.Errored,
			wantSummary: "",
		},
		{
			name:        "timeout",
			output:      "=== RUN   TestA\n",
			runErr:      errors.New("signal: killed"),
			deadlineErr: context.DeadlineExceeded,
			wantStatus:  m.Errored,
			wantSummary: "test timed out",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome := Classify(test, tt.output, tt.runErr, tt.deadlineErr)
			assert.Equal(t, tt.wantStatus, outcome.Status)
			assert.Equal(t, tt.wantSummary, outcome.Summary)
			assert.Equal(t, tt.output, outcome.Output)

			if tt.wantStatus == m.Errored {
				var execErr *m.TestExecutionError
				assert.ErrorAs(t, outcome.Err, &execErr)
			} else {
				assert.NoError(t, outcome.Err)
			}
		})
	}
}

func TestChildEnv_DropsInheritedCheckerVariables(t *testing.T) {
	t.Setenv("LOOM_CHECKPOINT_FILE", "/tmp/should-not-leak")
	t.Setenv("GLOOM_CHILD_ENV_MARKER", "kept")

	env := childEnv([]string{"LOOM_LOG=off"})

	assert.Contains(t, env, "GLOOM_CHILD_ENV_MARKER=kept")
	assert.Contains(t, env, "LOOM_LOG=off")
	assert.NotContains(t, env, "LOOM_CHECKPOINT_FILE=/tmp/should-not-leak")
}

func exitError(t *testing.T, code int) error {
	t.Helper()

	sh, err := exec.LookPath("sh")
	if err != nil {
		return errors.New("exit status 1")
	}

	runErr := exec.Command(sh, "-c", "exit 1").Run()
	require.Error(t, runErr)

	var exitErr *exec.ExitError
	require.ErrorAs(t, runErr, &exitErr)
	require.Equal(t, code, exitErr.ExitCode())

	return runErr
}
