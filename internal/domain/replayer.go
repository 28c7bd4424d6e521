package domain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pmezard/go-difflib/difflib"
	"gloom.dev/pkg/gloom/internal/adapter"
	m "gloom.dev/pkg/gloom/internal/model"
)

// FailingCase is a failing test together with the checkpoint that
// reproduces it.
type FailingCase struct {
	Test       adapter.ExecutableTest
	Checkpoint m.Checkpoint
	Ref        m.CheckpointRef
}

// ReplayResult is what replaying a FailingCase produced. Resolved is false
// when no checkpoint could be made to reproduce the failure. Kept is set for
// an unresolved replay whose checkpoint was left in the store.
type ReplayResult struct {
	Report   m.TestReport
	Ref      m.CheckpointRef
	Resolved bool
	Kept     bool
	Warnings []string
}

// Replayer re-runs failing tests from their checkpoints with diagnostics.
type Replayer interface {
	Replay(ctx context.Context, runID string, cfg m.ExecutionConfig, failing FailingCase) (ReplayResult, error)
}

type replayer struct {
	store adapter.CheckpointStore
}

// NewReplayer constructs a Replayer that regenerates stale checkpoints in
// store.
func NewReplayer(store adapter.CheckpointStore) Replayer {
	return &replayer{store: store}
}

// Replay replays the checkpoint. The replay status decides whether the
// checkpoint still reproduces the failure: any failing replay counts, and a
// failure summary that differs from the recorded one only adds a warning.
// A replay killed by the test timeout says nothing about the checkpoint, so
// it is kept and the case is left unresolved. Any other non-failing replay
// regenerates the checkpoint once and replays it again.
func (r *replayer) Replay(ctx context.Context, runID string, cfg m.ExecutionConfig, failing FailingCase) (ReplayResult, error) {
	var result ReplayResult

	for attempt := 0; ; attempt++ {
		test := failing.Test.Case()

		outcome, err := failing.Test.Replay(ctx, cfg, failing.Checkpoint.Trace)
		if err != nil {
			return result, fmt.Errorf("replay %s: %w", test, err)
		}

		result.Report = m.NewTestReport(test, m.PhaseReplay, outcome)
		result.Ref = failing.Ref

		if outcome.Status == m.Failed {
			result.Resolved = true

			if recorded := failing.Checkpoint.Meta.FailureSummary; recorded != "" && recorded != outcome.Summary {
				slog.Info("replay failed differently than recorded", "test", test.String())

				result.Warnings = append(result.Warnings, fmt.Sprintf(
					"replay of %s failed with a different summary:\n%s", test, summaryDiff(recorded, outcome)))
			}

			return result, nil
		}

		if timedOut(outcome) {
			slog.Warn("replay timed out, keeping checkpoint", "test", test.String(), "timeout", cfg.TestTimeout)

			result.Kept = true
			result.Warnings = append(result.Warnings, fmt.Sprintf(
				"replay of %s timed out after %s; checkpoint %s kept", test, cfg.TestTimeout, failing.Ref.Path))

			return result, nil
		}

		mismatch := &m.CheckpointMismatchError{
			Test: test,
			Diff: summaryDiff(failing.Checkpoint.Meta.FailureSummary, outcome),
		}

		slog.Warn("checkpoint mismatch", "test", test.String(), "attempt", attempt, "status", outcome.Status.String())

		result.Warnings = append(result.Warnings, mismatch.Error())

		if attempt > 0 {
			return result, nil
		}

		regenerated, warning, err := r.regenerate(ctx, runID, cfg, failing)
		if err != nil {
			return result, err
		}

		if warning != "" {
			result.Warnings = append(result.Warnings, warning)
			return result, nil
		}

		failing = regenerated
	}
}

// regenerate drops the stale checkpoint and records a new one. A non-empty
// warning means no usable checkpoint was produced.
func (r *replayer) regenerate(ctx context.Context, runID string, cfg m.ExecutionConfig, failing FailingCase) (FailingCase, string, error) {
	meta := failing.Checkpoint.Meta
	test := failing.Test.Case()

	if err := r.store.Delete(meta.Fingerprint, test.Name); err != nil {
		slog.Warn("failed to delete stale checkpoint", "test", test.String(), "error", err)
	}

	outcome, trace, err := failing.Test.RunProducingCheckpoint(ctx, cfg)
	if err != nil {
		return failing, "", fmt.Errorf("regenerate checkpoint for %s: %w", test, err)
	}

	if outcome.Status != m.Failed {
		return failing, fmt.Sprintf("%s: failure did not reproduce while regenerating its checkpoint (%s)", test, outcome.Status), nil
	}

	if len(trace) == 0 {
		return failing, fmt.Sprintf("%s: checker wrote no checkpoint while regenerating", test), nil
	}

	checkpoint := newCheckpoint(runID, meta.Fingerprint, test, cfg, outcome, trace)

	ref, err := r.store.Save(checkpoint)
	if err != nil {
		return failing, fmt.Sprintf("%s: %v", test, err), nil
	}

	checkpoint.Path = ref.Path

	return FailingCase{Test: failing.Test, Checkpoint: checkpoint, Ref: ref}, "", nil
}

func newCheckpoint(
	runID string,
	fingerprint m.Fingerprint,
	test m.TestCase,
	cfg m.ExecutionConfig,
	outcome m.Outcome,
	trace []byte,
) m.Checkpoint {
	return m.Checkpoint{
		Meta: m.CheckpointMeta{
			Fingerprint:    fingerprint,
			Package:        test.Package,
			Test:           test.Name,
			RunID:          runID,
			CreatedAt:      time.Now().UTC(),
			Tuning:         cfg.Tuning(),
			FailureSummary: outcome.Summary,
		},
		Trace: trace,
	}
}

func timedOut(outcome m.Outcome) bool {
	return outcome.Status == m.Errored && errors.Is(outcome.Err, context.DeadlineExceeded)
}

// summaryDiff renders the recorded failure against what the replay observed
// as a unified diff.
func summaryDiff(recorded string, observed m.Outcome) string {
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(fmt.Sprintf("status: %s\nsummary: %s\n", m.Failed, recorded)),
		B:        difflib.SplitLines(fmt.Sprintf("status: %s\nsummary: %s\n", observed.Status, observed.Summary)),
		FromFile: "recorded",
		ToFile:   "replayed",
		Context:  1,
	}

	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return ""
	}

	return text
}
