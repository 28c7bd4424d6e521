package domain

import (
	"context"
	"fmt"
	"log/slog"

	"gloom.dev/pkg/gloom/internal/adapter"
	"gloom.dev/pkg/gloom/internal/controller"
	m "gloom.dev/pkg/gloom/internal/model"
	"golang.org/x/sync/errgroup"
)

// Execution is the outcome of one test in one phase. Trace is only set by
// the reproduce phase.
type Execution struct {
	Test    adapter.ExecutableTest
	Outcome m.Outcome
	Trace   []byte
}

// Report returns the execution as a report for phase.
func (e Execution) Report(phase m.Phase) m.TestReport {
	return m.NewTestReport(e.Test.Case(), phase, e.Outcome)
}

// Runner executes independent tests concurrently, at most cfg.Parallel at a
// time. Results keep the order of the input.
type Runner interface {
	Explore(ctx context.Context, cfg m.ExecutionConfig, tests []adapter.ExecutableTest) ([]Execution, error)
	Reproduce(ctx context.Context, cfg m.ExecutionConfig, tests []adapter.ExecutableTest) ([]Execution, error)
}

type runner struct {
	controller.UI
}

// NewRunner constructs a Runner that reports progress to ui.
func NewRunner(ui controller.UI) Runner {
	return &runner{UI: ui}
}

func (r *runner) Explore(ctx context.Context, cfg m.ExecutionConfig, tests []adapter.ExecutableTest) ([]Execution, error) {
	return r.execute(ctx, cfg, m.PhaseExplore, tests, func(ctx context.Context, test adapter.ExecutableTest) (Execution, error) {
		outcome, err := test.Run(ctx, cfg)

		return Execution{Test: test, Outcome: outcome}, err
	})
}

func (r *runner) Reproduce(ctx context.Context, cfg m.ExecutionConfig, tests []adapter.ExecutableTest) ([]Execution, error) {
	return r.execute(ctx, cfg, m.PhaseReproduce, tests, func(ctx context.Context, test adapter.ExecutableTest) (Execution, error) {
		outcome, trace, err := test.RunProducingCheckpoint(ctx, cfg)

		return Execution{Test: test, Outcome: outcome, Trace: trace}, err
	})
}

type executeFunc func(ctx context.Context, test adapter.ExecutableTest) (Execution, error)

func (r *runner) execute(
	ctx context.Context,
	cfg m.ExecutionConfig,
	phase m.Phase,
	tests []adapter.ExecutableTest,
	fn executeFunc,
) ([]Execution, error) {
	if len(tests) == 0 {
		return nil, nil
	}

	r.DisplayPhase(ctx, phase, len(tests))

	results := make([]Execution, len(tests))

	group, groupCtx := errgroup.WithContext(ctx)
	if cfg.Parallel > 0 {
		group.SetLimit(cfg.Parallel)
	}

	for i, test := range tests {
		index, current := i, test

		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}

			r.DisplayTestStarted(groupCtx, phase, current.Case())

			execution, err := fn(groupCtx, current)
			if err != nil {
				slog.Error("test execution failed", "phase", phase, "test", current.Case().String(), "error", err)
				return fmt.Errorf("%s %s: %w", phase, current.Case(), err)
			}

			if execution.Outcome.Err != nil {
				slog.Warn("test errored", "phase", phase, "test", current.Case().String(), "error", execution.Outcome.Err)
			}

			results[index] = execution

			r.DisplayTestReport(groupCtx, execution.Report(phase))

			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}
