// Package domain implements the gloom pipeline: build, discover, explore,
// reproduce and replay.
package domain

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"gloom.dev/pkg/gloom/internal/adapter"
	"gloom.dev/pkg/gloom/internal/controller"
	m "gloom.dev/pkg/gloom/internal/model"
	"gloom.dev/pkg/gloom/pkg"
)

// RunArgs contains the arguments for a full pipeline run.
type RunArgs struct {
	Build  m.BuildConfig
	Filter string
	Exact  bool
	Config m.ExecutionConfig
	// SpillDir holds the on-disk report spill. Empty means the system temp
	// directory.
	SpillDir string
}

// ListArgs contains the arguments for listing tests without running them.
type ListArgs struct {
	Build  m.BuildConfig
	Filter string
	Exact  bool
}

// CleanArgs contains the arguments for pruning the checkpoint store. With
// Stale set only checkpoints of artifacts that no longer match a fresh
// build are removed.
type CleanArgs struct {
	Build m.BuildConfig
	Stale bool
}

// Workflow defines the operations exposed to the CLI.
type Workflow interface {
	Run(ctx context.Context, args RunArgs) (m.RunResult, error)
	List(ctx context.Context, args ListArgs) ([]m.TestCase, error)
	Checkpoints(ctx context.Context) ([]m.CheckpointRef, error)
	Clean(ctx context.Context, args CleanArgs) (int, error)
}

type workflow struct {
	controller.UI
	Runner
	Replayer

	builder  adapter.BuildAdapter
	binaries adapter.TestBinaryAdapter
	store    adapter.CheckpointStore
}

// NewWorkflow creates a new Workflow instance with the provided dependencies.
func NewWorkflow(
	builder adapter.BuildAdapter,
	binaries adapter.TestBinaryAdapter,
	store adapter.CheckpointStore,
	ui controller.UI,
	runner Runner,
	replayer Replayer,
) Workflow {
	return &workflow{
		UI:       ui,
		Runner:   runner,
		Replayer: replayer,
		builder:  builder,
		binaries: binaries,
		store:    store,
	}
}

// Run builds every package, runs the selected tests and replays each
// failure from its checkpoint. A run with failing tests returns the result
// together with a TestsFailedError.
func (w *workflow) Run(ctx context.Context, args RunArgs) (m.RunResult, error) {
	result := m.RunResult{RunID: newRunID()}

	if err := w.Start(ctx, controller.WithRunMode()); err != nil {
		slog.Error("Failed to start workflow UI", "error", err)
		return result, err
	}
	defer w.Close(ctx)

	reports, err := pkg.NewFileSpill[m.TestReport](args.SpillDir)
	if err != nil {
		return result, fmt.Errorf("create report spill: %w", err)
	}
	defer reports.Close()

	slog.Info("starting run", "run_id", result.RunID, "packages", args.Build.Packages)

	artifacts, err := w.buildAll(ctx, args.Build)
	if err != nil {
		return result, err
	}

	run := &artifactRun{
		workflow: w,
		args:     args,
		result:   &result,
		reports:  reports,
		replays:  make(map[uint64]m.CheckpointRef),
	}

	var discovered, selected int

	for _, artifact := range artifacts {
		total, count, err := run.execute(ctx, artifact)
		if err != nil {
			return result, err
		}

		discovered += total
		selected += count
	}

	result.NoTests = discovered == 0
	result.FilterMatchedNothing = discovered > 0 && selected == 0 && args.Filter != ""

	run.showReports(ctx)

	slog.Info("run finished",
		"run_id", result.RunID,
		"passed", result.Passed,
		"failed", result.Failed,
		"skipped", result.Skipped,
		"errored", result.Errored,
		"unresolved", result.Unresolved,
	)

	w.DisplaySummary(ctx, result)
	w.Wait(ctx)

	return result, resultError(result)
}

// List builds every package and returns the selected tests.
func (w *workflow) List(ctx context.Context, args ListArgs) ([]m.TestCase, error) {
	if err := w.Start(ctx, controller.WithListMode()); err != nil {
		return nil, err
	}
	defer w.Close(ctx)

	artifacts, err := w.buildAll(ctx, args.Build)
	if err != nil {
		return nil, err
	}

	var tests []m.TestCase

	for _, artifact := range artifacts {
		all, err := w.binaries.List(ctx, artifact)
		if err != nil {
			return nil, fmt.Errorf("discover tests in %s: %w", artifact.Package, err)
		}

		selection := SelectTests(all, args.Filter, args.Exact)
		tests = append(tests, selection.Tests...)
	}

	w.DisplayTests(ctx, tests)
	w.Wait(ctx)

	return tests, nil
}

// Checkpoints lists every stored checkpoint.
func (w *workflow) Checkpoints(ctx context.Context) ([]m.CheckpointRef, error) {
	if err := w.Start(ctx, controller.WithListMode()); err != nil {
		return nil, err
	}
	defer w.Close(ctx)

	refs, err := w.store.List()
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}

	w.DisplayCheckpoints(ctx, refs)
	w.Wait(ctx)

	return refs, nil
}

// Clean removes checkpoints and returns how many fingerprints were pruned.
func (w *workflow) Clean(ctx context.Context, args CleanArgs) (int, error) {
	if err := w.Start(ctx, controller.WithListMode()); err != nil {
		return 0, err
	}
	defer w.Close(ctx)

	var keep []m.Fingerprint

	if args.Stale {
		artifacts, err := w.buildAll(ctx, args.Build)
		if err != nil {
			return 0, err
		}

		for _, artifact := range artifacts {
			keep = append(keep, artifact.Fingerprint)
		}
	}

	removed, err := w.store.Prune(keep)
	if err != nil {
		return removed, fmt.Errorf("prune checkpoints: %w", err)
	}

	slog.Info("pruned checkpoints", "removed", removed, "stale_only", args.Stale)

	w.DisplayCleaned(ctx, removed)
	w.Wait(ctx)

	return removed, nil
}

func (w *workflow) buildAll(ctx context.Context, cfg m.BuildConfig) ([]m.BuildArtifact, error) {
	packages, err := w.builder.ListPackages(ctx, cfg)
	if err != nil {
		return nil, err
	}

	artifacts := make([]m.BuildArtifact, 0, len(packages))

	for _, p := range packages {
		path, err := w.builder.Build(ctx, cfg, p)
		if err != nil {
			return nil, err
		}

		fingerprint, err := FingerprintArtifact(p.ImportPath, cfg.Tags, path)
		if err != nil {
			slog.Error("Failed to fingerprint artifact", "package", p.ImportPath, "error", err)
			return nil, err
		}

		artifact := m.BuildArtifact{
			Package:     p.ImportPath,
			Dir:         p.Dir,
			Path:        path,
			Fingerprint: fingerprint,
		}

		slog.Debug("built artifact", "package", artifact.Package, "fingerprint", fingerprint.Short())

		w.DisplayBuild(ctx, artifact)

		artifacts = append(artifacts, artifact)
	}

	return artifacts, nil
}

// artifactRun carries the state shared by the phases of one Run.
type artifactRun struct {
	*workflow
	args    RunArgs
	result  *m.RunResult
	reports pkg.FileSpill[m.TestReport]
	// replays maps the spill index of every replay report to the checkpoint
	// it replayed. Their output is shown once all artifacts are done.
	replays map[uint64]m.CheckpointRef
}

// execute runs all phases for one artifact and returns how many tests were
// discovered and selected.
func (r *artifactRun) execute(ctx context.Context, artifact m.BuildArtifact) (int, int, error) {
	cfg := r.args.Config

	all, err := r.binaries.List(ctx, artifact)
	if err != nil {
		return 0, 0, fmt.Errorf("discover tests in %s: %w", artifact.Package, err)
	}

	selection := SelectTests(all, r.args.Filter, r.args.Exact)
	cached, uncached := r.partition(ctx, artifact, selection.Tests)

	r.DisplayDiscovery(ctx, artifact.Package, len(selection.Tests), selection.Total, len(cached))

	explored, err := r.Explore(ctx, cfg, uncached)
	if err != nil {
		return 0, 0, err
	}

	var failing []adapter.ExecutableTest

	for _, execution := range explored {
		r.record(execution.Report(m.PhaseExplore))

		switch execution.Outcome.Status {
		case m.Passed:
			r.result.Passed++
		case m.Skipped:
			r.result.Skipped++
		case m.Failed:
			failing = append(failing, execution.Test)
		default:
			r.result.Errored++
		}
	}

	reproduced, err := r.Reproduce(ctx, cfg, failing)
	if err != nil {
		return 0, 0, err
	}

	for _, execution := range reproduced {
		r.record(execution.Report(m.PhaseReproduce))

		if fc, ok := r.checkpoint(ctx, artifact, execution); ok {
			cached = append(cached, fc)
		}
	}

	for _, fc := range cached {
		if err := r.replay(ctx, fc); err != nil {
			return 0, 0, err
		}
	}

	return selection.Total, len(selection.Tests), nil
}

// partition splits tests into those with a reusable checkpoint and those
// that must be explored. A checkpoint recorded with different tuning is not
// reused.
func (r *artifactRun) partition(ctx context.Context, artifact m.BuildArtifact, tests []m.TestCase) ([]FailingCase, []adapter.ExecutableTest) {
	var (
		cached   []FailingCase
		uncached []adapter.ExecutableTest
	)

	var (
		unreadable int
		firstErr   error
	)

	tuning := r.args.Config.Tuning()

	for _, tc := range tests {
		test := r.binaries.Test(artifact, tc.Name)

		if r.args.Config.NoCache {
			uncached = append(uncached, test)
			continue
		}

		checkpoint, found, err := r.store.Load(artifact.Fingerprint, tc.Name)
		if err != nil {
			slog.Debug("ignoring unreadable checkpoint", "test", tc.String(), "error", err)

			if unreadable == 0 {
				firstErr = err
			}

			unreadable++
		}

		switch {
		case err != nil, !found:
			uncached = append(uncached, test)
		case checkpoint.Meta.Tuning != tuning:
			slog.Info("checkpoint recorded with different tuning, exploring again",
				"test", tc.String(),
				"recorded", checkpoint.Meta.Tuning,
				"current", tuning,
			)

			uncached = append(uncached, test)
		default:
			ref := checkpoint.Ref()
			ref.Reused = true

			slog.Debug("reusing checkpoint", "test", tc.String(), "path", ref.Path)

			cached = append(cached, FailingCase{Test: test, Checkpoint: checkpoint, Ref: ref})
		}
	}

	// One warning per artifact, however many tests hit a read failure.
	switch unreadable {
	case 0:
	case 1:
		r.warn(ctx, fmt.Sprintf("%s: ignoring unreadable checkpoint: %v", artifact.Package, firstErr))
	default:
		r.warn(ctx, fmt.Sprintf("%s: ignoring %d unreadable checkpoints: %v", artifact.Package, unreadable, firstErr))
	}

	return cached, uncached
}

// checkpoint stores the trace produced in the reproduce phase. A failure that
// cannot be stored is counted as failed and unresolved.
func (r *artifactRun) checkpoint(ctx context.Context, artifact m.BuildArtifact, execution Execution) (FailingCase, bool) {
	test := execution.Test.Case()

	var warning string

	switch {
	case execution.Outcome.Status != m.Failed:
		warning = fmt.Sprintf("%s: failure did not reproduce while recording a checkpoint (%s)", test, execution.Outcome.Status)
	case len(execution.Trace) == 0:
		warning = fmt.Sprintf("%s: checker wrote no checkpoint", test)
	}

	if warning == "" {
		checkpoint := newCheckpoint(r.result.RunID, artifact.Fingerprint, test, r.args.Config, execution.Outcome, execution.Trace)

		ref, err := r.store.Save(checkpoint)
		if err == nil {
			checkpoint.Path = ref.Path
			return FailingCase{Test: execution.Test, Checkpoint: checkpoint, Ref: ref}, true
		}

		warning = fmt.Sprintf("%s: %v", test, err)
	}

	r.warn(ctx, warning)
	r.result.Failed++
	r.result.Unresolved++

	return FailingCase{}, false
}

func (r *artifactRun) replay(ctx context.Context, fc FailingCase) error {
	replayed, err := r.Replay(ctx, r.result.RunID, r.args.Config, fc)
	if err != nil {
		return err
	}

	if index, ok := r.record(replayed.Report); ok {
		r.replays[index] = replayed.Ref
	} else {
		r.DisplayReplay(ctx, replayed.Report, replayed.Ref)
	}

	for _, warning := range replayed.Warnings {
		r.warn(ctx, warning)
	}

	r.result.Failed++

	if !replayed.Resolved {
		r.result.Unresolved++

		if replayed.Kept {
			r.result.Checkpoints = append(r.result.Checkpoints, replayed.Ref)
		}

		return nil
	}

	r.result.Checkpoints = append(r.result.Checkpoints, replayed.Ref)

	return nil
}

func (r *artifactRun) record(report m.TestReport) (uint64, bool) {
	index, err := r.reports.Append(report)
	if err != nil {
		slog.Warn("failed to spill report", "test", report.Test.String(), "error", err)
		return 0, false
	}

	return index, true
}

func (r *artifactRun) warn(ctx context.Context, message string) {
	slog.Warn(message)

	r.result.Warnings = append(r.result.Warnings, message)
	r.DisplayWarning(ctx, message)
}

// showReports reads the spilled reports back in run order. Replay output is
// displayed; the output of every other non-passing execution goes to the
// debug log.
func (r *artifactRun) showReports(ctx context.Context) {
	shown := 0

	err := r.reports.Range(func(index uint64, report m.TestReport) error {
		if ref, ok := r.replays[index]; ok {
			r.DisplayReplay(ctx, report, ref)
			shown++

			return nil
		}

		if report.Status == m.Passed || report.Status == m.Skipped {
			return nil
		}

		slog.Debug("test output",
			"test", report.Test.String(),
			"phase", report.Phase,
			"status", report.Status.String(),
			"duration", report.Duration,
			"output", report.Output,
		)

		return nil
	})
	if err == nil {
		return
	}

	slog.Debug("spilled reports read", "replays_shown", shown, "replays", len(r.replays))
	r.warn(ctx, fmt.Sprintf("replay output lost: %v", err))
}

func newRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}

	return id.String()
}
