package controller

import (
	"context"
	"fmt"
	"sync"

	"github.com/spf13/cobra"
	m "gloom.dev/pkg/gloom/internal/model"
)

// SimpleUI implements UI using cobra Command's output.
type SimpleUI struct {
	cmd *cobra.Command
	mu  sync.Mutex
}

// NewSimpleUI creates a new SimpleUI.
func NewSimpleUI(cmd *cobra.Command) *SimpleUI {
	return &SimpleUI{cmd: cmd}
}

// Start initializes the UI.
func (s *SimpleUI) Start(ctx context.Context, _ ...StartOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return nil
}

// Close finalizes the UI.
func (s *SimpleUI) Close(_ context.Context) {}

// Wait blocks until the UI is closed (no-op for SimpleUI).
func (s *SimpleUI) Wait(_ context.Context) {}

// DisplayBuild reports a freshly built artifact.
func (s *SimpleUI) DisplayBuild(_ context.Context, artifact m.BuildArtifact) {
	s.printf("built %s (%s)\n", artifact.Package, artifact.Fingerprint.Short())
}

// DisplayDiscovery reports how many tests were selected in a package.
func (s *SimpleUI) DisplayDiscovery(_ context.Context, pkg string, selected, total, cached int) {
	s.printf("%s: %d of %d test(s) selected, %d with a stored checkpoint\n", pkg, selected, total, cached)
}

// DisplayPhase announces a phase.
func (s *SimpleUI) DisplayPhase(_ context.Context, phase m.Phase, count int) {
	s.printf("running %s for %d test(s)\n", phase, count)
}

// DisplayTestStarted is silent; only finished tests are printed.
func (s *SimpleUI) DisplayTestStarted(_ context.Context, _ m.Phase, _ m.TestCase) {}

// DisplayTestReport prints one finished execution.
func (s *SimpleUI) DisplayTestReport(_ context.Context, report m.TestReport) {
	s.printf("%s\n", formatReport(report))
}

// DisplayReplay prints the full diagnostic output of a replay.
func (s *SimpleUI) DisplayReplay(_ context.Context, report m.TestReport, ref m.CheckpointRef) {
	s.printf("\n%s\n%s\n", formatReplayHeader(report, ref), report.Output)
}

// DisplayWarning prints a warning.
func (s *SimpleUI) DisplayWarning(_ context.Context, message string) {
	s.printf("%s\n", formatWarning(message))
}

// DisplaySummary prints the final tables.
func (s *SimpleUI) DisplaySummary(_ context.Context, result m.RunResult) {
	s.printf("%s", renderSummary(result))
}

// DisplayTests prints selected tests, one per line.
func (s *SimpleUI) DisplayTests(_ context.Context, tests []m.TestCase) {
	s.printf("%s", renderTests(tests))
}

// DisplayCheckpoints prints the stored checkpoints.
func (s *SimpleUI) DisplayCheckpoints(_ context.Context, refs []m.CheckpointRef) {
	s.printf("%s", renderCheckpoints(refs))
}

// DisplayCleaned reports how many checkpoint sets were removed.
func (s *SimpleUI) DisplayCleaned(_ context.Context, removed int) {
	s.printf("removed %d checkpoint set(s)\n", removed)
}

func (s *SimpleUI) printf(format string, args ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = fmt.Fprintf(s.cmd.OutOrStdout(), format, args...)
}
