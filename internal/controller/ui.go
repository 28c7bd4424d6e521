// Package controller provides output adapters for displaying pipeline
// progress and results.
package controller

import (
	"context"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	m "gloom.dev/pkg/gloom/internal/model"
)

// StartMode defines the mode of operation for the UI.
type StartMode int

// Available StartMode values.
const (
	ModeRun StartMode = iota
	ModeList
)

// StartOption is a functional option for Start method.
type StartOption func(*StartConfig)

// StartConfig holds configuration for starting the UI.
type StartConfig struct {
	mode StartMode
}

// WithRunMode sets the UI to pipeline execution mode.
func WithRunMode() StartOption {
	return func(c *StartConfig) {
		c.mode = ModeRun
	}
}

// WithListMode sets the UI to listing mode.
func WithListMode() StartOption {
	return func(c *StartConfig) {
		c.mode = ModeList
	}
}

func newStartConfig(options ...StartOption) StartConfig {
	cfg := StartConfig{mode: ModeRun}
	for _, option := range options {
		option(&cfg)
	}

	return cfg
}

// UI receives progress events from the pipeline. Implementations must be
// safe for concurrent use; tests report from worker goroutines.
type UI interface {
	Start(ctx context.Context, options ...StartOption) error
	Close(ctx context.Context)
	Wait(ctx context.Context)
	DisplayBuild(ctx context.Context, artifact m.BuildArtifact)
	DisplayDiscovery(ctx context.Context, pkg string, selected, total, cached int)
	DisplayPhase(ctx context.Context, phase m.Phase, count int)
	DisplayTestStarted(ctx context.Context, phase m.Phase, test m.TestCase)
	DisplayTestReport(ctx context.Context, report m.TestReport)
	DisplayReplay(ctx context.Context, report m.TestReport, ref m.CheckpointRef)
	DisplayWarning(ctx context.Context, message string)
	DisplaySummary(ctx context.Context, result m.RunResult)
	DisplayTests(ctx context.Context, tests []m.TestCase)
	DisplayCheckpoints(ctx context.Context, refs []m.CheckpointRef)
	DisplayCleaned(ctx context.Context, removed int)
}

// NewUI picks the interactive UI for terminals and the plain one otherwise.
func NewUI(cmd *cobra.Command, interactive bool) UI {
	if interactive {
		return NewTUI(cmd.OutOrStdout())
	}

	return NewSimpleUI(cmd)
}

// IsTTY reports whether w is a terminal.
func IsTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}

	fd := f.Fd()

	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
