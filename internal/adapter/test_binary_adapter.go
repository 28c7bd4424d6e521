package adapter

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	m "gloom.dev/pkg/gloom/internal/model"
)

const (
	checkpointFileName = "checkpoint.json"
	listTimeout        = time.Minute
	waitDelay          = 2 * time.Second
)

var fileLinePattern = regexp.MustCompile(`^\s+\S+\.go:\d+: `)

// ExecutableTest is one test case inside a built test binary that can be run
// in each checker mode.
type ExecutableTest interface {
	Case() m.TestCase
	// Run executes the test with exploration settings.
	Run(ctx context.Context, cfg m.ExecutionConfig) (m.Outcome, error)
	// RunProducingCheckpoint executes the test while the checker records
	// a checkpoint. The trace is nil if the checker wrote none.
	RunProducingCheckpoint(ctx context.Context, cfg m.ExecutionConfig) (m.Outcome, []byte, error)
	// Replay executes the test from trace with diagnostics enabled. The
	// trace slice is never modified.
	Replay(ctx context.Context, cfg m.ExecutionConfig, trace []byte) (m.Outcome, error)
}

// TestBinaryAdapter enumerates and executes the tests of a built artifact.
type TestBinaryAdapter interface {
	List(ctx context.Context, artifact m.BuildArtifact) ([]m.TestCase, error)
	Test(artifact m.BuildArtifact, name string) ExecutableTest
}

// LocalTestBinaryAdapter runs test binaries as child processes.
type LocalTestBinaryAdapter struct{}

// NewLocalTestBinaryAdapter constructs a LocalTestBinaryAdapter.
func NewLocalTestBinaryAdapter() *LocalTestBinaryAdapter {
	return &LocalTestBinaryAdapter{}
}

// List implements TestBinaryAdapter. Benchmarks, fuzz targets and examples
// are not test cases and are dropped.
func (a *LocalTestBinaryAdapter) List(ctx context.Context, artifact m.BuildArtifact) ([]m.TestCase, error) {
	ctx, cancel := context.WithTimeout(ctx, listTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, string(artifact.Path), "-test.list", ".")
	cmd.Dir = string(artifact.Dir)
	cmd.Env = childEnv(nil)

	var stdout, stderr bytes.Buffer

	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s: %w", m.ErrExecutableNotFound, artifact.Path, err)
		}

		slog.Error("failed to list tests", "binary", artifact.Path, "stderr", stderr.String(), "error", err)

		return nil, fmt.Errorf("list tests in %s: %w", artifact.Path, err)
	}

	var tests []m.TestCase

	scanner := bufio.NewScanner(&stdout)
	for scanner.Scan() {
		name := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(name, "Test") {
			continue
		}

		tests = append(tests, m.TestCase{Package: artifact.Package, Name: name})
	}

	return tests, nil
}

// Test implements TestBinaryAdapter.
func (a *LocalTestBinaryAdapter) Test(artifact m.BuildArtifact, name string) ExecutableTest {
	return &binaryTest{
		artifact: artifact,
		test:     m.TestCase{Package: artifact.Package, Name: name},
	}
}

type binaryTest struct {
	artifact m.BuildArtifact
	test     m.TestCase
}

func (b *binaryTest) Case() m.TestCase {
	return b.test
}

func (b *binaryTest) Run(ctx context.Context, cfg m.ExecutionConfig) (m.Outcome, error) {
	return b.execute(ctx, cfg, cfg.Env(m.ModeExplore))
}

func (b *binaryTest) RunProducingCheckpoint(ctx context.Context, cfg m.ExecutionConfig) (m.Outcome, []byte, error) {
	dir, err := os.MkdirTemp("", "gloom-reproduce-*")
	if err != nil {
		return m.Outcome{}, nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	defer removeTempDir(dir)

	path := filepath.Join(dir, checkpointFileName)
	env := append(cfg.Env(m.ModeReproduce), m.EnvCheckpointFile+"="+path)

	outcome, err := b.execute(ctx, cfg, env)
	if err != nil {
		return outcome, nil, err
	}

	trace, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			slog.Warn("checker wrote no checkpoint", "test", b.test.String())
			return outcome, nil, nil
		}

		return outcome, nil, fmt.Errorf("read checkpoint file: %w", err)
	}

	return outcome, trace, nil
}

func (b *binaryTest) Replay(ctx context.Context, cfg m.ExecutionConfig, trace []byte) (m.Outcome, error) {
	dir, err := os.MkdirTemp("", "gloom-replay-*")
	if err != nil {
		return m.Outcome{}, fmt.Errorf("create replay dir: %w", err)
	}
	defer removeTempDir(dir)

	path := filepath.Join(dir, checkpointFileName)
	if err := os.WriteFile(path, trace, 0o600); err != nil {
		return m.Outcome{}, fmt.Errorf("write replay checkpoint: %w", err)
	}

	env := append(cfg.Env(m.ModeReplay), m.EnvCheckpointFile+"="+path)

	return b.execute(ctx, cfg, env)
}

func (b *binaryTest) execute(ctx context.Context, cfg m.ExecutionConfig, env []string) (m.Outcome, error) {
	runCtx := ctx

	if cfg.TestTimeout > 0 {
		var cancel context.CancelFunc

		runCtx, cancel = context.WithTimeout(ctx, cfg.TestTimeout)
		defer cancel()
	}

	args := []string{
		"-test.run", "^" + regexp.QuoteMeta(b.test.Name) + "$",
		"-test.v",
		"-test.count=1",
	}
	args = append(args, cfg.TestArgs...)

	cmd := exec.CommandContext(runCtx, string(b.artifact.Path), args...)
	cmd.Dir = string(b.artifact.Dir)
	cmd.Env = childEnv(env)
	cmd.WaitDelay = waitDelay

	var output bytes.Buffer

	cmd.Stdout = &output
	cmd.Stderr = &output

	slog.Debug("running test", "test", b.test.String(), "env", env)

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	if runErr != nil && isNotFound(runErr) {
		return m.Outcome{}, fmt.Errorf("%w: %s: %w", m.ErrExecutableNotFound, b.artifact.Path, runErr)
	}

	if err := ctx.Err(); err != nil {
		return m.Outcome{}, err
	}

	outcome := Classify(b.test, output.String(), runErr, runCtx.Err())
	outcome.Duration = duration

	slog.Debug("test finished", "test", b.test.String(), "status", outcome.Status.String(), "duration", duration)

	return outcome, nil
}

// Classify maps the output and exit state of a single test execution to an
// Outcome. A FAIL marker wins over the exit status so checker panics count
// as failures, not crashes.
func Classify(test m.TestCase, output string, runErr, deadlineErr error) m.Outcome {
	outcome := m.Outcome{Output: output}
	name := regexp.QuoteMeta(test.Name)

	switch {
	case matchMarker("FAIL", name, output):
		outcome.Status = m.Failed
		outcome.Summary = failureSummary(output)
	case deadlineErr != nil:
		outcome.Status = m.Errored
		outcome.Summary = "test timed out"
		outcome.Err = &m.TestExecutionError{Test: test, ExitCode: -1, Err: deadlineErr}
	case runErr == nil && matchMarker("SKIP", name, output):
		outcome.Status = m.Skipped
	case runErr == nil:
		outcome.Status = m.Passed
	default:
		outcome.Status = m.Errored
		outcome.Summary = failureSummary(output)
		outcome.Err = &m.TestExecutionError{Test: test, ExitCode: exitCode(runErr), Err: runErr}
	}

	return outcome
}

func matchMarker(marker, quotedName, output string) bool {
	pattern := regexp.MustCompile(`(?m)^\s*--- ` + marker + `: ` + quotedName + `(\s|$)`)
	return pattern.MatchString(output)
}

// failureSummary picks the line that best describes why a test failed: a
// panic message, the first t.Error location, or the FAIL marker itself.
func failureSummary(output string) string {
	var fileLine, failLine string

	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(line)

		switch {
		case strings.HasPrefix(trimmed, "panic:"):
			return trimmed
		case fileLine == "" && fileLinePattern.MatchString(line):
			fileLine = trimmed
		case failLine == "" && strings.HasPrefix(trimmed, "--- FAIL:"):
			failLine = trimmed
		}
	}

	if fileLine != "" {
		return fileLine
	}

	return failLine
}

func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}

	return -1
}

func isNotFound(err error) bool {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return false
	}

	return errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist)
}

// childEnv returns the parent environment without any checker variables,
// followed by extra.
func childEnv(extra []string) []string {
	parent := os.Environ()
	env := make([]string, 0, len(parent)+len(extra))

	for _, kv := range parent {
		if strings.HasPrefix(kv, "LOOM_") {
			continue
		}

		env = append(env, kv)
	}

	return append(env, extra...)
}

func removeTempDir(dir string) {
	if err := os.RemoveAll(dir); err != nil {
		slog.Warn("failed to remove temp dir", "dir", dir, "error", err)
	}
}
