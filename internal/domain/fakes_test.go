package domain

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
	"gloom.dev/pkg/gloom/internal/adapter"
	"gloom.dev/pkg/gloom/internal/controller"
	m "gloom.dev/pkg/gloom/internal/model"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

const failureSummary = "queue_test.go:10: lost update"

// fakeBuilder writes the configured content as the "binary" of every package
// so fingerprints follow the content.
type fakeBuilder struct {
	packages []m.Package
	content  map[string]string
	err      error
	outDir   string
	builds   atomic.Int32
}

func newFakeBuilder(t *testing.T, content map[string]string) *fakeBuilder {
	t.Helper()

	b := &fakeBuilder{content: content, outDir: t.TempDir()}
	for _, pkg := range maps.Keys(content) {
		b.packages = append(b.packages, m.Package{ImportPath: pkg, Dir: m.Path(b.outDir)})
	}

	slices.SortFunc(b.packages, func(a, b m.Package) bool {
		return a.ImportPath < b.ImportPath
	})

	return b
}

func (b *fakeBuilder) ListPackages(_ context.Context, _ m.BuildConfig) ([]m.Package, error) {
	return b.packages, nil
}

func (b *fakeBuilder) Build(_ context.Context, _ m.BuildConfig, pkg m.Package) (m.Path, error) {
	b.builds.Add(1)

	if b.err != nil {
		return "", b.err
	}

	path := filepath.Join(b.outDir, m.BinaryName(pkg.ImportPath))
	if err := os.WriteFile(path, []byte(b.content[pkg.ImportPath]), 0o600); err != nil {
		return "", err
	}

	return m.Path(path), nil
}

// fakeTest scripts the outcome of every checker mode.
type fakeTest struct {
	tc      m.TestCase
	explore m.Status
	// reproducePasses makes the reproduce run pass; noTrace makes the
	// checker write no checkpoint.
	reproducePasses bool
	noTrace         bool
	trace           []byte
	// replayFails decides whether replaying trace fails. Nil means any
	// non-empty trace reproduces the failure.
	replayFails func(trace []byte) bool
	// replaySummary overrides the summary of a failing replay;
	// replayTimesOut makes every replay hit the test timeout.
	replaySummary  string
	replayTimesOut bool
	err            error
	delay       time.Duration

	mu         sync.Mutex
	explores   int
	reproduces int
	replays    int
	replayed   [][]byte

	inFlight    *atomic.Int32
	maxInFlight *atomic.Int32
}

func (f *fakeTest) Case() m.TestCase {
	return f.tc
}

func (f *fakeTest) enter() func() {
	if f.inFlight == nil {
		time.Sleep(f.delay)
		return func() {}
	}

	n := f.inFlight.Add(1)
	for {
		peak := f.maxInFlight.Load()
		if n <= peak || f.maxInFlight.CompareAndSwap(peak, n) {
			break
		}
	}

	time.Sleep(f.delay)

	return func() { f.inFlight.Add(-1) }
}

func (f *fakeTest) outcome(status m.Status) m.Outcome {
	outcome := m.Outcome{Status: status, Output: "--- " + status.String() + ": " + f.tc.Name}
	if status == m.Failed {
		outcome.Summary = failureSummary
	}

	return outcome
}

func (f *fakeTest) Run(_ context.Context, _ m.ExecutionConfig) (m.Outcome, error) {
	defer f.enter()()

	f.mu.Lock()
	f.explores++
	f.mu.Unlock()

	if f.err != nil {
		return m.Outcome{}, f.err
	}

	return f.outcome(f.explore), nil
}

func (f *fakeTest) RunProducingCheckpoint(_ context.Context, _ m.ExecutionConfig) (m.Outcome, []byte, error) {
	defer f.enter()()

	f.mu.Lock()
	f.reproduces++
	f.mu.Unlock()

	if f.err != nil {
		return m.Outcome{}, nil, f.err
	}

	if f.reproducePasses {
		return f.outcome(m.Passed), nil, nil
	}

	return f.outcome(m.Failed), f.trace, nil
}

func (f *fakeTest) Replay(_ context.Context, _ m.ExecutionConfig, trace []byte) (m.Outcome, error) {
	f.mu.Lock()
	f.replays++
	f.replayed = append(f.replayed, append([]byte(nil), trace...))
	f.mu.Unlock()

	if f.replayTimesOut {
		return m.Outcome{
			Status:  m.Errored,
			Summary: "test timed out",
			Err:     &m.TestExecutionError{Test: f.tc, ExitCode: -1, Err: context.DeadlineExceeded},
		}, nil
	}

	fails := len(trace) > 0
	if f.replayFails != nil {
		fails = f.replayFails(trace)
	}

	if fails {
		outcome := f.outcome(m.Failed)
		if f.replaySummary != "" {
			outcome.Summary = f.replaySummary
		}

		return outcome, nil
	}

	return f.outcome(m.Passed), nil
}

func (f *fakeTest) counts() (int, int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.explores, f.reproduces, f.replays
}

// fakeBinaries serves registered fakeTests in registration order.
type fakeBinaries struct {
	order map[string][]string
	tests map[string]*fakeTest
	err   error
}

func newFakeBinaries() *fakeBinaries {
	return &fakeBinaries{order: map[string][]string{}, tests: map[string]*fakeTest{}}
}

func (b *fakeBinaries) add(test *fakeTest) *fakeTest {
	if test.trace == nil && !test.noTrace {
		test.trace = []byte(`{"trace":"` + test.tc.Name + `"}`)
	}

	b.order[test.tc.Package] = append(b.order[test.tc.Package], test.tc.Name)
	b.tests[test.tc.String()] = test

	return test
}

func (b *fakeBinaries) List(_ context.Context, artifact m.BuildArtifact) ([]m.TestCase, error) {
	if b.err != nil {
		return nil, b.err
	}

	tests := make([]m.TestCase, 0, len(b.order[artifact.Package]))
	for _, name := range b.order[artifact.Package] {
		tests = append(tests, m.TestCase{Package: artifact.Package, Name: name})
	}

	return tests, nil
}

func (b *fakeBinaries) Test(artifact m.BuildArtifact, name string) adapter.ExecutableTest {
	return b.tests[m.TestCase{Package: artifact.Package, Name: name}.String()]
}

type harness struct {
	builder  *fakeBuilder
	binaries *fakeBinaries
	store    adapter.CheckpointStore
	output   *bytes.Buffer
	ui       controller.UI
	workflow Workflow
}

func newHarness(t *testing.T, content map[string]string) *harness {
	t.Helper()

	h := &harness{
		builder:  newFakeBuilder(t, content),
		binaries: newFakeBinaries(),
		store:    adapter.NewCheckpointStore(t.TempDir()),
		output:   &bytes.Buffer{},
	}

	cmd := &cobra.Command{}
	cmd.SetOut(h.output)

	h.ui = controller.NewSimpleUI(cmd)
	h.useStore(h.store)

	return h
}

// useStore rewires the workflow onto store.
func (h *harness) useStore(store adapter.CheckpointStore) {
	h.store = store
	h.workflow = NewWorkflow(h.builder, h.binaries, store, h.ui, NewRunner(h.ui), NewReplayer(store))
}

func (h *harness) runArgs(t *testing.T) RunArgs {
	t.Helper()

	cfg := m.DefaultExecutionConfig()

	return RunArgs{
		Build:    m.BuildConfig{Packages: []string{"./..."}, Tags: []string{m.DefaultBuildTag}},
		Config:   cfg,
		SpillDir: t.TempDir(),
	}
}

func (h *harness) fingerprint(t *testing.T, pkg string) m.Fingerprint {
	t.Helper()

	fingerprint, err := Fingerprint(pkg, []string{m.DefaultBuildTag}, bytes.NewBufferString(h.builder.content[pkg]))
	require.NoError(t, err)

	return fingerprint
}
