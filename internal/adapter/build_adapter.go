package adapter

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	m "gloom.dev/pkg/gloom/internal/model"
)

// listFormat prints one line per package that has in-package or external
// test files.
const listFormat = `{{if or .TestGoFiles .XTestGoFiles}}{{.ImportPath}}{{"\t"}}{{.Dir}}{{end}}`

// BuildAdapter drives the go toolchain to produce instrumented test binaries.
type BuildAdapter interface {
	// ListPackages expands cfg.Packages into the packages that have tests.
	ListPackages(ctx context.Context, cfg m.BuildConfig) ([]m.Package, error)
	// Build compiles the test binary of pkg into cfg.OutDir and returns its
	// path.
	Build(ctx context.Context, cfg m.BuildConfig, pkg m.Package) (m.Path, error)
}

// LocalBuildAdapter runs the go command found on PATH.
type LocalBuildAdapter struct {
	goBinary string
}

// NewLocalBuildAdapter constructs a LocalBuildAdapter. An empty goBinary
// means "go".
func NewLocalBuildAdapter(goBinary string) *LocalBuildAdapter {
	if goBinary == "" {
		goBinary = "go"
	}

	return &LocalBuildAdapter{goBinary: goBinary}
}

// ListPackages implements BuildAdapter.
func (a *LocalBuildAdapter) ListPackages(ctx context.Context, cfg m.BuildConfig) ([]m.Package, error) {
	patterns := cfg.Packages
	if len(patterns) == 0 {
		patterns = []string{"./..."}
	}

	args := []string{"list", "-f", listFormat}
	if tags := cfg.TagsArg(); tags != "" {
		args = append(args, "-tags", tags)
	}

	args = append(args, patterns...)

	stdout, stderr, err := a.run(ctx, string(cfg.WorkDir), args...)
	if err != nil {
		slog.Error("go list failed", "patterns", patterns, "error", err)

		return nil, &m.BuildFailedError{
			Package:     strings.Join(patterns, " "),
			Diagnostics: stderr,
			Err:         err,
		}
	}

	var packages []m.Package

	scanner := bufio.NewScanner(strings.NewReader(stdout))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		importPath, dir, _ := strings.Cut(line, "\t")
		packages = append(packages, m.Package{ImportPath: importPath, Dir: m.Path(dir)})
	}

	slog.Debug("listed packages with tests", "patterns", patterns, "count", len(packages))

	return packages, nil
}

// Build implements BuildAdapter.
func (a *LocalBuildAdapter) Build(ctx context.Context, cfg m.BuildConfig, pkg m.Package) (m.Path, error) {
	out := cfg.BinaryPath(pkg.ImportPath)
	if !filepath.IsAbs(string(out)) && cfg.WorkDir != "" {
		out = m.Path(filepath.Join(string(cfg.WorkDir), string(out)))
	}

	if err := os.MkdirAll(filepath.Dir(string(out)), 0o750); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	args := []string{"test", "-c", "-trimpath"}
	if tags := cfg.TagsArg(); tags != "" {
		args = append(args, "-tags", tags)
	}

	args = append(args, "-o", string(out), pkg.ImportPath)

	slog.Info("building test binary", "package", pkg.ImportPath, "output", out)

	_, stderr, err := a.run(ctx, string(cfg.WorkDir), args...)
	if err != nil {
		slog.Error("build failed", "package", pkg.ImportPath, "error", err)

		return "", &m.BuildFailedError{Package: pkg.ImportPath, Diagnostics: stderr, Err: err}
	}

	return out, nil
}

func (a *LocalBuildAdapter) run(ctx context.Context, dir string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, a.goBinary, args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer

	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil && ctx.Err() != nil {
		err = errors.Join(ctx.Err(), err)
	}

	return stdout.String(), stderr.String(), err
}
