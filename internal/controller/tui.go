package controller

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/term"
	m "gloom.dev/pkg/gloom/internal/model"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

const header = "╔════════════════════════════════════════════════════════════════╗\n" +
	"║              Gloom - Concurrency Model Checking                ║\n" +
	"╚════════════════════════════════════════════════════════════════╝\n\n"

// TUI implements UI using Bubble Tea for interactive display. In run mode a
// live progress view is shown while tests execute; replay diagnostics and
// the summary are printed after the view closes. Listings are paginated when
// they do not fit the terminal.
type TUI struct {
	output io.Writer

	mu       sync.Mutex
	mode     StartMode
	program  *tea.Program
	done     chan struct{}
	deferred strings.Builder
	listing  []string
}

// NewTUI creates a new TUI.
func NewTUI(output io.Writer) *TUI {
	return &TUI{output: output}
}

// Start begins the progress view in run mode. List mode only collects lines
// for Wait.
func (p *TUI) Start(ctx context.Context, options ...StartOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	cfg := newStartConfig(options...)

	p.mu.Lock()
	defer p.mu.Unlock()

	p.mode = cfg.mode
	if p.mode != ModeRun || p.program != nil {
		return nil
	}

	p.program = tea.NewProgram(newProgressModel(),
		tea.WithOutput(p.output),
		tea.WithInput(nil),
		tea.WithoutSignalHandler(),
	)
	p.done = make(chan struct{})

	go func(program *tea.Program, done chan struct{}) {
		defer close(done)

		_, _ = program.Run()
	}(p.program, p.done)

	return nil
}

// Close stops the progress view and prints what was deferred while it ran.
func (p *TUI) Close(_ context.Context) {
	p.mu.Lock()
	program, done := p.program, p.done
	p.program, p.done = nil, nil
	p.mu.Unlock()

	if program != nil {
		program.Send(finishedMsg{})
		<-done
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.deferred.Len() > 0 {
		_, _ = io.WriteString(p.output, p.deferred.String())
		p.deferred.Reset()
	}
}

// Wait shows collected listings, paging them when they exceed the terminal.
func (p *TUI) Wait(_ context.Context) {
	p.mu.Lock()
	lines := p.listing
	p.listing = nil
	p.mu.Unlock()

	if len(lines) == 0 {
		return
	}

	pager := newPagerModel(lines)

	if f, ok := p.output.(*os.File); ok {
		width, height, err := term.GetSize(f.Fd())
		if err == nil {
			pager.height = height
			pager.width = width
		}
	}

	if !pager.needsPagination() {
		_, _ = fmt.Fprint(p.output, pager.View())
		return
	}

	program := tea.NewProgram(pager, tea.WithOutput(p.output), tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		_, _ = fmt.Fprint(p.output, strings.Join(lines, "\n")+"\n")
	}
}

// DisplayBuild reports a freshly built artifact.
func (p *TUI) DisplayBuild(_ context.Context, artifact m.BuildArtifact) {
	p.emit(fmt.Sprintf("built %s (%s)", artifact.Package, artifact.Fingerprint.Short()))
}

// DisplayDiscovery reports how many tests were selected in a package.
func (p *TUI) DisplayDiscovery(_ context.Context, pkg string, selected, total, cached int) {
	p.emit(fmt.Sprintf("%s: %d of %d test(s) selected, %d with a stored checkpoint", pkg, selected, total, cached))
}

// DisplayPhase switches the progress view to phase.
func (p *TUI) DisplayPhase(_ context.Context, phase m.Phase, count int) {
	if !p.send(phaseMsg{phase: phase, total: count}) {
		p.println(fmt.Sprintf("running %s for %d test(s)", phase, count))
	}
}

// DisplayTestStarted marks test as in flight.
func (p *TUI) DisplayTestStarted(_ context.Context, _ m.Phase, test m.TestCase) {
	p.send(startedMsg{test: test})
}

// DisplayTestReport prints one finished execution above the progress view.
func (p *TUI) DisplayTestReport(_ context.Context, report m.TestReport) {
	p.send(reportMsg{report: report})
	p.emit(formatReport(report))
}

// DisplayReplay defers the replay diagnostics until the view closes.
func (p *TUI) DisplayReplay(_ context.Context, report m.TestReport, ref m.CheckpointRef) {
	p.hold(fmt.Sprintf("\n%s\n%s\n", formatReplayHeader(report, ref), report.Output))
}

// DisplayWarning prints a warning above the progress view.
func (p *TUI) DisplayWarning(_ context.Context, message string) {
	p.emit(formatWarning(message))
}

// DisplaySummary defers the summary until the view closes.
func (p *TUI) DisplaySummary(_ context.Context, result m.RunResult) {
	p.hold(header + renderSummary(result))
}

// DisplayTests collects the tests for Wait.
func (p *TUI) DisplayTests(_ context.Context, tests []m.TestCase) {
	p.collect(renderTests(tests))
}

// DisplayCheckpoints collects the stored checkpoints for Wait.
func (p *TUI) DisplayCheckpoints(_ context.Context, refs []m.CheckpointRef) {
	p.collect(renderCheckpoints(refs))
}

// DisplayCleaned reports how many checkpoint sets were removed.
func (p *TUI) DisplayCleaned(_ context.Context, removed int) {
	p.println(fmt.Sprintf("removed %d checkpoint set(s)", removed))
}

func (p *TUI) running() *tea.Program {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.program
}

func (p *TUI) send(msg tea.Msg) bool {
	program := p.running()
	if program == nil {
		return false
	}

	program.Send(msg)

	return true
}

// emit prints a persistent line, above the progress view when it runs.
func (p *TUI) emit(line string) {
	if program := p.running(); program != nil {
		program.Println(line)
		return
	}

	p.println(line)
}

func (p *TUI) println(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, _ = fmt.Fprintln(p.output, line)
}

func (p *TUI) hold(text string) {
	p.mu.Lock()
	running := p.program != nil
	if running {
		p.deferred.WriteString(text)
	}
	p.mu.Unlock()

	if !running {
		p.println(strings.TrimSuffix(text, "\n"))
	}
}

func (p *TUI) collect(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.listing = append(p.listing, strings.Split(strings.TrimSuffix(text, "\n"), "\n")...)
}

type (
	phaseMsg struct {
		phase m.Phase
		total int
	}
	startedMsg struct {
		test m.TestCase
	}
	reportMsg struct {
		report m.TestReport
	}
	finishedMsg struct{}
)

// progressModel renders the in-flight state of the current phase.
type progressModel struct {
	spinner  spinner.Model
	phase    m.Phase
	total    int
	done     int
	failed   int
	running  map[string]struct{}
	quitting bool
}

func newProgressModel() progressModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = headerStyle

	return progressModel{spinner: s, running: map[string]struct{}{}}
}

func (pm progressModel) Init() tea.Cmd {
	return pm.spinner.Tick
}

func (pm progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case phaseMsg:
		pm.phase = msg.phase
		pm.total = msg.total
		pm.done = 0
		pm.failed = 0
		pm.running = map[string]struct{}{}

		return pm, nil

	case startedMsg:
		pm.running = cloneSet(pm.running)
		pm.running[msg.test.String()] = struct{}{}

		return pm, nil

	case reportMsg:
		pm.running = cloneSet(pm.running)
		delete(pm.running, msg.report.Test.String())

		pm.done++
		if msg.report.Status == m.Failed || msg.report.Status == m.Errored {
			pm.failed++
		}

		return pm, nil

	case finishedMsg:
		pm.quitting = true
		return pm, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		pm.spinner, cmd = pm.spinner.Update(msg)

		return pm, cmd
	}

	return pm, nil
}

func (pm progressModel) View() string {
	if pm.quitting || pm.phase == "" {
		return ""
	}

	var b strings.Builder

	fmt.Fprintf(&b, "%s %s %d/%d", pm.spinner.View(), pm.phase, pm.done, pm.total)

	if pm.failed > 0 {
		fmt.Fprintf(&b, " (%s)", failedStyle.Render(fmt.Sprintf("%d failing", pm.failed)))
	}

	if len(pm.running) > 0 {
		names := maps.Keys(pm.running)
		slices.Sort(names)
		fmt.Fprintf(&b, "\n  %s", faintStyle.Render(strings.Join(names, ", ")))
	}

	b.WriteString("\n")

	return b.String()
}

func cloneSet(set map[string]struct{}) map[string]struct{} {
	clone := make(map[string]struct{}, len(set)+1)
	maps.Copy(clone, set)

	return clone
}

// pagerModel shows a listing one screen at a time.
type pagerModel struct {
	lines    []string
	height   int
	width    int
	offset   int
	quitting bool
}

func newPagerModel(lines []string) pagerModel {
	return pagerModel{lines: lines}
}

func (pg pagerModel) Init() tea.Cmd {
	return nil
}

func (pg pagerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		pg.height = msg.Height
		pg.width = msg.Width

		return pg, nil

	case tea.KeyMsg:
		return pg.handleKeyPress(msg)
	}

	return pg, nil
}

//nolint:cyclop,exhaustive // Key handling requires multiple cases for UI navigation
func (pg pagerModel) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC, tea.KeyEsc:
		pg.quitting = true
		return pg, tea.Quit
	default:
	}

	switch msg.String() {
	case "q":
		pg.quitting = true
		return pg, tea.Quit

	case "down", "j":
		pg.offset = pg.clamp(pg.offset + 1)

	case "up", "k":
		pg.offset = pg.clamp(pg.offset - 1)

	case "g", "home":
		pg.offset = 0

	case "G", "end":
		pg.offset = pg.maxOffset()

	case "d", "pgdown":
		pg.offset = pg.clamp(pg.offset + pg.itemsPerPage())

	case "u", "pgup":
		pg.offset = pg.clamp(pg.offset - pg.itemsPerPage())
	}

	return pg, nil
}

// itemsPerPage calculates how many lines fit below the header and above the
// footer.
func (pg pagerModel) itemsPerPage() int {
	if pg.height == 0 {
		return 10
	}

	const reserved = 8

	available := pg.height - reserved
	if available < 1 {
		return 1
	}

	return available
}

func (pg pagerModel) maxOffset() int {
	maxOff := len(pg.lines) - pg.itemsPerPage()
	if maxOff < 0 {
		return 0
	}

	return maxOff
}

func (pg pagerModel) clamp(offset int) int {
	if offset < 0 {
		return 0
	}

	if maxOff := pg.maxOffset(); offset > maxOff {
		return maxOff
	}

	return offset
}

// needsPagination returns true if the listing is too large to fit on screen.
func (pg pagerModel) needsPagination() bool {
	return pg.height > 0 && len(pg.lines) > pg.itemsPerPage()
}

func (pg pagerModel) View() string {
	var b strings.Builder

	b.WriteString(header)

	if !pg.needsPagination() {
		for _, line := range pg.lines {
			b.WriteString(line)
			b.WriteString("\n")
		}

		return b.String()
	}

	start := pg.clamp(pg.offset)
	end := start + pg.itemsPerPage()

	if end > len(pg.lines) {
		end = len(pg.lines)
	}

	for _, line := range pg.lines[start:end] {
		b.WriteString(line)
		b.WriteString("\n")
	}

	perPage := pg.itemsPerPage()
	currentPage := (start / perPage) + 1
	totalPages := (len(pg.lines) + perPage - 1) / perPage

	b.WriteString("\n")
	fmt.Fprintf(&b, "  Page %d/%d | Showing %d-%d of %d\n", currentPage, totalPages, start+1, end, len(pg.lines))
	b.WriteString("  ↑/k: up | ↓/j: down | g: top | G: bottom | q: quit\n")

	return b.String()
}
