// Package tui provides the live process table behind `antos top`.
package tui

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/kernel"
	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/models"
)

var (
	// Colors
	primaryColor   = lipgloss.Color("#7C3AED")
	secondaryColor = lipgloss.Color("#6366F1")
	successColor   = lipgloss.Color("#10B981")
	warningColor   = lipgloss.Color("#F59E0B")
	errorColor     = lipgloss.Color("#EF4444")
	mutedColor     = lipgloss.Color("#6B7280")
	fgColor        = lipgloss.Color("#F9FAFB")
	cyanColor      = lipgloss.Color("#06B6D4")

	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#374151")).
			Foreground(fgColor).
			Padding(0, 1)

	rowStyle = lipgloss.NewStyle().
			Padding(0, 2)

	selectedStyle = lipgloss.NewStyle().
			Background(primaryColor).
			Foreground(fgColor).
			Bold(true).
			Padding(0, 2)

	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(cyanColor)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)
)

// App is the main TUI application model.
type App struct {
	rt      Runtime
	mu      sync.Mutex // serializes runtime calls made from commands
	refresh time.Duration

	snap        snapshot
	selectedIdx int
	mode        string // "list", "detail", "agents"
	detailID    models.ProcessID
	cmdbar      *CmdBarModel
	suggestions *Suggestions
	viewport    viewport.Model
	width       int
	height      int
	message     string
	auto        bool
}

// New creates a TUI over rt. refresh is the auto-run tick interval.
func New(rt Runtime, refresh time.Duration) *App {
	if refresh <= 0 {
		refresh = 500 * time.Millisecond
	}
	return &App{
		rt:          rt,
		refresh:     refresh,
		snap:        takeSnapshot(rt),
		mode:        "list",
		cmdbar:      NewCmdBarModel(),
		suggestions: NewSuggestions(),
		viewport:    viewport.New(80, 20),
		width:       80,
		height:      24,
	}
}

// Run starts the TUI application.
func (a *App) Run() error {
	p := tea.NewProgram(a, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

type refreshedMsg struct {
	snap    snapshot
	message string
}

type detailMsg struct {
	id      models.ProcessID
	content string
}

type autoTickMsg time.Time

// Init implements tea.Model
func (a *App) Init() tea.Cmd {
	return a.call(func() string { return "" })
}

// Update implements tea.Model
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if a.cmdbar.Focused() {
			return a, a.updateCmdBar(msg)
		}
		return a, a.handleKey(msg)

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.cmdbar.SetWidth(msg.Width - 8)
		a.viewport.Width = msg.Width
		a.viewport.Height = max(msg.Height-8, 3)

	case refreshedMsg:
		a.snap = msg.snap
		if msg.message != "" {
			a.message = msg.message
		}
		if a.selectedIdx >= len(a.snap.procs) {
			a.selectedIdx = max(0, len(a.snap.procs)-1)
		}
		if a.mode == "detail" {
			return a, a.loadDetail(a.detailID)
		}

	case detailMsg:
		if msg.id == a.detailID {
			a.viewport.SetContent(msg.content)
		}

	case autoTickMsg:
		if !a.auto {
			return a, nil
		}
		return a, tea.Batch(
			a.call(func() string { return a.runTicks(context.Background(), 1) }),
			a.scheduleAuto(),
		)
	}
	return a, nil
}

func (a *App) handleKey(msg tea.KeyMsg) tea.Cmd {
	sel, hasSel := a.selected()
	switch msg.String() {
	case "ctrl+c", "q":
		return tea.Quit

	case "esc":
		a.mode = "list"
		a.message = ""

	case "up", "k":
		if a.mode == "detail" {
			a.viewport.LineUp(1)
		} else if a.selectedIdx > 0 {
			a.selectedIdx--
		}

	case "down", "j":
		if a.mode == "detail" {
			a.viewport.LineDown(1)
		} else if a.selectedIdx < len(a.snap.procs)-1 {
			a.selectedIdx++
		}

	case "enter":
		if hasSel {
			a.mode = "detail"
			a.detailID = sel
			a.viewport.SetContent("Loading...")
			a.viewport.GotoTop()
			return a.loadDetail(sel)
		}

	case "a":
		a.mode = "agents"

	case "t":
		return a.call(func() string { return a.runTicks(context.Background(), 1) })

	case " ":
		a.auto = !a.auto
		if a.auto {
			a.message = fmt.Sprintf("Auto-run every %s", a.refresh)
			return a.scheduleAuto()
		}
		a.message = "Auto-run stopped"

	case "s":
		if !hasSel {
			return nil
		}
		if a.snap.procs[a.selectedIdx].Status == models.ProcessStatusSuspended {
			return a.execute("resume", sel, true)
		}
		return a.execute("suspend", sel, true)

	case "x":
		if hasSel {
			return a.execute("kill", sel, true)
		}

	case "r":
		return a.call(func() string { return "" })

	case ":":
		return a.focus("")
	case "/":
		return a.focus("/")
	case "@":
		return a.focus("@")
	case "m":
		if hasSel {
			return a.focus(fmt.Sprintf("msg %d ", sel))
		}
	}
	return nil
}

func (a *App) updateCmdBar(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "ctrl+c":
		return tea.Quit
	case "esc":
		a.cmdbar.Blur()
		a.suggestions.Update("", a.snap)
		return nil
	case "up":
		a.suggestions.Prev()
		return nil
	case "down":
		a.suggestions.Next()
		return nil
	case "tab", "enter":
		if v, ok := a.suggestions.Accept(); ok {
			a.cmdbar.SetValue(v)
			a.suggestions.Update(v, a.snap)
			return nil
		}
		if msg.String() == "tab" {
			return nil
		}
		input := a.cmdbar.Submit()
		a.suggestions.Update("", a.snap)
		sel, hasSel := a.selected()
		return a.execute(input, sel, hasSel)
	}
	cmd := a.cmdbar.Update(msg)
	a.suggestions.Update(a.cmdbar.Value(), a.snap)
	return cmd
}

func (a *App) focus(value string) tea.Cmd {
	cmd := a.cmdbar.Focus(value)
	a.suggestions.Update(value, a.snap)
	return cmd
}

func (a *App) selected() (models.ProcessID, bool) {
	if a.selectedIdx < 0 || a.selectedIdx >= len(a.snap.procs) {
		return 0, false
	}
	return a.snap.procs[a.selectedIdx].ID, true
}

// call runs fn under the runtime lock and reports a fresh snapshot with its message.
func (a *App) call(fn func() string) tea.Cmd {
	return func() tea.Msg {
		a.mu.Lock()
		defer a.mu.Unlock()
		message := fn()
		return refreshedMsg{snap: takeSnapshot(a.rt), message: message}
	}
}

// runTicks must be called with the runtime lock held.
func (a *App) runTicks(ctx context.Context, n int) string {
	var report *kernel.TickReport
	for i := 0; i < n; i++ {
		r, err := a.rt.Tick(ctx)
		if err != nil {
			return "Error: " + err.Error()
		}
		report = r
	}
	msg := fmt.Sprintf("Tick %d: ran %d, skipped %d, failed %d, %d task steps",
		report.Tick, len(report.Ran), len(report.Skipped), len(report.Failed), len(report.Outcomes))
	if len(report.Terminated) > 0 {
		msg += fmt.Sprintf(", %d exited", len(report.Terminated))
	}
	return msg
}

func (a *App) scheduleAuto() tea.Cmd {
	return tea.Tick(a.refresh, func(t time.Time) tea.Msg {
		return autoTickMsg(t)
	})
}

func (a *App) loadDetail(id models.ProcessID) tea.Cmd {
	return func() tea.Msg {
		a.mu.Lock()
		defer a.mu.Unlock()
		return detailMsg{id: id, content: a.renderDetail(id)}
	}
}

// View implements tea.Model
func (a *App) View() string {
	var b strings.Builder

	header := titleStyle.Render("AntOS kernel")
	header += "  " + lipgloss.NewStyle().Foreground(cyanColor).Render(fmt.Sprintf("[tick %d]", a.snap.time))
	header += "  " + lipgloss.NewStyle().Foreground(mutedColor).Render(fmt.Sprintf("%d processes, %d agents bound", len(a.snap.procs), len(a.snap.bindings)))
	if a.auto {
		header += "  " + lipgloss.NewStyle().Foreground(successColor).Bold(true).Render("AUTO")
	}
	b.WriteString(header + "\n")
	b.WriteString(strings.Repeat("-", max(a.width, 10)) + "\n")

	contentHeight := max(a.height-8, 5)
	switch a.mode {
	case "detail":
		b.WriteString(a.viewport.View())
	case "agents":
		b.WriteString(a.renderBindings(contentHeight))
	default:
		b.WriteString(a.renderProcessList(contentHeight))
	}

	b.WriteString("\n")
	if a.message != "" {
		msgStyle := lipgloss.NewStyle().Foreground(successColor)
		if strings.HasPrefix(a.message, "Error") {
			msgStyle = lipgloss.NewStyle().Foreground(errorColor)
		}
		b.WriteString(msgStyle.Render(a.message))
	}
	b.WriteString("\n")
	b.WriteString(a.cmdbar.View())
	if a.suggestions.IsVisible() {
		b.WriteString("\n")
		b.WriteString(a.suggestions.Render(a.width))
	}
	b.WriteString("\n")

	var status string
	switch a.mode {
	case "detail":
		status = " Esc:back | up/down:scroll | Ctrl+C:quit"
	case "agents":
		status = fmt.Sprintf(" Bindings: %d | Esc:back | t:tick | space:auto", len(a.snap.bindings))
	default:
		status = " up/down:nav | Enter:detail | t:tick | space:auto | s:suspend/resume | x:kill | m:message | a:agents | q:quit"
	}
	b.WriteString(statusBarStyle.Width(max(a.width, 10)).Render(status))
	return b.String()
}

func (a *App) renderProcessList(height int) string {
	if len(a.snap.procs) == 0 {
		return "\n  No processes. Type :launch <type> key=value to start one.\n"
	}

	lines := []string{headerStyle.Render(fmt.Sprintf("  %-6s %-10s %-12s %-6s %s", "PID", "TYPE", "STATUS", "AGENTS", "DESCRIPTION"))}
	start := 0
	if len(a.snap.procs) > height-1 {
		start = max(0, min(a.selectedIdx-(height-1)/2, len(a.snap.procs)-(height-1)))
	}
	for i := start; i < len(a.snap.procs) && len(lines) < height; i++ {
		p := a.snap.procs[i]
		if i == a.selectedIdx {
			lines = append(lines, selectedStyle.Render(fmt.Sprintf("%-6d %-10s %-12s %-6d %s", p.ID, p.Type, p.Status, p.Agents, p.Description)))
			continue
		}
		lines = append(lines, rowStyle.Render(fmt.Sprintf("%-6d %-10s %s %-6d %s", p.ID, p.Type, formatStatus(p.Status), p.Agents, p.Description)))
	}
	return strings.Join(lines, "\n")
}

func (a *App) renderBindings(height int) string {
	if len(a.snap.bindings) == 0 {
		return "\n  No agents are bound.\n"
	}
	lines := []string{headerStyle.Render(fmt.Sprintf("  %-12s %-10s %-14s %-8s %-34s %s", "AGENT", "GROUP", "RUNNER", "PRIO", "TASK", "LAST"))}
	for _, bnd := range a.snap.bindings {
		if len(lines) >= height {
			break
		}
		last := "-"
		if bnd.Last != nil {
			last = bnd.Last.String()
		}
		lines = append(lines, rowStyle.Render(fmt.Sprintf("%-12s %-10s %-14s %-8s %-34s %s",
			bnd.AgentID, bnd.Group, bnd.Runner, bnd.Priority, truncate(bnd.Task.Describe(), 34), last)))
	}
	return strings.Join(lines, "\n")
}

// renderDetail must be called with the runtime lock held.
func (a *App) renderDetail(id models.ProcessID) string {
	info, rec, err := a.rt.Get(id)
	if err != nil {
		return "Error: " + err.Error()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "  %s\n", lipgloss.NewStyle().Bold(true).Render(fmt.Sprintf("%s %d", info.Type, info.ID)))
	fmt.Fprintf(&b, "  Status:    %s\n", formatStatus(info.Status))
	fmt.Fprintf(&b, "  Launched:  tick %d\n", info.LaunchTime)
	if len(info.DependsOn.Processes) > 0 || len(info.DependsOn.Types) > 0 {
		fmt.Fprintf(&b, "  Depends:   processes %v types %v\n", info.DependsOn.Processes, info.DependsOn.Types)
	}
	if info.Description != "" {
		fmt.Fprintf(&b, "  Summary:   %s\n", info.Description)
	}

	var state bytes.Buffer
	if err := json.Indent(&state, rec.State, "    ", "  "); err != nil {
		state.Reset()
		state.Write(rec.State)
	}
	fmt.Fprintf(&b, "\n  State:\n    %s\n", state.String())

	b.WriteString("\n  Agents:\n")
	owned := 0
	for _, bnd := range a.rt.Bindings() {
		if bnd.Home != id {
			continue
		}
		owned++
		fmt.Fprintf(&b, "    %-12s %s\n", bnd.AgentID, bnd.Task.Describe())
	}
	if owned == 0 {
		b.WriteString("    " + helpStyle.Render("none") + "\n")
	}
	return b.String()
}

func formatStatus(status models.ProcessStatus) string {
	switch status {
	case models.ProcessStatusRunning:
		return lipgloss.NewStyle().Foreground(successColor).Render(fmt.Sprintf("%-12s", "● running"))
	case models.ProcessStatusSuspended:
		return lipgloss.NewStyle().Foreground(warningColor).Render(fmt.Sprintf("%-12s", "○ suspended"))
	}
	return fmt.Sprintf("%-12s", status)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
