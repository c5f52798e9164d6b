package tui

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/models"
	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/process"
)

var (
	cmdBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("235")).
			Foreground(lipgloss.Color("255")).
			Padding(0, 1)

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true)
)

// CmdBarModel manages the command input bar
type CmdBarModel struct {
	input   textinput.Model
	focused bool
}

// NewCmdBarModel creates a new command bar
func NewCmdBarModel() *CmdBarModel {
	ti := textinput.New()
	ti.Placeholder = "launch <type> key=value | kill | suspend | resume | msg <id> <text> | tick [n]"
	ti.CharLimit = 256
	ti.Width = 80
	return &CmdBarModel{input: ti}
}

// Focus focuses the command bar with an initial value.
func (m *CmdBarModel) Focus(value string) tea.Cmd {
	m.focused = true
	m.input.SetValue(value)
	m.input.CursorEnd()
	return m.input.Focus()
}

// Blur unfocuses the command bar
func (m *CmdBarModel) Blur() {
	m.focused = false
	m.input.Blur()
	m.input.SetValue("")
}

// Focused reports whether the bar takes key input.
func (m *CmdBarModel) Focused() bool {
	return m.focused
}

// Value returns the current input.
func (m *CmdBarModel) Value() string {
	return m.input.Value()
}

// SetValue replaces the current input.
func (m *CmdBarModel) SetValue(v string) {
	m.input.SetValue(v)
	m.input.CursorEnd()
}

// Submit returns the current input and blurs
func (m *CmdBarModel) Submit() string {
	val := strings.TrimSpace(m.input.Value())
	m.Blur()
	return val
}

// SetWidth resizes the input.
func (m *CmdBarModel) SetWidth(w int) {
	m.input.Width = max(w, 10)
}

// Update handles messages
func (m *CmdBarModel) Update(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return cmd
}

// View renders the command bar
func (m *CmdBarModel) View() string {
	if m.focused {
		return cmdBarStyle.Render(promptStyle.Render(": ") + m.input.View())
	}
	return cmdBarStyle.Render("Press : to enter a command, / for the command list, @ to message a process")
}

// execute runs one console command against the runtime. selected is the highlighted
// process, used when the command names none.
func (a *App) execute(input string, selected models.ProcessID, hasSelected bool) tea.Cmd {
	parts := strings.Fields(strings.TrimPrefix(input, "/"))
	if len(parts) == 0 {
		return nil
	}
	cmd, args := parts[0], parts[1:]

	target := func() (models.ProcessID, error) {
		if len(args) > 0 {
			return models.ParseProcessID(args[0])
		}
		if !hasSelected {
			return 0, fmt.Errorf("no process selected")
		}
		return selected, nil
	}

	if cmd == "q" || cmd == "quit" || cmd == "exit" {
		return tea.Quit
	}

	return a.call(func() string {
		switch cmd {
		case "launch":
			if len(args) < 1 {
				return "Usage: launch <type> [key=value...] [after=<id>]"
			}
			kv, err := process.ParseArgs(args[1:])
			if err != nil {
				return "Error: " + err.Error()
			}
			var deps models.Dependencies
			if after, ok := kv["after"]; ok {
				delete(kv, "after")
				id, err := models.ParseProcessID(after)
				if err != nil {
					return fmt.Sprintf("Error: after=%s: %v", after, err)
				}
				deps.Processes = append(deps.Processes, id)
			}
			id, err := a.rt.Launch(args[0], kv, deps)
			if err != nil {
				return "Error: " + err.Error()
			}
			return fmt.Sprintf("Launched %s %d", args[0], id)

		case "kill", "suspend", "resume":
			id, err := target()
			if err != nil {
				return "Error: " + err.Error()
			}
			switch cmd {
			case "kill":
				err = a.rt.Kill(id)
			case "suspend":
				err = a.rt.Suspend(id)
			default:
				err = a.rt.Resume(id)
			}
			if err != nil {
				return "Error: " + err.Error()
			}
			return fmt.Sprintf("%s %d", cmd, id)

		case "msg", "message":
			if len(args) < 2 {
				return "Usage: msg <id> <text>"
			}
			id, err := models.ParseProcessID(args[0])
			if err != nil {
				return "Error: " + err.Error()
			}
			reply, err := a.rt.SendMessage(id, strings.Join(args[1:], " "))
			if err != nil {
				return "Error: " + err.Error()
			}
			return fmt.Sprintf("%d: %s", id, reply)

		case "tick":
			n := 1
			if len(args) > 0 {
				v, err := strconv.Atoi(args[0])
				if err != nil || v < 1 {
					return "Usage: tick [n]"
				}
				n = v
			}
			return a.runTicks(context.Background(), n)
		}
		return fmt.Sprintf("Unknown: %s (try: launch, kill, suspend, resume, msg, tick)", cmd)
	})
}
