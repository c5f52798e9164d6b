package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Suggestions provides autocomplete for the command bar.
type Suggestions struct {
	items        []SuggestionItem
	filtered     []SuggestionItem
	selectedIdx  int
	visible      bool
	prefix       string // "/", "@" or "launch "
	currentInput string
}

// SuggestionItem represents a single autocomplete suggestion
type SuggestionItem struct {
	Text        string
	Description string
	Type        string // "command", "process", "type"
}

var commandSuggestions = []SuggestionItem{
	{Text: "launch", Description: "Launch a process: launch <type> [key=value...] [after=<id>]", Type: "command"},
	{Text: "kill", Description: "Kill the selected process", Type: "command"},
	{Text: "suspend", Description: "Stop running the selected process", Type: "command"},
	{Text: "resume", Description: "Run the selected process again", Type: "command"},
	{Text: "msg", Description: "Send text to the selected process", Type: "command"},
	{Text: "tick", Description: "Run ticks: tick [n]", Type: "command"},
	{Text: "quit", Description: "Leave antos top", Type: "command"},
}

// NewSuggestions creates a new suggestions handler
func NewSuggestions() *Suggestions {
	return &Suggestions{items: commandSuggestions}
}

// Update updates suggestions based on current input. Process and type lists come
// from the last runtime snapshot.
func (s *Suggestions) Update(input string, snap snapshot) {
	s.currentInput = input
	switch {
	case strings.HasPrefix(input, "/"):
		s.prefix = "/"
		s.items = commandSuggestions
	case strings.HasPrefix(input, "@"):
		s.prefix = "@"
		s.items = make([]SuggestionItem, 0, len(snap.procs))
		for _, p := range snap.procs {
			s.items = append(s.items, SuggestionItem{
				Text:        p.ID.String(),
				Description: fmt.Sprintf("%s %s", p.Type, p.Description),
				Type:        "process",
			})
		}
	case strings.HasPrefix(input, "launch ") && !strings.Contains(strings.TrimPrefix(input, "launch "), " "):
		s.prefix = "launch "
		s.items = make([]SuggestionItem, 0, len(snap.types))
		for _, t := range snap.types {
			s.items = append(s.items, SuggestionItem{Text: "launch " + t.Tag, Description: t.Summary, Type: "type"})
		}
	default:
		s.visible = false
		s.filtered = nil
		s.prefix = ""
		return
	}
	s.visible = true
	query := strings.ToLower(strings.TrimPrefix(input, s.prefix))
	if s.prefix == "launch " {
		query = strings.ToLower(input)
	}
	s.filter(query)
}

func (s *Suggestions) filter(query string) {
	if query == "" {
		s.filtered = s.items
		s.selectedIdx = 0
		return
	}

	s.filtered = []SuggestionItem{}
	for _, item := range s.items {
		if strings.Contains(strings.ToLower(item.Text), query) {
			s.filtered = append(s.filtered, item)
		}
	}
	s.selectedIdx = 0
}

// Next moves to the next suggestion
func (s *Suggestions) Next() {
	if len(s.filtered) == 0 {
		return
	}
	s.selectedIdx = (s.selectedIdx + 1) % len(s.filtered)
}

// Prev moves to the previous suggestion
func (s *Suggestions) Prev() {
	if len(s.filtered) == 0 {
		return
	}
	s.selectedIdx--
	if s.selectedIdx < 0 {
		s.selectedIdx = len(s.filtered) - 1
	}
}

// Selected returns the currently selected suggestion
func (s *Suggestions) Selected() *SuggestionItem {
	if !s.visible || len(s.filtered) == 0 || s.selectedIdx >= len(s.filtered) {
		return nil
	}
	return &s.filtered[s.selectedIdx]
}

// Accept returns the input that results from taking the selected suggestion.
func (s *Suggestions) Accept() (string, bool) {
	sel := s.Selected()
	if sel == nil {
		return "", false
	}
	switch sel.Type {
	case "process":
		return "msg " + sel.Text + " ", true
	default:
		return sel.Text + " ", true
	}
}

// IsVisible returns whether suggestions are currently visible
func (s *Suggestions) IsVisible() bool {
	return s.visible && len(s.filtered) > 0
}

// Render renders the suggestions dropdown
func (s *Suggestions) Render(width int) string {
	if !s.IsVisible() {
		return ""
	}

	var b strings.Builder

	suggestionStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(secondaryColor).
		Padding(0, 1).
		Width(max(width-4, 20))

	itemStyle := lipgloss.NewStyle().Foreground(fgColor)
	descStyle := lipgloss.NewStyle().Foreground(mutedColor).Italic(true)
	pickedStyle := lipgloss.NewStyle().Background(primaryColor).Foreground(fgColor).Bold(true)

	var header string
	switch s.prefix {
	case "/":
		header = "Commands"
	case "@":
		header = "Processes"
	default:
		header = "Process types"
	}
	b.WriteString(lipgloss.NewStyle().Bold(true).Foreground(primaryColor).Render(header))
	b.WriteString("\n")

	const maxVisible = 5
	for i, item := range s.filtered {
		if i >= maxVisible {
			b.WriteString(descStyle.Render(fmt.Sprintf("  ... and %d more", len(s.filtered)-maxVisible)))
			break
		}
		var line string
		if i == s.selectedIdx {
			line = pickedStyle.Render("> " + item.Text)
			if item.Description != "" {
				line += " " + pickedStyle.Render(item.Description)
			}
		} else {
			line = itemStyle.Render("  " + item.Text)
			if item.Description != "" {
				line += " " + descStyle.Render(item.Description)
			}
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	return suggestionStyle.Render(b.String())
}
