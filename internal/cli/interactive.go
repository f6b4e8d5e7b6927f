package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// menuItem represents a single configurable option in the TUI.
type menuItem struct {
	label    string
	value    string
	options  []menuOption
	required bool
	editing  bool
	cursor   int // cursor within options when editing
	hint     string
}

type menuOption struct {
	label string
	value string
}

// menuState tracks which phase the TUI is in.
type menuState int

const (
	stateMenu menuState = iota
	stateEditing
)

// tuiModel is the Bubble Tea model for the interactive menu.
type tuiModel struct {
	items     []menuItem
	cursor    int
	state     menuState
	width     int
	err       error
	confirmed bool
	cancelled bool
}

// style constants
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7D56F4")).
			MarginBottom(1)

	menuLabelStyle = lipgloss.NewStyle().
			Width(16).
			Align(lipgloss.Right).
			MarginRight(2)

	menuValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#04B575"))

	menuValueDimStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#555555")).
				Italic(true)

	cursorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7D56F4")).
			Bold(true)

	requiredStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF5555")).
			Bold(true)

	optionStyle = lipgloss.NewStyle().
			PaddingLeft(4)

	selectedOptionStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#04B575")).
				Bold(true).
				PaddingLeft(2)

	buttonStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 3)

	buttonDimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#555555")).
			Padding(0, 3)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#626262")).
			MarginTop(1)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF5555")).
			Bold(true)

	headerBorder = lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(lipgloss.Color("#7D56F4")).
			MarginBottom(1).
			PaddingBottom(0)
)

// menu item indices
const (
	idxConcept = iota
	idxPersonas
	idxContext
	idxOutput
	idxModel
	idxAdaptive
	idxTopics
	idxConcurrency
	idxCritic
	idxEvaluate
)

func buildMenuItems() []menuItem {
	concurrency := ""
	if flagConcurrency > 0 {
		concurrency = strconv.Itoa(flagConcurrency)
	}
	critic := "on"
	if flagNoCritic {
		critic = "off"
	}

	items := []menuItem{
		{label: "Concept", value: flagConcept, required: true},
		{label: "Personas", value: flagPersonas, required: true},
		{label: "Context", value: flagContext},
		{label: "Output", value: flagOutput},
		{
			label: "Model",
			value: flagModel,
			options: []menuOption{
				{label: "From config (default)", value: ""},
				{label: "Haiku (fast, affordable)", value: "haiku"},
				{label: "Sonnet (balanced)", value: "sonnet"},
				{label: "Gemini Flash (fast)", value: "gemini-flash"},
				{label: "Gemini Pro (powerful)", value: "gemini-pro"},
				{label: "Nova Lite (Bedrock)", value: "nova-lite"},
				{label: "HTTP backend", value: "http"},
			},
		},
		{
			label: "Adaptive Mode",
			value: flagAdaptiveMode,
			options: []menuOption{
				{label: "From config (default)", value: ""},
				{label: "Conservative - strong signals only", value: "conservative"},
				{label: "Moderate - balanced probing", value: "moderate"},
				{label: "Aggressive - probe any signal", value: "aggressive"},
			},
		},
		{
			label: "Topics",
			value: flagTopicMode,
			options: []menuOption{
				{label: "From config (default)", value: ""},
				{label: "Fixed - five standard themes", value: "fixed"},
				{label: "Dynamic - themes chosen per concept", value: "dynamic"},
			},
		},
		{
			label: "Concurrency",
			value: concurrency,
			options: []menuOption{
				{label: "From config (default)", value: ""},
				{label: "1 - one persona at a time", value: "1"},
				{label: "3", value: "3"},
				{label: "5", value: "5"},
				{label: "8", value: "8"},
			},
		},
		{
			label: "Critic",
			value: critic,
			options: []menuOption{
				{label: "On - regenerate weak evaluations (default)", value: "on"},
				{label: "Off - record issues only", value: "off"},
			},
		},
		{label: ">>> Evaluate <<<"},
	}

	// Pre-select cursor position for options
	for i := range items {
		for j, opt := range items[i].options {
			if opt.value == items[i].value {
				items[i].cursor = j
				break
			}
		}
	}
	return items
}

func initialTUIModel() tuiModel {
	return tuiModel{
		items:  buildMenuItems(),
		cursor: idxConcept,
		state:  stateMenu,
	}
}

func (m tuiModel) Init() tea.Cmd {
	return nil
}

func (m tuiModel) isTextInput(idx int) bool {
	return idx <= idxOutput
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch m.state {
		case stateMenu:
			return m.updateMenu(msg)
		case stateEditing:
			return m.updateEditing(msg)
		}
	}
	return m, nil
}

func (m tuiModel) updateMenu(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		m.cancelled = true
		return m, tea.Quit

	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}

	case "down", "j":
		if m.cursor < len(m.items)-1 {
			m.cursor++
		}

	case "enter", " ":
		if m.cursor == idxEvaluate {
			for _, i := range []int{idxConcept, idxPersonas} {
				if m.items[i].value == "" {
					m.err = fmt.Errorf("%s is required", m.items[i].label)
					return m, nil
				}
				if m.err = checkInput(i, &m.items[i]); m.err != nil {
					return m, nil
				}
			}
			m.confirmed = true
			return m, tea.Quit
		}

		if m.isTextInput(m.cursor) || len(m.items[m.cursor].options) > 0 {
			m.state = stateEditing
			m.items[m.cursor].editing = true
			m.err = nil
		}
	}
	return m, nil
}

func (m tuiModel) updateEditing(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	idx := m.cursor
	item := &m.items[idx]

	if m.isTextInput(idx) {
		switch msg.String() {
		case "enter":
			item.editing = false
			m.state = stateMenu
			m.err = checkInput(idx, item)
			if m.err == nil {
				m.cursor++
			}
			return m, nil
		case "esc":
			item.editing = false
			m.state = stateMenu
			return m, nil
		case "backspace":
			if len(item.value) > 0 {
				item.value = item.value[:len(item.value)-1]
			}
			return m, nil
		case "ctrl+u":
			item.value = ""
			return m, nil
		default:
			// Accept typed characters and pasted text
			if msg.Type == tea.KeyRunes {
				item.value += string(msg.Runes)
			}
			return m, nil
		}
	}

	switch msg.String() {
	case "enter", " ":
		if item.cursor >= 0 && item.cursor < len(item.options) {
			item.value = item.options[item.cursor].value
		}
		item.editing = false
		m.state = stateMenu
		if m.cursor < len(m.items)-1 {
			m.cursor++
		}
		return m, nil

	case "esc":
		item.editing = false
		m.state = stateMenu
		return m, nil

	case "up", "k":
		if item.cursor > 0 {
			item.cursor--
		}

	case "down", "j":
		if item.cursor < len(item.options)-1 {
			item.cursor++
		}
	}
	return m, nil
}

func (m tuiModel) View() string {
	var b strings.Builder

	b.WriteString(headerBorder.Render(titleStyle.Render("Concept Lab")))
	b.WriteString("\n")

	for i, item := range m.items {
		isActive := m.cursor == i

		if i == idxEvaluate {
			b.WriteString("\n")
			if isActive {
				b.WriteString("  " + buttonStyle.Render(" Evaluate "))
			} else {
				b.WriteString("  " + buttonDimStyle.Render(" Evaluate "))
			}
			b.WriteString("\n")
			continue
		}

		cursor := "  "
		if isActive {
			cursor = cursorStyle.Render("> ")
		}

		label := item.label
		if item.required {
			label = label + requiredStyle.Render("*")
		}

		var renderedValue string
		switch {
		case item.editing && m.isTextInput(i):
			renderedValue = menuValueStyle.Render(item.value + "_")
		case item.value == "" && len(item.options) > 0:
			renderedValue = menuValueDimStyle.Render(item.options[0].label)
		case item.value == "":
			placeholder := "(not set)"
			switch i {
			case idxContext:
				placeholder = "(optional: URL, PDF, JSON or text file)"
			case idxOutput:
				placeholder = "(auto-named under " + OutputBaseDir + ")"
			}
			renderedValue = menuValueDimStyle.Render(placeholder)
		default:
			displayVal := item.value
			for _, opt := range item.options {
				if opt.value == item.value {
					displayVal = opt.label
					break
				}
			}
			renderedValue = menuValueStyle.Render(displayVal)
			if item.hint != "" {
				renderedValue += " " + menuValueDimStyle.Render(item.hint)
			}
		}

		b.WriteString(cursor + menuLabelStyle.Render(label) + " " + renderedValue + "\n")

		if item.editing && len(item.options) > 0 {
			for j, opt := range item.options {
				if j == item.cursor {
					b.WriteString(selectedOptionStyle.Render("> "+opt.label) + "\n")
				} else {
					b.WriteString(optionStyle.Render("  "+opt.label) + "\n")
				}
			}
		}
	}

	if m.err != nil {
		b.WriteString("\n" + errorStyle.Render("  Error: "+m.err.Error()) + "\n")
	}

	switch m.state {
	case stateMenu:
		b.WriteString(helpStyle.Render("  j/k or arrows to navigate | enter to edit | q to quit"))
	case stateEditing:
		if m.isTextInput(m.cursor) {
			b.WriteString(helpStyle.Render("  type value | enter to confirm | esc to cancel | ctrl+u to clear"))
		} else {
			b.WriteString(helpStyle.Render("  j/k or arrows to pick | enter to select | esc to cancel"))
		}
	}
	b.WriteString("\n")

	return b.String()
}

// checkInput loads the concept or persona file named by item so mistakes
// surface in the menu rather than after the screen closes.
func checkInput(idx int, item *menuItem) error {
	item.hint = ""
	if item.value == "" {
		return nil
	}
	switch idx {
	case idxConcept:
		c, err := LoadConcept(item.value)
		if err != nil {
			return err
		}
		item.hint = "(" + c.Name + ")"
	case idxPersonas:
		personas, err := LoadPersonas(item.value)
		if err != nil {
			return err
		}
		item.hint = fmt.Sprintf("(%d personas)", len(personas))
	case idxContext:
		if strings.HasPrefix(item.value, "http://") || strings.HasPrefix(item.value, "https://") {
			return nil
		}
		if _, err := os.Stat(item.value); err != nil {
			return fmt.Errorf("context: %w", err)
		}
	}
	return nil
}

// applySelections copies the confirmed menu values onto the evaluate flags.
func (m tuiModel) applySelections() {
	flagConcept = m.items[idxConcept].value
	flagPersonas = m.items[idxPersonas].value
	flagContext = m.items[idxContext].value
	flagOutput = m.items[idxOutput].value
	flagModel = m.items[idxModel].value
	flagAdaptiveMode = m.items[idxAdaptive].value
	flagTopicMode = m.items[idxTopics].value
	flagConcurrency, _ = strconv.Atoi(m.items[idxConcurrency].value)
	flagNoCritic = m.items[idxCritic].value == "off"
}

func runInteractiveSetup() error {
	p := tea.NewProgram(initialTUIModel(), tea.WithAltScreen())
	result, err := p.Run()
	if err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}

	final := result.(tuiModel)
	if final.cancelled {
		return fmt.Errorf("cancelled")
	}
	if !final.confirmed {
		return fmt.Errorf("evaluation cancelled")
	}
	final.applySelections()
	return nil
}
