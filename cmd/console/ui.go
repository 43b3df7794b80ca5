package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ConsoleUI is the BubbleTea model that runs the UI.
// https://github.com/charmbracelet/bubbletea
type ConsoleUI struct {
	session      *playSession
	storyView    viewport.Model
	metaViewport viewport.Model
	cursor       int
	status       string
	statusErr    bool
	ready        bool
	width        int
	height       int

	// Quit confirmation state
	showQuitModal bool
}

var (
	storyPanelStyle = lipgloss.NewStyle().
			PaddingTop(2).
			PaddingBottom(1).
			PaddingLeft(3).
			PaddingRight(0)

	metaPanelStyle = lipgloss.NewStyle().
			PaddingTop(2).
			PaddingBottom(0).
			PaddingLeft(0).
			PaddingRight(2)

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")). // pink
			Bold(true)

	narratorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("86")) // green

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")) // teal

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")) // red

	noticeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")) // yellow

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")) // dark grey

	separatorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")) // dark grey

	endStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true).
			Underline(true)

	selectedChoiceStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("0")).
				Background(lipgloss.Color("205")).
				Bold(true)

	modalStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(1, 2).
			Background(lipgloss.Color("235")).
			Foreground(lipgloss.Color("255"))

	modalTitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true).
			Align(lipgloss.Center)
)

var titleCaser = cases.Title(language.English)

const deadEndNotice = "There is no way forward from here. Press r to restart or l to load a save."

func NewConsoleUI(ps *playSession) ConsoleUI {
	storyVp := viewport.New(50, 20)
	storyVp.MouseWheelEnabled = true

	return ConsoleUI{
		session:      ps,
		storyView:    storyVp,
		metaViewport: viewport.New(20, 20),
	}
}

func (m ConsoleUI) Init() tea.Cmd {
	return nil
}

func (m ConsoleUI) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.showQuitModal {
		return m.updateQuitModal(msg)
	}

	var vpCmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.showQuitModal = true
			return m, nil
		case tea.KeyUp:
			if m.cursor > 0 {
				m.cursor--
			}
			m.refresh()
			return m, nil
		case tea.KeyDown:
			if m.cursor < len(m.session.engine.AvailableChoices())-1 {
				m.cursor++
			}
			m.refresh()
			return m, nil
		case tea.KeyEnter:
			m.choose(m.cursor)
			return m, nil
		}

		switch key := msg.String(); key {
		case "q":
			m.showQuitModal = true
			return m, nil
		case "k":
			return m.Update(tea.KeyMsg{Type: tea.KeyUp})
		case "j":
			return m.Update(tea.KeyMsg{Type: tea.KeyDown})
		case "s":
			if path, err := m.session.save(); err != nil {
				m.setStatus(err.Error(), true)
			} else {
				m.setStatus("Saved to "+path, false)
			}
		case "l":
			if err := m.session.load(); err != nil {
				m.setStatus(err.Error(), true)
			} else {
				m.cursor = 0
				m.setStatus("Save loaded", false)
			}
		case "pgup", "pgdown":
			m.storyView, vpCmd = m.storyView.Update(msg)
			return m, vpCmd
		case "c":
			m.copySnapshot()
		case "r":
			if err := m.session.restart(); err != nil {
				m.setStatus(err.Error(), true)
			} else {
				m.cursor = 0
				m.setStatus("Story restarted", false)
			}
		default:
			if n, err := strconv.Atoi(key); err == nil && n >= 1 && n <= 9 {
				m.choose(n - 1)
			}
		}
		m.refresh()
		return m, nil
	}

	m.storyView, vpCmd = m.storyView.Update(msg)
	return m, vpCmd
}

func (m *ConsoleUI) choose(i int) {
	if err := m.session.choose(i); err != nil {
		m.setStatus(err.Error(), true)
	} else {
		m.cursor = 0
		m.setStatus("", false)
	}
	m.refresh()
}

func (m *ConsoleUI) copySnapshot() {
	data, err := m.session.snapshotJSON()
	if err != nil {
		m.setStatus(err.Error(), true)
		return
	}
	if err := clipboard.WriteAll(string(data)); err != nil {
		m.setStatus("Clipboard unavailable: "+err.Error(), true)
		return
	}
	m.setStatus("Snapshot copied to clipboard", false)
}

func (m *ConsoleUI) setStatus(msg string, isErr bool) {
	m.status = msg
	m.statusErr = isErr
}

func (m ConsoleUI) panelWidths() (int, int) {
	storyWidth := int(float64(m.width)*0.75) - 4
	return storyWidth, m.width - storyWidth - 6
}

// refresh re-renders both panels for the current size and engine position.
func (m *ConsoleUI) refresh() {
	if !m.ready {
		return
	}
	storyWidth, metaWidth := m.panelWidths()
	footer := m.renderFooter(storyWidth - 6)

	m.storyView.Width = storyWidth - 2
	m.storyView.Height = max(m.height-6-lipgloss.Height(footer), 3)
	m.metaViewport.Width = metaWidth - 2
	m.metaViewport.Height = m.height - 4

	m.storyView.SetContent(m.renderTranscript(storyWidth - 6))
	m.storyView.GotoBottom()
	m.metaViewport.SetContent(m.renderMetadata())
}

func (m ConsoleUI) renderTranscript(width int) string {
	var content strings.Builder
	content.WriteString(titleStyle.Render(strings.ToUpper(m.session.engine.Story().Title)) + "\n\n")
	content.WriteString(separatorStyle.Render(strings.Repeat("─", max(width-6, 1))) + "\n\n")

	for _, e := range m.session.transcript {
		switch e.kind {
		case entryNode:
			content.WriteString(narratorStyle.Render(wordwrap.String(e.text, width)) + "\n\n")
		case entryChoice:
			content.WriteString(userStyle.Render("> "+wordwrap.String(e.text, width-2)) + "\n\n")
		case entryNotice:
			content.WriteString(promptStyle.Render(wordwrap.String(e.text, width)) + "\n\n")
		}
	}
	return content.String()
}

// renderFooter shows the available choices, or how the story ended.
func (m ConsoleUI) renderFooter(width int) string {
	e := m.session.engine
	var content strings.Builder

	switch {
	case e.IsTerminal():
		content.WriteString(endStyle.Render("THE END") + "\n")
		content.WriteString(promptStyle.Render("r to restart, q to quit") + "\n")
	case e.IsDeadEnd():
		content.WriteString(errorStyle.Render(wordwrap.String(deadEndNotice, width)) + "\n")
	default:
		for i, c := range e.AvailableChoices() {
			line := fmt.Sprintf("%d. %s", i+1, c.Text)
			if i == m.cursor {
				content.WriteString(selectedChoiceStyle.Render("▶ "+line) + "\n")
			} else {
				content.WriteString("  " + line + "\n")
			}
		}
	}

	if m.status != "" {
		style := noticeStyle
		if m.statusErr {
			style = errorStyle
		}
		content.WriteString("\n" + style.Render(wordwrap.String(m.status, width)) + "\n")
	}
	return strings.TrimRight(content.String(), "\n")
}

func (m ConsoleUI) renderMetadata() string {
	e := m.session.engine
	var content strings.Builder
	content.WriteString(titleStyle.Render("GAME STATE") + "\n\n")

	content.WriteString("Story:\n")
	content.WriteString(e.Story().ID + "\n\n")

	if n := e.CurrentNode(); n != nil {
		content.WriteString("Node:\n")
		content.WriteString(n.ID + "\n\n")
	}

	flags := e.State().SnapshotFlags()
	content.WriteString("Flags:\n")
	if len(flags) == 0 {
		content.WriteString("None set\n")
	}
	for _, k := range sortedKeys(flags) {
		content.WriteString(fmt.Sprintf("• %s: %t\n", humanize(k), flags[k]))
	}
	content.WriteString("\n")

	stats := e.State().SnapshotStats()
	content.WriteString("Stats:\n")
	if len(stats) == 0 {
		content.WriteString("None set\n")
	}
	for _, k := range sortedKeys(stats) {
		content.WriteString(fmt.Sprintf("• %s: %s\n", humanize(k), strconv.FormatFloat(stats[k], 'f', -1, 64)))
	}

	content.WriteString("\n")
	content.WriteString("Commands:\n")
	content.WriteString("• ↑/↓ Enter: Choose\n")
	content.WriteString("• 1-9: Choose\n")
	content.WriteString("• s / l: Save / Load\n")
	content.WriteString("• c: Copy snapshot\n")
	content.WriteString("• r: Restart\n")
	content.WriteString("• q: Quit\n")

	return content.String()
}

// humanize turns a snake_case state key into a label.
func humanize(key string) string {
	return titleCaser.String(strings.ReplaceAll(key, "_", " "))
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (m ConsoleUI) updateQuitModal(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.refresh()

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEnter:
			return m, tea.Quit
		case tea.KeyEsc:
			m.showQuitModal = false
			return m, nil
		default:
			switch msg.String() {
			case "y", "Y", "q":
				return m, tea.Quit
			case "n", "N":
				m.showQuitModal = false
				return m, nil
			}
		}
	}

	return m, nil
}

func (m ConsoleUI) renderQuitModal() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	var content strings.Builder
	content.WriteString(modalTitleStyle.Render("Quit Game?"))
	content.WriteString("\n\n")
	content.WriteString("Unsaved progress will be lost. Press s first to keep it.")
	content.WriteString("\n\n")
	content.WriteString(promptStyle.Render("Press Y to quit, N to continue, or Ctrl+C to force quit"))

	modal := modalStyle.Width(50).Render(content.String())
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, modal, lipgloss.WithWhitespaceChars(" "))
}

func (m ConsoleUI) View() string {
	if m.showQuitModal {
		return m.renderQuitModal()
	}

	if !m.ready {
		return "\n  Initializing..."
	}

	storyWidth, metaWidth := m.panelWidths()

	storyPanel := storyPanelStyle.Width(storyWidth).Height(m.height - 3).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			m.storyView.View(),
			"",
			separatorStyle.Render(strings.Repeat("─", max(storyWidth-4, 1))),
			m.renderFooter(storyWidth-6),
		),
	)

	metaPanel := metaPanelStyle.Width(metaWidth).Height(m.height - 2).Render(
		m.metaViewport.View(),
	)

	return lipgloss.JoinHorizontal(lipgloss.Top, storyPanel, metaPanel)
}
