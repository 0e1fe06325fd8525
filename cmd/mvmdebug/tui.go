package main

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	borderStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	promptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// model is the bubbletea front end: a scrollable output viewport above a
// single command input line.
type model struct {
	sess     *session
	view     viewport.Model
	input    textinput.Model
	output   strings.Builder
	ready    bool
	quitting bool
}

func newModel(sess *session) *model {
	ti := textinput.New()
	ti.Prompt = promptStyle.Render("(mvm) ")
	ti.Placeholder = "help"
	ti.Focus()
	m := &model{sess: sess, input: ti}
	m.appendOutput(sess.summary())
	m.appendOutput("type 'help' for commands\n")
	return m
}

func (m *model) Init() tea.Cmd {
	return textinput.Blink
}

func (m *model) appendOutput(s string) {
	m.output.WriteString(s)
	if m.ready {
		m.view.SetContent(m.output.String())
		m.view.GotoBottom()
	}
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		inputHeight := 3
		if !m.ready {
			m.view = viewport.New(msg.Width-4, msg.Height-inputHeight-2)
			m.view.SetContent(m.output.String())
			m.ready = true
		} else {
			m.view.Width = msg.Width - 4
			m.view.Height = msg.Height - inputHeight - 2
		}
		m.view.GotoBottom()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.quitting = true
			return m, tea.Quit
		case tea.KeyEnter:
			line := m.input.Value()
			m.input.Reset()
			m.appendOutput(promptStyle.Render("(mvm) ") + line + "\n")
			out, quit := m.sess.exec(line)
			if strings.HasPrefix(out, "error:") {
				out = errStyle.Render(strings.TrimSuffix(out, "\n")) + "\n"
			}
			m.appendOutput(out)
			if quit {
				m.quitting = true
				return m, tea.Quit
			}
			return m, nil
		case tea.KeyPgUp:
			m.view.HalfViewUp()
			return m, nil
		case tea.KeyPgDown:
			m.view.HalfViewDown()
			return m, nil
		}
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.view, cmd = m.view.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *model) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return "loading..."
	}
	title := titleStyle.Render("mvmdebug — " + m.sess.imagePath)
	return title + "\n" + borderStyle.Render(m.view.View()) + "\n" + m.input.View()
}

func runTUI(sess *session) error {
	p := tea.NewProgram(newModel(sess), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
