package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

type initField int

const (
	fieldServer initField = iota
	fieldUser
	fieldContemporary
	fieldTraditional
	fieldCount
)

const (
	txtInitTitle   = "AlderSync setup"
	txtChecking    = "Checking the server..."
	txtInitHelp    = "Enter to go on. Esc to go back. Ctrl+C to quit."
	txtFolderHint  = "leave empty to skip"
	txtUserMissing = "user is required"
)

var (
	focusedStyle     = green
	helpStyle        = gray
	errorTextStyle   = red
	errorHeaderStyle = red.Bold(true)
	titleStyle       = cyan.Bold(true)
)

var fieldLabels = [fieldCount]string{
	fieldServer:       "Server URL",
	fieldUser:         "User",
	fieldContemporary: "Contemporary folder",
	fieldTraditional:  "Traditional folder",
}

// InitTUIOpts prefills the form. Submit validates the answers and is run off the UI loop.
type InitTUIOpts struct {
	ConfigPath string
	Values     [fieldCount]string
	Submit     func(values [fieldCount]string) error
}

type submitDoneMsg struct{ err error }

type initModel struct {
	opts    *InitTUIOpts
	inputs  [fieldCount]textinput.Model
	focus   initField
	spinner spinner.Model

	isLoading    bool
	errorMessage string
	done         bool
}

func newInitModel(opts *InitTUIOpts) initModel {
	m := initModel{opts: opts}
	for i := range m.inputs {
		in := textinput.New()
		in.CharLimit = 256
		in.Width = 64
		in.PromptStyle = focusedStyle
		in.TextStyle = focusedStyle
		in.PlaceholderStyle = helpStyle
		in.SetValue(opts.Values[i])
		if initField(i) >= fieldContemporary {
			in.Placeholder = txtFolderHint
		}
		m.inputs[i] = in
	}
	m.inputs[fieldServer].Focus()

	m.spinner = spinner.New()
	m.spinner.Spinner = spinner.Dot
	m.spinner.Style = cyan
	return m
}

func (m initModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick)
}

func (m initModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			return m, tea.Quit
		case tea.KeyEsc:
			if m.focus == fieldServer {
				return m, tea.Quit
			}
			return m.moveFocus(m.focus - 1)
		case tea.KeyEnter:
			if m.isLoading {
				return m, nil
			}
			return m.next()
		}

		if m.isLoading {
			return m, nil
		}
		m.errorMessage = ""
		var cmd tea.Cmd
		m.inputs[m.focus], cmd = m.inputs[m.focus].Update(msg)
		return m, cmd

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case submitDoneMsg:
		m.isLoading = false
		if msg.err != nil {
			m.errorMessage = fmt.Sprintf("%s %s", errorHeaderStyle.Render("ERROR:"), msg.err)
			return m.moveFocus(fieldServer)
		}
		m.done = true
		return m, tea.Quit
	}

	return m, nil
}

func (m initModel) moveFocus(f initField) (tea.Model, tea.Cmd) {
	m.inputs[m.focus].Blur()
	m.focus = f
	m.inputs[m.focus].Focus()
	return m, textinput.Blink
}

func (m initModel) next() (tea.Model, tea.Cmd) {
	if m.focus == fieldUser && strings.TrimSpace(m.inputs[fieldUser].Value()) == "" {
		m.errorMessage = txtUserMissing
		return m, nil
	}
	if m.focus < fieldCount-1 {
		return m.moveFocus(m.focus + 1)
	}

	m.inputs[m.focus].Blur()
	m.isLoading = true
	values := m.values()
	submit := m.opts.Submit
	return m, func() tea.Msg {
		return submitDoneMsg{err: submit(values)}
	}
}

func (m initModel) values() [fieldCount]string {
	var v [fieldCount]string
	for i, in := range m.inputs {
		v[i] = strings.TrimSpace(in.Value())
	}
	return v
}

func (m initModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(txtInitTitle))
	b.WriteString("\n")
	fmt.Fprintf(&b, "%s%s\n\n", gray.Render("Config  "), green.Render(m.opts.ConfigPath))

	for i, in := range m.inputs {
		label := fieldLabels[i]
		if initField(i) == m.focus {
			label = bold.Render(label)
		}
		fmt.Fprintf(&b, "%s\n%s\n\n", label, in.View())
	}

	if m.isLoading {
		fmt.Fprintf(&b, "%s %s\n\n", m.spinner.View(), txtChecking)
	}
	if m.errorMessage != "" {
		b.WriteString(errorTextStyle.Render(m.errorMessage))
		b.WriteString("\n\n")
	}
	b.WriteString(helpStyle.Render(txtInitHelp))
	b.WriteString("\n")
	return b.String()
}

// RunInitTUI shows the setup form until Submit accepts the answers or the user quits
func RunInitTUI(opts InitTUIOpts) error {
	model, err := tea.NewProgram(newInitModel(&opts)).Run()
	if err != nil {
		return fmt.Errorf("setup form: %w", err)
	}
	if fm, ok := model.(initModel); !ok || !fm.done {
		return fmt.Errorf("setup cancelled")
	}
	return nil
}
