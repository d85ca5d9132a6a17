package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/urfave/cli/v3"
	"go.bytecodealliance.org/wit"
	"golang.org/x/term"

	"github.com/wippyai/unity-host/message"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	funcStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	typeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

var consoleCmd = &cli.Command{
	Name:   "console",
	Usage:  "Interactive console for sending messages to the engine",
	Flags:  []cli.Flag{configFlag},
	Action: consoleAction,
}

func consoleAction(ctx context.Context, cmd *cli.Command) error {
	if !term.IsTerminal(int(os.Stdin.Fd())) || !term.IsTerminal(int(os.Stdout.Fd())) {
		return fmt.Errorf("console needs a terminal; use the send command instead")
	}
	cfg, err := loadConfig(cmd.String("config"))
	if err != nil {
		return err
	}
	// the TUI owns the terminal; keep engine output off it
	cfg.Log.Level = "error"
	h, err := newHost(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = h.Close(context.Background()) }()

	m := newConsoleModel(ctx, h.loader, cfg.Engine.Path)
	_, err = tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	return err
}

// argType is one argument shape the engine accepts, named by its WIT type.
// A nil Type sends no argument.
type argType struct {
	Type wit.Type
	name string
}

var argTypes = []argType{
	{name: "none"},
	{name: "string", Type: wit.String{}},
	{name: "f64", Type: wit.F64{}},
}

// convertArg builds the argument for the selected type.
func convertArg(value string, t wit.Type) (message.Argument, error) {
	switch t.(type) {
	case nil:
		return message.None(), nil
	case wit.String:
		return message.Text(value), nil
	case wit.F64:
		v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return message.Argument{}, fmt.Errorf("%q is not an f64", value)
		}
		return message.Number(v), nil
	default:
		return message.Argument{}, fmt.Errorf("unsupported argument type %T", t)
	}
}

// sender is the part of the loader the console drives.
type sender interface {
	Initialize(ctx context.Context) error
	SendMessage(ctx context.Context, target, method string, arg message.Argument) error
}

type consoleModel struct {
	ctx      context.Context
	l        sender
	err      error
	engine   string
	history  []historyEntry
	inputs   []textinput.Model
	focusIdx int
	typeIdx  int
	ready    bool
	sending  bool
}

type historyEntry struct {
	err  error
	call string
}

const (
	fieldTarget = iota
	fieldMethod
	fieldArg
)

const maxHistory = 10

type readyMsg struct{ err error }

type sentMsg struct {
	err  error
	call string
}

func newConsoleModel(ctx context.Context, l sender, engine string) *consoleModel {
	prompts := []string{"target: ", "method: ", "arg:    "}
	placeholders := []string{"GameObject name", "method name", "value"}
	inputs := make([]textinput.Model, len(prompts))
	for i := range inputs {
		ti := textinput.New()
		ti.Prompt = prompts[i]
		ti.Placeholder = placeholders[i]
		ti.Width = 40
		inputs[i] = ti
	}
	inputs[fieldTarget].Focus()
	return &consoleModel{ctx: ctx, l: l, engine: engine, inputs: inputs}
}

func (m *consoleModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.initialize)
}

func (m *consoleModel) initialize() tea.Msg {
	return readyMsg{err: m.l.Initialize(m.ctx)}
}

func (m *consoleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit

		case "tab", "down":
			m.focus((m.focusIdx + 1) % len(m.inputs))
			return m, nil

		case "shift+tab", "up":
			m.focus((m.focusIdx + len(m.inputs) - 1) % len(m.inputs))
			return m, nil

		case "ctrl+t":
			m.typeIdx = (m.typeIdx + 1) % len(argTypes)
			return m, nil

		case "enter":
			if !m.ready || m.sending {
				return m, nil
			}
			cmd, err := m.send()
			if err != nil {
				m.record(historyEntry{err: err})
				return m, nil
			}
			m.sending = true
			return m, cmd
		}

	case readyMsg:
		m.err = msg.err
		m.ready = msg.err == nil
		return m, nil

	case sentMsg:
		m.sending = false
		m.record(historyEntry{call: msg.call, err: msg.err})
		return m, nil
	}

	var cmd tea.Cmd
	m.inputs[m.focusIdx], cmd = m.inputs[m.focusIdx].Update(msg)
	return m, cmd
}

func (m *consoleModel) focus(i int) {
	m.inputs[m.focusIdx].Blur()
	m.focusIdx = i
	m.inputs[m.focusIdx].Focus()
}

func (m *consoleModel) record(e historyEntry) {
	m.history = append(m.history, e)
	if len(m.history) > maxHistory {
		m.history = m.history[len(m.history)-maxHistory:]
	}
}

// send validates the form and returns the command that dispatches it.
func (m *consoleModel) send() (tea.Cmd, error) {
	target := strings.TrimSpace(m.inputs[fieldTarget].Value())
	method := strings.TrimSpace(m.inputs[fieldMethod].Value())
	if target == "" || method == "" {
		return nil, fmt.Errorf("target and method are required")
	}
	arg, err := convertArg(m.inputs[fieldArg].Value(), argTypes[m.typeIdx].Type)
	if err != nil {
		return nil, err
	}
	call := fmt.Sprintf("%s.%s(%s)", target, method, arg)
	ctx, l := m.ctx, m.l
	return func() tea.Msg {
		return sentMsg{call: call, err: l.SendMessage(ctx, target, method, arg)}
	}, nil
}

func (m *consoleModel) View() string {
	if m.err != nil {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress esc to quit.", m.err))
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Unity Host"))
	b.WriteString(" ")
	b.WriteString(m.engine)
	b.WriteString("\n\n")

	if !m.ready {
		b.WriteString("Starting engine...")
		return b.String()
	}

	for i, input := range m.inputs {
		b.WriteString(input.View())
		if i == fieldArg {
			b.WriteString(" ")
			b.WriteString(typeStyle.Render(argTypes[m.typeIdx].name))
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")

	for _, h := range m.history {
		switch {
		case h.err != nil && h.call != "":
			b.WriteString(funcStyle.Render(h.call) + " " + errorStyle.Render(h.err.Error()))
		case h.err != nil:
			b.WriteString(errorStyle.Render(h.err.Error()))
		default:
			b.WriteString(funcStyle.Render(h.call) + " " + resultStyle.Render("ok"))
		}
		b.WriteString("\n")
	}
	if len(m.history) > 0 {
		b.WriteString("\n")
	}

	b.WriteString(helpStyle.Render("tab next field • ctrl+t argument type • enter send • esc quit"))
	return b.String()
}
