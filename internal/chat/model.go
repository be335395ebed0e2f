package chat

import (
	"context"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"labagent/internal/agent"
	"labagent/internal/engine"
	"labagent/internal/ui"
)

// eventMsg carries one event from a turn; ok is false once its channel is
// closed. Messages from a stopped turn are ignored.
type eventMsg struct {
	ch <-chan agent.Event
	ev agent.Event
	ok bool
}

type toolsMsg struct {
	output string
}

type chatModel struct {
	ctx    context.Context
	runner Runner
	opts   Options

	viewport  viewport.Model
	textInput textinput.Model
	spinner   spinner.Model

	history  []agent.Turn
	messages []string
	banner   []string

	// The turn in flight.
	events  <-chan agent.Event
	cancel  context.CancelFunc
	reply   strings.Builder
	status  string
	running bool

	ready  bool
	width  int
	height int
}

func newModel(ctx context.Context, runner Runner, opts Options) *chatModel {
	ti := textinput.New()
	ti.Placeholder = "Ask about lab results or type /help..."
	ti.Focus()
	ti.CharLimit = 2000
	ti.Width = 80

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(ui.ClrBrand)

	msgs := banner(opts)
	return &chatModel{
		ctx:       ctx,
		runner:    runner,
		opts:      opts,
		textInput: ti,
		spinner:   s,
		messages:  msgs,
		banner:    append([]string(nil), msgs...),
	}
}

func (m *chatModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick)
}

func (m *chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			m.stop()
			return m, tea.Quit
		case tea.KeyEsc:
			if m.running {
				m.stop()
				m.finishReply(ui.Dim("(stopped)"))
				return m, nil
			}
			return m, tea.Quit
		case tea.KeyEnter:
			if m.running {
				return m, nil
			}
			input := strings.TrimSpace(m.textInput.Value())
			m.textInput.SetValue("")
			if input == "" {
				return m, nil
			}
			return m, m.submit(input)
		}

	case tea.WindowSizeMsg:
		m.applyWindowSize(msg.Width, msg.Height)

	case eventMsg:
		if msg.ch != m.events {
			return m, nil
		}
		if !msg.ok {
			if m.running {
				m.finishReply("")
			}
			return m, nil
		}
		m.apply(msg.ev)
		if msg.ev.Terminal() {
			return m, nil
		}
		return m, m.next()

	case toolsMsg:
		m.push(msg.output)
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.textInput, cmd = m.textInput.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// submit handles one line of input: a slash command or a question.
func (m *chatModel) submit(input string) tea.Cmd {
	switch strings.ToLower(input) {
	case "/quit", "/exit":
		return tea.Quit
	case "/help":
		m.push(formatHelp())
		return nil
	case "/clear":
		m.history = nil
		m.messages = append([]string(nil), m.banner...)
		m.refresh()
		return nil
	case "/tools":
		if m.opts.Tools == nil {
			m.push(ui.Dim("(no tool server configured)"))
			return nil
		}
		tools := m.opts.Tools
		ctx := m.ctx
		return func() tea.Msg { return toolsMsg{output: formatTools(tools(ctx))} }
	}

	m.push(ui.Prompt("you") + input)
	m.history = append(m.history, agent.Turn{Role: engine.RoleUser, Content: input})

	req := agent.Request{Turns: append([]agent.Turn(nil), m.history...)}
	if m.opts.Request != nil {
		req = m.opts.Request(req.Turns)
	}
	ctx, cancel := context.WithCancel(m.ctx)
	m.cancel = cancel
	m.events = m.runner.Run(ctx, req)
	m.running = true
	m.reply.Reset()
	m.status = ""
	m.refresh()
	return tea.Batch(m.next(), m.spinner.Tick)
}

func (m *chatModel) next() tea.Cmd {
	ch := m.events
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		ev, ok := <-ch
		return eventMsg{ch: ch, ev: ev, ok: ok}
	}
}

// apply folds one event into the transcript.
func (m *chatModel) apply(ev agent.Event) {
	switch ev.Kind {
	case agent.KindToken:
		m.status = ""
		m.reply.WriteString(ev.Text)
	case agent.KindStatus:
		m.status = ev.Text
	case agent.KindToolCall:
		if ev.Tool != nil {
			m.messages = append(m.messages, ui.ToolCall(ev.Tool.Name, ev.Tool.Args))
		}
	case agent.KindDone:
		m.finishReply("")
		return
	case agent.KindError:
		m.finishReply(ui.Error(ev.Text))
		return
	}
	m.refresh()
}

// finishReply closes the turn in flight and records what the user saw.
func (m *chatModel) finishReply(note string) {
	text := strings.TrimSpace(m.reply.String())
	if text != "" {
		m.messages = append(m.messages, ui.Prompt("agent")+text)
		m.history = append(m.history, agent.Turn{Role: engine.RoleAssistant, Content: text})
	}
	if note != "" {
		m.messages = append(m.messages, note)
	}
	m.reply.Reset()
	m.status = ""
	m.running = false
	m.events = nil
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.refresh()
}

func (m *chatModel) stop() {
	if m.cancel != nil {
		m.cancel()
	}
}

func (m *chatModel) push(line string) {
	m.messages = append(m.messages, line)
	m.refresh()
}

func (m *chatModel) transcript() string {
	parts := append([]string(nil), m.messages...)
	if m.running && m.reply.Len() > 0 {
		parts = append(parts, ui.Prompt("agent")+m.reply.String())
	}
	return strings.Join(parts, "\n\n")
}

func (m *chatModel) refresh() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.transcript())
	m.viewport.GotoBottom()
}

func (m *chatModel) View() string {
	if !m.ready {
		return "\n  Initializing..."
	}
	var b strings.Builder
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	switch {
	case m.running && m.status != "":
		b.WriteString(m.spinner.View() + " " + ui.Status(m.status))
	case m.running:
		b.WriteString(m.spinner.View() + " ")
	default:
		b.WriteString(ui.Prompt("you"))
		b.WriteString(m.textInput.View())
	}
	b.WriteString("\n")
	b.WriteString(ui.Dim("/help  esc stop  ctrl+c quit"))
	return b.String()
}

func (m *chatModel) applyWindowSize(width, height int) {
	if width <= 0 || height <= 0 {
		return
	}
	m.width = width
	m.height = height
	m.textInput.Width = max(width-8, 1)

	// input row + hint row
	vpHeight := max(height-2, 1)
	vpWidth := max(width-2, 1)
	if !m.ready {
		m.viewport = viewport.New(vpWidth, vpHeight)
		m.ready = true
		m.refresh()
		return
	}
	m.viewport.Width = vpWidth
	m.viewport.Height = vpHeight
}
