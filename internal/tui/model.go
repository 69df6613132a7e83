// Package tui is a terminal chat console for the bridge.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/flynn-ai/kgbridge/internal/agent"
	"github.com/flynn-ai/kgbridge/internal/bridge"
	apperrors "github.com/flynn-ai/kgbridge/internal/errors"
)

// Asker is the orchestrator as seen by the console.
type Asker interface {
	AskWithEvents(ctx context.Context, question string, cb agent.EventCallback) (*agent.Answer, error)
}

// Snapshotter reports what is currently loaded.
type Snapshotter interface {
	Snapshot() *bridge.Snapshot
}

type (
	eventMsg  agent.Event
	answerMsg struct {
		ans *agent.Answer
		err error
	}
)

type turn struct {
	question string
	answer   string
	calls    []string
	failed   bool
}

// Model is the Bubble Tea model of the console.
type Model struct {
	ctx    context.Context
	asker  Asker
	snaps  Snapshotter
	input  textinput.Model
	view   viewport.Model
	spin   spinner.Model
	events chan agent.Event

	turns   []turn
	busy    bool
	state   agent.State
	ready   bool
	width   int
	verbose bool
}

// New creates the console. ctx bounds every question asked from it.
func New(ctx context.Context, asker Asker, snaps Snapshotter) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask about the loaded ontology and press Enter"
	ti.CharLimit = 0
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = stateStyle

	return Model{
		ctx:   ctx,
		asker: asker,
		snaps: snaps,
		input: ti,
		view:  viewport.New(0, 0),
		spin:  sp,
	}
}

// Init starts the cursor blinking.
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles keys, window size and orchestrator progress.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		m.width = msg.Width
		_, frame := transcriptStyle.GetFrameSize()
		m.view.Width = max(20, msg.Width-2)
		m.view.Height = max(3, msg.Height-frame-5)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyCtrlD, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyCtrlT:
			m.verbose = !m.verbose
			m.refresh()
			return m, nil
		case tea.KeyEnter:
			if m.busy {
				return m, nil
			}
			q := strings.TrimSpace(m.input.Value())
			if q == "" {
				return m, nil
			}
			m.input.Reset()
			m.turns = append(m.turns, turn{question: q})
			m.busy = true
			m.state = agent.StateAwaitQuestion
			m.events = make(chan agent.Event, 16)
			m.refresh()
			return m, tea.Batch(m.ask(q), m.waitForEvent(), m.spin.Tick)
		}

	case eventMsg:
		m.state = msg.State
		if msg.ToolName != "" {
			mark := "ok"
			if !msg.Success {
				mark = "failed"
			}
			last := &m.turns[len(m.turns)-1]
			last.calls = append(last.calls, fmt.Sprintf("%s (%s)", msg.ToolName, mark))
			m.refresh()
		}
		return m, m.waitForEvent()

	case answerMsg:
		m.busy = false
		m.events = nil
		last := &m.turns[len(m.turns)-1]
		if msg.err != nil {
			last.failed = true
			last.answer = apperrors.FormatUserMessage(msg.err)
		} else {
			last.answer = msg.ans.Text
		}
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		if !m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// ask runs the question off the update loop. Progress events are
// forwarded on m.events, which is closed when the answer is ready.
func (m Model) ask(q string) tea.Cmd {
	events := m.events
	return func() tea.Msg {
		ans, err := m.asker.AskWithEvents(m.ctx, q, func(e agent.Event) {
			if e.Done() {
				return
			}
			select {
			case events <- e:
			case <-m.ctx.Done():
			}
		})
		close(events)
		return answerMsg{ans: ans, err: err}
	}
}

func (m Model) waitForEvent() tea.Cmd {
	events := m.events
	return func() tea.Msg {
		e, ok := <-events
		if !ok {
			return nil
		}
		return eventMsg(e)
	}
}

// View renders header, transcript, input and status.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render("kgbridge"))
	b.WriteString("  ")
	b.WriteString(mutedStyle.Render(m.sourceLine()))
	b.WriteString("\n")
	b.WriteString(transcriptStyle.Render(m.view.View()))
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	if m.busy {
		b.WriteString(m.spin.View())
		b.WriteString(stateStyle.Render(" " + string(m.state)))
	} else {
		b.WriteString(mutedStyle.Render("enter: ask  ctrl+t: toggle tool calls  esc: quit"))
	}
	return b.String()
}

func (m Model) sourceLine() string {
	snap := m.snaps.Snapshot()
	if snap.Source == nil {
		return "no ontology loaded"
	}
	return fmt.Sprintf("%s  generation %d  tools: %s",
		snap.Source.Name, snap.Generation, strings.Join(snap.Tools.Names(), ", "))
}

func (m *Model) refresh() {
	m.view.SetContent(m.transcript())
	m.view.GotoBottom()
}

func (m Model) transcript() string {
	if len(m.turns) == 0 {
		return mutedStyle.Render("No questions yet.")
	}
	width := max(20, m.view.Width-2)
	var b strings.Builder
	for i, t := range m.turns {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(questionStyle.Render("you: "))
		b.WriteString(lipgloss.NewStyle().Width(width).Render(t.question))
		b.WriteString("\n")
		if m.verbose {
			for _, c := range t.calls {
				b.WriteString(mutedStyle.Render("  tool " + c))
				b.WriteString("\n")
			}
		}
		switch {
		case t.answer == "" && !t.failed:
			b.WriteString(mutedStyle.Render("..."))
		case t.failed:
			b.WriteString(errorStyle.Width(width).Render(t.answer))
		default:
			b.WriteString(lipgloss.NewStyle().Width(width).Render(t.answer))
		}
		b.WriteString("\n")
	}
	return b.String()
}

var (
	titleStyle      = lipgloss.NewStyle().Bold(true)
	mutedStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	questionStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	stateStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errorStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	transcriptStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)
