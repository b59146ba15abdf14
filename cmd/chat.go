package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/mcpterminal/assistant/internal/aiprovider"
	"github.com/mcpterminal/assistant/internal/appctx"
	"github.com/mcpterminal/assistant/internal/eventbus"
	"github.com/mcpterminal/assistant/internal/models"
	"github.com/mcpterminal/assistant/internal/output"
	"github.com/mcpterminal/assistant/internal/requestctl"
	"github.com/spf13/cobra"
)

// ctrlCExitWindow is the window within which a second Ctrl-C exits the
// session.
const ctrlCExitWindow = 2 * time.Second

// maxVisibleLines bounds how much transcript chat.go keeps on screen; the
// full conversation still lives in LocalStore/RemoteStore regardless.
const maxVisibleLines = 200

var chatUser string
var chatDebug bool

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive question/answer session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(cmd)
	},
}

func init() {
	chatCmd.Flags().StringVar(&chatUser, "user", "", "username to scope this session to")
	chatCmd.Flags().BoolVar(&chatDebug, "debug", false, "enable verbose event logging")
}

func runChat(cmd *cobra.Command) error {
	ctx := context.Background()
	app, err := appctx.New(ctx, appctx.Options{Username: chatUser})
	if err != nil {
		return err
	}
	defer app.Close()
	app.Debug = app.Debug || chatDebug

	if cfg, ok := aiprovider.ConfigFromEnv(); ok {
		app.Controller.SetAI(aiprovider.NewHTTP(cfg))
	} else {
		app.Controller.SetAI(aiprovider.EchoProvider{})
	}

	m := newChatModel(app)
	program := tea.NewProgram(m)
	final, err := program.Run()
	if err != nil {
		return err
	}

	if fm, ok := final.(chatModel); ok && fm.interrupted {
		return errUserInterrupt
	}
	return nil
}

var (
	promptStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Bold(true)
	statusStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
	continuationSty = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	errorStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

// chatModel is the Bubble Tea model backing `chat`. Enter submits,
// a trailing backslash buffers a continuation line, ESC cancels an
// in-flight request (and clears the input on the tap that cancels, or on
// a second ESC within requestctl.DoubleTapWindow if nothing is active),
// and a second Ctrl-C within ctrlCExitWindow exits the session.
type chatModel struct {
	app       *appctx.App
	sessionID string

	input textinput.Model

	pendingLines []string
	transcript   []string

	cmdHistory []string
	histIdx    int

	events <-chan eventbus.Event
	unsub  func()

	activeRequestID string
	busy            bool

	lastEsc      time.Time
	ctrlCArmedAt time.Time

	quitting    bool
	interrupted bool
}

func newChatModel(app *appctx.App) chatModel {
	ti := textinput.New()
	ti.Placeholder = "ask a question"
	ti.Prompt = "> "
	ti.Focus()

	events, unsub := app.Bus.Subscribe()

	return chatModel{
		app:       app,
		sessionID: uuid.NewString(),
		input:     ti,
		histIdx:   -1,
		events:    events,
		unsub:     unsub,
	}
}

func (m chatModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, waitForEvent(m.events))
}

// askDoneMsg carries the result of Controller.Ask, which runs
// synchronously so it is dispatched from its own tea.Cmd to keep the UI
// responsive while the AI call is in flight.
type askDoneMsg struct {
	requestID string
	err       error
}

// busMsg wraps an eventbus.Event so it can travel through tea.Msg.
type busMsg eventbus.Event

func waitForEvent(ch <-chan eventbus.Event) tea.Cmd {
	return func() tea.Msg {
		e, ok := <-ch
		if !ok {
			return nil
		}
		return busMsg(e)
	}
}

func askCmd(app *appctx.App, sessionID, question string) tea.Cmd {
	return func() tea.Msg {
		requestID, err := app.Controller.Ask(context.Background(), sessionID, question)
		return askDoneMsg{requestID: requestID, err: err}
	}
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.input.Width = msg.Width - len(m.input.Prompt) - 1
		return m, nil

	case busMsg:
		m.applyEvent(eventbus.Event(msg))
		if m.quitting {
			return m, nil
		}
		return m, waitForEvent(m.events)

	case askDoneMsg:
		m.finishAsk(msg)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m chatModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	// Bracketed paste arrives as a single key message; route it straight
	// into the input so a pasted newline or "enter" text never submits.
	if msg.Paste {
		m.app.Bus.PasteDetected()
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "ctrl+c":
		return m.handleCtrlC()
	case "esc":
		return m.handleEsc()
	case "enter":
		return m.handleEnter()
	case "up":
		m.navigateHistory(-1)
		return m, nil
	case "down":
		m.navigateHistory(1)
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m chatModel) handleCtrlC() (tea.Model, tea.Cmd) {
	now := time.Now()
	if !m.ctrlCArmedAt.IsZero() && now.Sub(m.ctrlCArmedAt) <= ctrlCExitWindow {
		m.quitting = true
		m.interrupted = true
		if m.unsub != nil {
			m.unsub()
		}
		return m, tea.Quit
	}
	m.ctrlCArmedAt = now
	m.appendLine(statusStyle.Render("(press Ctrl-C again within 2s to exit)"))
	return m, nil
}

// handleEsc implements the clear-on-cancel resolution: a single ESC
// while a request is active both cancels it and clears the input; a
// single ESC with nothing active is a no-op, requiring a second ESC
// within requestctl.DoubleTapWindow to clear the unsubmitted input.
func (m chatModel) handleEsc() (tea.Model, tea.Cmd) {
	now := time.Now()
	if m.activeRequestID != "" {
		m.app.Controller.Cancel(m.activeRequestID)
		m.clearInput()
		m.lastEsc = time.Time{}
		return m, nil
	}

	if requestctl.IsDoubleTap(m.lastEsc, now) {
		m.clearInput()
		m.lastEsc = time.Time{}
	} else {
		m.lastEsc = now
	}
	return m, nil
}

func (m chatModel) handleEnter() (tea.Model, tea.Cmd) {
	line := m.input.Value()
	if strings.HasSuffix(line, `\`) {
		if len(m.pendingLines) == 0 {
			m.app.Bus.MultilineBegin()
		}
		m.pendingLines = append(m.pendingLines, strings.TrimSuffix(line, `\`))
		m.input.SetValue("")
		return m, nil
	}

	question := strings.Join(append(append([]string{}, m.pendingLines...), line), "\n")
	if len(m.pendingLines) > 0 {
		m.app.Bus.MultilineEnd()
	}
	m.pendingLines = nil
	m.input.SetValue("")
	m.histIdx = -1
	m.ctrlCArmedAt = time.Time{}

	trimmed := strings.TrimSpace(question)
	if trimmed == "" {
		return m, nil
	}
	if strings.HasPrefix(trimmed, "/") {
		return m.handleMeta(trimmed)
	}

	m.cmdHistory = append(m.cmdHistory, question)
	m.busy = true
	m.appendLine(promptStyle.Render("you: ") + question)
	return m, askCmd(m.app, m.sessionID, question)
}

func (m *chatModel) navigateHistory(dir int) {
	if len(m.cmdHistory) == 0 {
		return
	}
	if m.histIdx == -1 {
		m.histIdx = len(m.cmdHistory)
	}
	m.histIdx += dir
	if m.histIdx < 0 {
		m.histIdx = 0
	}
	if m.histIdx >= len(m.cmdHistory) {
		m.histIdx = len(m.cmdHistory)
		m.input.SetValue("")
		return
	}
	m.input.SetValue(m.cmdHistory[m.histIdx])
	m.input.CursorEnd()
}

func (m chatModel) handleMeta(cmd string) (tea.Model, tea.Cmd) {
	switch cmd {
	case "/help":
		m.appendLine(helpText)
	case "/clear":
		m.transcript = nil
	case "/history":
		m.showRecentHistory()
	case "/status":
		m.showStatus()
	case "/exit":
		m.quitting = true
		if m.unsub != nil {
			m.unsub()
		}
		return m, tea.Quit
	default:
		m.appendLine(errorStyle.Render("unknown command: " + cmd))
	}
	return m, nil
}

const helpText = `commands:
  /help     show this message
  /clear    clear the visible transcript
  /history  show recent recorded questions and answers
  /status   show the current session status
  /exit     leave the session
keys:
  Enter        submit (trailing \ continues on the next line)
  Esc          cancel an in-flight request, or clear the input on a second tap
  Ctrl-C       press twice within 2s to exit
  Up/Down      browse this session's question history`

func (m *chatModel) showRecentHistory() {
	ctx := context.Background()
	filter := models.HistoryFilter{}
	if m.app.User != nil {
		filter.UserID = &m.app.User.ID
	}
	filter.MachineID = &m.app.Machine.MachineID

	entries, err := m.app.HistoryView.Get(ctx, filter, 10, 0)
	if err != nil {
		m.appendLine(errorStyle.Render(fmt.Sprintf("history: %v", err)))
		return
	}
	if len(entries) == 0 {
		m.appendLine(statusStyle.Render("(no history)"))
		return
	}
	for _, e := range entries {
		response := "(pending)"
		if e.Response != nil {
			response = *e.Response
		}
		m.appendLine(fmt.Sprintf("[%s] %s\n  Q: %s\n  A: %s",
			e.Timestamp.Format("2006-01-02 15:04:05"), e.Status, e.Command, response))
	}
}

func (m *chatModel) showStatus() {
	status := "idle"
	if m.busy {
		status = "processing (" + m.activeRequestID + ")"
	}
	m.appendLine(statusStyle.Render(fmt.Sprintf("session=%s status=%s", m.sessionID, status)))
}

func (m *chatModel) finishAsk(msg askDoneMsg) {
	m.busy = false
	if msg.err != nil {
		m.appendLine(errorStyle.Render(fmt.Sprintf("error: %v", msg.err)))
		return
	}

	entry, err := m.app.Local.GetByRequestID(context.Background(), msg.requestID)
	if err != nil {
		m.appendLine(errorStyle.Render(fmt.Sprintf("error: %v", err)))
		return
	}
	if entry == nil || entry.Response == nil {
		return
	}
	if entry.Status == models.StatusCancelled {
		m.appendLine(statusStyle.Render(*entry.Response))
		return
	}
	m.appendLine("assistant: " + output.RenderAnswer(*entry.Response))
}

// applyEvent folds a bus event into model state. The active request is
// tracked off KindStatusChange's "pending" payload since Ask itself only
// returns the request_id once the whole synchronous call finishes.
func (m *chatModel) applyEvent(e eventbus.Event) {
	switch e.Kind {
	case eventbus.KindStatusChange:
		switch models.Status(e.Status) {
		case models.StatusPending:
			m.activeRequestID = e.RequestID
			m.busy = true
		case models.StatusProcessing:
		default:
			if e.RequestID == m.activeRequestID {
				m.activeRequestID = ""
			}
		}
	case eventbus.KindError:
		if m.app.Debug {
			m.appendLine(errorStyle.Render(fmt.Sprintf("[%s] %s", e.ErrKind, e.Message)))
		}
	}
}

func (m *chatModel) appendLine(s string) {
	m.transcript = append(m.transcript, s)
}

func (m *chatModel) clearInput() {
	m.input.SetValue("")
	m.pendingLines = nil
}

func (m chatModel) View() string {
	var b strings.Builder

	start := 0
	if len(m.transcript) > maxVisibleLines {
		start = len(m.transcript) - maxVisibleLines
	}
	for _, line := range m.transcript[start:] {
		b.WriteString(line)
		b.WriteString("\n")
	}

	status := "idle"
	if m.busy {
		status = "processing"
	}
	b.WriteString(statusStyle.Render(status))
	b.WriteString("\n")

	if len(m.pendingLines) > 0 {
		b.WriteString(continuationSty.Render(strings.Join(m.pendingLines, "\n")))
		b.WriteString("\n")
	}
	b.WriteString(m.input.View())
	return b.String()
}
