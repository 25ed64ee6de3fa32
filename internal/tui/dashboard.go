// dashboard.go renders the live hub dashboard: sessions on top, pending
// input requests below, and an inline respond prompt.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/agentflow-dev/sessionbus/internal/client"
	"github.com/agentflow-dev/sessionbus/internal/hub"
	"github.com/agentflow-dev/sessionbus/internal/notify"
)

// staleAfter is how long without a heartbeat before a session is flagged.
const staleAfter = 2 * time.Minute

// refreshInterval is the fallback poll when no events arrive.
const refreshInterval = 10 * time.Second

// callTimeout bounds every hub call issued from the dashboard.
const callTimeout = 10 * time.Second

// ============================================================================
// Messages
// ============================================================================

type sessionsMsg struct {
	sessions []hub.SessionSummary
	err      error
}

type requestsMsg struct {
	requests []hub.InputRequest
	err      error
}

type streamMsg struct {
	events <-chan notify.Event
	cancel context.CancelFunc
	err    error
}

type eventMsg struct {
	event notify.Event
	ok    bool
}

type respondedMsg struct {
	request *hub.InputRequest
	err     error
}

type tickMsg time.Time

// ============================================================================
// RequestItem
// ============================================================================

// RequestItem implements list.Item for the pending request list.
type RequestItem struct {
	request hub.InputRequest
}

// Title returns the priority-tagged request title for list display.
func (i RequestItem) Title() string {
	title := i.request.Title
	if i.request.Priority == hub.PriorityUrgent {
		title = UrgentStyle.Render("[URGENT] ") + title
	}
	return title
}

// Description returns the question and asking session for list display.
func (i RequestItem) Description() string {
	question := i.request.Question
	if len(question) > 70 {
		question = question[:67] + "..."
	}
	return fmt.Sprintf("%s  (%s)", question, i.request.SessionID)
}

// FilterValue returns the value used for filtering in the list.
func (i RequestItem) FilterValue() string {
	return i.request.Title
}

// ============================================================================
// Dashboard
// ============================================================================

// dashboard modes.
const (
	modeBrowse = iota
	modeRespond
)

// Dashboard is the top-level dashboard model.
type Dashboard struct {
	client *client.Client

	sessions    []hub.SessionSummary
	requestList list.Model
	input       textinput.Model
	events      <-chan notify.Event
	cancelEvts  context.CancelFunc

	mode     int
	active   *hub.InputRequest
	status   string
	lastErr  string
	width    int
	height   int
	quitting bool
}

// NewDashboard creates a dashboard backed by the given hub client.
func NewDashboard(c *client.Client) *Dashboard {
	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	delegate.Styles.SelectedTitle = delegate.Styles.SelectedTitle.
		Foreground(lipgloss.Color(primaryColor)).
		BorderForeground(lipgloss.Color(primaryColor))
	delegate.Styles.SelectedDesc = delegate.Styles.SelectedDesc.
		Foreground(lipgloss.Color(dimColor))

	l := list.New(nil, delegate, 80, 12)
	l.Title = "Pending Requests"
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(true)
	l.SetShowHelp(false)

	input := textinput.New()
	input.Placeholder = "type a response and press enter"
	input.CharLimit = 2000

	return &Dashboard{
		client:      c,
		requestList: l,
		input:       input,
	}
}

// Init loads the initial data and opens the event stream.
func (m *Dashboard) Init() tea.Cmd {
	return tea.Batch(
		m.loadSessionsCmd(),
		m.loadRequestsCmd(),
		m.openStreamCmd(),
		tickCmd(),
	)
}

// Update handles messages.
func (m *Dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case KeyCtrlC:
			m.quitting = true
			if m.cancelEvts != nil {
				m.cancelEvts()
			}
			return m, tea.Quit

		case KeyEnter:
			if m.mode == modeBrowse {
				if item, ok := m.requestList.SelectedItem().(RequestItem); ok {
					req := item.request
					m.active = &req
					m.mode = modeRespond
					m.input.SetValue("")
					m.input.Focus()
					return m, textinput.Blink
				}
				return m, nil
			}
			// Respond mode: submit the answer.
			text := strings.TrimSpace(m.input.Value())
			if text == "" || m.active == nil {
				return m, nil
			}
			req := m.active
			m.mode = modeBrowse
			m.active = nil
			m.input.Blur()
			return m, m.respondCmd(req.ID, text)

		case KeyEsc:
			if m.mode == modeRespond {
				m.mode = modeBrowse
				m.active = nil
				m.input.Blur()
				return m, nil
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		listHeight := m.height - len(m.sessions) - 12
		if listHeight < 5 {
			listHeight = 5
		}
		m.requestList.SetSize(m.width-6, listHeight)
		return m, nil

	case sessionsMsg:
		if msg.err != nil {
			m.lastErr = msg.err.Error()
		} else {
			m.sessions = msg.sessions
			m.lastErr = ""
		}
		return m, nil

	case requestsMsg:
		if msg.err != nil {
			m.lastErr = msg.err.Error()
			return m, nil
		}
		items := make([]list.Item, len(msg.requests))
		for i, r := range msg.requests {
			items[i] = RequestItem{request: r}
		}
		m.requestList.SetItems(items)
		m.lastErr = ""
		return m, nil

	case streamMsg:
		if msg.err != nil {
			// The periodic tick keeps the view fresh without the stream.
			m.lastErr = msg.err.Error()
			return m, nil
		}
		m.events = msg.events
		m.cancelEvts = msg.cancel
		return m, m.waitForEventCmd()

	case eventMsg:
		if !msg.ok {
			m.events = nil
			return m, nil
		}
		cmds = append(cmds, m.waitForEventCmd())
		switch msg.event.Name {
		case notify.EventRequestCreated, notify.EventRequestAnswered:
			cmds = append(cmds, m.loadRequestsCmd(), m.loadSessionsCmd())
		default:
			cmds = append(cmds, m.loadSessionsCmd())
		}
		return m, tea.Batch(cmds...)

	case respondedMsg:
		if msg.err != nil {
			m.lastErr = msg.err.Error()
			return m, nil
		}
		m.status = fmt.Sprintf("answered %s: %s", msg.request.ID, msg.request.ResponseText)
		return m, tea.Batch(m.loadRequestsCmd(), m.loadSessionsCmd())

	case tickMsg:
		return m, tea.Batch(tickCmd(), m.loadSessionsCmd(), m.loadRequestsCmd())
	}

	var cmd tea.Cmd
	if m.mode == modeRespond {
		m.input, cmd = m.input.Update(msg)
	} else {
		m.requestList, cmd = m.requestList.Update(msg)
	}
	return m, cmd
}

// View renders the dashboard.
func (m *Dashboard) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Sessionbus"))
	b.WriteString(DimStyle.Render("  " + m.client.BaseURL()))
	b.WriteString("\n\n")

	b.WriteString(m.renderSessions())
	b.WriteString("\n")

	if m.mode == modeRespond && m.active != nil {
		b.WriteString(m.renderRespond())
	} else {
		b.WriteString(m.requestList.View())
	}
	b.WriteString("\n")

	if m.lastErr != "" {
		b.WriteString(ErrorStyle.Render(m.lastErr))
		b.WriteString("\n")
	} else if m.status != "" {
		b.WriteString(SuccessStyle.Render(m.status))
		b.WriteString("\n")
	}
	b.WriteString(m.renderFooter())
	return b.String()
}

func (m *Dashboard) renderSessions() string {
	if len(m.sessions) == 0 {
		return PaneStyle.Render(DimStyle.Render("No sessions registered"))
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("%-22s %-18s %-8s %s\n", "SESSION", "STATE", "PENDING", "HEARTBEAT"))
	now := time.Now()
	for _, s := range m.sessions {
		name := s.DisplayName
		if len(name) > 20 {
			name = name[:17] + "..."
		}
		heartbeat := formatSince(now.Sub(s.LastHeartbeatAt))
		if now.Sub(s.LastHeartbeatAt) > staleAfter {
			heartbeat = UrgentStyle.Render(heartbeat + " stale")
		}
		line := fmt.Sprintf("%-22s %-18s %-8d %s", name, s.State, s.PendingRequests, heartbeat)
		if s.State == hub.StateWaitingForInput {
			line = UrgentStyle.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return PaneStyle.Render(strings.TrimRight(b.String(), "\n"))
}

func (m *Dashboard) renderRespond() string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render(m.active.Title))
	b.WriteString("\n")
	b.WriteString(m.active.Question)
	b.WriteString("\n\n")
	b.WriteString(m.input.View())
	return PaneStyle.Render(b.String())
}

func (m *Dashboard) renderFooter() string {
	if m.mode == modeRespond {
		return DimStyle.Render("Enter: Send response · Esc: Cancel · Ctrl+C: Exit")
	}
	return DimStyle.Render("Enter: Respond to selected · /: Filter · Ctrl+C: Exit")
}

// ============================================================================
// Commands
// ============================================================================

func (m *Dashboard) loadSessionsCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()
		sessions, err := m.client.ListSessions(ctx)
		return sessionsMsg{sessions: sessions, err: err}
	}
}

func (m *Dashboard) loadRequestsCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()
		requests, err := m.client.ListRequests(ctx, string(hub.RequestPending))
		return requestsMsg{requests: requests, err: err}
	}
}

func (m *Dashboard) openStreamCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithCancel(context.Background())
		events, err := m.client.Events(ctx)
		if err != nil {
			cancel()
			return streamMsg{err: err}
		}
		return streamMsg{events: events, cancel: cancel}
	}
}

func (m *Dashboard) waitForEventCmd() tea.Cmd {
	events := m.events
	return func() tea.Msg {
		ev, ok := <-events
		return eventMsg{event: ev, ok: ok}
	}
}

func (m *Dashboard) respondCmd(requestID, text string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()
		req, err := m.client.Respond(ctx, requestID, client.RespondInput{
			ResponseText: text,
			Responder:    "dashboard",
		})
		return respondedMsg{request: req, err: err}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func formatSince(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	return fmt.Sprintf("%dh", int(d.Hours()))
}
