package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/hackscore/internal/api"
	"github.com/mattjoyce/hackscore/internal/events"
)

const (
	pollInterval   = 5 * time.Second
	reconnectDelay = 3 * time.Second
	eventLogSize   = 50
)

// Model is the BubbleTea model for the monitor.
type Model struct {
	client *Client

	width  int
	height int

	health   HealthState
	board    *Board
	eventLog []events.Event
	lastID   int64

	ticker  Ticker
	spinner Spinner
	theme   Theme

	jobTable  table.Model
	hubEvents chan events.Event

	lastError string
	now       func() time.Time
}

// NewMonitor creates a monitor for the API at apiURL.
func NewMonitor(apiURL, apiKey string) *Model {
	return &Model{
		client:    NewClient(apiURL, apiKey),
		board:     NewBoard(),
		ticker:    NewTicker(),
		theme:     NewDefaultTheme(),
		jobTable:  newJobTable(),
		hubEvents: make(chan events.Event, 100),
		now:       time.Now,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribeToEvents(m.client, 0, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		fetchHealth(m.client),
		fetchQueue(m.client),
		tick(),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.jobTable.SetWidth(m.width - 6)
		m.jobTable.SetHeight(max(5, m.height/2-6))

	case tickMsg:
		m.ticker.Tick()
		m.spinner.Decay(time.Time(msg))
		m.refreshTable()
		return m, tick()

	case eventMsg:
		e := events.Event(msg)
		now := m.now()
		if e.ID > m.lastID {
			m.lastID = e.ID
		}

		m.eventLog = append([]events.Event{e}, m.eventLog...)
		if len(m.eventLog) > eventLogSize {
			m.eventLog = m.eventLog[:eventLogSize]
		}
		m.spinner.OnEvent(now)
		m.board.Apply(e, now)
		m.health.Connected = true
		m.lastError = ""
		m.refreshTable()
		return m, receiveNextEvent(m.hubEvents)

	case healthMsg:
		m.health.Status = msg.Status
		m.health.UptimeSeconds = msg.UptimeSeconds
		m.health.Pending = msg.Pending
		m.health.Active = msg.Active
		m.health.MaxConcurrent = msg.MaxConcurrent
		m.health.Connected = true
		m.health.LastCheck = m.now()
		m.lastError = ""
		return m, tea.Tick(pollInterval, func(time.Time) tea.Msg { return fetchHealth(m.client)() })

	case queueMsg:
		m.board.Sync(api.QueueStatusResponse(msg), m.now())
		m.refreshTable()
		return m, tea.Tick(pollInterval, func(time.Time) tea.Msg { return fetchQueue(m.client)() })

	case sseDisconnectedMsg:
		m.health.Connected = false
		m.lastError = "event stream disconnected, reconnecting..."
		if msg.err != nil {
			m.lastError = fmt.Sprintf("event stream: %v, reconnecting...", msg.err)
		}
		return m, tea.Tick(reconnectDelay, func(time.Time) tea.Msg { return reconnectMsg{} })

	case reconnectMsg:
		// The pending receiveNextEvent still reads from hubEvents.
		return m, subscribeToEvents(m.client, m.lastID, m.hubEvents)

	case errMsg:
		m.lastError = msg.Error()
		return m, tea.Tick(pollInterval, func(time.Time) tea.Msg { return fetchHealth(m.client)() })
	}

	var cmd tea.Cmd
	m.jobTable, cmd = m.jobTable.Update(msg)
	return m, cmd
}

func (m *Model) refreshTable() {
	m.jobTable.SetRows(jobRows(m.board.Jobs(), m.theme, m.now()))
}

func (m Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}
	now := m.now()

	header := renderHeader(m.health, m.ticker, m.spinner, m.theme, m.width, now)
	jobs := m.theme.Border.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			m.theme.Title.Render("SUBMISSIONS"),
			m.jobTable.View(),
		),
	)
	eventStream := renderEventStream(m.eventLog, m.theme, m.width)

	parts := []string{header, jobs, eventStream}
	if m.lastError != "" {
		parts = append(parts, m.theme.StatusFailed.Render(" ⚠ "+m.lastError))
	}
	parts = append(parts, lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render(" [q] Quit • [↑/↓] Scroll"))

	return lipgloss.NewStyle().Margin(1, 2).Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}
