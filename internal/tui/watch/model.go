package watch

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/threadgate/internal/events"
	"github.com/mattjoyce/threadgate/internal/notify"
	"github.com/mattjoyce/threadgate/internal/plugin"
)

const maxRows = 200

// Stats aggregates what the stream has shown so far.
type Stats struct {
	Runs   int
	Exempt int
	Hidden int
	Routed int
}

// Model is the bubbletea model behind `threadgate watch`.
type Model struct {
	apiURL string
	token  string

	width, height int
	connected     bool
	uptime        int64
	lastError     string

	stats Stats
	rows  []table.Row
	table table.Model
	theme Theme

	records chan events.Record
}

// New creates a watch model for the API at apiURL.
func New(apiURL, token string) Model {
	theme := NewDefaultTheme()
	t := table.New(
		table.WithColumns(columns(80)),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	t.SetStyles(theme.Table)
	return Model{
		apiURL:  strings.TrimRight(apiURL, "/"),
		token:   token,
		table:   t,
		theme:   theme,
		records: make(chan events.Record, 128),
	}
}

func columns(width int) []table.Column {
	detail := width - 8 - 10 - 19 - 10
	if detail < 20 {
		detail = 20
	}
	return []table.Column{
		{Title: "Seq", Width: 8},
		{Title: "Time", Width: 10},
		{Title: "Event", Width: 19},
		{Title: "Operator", Width: 10},
		{Title: "Detail", Width: detail},
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribe(m.apiURL, m.token, 0, m.records),
		nextRecord(m.records),
		func() tea.Msg { return fetchHealth(m.apiURL) },
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
		m.width, m.height = msg.Width, msg.Height
		m.table.SetColumns(columns(msg.Width - 6))
		if h := msg.Height - 10; h > 3 {
			m.table.SetHeight(h)
		}

	case recordMsg:
		m.connected = true
		m.lastError = ""
		m.apply(events.Record(msg))
		return m, nextRecord(m.records)

	case healthMsg:
		m.uptime = msg.UptimeSeconds
		m.lastError = ""
		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg { return fetchHealth(m.apiURL) })

	case disconnectedMsg:
		m.connected = false
		m.lastError = "event stream disconnected, reconnecting..."
		last := msg.lastSeq
		return m, tea.Tick(3*time.Second, func(time.Time) tea.Msg { return reconnectMsg{lastSeq: last} })

	case reconnectMsg:
		return m, subscribe(m.apiURL, m.token, msg.lastSeq, m.records)

	case errMsg:
		m.lastError = msg.Error()
		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg { return fetchHealth(m.apiURL) })
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// apply folds one record into the stats and the table, newest first.
func (m *Model) apply(rec events.Record) {
	row, ok := m.describe(rec)
	if !ok {
		return
	}
	m.rows = append([]table.Row{row}, m.rows...)
	if len(m.rows) > maxRows {
		m.rows = m.rows[:maxRows]
	}
	m.table.SetRows(m.rows)
}

func (m *Model) describe(rec events.Record) (table.Row, bool) {
	at := rec.At.Local().Format("15:04:05")
	seq := strconv.FormatInt(rec.Seq, 10)

	switch rec.Type {
	case events.ThreadsFiltered:
		var r plugin.FilterReport
		if err := json.Unmarshal(rec.Data, &r); err != nil {
			return nil, false
		}
		m.stats.Runs++
		m.stats.Hidden += len(r.Hidden)
		detail := fmt.Sprintf("%d -> %d", r.Before, r.After)
		if r.Exempt {
			m.stats.Exempt++
			detail += " (exempt)"
		}
		if len(r.Hidden) > 0 {
			detail += fmt.Sprintf(" hidden %v", r.Hidden)
		}
		return table.Row{seq, at, rec.Type, operatorCell(r.OperatorID), detail}, true

	case events.ThreadRouted:
		var r notify.ThreadRoutedV1
		if err := json.Unmarshal(rec.Data, &r); err != nil {
			return nil, false
		}
		m.stats.Routed++
		detail := fmt.Sprintf("thread %d via code %s", r.ThreadID, r.OperatorCode)
		return table.Row{seq, at, rec.Type, operatorCell(r.OperatorID), detail}, true
	}
	return nil, false
}

func operatorCell(id int64) string {
	if id == 0 {
		return "-"
	}
	return strconv.FormatInt(id, 10)
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting..."
	}

	status := m.theme.Failed.Render("● disconnected")
	if m.connected {
		status = m.theme.OK.Render("● live")
	}
	header := lipgloss.JoinHorizontal(lipgloss.Center,
		m.theme.Title.Render("threadgate watch"), " ", status, " ",
		m.theme.Dim.Render(fmt.Sprintf("uptime %s", time.Duration(m.uptime)*time.Second)),
	)
	stats := fmt.Sprintf("filter runs %d  exempt %d  routed %d  ", m.stats.Runs, m.stats.Exempt, m.stats.Routed) +
		m.theme.Hidden.Render(fmt.Sprintf("hidden %d", m.stats.Hidden))

	parts := []string{header, stats, m.theme.Border.Render(m.table.View())}
	if m.lastError != "" {
		parts = append(parts, m.theme.Failed.Render("⚠ "+m.lastError))
	}
	parts = append(parts, m.theme.Dim.Render("[q] quit • [↑/↓] scroll"))

	return lipgloss.NewStyle().Margin(1, 2).Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}
