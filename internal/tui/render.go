package tui

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/hackscore/internal/events"
	"github.com/mattjoyce/hackscore/internal/store"
)

// HealthState tracks service health from /healthz polling.
type HealthState struct {
	Status        string
	UptimeSeconds int64
	Pending       int
	Active        int
	MaxConcurrent int
	Connected     bool
	LastCheck     time.Time
}

func renderHeader(health HealthState, ticker Ticker, spinner Spinner, theme Theme, width int, now time.Time) string {
	innerWidth := width - 4

	statusText := theme.StatusOK.Render("HEALTHY")
	if !health.Connected {
		statusText = theme.StatusFailed.Render("CONNECTING")
	} else if health.Status != "ok" && health.Status != "" {
		statusText = theme.StatusFailed.Render("DEGRADED")
	}

	lastEventStr := "never"
	if !spinner.LastEvent().IsZero() {
		lastEventStr = fmt.Sprintf("%s ago", now.Sub(spinner.LastEvent()).Round(time.Second))
	}

	titleText := fmt.Sprintf(" HACKSCORE MONITOR %s", theme.Highlight.Render(ticker.Current()))
	clock := theme.Dim.Render(now.Format("15:04:05"))
	pad := max(1, innerWidth-lipgloss.Width(titleText)-lipgloss.Width(clock)-4)
	titleLine := titleText + strings.Repeat(" ", pad) + clock + " "

	statsLine := fmt.Sprintf(" %s  ⏱ %s  Pending: %d  Running: %d/%d",
		statusText,
		formatDuration(time.Duration(health.UptimeSeconds)*time.Second),
		health.Pending,
		health.Active,
		health.MaxConcurrent,
	)
	activityLine := fmt.Sprintf(" Last event: %s %s", lastEventStr, spinner.Render(theme))

	return theme.Border.Width(innerWidth).Render(
		lipgloss.JoinVertical(lipgloss.Left, titleLine, statsLine, activityLine),
	)
}

func newJobTable() table.Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ST", Width: 2},
			{Title: "Submission", Width: 24},
			{Title: "Hackathon", Width: 14},
			{Title: "Pri", Width: 4},
			{Title: "Status", Width: 10},
			{Title: "Score", Width: 8},
			{Title: "Duration", Width: 10},
		}),
		table.WithFocused(true),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)
	return t
}

func jobRows(jobs []*JobState, theme Theme, now time.Time) []table.Row {
	rows := make([]table.Row, 0, len(jobs))
	for _, j := range jobs {
		score := "-"
		if j.Score != nil {
			score = fmt.Sprintf("%.2f", *j.Score)
		}
		duration := "-"
		if d := j.Duration(now); d > 0 {
			duration = d.Round(time.Millisecond).String()
		}
		rows = append(rows, table.Row{
			statusSymbol(j.Status, theme),
			j.SubmissionID,
			j.HackathonID,
			fmt.Sprint(j.Priority),
			j.Status,
			score,
			duration,
		})
	}
	return rows
}

func statusSymbol(status string, theme Theme) string {
	switch status {
	case StatusQueued:
		return theme.StatusQueued.Render("○")
	case StatusRunning:
		return theme.StatusRunning.Render("◉")
	case string(store.OutcomeSucceeded), StatusDone, StatusManual:
		return theme.StatusOK.Render("●")
	case string(store.OutcomeTimedOut):
		return theme.StatusFailed.Render("◑")
	case string(store.OutcomeError), StatusFailed, StatusAbandoned:
		return theme.StatusFailed.Render("∅")
	case string(store.OutcomeStale), StatusCleared:
		return theme.StatusStale.Render("◌")
	default:
		return "○"
	}
}

func renderEventStream(eventLog []events.Event, theme Theme, width int) string {
	innerWidth := width - 4

	if len(eventLog) == 0 {
		return theme.Border.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("EVENT STREAM"),
			theme.Dim.Render("  Waiting for events..."),
		))
	}

	var lines []string
	for i, e := range eventLog {
		if i >= 10 {
			break
		}
		lines = append(lines, formatEvent(e, theme))
	}
	return theme.Border.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("EVENT STREAM"),
		lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n")),
	))
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Format("15:04:05"))

	var typeStyle lipgloss.Style
	switch {
	case e.Type == events.JobCompleted, e.Type == events.ScoreRecorded, e.Type == events.ScoreManual:
		typeStyle = theme.StatusOK
	case e.Type == events.JobFailed, e.Type == events.JobAbandoned:
		typeStyle = theme.StatusFailed
	case e.Type == events.JobStarted:
		typeStyle = theme.StatusRunning
	case strings.HasPrefix(e.Type, "scheduler"), strings.HasPrefix(e.Type, "workspaces"):
		typeStyle = theme.Highlight
	default:
		typeStyle = theme.Dim
	}

	return fmt.Sprintf("%s %s %s", ts, typeStyle.Render(fmt.Sprintf("%-20s", e.Type)), eventSummary(e))
}

// eventSummary picks the interesting fields out of an event payload.
func eventSummary(e events.Event) string {
	var d eventData
	_ = json.Unmarshal(e.Data, &d)

	var parts []string
	if d.SubmissionID != "" {
		parts = append(parts, "["+d.SubmissionID+"]")
	}
	if d.Outcome != "" {
		parts = append(parts, d.Outcome)
	}
	if d.Score != nil {
		parts = append(parts, fmt.Sprintf("score=%.2f", *d.Score))
	}
	if d.Error != "" {
		parts = append(parts, d.Error)
	}

	if len(parts) == 0 {
		raw := string(e.Data)
		if len(raw) > 60 {
			raw = raw[:60] + "..."
		}
		return raw
	}
	return strings.Join(parts, " ")
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
