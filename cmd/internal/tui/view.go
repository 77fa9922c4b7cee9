package tui

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"podium/cmd/internal/backend"
	"podium/cmd/internal/channel"
	"podium/cmd/internal/room"
	"podium/cmd/internal/turn"
	v1 "podium/shared/contracts/debate/v1"
)

type theme struct {
	root     lipgloss.Style
	header   lipgloss.Style
	panel    lipgloss.Style
	title    lipgloss.Style
	muted    lipgloss.Style
	status   lipgloss.Style
	errored  lipgloss.Style
	banner   lipgloss.Style
	selected lipgloss.Style
	mine     lipgloss.Style
	theirs   lipgloss.Style
	facts    map[v1.FactCheckStatus]lipgloss.Style
}

func newTheme() theme {
	accent := lipgloss.Color("#7dd3fc")
	warm := lipgloss.Color("#fbbf24")
	green := lipgloss.Color("#4ade80")
	red := lipgloss.Color("#f87171")
	muted := lipgloss.Color("#94a3b8")

	return theme{
		root: lipgloss.NewStyle().Padding(0, 1),
		header: lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(accent),
		panel: lipgloss.NewStyle().
			Padding(0, 1).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(muted),
		title:    lipgloss.NewStyle().Foreground(accent).Bold(true),
		muted:    lipgloss.NewStyle().Foreground(muted),
		status:   lipgloss.NewStyle().Foreground(accent),
		errored:  lipgloss.NewStyle().Foreground(red).Bold(true),
		banner:   lipgloss.NewStyle().Foreground(lipgloss.Color("#1e1b4b")).Background(warm).Bold(true).Padding(0, 1),
		selected: lipgloss.NewStyle().Foreground(warm).Bold(true),
		mine:     lipgloss.NewStyle().Foreground(green).Bold(true),
		theirs:   lipgloss.NewStyle().Foreground(accent).Bold(true),
		facts: map[v1.FactCheckStatus]lipgloss.Style{
			v1.FactVerified:     lipgloss.NewStyle().Foreground(green),
			v1.FactQuestionable: lipgloss.NewStyle().Foreground(warm),
			v1.FactUnverified:   lipgloss.NewStyle().Foreground(red),
			v1.FactPending:      lipgloss.NewStyle().Foreground(muted),
		},
	}
}

func (m model) View() string {
	var body string
	switch m.screen {
	case screenLogin:
		body = m.renderLogin()
	case screenList:
		body = m.renderList()
	case screenRoom:
		body = m.renderRoom()
	}
	return m.theme.root.Render(lipgloss.JoinVertical(lipgloss.Left, body, m.renderFooter()))
}

func (m model) renderLogin() string {
	role := fmt.Sprintf("role: %s  (ctrl+r to switch)", m.role)
	return m.theme.panel.Render(strings.Join([]string{
		m.theme.title.Render("podium"),
		m.theme.muted.Render("live debates in your terminal"),
		"",
		m.username.View(),
		m.password.View(),
		m.theme.muted.Render(role),
	}, "\n"))
}

func (m model) renderList() string {
	var b strings.Builder
	b.WriteString(m.theme.title.Render("Debates") + "\n\n")
	if len(m.debates) == 0 {
		b.WriteString(m.theme.muted.Render("no debates yet"))
	}
	for i, d := range m.debates {
		line := fmt.Sprintf("%-4s %-50s %-9s %s vs %s", d.ID, truncate(d.Topic.Title, 50), d.Status,
			seatName(d.Debater1), seatName(d.Debater2))
		if i == m.cursor {
			b.WriteString(m.theme.selected.Render("› " + line))
		} else {
			b.WriteString("  " + line)
		}
		b.WriteString("\n")
	}
	return m.theme.panel.Render(strings.TrimRight(b.String(), "\n"))
}

func (m model) renderRoom() string {
	d := m.view.Debate
	if d.ID == "" {
		return m.theme.panel.Render(m.spinner.View() + " loading room…")
	}

	turnLine := fmt.Sprintf("Round %d/%d · %s's turn · %s", d.CurrentRound, d.TotalRounds,
		seatName(d.Seat(d.CurrentTurn)), formatClock(d.TimeRemaining))
	if d.Status != v1.StatusLive {
		turnLine = fmt.Sprintf("Round %d/%d · %s", d.CurrentRound, d.TotalRounds, d.Status)
	}
	header := m.theme.header.Render(lipgloss.JoinVertical(lipgloss.Left,
		d.Topic.Title,
		m.theme.muted.Render(fmt.Sprintf("%s (%s) vs %s (%s) · %s",
			seatName(d.Debater1), d.Debater1.Position, seatName(d.Debater2), d.Debater2.Position, connLabel(m.view.Conn))),
		turnLine,
	))

	parts := []string{header}
	if m.view.Banner != "" {
		parts = append(parts, m.theme.banner.Render(m.view.Banner))
	}
	parts = append(parts, m.theme.panel.Render(m.timeline.View()))

	switch {
	case m.view.MyTurn:
		parts = append(parts, m.composer.View())
	case m.view.MySlot != "":
		parts = append(parts, m.theme.muted.Render("waiting for your turn…"))
	default:
		parts = append(parts, m.theme.muted.Render("watching"))
	}
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m *model) renderTimeline() {
	if len(m.view.Messages) == 0 {
		m.timeline.SetContent(m.theme.muted.Render("no arguments yet"))
		return
	}
	var b strings.Builder
	for i, msg := range m.view.Messages {
		if i > 0 {
			b.WriteString("\n")
		}
		name := msg.DebaterName
		if name == "" {
			name = msg.DebaterID
		}
		style := m.theme.theirs
		if msg.DebaterID == m.view.Me.UserID {
			style = m.theme.mine
		}
		b.WriteString(fmt.Sprintf("%s %s %s\n", style.Render(name),
			m.theme.muted.Render(msg.Timestamp.Local().Format("15:04:05")),
			m.factBadge(msg.FactCheckStatus)))
		b.WriteString(lipgloss.NewStyle().Width(max(10, m.timeline.Width-2)).Render(msg.Body))
		b.WriteString("\n")
	}
	m.timeline.SetContent(b.String())
}

func (m model) renderFooter() string {
	help := map[screen]string{
		screenLogin: "tab switch field · enter log in · esc quit",
		screenList:  "↑/↓ select · enter open · r refresh · L log out · q quit",
		screenRoom:  "enter send · pgup/pgdown scroll · esc leave",
	}[m.screen]

	status := m.theme.status.Render(m.status)
	if m.lastErr != nil || strings.Contains(m.status, "required") {
		status = m.theme.errored.Render(m.status)
	}
	if m.busy {
		status = m.spinner.View() + " " + status
	}
	return status + "\n" + m.theme.muted.Render(help)
}

func (m model) factBadge(s v1.FactCheckStatus) string {
	label := map[v1.FactCheckStatus]string{
		v1.FactVerified:     "✓ verified",
		v1.FactQuestionable: "? questionable",
		v1.FactUnverified:   "✗ unverified",
		v1.FactPending:      "… checking",
	}[s]
	if label == "" {
		return ""
	}
	return m.theme.facts[s].Render(label)
}

func formatClock(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

func seatName(p v1.Participant) string {
	if p.Vacant() {
		return "(open)"
	}
	return p.Username
}

func connLabel(s channel.Status) string {
	switch s {
	case channel.StatusConnected:
		return "● live"
	case channel.StatusExhausted:
		return "✗ offline"
	case "":
		return "○ connecting"
	default:
		return "○ " + string(s)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// describe turns known errors into short user-facing text.
func describe(err error) string {
	switch {
	case errors.Is(err, turn.ErrNotYourTurn):
		return "it is not your turn"
	case errors.Is(err, turn.ErrTimeExpired):
		return "time is up for this turn"
	case errors.Is(err, turn.ErrNotLive):
		return "the debate is not live"
	case errors.Is(err, turn.ErrNotParticipant):
		return "only seated debaters can speak"
	case errors.Is(err, room.ErrEmptyMessage):
		return "message is empty"
	case errors.Is(err, room.ErrRoomNotFound):
		return "no such debate"
	case errors.Is(err, backend.ErrUnauthorized):
		return "invalid credentials"
	case errors.Is(err, backend.ErrConflict):
		return "the seat was taken"
	}
	return err.Error()
}
