package monitor

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/marcus/till/internal/output"
)

// MinWidth is the narrowest terminal the full layout is drawn for
const MinWidth = 50

func (m Model) renderView() string {
	if m.Width == 0 {
		return "Loading..."
	}
	if m.Width < MinWidth {
		return m.renderCompact()
	}

	inner := m.Width - 4 // border and padding
	sections := []string{
		m.renderHeader(inner),
		panelStyle.Width(m.Width - 2).Render(m.renderPending(inner)),
		panelStyle.Width(m.Width - 2).Render(m.renderHistory(inner)),
		m.help.View(m.keys),
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderCompact() string {
	state := "offline"
	if m.Snap.Online {
		state = "online"
	}
	return fmt.Sprintf("%s | %d pending | q quit", state, len(m.Snap.Pending))
}

func (m Model) renderHeader(width int) string {
	badge := offlineBadge.Render("OFFLINE")
	if m.Snap.Online {
		badge = onlineBadge.Render("ONLINE")
	}

	title := titleStyle.Render("till watch")
	if m.version != "" {
		title += subtleStyle.Render(" " + m.version)
	}

	line := fmt.Sprintf("%s  %s  last sync %s  %d pending  %d products",
		title, badge, output.FormatLastSync(m.Snap.LastSyncAt), len(m.Snap.Pending), m.Snap.Products)
	if m.Syncing {
		line += "  " + m.spinner.View() + " syncing"
	}

	metrics := subtleStyle.Render(fmt.Sprintf("passes %d  delivered %d  failed attempts %d  exhausted %d",
		m.Snap.Metrics.Passes, m.Snap.Metrics.TransactionsDelivered,
		m.Snap.Metrics.FailedAttempts, m.Snap.Metrics.TransactionsExhausted))

	lines := []string{ansi.Truncate(line, width+2, "…"), metrics}
	if status := m.renderLastResult(); status != "" {
		lines = append(lines, status)
	}
	if m.Err != nil {
		lines = append(lines, errorTextStyle.Render("error: "+m.Err.Error()))
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderLastResult() string {
	if m.SyncErr != nil {
		return errorTextStyle.Render("sync failed: " + m.SyncErr.Error())
	}
	r := m.LastResult
	if r == nil {
		return ""
	}
	if r.Skipped {
		return subtleStyle.Render("last pass skipped: " + r.SkipReason)
	}
	s := fmt.Sprintf("last pass: %d delivered, %d exhausted", len(r.Delivered), len(r.Exhausted))
	if r.CatalogErr != nil {
		s += ", catalog refresh failed"
	}
	return subtleStyle.Render(s)
}

func (m Model) renderPending(width int) string {
	var sb strings.Builder
	sb.WriteString(panelTitleStyle.Render(fmt.Sprintf("PENDING (%d)", len(m.Snap.Pending))))
	sb.WriteString("\n")
	if len(m.Snap.Pending) == 0 {
		sb.WriteString(subtleStyle.Render("Nothing pending"))
		return sb.String()
	}
	for i, row := range m.Snap.Pending {
		line := m.formatPendingRow(row)
		line = ansi.Truncate(line, width, "…")
		if i == m.Cursor {
			line = selectedStyle.Render(line)
		}
		sb.WriteString(line)
		if i < len(m.Snap.Pending)-1 {
			sb.WriteString("\n")
		}
	}
	if sel := m.Selected(); sel != nil && sel.LastError != "" {
		sb.WriteString("\n\n")
		sb.WriteString(errorTextStyle.Render(ansi.Truncate("last error: "+sel.LastError, width, "…")))
	}
	return sb.String()
}

func (m Model) formatPendingRow(row PendingRow) string {
	if row.Missing {
		return fmt.Sprintf("%s  %s", output.ShortID(row.ID), errorTextStyle.Render("no local record"))
	}
	style, ok := statusStyles[row.Status]
	if !ok {
		style = subtleStyle
	}
	line := fmt.Sprintf("%s  %s  %9s  %s",
		output.ShortID(row.ID),
		row.Date.Local().Format("01-02 15:04"),
		output.FormatMoney(row.Total),
		style.Render(string(row.Status)))
	if row.Attempts > 0 {
		line += subtleStyle.Render(fmt.Sprintf("  %d attempts", row.Attempts))
	}
	return line
}

func (m Model) renderHistory(width int) string {
	var sb strings.Builder
	sb.WriteString(panelTitleStyle.Render("RECENT ACTIVITY"))
	sb.WriteString("\n")
	if len(m.Snap.History) == 0 {
		sb.WriteString(subtleStyle.Render("No sync activity yet"))
		return sb.String()
	}
	// tail is oldest first, show newest on top
	for i := len(m.Snap.History) - 1; i >= 0; i-- {
		e := m.Snap.History[i]
		style, ok := outcomeStyles[e.Outcome]
		if !ok {
			style = subtleStyle
		}
		line := fmt.Sprintf("%s  %-4s %-12s %s %s",
			e.Timestamp.Local().Format("15:04:05"),
			e.Direction, e.EntityType,
			style.Render(fmt.Sprintf("%-9s", e.Outcome)),
			output.ShortID(e.EntityID))
		sb.WriteString(ansi.Truncate(line, width, "…"))
		if i > 0 {
			sb.WriteString("\n")
		}
	}
	return sb.String()
}
