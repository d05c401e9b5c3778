// Package output provides styled terminal output helpers (success, error,
// warning, money and sync status formatting) using lipgloss.
package output

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/marcus/till/internal/models"
	"github.com/shopspring/decimal"
)

var (
	// Styles
	titleStyle   = lipgloss.NewStyle().Bold(true)
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	statusStyles = map[models.SyncStatus]lipgloss.Style{
		models.SyncPending: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		models.SyncSynced:  lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		models.SyncError:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
)

// Success prints a success message
func Success(format string, args ...interface{}) {
	fmt.Println(successStyle.Render(fmt.Sprintf(format, args...)))
}

// Error prints an error message
func Error(format string, args ...interface{}) {
	fmt.Println(errorStyle.Render("ERROR: " + fmt.Sprintf(format, args...)))
}

// Warning prints a warning message
func Warning(format string, args ...interface{}) {
	fmt.Println(warningStyle.Render("Warning: " + fmt.Sprintf(format, args...)))
}

// Info prints an info message
func Info(format string, args ...interface{}) {
	fmt.Println(fmt.Sprintf(format, args...))
}

// JSON outputs data as JSON
func JSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// Error codes for structured JSON output
const (
	ErrCodeNotFound      = "not_found"
	ErrCodeInvalidInput  = "invalid_input"
	ErrCodeDatabaseError = "database_error"
	ErrCodeNotSynced     = "not_synced"
)

// JSONError outputs an error as JSON
func JSONError(code, message string) {
	data, _ := json.Marshal(map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
	fmt.Println(string(data))
}

// FormatMoney renders an amount with two decimal places
func FormatMoney(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// FormatSyncStatus formats a sync status with color
func FormatSyncStatus(s models.SyncStatus) string {
	style, ok := statusStyles[s]
	if !ok {
		return string(s)
	}
	return style.Render(fmt.Sprintf("[%s]", s))
}

// FormatProductShort formats a catalog entry on one line
func FormatProductShort(p *models.Product) string {
	parts := []string{
		titleStyle.Render(p.ID),
		p.Name,
		FormatMoney(p.Price),
		subtleStyle.Render(fmt.Sprintf("stock %d", p.Stock)),
	}
	if p.Category != "" {
		parts = append(parts, subtleStyle.Render(p.Category))
	}
	return strings.Join(parts, "  ")
}

// FormatTransactionShort formats a sale on one line
func FormatTransactionShort(tx *models.Transaction, status models.SyncStatus) string {
	return strings.Join([]string{
		titleStyle.Render(ShortID(tx.ID)),
		tx.Date.Local().Format("2006-01-02 15:04"),
		fmt.Sprintf("%d items", len(tx.Items)),
		FormatMoney(tx.Total),
		FormatSyncStatus(status),
	}, "  ")
}

// FormatTransactionLong formats a sale as a receipt
func FormatTransactionLong(tx *models.Transaction, status models.SyncStatus, failure *models.DeliveryFailure) string {
	var sb strings.Builder

	sb.WriteString(titleStyle.Render("Transaction " + tx.ID))
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("Date: %s | Status: %s | Sync: %s\n",
		tx.Date.Local().Format("2006-01-02 15:04:05"), tx.Status, FormatSyncStatus(status)))

	sb.WriteString(SectionHeader("items"))
	for _, it := range tx.Items {
		sb.WriteString(fmt.Sprintf("  %-24s %3d x %8s  %9s\n",
			it.Name, it.Quantity, FormatMoney(it.UnitPrice), FormatMoney(it.LineTotal())))
	}
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("  %-38s %9s\n", "Subtotal", FormatMoney(tx.Subtotal)))
	sb.WriteString(fmt.Sprintf("  %-38s %9s\n", "Tax", FormatMoney(tx.Tax)))
	sb.WriteString(titleStyle.Render(fmt.Sprintf("  %-38s %9s", "Total", FormatMoney(tx.Total))))
	sb.WriteString("\n")

	if failure != nil {
		sb.WriteString("\n")
		sb.WriteString(warningStyle.Render(fmt.Sprintf("Last delivery failed (%s, %d attempts, %s): %s",
			failure.Kind, failure.Attempts, FormatTimeAgo(failure.UpdatedAt), failure.LastError)))
		sb.WriteString("\n")
	}

	return sb.String()
}

// FormatLastSync renders the last sync time, or "never"
func FormatLastSync(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "never"
	}
	return fmt.Sprintf("%s (%s)", t.Local().Format("2006-01-02 15:04:05"), FormatTimeAgo(*t))
}

// FormatTimeAgo formats a time as a human-readable "ago" string
func FormatTimeAgo(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	case diff < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	default:
		return t.Format("2006-01-02")
	}
}

// ShortID shortens a UUID to its first 8 characters
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// SectionHeader returns a formatted section header for CLI output
// e.g., "\nITEMS:\n"
func SectionHeader(title string) string {
	return fmt.Sprintf("\n%s:\n", strings.ToUpper(title))
}
