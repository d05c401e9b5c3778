package monitor

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/marcus/till/internal/models"
)

var (
	primaryColor = lipgloss.Color("212")
	mutedColor   = lipgloss.Color("241")
	successColor = lipgloss.Color("42")
	warningColor = lipgloss.Color("214")
	errorColor   = lipgloss.Color("196")

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	panelTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Background(lipgloss.Color("237")).
			Foreground(lipgloss.Color("255")).
			Padding(0, 1)

	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(primaryColor)
	subtleStyle    = lipgloss.NewStyle().Foreground(mutedColor)
	selectedStyle  = lipgloss.NewStyle().Background(lipgloss.Color("237")).Bold(true)
	errorTextStyle = lipgloss.NewStyle().Foreground(errorColor)
	spinnerStyle   = lipgloss.NewStyle().Foreground(primaryColor)

	onlineBadge  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("0")).Background(successColor).Padding(0, 1)
	offlineBadge = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("0")).Background(errorColor).Padding(0, 1)

	statusStyles = map[models.SyncStatus]lipgloss.Style{
		models.SyncPending: lipgloss.NewStyle().Foreground(warningColor),
		models.SyncSynced:  lipgloss.NewStyle().Foreground(successColor),
		models.SyncError:   lipgloss.NewStyle().Foreground(errorColor).Bold(true),
	}

	outcomeStyles = map[string]lipgloss.Style{
		"ok":        lipgloss.NewStyle().Foreground(successColor),
		"failed":    lipgloss.NewStyle().Foreground(warningColor),
		"exhausted": lipgloss.NewStyle().Foreground(errorColor),
		"skipped":   lipgloss.NewStyle().Foreground(mutedColor),
	}
)
