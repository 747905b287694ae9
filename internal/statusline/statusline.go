// Package statusline renders the sync indicator shown by the watch command.
package statusline

import (
	"fmt"

	"github.com/Harinder441/daily-notes-ai/internal/syncengine"
	"github.com/charmbracelet/lipgloss"
)

const timeLayout = "15:04:05"

var (
	dayStyle     = lipgloss.NewStyle().Bold(true)
	offlineStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	busyStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	unsavedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	savedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	mutedStyle   = lipgloss.NewStyle().Faint(true)
)

// Label returns the plain indicator text for state. Offline wins over every other status.
func Label(state syncengine.State) string {
	switch {
	case !state.IsOnline && state.HasUnsavedChanges:
		return "offline, changes saved on this device"
	case !state.IsOnline:
		return "offline"
	case state.IsSaving:
		return "saving"
	case state.IsFetching:
		return "loading"
	case state.HasUnsavedChanges:
		return "unsaved changes"
	case state.LastSyncTime != nil:
		return "saved " + state.LastSyncTime.Local().Format(timeLayout)
	default:
		return "up to date"
	}
}

// Render returns the styled status line for state.
func Render(state syncengine.State) string {
	label := Label(state)
	var styled string
	switch {
	case !state.IsOnline:
		styled = offlineStyle.Render(label)
	case state.IsSaving, state.IsFetching:
		styled = busyStyle.Render(label)
	case state.HasUnsavedChanges:
		styled = unsavedStyle.Render(label)
	case state.LastSyncTime != nil:
		styled = savedStyle.Render(label)
	default:
		styled = mutedStyle.Render(label)
	}
	return fmt.Sprintf("%s %s", dayStyle.Render(state.DayKey.String()), styled)
}
