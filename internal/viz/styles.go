package viz

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	canvasStyle lipgloss.Style
	statsStyle  lipgloss.Style
	headerStyle lipgloss.Style
	labelStyle  lipgloss.Style
	valueStyle  lipgloss.Style
	graphStyle  lipgloss.Style
	helpStyle   lipgloss.Style
	cursorStyle lipgloss.Style

	StatusRunning lipgloss.Style
	StatusPaused  lipgloss.Style
	StatusError   lipgloss.Style

	SparkHigh lipgloss.Style
	SparkMid  lipgloss.Style
	SparkLow  lipgloss.Style
)

// statsWidth is the width of the side panel including its border.
const statsWidth = 46

func init() { applyTheme(CurrentTheme) }

func applyTheme(t Theme) {
	canvasStyle = lipgloss.NewStyle().Foreground(t.Snow).Padding(1, 2)
	statsStyle = lipgloss.NewStyle().
		Border(lipgloss.NormalBorder(), false, false, false, true).
		BorderForeground(t.Muted).
		Padding(1, 2).
		Width(statsWidth - 1)
	headerStyle = lipgloss.NewStyle().Foreground(t.Primary).Bold(true).MarginBottom(1)
	labelStyle = lipgloss.NewStyle().Foreground(t.Muted).Width(12)
	valueStyle = lipgloss.NewStyle().Foreground(t.Secondary)
	graphStyle = lipgloss.NewStyle().Foreground(t.Primary).Padding(1, 0)
	helpStyle = lipgloss.NewStyle().Foreground(t.Muted).MarginTop(1)
	cursorStyle = lipgloss.NewStyle().Foreground(t.Accent).Bold(true)

	StatusRunning = lipgloss.NewStyle().Bold(true).Foreground(t.Success)
	StatusPaused = lipgloss.NewStyle().Bold(true).Foreground(t.Warning)
	StatusError = lipgloss.NewStyle().Bold(true).Foreground(t.Error)

	SparkHigh = lipgloss.NewStyle().Foreground(t.Error)
	SparkMid = lipgloss.NewStyle().Foreground(t.Warning)
	SparkLow = lipgloss.NewStyle().Foreground(t.Success)
}

// ProgressBar renders an occupancy bar; it turns red as it fills.
func ProgressBar(percent float64, width int) string {
	filled := int(percent * float64(width))
	filled = max(0, min(filled, width))

	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
	if percent > 0.9 {
		return SparkHigh.Render(bar)
	} else if percent > 0.6 {
		return SparkMid.Render(bar)
	}
	return SparkLow.Render(bar)
}

// Separator draws a horizontal rule.
func Separator(width int) string {
	mid := width / 2
	left := strings.Repeat("─", max(mid-3, 0))
	right := strings.Repeat("─", max(width-mid-3, 0))
	return labelStyle.UnsetWidth().Render(left + " ❄ " + right)
}
