package viz

import "github.com/charmbracelet/lipgloss"

// Theme defines color scheme for the TUI
type Theme struct {
	Name      string
	Primary   lipgloss.Color
	Secondary lipgloss.Color
	Accent    lipgloss.Color
	Snow      lipgloss.Color
	Muted     lipgloss.Color
	Success   lipgloss.Color
	Warning   lipgloss.Color
	Error     lipgloss.Color
}

var (
	ThemeGlacier = Theme{
		Name:      "glacier",
		Primary:   lipgloss.Color("#7fdbff"),
		Secondary: lipgloss.Color("#39cccc"),
		Accent:    lipgloss.Color("#ffffff"),
		Snow:      lipgloss.Color("#e8f6ff"),
		Muted:     lipgloss.Color("#5c7080"),
		Success:   lipgloss.Color("#2ecc40"),
		Warning:   lipgloss.Color("#ffdc00"),
		Error:     lipgloss.Color("#ff4136"),
	}

	ThemeNight = Theme{
		Name:      "night",
		Primary:   lipgloss.Color("#b39ddb"),
		Secondary: lipgloss.Color("#7986cb"),
		Accent:    lipgloss.Color("#ffd54f"),
		Snow:      lipgloss.Color("#c5cae9"),
		Muted:     lipgloss.Color("#4a4e69"),
		Success:   lipgloss.Color("#81c784"),
		Warning:   lipgloss.Color("#ffb74d"),
		Error:     lipgloss.Color("#e57373"),
	}

	ThemeMinimal = Theme{
		Name:      "minimal",
		Primary:   lipgloss.Color("#ffffff"),
		Secondary: lipgloss.Color("#cccccc"),
		Accent:    lipgloss.Color("#0088ff"),
		Snow:      lipgloss.Color("#ffffff"),
		Muted:     lipgloss.Color("#888888"),
		Success:   lipgloss.Color("#00ff00"),
		Warning:   lipgloss.Color("#ffaa00"),
		Error:     lipgloss.Color("#ff0000"),
	}

	CurrentTheme = ThemeGlacier

	Themes = []Theme{
		ThemeGlacier,
		ThemeNight,
		ThemeMinimal,
	}
)

// GetTheme returns a theme by name, falling back to the first theme.
func GetTheme(name string) Theme {
	for _, t := range Themes {
		if t.Name == name {
			return t
		}
	}
	return Themes[0]
}

// SetTheme changes the current theme and restyles the shared styles.
func SetTheme(name string) {
	CurrentTheme = GetTheme(name)
	applyTheme(CurrentTheme)
}

// NextTheme cycles to the theme after the current one.
func NextTheme() {
	for i, t := range Themes {
		if t.Name == CurrentTheme.Name {
			SetTheme(Themes[(i+1)%len(Themes)].Name)
			return
		}
	}
	SetTheme(Themes[0].Name)
}

func ThemeNames() []string {
	names := make([]string, len(Themes))
	for i, t := range Themes {
		names[i] = t.Name
	}
	return names
}
