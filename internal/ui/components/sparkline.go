package components

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"sosguard/internal/ui/theme"
)

var bars = []rune("▁▂▃▄▅▆▇█")

// Sparkline renders values in [0,1] as a row of bars, newest on the right.
// Bars at or above threshold are highlighted. Only the last width values
// are drawn.
func Sparkline(values []float64, threshold float64, width int) string {
	if width <= 0 || len(values) == 0 {
		return ""
	}
	if len(values) > width {
		values = values[len(values)-width:]
	}
	var sb strings.Builder
	for _, v := range values {
		bar := string(bars[level(v)])
		if threshold > 0 && v >= threshold {
			bar = theme.Alert.Render(bar)
		} else {
			bar = lipgloss.NewStyle().Foreground(theme.Sapphire).Render(bar)
		}
		sb.WriteString(bar)
	}
	return sb.String()
}

func level(v float64) int {
	switch {
	case v <= 0:
		return 0
	case v >= 1:
		return len(bars) - 1
	}
	return int(v * float64(len(bars)-1))
}
