package diffview

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	addedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	removedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	contextStyle = lipgloss.NewStyle()
)

// Render strips diff headers and colours additions green and removals red.
func Render(diff string) string {
	lines := strings.Split(StripHeaders(diff), "\n")
	var b strings.Builder
	for i, line := range lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(styleFor(Classify(line)).Render(line))
	}
	return b.String()
}

func styleFor(kind LineKind) lipgloss.Style {
	switch kind {
	case LineAdded:
		return addedStyle
	case LineRemoved:
		return removedStyle
	default:
		return contextStyle
	}
}
