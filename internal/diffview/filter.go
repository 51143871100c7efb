// Package diffview filters and renders unified diff text.
package diffview

import (
	"regexp"
	"strings"
)

// LineKind classifies a diff line for rendering.
type LineKind int

const (
	LineContext LineKind = iota
	LineAdded
	LineRemoved
)

// Classify reports whether line is an addition, a removal or context.
func Classify(line string) LineKind {
	switch {
	case strings.HasPrefix(line, "+"):
		return LineAdded
	case strings.HasPrefix(line, "-"):
		return LineRemoved
	default:
		return LineContext
	}
}

func isHeader(line string) bool {
	return strings.HasPrefix(line, "diff --git") || strings.HasPrefix(line, "index")
}

// StripHeaders drops "diff --git" and "index" lines and keeps everything else.
func StripHeaders(diff string) string {
	lines := strings.Split(diff, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if isHeader(line) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

// ChangedLines keeps only added and removed lines. Any line starting with "diff"
// or "index" is dropped first.
func ChangedLines(diff string) string {
	var kept []string
	for _, line := range strings.Split(diff, "\n") {
		if strings.HasPrefix(line, "diff") || strings.HasPrefix(line, "index") {
			continue
		}
		if Classify(line) != LineContext {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

var fencePattern = regexp.MustCompile("(?m)^[ \t]*```[A-Za-z0-9_+#-]*[ \t]*$\n?")

// CleanCode removes markdown code fences, with or without a language tag.
func CleanCode(text string) string {
	text = fencePattern.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "```", "")
	return strings.TrimSpace(text)
}
