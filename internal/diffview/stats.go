package diffview

import (
	"fmt"
	"strings"

	"github.com/sourcegraph/go-diff/diff"
)

// FileStat is a per-file summary of a unified diff.
type FileStat struct {
	Path    string
	Added   int
	Deleted int
	Hunks   int
}

func (s FileStat) String() string {
	return fmt.Sprintf("%s (+%d -%d, %d hunks)", s.Path, s.Added, s.Deleted, s.Hunks)
}

// Summarize parses a multi-file diff and reports line counts per file.
func Summarize(text string) ([]FileStat, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	fileDiffs, err := diff.ParseMultiFileDiff([]byte(text))
	if err != nil {
		return nil, fmt.Errorf("parse diff: %w", err)
	}

	stats := make([]FileStat, 0, len(fileDiffs))
	for _, fd := range fileDiffs {
		st := fd.Stat()
		stats = append(stats, FileStat{
			Path:    displayName(fd),
			Added:   int(st.Added + st.Changed),
			Deleted: int(st.Deleted + st.Changed),
			Hunks:   len(fd.Hunks),
		})
	}
	return stats, nil
}

func displayName(fd *diff.FileDiff) string {
	name := fd.NewName
	if name == "" || name == "/dev/null" {
		name = fd.OrigName
	}
	for _, prefix := range []string{"a/", "b/"} {
		name = strings.TrimPrefix(name, prefix)
	}
	return name
}
