// Package testfinder locates the test file that belongs to a source file.
package testfinder

import (
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
)

// Convention describes how test files are named and where they live.
type Convention struct {
	// Dir is the directory, relative to the repository root, searched for tests.
	Dir string
	// Suffix is appended to the source file's base name, e.g. "Tests".
	Suffix string
	// Ext replaces the source extension when set, e.g. ".cs".
	Ext string
}

// DefaultConvention pairs Foo.cs with test/**/FooTests.cs.
func DefaultConvention() Convention {
	return Convention{Dir: "test", Suffix: "Tests", Ext: ".cs"}
}

// TestName returns the expected test file name for a source path.
func (c Convention) TestName(source string) string {
	base := filepath.Base(source)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)
	if c.Ext != "" {
		ext = c.Ext
	}
	return name + c.Suffix + ext
}

// FilePair is an implementation file and its associated test file, both absolute.
type FilePair struct {
	Source string
	Test   string
}

var errFound = errors.New("found")

// Find walks root and returns the first file called name, in lexical walk order.
func Find(root, name string) (string, bool, error) {
	var match string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			// unreadable subtree: keep looking elsewhere
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() && d.Name() == name {
			match = path
			return errFound
		}
		return nil
	})
	if errors.Is(err, errFound) {
		return match, true, nil
	}
	if err != nil {
		return "", false, err
	}
	return "", false, nil
}

// Pairs finds a test file for every changed path. Paths in changed are relative
// to repoRoot. Sources without a matching test are skipped, and a file that is
// itself a test is never paired with itself.
func Pairs(repoRoot string, changed []string, conv Convention) ([]FilePair, error) {
	searchRoot := filepath.Join(repoRoot, conv.Dir)

	var pairs []FilePair
	for _, rel := range changed {
		if rel == "" {
			continue
		}
		source := filepath.Join(repoRoot, filepath.FromSlash(rel))
		test, ok, err := Find(searchRoot, conv.TestName(rel))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, nil
			}
			return nil, err
		}
		if !ok || test == source {
			continue
		}
		pairs = append(pairs, FilePair{Source: source, Test: test})
	}
	return pairs, nil
}
