package vcs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
)

// ErrNotRepository is returned when a directory is not inside a git work tree.
var ErrNotRepository = errors.New("not a git repository")

const gitCommand = "git"

// Repo is a local git working copy.
type Repo struct {
	root   string
	runner CommandRunner
}

// Open resolves dir to the top of its work tree.
func Open(ctx context.Context, dir string) (*Repo, error) {
	return OpenWithRunner(ctx, dir, &RealCommandRunner{})
}

// OpenWithRunner opens a repository using a custom command runner (useful for testing)
func OpenWithRunner(ctx context.Context, dir string, runner CommandRunner) (*Repo, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", dir, err)
	}

	out, err := runner.RunInDir(ctx, abs, gitCommand, "rev-parse", "--show-toplevel")
	if err != nil {
		return nil, fmt.Errorf("%s: %w (%v)", abs, ErrNotRepository, err)
	}

	root := strings.TrimSpace(string(out))
	if root == "" {
		return nil, fmt.Errorf("%s: %w", abs, ErrNotRepository)
	}

	log.Printf("[VCS] Opened repository at %s", root)
	return &Repo{root: root, runner: runner}, nil
}

// Root returns the absolute path of the work tree.
func (r *Repo) Root() string {
	return r.root
}

// Abs joins a repository-relative path onto the work tree root.
func (r *Repo) Abs(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(r.root, filepath.FromSlash(path))
}

// Rel converts an absolute path to a slash-separated path relative to the root.
func (r *Repo) Rel(path string) string {
	rel, err := filepath.Rel(r.root, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}

func (r *Repo) git(ctx context.Context, args ...string) (string, error) {
	out, err := r.runner.RunInDir(ctx, r.root, gitCommand, args...)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Diff lists the paths changed between two revisions when nameOnly is set, or the
// diff lines otherwise. An empty revA compares the work tree to the index; an empty
// revB compares revA to the work tree.
func (r *Repo) Diff(ctx context.Context, revA, revB string, nameOnly bool) ([]string, error) {
	args := []string{"diff"}
	if nameOnly {
		args = append(args, "--name-only")
	}
	args = appendRevisions(args, revA, revB)

	out, err := r.git(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("git diff: %w", err)
	}
	if nameOnly {
		return splitLines(out), nil
	}
	return strings.Split(strings.TrimRight(out, "\n"), "\n"), nil
}

// ChangedFiles lists tracked files modified in the work tree but not staged.
func (r *Repo) ChangedFiles(ctx context.Context) ([]string, error) {
	return r.Diff(ctx, "", "", true)
}

// UntrackedFiles lists files git does not track and does not ignore.
func (r *Repo) UntrackedFiles(ctx context.Context) ([]string, error) {
	out, err := r.git(ctx, "ls-files", "--others", "--exclude-standard")
	if err != nil {
		return nil, fmt.Errorf("git ls-files: %w", err)
	}
	return splitLines(out), nil
}

// Changes returns modified files followed by untracked files.
func (r *Repo) Changes(ctx context.Context) ([]string, error) {
	changed, err := r.ChangedFiles(ctx)
	if err != nil {
		return nil, err
	}
	untracked, err := r.UntrackedFiles(ctx)
	if err != nil {
		return nil, err
	}
	return append(changed, untracked...), nil
}

// FileDiff returns the textual diff of one path against rev, or against the index
// when rev is empty.
func (r *Repo) FileDiff(ctx context.Context, rev, path string) (string, error) {
	args := []string{"diff"}
	if rev != "" {
		args = append(args, rev)
	}
	args = append(args, "--", r.Rel(r.Abs(path)))

	out, err := r.git(ctx, args...)
	if err != nil {
		return "", fmt.Errorf("git diff %s: %w", path, err)
	}
	return out, nil
}

func appendRevisions(args []string, revA, revB string) []string {
	if revA != "" {
		args = append(args, revA)
	}
	if revB != "" {
		args = append(args, revB)
	}
	return args
}

func splitLines(out string) []string {
	var lines []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
