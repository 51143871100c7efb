package vcs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gitMock(root string, responses map[string]string) *MockCommandRunner {
	m := NewMockCommandRunner()
	m.RunInDirFunc = func(dir, name string, args ...string) ([]byte, error) {
		key := strings.Join(args, " ")
		if key == "rev-parse --show-toplevel" {
			return []byte(root + "\n"), nil
		}
		if out, ok := responses[key]; ok {
			return []byte(out), nil
		}
		return nil, errors.New("unexpected command: git " + key)
	}
	return m
}

func TestOpen_NotARepository(t *testing.T) {
	m := NewMockCommandRunner()
	m.RunInDirFunc = func(dir, name string, args ...string) ([]byte, error) {
		return nil, errors.New("fatal: not a git repository")
	}

	_, err := OpenWithRunner(context.Background(), t.TempDir(), m)
	assert.ErrorIs(t, err, ErrNotRepository)
}

func TestRepo_ChangesListsModifiedThenUntracked(t *testing.T) {
	root := t.TempDir()
	m := gitMock(root, map[string]string{
		"diff --name-only":                     "src/Calc.cs\nsrc/Parser.cs\n",
		"ls-files --others --exclude-standard": "src/New.cs\n",
	})

	repo, err := OpenWithRunner(context.Background(), root, m)
	require.NoError(t, err)
	assert.Equal(t, root, repo.Root())

	changes, err := repo.Changes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"src/Calc.cs", "src/Parser.cs", "src/New.cs"}, changes)

	for _, call := range m.Calls {
		assert.Equal(t, "git", call.Name)
	}
}

func TestRepo_EmptyOutputYieldsNoPaths(t *testing.T) {
	root := t.TempDir()
	m := gitMock(root, map[string]string{"diff --name-only": ""})

	repo, err := OpenWithRunner(context.Background(), root, m)
	require.NoError(t, err)

	changed, err := repo.ChangedFiles(context.Background())
	require.NoError(t, err)
	assert.Empty(t, changed)
}

func TestRepo_DiffBetweenRevisions(t *testing.T) {
	root := t.TempDir()
	m := gitMock(root, map[string]string{"diff --name-only HEAD~1 HEAD": "a.go\nb.go\n"})

	repo, err := OpenWithRunner(context.Background(), root, m)
	require.NoError(t, err)

	paths, err := repo.Diff(context.Background(), "HEAD~1", "HEAD", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.go", "b.go"}, paths)
}

func TestRepo_FileDiffUsesRelativePath(t *testing.T) {
	root := t.TempDir()
	m := gitMock(root, map[string]string{
		"diff HEAD -- src/Calc.cs": "diff --git a/src/Calc.cs b/src/Calc.cs\n+added\n",
		"diff -- src/Calc.cs":      "-removed\n",
	})

	repo, err := OpenWithRunner(context.Background(), root, m)
	require.NoError(t, err)

	out, err := repo.FileDiff(context.Background(), "HEAD", filepath.Join(root, "src", "Calc.cs"))
	require.NoError(t, err)
	assert.Contains(t, out, "+added")

	out, err = repo.FileDiff(context.Background(), "", "src/Calc.cs")
	require.NoError(t, err)
	assert.Equal(t, "-removed\n", out)
}

func TestRepo_CommandFailureIsWrapped(t *testing.T) {
	root := t.TempDir()
	m := gitMock(root, nil)

	repo, err := OpenWithRunner(context.Background(), root, m)
	require.NoError(t, err)

	_, err = repo.UntrackedFiles(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "git ls-files")
}

func TestWatcher_DebouncesWorkTreeChanges(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src"), 0o755))

	repo := &Repo{root: root, runner: NewMockCommandRunner()}
	changes := make(chan struct{}, 10)
	w, err := NewWatcher(repo, 50*time.Millisecond, func() { changes <- struct{}{} })
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	// give the watcher time to register directories
	time.Sleep(100 * time.Millisecond)
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(root, "src", "Calc.cs"), []byte(strings.Repeat("x", i+1)), 0o644))
	}

	select {
	case <-changes:
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for change notification")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
}
