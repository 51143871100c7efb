package vcs

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 300 * time.Millisecond

// Watcher calls back when files in the work tree, or the git index, change.
// fsnotify is not recursive, so every directory outside .git is added up front;
// directories created later are added as they appear.
type Watcher struct {
	repo     *Repo
	watcher  *fsnotify.Watcher
	debounce time.Duration
	onChange func()
}

// NewWatcher creates a watcher for repo. Bursts of events are collapsed into a
// single onChange call after debounce (300ms when zero).
func NewWatcher(repo *Repo, debounce time.Duration, onChange func()) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	return &Watcher{repo: repo, watcher: w, debounce: debounce, onChange: onChange}, nil
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if d.Name() == ".git" {
			// only the index matters for staged/unstaged transitions
			if err := w.watcher.Add(path); err != nil {
				log.Printf("[VCS] Failed to watch %s: %v", path, err)
			}
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			log.Printf("[VCS] Failed to watch %s: %v", path, err)
		}
		return nil
	})
}

// Start blocks until ctx is done, invoking onChange after each burst of events.
func (w *Watcher) Start(ctx context.Context) error {
	defer w.watcher.Close()

	if err := w.addTree(w.repo.Root()); err != nil {
		return fmt.Errorf("watch %s: %w", w.repo.Root(), err)
	}
	log.Printf("[VCS] Watching %s for changes", w.repo.Root())

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := statDir(event.Name); err == nil && info {
					_ = w.addTree(event.Name)
				}
			}
			if !w.relevant(event) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			if w.onChange != nil {
				w.onChange()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("[VCS] Watcher error: %v", err)
		}
	}
}

// relevant filters out git's internal churn other than the index.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}
	dir := filepath.Base(filepath.Dir(event.Name))
	if dir == ".git" {
		return filepath.Base(event.Name) == "index"
	}
	return true
}

func statDir(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}
