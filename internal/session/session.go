package session

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/cexll/testpilot/internal/assistant"
	"github.com/cexll/testpilot/internal/diffview"
	"github.com/cexll/testpilot/internal/poller"
	"github.com/cexll/testpilot/internal/prompt"
	"github.com/cexll/testpilot/internal/taskstore"
	"github.com/cexll/testpilot/internal/testfinder"
	"golang.org/x/sync/errgroup"
)

// Remote is the OpenAI surface a session drives. *assistant.Client implements it.
type Remote interface {
	poller.RemoteJobs
	Submit(ctx context.Context, assistantID, content string, fileIDs []string) (poller.Job, error)
	Upload(ctx context.Context, name string, data []byte) (assistant.FileHandle, error)
	Delete(ctx context.Context, fileID string) error
	List(ctx context.Context) ([]assistant.FileHandle, error)
	Complete(ctx context.Context, req assistant.CompletionRequest) (string, error)
}

// DiffSource produces the diff of a single file. *vcs.Repo implements it.
type DiffSource interface {
	FileDiff(ctx context.Context, rev, path string) (string, error)
}

// Options configures a Session.
type Options struct {
	IdeasAssistant string
	TestsAssistant string
	// Framework is mentioned in the generation prompt when set, e.g. "xUnit".
	Framework string
	Generate  GenerateOptions
}

// Session stages one source/test pair with the remote service and runs the
// suggest and generate flows against it.
type Session struct {
	remote Remote
	diffs  DiffSource
	coord  *poller.Coordinator
	store  *taskstore.Store
	opts   Options

	mu      sync.Mutex
	pair    testfinder.FilePair
	staged  []assistant.FileHandle
	changes string
}

// New creates a session. The store is subscribed to the coordinator so every
// polled status lands in the job history.
func New(remote Remote, diffs DiffSource, coord *poller.Coordinator, store *taskstore.Store, opts Options) *Session {
	if store == nil {
		store = taskstore.NewStore()
	}
	coord.Subscribe(store.Observe)
	return &Session{
		remote: remote,
		diffs:  diffs,
		coord:  coord,
		store:  store,
		opts:   opts,
	}
}

// Store returns the job store the session records into.
func (s *Session) Store() *taskstore.Store {
	return s.store
}

// Pair returns the staged pair.
func (s *Session) Pair() testfinder.FilePair {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pair
}

// Changes returns the changed lines of the staged source file.
func (s *Session) Changes() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changes
}

// Stage uploads both files of pair and captures the source file's changed lines.
// Files from an earlier Stage call are deleted first.
func (s *Session) Stage(ctx context.Context, pair testfinder.FilePair) error {
	if err := s.Close(ctx); err != nil {
		return err
	}

	raw, err := s.diffs.FileDiff(ctx, "", pair.Source)
	if err != nil {
		return fmt.Errorf("diff %s: %w", pair.Source, err)
	}

	paths := []string{pair.Source, pair.Test}
	handles := make([]assistant.FileHandle, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	for i, path := range paths {
		g.Go(func() error {
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}
			h, err := s.remote.Upload(gctx, filepath.Base(path), data)
			if err != nil {
				return err
			}
			handles[i] = h
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		// drop whichever upload did succeed
		for _, h := range handles {
			if h.ID != "" {
				if delErr := s.remote.Delete(ctx, h.ID); delErr != nil {
					log.Printf("[Session] Failed to delete %s after staging error: %v", h.ID, delErr)
				}
			}
		}
		return fmt.Errorf("stage %s: %w", filepath.Base(pair.Source), err)
	}

	s.mu.Lock()
	s.pair = pair
	s.staged = handles
	s.changes = diffview.ChangedLines(raw)
	s.mu.Unlock()

	log.Printf("[Session] Staged %s (%s) and %s (%s)", handles[0].Name, handles[0].ID, handles[1].Name, handles[1].ID)
	return nil
}

func (s *Session) snapshot() (testfinder.FilePair, []assistant.FileHandle, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.staged) == 0 {
		return testfinder.FilePair{}, nil, "", ErrNotStaged
	}
	files := make([]assistant.FileHandle, len(s.staged))
	copy(files, s.staged)
	return s.pair, files, s.changes, nil
}

func fileIDs(files []assistant.FileHandle) []string {
	ids := make([]string, len(files))
	for i, f := range files {
		ids[i] = f.ID
	}
	return ids
}

// Suggest asks the ideas assistant which tests the staged change needs.
func (s *Session) Suggest(ctx context.Context) ([]TestIdea, error) {
	pair, files, changes, err := s.snapshot()
	if err != nil {
		return nil, err
	}

	content, err := prompt.BuildIdeas(changes, pair.Source, pair.Test)
	if err != nil {
		return nil, err
	}

	recordID := s.store.Create(taskstore.KindIdeas, filepath.Base(pair.Source))
	var ideas []TestIdea
	err = s.runJob(ctx, recordID, s.opts.IdeasAssistant, content, fileIDs(files),
		func(ctx context.Context, job poller.Job, text string) error {
			user, err := prompt.BuildIdeasExtract(text)
			if err != nil {
				return err
			}
			out, err := s.remote.Complete(ctx, assistant.CompletionRequest{
				System: prompt.IdeasExtractSystem,
				User:   user,
				JSON:   true,
			})
			if err != nil {
				return err
			}
			ideas, err = ParseIdeas(out)
			return err
		})
	if err != nil {
		return nil, err
	}

	s.store.AddLog(recordID, "success", fmt.Sprintf("%d test ideas", len(ideas)))
	log.Printf("[Session] Assistant suggested %d tests for %s", len(ideas), filepath.Base(pair.Source))
	return ideas, nil
}

// runJob submits content, polls the run and records the outcome under recordID.
// A run that ends in a non-completed status is returned as *poller.TerminalStatusError.
func (s *Session) runJob(ctx context.Context, recordID, assistantID, content string, ids []string, followUp poller.FollowUp) error {
	job, err := s.remote.Submit(ctx, assistantID, content, ids)
	if err != nil {
		s.store.Fail(recordID, err)
		return err
	}
	s.store.AttachRun(recordID, job)
	s.store.AddLog(recordID, "info", "run "+job.String()+" submitted")

	res, err := s.coord.Run(ctx, job, followUp)
	if err == nil {
		err = res.Err()
	}
	if err != nil {
		s.store.Fail(recordID, err)
		return err
	}

	s.store.UpdateStatus(recordID, taskstore.StatusCompleted)
	return nil
}

// Close deletes the staged files that the remote service still lists.
// Files that are already gone count as deleted. Files whose deletion fails
// stay staged so a later Close retries them.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	staged := s.staged
	s.staged = nil
	s.mu.Unlock()

	if len(staged) == 0 {
		return nil
	}

	listed, err := s.remote.List(ctx)
	if err != nil {
		log.Printf("[Session] Could not list files, deleting all staged files: %v", err)
		listed = staged
	}
	present := make(map[string]bool, len(listed))
	for _, f := range listed {
		present[f.ID] = true
	}

	var failed []assistant.FileHandle
	var firstErr error
	for _, f := range staged {
		if !present[f.ID] {
			log.Printf("[Session] Staged file %s (%s) already removed", f.Name, f.ID)
			continue
		}
		if err := s.remote.Delete(ctx, f.ID); err != nil {
			log.Printf("[Session] Failed to delete %s (%s): %v", f.Name, f.ID, err)
			failed = append(failed, f)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if len(failed) > 0 {
		s.mu.Lock()
		s.staged = append(failed, s.staged...)
		s.mu.Unlock()
	}
	return firstErr
}
