package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cexll/testpilot/internal/assistant"
	"github.com/cexll/testpilot/internal/diffview"
	"github.com/cexll/testpilot/internal/dispatcher"
	"github.com/cexll/testpilot/internal/poller"
	"github.com/cexll/testpilot/internal/prompt"
	"github.com/cexll/testpilot/internal/taskstore"
)

// GenerateOptions sizes the generation queue.
type GenerateOptions struct {
	Workers           int
	QueueSize         int
	MaxAttempts       int
	InitialBackoff    time.Duration
	BackoffMultiplier float64
	MaxBackoff        time.Duration
}

// ResultFunc is called as soon as each test finishes, in completion order.
type ResultFunc func(index int, test GeneratedTest)

// generator runs one dispatcher task per selected idea.
type generator struct {
	s       *Session
	fileIDs []string
	testRef string
	changes string

	mu   sync.Mutex
	code map[string]string // task ID -> extracted code
}

// Generate writes one test per idea. Results are returned in the order of ideas;
// tests that failed carry their error text and are also joined into the error.
func (s *Session) Generate(ctx context.Context, ideas []TestIdea, onResult ResultFunc) ([]GeneratedTest, error) {
	pair, files, changes, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	if len(ideas) == 0 {
		return nil, nil
	}
	s.warnMissing(ctx, files)

	g := &generator{
		s:       s,
		fileIDs: fileIDs(files),
		testRef: pair.Test,
		changes: changes,
		code:    make(map[string]string, len(ideas)),
	}

	results := make([]GeneratedTest, len(ideas))
	errs := make([]error, len(ideas))
	var wg sync.WaitGroup

	opts := s.opts.Generate
	queueSize := opts.QueueSize
	if queueSize < len(ideas) {
		queueSize = len(ideas)
	}
	d := dispatcher.New(g, dispatcher.Config{
		Workers:           opts.Workers,
		QueueSize:         queueSize,
		MaxAttempts:       opts.MaxAttempts,
		InitialBackoff:    opts.InitialBackoff,
		BackoffMultiplier: opts.BackoffMultiplier,
		MaxBackoff:        opts.MaxBackoff,
		Context:           ctx,
		OnComplete: func(task *dispatcher.Task, err error) {
			defer wg.Done()
			test := GeneratedTest{Name: task.Name}
			if err != nil {
				test.Error = err.Error()
				errs[task.Index] = fmt.Errorf("%s: %w", task.Name, err)
			} else {
				test.Code = g.result(task.ID)
			}
			results[task.Index] = test
			if onResult != nil {
				onResult(task.Index, test)
			}
		},
	})
	defer d.Shutdown(context.Background())

	for i, idea := range ideas {
		// the job record ID doubles as the task ID; repeated picks of one idea share a key
		task := &dispatcher.Task{
			ID:          s.store.Create(taskstore.KindGenerate, idea.Name),
			Key:         idea.Name,
			Index:       i,
			Name:        idea.Name,
			Description: idea.Description,
		}
		wg.Add(1)
		if err := d.Enqueue(task); err != nil {
			wg.Done()
			s.store.Fail(task.ID, err)
			errs[i] = fmt.Errorf("%s: %w", idea.Name, err)
			results[i] = GeneratedTest{Name: idea.Name, Error: err.Error()}
		}
	}

	wg.Wait()
	return results, errors.Join(errs...)
}

// warnMissing logs staged files the remote service no longer lists.
func (s *Session) warnMissing(ctx context.Context, files []assistant.FileHandle) {
	listed, err := s.remote.List(ctx)
	if err != nil {
		log.Printf("[Session] Warning: could not verify staged files: %v", err)
		return
	}
	present := make(map[string]bool, len(listed))
	for _, f := range listed {
		present[f.ID] = true
	}
	for _, f := range files {
		if !present[f.ID] {
			log.Printf("[Session] Warning: staged file %s (%s) not found", f.Name, f.ID)
		}
	}
}

func (g *generator) result(taskID string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.code[taskID]
}

// Execute submits one idea to the test-writer assistant and extracts the code
// from its reply. Runs that end without completing are not retried.
func (g *generator) Execute(ctx context.Context, task *dispatcher.Task) error {
	log.Printf("[Session] Generating test %q (attempt %d)", task.Name, task.Attempt)

	content, err := prompt.BuildTest(g.changes, task.Description, g.testRef, g.s.opts.Framework)
	if err != nil {
		return dispatcher.NonRetryable(err)
	}

	err = g.s.runJob(ctx, task.ID, g.s.opts.TestsAssistant, content, g.fileIDs,
		func(ctx context.Context, job poller.Job, text string) error {
			user, err := prompt.BuildCodeExtract(text)
			if err != nil {
				return err
			}
			out, err := g.s.remote.Complete(ctx, assistant.CompletionRequest{
				System: prompt.CodeExtractSystem,
				User:   user,
			})
			if err != nil {
				return err
			}
			g.mu.Lock()
			g.code[task.ID] = diffview.CleanCode(out)
			g.mu.Unlock()
			return nil
		})

	var terminal *poller.TerminalStatusError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &terminal), errors.Is(err, poller.ErrNoAssistantReply), ctx.Err() != nil:
		return dispatcher.NonRetryable(err)
	default:
		return err
	}
}
