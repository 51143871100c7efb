package poller

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// ErrNoAssistantReply is returned when a completed thread holds no assistant message.
var ErrNoAssistantReply = errors.New("thread has no assistant reply")

// TerminalStatusError reports a job that ended in a terminal status other than completed.
type TerminalStatusError struct {
	Job    Job
	Status Status
}

func (e *TerminalStatusError) Error() string {
	return fmt.Sprintf("run %s ended with status %q", e.Job, e.Status)
}

// SleepFunc suspends for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithBackoff overrides the default 1s..15s backoff.
func WithBackoff(b Backoff) Option {
	return func(c *Coordinator) {
		c.backoff = b.normalize()
	}
}

// WithSleep replaces the timer-based wait, mainly for tests.
func WithSleep(fn SleepFunc) Option {
	return func(c *Coordinator) {
		if fn != nil {
			c.sleep = fn
		}
	}
}

// WithObserver registers an observer at construction time.
func WithObserver(o Observer) Option {
	return func(c *Coordinator) {
		c.Subscribe(o)
	}
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(c *Coordinator) {
		c.recorder = r
	}
}

// Coordinator watches remote jobs to completion and hands each completed job's
// reply to a follow-up stage exactly once.
type Coordinator struct {
	remote   RemoteJobs
	backoff  Backoff
	sleep    SleepFunc
	recorder Recorder

	mu        sync.RWMutex
	observers []Observer
}

// New creates a coordinator over the given remote job API.
func New(remote RemoteJobs, opts ...Option) *Coordinator {
	c := &Coordinator{
		remote:  remote,
		backoff: DefaultBackoff(),
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Subscribe registers an observer for sequences started afterwards.
func (c *Coordinator) Subscribe(o Observer) {
	if o == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, o)
}

func (c *Coordinator) snapshotObservers() []Observer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Observer, len(c.observers))
	copy(out, c.observers)
	return out
}

// Run polls job to a terminal status and blocks until the hand-off has finished.
func (c *Coordinator) Run(ctx context.Context, job Job, followUp FollowUp) (Result, error) {
	return c.Start(ctx, job, followUp).Wait(ctx)
}

// Start begins a polling sequence on its own goroutine and returns immediately.
// ctx is only consulted while waiting between checks and during the hand-off.
func (c *Coordinator) Start(ctx context.Context, job Job, followUp FollowUp) *Sequence {
	s := &Sequence{
		c:         c,
		job:       job,
		followUp:  followUp,
		observers: c.snapshotObservers(),
		updates:   make(chan Update, 8),
		done:      make(chan struct{}),
		started:   time.Now(),
	}

	log.Printf("[Poller] Starting status polling for run %s", job)
	go s.poll(ctx)
	go s.deliver(ctx)
	return s
}

// Result summarises a finished polling sequence.
type Result struct {
	Job    Job
	Status Status
	// Checks counts in-loop checks, which equals the number of notifications sent.
	Checks int
	// Delays lists every wait, in order.
	Delays []time.Duration
	// HandedOff is set once the reply was fetched and passed to the follow-up.
	HandedOff bool
}

// Completed reports whether the job reached the completed status.
func (r Result) Completed() bool {
	return r.Status == StatusCompleted
}

// Err converts a terminal-but-not-completed outcome into an error.
// An aborted sequence carries its last observed status, which is not terminal.
func (r Result) Err() error {
	if r.Status == "" || !r.Status.Terminal() || r.Completed() {
		return nil
	}
	return &TerminalStatusError{Job: r.Job, Status: r.Status}
}

// Sequence is one in-flight polling run.
type Sequence struct {
	c         *Coordinator
	job       Job
	followUp  FollowUp
	observers []Observer
	started   time.Time

	updates chan Update
	done    chan struct{}

	// written by poll before updates is closed
	final   Status
	checks  int
	delays  []time.Duration
	pollErr error

	// written by deliver before done is closed
	result Result
	err    error
}

// Job returns the job being polled.
func (s *Sequence) Job() Job {
	return s.job
}

// Done is closed once polling, notification delivery and the hand-off have finished.
func (s *Sequence) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the sequence finishes or ctx is done.
// A transport failure or hand-off failure is returned as the error.
func (s *Sequence) Wait(ctx context.Context) (Result, error) {
	select {
	case <-s.done:
		return s.result, s.err
	case <-ctx.Done():
		return Result{Job: s.job}, ctx.Err()
	}
}

func (s *Sequence) fetch(ctx context.Context) (Status, error) {
	status, err := s.c.remote.RetrieveStatus(ctx, s.job)
	if err != nil {
		return "", fmt.Errorf("retrieve run %s: %w", s.job, err)
	}
	if s.c.recorder != nil {
		s.c.recorder.ObservePoll(status)
	}
	return status, nil
}

func (s *Sequence) poll(ctx context.Context) {
	defer close(s.updates)

	delay := s.c.backoff.Initial
	status, err := s.fetch(ctx)
	if err != nil {
		s.pollErr = err
		return
	}

	for !status.Terminal() {
		if err := s.c.sleep(ctx, delay); err != nil {
			s.final = status
			s.pollErr = err
			return
		}
		s.delays = append(s.delays, delay)

		status, err = s.fetch(ctx)
		if err != nil {
			s.pollErr = err
			return
		}
		s.checks++
		s.updates <- Update{
			Job:    s.job,
			Status: status,
			Check:  s.checks,
			Delay:  delay,
			At:     time.Now(),
		}
		delay = s.c.backoff.Next(delay)
	}

	s.final = status
}

func (s *Sequence) deliver(ctx context.Context) {
	defer close(s.done)

	for u := range s.updates {
		log.Printf("[Poller] Run %s status during polling: %s", u.Job, u.Status)
		for _, o := range s.observers {
			o(u)
		}
	}

	s.result = Result{
		Job:    s.job,
		Status: s.final,
		Checks: s.checks,
		Delays: s.delays,
	}
	defer func() {
		if s.c.recorder != nil {
			s.c.recorder.ObserveSequence(s.final, time.Since(s.started), s.err)
		}
	}()

	if s.pollErr != nil {
		log.Printf("[Poller] Polling for run %s aborted: %v", s.job, s.pollErr)
		s.err = s.pollErr
		return
	}

	if s.final != StatusCompleted {
		log.Printf("[Poller] Run %s finished without completing: %s", s.job, s.final)
		return
	}

	s.err = s.handoff(ctx)
	if s.c.recorder != nil {
		s.c.recorder.ObserveHandoff(s.err)
	}
}

func (s *Sequence) handoff(ctx context.Context) error {
	messages, err := s.c.remote.ListMessages(ctx, s.job.ThreadID)
	if err != nil {
		return fmt.Errorf("list messages for thread %s: %w", s.job.ThreadID, err)
	}

	text, ok := LastAssistantText(messages)
	if !ok {
		return fmt.Errorf("run %s: %w", s.job, ErrNoAssistantReply)
	}

	log.Printf("[Poller] Run %s completed, handing off reply (%d chars)", s.job, len(text))
	s.result.HandedOff = true
	if s.followUp == nil {
		return nil
	}
	return s.followUp(ctx, s.job, text)
}

// LastAssistantText scans messages from newest to oldest and returns the text of
// the first one authored by the assistant.
func LastAssistantText(messages []Message) (string, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleAssistant {
			return messages[i].Text, true
		}
	}
	return "", false
}
