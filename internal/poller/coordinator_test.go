package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedRemote struct {
	mu       sync.Mutex
	statuses []Status
	calls    int
	failAt   int
	messages []Message
	listErr  error
	listed   int
}

func (r *scriptedRemote) RetrieveStatus(ctx context.Context, job Job) (Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.failAt > 0 && r.calls == r.failAt {
		return "", errors.New("connection reset by peer")
	}
	if len(r.statuses) == 0 {
		return StatusCompleted, nil
	}
	s := r.statuses[0]
	r.statuses = r.statuses[1:]
	return s, nil
}

func (r *scriptedRemote) ListMessages(ctx context.Context, threadID string) ([]Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listed++
	return r.messages, r.listErr
}

type recordingSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func newTestCoordinator(remote RemoteJobs, sleeper *recordingSleep, opts ...Option) *Coordinator {
	opts = append([]Option{WithSleep(sleeper.sleep)}, opts...)
	return New(remote, opts...)
}

func TestCoordinator_QueuedToCompletedScenario(t *testing.T) {
	remote := &scriptedRemote{
		statuses: []Status{StatusQueued, StatusInProgress, StatusInProgress, StatusCompleted},
		messages: []Message{
			{Role: "user", Text: "please"},
			{Role: RoleAssistant, Text: "first"},
			{Role: "user", Text: "again"},
			{Role: RoleAssistant, Text: "ideas"},
		},
	}
	sleeper := &recordingSleep{}

	var mu sync.Mutex
	var seen []Status
	c := newTestCoordinator(remote, sleeper, WithObserver(func(u Update) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, u.Status)
	}))

	var handoffs []string
	var handoffAfter int
	res, err := c.Run(context.Background(), Job{ID: "run_1", ThreadID: "thread_1"}, func(ctx context.Context, job Job, text string) error {
		mu.Lock()
		handoffAfter = len(seen)
		mu.Unlock()
		handoffs = append(handoffs, text)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []Status{StatusInProgress, StatusInProgress, StatusCompleted}, seen)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, sleeper.delays)
	assert.Equal(t, sleeper.delays, res.Delays)
	assert.Equal(t, []string{"ideas"}, handoffs)
	assert.Equal(t, 3, handoffAfter)
	assert.Equal(t, 3, res.Checks)
	assert.True(t, res.Completed())
	assert.True(t, res.HandedOff)
	assert.NoError(t, res.Err())
	assert.Equal(t, 4, remote.calls)
}

func TestCoordinator_DelaysCapAtFifteen(t *testing.T) {
	statuses := make([]Status, 0, 9)
	for i := 0; i < 8; i++ {
		statuses = append(statuses, StatusInProgress)
	}
	statuses = append(statuses, StatusFailed)

	remote := &scriptedRemote{statuses: statuses}
	sleeper := &recordingSleep{}
	c := newTestCoordinator(remote, sleeper)

	res, err := c.Run(context.Background(), Job{ID: "r", ThreadID: "t"}, nil)
	require.NoError(t, err)

	want := []time.Duration{1, 2, 4, 8, 15, 15, 15, 15}
	for i := range want {
		want[i] *= time.Second
	}
	assert.Equal(t, want, sleeper.delays)
	assert.Equal(t, want, DefaultBackoff().Delays(8))
	assert.Equal(t, StatusFailed, res.Status)
}

func TestCoordinator_NonCompletedTerminalSkipsHandoff(t *testing.T) {
	for _, final := range []Status{StatusFailed, StatusCancelled, StatusExpired, StatusRequiresAction, Status("mystery")} {
		t.Run(string(final), func(t *testing.T) {
			remote := &scriptedRemote{statuses: []Status{StatusQueued, final}}
			c := newTestCoordinator(remote, &recordingSleep{})

			called := 0
			res, err := c.Run(context.Background(), Job{ID: "r", ThreadID: "t"}, func(ctx context.Context, job Job, text string) error {
				called++
				return nil
			})
			require.NoError(t, err)
			assert.Zero(t, called)
			assert.Zero(t, remote.listed)
			assert.False(t, res.HandedOff)

			var terr *TerminalStatusError
			require.ErrorAs(t, res.Err(), &terr)
			assert.Equal(t, final, terr.Status)
		})
	}
}

func TestCoordinator_InitialCheckIsSilent(t *testing.T) {
	remote := &scriptedRemote{
		statuses: []Status{StatusCompleted},
		messages: []Message{{Role: RoleAssistant, Text: "done"}},
	}
	sleeper := &recordingSleep{}

	notified := 0
	c := newTestCoordinator(remote, sleeper, WithObserver(func(Update) { notified++ }))

	var got string
	res, err := c.Run(context.Background(), Job{ID: "r", ThreadID: "t"}, func(ctx context.Context, job Job, text string) error {
		got = text
		return nil
	})
	require.NoError(t, err)
	assert.Zero(t, notified)
	assert.Empty(t, sleeper.delays)
	assert.Equal(t, "done", got)
	assert.True(t, res.HandedOff)
}

func TestCoordinator_TransportErrorAbortsSequence(t *testing.T) {
	remote := &scriptedRemote{
		statuses: []Status{StatusQueued, StatusInProgress, StatusInProgress},
		failAt:   3,
	}
	sleeper := &recordingSleep{}

	var seen []Status
	c := newTestCoordinator(remote, sleeper, WithObserver(func(u Update) { seen = append(seen, u.Status) }))

	called := false
	_, err := c.Run(context.Background(), Job{ID: "r", ThreadID: "t"}, func(ctx context.Context, job Job, text string) error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.False(t, called)
	assert.Equal(t, []Status{StatusInProgress}, seen)
	assert.Equal(t, 3, remote.calls)
}

func TestCoordinator_NoAssistantReply(t *testing.T) {
	remote := &scriptedRemote{
		statuses: []Status{StatusCompleted},
		messages: []Message{{Role: "user", Text: "hello"}},
	}
	c := newTestCoordinator(remote, &recordingSleep{})

	_, err := c.Run(context.Background(), Job{ID: "r", ThreadID: "t"}, nil)
	assert.ErrorIs(t, err, ErrNoAssistantReply)
}

func TestCoordinator_FollowUpErrorIsReturned(t *testing.T) {
	remote := &scriptedRemote{
		statuses: []Status{StatusCompleted},
		messages: []Message{{Role: RoleAssistant, Text: "x"}},
	}
	c := newTestCoordinator(remote, &recordingSleep{})

	boom := errors.New("bad json")
	_, err := c.Run(context.Background(), Job{ID: "r", ThreadID: "t"}, func(ctx context.Context, job Job, text string) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestCoordinator_CancelledAtSuspensionPoint(t *testing.T) {
	remote := &scriptedRemote{statuses: []Status{StatusQueued, StatusQueued, StatusQueued}}
	c := New(remote, WithBackoff(Backoff{Initial: time.Hour, Max: time.Hour, Multiplier: 2}))

	ctx, cancel := context.WithCancel(context.Background())
	seq := c.Start(ctx, Job{ID: "r", ThreadID: "t"}, nil)
	cancel()

	select {
	case <-seq.Done():
	case <-time.After(time.Second):
		t.Fatal("sequence did not stop after cancellation")
	}
	res, err := seq.Wait(context.Background())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, remote.calls)
	assert.Equal(t, StatusQueued, res.Status)
	assert.NoError(t, res.Err())
	assert.False(t, res.HandedOff)
}

func TestCoordinator_ListMessagesFailureIsNotHandedOff(t *testing.T) {
	remote := &scriptedRemote{
		statuses: []Status{StatusCompleted},
		listErr:  errors.New("503 service unavailable"),
	}
	c := newTestCoordinator(remote, &recordingSleep{})

	called := false
	res, err := c.Run(context.Background(), Job{ID: "r", ThreadID: "t"}, func(ctx context.Context, job Job, text string) error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.False(t, called)
	assert.False(t, res.HandedOff)
	assert.Equal(t, 1, remote.listed)
}

func TestCoordinator_IndependentConcurrentSequences(t *testing.T) {
	sleeper := &recordingSleep{}
	var wg sync.WaitGroup
	results := make([]Result, 4)

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			statuses := []Status{StatusQueued}
			for j := 0; j < i; j++ {
				statuses = append(statuses, StatusInProgress)
			}
			statuses = append(statuses, StatusCompleted)
			remote := &scriptedRemote{statuses: statuses, messages: []Message{{Role: RoleAssistant, Text: "ok"}}}
			c := newTestCoordinator(remote, sleeper)
			res, err := c.Run(context.Background(), Job{ID: "r", ThreadID: "t"}, nil)
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	for i, res := range results {
		assert.Equal(t, i+1, res.Checks)
		assert.Equal(t, DefaultBackoff().Delays(i+1), res.Delays)
	}
}

func TestLastAssistantText_PicksNewest(t *testing.T) {
	messages := []Message{
		{Role: "user", Text: "u1"},
		{Role: RoleAssistant, Text: "a1"},
		{Role: "user", Text: "u2"},
		{Role: RoleAssistant, Text: "a2"},
	}
	text, ok := LastAssistantText(messages)
	require.True(t, ok)
	assert.Equal(t, "a2", text)

	_, ok = LastAssistantText(nil)
	assert.False(t, ok)
}

func TestStatus_Terminal(t *testing.T) {
	assert.False(t, StatusQueued.Terminal())
	assert.False(t, StatusInProgress.Terminal())
	assert.False(t, StatusCancelling.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, Status("unknown").Terminal())
}

func TestBackoff_NormalizesInvalidValues(t *testing.T) {
	b := Backoff{Initial: -1, Max: 0, Multiplier: 0}
	assert.Equal(t, DefaultBackoff().Delays(6), b.Delays(6))

	custom := Backoff{Initial: 10 * time.Millisecond, Max: 30 * time.Millisecond, Multiplier: 3}
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 30 * time.Millisecond, 30 * time.Millisecond}, custom.Delays(3))
}
