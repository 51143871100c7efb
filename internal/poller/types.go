package poller

import (
	"context"
	"fmt"
	"time"
)

// Status is the remote run state reported by the job API.
type Status string

const (
	StatusQueued         Status = "queued"
	StatusInProgress     Status = "in_progress"
	StatusCancelling     Status = "cancelling"
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
	StatusCancelled      Status = "cancelled"
	StatusExpired        Status = "expired"
	StatusRequiresAction Status = "requires_action"
	StatusIncomplete     Status = "incomplete"
)

// Terminal reports whether no further state change will occur.
// Anything outside queued/in_progress/cancelling is terminal, including unknown values.
func (s Status) Terminal() bool {
	switch s {
	case StatusQueued, StatusInProgress, StatusCancelling:
		return false
	default:
		return true
	}
}

// Job identifies a submitted remote run and the thread it belongs to.
type Job struct {
	ID       string
	ThreadID string
}

func (j Job) String() string {
	return fmt.Sprintf("%s/%s", j.ThreadID, j.ID)
}

// RoleAssistant is the author role of replies produced by the remote assistant.
const RoleAssistant = "assistant"

// Message is one entry of a thread, oldest first when listed.
type Message struct {
	Role string
	Text string
}

// StatusFetcher retrieves the current status of a run.
type StatusFetcher interface {
	RetrieveStatus(ctx context.Context, job Job) (Status, error)
}

// MessageLister lists a thread's messages in chronological order.
type MessageLister interface {
	ListMessages(ctx context.Context, threadID string) ([]Message, error)
}

// RemoteJobs is the subset of the remote job API the coordinator consumes.
type RemoteJobs interface {
	StatusFetcher
	MessageLister
}

// FollowUp receives the text of the newest assistant reply once a job completes.
type FollowUp func(ctx context.Context, job Job, text string) error

// Update is a single in-loop status observation.
type Update struct {
	Job    Job
	Status Status
	// Check is the 1-based index of the in-loop check; the initial check is not counted.
	Check int
	// Delay is the wait that preceded this check.
	Delay time.Duration
	At    time.Time
}

// Observer is notified of every in-loop status check, in order.
type Observer func(Update)

// Recorder receives coordinator events for metrics. All methods must be safe for concurrent use.
type Recorder interface {
	ObservePoll(status Status)
	ObserveSequence(final Status, elapsed time.Duration, err error)
	ObserveHandoff(err error)
}
