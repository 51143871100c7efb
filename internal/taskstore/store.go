package taskstore

import (
	"sort"
	"sync"
	"time"

	"github.com/cexll/testpilot/internal/poller"
	"github.com/google/uuid"
)

type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
)

type JobKind string

const (
	KindIdeas    JobKind = "ideas"
	KindGenerate JobKind = "generate"
)

type Job struct {
	ID        string        `json:"id"`
	Kind      JobKind       `json:"kind"`
	Label     string        `json:"label"`
	Status    JobStatus     `json:"status"`
	ThreadID  string        `json:"thread_id,omitempty"`
	RunID     string        `json:"run_id,omitempty"`
	RunStatus poller.Status `json:"run_status,omitempty"`
	History   []StatusEvent `json:"history"`
	Logs      []LogEntry    `json:"logs"`
	Error     string        `json:"error,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// StatusEvent is one polled run status.
type StatusEvent struct {
	Timestamp time.Time     `json:"timestamp"`
	Status    poller.Status `json:"status"`
	Check     int           `json:"check"`
	Delay     time.Duration `json:"delay"`
}

type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"` // info, error, success
	Message   string    `json:"message"`
}

// Store keeps job records in memory. Readers get copies, so records returned by
// Get and List never change underneath the caller.
type Store struct {
	mu    sync.RWMutex
	jobs  map[string]*Job
	byRun map[string]string
}

func NewStore() *Store {
	return &Store{
		jobs:  make(map[string]*Job),
		byRun: make(map[string]string),
	}
}

// Create registers a new pending job and returns its ID.
func (s *Store) Create(kind JobKind, label string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	job := &Job{
		ID:        uuid.NewString(),
		Kind:      kind,
		Label:     label,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.jobs[job.ID] = job
	return job.ID
}

// AttachRun links a job record to the remote run that serves it.
func (s *Store) AttachRun(id string, run poller.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[id]; ok {
		job.ThreadID = run.ThreadID
		job.RunID = run.ID
		job.Status = StatusRunning
		job.UpdatedAt = time.Now()
		s.byRun[run.ID] = id
	}
}

func (s *Store) Get(id string) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	return job.clone(), true
}

func (s *Store) List() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	jobs := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job.clone())
	}
	// Sort by created time descending
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	return jobs
}

func (s *Store) UpdateStatus(id string, status JobStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[id]; ok {
		job.Status = status
		job.UpdatedAt = time.Now()
	}
}

// Fail marks a job failed and records the error message.
func (s *Store) Fail(id string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[id]; ok {
		job.Status = StatusFailed
		if err != nil {
			job.Error = err.Error()
		}
		job.UpdatedAt = time.Now()
	}
}

func (s *Store) AddLog(id string, level, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[id]; ok {
		job.Logs = append(job.Logs, LogEntry{
			Timestamp: time.Now(),
			Level:     level,
			Message:   message,
		})
		job.UpdatedAt = time.Now()
	}
}

// Observe records a polled status against the job attached to the update's run.
// It is registered as a poller.Observer.
func (s *Store) Observe(u poller.Update) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byRun[u.Job.ID]
	if !ok {
		return
	}
	job := s.jobs[id]
	job.RunStatus = u.Status
	job.History = append(job.History, StatusEvent{
		Timestamp: u.At,
		Status:    u.Status,
		Check:     u.Check,
		Delay:     u.Delay,
	})
	job.UpdatedAt = time.Now()
}

func (j *Job) clone() Job {
	out := *j
	out.History = append([]StatusEvent(nil), j.History...)
	out.Logs = append([]LogEntry(nil), j.Logs...)
	return out
}
