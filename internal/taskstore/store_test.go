package taskstore

import (
	"errors"
	"testing"
	"time"

	"github.com/cexll/testpilot/internal/poller"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_CreateGetAndList(t *testing.T) {
	store := NewStore()

	a := store.Create(KindIdeas, "first")
	time.Sleep(5 * time.Millisecond)
	b := store.Create(KindGenerate, "second")

	got, ok := store.Get(a)
	require.True(t, ok)
	assert.Equal(t, "first", got.Label)
	assert.Equal(t, StatusPending, got.Status)

	list := store.List()
	require.Len(t, list, 2)
	assert.Equal(t, b, list[0].ID)
	assert.Equal(t, a, list[1].ID)

	_, ok = store.Get("missing")
	assert.False(t, ok)
}

func TestStore_ObserveRecordsHistoryForAttachedRun(t *testing.T) {
	store := NewStore()
	id := store.Create(KindIdeas, "Calc.cs")
	run := poller.Job{ID: "run_1", ThreadID: "thread_1"}
	store.AttachRun(id, run)

	store.Observe(poller.Update{Job: run, Status: poller.StatusInProgress, Check: 1, Delay: time.Second})
	store.Observe(poller.Update{Job: run, Status: poller.StatusCompleted, Check: 2, Delay: 2 * time.Second})
	// updates for unknown runs are ignored
	store.Observe(poller.Update{Job: poller.Job{ID: "other"}, Status: poller.StatusFailed})

	got, _ := store.Get(id)
	assert.Equal(t, StatusRunning, got.Status)
	assert.Equal(t, "thread_1", got.ThreadID)
	assert.Equal(t, poller.StatusCompleted, got.RunStatus)
	require.Len(t, got.History, 2)
	assert.Equal(t, poller.StatusInProgress, got.History[0].Status)
	assert.Equal(t, 2*time.Second, got.History[1].Delay)
}

func TestStore_FailAndLogs(t *testing.T) {
	store := NewStore()
	id := store.Create(KindGenerate, "TestAdd")

	before, _ := store.Get(id)
	time.Sleep(2 * time.Millisecond)
	store.AddLog(id, "info", "submitted")
	store.Fail(id, errors.New("run ended with status failed"))

	got, _ := store.Get(id)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "run ended with status failed", got.Error)
	require.Len(t, got.Logs, 1)
	assert.Equal(t, "submitted", got.Logs[0].Message)
	assert.True(t, got.UpdatedAt.After(before.UpdatedAt))

	// copies do not alias the stored record
	got.Logs[0].Message = "mutated"
	again, _ := store.Get(id)
	assert.Equal(t, "submitted", again.Logs[0].Message)
}
