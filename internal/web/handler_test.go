package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cexll/testpilot/internal/metrics"
	"github.com/cexll/testpilot/internal/poller"
	"github.com/cexll/testpilot/internal/taskstore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandler(t *testing.T) (*taskstore.Store, http.Handler) {
	t.Helper()
	store := taskstore.NewStore()
	reg := prometheus.NewRegistry()
	m := metrics.NewPollMetrics(reg)
	m.ObservePoll(poller.StatusInProgress)

	h, err := NewHandler(store, reg)
	require.NoError(t, err)
	return store, h.Router()
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHandler_Health(t *testing.T) {
	_, h := newTestHandler(t)

	rec := get(t, h, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestHandler_JobListAndFilter(t *testing.T) {
	store, h := newTestHandler(t)
	ideas := store.Create(taskstore.KindIdeas, "Calc.cs")
	store.AttachRun(ideas, poller.Job{ID: "run_1", ThreadID: "thread_1"})
	store.Create(taskstore.KindGenerate, "Add_ReturnsSum")

	rec := get(t, h, "/jobs")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var jobs []taskstore.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &jobs))
	assert.Len(t, jobs, 2)

	rec = get(t, h, "/jobs?kind=ideas")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &jobs))
	require.Len(t, jobs, 1)
	assert.Equal(t, "run_1", jobs[0].RunID)
	assert.Equal(t, taskstore.StatusRunning, jobs[0].Status)
}

func TestHandler_JobDetail(t *testing.T) {
	store, h := newTestHandler(t)
	id := store.Create(taskstore.KindGenerate, "Add_Overflow")
	store.AttachRun(id, poller.Job{ID: "run_2", ThreadID: "thread_2"})
	store.Observe(poller.Update{Job: poller.Job{ID: "run_2", ThreadID: "thread_2"}, Status: poller.StatusFailed, Check: 1})
	store.Fail(id, errors.New("run ended with status failed"))

	rec := get(t, h, "/jobs/"+id)
	require.Equal(t, http.StatusOK, rec.Code)

	var job taskstore.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, taskstore.StatusFailed, job.Status)
	assert.Equal(t, poller.StatusFailed, job.RunStatus)
	require.Len(t, job.History, 1)
	assert.Equal(t, "run ended with status failed", job.Error)

	rec = get(t, h, "/jobs/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_JobPage(t *testing.T) {
	store, h := newTestHandler(t)
	store.Create(taskstore.KindIdeas, "Parser.cs")

	rec := get(t, h, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Parser.cs")
	assert.Contains(t, rec.Body.String(), "○")
}

func TestHandler_Metrics(t *testing.T) {
	_, h := newTestHandler(t)

	rec := get(t, h, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `testpilot_run_polls_total{status="in_progress"} 1`)
}

func TestHandler_NoMetricsWithoutGatherer(t *testing.T) {
	h, err := NewHandler(taskstore.NewStore(), nil)
	require.NoError(t, err)

	rec := get(t, h.Router(), "/metrics")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
