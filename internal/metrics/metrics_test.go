package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/cexll/testpilot/internal/poller"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPollMetrics_Counts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPollMetrics(reg)

	m.ObservePoll(poller.StatusQueued)
	m.ObservePoll(poller.StatusInProgress)
	m.ObservePoll(poller.StatusInProgress)
	m.ObserveSequence(poller.StatusCompleted, 3*time.Second, nil)
	m.ObserveSequence("", time.Second, errors.New("eof"))
	m.ObserveHandoff(nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.polls.WithLabelValues("in_progress")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.polls.WithLabelValues("queued")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sequences.WithLabelValues("completed", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sequences.WithLabelValues("unknown", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.handoffs.WithLabelValues("ok")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.duration))
}

func TestPollMetrics_ImplementsRecorder(t *testing.T) {
	var _ poller.Recorder = NewPollMetrics(prometheus.NewRegistry())
}
