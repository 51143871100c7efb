package metrics

import (
	"time"

	"github.com/cexll/testpilot/internal/poller"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PollMetrics records polling activity. It implements poller.Recorder.
type PollMetrics struct {
	polls     *prometheus.CounterVec
	sequences *prometheus.CounterVec
	duration  prometheus.Histogram
	handoffs  *prometheus.CounterVec
}

// NewPollMetrics registers the polling metrics with reg.
func NewPollMetrics(reg prometheus.Registerer) *PollMetrics {
	factory := promauto.With(reg)
	return &PollMetrics{
		// polls counts every status retrieval by observed status
		polls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "testpilot_run_polls_total",
			Help: "Total run status retrievals by observed status",
		}, []string{"status"}),

		sequences: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "testpilot_poll_sequences_total",
			Help: "Finished polling sequences by final status and result",
		}, []string{"status", "result"}),

		// duration tracks wall time from first check to hand-off completion
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "testpilot_poll_sequence_duration_seconds",
			Help:    "Polling sequence duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~4m
		}),

		handoffs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "testpilot_handoffs_total",
			Help: "Completion hand-offs by result",
		}, []string{"result"}),
	}
}

func (m *PollMetrics) ObservePoll(status poller.Status) {
	m.polls.WithLabelValues(string(status)).Inc()
}

func (m *PollMetrics) ObserveSequence(final poller.Status, elapsed time.Duration, err error) {
	status := string(final)
	if status == "" {
		status = "unknown"
	}
	m.sequences.WithLabelValues(status, result(err)).Inc()
	m.duration.Observe(elapsed.Seconds())
}

func (m *PollMetrics) ObserveHandoff(err error) {
	m.handoffs.WithLabelValues(result(err)).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
