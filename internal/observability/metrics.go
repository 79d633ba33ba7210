package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// JobMetrics exposes Prometheus collectors for job, confirmation and score
// activity. All methods are safe on a nil receiver.
type JobMetrics struct {
	submitted     *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	active        prometheus.Gauge
	preemptions   prometheus.Counter
	confirmations *prometheus.CounterVec
	evalScore     prometheus.Histogram
}

var (
	defaultJobMetricsOnce sync.Once
	sharedJobMetrics      *JobMetrics
)

// DefaultJobMetrics returns the instance registered with the global registry.
func DefaultJobMetrics() *JobMetrics {
	defaultJobMetricsOnce.Do(func() {
		sharedJobMetrics = MustNewJobMetrics(prometheus.DefaultRegisterer)
	})
	return sharedJobMetrics
}

// MustNewJobMetrics registers the job collectors with reg. Collectors that are
// already registered are reused; any other registration error panics.
func MustNewJobMetrics(reg prometheus.Registerer) *JobMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &JobMetrics{
		submitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskbench",
			Name:      "jobs_submitted_total",
			Help:      "Jobs submitted, by kind.",
		}, []string{"kind"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "taskbench",
			Name:      "job_duration_seconds",
			Help:      "Wall time of finished jobs.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"kind", "result"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "taskbench",
			Name:      "jobs_active",
			Help:      "Jobs whose worker is still running.",
		}),
		preemptions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "taskbench",
			Name:      "job_preemptions_total",
			Help:      "Jobs terminated because a new job was submitted.",
		}),
		confirmations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskbench",
			Name:      "confirmations_total",
			Help:      "Confirmation decisions, by answer.",
		}, []string{"answer"}),
		evalScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "taskbench",
			Name:      "eval_score",
			Help:      "Scores produced by evaluation jobs.",
			Buckets:   []float64{0, 0.25, 0.5, 0.75, 1},
		}),
	}

	m.submitted = register(reg, m.submitted)
	m.duration = register(reg, m.duration)
	m.active = register(reg, m.active)
	m.preemptions = register(reg, m.preemptions)
	m.confirmations = register(reg, m.confirmations)
	m.evalScore = register(reg, m.evalScore)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// JobSubmitted counts a submitted job and marks it active.
func (m *JobMetrics) JobSubmitted(kind string) {
	if m == nil {
		return
	}
	m.submitted.WithLabelValues(kind).Inc()
	m.active.Inc()
}

// JobFinished records the outcome of a job whose worker has exited.
func (m *JobMetrics) JobFinished(kind, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.active.Dec()
	m.duration.WithLabelValues(kind, result).Observe(elapsed.Seconds())
}

// JobPreempted counts a job terminated by a newer submission.
func (m *JobMetrics) JobPreempted() {
	if m == nil {
		return
	}
	m.preemptions.Inc()
}

// RecordConfirmation counts one confirmation decision.
func (m *JobMetrics) RecordConfirmation(answer string) {
	if m == nil {
		return
	}
	m.confirmations.WithLabelValues(answer).Inc()
}

// ObserveScore records an evaluation score.
func (m *JobMetrics) ObserveScore(score float64) {
	if m == nil {
		return
	}
	m.evalScore.Observe(score)
}
