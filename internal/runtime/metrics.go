package runtime

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "routineflow"
	metricsSubsystem = "routine"
)

// PipelineMetrics exposes per-routine Prometheus collectors.
type PipelineMetrics struct {
	mu sync.Mutex

	iterationsTotal *prometheus.CounterVec
	failuresTotal   *prometheus.CounterVec
	droppedTotal    *prometheus.CounterVec
	emittedTotal    *prometheus.CounterVec
	iterationTime   *prometheus.HistogramVec
	targetFPS       *prometheus.GaugeVec
	queueDepth      *prometheus.GaugeVec

	registerer prometheus.Registerer
	registered bool
}

func newRoutineCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func newRoutineGaugeVec(name, help string, labels []string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// NewPipelineMetrics creates the collectors. A nil registerer selects the
// Prometheus default registerer.
func NewPipelineMetrics(registerer prometheus.Registerer) *PipelineMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	labels := []string{"flow", "routine"}
	return &PipelineMetrics{
		registerer:      registerer,
		iterationsTotal: newRoutineCounterVec("iterations_total", "Total number of loop iterations run by a routine", labels),
		failuresTotal:   newRoutineCounterVec("failures_total", "Total number of failed iterations by category", append(labels, "category")),
		droppedTotal:    newRoutineCounterVec("dropped_messages_total", "Messages dropped because no logic accepted their payload", labels),
		emittedTotal:    newRoutineCounterVec("emitted_messages_total", "Messages handed to the outbound wire", labels),
		iterationTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "iteration_duration_seconds",
				Help:      "Duration of the user logic of one iteration",
				Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			labels,
		),
		targetFPS:  newRoutineGaugeVec("target_fps", "Current target rate of a routine, 0 when unpaced", labels),
		queueDepth: newRoutineGaugeVec("queue_depth", "Messages waiting in the inbound queue of a routine", labels),
	}
}

// Register registers the collectors. Safe to call multiple times. When an
// identical collector is already registered, it is reused so that several
// pipelines in one process report into the same series.
func (m *PipelineMetrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	var err error
	if m.iterationsTotal, err = registerOrReuse(m.registerer, m.iterationsTotal); err != nil {
		return err
	}
	if m.failuresTotal, err = registerOrReuse(m.registerer, m.failuresTotal); err != nil {
		return err
	}
	if m.droppedTotal, err = registerOrReuse(m.registerer, m.droppedTotal); err != nil {
		return err
	}
	if m.emittedTotal, err = registerOrReuse(m.registerer, m.emittedTotal); err != nil {
		return err
	}
	if m.iterationTime, err = registerOrReuse(m.registerer, m.iterationTime); err != nil {
		return err
	}
	if m.targetFPS, err = registerOrReuse(m.registerer, m.targetFPS); err != nil {
		return err
	}
	if m.queueDepth, err = registerOrReuse(m.registerer, m.queueDepth); err != nil {
		return err
	}

	m.registered = true
	return nil
}

func registerOrReuse[C prometheus.Collector](registerer prometheus.Registerer, c C) (C, error) {
	err := registerer.Register(c)
	if err == nil {
		return c, nil
	}
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		if existing, ok := already.ExistingCollector.(C); ok {
			return existing, nil
		}
	}
	return c, err
}

// RecordIteration accounts for one finished iteration.
func (m *PipelineMetrics) RecordIteration(flow, routine string, d time.Duration, category ErrorCategory) {
	if m == nil {
		return
	}
	m.iterationsTotal.WithLabelValues(flow, routine).Inc()
	m.iterationTime.WithLabelValues(flow, routine).Observe(d.Seconds())
	switch category {
	case ErrorCategoryNone:
	case ErrorCategoryUnsupported:
		m.droppedTotal.WithLabelValues(flow, routine).Inc()
		m.failuresTotal.WithLabelValues(flow, routine, string(category)).Inc()
	default:
		m.failuresTotal.WithLabelValues(flow, routine, string(category)).Inc()
	}
}

func (m *PipelineMetrics) RecordEmitted(flow, routine string) {
	if m == nil {
		return
	}
	m.emittedTotal.WithLabelValues(flow, routine).Inc()
}

func (m *PipelineMetrics) SetTargetFPS(flow, routine string, fps float64) {
	if m == nil {
		return
	}
	m.targetFPS.WithLabelValues(flow, routine).Set(fps)
}

func (m *PipelineMetrics) SetQueueDepth(flow, routine string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(flow, routine).Set(float64(depth))
}

// Reset clears every series (useful for testing).
func (m *PipelineMetrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.iterationsTotal.Reset()
	m.failuresTotal.Reset()
	m.droppedTotal.Reset()
	m.emittedTotal.Reset()
	m.iterationTime.Reset()
	m.targetFPS.Reset()
	m.queueDepth.Reset()
}
