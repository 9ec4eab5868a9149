package runtime

import (
	"context"
	"errors"
	"math"
	"slices"
	"sync"
	"time"

	errspkg "github.com/drblury/routineflow/internal/runtime/errors"
	"github.com/drblury/routineflow/internal/runtime/jsoncodec"
)

const (
	latencySampleSize    = 256
	throughputWindowSize = time.Minute
)

// RoutineStats aggregates what a routine has done since it was created.
type RoutineStats struct {
	mu sync.Mutex

	Iterations      uint64    `json:"iterations"`
	Failures        uint64    `json:"failures"`
	Dropped         uint64    `json:"dropped"`
	Emitted         uint64    `json:"emitted"`
	LastIterationAt time.Time `json:"last_iteration_at"`

	Latency    LatencyMetrics    `json:"latency"`
	Throughput ThroughputMetrics `json:"throughput"`
	Errors     ErrorBreakdown    `json:"errors"`
	Resource   ResourceUsage     `json:"resource"`
	Backlog    BacklogMetrics    `json:"backlog"`

	totalDuration    time.Duration
	latencyWindow    *latencyWindow
	throughputWindow *throughputWindow
	resourceSampler  *resourceTracker
}

// RoutineInfo is the introspection view of one routine.
type RoutineInfo struct {
	Name      string        `json:"name"`
	Flow      string        `json:"flow"`
	Kind      string        `json:"kind"`
	Runner    string        `json:"runner"`
	State     string        `json:"state"`
	Pacing    string        `json:"pacing"`
	TargetFPS float64       `json:"target_fps"`
	Stats     *RoutineStats `json:"stats"`
}

type LatencyMetrics struct {
	AverageNs  int64 `json:"average_ns"`
	P50Ns      int64 `json:"p50_ns"`
	P95Ns      int64 `json:"p95_ns"`
	P99Ns      int64 `json:"p99_ns"`
	LastNs     int64 `json:"last_ns"`
	SampleSize int   `json:"sample_size"`
}

type ThroughputMetrics struct {
	CurrentFPS         float64 `json:"current_fps"`
	WindowSeconds      float64 `json:"window_seconds"`
	IterationsInWindow uint64  `json:"iterations_in_window"`
}

type ErrorBreakdown struct {
	Iteration   uint64 `json:"iteration"`
	Unsupported uint64 `json:"unsupported_payload"`
	Transport   uint64 `json:"transport"`
	Other       uint64 `json:"other"`
	LastError   string `json:"last_error,omitempty"`
}

type BacklogMetrics struct {
	QueueDepth    int `json:"queue_depth"`
	QueueCapacity int `json:"queue_capacity"`
}

// ErrorCategory buckets iteration failures for stats and metrics.
type ErrorCategory string

const (
	ErrorCategoryNone        ErrorCategory = "none"
	ErrorCategoryIteration   ErrorCategory = "iteration"
	ErrorCategoryUnsupported ErrorCategory = "unsupported_payload"
	ErrorCategoryTransport   ErrorCategory = "transport"
	ErrorCategoryOther       ErrorCategory = "other"
)

// ErrorClassifier maps an error onto a category.
type ErrorClassifier func(error) ErrorCategory

func defaultErrorClassifier(err error) ErrorCategory {
	if err == nil {
		return ErrorCategoryNone
	}
	var unsupported *errspkg.UnsupportedPayloadError
	if errors.As(err, &unsupported) {
		return ErrorCategoryUnsupported
	}
	if errors.Is(err, errspkg.ErrClosed) || errors.Is(err, errspkg.ErrUnknownStrategy) ||
		errors.Is(err, context.DeadlineExceeded) {
		return ErrorCategoryTransport
	}
	var iteration *errspkg.IterationError
	if errors.As(err, &iteration) {
		return ErrorCategoryIteration
	}
	return ErrorCategoryOther
}

func newRoutineStats(sampler *resourceTracker) *RoutineStats {
	return &RoutineStats{
		latencyWindow:    newLatencyWindow(latencySampleSize),
		throughputWindow: newThroughputWindow(throughputWindowSize),
		resourceSampler:  sampler,
		Backlog:          BacklogMetrics{QueueDepth: -1, QueueCapacity: -1},
	}
}

// record accounts for one finished iteration.
func (s *RoutineStats) record(duration time.Duration, category ErrorCategory, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	s.Iterations++
	s.LastIterationAt = now
	s.totalDuration += duration

	switch category {
	case ErrorCategoryNone:
	case ErrorCategoryUnsupported:
		s.Dropped++
		s.Errors.Unsupported++
	case ErrorCategoryIteration:
		s.Failures++
		s.Errors.Iteration++
	case ErrorCategoryTransport:
		s.Failures++
		s.Errors.Transport++
	default:
		s.Failures++
		s.Errors.Other++
	}
	if err != nil {
		s.Errors.LastError = err.Error()
	}

	s.latencyWindow.Add(duration)
	s.Latency = s.latencyWindow.Snapshot()
	s.Latency.AverageNs = int64(s.totalDuration) / int64(s.Iterations)

	snap := s.throughputWindow.AddAndSnapshot(now)
	s.Throughput = ThroughputMetrics{
		CurrentFPS:         snap.CurrentFPS,
		WindowSeconds:      snap.WindowSeconds,
		IterationsInWindow: uint64(snap.Count),
	}
}

func (s *RoutineStats) emitted() {
	s.mu.Lock()
	s.Emitted++
	s.mu.Unlock()
}

func (s *RoutineStats) backlog(depth, capacity int) {
	s.mu.Lock()
	s.Backlog = BacklogMetrics{QueueDepth: depth, QueueCapacity: capacity}
	s.mu.Unlock()
}

// StatsSnapshot is a point-in-time copy of RoutineStats.
type StatsSnapshot struct {
	Iterations      uint64            `json:"iterations"`
	Failures        uint64            `json:"failures"`
	Dropped         uint64            `json:"dropped"`
	Emitted         uint64            `json:"emitted"`
	LastIterationAt time.Time         `json:"last_iteration_at"`
	Latency         LatencyMetrics    `json:"latency"`
	Throughput      ThroughputMetrics `json:"throughput"`
	Errors          ErrorBreakdown    `json:"errors"`
	Resource        ResourceUsage     `json:"resource"`
	Backlog         BacklogMetrics    `json:"backlog"`
}

// Snapshot returns a consistent copy of the counters.
func (s *RoutineStats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resourceSampler != nil {
		s.Resource = s.resourceSampler.Snapshot()
	}
	return StatsSnapshot{
		Iterations:      s.Iterations,
		Failures:        s.Failures,
		Dropped:         s.Dropped,
		Emitted:         s.Emitted,
		LastIterationAt: s.LastIterationAt,
		Latency:         s.Latency,
		Throughput:      s.Throughput,
		Errors:          s.Errors,
		Resource:        s.Resource,
		Backlog:         s.Backlog,
	}
}

func (s *RoutineStats) MarshalJSON() ([]byte, error) {
	return jsoncodec.Marshal(s.Snapshot())
}

// latencyWindow is a ring of the most recent iteration durations.
type latencyWindow struct {
	samples []int64
	next    int
	filled  int
	last    int64
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = latencySampleSize
	}
	return &latencyWindow{samples: make([]int64, size)}
}

func (lw *latencyWindow) Add(d time.Duration) {
	lw.samples[lw.next] = int64(d)
	lw.last = int64(d)
	lw.next = (lw.next + 1) % len(lw.samples)
	if lw.filled < len(lw.samples) {
		lw.filled++
	}
}

func (lw *latencyWindow) Snapshot() LatencyMetrics {
	m := LatencyMetrics{LastNs: lw.last}
	if lw.filled == 0 {
		return m
	}
	sorted := make([]int64, 0, lw.filled)
	for i := range lw.filled {
		idx := (lw.next - lw.filled + i + len(lw.samples)) % len(lw.samples)
		sorted = append(sorted, lw.samples[idx])
	}
	slices.Sort(sorted)
	m.SampleSize = lw.filled
	m.P50Ns = percentile(sorted, 0.50)
	m.P95Ns = percentile(sorted, 0.95)
	m.P99Ns = percentile(sorted, 0.99)
	return m
}

// percentile interpolates linearly between the closest ranks of sorted.
func percentile(sorted []int64, q float64) int64 {
	switch {
	case len(sorted) == 0:
		return 0
	case q <= 0:
		return sorted[0]
	case q >= 1:
		return sorted[len(sorted)-1]
	}
	pos := q * float64(len(sorted)-1)
	lower, upper := int(math.Floor(pos)), int(math.Ceil(pos))
	if lower == upper {
		return sorted[lower]
	}
	frac := pos - float64(lower)
	return sorted[lower] + int64(float64(sorted[upper]-sorted[lower])*frac)
}

// throughputWindow keeps iteration timestamps within a horizon.
type throughputWindow struct {
	horizon time.Duration
	stamps  []time.Time
}

type throughputSnapshot struct {
	Count         int
	WindowSeconds float64
	CurrentFPS    float64
}

func newThroughputWindow(horizon time.Duration) *throughputWindow {
	return &throughputWindow{horizon: horizon, stamps: make([]time.Time, 0, 64)}
}

func (tw *throughputWindow) AddAndSnapshot(now time.Time) throughputSnapshot {
	tw.stamps = append(tw.stamps, now)
	cutoff := now.Add(-tw.horizon)
	drop := 0
	for drop < len(tw.stamps) && tw.stamps[drop].Before(cutoff) {
		drop++
	}
	tw.stamps = slices.Delete(tw.stamps, 0, drop)

	span := now.Sub(tw.stamps[0])
	if span <= 0 {
		span = time.Nanosecond
	}
	count := len(tw.stamps)
	return throughputSnapshot{
		Count:         count,
		WindowSeconds: span.Seconds(),
		CurrentFPS:    float64(count) / span.Seconds(),
	}
}
