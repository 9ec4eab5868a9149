package synchronizer

import (
	"slices"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/drblury/routineflow/internal/runtime/events"
)

type batch struct {
	durations []float64
	at        time.Time
}

// DurationListener keeps the latest duration batch reported by each routine.
type DurationListener struct {
	maxAge time.Duration
	now    func() time.Time

	mu      sync.RWMutex
	batches map[string]batch
}

// NewDurationListener returns a listener ignoring batches older than maxAge.
// A non-positive maxAge keeps batches forever.
func NewDurationListener(maxAge time.Duration) *DurationListener {
	return &DurationListener{maxAge: maxAge, now: time.Now, batches: make(map[string]batch)}
}

// Record stores the batch carried by a routine-duration event.
func (l *DurationListener) Record(ev events.Event) error {
	name, err := ev.String(events.ParamRoutineName)
	if err != nil {
		return err
	}
	durations, err := ev.Floats(events.ParamDurations)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.batches[name] = batch{durations: durations, at: l.now()}
	l.mu.Unlock()
	return nil
}

// Latest returns the most recent batch of routine, if still fresh.
func (l *DurationListener) Latest(routine string) ([]float64, bool) {
	l.mu.RLock()
	b, ok := l.batches[routine]
	l.mu.RUnlock()
	if !ok || len(b.durations) == 0 {
		return nil, false
	}
	if l.maxAge > 0 && l.now().Sub(b.at) > l.maxAge {
		return nil, false
	}
	return slices.Clone(b.durations), true
}

// MedianFPS inverts the median of the latest batch of routine into a rate.
func (l *DurationListener) MedianFPS(routine string) (float64, bool) {
	durations, ok := l.Latest(routine)
	if !ok {
		return 0, false
	}
	m := Median(durations)
	if m <= 0 {
		return 0, false
	}
	return 1 / m, true
}

// Median returns the middle value of xs, averaging the two middle values
// when the count is even. xs is not modified.
func Median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := slices.Clone(xs)
	slices.Sort(sorted)
	m := stat.Quantile(0.5, stat.Empirical, sorted, nil)
	if n := len(sorted); n%2 == 0 {
		m = (m + sorted[n/2]) / 2
	}
	return m
}
