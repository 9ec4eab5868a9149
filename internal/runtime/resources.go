package runtime

import (
	"runtime"
	"runtime/metrics"
	"sync"
	"time"
)

// ResourceUsage is a coarse view of process resources, attached to stats.
type ResourceUsage struct {
	CPUPercent  float64 `json:"cpu_percent"`
	MemoryBytes uint64  `json:"memory_bytes"`
	Goroutines  int     `json:"goroutines"`
}

const (
	metricCPUTotal   = "/cpu/classes/total:cpu-seconds"
	metricGoroutines = "/sched/goroutines:goroutines"
	metricHeapBytes  = "/memory/classes/heap/objects:bytes"
)

// resourceTracker samples CPU and memory through runtime/metrics. A single
// tracker is shared by every routine of a pipeline.
type resourceTracker struct {
	mu             sync.Mutex
	samples        []metrics.Sample
	lastCPUSeconds float64
	lastSample     time.Time
	numCPU         float64
}

func newResourceTracker() *resourceTracker {
	return &resourceTracker{
		samples: defaultSamples(),
		numCPU:  float64(runtime.NumCPU()),
	}
}

func defaultSamples() []metrics.Sample {
	return []metrics.Sample{
		{Name: metricCPUTotal},
		{Name: metricGoroutines},
		{Name: metricHeapBytes},
	}
}

func (r *resourceTracker) Snapshot() ResourceUsage {
	if r == nil {
		return ResourceUsage{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.samples) == 0 {
		r.samples = defaultSamples()
	}
	metrics.Read(r.samples)

	var usage ResourceUsage
	now := time.Now()
	for _, s := range r.samples {
		switch s.Name {
		case metricCPUTotal:
			if s.Value.Kind() != metrics.KindFloat64 {
				continue
			}
			cpuSeconds := s.Value.Float64()
			if !r.lastSample.IsZero() {
				deltaWall := now.Sub(r.lastSample).Seconds()
				if deltaWall > 0 && r.numCPU > 0 {
					usage.CPUPercent = ((cpuSeconds - r.lastCPUSeconds) / deltaWall) / r.numCPU * 100
				}
			}
			r.lastCPUSeconds = cpuSeconds
		case metricGoroutines:
			if s.Value.Kind() == metrics.KindUint64 {
				usage.Goroutines = int(s.Value.Uint64())
			}
		case metricHeapBytes:
			if s.Value.Kind() == metrics.KindUint64 {
				usage.MemoryBytes = s.Value.Uint64()
			}
		}
	}
	r.lastSample = now

	if usage.Goroutines == 0 {
		usage.Goroutines = runtime.NumGoroutine()
	}
	return usage
}
