package pacing

import (
	"sync"
	"time"

	"github.com/drblury/routineflow/internal/runtime/events"
	"github.com/drblury/routineflow/internal/runtime/logging"
)

const (
	DefaultNotifyInterval = time.Second
	DefaultWindow         = 200
)

// BatchNotifier keeps a sliding window of recent values and emits the whole
// window as one event every interval while running.
type BatchNotifier struct {
	interval  time.Duration
	eventName string
	source    string
	window    int
	notify    events.Notifier
	logger    logging.ServiceLogger

	mu      sync.Mutex
	data    []float64
	stop    chan struct{}
	done    chan struct{}
	running bool
}

// NewBatchNotifier returns a stopped notifier emitting eventName on behalf
// of source.
func NewBatchNotifier(interval time.Duration, eventName, source string, window int, notify events.Notifier, logger logging.ServiceLogger) *BatchNotifier {
	if interval <= 0 {
		interval = DefaultNotifyInterval
	}
	if window <= 0 {
		window = DefaultWindow
	}
	if notify == nil {
		notify = events.NopNotifier
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &BatchNotifier{
		interval:  interval,
		eventName: eventName,
		source:    source,
		window:    window,
		notify:    notify,
		logger:    logger,
		data:      make([]float64, 0, window),
	}
}

// Add appends v, evicting the oldest value once the window is full.
func (b *BatchNotifier) Add(v float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.data) == b.window {
		copy(b.data, b.data[1:])
		b.data = b.data[:b.window-1]
	}
	b.data = append(b.data, v)
}

// Snapshot returns a copy of the window, oldest first.
func (b *BatchNotifier) Snapshot() []float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]float64, len(b.data))
	copy(out, b.data)
	return out
}

// Start begins periodic emission. The first batch goes out immediately.
func (b *BatchNotifier) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return
	}
	b.running = true
	b.stop = make(chan struct{})
	b.done = make(chan struct{})
	go b.run(b.stop, b.done)
}

// Stop ends periodic emission and waits for the emitting goroutine.
func (b *BatchNotifier) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	stop, done := b.stop, b.done
	b.mu.Unlock()

	close(stop)
	<-done
}

// Running reports whether the notifier is emitting.
func (b *BatchNotifier) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

func (b *BatchNotifier) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		b.emit()
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}

func (b *BatchNotifier) emit() {
	batch := b.Snapshot()
	if len(batch) == 0 {
		return
	}
	ev := events.New(b.eventName, events.ParamRoutineName, b.source, events.ParamDurations, batch)
	if err := b.notify(ev); err != nil {
		b.logger.Debug("Dropping duration batch", logging.LogFields{"event": b.eventName, "error": err.Error()})
	}
}
