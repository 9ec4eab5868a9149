package ids

import (
	"crypto/rand"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)

	routineCounters sync.Map // kind -> *atomic.Uint64
)

// CreateULID returns a time-sortable ULID encoded as a 26-character string.
// Messages use it as their per-emission identity.
func CreateULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	return id.String()
}

// SegmentName returns a unique, filesystem-safe name for a shared segment.
func SegmentName(prefix string) string {
	return prefix + "-" + strings.ToLower(CreateULID())
}

// RoutineName generates "<kind>-<n>" where n counts creations of that kind
// within the process.
func RoutineName(kind string) string {
	v, _ := routineCounters.LoadOrStore(kind, new(atomic.Uint64))
	n := v.(*atomic.Uint64).Add(1) - 1
	return fmt.Sprintf("%s-%d", kind, n)
}
