package ids

import (
	"strings"
	"sync"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateULIDSequentialOrdering(t *testing.T) {
	const total = 100
	ids := make([]string, total)
	for i := 0; i < total; i++ {
		ids[i] = CreateULID()
	}

	for i := 0; i < total; i++ {
		require.Len(t, ids[i], 26)
		_, err := ulid.Parse(ids[i])
		require.NoError(t, err)
	}
	for i := 1; i < total; i++ {
		if ids[i-1] >= ids[i] {
			t.Fatalf("expected ULIDs to be strictly increasing, %s >= %s", ids[i-1], ids[i])
		}
	}
}

func TestCreateULIDConcurrentUniqueness(t *testing.T) {
	const goroutines = 10
	const perGoroutine = 20

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[string]struct{})
	)

	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				id := CreateULID()
				mu.Lock()
				if _, ok := seen[id]; ok {
					t.Errorf("duplicate ULID generated: %s", id)
				}
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, goroutines*perGoroutine)
}

func TestSegmentName(t *testing.T) {
	a := SegmentName("rf")
	b := SegmentName("rf")

	assert.True(t, strings.HasPrefix(a, "rf-"))
	assert.Equal(t, strings.ToLower(a), a)
	assert.NotEqual(t, a, b)
}

func TestRoutineNameCountsPerKind(t *testing.T) {
	first := RoutineName("IdsTestKind")
	second := RoutineName("IdsTestKind")
	other := RoutineName("IdsOtherKind")

	assert.Equal(t, "IdsTestKind-0", first)
	assert.Equal(t, "IdsTestKind-1", second)
	assert.Equal(t, "IdsOtherKind-0", other)
}
