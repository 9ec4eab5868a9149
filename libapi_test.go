package routineflow

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestFacadeRunsPipeline(t *testing.T) {
	pipe, err := NewPipe(&Config{DisableAutoPacing: true}, NewNopLogger())
	if err != nil {
		t.Fatalf("unexpected error creating pipe: %v", err)
	}

	var next atomic.Int64
	source := NewSource(ProducerFunc(func(context.Context) (any, error) {
		n := next.Add(1)
		if n > 3 {
			time.Sleep(time.Millisecond)
			return nil, nil
		}
		return int(n), nil
	}), WithName("numbers"))

	double := NewMiddle(Process(func(_ context.Context, n int) (int, error) {
		return n * 2, nil
	}), WithName("double"))

	var mu sync.Mutex
	var got []int
	sink := NewDestination(Consume(func(_ context.Context, n int) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, n)
		return nil
	}), WithName("collect"))

	if _, err := pipe.CreateFlow("math", RunnerThread, source, double, sink); err != nil {
		t.Fatalf("unexpected error creating flow: %v", err)
	}
	if err := pipe.Link(nil, source, double); err != nil {
		t.Fatalf("link failed: %v", err)
	}
	if err := pipe.Link(nil, double, sink); err != nil {
		t.Fatalf("link failed: %v", err)
	}
	if err := pipe.Build(context.Background()); err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if err := pipe.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n == 3 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := pipe.Kill(); err != nil {
		t.Fatalf("kill failed: %v", err)
	}
	pipe.Join()

	mu.Lock()
	defer mu.Unlock()
	want := []int{2, 4, 6}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestTypedAdaptersRejectOtherPayloads(t *testing.T) {
	consumer := Consume(func(context.Context, string) error { return nil })
	err := consumer.Consume(context.Background(), 42)
	var unsupported *UnsupportedPayloadError
	if !errors.As(err, &unsupported) {
		t.Fatalf("expected unsupported payload error, got %v", err)
	}
}

func TestStrategyExports(t *testing.T) {
	if !GetStrategyCapabilities("shared-segment").CrossProcess {
		t.Fatal("expected shared-segment to cross process boundaries")
	}
	if _, err := BuildStrategy("bogus", &Config{}, nil); !errors.Is(err, ErrUnknownStrategy) {
		t.Fatalf("expected unknown strategy error, got %v", err)
	}
}

func TestEncodingExportAliases(t *testing.T) {
	payload := map[string]string{"hello": "world"}
	data, err := Marshal(payload)
	if err != nil {
		t.Fatalf("marshal alias failed: %v", err)
	}
	var decoded map[string]string
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal alias failed: %v", err)
	}
	if decoded["hello"] != "world" {
		t.Fatalf("expected round trip, got %#v", decoded)
	}
}

func TestEventExports(t *testing.T) {
	ev := NewEvent(EventUpdateFPS, "fps", 12.5)
	if ev.Name != "update-fps" {
		t.Fatalf("expected update-fps, got %q", ev.Name)
	}
	if ev.Params["fps"] != 12.5 {
		t.Fatalf("expected fps param, got %#v", ev.Params)
	}
}

func TestErrorCategoryConstants(t *testing.T) {
	if ErrorCategoryNone != "none" {
		t.Fatalf("expected ErrorCategoryNone to be 'none', got %q", ErrorCategoryNone)
	}
	if ErrorCategoryUnsupported != "unsupported_payload" {
		t.Fatalf("expected ErrorCategoryUnsupported to be 'unsupported_payload', got %q", ErrorCategoryUnsupported)
	}
}
