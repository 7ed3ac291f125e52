package hk

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestRegFiresRepeatedly(t *testing.T) {
	h := New()
	go h.Run()
	defer h.Stop(nil)

	var calls atomic.Int32
	h.Reg("job", func() time.Duration {
		calls.Add(1)
		return time.Millisecond
	}, time.Millisecond)

	deadline := time.Now().Add(200 * time.Millisecond)
	for calls.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if calls.Load() < 3 {
		t.Fatalf("expected at least 3 calls, got %d", calls.Load())
	}
}

func TestUnregStopsFutureCalls(t *testing.T) {
	h := New()
	go h.Run()
	defer h.Stop(nil)

	var calls atomic.Int32
	h.Reg("job", func() time.Duration {
		calls.Add(1)
		return time.Millisecond
	}, time.Millisecond)

	time.Sleep(10 * time.Millisecond)
	h.Unreg("job")
	n := calls.Load()
	time.Sleep(20 * time.Millisecond)
	if calls.Load() > n+1 {
		t.Fatalf("expected calls to stop after Unreg, went from %d to %d", n, calls.Load())
	}
}

func TestReturningNonPositiveUnregisters(t *testing.T) {
	h := New()
	go h.Run()
	defer h.Stop(nil)

	var calls atomic.Int32
	h.Reg("once", func() time.Duration {
		calls.Add(1)
		return 0
	}, time.Millisecond)

	time.Sleep(30 * time.Millisecond)
	if calls.Load() != 1 {
		t.Fatalf("expected exactly 1 call, got %d", calls.Load())
	}
}
