package collective

import (
	"errors"
	"testing"
	"time"

	"github.com/liuhatry/Aluminum/device"
)

type fakeOp struct {
	done chan struct{}
	err  error
}

func newFakeOp() *fakeOp { return &fakeOp{done: make(chan struct{})} }

func (f *fakeOp) Test() (bool, error) {
	select {
	case <-f.done:
		return true, f.err
	default:
		return false, nil
	}
}

func TestSignalAtEndAdvancesThroughAllFourPhases(t *testing.T) {
	rt := device.NewSimulated(time.Microsecond)
	stream := rt.NewStream(0)
	startEvent := rt.NewEvent()
	endEvent := rt.NewEvent()

	op := newFakeOp()
	v := Variant{
		Name: "test-signal-at-end",
		Kind: KindSignalAtEnd,
		StartTransport: func(*State) (TransportOp, error) { return op, nil },
	}
	s := New("id1", "comm", v, stream, nil, nil, startEvent, endEvent)

	if got := s.Phase(); got != PhaseWaitingForDeviceCopy {
		t.Fatalf("expected initial phase waiting_for_device_copy, got %v", got)
	}
	if s.Advance() {
		t.Fatal("should not advance before start event completes")
	}

	stream.RecordEvent(startEvent)
	stream.Synchronize()

	if !s.Advance() {
		t.Fatal("expected advance once start event completed")
	}
	if s.Phase() != PhaseTransportStarted {
		t.Fatalf("expected transport_started, got %v", s.Phase())
	}
	if s.Advance() {
		t.Fatal("should not advance while transport op is not done")
	}

	close(op.done)
	if !s.Advance() {
		t.Fatal("expected advance once transport completed")
	}
	if s.Phase() != PhaseSignaled {
		t.Fatalf("expected signaled, got %v", s.Phase())
	}

	if s.Advance() {
		t.Fatal("should not advance before end event completes")
	}
	stream.RecordEvent(endEvent)
	stream.Synchronize()

	if !s.Advance() {
		t.Fatal("expected advance once end event completed")
	}
	if !s.Done() {
		t.Fatal("expected state to be done")
	}
}

func TestSignalNonRootEarlySkipsEndEventWait(t *testing.T) {
	rt := device.NewSimulated(time.Microsecond)
	stream := rt.NewStream(0)
	startEvent := rt.NewEvent()

	op := newFakeOp()
	v := Variant{
		Name: "test-non-root-early",
		Kind: KindSignalNonRootEarly,
		StartTransport: func(*State) (TransportOp, error) { return op, nil },
	}
	s := New("id2", "comm", v, stream, nil, nil, startEvent, startEvent)

	stream.RecordEvent(startEvent)
	stream.Synchronize()
	s.Advance() // -> transport_started

	close(op.done)
	s.Advance() // -> complete directly, no signaled phase
	if !s.Done() {
		t.Fatal("expected immediate completion with no end-event wait")
	}
}

func TestPureTransportSkipsDeviceEntirely(t *testing.T) {
	op := newFakeOp()
	v := Variant{
		Name: "test-pure-transport",
		Kind: KindPureTransport,
		StartTransport: func(*State) (TransportOp, error) { return op, nil },
	}
	s := New("id3", "comm", v, nil, nil, nil, nil, nil)
	if !s.Advance() {
		t.Fatal("pure-transport state should issue its transport op immediately")
	}
	close(op.done)
	if !s.Advance() || !s.Done() {
		t.Fatal("expected completion once transport op finished")
	}
}

func TestFailurePropagatesAndHaltsAdvance(t *testing.T) {
	op := newFakeOp()
	op.err = errors.New("transport blew up")
	v := Variant{
		Name: "test-fail",
		Kind: KindPureTransport,
		StartTransport: func(*State) (TransportOp, error) { return op, nil },
	}
	s := New("id4", "comm", v, nil, nil, nil, nil, nil)
	s.Advance() // issues transport

	close(op.done)
	s.Advance()
	if s.Err() == nil {
		t.Fatal("expected error to be recorded")
	}
	if !s.Done() {
		t.Fatal("a failed state is terminal")
	}
	if s.Advance() {
		t.Fatal("Advance should be a no-op once failed")
	}
}

func TestZeroCount(t *testing.T) {
	if !ZeroCount(0) {
		t.Fatal("expected ZeroCount(0) to be true")
	}
	if ZeroCount(1) {
		t.Fatal("expected ZeroCount(1) to be false")
	}
}
