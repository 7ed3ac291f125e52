package progress

import (
	"testing"
	"time"

	"github.com/liuhatry/Aluminum/collective"
	"github.com/liuhatry/Aluminum/device"
)

type fakeOp struct{ done chan struct{} }

func (f *fakeOp) Test() (bool, error) {
	select {
	case <-f.done:
		return true, nil
	default:
		return false, nil
	}
}

func TestEngineDrivesStateToCompletion(t *testing.T) {
	rt := device.NewSimulated(time.Microsecond)
	stream := rt.NewStream(0)
	startEvent := rt.NewEvent()
	endEvent := rt.NewEvent()

	op := &fakeOp{done: make(chan struct{})}
	v := collective.Variant{
		Name: "test",
		Kind: collective.KindSignalAtEnd,
		StartTransport: func(*collective.State) (collective.TransportOp, error) { return op, nil },
	}
	s := collective.New("id", "comm", v, stream, nil, nil, startEvent, endEvent)

	e := New(nil, nil)
	go e.Run()
	defer func() { e.Stop(nil); e.WaitStopped() }()

	e.Enqueue(s)
	stream.RecordEvent(startEvent)
	close(op.done)
	stream.RecordEvent(endEvent)

	deadline := time.Now().Add(time.Second)
	for !s.Done() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !s.Done() {
		t.Fatal("expected the engine to drive the state to completion")
	}
}

func TestInFlightReflectsEnqueuedAndCompletedStates(t *testing.T) {
	rt := device.NewSimulated(time.Microsecond)
	stream := rt.NewStream(0)
	ev := rt.NewEvent()

	op := &fakeOp{done: make(chan struct{})}
	v := collective.Variant{
		Name: "test",
		Kind: collective.KindSignalNonRootEarly,
		StartTransport: func(*collective.State) (collective.TransportOp, error) { return op, nil },
	}
	s := collective.New("id", "comm", v, stream, nil, nil, ev, ev)

	e := New(nil, nil)
	go e.Run()
	defer func() { e.Stop(nil); e.WaitStopped() }()

	e.Enqueue(s)
	time.Sleep(5 * time.Millisecond)
	if e.InFlight() == 0 {
		t.Fatal("expected the state to be tracked before its event fires")
	}

	stream.RecordEvent(ev)
	close(op.done)

	deadline := time.Now().Add(time.Second)
	for e.InFlight() != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if e.InFlight() != 0 {
		t.Fatal("expected the engine to reap the state once complete")
	}
}
