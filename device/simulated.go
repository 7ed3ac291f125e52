package device

import (
	"sync/atomic"
	"time"
)

// Simulated is the reference device.Runtime backing every test in this
// repository: a stream is a goroutine draining a FIFO of closures in order,
// an event is a one-shot atomic flag advanced by whichever stream last
// recorded it. It has no notion of real hardware parallelism - Memcpy just
// copies - but it preserves every ordering guarantee spec §3/§5 require,
// which is all the engine above this package actually depends on.
type Simulated struct {
	pollInterval time.Duration // device-side busy-wait granularity for WaitValue
}

// NewSimulated constructs a Simulated runtime. pollInterval tunes how often
// a WaitValue op re-checks its word; zero defaults to 50us, fine-grained
// enough that tests don't pay real wall-clock latency for a spin loop.
func NewSimulated(pollInterval time.Duration) *Simulated {
	if pollInterval <= 0 {
		pollInterval = 50 * time.Microsecond
	}
	return &Simulated{pollInterval: pollInterval}
}

func (s *Simulated) NewStream(priority int) Stream {
	st := &simStream{priority: priority, pollInterval: s.pollInterval, work: make(chan func(), 64)}
	go st.run()
	return st
}

func (*Simulated) NewEvent() Event { return &simEvent{} }

func (*Simulated) AllocPinned(nbytes int) ([]byte, error) { return make([]byte, nbytes), nil }

func (*Simulated) FreePinned([]byte) {}

// StreamMemOpsSupported is true: Simulated backs WaitValue with a real
// busy-poll loop rather than the HostCallback fallback.
func (*Simulated) StreamMemOpsSupported() bool { return true }

type simStream struct {
	priority     int
	pollInterval time.Duration
	work         chan func()
}

func (st *simStream) run() {
	for fn := range st.work {
		fn()
	}
}

func (st *simStream) enqueue(fn func()) {
	st.work <- fn
}

func (st *simStream) Memcpy(dst, src []byte) {
	st.enqueue(func() { copy(dst, src) })
}

func (st *simStream) RecordEvent(e Event) {
	ev := e.(*simEvent)
	st.enqueue(func() { ev.done.Store(true) })
}

func (st *simStream) WaitEvent(e Event) {
	ev := e.(*simEvent)
	st.enqueue(func() {
		for !ev.done.Load() {
			time.Sleep(st.pollInterval)
		}
	})
}

func (st *simStream) WaitValue(word *uint32, ready uint32) {
	st.enqueue(func() {
		for atomic.LoadUint32(word) != ready {
			time.Sleep(st.pollInterval)
		}
	})
}

func (st *simStream) HostCallback(fn func()) {
	st.enqueue(fn)
}

func (st *simStream) Synchronize() {
	done := make(chan struct{})
	st.enqueue(func() { close(done) })
	<-done
}

type simEvent struct {
	done atomic.Bool
}

func (e *simEvent) Query() (bool, error) { return e.done.Load(), nil }

func (e *simEvent) Reset() { e.done.Store(false) }
