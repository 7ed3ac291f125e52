package device

import "sync"

// EventPool implements spec §4.2: lazy creation, no upper bound, thread-safe
// pool itself (though a single pooled Event is not safe to touch from two
// goroutines concurrently - the same caveat the spec calls out). Backed by
// sync.Pool, grounded on the teacher's own Alloc/Free-style object-pool
// pattern (transport.AllocSend/FreeSend in the teacher's transport/api.go).
type EventPool struct {
	p sync.Pool
}

func NewEventPool(rt Runtime) *EventPool {
	ep := &EventPool{}
	ep.p.New = func() any { return rt.NewEvent() }
	return ep
}

// GetEvent returns an event ready to be recorded on any stream.
func (ep *EventPool) GetEvent() Event {
	e := ep.p.Get().(Event)
	e.Reset()
	return e
}

// ReleaseEvent returns e to the pool. The caller must have already observed
// e's completion (or otherwise know no stream still references it).
func (ep *EventPool) ReleaseEvent(e Event) { ep.p.Put(e) }
