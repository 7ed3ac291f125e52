// Package request implements the request handle of spec §4.6: a
// reference-counted, host- and device-observable completion token produced
// by every non-blocking collective, whose Wait is a stream-ordering
// operation, never a CPU barrier.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package request

import (
	"sync/atomic"

	"github.com/liuhatry/Aluminum/device"
)

// Handle is the request handle. A nil *Handle is the sentinel "null
// request" of spec §4.6/§7: Test and Wait are no-ops on it.
type Handle struct {
	endEvent device.Event
	stream   device.Stream
	events   *device.EventPool
	refs     atomic.Int32
	err      atomic.Pointer[error]
	done     atomic.Bool
}

// New is called by the backend façade when a non-blocking op is issued.
// endEvent is the event that will be recorded, on stream, once the
// transport completion has propagated back to the device (spec §3: "the
// request's end-side device event is always eventually recorded on a
// stream ordered after the transport completion").
func New(endEvent device.Event, stream device.Stream, events *device.EventPool) *Handle {
	h := &Handle{endEvent: endEvent, stream: stream, events: events}
	h.refs.Store(1)
	return h
}

// SetErr records a transport or device error observed by the progress
// engine for this request, surfaced at the next Test/Wait call (spec §7).
func (h *Handle) SetErr(err error) {
	if err == nil {
		return
	}
	h.err.CompareAndSwap(nil, &err)
}

// Test returns true if the request's end-side device event has completed.
// A null request is a no-op that returns true (spec §4.6). On a true
// result the request's internal state is marked done so that repeated Test
// calls short-circuit without re-querying the event (spec §8, idempotent
// test/wait law).
func (h *Handle) Test() (bool, error) {
	if h == nil {
		return true, nil
	}
	if h.done.Load() {
		return true, h.loadErr()
	}
	done, err := h.endEvent.Query()
	if err != nil {
		h.SetErr(err)
	}
	if done {
		h.done.Store(true)
		h.release()
	}
	return done, h.loadErr()
}

// Wait does not block the host. It enqueues a wait on the end-side event
// into onto (normally the request's original user stream via
// OriginalStream), making subsequent user-submitted device work on that
// stream correctly dependent on the collective - the design's key
// subtlety (spec §4.6). A null request is a no-op.
func (h *Handle) Wait(onto device.Stream) error {
	if h == nil {
		return nil
	}
	onto.WaitEvent(h.endEvent)
	return h.loadErr()
}

// OriginalStream returns the user device stream the non-blocking op was
// issued on - the stream Wait()'s stream-ordering dependency is normally
// expressed against.
func (h *Handle) OriginalStream() device.Stream {
	if h == nil {
		return nil
	}
	return h.stream
}

func (h *Handle) loadErr() error {
	if p := h.err.Load(); p != nil {
		return *p
	}
	return nil
}

// release returns the end-side event to its pool once observed complete.
// Idempotent via refs so a concurrent Test/drop race releases exactly once.
func (h *Handle) release() {
	if h.refs.Add(-1) == 0 && h.events != nil {
		h.events.ReleaseEvent(h.endEvent)
	}
}

// Retain increments the reference count - callers that hand the same
// Handle to more than one observer (e.g. a collective wrapped by a
// higher-level retry loop) call this before sharing it.
func (h *Handle) Retain() { h.refs.Add(1) }

// Drop releases the caller's reference. Destroys the handle (returning its
// event to the pool) when the last reference is dropped, per spec §3
// ("destroyed when the user drops their last reference").
func (h *Handle) Drop() {
	if h == nil {
		return
	}
	h.release()
}
