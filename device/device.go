// Package device abstracts the GPU device runtime behind the boundary the
// spec's §1 draws around device kernels and hardware specifics: a Stream
// (an ordered queue of device work), an Event (a reusable device-side
// completion token, spec §4.2), and the handful of allocation/query
// primitives the rest of this module needs. Swapping a cgo-backed CUDA or
// ROCm runtime in means implementing Runtime once; nothing above this
// package changes (see SPEC_FULL.md §3).
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package device

import "errors"

// ErrRuntime wraps any failure from a device call - spec §7's "device
// runtime error," always fatal, never retried.
var ErrRuntime = errors.New("device runtime error")

// Stream is an ordered queue of device work submitted by the host. Every
// method except Synchronize enqueues and does not wait for the work to run.
type Stream interface {
	// Memcpy enqueues an asynchronous copy and returns immediately.
	Memcpy(dst, src []byte)
	// RecordEvent enqueues recording e as having completed every piece of
	// work enqueued on this stream before this call.
	RecordEvent(e Event)
	// WaitEvent enqueues a stream-blocking wait for e to complete - the
	// cross-stream dependency request.Handle.Wait expresses: e was recorded
	// on some other stream, and this stream's subsequent work must not
	// begin until e completes.
	WaitEvent(e Event)
	// WaitValue enqueues a stream-blocking poll of a device-visible memory
	// word until it reads `ready` (spec §4.3's "stream memory operation");
	// ordinary stream work enqueued after this call does not begin until
	// the poll succeeds.
	WaitValue(word *uint32, ready uint32)
	// HostCallback enqueues an arbitrary host-side function, used as the
	// fallback for WaitValue when the device lacks native
	// stream-memory-operation support (spec §4.3).
	HostCallback(fn func())
	// Synchronize blocks the calling goroutine until every op enqueued so
	// far has completed. Used only by tests - never by the progress engine
	// itself (spec §4.5: "must never issue a blocking call").
	Synchronize()
}

// Event is a reusable device-side completion token (spec §4.2).
type Event interface {
	// Query non-blockingly reports whether every op enqueued before this
	// event's most recent RecordEvent call has completed.
	Query() (done bool, err error)
	// Reset prepares the event to be recorded again; called only by the
	// event pool between uses.
	Reset()
}

// Runtime is the device-runtime boundary: stream/event construction, pinned
// allocation, and a capability probe for stream-memory operations (spec
// §4.3, §6's init()).
type Runtime interface {
	NewStream(priority int) Stream
	NewEvent() Event
	AllocPinned(nbytes int) ([]byte, error)
	FreePinned(buf []byte)
	// StreamMemOpsSupported reports whether WaitValue is backed by a native
	// stream-memory-operation rather than the HostCallback fallback.
	StreamMemOpsSupported() bool
}
