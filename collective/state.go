// Package collective implements the per-operation state machine of spec
// §4.4: a record bridging a device copy, a transport call, and (for most
// variants) a device copy back, advanced purely by polling from the
// progress engine - never by a blocking wait.
//
// Grounded on the interface aistore's own xaction subclass hierarchy
// implies (base provides a phase/lifecycle machine, leaves provide the
// type-specific content) and, concretely, on the four-kind tagged variant
// shape spec §9 calls for in place of a C++ subclass hierarchy.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package collective

import (
	"github.com/liuhatry/Aluminum/cmn/cos"
	"github.com/liuhatry/Aluminum/cmn/debug"
	"github.com/liuhatry/Aluminum/cmn/nlog"
	"github.com/liuhatry/Aluminum/device"
	"github.com/liuhatry/Aluminum/memsys"
	"github.com/liuhatry/Aluminum/syncflag"
)

// Kind identifies which of the four signaling templates of spec §4.4 a
// Variant implements.
type Kind int

const (
	// KindSignalAtEnd: device copies in, transport runs, device copies out,
	// end event recorded at the very end. allreduce, allgather, alltoall,
	// broadcast, reduce-scatter, sendrecv, recv, gather/reduce root,
	// scatter non-root.
	KindSignalAtEnd Kind = iota
	// KindSignalNonRootEarly: no device-visible output on this rank: the
	// event is recorded right after the device-to-host copy, skipping a
	// redundant copy-back. gather/reduce non-root, send.
	KindSignalNonRootEarly
	// KindSignalAtStart: no user input to stage; event recorded at the
	// very beginning. barrier.
	KindSignalAtStart
	// KindPureTransport: no device involvement at all; the core is simply
	// driving a host collective.
	KindPureTransport
)

func (k Kind) String() string {
	switch k {
	case KindSignalAtEnd:
		return "signal-at-end"
	case KindSignalNonRootEarly:
		return "signal-non-root-early"
	case KindSignalAtStart:
		return "signal-at-start"
	case KindPureTransport:
		return "pure-transport"
	default:
		return "unknown"
	}
}

// Phase is the state's position in spec §4.4's phase machine. Transitions
// only ever move forward; see Advance.
type Phase int

const (
	PhaseWaitingForDeviceCopy Phase = iota
	PhaseTransportStarted
	PhaseSignaled
	PhaseComplete
)

func (p Phase) String() string {
	switch p {
	case PhaseWaitingForDeviceCopy:
		return "waiting_for_device_copy"
	case PhaseTransportStarted:
		return "transport_started"
	case PhaseSignaled:
		return "signaled"
	case PhaseComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// TransportOp is the handle the progress engine polls for completion of the
// non-blocking transport call a Variant issued - a minimal view onto
// xport.Request that keeps this package free of an import cycle with xport.
type TransportOp interface {
	Test() (done bool, err error)
}

// Variant supplies the operation-specific content of a state: how to issue
// the transport call once the start-side device copy has completed. Device
// staging itself (the four-step construction sequence of spec §4.4) is
// expressed directly against a device.Stream by the backend façade at
// construction time, since it is just a sequence of stream enqueues; a
// Variant only needs to know how to drive its transport primitive.
type Variant struct {
	Name           string
	Kind           Kind
	StartTransport func(s *State) (TransportOp, error)
}

// State is one in-flight collective: exactly the record described in spec
// §3 ("collective state"). Owned exclusively by the progress engine between
// Enqueue and the call that observes PhaseComplete.
type State struct {
	ID    string
	Comm  string // communicator name, for logging/metrics only
	Kind  Kind
	phase Phase

	stream device.Stream // the user's device stream this op was sequenced on
	bufs   []*memsys.Buffer
	flag   *syncflag.Flag // nil for every kind except KindSignalAtEnd

	startEvent device.Event // nil for KindPureTransport
	endEvent   device.Event // distinct from startEvent only for KindSignalAtEnd

	variant Variant
	op      TransportOp

	err error
}

// New constructs a state already past its device-side construction
// sequence (the backend façade is responsible for having enqueued the
// copy-in/record-start/wait-flag/copy-out-and-record-end steps against
// stream before calling New - see backend.construct). New's only
// job is to hold the references Advance will poll.
func New(id, comm string, v Variant, stream device.Stream, bufs []*memsys.Buffer, flag *syncflag.Flag, startEvent, endEvent device.Event) *State {
	debug.Assert(v.StartTransport != nil, "variant missing StartTransport")
	return &State{
		ID:         id,
		Comm:       comm,
		Kind:       v.Kind,
		phase:      PhaseWaitingForDeviceCopy,
		stream:     stream,
		bufs:       bufs,
		flag:       flag,
		startEvent: startEvent,
		endEvent:   endEvent,
		variant:    v,
	}
}

func (s *State) Phase() Phase { return s.phase }
func (s *State) Err() error   { return s.err }
func (s *State) Name() string { return s.variant.Name }

// Advance drives the state machine forward by exactly one polling step, if
// it can. It never blocks: every query it makes is non-blocking, matching
// spec §4.5 ("the engine must never issue a blocking call"). Returns true
// if the state made progress (including reaching PhaseComplete).
func (s *State) Advance() bool {
	if s.err != nil {
		return false
	}
	switch s.phase {
	case PhaseWaitingForDeviceCopy:
		return s.advanceWaitingForDeviceCopy()
	case PhaseTransportStarted:
		return s.advanceTransportStarted()
	case PhaseSignaled:
		return s.advanceSignaled()
	default:
		return false
	}
}

func (s *State) advanceWaitingForDeviceCopy() bool {
	if s.startEvent != nil {
		done, err := s.startEvent.Query()
		if err != nil {
			s.fail(err)
			return true
		}
		if !done {
			return false
		}
	}
	op, err := s.variant.StartTransport(s)
	if err != nil {
		s.fail(err)
		return true
	}
	s.op = op
	s.phase = PhaseTransportStarted
	return true
}

func (s *State) advanceTransportStarted() bool {
	done, err := s.op.Test()
	if err != nil {
		s.fail(err)
		return true
	}
	if !done {
		return false
	}
	if s.flag != nil {
		s.flag.Signal()
	}
	switch s.Kind {
	case KindSignalNonRootEarly, KindSignalAtStart, KindPureTransport:
		s.phase = PhaseComplete
	default: // KindSignalAtEnd
		s.phase = PhaseSignaled
	}
	return true
}

func (s *State) advanceSignaled() bool {
	debug.Assert(s.endEvent != nil, "signaled phase reached without an end event")
	done, err := s.endEvent.Query()
	if err != nil {
		s.fail(err)
		return true
	}
	if !done {
		return false
	}
	s.phase = PhaseComplete
	return true
}

func (s *State) fail(err error) {
	s.err = err
	s.phase = PhaseComplete
	nlog.Warningf("%s[%s/%s]: %v", s.variant.Name, s.Comm, s.ID, err)
}

// Done reports whether the state has reached its terminal phase (either
// PhaseComplete via a successful run, or an observed error).
func (s *State) Done() bool { return s.phase == PhaseComplete }

// Release returns the state's pinned buffer and sync flag to their pools.
// Called exactly once, by the progress engine, right after it observes
// Done() - spec §3: "destroyed by the engine after its final phase, at
// which point it releases its pinned buffer."
func (s *State) Release() {
	for _, buf := range s.bufs {
		if buf != nil {
			buf.Release()
		}
	}
	if s.flag != nil {
		s.flag.Release()
	}
}

// ZeroCount reports whether n is the spec §4.4 zero-count sentinel: any
// non-blocking collective with element count zero returns immediately
// without creating a state or request.
func ZeroCount(n int) bool { return n == 0 }

// NewID mints a loggable ID for a new collective state.
func NewID() string { return cos.GenID() }
