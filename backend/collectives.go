package backend

import (
	"runtime"

	"github.com/liuhatry/Aluminum/collective"
	"github.com/liuhatry/Aluminum/device"
	"github.com/liuhatry/Aluminum/memsys"
	"github.com/liuhatry/Aluminum/request"
	"github.com/liuhatry/Aluminum/stats"
	"github.com/liuhatry/Aluminum/syncflag"
	"github.com/liuhatry/Aluminum/xport"
)

// zeroCountSkip implements spec §4.4's zero-count policy: any collective
// with element count zero returns immediately without creating a state or
// request. Barrier (KindSignalAtStart) carries no user buffer at all, so it
// is never subject to the rule, which only applies to collectives whose
// element count can legitimately be zero.
func zeroCountSkip(kind collective.Kind, userSend, userRecv []byte) bool {
	if kind == collective.KindSignalAtStart {
		return false
	}
	nbytes := len(userRecv)
	if nbytes == 0 {
		nbytes = len(userSend)
	}
	return collective.ZeroCount(nbytes)
}

// construct implements the per-kind device-side sequence common to both
// issuance forms (spec §4.4), entirely on stream: stage the user buffer(s)
// into pinned host memory, record the start event, and - for
// KindSignalAtEnd - wait on the sync flag, copy back, and record the end
// event. startTransport is called by the progress engine, from its own
// goroutine, once the start event completes.
func (b *Backend) construct(
	name string, kind collective.Kind,
	userSend, userRecv []byte,
	stream device.Stream,
	startTransport func(stageSend, stageRecv []byte) (xport.Request, error),
) (*collective.State, device.Event, device.Event) {
	var bufs []*memsys.Buffer
	var stageSend, stageRecv []byte

	if userSend != nil {
		buf := b.dataPool.Get(len(userSend))
		bufs = append(bufs, buf)
		stageSend = buf.Bytes
		stream.Memcpy(stageSend, userSend)
	}
	if userRecv != nil {
		buf := b.dataPool.Get(len(userRecv))
		bufs = append(bufs, buf)
		stageRecv = buf.Bytes
	} else {
		stageRecv = stageSend
	}
	stats.StageBytes(b.Comm, len(stageSend)+len(stageRecv))

	var startEvent, endEvent device.Event
	var flag *syncflag.Flag

	switch kind {
	case collective.KindSignalAtStart:
		startEvent = b.events.GetEvent()
		stream.RecordEvent(startEvent)
	case collective.KindPureTransport:
		// no device involvement at all: startEvent/endEvent stay nil.
	default:
		startEvent = b.events.GetEvent()
		stream.RecordEvent(startEvent)
	}

	if kind == collective.KindSignalAtEnd {
		flag = syncflag.New(b.syncPool)
		if b.rt.StreamMemOpsSupported() {
			flag.Wait(stream)
		} else {
			flag.WaitHostFallback(stream)
		}
		endEvent = b.events.GetEvent()
		if userRecv != nil {
			stream.Memcpy(userRecv, stageRecv)
		}
		stream.RecordEvent(endEvent)
	} else {
		// signal-non-root-early, signal-at-start and pure-transport all
		// observe completion through the same event the device side
		// already recorded (or, for pure-transport, through no device
		// event at all) - see collective.State.Advance.
		endEvent = startEvent
	}

	variant := collective.Variant{
		Name: name,
		Kind: kind,
		StartTransport: func(st *collective.State) (collective.TransportOp, error) {
			req, err := startTransport(stageSend, stageRecv)
			if err != nil {
				return nil, err
			}
			return xport.TransportOp{Req: req}, nil
		},
	}

	id := collective.NewID()
	state := collective.New(id, b.Comm, variant, stream, bufs, flag, startEvent, endEvent)
	return state, startEvent, endEvent
}

// issueNonBlocking implements spec §4.7's non-blocking issuance form: the
// construction sequence runs on a library-internal pool stream that is
// first made to wait - via a recorded event - for every op the caller
// already enqueued on userStream, so the internal work is correctly
// ordered after it without ever blocking the host. The returned request's
// stream-ordering target (request.Handle.OriginalStream) is userStream
// itself, per spec §4.6.
func (b *Backend) issueNonBlocking(
	name string, kind collective.Kind, userStream device.Stream,
	userSend, userRecv []byte,
	startTransport func(stageSend, stageRecv []byte) (xport.Request, error),
) (*request.Handle, error) {
	if zeroCountSkip(kind, userSend, userRecv) {
		return nil, nil
	}

	s := b.slotFor()

	// Pre-sync (spec §4.7): the internal stream must not begin the
	// construction sequence until everything already enqueued on the
	// caller's own stream has completed. This sync event is single-use and
	// deliberately not drawn from the pooled device.EventPool, since it is
	// released only implicitly by the GC once both streams are done with
	// it, never explicitly handed back while still possibly referenced.
	syncEvent := b.rt.NewEvent()
	userStream.RecordEvent(syncEvent)
	s.stream.WaitEvent(syncEvent)

	state, _, endEvent := b.construct(name, kind, userSend, userRecv, s.stream, startTransport)
	h := request.New(endEvent, userStream, b.events)
	s.engine.Enqueue(state)
	return h, nil
}

// issueBlocking implements spec §4.7's blocking issuance form: the
// construction sequence runs directly on userStream - no internal pool
// stream, no pre-sync, no request. The calling host goroutine spins on the
// state's own completion instead of a handle, and - since no request.Handle
// exists here to return its events to the pool - releases the start/end
// events back to b.events itself once the state has finished with them.
func (b *Backend) issueBlocking(
	name string, kind collective.Kind, userStream device.Stream,
	userSend, userRecv []byte,
	startTransport func(stageSend, stageRecv []byte) (xport.Request, error),
) error {
	if zeroCountSkip(kind, userSend, userRecv) {
		return nil
	}

	state, startEvent, endEvent := b.construct(name, kind, userSend, userRecv, userStream, startTransport)
	b.slotFor().engine.Enqueue(state)
	err := b.spin(state)
	if startEvent != nil {
		b.events.ReleaseEvent(startEvent)
	}
	if endEvent != nil && endEvent != startEvent {
		b.events.ReleaseEvent(endEvent)
	}
	return err
}

// spin blocks the calling host goroutine until state reaches its terminal
// phase - the blocking form's host barrier, as distinct from the
// non-blocking form's request.Handle.Wait (a stream-ordering op that never
// blocks the host).
func (b *Backend) spin(state *collective.State) error {
	for !state.Done() {
		runtime.Gosched()
	}
	return state.Err()
}

// ---- Allreduce ----

func (b *Backend) IAllreduce(stream device.Stream, sendbuf, recvbuf []byte, op xport.Op, algo Algorithm) (*request.Handle, error) {
	if _, err := algo.resolve(); err != nil {
		return nil, err
	}
	return b.issueNonBlocking("allreduce", collective.KindSignalAtEnd, stream, sendbuf, recvbuf, func(stageSend, stageRecv []byte) (xport.Request, error) {
		return b.tp.IAllreduce(b.Comm, stageSend, stageRecv, op)
	})
}

func (b *Backend) Allreduce(stream device.Stream, sendbuf, recvbuf []byte, op xport.Op, algo Algorithm) error {
	if _, err := algo.resolve(); err != nil {
		return err
	}
	return b.issueBlocking("allreduce", collective.KindSignalAtEnd, stream, sendbuf, recvbuf, func(stageSend, stageRecv []byte) (xport.Request, error) {
		return b.tp.IAllreduce(b.Comm, stageSend, stageRecv, op)
	})
}

// ---- Bcast ----

func (b *Backend) IBcast(stream device.Stream, buf []byte, root int, algo Algorithm) (*request.Handle, error) {
	if _, err := algo.resolve(); err != nil {
		return nil, err
	}
	return b.issueNonBlocking("bcast", collective.KindSignalAtEnd, stream, buf, buf, func(stageSend, stageRecv []byte) (xport.Request, error) {
		copy(stageRecv, stageSend)
		return b.tp.IBcast(b.Comm, stageRecv, root)
	})
}

func (b *Backend) Bcast(stream device.Stream, buf []byte, root int, algo Algorithm) error {
	if _, err := algo.resolve(); err != nil {
		return err
	}
	return b.issueBlocking("bcast", collective.KindSignalAtEnd, stream, buf, buf, func(stageSend, stageRecv []byte) (xport.Request, error) {
		copy(stageRecv, stageSend)
		return b.tp.IBcast(b.Comm, stageRecv, root)
	})
}

// ---- Gather ----

func (b *Backend) IGather(stream device.Stream, sendbuf, recvbuf []byte, root int, rank int, algo Algorithm) (*request.Handle, error) {
	if _, err := algo.resolve(); err != nil {
		return nil, err
	}
	kind, userRecv := gatherReduceKind(root, rank, recvbuf)
	return b.issueNonBlocking("gather", kind, stream, sendbuf, userRecv, func(stageSend, stageRecv []byte) (xport.Request, error) {
		return b.tp.IGather(b.Comm, stageSend, stageRecv, root)
	})
}

func (b *Backend) Gather(stream device.Stream, sendbuf, recvbuf []byte, root, rank int, algo Algorithm) error {
	if _, err := algo.resolve(); err != nil {
		return err
	}
	kind, userRecv := gatherReduceKind(root, rank, recvbuf)
	return b.issueBlocking("gather", kind, stream, sendbuf, userRecv, func(stageSend, stageRecv []byte) (xport.Request, error) {
		return b.tp.IGather(b.Comm, stageSend, stageRecv, root)
	})
}

// gatherReduceKind picks Gather/Reduce's signaling template and user-visible
// recv buffer based on whether rank is root (spec §4.4's "root of
// reduce/gather" vs "reduce non-root, gather non-root" cases).
func gatherReduceKind(root, rank int, recvbuf []byte) (collective.Kind, []byte) {
	if rank == root {
		return collective.KindSignalAtEnd, recvbuf
	}
	return collective.KindSignalNonRootEarly, nil
}

// ---- Scatter ----

func (b *Backend) IScatter(stream device.Stream, sendbuf, recvbuf []byte, root int, algo Algorithm) (*request.Handle, error) {
	if _, err := algo.resolve(); err != nil {
		return nil, err
	}
	return b.issueNonBlocking("scatter", collective.KindSignalAtEnd, stream, sendbuf, recvbuf, func(stageSend, stageRecv []byte) (xport.Request, error) {
		return b.tp.IScatter(b.Comm, stageSend, stageRecv, root)
	})
}

func (b *Backend) Scatter(stream device.Stream, sendbuf, recvbuf []byte, root int, algo Algorithm) error {
	if _, err := algo.resolve(); err != nil {
		return err
	}
	return b.issueBlocking("scatter", collective.KindSignalAtEnd, stream, sendbuf, recvbuf, func(stageSend, stageRecv []byte) (xport.Request, error) {
		return b.tp.IScatter(b.Comm, stageSend, stageRecv, root)
	})
}

// ---- Allgather ----

func (b *Backend) IAllgather(stream device.Stream, sendbuf, recvbuf []byte, algo Algorithm) (*request.Handle, error) {
	if _, err := algo.resolve(); err != nil {
		return nil, err
	}
	return b.issueNonBlocking("allgather", collective.KindSignalAtEnd, stream, sendbuf, recvbuf, func(stageSend, stageRecv []byte) (xport.Request, error) {
		return b.tp.IAllgather(b.Comm, stageSend, stageRecv)
	})
}

func (b *Backend) Allgather(stream device.Stream, sendbuf, recvbuf []byte, algo Algorithm) error {
	if _, err := algo.resolve(); err != nil {
		return err
	}
	return b.issueBlocking("allgather", collective.KindSignalAtEnd, stream, sendbuf, recvbuf, func(stageSend, stageRecv []byte) (xport.Request, error) {
		return b.tp.IAllgather(b.Comm, stageSend, stageRecv)
	})
}

// ---- Alltoall ----

func (b *Backend) IAlltoall(stream device.Stream, sendbuf, recvbuf []byte, algo Algorithm) (*request.Handle, error) {
	if _, err := algo.resolve(); err != nil {
		return nil, err
	}
	return b.issueNonBlocking("alltoall", collective.KindSignalAtEnd, stream, sendbuf, recvbuf, func(stageSend, stageRecv []byte) (xport.Request, error) {
		return b.tp.IAlltoall(b.Comm, stageSend, stageRecv)
	})
}

func (b *Backend) Alltoall(stream device.Stream, sendbuf, recvbuf []byte, algo Algorithm) error {
	if _, err := algo.resolve(); err != nil {
		return err
	}
	return b.issueBlocking("alltoall", collective.KindSignalAtEnd, stream, sendbuf, recvbuf, func(stageSend, stageRecv []byte) (xport.Request, error) {
		return b.tp.IAlltoall(b.Comm, stageSend, stageRecv)
	})
}

// ---- Reduce ----

func (b *Backend) IReduce(stream device.Stream, sendbuf, recvbuf []byte, op xport.Op, root, rank int, algo Algorithm) (*request.Handle, error) {
	if _, err := algo.resolve(); err != nil {
		return nil, err
	}
	kind, userRecv := gatherReduceKind(root, rank, recvbuf)
	return b.issueNonBlocking("reduce", kind, stream, sendbuf, userRecv, func(stageSend, stageRecv []byte) (xport.Request, error) {
		return b.tp.IReduce(b.Comm, stageSend, stageRecv, op, root)
	})
}

func (b *Backend) Reduce(stream device.Stream, sendbuf, recvbuf []byte, op xport.Op, root, rank int, algo Algorithm) error {
	if _, err := algo.resolve(); err != nil {
		return err
	}
	kind, userRecv := gatherReduceKind(root, rank, recvbuf)
	return b.issueBlocking("reduce", kind, stream, sendbuf, userRecv, func(stageSend, stageRecv []byte) (xport.Request, error) {
		return b.tp.IReduce(b.Comm, stageSend, stageRecv, op, root)
	})
}

// ---- Reduce_scatter ----

func (b *Backend) IReduceScatter(stream device.Stream, sendbuf, recvbuf []byte, op xport.Op, algo Algorithm) (*request.Handle, error) {
	if _, err := algo.resolve(); err != nil {
		return nil, err
	}
	return b.issueNonBlocking("reduce_scatter", collective.KindSignalAtEnd, stream, sendbuf, recvbuf, func(stageSend, stageRecv []byte) (xport.Request, error) {
		return b.tp.IReduceScatter(b.Comm, stageSend, stageRecv, op)
	})
}

func (b *Backend) ReduceScatter(stream device.Stream, sendbuf, recvbuf []byte, op xport.Op, algo Algorithm) error {
	if _, err := algo.resolve(); err != nil {
		return err
	}
	return b.issueBlocking("reduce_scatter", collective.KindSignalAtEnd, stream, sendbuf, recvbuf, func(stageSend, stageRecv []byte) (xport.Request, error) {
		return b.tp.IReduceScatter(b.Comm, stageSend, stageRecv, op)
	})
}

// ---- Send/Recv/SendRecv ----

func (b *Backend) ISend(stream device.Stream, buf []byte, dest int, algo Algorithm) (*request.Handle, error) {
	if _, err := algo.resolve(); err != nil {
		return nil, err
	}
	return b.issueNonBlocking("send", collective.KindSignalNonRootEarly, stream, buf, nil, func(stageSend, _ []byte) (xport.Request, error) {
		return b.tp.ISend(b.Comm, stageSend, dest)
	})
}

func (b *Backend) Send(stream device.Stream, buf []byte, dest int, algo Algorithm) error {
	if _, err := algo.resolve(); err != nil {
		return err
	}
	return b.issueBlocking("send", collective.KindSignalNonRootEarly, stream, buf, nil, func(stageSend, _ []byte) (xport.Request, error) {
		return b.tp.ISend(b.Comm, stageSend, dest)
	})
}

func (b *Backend) IRecv(stream device.Stream, buf []byte, src int, algo Algorithm) (*request.Handle, error) {
	if _, err := algo.resolve(); err != nil {
		return nil, err
	}
	return b.issueNonBlocking("recv", collective.KindSignalAtEnd, stream, nil, buf, func(_, stageRecv []byte) (xport.Request, error) {
		return b.tp.IRecv(b.Comm, stageRecv, src)
	})
}

func (b *Backend) Recv(stream device.Stream, buf []byte, src int, algo Algorithm) error {
	if _, err := algo.resolve(); err != nil {
		return err
	}
	return b.issueBlocking("recv", collective.KindSignalAtEnd, stream, nil, buf, func(_, stageRecv []byte) (xport.Request, error) {
		return b.tp.IRecv(b.Comm, stageRecv, src)
	})
}

func (b *Backend) ISendRecv(stream device.Stream, sendbuf []byte, dest int, recvbuf []byte, src int, algo Algorithm) (*request.Handle, error) {
	if _, err := algo.resolve(); err != nil {
		return nil, err
	}
	return b.issueNonBlocking("sendrecv", collective.KindSignalAtEnd, stream, sendbuf, recvbuf, func(stageSend, stageRecv []byte) (xport.Request, error) {
		return b.tp.ISendRecv(b.Comm, stageSend, dest, stageRecv, src)
	})
}

func (b *Backend) SendRecv(stream device.Stream, sendbuf []byte, dest int, recvbuf []byte, src int, algo Algorithm) error {
	if _, err := algo.resolve(); err != nil {
		return err
	}
	return b.issueBlocking("sendrecv", collective.KindSignalAtEnd, stream, sendbuf, recvbuf, func(stageSend, stageRecv []byte) (xport.Request, error) {
		return b.tp.ISendRecv(b.Comm, stageSend, dest, stageRecv, src)
	})
}

// ---- Barrier ----

func (b *Backend) IBarrier(stream device.Stream) (*request.Handle, error) {
	return b.issueNonBlocking("barrier", collective.KindSignalAtStart, stream, nil, nil, func(_, _ []byte) (xport.Request, error) {
		return b.tp.IBarrier(b.Comm)
	})
}

func (b *Backend) Barrier(stream device.Stream) error {
	return b.issueBlocking("barrier", collective.KindSignalAtStart, stream, nil, nil, func(_, _ []byte) (xport.Request, error) {
		return b.tp.IBarrier(b.Comm)
	})
}
