// Package xport abstracts the message-passing transport behind the
// boundary spec §1 draws around MPI and other host transports: a
// Transport issues non-blocking operations and returns a Request the
// progress engine polls, mirroring how device.Runtime abstracts the GPU
// side. Grounded on the teacher's transport/api.go Send/Recv shape (itself
// a non-blocking issue/complete pair around a bundled stream) generalized
// from point-to-point to the full set of MPI collectives spec §6 lists.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package xport

import "errors"

// ErrTransport wraps any failure surfaced by a Transport - spec §7's
// "transport error," propagated to the request/collective that issued the
// failing op, never silently retried.
var ErrTransport = errors.New("transport error")

// Op identifies the reduction operator a collective is parameterized with.
// Only meaningful for Allreduce/Reduce/Reduce_scatter.
type Op int

const (
	OpSum Op = iota
	OpMax
	OpMin
	OpProd
)

// Request is a handle to one in-flight, non-blocking transport operation.
// Test is non-blocking and safe to call repeatedly; collective.State.Advance
// polls it through the collective.TransportOp adapter below.
type Request interface {
	Test() (done bool, err error)
}

// Transport is the host message-passing boundary. Every method here is the
// non-blocking ("I"-prefixed, in MPI terms) form: it issues the operation
// against host-resident buffers and returns immediately with a Request.
// Rank/communicator addressing is left to the concrete Transport - Loopback
// resolves it by an in-process registry; a real MPI-backed implementation
// would resolve it against MPI_Comm.
type Transport interface {
	Rank(comm string) int
	Size(comm string) int

	IAllreduce(comm string, sendbuf, recvbuf []byte, op Op) (Request, error)
	IBcast(comm string, buf []byte, root int) (Request, error)
	IGather(comm string, sendbuf, recvbuf []byte, root int) (Request, error)
	IScatter(comm string, sendbuf, recvbuf []byte, root int) (Request, error)
	IAllgather(comm string, sendbuf, recvbuf []byte) (Request, error)
	IAlltoall(comm string, sendbuf, recvbuf []byte) (Request, error)
	IReduce(comm string, sendbuf, recvbuf []byte, op Op, root int) (Request, error)
	IReduceScatter(comm string, sendbuf, recvbuf []byte, op Op) (Request, error)
	ISend(comm string, buf []byte, dest int) (Request, error)
	IRecv(comm string, buf []byte, src int) (Request, error)
	ISendRecv(comm string, sendbuf []byte, dest int, recvbuf []byte, src int) (Request, error)
	IBarrier(comm string) (Request, error)
}

// TransportOp adapts a Request to collective.TransportOp without collective
// importing xport (collective only needs the Test method; defining the
// adapter here instead keeps xport, not collective, dependent on the
// concrete Request type).
type TransportOp struct {
	Req Request
}

func (t TransportOp) Test() (bool, error) { return t.Req.Test() }
