package xport

import (
	"fmt"
	"math"
	"sync"
	"unsafe"

	"github.com/liuhatry/Aluminum/cmn/debug"
)

// Hub is the shared rendezvous point for every rank in a Loopback group -
// the in-process stand-in for the MPI runtime itself. Grounded on the
// teacher's transport/bundle/stream_bundle.go notion of a shared object
// multiple per-rank stream handles rendezvous through, generalized from
// point-to-point streams to full collective rendezvous.
type Hub struct {
	size int

	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	mu       sync.Mutex
	cond     *sync.Cond
	arrived  int
	contribs [][]byte
	err      error
}

// NewHub constructs a Hub for a fixed-size loopback group.
func NewHub(size int) *Hub {
	debug.Assert(size > 0, "loopback group size must be positive")
	return &Hub{size: size, slots: make(map[string]*slot)}
}

func (h *Hub) slotFor(key string) *slot {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.slots[key]
	if !ok {
		s = &slot{contribs: make([][]byte, h.size)}
		s.cond = sync.NewCond(&s.mu)
		h.slots[key] = s
	}
	return s
}

// rendezvous blocks the calling goroutine (never the host's own goroutine -
// Loopback always does this from inside the goroutine backing a Request)
// until every rank in the group has contributed for key, then returns every
// rank's contribution in rank order.
func (h *Hub) rendezvous(key string, rank int, contribution []byte) ([][]byte, error) {
	s := h.slotFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contribs[rank] = contribution
	s.arrived++
	if s.arrived == h.size {
		s.cond.Broadcast()
	} else {
		for s.arrived < h.size {
			s.cond.Wait()
		}
	}
	h.mu.Lock()
	delete(h.slots, key)
	h.mu.Unlock()
	return s.contribs, s.err
}

// Loopback is the reference xport.Transport: one instance per simulated
// rank, all instances sharing a Hub. It has no network path at all - every
// "transport" operation is a goroutine and a mutex - but it drives every
// collective's data-movement semantics correctly, which is all the engine
// above this package depends on (SPEC_FULL.md §3).
type Loopback struct {
	hub  *Hub
	rank int

	mu  sync.Mutex
	seq map[string]int
}

// NewLoopbackGroup builds one Loopback per rank of a size-rank group,
// sharing a single Hub.
func NewLoopbackGroup(size int) []*Loopback {
	hub := NewHub(size)
	group := make([]*Loopback, size)
	for r := range group {
		group[r] = &Loopback{hub: hub, rank: r, seq: make(map[string]int)}
	}
	return group
}

func (l *Loopback) Rank(string) int { return l.rank }
func (l *Loopback) Size(string) int { return l.hub.size }

func (l *Loopback) nextKey(comm, op string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := l.seq[comm]
	l.seq[comm] = n + 1
	return fmt.Sprintf("%s/%s/%d", comm, op, n)
}

type loopbackRequest struct {
	done chan struct{}
	err  error
}

func newLoopbackRequest(fn func() error) *loopbackRequest {
	r := &loopbackRequest{done: make(chan struct{})}
	go func() {
		r.err = fn()
		close(r.done)
	}()
	return r
}

func (r *loopbackRequest) Test() (bool, error) {
	select {
	case <-r.done:
		return true, r.err
	default:
		return false, nil
	}
}

func (l *Loopback) IBarrier(comm string) (Request, error) {
	key := l.nextKey(comm, "barrier")
	return newLoopbackRequest(func() error {
		_, err := l.hub.rendezvous(key, l.rank, nil)
		return err
	}), nil
}

func (l *Loopback) ISend(comm string, buf []byte, dest int) (Request, error) {
	key := fmt.Sprintf("%s/p2p/%d->%d", comm, l.rank, dest)
	key = l.scopedP2P(comm, key)
	return newLoopbackRequest(func() error {
		_, err := l.hub.rendezvous(key, 0, buf)
		return err
	}), nil
}

func (l *Loopback) IRecv(comm string, buf []byte, src int) (Request, error) {
	key := fmt.Sprintf("%s/p2p/%d->%d", comm, src, l.rank)
	key = l.scopedP2P(comm, key)
	return newLoopbackRequest(func() error {
		contribs, err := l.hub.rendezvous(key, 1, nil)
		if err != nil {
			return err
		}
		copy(buf, contribs[0])
		return nil
	}), nil
}

// scopedP2P serializes repeated sends/recvs between the same pair by
// folding in a per-pair generation counter, the same way nextKey does for
// collectives.
func (l *Loopback) scopedP2P(comm, base string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := l.seq[base]
	l.seq[base] = n + 1
	return fmt.Sprintf("%s#%d", base, n)
}

func (l *Loopback) ISendRecv(comm string, sendbuf []byte, dest int, recvbuf []byte, src int) (Request, error) {
	sendKey := l.scopedP2P(comm, fmt.Sprintf("%s/p2p/%d->%d", comm, l.rank, dest))
	recvKey := l.scopedP2P(comm, fmt.Sprintf("%s/p2p/%d->%d", comm, src, l.rank))
	return newLoopbackRequest(func() error {
		var wg sync.WaitGroup
		var sendErr, recvErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, sendErr = l.hub.rendezvous(sendKey, 0, sendbuf)
		}()
		go func() {
			defer wg.Done()
			var contribs [][]byte
			contribs, recvErr = l.hub.rendezvous(recvKey, 1, nil)
			if recvErr == nil {
				copy(recvbuf, contribs[0])
			}
		}()
		wg.Wait()
		if sendErr != nil {
			return sendErr
		}
		return recvErr
	}), nil
}

func (l *Loopback) IBcast(comm string, buf []byte, root int) (Request, error) {
	key := l.nextKey(comm, "bcast")
	return newLoopbackRequest(func() error {
		contribs, err := l.hub.rendezvous(key, l.rank, buf)
		if err != nil {
			return err
		}
		if l.rank != root {
			copy(buf, contribs[root])
		}
		return nil
	}), nil
}

func (l *Loopback) IGather(comm string, sendbuf, recvbuf []byte, root int) (Request, error) {
	key := l.nextKey(comm, "gather")
	return newLoopbackRequest(func() error {
		contribs, err := l.hub.rendezvous(key, l.rank, sendbuf)
		if err != nil {
			return err
		}
		if l.rank == root {
			off := 0
			for _, c := range contribs {
				off += copy(recvbuf[off:], c)
			}
		}
		return nil
	}), nil
}

func (l *Loopback) IScatter(comm string, sendbuf, recvbuf []byte, root int) (Request, error) {
	key := l.nextKey(comm, "scatter")
	return newLoopbackRequest(func() error {
		contribs, err := l.hub.rendezvous(key, l.rank, sendbuf)
		if err != nil {
			return err
		}
		full := contribs[root]
		n := len(full) / l.hub.size
		copy(recvbuf, full[l.rank*n:(l.rank+1)*n])
		return nil
	}), nil
}

func (l *Loopback) IAllgather(comm string, sendbuf, recvbuf []byte) (Request, error) {
	key := l.nextKey(comm, "allgather")
	return newLoopbackRequest(func() error {
		contribs, err := l.hub.rendezvous(key, l.rank, sendbuf)
		if err != nil {
			return err
		}
		off := 0
		for _, c := range contribs {
			off += copy(recvbuf[off:], c)
		}
		return nil
	}), nil
}

func (l *Loopback) IAlltoall(comm string, sendbuf, recvbuf []byte) (Request, error) {
	key := l.nextKey(comm, "alltoall")
	return newLoopbackRequest(func() error {
		contribs, err := l.hub.rendezvous(key, l.rank, sendbuf)
		if err != nil {
			return err
		}
		n := len(recvbuf) / l.hub.size
		for src, c := range contribs {
			chunk := len(c) / l.hub.size
			copy(recvbuf[src*n:(src+1)*n], c[l.rank*chunk:(l.rank+1)*chunk])
		}
		return nil
	}), nil
}

func (l *Loopback) IAllreduce(comm string, sendbuf, recvbuf []byte, op Op) (Request, error) {
	key := l.nextKey(comm, "allreduce")
	return newLoopbackRequest(func() error {
		contribs, err := l.hub.rendezvous(key, l.rank, sendbuf)
		if err != nil {
			return err
		}
		reduceInto(recvbuf, contribs, op)
		return nil
	}), nil
}

func (l *Loopback) IReduce(comm string, sendbuf, recvbuf []byte, op Op, root int) (Request, error) {
	key := l.nextKey(comm, "reduce")
	return newLoopbackRequest(func() error {
		contribs, err := l.hub.rendezvous(key, l.rank, sendbuf)
		if err != nil {
			return err
		}
		if l.rank == root {
			reduceInto(recvbuf, contribs, op)
		}
		return nil
	}), nil
}

func (l *Loopback) IReduceScatter(comm string, sendbuf, recvbuf []byte, op Op) (Request, error) {
	key := l.nextKey(comm, "reduce_scatter")
	return newLoopbackRequest(func() error {
		contribs, err := l.hub.rendezvous(key, l.rank, sendbuf)
		if err != nil {
			return err
		}
		full := make([]byte, len(sendbuf))
		reduceInto(full, contribs, op)
		n := len(full) / l.hub.size / 8 * 8
		copy(recvbuf, full[l.rank*n:(l.rank+1)*n])
		return nil
	}), nil
}

// reduceInto applies op element-wise across contribs, interpreted as
// float64 lanes (the teacher pack carries no numeric-kernel library; every
// domain op this module stages moves opaque byte buffers, so float64 is the
// one concrete element type a reference reducer needs to pick). dst must be
// at least as long as each element of contribs.
func reduceInto(dst []byte, contribs [][]byte, op Op) {
	n := len(contribs[0]) / 8
	if n == 0 {
		return
	}
	acc := bytesToFloat64(dst[:n*8])
	first := bytesToFloat64(contribs[0])
	copy(acc, first)
	for _, c := range contribs[1:] {
		lane := bytesToFloat64(c)
		for i := 0; i < n; i++ {
			switch op {
			case OpSum:
				acc[i] += lane[i]
			case OpProd:
				acc[i] *= lane[i]
			case OpMax:
				acc[i] = math.Max(acc[i], lane[i])
			case OpMin:
				acc[i] = math.Min(acc[i], lane[i])
			}
		}
	}
}

func bytesToFloat64(b []byte) []float64 {
	debug.Assert(len(b)%8 == 0, "buffer not float64-aligned")
	return unsafe.Slice((*float64)(unsafe.Pointer(&b[0])), len(b)/8)
}
