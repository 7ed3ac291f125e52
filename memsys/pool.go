// Package memsys implements the pinned-host memory pool of spec §4.1:
// fast, recycled allocation of page-locked staging buffers, keyed by
// requested byte size, with a fallback to a direct allocation on a
// free-list miss and optional preallocation at Init.
//
// Grounded on the shape of aistore's memsys.MMSA/SGL slab allocator (see
// memsys's own test file for the public surface this descends from:
// Init, NewSGL/Free, FreeSpec, Pressure) but narrowed to this library's
// actual need - a size-classed free list of byte slices standing in for
// page-locked host memory, since a real page-locked allocator requires the
// device.Runtime this package is handed at Init.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package memsys

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/liuhatry/Aluminum/cmn/cos"
	"github.com/liuhatry/Aluminum/cmn/debug"
)

// Allocator abstracts the page-locked allocation primitive itself, normally
// backed by device.Runtime.AllocPinned/FreePinned. Kept as a narrow
// interface (rather than importing package device directly) so memsys has
// no dependency on the device abstraction - only on whatever function
// produces and reclaims raw pinned bytes.
type Allocator interface {
	AllocPinned(nbytes int) ([]byte, error)
	FreePinned([]byte)
}

// Buffer is a pinned staging buffer owned by exactly one collective state
// from allocation until it is released back to the Pool (spec §3's pinned
// buffer invariant).
type Buffer struct {
	Bytes []byte
	pool  *Pool
	class int64 // free-list size class this buffer belongs to
}

// Pool is the pinned-host memory pool: thread-safe, free lists keyed by
// byte size, with a fallback to the allocator on a miss. Shared between
// user threads (issuing collectives) and the progress engine.
type Pool struct {
	Name string

	mu       sync.Mutex
	alloc    Allocator
	freeList map[int64][][]byte
	nalloc   int64 // total bytes ever handed out, direct or recycled
}

// New constructs a pool backed by alloc. Preallocate optionally primes the
// free list for a size with n buffers, per spec §4.1 ("supports
// preallocation at initialization").
func New(name string, alloc Allocator) *Pool {
	return &Pool{
		Name:     name,
		alloc:    alloc,
		freeList: make(map[int64][][]byte),
	}
}

// Preallocate fills the free list for byte-size `size` with n buffers.
func (p *Pool) Preallocate(size int64, n int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := 0; i < n; i++ {
		b, err := p.alloc.AllocPinned(int(size))
		if err != nil {
			return errors.Wrapf(err, "preallocate: pool %q, size %d, buffer %d/%d", p.Name, size, i, n)
		}
		p.freeList[size] = append(p.freeList[size], b)
	}
	return nil
}

// Get returns a pinned buffer of at least nbytes. A free-list hit recycles
// an existing buffer; a miss falls back to a direct allocation. Failure of
// the underlying allocator is fatal per spec §4.1 ("the state cannot
// proceed without its staging buffer") - this function never returns a nil
// Buffer.
func (p *Pool) Get(nbytes int) *Buffer {
	size := int64(nbytes)
	p.mu.Lock()
	if lst := p.freeList[size]; len(lst) > 0 {
		b := lst[len(lst)-1]
		p.freeList[size] = lst[:len(lst)-1]
		p.nalloc += size
		p.mu.Unlock()
		return &Buffer{Bytes: b[:nbytes], pool: p, class: size}
	}
	p.mu.Unlock()

	b, err := p.alloc.AllocPinned(nbytes)
	if err != nil {
		cos.ExitLogf("pinned allocation of %d bytes failed: %v", nbytes, err)
	}
	p.mu.Lock()
	p.nalloc += size
	p.mu.Unlock()
	return &Buffer{Bytes: b, pool: p, class: size}
}

// Release returns buf to its pool's free list. Never call Release while a
// device copy or transport op still references buf - spec §3's pinned
// buffer invariant; callers (collective.State) only do this from their
// terminal destruction step.
func (buf *Buffer) Release() {
	debug.Assert(buf.pool != nil, "double release of pinned buffer")
	p := buf.pool
	buf.pool = nil
	p.mu.Lock()
	p.freeList[buf.class] = append(p.freeList[buf.class], buf.Bytes[:cap(buf.Bytes)])
	p.mu.Unlock()
}

// Allocated reports the cumulative number of bytes ever handed out by Get,
// recycled or not - a cheap pressure signal.
func (p *Pool) Allocated() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nalloc
}

// Drain frees every pooled buffer back to the allocator - called at
// Finalize once every in-flight collective has been drained.
func (p *Pool) Drain() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for size, lst := range p.freeList {
		for _, b := range lst {
			p.alloc.FreePinned(b)
		}
		delete(p.freeList, size)
	}
}
