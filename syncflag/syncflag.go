// Package syncflag implements the cross-device/host sync primitive of spec
// §4.3: a single cache-line-aligned 32-bit word in pinned host memory,
// writable once from the CPU and pollable from a device stream, with
// release semantics on Signal and acquire semantics on Wait.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package syncflag

import (
	"sync/atomic"

	"github.com/liuhatry/Aluminum/cmn/cos"
	"github.com/liuhatry/Aluminum/device"
	"github.com/liuhatry/Aluminum/memsys"
)

const (
	notReady uint32 = 0
	ready    uint32 = 1
)

// Flag is one sync-flag instance, backed by its own cache-line-sized pinned
// buffer (spec §5: "allocated from a cache-line-aligned pinned pool to
// avoid false sharing between CPU-side writers and device polls").
type Flag struct {
	buf    *memsys.Buffer
	word   *uint32
	signal atomic.Bool // debug/race-detection aid: Signal fires at most once
}

// New allocates a Flag from pool, backed by a cos.CacheLineSize-rounded
// pinned buffer.
func New(pool *memsys.Pool) *Flag {
	buf := pool.Get(cos.CacheLineSize)
	f := &Flag{buf: buf, word: (*uint32)(pointerOf(buf.Bytes))}
	atomic.StoreUint32(f.word, notReady)
	return f
}

// Wait enqueues a stream operation that blocks stream until the flag
// becomes ready. Never blocks the calling (host) goroutine - it is a
// stream-ordering operation, exactly like request.Handle.Wait.
func (f *Flag) Wait(stream device.Stream) {
	stream.WaitValue(f.word, ready)
}

// WaitHostFallback enqueues a host-callback busy-wait instead of a native
// stream-memory-operation, for a device.Runtime that reports
// StreamMemOpsSupported() == false (spec §4.3's fallback path).
func (f *Flag) WaitHostFallback(stream device.Stream) {
	stream.HostCallback(func() {
		for atomic.LoadUint32(f.word) != ready {
		}
	})
}

// Signal atomically publishes "ready" from the CPU. Must be called exactly
// once per Flag lifetime (spec §3: "a sync flag transitions at most once
// per use from not-ready to ready"); the atomic store gives release
// semantics, matching the acquire semantics of the device-side poll loop
// that backs Wait.
func (f *Flag) Signal() {
	cos.Assert(!f.signal.Swap(true), "sync flag signaled more than once")
	atomic.StoreUint32(f.word, ready)
}

// Release returns the flag's pinned buffer to its pool. Only ever called
// after the owning collective.State has reached its terminal phase.
func (f *Flag) Release() { f.buf.Release() }
