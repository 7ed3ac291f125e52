// Package progress implements the progress engine of spec §4.5: a single
// dedicated goroutine, optionally pinned to a CPU set, that round-robins a
// non-blocking poll across every in-flight collective.State until each
// reaches its terminal phase. Grounded on the teacher's transport/collect.go
// (a dedicated per-target goroutine draining a work queue without ever
// blocking on the network) and on xact's ref-counted quiescence poll for
// the drain/shutdown path.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package progress

import (
	"sync"
	"time"

	"github.com/liuhatry/Aluminum/cmn/cos"
	"github.com/liuhatry/Aluminum/cmn/nlog"
	"github.com/liuhatry/Aluminum/collective"
	"github.com/liuhatry/Aluminum/sys"
	"github.com/liuhatry/Aluminum/xact"
)

// Observer receives lifecycle notifications for stats wiring (spec's
// "collectives issued" counter, in-flight gauge, enqueue-to-complete
// histogram). All methods must return promptly - they are called from the
// engine's own goroutine.
type Observer interface {
	OnEnqueue(s *collective.State)
	OnComplete(s *collective.State, enqueuedAt time.Time)
}

// nopObserver is used when the caller supplies none.
type nopObserver struct{}

func (nopObserver) OnEnqueue(*collective.State)                   {}
func (nopObserver) OnComplete(*collective.State, time.Time) {}

type tracked struct {
	state      *collective.State
	enqueuedAt time.Time
}

// Engine is the progress engine. One Engine backs one internal stream's
// worth of collectives - the backend façade spawns one Engine per pool
// slot, all pinned to the same AL_PROGRESS_RANKS_PER_INTERNAL_COMM CPU set
// when one is configured.
type Engine struct {
	cpus     []int
	observer Observer

	mu       sync.Mutex
	incoming []tracked

	inflight []tracked

	stop    *cos.StopCh
	stopped chan struct{}
}

// New constructs an Engine. cpus, if non-empty, is the CPU set Run pins its
// goroutine's OS thread to (spec §4.5/§6 affinity knob); nil leaves the
// goroutine unpinned.
func New(cpus []int, observer Observer) *Engine {
	if observer == nil {
		observer = nopObserver{}
	}
	return &Engine{
		cpus:     cpus,
		observer: observer,
		stop:     cos.NewStopCh(),
		stopped:  make(chan struct{}),
	}
}

func (e *Engine) Name() string { return "progress" }

// Enqueue is the MPSC entry point: any number of goroutines issuing
// non-blocking collectives may call this concurrently. Never blocks.
func (e *Engine) Enqueue(s *collective.State) {
	e.mu.Lock()
	e.incoming = append(e.incoming, tracked{state: s, enqueuedAt: time.Now()})
	e.mu.Unlock()
}

// Run is the engine's body: call it from its own dedicated goroutine. It
// returns once Stop has been called and every in-flight state has either
// completed or the drain timeout (spec §4.5's bounded drain) has elapsed.
func (e *Engine) Run() error {
	if len(e.cpus) > 0 {
		if err := sys.PinThread(e.cpus); err != nil {
			nlog.Warningf("progress: pin affinity %v: %v", e.cpus, err)
		}
	}
	defer close(e.stopped)
	for {
		select {
		case <-e.stop.Listen():
			e.drain(5 * time.Second)
			return nil
		default:
		}
		e.absorb()
		if !e.pollOnce() {
			time.Sleep(time.Microsecond)
		}
	}
}

// Stop signals Run to drain and return; it does not block the caller - use
// WaitStopped to join.
func (e *Engine) Stop(error) { e.stop.Close() }

// WaitStopped blocks the caller until Run has returned.
func (e *Engine) WaitStopped() { <-e.stopped }

// InFlight reports the number of states the engine is currently tracking
// (incoming + inflight), for the stats gauge and for drain's quiescence
// poll.
func (e *Engine) InFlight() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.incoming) + len(e.inflight)
}

func (e *Engine) absorb() {
	e.mu.Lock()
	if len(e.incoming) == 0 {
		e.mu.Unlock()
		return
	}
	newly := e.incoming
	e.incoming = nil
	e.mu.Unlock()
	for _, t := range newly {
		e.observer.OnEnqueue(t.state)
		e.inflight = append(e.inflight, t)
	}
}

// pollOnce round-robins one Advance() call across every in-flight state and
// reaps the ones that completed. Returns whether any state made progress,
// so Run can back off briefly when the engine is fully idle.
func (e *Engine) pollOnce() bool {
	if len(e.inflight) == 0 {
		return false
	}
	progressed := false
	live := e.inflight[:0]
	for _, t := range e.inflight {
		if t.state.Advance() {
			progressed = true
		}
		if t.state.Done() {
			t.state.Release()
			e.observer.OnComplete(t.state, t.enqueuedAt)
			continue
		}
		live = append(live, t)
	}
	e.inflight = live
	return progressed
}

// drain polls until every currently-tracked state has completed or
// maxTimeout has elapsed, logging and abandoning the rest on timeout -
// spec's Finalize is documented as draining, not force-cancelling.
func (e *Engine) drain(maxTimeout time.Duration) {
	start := time.Now()
	for {
		e.absorb()
		e.pollOnce()
		res := xact.RefcntQuiCB(e.InFlight, maxTimeout, time.Since(start))
		switch res {
		case xact.QuiInactiveCB:
			return
		case xact.QuiTimeout:
			if n := e.InFlight(); n > 0 {
				nlog.Warningf("progress: drain timed out with %d states still in flight", n)
			}
			return
		default:
			time.Sleep(200 * time.Microsecond)
		}
	}
}
