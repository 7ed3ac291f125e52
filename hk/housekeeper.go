// Package hk provides a mechanism for registering cleanup and monitoring
// functions invoked at specified intervals - this module's home for the
// periodic in-flight gauge update the progress engine itself must never pay
// for on its own hot poll loop.
/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package hk

import (
	"container/heap"
	"sync"
	"time"

	"github.com/liuhatry/Aluminum/cmn/cos"
	"github.com/liuhatry/Aluminum/cmn/debug"
)

const unregister = time.Duration(-1)

// F is a registered housekeeping callback. Its return value is the next
// interval to run after; any non-positive duration (e.g. unregister)
// deregisters it.
type F func() time.Duration

type request struct {
	name     string
	f        F
	interval time.Duration
	due      time.Time
	index    int
}

type reqHeap []*request

func (h reqHeap) Len() int            { return len(h) }
func (h reqHeap) Less(i, j int) bool  { return h[i].due.Before(h[j].due) }
func (h reqHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *reqHeap) Push(x any) {
	r := x.(*request)
	r.index = len(*h)
	*h = append(*h, r)
}
func (h *reqHeap) Pop() any {
	old := *h
	n := len(old)
	r := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return r
}

// Housekeeper is a registrar of interval-driven callbacks, run from a
// single dedicated goroutine (DefaultHK.Run).
type Housekeeper struct {
	mu      sync.Mutex
	byName  map[string]*request
	pending reqHeap
	wake    chan struct{}
	started chan struct{}
	startOnce sync.Once
	stop    *cos.StopCh
}

// DefaultHK is the module-wide housekeeper instance; callers Reg/Unreg
// against it, and the module's Init starts its Run loop.
var DefaultHK = New()

func New() *Housekeeper {
	return &Housekeeper{
		byName:  make(map[string]*request),
		wake:    make(chan struct{}, 1),
		started: make(chan struct{}),
		stop:    cos.NewStopCh(),
	}
}

// TestInit resets DefaultHK to a fresh state - used by test suites so
// successive tests don't see carry-over registrations from each other.
func TestInit() { DefaultHK = New() }

// Reg registers f to run first after interval, and again after whatever
// interval f itself returns thereafter. Re-registering an existing name
// replaces it.
func Reg(name string, f F, interval time.Duration) { DefaultHK.Reg(name, f, interval) }

// Unreg removes a registered callback by name; a no-op if not registered.
func Unreg(name string) { DefaultHK.Unreg(name) }

// WaitStarted blocks until DefaultHK.Run has entered its loop - callers that
// Reg before the loop starts do not need this; it exists for callers that
// want to be sure a background Run goroutine is live.
func WaitStarted() { <-DefaultHK.started }

// NameSuffix joins a base housekeeping job name with a disambiguating
// suffix (e.g. a communicator name), the convention this module's
// multi-communicator jobs use to avoid colliding on one DefaultHK registry.
func NameSuffix(name, suffix string) string { return name + "::" + suffix }

func (hk *Housekeeper) Reg(name string, f F, interval time.Duration) {
	debug.Assert(interval > 0, "housekeeping interval must be positive")
	r := &request{name: name, f: f, interval: interval, due: time.Now().Add(interval)}
	hk.mu.Lock()
	if old, ok := hk.byName[name]; ok {
		old.f = nil // tombstoned; Run skips nil-f entries it pops
	}
	hk.byName[name] = r
	heap.Push(&hk.pending, r)
	hk.mu.Unlock()
	select {
	case hk.wake <- struct{}{}:
	default:
	}
}

func (hk *Housekeeper) Unreg(name string) {
	hk.mu.Lock()
	if r, ok := hk.byName[name]; ok {
		r.f = nil
		delete(hk.byName, name)
	}
	hk.mu.Unlock()
}

func (hk *Housekeeper) Name() string { return "housekeeper" }

// Run is the housekeeper's body: call it from its own goroutine (see
// hk.DefaultHK.Run() / hk.WaitStarted() in this package's tests).
func (hk *Housekeeper) Run() error {
	hk.startOnce.Do(func() { close(hk.started) })
	for {
		select {
		case <-hk.stop.Listen():
			return nil
		default:
		}
		wait := hk.next()
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
			hk.fire()
		case <-hk.wake:
			timer.Stop()
		case <-hk.stop.Listen():
			timer.Stop()
			return nil
		}
	}
}

func (hk *Housekeeper) Stop(error) { hk.stop.Close() }

// next returns how long Run should sleep before its next wake-up: the
// interval until the earliest pending job is due, or a conservative default
// if nothing is registered yet.
func (hk *Housekeeper) next() time.Duration {
	hk.mu.Lock()
	defer hk.mu.Unlock()
	if len(hk.pending) == 0 {
		return time.Second
	}
	d := time.Until(hk.pending[0].due)
	if d < 0 {
		return 0
	}
	return d
}

// fire pops every job currently due, runs it, and reschedules or drops it.
func (hk *Housekeeper) fire() {
	now := time.Now()
	for {
		hk.mu.Lock()
		if len(hk.pending) == 0 || hk.pending[0].due.After(now) {
			hk.mu.Unlock()
			return
		}
		r := heap.Pop(&hk.pending).(*request)
		hk.mu.Unlock()
		if r.f == nil {
			continue // unregistered since it was scheduled
		}
		next := r.f()
		if next == unregister || next <= 0 {
			hk.mu.Lock()
			delete(hk.byName, r.name)
			hk.mu.Unlock()
			continue
		}
		r.due = now.Add(next)
		hk.mu.Lock()
		heap.Push(&hk.pending, r)
		hk.mu.Unlock()
	}
}
