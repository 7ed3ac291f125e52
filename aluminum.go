// Package alcore is the module's entry point: process-wide Init/Finalize
// and the communicator constructor that hands back a *backend.Backend.
// Grounded on the teacher's own once-per-process lifecycle pattern (a
// package-level singleton guarded against double-init/use-after-finalize),
// generalized from a single global to the one-singleton-per-process rule
// spec §6 calls for.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package alcore

import (
	"errors"
	"sync"

	"github.com/liuhatry/Aluminum/backend"
	"github.com/liuhatry/Aluminum/cmn/nlog"
	"github.com/liuhatry/Aluminum/device"
	"github.com/liuhatry/Aluminum/hk"
	"github.com/liuhatry/Aluminum/sys"
	"github.com/liuhatry/Aluminum/xport"
)

// ErrAlreadyInitialized and ErrNotInitialized guard the module-scoped
// lifecycle of spec §6: Init may run exactly once per process, and every
// other entry point requires it to have already run.
var (
	ErrAlreadyInitialized = errors.New("alcore: already initialized")
	ErrNotInitialized     = errors.New("alcore: not initialized")
)

// StreamsGetter is the hook ReplaceInternalStreams installs: a function the
// backend calls instead of device.Runtime.NewStream when building its
// internal stream pool, so a host application can hand Aluminum streams it
// already owns rather than have new ones allocated underneath it.
type StreamsGetter func(priority int) device.Stream

var (
	mu          sync.Mutex
	initialized bool
	runtime_    device.Runtime
	transport   xport.Transport
	getStreams  StreamsGetter
	backends    = map[string]*backend.Backend{}
)

// Init performs process-wide setup: caps GOMAXPROCS at the CPU count
// (sys.SetMaxProcs), starts the default housekeeper, and records the device/transport
// the rest of the process will build communicators against. argv is
// accepted (mirroring MPI's Init(&argc, &argv) signature) but unused beyond
// logging, since this module's configuration is entirely environment- and
// call-site-driven (see backend.ConfigFromEnv). Calling Init twice without
// an intervening Finalize is an error - re-init mid-run is not supported.
func Init(rt device.Runtime, tp xport.Transport, argv []string) error {
	mu.Lock()
	defer mu.Unlock()
	if initialized {
		return ErrAlreadyInitialized
	}
	sys.SetMaxProcs()
	runtime_ = rt
	transport = tp
	getStreams = nil
	backends = map[string]*backend.Backend{}
	go hk.DefaultHK.Run()
	hk.WaitStarted()
	initialized = true
	nlog.Infof("alcore: initialized (argv=%v)", argv)
	return nil
}

// ReplaceInternalStreams installs g as the source of internal streams for
// every communicator constructed after this call. Passing nil restores the
// default (device.Runtime.NewStream).
func ReplaceInternalStreams(g StreamsGetter) {
	mu.Lock()
	defer mu.Unlock()
	getStreams = g
}

// NewCommunicator constructs (or returns the existing) Backend for comm.
// Requires Init to have already run.
func NewCommunicator(comm string) (*backend.Backend, error) {
	mu.Lock()
	defer mu.Unlock()
	if !initialized {
		return nil, ErrNotInitialized
	}
	if b, ok := backends[comm]; ok {
		return b, nil
	}
	b := backend.New(runtime_, transport, comm, getStreams)
	backends[comm] = b
	return b, nil
}

// Finalize drains and tears down every communicator created since Init,
// stops the default housekeeper, and resets the module to its
// uninitialized state so a later Init can run again (principally for tests;
// spec §6 does not expect a production process to Init more than once).
func Finalize() {
	mu.Lock()
	defer mu.Unlock()
	if !initialized {
		return
	}
	for name, b := range backends {
		b.Finalize()
		delete(backends, name)
	}
	hk.DefaultHK.Stop(nil)
	hk.DefaultHK = hk.New()
	initialized = false
	nlog.Infof("alcore: finalized")
}
