// Package backend is the Aluminum host-transfer façade: the blocking and
// non-blocking methods applications call, wiring together memsys, device,
// syncflag, collective, progress, and xport into the twelve collectives of
// spec §6. Grounded on the teacher's own environment-variable-driven
// tunables (aistore reads AIS_* env vars at startup the same way this
// package reads AL_* ones).
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package backend

import (
	"os"
	"strconv"
	"strings"

	"github.com/liuhatry/Aluminum/cmn/nlog"
)

const (
	envUsePriorityStream = "AL_USE_PRIORITY_STREAM"
	envProgressCPUs      = "AL_PROGRESS_RANKS_PER_INTERNAL_COMM"
	envSyncMemPrealloc   = "AL_SYNC_MEM_PREALLOC"

	defaultStreamPoolSize  = 5
	defaultSyncMemPrealloc = 0
)

// Config holds the env-var-driven knobs of spec §4.7/§6.
type Config struct {
	// UsePriorityStream selects a higher device-stream priority for
	// internal progress-engine streams, where the runtime supports it.
	UsePriorityStream bool
	// StreamPoolSize is the number of internal streams (and progress
	// engines) the backend round-robins collectives across. Fixed at
	// spec §4.7's default of 5 - unlike UsePriorityStream/SyncMemPrealloc
	// it has no dedicated env knob.
	StreamPoolSize int
	// ProgressCPUs is the CPU affinity set every progress-engine thread is
	// pinned to via sys.PinThread (spec §4.5/§6, AL_PROGRESS_RANKS_PER_
	// INTERNAL_COMM). Empty leaves the threads unpinned.
	ProgressCPUs []int
	// SyncMemPrealloc is how many cache-line sync-flag buffers to
	// preallocate from the sync pool at construction.
	SyncMemPrealloc int
}

// ConfigFromEnv reads the AL_* environment variables, falling back to this
// module's defaults for anything unset or unparsable.
func ConfigFromEnv() Config {
	cfg := Config{
		StreamPoolSize:  defaultStreamPoolSize,
		SyncMemPrealloc: defaultSyncMemPrealloc,
	}
	if v := os.Getenv(envUsePriorityStream); v != "" {
		cfg.UsePriorityStream = envBool(v)
	}
	if v := os.Getenv(envProgressCPUs); v != "" {
		if cpus, err := parseCPUList(v); err == nil {
			cfg.ProgressCPUs = cpus
		} else {
			nlog.Warningf("backend: ignoring invalid %s=%q: %v", envProgressCPUs, v, err)
		}
	}
	if v := os.Getenv(envSyncMemPrealloc); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.SyncMemPrealloc = n
		} else {
			nlog.Warningf("backend: ignoring invalid %s=%q", envSyncMemPrealloc, v)
		}
	}
	return cfg
}

func envBool(v string) bool {
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

// parseCPUList parses a comma-separated list of CPU core IDs, e.g. "0,2,4".
func parseCPUList(v string) ([]int, error) {
	fields := strings.Split(v, ",")
	cpus := make([]int, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, err
		}
		cpus = append(cpus, n)
	}
	return cpus, nil
}

// Algorithm is the per-collective algorithm selector of spec §6. This
// backend implements exactly one concrete algorithm - host-transfer - so
// Automatic always resolves to HostTransfer; any other value is an explicit
// configuration error (spec: "must fail explicitly on invalid algorithm
// selection"), never a silent fallback.
type Algorithm int

const (
	Automatic Algorithm = iota
	HostTransfer
)

func (a Algorithm) resolve() (Algorithm, error) {
	switch a {
	case Automatic:
		return HostTransfer, nil
	case HostTransfer:
		return HostTransfer, nil
	default:
		return 0, errInvalidAlgorithm(a)
	}
}
