// Package sys provides methods to read system information and to pin the
// progress-engine thread to specific cores (spec §6's progress-thread
// affinity knobs).
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package sys

import (
	"os"
	"runtime"

	"github.com/liuhatry/Aluminum/cmn/nlog"
)

const maxProcsEnvVar = "GOMAXPROCS"

func NumCPU() int { return runtime.NumCPU() }

// SetMaxProcs lowers GOMAXPROCS to NumCPU when it is higher, unless it is
// already overridden via Go's own GOMAXPROCS environment variable.
func SetMaxProcs() {
	if val, exists := os.LookupEnv(maxProcsEnvVar); exists {
		nlog.Warningf("GOMAXPROCS is set via Go environment %q: %q", maxProcsEnvVar, val)
		return
	}
	maxprocs := runtime.GOMAXPROCS(0)
	ncpu := NumCPU()
	if maxprocs > ncpu {
		nlog.Warningf("reducing GOMAXPROCS (%d) to %d (num CPUs)", maxprocs, ncpu)
		runtime.GOMAXPROCS(ncpu)
	}
}
