//go:build linux

package sys

import (
	"runtime"

	"golang.org/x/sys/unix"

	"github.com/liuhatry/Aluminum/cmn/nlog"
)

// PinThread locks the calling goroutine to its OS thread
// (runtime.LockOSThread) and binds that thread to the given set of CPU IDs.
// The progress engine calls this from inside its own goroutine, per spec
// §4.5 ("on start it sets processor affinity (configurable)"). A nil or
// empty set is a no-op.
func PinThread(cpus []int) error {
	if len(cpus) == 0 {
		return nil
	}
	runtime.LockOSThread()
	var set unix.CPUSet
	set.Zero()
	for _, c := range cpus {
		set.Set(c)
	}
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		nlog.Warningf("failed to set progress-thread affinity to %v: %v", cpus, err)
		return err
	}
	return nil
}
