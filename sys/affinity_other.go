//go:build !linux

package sys

import "github.com/liuhatry/Aluminum/cmn/nlog"

// PinThread is a no-op outside Linux: no portable affinity syscall exists,
// and the progress engine runs correctly (if not pinned) regardless.
func PinThread(cpus []int) error {
	if len(cpus) > 0 {
		nlog.Warningln("progress-thread affinity requested but unsupported on this platform")
	}
	return nil
}
