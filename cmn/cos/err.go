package cos

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/liuhatry/Aluminum/cmn/debug"
	"github.com/liuhatry/Aluminum/cmn/nlog"
)

// Errs aggregates up to maxErrs distinct errors behind a single error value,
// dropping duplicates and anything past the cap so it does not grow
// unboundedly under a pathological run.
type Errs struct {
	errs []error
	cnt  atomic.Int64
	mu   sync.Mutex
}

const maxErrs = 4

func (e *Errs) Add(err error) {
	debug.Assert(err != nil)
	e.mu.Lock()
	for _, added := range e.errs {
		if added.Error() == err.Error() {
			e.mu.Unlock()
			return
		}
	}
	if len(e.errs) < maxErrs {
		e.errs = append(e.errs, err)
		e.cnt.Store(int64(len(e.errs)))
	}
	e.mu.Unlock()
}

func (e *Errs) Cnt() int { return int(e.cnt.Load()) }

func (e *Errs) JoinErr() (cnt int, err error) {
	if cnt = e.Cnt(); cnt > 0 {
		e.mu.Lock()
		err = errors.Join(e.errs...)
		e.mu.Unlock()
	}
	return
}

func (e *Errs) Error() (s string) {
	cnt := e.Cnt()
	if cnt == 0 {
		return
	}
	e.mu.Lock()
	var err error
	if len(e.errs) > 0 {
		err = e.errs[0]
	}
	cnt = len(e.errs)
	e.mu.Unlock()
	if err == nil {
		return
	}
	if cnt > 1 {
		err = fmt.Errorf("%v (and %d more error%s)", err, cnt-1, plural(cnt-1))
	}
	return err.Error()
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

// Fatal errors (spec §7: device runtime failure and pinned-allocation
// exhaustion are both fatal - the library cannot make progress without
// either). ExitLogf logs then terminates the process, matching the
// teacher's cos.ExitLogf used for unrecoverable resource failures.

const fatalPrefix = "FATAL ERROR: "

func ExitLogf(format string, a ...any) {
	msg := fmt.Sprintf(fatalPrefix+format, a...)
	nlog.ErrorDepth(1, msg)
	_exit(msg)
}

func _exit(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
