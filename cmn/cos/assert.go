package cos

import "fmt"

// Assert and AssertNoErr are hard, always-compiled-in checks for conditions
// that spec §7 calls fatal regardless of build (resource exhaustion, device
// runtime failure) - as opposed to cmn/debug's gated invariant checks, which
// exist purely to catch programming errors in this library during
// development and cost nothing in a release build.
func Assert(cond bool, args ...any) {
	if !cond {
		panic(fmt.Sprintln(append([]any{"assertion failed:"}, args...)...))
	}
}

func AssertNoErr(err error) {
	if err != nil {
		panic(fmt.Sprintf("assertion failed: unexpected error: %v", err))
	}
}
