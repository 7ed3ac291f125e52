// Package xact provides the small ref-counted quiescence poll the progress
// engine's drain path uses to decide when it is safe to stop.
/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package xact

import "time"

// QuiRes is the result of one quiescence poll.
type QuiRes int

const (
	QuiActive     QuiRes = iota // count is still positive, keep waiting
	QuiInactiveCB               // count reached zero; caller should recheck once more before declaring done
	QuiTimeout                  // maxTimeout exceeded while count was still positive
)

// RefcntQuiCB reports whether a ref-counted shutdown should keep polling.
// Adapted from the teacher's xact.RefcntQuiCB (a ref-counted xaction
// quiescence callback gating cluster.QuiRes on an atomic refcount),
// generalized from an xaction's pending-request refcount to the progress
// engine's in-flight-collective count (progress.Engine.drain).
func RefcntQuiCB(count func() int, maxTimeout, totalSoFar time.Duration) QuiRes {
	if count() > 0 {
		if totalSoFar > maxTimeout {
			return QuiTimeout
		}
		return QuiActive
	}
	return QuiInactiveCB
}
