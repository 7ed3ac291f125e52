//go:build !mono

// Package mono provides low-level monotonic time.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package mono

import "time"

var epoch = time.Now()

// NanoTime returns a monotonic nanosecond counter. The //go:linkname trick
// the teacher uses under the `mono` build tag shaves a few ns off this call
// by reading the runtime's monotonic clock directly; absent that tag (the
// default here - no internal runtime assumptions) time.Since(epoch) already
// reads the monotonic reading baked into time.Time since Go 1.9 and is the
// portable equivalent.
func NanoTime() int64 { return int64(time.Since(epoch)) }
