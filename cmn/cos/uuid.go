// Package cos provides small, dependency-light utilities shared by every
// package in this module - ID generation, a stoppable background-worker
// primitive, hard (non-gated) assertions, and size constants.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import (
	"strconv"
	"sync/atomic"

	"github.com/OneOfOne/xxhash"
	"github.com/teris-io/shortid"
)

// Alphabet for generating short collective/request IDs, mirrors aistore's
// own uuidABC (teris-io/shortid requires a 64-char custom alphabet to avoid
// '+' and '/').
const uuidABC = "-5nZJDft6LuzsjGNpPwY7rQa39vehq4i1cV2FROo8yHSlC0BUEdWbIxMmTgKXAk_"

// LenShortID is the nominal length of an ID minted by GenID, per
// https://github.com/teris-io/shortid#id-length
const LenShortID = 9

var (
	sid  *shortid.Shortid
	rtie atomic.Uint32
)

func init() {
	sid = shortid.MustNew(4 /*worker*/, uuidABC, 0)
}

// InitIDGen reseeds the generator; call once, early, with a process-unique
// seed (e.g. derived from the local rank) so that concurrently-running
// processes mint distinguishable IDs in their logs.
func InitIDGen(seed uint64) {
	sid = shortid.MustNew(4, uuidABC, seed)
}

// GenID mints a short, loggable identifier for a collective state or a
// request handle - not a cryptographic UUID, just something a human can
// tell apart in a log line.
func GenID() string {
	id := sid.MustGenerate()
	if !isAlpha(id[0]) {
		tie := rtie.Add(1)
		return string(rune('A'+tie%26)) + id
	}
	return id
}

// StreamOffset deterministically maps a communicator name to a starting
// index into the internal stream pool (spec §4.7's round-robin counter),
// so that two processes logging about "the same" communicator report a
// stable starting point without coordinating a shared clock or sequence.
func StreamOffset(commName string, poolSize int) int {
	if poolSize <= 0 {
		return 0
	}
	digest := xxhash.Checksum64S([]byte(commName), 0)
	return int(digest % uint64(poolSize))
}

// HashName renders a stable, short, filesystem/log-safe token for a name -
// used when logging a communicator or backend identity next to its hash.
func HashName(name string) string {
	digest := xxhash.Checksum64S([]byte(name), 0)
	return strconv.FormatUint(digest, 36)
}

func isAlpha(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
