package syncflag

import "unsafe"

// pointerOf views the first 4 bytes of a pinned buffer as a *uint32. The
// buffer backing a Flag is always allocated at cos.CacheLineSize (64B) or
// more, well beyond the alignment a uint32 needs.
func pointerOf(b []byte) unsafe.Pointer {
	return unsafe.Pointer(&b[0])
}
