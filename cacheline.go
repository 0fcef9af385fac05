package atomsnap

import (
	"unsafe"

	"golang.org/x/sys/cpu"
)

// CacheLineSize is used to pad hot atomic fields so that independent slots
// and gate control blocks never false-share a cache line. It is derived
// from golang.org/x/sys/cpu rather than hardcoded, since the true line size
// varies across architectures.
const CacheLineSize = unsafe.Sizeof(cpu.CacheLinePad{})
