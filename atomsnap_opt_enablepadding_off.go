//go:build !atomsnap_opt_enablepadding

package atomsnap

import "sync/atomic"

// slotHeader holds only the bookkeeping fields of a version slot: no Go
// pointers, so it is safe to back with raw OS memory (see
// arena_pages_unix.go) and to release with madvise once idle.
//
// innerState packs {counter, DETACHED, FINALIZED} as described in gate.go.
// linkOrSelf is a union: the next free handle while the slot is Free, or a
// copy of the slot's own handle once allocated.
type slotHeader struct {
	innerState atomic.Uint64
	linkOrSelf atomic.Uint64
}
