package atomsnap

const (
	// counterWidth is the bit width shared by the gate's outer counter and
	// every slot's inner counter. Subtracting one snapshot from the other
	// in modulo-2^32 arithmetic recovers the correct delta regardless of
	// wraparound, as long as fewer than 2^32 acquires are ever outstanding
	// against one published version at once.
	counterWidth = 32

	innerCounterMask = 1<<counterWidth - 1

	innerDetachedBit  = uint64(1) << counterWidth
	innerFinalizedBit = uint64(1) << (counterWidth + 1)
)

// slotPayload holds the parts of a version slot that are ordinary Go
// values: the user's object and free-context pointers, and the back
// reference to the owning gate. Kept out of slotHeader (and therefore out
// of any raw-mmap'd arena backing) so the garbage collector never loses
// visibility into live payloads.
type slotPayload struct {
	object      any
	freeContext any
	gate        *Gate
}

// innerCounter returns the low counterWidth bits of state: the releases
// recorded against this slot since it was last (re)built, less the outer
// snapshot subtracted when it was detached.
func innerCounter(state uint64) uint32 {
	return uint32(state & innerCounterMask)
}

func innerDetached(state uint64) bool {
	return state&innerDetachedBit != 0
}

func innerFinalized(state uint64) bool {
	return state&innerFinalizedBit != 0
}

// resetInnerState clears a header back to Building state: zero counter,
// both flags clear. Called only from freeSlot, by the thread that won the
// slot's finalization (or is aborting an unpublished version), just before
// the slot goes back on its free-stack; that thread owns the slot
// exclusively, so a plain store is correct.
func resetInnerState(h *slotHeader) {
	h.innerState.Store(0)
}
