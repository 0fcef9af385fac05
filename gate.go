package atomsnap

import (
	"sync/atomic"
	"unsafe"
)

// gateBlock is one control block: a 64-bit atomic packing the currently
// published Handle in its low 32 bits and an outer acquire counter in its
// high 32 bits, padded to its own cache line. Gates with extra control
// blocks (Config.NumExtraControlBlocks) are otherwise independent replicas
// of the same protocol, so padding keeps traffic on one slot from stalling
// another.
type gateBlock struct {
	cb atomic.Uint64

	_ [(CacheLineSize - unsafe.Sizeof(struct {
		cb atomic.Uint64
	}{})%CacheLineSize) % CacheLineSize]byte
}

func packControlBlock(h Handle, outer uint32) uint64 {
	return uint64(uint32(h)) | uint64(outer)<<32
}

func cbHandle(v uint64) Handle { return Handle(uint32(v)) }
func cbOuter(v uint64) uint32  { return uint32(v >> 32) }

// Gate is the publication point for one logically-versioned object. It
// holds one or more independent control blocks (slot 0 plus any extras
// configured at construction) and the single cleanup callback shared by
// every version it ever publishes.
type Gate struct {
	blocks []gateBlock
	free   func(object, freeContext any)
	logger Logger
}

// acquireHandle performs the single wait-free fetch_add that both bumps
// the outer counter and reads the handle it was bumped against.
func (g *Gate) acquireHandle(slot int) Handle {
	old := g.blocks[slot].cb.Add(uint64(1) << 32)
	// Add returns the new value; recover the value seen at the moment of
	// the increment by undoing the add we just performed.
	old -= uint64(1) << 32
	return cbHandle(old)
}

// Acquire bumps slot's outer counter and returns the version currently
// published there, or nil if nothing has ever been published to it (or the
// published handle no longer resolves, which cannot happen under correct
// use since handles are only retired after finalization drains every
// outstanding acquire).
func (g *Gate) Acquire(slot int) *Version {
	h := g.acquireHandle(slot)
	if _, _, _, ok := resolve(h); !ok {
		return nil
	}
	return &Version{handle: h}
}

// Exchange unconditionally installs v as slot's current version and
// returns the version that was previously published there (nil if slot had
// never been published to). The previous version is detached as part of
// this call: its counter is reconciled against the outer snapshot it had
// accumulated, and its cleanup runs immediately if that reconciliation
// already balances to zero.
func (g *Gate) Exchange(slot int, v *Version) *Version {
	newCB := packControlBlock(v.handle, 0)
	old := g.blocks[slot].cb.Swap(newCB)
	return g.detach(old)
}

// CompareAndExchange installs newV as slot's current version only if it is
// currently expected. Returns true on success, in which case expected is
// detached exactly as Exchange would detach it; returns false, leaving
// newV untouched in Building state, if some other publication had already
// changed the handle.
func (g *Gate) CompareAndExchange(slot int, expected, newV *Version) bool {
	blk := &g.blocks[slot]
	for {
		old := blk.cb.Load()
		if cbHandle(old) != expected.handle {
			return false
		}
		newCB := packControlBlock(newV.handle, 0)
		if blk.cb.CompareAndSwap(old, newCB) {
			g.detach(old)
			return true
		}
		// The CAS missed either because a different publisher won (the
		// handle changed, caught by the check above on the next
		// iteration) or only because a concurrent Acquire bumped the
		// outer counter; either way retrying from the top makes
		// progress, since some thread's operation is what caused the
		// miss.
	}
}

// detach reconciles the slot addressed by a just-detached control-block
// value: it sets DETACHED and subtracts the outer snapshot from the
// counter in one atomic update, then claims finalization if that leaves
// the counter balanced at zero. Returns a Version wrapping the detached
// handle, or nil if the control block held nothing resolvable (an empty
// gate slot, or one whose handle addresses a sentinel).
func (g *Gate) detach(old uint64) *Version {
	oldHandle := cbHandle(old)
	oldOuter := cbOuter(old)

	a, hdr, pl, ok := resolve(oldHandle)
	if !ok {
		return nil
	}

	for {
		cur := hdr.innerState.Load()
		newCounter := (innerCounter(cur) - oldOuter) & innerCounterMask
		newState := (cur &^ uint64(innerCounterMask)) | uint64(newCounter) | innerDetachedBit
		if hdr.innerState.CompareAndSwap(cur, newState) {
			if newCounter == 0 {
				g.tryFinalize(a, hdr, pl, oldHandle)
			}
			break
		}
	}
	return &Version{handle: oldHandle}
}

// release is invoked by Version.Release. It performs the reader-side
// counter bump and, if that bump is the one that lands on a detached,
// balanced counter, claims finalization.
func release(h Handle) {
	a, hdr, pl, ok := resolve(h)
	if !ok {
		return
	}
	for {
		cur := hdr.innerState.Load()
		newCounter := (innerCounter(cur) + 1) & innerCounterMask
		newState := (cur &^ uint64(innerCounterMask)) | uint64(newCounter)
		if hdr.innerState.CompareAndSwap(cur, newState) {
			if innerDetached(newState) && newCounter == 0 {
				pl.gate.tryFinalize(a, hdr, pl, h)
			}
			return
		}
	}
}

// tryFinalize attempts to claim the FINALIZED flag for a slot whose
// counter has just balanced to zero under DETACHED. Exactly one of the
// possibly-many concurrent callers (a racing reader Release and the writer
// that performed the detaching Exchange/CompareAndExchange) wins the CAS;
// only the winner runs the cleanup callback and returns the slot to its
// arena.
func (g *Gate) tryFinalize(a *arena, hdr *slotHeader, pl *slotPayload, h Handle) {
	for {
		cur := hdr.innerState.Load()
		if innerFinalized(cur) {
			return
		}
		if !innerDetached(cur) || innerCounter(cur) != 0 {
			return
		}
		if hdr.innerState.CompareAndSwap(cur, cur|innerFinalizedBit) {
			break
		}
	}

	object, freeContext := pl.object, pl.freeContext
	if object != nil && g.free != nil {
		g.free(object, freeContext)
	}
	freeSlot(h)
}
