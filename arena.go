package atomsnap

import "sync/atomic"

// arena is a fixed-size block of SlotsPerArena version slots belonging to
// exactly one thread context. Slot 0 is the sentinel: the permanent bottom
// of the free-stack, never handed out to a writer.
//
// Two free-stacks exist over the same slots. top is the cross-thread,
// multi-producer/single-consumer Treiber stack: any thread may push a freed
// slot onto it (via freeSlot), and only the owning thread pops, by
// detaching the whole chain at once (batchSteal) rather than one node at a
// time. The owning thread's actual allocation fast path walks a second,
// private chain kept in its threadContext, refilled from this one.
type arena struct {
	headers []slotHeader
	payload []slotPayload

	top atomic.Uint64 // packed (generation tag, Handle); see packTop.

	sentinel  Handle
	threadIdx int
	arenaIdx  int

	// liveCount is the number of slots currently allocated out of this
	// arena, across every thread. It is the signal maybeReclaim uses to
	// decide whether the arena's pages can be advised back to the OS.
	liveCount atomic.Int32

	// rawPages is non-nil when headers is backed by a raw OS mapping
	// (arena_pages_unix.go); nil when it falls back to a plain Go slice
	// (arena_pages_other.go). Only a non-nil rawPages can be madvised.
	rawPages []byte

	reclaimed atomic.Bool
}

func packTop(generation uint32, h Handle) uint64 {
	return uint64(generation)<<32 | uint64(uint32(h))
}

func unpackTopHandle(v uint64) Handle {
	return Handle(uint32(v))
}

func unpackTopGeneration(v uint64) uint32 {
	return uint32(v >> 32)
}

// newArena allocates a fresh arena for (threadIdx, arenaIdx) and returns it
// together with the head of a private chain threading every usable slot
// (1..SlotsPerArena-1). The chain is built with plain stores: the arena is
// not yet reachable by any other thread, so there is nothing to synchronize
// against.
func newArena(threadIdx, arenaIdx int) (*arena, Handle) {
	sentinel := makeHandle(threadIdx, arenaIdx, 0)

	headers, raw, ok := allocHeaderPages(SlotsPerArena)
	if !ok {
		headers = make([]slotHeader, SlotsPerArena)
		raw = nil
	}

	a := &arena{
		headers:   headers,
		payload:   make([]slotPayload, SlotsPerArena),
		sentinel:  sentinel,
		threadIdx: threadIdx,
		arenaIdx:  arenaIdx,
		rawPages:  raw,
	}
	a.top.Store(packTop(0, sentinel))

	head := NullHandle
	for idx := SlotsPerArena - 1; idx >= 1; idx-- {
		h := makeHandle(threadIdx, arenaIdx, idx)
		a.headers[idx].linkOrSelf.Store(uint64(head))
		head = h
	}
	return a, head
}

// push returns slot h to the arena's shared free-stack. Safe to call from
// any thread: it is the only free-stack operation freeSlot() (which may run
// on a reader or a writer goroutine, not necessarily the arena's owner)
// ever performs.
func (a *arena) push(h Handle) {
	idx := h.slotIdx()
	for {
		old := a.top.Load()
		oldHandle := unpackTopHandle(old)
		a.headers[idx].linkOrSelf.Store(uint64(oldHandle))
		newTop := packTop(unpackTopGeneration(old)+1, h)
		if a.top.CompareAndSwap(old, newTop) {
			return
		}
	}
}

// batchSteal atomically detaches the entire shared free-stack, handing the
// head of the chain to the caller and leaving the stack at its sentinel
// (empty) state. Returns ok=false if the stack was already empty.
func (a *arena) batchSteal() (head Handle, ok bool) {
	old := a.top.Swap(packTop(0, a.sentinel))
	h := unpackTopHandle(old)
	if h == a.sentinel {
		return NullHandle, false
	}
	return h, true
}

// next walks one step of a chain built out of linkOrSelf fields. It is only
// ever called by the single thread that currently owns the chain (either
// the arena's owner walking its local cache, or a thread that just won a
// batchSteal and is counting/relinking the stolen chain), so a plain atomic
// load (rather than any ordering-sensitive RMW) is sufficient.
func (a *arena) next(h Handle) Handle {
	return Handle(uint32(a.headers[h.slotIdx()].linkOrSelf.Load()))
}

func (a *arena) header(h Handle) *slotHeader {
	return &a.headers[h.slotIdx()]
}

func (a *arena) payloadOf(h Handle) *slotPayload {
	return &a.payload[h.slotIdx()]
}
