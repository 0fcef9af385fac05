package atomsnap

import "sync/atomic"

// diagLogger backs the allocator's cold-path diagnostics (thread-index
// adoption, arena growth, page reclamation). This state is process-global,
// shared across every Gate, so it is not taken from any one Gate's Config;
// it always wraps slog.Default(), matching the default a Config.Logger of
// nil would resolve to.
var diagLogger = resolveLogger(nil)

// reclaimInterval is how many allocations an Allocator serves between
// opportunistic checks of whether its highest arena has gone fully idle.
const reclaimInterval = 256

// threadContext is the persistent, process-lifetime state behind one
// thread index: the arenas it has created and the private free-stack it
// refills from them. Go has no thread-exit hook, so a context outlives any
// single Allocator that held its index; a later Allocator assigned the
// same index adopts it, and its arenas, exactly as it was left.
type threadContext struct {
	idx int

	activeCount atomic.Int32 // arenas currently eligible for allocation/steal

	localTop  Handle // head of the private free chain; owner-only, no atomics needed
	allocSeq  uint64 // owner-only allocation counter, drives reclaimInterval
}

var (
	threadOccupied [MaxThreads]atomic.Bool
	threadContexts [MaxThreads]atomic.Pointer[threadContext]
)

// Allocator is the explicit, per-goroutine handle into the slot allocator.
// Native atomsnap assigns a thread-local allocator automatically on first
// use; Go has no portable thread-local storage, so this module surfaces the
// assignment directly as an explicit value the caller acquires and detaches.
// An Allocator must be used from one goroutine at a time, the same
// discipline zeebo/gofaster documents for its epoch Handle. Call Detach when
// the goroutine is done with it; the underlying thread context and its
// arenas persist for a later Allocator to adopt.
type Allocator struct {
	ctx *threadContext
}

// AcquireAllocator assigns the calling goroutine a thread index and returns
// an Allocator bound to it, adopting whatever context (and arenas) a prior
// holder of that index left behind. Returns ErrThreadPoolExhausted if every
// index is currently held.
func AcquireAllocator() (*Allocator, error) {
	for idx := 0; idx < MaxThreads; idx++ {
		if !threadOccupied[idx].CompareAndSwap(false, true) {
			continue
		}
		ctx := threadContexts[idx].Load()
		if ctx == nil {
			ctx = &threadContext{idx: idx, localTop: NullHandle}
			threadContexts[idx].Store(ctx)
		} else {
			diagLogger.Debugf("atomsnap: thread index %d adopted, %d arenas already active", idx, ctx.activeCount.Load())
		}
		return &Allocator{ctx: ctx}, nil
	}
	return nil, ErrThreadPoolExhausted
}

// Detach releases the Allocator's thread index for adoption by a later
// Allocator. The thread context and its arenas are left exactly as they
// are: still-allocated versions remain valid, and the local/shared
// free-stacks are picked up unchanged by whoever adopts the index next.
func (a *Allocator) Detach() {
	threadOccupied[a.ctx.idx].Store(false)
}

// allocate returns a fresh Handle in Building state, or
// ErrArenaCapacityExhausted if the thread already has MaxArenasPerThread
// active arenas and none of them has a free slot. It never blocks: the fast
// path is a single pointer chase, the slow path a bounded number of
// Swap-based steals plus at most one arena creation.
func (ctx *threadContext) allocate() (Handle, error) {
	for {
		if ctx.localTop != NullHandle {
			h := ctx.localTop
			a := arenaTable[ctx.idx][h.arenaIdx()].Load()
			ctx.localTop = a.next(h)
			a.header(h).linkOrSelf.Store(uint64(h))
			a.liveCount.Add(1)
			ctx.onAllocated()
			return h, nil
		}

		if stole := ctx.stealInto(); stole {
			continue
		}

		n := int(ctx.activeCount.Load())
		if n >= MaxArenasPerThread {
			diagLogger.Warnf("atomsnap: thread index %d exhausted its %d-arena capacity", ctx.idx, MaxArenasPerThread)
			return NullHandle, ErrArenaCapacityExhausted
		}

		newA, chainHead := newArena(ctx.idx, n)
		arenaTable[ctx.idx][n].Store(newA)
		ctx.activeCount.Add(1)
		ctx.localTop = chainHead
		diagLogger.Debugf("atomsnap: thread index %d grew to %d arenas", ctx.idx, n+1)
	}
}

// stealInto tries, in arena-index order, to batch-steal a non-empty shared
// free-stack into the local chain. Returns true as soon as one succeeds.
func (ctx *threadContext) stealInto() bool {
	n := int(ctx.activeCount.Load())
	for i := 0; i < n; i++ {
		a := arenaTable[ctx.idx][i].Load()
		if a == nil || a.reclaimed.Load() {
			continue
		}
		if head, ok := a.batchSteal(); ok {
			ctx.absorbChain(a, head)
			return true
		}
	}
	return false
}

// absorbChain splices a chain freshly stolen from arena a (terminated by
// a's own sentinel handle) onto the front of the thread's local chain.
func (ctx *threadContext) absorbChain(a *arena, head Handle) {
	if head == NullHandle {
		return
	}
	cur := head
	for {
		next := a.next(cur)
		if next == a.sentinel {
			a.header(cur).linkOrSelf.Store(uint64(ctx.localTop))
			break
		}
		cur = next
	}
	ctx.localTop = head
}

func (ctx *threadContext) onAllocated() {
	ctx.allocSeq++
	if ctx.allocSeq%reclaimInterval == 0 {
		ctx.maybeReclaim()
	}
}

// maybeReclaim inspects the thread's highest-index active arena and, if a
// single batchSteal recovers every usable slot while nothing is allocated
// out of it, advises its pages idle and retires it from future allocation
// attempts. The arena stays in the table, so handles into it keep
// resolving, and activeCount stops counting it as a source for new
// allocations or steals. The next time the thread grows, allocate creates a
// fresh arena at that same index and replaces the reclaimed one in the
// table.
func (ctx *threadContext) maybeReclaim() {
	n := int(ctx.activeCount.Load())
	if n <= 1 {
		return // keep at least one arena; never reclaim index 0
	}
	idx := n - 1
	a := arenaTable[ctx.idx][idx].Load()
	if a == nil || a.reclaimed.Load() || a.liveCount.Load() != 0 {
		return
	}

	head, ok := a.batchSteal()
	if !ok {
		return
	}

	count := 0
	for cur := head; cur != a.sentinel; cur = a.next(cur) {
		count++
	}

	if count != SlotsPerArena-1 || a.liveCount.Load() != 0 {
		ctx.absorbChain(a, head)
		return
	}

	if err := adviseIdle(a.rawPages); err != nil {
		ctx.absorbChain(a, head)
		return
	}
	a.reclaimed.Store(true)
	ctx.activeCount.Add(-1)
	diagLogger.Debugf("atomsnap: thread index %d reclaimed arena %d", ctx.idx, idx)
}

// freeSlot returns a retired slot to its arena's shared free-stack. It is
// called from Release, Exchange and CompareAndExchange whenever the
// finalization claim is won, possibly on a different goroutine (and a
// different thread index) than the one that allocated the slot — exactly
// the cross-thread free the shared stack exists to make safe.
func freeSlot(h Handle) {
	a, hdr, pl, ok := resolve(h)
	if !ok {
		return
	}
	pl.object = nil
	pl.freeContext = nil
	pl.gate = nil
	resetInnerState(hdr)
	a.push(h)
	a.liveCount.Add(-1)
}
