package atomsnap

import (
	"sync"
	"testing"
)

// TestPublishAcquireReleaseRunsCleanupOnce publishes two versions in
// sequence from one writer, has a reader observe the first, and checks that
// the cleanup callback fires exactly once per retired object.
func TestPublishAcquireReleaseRunsCleanupOnce(t *testing.T) {
	var mu sync.Mutex
	freed := map[string]int{}
	record := func(object, _ any) {
		mu.Lock()
		freed[object.(string)]++
		mu.Unlock()
	}

	g := newTestGate(t, 0, record)
	a := mustAcquireAllocator(t)
	defer a.Detach()

	vA, _ := NewVersion(a, g)
	vA.SetObject("A", nil)
	g.Exchange(0, vA)

	reader := g.Acquire(0)
	if reader == nil || reader.Object() != "A" {
		t.Fatalf("reader did not observe the published object A")
	}

	vB, _ := NewVersion(a, g)
	vB.SetObject("B", nil)
	old := g.Exchange(0, vB) // detaches A; reader has not released yet

	if freed["A"] != 0 {
		t.Fatalf("A was finalized while a reader still held it")
	}

	reader.Release()
	if freed["A"] != 1 {
		t.Fatalf("cleanup-for-A count = %d, want 1", freed["A"])
	}
	if old == nil || old.handle != vA.handle {
		t.Fatalf("Exchange did not return the detached A version")
	}

	// destroy: detach B with an empty placeholder exchange.
	placeholder, _ := NewVersion(a, g)
	g.Exchange(0, placeholder)
	if freed["B"] != 1 {
		t.Fatalf("cleanup-for-B count = %d, want 1", freed["B"])
	}
}

// TestCounterWrapWithoutDetachDoesNotReclaim forces the inner counter to its
// maximum value on a still-published, acquired version and confirms that
// wrapping it alone — without DETACHED set — never triggers reclamation.
func TestCounterWrapWithoutDetachDoesNotReclaim(t *testing.T) {
	freed := 0
	g := newTestGate(t, 0, func(any, any) { freed++ })
	a := mustAcquireAllocator(t)
	defer a.Detach()

	v, _ := NewVersion(a, g)
	v.SetObject("payload", nil)
	g.Exchange(0, v)
	reader := g.Acquire(0)

	_, hdr, _, ok := resolve(v.handle)
	if !ok {
		t.Fatalf("published handle does not resolve")
	}
	hdr.innerState.Store(uint64(innerCounterMask))

	reader.Release()

	if freed != 0 {
		t.Fatalf("wraparound without DETACHED triggered cleanup")
	}
	reread := g.Acquire(0)
	if reread == nil || reread.handle != v.handle {
		t.Fatalf("slot did not keep returning the same version after wraparound")
	}
	reread.Release()
}

// TestCounterWrapWithDetachReclaimsOnce forces the inner counter to its
// maximum value with DETACHED already set, then confirms the balancing
// release triggers exactly one cleanup call and returns the slot to its
// arena.
func TestCounterWrapWithDetachReclaimsOnce(t *testing.T) {
	freed := 0
	g := newTestGate(t, 0, func(any, any) { freed++ })
	a := mustAcquireAllocator(t)
	defer a.Detach()

	v, _ := NewVersion(a, g)
	v.SetObject("payload", nil)
	g.Exchange(0, v)

	ar, hdr, _, ok := resolve(v.handle)
	if !ok {
		t.Fatalf("published handle does not resolve")
	}
	liveBefore := ar.liveCount.Load()
	hdr.innerState.Store(uint64(innerCounterMask) | innerDetachedBit)

	v.Release()

	if freed != 1 {
		t.Fatalf("cleanup count = %d, want exactly 1", freed)
	}
	if ar.liveCount.Load() != liveBefore-1 {
		t.Fatalf("slot was not returned to its arena after finalization")
	}
}

// TestCompareAndExchangeRejectsStaleExpected checks that as long as an
// acquired version is unreleased, its handle cannot be recycled out from
// under a pending CompareAndExchange, and that a CompareAndExchange against
// an expected value that is no longer current fails cleanly.
func TestCompareAndExchangeRejectsStaleExpected(t *testing.T) {
	var mu sync.Mutex
	freed := map[string]int{}
	g := newTestGate(t, 0, func(object, _ any) {
		mu.Lock()
		freed[object.(string)]++
		mu.Unlock()
	})
	a := mustAcquireAllocator(t)
	defer a.Detach()

	v1, _ := NewVersion(a, g)
	v1.SetObject("v1", nil)
	g.Exchange(0, v1)

	acquired := g.Acquire(0) // A holds this; deliberately never released yet

	v2, _ := NewVersion(a, g)
	v2.SetObject("v2", nil)
	if !g.CompareAndExchange(0, acquired, v2) {
		t.Fatalf("CompareAndExchange against the actually-current version failed")
	}
	if freed["v1"] != 0 {
		t.Fatalf("v1 was finalized while acquired was still outstanding")
	}

	v3, _ := NewVersion(a, g)
	v3.SetObject("v3", nil)
	if g.CompareAndExchange(0, acquired, v3) {
		t.Fatalf("a second CompareAndExchange against a now-stale expected must fail cleanly")
	}

	acquired.Release()
	if freed["v1"] != 1 {
		t.Fatalf("v1 cleanup count after its last release = %d, want 1", freed["v1"])
	}
}

// TestConcurrentReadersAgainstSingleWriterCleanupExactlyOnce runs concurrent
// readers against a single writer loop and checks that every cleanup
// eventually fires and none fire twice.
func TestConcurrentReadersAgainstSingleWriterCleanupExactlyOnce(t *testing.T) {
	const writerOps = 2000
	const readers = 6

	var mu sync.Mutex
	freedCount := map[int]int{}
	g := newTestGate(t, 0, func(object, _ any) {
		mu.Lock()
		freedCount[object.(int)]++
		mu.Unlock()
	})
	a := mustAcquireAllocator(t)
	defer a.Detach()

	v0, _ := NewVersion(a, g)
	v0.SetObject(-1, nil)
	g.Exchange(0, v0)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ra, err := AcquireAllocator()
			if err != nil {
				return
			}
			defer ra.Detach()
			last := -1
			for {
				select {
				case <-stop:
					return
				default:
				}
				r := g.Acquire(0)
				if r == nil {
					continue
				}
				val := r.Object().(int)
				if val < last {
					t.Errorf("reader observed payload %d after having already observed %d", val, last)
				}
				last = val
				r.Release()
			}
		}()
	}

	writer, err := AcquireAllocator()
	if err != nil {
		t.Fatalf("AcquireAllocator for writer: %v", err)
	}
	for i := 0; i < writerOps; i++ {
		v, err := NewVersion(writer, g)
		if err != nil {
			t.Fatalf("NewVersion: %v", err)
		}
		v.SetObject(i, nil)
		g.Exchange(0, v)
	}
	close(stop)
	wg.Wait()

	// Detach the final version so every payload this test ever published
	// has gone through the full Published -> Detached -> Reclaimable ->
	// Free lifecycle: after this, cleanup calls must equal writer ops.
	sink, err := NewVersion(writer, g)
	if err != nil {
		t.Fatalf("NewVersion for final detach: %v", err)
	}
	g.Exchange(0, sink)
	writer.Detach()

	mu.Lock()
	defer mu.Unlock()
	for i := 0; i < writerOps; i++ {
		if freedCount[i] != 1 {
			t.Fatalf("payload %d was finalized %d times, want exactly 1", i, freedCount[i])
		}
	}
}

// TestAbortRecyclesSlotsWithoutGrowingArenaCount checks that exhausting one
// arena through NewVersion/Abort refills the local free-stack via
// batch-steal rather than growing the arena count.
func TestAbortRecyclesSlotsWithoutGrowingArenaCount(t *testing.T) {
	g := newTestGate(t, 0, func(any, any) {})
	a := mustAcquireAllocator(t)
	defer a.Detach()

	// Warm up so at least one arena exists before measuring, regardless of
	// whether this thread index already had one from an earlier test.
	warm, err := NewVersion(a, g)
	if err != nil {
		t.Fatalf("warm-up NewVersion: %v", err)
	}
	warm.Abort()
	arenasBefore := a.ctx.activeCount.Load()

	for i := 0; i < 4*(SlotsPerArena-1); i++ {
		v, err := NewVersion(a, g)
		if err != nil {
			t.Fatalf("NewVersion #%d: %v", i, err)
		}
		v.SetObject("x", nil)
		v.Abort()
	}
	if got := a.ctx.activeCount.Load(); got != arenasBefore {
		t.Fatalf("arena count changed across a pure allocate/abort loop: before=%d after=%d",
			arenasBefore, got)
	}
}

func TestVersion_AbortRunsCleanupOnce(t *testing.T) {
	freed := 0
	g := newTestGate(t, 0, func(any, any) { freed++ })
	a := mustAcquireAllocator(t)
	defer a.Detach()

	v, err := NewVersion(a, g)
	if err != nil {
		t.Fatalf("NewVersion: %v", err)
	}
	v.SetObject("unpublished", nil)
	v.Abort()

	if freed != 1 {
		t.Fatalf("Abort cleanup count = %d, want 1", freed)
	}
	if _, _, pl, ok := resolve(v.handle); !ok || pl.object != nil {
		t.Fatalf("aborted slot still carries a payload")
	}
}

func TestVersion_AbortOnUnattachedObjectSkipsCleanup(t *testing.T) {
	freed := 0
	g := newTestGate(t, 0, func(any, any) { freed++ })
	a := mustAcquireAllocator(t)
	defer a.Detach()

	v, _ := NewVersion(a, g)
	v.Abort()

	if freed != 0 {
		t.Fatalf("Abort ran cleanup for a version with no object attached")
	}
}

func TestGate_Close_ReportsOutstandingPublication(t *testing.T) {
	g := newTestGate(t, 0, func(any, any) {})
	a := mustAcquireAllocator(t)
	defer a.Detach()

	if err := g.Close(); err != nil {
		t.Fatalf("Close on a brand-new gate: %v", err)
	}

	v, _ := NewVersion(a, g)
	v.SetObject("A", nil)
	g.Exchange(0, v)

	if err := g.Close(); err != ErrGateStillPublished {
		t.Fatalf("Close with a live published version: got %v, want ErrGateStillPublished", err)
	}
}
