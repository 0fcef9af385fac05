// Package atomsnap publishes immutable snapshots of a logical object so
// that many readers can observe a consistent version while writers
// atomically install new ones, without locks or hazard pointers. A writer
// builds a Version off an Allocator, publishes it through a Gate with
// Exchange or CompareAndExchange, and the Gate guarantees the version's
// cleanup callback runs exactly once, on whichever goroutine happens to be
// the last to release it.
package atomsnap

// Version is a handle to one published (or about-to-be-published) snapshot
// record. Its zero value is not usable; obtain one from NewVersion or from
// a Gate's Acquire/Exchange/CompareAndExchange.
type Version struct {
	handle Handle
}

// NewVersion allocates a fresh Version in Building state from a's thread
// context, with its back-pointer set to g. Returns ErrArenaCapacityExhausted
// if the allocator cannot satisfy the request (ErrThreadPoolExhausted comes
// from AcquireAllocator, before an Allocator exists).
func NewVersion(a *Allocator, g *Gate) (*Version, error) {
	h, err := a.ctx.allocate()
	if err != nil {
		g.logger.Warnf("atomsnap: NewVersion failed: %v", err)
		return nil, err
	}
	_, _, pl, ok := resolve(h)
	if !ok {
		// allocate() only ever returns handles that resolve; this would
		// indicate a bug in the allocator, not a runtime condition.
		panic("atomsnap: allocator returned an unresolvable handle")
	}
	pl.gate = g
	return &Version{handle: h}, nil
}

// SetObject attaches obj and its cleanup context to a Version still in
// Building state. Both become visible to any reader that acquires this
// version after it is published.
func (v *Version) SetObject(object, freeContext any) {
	_, _, pl, ok := resolve(v.handle)
	if !ok {
		return
	}
	pl.object = object
	pl.freeContext = freeContext
}

// Object returns the payload attached by SetObject. Valid to call at any
// point up to and including the call to Release that is the last one
// outstanding against v; calling it afterward is a programmer error.
func (v *Version) Object() any {
	_, _, pl, ok := resolve(v.handle)
	if !ok {
		return nil
	}
	return pl.object
}

// Abort discards a Version that was never published: its cleanup callback
// (if it has an object attached) runs immediately and the slot returns to
// its arena's free-stack. Calling Abort on a published version is a
// programmer error; use Exchange or CompareAndExchange to retire it
// instead.
func (v *Version) Abort() {
	_, _, pl, ok := resolve(v.handle)
	if !ok {
		return
	}
	object, freeContext, gate := pl.object, pl.freeContext, pl.gate
	if object != nil && gate != nil && gate.free != nil {
		gate.free(object, freeContext)
	}
	freeSlot(v.handle)
}

// Release records that the caller is done observing v, which must have
// been obtained from an Acquire or Exchange/CompareAndExchange result
// against the same Gate. v must not be used again afterward.
func (v *Version) Release() {
	release(v.handle)
}

// NewGate constructs a Gate from cfg. Returns ErrFreeCallbackRequired if
// cfg.Free is nil, or ErrInvalidConfig if NumExtraControlBlocks is
// negative.
func NewGate(cfg Config) (*Gate, error) {
	if cfg.Free == nil {
		return nil, ErrFreeCallbackRequired
	}
	if cfg.NumExtraControlBlocks < 0 {
		return nil, ErrInvalidConfig
	}
	g := &Gate{
		blocks: make([]gateBlock, 1+cfg.NumExtraControlBlocks),
		free:   cfg.Free,
		logger: resolveLogger(cfg.Logger),
	}
	return g, nil
}

// Close reports whether it is safe to drop g: every control block must
// currently resolve to nothing (an unpublished slot, or one whose version
// has already fully detached and freed). It is a best-effort check, not a
// proof — a reader that acquired before Close and has not yet released is
// not, and cannot be, detected from the control block alone.
func (g *Gate) Close() error {
	for i := range g.blocks {
		cb := g.blocks[i].cb.Load()
		if _, _, _, ok := resolve(cbHandle(cb)); ok {
			return ErrGateStillPublished
		}
	}
	return nil
}
