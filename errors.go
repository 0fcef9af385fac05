package atomsnap

import "errors"

var (
	// ErrThreadPoolExhausted is returned by AcquireAllocator when every one
	// of MaxThreads indices is currently held by another live Allocator.
	ErrThreadPoolExhausted = errors.New("atomsnap: thread pool exhausted, all thread indexes are occupied")

	// ErrArenaCapacityExhausted is returned by NewVersion when a thread's
	// allocator has already created MaxArenasPerThread arenas and every one
	// of them is fully allocated.
	ErrArenaCapacityExhausted = errors.New("atomsnap: arena capacity exhausted for this thread index")

	// ErrPageAllocationFailed is reserved for page-allocator exhaustion.
	// The current allocator falls back to heap-backed slot storage rather
	// than failing when the OS mapping itself cannot be obtained (see
	// allocHeaderPages in arena_pages_unix.go), so this is not returned by
	// any function today; it is exported so that discipline, and any
	// future backend that removes the fallback, can use errors.Is against
	// it like the other two exhaustion causes.
	ErrPageAllocationFailed = errors.New("atomsnap: page allocator exhausted")

	// ErrFreeCallbackRequired is returned by NewGate when Config.Free is
	// nil: a gate with no way to release objects cannot finalize.
	ErrFreeCallbackRequired = errors.New("atomsnap: Config.Free must not be nil")

	// ErrInvalidConfig is returned by NewGate for a Config whose fields are
	// out of the ranges this module supports.
	ErrInvalidConfig = errors.New("atomsnap: invalid Config")

	// ErrGateStillPublished is returned by Gate.Close when at least one
	// control block still resolves to a live slot.
	ErrGateStillPublished = errors.New("atomsnap: gate still has a published version")
)
