//go:build atomsnap_opt_enablepadding

package atomsnap

import "sync/atomic"

// slotHeader is the padded variant of the version slot bookkeeping record.
// Build with -tags atomsnap_opt_enablepadding to pad every header out to a
// full cache line, trading memory for freedom from false sharing between
// adjacent slots' innerState words under heavy concurrent acquire/release
// traffic. Off by default.
type slotHeader struct {
	innerState atomic.Uint64
	linkOrSelf atomic.Uint64

	//lint:ignore U1000 prevents false sharing between adjacent slots
	_ [(CacheLineSize - (2*8)%CacheLineSize) % CacheLineSize]byte
}
