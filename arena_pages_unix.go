//go:build linux || darwin || freebsd

package atomsnap

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// allocHeaderPages backs an arena's slot headers with an anonymous,
// page-aligned mmap region instead of the normal Go heap. headers contain
// no Go pointers (see slot.go), so handing the OS this memory back with
// madvise later is safe: the garbage collector never needed to scan it.
func allocHeaderPages(n int) (headers []slotHeader, raw []byte, ok bool) {
	size := n * int(unsafe.Sizeof(slotHeader{}))
	if page := unix.Getpagesize(); size%page != 0 {
		size += page - size%page
	}

	buf, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, nil, false
	}

	headers = unsafe.Slice((*slotHeader)(unsafe.Pointer(&buf[0])), n)
	return headers, buf, true
}

// adviseIdle tells the OS the backing physical pages of raw may be dropped.
// Virtual addresses stay valid; a later touch simply faults in zero pages,
// which is fine because the caller has already confirmed every slot in raw
// is idle (see maybeReclaim in allocator.go).
func adviseIdle(raw []byte) error {
	if raw == nil {
		return nil
	}
	return unix.Madvise(raw, unix.MADV_DONTNEED)
}
