package vmm

import (
	"gopheros/kernel"
	"gopheros/kernel/mem"
)

// earlyReserveLastUsed tracks the last reserved virtual address and is
// decreased after each allocation request. It starts just below the top of
// the canonical higher half, far above anything the kernel's physical
// identity map will ever reach.
var earlyReserveLastUsed = mem.VirtAddr(0xfffffffffffff000)

var errEarlyReserveNoSpace = &kernel.Error{Module: "vmm", Message: "remaining virtual address space not large enough to satisfy reservation request"}

// EarlyReserveRegion reserves a page-aligned contiguous virtual memory
// region of the requested size and returns its start address. size is
// rounded up to a page multiple if necessary.
//
// Regions are carved out starting at the top of the address space and
// growing downwards. This function is intended for bootstrapping the Go
// allocator, before a general-purpose virtual memory allocator exists.
func EarlyReserveRegion(size mem.Size) (mem.VirtAddr, *kernel.Error) {
	roundedSize := mem.VirtAddr(mem.PageRoundUp(uintptr(size)))

	if roundedSize > earlyReserveLastUsed {
		return 0, errEarlyReserveNoSpace
	}

	earlyReserveLastUsed -= roundedSize
	return earlyReserveLastUsed, nil
}
