package vmm

import (
	"unsafe"

	"gopheros/kernel"
	"gopheros/kernel/mem"
)

// ErrInvalidMapping is returned when walking to a virtual address that is
// not currently mapped and the walk was not allowed to create missing
// intermediate tables.
var ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped page"}

var errIntermediateIsLarge = &kernel.Error{Module: "vmm", Message: "intermediate page table entry is marked as a large page"}

// leafLevel is the zero-based level index (L4=0) at which walk stops: L1.
const leafLevel = mem.PageLevels - 1

// largeLeafLevel is the level index at which walkLarge stops: L2.
const largeLeafLevel = mem.PageLevels - 2

// tableAtFn allows tests to intercept table dereferencing; production code
// leaves it pointing at the real identity-mapped table accessor.
var tableAtFn = tableAt

// tableAt returns the 512-entry page table stored at physical address phys,
// accessed through the permanent higher-half identity map.
func tableAt(phys mem.PhysAddr) *[mem.PageTableEntries]pageTableEntry {
	return (*[mem.PageTableEntries]pageTableEntry)(unsafe.Pointer(uintptr(phys.ToVirt())))
}

// tableIndex extracts the index into the page table at the given level for
// the supplied virtual address.
func tableIndex(addr mem.VirtAddr, level int) uintptr {
	return (uintptr(addr) >> mem.PageLevelShifts[level]) & (mem.PageTableEntries - 1)
}

// walkTo descends the page table hierarchy rooted at r.root from L4 down to
// (but not through) stopLevel, returning the entry at stopLevel that
// corresponds to addr. When create is true, missing intermediate tables are
// allocated, refcounted, zeroed, and linked in as the walk proceeds.
func (r *RootPageDir) walkTo(addr mem.VirtAddr, create bool, stopLevel int) (*pageTableEntry, *kernel.Error) {
	tablePhys := r.root

	for level := 0; ; level++ {
		table := tableAtFn(tablePhys)
		entry := &table[tableIndex(addr, level)]

		if level == stopLevel {
			return entry, nil
		}

		if !entry.HasFlags(FlagPresent) {
			if !create {
				return nil, ErrInvalidMapping
			}

			phys, err := allocFrameFn()
			if err != nil {
				return nil, err
			}

			*entry = 0
			entry.SetAddress(phys)
			entry.SetFlags(FlagPresent | FlagWritable | FlagUserAccessible)
		} else if entry.HasFlags(FlagLarge) {
			return nil, errIntermediateIsLarge
		}

		tablePhys = entry.Address()
	}
}

// walk descends to the L1 entry governing addr.
func (r *RootPageDir) walk(addr mem.VirtAddr, create bool) (*pageTableEntry, *kernel.Error) {
	return r.walkTo(addr, create, leafLevel)
}

// walkLarge descends to the L2 entry governing addr, for 2 MiB mappings.
func (r *RootPageDir) walkLarge(addr mem.VirtAddr, create bool) (*pageTableEntry, *kernel.Error) {
	return r.walkTo(addr, create, largeLeafLevel)
}
