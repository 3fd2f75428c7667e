package vmm

import "gopheros/kernel/mem"

// PageTableEntryFlag describes a flag that can be applied to a page table
// entry.
type PageTableEntryFlag uintptr

const (
	// FlagPresent is set when the page is available in memory and not
	// swapped out.
	FlagPresent PageTableEntryFlag = 1 << iota

	// FlagWritable is set if the page can be written to.
	FlagWritable

	// FlagUserAccessible is set if user-mode code can access this page.
	// If clear, only kernel code (CPL 0) can access this page.
	FlagUserAccessible

	// FlagWriteThroughCaching implies write-through caching when set and
	// write-back caching when cleared.
	FlagWriteThroughCaching

	// FlagDoNotCache prevents this page from being cached if set.
	FlagDoNotCache

	// FlagAccessed is set by the CPU when this page is accessed.
	FlagAccessed

	// FlagDirty is set by the CPU when this page is written to.
	FlagDirty

	// FlagLarge marks an L2 entry as a terminal 2 MiB leaf instead of a
	// pointer to an L1 table.
	FlagLarge

	// FlagGlobal prevents the TLB from flushing the cached translation
	// for this page when CR3 is reloaded.
	FlagGlobal
)

// FlagNoExecute occupies bit 63, the NX bit, which amd64 defines outside of
// the low flag cluster.
const FlagNoExecute PageTableEntryFlag = 1 << 63

// ptePhysAddrMask extracts bits 12-51, the physical frame address encoded in
// a page table entry.
const ptePhysAddrMask = uintptr(0x000ffffffffff000)

// pageTableEntry is one slot of a page table: a 40-bit physical frame index
// plus flag bits packed into the same 64-bit word, exactly as the MMU reads
// it.
type pageTableEntry uintptr

// HasFlags returns true if pte has every flag in flags set.
func (pte pageTableEntry) HasFlags(flags PageTableEntryFlag) bool {
	return uintptr(pte)&uintptr(flags) == uintptr(flags)
}

// SetFlags sets the given flags on pte.
func (pte *pageTableEntry) SetFlags(flags PageTableEntryFlag) {
	*pte = pageTableEntry(uintptr(*pte) | uintptr(flags))
}

// ClearFlags clears the given flags on pte.
func (pte *pageTableEntry) ClearFlags(flags PageTableEntryFlag) {
	*pte = pageTableEntry(uintptr(*pte) &^ uintptr(flags))
}

// Address returns the physical frame address encoded in pte.
func (pte pageTableEntry) Address() mem.PhysAddr {
	return mem.PhysAddr(uintptr(pte) & ptePhysAddrMask)
}

// SetAddress updates pte's physical frame address, leaving its flags intact.
func (pte *pageTableEntry) SetAddress(addr mem.PhysAddr) {
	*pte = pageTableEntry((uintptr(*pte) &^ ptePhysAddrMask) | (uintptr(addr) & ptePhysAddrMask))
}
