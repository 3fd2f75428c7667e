// +build amd64

package mem

const (
	// PointerShift is equal to log2(unsafe.Sizeof(uintptr)). The pointer
	// size for this architecture is defined as (1 << PointerShift).
	PointerShift = 3

	// PageShift is equal to log2(PageSize). This constant is used when
	// we need to convert a physical address to a page number (shift right by PageShift)
	// and vice-versa.
	PageShift = 12

	// PageSize defines the system's page size in bytes.
	PageSize = Size(1 << PageShift)

	// PageShiftLarge is equal to log2(PageSizeLarge).
	PageShiftLarge = 21

	// PageSizeLarge defines the size of a large (2 MiB) page.
	PageSizeLarge = Size(1 << PageShiftLarge)

	// PageLevels is the number of levels in the paging hierarchy used by
	// this architecture (L4, L3, L2, L1).
	PageLevels = 4

	// PageLevelBits is the number of virtual address bits consumed by
	// each level of the paging hierarchy.
	PageLevelBits = 9

	// PageTableEntries is the number of entries in each page table level.
	PageTableEntries = 1 << PageLevelBits

	// KernelBase is the virtual address where the higher-half identity
	// mapping of all physical RAM begins.
	KernelBase = uintptr(0xffffff8000000000)

	// UserSpaceEnd is the exclusive upper bound of the low, per-process
	// user address range.
	UserSpaceEnd = uintptr(1) << 39
)

// PageLevelShifts holds the bit shift required to extract the page-table
// index for each paging level from a virtual address, ordered L4 (index 0)
// to L1 (index 3).
var PageLevelShifts = [PageLevels]uint{39, 30, 21, 12}
