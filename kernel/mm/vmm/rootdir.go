package vmm

import (
	"gopheros/kernel"
	"gopheros/kernel/cpu"
	"gopheros/kernel/mem"
	"gopheros/kernel/mm/pfn"
)

var (
	errRegionNotPageAligned = &kernel.Error{Module: "vmm", Message: "region start/end is not aligned to the requested page size"}
	flushTLBEntryFn         = cpu.FlushTLBEntry
	switchPDTFn             = cpu.SwitchPDT

	// allocFrameFn allocates and refcounts a fresh physical frame for use
	// as an intermediate page table or an anonymous page backing. Tests
	// replace this (together with tableAtFn) to exercise the mapping
	// logic without a real identity map in place.
	allocFrameFn = func() (mem.PhysAddr, *kernel.Error) {
		fi, err := pfn.AllocChecked()
		if err != nil {
			return 0, err
		}
		pfn.IncRefCount(fi)
		return fi.Address(), nil
	}

	// decRefFrameFn drops a reference to a frame previously handed out by
	// allocFrameFn, freeing it once nothing maps it any more.
	decRefFrameFn = func(phys mem.PhysAddr) {
		pfn.DecRefCount(pfn.FromAddress(phys))
	}

	// incRefFrameFn bumps the refcount of a frame that is about to be
	// shared by a second mapping, without allocating a new one. Used by
	// SeedKernelMapping to share the kernel's higher-half L4 entries
	// across every process address space.
	incRefFrameFn = func(phys mem.PhysAddr) {
		pfn.IncRefCount(pfn.FromAddress(phys))
	}
)

// RootPageDir owns the physical frame holding an L4 page table and provides
// every mapping operation exposed by this package. Exactly one RootPageDir
// is "live" (loaded into CR3) at a time; the kernel keeps a singleton for
// its own higher-half mappings and each user process owns its own.
type RootPageDir struct {
	root mem.PhysAddr
}

// NewRootPageDir allocates and zeroes a fresh L4 table and returns a
// RootPageDir backed by it.
func NewRootPageDir() (*RootPageDir, *kernel.Error) {
	root, err := allocFrameFn()
	if err != nil {
		return nil, err
	}
	return &RootPageDir{root: root}, nil
}

// Root returns the physical address of the L4 table backing this address
// space, as loaded into CR3 by SwitchToThis.
func (r *RootPageDir) Root() mem.PhysAddr { return r.root }

// SwitchToThis writes this RootPageDir's L4 physical address into CR3,
// making it the active address space.
func (r *RootPageDir) SwitchToThis() {
	switchPDTFn(uintptr(r.root))
}

// SeedKernelMapping copies every present L4 entry of kernelDir that falls at
// or above mem.KernelBase into r's own L4 table, bumping the refcount of
// each shared sub-table frame. This must be called once on every freshly
// created user RootPageDir before it is ever made active: it guarantees
// that kernel code, the identity map, and the kernel stack remain resolvable
// through CR3 while a user task's register frame is being restored or while
// the kernel is servicing a trap taken from user mode.
func (r *RootPageDir) SeedKernelMapping(kernelDir *RootPageDir) {
	srcTable := tableAtFn(kernelDir.root)
	dstTable := tableAtFn(r.root)

	firstKernelIndex := tableIndex(mem.VirtAddr(mem.KernelBase), 0)
	for i := firstKernelIndex; i < mem.PageTableEntries; i++ {
		entry := srcTable[i]
		if !entry.HasFlags(FlagPresent) {
			continue
		}

		incRefFrameFn(entry.Address())
		dstTable[i] = entry
	}
}

// MapPage maps the 4 KiB page containing addr to the frame at phys with the
// given permission flags. Present is always added implicitly. If a
// frame was already mapped at addr, its refcount is decremented
// (and it is freed if that drops it to zero) before the new mapping is
// installed.
func (r *RootPageDir) MapPage(addr mem.VirtAddr, phys mem.PhysAddr, perms PageTableEntryFlag) *kernel.Error {
	entry, err := r.walk(addr, true)
	if err != nil {
		return err
	}

	if entry.HasFlags(FlagPresent) {
		decRefFrameFn(entry.Address())
	}

	*entry = 0
	entry.SetAddress(phys)
	entry.SetFlags(perms | FlagPresent)
	flushTLBEntryFn(uintptr(addr))
	return nil
}

// UnmapPage clears the mapping at addr, decrementing the refcount of the
// frame that was mapped there.
func (r *RootPageDir) UnmapPage(addr mem.VirtAddr) *kernel.Error {
	entry, err := r.walk(addr, false)
	if err != nil {
		return err
	}
	if !entry.HasFlags(FlagPresent) {
		return ErrInvalidMapping
	}

	decRefFrameFn(entry.Address())
	entry.ClearFlags(FlagPresent)
	flushTLBEntryFn(uintptr(addr))
	return nil
}

// MapLargePage maps the 2 MiB region containing addr to the large frame at
// phys (which must be 2 MiB aligned) with the given permissions.
func (r *RootPageDir) MapLargePage(addr mem.VirtAddr, phys mem.PhysAddr, perms PageTableEntryFlag) *kernel.Error {
	entry, err := r.walkLarge(addr, true)
	if err != nil {
		return err
	}

	if entry.HasFlags(FlagPresent) {
		decRefFrameFn(entry.Address())
	}

	*entry = 0
	entry.SetAddress(phys)
	entry.SetFlags(perms | FlagPresent | FlagLarge)
	flushTLBEntryFn(uintptr(addr))
	return nil
}

// UnmapLargePage clears a 2 MiB mapping previously installed by
// MapLargePage or MapRegion2M.
func (r *RootPageDir) UnmapLargePage(addr mem.VirtAddr) *kernel.Error {
	entry, err := r.walkLarge(addr, false)
	if err != nil {
		return err
	}
	if !entry.HasFlags(FlagPresent) {
		return ErrInvalidMapping
	}

	decRefFrameFn(entry.Address())
	entry.ClearFlags(FlagPresent)
	flushTLBEntryFn(uintptr(addr))
	return nil
}

// MapRegion4K maps pages contiguous 4 KiB frames starting at physStart to
// the virtual range starting at from, using perms for every page.
func (r *RootPageDir) MapRegion4K(from mem.VirtAddr, physStart mem.PhysAddr, pages uint64, perms PageTableEntryFlag) *kernel.Error {
	if !from.IsPageAligned() || !mem.IsPageAligned(uintptr(physStart)) {
		return errRegionNotPageAligned
	}

	for i := uint64(0); i < pages; i++ {
		va := from.Add(uintptr(i) * uintptr(mem.PageSize))
		pa := physStart.Add(uintptr(i) * uintptr(mem.PageSize))
		if err := r.MapPage(va, pa, perms); err != nil {
			return err
		}
	}
	return nil
}

// MapRegion2M behaves like MapRegion4K but operates on 2 MiB large pages.
func (r *RootPageDir) MapRegion2M(from mem.VirtAddr, physStart mem.PhysAddr, largePages uint64, perms PageTableEntryFlag) *kernel.Error {
	if !mem.IsLargePageAligned(uintptr(from)) || !mem.IsLargePageAligned(uintptr(physStart)) {
		return errRegionNotPageAligned
	}

	for i := uint64(0); i < largePages; i++ {
		va := from.Add(uintptr(i) * uintptr(mem.PageSizeLarge))
		pa := physStart.Add(uintptr(i) * uintptr(mem.PageSizeLarge))
		if err := r.MapLargePage(va, pa, perms); err != nil {
			return err
		}
	}
	return nil
}

// UnmapRegion4K unmaps pages consecutive 4 KiB pages starting at from.
func (r *RootPageDir) UnmapRegion4K(from mem.VirtAddr, pages uint64) *kernel.Error {
	for i := uint64(0); i < pages; i++ {
		if err := r.UnmapPage(from.Add(uintptr(i) * uintptr(mem.PageSize))); err != nil {
			return err
		}
	}
	return nil
}

// UnmapRegion2M unmaps largePages consecutive 2 MiB regions starting at from.
func (r *RootPageDir) UnmapRegion2M(from mem.VirtAddr, largePages uint64) *kernel.Error {
	for i := uint64(0); i < largePages; i++ {
		if err := r.UnmapLargePage(from.Add(uintptr(i) * uintptr(mem.PageSizeLarge))); err != nil {
			return err
		}
	}
	return nil
}

// ChangePerms rewrites the permission flags (everything except Present and
// the physical address) of every mapped 4 KiB page in [from, from+size).
func (r *RootPageDir) ChangePerms(from mem.VirtAddr, size mem.Size, newPerms PageTableEntryFlag) *kernel.Error {
	pages := (uint64(size) + uint64(mem.PageSize) - 1) / uint64(mem.PageSize)
	for i := uint64(0); i < pages; i++ {
		addr := from.Add(uintptr(i) * uintptr(mem.PageSize))
		entry, err := r.walk(addr, false)
		if err != nil {
			return err
		}
		if !entry.HasFlags(FlagPresent) {
			return ErrInvalidMapping
		}
		phys := entry.Address()
		*entry = 0
		entry.SetAddress(phys)
		entry.SetFlags(newPerms | FlagPresent)
		flushTLBEntryFn(uintptr(addr))
	}
	return nil
}

// AllocRange maps size bytes (rounded up to a page boundary) starting at
// addr to freshly allocated, zeroed anonymous frames with the given
// permissions.
func (r *RootPageDir) AllocRange(addr mem.VirtAddr, size mem.Size, perms PageTableEntryFlag) *kernel.Error {
	pages := (uint64(size) + uint64(mem.PageSize) - 1) / uint64(mem.PageSize)
	for i := uint64(0); i < pages; i++ {
		phys, err := allocFrameFn()
		if err != nil {
			return err
		}
		if err := r.MapPage(addr.Add(uintptr(i)*uintptr(mem.PageSize)), phys, perms); err != nil {
			return err
		}
	}
	return nil
}

// IsRegionUserAccessible returns true iff every page in [from, to) is
// mapped and carries the UserAccessible flag.
func (r *RootPageDir) IsRegionUserAccessible(from, to mem.VirtAddr) bool {
	start := from.PageRoundDown()
	end := to.PageRoundUp()

	for addr := start; addr < end; addr = addr.Add(uintptr(mem.PageSize)) {
		entry, err := r.walk(addr, false)
		if err != nil || !entry.HasFlags(FlagPresent) || !entry.HasFlags(FlagUserAccessible) {
			return false
		}
	}
	return true
}

// Translate resolves addr to the physical address it is currently mapped
// to. It returns ErrInvalidMapping if addr is not mapped.
func (r *RootPageDir) Translate(addr mem.VirtAddr) (mem.PhysAddr, *kernel.Error) {
	entry, err := r.walk(addr, false)
	if err != nil {
		return 0, err
	}
	if !entry.HasFlags(FlagPresent) {
		return 0, ErrInvalidMapping
	}
	return entry.Address().Add(uintptr(addr) & (uintptr(mem.PageSize) - 1)), nil
}
