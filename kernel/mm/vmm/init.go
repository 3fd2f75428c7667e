package vmm

import (
	"gopheros/kernel"
	"gopheros/kernel/kfmt"
	"gopheros/kernel/mem"
	"gopheros/kernel/mm/pfn"
)

// KernelRootDir is the singleton address space used by kernel code before
// any user process exists, and remains the address space every kernel-mode
// page fault and interrupt handler runs under.
var KernelRootDir *RootPageDir

// StackGuard names a kernel stack boundary page that must never be present.
// A fault at one of these addresses is a stack overflow/underflow, not an
// ordinary unmapped-page fault.
type StackGuard struct {
	Name string
	Addr mem.VirtAddr
}

// stackGuards is populated by Init with the guard pages supplied by its
// caller: normally the top and bottom of the kernel stack plus the bottom
// of the interrupt stack and of the privileged (syscall) stack.
var stackGuards []StackGuard

// Init builds the kernel's higher-half identity map over every physical
// frame reported by the frame allocator and carves out the stack guard
// pages supplied by the caller (normally four: the top and bottom of the
// kernel stack and the bottom of the interrupt and privileged syscall
// stacks).
// It must run after pfn.BootstrapFromMultiboot and before any code
// dereferences a mem.PhysAddr's ToVirt() mapping.
func Init(maxPhysAddr mem.PhysAddr, guards []StackGuard) *kernel.Error {
	dir, err := NewRootPageDir()
	if err != nil {
		return err
	}

	largePages := (uint64(maxPhysAddr) + uint64(mem.PageSizeLarge) - 1) / uint64(mem.PageSizeLarge)
	kfmt.Printf("[vmm] identity-mapping %d large pages (%d MiB)\n", largePages, uint64(maxPhysAddr)/uint64(mem.Mb))

	if err := dir.MapRegion2M(mem.VirtAddr(mem.KernelBase), mem.PhysAddr(0), largePages, FlagWritable|FlagNoExecute); err != nil {
		return err
	}

	for _, g := range guards {
		if err := carveGuardPage(dir, g.Addr); err != nil {
			return err
		}
		kfmt.Printf("[vmm] stack guard %q installed at 0x%16x\n", g.Name, uintptr(g.Addr))
	}
	stackGuards = guards

	KernelRootDir = dir
	dir.SwitchToThis()
	return nil
}

// carveGuardPage demotes the 2 MiB region containing addr to 4 KiB pages and
// then removes the single page at addr, leaving every other page in the
// region mapped exactly as it was.
func carveGuardPage(dir *RootPageDir, addr mem.VirtAddr) *kernel.Error {
	regionStart := mem.VirtAddr(mem.LargePageRoundDown(uintptr(addr)))

	entry, err := dir.walkLarge(regionStart, false)
	if err != nil {
		return err
	}
	if !entry.HasFlags(FlagPresent) || !entry.HasFlags(FlagLarge) {
		return ErrInvalidMapping
	}

	regionPhys := entry.Address()
	perms := flagsOf(entry)

	if err := dir.UnmapLargePage(regionStart); err != nil {
		return err
	}

	pageCount := uint64(mem.PageSizeLarge / mem.PageSize)
	if err := dir.MapRegion4K(regionStart, regionPhys, pageCount, perms); err != nil {
		return err
	}

	return dir.UnmapPage(addr)
}

// flagsOf extracts the permission flags (everything but Present/Large) from
// an existing entry so carveGuardPage can re-create them at 4 KiB
// granularity.
func flagsOf(entry *pageTableEntry) PageTableEntryFlag {
	var perms PageTableEntryFlag
	for _, f := range []PageTableEntryFlag{FlagWritable, FlagUserAccessible, FlagWriteThroughCaching, FlagDoNotCache, FlagGlobal, FlagNoExecute} {
		if entry.HasFlags(f) {
			perms |= f
		}
	}
	return perms
}

// IsStackGuardPage reports whether addr falls on one of the stack guard
// pages installed by Init, and if so returns its name.
func IsStackGuardPage(addr mem.VirtAddr) (string, bool) {
	page := addr.PageRoundDown()
	for _, g := range stackGuards {
		if g.Addr.PageRoundDown() == page {
			return g.Name, true
		}
	}
	return "", false
}

// frameCount is a convenience used by tests to determine how many frames
// the allocator currently manages; kept here rather than exported from pfn
// since it is only meaningful relative to an already-initialized allocator.
func frameCount() int { return pfn.Len() }
