package mem

// PhysAddr is a distinct type over a physical memory address. It never
// implicitly converts to or from a VirtAddr; use ToVirt/FromVirt.
type PhysAddr uintptr

// VirtAddr is a distinct type over a virtual memory address. It never
// implicitly converts to or from a PhysAddr; use ToVirt/FromVirt.
type VirtAddr uintptr

// ToVirt returns the virtual address that maps this physical address in the
// higher-half identity map. This conversion is always defined: every
// physical address in [0, maxPhysAddr) is mapped at boot.
func (p PhysAddr) ToVirt() VirtAddr {
	return VirtAddr(KernelBase + uintptr(p))
}

// FromVirt returns the physical address backing a virtual address located
// inside the higher-half identity map. Callers must only invoke this for
// addresses known to fall in that range.
func FromVirt(v VirtAddr) PhysAddr {
	return PhysAddr(uintptr(v) - KernelBase)
}

// Add returns p+delta.
func (p PhysAddr) Add(delta uintptr) PhysAddr { return PhysAddr(uintptr(p) + delta) }

// Add returns v+delta.
func (v VirtAddr) Add(delta uintptr) VirtAddr { return VirtAddr(uintptr(v) + delta) }
