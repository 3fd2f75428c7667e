// Package proc defines the in-memory representation of a userspace process:
// its saved register frame, its address space, and the bookkeeping the
// scheduler needs to pick it back up.
package proc

import (
	"gopheros/kernel/gate"
	"gopheros/kernel/mem"
	"gopheros/kernel/mm/vmm"
)

// UserStackStart is the fixed virtual address at which every process's user
// stack is mapped.
const UserStackStart = mem.VirtAddr(0x7ffffffde000)

// UserStackSize is the size of the mapped user stack.
const UserStackSize = mem.Size(16 * 1024)

// State describes where a process currently sits in the scheduler's view.
type State uint8

const (
	// StateUnused marks a ring slot that holds no process.
	StateUnused State = iota

	// StateRunnable means the process is eligible for selection by the
	// scheduler but is not currently executing.
	StateRunnable

	// StateRunning means the process is the one currently loaded on the
	// CPU; there is always at most one such process.
	StateRunning

	// StateStopped means the process has been taken out of rotation and
	// will never be selected again.
	StateStopped
)

// Segment records one mapped region of a process's address space, enough to
// tear it down again when the process exits.
type Segment struct {
	Start mem.VirtAddr
	Size  mem.Size
}

// Process is a single schedulable unit: a saved register frame plus the
// page directory and bookkeeping needed to resume it.
type Process struct {
	// Registers holds the process's saved execution context. It is
	// overwritten by gate.OnDispatch every time this process traps back
	// into the kernel, and consumed by the scheduler when resuming it.
	Registers gate.Registers

	// Dir is this process's root page directory.
	Dir *vmm.RootPageDir

	// State tracks the process's scheduling status.
	State State

	// Segments lists the mapped regions backing the loaded image, used
	// by Destroy to unmap and release every frame.
	Segments []Segment
}

// Destroy releases every segment mapped into this process's address space
// and the user stack, then drops the reference to its root page directory.
// After Destroy returns p must not be resumed.
func (p *Process) Destroy() {
	for _, seg := range p.Segments {
		pages := (uint64(seg.Size) + uint64(mem.PageSize) - 1) / uint64(mem.PageSize)
		p.Dir.UnmapRegion4K(seg.Start, pages)
	}

	stackPages := (uint64(UserStackSize) + uint64(mem.PageSize) - 1) / uint64(mem.PageSize)
	p.Dir.UnmapRegion4K(UserStackStart, stackPages)

	p.Segments = nil
	p.Dir = nil
	p.State = StateStopped
}
