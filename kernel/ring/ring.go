// Package ring provides a fixed-capacity store of proc.Process records
// backed by a single allocated physical frame, avoiding GC-managed pointers
// for data the scheduler must reach before the Go allocator is safe to use.
//
// The module predates generics (go 1.15), so the ring is concretely typed
// over proc.Process rather than a general-purpose container.
package ring

import (
	"gopheros/kernel"
	"gopheros/kernel/mem"
	"gopheros/kernel/mm/pfn"
	"gopheros/kernel/proc"
	"reflect"
	"unsafe"
)

var errRingFull = &kernel.Error{Module: "ring", Message: "process ring is at capacity"}

// allocFrameFn is a seam over pfn.AllocChecked so tests can back a Ring with
// a fabricated address instead of a real physical frame.
var allocFrameFn = pfn.AllocChecked

// SetAllocFrameFn overrides the frame allocation hook used by New. It exists
// so packages that build a Ring indirectly, such as kernel/sched, can drive
// tests without a real physical allocator. Passing nil restores the default.
func SetAllocFrameFn(fn func() (*pfn.FrameInfo, *kernel.Error)) {
	if fn == nil {
		fn = pfn.AllocChecked
	}
	allocFrameFn = fn
}

// Ring is a fixed-size slot array of processes. Capacity is determined once
// at New and never grows.
type Ring struct {
	slots []proc.Process
}

// New allocates a single physical frame and carves it up into
// mem.PageSize/sizeof(proc.Process) process slots, all initially unused.
func New() (*Ring, *kernel.Error) {
	fi, err := allocFrameFn()
	if err != nil {
		return nil, err
	}

	capacity := int(uint64(mem.PageSize) / uint64(processSize))
	return &Ring{slots: processSlice(fi.Address().ToVirt(), capacity)}, nil
}

// Len returns the ring's fixed capacity.
func (r *Ring) Len() int { return len(r.slots) }

// At returns a pointer to the slot at index i.
func (r *Ring) At(i int) *proc.Process { return &r.slots[i] }

// Add installs p into the first StateUnused slot and returns its index.
func (r *Ring) Add(p proc.Process) (int, *kernel.Error) {
	for i := range r.slots {
		if r.slots[i].State == proc.StateUnused {
			r.slots[i] = p
			return i, nil
		}
	}
	return 0, errRingFull
}

// processSize is the in-memory size of a single proc.Process record.
const processSize = unsafe.Sizeof(proc.Process{})

// processSlice builds a []proc.Process backed by n contiguous records
// located at virtual address addr, without involving the Go allocator.
func processSlice(addr mem.VirtAddr, n int) []proc.Process {
	return *(*[]proc.Process)(unsafe.Pointer(&reflect.SliceHeader{
		Data: uintptr(addr),
		Len:  n,
		Cap:  n,
	}))
}
