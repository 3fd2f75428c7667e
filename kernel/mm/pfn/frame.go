// Package pfn implements the kernel's physical frame allocator. It owns a
// contiguous array of per-frame metadata covering every physical frame in
// the machine and hands frames out from an intrusive freelist threaded
// through that array.
package pfn

import (
	"reflect"
	"unsafe"

	"gopheros/kernel"
	"gopheros/kernel/mem"
	"gopheros/kernel/sync"
)

// noFrame is the sentinel freelist index meaning "no next frame".
const noFrame = ^uint32(0)

var (
	errOutOfMemory = &kernel.Error{Module: "pfn", Message: "out of memory"}
	errFrameInUse  = &kernel.Error{Module: "pfn", Message: "free: frame still referenced"}
)

// FrameInfo is the per-frame metadata record. One instance exists for every
// physical frame reported by the bootloader's memory map, indexed by frame
// number.
type FrameInfo struct {
	// self is this record's own frame number, set once by Init. Keeping
	// it alongside the record avoids pointer arithmetic against the
	// backing array when a caller only has a *FrameInfo.
	self uint32

	// next links this frame into the freelist. It is only meaningful
	// while refCount == 0.
	next uint32

	// refCount tracks how many page-table entries (or other owners)
	// currently point at this frame. Every frame on the freelist has
	// refCount == 0; a frame returned by Alloc also starts at 0 until its
	// owner calls IncRefCount.
	refCount uint16

	// onFreelist distinguishes "never yet linked" from "linked with
	// next == noFrame because it is the list tail", purely so Init can
	// build the list without every frame looking like the tail.
	onFreelist bool
}

var (
	lock      sync.Spinlock
	infos     []FrameInfo
	freeHead  = noFrame
	infosBase mem.PhysAddr
)

// index returns the frame number for the given physical address.
func index(addr mem.PhysAddr) uint32 {
	return uint32(uintptr(addr) >> mem.PageShift)
}

// Address returns the physical address of the frame described by info.
func (fi *FrameInfo) Address() mem.PhysAddr {
	return mem.PhysAddr(uintptr(fi.self) << mem.PageShift)
}

// Region describes a free, page-aligned physical memory range as reported by
// the bootloader. Regions are always disjoint and sorted by Start.
type Region struct {
	Start mem.PhysAddr
	End   mem.PhysAddr
}

// Init sets up the frame-info array to cover [0, maxFrames) frames, starting
// with every frame unlinked (refCount 0, not on the freelist), then walks
// the supplied free regions and prepends each whole frame they contain to
// the freelist. Frames not covered by any region (kernel image, reserved
// ranges, the frame-info array's own backing store, which the caller must
// have already excluded from freeRegions) never enter the freelist and so
// can never be allocated.
//
// arrayAt is the physical address where the frame-info array itself will
// live; it must already be excluded from freeRegions by the caller.
func Init(maxFrames uint32, arrayAt mem.PhysAddr, freeRegions []Region) {
	infosBase = arrayAt
	infos = frameInfoSlice(arrayAt.ToVirt(), int(maxFrames))

	for i := range infos {
		infos[i] = FrameInfo{self: uint32(i), next: noFrame}
	}
	freeHead = noFrame

	for _, r := range freeRegions {
		start := mem.PhysAddr(r.Start.PageRoundUp())
		end := mem.PhysAddr(r.End.PageRoundDown())

		for addr := start; addr < end; addr = addr.Add(uintptr(mem.PageSize)) {
			idx := index(addr)
			if int(idx) >= len(infos) || infos[idx].onFreelist {
				continue
			}
			infos[idx].next = freeHead
			infos[idx].onFreelist = true
			freeHead = idx
		}
	}
}

// Alloc pops a frame from the freelist, zeroes its contents via the identity
// map, and returns it. It panics when the freelist is empty: callers in this
// kernel treat physical memory exhaustion as fatal. Use AllocChecked for a
// fallible variant.
func Alloc() *FrameInfo {
	fi, err := AllocChecked()
	if err != nil {
		panic(err)
	}
	return fi
}

// AllocChecked behaves like Alloc but returns an error instead of panicking
// when no frames remain.
func AllocChecked() (*FrameInfo, *kernel.Error) {
	lock.Acquire()
	defer lock.Release()

	if freeHead == noFrame {
		return nil, errOutOfMemory
	}

	idx := freeHead
	fi := &infos[idx]
	freeHead = fi.next
	fi.next = noFrame
	fi.onFreelist = false

	zeroFrameFn(fi.Address())

	return fi, nil
}

// zeroFrameFn clears a freshly allocated frame through its identity-mapped
// virtual address. Tests that exercise the freelist without a real identity
// map in place override this to a no-op, since the fabricated physical
// addresses used in those tests do not resolve to real memory.
var zeroFrameFn = func(addr mem.PhysAddr) {
	kernel.Memset(uintptr(addr.ToVirt()), 0, uintptr(mem.PageSize))
}

// Free returns a frame to the freelist. The caller must ensure refCount is
// already zero; Free is normally invoked only via DecRefCount.
func Free(fi *FrameInfo) *kernel.Error {
	lock.Acquire()
	defer lock.Release()
	return freeLocked(fi)
}

func freeLocked(fi *FrameInfo) *kernel.Error {
	if fi.refCount != 0 {
		return errFrameInUse
	}

	fi.next = freeHead
	fi.onFreelist = true
	freeHead = fi.self
	return nil
}

// IncRefCount increments fi's refcount and returns fi for chaining, mirroring
// the teacher's inc_refc/dec_refc fluent style.
func IncRefCount(fi *FrameInfo) *FrameInfo {
	lock.Acquire()
	fi.refCount++
	lock.Release()
	return fi
}

// DecRefCount decrements fi's refcount, freeing the frame when it reaches
// zero.
func DecRefCount(fi *FrameInfo) *FrameInfo {
	lock.Acquire()
	fi.refCount--
	if fi.refCount == 0 {
		_ = freeLocked(fi)
	}
	lock.Release()
	return fi
}

// RefCount returns fi's current refcount; exposed for tests and invariant
// checks.
func RefCount(fi *FrameInfo) uint16 {
	return fi.refCount
}

// FromAddress returns the FrameInfo record for the frame containing addr.
func FromAddress(addr mem.PhysAddr) *FrameInfo {
	return &infos[index(addr.PageRoundDown())]
}

// Len returns the number of tracked frames; exposed for tests.
func Len() int { return len(infos) }

// frameInfoSize is the in-memory size of a FrameInfo record.
const frameInfoSize = unsafe.Sizeof(FrameInfo{})

// frameInfoSlice builds a []FrameInfo backed by n contiguous records located
// at virtual address addr. Used to turn the raw backing store reserved for
// the frame-info array into a usable Go slice without involving the
// allocator, which is unavailable this early in boot.
func frameInfoSlice(addr mem.VirtAddr, n int) []FrameInfo {
	return *(*[]FrameInfo)(unsafe.Pointer(&reflect.SliceHeader{
		Data: uintptr(addr),
		Len:  n,
		Cap:  n,
	}))
}
