package pfn

import (
	"gopheros/kernel/hal/multiboot"
	"gopheros/kernel/kfmt"
	"gopheros/kernel/mem"
)

// BootstrapFromMultiboot scans the memory map reported by the bootloader, reserves space for
// the frame-info array right after the kernel image, and builds the free
// frame list from whatever remains. kernelStart and kernelEnd are the
// physical addresses of the kernel image's first and one-past-last byte, as
// supplied by the linker script.
//
// This must run once, very early in boot, before any other package in this
// kernel allocates physical memory.
func BootstrapFromMultiboot(kernelStart, kernelEnd mem.PhysAddr) {
	kfmt.Printf("[pfn] system memory map:\n")
	multiboot.VisitMemRegions(func(region *multiboot.MemoryMapEntry) bool {
		kfmt.Printf("\t[0x%10x - 0x%10x] size: %10d type: %d\n",
			region.PhysAddress, region.PhysAddress+region.Length, region.Length, uint32(region.Type))
		return true
	})

	maxFrames, arrayStart, arrayEnd, regions := planBootstrap(kernelStart, kernelEnd)

	kfmt.Printf("[pfn] frame-info array: %d frames, 0x%x - 0x%x\n", maxFrames, uintptr(arrayStart), uintptr(arrayEnd))

	Init(maxFrames, arrayStart, regions)
}

// planBootstrap computes the frame-info array placement and the disjoint
// free regions BootstrapFromMultiboot should hand to Init. It is pure with
// respect to physical memory: it only reads the bootloader-supplied memory
// map and returns the plan, without dereferencing any address derived from
// it. This separation lets tests exercise the planning logic directly,
// since arrayStart.ToVirt() is only safe to dereference once the identity
// map this package sits below has actually been established.
func planBootstrap(kernelStart, kernelEnd mem.PhysAddr) (maxFrames uint32, arrayStart, arrayEnd mem.PhysAddr, regions []Region) {
	var highestFrame uint32
	multiboot.VisitMemRegions(func(region *multiboot.MemoryMapEntry) bool {
		if region.Type == multiboot.MemAvailable {
			end := index(mem.PhysAddr(region.PhysAddress + region.Length).PageRoundDown())
			if end > highestFrame {
				highestFrame = end
			}
		}
		return true
	})

	maxFrames = highestFrame + 1
	arraySize := uintptr(maxFrames) * frameInfoSize
	arrayStart = kernelEnd.LargePageRoundUp()
	arrayEnd = arrayStart.Add(arraySize).LargePageRoundUp()

	multiboot.VisitMemRegions(func(region *multiboot.MemoryMapEntry) bool {
		if region.Type != multiboot.MemAvailable {
			return true
		}

		start := mem.PhysAddr(region.PhysAddress)
		end := mem.PhysAddr(region.PhysAddress + region.Length)

		regions = append(regions, splitAroundExclusions(start, end, kernelStart, kernelEnd, arrayStart, arrayEnd)...)
		return true
	})

	return maxFrames, arrayStart, arrayEnd, regions
}

// splitAroundExclusions returns the portions of [start, end) that fall
// outside of both [exclA.0, exclA.1) and [exclB.0, exclB.1).
func splitAroundExclusions(start, end, exclAStart, exclAEnd, exclBStart, exclBEnd mem.PhysAddr) []Region {
	pieces := []Region{{Start: start, End: end}}
	for _, excl := range [][2]mem.PhysAddr{{exclAStart, exclAEnd}, {exclBStart, exclBEnd}} {
		var next []Region
		for _, p := range pieces {
			next = append(next, cutRegion(p, excl[0], excl[1])...)
		}
		pieces = next
	}
	return pieces
}

// cutRegion removes [exclStart, exclEnd) from [r.Start, r.End), returning
// zero, one, or two resulting sub-regions.
func cutRegion(r Region, exclStart, exclEnd mem.PhysAddr) []Region {
	if exclEnd <= r.Start || exclStart >= r.End {
		return []Region{r}
	}

	var out []Region
	if r.Start < exclStart {
		out = append(out, Region{Start: r.Start, End: exclStart})
	}
	if exclEnd < r.End {
		out = append(out, Region{Start: exclEnd, End: r.End})
	}
	return out
}

