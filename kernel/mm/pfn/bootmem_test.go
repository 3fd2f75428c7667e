package pfn

import (
	"testing"
	"unsafe"

	"gopheros/kernel/hal/multiboot"
	"gopheros/kernel/mem"
)

// A dump of multiboot data captured under qemu, cut down to the memory
// region tag (six entries: two available regions totalling about 127 MiB
// and four reserved ones) followed by the start of the ELF-sections tag.
var multibootMemoryMap = []byte{
	72, 5, 0, 0, 0, 0, 0, 0,
	6, 0, 0, 0, 160, 0, 0, 0, 24, 0, 0, 0, 0, 0, 0, 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 252, 9, 0, 0, 0, 0, 0,
	1, 0, 0, 0, 0, 0, 0, 0, 0, 252, 9, 0, 0, 0, 0, 0,
	0, 4, 0, 0, 0, 0, 0, 0, 2, 0, 0, 0, 0, 0, 0, 0,
	0, 0, 15, 0, 0, 0, 0, 0, 0, 0, 1, 0, 0, 0, 0, 0,
	2, 0, 0, 0, 0, 0, 0, 0, 0, 0, 16, 0, 0, 0, 0, 0,
	0, 0, 238, 7, 0, 0, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0,
	0, 0, 254, 7, 0, 0, 0, 0, 0, 0, 2, 0, 0, 0, 0, 0,
	2, 0, 0, 0, 0, 0, 0, 0, 0, 0, 252, 255, 0, 0, 0, 0,
	0, 0, 4, 0, 0, 0, 0, 0, 2, 0, 0, 0, 0, 0, 0, 0,
	9, 0, 0, 0, 212, 3, 0, 0, 24, 0, 0, 0, 40, 0, 0, 0,
	21, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 27, 0, 0, 0,
	1, 0, 0, 0, 2, 0, 0, 0, 0, 0, 16, 0, 0, 16, 0, 0,
	24, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

func TestPlanBootstrapExcludesKernelAndArray(t *testing.T) {
	multiboot.SetInfoPtr(uintptr(unsafe.Pointer(&multibootMemoryMap[0])))

	var totalAvailableBytes mem.Size
	multiboot.VisitMemRegions(func(region *multiboot.MemoryMapEntry) bool {
		if region.Type == multiboot.MemAvailable {
			totalAvailableBytes += mem.Size(region.Length)
		}
		return true
	})
	if totalAvailableBytes == 0 {
		t.Fatalf("fixture declares no available regions; test is not exercising anything")
	}

	// Pretend the kernel image occupies the first 1MB; this falls inside
	// the fixture's available regions and must be carved out.
	kernelStart := mem.PhysAddr(0)
	kernelEnd := mem.PhysAddr(1 * uint64(mem.Mb))

	maxFrames, arrayStart, arrayEnd, regions := planBootstrap(kernelStart, kernelEnd)

	if maxFrames == 0 {
		t.Fatalf("expected a non-zero frame count")
	}
	if arrayEnd <= arrayStart {
		t.Fatalf("expected arrayEnd (%v) to be after arrayStart (%v)", arrayEnd, arrayStart)
	}
	if arrayStart < kernelEnd {
		t.Fatalf("expected frame-info array to start after the kernel image; arrayStart=%v kernelEnd=%v", arrayStart, kernelEnd)
	}

	for _, r := range regions {
		if r.Start < kernelEnd && r.End > kernelStart {
			t.Errorf("region %+v overlaps the kernel image [%v, %v)", r, kernelStart, kernelEnd)
		}
		if r.Start < arrayEnd && r.End > arrayStart {
			t.Errorf("region %+v overlaps the frame-info array [%v, %v)", r, arrayStart, arrayEnd)
		}
	}

	var totalRegionBytes mem.Size
	for _, r := range regions {
		totalRegionBytes += mem.Size(uintptr(r.End) - uintptr(r.Start))
	}
	if totalRegionBytes == 0 {
		t.Fatalf("expected at least some free region bytes after carving out exclusions")
	}
}

func TestCutRegionSplitsAroundExclusion(t *testing.T) {
	r := Region{Start: 0, End: mem.PhysAddr(100)}

	cases := []struct {
		name       string
		exclStart  mem.PhysAddr
		exclEnd    mem.PhysAddr
		wantPieces []Region
	}{
		{"exclusion at start", 0, mem.PhysAddr(10), []Region{{Start: mem.PhysAddr(10), End: mem.PhysAddr(100)}}},
		{"exclusion at end", mem.PhysAddr(90), mem.PhysAddr(100), []Region{{Start: 0, End: mem.PhysAddr(90)}}},
		{"exclusion in middle", mem.PhysAddr(40), mem.PhysAddr(60), []Region{{Start: 0, End: mem.PhysAddr(40)}, {Start: mem.PhysAddr(60), End: mem.PhysAddr(100)}}},
		{"exclusion outside range", mem.PhysAddr(200), mem.PhysAddr(300), []Region{r}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := cutRegion(r, tc.exclStart, tc.exclEnd)
			if len(got) != len(tc.wantPieces) {
				t.Fatalf("expected %d pieces; got %d (%v)", len(tc.wantPieces), len(got), got)
			}
			for i, p := range got {
				if p != tc.wantPieces[i] {
					t.Errorf("piece %d: expected %+v; got %+v", i, tc.wantPieces[i], p)
				}
			}
		})
	}
}
