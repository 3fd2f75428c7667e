// Package elf loads a static ELF64 executable image into a freshly created
// user address space, producing a proc.Process ready to be handed to the
// scheduler.
package elf

import (
	"bytes"
	"debug/elf"
	"gopheros/kernel"
	"gopheros/kernel/mem"
	"gopheros/kernel/mm/vmm"
	"gopheros/kernel/proc"
	"io"
	"reflect"
	"unsafe"
)

var (
	errBadImage  = &kernel.Error{Module: "elf", Message: "not a valid little-endian x86-64 static executable"}
	errLoadFault = &kernel.Error{Module: "elf", Message: "failed to map or populate a PT_LOAD segment"}
)

// userCodeSelector and userDataSelector are the ring-3 GDT selectors the
// bootstrap assembly programs; RPL=3 is OR-ed in by Load.
const (
	userCodeSelector = 0x20
	userDataSelector = 0x18
	rpl3             = 0x3

	rflagsIF = 1 << 9
)

// Load parses the ELF64 image in img, maps every PT_LOAD segment and the
// user stack into a fresh address space seeded with the kernel's own
// mapping, and returns a Process whose Registers frame is ready to be
// dispatched by the scheduler as a Runnable task.
func Load(img []byte) (*proc.Process, *kernel.Error) {
	f, err := elf.NewFile(bytes.NewReader(img))
	if err != nil {
		return nil, errBadImage
	}

	if f.Class != elf.ELFCLASS64 || f.Data != elf.ELFDATA2LSB ||
		f.OSABI != elf.ELFOSABI_NONE || f.Type != elf.ET_EXEC || f.Machine != elf.EM_X86_64 {
		return nil, errBadImage
	}

	dir, kerr := vmm.NewRootPageDir()
	if kerr != nil {
		return nil, kerr
	}
	dir.SeedKernelMapping(vmm.KernelRootDir)

	if kerr = dir.AllocRange(proc.UserStackStart, proc.UserStackSize, vmm.FlagUserAccessible|vmm.FlagWritable); kerr != nil {
		return nil, errLoadFault
	}

	dir.SwitchToThis()
	defer vmm.KernelRootDir.SwitchToThis()

	var segments []proc.Segment
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}

		segStart := mem.VirtAddr(prog.Vaddr).PageRoundDown()
		segOffset := mem.VirtAddr(prog.Vaddr) - segStart
		segSize := mem.Size(uint64(segOffset) + prog.Memsz)

		if kerr = dir.AllocRange(segStart, segSize, vmm.FlagUserAccessible|vmm.FlagWritable); kerr != nil {
			return nil, errLoadFault
		}

		dst := rawBytesAt(mem.VirtAddr(prog.Vaddr), mem.Size(prog.Filesz))
		n, rerr := prog.ReadAt(dst, 0)
		if rerr != nil && rerr != io.EOF {
			return nil, errLoadFault
		}
		if uint64(n) != prog.Filesz {
			return nil, errLoadFault
		}

		perms := vmm.FlagUserAccessible | vmm.FlagPresent
		if prog.Flags&elf.PF_W != 0 {
			if prog.Flags&elf.PF_X != 0 {
				return nil, errBadImage
			}
			perms |= vmm.FlagWritable
		}
		if prog.Flags&elf.PF_X == 0 {
			perms |= vmm.FlagNoExecute
		}
		if kerr = dir.ChangePerms(segStart, segSize, perms); kerr != nil {
			return nil, errLoadFault
		}

		segments = append(segments, proc.Segment{Start: segStart, Size: segSize})
	}

	p := &proc.Process{
		Dir:      dir,
		Segments: segments,
		State:    proc.StateRunnable,
	}
	p.Registers.CS = uint64(userCodeSelector | rpl3)
	p.Registers.SS = uint64(userDataSelector | rpl3)
	p.Registers.RFlags = rflagsIF
	p.Registers.RSP = uint64(proc.UserStackStart) + uint64(proc.UserStackSize) - 16
	p.Registers.RIP = f.Entry

	return p, nil
}

// rawBytesAt returns a Go slice backed directly by the page-mapped memory at
// addr, sized to size. It must only be called while the target address
// space's RootPageDir is active in CR3.
func rawBytesAt(addr mem.VirtAddr, size mem.Size) []byte {
	return *(*[]byte)(unsafe.Pointer(&reflect.SliceHeader{
		Data: uintptr(addr),
		Len:  int(size),
		Cap:  int(size),
	}))
}
