// Package kmain contains the kernel's single entrypoint: the boot sequence
// that wires every subsystem together in the order each one depends on the
// last.
package kmain

import (
	"gopheros/kernel"
	"gopheros/kernel/cpu"
	"gopheros/kernel/driver/uart"
	"gopheros/kernel/elf"
	"gopheros/kernel/gate"
	"gopheros/kernel/goruntime"
	"gopheros/kernel/hal"
	"gopheros/kernel/hal/multiboot"
	"gopheros/kernel/irq"
	"gopheros/kernel/kfmt"
	"gopheros/kernel/mem"
	"gopheros/kernel/mm/pfn"
	"gopheros/kernel/mm/vmm"
	"gopheros/kernel/sched"
	"gopheros/kernel/syscall"
	"io"
	"reflect"
	"unsafe"
)

var errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}

// Kmain is the only Go symbol visible to the rt0 assembly startup code. It
// is invoked once the bootstrap assembly has installed a minimal stack and
// passes along the multiboot2 info pointer and the kernel image's physical
// bounds, as reported by the linker.
//
// Kmain is not expected to return. If it does, the rt0 code halts the CPU.
//
//go:noinline
func Kmain(multibootInfoPtr uintptr, kernelStart, kernelEnd, stackGuardTop, stackGuardBot, intStackGuardBot, privStackGuardBot uintptr) {
	multiboot.SetInfoPtr(multibootInfoPtr)

	hal.DetectHardware()

	// uart has no console/TTY competing for the boot log, so it only takes
	// over as the Printf sink when hardware detection found no usable
	// console. Either way, Panic drains its report to both the serial port
	// and the console directly, so a wedged console never hides a panic.
	serialPort, uartErr := uart.Init()
	if uartErr == nil && hal.ActiveTTY() == nil {
		kfmt.SetOutputSink(serialPort)
	}
	var serialSink io.Writer
	if uartErr == nil {
		serialSink = serialPort
	}
	kfmt.SetPanicSinks(serialSink, hal.ActiveTTY())

	kfmt.Printf("kernel starting\n")

	pfn.BootstrapFromMultiboot(mem.PhysAddr(kernelStart), mem.PhysAddr(kernelEnd))

	guards := []vmm.StackGuard{
		{Name: "stackGuardTop", Addr: mem.VirtAddr(stackGuardTop)},
		{Name: "stackGuardBot", Addr: mem.VirtAddr(stackGuardBot)},
		{Name: "intStackGuardBot", Addr: mem.VirtAddr(intStackGuardBot)},
		{Name: "privStackGuardBot", Addr: mem.VirtAddr(privStackGuardBot)},
	}
	if err := vmm.Init(highestPhysAddr(), guards); err != nil {
		kfmt.Panic(err)
	}

	if err := goruntime.Init(); err != nil {
		kfmt.Panic(err)
	}

	gate.Init()
	irq.Init()
	vmm.InstallFaultHandlers()

	if err := sched.Init(); err != nil {
		kfmt.Panic(err)
	}
	irq.SetSchedulerHook(sched.Next)

	if uartErr == nil {
		syscall.Init(serialPort)
	}
	gate.HandleSyscall(syscall.Dispatch)

	if err := bootInitProcess(); err != nil {
		kfmt.Panic(err)
	}

	cpu.EnableInterrupts()
	sched.Next()

	// Use kfmt.Panic instead of panic to prevent the compiler from
	// treating kfmt.Panic as dead-code and eliminating it.
	kfmt.Panic(errKmainReturned)
}

// bootInitProcess locates the init program shipped inside the multiboot2
// ELF-sections tag (the bootloader's module payload), loads it and hands it
// to the scheduler as the first runnable process.
func bootInitProcess() *kernel.Error {
	img := findInitImage()
	if img == nil {
		return nil
	}

	p, err := elf.Load(img)
	if err != nil {
		return err
	}

	_, err = sched.Spawn(p)
	return err
}

// findInitImage scans the ELF sections reported by the bootloader for the
// allocated, executable section holding the flattened init binary, embedded
// alongside the kernel image by the build's linker script.
func findInitImage() []byte {
	const wantFlags = multiboot.ElfSectionAllocated | multiboot.ElfSectionExecutable

	var img []byte
	multiboot.VisitElfSections(func(name string, flags multiboot.ElfSectionFlag, address uintptr, size uint64) {
		if img != nil || flags&wantFlags != wantFlags {
			return
		}
		img = rawBytesAt(address, size)
	})
	return img
}

// rawBytesAt builds a Go slice directly over size bytes located at address,
// without involving the allocator.
func rawBytesAt(address uintptr, size uint64) []byte {
	return *(*[]byte)(unsafe.Pointer(&reflect.SliceHeader{
		Data: address,
		Len:  int(size),
		Cap:  int(size),
	}))
}

// highestPhysAddr scans the bootloader-reported memory map and returns one
// past the last byte of the highest region, the bound vmm.Init uses to size
// the kernel's identity map.
func highestPhysAddr() mem.PhysAddr {
	var highest mem.PhysAddr
	multiboot.VisitMemRegions(func(region *multiboot.MemoryMapEntry) bool {
		if end := mem.PhysAddr(region.PhysAddress + region.Length); end > highest {
			highest = end
		}
		return true
	})
	return highest
}
