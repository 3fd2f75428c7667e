package vmm

import (
	"gopheros/kernel"
	"gopheros/kernel/cpu"
	"gopheros/kernel/gate"
	"gopheros/kernel/kfmt"
	"gopheros/kernel/mem"
)

var (
	// handleInterruptFn and readCR2Fn are used by tests to avoid invoking
	// real assembly-backed gate/cpu functions.
	handleInterruptFn = gate.HandleInterrupt
	readCR2Fn         = cpu.ReadCR2

	errUnrecoverableFault = &kernel.Error{Module: "vmm", Message: "unrecoverable page fault"}
)

// InstallFaultHandlers registers this package's page-fault and
// general-protection-fault handlers with the IDT. It must run after
// gate.Init.
func InstallFaultHandlers() {
	handleInterruptFn(gate.PageFaultException, 0, pageFaultHandler)
	handleInterruptFn(gate.GPFException, 0, generalProtectionFaultHandler)
}

// pageFaultHandler is invoked whenever a page table entry is absent or a
// protection check fails. This kernel does not support copy-on-write or
// demand paging: every fault other than a recognized stack-guard hit is
// fatal.
func pageFaultHandler(regs *gate.Registers) {
	faultAddress := mem.VirtAddr(uintptr(readCR2Fn()))

	if name, ok := IsStackGuardPage(faultAddress); ok {
		kfmt.Printf("\nkernel stack overflow/underflow: fault at 0x%16x (guard %q)\n", uintptr(faultAddress), name)
		regs.DumpTo(kfmt.GetOutputSink())
		panic(errUnrecoverableFault)
	}

	nonRecoverablePageFault(faultAddress, regs, errUnrecoverableFault)
}

// generalProtectionFaultHandler handles segment/privilege/reserved-register
// violations. None of these are recoverable in this kernel.
func generalProtectionFaultHandler(regs *gate.Registers) {
	kfmt.Printf("\ngeneral protection fault, RIP=0x%16x\n", regs.RIP)
	regs.DumpTo(kfmt.GetOutputSink())
	panic(errUnrecoverableFault)
}

// nonRecoverablePageFault prints the CPU-supplied fault reason (carried in
// regs.Info, the error code the page-fault trap stub pushed) and the full
// register snapshot before panicking.
func nonRecoverablePageFault(faultAddress mem.VirtAddr, regs *gate.Registers, err *kernel.Error) {
	kfmt.Printf("\npage fault while accessing address 0x%16x\nreason: ", uintptr(faultAddress))
	switch regs.Info {
	case 0:
		kfmt.Printf("read from non-present page")
	case 1:
		kfmt.Printf("page protection violation (read)")
	case 2:
		kfmt.Printf("write to non-present page")
	case 3:
		kfmt.Printf("page protection violation (write)")
	case 4:
		kfmt.Printf("page-fault in user-mode")
	case 8:
		kfmt.Printf("page table has reserved bit set")
	case 16:
		kfmt.Printf("instruction fetch")
	default:
		kfmt.Printf("unknown")
	}

	kfmt.Printf("\n\nregisters:\n")
	regs.DumpTo(kfmt.GetOutputSink())
	panic(err)
}
