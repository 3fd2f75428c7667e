package gate

import (
	"gopheros/kernel/cpu"
	"gopheros/kernel/debug"
	"gopheros/kernel/kfmt"
	"io"
)

// Registers contains a snapshot of all register values when an exception,
// interrupt or syscall occurs.
type Registers struct {
	RAX uint64
	RBX uint64
	RCX uint64
	RDX uint64
	RSI uint64
	RDI uint64
	RBP uint64
	R8  uint64
	R9  uint64
	R10 uint64
	R11 uint64
	R12 uint64
	R13 uint64
	R14 uint64
	R15 uint64

	// Info contains the exception code for exceptions, the syscall number
	// for syscall entries or the IRQ number for HW interrupts.
	Info uint64

	// The return frame used by IRETQ
	RIP    uint64
	CS     uint64
	RFlags uint64
	RSP    uint64
	SS     uint64
}

// DumpTo outputs the register contents to w.
func (r *Registers) DumpTo(w io.Writer) {
	kfmt.Fprintf(w, "RAX = %16x RBX = %16x\n", r.RAX, r.RBX)
	kfmt.Fprintf(w, "RCX = %16x RDX = %16x\n", r.RCX, r.RDX)
	kfmt.Fprintf(w, "RSI = %16x RDI = %16x\n", r.RSI, r.RDI)
	kfmt.Fprintf(w, "RBP = %16x\n", r.RBP)
	kfmt.Fprintf(w, "R8  = %16x R9  = %16x\n", r.R8, r.R9)
	kfmt.Fprintf(w, "R10 = %16x R11 = %16x\n", r.R10, r.R11)
	kfmt.Fprintf(w, "R12 = %16x R13 = %16x\n", r.R12, r.R13)
	kfmt.Fprintf(w, "R14 = %16x R15 = %16x\n", r.R14, r.R15)
	kfmt.Fprintf(w, "\n")
	kfmt.Fprintf(w, "RIP = %16x CS  = %16x\n", r.RIP, r.CS)
	kfmt.Fprintf(w, "RSP = %16x SS  = %16x\n", r.RSP, r.SS)
	kfmt.Fprintf(w, "RFL = %16x\n", r.RFlags)

	kfmt.Fprintf(w, "\nBacktrace:\n")
	kfmt.Fprintf(w, "%2d) 0x%x\n", 1, uintptr(r.RIP))
	frame := 1
	debug.Walk(uintptr(r.RBP), func(retAddr uintptr) {
		frame++
		kfmt.Fprintf(w, "%2d) 0x%x\n", frame, retAddr)
	})
}

// InterruptNumber describes an x86 interrupt/exception/trap slot.
type InterruptNumber uint8

const (
	// DivideByZero occurs when dividing any number by 0 using the DIV or
	// IDIV instruction.
	DivideByZero = InterruptNumber(0)

	// NMI (non-maskable-interrupt) is a hardware interrupt that indicates
	// issues with RAM or unrecoverable hardware problems. It may also be
	// raised by the CPU when a watchdog timer is enabled.
	NMI = InterruptNumber(2)

	// Overflow occurs when an overflow occurs (e.g result of division
	// cannot fit into the registers used).
	Overflow = InterruptNumber(4)

	// BoundRangeExceeded occurs when the BOUND instruction is invoked with
	// an index out of range.
	BoundRangeExceeded = InterruptNumber(5)

	// InvalidOpcode occurs when the CPU attempts to execute an invalid or
	// undefined instruction opcode.
	InvalidOpcode = InterruptNumber(6)

	// DeviceNotAvailable occurs when the CPU attempts to execute an
	// FPU/MMX/SSE instruction while no FPU is available or while
	// FPU/MMX/SSE support has been disabled by manipulating the CR0
	// register.
	DeviceNotAvailable = InterruptNumber(7)

	// DoubleFault occurs when an unhandled exception occurs or when an
	// exception occurs within a running exception handler.
	DoubleFault = InterruptNumber(8)

	// InvalidTSS occurs when the TSS points to an invalid task segment
	// selector.
	InvalidTSS = InterruptNumber(10)

	// SegmentNotPresent occurs when the CPU attempts to invoke a present
	// gate with an invalid stack segment selector.
	SegmentNotPresent = InterruptNumber(11)

	// StackSegmentFault occurs when attempting to push/pop from a
	// non-canonical stack address or when the stack base/limit (set in
	// GDT) checks fail.
	StackSegmentFault = InterruptNumber(12)

	// GPFException occurs when a general protection fault occurs.
	GPFException = InterruptNumber(13)

	// PageFaultException occurs when a page directory table (PDT) or one
	// of its entries is not present or when a privilege and/or RW
	// protection check fails.
	PageFaultException = InterruptNumber(14)

	// FloatingPointException occurs while invoking an FP instruction while:
	//  - CR0.NE = 1 OR
	//  - an unmasked FP exception is pending
	FloatingPointException = InterruptNumber(16)

	// AlignmentCheck occurs when alignment checks are enabled and an
	// unaligmed memory access is performed.
	AlignmentCheck = InterruptNumber(17)

	// MachineCheck occurs when the CPU detects internal errors such as
	// memory-, bus- or cache-related errors.
	MachineCheck = InterruptNumber(18)

	// SIMDFloatingPointException occurs when an unmasked SSE exception
	// occurs while CR4.OSXMMEXCPT is set to 1. If the OSXMMEXCPT bit is
	// not set, SIMD FP exceptions cause InvalidOpcode exceptions instead.
	SIMDFloatingPointException = InterruptNumber(19)

	// Breakpoint is raised by the INT3 instruction. Userspace fixtures
	// use it as a cheap way to trap back into the kernel without going
	// through the syscall path.
	Breakpoint = InterruptNumber(3)
)

// handlers holds the Go-level callback registered for each of the 256
// possible vectors. It is consulted by dispatch, which every generated
// per-vector assembly stub calls after capturing a Registers frame.
var handlers [256]func(*Registers)

// OnDispatch, when non-nil, is invoked with the captured frame before the
// vector's own handler runs, for every vector. The scheduler uses this hook
// to record the frame into the current process without gate having to
// import the scheduler or process packages.
var OnDispatch func(*Registers)

var haltFn = cpu.Halt

// installGateFn is a seam over installGate so that tests exercising
// HandleInterrupt's bookkeeping don't need a real IDT to patch.
var installGateFn = installGate

// Init runs the appropriate CPU-specific initialization code for enabling
// support for interrupt handling. Every vector starts out routed to
// defaultHandler; callers register real handlers via HandleInterrupt.
func Init() {
	for i := range handlers {
		handlers[i] = defaultHandler
	}
	installIDT()
}

// HandleInterrupt ensures that the provided handler will be invoked when a
// particular interrupt number occurs. The value of the istOffset argument
// specifies the offset in the interrupt stack table (if 0 then IST is not
// used).
func HandleInterrupt(intNumber InterruptNumber, istOffset uint8, handler func(*Registers)) {
	handlers[intNumber] = handler
	installGateFn(uint8(intNumber), istOffset)
}

// dispatch is invoked by the interrupt gate entrypoints with the frame they
// captured off the stack. It is the single point through which every trap,
// IRQ and syscall passes before reaching a specific handler.
func dispatch(vector uint8, regs *Registers) {
	if OnDispatch != nil {
		OnDispatch(regs)
	}
	handlers[vector](regs)
}

// defaultHandler services any vector that has not been given a specific
// handler via HandleInterrupt: it prints a diagnostic frame dump and halts
// the CPU, since there is no safe way to resume.
func defaultHandler(regs *Registers) {
	kfmt.Printf("unhandled interrupt, vector info = %d\n", regs.Info)
	regs.DumpTo(kfmt.GetOutputSink())
	for {
		haltFn()
	}
}

// installIDT populates idtDescriptor with the address of IDT and loads it to
// the CPU. All gate entries are initially marked as non-present and must be
// explicitly enabled via a call to installGate.
func installIDT()

// installGate patches the IDT entry for vector so it points at the
// generated assembly stub for that vector, using istOffset as its interrupt
// stack table slot (0 disables IST for this gate).
func installGate(vector uint8, istOffset uint8)

// interruptGateEntries contains a list of generated entries for each possible
// interrupt number. Depending on the
func interruptGateEntries()

// syscallHandler is invoked by syscallDispatch after OnDispatch runs. It is
// installed once, by HandleSyscall, and left nil until then.
var syscallHandler func(*Registers)

// configureSyscallEntryFn is a seam over configureSyscallEntry so tests can
// exercise HandleSyscall's bookkeeping without real MSR writes.
var configureSyscallEntryFn = configureSyscallEntry

// HandleSyscall installs handler as the target of the SYSCALL instruction
// and programs the STAR/LSTAR/SFMASK model-specific registers so that a
// ring-3 SYSCALL transitions into the generated syscall entry stub, which
// captures a full Registers frame and calls syscallDispatch.
func HandleSyscall(handler func(*Registers)) {
	syscallHandler = handler
	configureSyscallEntryFn()
}

// syscallDispatch is called by the generated syscall entry stub with the
// frame it captured. It runs the same OnDispatch hook as interrupt/exception
// dispatch before handing off to the installed syscall handler.
func syscallDispatch(regs *Registers) {
	if OnDispatch != nil {
		OnDispatch(regs)
	}
	if syscallHandler != nil {
		syscallHandler(regs)
	}
}

// configureSyscallEntry programs STAR, LSTAR and SFMASK so that SYSCALL from
// ring 3 transitions to the kernel code/stack selectors (§6.3), resumes at
// the generated syscall entry stub, and clears RFLAGS.IF on entry.
func configureSyscallEntry()
