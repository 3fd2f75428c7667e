package cpu

var (
	cpuidFn = ID
)

// EnableInterrupts enables interrupt handling.
func EnableInterrupts()

// DisableInterrupts disables interrupt handling.
func DisableInterrupts()

// Halt stops instruction execution.
func Halt()

// FlushTLBEntry flushes a TLB entry for a particular virtual address.
func FlushTLBEntry(virtAddr uintptr)

// SwitchPDT sets the root page table directory to point to the specified
// physical address and flushes the TLB.
func SwitchPDT(pdtPhysAddr uintptr)

// ActivePDT returns the physical address of the currently active page table.
func ActivePDT() uintptr

// ReadCR2 returns the value stored in the CR2 register.
func ReadCR2() uint64

// ReadRBP returns the caller's current frame-pointer value, the base of the
// RBP chain that kernel/debug walks to produce a backtrace.
func ReadRBP() uintptr

// ID returns information about the CPU and its features. It
// is implemented as a CPUID instruction with EAX=leaf and
// returns the values in EAX, EBX, ECX and EDX.
func ID(leaf uint32) (uint32, uint32, uint32, uint32)

// IsIntel returns true if the code is running on an Intel processor.
func IsIntel() bool {
	_, ebx, ecx, edx := cpuidFn(0)
	return ebx == 0x756e6547 && // "Genu"
		edx == 0x49656e69 && // "ineI"
		ecx == 0x6c65746e // "ntel"
}

// Outb writes a byte to the given I/O port.
func Outb(port uint16, value uint8)

// Inb reads a byte from the given I/O port.
func Inb(port uint16) uint8

// IOWait performs a short, fixed-length delay by writing to an unused I/O
// port (0x80). It is used after Outb calls to PIC/RTC registers that need a
// moment to take effect on real hardware.
func IOWait()

// WithInterruptsDisabled invokes fn with interrupts disabled, restoring the
// previous interrupt flag state afterwards. It is the only sanctioned way to
// create a critical section shorter than a full spinlock hold, used by
// handlers that must not be reentered by the interrupt they are servicing.
func WithInterruptsDisabled(fn func()) {
	wasEnabled := InterruptsEnabled()
	DisableInterrupts()
	defer func() {
		if wasEnabled {
			EnableInterrupts()
		}
	}()
	fn()
}

// InterruptsEnabled reports whether the interrupt flag is currently set.
func InterruptsEnabled() bool

// WriteMSR writes value to the model-specific register numbered msr.
func WriteMSR(msr uint32, value uint64)
