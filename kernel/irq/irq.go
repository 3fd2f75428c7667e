// Package irq wires concrete exception and hardware-interrupt vectors onto
// the dispatch table exposed by kernel/gate, and programs the PIC/RTC so
// that IRQs 0-15 actually arrive as vectors 32-47.
package irq

import (
	"gopheros/kernel"
	"gopheros/kernel/driver/pic"
	"gopheros/kernel/driver/rtc"
	"gopheros/kernel/gate"
	"gopheros/kernel/kfmt"
)

var errDivideByZero = &kernel.Error{Module: "irq", Message: "divide by zero"}

var (
	picEOIFn  = pic.EOI
	rtcEOIFn  = rtc.EOI
)

// schedNextFn is invoked whenever the kernel wants to give the scheduler a
// chance to run: after the RTC tick and from the breakpoint trap. It is a
// seam rather than a direct import of kernel/sched so this package does not
// need to know about the scheduler's own dependency on gate.
var schedNextFn = func() {}

// SetSchedulerHook installs the scheduler entrypoint that this package
// invokes on every timer tick and breakpoint trap. The kernel init sequence
// calls this once, after both packages have been initialized, to avoid an
// import cycle between irq and sched.
func SetSchedulerHook(next func()) {
	schedNextFn = next
}

// Init installs handlers for the exception vectors this kernel cares about,
// remaps the PIC so hardware IRQs land on vectors 32-47, installs the IRQ
// dispatch closures, and starts the RTC as a periodic preemption tick.
func Init() {
	gate.HandleInterrupt(gate.DivideByZero, 0, divideByZeroHandler)
	gate.HandleInterrupt(gate.Breakpoint, 0, breakpointHandler)

	pic.Remap()
	for irqNum := uint8(0); irqNum < 16; irqNum++ {
		gate.HandleInterrupt(gate.InterruptNumber(pic.IRQOffset+irqNum), 0, irqDispatch(irqNum))
	}

	pic.EnableLine(2) // cascade: lets IRQs 8-15 reach the CPU through the master PIC
	pic.EnableLine(8) // RTC

	rtc.Init(rtc.DefaultRate)
}

// divideByZeroHandler reports a division-by-zero trap. There is no safe way
// to resume the faulting instruction, so this is fatal.
func divideByZeroHandler(regs *gate.Registers) {
	kfmt.Printf("divide by zero at RIP=%x\n", regs.RIP)
	regs.DumpTo(kfmt.GetOutputSink())
	kfmt.Panic(errDivideByZero)
}

// breakpointHandler services INT3, used by userspace fixtures as a cheap
// trap into the kernel. It simply hands control to the scheduler.
func breakpointHandler(regs *gate.Registers) {
	schedNextFn()
}

// irqDispatch returns the handler installed for hardware IRQ irqNum. IRQ 8
// (the RTC) additionally acknowledges the RTC itself and gives the
// scheduler a chance to preempt the running task; every other IRQ is just
// acknowledged at the PIC.
func irqDispatch(irqNum uint8) func(*gate.Registers) {
	return func(regs *gate.Registers) {
		if irqNum == 8 {
			rtcEOIFn()
		}
		picEOIFn(irqNum)
		if irqNum == 8 {
			schedNextFn()
		}
	}
}
