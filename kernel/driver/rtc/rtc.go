// Package rtc drives the MC146818 real-time clock as a periodic interrupt
// source (IRQ8). The kernel uses it purely as a coarse preemption tick, not
// as a wall-clock.
package rtc

import "gopheros/kernel/cpu"

const (
	portCmd  = 0x70
	portData = 0x71

	regA = 0x0a
	regB = 0x0b
	regC = 0x0c

	regBInterruptEnable = 1 << 6

	// DefaultRate selects a periodic interrupt frequency of 2 Hz, the
	// coarsest rate the chip supports and plenty for cooperative
	// round-robin preemption.
	DefaultRate uint8 = 15
)

var (
	outbFn = cpu.Outb
	inbFn  = cpu.Inb
)

func readRegister(reg uint8) uint8 {
	outbFn(portCmd, reg)
	return inbFn(portData)
}

func writeRegister(reg, value uint8) {
	outbFn(portCmd, reg)
	outbFn(portData, value)
}

// Init enables the RTC's periodic interrupt and programs its rate (a value
// in 1-15; higher values mean slower ticks). Callers are expected to keep
// interrupts disabled for the duration of this call so a stray tick can't
// race the register-B/register-A read-modify-write sequences below.
func Init(rate uint8) {
	writeRegister(regB, readRegister(regB)|regBInterruptEnable)
	writeRegister(regA, (readRegister(regA)&0xf0)|(rate&0x0f))
}

// EOI acknowledges the pending interrupt. The RTC won't raise another one
// until register C has been read, regardless of the PIC's own EOI.
func EOI() {
	readRegister(regC)
}
