// Package pic drives the two cascaded 8259 programmable interrupt
// controllers found on PC-compatible hardware. The BIOS leaves both chips
// mapped to vectors 0-15, which collide with the CPU's own exception
// vectors; Remap moves them out of the way before interrupts are enabled.
package pic

import "gopheros/kernel/cpu"

const (
	pic1Cmd  = 0x20
	pic1Data = 0x21
	pic2Cmd  = 0xa0
	pic2Data = 0xa1

	cmdInit = 0x11
	cmdEOI  = 0x20

	// IRQOffset is the vector the master PIC's IRQ0 is remapped to; the
	// slave PIC occupies the following 8 vectors.
	IRQOffset = 32
)

var (
	outbFn   = cpu.Outb
	inbFn    = cpu.Inb
	ioWaitFn = cpu.IOWait
)

func outbWait(port uint16, value uint8) {
	outbFn(port, value)
	ioWaitFn()
}

// Remap reprograms both PICs so their IRQ lines land on IRQOffset..IRQOffset+15,
// configures the master/slave cascade, and masks every line. Callers must
// enable the lines they intend to service with EnableLine.
func Remap() {
	outbWait(pic1Cmd, cmdInit)
	outbWait(pic2Cmd, cmdInit)

	outbWait(pic1Data, IRQOffset)
	outbWait(pic2Data, IRQOffset+8)

	outbWait(pic1Data, 4) // tell master PIC slave sits on IRQ2
	outbWait(pic2Data, 2) // tell slave PIC its cascade identity

	outbWait(pic1Data, 1) // 8086 mode
	outbWait(pic2Data, 1)

	outbWait(pic1Data, 0xff) // mask everything; drivers opt in via EnableLine
	outbWait(pic2Data, 0xff)
}

func dataPortAndLine(irq uint8) (port uint16, line uint8) {
	if irq < 8 {
		return pic1Data, irq
	}
	return pic2Data, irq - 8
}

// EnableLine unmasks irq (0-15), allowing it to reach the CPU.
func EnableLine(irq uint8) {
	port, line := dataPortAndLine(irq)
	outbFn(port, inbFn(port)&^(1<<line))
}

// DisableLine masks irq (0-15), preventing it from reaching the CPU.
func DisableLine(irq uint8) {
	port, line := dataPortAndLine(irq)
	outbFn(port, inbFn(port)|(1<<line))
}

// EOI signals end-of-interrupt for irq. IRQs serviced by the slave PIC
// require an EOI to both chips; the master always needs one.
func EOI(irq uint8) {
	if irq >= 8 {
		outbFn(pic2Cmd, cmdEOI)
	}
	outbFn(pic1Cmd, cmdEOI)
}
