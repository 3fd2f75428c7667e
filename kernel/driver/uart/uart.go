// Package uart drives the 16550-compatible serial port (COM1) used as the
// kernel's early-boot console, before a video console or TTY has been
// probed.
package uart

import "gopheros/kernel/cpu"

const com1Port = 0x3f8

const (
	regTHR = com1Port + 0 // out: transmitter holding register (DLAB=0)
	regRBR = com1Port + 0 // in:  receiver buffer              (DLAB=0)
	regIER = com1Port + 1 // interrupt enable register         (DLAB=0)
	regDLL = com1Port + 0 // divisor latch low                 (DLAB=1)
	regDLM = com1Port + 1 // divisor latch high                (DLAB=1)
	regFCR = com1Port + 2 // FIFO control register
	regLCR = com1Port + 3 // line control register
	regMCR = com1Port + 4 // modem control register
	regLSR = com1Port + 5 // line status register
)

const (
	lcrDLAB       = 0x80
	lsrDataReady  = 0x01
	lsrTHREmpty   = 0x20
	loopbackProbe = 0x80
)

var (
	outbFn = cpu.Outb
	inbFn  = cpu.Inb
)

// ErrSelfTestFailed indicates the port didn't echo back the loopback probe
// byte sent during Init, meaning no usable serial line is present.
var ErrSelfTestFailed = &selfTestError{}

type selfTestError struct{}

func (*selfTestError) Error() string { return "uart: self-test failed; no serial line present" }

// Port implements io.Writer and io.ByteWriter on top of COM1.
type Port struct{}

// Init programs COM1 for 38400 baud, 8N1, with a 14-byte FIFO, verifying the
// port is actually wired up via loopback before committing to it as an
// output sink.
func Init() (*Port, error) {
	outbFn(regFCR, 0) // disable FIFO while we reconfigure
	outbFn(regIER, 0) // no interrupts; this port is polled

	outbFn(regLCR, lcrDLAB)
	outbFn(regDLL, 3) // 115200 / 3 = 38400 baud
	outbFn(regDLM, 0)
	outbFn(regLCR, 0x03) // 8 data bits, 1 stop bit, no parity; clears DLAB

	outbFn(regFCR, 0xc7) // enable FIFO, clear it, 14-byte trigger level

	outbFn(regMCR, 0x1e) // loopback mode, plus aux output bits
	outbFn(regTHR, loopbackProbe)
	if inbFn(regRBR) != loopbackProbe {
		return nil, ErrSelfTestFailed
	}

	outbFn(regMCR, 0x0f) // leave loopback mode, keep aux output bits asserted

	return &Port{}, nil
}

func (p *Port) canWrite() bool { return inbFn(regLSR)&lsrTHREmpty != 0 }
func (p *Port) canRead() bool  { return inbFn(regLSR)&lsrDataReady != 0 }

// WriteByte blocks until the transmit holding register is empty and then
// sends b.
func (p *Port) WriteByte(b byte) error {
	for !p.canWrite() {
	}
	outbFn(regTHR, b)
	return nil
}

// Write sends every byte in data, blocking as necessary, and always reports
// the full length written.
func (p *Port) Write(data []byte) (int, error) {
	for _, b := range data {
		if err := p.WriteByte(b); err != nil {
			return 0, err
		}
	}
	return len(data), nil
}

// ReadByte blocks until a byte is available and returns it.
func (p *Port) ReadByte() (byte, error) {
	for !p.canRead() {
	}
	return inbFn(regRBR), nil
}
