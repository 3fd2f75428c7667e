// Package syscall implements the kernel side of the SYSCALL ABI: argument
// validation, dispatch to the three supported operations, and the error
// codes returned in RAX.
package syscall

import (
	"gopheros/kernel/driver/uart"
	"gopheros/kernel/gate"
	"gopheros/kernel/kfmt"
	"gopheros/kernel/mem"
	"gopheros/kernel/sched"
	"reflect"
	"unicode/utf8"
	"unsafe"
)

// Number identifies a syscall, placed in RAX on entry.
type Number uint64

const (
	// Yield transitions to the scheduler and returns control to the
	// caller after its next dispatch.
	Yield Number = 0

	// Write validates and emits a UTF-8 buffer from the caller's address
	// space to the console. Arguments: RDI=ptr, RSI=len.
	Write Number = 1

	// GetChar blocks until an input byte is available, optionally
	// echoing it, and returns it in RAX. Arguments: RDI=echo (0 or 1).
	GetChar Number = 2
)

// Result is the value placed back into RAX: 0 means success, any other
// value is one of the error codes below.
type Result uint64

const (
	// OK indicates the syscall completed successfully.
	OK Result = 0

	// ErrNoPermissions indicates the caller's address space does not
	// fully cover the supplied buffer with user-accessible present
	// pages.
	ErrNoPermissions Result = 1

	// ErrBadArgs indicates a malformed argument: an unknown syscall
	// number, a non-UTF-8 write buffer, or similar.
	ErrBadArgs Result = 2
)

// port is the serial line GetChar reads from and Write may echo to before a
// richer console is wired up. It is lazily initialized by Init.
var port *uart.Port

// readByteFn is a seam over port.ReadByte so tests can drive GetChar without
// real hardware.
var readByteFn = func() (byte, error) { return port.ReadByte() }

// writeStringFn is a seam over the console output path used by Write.
var writeStringFn = func(s string) { kfmt.Printf("%s", s) }

// schedNextFn is a seam over sched.Next so Yield can be exercised in tests
// without a fully initialized scheduler.
var schedNextFn = sched.Next

// Init wires the serial port used by GetChar. It must run once, after the
// UART has been detected.
func Init(p *uart.Port) {
	port = p
}

// Dispatch is installed as the SYSCALL entry handler. regs.Info carries the
// syscall number placed there by the entry stub; regs.RAX holds the result
// on return.
func Dispatch(regs *gate.Registers) {
	switch Number(regs.Info) {
	case Yield:
		schedNextFn()
		regs.RAX = uint64(OK)

	case Write:
		regs.RAX = uint64(doWrite(mem.VirtAddr(regs.RDI), mem.Size(regs.RSI)))

	case GetChar:
		result, ch := doGetChar(regs.RDI != 0)
		if result != OK {
			regs.RAX = uint64(result)
			return
		}
		regs.RAX = uint64(ch)

	default:
		regs.RAX = uint64(ErrBadArgs)
	}
}

// doWrite validates that [ptr, ptr+size) is fully user-accessible in the
// current process's address space, decodes it as UTF-8 and emits it to the
// console.
func doWrite(ptr mem.VirtAddr, size mem.Size) Result {
	proc := sched.CurrentProcess()
	if proc == nil {
		return ErrNoPermissions
	}

	end := ptr.Add(uintptr(size))
	if !proc.Dir.IsRegionUserAccessible(ptr, end) {
		return ErrNoPermissions
	}

	buf := rawBytesAt(ptr, size)
	if !utf8.Valid(buf) {
		return ErrBadArgs
	}

	writeStringFn(string(buf))
	return OK
}

// doGetChar blocks until an input byte is available, optionally echoing it
// back to the console.
func doGetChar(echo bool) (Result, byte) {
	b, err := readByteFn()
	if err != nil {
		return ErrBadArgs, 0
	}
	if echo {
		writeStringFn(string([]byte{b}))
	}
	return OK, b
}

// rawBytesAt returns a Go slice backed directly by the page-mapped memory at
// addr, sized to size. The caller must have already verified the region is
// user-accessible and the currently active address space is the one that
// maps it.
func rawBytesAt(addr mem.VirtAddr, size mem.Size) []byte {
	return *(*[]byte)(unsafe.Pointer(&reflect.SliceHeader{
		Data: uintptr(addr),
		Len:  int(size),
		Cap:  int(size),
	}))
}
