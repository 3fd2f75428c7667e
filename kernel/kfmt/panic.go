package kfmt

import (
	"gopheros/kernel"
	"gopheros/kernel/cpu"
	"gopheros/kernel/debug"
	"io"
)

var (
	// cpuHaltFn is mocked by tests and is automatically inlined by the compiler.
	cpuHaltFn = cpu.Halt

	// readRBPFn is mocked by tests so Panic's backtrace doesn't need to
	// walk a real, hardware-supplied frame-pointer chain.
	readRBPFn = cpu.ReadRBP

	// panicSerialSink and panicConsoleSink are registered once by the boot
	// sequence via SetPanicSinks. Panic drains its report to both of them,
	// in addition to whatever Printf's regular outputSink is, so the
	// report reaches the serial line even if the console has wedged.
	panicSerialSink  io.Writer
	panicConsoleSink io.Writer

	errRuntimePanic = &kernel.Error{Module: "rt", Message: "unknown cause"}
)

// SetPanicSinks registers the writers Panic reports to directly: the serial
// port, which stays reachable even when the video console has wedged, and
// the active console/TTY, if one was found. Either argument may be nil.
func SetPanicSinks(serial, console io.Writer) {
	panicSerialSink = serial
	panicConsoleSink = console
}

// Panic outputs the supplied error (if not nil), a register-free backtrace
// and a halt banner to the regular Printf sink, then drains the same report
// to the serial port and attempts the console directly via the writers
// registered with SetPanicSinks, so the report survives even if the console
// has wedged. Calls to Panic never return. Panic also works as a redirection
// target for calls to panic() (resolved via runtime.gopanic)
//go:redirect-from runtime.gopanic
func Panic(e interface{}) {
	var err *kernel.Error

	switch t := e.(type) {
	case *kernel.Error:
		err = t
	case string:
		panicString(t)
		return
	case error:
		errRuntimePanic.Message = t.Error()
		err = errRuntimePanic
	}

	reportPanic(outputSink, err)

	// Drain to the serial port and attempt the console directly: outputSink
	// may already be one of these, so skip duplicate reports to the same
	// writer.
	if panicSerialSink != nil && panicSerialSink != outputSink {
		reportPanic(panicSerialSink, err)
	}
	if panicConsoleSink != nil && panicConsoleSink != outputSink && panicConsoleSink != panicSerialSink {
		reportPanic(panicConsoleSink, err)
	}

	cpuHaltFn()
}

// reportPanic writes the panic banner, the offending error (if any) and an
// RBP-walked backtrace to w. Passing a nil w behaves like Printf: the report
// goes to the early boot ring buffer instead of being dropped.
func reportPanic(w io.Writer, err *kernel.Error) {
	Fprintf(w, "\n-----------------------------------\n")
	if err != nil {
		Fprintf(w, "[%s] unrecoverable error: %s\n", err.Module, err.Message)
	}
	Fprintf(w, "*** kernel panic: system halted ***")
	Fprintf(w, "\n-----------------------------------\n")

	Fprintf(w, "Backtrace:\n")
	frame := 0
	debug.Walk(readRBPFn(), func(retAddr uintptr) {
		frame++
		Fprintf(w, "%2d) 0x%x\n", frame, retAddr)
	})
}

// panicString serves as a redirect target for runtime.throw
//go:redirect-from runtime.throw
func panicString(msg string) {
	errRuntimePanic.Message = msg
	Panic(errRuntimePanic)
}
