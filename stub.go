package main

import "gopheros/kernel/kmain"

var (
	multibootInfoPtr       uintptr
	kernelStart, kernelEnd uintptr

	stackGuardTop, stackGuardBot        uintptr
	intStackGuardBot, privStackGuardBot uintptr
)

// main makes a dummy call to the actual kernel main entrypoint function. It
// is intentionally defined to prevent the Go compiler from optimizing away
// the real kernel code.
//
// The arguments are backed by package-level variables, rather than literal
// zeros, to prevent the compiler from inlining the call and dropping Kmain
// from the generated object file.
func main() {
	kmain.Kmain(multibootInfoPtr, kernelStart, kernelEnd,
		stackGuardTop, stackGuardBot, intStackGuardBot, privStackGuardBot)
}
