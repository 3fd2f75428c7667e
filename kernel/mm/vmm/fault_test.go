package vmm

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"gopheros/kernel/gate"
	"gopheros/kernel/kfmt"
	"gopheros/kernel/mem"
)

func TestInstallFaultHandlers(t *testing.T) {
	origHandleInterruptFn := handleInterruptFn
	t.Cleanup(func() { handleInterruptFn = origHandleInterruptFn })

	var installed []gate.InterruptNumber
	handleInterruptFn = func(num gate.InterruptNumber, istOffset uint8, handler func(*gate.Registers)) {
		installed = append(installed, num)
	}

	InstallFaultHandlers()

	if len(installed) != 2 || installed[0] != gate.PageFaultException || installed[1] != gate.GPFException {
		t.Fatalf("expected page-fault and GPF handlers to be installed; got %v", installed)
	}
}

func TestPageFaultHandlerStackGuardIsFatal(t *testing.T) {
	origReadCR2Fn, origGuards := readCR2Fn, stackGuards
	t.Cleanup(func() {
		readCR2Fn = origReadCR2Fn
		stackGuards = origGuards
		kfmt.SetOutputSink(nil)
	})

	guardAddr := uintptr(0x1000)
	stackGuards = []StackGuard{{Name: "test-guard", Addr: mem.VirtAddr(guardAddr)}}
	readCR2Fn = func() uint64 { return uint64(guardAddr) }

	var buf bytes.Buffer
	kfmt.SetOutputSink(&buf)

	defer func() {
		if err := recover(); err != errUnrecoverableFault {
			t.Errorf("expected panic with errUnrecoverableFault; got %v", err)
		}
		if !strings.Contains(buf.String(), "test-guard") {
			t.Errorf("expected output to name the guard page; got %q", buf.String())
		}
	}()

	var regs gate.Registers
	pageFaultHandler(&regs)
}

func TestPageFaultHandlerOrdinaryFaultIsFatal(t *testing.T) {
	origReadCR2Fn := readCR2Fn
	t.Cleanup(func() { readCR2Fn = origReadCR2Fn })

	readCR2Fn = func() uint64 { return 0xbadf00d000 }

	defer func() {
		if err := recover(); err != errUnrecoverableFault {
			t.Errorf("expected panic with errUnrecoverableFault; got %v", err)
		}
	}()

	var regs gate.Registers
	regs.Info = 2
	pageFaultHandler(&regs)
}

func TestNonRecoverablePageFaultReasons(t *testing.T) {
	t.Cleanup(func() { kfmt.SetOutputSink(nil) })

	specs := []struct {
		errCode   uint64
		expReason string
	}{
		{0, "read from non-present page"},
		{1, "page protection violation (read)"},
		{2, "write to non-present page"},
		{3, "page protection violation (write)"},
		{4, "page-fault in user-mode"},
		{8, "page table has reserved bit set"},
		{16, "instruction fetch"},
		{0xf00, "unknown"},
	}

	var (
		regs gate.Registers
		buf  bytes.Buffer
	)
	kfmt.SetOutputSink(&buf)

	for specIndex, spec := range specs {
		t.Run(fmt.Sprint(specIndex), func(t *testing.T) {
			buf.Reset()
			defer func() {
				if err := recover(); err != errUnrecoverableFault {
					t.Errorf("expected panic with errUnrecoverableFault; got %v", err)
				}
			}()

			regs.Info = spec.errCode
			nonRecoverablePageFault(0xbadf00d000, &regs, errUnrecoverableFault)
			if got := buf.String(); !strings.Contains(got, spec.expReason) {
				t.Errorf("expected reason %q; got output:\n%q", spec.expReason, got)
			}
		})
	}
}

func TestGeneralProtectionFaultHandler(t *testing.T) {
	t.Cleanup(func() { kfmt.SetOutputSink(nil) })

	var buf bytes.Buffer
	kfmt.SetOutputSink(&buf)

	defer func() {
		if err := recover(); err != errUnrecoverableFault {
			t.Errorf("expected panic with errUnrecoverableFault; got %v", err)
		}
	}()

	var regs gate.Registers
	generalProtectionFaultHandler(&regs)
}
