package sched

import (
	"gopheros/kernel"
	"gopheros/kernel/mem"
	"gopheros/kernel/mm/pfn"
	"gopheros/kernel/proc"
	"gopheros/kernel/ring"
	"testing"
	"unsafe"
)

// backingFrame allocates a real Go-heap buffer and returns a *pfn.FrameInfo
// whose Address(), once run through ToVirt, resolves back to that buffer.
func backingFrame(t *testing.T) *pfn.FrameInfo {
	t.Helper()
	buf := make([]byte, mem.PageSize)
	addr := mem.VirtAddr(uintptr(unsafe.Pointer(&buf[0])))
	return pfn.FromAddress(mem.FromVirt(addr))
}

func resetScheduler(t *testing.T) {
	t.Helper()

	fi := backingFrame(t)
	ring.SetAllocFrameFn(func() (*pfn.FrameInfo, *kernel.Error) { return fi, nil })
	t.Cleanup(func() { ring.SetAllocFrameFn(nil) })

	if err := Init(); err != nil {
		t.Fatalf("unexpected error initializing scheduler: %v", err)
	}
	current = 0

	origSwitch := switchToProcessFn
	origEnable := enableInterruptsFn
	origHalt := haltFn
	switchToProcessFn = func(p *proc.Process) {}
	t.Cleanup(func() {
		switchToProcessFn = origSwitch
		enableInterruptsFn = origEnable
		haltFn = origHalt
	})
}

func TestSpawnFillsFirstSlot(t *testing.T) {
	resetScheduler(t)

	idx, err := Spawn(&proc.Process{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if idx != 0 {
		t.Fatalf("expected first spawn to land at index 0; got %d", idx)
	}
	if processRing.At(0).State != proc.StateRunnable {
		t.Fatal("expected spawned process to be marked Runnable")
	}
}

func TestGetNextSwitchesToRunnable(t *testing.T) {
	resetScheduler(t)

	processRing.At(0).State = proc.StateRunning
	processRing.At(1).State = proc.StateRunnable

	d, idx := getNext()
	if d != taskSwitch || idx != 1 {
		t.Fatalf("expected taskSwitch to index 1; got %v, %d", d, idx)
	}
}

func TestGetNextResumesRunning(t *testing.T) {
	resetScheduler(t)

	processRing.At(0).State = proc.StateRunning

	d, idx := getNext()
	if d != taskResume || idx != 0 {
		t.Fatalf("expected taskResume at index 0; got %v, %d", d, idx)
	}
}

func TestGetNextIdlesWhenNothingRunnable(t *testing.T) {
	resetScheduler(t)

	d, _ := getNext()
	if d != taskIdle {
		t.Fatalf("expected taskIdle; got %v", d)
	}
}

func TestNextTransitionsStatesOnSwitch(t *testing.T) {
	resetScheduler(t)

	var switchedTo *proc.Process
	switchToProcessFn = func(p *proc.Process) { switchedTo = p }

	processRing.At(0).State = proc.StateRunning
	processRing.At(1).State = proc.StateRunnable

	Next()

	if processRing.At(0).State != proc.StateRunnable {
		t.Error("expected old current process to become Runnable")
	}
	if processRing.At(1).State != proc.StateRunning {
		t.Error("expected new current process to become Running")
	}
	if current != 1 {
		t.Errorf("expected view to move to index 1; got %d", current)
	}
	if switchedTo != processRing.At(1) {
		t.Error("expected switchToProcessFn to be called with the new current process")
	}
}

func TestNextResumesCurrentWhenNoOtherRunnable(t *testing.T) {
	resetScheduler(t)

	var switchedTo *proc.Process
	switchToProcessFn = func(p *proc.Process) { switchedTo = p }

	processRing.At(0).State = proc.StateRunning

	Next()

	if switchedTo != processRing.At(0) {
		t.Error("expected switchToProcessFn to be called with the still-current process")
	}
	if current != 0 {
		t.Errorf("expected view to remain at index 0; got %d", current)
	}
}

func TestNextIdlesAndEnablesInterrupts(t *testing.T) {
	resetScheduler(t)

	haltCalls := 0
	haltFn = func() {
		haltCalls++
		if haltCalls == 1 {
			panic("stop idle loop")
		}
	}

	enabled := false
	enableInterruptsFn = func() { enabled = true }

	func() {
		defer func() { recover() }()
		Next()
	}()

	if !enabled {
		t.Error("expected Next to enable interrupts before idling")
	}
	if haltCalls == 0 {
		t.Error("expected Next to halt while idling")
	}
}

func TestCurrentProcessReturnsNilWhenIdle(t *testing.T) {
	resetScheduler(t)

	if p := CurrentProcess(); p != nil {
		t.Fatalf("expected nil current process before any Running slot; got %v", p)
	}
}

func TestCurrentProcessReturnsRunning(t *testing.T) {
	resetScheduler(t)

	processRing.At(0).State = proc.StateRunning

	if p := CurrentProcess(); p != processRing.At(0) {
		t.Fatal("expected CurrentProcess to return slot 0")
	}
}
