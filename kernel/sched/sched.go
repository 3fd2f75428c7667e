// Package sched implements the kernel's round-robin process scheduler: a
// fixed-capacity ring of processes, a view pointer tracking the currently
// running one, and the Next() entrypoint invoked from every suspension
// point (timer IRQ, yield syscall, breakpoint trap).
package sched

import (
	"gopheros/kernel"
	"gopheros/kernel/cpu"
	"gopheros/kernel/gate"
	"gopheros/kernel/proc"
	"gopheros/kernel/ring"
	"gopheros/kernel/sync"
)

var (
	lock        sync.Spinlock
	processRing *ring.Ring
	current     int

	enableInterruptsFn = cpu.EnableInterrupts
	haltFn             = cpu.Halt
	switchToProcessFn  = switchToProcess
)

// decision is the outcome of a single getNext() scan.
type decision uint8

const (
	taskIdle decision = iota
	taskResume
	taskSwitch
)

// Init allocates the process ring and installs recordFrame as the trap
// dispatch hook, so every exception, IRQ and syscall that returns to the
// currently running process saves its register frame before being handled.
// It must run once, before the first call to Spawn or Next.
func Init() *kernel.Error {
	r, err := ring.New()
	if err != nil {
		return err
	}
	processRing = r
	current = 0
	gate.OnDispatch = recordFrame
	return nil
}

// recordFrame copies the just-trapped register state into the currently
// running process, so it can be restored the next time this process is
// resumed by switchToProcess.
func recordFrame(regs *gate.Registers) {
	if p := CurrentProcess(); p != nil {
		p.Registers = *regs
	}
}

// Spawn installs p into the first free ring slot, marking it Runnable, and
// returns its index.
func Spawn(p *proc.Process) (int, *kernel.Error) {
	lock.Acquire()
	defer lock.Release()

	p.State = proc.StateRunnable
	return processRing.Add(*p)
}

// CurrentProcess returns the process slot currently marked Running, or nil
// if the scheduler is idling.
func CurrentProcess() *proc.Process {
	p := processRing.At(current)
	if p.State != proc.StateRunning {
		return nil
	}
	return p
}

// getNext scans the ring starting just after the current view, looking for
// a Runnable process. If none is found, it falls back to resuming the
// current process (if still Running) or reports that the CPU should idle.
func getNext() (decision, int) {
	n := processRing.Len()
	for step := 1; step <= n; step++ {
		idx := (current + step) % n
		if processRing.At(idx).State == proc.StateRunnable {
			return taskSwitch, idx
		}
	}

	if processRing.At(current).State == proc.StateRunning {
		return taskResume, current
	}

	return taskIdle, 0
}

// Next is the scheduler's single entrypoint. It is invoked by the timer
// IRQ, by the Yield syscall, and by the breakpoint trap handler.
func Next() {
	lock.Acquire()

	decision, idx := getNext()

	switch decision {
	case taskSwitch:
		oldIdx := current
		if old := processRing.At(oldIdx); old.State == proc.StateRunning {
			old.State = proc.StateRunnable
		}
		current = idx
		next := processRing.At(idx)
		next.State = proc.StateRunning
		lock.Release()
		switchToProcessFn(next)

	case taskResume:
		lock.Release()
		switchToProcessFn(processRing.At(idx))

	default: // taskIdle
		lock.Release()
		enableInterruptsFn()
		for {
			haltFn()
		}
	}
}
