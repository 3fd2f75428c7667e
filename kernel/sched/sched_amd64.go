package sched

import (
	"gopheros/kernel/proc"
)

// switchToProcess never returns. It loads p.Dir into CR3, builds an IRETQ
// frame on the kernel stack from p.Registers (pushing SS, RSP, RFlags, CS,
// RIP in that order), restores every general-purpose register from
// p.Registers and executes IRETQ. The CR3 switch happens before the GPR
// restore since the restored RSP already points into the new address
// space.
func switchToProcess(p *proc.Process)
