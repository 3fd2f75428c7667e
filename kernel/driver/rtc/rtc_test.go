package rtc

import "testing"

func withFakeRegisters(t *testing.T) *map[uint8]uint8 {
	t.Helper()

	origOutb, origInb := outbFn, inbFn
	t.Cleanup(func() {
		outbFn = origOutb
		inbFn = origInb
	})

	regs := &map[uint8]uint8{}
	var selected uint8

	outbFn = func(port uint16, value uint8) {
		switch port {
		case portCmd:
			selected = value
		case portData:
			(*regs)[selected] = value
		}
	}
	inbFn = func(port uint16) uint8 {
		if port != portData {
			t.Fatalf("unexpected read from port %#x", port)
		}
		return (*regs)[selected]
	}

	return regs
}

func TestInitEnablesInterruptAndSetsRate(t *testing.T) {
	regs := withFakeRegisters(t)
	(*regs)[regA] = 0x20 // some pre-existing high nibble the call must preserve
	(*regs)[regB] = 0x02

	Init(DefaultRate)

	if (*regs)[regB]&regBInterruptEnable == 0 {
		t.Fatalf("expected register B interrupt-enable bit to be set; got %#x", (*regs)[regB])
	}
	if (*regs)[regA] != 0x20|DefaultRate {
		t.Fatalf("expected register A = %#x; got %#x", 0x20|DefaultRate, (*regs)[regA])
	}
}

func TestEOIReadsRegisterC(t *testing.T) {
	var readCount int
	regs := withFakeRegisters(t)
	_ = regs

	origInb := inbFn
	t.Cleanup(func() { inbFn = origInb })
	inbFn = func(port uint16) uint8 {
		if port == portData {
			readCount++
		}
		return 0
	}

	EOI()

	if readCount != 1 {
		t.Fatalf("expected exactly one register read; got %d", readCount)
	}
}
