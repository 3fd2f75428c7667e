package pic

import (
	"reflect"
	"testing"
)

type portWrite struct {
	port  uint16
	value uint8
}

func withFakePorts(t *testing.T) (*[]portWrite, *map[uint16]uint8) {
	t.Helper()

	origOutb, origInb, origWait := outbFn, inbFn, ioWaitFn
	t.Cleanup(func() {
		outbFn = origOutb
		inbFn = origInb
		ioWaitFn = origWait
	})

	writes := &[]portWrite{}
	regs := &map[uint16]uint8{}

	outbFn = func(port uint16, value uint8) {
		*writes = append(*writes, portWrite{port, value})
		(*regs)[port] = value
	}
	inbFn = func(port uint16) uint8 { return (*regs)[port] }
	ioWaitFn = func() {}

	return writes, regs
}

func TestRemapProgramsBothControllers(t *testing.T) {
	writes, _ := withFakePorts(t)

	Remap()

	want := []portWrite{
		{pic1Cmd, cmdInit}, {pic2Cmd, cmdInit},
		{pic1Data, IRQOffset}, {pic2Data, IRQOffset + 8},
		{pic1Data, 4}, {pic2Data, 2},
		{pic1Data, 1}, {pic2Data, 1},
		{pic1Data, 0xff}, {pic2Data, 0xff},
	}
	if !reflect.DeepEqual(*writes, want) {
		t.Fatalf("unexpected write sequence:\ngot:  %+v\nwant: %+v", *writes, want)
	}
}

func TestEnableDisableLineMaster(t *testing.T) {
	_, regs := withFakePorts(t)
	(*regs)[pic1Data] = 0xff

	EnableLine(2)
	if (*regs)[pic1Data] != 0xfb {
		t.Fatalf("expected bit 2 cleared; got %#x", (*regs)[pic1Data])
	}

	DisableLine(2)
	if (*regs)[pic1Data] != 0xff {
		t.Fatalf("expected bit 2 set again; got %#x", (*regs)[pic1Data])
	}
}

func TestEnableDisableLineSlave(t *testing.T) {
	_, regs := withFakePorts(t)
	(*regs)[pic2Data] = 0xff

	EnableLine(8) // RTC, line 0 on the slave
	if (*regs)[pic2Data] != 0xfe {
		t.Fatalf("expected slave bit 0 cleared; got %#x", (*regs)[pic2Data])
	}
}

func TestEOICascadesForSlaveIRQs(t *testing.T) {
	writes, _ := withFakePorts(t)

	EOI(0)
	if !reflect.DeepEqual(*writes, []portWrite{{pic1Cmd, cmdEOI}}) {
		t.Fatalf("expected a single master EOI for IRQ0; got %+v", *writes)
	}

	*writes = nil
	EOI(8)
	want := []portWrite{{pic2Cmd, cmdEOI}, {pic1Cmd, cmdEOI}}
	if !reflect.DeepEqual(*writes, want) {
		t.Fatalf("expected slave then master EOI for IRQ8; got %+v", *writes)
	}
}
