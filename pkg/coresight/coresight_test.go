package coresight_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/armflash/probe/pkg/coresight"
	"github.com/armflash/probe/pkg/dap"
	"github.com/armflash/probe/pkg/memap"
	"github.com/armflash/probe/pkg/probe"
)

// fakeMemory is a flat byte-addressable memory backing a single fixed MEM-AP
// used to exercise ROM-table walking without real hardware.
type fakeMemory struct {
	dpRegs map[uint16]uint32
	csw    uint32
	tar    uint32
	mem    map[uint32]uint32
}

func newFakeMemory() *fakeMemory {
	return &fakeMemory{dpRegs: make(map[uint16]uint32), mem: make(map[uint32]uint32)}
}

func (f *fakeMemory) ReadDAPRegister(port probe.Port, addr uint16) (uint32, error) {
	if !port.IsAccessPort {
		return f.dpRegs[addr], nil
	}
	switch addr {
	case 0x00:
		return f.csw, nil
	case 0x04:
		return f.tar, nil
	case 0x0C:
		return f.mem[f.tar], nil
	}
	return 0, nil
}

func (f *fakeMemory) WriteDAPRegister(port probe.Port, addr uint16, value uint32) error {
	if !port.IsAccessPort {
		f.dpRegs[addr] = value
		return nil
	}
	switch addr {
	case 0x00:
		f.csw = value
	case 0x04:
		f.tar = value
	case 0x0C:
		f.mem[f.tar] = value
	}
	return nil
}

func (f *fakeMemory) ReadBlock(port probe.Port, addr uint16, values []uint32) error {
	for i := range values {
		v, _ := f.ReadDAPRegister(port, addr)
		values[i] = v
	}
	return nil
}

func (f *fakeMemory) WriteBlock(port probe.Port, addr uint16, values []uint32) error {
	for _, v := range values {
		_ = f.WriteDAPRegister(port, addr, v)
	}
	return nil
}

// TestIdentify_NordicNRF52832 is scenario S2: a ROM table whose single
// component presents PIDR fields that decode to Nordic's JEP106 code 0x44
// and a part number of 0x00AA.
func TestIdentify_NordicNRF52832(t *testing.T) {
	fm := newFakeMemory()
	const romBase = 0xE00FF000
	const componentBase = 0xE000E000

	offset := int32(componentBase) - int32(romBase)
	fm.mem[romBase] = uint32(offset) | 0x1
	fm.mem[romBase+4] = 0 // terminator

	fm.mem[componentBase+0xFE0] = 0xAA        // PIDR0: part[7:0]
	fm.mem[componentBase+0xFE4] = 0x40        // PIDR1: part[11:8]=0, code[3:0]=0x4
	fm.mem[componentBase+0xFE8] = 0x04        // PIDR2: code[6:4]=0x4
	fm.mem[componentBase+0xFD0] = 0x02        // PIDR4: continuation count=2

	acc := dap.New(fm)
	mem := memap.New(acc, 0)

	info, err := coresight.Identify(mem, romBase)
	require.NoError(t, err)
	require.Equal(t, uint16(0x00AA), info.Part)
	require.Equal(t, uint8(0x44), info.Manufacturer.Code)
	require.Equal(t, uint8(2), info.Manufacturer.Continuation)
}

func TestIdentify_EmptyTableFails(t *testing.T) {
	fm := newFakeMemory()
	acc := dap.New(fm)
	mem := memap.New(acc, 0)

	_, err := coresight.Identify(mem, 0xE00FF000)
	require.Error(t, err)

	var cerr *coresight.Error
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, "no-chip-detected", cerr.Kind)
}
