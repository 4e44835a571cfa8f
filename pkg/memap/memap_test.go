package memap_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/armflash/probe/pkg/dap"
	"github.com/armflash/probe/pkg/memap"
	"github.com/armflash/probe/pkg/probe"
)

// simulatedAP is a fake probe.DapAccess backed by a flat byte-addressable
// memory array, with TAR auto-increment honored the way real silicon does:
// wrapping within a 1 KiB window instead of crossing it.
type simulatedAP struct {
	dpRegs map[uint16]uint32
	csw    uint32
	tar    uint32
	mem    map[uint32]byte
}

func newSimulatedAP() *simulatedAP {
	return &simulatedAP{dpRegs: make(map[uint16]uint32), mem: make(map[uint32]byte)}
}

func (s *simulatedAP) ReadDAPRegister(port probe.Port, addr uint16) (uint32, error) {
	if !port.IsAccessPort {
		return s.dpRegs[addr], nil
	}
	switch addr {
	case 0x00:
		return s.csw, nil
	case 0x04:
		return s.tar, nil
	case 0x0C:
		v := s.readDRW(s.tar)
		s.advanceTAR()
		return v, nil
	}
	return 0, nil
}

func (s *simulatedAP) WriteDAPRegister(port probe.Port, addr uint16, value uint32) error {
	if !port.IsAccessPort {
		s.dpRegs[addr] = value
		return nil
	}
	switch addr {
	case 0x00:
		s.csw = value
	case 0x04:
		s.tar = value
	case 0x0C:
		s.writeDRW(s.tar, value)
		s.advanceTAR()
	}
	return nil
}

func (s *simulatedAP) ReadBlock(port probe.Port, addr uint16, values []uint32) error {
	for i := range values {
		v, err := s.ReadDAPRegister(port, addr)
		if err != nil {
			return err
		}
		values[i] = v
	}
	return nil
}

func (s *simulatedAP) WriteBlock(port probe.Port, addr uint16, values []uint32) error {
	for _, v := range values {
		if err := s.WriteDAPRegister(port, addr, v); err != nil {
			return err
		}
	}
	return nil
}

// transferSize decodes the CSW size field: 0=byte, 1=halfword, 2=word.
func (s *simulatedAP) transferSize() uint32 { return s.csw & 0x3 }

func (s *simulatedAP) advanceTAR() {
	const packed = 1 << 4
	if s.csw&packed == 0 {
		return
	}
	inc := uint32(1) << s.transferSize()
	windowBase := s.tar - (s.tar % 1024)
	next := s.tar + inc
	if next >= windowBase+1024 {
		next = windowBase // real silicon wraps within the 1 KiB window
	}
	s.tar = next
}

// readDRW and writeDRW model the byte lane behavior of a real MEM-AP: a
// byte or halfword transfer touches only the bytes it addresses, not the
// whole containing word, matching the shift conventions memap.go uses to
// extract/pack narrow transfers into the 32-bit DRW register.
func (s *simulatedAP) readDRW(addr uint32) uint32 {
	switch s.transferSize() {
	case 0:
		shift := (addr & 0x3) * 8
		return uint32(s.mem[addr]) << shift
	case 1:
		shift := (addr & 0x2) * 8
		v := uint32(s.mem[addr]) | uint32(s.mem[addr+1])<<8
		return v << shift
	default:
		base := addr &^ 3
		var v uint32
		for i := uint32(0); i < 4; i++ {
			v |= uint32(s.mem[base+i]) << (8 * i)
		}
		return v
	}
}

func (s *simulatedAP) writeDRW(addr uint32, value uint32) {
	switch s.transferSize() {
	case 0:
		shift := (addr & 0x3) * 8
		s.mem[addr] = byte(value >> shift)
	case 1:
		shift := (addr & 0x2) * 8
		v := value >> shift
		s.mem[addr] = byte(v)
		s.mem[addr+1] = byte(v >> 8)
	default:
		base := addr &^ 3
		for i := uint32(0); i < 4; i++ {
			s.mem[base+i] = byte(value >> (8 * i))
		}
	}
}

// TestBlockTransferEquivalence is the P1 property: a block written via
// WriteBlock32 reads back the same through ReadBlock32 and word by word
// through ReadWord32, for a transfer that crosses a 1 KiB auto-increment
// boundary.
func TestBlockTransferEquivalence(t *testing.T) {
	sim := newSimulatedAP()
	acc := dap.New(sim)
	ap := memap.New(acc, 0)

	const base = 0x20000000 + 1024 - 8 // straddles a 1 KiB boundary
	want := make([]uint32, 8)
	for i := range want {
		want[i] = uint32(i)*0x01010101 + 1
	}

	require.NoError(t, ap.WriteBlock32(base, want))

	got := make([]uint32, len(want))
	require.NoError(t, ap.ReadBlock32(base, got))
	require.Equal(t, want, got)

	for i, w := range want {
		v, err := ap.ReadWord32(base + uint32(i*4))
		require.NoError(t, err)
		require.Equal(t, w, v, "word-by-word readback must match block readback at index %d", i)
	}
}

// TestBlockTransferEquivalence16 mirrors TestBlockTransferEquivalence for
// the 16-bit block path, crossing a 1 KiB auto-increment boundary.
func TestBlockTransferEquivalence16(t *testing.T) {
	sim := newSimulatedAP()
	acc := dap.New(sim)
	ap := memap.New(acc, 0)

	const base = 0x20000000 + 1024 - 6 // straddles a 1 KiB boundary
	want := make([]uint16, 6)
	for i := range want {
		want[i] = uint16(i)*0x1111 + 1
	}

	require.NoError(t, ap.WriteBlock16(base, want))

	got := make([]uint16, len(want))
	require.NoError(t, ap.ReadBlock16(base, got))
	require.Equal(t, want, got)

	for i, w := range want {
		v, err := ap.ReadWord16(base + uint32(i*2))
		require.NoError(t, err)
		require.Equal(t, w, v, "word-by-word readback must match block readback at index %d", i)
	}
}

// TestBlockTransferEquivalence8 mirrors TestBlockTransferEquivalence for
// the byte block path, crossing a 1 KiB auto-increment boundary.
func TestBlockTransferEquivalence8(t *testing.T) {
	sim := newSimulatedAP()
	acc := dap.New(sim)
	ap := memap.New(acc, 0)

	const base = 0x20000000 + 1024 - 4 // straddles a 1 KiB boundary
	want := make([]byte, 8)
	for i := range want {
		want[i] = byte(i)*0x11 + 1
	}

	require.NoError(t, ap.WriteBlock8(base, want))

	got := make([]byte, len(want))
	require.NoError(t, ap.ReadBlock8(base, got))
	require.Equal(t, want, got)

	for i, w := range want {
		b, err := ap.ReadByte(base + uint32(i))
		require.NoError(t, err)
		require.Equal(t, w, b, "byte-by-byte readback must match block readback at index %d", i)
	}
}

func TestReadWriteWord16AndByte(t *testing.T) {
	sim := newSimulatedAP()
	acc := dap.New(sim)
	ap := memap.New(acc, 0)

	require.NoError(t, ap.WriteWord16(0x1000, 0xBEEF))
	v16, err := ap.ReadWord16(0x1000)
	require.NoError(t, err)
	require.Equal(t, uint16(0xBEEF), v16)

	require.NoError(t, ap.WriteByte(0x1004, 0x42))
	b, err := ap.ReadByte(0x1004)
	require.NoError(t, err)
	require.Equal(t, byte(0x42), b)
}

func TestAlignmentErrors(t *testing.T) {
	sim := newSimulatedAP()
	acc := dap.New(sim)
	ap := memap.New(acc, 0)

	_, err := ap.ReadWord32(0x1001)
	require.Error(t, err)

	err = ap.WriteWord16(0x1003, 1)
	require.Error(t, err)
}
