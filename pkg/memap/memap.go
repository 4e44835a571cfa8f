// Package memap implements the Memory Access Port (MEM-AP) layer (C4): word,
// halfword, and byte transactions against target memory through CSW/TAR/DRW,
// with TAR auto-increment wrap splitting at the 1 KiB boundary the CoreSight
// architecture imposes on packed transfers.
//
// New code with no direct teacher analogue; written in the house style of
// the teacher's block-oriented Adapter methods (ShiftIR/ShiftDR) and
// chain.go's dispatch-by-domain helper, applied to MEM-AP register access
// instead of JTAG shifting.
package memap

import (
	"fmt"

	"github.com/armflash/probe/pkg/dap"
)

// MEM-AP register offsets (ARM IHI 0031, table C2-8).
const (
	regCSW  = 0x00
	regTAR  = 0x04
	regDRW  = 0x0C
	regBase = 0xF8
)

// CSW size-field encodings.
const (
	cswSize8   = 0x00
	cswSize16  = 0x01
	cswSize32  = 0x02
	cswAddrIncSingle = 0x1 << 4
	cswAddrIncOff    = 0x0 << 4
)

// autoIncrementWindow is the size, in bytes, of the address window within
// which TAR auto-increment is guaranteed not to wrap; block transfers are
// split at this boundary.
const autoIncrementWindow = 1024

// Error reports a memory-AP failure: either the underlying AccessPort
// operation failed, or the request itself was invalid (misaligned address).
type Error struct {
	Kind string // "access-port" | "alignment" | "out-of-range"
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("memap: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("memap: %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// AP is one Memory Access Port, addressed by its AP port number on an
// already-attached Accessor.
type AP struct {
	acc  *dap.Accessor
	port uint8
}

// New wraps the AP at the given port number for memory transactions.
func New(acc *dap.Accessor, port uint8) *AP {
	return &AP{acc: acc, port: port}
}

// ReadWord32 reads one 32-bit word at addr, which must be 4-byte aligned.
func (m *AP) ReadWord32(addr uint32) (uint32, error) {
	if addr%4 != 0 {
		return 0, &Error{Kind: "alignment", Err: fmt.Errorf("address 0x%08X not 4-byte aligned", addr)}
	}
	if err := m.setTransferSize(cswSize32, false); err != nil {
		return 0, err
	}
	if err := m.setTAR(addr); err != nil {
		return 0, err
	}
	v, err := m.acc.ReadAP(m.port, regDRW)
	if err != nil {
		return 0, &Error{Kind: "access-port", Err: err}
	}
	return v, nil
}

// WriteWord32 writes one 32-bit word at addr.
func (m *AP) WriteWord32(addr uint32, value uint32) error {
	if addr%4 != 0 {
		return &Error{Kind: "alignment", Err: fmt.Errorf("address 0x%08X not 4-byte aligned", addr)}
	}
	if err := m.setTransferSize(cswSize32, false); err != nil {
		return err
	}
	if err := m.setTAR(addr); err != nil {
		return err
	}
	if err := m.acc.WriteAP(m.port, regDRW, value); err != nil {
		return &Error{Kind: "access-port", Err: err}
	}
	return nil
}

// ReadWord16 reads one 16-bit halfword at addr (2-byte aligned). The value
// is returned in the low 16 bits of the DRW readback per CSW size=halfword.
func (m *AP) ReadWord16(addr uint32) (uint16, error) {
	if addr%2 != 0 {
		return 0, &Error{Kind: "alignment", Err: fmt.Errorf("address 0x%08X not 2-byte aligned", addr)}
	}
	if err := m.setTransferSize(cswSize16, false); err != nil {
		return 0, err
	}
	if err := m.setTAR(addr); err != nil {
		return 0, err
	}
	v, err := m.acc.ReadAP(m.port, regDRW)
	if err != nil {
		return 0, &Error{Kind: "access-port", Err: err}
	}
	shift := (addr & 0x2) * 8
	return uint16(v >> shift), nil
}

// WriteWord16 writes one 16-bit halfword at addr.
func (m *AP) WriteWord16(addr uint32, value uint16) error {
	if addr%2 != 0 {
		return &Error{Kind: "alignment", Err: fmt.Errorf("address 0x%08X not 2-byte aligned", addr)}
	}
	if err := m.setTransferSize(cswSize16, false); err != nil {
		return err
	}
	if err := m.setTAR(addr); err != nil {
		return err
	}
	shift := (addr & 0x2) * 8
	if err := m.acc.WriteAP(m.port, regDRW, uint32(value)<<shift); err != nil {
		return &Error{Kind: "access-port", Err: err}
	}
	return nil
}

// ReadByte reads one byte at addr.
func (m *AP) ReadByte(addr uint32) (byte, error) {
	if err := m.setTransferSize(cswSize8, false); err != nil {
		return 0, err
	}
	if err := m.setTAR(addr); err != nil {
		return 0, err
	}
	v, err := m.acc.ReadAP(m.port, regDRW)
	if err != nil {
		return 0, &Error{Kind: "access-port", Err: err}
	}
	shift := (addr & 0x3) * 8
	return byte(v >> shift), nil
}

// WriteByte writes one byte at addr.
func (m *AP) WriteByte(addr uint32, value byte) error {
	if err := m.setTransferSize(cswSize8, false); err != nil {
		return err
	}
	if err := m.setTAR(addr); err != nil {
		return err
	}
	shift := (addr & 0x3) * 8
	if err := m.acc.WriteAP(m.port, regDRW, uint32(value)<<shift); err != nil {
		return &Error{Kind: "access-port", Err: err}
	}
	return nil
}

// ReadBlock32 reads len(dst) consecutive 32-bit words starting at addr,
// using TAR auto-increment and splitting the transfer at each 1 KiB
// boundary the architecture imposes on auto-increment wrap.
func (m *AP) ReadBlock32(addr uint32, dst []uint32) error {
	if addr%4 != 0 {
		return &Error{Kind: "alignment", Err: fmt.Errorf("address 0x%08X not 4-byte aligned", addr)}
	}
	if err := m.setTransferSize(cswSize32, true); err != nil {
		return err
	}

	offset := 0
	for offset < len(dst) {
		n := m.chunkLen(addr+uint32(offset*4), len(dst)-offset, 4)
		if err := m.setTAR(addr + uint32(offset*4)); err != nil {
			return err
		}
		if err := m.acc.ReadAPRepeated(m.port, regDRW, dst[offset:offset+n]); err != nil {
			return &Error{Kind: "access-port", Err: err}
		}
		offset += n
	}
	return nil
}

// WriteBlock32 writes len(src) consecutive 32-bit words starting at addr.
func (m *AP) WriteBlock32(addr uint32, src []uint32) error {
	if addr%4 != 0 {
		return &Error{Kind: "alignment", Err: fmt.Errorf("address 0x%08X not 4-byte aligned", addr)}
	}
	if err := m.setTransferSize(cswSize32, true); err != nil {
		return err
	}

	offset := 0
	for offset < len(src) {
		n := m.chunkLen(addr+uint32(offset*4), len(src)-offset, 4)
		if err := m.setTAR(addr + uint32(offset*4)); err != nil {
			return err
		}
		if err := m.acc.WriteAPRepeated(m.port, regDRW, src[offset:offset+n]); err != nil {
			return &Error{Kind: "access-port", Err: err}
		}
		offset += n
	}
	return nil
}

// ReadBlock16 reads len(dst) consecutive 16-bit halfwords starting at addr
// (2-byte aligned), using packed TAR auto-increment with the same 1 KiB
// wrap splitting as ReadBlock32.
func (m *AP) ReadBlock16(addr uint32, dst []uint16) error {
	if addr%2 != 0 {
		return &Error{Kind: "alignment", Err: fmt.Errorf("address 0x%08X not 2-byte aligned", addr)}
	}
	if err := m.setTransferSize(cswSize16, true); err != nil {
		return err
	}

	offset := 0
	for offset < len(dst) {
		cur := addr + uint32(offset*2)
		n := m.chunkLen(cur, len(dst)-offset, 2)
		if err := m.setTAR(cur); err != nil {
			return err
		}
		raw := make([]uint32, n)
		if err := m.acc.ReadAPRepeated(m.port, regDRW, raw); err != nil {
			return &Error{Kind: "access-port", Err: err}
		}
		for i := 0; i < n; i++ {
			shift := (cur + uint32(i*2)) & 0x2 * 8
			dst[offset+i] = uint16(raw[i] >> shift)
		}
		offset += n
	}
	return nil
}

// WriteBlock16 writes len(src) consecutive 16-bit halfwords starting at addr.
func (m *AP) WriteBlock16(addr uint32, src []uint16) error {
	if addr%2 != 0 {
		return &Error{Kind: "alignment", Err: fmt.Errorf("address 0x%08X not 2-byte aligned", addr)}
	}
	if err := m.setTransferSize(cswSize16, true); err != nil {
		return err
	}

	offset := 0
	for offset < len(src) {
		cur := addr + uint32(offset*2)
		n := m.chunkLen(cur, len(src)-offset, 2)
		if err := m.setTAR(cur); err != nil {
			return err
		}
		raw := make([]uint32, n)
		for i := 0; i < n; i++ {
			shift := (cur + uint32(i*2)) & 0x2 * 8
			raw[i] = uint32(src[offset+i]) << shift
		}
		if err := m.acc.WriteAPRepeated(m.port, regDRW, raw); err != nil {
			return &Error{Kind: "access-port", Err: err}
		}
		offset += n
	}
	return nil
}

// ReadBlock8 reads len(dst) consecutive bytes starting at addr, using packed
// TAR auto-increment with the same 1 KiB wrap splitting as ReadBlock32.
func (m *AP) ReadBlock8(addr uint32, dst []byte) error {
	if err := m.setTransferSize(cswSize8, true); err != nil {
		return err
	}

	offset := 0
	for offset < len(dst) {
		cur := addr + uint32(offset)
		n := m.chunkLen(cur, len(dst)-offset, 1)
		if err := m.setTAR(cur); err != nil {
			return err
		}
		raw := make([]uint32, n)
		if err := m.acc.ReadAPRepeated(m.port, regDRW, raw); err != nil {
			return &Error{Kind: "access-port", Err: err}
		}
		for i := 0; i < n; i++ {
			shift := (cur + uint32(i)) & 0x3 * 8
			dst[offset+i] = byte(raw[i] >> shift)
		}
		offset += n
	}
	return nil
}

// WriteBlock8 writes len(src) consecutive bytes starting at addr.
func (m *AP) WriteBlock8(addr uint32, src []byte) error {
	if err := m.setTransferSize(cswSize8, true); err != nil {
		return err
	}

	offset := 0
	for offset < len(src) {
		cur := addr + uint32(offset)
		n := m.chunkLen(cur, len(src)-offset, 1)
		if err := m.setTAR(cur); err != nil {
			return err
		}
		raw := make([]uint32, n)
		for i := 0; i < n; i++ {
			shift := (cur + uint32(i)) & 0x3 * 8
			raw[i] = uint32(src[offset+i]) << shift
		}
		if err := m.acc.WriteAPRepeated(m.port, regDRW, raw); err != nil {
			return &Error{Kind: "access-port", Err: err}
		}
		offset += n
	}
	return nil
}

// chunkLen returns how many items of itemBytes each, starting at addr, fit
// before the next 1 KiB auto-increment wrap boundary, capped at remaining.
func (m *AP) chunkLen(addr uint32, remaining, itemBytes int) int {
	bytesToBoundary := autoIncrementWindow - int(addr%autoIncrementWindow)
	itemsToBoundary := bytesToBoundary / itemBytes
	if itemsToBoundary < remaining {
		return itemsToBoundary
	}
	return remaining
}

func (m *AP) setTransferSize(size byte, packed bool) error {
	csw := uint32(size)
	if packed {
		csw |= cswAddrIncSingle
	} else {
		csw |= cswAddrIncOff
	}
	if err := m.acc.WriteAP(m.port, regCSW, csw); err != nil {
		return &Error{Kind: "access-port", Err: err}
	}
	return nil
}

func (m *AP) setTAR(addr uint32) error {
	if err := m.acc.WriteAP(m.port, regTAR, addr); err != nil {
		return &Error{Kind: "access-port", Err: err}
	}
	return nil
}

// Base reads the MEM-AP's BASE register, used by the ROM table walker to
// locate the debug component's ROM table.
func (m *AP) Base() (uint32, error) {
	v, err := m.acc.ReadAP(m.port, regBase)
	if err != nil {
		return 0, &Error{Kind: "access-port", Err: err}
	}
	return v, nil
}

// Port returns the underlying AP port number.
func (m *AP) Port() uint8 { return m.port }
