package dap_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/armflash/probe/pkg/dap"
	"github.com/armflash/probe/pkg/probe"
)

// fakeProbe is a minimal in-memory probe.DapAccess used to exercise the
// SELECT-bank switching logic without any USB transport.
type fakeProbe struct {
	dpRegs     map[uint16]uint32
	apRegs     map[uint8]map[uint16]uint32
	selectWrites int
}

func newFakeProbe() *fakeProbe {
	return &fakeProbe{
		dpRegs: make(map[uint16]uint32),
		apRegs: make(map[uint8]map[uint16]uint32),
	}
}

func (f *fakeProbe) bank(port uint8) map[uint16]uint32 {
	if f.apRegs[port] == nil {
		f.apRegs[port] = make(map[uint16]uint32)
	}
	return f.apRegs[port]
}

func (f *fakeProbe) ReadDAPRegister(port probe.Port, addr uint16) (uint32, error) {
	if !port.IsAccessPort {
		return f.dpRegs[addr], nil
	}
	return f.bank(port.Number)[addr], nil
}

func (f *fakeProbe) WriteDAPRegister(port probe.Port, addr uint16, value uint32) error {
	if !port.IsAccessPort {
		if addr == dap.RegSelect {
			f.selectWrites++
		}
		f.dpRegs[addr] = value
		return nil
	}
	f.bank(port.Number)[addr] = value
	return nil
}

func (f *fakeProbe) ReadBlock(port probe.Port, addr uint16, values []uint32) error {
	for i := range values {
		v, err := f.ReadDAPRegister(port, addr)
		if err != nil {
			return err
		}
		values[i] = v
	}
	return nil
}

func (f *fakeProbe) WriteBlock(port probe.Port, addr uint16, values []uint32) error {
	for _, v := range values {
		if err := f.WriteDAPRegister(port, addr, v); err != nil {
			return err
		}
	}
	return nil
}

func TestReadWriteAP_RoundTrip(t *testing.T) {
	fp := newFakeProbe()
	a := dap.New(fp)

	require.NoError(t, a.WriteAP(0, 0x0C, 0xdeadbeef))
	v, err := a.ReadAP(0, 0x0C)
	require.NoError(t, err)
	require.Equal(t, uint32(0xdeadbeef), v)
}

func TestSelectBank_SkipsRedundantWrites(t *testing.T) {
	fp := newFakeProbe()
	a := dap.New(fp)

	require.NoError(t, a.WriteAP(0, 0x00, 1))
	require.NoError(t, a.WriteAP(0, 0x04, 2))
	require.Equal(t, 1, fp.selectWrites, "same bank should select once")

	require.NoError(t, a.WriteAP(0, 0x10, 3))
	require.Equal(t, 2, fp.selectWrites, "switching bank should reselect")
}

func TestAPPresent_FalseWhenIDRZero(t *testing.T) {
	fp := newFakeProbe()
	a := dap.New(fp)

	require.False(t, a.APPresent(0))

	fp.bank(0)[uint16(dap.RegIDR&0x0F)] = 0x04770031
	require.True(t, a.APPresent(0))
}

func TestValidAccessPorts_FindsPresentAPs(t *testing.T) {
	fp := newFakeProbe()
	a := dap.New(fp)

	fp.bank(0)[uint16(dap.RegIDR&0x0F)] = 0x04770031
	fp.bank(3)[uint16(dap.RegIDR&0x0F)] = 0x24770011

	ports := a.ValidAccessPorts()
	require.Equal(t, []uint8{0, 3}, ports)
}

func TestFindAP_MatchesPredicate(t *testing.T) {
	fp := newFakeProbe()
	a := dap.New(fp)

	fp.bank(0)[uint16(dap.RegIDR&0x0F)] = 0x04770031
	fp.bank(1)[uint16(dap.RegIDR&0x0F)] = 0x24770011

	port, ok := a.FindAP(func(idr uint32) bool { return idr == 0x24770011 })
	require.True(t, ok)
	require.Equal(t, uint8(1), port)

	_, ok = a.FindAP(func(idr uint32) bool { return idr == 0xffffffff })
	require.False(t, ok)
}
