package core_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/armflash/probe/pkg/core"
	"github.com/armflash/probe/pkg/dap"
	"github.com/armflash/probe/pkg/memap"
	"github.com/armflash/probe/pkg/probe"
)

// fakeSCS simulates just enough of a Cortex-M System Control Space for the
// core controller: DHCSR reports S_HALT and S_REGRDY set immediately after
// the corresponding request, which is how real silicon behaves on a
// software-simulated (non-timing-accurate) target.
type fakeSCS struct {
	dpRegs map[uint16]uint32
	csw    uint32
	tar    uint32
	mem    map[uint32]uint32
}

func newFakeSCS() *fakeSCS {
	s := &fakeSCS{dpRegs: make(map[uint16]uint32), mem: make(map[uint32]uint32)}
	s.mem[0xE0002000] = 2 << 4 // FP_CTRL.NUM_CODE = 2 comparators
	return s
}

func (s *fakeSCS) ReadDAPRegister(port probe.Port, addr uint16) (uint32, error) {
	if !port.IsAccessPort {
		return s.dpRegs[addr], nil
	}
	switch addr {
	case 0x00:
		return s.csw, nil
	case 0x04:
		return s.tar, nil
	case 0x0C:
		return s.mem[s.tar], nil
	}
	return 0, nil
}

func (s *fakeSCS) WriteDAPRegister(port probe.Port, addr uint16, value uint32) error {
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
		s.mem[s.tar] = value
		if s.tar == 0xE000EDF0 { // DHCSR write: halt/step requests take effect instantly
			if value&(1<<1) != 0 {
				s.mem[0xE000EDF0] |= 1 << 17 // S_HALT
			}
		}
		if s.tar == 0xE000EDF4 { // DCRSR write: register transfer completes instantly
			s.mem[0xE000EDF0] |= 1 << 16 // S_REGRDY
		}
	}
	return nil
}

func (s *fakeSCS) ReadBlock(port probe.Port, addr uint16, values []uint32) error {
	for i := range values {
		v, _ := s.ReadDAPRegister(port, addr)
		values[i] = v
	}
	return nil
}

func (s *fakeSCS) WriteBlock(port probe.Port, addr uint16, values []uint32) error {
	for _, v := range values {
		_ = s.WriteDAPRegister(port, addr, v)
	}
	return nil
}

func newCore() (*core.Core, *fakeSCS) {
	scs := newFakeSCS()
	acc := dap.New(scs)
	mem := memap.New(acc, 0)
	return core.New(mem), scs
}

func TestHalt_ReachesHaltedState(t *testing.T) {
	c, _ := newCore()
	require.NoError(t, c.Halt())
	require.Equal(t, core.StateHalted, c.State())
}

func TestRun_ReachesRunningState(t *testing.T) {
	c, _ := newCore()
	require.NoError(t, c.Halt())
	require.NoError(t, c.Run())
	require.Equal(t, core.StateRunning, c.State())
}

func TestRegisterReadWrite_RoundTrip(t *testing.T) {
	c, _ := newCore()
	require.NoError(t, c.Halt())
	require.NoError(t, c.WriteCoreRegister(0, 0x12345678))
	v, err := c.ReadCoreRegister(0)
	require.NoError(t, err)
	require.Equal(t, uint32(0x12345678), v)
}

func TestBreakpoints_RangeChecked(t *testing.T) {
	c, _ := newCore()
	require.NoError(t, c.EnableBreakpoints())
	require.NoError(t, c.SetBreakpoint(0x08000100))
	require.NoError(t, c.SetBreakpoint(0x08000200))

	err := c.SetBreakpoint(0x08000300)
	require.Error(t, err)
	var cerr *core.Error
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, "breakpoint-range", cerr.Kind)
}

// TestBreakpoints_AddressKeyedAllocAndClear exercises the addr-only API:
// SetBreakpoint finds its own free slot, and ClearBreakpoint frees it so a
// later SetBreakpoint can reuse it.
func TestBreakpoints_AddressKeyedAllocAndClear(t *testing.T) {
	c, _ := newCore()
	require.NoError(t, c.EnableBreakpoints())

	require.NoError(t, c.SetBreakpoint(0x08000100))
	require.NoError(t, c.SetBreakpoint(0x08000200))
	require.Error(t, c.SetBreakpoint(0x08000300), "only 2 comparators configured")

	require.NoError(t, c.ClearBreakpoint(0x08000100))
	require.NoError(t, c.SetBreakpoint(0x08000300), "clearing a slot must free it for reuse")

	err := c.ClearBreakpoint(0x08000999)
	require.Error(t, err)
	var cerr *core.Error
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, "breakpoint-not-set", cerr.Kind)
}
