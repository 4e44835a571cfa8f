package session_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/armflash/probe/pkg/probe"
	"github.com/armflash/probe/pkg/session"
)

// stubProbe implements probe.Probe with no-op behavior, enough to exercise
// Session's attach/detach/close wiring and NrfRecover's type-assertion
// fallback without a real transport.
type stubProbe struct {
	attached  bool
	detached  bool
	closed    bool
	dpRegs    map[uint16]uint32
}

func newStubProbe() *stubProbe {
	return &stubProbe{dpRegs: make(map[uint16]uint32)}
}

func (p *stubProbe) ReadDAPRegister(port probe.Port, addr uint16) (uint32, error) {
	return p.dpRegs[addr], nil
}
func (p *stubProbe) WriteDAPRegister(port probe.Port, addr uint16, value uint32) error {
	p.dpRegs[addr] = value
	return nil
}
func (p *stubProbe) ReadBlock(port probe.Port, addr uint16, values []uint32) error { return nil }
func (p *stubProbe) WriteBlock(port probe.Port, addr uint16, values []uint32) error { return nil }
func (p *stubProbe) TargetReset() error                                            { return nil }
func (p *stubProbe) Attach(ctx context.Context, wp probe.WireProtocol) (probe.WireProtocol, error) {
	p.attached = true
	return wp, nil
}
func (p *stubProbe) Detach() error { p.detached = true; return nil }
func (p *stubProbe) Close() error  { p.closed = true; return nil }

type nrfCapableProbe struct {
	stubProbe
	recovered bool
}

func (p *nrfCapableProbe) NrfRecover() error {
	p.recovered = true
	return nil
}

func TestNrfRecover_UnsupportedProbeFails(t *testing.T) {
	p := newStubProbe()
	s, err := session.AttachKnown(context.Background(), p, probe.ProtocolSWD, nil)
	require.NoError(t, err)
	require.True(t, p.attached)

	err = s.NrfRecover()
	require.Error(t, err)
}

func TestNrfRecover_CapableProbeSucceeds(t *testing.T) {
	p := &nrfCapableProbe{stubProbe: *newStubProbe()}
	s, err := session.AttachKnown(context.Background(), p, probe.ProtocolSWD, nil)
	require.NoError(t, err)

	require.NoError(t, s.NrfRecover())
	require.True(t, p.recovered)
}

func TestCloseDetachesAndClosesProbe(t *testing.T) {
	p := newStubProbe()
	s, err := session.AttachKnown(context.Background(), p, probe.ProtocolSWD, nil)
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.True(t, p.detached)
	require.True(t, p.closed)
}
