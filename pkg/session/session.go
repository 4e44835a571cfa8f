// Package session implements the Session aggregate root (C11): owns one
// attached probe and its resolved TargetDefinition, and offers flash,
// core-control, and breakpoint operations against them.
//
// Grounded in the teacher's chain.Controller (NewController wiring an
// adapter to a repository), generalized from one JTAG adapter + BSDL
// repository to a probe.Probe + target.TargetDefinition pair. A Session
// does not lock internally, mirroring the single-owner contract the
// teacher's CMSISDAPAdapter.mu documents for one adapter instance;
// concurrent external callers must wrap a Session in their own mutex.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/armflash/probe/pkg/core"
	"github.com/armflash/probe/pkg/coresight"
	"github.com/armflash/probe/pkg/dap"
	"github.com/armflash/probe/pkg/flash"
	"github.com/armflash/probe/pkg/memap"
	"github.com/armflash/probe/pkg/probe"
	"github.com/armflash/probe/pkg/target"
)

// DefaultTimeout is the one-second default timeout, the same value as the
// USB transport layer's default. Nothing in this package reads it; the core
// controller's poll loops carry their own bound of about one second.
const DefaultTimeout = 1 * time.Second

// systemMemAP is the MEM-AP port number almost every Cortex-M debug
// implementation wires to AP0.
const systemMemAP = 0

// Error reports a session-level failure.
type Error struct {
	Kind string // "attach-failed" | "no-chip-detected" | "target-not-found"
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("session: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("session: %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Session owns a probe and the TargetDefinition it was resolved against,
// for the lifetime of one debugging run.
type Session struct {
	probe   probe.Probe
	target  *target.TargetDefinition
	acc     *dap.Accessor
	mem     *memap.AP
	core    *core.Core
	attached bool
}

// Attach opens the wire protocol on p, identifies the target via its ROM
// table, resolves it against registry, and returns a ready Session.
func Attach(ctx context.Context, p probe.Probe, wp probe.WireProtocol, registry *target.Registry) (*Session, error) {
	if _, err := p.Attach(ctx, wp); err != nil {
		return nil, &Error{Kind: "attach-failed", Err: err}
	}

	acc := dap.New(p)
	mem := memap.New(acc, systemMemAP)

	romBase, err := mem.Base()
	if err != nil {
		return nil, &Error{Kind: "no-chip-detected", Err: err}
	}
	chipInfo, err := coresight.Identify(mem, romBase&0xFFFFF000)
	if err != nil {
		return nil, &Error{Kind: "no-chip-detected", Err: err}
	}

	def, err := registry.LookupByIdentity(target.FromChipInfo(chipInfo))
	if err != nil {
		return nil, &Error{Kind: "target-not-found", Err: err}
	}

	return &Session{
		probe:    p,
		target:   def,
		acc:      acc,
		mem:      mem,
		core:     core.New(mem),
		attached: true,
	}, nil
}

// AttachKnown opens the wire protocol and skips chip identification,
// trusting the caller's own resolved TargetDefinition; used when a ROM
// table walk is not desired (e.g. --chip was given explicitly).
func AttachKnown(ctx context.Context, p probe.Probe, wp probe.WireProtocol, def *target.TargetDefinition) (*Session, error) {
	if _, err := p.Attach(ctx, wp); err != nil {
		return nil, &Error{Kind: "attach-failed", Err: err}
	}
	acc := dap.New(p)
	mem := memap.New(acc, systemMemAP)
	return &Session{
		probe:    p,
		target:   def,
		acc:      acc,
		mem:      mem,
		core:     core.New(mem),
		attached: true,
	}, nil
}

// Detach releases the wire protocol; the Session must not be used
// afterward except to Close it.
func (s *Session) Detach() error {
	s.attached = false
	return s.probe.Detach()
}

// Close detaches (if still attached) and releases the underlying probe.
func (s *Session) Close() error {
	if s.attached {
		_ = s.probe.Detach()
	}
	return s.probe.Close()
}

// Target returns the resolved TargetDefinition.
func (s *Session) Target() *target.TargetDefinition { return s.target }

// Core returns the core controller for halt/run/step/register access.
func (s *Session) Core() *core.Core { return s.core }

// Flash programs fragments into target flash, reporting progress.
func (s *Session) Flash(fragments []flash.Fragment, progress flash.Progress) error {
	loader := flash.NewLoader(s.core, s.mem, s.target)
	return loader.Flash(fragments, progress)
}

// EraseAll mass-erases every flash region whose algorithm exposes an
// EraseAll entry point.
func (s *Session) EraseAll(progress flash.Progress) error {
	loader := flash.NewLoader(s.core, s.mem, s.target)
	return loader.EraseAll(progress)
}

// ResetAndHalt resets the core and halts it at the reset vector, the
// sequence a caller typically wants before flashing or inspecting state
// right after power-up.
func (s *Session) ResetAndHalt() error {
	return s.core.ResetAndHalt()
}

// Reset pulses the probe's nRESET line (a system-level reset, as opposed
// to Core.Reset's AIRCR.SYSRESETREQ request issued over the MEM-AP).
func (s *Session) Reset() error {
	return s.probe.TargetReset()
}

// SetHardwareBreakpoint arms the first free hardware comparator for addr.
func (s *Session) SetHardwareBreakpoint(addr uint32) error {
	return s.core.SetBreakpoint(addr)
}

// ClearHardwareBreakpoint disarms the comparator slot holding addr.
func (s *Session) ClearHardwareBreakpoint(addr uint32) error {
	return s.core.ClearBreakpoint(addr)
}

// NrfRecover performs the Nordic mass-erase recovery sequence if the
// attached probe supports it, surfacing probe.ErrNrfRecoverUnsupported
// (wrapped as a session Error) if not — ST-Link's refusal from scenario
// S5 propagates through here unchanged.
func (s *Session) NrfRecover() error {
	recoverable, ok := s.probe.(probe.OptionalNrfRecover)
	if !ok {
		return &Error{Kind: "attach-failed", Err: &probe.Error{Kind: probe.ErrNrfRecoverUnsupported}}
	}
	return recoverable.NrfRecover()
}
