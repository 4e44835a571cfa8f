// Package core implements the Cortex-M core controller (C7): halt/run/step/
// reset, register access through DCRSR/DCRDR, and hardware breakpoints
// through FP_CTRL/FP_COMP.
//
// New code; the Halted/Running state machine is modeled the way the
// teacher models the JTAG TAP FSM in pkg/tap/tap.go (an explicit State enum
// plus a thin struct wrapping current state), applied here to CoreSight's
// two-state debug model instead of the 16 JTAG TAP states.
package core

import (
	"fmt"
	"time"

	"github.com/armflash/probe/pkg/memap"
)

// Cortex-M System Control Space debug register addresses (ARMv7-M/ARMv8-M
// architecture reference manual).
const (
	regDHCSR = 0xE000EDF0
	regDCRSR = 0xE000EDF4
	regDCRDR = 0xE000EDF8
	regDEMCR = 0xE000EDFC

	regFPCTRL = 0xE0002000
	regFPCOMP0 = 0xE0002008
)

const (
	dhcsrDebugKey  = 0xA05F0000
	dhcsrCDebugen  = 1 << 0
	dhcsrCHalt     = 1 << 1
	dhcsrCStep     = 1 << 2
	dhcsrCMaskInts = 1 << 3
	dhcsrSRegRdy   = 1 << 16
	dhcsrSHalt     = 1 << 17

	dcrsrRegWnR = 1 << 16

	demcrVcCorereset = 1 << 0
	demcrDwtena      = 1 << 24

	fpCtrlEnable = 1 << 0
	fpCtrlKey    = 1 << 1
)

// State is the core's coarse debug state.
type State uint8

const (
	StateUnknown State = iota
	StateHalted
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateHalted:
		return "Halted"
	case StateRunning:
		return "Running"
	default:
		return "Unknown"
	}
}

// Error reports a core-control failure.
type Error struct {
	Kind string // "halt-timeout" | "register-access" | "breakpoint-range" | "breakpoint-not-set"
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("core: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("core: %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// pollInterval and pollAttempts bound the busy-wait for DHCSR.S_REGRDY and
// DHCSR.S_HALT after issuing a halt or register request: about one second
// in total.
const (
	pollInterval = time.Millisecond
	pollAttempts = 1000
)

// Core drives one Cortex-M core's debug state through a MEM-AP.
type Core struct {
	mem            *memap.AP
	state          State
	numBreakpoints int
	breakpoints    map[uint32]int // addr -> comparator slot, for address-keyed alloc/lookup
}

// New wraps mem, the MEM-AP giving access to the core's System Control
// Space, for debug control.
func New(mem *memap.AP) *Core {
	return &Core{mem: mem, state: StateUnknown, breakpoints: make(map[uint32]int)}
}

// Halt enables debug and requests a halt, waiting for DHCSR.S_HALT.
func (c *Core) Halt() error {
	if err := c.mem.WriteWord32(regDHCSR, dhcsrDebugKey|dhcsrCDebugen|dhcsrCHalt); err != nil {
		return &Error{Kind: "register-access", Err: err}
	}
	if err := c.waitHalted(); err != nil {
		return err
	}
	c.state = StateHalted
	return nil
}

// Run clears C_HALT, resuming execution.
func (c *Core) Run() error {
	if err := c.mem.WriteWord32(regDHCSR, dhcsrDebugKey|dhcsrCDebugen); err != nil {
		return &Error{Kind: "register-access", Err: err}
	}
	c.state = StateRunning
	return nil
}

// Step executes a single instruction while halted, via DHCSR.C_STEP.
func (c *Core) Step() error {
	if err := c.mem.WriteWord32(regDHCSR, dhcsrDebugKey|dhcsrCDebugen|dhcsrCStep|dhcsrCMaskInts); err != nil {
		return &Error{Kind: "register-access", Err: err}
	}
	if err := c.waitHalted(); err != nil {
		return err
	}
	c.state = StateHalted
	return nil
}

// Reset sets DEMCR.TRCENA and requests a reset through AIRCR.SYSRESETREQ
// (the probe's nRESET pin is driven at the probe layer, not here).
func (c *Core) Reset() error {
	demcr, err := c.mem.ReadWord32(regDEMCR)
	if err != nil {
		return &Error{Kind: "register-access", Err: err}
	}
	if err := c.mem.WriteWord32(regDEMCR, demcr|demcrDwtena); err != nil {
		return &Error{Kind: "register-access", Err: err}
	}
	const aircr = 0xE000ED0C
	const aircrVectKey = 0x05FA0000
	const aircrSysResetReq = 1 << 2
	if err := c.mem.WriteWord32(aircr, aircrVectKey|aircrSysResetReq); err != nil {
		return &Error{Kind: "register-access", Err: err}
	}
	c.state = StateRunning
	return nil
}

// ResetAndHalt resets the core with VC_CORERESET set so it halts at the
// reset vector, then confirms the halt.
func (c *Core) ResetAndHalt() error {
	demcr, err := c.mem.ReadWord32(regDEMCR)
	if err != nil {
		return &Error{Kind: "register-access", Err: err}
	}
	if err := c.mem.WriteWord32(regDEMCR, demcr|demcrVcCorereset|dhcsrCDebugen); err != nil {
		return &Error{Kind: "register-access", Err: err}
	}
	if err := c.Reset(); err != nil {
		return err
	}
	return c.Halt()
}

// State returns the core's last-known debug state.
func (c *Core) State() State { return c.state }

// WaitHalted blocks until DHCSR.S_HALT is set, for callers that resumed
// execution expecting it to trap on its own (a flash algorithm hitting its
// return breakpoint) rather than via an explicit Halt request.
func (c *Core) WaitHalted() error {
	if err := c.waitHalted(); err != nil {
		return err
	}
	c.state = StateHalted
	return nil
}

// ReadCoreRegister reads one core register (R0-R15, XPSR, MSP, PSP, ...) by
// its DCRSR register-selector index, via the DCRSR/DCRDR handshake.
func (c *Core) ReadCoreRegister(index uint16) (uint32, error) {
	if err := c.mem.WriteWord32(regDCRSR, uint32(index)); err != nil {
		return 0, &Error{Kind: "register-access", Err: err}
	}
	if err := c.waitRegReady(); err != nil {
		return 0, err
	}
	v, err := c.mem.ReadWord32(regDCRDR)
	if err != nil {
		return 0, &Error{Kind: "register-access", Err: err}
	}
	return v, nil
}

// WriteCoreRegister writes one core register.
func (c *Core) WriteCoreRegister(index uint16, value uint32) error {
	if err := c.mem.WriteWord32(regDCRDR, value); err != nil {
		return &Error{Kind: "register-access", Err: err}
	}
	if err := c.mem.WriteWord32(regDCRSR, uint32(index)|dcrsrRegWnR); err != nil {
		return &Error{Kind: "register-access", Err: err}
	}
	return c.waitRegReady()
}

// EnableBreakpoints enables the Flash Patch Breakpoint unit and records how
// many hardware comparators it must not exceed when SetBreakpoint is
// called, read back from FP_CTRL's NUM_CODE field.
func (c *Core) EnableBreakpoints() error {
	fpctrl, err := c.mem.ReadWord32(regFPCTRL)
	if err != nil {
		return &Error{Kind: "register-access", Err: err}
	}
	c.numBreakpoints = int((fpctrl>>4)&0xF) | int((fpctrl>>8)&0x70)
	return c.mem.WriteWord32(regFPCTRL, fpctrl|fpCtrlKey|fpCtrlEnable)
}

// SetBreakpoint arms the first free hardware comparator for addr, recording
// which slot now holds it so ClearBreakpoint can find it again. Per the
// FPBv2 comparator format, addr's bit 0 (Thumb marker) is dropped and bit 0
// of the comparator (ENABLE) is set. Setting an addr that's already armed is
// a no-op. While no comparators are known, EnableBreakpoints runs first.
func (c *Core) SetBreakpoint(addr uint32) error {
	if _, ok := c.breakpoints[addr]; ok {
		return nil
	}
	if c.numBreakpoints == 0 {
		if err := c.EnableBreakpoints(); err != nil {
			return err
		}
	}
	slot, err := c.freeSlot()
	if err != nil {
		return err
	}
	const fpCompEnable = 1 << 0
	value := (addr &^ 1) | fpCompEnable
	if err := c.mem.WriteWord32(regFPCOMP0+uint32(slot*4), value); err != nil {
		return &Error{Kind: "register-access", Err: err}
	}
	c.breakpoints[addr] = slot
	return nil
}

// ClearBreakpoint disarms the comparator slot holding addr.
func (c *Core) ClearBreakpoint(addr uint32) error {
	slot, ok := c.breakpoints[addr]
	if !ok {
		return &Error{Kind: "breakpoint-not-set", Err: fmt.Errorf("no hardware breakpoint set at 0x%08X", addr)}
	}
	if err := c.mem.WriteWord32(regFPCOMP0+uint32(slot*4), 0); err != nil {
		return &Error{Kind: "register-access", Err: err}
	}
	delete(c.breakpoints, addr)
	return nil
}

// freeSlot finds the lowest comparator index not currently holding a
// breakpoint.
func (c *Core) freeSlot() (int, error) {
	used := make(map[int]bool, len(c.breakpoints))
	for _, slot := range c.breakpoints {
		used[slot] = true
	}
	for slot := 0; slot < c.numBreakpoints; slot++ {
		if !used[slot] {
			return slot, nil
		}
	}
	return 0, &Error{Kind: "breakpoint-range", Err: fmt.Errorf("no free hardware breakpoint slot (%d in use)", c.numBreakpoints)}
}

func (c *Core) waitHalted() error {
	for i := 0; i < pollAttempts; i++ {
		dhcsr, err := c.mem.ReadWord32(regDHCSR)
		if err != nil {
			return &Error{Kind: "register-access", Err: err}
		}
		if dhcsr&dhcsrSHalt != 0 {
			return nil
		}
		time.Sleep(pollInterval)
	}
	return &Error{Kind: "halt-timeout", Err: fmt.Errorf("core did not reach S_HALT")}
}

func (c *Core) waitRegReady() error {
	for i := 0; i < pollAttempts; i++ {
		dhcsr, err := c.mem.ReadWord32(regDHCSR)
		if err != nil {
			return &Error{Kind: "register-access", Err: err}
		}
		if dhcsr&dhcsrSRegRdy != 0 {
			return nil
		}
		time.Sleep(pollInterval)
	}
	return &Error{Kind: "halt-timeout", Err: fmt.Errorf("DCRSR transfer did not become ready")}
}
