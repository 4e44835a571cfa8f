// Package dap implements the generic DebugPort/AccessPort register-access
// layer (C3): reading and writing DP and AP registers by port number and
// banked address, AP presence detection via IDR, and AP enumeration.
//
// Grounded on original_source/probe-rs's coresight/ap_access.rs
// (valid_access_ports, access_port_is_valid, get_ap_by_idr), generalized
// from the Rust trait-parameterized APAccess<PORT,REGISTER> to a single
// concrete Accessor over the pkg/probe capability set.
package dap

import (
	"fmt"

	"github.com/armflash/probe/pkg/probe"
)

// Well-known DP register addresses (bank-independent, low nibble only).
const (
	RegIDCode  = 0x00 // read
	RegAbort   = 0x00 // write
	RegCtrlStat = 0x04
	RegSelect  = 0x08
	RegRDBuff  = 0x0C
)

// IDR is the well-known AP register offset 0xFC (bank 0xF), present on
// every AP type; a nonzero value means the AP is implemented.
const RegIDR = 0xFC

// AccessPortError is raised for AP-layer failures distinct from plain
// transport errors: AP not present, a faulted transaction, or an
// alignment violation caught before the wire (memap owns alignment
// checking; this kind exists so memap can wrap it uniformly).
type AccessPortError struct {
	Kind string // "not-present" | "fault" | "alignment"
	Err  error
}

func (e *AccessPortError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("dap: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("dap: %s", e.Kind)
}

func (e *AccessPortError) Unwrap() error { return e.Err }

// Accessor performs DP/AP register transactions against one attached probe.
// It tracks the last-written AP SELECT value so repeated accesses to the
// same bank skip the redundant SELECT write.
type Accessor struct {
	probe        probe.DapAccess
	selectedBank map[uint8]uint8 // AP port -> last-selected 4-bit bank
	haveSelected map[uint8]bool
}

// New wraps a probe's DapAccess capability.
func New(p probe.DapAccess) *Accessor {
	return &Accessor{
		probe:        p,
		selectedBank: make(map[uint8]uint8),
		haveSelected: make(map[uint8]bool),
	}
}

// ReadDP reads a DebugPort register. addr is the 4-bit register offset
// (0x0, 0x4, 0x8, 0xC); the DP has no banking concern for the registers
// this layer exposes.
func (a *Accessor) ReadDP(addr uint8) (uint32, error) {
	return a.probe.ReadDAPRegister(probe.DPPort, uint16(addr))
}

// WriteDP writes a DebugPort register.
func (a *Accessor) WriteDP(addr uint8, value uint32) error {
	return a.probe.WriteDAPRegister(probe.DPPort, uint16(addr), value)
}

// ReadAP reads a banked AP register: addr's low nibble is the offset
// within a bank, the high nibble (and any bits above) select the bank via
// the DP SELECT register, switched lazily.
func (a *Accessor) ReadAP(port uint8, addr uint8) (uint32, error) {
	if err := a.selectBank(port, addr); err != nil {
		return 0, err
	}
	return a.probe.ReadDAPRegister(probe.APPort(port), uint16(addr&0x0F))
}

// WriteAP writes a banked AP register.
func (a *Accessor) WriteAP(port uint8, addr uint8, value uint32) error {
	if err := a.selectBank(port, addr); err != nil {
		return err
	}
	return a.probe.WriteDAPRegister(probe.APPort(port), uint16(addr&0x0F), value)
}

// ReadAPRepeated reads the same banked AP register len(values) times; used
// by the memory-AP layer for DRW block reads via TAR auto-increment.
func (a *Accessor) ReadAPRepeated(port uint8, addr uint8, values []uint32) error {
	if err := a.selectBank(port, addr); err != nil {
		return err
	}
	return a.probe.ReadBlock(probe.APPort(port), uint16(addr&0x0F), values)
}

// WriteAPRepeated writes the same banked AP register len(values) times.
func (a *Accessor) WriteAPRepeated(port uint8, addr uint8, values []uint32) error {
	if err := a.selectBank(port, addr); err != nil {
		return err
	}
	return a.probe.WriteBlock(probe.APPort(port), uint16(addr&0x0F), values)
}

func (a *Accessor) selectBank(port uint8, addr uint8) error {
	bank := addr >> 4
	if a.haveSelected[port] && a.selectedBank[port] == bank {
		return nil
	}
	selectValue := uint32(port)<<24 | uint32(bank)<<4
	if err := a.WriteDP(RegSelect, selectValue); err != nil {
		return err
	}
	// SELECT holds one AP number at a time: once it names this port, any
	// bank remembered for another port is no longer selected.
	for k := range a.haveSelected {
		delete(a.haveSelected, k)
	}
	a.selectedBank[port] = bank
	a.haveSelected[port] = true
	return nil
}

// APPresent reports whether an AP exists at the given port (IDR != 0).
func (a *Accessor) APPresent(port uint8) bool {
	idr, err := a.ReadAP(port, RegIDR)
	if err != nil {
		return false
	}
	return idr != 0
}

// ValidAccessPorts returns every AP port (0..=255) whose IDR is nonzero.
// Grounded on valid_access_ports in ap_access.rs.
func (a *Accessor) ValidAccessPorts() []uint8 {
	var ports []uint8
	for port := 0; port <= 255; port++ {
		if a.APPresent(uint8(port)) {
			ports = append(ports, uint8(port))
		}
	}
	return ports
}

// FindAP returns the first AP port whose IDR satisfies predicate, grounded
// on get_ap_by_idr.
func (a *Accessor) FindAP(predicate func(idr uint32) bool) (uint8, bool) {
	for port := 0; port <= 255; port++ {
		idr, err := a.ReadAP(uint8(port), RegIDR)
		if err != nil {
			continue
		}
		if predicate(idr) {
			return uint8(port), true
		}
	}
	return 0, false
}
