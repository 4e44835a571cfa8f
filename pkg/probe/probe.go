// Package probe defines the capability-set abstraction over debug probes
// (DAPLink, ST-Link) and discovers connected devices by USB VID/PID.
//
// Per the design notes, a probe is modeled as a value exposing a capability
// set rather than a shared trait object: DapAccess is mandatory, TargetReset
// is mandatory, OptionalNrfRecover is a narrower interface that both drivers
// satisfy (ST-Link's implementation always refuses). Probes are single-owner resources; they are never shared
// between Sessions.
package probe

import (
	"context"
	"fmt"

	"github.com/google/gousb"
)

// Kind names a probe family.
type Kind string

const (
	KindDAPLink Kind = "daplink"
	KindSTLink  Kind = "stlink"
)

// Info describes one enumerated USB debug probe, before it is opened.
type Info struct {
	Kind      Kind
	VendorID  uint16
	ProductID uint16
	Serial    string
	Product   string
}

func (i Info) String() string {
	return fmt.Sprintf("%s %04X:%04X serial=%s", i.Kind, i.VendorID, i.ProductID, i.Serial)
}

// WireProtocol selects SWD or JTAG framing at attach time.
type WireProtocol int

const (
	ProtocolDefault WireProtocol = iota
	ProtocolSWD
	ProtocolJTAG
)

// Port identifies a DAP register's home: the DebugPort itself, or one of up
// to 256 AccessPorts.
type Port struct {
	IsAccessPort bool
	Number       uint8
}

// DPPort is the well-known DebugPort pseudo-port.
var DPPort = Port{IsAccessPort: false}

// APPort addresses the AccessPort numbered n.
func APPort(n uint8) Port { return Port{IsAccessPort: true, Number: n} }

// DapAccess is the mandatory capability every probe driver provides: raw
// register read/write against the DP or a numbered AP, plus block variants
// used by the memory-AP layer for auto-incrementing transfers.
type DapAccess interface {
	ReadDAPRegister(port Port, addr uint16) (uint32, error)
	WriteDAPRegister(port Port, addr uint16, value uint32) error
	ReadBlock(port Port, addr uint16, values []uint32) error
	WriteBlock(port Port, addr uint16, values []uint32) error
}

// TargetReset is the mandatory nRESET control capability.
type TargetReset interface {
	TargetReset() error
}

// Probe is the minimal capability set every probe driver must implement.
type Probe interface {
	DapAccess
	TargetReset
	Attach(ctx context.Context, protocol WireProtocol) (WireProtocol, error)
	Detach() error
	Close() error
}

// OptionalNrfRecover is implemented by probes that offer the Nordic
// nRF52/53 CTRL-AP mass-erase recovery sequence; callers must type-assert.
// DAPLink performs the sequence; ST-Link's NrfRecover always returns
// ErrNrfRecoverUnsupported.
type OptionalNrfRecover interface {
	NrfRecover() error
}

// Discover enumerates connected DAPLink and ST-Link probes by USB VID/PID.
// It never opens a device; callers open the one they select.
func Discover(ctx context.Context) ([]Info, error) {
	var out []Info

	usbCtx := gousb.NewContext()
	defer usbCtx.Close()

	_, err := usbCtx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		select {
		case <-ctx.Done():
			return false
		default:
		}
		if info, ok := classify(desc); ok {
			out = append(out, info)
		}
		return false
	})
	if err != nil && err != gousb.ErrorAccess {
		return out, err
	}
	return out, nil
}

func classify(desc *gousb.DeviceDesc) (Info, bool) {
	vid, pid := uint16(desc.Vendor), uint16(desc.Product)
	for _, known := range daplinkVIDPIDs {
		if vid == known.vid && pid == known.pid {
			return Info{Kind: KindDAPLink, VendorID: vid, ProductID: pid, Product: known.desc}, true
		}
	}
	for _, known := range stlinkVIDPIDs {
		if vid == known.vid && pid == known.pid {
			return Info{Kind: KindSTLink, VendorID: vid, ProductID: pid, Product: known.desc}, true
		}
	}
	return Info{}, false
}

type knownDevice struct {
	vid, pid uint16
	desc     string
}

// daplinkVIDPIDs covers DAPLink (CMSIS-DAP v1/v2, HID and bulk variants).
var daplinkVIDPIDs = []knownDevice{
	{vid: 0x0d28, pid: 0x0204, desc: "DAPLink CMSIS-DAP"},
	{vid: 0x2e8a, pid: 0x000c, desc: "Raspberry Pi Pico CMSIS-DAP (picoprobe)"},
	{vid: 0x1366, pid: 0x0101, desc: "SEGGER J-Link CMSIS-DAP"},
}

// stlinkVIDPIDs covers ST-Link v2, v2-1, and v3.
var stlinkVIDPIDs = []knownDevice{
	{vid: 0x0483, pid: 0x3748, desc: "ST-Link/V2"},
	{vid: 0x0483, pid: 0x374b, desc: "ST-Link/V2-1"},
	{vid: 0x0483, pid: 0x3752, desc: "ST-Link/V2-1 (no MSD)"},
	{vid: 0x0483, pid: 0x374e, desc: "ST-Link/V3"},
	{vid: 0x0483, pid: 0x374f, desc: "ST-Link/V3 (no MSD)"},
}
