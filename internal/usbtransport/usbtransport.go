// Package usbtransport provides synchronous bulk-endpoint request/response
// transport to a single USB debug probe, shared by the DAPLink and ST-Link
// probe drivers.
package usbtransport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/gousb"
	"github.com/sirupsen/logrus"
)

// ErrorKind categorizes a transport failure.
type ErrorKind int

const (
	ErrIO ErrorKind = iota
	ErrTimeout
	ErrEndpointNotFound
	ErrDeviceGone
)

func (k ErrorKind) String() string {
	switch k {
	case ErrIO:
		return "io"
	case ErrTimeout:
		return "timeout"
	case ErrEndpointNotFound:
		return "endpoint not found"
	case ErrDeviceGone:
		return "device gone"
	default:
		return "unknown"
	}
}

// Error wraps an underlying transport failure with its kind.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("usb: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("usb: %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

const (
	DefaultPacketSize = 64
	DefaultTimeout    = 1 * time.Second
)

// Info identifies one probe device by its USB address.
type Info struct {
	VendorID  uint16
	ProductID uint16
	Serial    string
}

// Transport is a synchronous bulk-endpoint request/response channel to one
// probe. Only one outstanding transfer is permitted at a time; callers must
// serialize access (the DAPLink driver does this with its mutex; the
// ST-Link driver takes no lock).
type Transport struct {
	ctx  *gousb.Context
	dev  *gousb.Device
	intf *gousb.Interface

	epOut *gousb.OutEndpoint
	epIn  *gousb.InEndpoint

	packetSize int
	timeout    time.Duration

	info Info
	log  *logrus.Entry
}

// Open claims the vendor-class bulk interface of the device matching info
// and returns a ready Transport.
func Open(info Info) (*Transport, error) {
	ctx := gousb.NewContext()

	dev, err := ctx.OpenDeviceWithVIDPID(gousb.ID(info.VendorID), gousb.ID(info.ProductID))
	if err != nil {
		ctx.Close()
		return nil, &Error{Kind: ErrIO, Err: err}
	}
	if dev == nil {
		ctx.Close()
		return nil, &Error{Kind: ErrDeviceGone, Err: fmt.Errorf("no device at VID:0x%04X PID:0x%04X", info.VendorID, info.ProductID)}
	}

	_ = dev.SetAutoDetach(true)

	t := &Transport{
		ctx:        ctx,
		dev:        dev,
		packetSize: DefaultPacketSize,
		timeout:    DefaultTimeout,
		info:       info,
		log:        logrus.WithField("component", "usbtransport"),
	}

	if err := t.claimVendorInterface(); err != nil {
		dev.Close()
		ctx.Close()
		return nil, err
	}

	return t, nil
}

func (t *Transport) claimVendorInterface() error {
	cfg, err := t.dev.Config(1)
	if err != nil {
		return &Error{Kind: ErrIO, Err: fmt.Errorf("get config: %w", err)}
	}

	ifaceNum := -1
	for _, ifc := range cfg.Desc.Interfaces {
		if len(ifc.AltSettings) == 0 {
			continue
		}
		if ifc.AltSettings[0].Class == gousb.ClassVendorSpec {
			ifaceNum = ifc.Number
			break
		}
	}
	if ifaceNum == -1 {
		ifaceNum = 0
	}

	intf, err := cfg.Interface(ifaceNum, 0)
	if err != nil {
		return &Error{Kind: ErrIO, Err: fmt.Errorf("claim interface %d: %w", ifaceNum, err)}
	}
	t.intf = intf

	if err := t.findEndpoints(); err != nil {
		intf.Close()
		return err
	}
	return nil
}

func (t *Transport) findEndpoints() error {
	setting := t.intf.Setting

	var outAddr, inAddr int
	for _, ep := range setting.Endpoints {
		if ep.TransferType != gousb.TransferTypeBulk {
			continue
		}
		switch ep.Direction {
		case gousb.EndpointDirectionOut:
			if outAddr == 0 {
				outAddr = ep.Number
			}
		case gousb.EndpointDirectionIn:
			if inAddr == 0 {
				inAddr = ep.Number
				t.packetSize = ep.MaxPacketSize
			}
		}
	}
	if outAddr == 0 || inAddr == 0 {
		return &Error{Kind: ErrEndpointNotFound}
	}

	epOut, err := t.intf.OutEndpoint(outAddr)
	if err != nil {
		return &Error{Kind: ErrEndpointNotFound, Err: err}
	}
	t.epOut = epOut

	epIn, err := t.intf.InEndpoint(inAddr)
	if err != nil {
		return &Error{Kind: ErrEndpointNotFound, Err: err}
	}
	t.epIn = epIn

	return nil
}

// PacketSize returns the negotiated max packet size of the bulk IN endpoint.
func (t *Transport) PacketSize() int { return t.packetSize }

// SetTimeout overrides the per-transfer timeout.
func (t *Transport) SetTimeout(d time.Duration) { t.timeout = d }

func (t *Transport) write(data []byte) error {
	packet := make([]byte, t.packetSize)
	copy(packet, data)
	_, err := t.epOut.WriteContext(timeoutCtx(t.timeout), packet)
	return classifyErr(err)
}

func (t *Transport) read(buf []byte) (int, error) {
	n, err := t.epIn.ReadContext(timeoutCtx(t.timeout), buf)
	return n, classifyErr(err)
}

// WriteRead sends cmd and waits for one response packet. On a device stall
// it is retried exactly once, per the propagation policy that transport
// errors are retried once at the probe layer.
func (t *Transport) WriteRead(cmd []byte) ([]byte, error) {
	resp, err := t.writeReadOnce(cmd)
	if err != nil {
		var te *Error
		if errors.As(err, &te) && te.Kind == ErrIO {
			t.log.WithError(err).Debug("retrying stalled transfer")
			resp, err = t.writeReadOnce(cmd)
		}
	}
	return resp, err
}

func (t *Transport) writeReadOnce(cmd []byte) ([]byte, error) {
	if err := t.write(cmd); err != nil {
		return nil, err
	}
	buf := make([]byte, t.packetSize)
	n, err := t.read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// Reset power-cycles the USB device handle.
func (t *Transport) Reset() error {
	if t.dev == nil {
		return &Error{Kind: ErrDeviceGone}
	}
	if err := t.dev.Reset(); err != nil {
		return &Error{Kind: ErrIO, Err: err}
	}
	return nil
}

// Close releases USB resources. Safe to call more than once.
func (t *Transport) Close() error {
	if t.intf != nil {
		t.intf.Close()
		t.intf = nil
	}
	if t.dev != nil {
		t.dev.Close()
		t.dev = nil
	}
	if t.ctx != nil {
		t.ctx.Close()
		t.ctx = nil
	}
	return nil
}

func timeoutCtx(d time.Duration) context.Context {
	ctx, _ := context.WithTimeout(context.Background(), d) //nolint:lostcancel // endpoint call is synchronous and returns before this would matter
	return ctx
}

func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gousb.TransferTimedOut) {
		return &Error{Kind: ErrTimeout, Err: err}
	}
	return &Error{Kind: ErrIO, Err: err}
}
