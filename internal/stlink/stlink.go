package stlink

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/armflash/probe/internal/usbtransport"
	"github.com/armflash/probe/pkg/probe"
)

// Adapter implements probe.Probe for an ST-Link v2/v2-1/v3 device.
type Adapter struct {
	transport  *usbtransport.Transport
	log        *logrus.Entry
	hwVersion  uint8
	jtagVersion uint8
	protocol   probe.WireProtocol
}

// Open claims the device, enters idle mode, and validates firmware version.
// Per §4.2/S4, a firmware too old to speak the modern JTAG_COMMAND protocol
// fails here, before any DAP transaction is issued.
func Open(info usbtransport.Info) (*Adapter, error) {
	t, err := usbtransport.Open(info)
	if err != nil {
		return nil, err
	}
	t.SetTimeout(timeout)

	a := &Adapter{transport: t, log: logrus.WithField("component", "stlink")}
	if err := a.init(); err != nil {
		t.Close()
		return nil, err
	}
	return a, nil
}

func (a *Adapter) init() error {
	a.log.Debug("initializing ST-Link")
	if err := a.enterIdle(); err != nil {
		if err := a.transport.Reset(); err != nil {
			return err
		}
		if err := a.enterIdle(); err != nil {
			return err
		}
	}

	if _, _, err := a.getVersion(); err != nil {
		return err
	}

	_, err := a.GetTargetVoltage()
	return err
}

// request sends cmd and returns the response, left-padded/truncated is not
// performed: callers index only the bytes they need.
func (a *Adapter) request(cmd []byte) ([]byte, error) {
	return a.transport.WriteRead(cmd)
}

// checkStatus validates the 2-byte status response most JTAG_COMMAND
// sub-commands return, mirroring STLink::check_status in the original
// implementation.
func checkStatus(resp []byte) error {
	if len(resp) < 1 {
		return fmt.Errorf("stlink: empty status response")
	}
	if resp[0] != statusJTAGOK {
		return fmt.Errorf("stlink: command failed, status=0x%02X", resp[0])
	}
	return nil
}

func (a *Adapter) getCurrentMode() (Mode, error) {
	buf, err := a.request([]byte{cmdGetCurrentMode})
	if err != nil {
		return 0, err
	}
	if len(buf) < 1 {
		return 0, fmt.Errorf("stlink: empty GET_CURRENT_MODE response")
	}
	switch buf[0] {
	case 0:
		return ModeDFU, nil
	case 1:
		return ModeMassStorage, nil
	case 2:
		return ModeJTAG, nil
	case 3:
		return ModeSWIM, nil
	default:
		return 0, &probe.Error{Kind: probe.ErrUnknownMode}
	}
}

func (a *Adapter) enterIdle() error {
	mode, err := a.getCurrentMode()
	if err != nil {
		return err
	}
	switch mode {
	case ModeDFU:
		_, err := a.request([]byte{cmdDFUCommand, dfuExit})
		return err
	case ModeSWIM:
		_, err := a.request([]byte{cmdSWIMCommand, swimExit})
		return err
	default:
		return nil
	}
}

// getVersion reads GET_VERSION (and GET_VERSION_EXT on hw>=3), gating on
// the minimum firmware versions exactly as the original implementation
// does: jtagVersion==0 is "not supported at all", hw<3 && jtagVersion<24
// is outdated firmware.
func (a *Adapter) getVersion() (hw, jtag uint8, err error) {
	buf, err := a.request([]byte{cmdGetVersion})
	if err != nil {
		return 0, 0, err
	}
	if len(buf) < 2 {
		return 0, 0, fmt.Errorf("stlink: short GET_VERSION response")
	}
	version := binary.BigEndian.Uint16(buf[0:2])
	a.hwVersion = uint8(version>>12) & 0x0F
	a.jtagVersion = uint8(version>>6) & 0x3F

	if a.hwVersion >= 3 {
		extBuf, err := a.request([]byte{cmdGetVersionExt})
		if err != nil {
			return 0, 0, err
		}
		if len(extBuf) < 3 {
			return 0, 0, fmt.Errorf("stlink: short GET_VERSION_EXT response")
		}
		a.jtagVersion = extBuf[2]
	}

	if a.jtagVersion == 0 {
		return 0, 0, &probe.Error{Kind: probe.ErrUnknownMode, Err: fmt.Errorf("JTAG not supported on this probe")}
	}
	if a.hwVersion < 3 && a.jtagVersion < minJTAGVersion {
		return 0, 0, &probe.Error{Kind: probe.ErrFirmwareOutdated, Err: fmt.Errorf("JTAG firmware version %d < %d", a.jtagVersion, minJTAGVersion)}
	}
	return a.hwVersion, a.jtagVersion, nil
}

// GetTargetVoltage reads the target supply voltage. Division by zero in the
// ADC readback (seen on some clone probes) is reported, not panicked.
func (a *Adapter) GetTargetVoltage() (float32, error) {
	buf, err := a.request([]byte{cmdGetTargetVolt})
	if err != nil {
		return 0, err
	}
	if len(buf) < 8 {
		return 0, fmt.Errorf("stlink: short GET_TARGET_VOLTAGE response")
	}
	a0 := float32(binary.LittleEndian.Uint32(buf[0:4]))
	a1 := float32(binary.LittleEndian.Uint32(buf[4:8]))
	if a0 == 0 {
		return 0, &probe.Error{Kind: probe.ErrVoltageDivisionByZero}
	}
	return 2.0 * a1 * 1.2 / a0, nil
}

// Attach enters JTAG_ENTER2 with SWD (or JTAG) selected and powers up the
// debug and system domains via the DP CTRL/STAT register.
func (a *Adapter) Attach(ctx context.Context, wp probe.WireProtocol) (probe.WireProtocol, error) {
	if err := a.enterIdle(); err != nil {
		return 0, err
	}

	param := byte(jtagEnterSWDNoReset)
	proto := probe.ProtocolSWD
	if wp == probe.ProtocolJTAG {
		param = jtagEnterJTAGNoReset
		proto = probe.ProtocolJTAG
	}

	resp, err := a.request([]byte{cmdJTAGCommand, jtagEnter2, param, 0})
	if err != nil {
		return 0, err
	}
	if err := checkStatus(resp); err != nil {
		return 0, err
	}

	const ctrlStatAddr = 0x04
	const cdbgPwrUpReq = 1 << 28
	const csysPwrUpReq = 1 << 30
	if err := a.WriteDAPRegister(probe.DPPort, ctrlStatAddr, cdbgPwrUpReq|csysPwrUpReq); err != nil {
		return 0, err
	}

	a.protocol = proto
	return proto, nil
}

// Detach re-enters idle mode.
func (a *Adapter) Detach() error {
	return a.enterIdle()
}

// TargetReset pulses nRESET.
func (a *Adapter) TargetReset() error {
	resp, err := a.request([]byte{cmdJTAGCommand, jtagDriveNRST, nrstPulse})
	if err != nil {
		return err
	}
	return checkStatus(resp)
}

// ReadDAPRegister reads a DP or AP register. Writes (and therefore reads,
// by the same gate in the original implementation) to a DP register address
// with any of bits [7:4] set are rejected with BlanksNotAllowedOnDPRegister.
func (a *Adapter) ReadDAPRegister(port probe.Port, addr uint16) (uint32, error) {
	if !dpAddrAllowed(port, addr) {
		return 0, &probe.Error{Kind: probe.ErrBlanksNotAllowedOnDPRegister}
	}
	portField := stlinkPortField(port)
	cmd := []byte{
		cmdJTAGCommand, jtagReadDAPReg,
		byte(portField), byte(portField >> 8),
		byte(addr), byte(addr >> 8),
	}
	buf, err := a.request(cmd)
	if err != nil {
		return 0, err
	}
	if len(buf) < 8 {
		return 0, fmt.Errorf("stlink: short JTAG_READ_DAP_REG response")
	}
	return binary.LittleEndian.Uint32(buf[4:8]), nil
}

// WriteDAPRegister writes a DP or AP register.
func (a *Adapter) WriteDAPRegister(port probe.Port, addr uint16, value uint32) error {
	if !dpAddrAllowed(port, addr) {
		return &probe.Error{Kind: probe.ErrBlanksNotAllowedOnDPRegister}
	}
	portField := stlinkPortField(port)
	cmd := make([]byte, 0, 10)
	cmd = append(cmd, cmdJTAGCommand, jtagWriteDAPReg,
		byte(portField), byte(portField>>8),
		byte(addr), byte(addr>>8))
	valBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(valBuf, value)
	cmd = append(cmd, valBuf...)
	resp, err := a.request(cmd)
	if err != nil {
		return err
	}
	return checkStatus(resp)
}

// ReadBlock/WriteBlock: ST-Link's vendor protocol lacks a native block
// transfer for arbitrary AP registers, so this driver issues one
// JTAG_READ_DAP_REG/JTAG_WRITE_DAP_REG per word. The memory-AP layer is the
// one that amortizes this via TAR auto-increment addressing, not raw
// packet count.
func (a *Adapter) ReadBlock(port probe.Port, addr uint16, values []uint32) error {
	for i := range values {
		v, err := a.ReadDAPRegister(port, addr)
		if err != nil {
			return err
		}
		values[i] = v
	}
	return nil
}

func (a *Adapter) WriteBlock(port probe.Port, addr uint16, values []uint32) error {
	for _, v := range values {
		if err := a.WriteDAPRegister(port, addr, v); err != nil {
			return err
		}
	}
	return nil
}

// NrfRecover is not supported on ST-Link: the vendor protocol exposes no
// CTRL-AP mass-erase primitive, and Nordic's recovery sequence is defined
// only for DAPLink-class probes.
func (a *Adapter) NrfRecover() error {
	return &probe.Error{Kind: probe.ErrNrfRecoverUnsupported, Err: fmt.Errorf("ST-Link cannot perform nRF recover")}
}

// OpenAP/CloseAP exercise the multi-AP JTAG commands gated on firmware >=28.
func (a *Adapter) OpenAP(apsel uint8) error {
	if a.jtagVersion < minJTAGVersionMultiAP {
		return &probe.Error{Kind: probe.ErrMultiAPNotSupported}
	}
	resp, err := a.request([]byte{cmdJTAGCommand, jtagInitAP, apsel, jtagAPNoCore})
	if err != nil {
		return err
	}
	return checkStatus(resp)
}

func (a *Adapter) CloseAP(apsel uint8) error {
	if a.jtagVersion < minJTAGVersionMultiAP {
		return &probe.Error{Kind: probe.ErrMultiAPNotSupported}
	}
	resp, err := a.request([]byte{cmdJTAGCommand, jtagCloseAPDBG, apsel})
	if err != nil {
		return err
	}
	return checkStatus(resp)
}

// Close releases the underlying USB transport, re-entering idle mode first
// on a best-effort basis.
func (a *Adapter) Close() error {
	_ = a.enterIdle()
	return a.transport.Close()
}

func dpAddrAllowed(port probe.Port, addr uint16) bool {
	return (addr&0xF0) == 0 || port.IsAccessPort
}

func stlinkPortField(port probe.Port) uint16 {
	if !port.IsAccessPort {
		return 0xFFFF
	}
	return uint16(port.Number)
}

var _ probe.Probe = (*Adapter)(nil)
