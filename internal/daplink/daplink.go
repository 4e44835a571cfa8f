package daplink

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/armflash/probe/internal/usbtransport"
	"github.com/armflash/probe/pkg/probe"
)

// Adapter implements probe.Probe for a CMSIS-DAP v1/v2 device. Grounded on
// the teacher's CMSISDAPAdapter (pkg/jtag/cmsisdap.go): same query-info /
// connect sequencing, same single-outstanding-transfer mutex, generalized
// from JTAG IR/DR shifting to DP/AP register transfer.
type Adapter struct {
	transport *usbtransport.Transport
	mu        sync.Mutex
	log       *logrus.Entry

	vendor, product, serial, firmware string
}

// Open claims the device and queries its identity, but does not attach.
func Open(info usbtransport.Info) (*Adapter, error) {
	t, err := usbtransport.Open(info)
	if err != nil {
		return nil, err
	}
	a := &Adapter{transport: t, log: logrus.WithField("component", "daplink")}
	if err := a.queryInfo(); err != nil {
		t.Close()
		return nil, err
	}
	return a, nil
}

func (a *Adapter) queryInfo() error {
	var err error
	if a.vendor, err = a.infoString(infoVendorID); err != nil {
		return err
	}
	if a.product, err = a.infoString(infoProductID); err != nil {
		return err
	}
	if a.serial, err = a.infoString(infoSerialNum); err != nil {
		return err
	}
	if a.firmware, err = a.infoString(infoFirmwareVer); err != nil {
		return err
	}
	return nil
}

func (a *Adapter) infoString(id byte) (string, error) {
	resp, err := a.transport.WriteRead([]byte{cmdInfo, id})
	if err != nil {
		return "", err
	}
	if len(resp) < 2 || resp[0] != cmdInfo {
		return "", fmt.Errorf("daplink: malformed DAP_Info response")
	}
	n := int(resp[1])
	if len(resp) < 2+n {
		return "", fmt.Errorf("daplink: truncated DAP_Info string")
	}
	return string(resp[2 : 2+n]), nil
}

// Attach connects to the target over the requested wire protocol (SWD by
// default) with DAP_Connect, sets a 1 MHz SWJ clock and issues a line
// reset, mirroring the teacher's connect()+default-speed sequencing. It
// does not write the DP CTRL/STAT register.
func (a *Adapter) Attach(ctx context.Context, wp probe.WireProtocol) (probe.WireProtocol, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	port := byte(portSWD)
	proto := probe.ProtocolSWD
	if wp == probe.ProtocolJTAG {
		port = portJTAG
		proto = probe.ProtocolJTAG
	}

	resp, err := a.transport.WriteRead([]byte{cmdConnect, port})
	if err != nil {
		return 0, err
	}
	if len(resp) < 2 || resp[1] == 0 {
		return 0, &probe.Error{Kind: probe.ErrProtocolMismatch, Err: fmt.Errorf("DAP_Connect refused port %d", port)}
	}

	if _, err := a.transport.WriteRead(append([]byte{cmdSWJClock}, le32(1_000_000)...)); err != nil {
		return 0, err
	}

	if err := a.lineReset(); err != nil {
		return 0, err
	}

	return proto, nil
}

// lineReset issues the SWD line-reset sequence: >=50 SWCLK cycles with
// SWDIO high, per DAP_SWJ_Sequence.
func (a *Adapter) lineReset() error {
	ones := []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
	cmd := append([]byte{cmdSWJSequence, 56}, ones...)
	_, err := a.transport.WriteRead(cmd)
	return err
}

// Detach issues DAP_Disconnect.
func (a *Adapter) Detach() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, err := a.transport.WriteRead([]byte{cmdDisconnect})
	return err
}

// TargetReset pulses nRESET low then high via DAP_SWJ_Pins.
func (a *Adapter) TargetReset() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.drivePin(0, pinnRESET); err != nil {
		return err
	}
	time.Sleep(20 * time.Millisecond)
	return a.drivePin(pinnRESET, pinnRESET)
}

func (a *Adapter) drivePin(value, mask byte) error {
	cmd := []byte{cmdSWJPins, value, mask, 0, 0, 0, 0}
	_, err := a.transport.WriteRead(cmd)
	return err
}

// ReadDAPRegister performs one DAP_Transfer read.
func (a *Adapter) ReadDAPRegister(port probe.Port, addr uint16) (uint32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	req := transferRequestByte(port, addr, true)
	cmd := []byte{cmdTransfer, 0x00, 0x01, req}
	resp, err := a.transport.WriteRead(cmd)
	if err != nil {
		return 0, err
	}
	if err := checkTransferAck(resp); err != nil {
		return 0, err
	}
	if len(resp) < 7 {
		return 0, fmt.Errorf("daplink: short DAP_Transfer read response")
	}
	return binary.LittleEndian.Uint32(resp[3:7]), nil
}

// WriteDAPRegister performs one DAP_Transfer write.
func (a *Adapter) WriteDAPRegister(port probe.Port, addr uint16, value uint32) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	req := transferRequestByte(port, addr, false)
	cmd := make([]byte, 0, 8)
	cmd = append(cmd, cmdTransfer, 0x00, 0x01, req)
	cmd = append(cmd, le32(value)...)
	resp, err := a.transport.WriteRead(cmd)
	if err != nil {
		return err
	}
	return checkTransferAck(resp)
}

// ReadBlock performs one DAP_TransferBlock read of len(values) words from
// the same register address (auto-increment is the AP's responsibility;
// this driver issues one block command per call).
func (a *Adapter) ReadBlock(port probe.Port, addr uint16, values []uint32) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	req := transferRequestByte(port, addr, true)
	cmd := []byte{cmdTransferBlk, 0x00}
	cmd = append(cmd, le16(uint16(len(values)))...)
	cmd = append(cmd, req)
	resp, err := a.transport.WriteRead(cmd)
	if err != nil {
		return err
	}
	if len(resp) < 4 {
		return fmt.Errorf("daplink: short DAP_TransferBlock response")
	}
	if resp[3]&0x07 != 0x01 {
		return fmt.Errorf("daplink: DAP_TransferBlock ack=0x%02X", resp[3])
	}
	data := resp[4:]
	for i := range values {
		if (i+1)*4 > len(data) {
			return fmt.Errorf("daplink: truncated block read data")
		}
		values[i] = binary.LittleEndian.Uint32(data[i*4 : i*4+4])
	}
	return nil
}

// WriteBlock performs one DAP_TransferBlock write.
func (a *Adapter) WriteBlock(port probe.Port, addr uint16, values []uint32) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	req := transferRequestByte(port, addr, false)
	cmd := []byte{cmdTransferBlk, 0x00}
	cmd = append(cmd, le16(uint16(len(values)))...)
	cmd = append(cmd, req)
	for _, v := range values {
		cmd = append(cmd, le32(v)...)
	}
	resp, err := a.transport.WriteRead(cmd)
	if err != nil {
		return err
	}
	if len(resp) < 4 || resp[3]&0x07 != 0x01 {
		return fmt.Errorf("daplink: DAP_TransferBlock write failed")
	}
	return nil
}

// NrfRecover performs the Nordic nRF52/53 mass-erase-via-CTRL-AP unlock
// sequence: write ERASEALL=1 then poll ERASEALLSTATUS, on the CTRL-AP at
// the fixed AP port 1 Nordic silicon reserves for it.
func (a *Adapter) NrfRecover() error {
	const ctrlAPPort = 1
	const eraseAllReg = 0x04
	const eraseAllStatusReg = 0x08

	if err := a.WriteDAPRegister(probe.APPort(ctrlAPPort), eraseAllReg, 1); err != nil {
		return err
	}
	for i := 0; i < 100; i++ {
		v, err := a.ReadDAPRegister(probe.APPort(ctrlAPPort), eraseAllStatusReg)
		if err != nil {
			return err
		}
		if v == 0 {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return fmt.Errorf("daplink: nRF recover timed out")
}

// Close releases the underlying USB transport.
func (a *Adapter) Close() error {
	return a.transport.Close()
}

func transferRequestByte(port probe.Port, addr uint16, read bool) byte {
	var b byte
	if port.IsAccessPort {
		b |= transferAPnDP
	}
	if read {
		b |= transferRnW
	}
	if addr&0x4 != 0 {
		b |= transferA2
	}
	if addr&0x8 != 0 {
		b |= transferA3
	}
	return b
}

func checkTransferAck(resp []byte) error {
	if len(resp) < 3 {
		return fmt.Errorf("daplink: short DAP_Transfer response")
	}
	ack := resp[2] & 0x07
	if ack != 0x01 {
		return fmt.Errorf("daplink: DAP_Transfer ack=0x%02X", ack)
	}
	return nil
}

func le32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func le16(v uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return b
}

var _ probe.Probe = (*Adapter)(nil)
var _ probe.OptionalNrfRecover = (*Adapter)(nil)
