// Package daplink drives a CMSIS-DAP v1/v2 probe (DAPLink and compatible
// firmware) over the generic usbtransport.Transport, implementing
// probe.Probe by framing DP/AP register access as DAP_Transfer and
// DAP_TransferBlock commands.
package daplink

// CMSIS-DAP command IDs used by this driver. Framing is grounded in the
// teacher's cmsisdap_protocol.go, generalized from JTAG-sequence shifting
// to DAP register transfer.
const (
	cmdInfo        = 0x00
	cmdHostStatus  = 0x01
	cmdConnect     = 0x02
	cmdDisconnect  = 0x03
	cmdTransferCfg = 0x04
	cmdTransfer    = 0x05
	cmdTransferBlk = 0x06
	cmdWriteAbort  = 0x08
	cmdResetTarget = 0x0A
	cmdSWJPins     = 0x10
	cmdSWJClock    = 0x11
	cmdSWJSequence = 0x12
)

// DAP_Info info IDs.
const (
	infoVendorID    = 0x01
	infoProductID   = 0x02
	infoSerialNum   = 0x03
	infoFirmwareVer = 0x04
)

// Connection ports, per DAP_Connect.
const (
	portDefault = 0
	portSWD     = 1
	portJTAG    = 2
)

const statusOK = 0x00

// DAP_Transfer request-byte fields (request byte precedes each transfer).
const (
	transferAPnDP    = 1 << 0 // 0 = DP, 1 = AP
	transferRnW      = 1 << 1 // 0 = write, 1 = read
	transferA2       = 1 << 2
	transferA3       = 1 << 3
	transferMatchVal = 1 << 4
	transferMatchMsk = 1 << 5
)

// SWJ pin bits for nRESET control via DAP_SWJ_Pins.
const (
	pinSWCLKTCK = 1 << 0
	pinSWDIOTMS = 1 << 1
	pinTDI      = 1 << 2
	pinTDO      = 1 << 3
	pinnTRST    = 1 << 5
	pinnRESET   = 1 << 7
)
