// Package jep106 resolves JEDEC JEP106 manufacturer identities as they
// appear in CoreSight PIDR registers: a continuation-byte count plus a
// 7-bit identity code within that continuation bank.
package jep106

import "fmt"

// ID identifies a JEP106 manufacturer bank+code pair, exactly as carried in
// a CoreSight component's PIDR4 (continuation count) and PIDR1/PIDR2
// (identity code) registers.
type ID struct {
	Continuation uint8 // number of 0x7F continuation bytes preceding the code
	Code         uint8 // 7-bit identity code within the continuation bank
}

func (id ID) String() string {
	return fmt.Sprintf("%d:0x%02X", id.Continuation, id.Code)
}

// Manufacturer describes one resolved JEP106 entry.
type Manufacturer struct {
	ID           ID
	Name         string
	Abbreviation string
}

// manufacturers is a curated subset of the JEP106 registry scoped to vendors
// that ship ARM Cortex-M silicon with CoreSight debug components.
var manufacturers = map[ID]Manufacturer{
	{Continuation: 0, Code: 0x20}: {Name: "STMicroelectronics", Abbreviation: "STM"},
	{Continuation: 0, Code: 0x1F}: {Name: "Atmel/Microchip", Abbreviation: "Atmel"},
	{Continuation: 0, Code: 0x17}: {Name: "Texas Instruments", Abbreviation: "TI"},
	{Continuation: 1, Code: 0x0E}: {Name: "Freescale/NXP", Abbreviation: "NXP"},
	{Continuation: 2, Code: 0x44}: {Name: "Nordic Semiconductor", Abbreviation: "Nordic"},
	{Continuation: 4, Code: 0x3B}: {Name: "ARM", Abbreviation: "ARM"},
	{Continuation: 5, Code: 0x37}: {Name: "Espressif", Abbreviation: "Espressif"},
	{Continuation: 9, Code: 0x13}: {Name: "Raspberry Pi", Abbreviation: "RPi"},
	{Continuation: 6, Code: 0x0E}: {Name: "Microchip", Abbreviation: "Microchip"},
}

// Lookup returns manufacturer info for a JEP106 (continuation, code) pair.
// An unknown pair still returns a usable Manufacturer with a synthesized
// name, and ok is false.
func Lookup(id ID) (Manufacturer, bool) {
	m, ok := manufacturers[id]
	if !ok {
		return Manufacturer{
			ID:           id,
			Name:         fmt.Sprintf("Unknown (%s)", id),
			Abbreviation: "Unknown",
		}, false
	}
	m.ID = id
	return m, true
}

// ParsePIDR extracts the JEP106 ID and 12-bit part number from the
// CoreSight Peripheral ID registers PIDR0..PIDR2 plus the continuation
// count carried in PIDR4.
//
// Layout (ARM IHI 0031, Peripheral ID registers):
//
//	PIDR0[7:0]   = PartNumber[7:0]
//	PIDR1[3:0]   = PartNumber[11:8]
//	PIDR1[7:4]   = JEP106ID[3:0]
//	PIDR2[2:0]   = JEP106ID[6:4]
//	PIDR2[3]     = JEDEC (always 1 for a valid identity)
//	PIDR4[3:0]   = JEP106 continuation count
func ParsePIDR(pidr0, pidr1, pidr2, pidr4 uint32) (partNumber uint16, id ID) {
	partNumber = uint16(pidr0&0xFF) | uint16(pidr1&0x0F)<<8
	code := uint8(pidr1&0xF0)>>4 | uint8(pidr2&0x07)<<4
	id = ID{
		Continuation: uint8(pidr4 & 0x0F),
		Code:         code,
	}
	return partNumber, id
}
