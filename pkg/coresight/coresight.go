// Package coresight walks a CoreSight ROM table to identify the attached
// chip (C5): it follows ROM-table entries from the base the MEM-AP reports,
// reads the first present component's Peripheral ID registers, and parses
// the JEP106 manufacturer and part number out of them.
//
// Grounded in the teacher's pkg/idcode (JEP106 table + ParseIDCode),
// generalized from IEEE 1149.1 IDCODE parsing to CoreSight PIDR parsing:
// the manufacturer continuation+code is spread across PIDR4/PIDR1/PIDR2 per
// the ARM ADI spec instead of packed into one IEEE 1149.1 word.
package coresight

import (
	"fmt"

	"github.com/armflash/probe/pkg/jep106"
	"github.com/armflash/probe/pkg/memap"
)

// Peripheral/Component ID register offsets, relative to a component's base
// address (ARM IHI 0031, table B2-4).
const (
	offPIDR4 = 0xFD0
	offPIDR0 = 0xFE0
	offPIDR1 = 0xFE4
	offPIDR2 = 0xFE8
	offPIDR3 = 0xFEC
	offCIDR0 = 0xFF0
)

const romTableEntryPresent = 0x1

// maxEntries bounds the ROM-table walk against a misprogrammed or
// corrupted table that never presents a terminating zero entry.
const maxEntries = 256

// ChipInfo is the identity extracted from a target's ROM table: the
// manufacturer JEP106 tuple, the part number, and the ROM table's own base
// address (kept for diagnostics and for registries keyed on exact layout).
type ChipInfo struct {
	Manufacturer   jep106.ID
	Part           uint16
	ROMTableBase   uint32
	ComponentBase  uint32
}

// Error reports a ROM-table walk failure. Kind "no-chip-detected" covers an
// unreadable or empty table; session.Attach reports it under its own
// "no-chip-detected" kind.
type Error struct {
	Kind string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("coresight: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("coresight: %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Identify walks the ROM table at base via mem, returning the first present
// component's identity. base is normally the MEM-AP's BASE register value
// (mem.Base()) with its format bits masked off.
func Identify(mem *memap.AP, base uint32) (ChipInfo, error) {
	componentBase, err := firstPresentComponent(mem, base)
	if err != nil {
		return ChipInfo{}, err
	}

	pidr0, err := mem.ReadWord32(componentBase + offPIDR0)
	if err != nil {
		return ChipInfo{}, &Error{Kind: "no-chip-detected", Err: err}
	}
	pidr1, err := mem.ReadWord32(componentBase + offPIDR1)
	if err != nil {
		return ChipInfo{}, &Error{Kind: "no-chip-detected", Err: err}
	}
	pidr2, err := mem.ReadWord32(componentBase + offPIDR2)
	if err != nil {
		return ChipInfo{}, &Error{Kind: "no-chip-detected", Err: err}
	}
	pidr4, err := mem.ReadWord32(componentBase + offPIDR4)
	if err != nil {
		return ChipInfo{}, &Error{Kind: "no-chip-detected", Err: err}
	}

	part, mfr := jep106.ParsePIDR(pidr0, pidr1, pidr2, pidr4)
	return ChipInfo{
		Manufacturer:  mfr,
		Part:          part,
		ROMTableBase:  base,
		ComponentBase: componentBase,
	}, nil
}

// firstPresentComponent walks 32-bit ROM-table entries starting at base
// until it finds one with the PRESENT bit set, or runs out of entries.
func firstPresentComponent(mem *memap.AP, base uint32) (uint32, error) {
	for i := 0; i < maxEntries; i++ {
		entry, err := mem.ReadWord32(base + uint32(i*4))
		if err != nil {
			return 0, &Error{Kind: "no-chip-detected", Err: fmt.Errorf("reading ROM table entry %d: %w", i, err)}
		}
		if entry == 0 {
			break
		}
		if entry&romTableEntryPresent == 0 {
			continue
		}
		offset := int32(entry & 0xFFFFF000)
		return uint32(int64(base) + int64(offset)), nil
	}
	return 0, &Error{Kind: "no-chip-detected", Err: fmt.Errorf("ROM table at 0x%08X has no present component", base)}
}
