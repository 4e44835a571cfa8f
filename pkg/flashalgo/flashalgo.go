// Package flashalgo assembles a target.RawFlashAlgorithm into a position-
// independent FlashAlgorithm ready to load into target RAM (C8): it
// prepends the fixed header, searches for a stack size that leaves room for
// at least one page buffer, and relocates every entry point against the
// resulting load address.
//
// Directly grounded on original_source/probe-rs's
// config/flash_algorithm.rs: RawFlashAlgorithm::assemble, same header
// constant, same stack-size search loop and double-buffer-if-fits logic.
// Unlike the Rust source (which silently proceeds with whatever offset the
// search loop last computed, even an invalid one), this assembler fails
// with NotEnoughRAM when no stack size leaves room for the header, the
// instructions, and at least one page buffer — the original's omission is
// a bug, not a design choice, and Open Question §9 resolves it this way.
package flashalgo

import "fmt"

// flashBlobHeaderWords is the fixed prologue/epilogue trampoline every
// assembled algorithm is prefixed with, identical to probe-rs's
// FLASH_BLOB_HEADER.
var flashBlobHeaderWords = []uint32{
	0xE00ABE00,
	0x062D780D,
	0x24084068,
	0xD3000040,
	0x1E644058,
	0x1C49D1FA,
	0x2A001E52,
	0x04770D1F,
}

const (
	flashBlobHeaderSize   = uint32(len(flashBlobHeaderWords)) * 4 // 32 bytes
	stackSize             = 512
	stackDecrement        = 64
)

// RawAlgorithm is the subset of target.RawFlashAlgorithm this package
// needs; kept separate from pkg/target to avoid a dependency cycle (target
// does not need to know how algorithms get assembled).
type RawAlgorithm struct {
	Name              string
	Instructions      []uint32
	PCInit            *uint32
	PCUninit          *uint32
	PCProgramPage     uint32
	PCEraseSector     uint32
	PCEraseAll        *uint32
	DataSectionOffset uint32
}

// RAMRegion is the subset of target.MemoryRegion this package needs for a
// RAM region: a half-open [Start, End) range.
type RAMRegion struct {
	Start uint32
	End   uint32
}

func (r RAMRegion) length() uint32 { return r.End - r.Start }

// FlashRegion is the subset of target.MemoryRegion needed for a flash
// region: only PageSize matters to the assembler.
type FlashRegion struct {
	PageSize uint32
}

// Algorithm is the fully relocated, ready-to-load result.
type Algorithm struct {
	Name          string
	LoadAddress   uint32
	Instructions  []uint32
	PCInit        *uint32
	PCUninit      *uint32
	PCProgramPage uint32
	PCEraseSector uint32
	PCEraseAll    *uint32
	StaticBase    uint32
	BeginStack    uint32
	BeginData     uint32
	PageBuffers   []uint32
}

// Error reports an assembly failure.
type Error struct {
	Kind string // "not-enough-ram"
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("flashalgo: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("flashalgo: %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Assemble lays out raw's instructions in ram, sized against flash's page
// size, and relocates every entry point.
func Assemble(raw RawAlgorithm, ram RAMRegion, flash FlashRegion) (*Algorithm, error) {
	instructions := make([]uint32, 0, len(flashBlobHeaderWords)+len(raw.Instructions))
	instructions = append(instructions, flashBlobHeaderWords...)
	instructions = append(instructions, raw.Instructions...)

	codeBytes := uint32(len(instructions)) * 4
	ramLen := ram.length()

	var (
		addrStack uint32
		addrLoad  uint32
		addrData  uint32
		offset    uint32
		fitted    bool
	)

	for i := uint32(0); i < stackSize/stackDecrement; i++ {
		offset = stackSize - stackDecrement*i
		addrStack = ram.Start + offset
		addrLoad = addrStack
		offset += codeBytes

		addrData = ram.Start + offset
		offset += flash.PageSize

		if offset <= ramLen {
			fitted = true
			break
		}
	}

	if !fitted {
		return nil, &Error{Kind: "not-enough-ram", Err: fmt.Errorf(
			"no stack size leaves room for %d-byte header+code plus a %d-byte page buffer in a %d-byte RAM region",
			codeBytes, flash.PageSize, ramLen)}
	}

	addrData2 := ram.Start + offset
	offset += flash.PageSize

	pageBuffers := []uint32{addrData}
	if offset <= ramLen {
		pageBuffers = append(pageBuffers, addrData2)
	}

	codeStart := addrLoad + flashBlobHeaderSize

	reloc := func(pc uint32) uint32 { return codeStart + pc }
	relocOpt := func(pc *uint32) *uint32 {
		if pc == nil {
			return nil
		}
		v := reloc(*pc)
		return &v
	}

	return &Algorithm{
		Name:          raw.Name,
		LoadAddress:   addrLoad,
		Instructions:  instructions,
		PCInit:        relocOpt(raw.PCInit),
		PCUninit:      relocOpt(raw.PCUninit),
		PCProgramPage: reloc(raw.PCProgramPage),
		PCEraseSector: reloc(raw.PCEraseSector),
		PCEraseAll:    relocOpt(raw.PCEraseAll),
		StaticBase:    codeStart + raw.DataSectionOffset,
		BeginStack:    addrStack,
		BeginData:     pageBuffers[0],
		PageBuffers:   pageBuffers,
	}, nil
}
