// Package flash implements the flash loader / programming engine (C9) and
// the progress reporter (C10): it partitions incoming fragments by flash
// region, assembles and loads a flash algorithm into target RAM, plans and
// performs sector erases and page programming, and reports progress events
// throughout.
//
// New code with no single teacher analogue; the call-an-algorithm-and-wait-
// for-breakpoint sequencing follows the register-setup order
// original_source/probe-rs's flashing/flasher.rs describes in prose
// (SP/LR/R9/PC then run-to-breakpoint, check R0), adapted onto pkg/core's
// halt/run primitives instead of a borrowed Core reference.
package flash

import (
	"fmt"
	"sort"

	"github.com/armflash/probe/pkg/core"
	"github.com/armflash/probe/pkg/flashalgo"
	"github.com/armflash/probe/pkg/memap"
	"github.com/armflash/probe/pkg/target"
)

// Fragment is one contiguous span of bytes destined for a physical address;
// shares its shape with internal/elfimage.Fragment deliberately so ELF
// extraction output feeds straight into Flash without conversion.
type Fragment struct {
	Address uint32
	Data    []byte
}

// Error reports a flash-engine failure. An algorithm that does not fit in
// RAM is reported by the assembler's own flashalgo.Error ("not-enough-ram"),
// returned as is.
type Error struct {
	Kind string // "algorithm-failed" | "data-outside-flash-regions" | "core-refused-to-halt"
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("flash: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("flash: %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Core register indices for the ARMv7-M/ARMv8-M DCRSR selector.
const (
	regR0 = 0
	regR9 = 9
	regSP = 13
	regLR = 14
	regPC = 15
)

const thumbBit = 1

// Loader drives the flash engine against one attached core/MEM-AP pair and
// the TargetDefinition describing its memory map and algorithms.
type Loader struct {
	core *core.Core
	mem  *memap.AP
	def  *target.TargetDefinition
}

// NewLoader wraps the core and MEM-AP of an attached target.
func NewLoader(c *core.Core, mem *memap.AP, def *target.TargetDefinition) *Loader {
	return &Loader{core: c, mem: mem, def: def}
}

// Flash programs fragments into the target, reporting progress. Regions
// are processed in ascending start-address order; a failure in one region
// aborts the whole call, leaving the core attached for the caller to
// retry.
func (l *Loader) Flash(fragments []Fragment, progress Progress) error {
	if progress == nil {
		progress = NopProgress{}
	}

	flashRegions := l.flashRegionsAscending()
	plans, err := l.buildPlans(fragments, flashRegions)
	if err != nil {
		return err
	}

	totalPages, totalSectors := 0, 0
	var pageSize, sectorSize uint32
	for _, p := range plans {
		totalPages += len(p.pages)
		totalSectors += len(p.sectors)
		pageSize = p.region.PageSize
		sectorSize = p.region.SectorSize
	}
	progress.Report(Event{
		Kind:         EventInitialized,
		TotalPages:   totalPages,
		TotalSectors: totalSectors,
		PageSize:     pageSize,
		SectorSize:   sectorSize,
	})

	for _, plan := range plans {
		if err := l.flashRegion(plan, progress); err != nil {
			return err
		}
	}
	return nil
}

type regionPlan struct {
	region  target.MemoryRegion
	sectors []uint32            // distinct sector-aligned addresses touched
	pages   []uint32            // distinct page-aligned addresses touched, ascending
	pageData map[uint32][]byte // page address -> full page-size content
}

// flashRegionsAscending returns the target's flash regions sorted by start
// address; C9 §3 requires processing regions in ascending order.
func (l *Loader) flashRegionsAscending() []target.MemoryRegion {
	var regions []target.MemoryRegion
	for _, r := range l.def.MemoryMap {
		if r.Kind == target.RegionFlash {
			regions = append(regions, r)
		}
	}
	sort.Slice(regions, func(i, j int) bool { return regions[i].Start < regions[j].Start })
	return regions
}

// buildPlans partitions fragments by the flash region they land in,
// failing if any fragment byte falls outside every region (C9's Extract
// step already drops ELF-sourced data outside all regions, but
// caller-supplied fragments are not guaranteed to have been filtered).
func (l *Loader) buildPlans(fragments []Fragment, regions []target.MemoryRegion) ([]regionPlan, error) {
	plans := make([]regionPlan, len(regions))
	for i, r := range regions {
		plans[i] = regionPlan{region: r, pageData: make(map[uint32][]byte)}
	}

	for _, frag := range fragments {
		for i := range frag.Data {
			addr := frag.Address + uint32(i)
			plan := findPlan(plans, addr)
			if plan == nil {
				return nil, &Error{Kind: "data-outside-flash-regions", Err: fmt.Errorf(
					"byte at address 0x%08X is not covered by any flash region", addr)}
			}
			sectorAddr := alignDown(addr, plan.region.SectorSize)
			if !containsU32(plan.sectors, sectorAddr) {
				plan.sectors = append(plan.sectors, sectorAddr)
			}
			pageAddr := alignDown(addr, plan.region.PageSize)
			page, ok := plan.pageData[pageAddr]
			if !ok {
				page = make([]byte, plan.region.PageSize)
				for j := range page {
					page[j] = plan.region.ErasedByteValue
				}
				plan.pageData[pageAddr] = page
				plan.pages = append(plan.pages, pageAddr)
			}
			page[addr-pageAddr] = frag.Data[i]
		}
	}

	for i := range plans {
		sort.Slice(plans[i].sectors, func(a, b int) bool { return plans[i].sectors[a] < plans[i].sectors[b] })
		sort.Slice(plans[i].pages, func(a, b int) bool { return plans[i].pages[a] < plans[i].pages[b] })
	}

	// Regions with no touched pages are skipped entirely (C9 §2).
	var nonEmpty []regionPlan
	for _, p := range plans {
		if len(p.pages) > 0 {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return nonEmpty, nil
}

func findPlan(plans []regionPlan, addr uint32) *regionPlan {
	for i := range plans {
		if plans[i].region.Contains(addr) {
			return &plans[i]
		}
	}
	return nil
}

func containsU32(xs []uint32, v uint32) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

func alignDown(addr, granularity uint32) uint32 {
	if granularity == 0 {
		return addr
	}
	return addr - addr%granularity
}

// flashRegion loads the region's algorithm, erases every touched sector,
// programs every touched page, then unloads the algorithm.
func (l *Loader) flashRegion(plan regionPlan, progress Progress) error {
	raw, ok := l.def.DefaultAlgorithmFor(plan.region)
	if !ok {
		return &Error{Kind: "algorithm-failed", Err: fmt.Errorf("no flash algorithm for region 0x%08X", plan.region.Start)}
	}

	algo, err := flashalgo.Assemble(toRawAlgorithm(raw), flashalgo.RAMRegion{Start: l.bootRAMStart(), End: l.bootRAMEnd()}, flashalgo.FlashRegion{PageSize: plan.region.PageSize})
	if err != nil {
		return err
	}

	if err := l.core.Halt(); err != nil {
		return &Error{Kind: "core-refused-to-halt", Err: err}
	}
	if err := l.mem.WriteBlock32(algo.LoadAddress, algo.Instructions); err != nil {
		return &Error{Kind: "algorithm-failed", Err: err}
	}

	if algo.PCInit != nil {
		if r0, err := l.call(algo, *algo.PCInit, plan.region.Start, 0, 1, 0); err != nil {
			return err
		} else if r0 != 0 {
			return &Error{Kind: "algorithm-failed", Err: fmt.Errorf("Init returned %d", r0)}
		}
	}

	progress.Report(Event{Kind: EventStartedErasing})
	for _, sector := range plan.sectors {
		if r0, err := l.call(algo, algo.PCEraseSector, sector, 0, 0, 0); err != nil {
			return err
		} else if r0 != 0 {
			return &Error{Kind: "algorithm-failed", Err: fmt.Errorf("EraseSector(0x%08X) returned %d", sector, r0)}
		}
		progress.Report(Event{Kind: EventSectorErased, Address: sector, Size: plan.region.SectorSize})
	}
	progress.Report(Event{Kind: EventFinishedErasing})

	progress.Report(Event{Kind: EventStartedFlashing})
	if err := l.programPages(algo, plan, progress); err != nil {
		return err
	}
	progress.Report(Event{Kind: EventFinishedProgramming})

	if algo.PCUninit != nil {
		if _, err := l.call(algo, *algo.PCUninit, 1, 0, 0, 0); err != nil {
			return err
		}
	}
	return nil
}

// programPages writes and programs every touched page in plan, pipelining
// across algo's two page buffers when double-buffering fits (C9 §4.9.f):
// page N+1's data is written into the other buffer and its ProgramPage call
// started while page N's call is still running on the core, so the next
// page's USB transfer overlaps the current page's flash-write time instead
// of waiting for it. With a single page buffer, pages are programmed
// strictly one at a time, since the one buffer can't be safely overwritten
// until the in-flight call has finished reading it.
func (l *Loader) programPages(algo *flashalgo.Algorithm, plan regionPlan, progress Progress) error {
	if len(algo.PageBuffers) < 2 {
		for _, pageAddr := range plan.pages {
			data := plan.pageData[pageAddr]
			if err := l.mem.WriteBlock32(algo.PageBuffers[0], bytesToWords(data)); err != nil {
				return &Error{Kind: "algorithm-failed", Err: err}
			}
			r0, err := l.call(algo, algo.PCProgramPage, pageAddr, uint32(len(data)), algo.PageBuffers[0], 0)
			if err != nil {
				return err
			}
			if r0 != 0 {
				return &Error{Kind: "algorithm-failed", Err: fmt.Errorf("ProgramPage(0x%08X) returned %d", pageAddr, r0)}
			}
			progress.Report(Event{Kind: EventPageFlashed, Address: pageAddr, Size: uint32(len(data))})
		}
		return nil
	}

	type inflight struct {
		pageAddr uint32
		size     uint32
	}
	var pending *inflight

	for i, pageAddr := range plan.pages {
		data := plan.pageData[pageAddr]
		buf := algo.PageBuffers[i%2]
		if err := l.mem.WriteBlock32(buf, bytesToWords(data)); err != nil {
			return &Error{Kind: "algorithm-failed", Err: err}
		}
		if err := l.startCall(algo, algo.PCProgramPage, pageAddr, uint32(len(data)), buf, 0); err != nil {
			return err
		}

		if pending != nil {
			r0, err := l.finishCall()
			if err != nil {
				return err
			}
			if r0 != 0 {
				return &Error{Kind: "algorithm-failed", Err: fmt.Errorf("ProgramPage(0x%08X) returned %d", pending.pageAddr, r0)}
			}
			progress.Report(Event{Kind: EventPageFlashed, Address: pending.pageAddr, Size: pending.size})
		}
		pending = &inflight{pageAddr: pageAddr, size: uint32(len(data))}
	}

	if pending != nil {
		r0, err := l.finishCall()
		if err != nil {
			return err
		}
		if r0 != 0 {
			return &Error{Kind: "algorithm-failed", Err: fmt.Errorf("ProgramPage(0x%08X) returned %d", pending.pageAddr, r0)}
		}
		progress.Report(Event{Kind: EventPageFlashed, Address: pending.pageAddr, Size: pending.size})
	}
	return nil
}

// call invokes one flash-algorithm entry point, running the core from
// entry to its return breakpoint and reading back R0.
func (l *Loader) call(algo *flashalgo.Algorithm, entry, r0, r1, r2, r3 uint32) (uint32, error) {
	if err := l.startCall(algo, entry, r0, r1, r2, r3); err != nil {
		return 0, err
	}
	return l.finishCall()
}

// startCall writes R0-R3/R9/SP/LR/PC and sets the core running, without
// waiting for it to reach its return breakpoint; pairing with finishCall
// lets the caller interleave other work (writing the next page buffer)
// while this call is in flight.
func (l *Loader) startCall(algo *flashalgo.Algorithm, entry, r0, r1, r2, r3 uint32) error {
	if err := l.core.WriteCoreRegister(regR0, r0); err != nil {
		return &Error{Kind: "algorithm-failed", Err: err}
	}
	if err := l.core.WriteCoreRegister(regR0+1, r1); err != nil {
		return &Error{Kind: "algorithm-failed", Err: err}
	}
	if err := l.core.WriteCoreRegister(regR0+2, r2); err != nil {
		return &Error{Kind: "algorithm-failed", Err: err}
	}
	if err := l.core.WriteCoreRegister(regR0+3, r3); err != nil {
		return &Error{Kind: "algorithm-failed", Err: err}
	}
	if err := l.core.WriteCoreRegister(regR9, algo.StaticBase); err != nil {
		return &Error{Kind: "algorithm-failed", Err: err}
	}
	if err := l.core.WriteCoreRegister(regSP, algo.BeginStack); err != nil {
		return &Error{Kind: "algorithm-failed", Err: err}
	}
	if err := l.core.WriteCoreRegister(regLR, algo.LoadAddress|thumbBit); err != nil {
		return &Error{Kind: "algorithm-failed", Err: err}
	}
	if err := l.core.WriteCoreRegister(regPC, entry|thumbBit); err != nil {
		return &Error{Kind: "algorithm-failed", Err: err}
	}
	if err := l.core.Run(); err != nil {
		return &Error{Kind: "core-refused-to-halt", Err: err}
	}
	return nil
}

// finishCall waits for the call started by startCall to reach its return
// breakpoint and reads back R0.
func (l *Loader) finishCall() (uint32, error) {
	if err := l.core.WaitHalted(); err != nil {
		return 0, &Error{Kind: "core-refused-to-halt", Err: err}
	}
	return l.core.ReadCoreRegister(regR0)
}

// EraseAll mass-erases every flash region whose algorithm exposes an
// EraseAll entry point, reporting StartedErasing and FinishedErasing around
// each region's EraseAll call. It emits no Initialized or SectorErased
// events and loads no page data.
func (l *Loader) EraseAll(progress Progress) error {
	if progress == nil {
		progress = NopProgress{}
	}

	for _, region := range l.flashRegionsAscending() {
		raw, ok := l.def.DefaultAlgorithmFor(region)
		if !ok {
			return &Error{Kind: "algorithm-failed", Err: fmt.Errorf("no flash algorithm for region 0x%08X", region.Start)}
		}
		if raw.PCEraseAll == nil {
			continue
		}

		algo, err := flashalgo.Assemble(toRawAlgorithm(raw), flashalgo.RAMRegion{Start: l.bootRAMStart(), End: l.bootRAMEnd()}, flashalgo.FlashRegion{PageSize: region.PageSize})
		if err != nil {
			return err
		}

		if err := l.core.Halt(); err != nil {
			return &Error{Kind: "core-refused-to-halt", Err: err}
		}
		if err := l.mem.WriteBlock32(algo.LoadAddress, algo.Instructions); err != nil {
			return &Error{Kind: "algorithm-failed", Err: err}
		}

		if algo.PCInit != nil {
			if r0, err := l.call(algo, *algo.PCInit, region.Start, 0, 1, 0); err != nil {
				return err
			} else if r0 != 0 {
				return &Error{Kind: "algorithm-failed", Err: fmt.Errorf("Init returned %d", r0)}
			}
		}

		progress.Report(Event{Kind: EventStartedErasing})
		if r0, err := l.call(algo, *algo.PCEraseAll, 0, 0, 0, 0); err != nil {
			return err
		} else if r0 != 0 {
			return &Error{Kind: "algorithm-failed", Err: fmt.Errorf("EraseAll returned %d", r0)}
		}
		progress.Report(Event{Kind: EventFinishedErasing})

		if algo.PCUninit != nil {
			if _, err := l.call(algo, *algo.PCUninit, 1, 0, 0, 0); err != nil {
				return err
			}
		}
	}
	return nil
}

// bootRAMStart/bootRAMEnd locate the RAM region the algorithm loads into:
// the region flagged IsBootMemory, or the first RAM region if none is
// flagged.
func (l *Loader) bootRAMStart() uint32 { return l.bootRAM().Start }
func (l *Loader) bootRAMEnd() uint32   { return l.bootRAM().End }

func (l *Loader) bootRAM() target.MemoryRegion {
	var first target.MemoryRegion
	haveFirst := false
	for _, r := range l.def.MemoryMap {
		if r.Kind != target.RegionRAM {
			continue
		}
		if !haveFirst {
			first = r
			haveFirst = true
		}
		if r.IsBootMemory {
			return r
		}
	}
	return first
}

func toRawAlgorithm(r *target.RawFlashAlgorithm) flashalgo.RawAlgorithm {
	return flashalgo.RawAlgorithm{
		Name:              r.Name,
		Instructions:      r.Instructions,
		PCInit:            r.PCInit,
		PCUninit:          r.PCUninit,
		PCProgramPage:     r.PCProgramPage,
		PCEraseSector:     r.PCEraseSector,
		PCEraseAll:        r.PCEraseAll,
		DataSectionOffset: r.DataSectionOffset,
	}
}

func bytesToWords(data []byte) []uint32 {
	words := make([]uint32, (len(data)+3)/4)
	for i, b := range data {
		words[i/4] |= uint32(b) << (8 * (i % 4))
	}
	return words
}
