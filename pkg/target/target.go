// Package target defines the TargetDefinition data model (memory map, core
// kind, flash algorithms) and a Registry that resolves a chip identity or
// name string to one, loading built-in descriptors plus optional YAML files
// (C6).
//
// Grounded in the teacher's pkg/chain/repository.go MemoryRepository:
// RWMutex-guarded map, LoadFiles/LoadDir directory walking, and
// later-registration-overrides-earlier-on-identical-name semantics.
// Generalized from IDCODE->BSDLFile lookup to identifier-string-or-ChipInfo
// -> TargetDefinition lookup, loading YAML via go.yaml.in/yaml/v3 instead of
// BSDL.
package target

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.yaml.in/yaml/v3"

	"github.com/armflash/probe/pkg/coresight"
	"github.com/armflash/probe/pkg/jep106"
)

// CoreKind names the Cortex-M core variant a target implements.
type CoreKind string

const (
	CoreM0  CoreKind = "M0"
	CoreM0Plus CoreKind = "M0+"
	CoreM3  CoreKind = "M3"
	CoreM4  CoreKind = "M4"
	CoreM7  CoreKind = "M7"
	CoreM23 CoreKind = "M23"
	CoreM33 CoreKind = "M33"
)

// RegionKind distinguishes a MemoryRegion's two variants.
type RegionKind string

const (
	RegionFlash RegionKind = "flash"
	RegionRAM   RegionKind = "ram"
)

// MemoryRegion is a tagged union over FlashRegion and RamRegion fields;
// which fields are meaningful is determined by Kind. Unifying both variants
// into one struct (instead of an interface) matches how the YAML
// descriptor flattens a region into one mapping.
type MemoryRegion struct {
	Kind RegionKind `yaml:"kind"`

	Start uint32 `yaml:"start"`
	End   uint32 `yaml:"end"` // half-open: region covers [Start, End)

	// FlashRegion fields.
	SectorSize      uint32 `yaml:"sector_size,omitempty"`
	PageSize        uint32 `yaml:"page_size,omitempty"`
	ErasedByteValue byte   `yaml:"erased_byte_value,omitempty"`
	AlgorithmName   string `yaml:"algorithm,omitempty"`

	// RamRegion fields.
	IsBootMemory bool `yaml:"is_boot_memory,omitempty"`
}

// Contains reports whether addr lies within this region's half-open range.
func (r MemoryRegion) Contains(addr uint32) bool {
	return addr >= r.Start && addr < r.End
}

// Len returns the region's size in bytes.
func (r MemoryRegion) Len() uint32 { return r.End - r.Start }

// RawFlashAlgorithm is position-independent code plus the entry offsets the
// flash loader calls into, owned by its TargetDefinition and consumed by
// the assembler (C8).
type RawFlashAlgorithm struct {
	Name              string   `yaml:"name"`
	Default           bool     `yaml:"default,omitempty"`
	Instructions      []uint32 `yaml:"instructions"`
	PCInit            *uint32  `yaml:"pc_init,omitempty"`
	PCUninit          *uint32  `yaml:"pc_uninit,omitempty"`
	PCProgramPage     uint32   `yaml:"pc_program_page"`
	PCEraseSector     uint32   `yaml:"pc_erase_sector"`
	PCEraseAll        *uint32  `yaml:"pc_erase_all,omitempty"`
	DataSectionOffset uint32   `yaml:"data_section_offset"`
}

// TargetDefinition is the immutable record of one chip: name, core kind,
// memory map, and the flash algorithms available to program it.
type TargetDefinition struct {
	Name       string              `yaml:"name"`
	Core       CoreKind            `yaml:"core"`
	Identity   *ChipIdentity       `yaml:"identity,omitempty"`
	MemoryMap  []MemoryRegion      `yaml:"memory_map"`
	Algorithms []RawFlashAlgorithm `yaml:"flash_algorithms"`
}

// yamlVariant is one member of a family descriptor's variants list: its own
// name, exact chip identity, and memory map, sharing the family's core kind
// and flash_algorithms.
type yamlVariant struct {
	Name         string         `yaml:"name"`
	Part         uint16         `yaml:"part"`
	Manufacturer jep106.ID      `yaml:"manufacturer"`
	MemoryMap    []MemoryRegion `yaml:"memory_map"`
}

// yamlFamily is the on-disk target descriptor shape (spec.md §6): either a
// family name with a variants list sharing one flash_algorithms set, or —
// for a descriptor naming a single chip directly — the flat TargetDefinition
// fields, kept so descriptors predating the variants schema still load.
type yamlFamily struct {
	Name       string              `yaml:"name"`
	Core       CoreKind            `yaml:"core"`
	Variants   []yamlVariant       `yaml:"variants,omitempty"`
	Algorithms []RawFlashAlgorithm `yaml:"flash_algorithms"`

	// Flat form only.
	Identity  *ChipIdentity  `yaml:"identity,omitempty"`
	MemoryMap []MemoryRegion `yaml:"memory_map,omitempty"`
}

// expand produces one TargetDefinition per variant, each carrying the
// family's shared core kind and flash_algorithms. A descriptor with no
// variants list expands to the single flat TargetDefinition it describes.
func (f *yamlFamily) expand() []*TargetDefinition {
	if len(f.Variants) == 0 {
		return []*TargetDefinition{{
			Name:       f.Name,
			Core:       f.Core,
			Identity:   f.Identity,
			MemoryMap:  f.MemoryMap,
			Algorithms: f.Algorithms,
		}}
	}

	defs := make([]*TargetDefinition, 0, len(f.Variants))
	for _, v := range f.Variants {
		identity := ChipIdentity{Manufacturer: v.Manufacturer, Part: v.Part}
		defs = append(defs, &TargetDefinition{
			Name:       v.Name,
			Core:       f.Core,
			Identity:   &identity,
			MemoryMap:  v.MemoryMap,
			Algorithms: f.Algorithms,
		})
	}
	return defs
}

// Algorithm looks up a flash algorithm by name.
func (t *TargetDefinition) Algorithm(name string) (*RawFlashAlgorithm, bool) {
	for i := range t.Algorithms {
		if t.Algorithms[i].Name == name {
			return &t.Algorithms[i], true
		}
	}
	return nil, false
}

// DefaultAlgorithmFor returns the algorithm referenced by region, falling
// back to the algorithm marked default=true when region names none.
func (t *TargetDefinition) DefaultAlgorithmFor(region MemoryRegion) (*RawFlashAlgorithm, bool) {
	if region.AlgorithmName != "" {
		return t.Algorithm(region.AlgorithmName)
	}
	for i := range t.Algorithms {
		if t.Algorithms[i].Default {
			return &t.Algorithms[i], true
		}
	}
	if len(t.Algorithms) == 1 {
		return &t.Algorithms[0], true
	}
	return nil, false
}

// ChipIdentity is the exact-match key extracted from a ROM-table walk:
// manufacturer JEP106 tuple plus part number.
type ChipIdentity struct {
	Manufacturer jep106.ID `yaml:"manufacturer"`
	Part         uint16    `yaml:"part"`
}

// FromChipInfo converts a coresight.ChipInfo into the registry's lookup key.
func FromChipInfo(info coresight.ChipInfo) ChipIdentity {
	return ChipIdentity{Manufacturer: info.Manufacturer, Part: info.Part}
}

// Error reports a registry failure: no target matched the given identifier
// or chip identity.
type Error struct {
	Kind string // "target-not-found"
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("target: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("target: %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Registry resolves an identifier string or ChipIdentity to a
// TargetDefinition. Later registrations override earlier ones under an
// identical name, matching the teacher's repository override semantics.
type Registry struct {
	mu      sync.RWMutex
	byName  map[string]*TargetDefinition
	ordered []*TargetDefinition // preserves registration order for substring scans
}

// NewRegistry returns an empty registry. Callers typically follow with
// RegisterBuiltins and zero or more LoadFile/LoadDir calls.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*TargetDefinition)}
}

// Register adds or overrides a TargetDefinition under its own Name.
func (r *Registry) Register(def *TargetDefinition) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := strings.ToLower(def.Name)
	if _, exists := r.byName[key]; !exists {
		r.ordered = append(r.ordered, def)
	} else {
		for i, d := range r.ordered {
			if strings.EqualFold(d.Name, def.Name) {
				r.ordered[i] = def
				break
			}
		}
	}
	r.byName[key] = def
}

// RegisterBuiltins loads the compiled-in family descriptors.
func (r *Registry) RegisterBuiltins() {
	for _, def := range builtins {
		r.Register(def)
	}
}

// LoadFile parses one YAML target descriptor and registers it. A family
// descriptor (one that carries a variants list) expands to one
// TargetDefinition per variant, each registered under its own name and
// sharing the family's flash_algorithms.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("target: read %s: %w", path, err)
	}
	var fam yamlFamily
	if err := yaml.Unmarshal(data, &fam); err != nil {
		return fmt.Errorf("target: parse %s: %w", path, err)
	}
	for _, def := range fam.expand() {
		r.Register(def)
	}
	return nil
}

// LoadDir recursively loads every .yaml/.yml file under root.
func (r *Registry) LoadDir(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		return r.LoadFile(path)
	})
}

// All returns every registered TargetDefinition in registration order.
func (r *Registry) All() []*TargetDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*TargetDefinition, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// LookupByName finds a target whose name contains query as a
// case-insensitive substring. The first registration-order match wins.
func (r *Registry) LookupByName(query string) (*TargetDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	q := strings.ToLower(query)
	for _, def := range r.ordered {
		if strings.Contains(strings.ToLower(def.Name), q) {
			return def, nil
		}
	}
	return nil, &Error{Kind: "target-not-found", Err: fmt.Errorf("no target matches %q", query)}
}

// LookupByIdentity finds a target whose Identity exactly matches id.
func (r *Registry) LookupByIdentity(id ChipIdentity) (*TargetDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, def := range r.ordered {
		if def.Identity != nil && *def.Identity == id {
			return def, nil
		}
	}
	return nil, &Error{Kind: "target-not-found", Err: fmt.Errorf("no target matches chip identity %+v", id)}
}
