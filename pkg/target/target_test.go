package target_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/armflash/probe/pkg/jep106"
	"github.com/armflash/probe/pkg/target"
)

func TestLookupByName_SubstringCaseInsensitive(t *testing.T) {
	r := target.NewRegistry()
	r.RegisterBuiltins()

	def, err := r.LookupByName("nrf52832")
	require.NoError(t, err)
	require.Equal(t, "nRF52832_xxAA", def.Name)
}

func TestLookupByIdentity_ExactMatch(t *testing.T) {
	r := target.NewRegistry()
	r.RegisterBuiltins()

	id := target.ChipIdentity{Manufacturer: jep106.ID{Continuation: 2, Code: 0x44}, Part: 0x00AA}
	def, err := r.LookupByIdentity(id)
	require.NoError(t, err)
	require.Equal(t, "nRF52832_xxAA", def.Name)
}

func TestLookupByName_NotFound(t *testing.T) {
	r := target.NewRegistry()
	r.RegisterBuiltins()

	_, err := r.LookupByName("completely-unknown-part")
	require.Error(t, err)
	var terr *target.Error
	require.ErrorAs(t, err, &terr)
	require.Equal(t, "target-not-found", terr.Kind)
}

func TestLoadFile_OverridesBuiltinOnIdenticalName(t *testing.T) {
	r := target.NewRegistry()
	r.RegisterBuiltins()

	dir := t.TempDir()
	path := filepath.Join(dir, "override.yaml")
	yamlContent := `
name: nRF52832_xxAA
core: M4
memory_map:
  - kind: flash
    start: 0
    end: 524288
    sector_size: 4096
    page_size: 4096
    erased_byte_value: 255
    algorithm: custom_algo
flash_algorithms:
  - name: custom_algo
    default: true
    instructions: [1, 2, 3]
    pc_program_page: 32
    pc_erase_sector: 4
    data_section_offset: 4096
`
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0o644))
	require.NoError(t, r.LoadFile(path))

	def, err := r.LookupByName("nrf52832")
	require.NoError(t, err)
	require.Equal(t, 3, len(def.Algorithms[0].Instructions))
}

func TestLoadFile_ExpandsFamilyVariants(t *testing.T) {
	r := target.NewRegistry()

	dir := t.TempDir()
	path := filepath.Join(dir, "family.yaml")
	yamlContent := `
name: STM32F1xx
core: M3
variants:
  - name: STM32F103C8
    part: 0x0410
    manufacturer: {continuation: 0, code: 0x20}
    memory_map:
      - kind: flash
        start: 0
        end: 65536
        sector_size: 1024
        page_size: 1024
        erased_byte_value: 255
        algorithm: stm32_algo
      - kind: ram
        start: 0x20000000
        end: 0x20005000
        is_boot_memory: true
  - name: STM32F103RB
    part: 0x0410
    manufacturer: {continuation: 0, code: 0x20}
    memory_map:
      - kind: flash
        start: 0
        end: 131072
        sector_size: 1024
        page_size: 1024
        erased_byte_value: 255
        algorithm: stm32_algo
      - kind: ram
        start: 0x20000000
        end: 0x20005000
        is_boot_memory: true
flash_algorithms:
  - name: stm32_algo
    default: true
    instructions: [1, 2, 3]
    pc_program_page: 32
    pc_erase_sector: 4
    data_section_offset: 4096
`
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0o644))
	require.NoError(t, r.LoadFile(path))

	defs := r.All()
	require.Len(t, defs, 2)

	small, err := r.LookupByName("STM32F103C8")
	require.NoError(t, err)
	require.Equal(t, target.CoreM3, small.Core)
	require.EqualValues(t, 65536, small.MemoryMap[0].End)
	require.Equal(t, "stm32_algo", small.Algorithms[0].Name)

	big, err := r.LookupByName("STM32F103RB")
	require.NoError(t, err)
	require.EqualValues(t, 131072, big.MemoryMap[0].End)
	// Both variants share the family's one flash_algorithms entry.
	require.Equal(t, small.Algorithms[0].Name, big.Algorithms[0].Name)

	id := target.ChipIdentity{Manufacturer: jep106.ID{Continuation: 0, Code: 0x20}, Part: 0x0410}
	byIdentity, err := r.LookupByIdentity(id)
	require.NoError(t, err)
	require.Equal(t, "STM32F103C8", byIdentity.Name, "first registration-order match wins")
}

func TestDefaultAlgorithmFor_FallsBackToDefaultFlag(t *testing.T) {
	r := target.NewRegistry()
	r.RegisterBuiltins()

	def, err := r.LookupByName("nrf52832")
	require.NoError(t, err)

	region := def.MemoryMap[0]
	region.AlgorithmName = "" // region names no algorithm, so the default=true entry must be used
	algo, ok := def.DefaultAlgorithmFor(region)
	require.True(t, ok)
	require.Equal(t, "nrf52_nvmc", algo.Name)
}
