package target

import "github.com/armflash/probe/pkg/jep106"

// builtins are the compiled-in family descriptors available before any
// YAML override is loaded. They stand in for the larger vendor-supplied
// descriptor set a real deployment would carry; the nRF52832 entry is
// sized to match the documented Nordic identity and flash geometry.
var builtins = []*TargetDefinition{
	{
		Name: "nRF52832_xxAA",
		Core: CoreM4,
		Identity: &ChipIdentity{
			Manufacturer: jep106.ID{Continuation: 2, Code: 0x44},
			Part:         0x00AA,
		},
		MemoryMap: []MemoryRegion{
			{
				Kind:            RegionFlash,
				Start:           0x00000000,
				End:             0x00080000,
				SectorSize:      4096,
				PageSize:        4096,
				ErasedByteValue: 0xFF,
				AlgorithmName:   "nrf52_nvmc",
			},
			{
				Kind:         RegionRAM,
				Start:        0x20000000,
				End:          0x20010000,
				IsBootMemory: true,
			},
		},
		Algorithms: []RawFlashAlgorithm{
			{
				Name:              "nrf52_nvmc",
				Default:           true,
				Instructions:      nrf52NVMCInstructions,
				PCProgramPage:     0x20,
				PCEraseSector:     0x4,
				DataSectionOffset: 0x1000,
			},
		},
	},
	{
		Name: "STM32F103C8",
		Core: CoreM3,
		Identity: &ChipIdentity{
			Manufacturer: jep106.ID{Continuation: 0, Code: 0x20},
			Part:         0x0410,
		},
		MemoryMap: []MemoryRegion{
			{
				Kind:            RegionFlash,
				Start:           0x08000000,
				End:             0x08010000,
				SectorSize:      1024,
				PageSize:        1024,
				ErasedByteValue: 0xFF,
				AlgorithmName:   "stm32f1_flash",
			},
			{
				Kind:  RegionRAM,
				Start: 0x20000000,
				End:   0x20005000,
			},
		},
		Algorithms: []RawFlashAlgorithm{
			{
				Name:              "stm32f1_flash",
				Default:           true,
				Instructions:      stm32f1FlashInstructions,
				PCProgramPage:     0x18,
				PCEraseSector:     0x4,
				DataSectionOffset: 0x800,
			},
		},
	},
}

// nrf52NVMCInstructions is a placeholder position-independent code blob
// standing in for the real Nordic NVMC flash driver used by pyOCD/CMSIS
// pack algorithms; sized to exercise the assembler's layout arithmetic
// without shipping vendor binary blobs.
var nrf52NVMCInstructions = make([]uint32, 48)

var stm32f1FlashInstructions = make([]uint32, 40)
