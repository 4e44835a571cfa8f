package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/armflash/probe/pkg/target"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the resolved target's memory map and flash algorithms",
	Long: `Resolve a target (by --chip, or by attaching a probe and walking its
CoreSight ROM table) and print its core kind, memory regions, and the flash
algorithms available to program it.`,
	RunE: runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
}

func runInfo(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	s, err := attachSession(ctx)
	if err != nil {
		return fmt.Errorf("attach: %w", err)
	}
	defer s.Close()

	printTargetInfo(s.Target())
	return nil
}

func printTargetInfo(def *target.TargetDefinition) {
	fmt.Printf("Target: %s (core %s)\n\n", def.Name, def.Core)
	if def.Identity != nil {
		fmt.Printf("Identity: manufacturer=%s part=0x%04X\n\n", def.Identity.Manufacturer, def.Identity.Part)
	}

	fmt.Println("Memory map:")
	for _, region := range def.MemoryMap {
		switch region.Kind {
		case target.RegionFlash:
			fmt.Printf("  flash  [0x%08X, 0x%08X) sector=%d page=%d erased=0x%02X algo=%s\n",
				region.Start, region.End, region.SectorSize, region.PageSize, region.ErasedByteValue, region.AlgorithmName)
		case target.RegionRAM:
			boot := ""
			if region.IsBootMemory {
				boot = " (boot)"
			}
			fmt.Printf("  ram    [0x%08X, 0x%08X)%s\n", region.Start, region.End, boot)
		}
	}

	fmt.Println("\nFlash algorithms:")
	for _, algo := range def.Algorithms {
		tag := ""
		if algo.Default {
			tag = " (default)"
		}
		fmt.Printf("  %s%s: %d instructions, erase=0x%X program=0x%X\n",
			algo.Name, tag, len(algo.Instructions), algo.PCEraseSector, algo.PCProgramPage)
	}
}
