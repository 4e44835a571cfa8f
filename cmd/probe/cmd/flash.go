package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/armflash/probe/internal/elfimage"
	"github.com/armflash/probe/pkg/flash"
	"github.com/armflash/probe/pkg/target"
)

var (
	noDownload     bool
	flashResetHalt bool
)

var flashCmd = &cobra.Command{
	Use:   "flash <elf-file>",
	Short: "Flash an ELF firmware image",
	Long: `Extract loadable segments from an ELF firmware image, partition them by
flash region, and program them through the target's flash algorithm.

Examples:
  probe flash --chip nRF52832_xxAA firmware.elf
  probe flash --chip STM32F103C8 --reset-halt firmware.elf`,
	Args: cobra.ExactArgs(1),
	RunE: runFlash,
}

func init() {
	rootCmd.AddCommand(flashCmd)
	flashCmd.Flags().BoolVar(&noDownload, "no-download", false, "attach and resolve the target but skip programming (useful with a debugger attached separately)")
	flashCmd.Flags().BoolVar(&flashResetHalt, "reset-halt", false, "reset and halt the core after flashing, instead of a plain reset")
}

func runFlash(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	path := args[0]

	s, err := attachSession(ctx)
	if err != nil {
		return fmt.Errorf("attach: %w", err)
	}
	defer s.Close()

	if noDownload {
		fmt.Println("Attached; skipping programming (--no-download).")
		return nil
	}

	var regions []elfimage.Region
	for _, r := range s.Target().MemoryMap {
		if r.Kind != target.RegionFlash {
			continue
		}
		regions = append(regions, elfimage.Region{Start: r.Start, End: r.End})
	}

	fragments, err := elfimage.ExtractFragments(path, regions)
	if err != nil {
		return fmt.Errorf("extract %s: %w", path, err)
	}

	flashFragments := make([]flash.Fragment, len(fragments))
	for i, f := range fragments {
		flashFragments[i] = flash.Fragment{Address: f.Address, Data: f.Data}
	}

	if err := s.Flash(flashFragments, printProgress{}); err != nil {
		return fmt.Errorf("flash: %w", err)
	}

	if flashResetHalt {
		if err := s.ResetAndHalt(); err != nil {
			return fmt.Errorf("reset and halt: %w", err)
		}
		fmt.Println("Reset and halted.")
	} else {
		if err := s.Reset(); err != nil {
			return fmt.Errorf("reset: %w", err)
		}
		fmt.Println("Reset.")
	}
	return nil
}
