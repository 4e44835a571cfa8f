package cmd

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/armflash/probe/internal/logging"
)

var (
	// Global flags.
	verbose bool
	chip    string
	chipDir string
)

var rootCmd = &cobra.Command{
	Use:   "probe",
	Short: "ARM Cortex-M debug probe and flash programming tool",
	Long: `probe attaches to CMSIS-DAP and ST-Link debug probes over USB, identifies
the target chip through its CoreSight ROM table, and flashes, resets, or
inspects it.

Examples:
  probe list-chips                                   # show built-in and loaded chip descriptors
  probe flash --chip nRF52832_xxAA firmware.elf       # flash a firmware image
  probe info --chip nRF52832_xxAA                     # show the resolved memory map
  probe reset --chip nRF52832_xxAA --halt              # reset and halt the core
  probe erase --chip nRF52832_xxAA                     # mass-erase flash`,
	Version: "0.1.0",
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error:"), err)
		os.Exit(1)
	}
}

func init() {
	logging.Init()

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&chip, "chip", "", "chip name to resolve against the registry (skips ROM-table identification)")
	rootCmd.PersistentFlags().StringVarP(&chipDir, "chip-description-path", "c", "", "directory of additional YAML chip descriptors to load")
}
