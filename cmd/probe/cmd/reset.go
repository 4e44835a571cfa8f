package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var resetHalt bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset the attached target",
	Long: `Reset attaches a probe, resolves the target, and pulses reset. With
--halt, the core is halted at the reset vector instead of left running,
the sequence callers typically want before flashing or inspecting state.`,
	RunE: runReset,
}

func init() {
	rootCmd.AddCommand(resetCmd)
	resetCmd.Flags().BoolVar(&resetHalt, "halt", false, "halt the core after reset instead of letting it run")
}

func runReset(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	s, err := attachSession(ctx)
	if err != nil {
		return fmt.Errorf("attach: %w", err)
	}
	defer s.Close()

	if resetHalt {
		if err := s.ResetAndHalt(); err != nil {
			return fmt.Errorf("reset and halt: %w", err)
		}
		fmt.Println("Reset and halted.")
		return nil
	}

	if err := s.Reset(); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	fmt.Println("Reset.")
	return nil
}
