package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var eraseCmd = &cobra.Command{
	Use:   "erase",
	Short: "Mass-erase the target's flash",
	Long: `Erase attaches a probe, resolves the target, and calls each flash
region's EraseAll algorithm entry point, if it has one. Regions whose
algorithm does not expose mass erase are left untouched.`,
	RunE: runErase,
}

func init() {
	rootCmd.AddCommand(eraseCmd)
}

func runErase(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	s, err := attachSession(ctx)
	if err != nil {
		return fmt.Errorf("attach: %w", err)
	}
	defer s.Close()

	if err := s.EraseAll(printProgress{}); err != nil {
		return fmt.Errorf("erase: %w", err)
	}
	fmt.Println("Erase complete.")
	return nil
}
