package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var nrfRecoverCmd = &cobra.Command{
	Use:   "nrf-recover",
	Short: "Recover a locked Nordic nRF52/53 chip via CTRL-AP mass erase",
	Long: `nrf-recover performs the Nordic-specific recovery sequence that mass-
erases a chip whose access port has been locked by CTRL-AP.APPROTECTSTATUS,
restoring debug access. Only probes implementing the optional recovery
capability (DAPLink) support this; ST-Link returns an error.`,
	RunE: runNrfRecover,
}

func init() {
	rootCmd.AddCommand(nrfRecoverCmd)
}

func runNrfRecover(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	p, err := openFirstProbe(ctx)
	if err != nil {
		return fmt.Errorf("open probe: %w", err)
	}
	defer p.Close()

	// nRF recovery is performed before identification is possible (the
	// chip may be locked), so attach without resolving a target.
	s, err := attachSessionForRecover(ctx, p)
	if err != nil {
		return fmt.Errorf("attach: %w", err)
	}
	defer s.Close()

	if err := s.NrfRecover(); err != nil {
		return fmt.Errorf("nrf recover: %w", err)
	}
	fmt.Println("Recovered.")
	return nil
}
