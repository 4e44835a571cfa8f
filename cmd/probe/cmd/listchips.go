package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/armflash/probe/pkg/target"
)

var listChipsCmd = &cobra.Command{
	Use:   "list-chips",
	Short: "List built-in and loaded chip descriptors",
	Long: `List every chip descriptor the registry knows about: the compiled-in
family descriptors plus any YAML files loaded via --chip-description-path.`,
	RunE: runListChips,
}

func init() {
	rootCmd.AddCommand(listChipsCmd)
}

func runListChips(cmd *cobra.Command, args []string) error {
	registry, err := buildRegistry()
	if err != nil {
		return err
	}

	fmt.Print(formatChipList(registry.All()))
	return nil
}

// formatChipList renders one "name  core=X" line per definition, preceded
// by a header, in registration order; pulled out of runListChips so it
// can be tested without a registry or real flags.
func formatChipList(defs []*target.TargetDefinition) string {
	var b strings.Builder
	b.WriteString("Known chips:\n")
	for _, def := range defs {
		fmt.Fprintf(&b, "  %-20s core=%-4s\n", def.Name, def.Core)
	}
	return b.String()
}
