package cmd

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/armflash/probe/pkg/target"
)

func TestFormatChipList_OneLinePerChipInOrder(t *testing.T) {
	defs := []*target.TargetDefinition{
		{Name: "nRF52832_xxAA", Core: target.CoreM4},
		{Name: "STM32F103C8", Core: target.CoreM3},
	}

	got := formatChipList(defs)
	require.Contains(t, got, "Known chips:")
	require.Contains(t, got, "nRF52832_xxAA")
	require.Contains(t, got, "core=M4")
	require.Contains(t, got, "STM32F103C8")
	require.Contains(t, got, "core=M3")

	nrfIdx := indexOf(got, "nRF52832_xxAA")
	stmIdx := indexOf(got, "STM32F103C8")
	require.Less(t, nrfIdx, stmIdx, "chips must list in registration order")
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}

func TestBuildRegistry_IncludesBuiltins(t *testing.T) {
	chipDir = ""
	registry, err := buildRegistry()
	require.NoError(t, err)

	defs := registry.All()
	require.NotEmpty(t, defs)

	_, err = registry.LookupByName("nRF52832")
	require.NoError(t, err)
}
