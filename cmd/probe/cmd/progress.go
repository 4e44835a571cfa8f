package cmd

import (
	"fmt"

	"github.com/armflash/probe/pkg/flash"
)

// printProgress renders flash.Event values to stdout, the CLI's stand-in
// for the progress bar cargo-flash drives off the same event stream.
type printProgress struct{}

func (printProgress) Report(e flash.Event) {
	switch e.Kind {
	case flash.EventInitialized:
		fmt.Printf("Erasing %d sector(s), programming %d page(s)...\n", e.TotalSectors, e.TotalPages)
	case flash.EventSectorErased:
		fmt.Printf("  erased  0x%08X (%d bytes)\n", e.Address, e.Size)
	case flash.EventPageFlashed:
		fmt.Printf("  flashed 0x%08X (%d bytes)\n", e.Address, e.Size)
	case flash.EventFinishedProgramming:
		fmt.Println("Done.")
	}
}
