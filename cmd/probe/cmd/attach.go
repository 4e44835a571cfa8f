package cmd

import (
	"context"
	"fmt"

	"github.com/armflash/probe/internal/daplink"
	"github.com/armflash/probe/internal/stlink"
	"github.com/armflash/probe/internal/usbtransport"
	"github.com/armflash/probe/pkg/probe"
	"github.com/armflash/probe/pkg/session"
	"github.com/armflash/probe/pkg/target"
)

// openFirstProbe enumerates connected probes and opens the first one,
// mirroring the teacher's createAdapter default-to-one-device behavior but
// driven by USB discovery instead of a --adapter flag, since this tool
// targets exactly the two probe families pkg/probe knows how to classify.
func openFirstProbe(ctx context.Context) (probe.Probe, error) {
	infos, err := probe.Discover(ctx)
	if err != nil {
		return nil, fmt.Errorf("discover probes: %w", err)
	}
	if len(infos) == 0 {
		return nil, fmt.Errorf("no debug probe found")
	}

	info := infos[0]
	if verbose {
		fmt.Printf("Opening %s\n", info)
	}

	transportInfo := usbtransport.Info{VendorID: info.VendorID, ProductID: info.ProductID, Serial: info.Serial}
	switch info.Kind {
	case probe.KindDAPLink:
		return daplink.Open(transportInfo)
	case probe.KindSTLink:
		return stlink.Open(transportInfo)
	default:
		return nil, fmt.Errorf("unsupported probe kind %q", info.Kind)
	}
}

// buildRegistry loads the built-in chip descriptors plus any extra YAML
// files given via --chip-description-path.
func buildRegistry() (*target.Registry, error) {
	registry := target.NewRegistry()
	registry.RegisterBuiltins()
	if chipDir != "" {
		if err := registry.LoadDir(chipDir); err != nil {
			return nil, fmt.Errorf("load chip descriptors from %s: %w", chipDir, err)
		}
	}
	return registry, nil
}

// attachSession opens a probe and a Session against it. If --chip was
// given, the named target is resolved up front and the ROM-table walk is
// skipped (AttachKnown); otherwise the chip is identified on the wire.
func attachSession(ctx context.Context) (*session.Session, error) {
	registry, err := buildRegistry()
	if err != nil {
		return nil, err
	}

	p, err := openFirstProbe(ctx)
	if err != nil {
		return nil, err
	}

	if chip != "" {
		def, err := registry.LookupByName(chip)
		if err != nil {
			p.Close()
			return nil, err
		}
		s, err := session.AttachKnown(ctx, p, probe.ProtocolSWD, def)
		if err != nil {
			p.Close()
			return nil, err
		}
		return s, nil
	}

	s, err := session.Attach(ctx, p, probe.ProtocolSWD, registry)
	if err != nil {
		p.Close()
		return nil, err
	}
	return s, nil
}

// attachSessionForRecover attaches the wire protocol without resolving a
// target, used by nrf-recover where the chip may still be access-locked
// and therefore cannot be identified through its ROM table.
func attachSessionForRecover(ctx context.Context, p probe.Probe) (*session.Session, error) {
	return session.AttachKnown(ctx, p, probe.ProtocolSWD, nil)
}
