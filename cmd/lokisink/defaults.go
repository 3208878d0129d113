package main

import (
	"github.com/spf13/cobra"
)

// applyConfigDefaults sets flag values from config when the flag
// was not explicitly set on the command line. Flags > env > config > defaults.
// Sink settings are merged in shipOptions; this covers plain flags only.
func applyConfigDefaults(cmd *cobra.Command) {
	if cfg == nil {
		return
	}

	setDefault := func(name, value string) {
		if value != "" && !cmd.Flags().Changed(name) {
			if f := cmd.Flags().Lookup(name); f != nil {
				_ = f.Value.Set(value)
			}
		}
	}

	setDefault("listen", cfg.Recv.Addr)
	setDefault("dir", cfg.Recv.Dir)
	setDefault("segment-size", cfg.Recv.SegmentSize)
	setDefault("max-disk", cfg.Recv.MaxDisk)
	setDefault("metrics-addr", cfg.Defaults.MetricsAddr)
}
