package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oriys/jana2go/internal/affinity"
	"github.com/oriys/jana2go/internal/config"
)

func topologyDumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "topology-dump",
		Short: "Build the topology and print its arrows/mailboxes without running it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultConfig()
			if configFile != "" {
				var err error
				cfg, err = config.LoadFromFile(configFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
			}
			config.LoadFromEnv(cfg)

			mapping := affinity.Initialize(cfg.Engine.Affinity, cfg.Engine.Locality, max(cfg.Engine.NThreads, 1))
			topo, _, _, err := buildDemoTopology(cfg.Engine, mapping)
			if err != nil {
				return err
			}
			if err := topo.Freeze(); err != nil {
				return err
			}

			fmt.Printf("topology frozen: %d locations\n", mapping.NLocations())
			for _, a := range topo.Arrows() {
				kind := "arrow"
				switch {
				case a.IsSource():
					kind = "source"
				case a.IsSink():
					kind = "sink"
				}
				fmt.Printf("  %-20s %s chunksize=%d\n", a.Name(), kind, a.ChunkSize())
			}
			return nil
		},
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
