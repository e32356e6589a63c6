//go:build windows

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ehrlich-b/arkanrelay/internal/addr"
	"github.com/ehrlich-b/arkanrelay/internal/config"
)

func doctorCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Resolve and report the configured addresses without installing the hook",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				configPath = config.DefaultPath()
			}
			return runDoctor(configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to the settings file (default: "+config.DefaultPath()+")")
	return cmd
}

func runDoctor(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	resolver, err := addr.NewResolver()
	if err != nil {
		return fmt.Errorf("address resolver: %w", err)
	}

	named := map[string]string{
		"send_slot":   cfg.Advanced.FnSendAddr,
		"recv_slot":   cfg.Advanced.FnRecvAddr,
		"seed_fn":     cfg.Advanced.FnSeedAddr,
		"checksum_fn": cfg.Advanced.FnChecksumAddr,
	}
	resolved := make(map[string]uintptr, len(named))
	for name, hex := range named {
		if hex == "" {
			fmt.Printf("%-12s (missing)\n", name)
			continue
		}
		a, err := resolver.ResolveHex(hex)
		if err != nil {
			fmt.Printf("%-12s error: %v\n", name, err)
			continue
		}
		resolved[name] = a
	}
	resolver.LogPages(resolved)
	fmt.Printf("kore target: %s, ports %v\n", cfg.Kore.Host, cfg.Kore.Ports)
	return nil
}
