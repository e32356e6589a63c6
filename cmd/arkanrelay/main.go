//go:build windows

// Command arkanrelay installs the SEND/RECV hook into the hosting process
// and bridges its traffic to a Kore controller over a framed TCP link.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "arkanrelay",
		Short: "In-process traffic bridge for the legacy client",
	}
	root.AddCommand(runCmd(), doctorCmd(), versionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(version)
			return nil
		},
	}
}
