// Command engine is the OOBE plugin runtime's main binary: it loads an
// execution plan, stands up the plugin registry, event bus, session
// gate, HTTP dispatcher, and orchestrator, and runs until told to stop.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version, commit, and date are set at build time via -ldflags; see
// cmd_version.go.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "engine",
	Short: "OOBE plugin runtime and orchestration engine",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(configPath)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to app_config.toml (defaults to ./app_config.toml, ./configs/, /etc/oobe)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
