// zkpool - shielded pool node tooling: trusted setup, verifier export, state
// inspection and an in-process demo
package main

import (
	"fmt"
	"os"

	"github.com/kysee/zkpool/zk-pool/node"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "zkpool",
		Short: "Shielded value pool",
		Long: `Tooling for a shielded value pool: Groth16 key generation, Solidity
verifier export, inspection of a persisted pool and an end-to-end demo.`,
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	// Global flags
	var (
		configPath string
		logLevel   string
	)
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "zkpool.json", "Path of the pool config; written with defaults when missing")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level")

	loadConfig := func() *node.Config {
		cfg, err := node.LoadConfig(configPath)
		if err != nil {
			fmt.Printf("Failed to load config: %v\n", err)
			os.Exit(1)
		}
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		return cfg
	}

	var versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("zkpool %s (commit %s, built %s)\n", Version, Commit, BuildTime)
		},
	}

	// Add commands
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(newSetupCmd(loadConfig))
	rootCmd.AddCommand(newExportVerifierCmd(loadConfig))
	rootCmd.AddCommand(newInspectCmd(loadConfig))
	rootCmd.AddCommand(newDemoCmd(loadConfig))

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
