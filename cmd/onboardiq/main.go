package main

import (
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:          "onboardiq",
	Short:        "onboardiq orchestrates partner onboarding processes",
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "onboardiq.yaml",
		"path to the YAML configuration file")
	rootCmd.AddCommand(newServeCommand(), newWorkerCommand(), newSweepCommand())
}
