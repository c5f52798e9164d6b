package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "antos",
	Short: "antos - tick-based process kernel",
	Long: `antos runs a table of long-lived processes one tick at a time. Every tick the
process table is rebuilt from the database, each runnable process runs once, every
bound agent advances its task by one step, and the table is saved again.`,
	SilenceUsage: true,
	// No RunE - defaults to showing help when no subcommand is provided
}

var (
	configPath string
	dataDir    string
)

func init() {
	defaultConfig, _ := configHomePath()
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfig, "Path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Override the configured data directory")

	// Add subcommands
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(launchCmd)
	rootCmd.AddCommand(psCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(killCmd)
	rootCmd.AddCommand(suspendCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(messageCmd)
	rootCmd.AddCommand(tickCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(decisionsCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(typesCmd)
	rootCmd.AddCommand(worldCmd)
	rootCmd.AddCommand(topCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
