package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "eventfabric",
	Short: "eventfabric ingests, aggregates, and fans out live-stream events",
	Long: `eventfabric normalises events from the live-streaming platform and a
handful of local adapters (OBS, a mixer's OSC control surface, game bridges,
music agents) onto one Redis bus, maintains the subathon campaign's derived
state, and serves it back out over a multiplexed overlay WebSocket.`,
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("env", "development", "Environment (development, production)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(healthcheckCmd)
}
