// Package main provides the entry point for the stance tracker server and
// its maintenance commands.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "tracker_agent",
	Short: "Legislator stance tracker ingestion service",
	Long: "tracker_agent ingests public statements of legislators, groups duplicate and near-duplicate " +
		"statements, and throttles abusive submitters before anything reaches storage.",
	SilenceUsage: true,
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
