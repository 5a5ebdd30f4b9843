package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonathan/stance-tracker/internal/dedup"
	"github.com/jonathan/stance-tracker/internal/fingerprint"
	"github.com/jonathan/stance-tracker/internal/observability"
	"github.com/jonathan/stance-tracker/internal/similarity"
)

var compareThreshold float64

var compareCmd = &cobra.Command{
	Use:   "compare <a> <b>",
	Short: "Score the similarity of two texts after normalization",
	Args:  cobra.ExactArgs(2),
	RunE:  runCompare,
}

func init() {
	compareCmd.Flags().Float64Var(&compareThreshold, "threshold", dedup.DefaultConfig().Threshold, "Fuzzy duplicate threshold")
	rootCmd.AddCommand(compareCmd)
}

func runCompare(cmd *cobra.Command, args []string) error {
	if compareThreshold < 0 || compareThreshold > 1 {
		return fmt.Errorf("threshold must be between 0 and 1, got %v", compareThreshold)
	}

	score := similarity.Ratio(fingerprint.Normalize(args[0]), fingerprint.Normalize(args[1]))
	observability.NewPrinter(cmd.OutOrStdout()).PrintComparison(args[0], args[1], score, compareThreshold)
	return nil
}
