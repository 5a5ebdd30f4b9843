package main

import (
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jonathan/stance-tracker/internal/fingerprint"
	"github.com/jonathan/stance-tracker/internal/observability"
)

var fingerprintJSON bool

var fingerprintCmd = &cobra.Command{
	Use:   "fingerprint <text>",
	Short: "Print the exact and normalized fingerprints of a text",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runFingerprint,
}

func init() {
	fingerprintCmd.Flags().BoolVar(&fingerprintJSON, "json", false, "Print the fingerprint pair as JSON")
	rootCmd.AddCommand(fingerprintCmd)
}

func runFingerprint(cmd *cobra.Command, args []string) error {
	raw := strings.Join(args, " ")
	pair := fingerprint.Compute(raw)

	if fingerprintJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(pair)
	}

	observability.NewPrinter(cmd.OutOrStdout()).PrintFingerprint(raw, pair)
	return nil
}
