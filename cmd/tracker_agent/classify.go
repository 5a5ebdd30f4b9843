package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonathan/stance-tracker/internal/dedup"
	"github.com/jonathan/stance-tracker/internal/observability"
)

var (
	classifySubject     int64
	classifyTexts       []string
	classifyDatabaseURL string
	classifyConfigPath  string
)

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Preview how texts would be classified against a subject's recorded statements",
	Long: `Run the duplicate resolver against the subject's current candidate pool and print
the verdicts. Nothing is recorded.`,
	Args: cobra.NoArgs,
	RunE: runClassify,
}

func init() {
	classifyCmd.Flags().Int64Var(&classifySubject, "subject", 0, "Subject (legislator) ID (required)")
	classifyCmd.Flags().StringArrayVar(&classifyTexts, "text", nil, "Text to classify (repeatable, required)")
	classifyCmd.Flags().StringVar(&classifyDatabaseURL, "db-url", "", "Database URL (overrides DATABASE_URL)")
	classifyCmd.Flags().StringVarP(&classifyConfigPath, "config", "c", "", "Path to JSON config file")
	rootCmd.AddCommand(classifyCmd)
}

func runClassify(cmd *cobra.Command, _ []string) error {
	if classifySubject <= 0 {
		return fmt.Errorf("--subject is required and must be positive")
	}
	if len(classifyTexts) == 0 {
		return fmt.Errorf("at least one --text is required")
	}

	cfg, err := loadConfig(classifyConfigPath)
	if err != nil {
		return err
	}
	dedupCfg, err := dedupConfig(cfg)
	if err != nil {
		return err
	}

	ctx := context.Background()
	database, err := connect(ctx, classifyDatabaseURL, cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	since := time.Now().Add(-dedupCfg.LookbackWindow)
	pool, err := database.CandidatePool(ctx, classifySubject, since, dedupCfg.MaxCandidates)
	if err != nil {
		return err
	}

	resolver := dedup.NewResolver(dedupCfg, database)
	verdicts, err := resolver.ResolveBatch(ctx, classifySubject, classifyTexts, pool)
	if err != nil {
		return err
	}

	printer := observability.NewPrinter(cmd.OutOrStdout())
	if len(verdicts) == 1 {
		printer.PrintVerdict(verdicts[0])
		return nil
	}
	printer.PrintVerdicts(classifyTexts, verdicts)
	return nil
}
