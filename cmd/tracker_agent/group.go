package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jonathan/stance-tracker/internal/observability"
)

var groupDatabaseURL string

var groupCmd = &cobra.Command{
	Use:   "group <group-id>",
	Short: "List the statements of a duplicate group",
	Args:  cobra.ExactArgs(1),
	RunE:  runGroup,
}

func init() {
	groupCmd.Flags().StringVar(&groupDatabaseURL, "db-url", "", "Database URL (overrides DATABASE_URL)")
	rootCmd.AddCommand(groupCmd)
}

func runGroup(cmd *cobra.Command, args []string) error {
	groupID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid group ID %q: %w", args[0], err)
	}

	cfg, err := loadConfig("")
	if err != nil {
		return err
	}

	ctx := context.Background()
	database, err := connect(ctx, groupDatabaseURL, cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	statements, err := database.ListGroup(ctx, groupID)
	if err != nil {
		return err
	}

	observability.NewPrinter(cmd.OutOrStdout()).PrintGroup(groupID.String(), statements)
	return nil
}
