// Package main provides exportctl, a CLI for starting export runs.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"

	"github.com/nucleus/export-worker/internal/config"
	"github.com/nucleus/export-worker/internal/dataset"
	"github.com/nucleus/export-worker/internal/export"
)

var (
	flagRequester   string
	flagDestination string
	flagOwner       string
	flagQuery       string
	flagRequired    string
	flagFormat      string
	flagMaxEntries  int64
	flagPageSize    int64
	flagMerge       bool
	flagDirectory   bool
	flagNoWait      bool
)

func main() {
	root := &cobra.Command{
		Use:   "exportctl",
		Short: "Start and inspect export-entries runs",
	}
	root.AddCommand(newStartCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start an export run and print the delivered artifact name",
		RunE:  runStart,
	}

	cmd.Flags().StringVar(&flagRequester, "requester", "", "requester user id")
	cmd.Flags().StringVar(&flagDestination, "destination", "", "destination upload id")
	cmd.Flags().StringVar(&flagOwner, "owner", export.OwnerVisible, "owner scope of the searched entries")
	cmd.Flags().StringVar(&flagQuery, "query", "{}", "search query as a JSON document")
	cmd.Flags().StringVar(&flagRequired, "required", "", "required-field selection as a JSON document")
	cmd.Flags().StringVar(&flagFormat, "format", string(dataset.FormatParquet), "output format: parquet, csv, or json")
	cmd.Flags().Int64Var(&flagMaxEntries, "max-entries", 0, "cap on exported entries (0 = worker default)")
	cmd.Flags().Int64Var(&flagPageSize, "page-size", 0, "search page size (0 = worker default)")
	cmd.Flags().BoolVar(&flagMerge, "merge", true, "consolidate page files into one artifact")
	cmd.Flags().BoolVar(&flagDirectory, "directory", false, "deliver as a directory instead of a zip archive")
	cmd.Flags().BoolVar(&flagNoWait, "no-wait", false, "start the run without waiting for the result")

	_ = cmd.MarkFlagRequired("requester")
	_ = cmd.MarkFlagRequired("destination")
	return cmd
}

func runStart(cmd *cobra.Command, args []string) error {
	format, err := dataset.ParseFormat(flagFormat)
	if err != nil {
		return err
	}

	var query map[string]any
	if err := json.Unmarshal([]byte(flagQuery), &query); err != nil {
		return fmt.Errorf("invalid --query: %w", err)
	}
	var required map[string]any
	if flagRequired != "" {
		if err := json.Unmarshal([]byte(flagRequired), &required); err != nil {
			return fmt.Errorf("invalid --required: %w", err)
		}
	}

	cfg := config.Load()
	c, err := client.Dial(client.Options{
		HostPort:  cfg.TemporalAddress,
		Namespace: cfg.TemporalNamespace,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to temporal: %w", err)
	}
	defer c.Close()

	req := export.ExportRequest{
		RequesterID:   flagRequester,
		DestinationID: flagDestination,
		Owner:         flagOwner,
		Query:         query,
		Required:      required,
		Format:        format,
		MaxEntries:    flagMaxEntries,
		PageSize:      flagPageSize,
		MergeOutputs:  flagMerge,
		AsArchive:     !flagDirectory,
	}

	// The workflow id doubles as the scratch subdirectory name, so it must be
	// unique per run.
	workflowID := "export-" + uuid.NewString()
	ctx := context.Background()
	run, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: cfg.TaskQueue,
	}, export.ExportEntriesWorkflow, req)
	if err != nil {
		return fmt.Errorf("failed to start export run: %w", err)
	}

	fmt.Printf("started export run %s\n", workflowID)
	if flagNoWait {
		return nil
	}

	var delivered string
	if err := run.Get(ctx, &delivered); err != nil {
		return fmt.Errorf("export run failed: %w", err)
	}
	fmt.Printf("delivered %s\n", delivered)
	return nil
}
