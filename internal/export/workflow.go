package export

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/nucleus/export-worker/internal/dataset"
)

// Defaults applied when the request leaves limits unset. The worker config
// echoes these for the CLI.
const (
	DefaultMaxEntries int64 = 100_000
	DefaultPageSize   int64 = 10_000
)

// stageRetryPolicy applies to every stage: bounded attempts with capped
// exponential backoff. Non-retryable application errors cut it short.
var stageRetryPolicy = &temporal.RetryPolicy{
	InitialInterval:    10 * time.Second,
	BackoffCoefficient: 2.0,
	MaximumInterval:    time.Minute,
	MaximumAttempts:    3,
}

// ExportEntriesWorkflow searches entries page by page and exports them into a
// datafile package in the requested destination.
//
// Stage order: create scratch subdirectory, pagination loop, optional
// consolidation, packaging, cleanup. Cleanup runs best-effort even when an
// earlier stage has failed; its own failure is logged and never masks the
// stage error.
func ExportEntriesWorkflow(ctx workflow.Context, req ExportRequest) (string, error) {
	logger := workflow.GetLogger(ctx)

	format, err := dataset.ParseFormat(string(req.Format))
	if err != nil {
		return "", temporal.NewNonRetryableApplicationError(err.Error(), "UnsupportedFormat", err)
	}
	req.Format = format
	if req.Owner == "" {
		req.Owner = OwnerVisible
	}
	if req.MaxEntries <= 0 || req.MaxEntries > DefaultMaxEntries {
		req.MaxEntries = DefaultMaxEntries
	}
	if req.PageSize <= 0 {
		req.PageSize = DefaultPageSize
	}

	shortOpts := workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		RetryPolicy:         stageRetryPolicy,
	}
	longOpts := workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Hour,
		RetryPolicy:         stageRetryPolicy,
	}
	shortCtx := workflow.WithActivityOptions(ctx, shortOpts)
	longCtx := workflow.WithActivityOptions(ctx, longOpts)

	runID := workflow.GetInfo(ctx).WorkflowExecution.ID

	// Stage 1: scratch subdirectory keyed by the run id.
	var subdir string
	if err := workflow.ExecuteActivity(shortCtx, "CreateArtifactSubdirectory",
		CreateSubdirInput{RunID: runID}).Get(ctx, &subdir); err != nil {
		return "", err
	}

	// cleanup runs on a disconnected context so the scratch space is removed
	// even after a failure or cancellation.
	cleanup := func() {
		cctx, cancel := workflow.NewDisconnectedContext(ctx)
		defer cancel()
		cctx = workflow.WithActivityOptions(cctx, shortOpts)
		if err := workflow.ExecuteActivity(cctx, "CleanupArtifacts",
			CleanupInput{SubdirPath: subdir}).Get(cctx, nil); err != nil {
			logger.Warn("scratch cleanup failed", "subdir", subdir, "error", err)
		}
	}

	// Stage 2: pagination loop. Page files carry strictly increasing,
	// gapless sequence numbers starting at 1.
	var (
		pageFiles      []string
		totalExported  int64
		totalAvailable int64
		reachedLimit   bool
		searchStart    string
		searchEnd      string
		pageAfter      string
	)
	remaining := req.MaxEntries
	for seq := 1; ; seq++ {
		pagePath := fmt.Sprintf("%s/%d%s", subdir, seq, req.Format.Ext())
		pageCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
			ActivityID:          fmt.Sprintf("search-page-%d", seq),
			StartToCloseTimeout: 2 * time.Hour,
			RetryPolicy:         stageRetryPolicy,
		})

		var out SearchPageOutput
		if err := workflow.ExecuteActivity(pageCtx, "SearchPage", SearchPageInput{
			RequesterID:    req.RequesterID,
			Owner:          req.Owner,
			Query:          req.Query,
			Required:       req.Required,
			PageSize:       req.PageSize,
			PageAfterValue: pageAfter,
			Format:         req.Format,
			OutputPath:     pagePath,
			Remaining:      remaining,
		}).Get(ctx, &out); err != nil {
			cleanup()
			return "", err
		}

		if out.Exported > 0 {
			pageFiles = append(pageFiles, pagePath)
		}
		if searchStart == "" {
			searchStart = out.SearchStartTime
		}
		searchEnd = out.SearchEndTime
		totalExported += out.Exported
		totalAvailable = out.TotalAvailable
		remaining -= out.Exported

		if remaining <= 0 {
			reachedLimit = true
			break
		}
		if out.NextPageAfterValue == nil {
			break
		}
		pageAfter = *out.NextPageAfterValue
	}

	logger.Info("pagination finished",
		"pages", len(pageFiles), "exported", totalExported, "reachedLimit", reachedLimit)

	// Stage 3: optional consolidation replaces the page files with one
	// merged artifact.
	if req.MergeOutputs && len(pageFiles) > 0 {
		var merged string
		if err := workflow.ExecuteActivity(longCtx, "MergePages", MergePagesInput{
			Subdir:    subdir,
			Format:    req.Format,
			PageFiles: pageFiles,
		}).Get(ctx, &merged); err != nil {
			cleanup()
			return "", err
		}
		if merged != "" {
			pageFiles = []string{merged}
		}
	}

	// Stage 4: packaging and delivery.
	metadata := ExportMetadata{
		TotalExported:   totalExported,
		TotalAvailable:  totalAvailable,
		ReachedLimit:    reachedLimit,
		SearchStartTime: searchStart,
		SearchEndTime:   searchEnd,
		Request:         req,
	}
	var delivered string
	if err := workflow.ExecuteActivity(longCtx, "DeliverDataset", DeliverInput{
		Subdir:      subdir,
		SourcePaths: pageFiles,
		Metadata:    metadata,
		AsArchive:   req.AsArchive,
	}).Get(ctx, &delivered); err != nil {
		cleanup()
		return "", err
	}

	// Stage 5: cleanup.
	cleanup()

	return delivered, nil
}
