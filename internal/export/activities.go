package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/nucleus/export-worker/internal/config"
	"github.com/nucleus/export-worker/internal/dataset"
	"github.com/nucleus/export-worker/internal/search"
	"github.com/nucleus/export-worker/internal/upload"
)

// SinkFactory resolves a destination scope to a sink. Resolution failure with
// upload.CodeDestinationNotFound is terminal for the run.
type SinkFactory func(ctx context.Context, destinationID, requesterID string) (upload.Sink, error)

// Activities holds the export pipeline activities and their dependencies.
type Activities struct {
	cfg    *config.Config
	search search.Client
	sinks  SinkFactory
}

// NewActivities creates the activity set with injected collaborators.
func NewActivities(cfg *config.Config, searchClient search.Client, sinks SinkFactory) *Activities {
	return &Activities{cfg: cfg, search: searchClient, sinks: sinks}
}

// =============================================================================
// ACTIVITY 1: CreateArtifactSubdirectory
// =============================================================================

// CreateArtifactSubdirectory allocates the run's scratch subdirectory. A
// pre-existing path means two runs share an id, which retrying cannot fix, so
// the failure is non-retryable.
func (a *Activities) CreateArtifactSubdirectory(ctx context.Context, input CreateSubdirInput) (string, error) {
	if input.RunID == "" {
		return "", nonRetryable(fmt.Errorf("run id is required"), "SubdirectoryInvalid")
	}

	subdir := filepath.Join(a.cfg.ArtifactsDir, input.RunID)
	if _, err := os.Stat(subdir); err == nil {
		return "", nonRetryable(fmt.Errorf("artifact subdirectory %q already exists", subdir), "SubdirectoryExists")
	}
	if err := os.MkdirAll(filepath.Dir(subdir), 0o755); err != nil {
		return "", err
	}
	if err := os.Mkdir(subdir, 0o755); err != nil {
		return "", err
	}

	activity.GetLogger(ctx).Info("created artifact subdirectory", "path", subdir)
	return subdir, nil
}

// =============================================================================
// ACTIVITY 2: SearchPage
// =============================================================================

// SearchPage runs one paginated search call and writes the page to its file.
// The page is truncated to the remaining entry quota. An empty page writes no
// file and clears the continuation token so the pagination loop stops.
func (a *Activities) SearchPage(ctx context.Context, input SearchPageInput) (*SearchPageOutput, error) {
	logger := activity.GetLogger(ctx)

	start := time.Now().UTC().Format(time.RFC3339)
	resp, err := a.search.Search(ctx, &search.Request{
		RequesterID: input.RequesterID,
		Owner:       input.Owner,
		Query:       input.Query,
		Required:    input.Required,
		Pagination: search.Pagination{
			PageSize:       input.PageSize,
			PageAfterValue: input.PageAfterValue,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("search call failed: %w", err)
	}
	end := time.Now().UTC().Format(time.RFC3339)

	records := resp.Records
	if input.Remaining >= 0 && int64(len(records)) > input.Remaining {
		records = records[:input.Remaining]
	}

	out := &SearchPageOutput{
		Exported:           int64(len(records)),
		TotalAvailable:     resp.TotalAvailable,
		NextPageAfterValue: resp.NextPageAfterValue,
		SearchStartTime:    start,
		SearchEndTime:      end,
	}

	if len(records) == 0 {
		// Skip writing empty files and stop subsequent searches.
		out.NextPageAfterValue = nil
		return out, nil
	}

	if err := dataset.WritePage(input.OutputPath, input.Format, records); err != nil {
		return nil, classifyDatasetErr(err)
	}

	logger.Info("page written", "path", input.OutputPath, "records", len(records))
	return out, nil
}

// =============================================================================
// ACTIVITY 3: MergePages
// =============================================================================

// MergePages consolidates the ordered page files into a single artifact at
// the first sequence slot.
func (a *Activities) MergePages(ctx context.Context, input MergePagesInput) (string, error) {
	if len(input.PageFiles) == 0 {
		return "", nil
	}

	merged := filepath.Join(input.Subdir, "1"+input.Format.Ext())
	if _, err := dataset.Consolidate(ctx, input.PageFiles, merged); err != nil {
		return "", classifyDatasetErr(err)
	}

	activity.GetLogger(ctx).Info("consolidated page files",
		"pages", len(input.PageFiles), "output", merged)
	return merged, nil
}

// =============================================================================
// ACTIVITY 4: DeliverDataset
// =============================================================================

// DeliverDataset packages the artifacts with the metadata document and uploads
// the result under a collision-free name. Upload is the last action so a
// rejected write leaves nothing dangling in the destination.
func (a *Activities) DeliverDataset(ctx context.Context, input DeliverInput) (string, error) {
	logger := activity.GetLogger(ctx)
	req := input.Metadata.Request

	sink, err := a.sinks(ctx, req.DestinationID, req.RequesterID)
	if err != nil {
		return "", classifySinkErr(err)
	}

	base := "exported_entries_" + input.Metadata.SearchStartTime
	if input.AsArchive {
		name, err := upload.UniqueName(ctx, sink, base+".zip")
		if err != nil {
			return "", classifySinkErr(err)
		}
		zipPath := filepath.Join(input.Subdir, name)
		if err := upload.BuildArchive(zipPath, input.SourcePaths, input.Metadata); err != nil {
			return "", err
		}
		if err := sink.WriteArchive(ctx, zipPath, name); err != nil {
			return "", classifySinkErr(err)
		}
		logger.Info("delivered archive", "name", name, "artifacts", len(input.SourcePaths))
		return name, nil
	}

	name, err := upload.UniqueName(ctx, sink, base)
	if err != nil {
		return "", classifySinkErr(err)
	}
	pkgDir := filepath.Join(input.Subdir, "package")
	if err := upload.BuildDirectory(pkgDir, input.SourcePaths, input.Metadata); err != nil {
		return "", err
	}
	if err := sink.WriteDirectory(ctx, pkgDir, name); err != nil {
		return "", classifySinkErr(err)
	}
	logger.Info("delivered directory", "name", name, "artifacts", len(input.SourcePaths))
	return name, nil
}

// =============================================================================
// ACTIVITY 5: CleanupArtifacts
// =============================================================================

// CleanupArtifacts removes the scratch subdirectory. Removing an already
// absent directory succeeds, so retries and late cleanup are harmless.
func (a *Activities) CleanupArtifacts(ctx context.Context, input CleanupInput) error {
	if input.SubdirPath == "" {
		return nil
	}
	if err := os.RemoveAll(input.SubdirPath); err != nil {
		return err
	}
	activity.GetLogger(ctx).Info("removed artifact subdirectory", "path", input.SubdirPath)
	return nil
}

// =============================================================================
// ERROR CLASSIFICATION
// =============================================================================

func nonRetryable(err error, errType string) error {
	return temporal.NewNonRetryableApplicationError(err.Error(), errType, err)
}

// classifyDatasetErr marks data and configuration errors as non-retryable:
// retrying cannot change a schema conflict, a malformed page, or a bad format.
func classifyDatasetErr(err error) error {
	var (
		unsupported *dataset.UnsupportedFormatError
		conflict    *dataset.SchemaConflictError
		malformed   *dataset.MalformedPageError
	)
	switch {
	case errors.As(err, &unsupported):
		return nonRetryable(err, "UnsupportedFormat")
	case errors.As(err, &conflict):
		return nonRetryable(err, "SchemaConflict")
	case errors.As(err, &malformed):
		return nonRetryable(err, "MalformedPage")
	}
	return err
}

// classifySinkErr converts non-retryable sink failures (missing destination,
// bad credentials) into terminal errors; transient ones keep retrying.
func classifySinkErr(err error) error {
	var ue *upload.Error
	if errors.As(err, &ue) && !ue.Retryable {
		errType := "DeliveryFailed"
		if ue.Code == upload.CodeDestinationNotFound {
			errType = "DestinationNotFound"
		}
		return nonRetryable(err, errType)
	}
	return err
}
