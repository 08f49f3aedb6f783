// Package export implements the export-entries pipeline: a Temporal workflow
// that pages through a search backend, stages each page to disk, optionally
// consolidates the pages, and delivers the packaged result to a destination
// sink.
package export

import (
	"github.com/nucleus/export-worker/internal/dataset"
)

// Owner scopes accepted by the search backend.
const (
	OwnerPublic  = "public"
	OwnerVisible = "visible"
	OwnerShared  = "shared"
	OwnerUser    = "user"
	OwnerStaging = "staging"
)

// ExportRequest fully determines one export run. It is immutable once the
// workflow starts.
type ExportRequest struct {
	// RequesterID identifies the user the export runs as.
	RequesterID string `json:"requesterId"`
	// DestinationID identifies the upload the result is delivered into.
	DestinationID string `json:"destinationId"`
	// Owner scopes the search (default "visible").
	Owner string `json:"owner,omitempty"`
	// Query is the search query document.
	Query map[string]any `json:"query"`
	// Required restricts which fields each record carries.
	Required map[string]any `json:"required,omitempty"`
	// Format selects the output serialization.
	Format dataset.Format `json:"outputFormat"`
	// MaxEntries caps the exported record count (default from worker config).
	MaxEntries int64 `json:"maxEntries,omitempty"`
	// PageSize is the per-search page size.
	PageSize int64 `json:"pageSize,omitempty"`
	// MergeOutputs consolidates the page files into one artifact.
	MergeOutputs bool `json:"mergeOutputs"`
	// AsArchive packages the delivery as a zip rather than a directory.
	AsArchive bool `json:"asArchive"`
}

// ExportMetadata describes a finished export. It is serialized into the
// delivered package as metadata.json and never mutated afterwards.
type ExportMetadata struct {
	TotalExported   int64         `json:"totalExported"`
	TotalAvailable  int64         `json:"totalAvailable"`
	ReachedLimit    bool          `json:"reachedLimit"`
	SearchStartTime string        `json:"searchStartTime"`
	SearchEndTime   string        `json:"searchEndTime"`
	Request         ExportRequest `json:"originalRequest"`
}

// CreateSubdirInput names the per-run scratch subdirectory.
type CreateSubdirInput struct {
	RunID string `json:"runId"`
}

// SearchPageInput drives one page fetch: one backend call plus one page file.
type SearchPageInput struct {
	RequesterID    string         `json:"requesterId"`
	Owner          string         `json:"owner"`
	Query          map[string]any `json:"query"`
	Required       map[string]any `json:"required,omitempty"`
	PageSize       int64          `json:"pageSize"`
	PageAfterValue string         `json:"pageAfterValue,omitempty"`
	Format         dataset.Format `json:"format"`
	OutputPath     string         `json:"outputPath"`
	// Remaining is the unused part of the run's entry quota; the page is
	// truncated to it.
	Remaining int64 `json:"remaining"`
}

// SearchPageOutput reports one page fetch. NextPageAfterValue is nil when the
// loop should stop, including after an empty page.
type SearchPageOutput struct {
	Exported           int64   `json:"exported"`
	TotalAvailable     int64   `json:"totalAvailable"`
	NextPageAfterValue *string `json:"nextPageAfterValue,omitempty"`
	SearchStartTime    string  `json:"searchStartTime"`
	SearchEndTime      string  `json:"searchEndTime"`
}

// MergePagesInput lists the ordered page files to consolidate.
type MergePagesInput struct {
	Subdir    string         `json:"subdir"`
	Format    dataset.Format `json:"format"`
	PageFiles []string       `json:"pageFiles"`
}

// DeliverInput packages the artifacts and metadata into the destination.
type DeliverInput struct {
	Subdir      string         `json:"subdir"`
	SourcePaths []string       `json:"sourcePaths"`
	Metadata    ExportMetadata `json:"metadata"`
	AsArchive   bool           `json:"asArchive"`
}

// CleanupInput names the scratch subdirectory to remove.
type CleanupInput struct {
	SubdirPath string `json:"subdirPath"`
}
