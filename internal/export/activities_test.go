package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/nucleus/export-worker/internal/config"
	"github.com/nucleus/export-worker/internal/dataset"
	"github.com/nucleus/export-worker/internal/search"
	"github.com/nucleus/export-worker/internal/upload"
)

// fakeSearchClient replays scripted responses.
type fakeSearchClient struct {
	responses []*search.Response
	requests  []*search.Request
}

func (f *fakeSearchClient) Search(ctx context.Context, req *search.Request) (*search.Response, error) {
	f.requests = append(f.requests, req)
	if len(f.responses) == 0 {
		return &search.Response{}, nil
	}
	resp := f.responses[0]
	f.responses = f.responses[1:]
	return resp, nil
}

func testActivities(t *testing.T, client search.Client, sinkRoot string) (*Activities, string) {
	t.Helper()
	artifacts := t.TempDir()
	cfg := &config.Config{ArtifactsDir: artifacts}
	sinks := func(ctx context.Context, destinationID, requesterID string) (upload.Sink, error) {
		sink, err := upload.NewLocalSink(sinkRoot)
		if err != nil {
			return nil, err
		}
		return sink, nil
	}
	return NewActivities(cfg, client, sinks), artifacts
}

func newActivityEnv(t *testing.T, acts *Activities) *testsuite.TestActivityEnvironment {
	t.Helper()
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestActivityEnvironment()
	env.RegisterActivity(acts.CreateArtifactSubdirectory)
	env.RegisterActivity(acts.SearchPage)
	env.RegisterActivity(acts.MergePages)
	env.RegisterActivity(acts.DeliverDataset)
	env.RegisterActivity(acts.CleanupArtifacts)
	return env
}

func TestCreateArtifactSubdirectoryCollision(t *testing.T) {
	acts, artifacts := testActivities(t, &fakeSearchClient{}, t.TempDir())
	env := newActivityEnv(t, acts)

	var subdir string
	val, err := env.ExecuteActivity(acts.CreateArtifactSubdirectory, CreateSubdirInput{RunID: "run-1"})
	require.NoError(t, err)
	require.NoError(t, val.Get(&subdir))
	require.Equal(t, filepath.Join(artifacts, "run-1"), subdir)
	require.DirExists(t, subdir)

	// Same run id again: identity collision, not a transient fault.
	_, err = env.ExecuteActivity(acts.CreateArtifactSubdirectory, CreateSubdirInput{RunID: "run-1"})
	var appErr *temporal.ApplicationError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "SubdirectoryExists", appErr.Type())
	require.True(t, appErr.NonRetryable())
}

func TestSearchPageTruncatesToRemainingQuota(t *testing.T) {
	token := "next-token"
	records := make([]map[string]any, 20)
	for i := range records {
		records[i] = map[string]any{"id": float64(i)}
	}
	client := &fakeSearchClient{responses: []*search.Response{
		{Records: records, NextPageAfterValue: &token, TotalAvailable: 60},
	}}
	acts, artifacts := testActivities(t, client, t.TempDir())
	env := newActivityEnv(t, acts)

	pagePath := filepath.Join(artifacts, "1.json")
	val, err := env.ExecuteActivity(acts.SearchPage, SearchPageInput{
		Owner:      OwnerVisible,
		Query:      map[string]any{},
		PageSize:   20,
		Format:     dataset.FormatJSON,
		OutputPath: pagePath,
		Remaining:  10,
	})
	require.NoError(t, err)

	var out SearchPageOutput
	require.NoError(t, val.Get(&out))
	require.Equal(t, int64(10), out.Exported)
	require.Equal(t, int64(60), out.TotalAvailable)
	require.NotNil(t, out.NextPageAfterValue)

	written, err := dataset.ReadJSONPage(pagePath)
	require.NoError(t, err)
	require.Len(t, written, 10)
	require.Equal(t, float64(0), written[0]["id"])
	require.Equal(t, float64(9), written[9]["id"])
}

func TestSearchPageEmptyWritesNoFileAndStopsPaging(t *testing.T) {
	token := "stale-token"
	client := &fakeSearchClient{responses: []*search.Response{
		{Records: nil, NextPageAfterValue: &token, TotalAvailable: 0},
	}}
	acts, artifacts := testActivities(t, client, t.TempDir())
	env := newActivityEnv(t, acts)

	pagePath := filepath.Join(artifacts, "1.json")
	val, err := env.ExecuteActivity(acts.SearchPage, SearchPageInput{
		Owner:      OwnerVisible,
		PageSize:   20,
		Format:     dataset.FormatJSON,
		OutputPath: pagePath,
		Remaining:  100,
	})
	require.NoError(t, err)

	var out SearchPageOutput
	require.NoError(t, val.Get(&out))
	require.Equal(t, int64(0), out.Exported)
	require.Nil(t, out.NextPageAfterValue)
	require.NoFileExists(t, pagePath)
}

func TestMergePagesProducesSentinelFile(t *testing.T) {
	acts, artifacts := testActivities(t, &fakeSearchClient{}, t.TempDir())
	env := newActivityEnv(t, acts)

	subdir := filepath.Join(artifacts, "run-m")
	require.NoError(t, os.Mkdir(subdir, 0o755))
	var pageFiles []string
	for i, records := range [][]dataset.Record{
		{{"id": float64(1)}, {"id": float64(2)}},
		{{"id": float64(3)}},
	} {
		path := filepath.Join(subdir, fmt.Sprintf("%d.json", i+2))
		require.NoError(t, dataset.WritePage(path, dataset.FormatJSON, records))
		pageFiles = append(pageFiles, path)
	}

	val, err := env.ExecuteActivity(acts.MergePages, MergePagesInput{
		Subdir:    subdir,
		Format:    dataset.FormatJSON,
		PageFiles: pageFiles,
	})
	require.NoError(t, err)

	var merged string
	require.NoError(t, val.Get(&merged))
	require.Equal(t, filepath.Join(subdir, "1.json"), merged)

	records, err := dataset.ReadJSONPage(merged)
	require.NoError(t, err)
	require.Len(t, records, 3)
}

func TestDeliverDatasetAvoidsNameCollision(t *testing.T) {
	sinkRoot := t.TempDir()
	acts, artifacts := testActivities(t, &fakeSearchClient{}, sinkRoot)
	env := newActivityEnv(t, acts)

	subdir := filepath.Join(artifacts, "run-d")
	require.NoError(t, os.Mkdir(subdir, 0o755))
	artifact := filepath.Join(subdir, "1.json")
	require.NoError(t, dataset.WritePage(artifact, dataset.FormatJSON, []dataset.Record{{"id": float64(1)}}))

	// Occupy the first candidate name in the destination.
	start := "2026-01-02T03:04:05Z"
	taken := "exported_entries_" + start + ".zip"
	require.NoError(t, os.WriteFile(filepath.Join(sinkRoot, taken), []byte("x"), 0o644))

	input := DeliverInput{
		Subdir:      subdir,
		SourcePaths: []string{artifact},
		Metadata: ExportMetadata{
			TotalExported:   1,
			SearchStartTime: start,
			Request:         ExportRequest{RequesterID: "user-1", DestinationID: "upload-1"},
		},
		AsArchive: true,
	}
	val, err := env.ExecuteActivity(acts.DeliverDataset, input)
	require.NoError(t, err)

	var delivered string
	require.NoError(t, val.Get(&delivered))
	require.Equal(t, "exported_entries_"+start+"(1).zip", delivered)
	require.FileExists(t, filepath.Join(sinkRoot, delivered))
}

func TestDeliverDatasetDestinationNotFound(t *testing.T) {
	acts, artifacts := testActivities(t, &fakeSearchClient{}, t.TempDir())
	acts.sinks = func(ctx context.Context, destinationID, requesterID string) (upload.Sink, error) {
		sink, err := upload.NewLocalSink(filepath.Join(artifacts, "missing-root"))
		if err != nil {
			return nil, err
		}
		return sink, nil
	}
	env := newActivityEnv(t, acts)

	_, err := env.ExecuteActivity(acts.DeliverDataset, DeliverInput{
		Subdir:    artifacts,
		Metadata:  ExportMetadata{Request: ExportRequest{RequesterID: "user-1", DestinationID: "gone"}},
		AsArchive: true,
	})
	var appErr *temporal.ApplicationError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "DestinationNotFound", appErr.Type())
	require.True(t, appErr.NonRetryable())
}

func TestCleanupArtifactsIsIdempotent(t *testing.T) {
	acts, artifacts := testActivities(t, &fakeSearchClient{}, t.TempDir())
	env := newActivityEnv(t, acts)

	subdir := filepath.Join(artifacts, "run-c")
	require.NoError(t, os.Mkdir(subdir, 0o755))

	_, err := env.ExecuteActivity(acts.CleanupArtifacts, CleanupInput{SubdirPath: subdir})
	require.NoError(t, err)
	require.NoDirExists(t, subdir)

	// Second invocation on the already-absent directory succeeds.
	_, err = env.ExecuteActivity(acts.CleanupArtifacts, CleanupInput{SubdirPath: subdir})
	require.NoError(t, err)
}

func TestClassifyDatasetErr(t *testing.T) {
	err := classifyDatasetErr(&dataset.SchemaConflictError{Path: "p", Field: "f", Left: "INT64", Right: "BOOLEAN"})
	var appErr *temporal.ApplicationError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "SchemaConflict", appErr.Type())

	plain := errors.New("connection reset")
	require.Equal(t, plain, classifyDatasetErr(plain))
}
