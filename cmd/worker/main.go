// Package main runs the export Temporal worker.
package main

import (
	"context"
	"log"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/nucleus/export-worker/internal/config"
	"github.com/nucleus/export-worker/internal/export"
	"github.com/nucleus/export-worker/internal/logging"
	"github.com/nucleus/export-worker/internal/search"
	"github.com/nucleus/export-worker/internal/upload"
)

func main() {
	cfg := config.Load()

	logger, err := logging.NewLogger(false)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// Create Temporal client
	c, err := client.Dial(client.Options{
		HostPort:  cfg.TemporalAddress,
		Namespace: cfg.TemporalNamespace,
		Logger:    logging.NewTemporalLogger(logger),
	})
	if err != nil {
		logger.Sugar().Fatalw("failed to create temporal client", "error", err)
	}
	defer c.Close()

	searchClient := search.NewHTTPClient(&search.ClientConfig{
		BaseURL:   cfg.SearchBaseURL,
		RateLimit: cfg.SearchRateLimit,
		RateBurst: cfg.SearchRateBurst,
	})

	sinks := func(ctx context.Context, destinationID, requesterID string) (upload.Sink, error) {
		return upload.NewMinioSink(ctx, &upload.MinioConfig{
			EndpointURL:     cfg.MinioEndpointURL,
			AccessKeyID:     cfg.MinioAccessKeyID,
			SecretAccessKey: cfg.MinioSecretAccessKey,
			Bucket:          cfg.MinioBucket,
			UseSSL:          cfg.MinioUseSSL,
			Region:          cfg.MinioRegion,
		}, upload.Scope{DestinationID: destinationID, RequesterID: requesterID})
	}

	// Create worker
	w := worker.New(c, cfg.TaskQueue, worker.Options{})

	// Register workflow and activities
	w.RegisterWorkflow(export.ExportEntriesWorkflow)
	acts := export.NewActivities(cfg, searchClient, sinks)
	w.RegisterActivity(acts.CreateArtifactSubdirectory)
	w.RegisterActivity(acts.SearchPage)
	w.RegisterActivity(acts.MergePages)
	w.RegisterActivity(acts.DeliverDataset)
	w.RegisterActivity(acts.CleanupArtifacts)

	logger.Sugar().Infow("starting export worker",
		"address", cfg.TemporalAddress, "namespace", cfg.TemporalNamespace, "queue", cfg.TaskQueue)

	// Run worker
	if err := w.Run(worker.InterruptCh()); err != nil {
		logger.Sugar().Fatalw("worker failed", "error", err)
	}
}
