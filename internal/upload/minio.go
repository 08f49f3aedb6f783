package upload

import (
	"context"
	"fmt"
	"io/fs"
	"net/url"
	"path/filepath"
	"sort"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioConfig captures the object-store connection settings.
type MinioConfig struct {
	EndpointURL     string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	UseSSL          bool
	Region          string
}

// MinioSink delivers artifacts into an object store bucket. Logical names are
// keyed under "<destinationID>/raw/", mirroring the upload layout the export
// lands in.
type MinioSink struct {
	client *minio.Client
	cfg    *MinioConfig
	scope  Scope
}

// NewMinioSink creates a sink for the given destination scope. The bucket must
// already exist; a missing bucket or destination is a non-retryable
// CodeDestinationNotFound.
func NewMinioSink(ctx context.Context, cfg *MinioConfig, scope Scope) (*MinioSink, error) {
	if cfg == nil || cfg.EndpointURL == "" {
		return nil, wrapError(CodeEndpointUnreachable, true, fmt.Errorf("endpoint URL is required"))
	}
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, wrapError(CodeAuthInvalid, false, fmt.Errorf("credentials are required"))
	}
	if scope.DestinationID == "" || scope.RequesterID == "" {
		return nil, wrapError(CodeDestinationNotFound, false, fmt.Errorf("destination and requester ids are required"))
	}

	u, err := url.Parse(cfg.EndpointURL)
	if err != nil {
		return nil, wrapError(CodeEndpointUnreachable, true, fmt.Errorf("invalid endpoint URL: %w", err))
	}
	endpoint := u.Host
	if endpoint == "" {
		endpoint = cfg.EndpointURL
	}
	useSSL := cfg.UseSSL || u.Scheme == "https"

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, wrapError(CodeEndpointUnreachable, true, fmt.Errorf("failed to create minio client: %w", err))
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, wrapError(CodeEndpointUnreachable, true, err)
	}
	if !exists {
		return nil, wrapError(CodeDestinationNotFound, false,
			fmt.Errorf("bucket %q for destination %q not found", cfg.Bucket, scope.DestinationID))
	}

	return &MinioSink{client: client, cfg: cfg, scope: scope}, nil
}

func (s *MinioSink) key(name string) string {
	return s.scope.DestinationID + "/raw/" + name
}

func (s *MinioSink) Exists(ctx context.Context, name string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.cfg.Bucket, s.key(name), minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if resp := minio.ToErrorResponse(err); resp.Code == "NoSuchKey" {
		// A directory delivery occupies the name as a key prefix.
		return s.prefixExists(ctx, s.key(name)+"/")
	}
	return false, wrapError(CodeEndpointUnreachable, true, err)
}

func (s *MinioSink) prefixExists(ctx context.Context, prefix string) (bool, error) {
	listCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	for obj := range s.client.ListObjects(listCtx, s.cfg.Bucket, minio.ListObjectsOptions{Prefix: prefix, MaxKeys: 1}) {
		if obj.Err != nil {
			return false, wrapError(CodeEndpointUnreachable, true, obj.Err)
		}
		return true, nil
	}
	return false, nil
}

func (s *MinioSink) WriteArchive(ctx context.Context, localPath, asName string) error {
	_, err := s.client.FPutObject(ctx, s.cfg.Bucket, s.key(asName), localPath, minio.PutObjectOptions{
		ContentType: "application/zip",
	})
	if err != nil {
		return wrapError(CodeDeliveryFailed, true, err)
	}
	return nil
}

// WriteDirectory uploads every file under localDir beneath the target name.
// The metadata document is uploaded last so a failed delivery never leaves
// metadata in the destination without its data files.
func (s *MinioSink) WriteDirectory(ctx context.Context, localDir, targetName string) error {
	var files []string
	err := filepath.WalkDir(localDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return wrapError(CodeDeliveryFailed, true, err)
	}

	sort.Slice(files, func(i, j int) bool {
		if metadataLast(files[i]) != metadataLast(files[j]) {
			return !metadataLast(files[i])
		}
		return files[i] < files[j]
	})

	for _, path := range files {
		rel, err := filepath.Rel(localDir, path)
		if err != nil {
			return wrapError(CodeDeliveryFailed, false, err)
		}
		key := s.key(targetName + "/" + filepath.ToSlash(rel))
		if _, err := s.client.FPutObject(ctx, s.cfg.Bucket, key, path, minio.PutObjectOptions{}); err != nil {
			return wrapError(CodeDeliveryFailed, true, err)
		}
	}
	return nil
}

func metadataLast(path string) bool {
	return filepath.Base(path) == MetadataFilename
}
