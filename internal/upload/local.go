package upload

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// LocalSink persists deliveries on disk to mimic the object store for tests
// and local development.
type LocalSink struct {
	root string
}

// NewLocalSink creates a sink rooted at dir, which must exist.
func NewLocalSink(root string) (*LocalSink, error) {
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return nil, wrapError(CodeDestinationNotFound, false, fmt.Errorf("destination root %q not found", root))
	}
	return &LocalSink{root: root}, nil
}

func (s *LocalSink) Exists(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := os.Stat(filepath.Join(s.root, name))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, wrapError(CodePermissionDenied, false, err)
}

func (s *LocalSink) WriteArchive(ctx context.Context, localPath, asName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return copyFile(localPath, filepath.Join(s.root, asName))
}

func (s *LocalSink) WriteDirectory(ctx context.Context, localDir, targetName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target := filepath.Join(s.root, targetName)
	return filepath.WalkDir(localDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(localDir, path)
		if err != nil {
			return err
		}
		dest := filepath.Join(target, rel)
		if d.IsDir() {
			return os.MkdirAll(dest, 0o755)
		}
		return copyFile(path, dest)
	})
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return wrapError(CodeDeliveryFailed, true, err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return wrapError(CodeDeliveryFailed, true, err)
	}
	out, err := os.Create(dest)
	if err != nil {
		return wrapError(CodeDeliveryFailed, true, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return wrapError(CodeDeliveryFailed, true, err)
	}
	return out.Close()
}
