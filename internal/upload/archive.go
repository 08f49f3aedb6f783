package upload

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zip"
)

// MetadataFilename is the well-known name of the metadata document inside
// every delivered package.
const MetadataFilename = "metadata.json"

// BuildArchive writes a zip at zipPath containing the artifact files (under
// their base names) plus the serialized metadata document. The archive is
// complete on local disk before any sink interaction happens.
func BuildArchive(zipPath string, artifactPaths []string, metadata any) error {
	f, err := os.Create(zipPath)
	if err != nil {
		return err
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for _, path := range artifactPaths {
		if err := addFileToZip(zw, path); err != nil {
			zw.Close()
			return err
		}
	}

	metaBytes, err := json.MarshalIndent(metadata, "", "    ")
	if err != nil {
		zw.Close()
		return err
	}
	w, err := zw.Create(MetadataFilename)
	if err != nil {
		zw.Close()
		return err
	}
	if _, err := w.Write(metaBytes); err != nil {
		zw.Close()
		return err
	}

	if err := zw.Close(); err != nil {
		return err
	}
	return f.Close()
}

func addFileToZip(zw *zip.Writer, path string) error {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()

	w, err := zw.Create(filepath.Base(path))
	if err != nil {
		return err
	}
	_, err = io.Copy(w, in)
	return err
}

// BuildDirectory copies the artifact files and the metadata document into
// dirPath, which becomes the payload of a directory-mode delivery.
func BuildDirectory(dirPath string, artifactPaths []string, metadata any) error {
	if err := os.MkdirAll(dirPath, 0o755); err != nil {
		return err
	}
	for _, path := range artifactPaths {
		if err := copyFile(path, filepath.Join(dirPath, filepath.Base(path))); err != nil {
			return err
		}
	}
	metaBytes, err := json.MarshalIndent(metadata, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dirPath, MetadataFilename), metaBytes, 0o644)
}
