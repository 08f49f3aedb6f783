// Package upload packages export artifacts and delivers them to a destination
// sink under a collision-free name.
package upload

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// Scope identifies the destination a sink resolves to. Both fields are
// required; a scope that does not resolve to a writable target fails with
// CodeDestinationNotFound at construction.
type Scope struct {
	DestinationID string
	RequesterID   string
}

// Sink is a write-once content target keyed by logical name. The existence
// check is only as consistent as the backing store; no cross-process locking
// is assumed.
type Sink interface {
	// Exists reports whether a logical name is already taken.
	Exists(ctx context.Context, name string) (bool, error)

	// WriteArchive uploads a local file under the given name.
	WriteArchive(ctx context.Context, localPath, asName string) error

	// WriteDirectory uploads the files of a local directory under the given
	// target name.
	WriteDirectory(ctx context.Context, localDir, targetName string) error
}

// UniqueName returns base if it is free in the sink, otherwise the first of
// "name(1).ext", "name(2).ext", ... that is. The chosen name is only as safe
// as the sink's existence check; the pipeline treats it as immutable once
// picked.
func UniqueName(ctx context.Context, s Sink, base string) (string, error) {
	taken, err := s.Exists(ctx, base)
	if err != nil {
		return "", err
	}
	if !taken {
		return base, nil
	}

	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	for count := 1; ; count++ {
		candidate := fmt.Sprintf("%s(%d)%s", stem, count, ext)
		taken, err := s.Exists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}
}
