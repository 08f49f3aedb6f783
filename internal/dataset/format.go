// Package dataset writes search result pages to disk and consolidates them
// into a single output file, in one of three formats: parquet, csv, or json.
package dataset

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Record is one schema-less search result entry.
type Record = map[string]any

// Format identifies the on-disk serialization of page and output files.
type Format string

const (
	FormatParquet Format = "parquet"
	FormatCSV     Format = "csv"
	FormatJSON    Format = "json"
)

// ParseFormat converts a user-supplied format string into a Format.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatParquet:
		return FormatParquet, nil
	case FormatCSV:
		return FormatCSV, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", &UnsupportedFormatError{Value: s}
	}
}

// Valid reports whether f is one of the supported formats.
func (f Format) Valid() bool {
	switch f {
	case FormatParquet, FormatCSV, FormatJSON:
		return true
	}
	return false
}

// Ext returns the file extension for the format, including the dot.
func (f Format) Ext() string {
	return "." + string(f)
}

// FormatForPath derives the format from a file path's extension.
func FormatForPath(path string) (Format, error) {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	return ParseFormat(ext)
}

// UnsupportedFormatError reports an output format that is not one of
// parquet, csv, or json, or a path whose extension does not match the
// requested format.
type UnsupportedFormatError struct {
	Value string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported file format %q: use parquet, csv, or json", e.Value)
}

// SchemaConflictError reports two page files whose column types cannot be
// reconciled into one schema.
type SchemaConflictError struct {
	Path  string
	Field string
	Left  string
	Right string
}

func (e *SchemaConflictError) Error() string {
	return fmt.Sprintf("schema conflict in %s: field %q has irreconcilable types %s and %s",
		e.Path, e.Field, e.Left, e.Right)
}

// MalformedPageError reports a page file that exists but cannot be parsed.
type MalformedPageError struct {
	Path string
	Err  error
}

func (e *MalformedPageError) Error() string {
	return fmt.Sprintf("malformed page file %s: %v", e.Path, e.Err)
}

func (e *MalformedPageError) Unwrap() error { return e.Err }
