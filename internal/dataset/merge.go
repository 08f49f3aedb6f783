package dataset

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/xitongsys/parquet-go/parquet"
)

// Consolidate merges an ordered list of same-format page files into a single
// output file at outputPath, streaming so resident memory stays bounded by one
// batch (parquet), one row (csv), or one element (json) rather than by the
// total record count. Row order is the concatenation of the inputs in page
// order.
//
// The output is written to a temporary path and renamed on success only; a
// malformed page or a cancelled context leaves no partial artifact behind.
func Consolidate(ctx context.Context, pageFiles []string, outputPath string) (string, error) {
	format, err := FormatForPath(outputPath)
	if err != nil {
		return "", err
	}
	if len(pageFiles) == 0 {
		return "", fmt.Errorf("no page files to consolidate")
	}
	for _, p := range pageFiles {
		if !strings.HasSuffix(p, format.Ext()) {
			return "", &UnsupportedFormatError{Value: p}
		}
	}

	tmp := outputPath + ".tmp"
	switch format {
	case FormatParquet:
		err = consolidateParquet(ctx, pageFiles, tmp)
	case FormatCSV:
		err = consolidateCSV(ctx, pageFiles, tmp)
	case FormatJSON:
		err = consolidateJSON(ctx, pageFiles, tmp)
	default:
		err = &UnsupportedFormatError{Value: string(format)}
	}
	if err != nil {
		os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, outputPath); err != nil {
		os.Remove(tmp)
		return "", err
	}
	return outputPath, nil
}

// consolidateParquet builds the unified schema from the page footers, then
// streams record batches from each page through a single ZSTD-compressed
// writer. Pages are compressed for write speed; the merged artifact is
// downloaded once and stored long-term, so it trades write time for size.
func consolidateParquet(ctx context.Context, pageFiles []string, tmp string) error {
	unified, err := unifiedParquetSchema(pageFiles)
	if err != nil {
		return err
	}

	return writeParquetFile(tmp, unified, parquet.CompressionCodec_ZSTD, func(emit func(Record) error) error {
		for _, path := range pageFiles {
			page, err := openParquetPage(path)
			if err != nil {
				return err
			}
			for {
				if err := ctx.Err(); err != nil {
					page.Close()
					return err
				}
				batch, err := page.ReadBatch(parquetReadBatch)
				if err != nil {
					page.Close()
					return err
				}
				if len(batch) == 0 {
					break
				}
				for _, rec := range batch {
					if err := emit(rec); err != nil {
						page.Close()
						return err
					}
				}
			}
			page.Close()
		}
		return nil
	})
}

// unifiedParquetSchema reads only the footer of each page. Unification is
// widening and order-independent; an irreconcilable pair surfaces as a
// SchemaConflictError naming the page that introduced it.
func unifiedParquetSchema(pageFiles []string) (*Schema, error) {
	var unified *Schema
	for _, path := range pageFiles {
		page, err := openParquetPage(path)
		if err != nil {
			return nil, err
		}
		schema := page.schema
		page.Close()

		if unified == nil {
			unified = schema
			continue
		}
		merged, err := unified.Unify(schema)
		if err != nil {
			if conflict, ok := err.(*SchemaConflictError); ok {
				conflict.Path = path
			}
			return nil, err
		}
		unified = merged
	}
	return unified, nil
}

func consolidateCSV(ctx context.Context, pageFiles []string, tmp string) error {
	// First pass: headers only, to unify columns before rows are re-emitted.
	headers := make([][]string, len(pageFiles))
	unified := map[string]FieldType{}
	for i, path := range pageFiles {
		header, err := readCSVHeader(path)
		if err != nil {
			return err
		}
		headers[i] = header
		for _, name := range header {
			unified[name] = TypeString
		}
	}
	outHeader := schemaFromTypes(unified).FieldNames()

	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.Write(outHeader); err != nil {
		return err
	}

	outRow := make([]string, len(outHeader))
	for i, path := range pageFiles {
		if err := copyCSVRows(ctx, path, headers[i], outHeader, outRow, w); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}

func readCSVHeader(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &MalformedPageError{Path: path, Err: err}
	}
	defer f.Close()
	header, err := csv.NewReader(f).Read()
	if err != nil {
		return nil, &MalformedPageError{Path: path, Err: err}
	}
	return header, nil
}

func copyCSVRows(ctx context.Context, path string, header, outHeader, outRow []string, w *csv.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return &MalformedPageError{Path: path, Err: err}
	}
	defer f.Close()

	r := csv.NewReader(f)
	if _, err := r.Read(); err != nil {
		return &MalformedPageError{Path: path, Err: err}
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[name] = i
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		row, err := r.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return &MalformedPageError{Path: path, Err: err}
		}
		for i, name := range outHeader {
			if j, ok := index[name]; ok && j < len(row) {
				outRow[i] = row[j]
			} else {
				outRow[i] = ""
			}
		}
		if err := w.Write(outRow); err != nil {
			return err
		}
	}
}

// consolidateJSON re-emits each page's top-level elements one at a time into a
// single array, never parsing a whole document. Separators are emitted
// incrementally so the output stays valid JSON: exactly one array wrapping all
// elements in page order.
func consolidateJSON(ctx context.Context, pageFiles []string, tmp string) error {
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteString("["); err != nil {
		return err
	}
	first := true
	for _, path := range pageFiles {
		if err := copyJSONElements(ctx, path, f, &first); err != nil {
			return err
		}
	}
	if _, err := f.WriteString("\n]"); err != nil {
		return err
	}
	return f.Close()
}

func copyJSONElements(ctx context.Context, path string, out *os.File, first *bool) error {
	f, err := os.Open(path)
	if err != nil {
		return &MalformedPageError{Path: path, Err: err}
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	tok, err := dec.Token()
	if err != nil {
		return &MalformedPageError{Path: path, Err: err}
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return &MalformedPageError{Path: path, Err: fmt.Errorf("expected a top-level array, got %v", tok)}
	}

	for dec.More() {
		if err := ctx.Err(); err != nil {
			return err
		}
		var element json.RawMessage
		if err := dec.Decode(&element); err != nil {
			return &MalformedPageError{Path: path, Err: err}
		}
		sep := ",\n"
		if *first {
			sep = "\n"
			*first = false
		}
		if _, err := out.WriteString(sep); err != nil {
			return err
		}
		if _, err := out.Write(element); err != nil {
			return err
		}
	}
	if _, err := dec.Token(); err != nil {
		return &MalformedPageError{Path: path, Err: err}
	}
	return nil
}

// ReadJSONPage reads a whole structured page back into records, for tests and
// round-trip checks.
func ReadJSONPage(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &MalformedPageError{Path: path, Err: err}
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, &MalformedPageError{Path: path, Err: err}
	}
	return records, nil
}
