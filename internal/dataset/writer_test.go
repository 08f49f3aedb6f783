package dataset

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestWritePageRejectsUnsupportedFormat(t *testing.T) {
	err := WritePage(filepath.Join(t.TempDir(), "1.xml"), Format("xml"), []Record{{"a": 1}})
	if _, ok := err.(*UnsupportedFormatError); !ok {
		t.Fatalf("expected UnsupportedFormatError, got %v", err)
	}
}

func TestWritePageRejectsMismatchedExtension(t *testing.T) {
	err := WritePage(filepath.Join(t.TempDir(), "1.csv"), FormatJSON, []Record{{"a": 1}})
	if _, ok := err.(*UnsupportedFormatError); !ok {
		t.Fatalf("expected UnsupportedFormatError for extension mismatch, got %v", err)
	}
}

func TestWritePageEmptyCreatesNoFile(t *testing.T) {
	for _, format := range []Format{FormatParquet, FormatCSV, FormatJSON} {
		path := filepath.Join(t.TempDir(), "1"+format.Ext())
		if err := WritePage(path, format, nil); err != nil {
			t.Fatalf("%s: unexpected error: %v", format, err)
		}
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Errorf("%s: empty page must not create a file", format)
		}
	}
}

func TestParquetPageRoundTrip(t *testing.T) {
	records := []Record{
		{"id": int64(1), "name": "alpha", "score": 1.5, "flagged": true, "note": nil},
		{"id": int64(2), "name": "beta", "score": -0.25, "flagged": false, "note": "checked"},
	}
	path := filepath.Join(t.TempDir(), "1.parquet")
	if err := WritePage(path, FormatParquet, records); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	got, err := ReadParquetPage(path)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if len(got) != len(records) {
		t.Fatalf("expected %d records, got %d", len(records), len(got))
	}
	for i, want := range records {
		if !reflect.DeepEqual(got[i], want) {
			t.Errorf("record %d: got %#v, want %#v", i, got[i], want)
		}
	}
}

func TestJSONPageRoundTrip(t *testing.T) {
	records := []Record{
		{"id": float64(1), "tags": []any{"a", "b"}},
		{"id": float64(2), "nested": map[string]any{"k": "v"}},
	}
	path := filepath.Join(t.TempDir(), "1.json")
	if err := WritePage(path, FormatJSON, records); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	got, err := ReadJSONPage(path)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !reflect.DeepEqual(got, records) {
		t.Errorf("round trip mismatch: got %#v, want %#v", got, records)
	}
}

func TestCSVPageEncodesNestedValues(t *testing.T) {
	records := []Record{
		{"id": int64(1), "tags": []any{"a", "b"}, "meta": map[string]any{"k": "v"}},
	}
	path := filepath.Join(t.TempDir(), "1.csv")
	if err := WritePage(path, FormatCSV, records); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected header plus one row, got %d rows", len(rows))
	}
	// Header is the sorted union of field names.
	wantHeader := []string{"id", "meta", "tags"}
	if !reflect.DeepEqual(rows[0], wantHeader) {
		t.Errorf("header: got %v, want %v", rows[0], wantHeader)
	}
	// Nested cells are JSON so the text stays losslessly re-parseable.
	if rows[1][1] != `{"k":"v"}` {
		t.Errorf("meta cell: got %q", rows[1][1])
	}
	if rows[1][2] != `["a","b"]` {
		t.Errorf("tags cell: got %q", rows[1][2])
	}
}

func TestWritePageLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "1.json")
	if err := WritePage(path, FormatJSON, []Record{{"a": float64(1)}}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "1.json" {
		t.Errorf("expected exactly 1.json, got %v", entries)
	}
}
