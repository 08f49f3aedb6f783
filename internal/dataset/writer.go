package dataset

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// WritePage serializes one page of records to path. The path extension must
// match the format. An empty page is a no-op: no file is created, because the
// pipeline uses file presence as the signal that a page holds records.
//
// CSV and JSON pages are written to a temporary path and renamed into place so
// a crash mid-write never leaves a truncated page visible to consolidation.
func WritePage(path string, format Format, records []Record) error {
	if !format.Valid() {
		return &UnsupportedFormatError{Value: string(format)}
	}
	if !strings.HasSuffix(path, format.Ext()) {
		return &UnsupportedFormatError{Value: path}
	}
	if len(records) == 0 {
		return nil
	}

	switch format {
	case FormatParquet:
		return writeParquetPage(path, records)
	case FormatCSV:
		return writeCSVPage(path, records)
	case FormatJSON:
		return writeJSONPage(path, records)
	}
	return &UnsupportedFormatError{Value: string(format)}
}

func writeCSVPage(path string, records []Record) error {
	schema, err := InferSchema(records)
	if err != nil {
		return err
	}
	header := schema.FieldNames()

	return atomicWrite(path, func(f *os.File) error {
		w := csv.NewWriter(f)
		if err := w.Write(header); err != nil {
			return err
		}
		row := make([]string, len(header))
		for _, rec := range records {
			for i, name := range header {
				row[i] = csvCell(rec[name])
			}
			if err := w.Write(row); err != nil {
				return err
			}
		}
		w.Flush()
		return w.Error()
	})
}

// csvCell renders a value into a delimited-text cell. Nested values have no
// native representation in CSV, so they are JSON-encoded; the encoding is
// lossless for re-parsing the cell as text.
func csvCell(val any) string {
	switch v := val.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.FormatInt(int64(v), 10)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 64)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

func writeJSONPage(path string, records []Record) error {
	data, err := json.MarshalIndent(records, "", "    ")
	if err != nil {
		return err
	}
	return atomicWrite(path, func(f *os.File) error {
		_, err := f.Write(data)
		return err
	})
}

// atomicWrite writes via a temp file in the same directory and renames on
// success only.
func atomicWrite(path string, write func(*os.File) error) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
