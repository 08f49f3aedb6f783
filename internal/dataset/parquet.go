package dataset

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"
)

// parquetReadBatch is the number of rows materialized per read during
// consolidation. Resident memory is bounded by this, not by total row count.
const parquetReadBatch = 1024

// writeParquetPage writes one page with SNAPPY compression. Pages favor write
// latency; the consolidated artifact re-compresses with ZSTD.
func writeParquetPage(path string, records []Record) error {
	schema, err := InferSchema(records)
	if err != nil {
		return err
	}
	return writeParquetFile(path, schema, parquet.CompressionCodec_SNAPPY, func(emit func(Record) error) error {
		for _, rec := range records {
			if err := emit(rec); err != nil {
				return err
			}
		}
		return nil
	})
}

// writeParquetFile streams rows produced by fill into a parquet file at path.
func writeParquetFile(path string, schema *Schema, codec parquet.CompressionCodec, fill func(emit func(Record) error) error) error {
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return err
	}
	pw, err := writer.NewJSONWriter(schema.parquetTag(), fw, 4)
	if err != nil {
		fw.Close()
		return err
	}
	pw.CompressionType = codec

	emit := func(rec Record) error {
		row := projectRow(rec, schema)
		b, err := json.Marshal(row)
		if err != nil {
			return err
		}
		return pw.Write(string(b))
	}

	if err := fill(emit); err != nil {
		_ = pw.WriteStop()
		_ = fw.Close()
		return err
	}
	if err := pw.WriteStop(); err != nil {
		_ = fw.Close()
		return err
	}
	return fw.Close()
}

// parquetPage is an open page file positioned for batch reads.
type parquetPage struct {
	path    string
	fr      source.ParquetFile
	pr      *reader.ParquetReader
	schema  *Schema
	numRows int64
	read    int64
}

func openParquetPage(path string) (*parquetPage, error) {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, &MalformedPageError{Path: path, Err: err}
	}
	pr, err := reader.NewParquetReader(fr, nil, 4)
	if err != nil {
		fr.Close()
		return nil, &MalformedPageError{Path: path, Err: err}
	}

	schema, err := schemaFromFooter(pr)
	if err != nil {
		pr.ReadStop()
		fr.Close()
		return nil, &MalformedPageError{Path: path, Err: err}
	}

	return &parquetPage{
		path:    path,
		fr:      fr,
		pr:      pr,
		schema:  schema,
		numRows: pr.GetNumRows(),
	}, nil
}

func (p *parquetPage) Close() {
	p.pr.ReadStop()
	_ = p.fr.Close()
}

// ReadBatch returns up to max records, or nil when the page is exhausted.
// Column values come back under their original field names with OPTIONAL
// columns dereferenced, so nulls stay nil.
func (p *parquetPage) ReadBatch(max int) ([]Record, error) {
	if p.read >= p.numRows {
		return nil, nil
	}
	if remaining := p.numRows - p.read; int64(max) > remaining {
		max = int(remaining)
	}

	rows, err := p.pr.ReadByNumber(max)
	if err != nil {
		return nil, &MalformedPageError{Path: p.path, Err: err}
	}
	if len(rows) == 0 {
		return nil, nil
	}
	p.read += int64(len(rows))

	// ReadByNumber yields reflect-built structs whose fields follow the leaf
	// order of the footer schema; Infos carries the original (ex) names.
	infos := p.pr.SchemaHandler.Infos
	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		rv := reflect.ValueOf(row)
		if rv.Kind() != reflect.Struct || rv.NumField() > len(infos)-1 {
			return nil, &MalformedPageError{Path: p.path, Err: fmt.Errorf("unexpected row shape %T", row)}
		}
		rec := make(Record, rv.NumField())
		for i := 0; i < rv.NumField(); i++ {
			name := infos[i+1].ExName
			fv := rv.Field(i)
			if fv.Kind() == reflect.Ptr {
				if fv.IsNil() {
					rec[name] = nil
					continue
				}
				fv = fv.Elem()
			}
			rec[name] = fv.Interface()
		}
		records = append(records, rec)
	}
	return records, nil
}

func schemaFromFooter(pr *reader.ParquetReader) (*Schema, error) {
	elements := pr.Footer.GetSchema()
	if len(elements) < 1 {
		return nil, fmt.Errorf("empty parquet schema")
	}
	// Footer elements carry parquet-go's mangled Go field names; Infos holds
	// the original (ex) names that ReadBatch keys records by. The schema must
	// use the same names or projection misses every column.
	infos := pr.SchemaHandler.Infos
	if len(infos) != len(elements) {
		return nil, fmt.Errorf("parquet schema has %d elements but %d infos", len(elements), len(infos))
	}
	types := map[string]FieldType{}
	for i, el := range elements[1:] {
		if el.Type == nil {
			return nil, fmt.Errorf("nested parquet schema element %q is not supported", el.GetName())
		}
		types[infos[i+1].ExName] = fieldTypeFromParquet(el.GetType())
	}
	return schemaFromTypes(types), nil
}

// ReadParquetPage reads a whole page file back into records. Intended for
// small pages and tests; consolidation streams batches instead.
func ReadParquetPage(path string) ([]Record, error) {
	page, err := openParquetPage(path)
	if err != nil {
		return nil, err
	}
	defer page.Close()

	var records []Record
	for {
		batch, err := page.ReadBatch(parquetReadBatch)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			return records, nil
		}
		records = append(records, batch...)
	}
}
