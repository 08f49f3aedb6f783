package dataset

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/xitongsys/parquet-go/parquet"
)

// FieldType is the reconciled column type used for parquet schemas.
type FieldType string

const (
	TypeBool   FieldType = "BOOLEAN"
	TypeInt64  FieldType = "INT64"
	TypeDouble FieldType = "DOUBLE"
	// TypeString covers text and any nested value, which is JSON-encoded
	// into a byte-array column.
	TypeString FieldType = "BYTE_ARRAY"
)

// Field is one named, typed column.
type Field struct {
	Name string
	Type FieldType
}

// Schema is an ordered set of columns. Fields are kept in sorted name order so
// that schemas derived from the same field set compare and merge identically
// regardless of input order.
type Schema struct {
	Fields []Field
}

// FieldNames returns the column names in schema order.
func (s *Schema) FieldNames() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// InferSchema derives a schema from a page of records. A field's type is
// widened across records (INT64 and DOUBLE reconcile to DOUBLE). Fields that
// are null in every record carry no type information and are omitted; schema
// unification during consolidation restores them from pages where they are
// populated.
func InferSchema(records []Record) (*Schema, error) {
	types := map[string]FieldType{}
	for _, rec := range records {
		for name, val := range rec {
			vt, ok := valueType(val)
			if !ok {
				continue
			}
			prev, seen := types[name]
			if !seen {
				types[name] = vt
				continue
			}
			widened, err := widen(prev, vt)
			if err != nil {
				return nil, &SchemaConflictError{Field: name, Left: string(prev), Right: string(vt)}
			}
			types[name] = widened
		}
	}
	return schemaFromTypes(types), nil
}

// Unify merges another schema into this one, widening where possible.
// The result is independent of merge order.
func (s *Schema) Unify(other *Schema) (*Schema, error) {
	types := map[string]FieldType{}
	for _, f := range s.Fields {
		types[f.Name] = f.Type
	}
	for _, f := range other.Fields {
		prev, seen := types[f.Name]
		if !seen {
			types[f.Name] = f.Type
			continue
		}
		widened, err := widen(prev, f.Type)
		if err != nil {
			return nil, &SchemaConflictError{Field: f.Name, Left: string(prev), Right: string(f.Type)}
		}
		types[f.Name] = widened
	}
	return schemaFromTypes(types), nil
}

func schemaFromTypes(types map[string]FieldType) *Schema {
	names := make([]string, 0, len(types))
	for name := range types {
		names = append(names, name)
	}
	sort.Strings(names)

	fields := make([]Field, 0, len(names))
	for _, name := range names {
		fields = append(fields, Field{Name: name, Type: types[name]})
	}
	return &Schema{Fields: fields}
}

func valueType(val any) (FieldType, bool) {
	switch val.(type) {
	case nil:
		return "", false
	case bool:
		return TypeBool, true
	case int, int32, int64:
		return TypeInt64, true
	case float32, float64:
		return TypeDouble, true
	case string:
		return TypeString, true
	default:
		// Nested lists and maps are JSON-encoded into a text column.
		return TypeString, true
	}
}

func widen(a, b FieldType) (FieldType, error) {
	if a == b {
		return a, nil
	}
	if (a == TypeInt64 && b == TypeDouble) || (a == TypeDouble && b == TypeInt64) {
		return TypeDouble, nil
	}
	return "", fmt.Errorf("incompatible types %s and %s", a, b)
}

// parquetTag renders the schema as the JSON tag document consumed by
// parquet-go's JSON writer. Every column is OPTIONAL so null values survive.
func (s *Schema) parquetTag() string {
	fields := make([]map[string]string, 0, len(s.Fields))
	for _, f := range s.Fields {
		tag := fmt.Sprintf("name=%s, type=%s, repetitiontype=OPTIONAL", f.Name, f.Type)
		if f.Type == TypeString {
			tag = fmt.Sprintf("name=%s, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL", f.Name)
		}
		fields = append(fields, map[string]string{"Tag": tag})
	}
	out := map[string]any{
		"Tag":    "name=parquet_go_root, repetitiontype=REQUIRED",
		"Fields": fields,
	}
	b, _ := json.Marshal(out)
	return string(b)
}

// fieldTypeFromParquet maps a footer schema element back to a FieldType.
func fieldTypeFromParquet(t parquet.Type) FieldType {
	switch t {
	case parquet.Type_BOOLEAN:
		return TypeBool
	case parquet.Type_INT32, parquet.Type_INT64:
		return TypeInt64
	case parquet.Type_FLOAT, parquet.Type_DOUBLE:
		return TypeDouble
	default:
		return TypeString
	}
}

// projectRow shapes a record onto the schema, coercing values to the column
// type. Values absent from the record come out as nulls; nested values are
// JSON-encoded.
func projectRow(rec Record, schema *Schema) map[string]any {
	row := make(map[string]any, len(schema.Fields))
	for _, f := range schema.Fields {
		val, ok := rec[f.Name]
		if !ok || val == nil {
			row[f.Name] = nil
			continue
		}
		row[f.Name] = coerceValue(val, f.Type)
	}
	return row
}

func coerceValue(val any, t FieldType) any {
	switch t {
	case TypeBool:
		if b, ok := val.(bool); ok {
			return b
		}
	case TypeInt64:
		switch v := val.(type) {
		case int:
			return int64(v)
		case int32:
			return int64(v)
		case int64:
			return v
		case float64:
			return int64(v)
		}
	case TypeDouble:
		switch v := val.(type) {
		case int:
			return float64(v)
		case int32:
			return float64(v)
		case int64:
			return float64(v)
		case float32:
			return float64(v)
		case float64:
			return v
		}
	case TypeString:
		if s, ok := val.(string); ok {
			return s
		}
		b, err := json.Marshal(val)
		if err == nil {
			return string(b)
		}
	}
	return nil
}
