package tursoorm

import (
	"fmt"
	"strings"
	"time"
)

// Field maps one result column into a Row.
type Field struct {
	// Path is the key sequence inside the Row; a single element is a top level
	// key, more elements produce nested maps. When empty, Column is used.
	Path []string
	// Column is the name of the source column.
	Column string
	// Decode optionally converts the driver value before it is stored.
	Decode func(v any) (any, error)
}

func (f Field) key() []string {
	if len(f.Path) > 0 {
		return f.Path
	}
	return []string{f.Column}
}

// Fields is the ordered field descriptor of a row-returning statement, one
// entry per result column. A nil Fields means the statement returns no rows.
type Fields []Field

// Row is a result row after mapping through Fields.
type Row map[string]any

// RowMapper turns a raw result tuple into a Row.
type RowMapper func(fields Fields, values []any) (Row, error)

// MapResultRow is the default RowMapper.
func MapResultRow(fields Fields, values []any) (Row, error) {
	if len(fields) != len(values) {
		return nil, fmt.Errorf("%w: row has %d columns, descriptor has %d", ErrColumnMismatch, len(values), len(fields))
	}
	row := make(Row, len(fields))
	for i, f := range fields {
		v := values[i]
		if f.Decode != nil && v != nil {
			decoded, err := f.Decode(v)
			if err != nil {
				return nil, fmt.Errorf("tursoorm: decode column %q: %w", f.Column, err)
			}
			v = decoded
		}
		path := f.key()
		node := row
		for _, k := range path[:len(path)-1] {
			child, ok := node[k].(Row)
			if !ok {
				child = Row{}
				node[k] = child
			}
			node = child
		}
		node[path[len(path)-1]] = v
	}
	return row, nil
}

// SQLiteTimestampFormats are the text layouts accepted by DecodeTime. They
// follow github.com/mattn/go-sqlite3.
var SQLiteTimestampFormats = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"2006-01-02",
}

// DecodeTime converts SQLite timestamp text or unix seconds into time.Time (UTC).
func DecodeTime(v any) (any, error) {
	switch x := v.(type) {
	case time.Time:
		return x, nil
	case int64:
		return time.Unix(x, 0).UTC(), nil
	case []byte:
		return parseTimeString(string(x))
	case string:
		return parseTimeString(x)
	default:
		return nil, fmt.Errorf("cannot convert %T to time", v)
	}
}

// DecodeBool converts SQLite 0/1 integers into bool.
func DecodeBool(v any) (any, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case int64:
		return x != 0, nil
	case float64:
		return x != 0, nil
	default:
		return nil, fmt.Errorf("cannot convert %T to bool", v)
	}
}

func parseTimeString(s string) (time.Time, error) {
	// go-sqlite3 strips a trailing "Z" before parsing
	s = strings.TrimSuffix(s, "Z")
	for _, format := range SQLiteTimestampFormats {
		if t, err := time.ParseInLocation(format, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse %q as time", s)
}
