package persistence

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// String returns a string field, or "" when absent or not a string
func (d Document) String(key string) string {
	switch v := d[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

// Int returns an integer field, accepting numbers and numeric strings
func (d Document) Int(key string) int {
	switch v := d[key].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0
		}
		return int(v)
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			f, ferr := v.Float64()
			if ferr != nil {
				return 0
			}
			return int(f)
		}
		return int(n)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

// Bool returns a boolean field, or false when absent
func (d Document) Bool(key string) bool {
	v, _ := d[key].(bool)
	return v
}

// Time returns a time field stored either natively or as RFC 3339 text
func (d Document) Time(key string) time.Time {
	switch v := d[key].(type) {
	case time.Time:
		return v
	case *time.Time:
		if v == nil {
			return time.Time{}
		}
		return *v
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}
		}
		return t
	default:
		return time.Time{}
	}
}

// Map returns a nested document, or nil when absent
func (d Document) Map(key string) Document {
	switch v := d[key].(type) {
	case Document:
		return v
	case map[string]any:
		return Document(v)
	default:
		return nil
	}
}

// Maps returns a list of nested documents, skipping non-map entries
func (d Document) Maps(key string) []Document {
	var out []Document
	switch v := d[key].(type) {
	case []any:
		for _, item := range v {
			switch m := item.(type) {
			case map[string]any:
				out = append(out, Document(m))
			case Document:
				out = append(out, m)
			}
		}
	case []map[string]any:
		for _, m := range v {
			out = append(out, Document(m))
		}
	case []Document:
		out = append(out, v...)
	}
	return out
}

// Clone returns a deep copy of the document
func (d Document) Clone() Document {
	return cloneDocument(d)
}

// CloneSnapshots deep-copies a query result
func CloneSnapshots(snaps []Snapshot) []Snapshot {
	out := make([]Snapshot, len(snaps))
	for i, s := range snaps {
		s.Data = cloneDocument(s.Data)
		out[i] = s
	}
	return out
}

// Has reports whether the field is present
func (d Document) Has(key string) bool {
	_, ok := d[key]
	return ok
}

// cloneValue deep-copies maps and slices so stored documents never alias
// caller memory
func cloneValue(v any) any {
	switch t := v.(type) {
	case Document:
		return map[string]any(cloneDocument(t))
	case map[string]any:
		return map[string]any(cloneDocument(Document(t)))
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	case []map[string]any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	case []Document:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

func cloneDocument(d Document) Document {
	if d == nil {
		return Document{}
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

// mergeDocument merges src into dst, recursing into nested maps
func mergeDocument(dst, src Document) Document {
	out := cloneDocument(dst)
	for k, v := range src {
		srcMap, srcIsMap := asMap(v)
		dstMap, dstIsMap := asMap(out[k])
		if srcIsMap && dstIsMap {
			out[k] = map[string]any(mergeDocument(dstMap, srcMap))
			continue
		}
		out[k] = cloneValue(v)
	}
	return out
}

func asMap(v any) (Document, bool) {
	switch t := v.(type) {
	case Document:
		return t, true
	case map[string]any:
		return Document(t), true
	default:
		return nil, false
	}
}

// numeric converts any numeric representation to a decimal
func numeric(v any) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int32:
		return decimal.NewFromInt32(n), true
	case int64:
		return decimal.NewFromInt(n), true
	case float32:
		return decimal.NewFromFloat32(n), true
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return decimal.Zero, false
		}
		return decimal.NewFromFloat(n), true
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		return d, err == nil
	case decimal.Decimal:
		return n, true
	default:
		return decimal.Zero, false
	}
}
