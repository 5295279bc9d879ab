// Package normalize converts arbitrarily-shaped result values into
// mappings that are guaranteed to survive the JSON wire format. The
// conversion is deliberately lossy: a value that cannot be represented
// is dropped, never surfaced as an error.
package normalize

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"math"
	"net/url"
	"reflect"
	"time"

	"go.uber.org/zap"
)

// Dumper is implemented by result types that can render themselves as
// a mapping directly.
type Dumper interface {
	ResultMap() map[string]any
}

// Lister is implemented by container types holding an ordered sequence
// of results.
type Lister interface {
	Results() []any
}

// Normalizer sanitizes values and result containers. The zero value is
// usable; the logger only adds visibility for dropped fields.
type Normalizer struct {
	logger *zap.Logger
}

// New builds a Normalizer. A nil logger disables drop logging.
func New(logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{logger: logger}
}

// Value recursively sanitizes v. Check order matters: nil, temporal,
// path-like, binary, mapping, sequence, then primitive pass-through.
func (n *Normalizer) Value(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	case *time.Time:
		if val == nil {
			return nil
		}
		return val.UTC().Format(time.RFC3339)
	case time.Duration:
		return val.String()
	case *url.URL:
		if val == nil {
			return nil
		}
		return val.String()
	case url.URL:
		return val.String()
	case []byte:
		return base64.StdEncoding.EncodeToString(val)
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return nil
		}
		return val
	case float32:
		f := float64(val)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
		return f
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = n.Value(elem)
		}
		return out
	case []any:
		out := make([]any, 0, len(val))
		for _, elem := range val {
			out = append(out, n.Value(elem))
		}
		return out
	case string, bool, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return val
	default:
		return n.reflectValue(v)
	}
}

// reflectValue handles shapes the type switch cannot name statically:
// arbitrary maps, slices, arrays and sets-as-maps.
func (n *Normalizer) reflectValue(v any) any {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return n.Value(rv.Elem().Interface())
	case reflect.Map:
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			key, ok := iter.Key().Interface().(string)
			if !ok {
				key = asString(iter.Key().Interface())
			}
			out[key] = n.Value(iter.Value().Interface())
		}
		return out
	case reflect.Slice, reflect.Array:
		out := make([]any, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out = append(out, n.Value(rv.Index(i).Interface()))
		}
		return out
	default:
		return n.probe(v)
	}
}

// Single turns one result of unknown shape into a normalized mapping.
func (n *Normalizer) Single(result any) map[string]any {
	var fields map[string]any
	switch r := result.(type) {
	case nil:
		fields = map[string]any{"url": "", "success": false, "error_message": ""}
	case Dumper:
		fields = r.ResultMap()
	case map[string]any:
		fields = make(map[string]any, len(r))
		for k, v := range r {
			fields[k] = v
		}
		if _, ok := fields["success"]; !ok {
			fields["success"] = false
		}
	default:
		fields = synthesize(result)
	}

	out := make(map[string]any, len(fields))
	for k, v := range fields {
		clean := n.Value(v)
		if _, err := json.Marshal(clean); err != nil {
			n.logger.Debug("dropped unserializable result field", zap.String("field", k))
			continue
		}
		out[k] = clean
	}
	return out
}

// Many turns a heterogeneous results container into an ordered slice
// of normalized mappings. A nil container yields an empty slice.
func (n *Normalizer) Many(results any) []map[string]any {
	switch r := results.(type) {
	case nil:
		return []map[string]any{}
	case Lister:
		return n.each(r.Results())
	case []any:
		return n.each(r)
	case []map[string]any:
		items := make([]any, len(r))
		for i, m := range r {
			items[i] = m
		}
		return n.each(items)
	case string, []byte, map[string]any:
		return []map[string]any{n.Single(r)}
	default:
		rv := reflect.ValueOf(results)
		if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
			items := make([]any, 0, rv.Len())
			for i := 0; i < rv.Len(); i++ {
				items = append(items, rv.Index(i).Interface())
			}
			return n.each(items)
		}
		return []map[string]any{n.Single(results)}
	}
}

// Collect drains a finite result stream, normalizing each item as it
// arrives. Cancellation stops collection and returns what was gathered
// so far; it is never an error.
func (n *Normalizer) Collect(ctx context.Context, stream <-chan any) []map[string]any {
	out := []map[string]any{}
	for {
		select {
		case <-ctx.Done():
			return out
		case item, ok := <-stream:
			if !ok {
				return out
			}
			out = append(out, n.Single(item))
		}
	}
}

func (n *Normalizer) each(items []any) []map[string]any {
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		out = append(out, n.Single(item))
	}
	return out
}

// probe keeps a value only when the wire codec accepts it.
func (n *Normalizer) probe(v any) any {
	if _, err := json.Marshal(v); err != nil {
		return nil
	}
	return v
}

// synthesize builds the minimal mapping for a result that exposes no
// structured dump: best-effort url/success/error_message lookups via
// reflection over exported fields.
func synthesize(result any) map[string]any {
	fields := map[string]any{"url": "", "success": false, "error_message": ""}
	rv := reflect.ValueOf(result)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return fields
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return fields
	}
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		if !rv.Field(i).CanInterface() {
			continue
		}
		switch rt.Field(i).Name {
		case "URL", "Url":
			fields["url"] = rv.Field(i).Interface()
		case "Success":
			fields["success"] = rv.Field(i).Interface()
		case "ErrorMessage", "Error":
			fields["error_message"] = rv.Field(i).Interface()
		}
	}
	return fields
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "?"
	}
	return string(b)
}
