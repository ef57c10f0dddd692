// Package ncutil converts between the nested Go slices used by
// go-native-netcdf and the flat row-major float32 grids used by the merge.
package ncutil

import (
	"fmt"
	"math"
	"reflect"
	"slices"

	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/batchatco/go-native-netcdf/netcdf/util"

	"github.com/couchcryptid/storm-mirs-merge/internal/domain"
)

// Flatten walks a (possibly nested) numeric slice returned by a netCDF
// reader and returns its shape and row-major values as float32.
func Flatten(values any) ([]int, []float32, error) {
	v := reflect.ValueOf(values)
	if !v.IsValid() {
		return nil, nil, fmt.Errorf("flatten: nil value")
	}
	if v.Kind() != reflect.Slice {
		f, ok := scalar(v)
		if !ok {
			return nil, nil, fmt.Errorf("flatten: unsupported type %T", values)
		}
		return nil, []float32{f}, nil
	}

	var shape []int
	for cur := v; cur.Kind() == reflect.Slice; {
		shape = append(shape, cur.Len())
		if cur.Len() == 0 {
			break
		}
		cur = cur.Index(0)
	}

	n := 1
	for _, d := range shape {
		n *= d
	}
	out := make([]float32, 0, n)
	if err := walk(v, 0, shape, &out); err != nil {
		return nil, nil, err
	}
	return shape, out, nil
}

func walk(v reflect.Value, depth int, shape []int, out *[]float32) error {
	if v.Kind() == reflect.Slice {
		if depth >= len(shape) || v.Len() != shape[depth] {
			return fmt.Errorf("flatten: ragged slice at depth %d", depth)
		}
		for i := 0; i < v.Len(); i++ {
			if err := walk(v.Index(i), depth+1, shape, out); err != nil {
				return err
			}
		}
		return nil
	}
	f, ok := scalar(v)
	if !ok {
		return fmt.Errorf("flatten: unsupported element type %s", v.Type())
	}
	*out = append(*out, f)
	return nil
}

func scalar(v reflect.Value) (float32, bool) {
	switch v.Kind() {
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64, reflect.Int:
		return float32(v.Int()), true
	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uint:
		return float32(v.Uint()), true
	case reflect.Float32, reflect.Float64:
		return float32(v.Float()), true
	default:
		return 0, false
	}
}

// Nest rebuilds nested float32 slices of the given shape from row-major data,
// the form the cdf writer expects.
func Nest(data []float32, shape []int) (any, error) {
	n := 1
	for _, d := range shape {
		n *= d
	}
	if len(shape) == 0 || n != len(data) {
		return nil, fmt.Errorf("nest: %d values do not fit shape %v", len(data), shape)
	}
	if len(shape) == 1 {
		return slices.Clone(data), nil
	}

	typ := reflect.TypeOf(float32(0))
	for range shape {
		typ = reflect.SliceOf(typ)
	}
	return build(typ, data, shape).Interface(), nil
}

func build(typ reflect.Type, data []float32, shape []int) reflect.Value {
	if len(shape) == 1 {
		return reflect.ValueOf(slices.Clone(data))
	}
	out := reflect.MakeSlice(typ, shape[0], shape[0])
	stride := len(data) / max(shape[0], 1)
	for i := 0; i < shape[0]; i++ {
		out.Index(i).Set(build(typ.Elem(), data[i*stride:(i+1)*stride], shape[1:]))
	}
	return out
}

// Attrs converts a netCDF attribute map into ordered domain attributes,
// keeping only value types the cdf writer can store.
func Attrs(m api.AttributeMap) []domain.Attr {
	if m == nil {
		return nil
	}
	var out []domain.Attr
	for _, key := range m.Keys() {
		v, ok := m.Get(key)
		if !ok || !Storable(v) {
			continue
		}
		out = append(out, domain.Attr{Name: key, Value: v})
	}
	return out
}

// Storable reports whether an attribute value can be written to a classic
// netCDF file.
func Storable(v any) bool {
	switch v.(type) {
	case string, int8, int16, int32, float32, float64,
		[]int8, []int16, []int32, []float32, []float64:
		return true
	default:
		return false
	}
}

// OrderedMap converts domain attributes into the writer's attribute map,
// preserving order.
func OrderedMap(attrs []domain.Attr) (*util.OrderedMap, error) {
	keys := make([]string, 0, len(attrs))
	vals := make(map[string]any, len(attrs))
	for _, a := range attrs {
		if _, dup := vals[a.Name]; dup {
			continue
		}
		keys = append(keys, a.Name)
		vals[a.Name] = a.Value
	}
	return util.NewOrderedMap(keys, vals)
}

// AttrString returns a string-valued attribute, or "".
func AttrString(m api.AttributeMap, key string) string {
	if m == nil {
		return ""
	}
	v, ok := m.Get(key)
	if !ok {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// AttrFloat returns a numeric attribute as float64. Single-element slices
// are unwrapped.
func AttrFloat(m api.AttributeMap, key string) (float64, bool) {
	if m == nil {
		return 0, false
	}
	v, ok := m.Get(key)
	if !ok {
		return 0, false
	}
	_, data, err := Flatten(v)
	if err != nil || len(data) == 0 {
		return 0, false
	}
	return float64(data[0]), true
}

// Strings unwraps netCDF character data, which the reader returns as a
// string, a []string, or nested []string slices, into a flat list.
func Strings(values any) []string {
	switch v := values.(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case [][]string:
		var out []string
		for _, row := range v {
			out = append(out, row...)
		}
		return out
	case []byte:
		return []string{string(v)}
	default:
		return nil
	}
}

// MinMax returns the range of values, skipping NaN and the given fill.
// ok is false when no valid value exists.
func MinMax(data []float32, fill float32) (lo, hi float64, ok bool) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, f := range data {
		if f == fill || math.IsNaN(float64(f)) {
			continue
		}
		lo = math.Min(lo, float64(f))
		hi = math.Max(hi, float64(f))
		ok = true
	}
	return lo, hi, ok
}
