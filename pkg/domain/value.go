package domain

import (
	"fmt"
	"math"
	"reflect"
)

// Kind identifies which member of the document value set a field holds.
// The set mirrors the native types of the on-disk encoding.
type Kind uint8

const (
	KindNil Kind = iota
	KindString
	KindInt
	KindUint
	KindFloat
	KindBool
	KindBytes
	KindArray
	KindMap
)

var kindNames = [...]string{
	KindNil:    "nil",
	KindString: "string",
	KindInt:    "int",
	KindUint:   "uint",
	KindFloat:  "float",
	KindBool:   "bool",
	KindBytes:  "bytes",
	KindArray:  "array",
	KindMap:    "map",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// KindOf classifies v. The second result is false for values that cannot be
// stored in a document. Typed slices, arrays and string-keyed maps are
// accepted alongside their interface{} forms.
func KindOf(v interface{}) (Kind, bool) {
	switch v.(type) {
	case nil:
		return KindNil, true
	case string:
		return KindString, true
	case int, int8, int16, int32, int64:
		return KindInt, true
	case uint, uint8, uint16, uint32, uint64:
		return KindUint, true
	case float32, float64:
		return KindFloat, true
	case bool:
		return KindBool, true
	case []byte:
		return KindBytes, true
	case []interface{}, []string:
		return KindArray, true
	case map[string]interface{}, Document:
		return KindMap, true
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return KindBytes, true
		}
		return KindArray, true
	case reflect.Map:
		if rv.Type().Key().Kind() == reflect.String {
			return KindMap, true
		}
	}
	return KindNil, false
}

// AsSlice returns the elements of an array value. Byte slices are not arrays.
func AsSlice(v interface{}) ([]interface{}, bool) {
	switch s := v.(type) {
	case []interface{}:
		return s, true
	case []byte:
		return nil, false
	case []string:
		out := make([]interface{}, len(s))
		for i, item := range s {
			out[i] = item
		}
		return out, true
	}

	rv := reflect.ValueOf(v)
	if (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) || rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	out := make([]interface{}, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// AsMap returns the entries of a string-keyed map value.
func AsMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case Document:
		return m, true
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	out := make(map[string]interface{}, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out, true
}

// AsBytes returns the contents of a byte slice or byte array value.
func AsBytes(v interface{}) ([]byte, bool) {
	if b, ok := v.([]byte); ok {
		return b, true
	}
	rv := reflect.ValueOf(v)
	if (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) || rv.Type().Elem().Kind() != reflect.Uint8 {
		return nil, false
	}
	out := make([]byte, rv.Len())
	for i := range out {
		out[i] = byte(rv.Index(i).Uint())
	}
	return out, true
}

// ValidateDocument checks that doc carries a string identifier and that every
// value, recursively, belongs to the supported value set.
func ValidateDocument(doc Document) error {
	if doc == nil {
		return fmt.Errorf("%w: document is nil", ErrInvalidArgument)
	}
	if _, ok := doc.Key(); !ok {
		return fmt.Errorf("%w: document must have a string %q field", ErrInvalidArgument, KeyField)
	}
	for field, value := range doc {
		if err := validateValue(value); err != nil {
			return fmt.Errorf("%w: field %q: %v", ErrInvalidArgument, field, err)
		}
	}
	return nil
}

// ValidatePatch checks the values of a partial update. The identifier field
// is ignored since merges never apply it.
func ValidatePatch(patch Document) error {
	for field, value := range patch {
		if field == KeyField {
			continue
		}
		if err := validateValue(value); err != nil {
			return fmt.Errorf("%w: field %q: %v", ErrInvalidArgument, field, err)
		}
	}
	return nil
}

func validateValue(v interface{}) error {
	kind, ok := KindOf(v)
	if !ok {
		return fmt.Errorf("unsupported value type %T", v)
	}
	switch kind {
	case KindArray:
		items, _ := AsSlice(v)
		for i, item := range items {
			if err := validateValue(item); err != nil {
				return fmt.Errorf("index %d: %w", i, err)
			}
		}
	case KindMap:
		m, _ := AsMap(v)
		for k, item := range m {
			if err := validateValue(item); err != nil {
				return fmt.Errorf("key %q: %w", k, err)
			}
		}
	}
	return nil
}

// NormalizeValue brings a value into the canonical form produced by
// decoding: integers become int64 (uint64 only when they overflow int64),
// float32 becomes float64, byte containers become []byte, arrays become
// []interface{} and maps become map[string]interface{}, recursively.
func NormalizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case nil, string, bool, float64, int64, []byte:
		return v
	case int:
		return int64(val)
	case int8:
		return int64(val)
	case int16:
		return int64(val)
	case int32:
		return int64(val)
	case uint:
		return normalizeUint(uint64(val))
	case uint8:
		return int64(val)
	case uint16:
		return int64(val)
	case uint32:
		return int64(val)
	case uint64:
		return normalizeUint(val)
	case float32:
		return float64(val)
	case Document:
		return map[string]interface{}(NormalizeDocument(val))
	case map[string]interface{}:
		return map[string]interface{}(NormalizeDocument(val))
	case []interface{}:
		for i := range val {
			val[i] = NormalizeValue(val[i])
		}
		return val
	}

	if b, ok := AsBytes(v); ok {
		return b
	}
	if items, ok := AsSlice(v); ok {
		for i := range items {
			items[i] = NormalizeValue(items[i])
		}
		return items
	}
	if m, ok := AsMap(v); ok {
		return map[string]interface{}(NormalizeDocument(m))
	}
	return v
}

// NormalizeDocument normalizes every field of doc in place and returns it.
func NormalizeDocument(doc Document) Document {
	for k, v := range doc {
		doc[k] = NormalizeValue(v)
	}
	return doc
}

func normalizeUint(u uint64) interface{} {
	if u <= math.MaxInt64 {
		return int64(u)
	}
	return u
}
