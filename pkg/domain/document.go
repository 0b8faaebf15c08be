package domain

import "reflect"

// KeyField is the mandatory identifier field of every stored document.
const KeyField = "_key"

// Document represents a document in the database
type Document map[string]interface{}

// Key returns the document identifier and whether it is present as a string.
func (d Document) Key() (string, bool) {
	if d == nil {
		return "", false
	}
	key, ok := d[KeyField].(string)
	return key, ok
}

// Clone returns a deep copy of the document. Nested maps, slices and byte
// slices are copied so the clone shares no mutable state with d.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

// Merge copies every field of patch into d except the identifier field.
func (d Document) Merge(patch Document) {
	for field, value := range patch {
		if field == KeyField {
			continue
		}
		d[field] = cloneValue(value)
	}
}

func cloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case Document:
		return val.Clone()
	case map[string]interface{}:
		return map[string]interface{}(Document(val).Clone())
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	case []byte:
		out := make([]byte, len(val))
		copy(out, val)
		return out
	case []string:
		out := make([]string, len(val))
		copy(out, val)
		return out
	case nil, string, bool, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, float32, float64:
		return v
	}
	return cloneReflect(reflect.ValueOf(v)).Interface()
}

// cloneReflect copies typed slices, arrays and maps, keeping their concrete
// type. Any other value is returned as is.
func cloneReflect(rv reflect.Value) reflect.Value {
	switch rv.Kind() {
	case reflect.Slice:
		if rv.IsNil() {
			return rv
		}
		out := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out.Index(i).Set(cloneElem(rv.Type().Elem(), rv.Index(i)))
		}
		return out
	case reflect.Array:
		out := reflect.New(rv.Type()).Elem()
		for i := 0; i < rv.Len(); i++ {
			out.Index(i).Set(cloneElem(rv.Type().Elem(), rv.Index(i)))
		}
		return out
	case reflect.Map:
		if rv.IsNil() {
			return rv
		}
		out := reflect.MakeMapWithSize(rv.Type(), rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), cloneElem(rv.Type().Elem(), iter.Value()))
		}
		return out
	default:
		return rv
	}
}

func cloneElem(typ reflect.Type, elem reflect.Value) reflect.Value {
	cloned := cloneValue(elem.Interface())
	if cloned == nil {
		return reflect.Zero(typ)
	}
	return reflect.ValueOf(cloned).Convert(typ)
}
