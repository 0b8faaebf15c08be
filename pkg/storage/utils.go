package storage

import (
	"bytes"
	"math"
	"reflect"

	"github.com/adfharrison1/go-docstore/pkg/domain"
)

// MatchesFilter checks if a document matches the given filter criteria.
// Every filter field must be present on the document with an equal value.
func MatchesFilter(doc domain.Document, filter map[string]interface{}) bool {
	for field, expectedValue := range filter {
		actualValue, exists := doc[field]
		if !exists {
			return false // Field doesn't exist in document
		}

		if !ValuesMatch(actualValue, expectedValue) {
			return false
		}
	}
	return true
}

// ValuesMatch compares two document values for equality. Numbers compare by
// value regardless of width so that values read back from disk still match
// filters built from Go literals.
func ValuesMatch(actual, expected interface{}) bool {
	if actual == nil && expected == nil {
		return true
	}
	if actual == nil || expected == nil {
		return false
	}

	switch a := actual.(type) {
	case string:
		e, ok := expected.(string)
		return ok && a == e
	case bool:
		e, ok := expected.(bool)
		return ok && a == e
	}

	if a, ok := domain.AsBytes(actual); ok {
		e, ok := domain.AsBytes(expected)
		return ok && bytes.Equal(a, e)
	}

	if isNumber(actual) && isNumber(expected) {
		return numbersEqual(actual, expected)
	}

	if a, ok := domain.AsSlice(actual); ok {
		e, ok := domain.AsSlice(expected)
		if !ok || len(a) != len(e) {
			return false
		}
		for i := range a {
			if !ValuesMatch(a[i], e[i]) {
				return false
			}
		}
		return true
	}

	if a, ok := domain.AsMap(actual); ok {
		e, ok := domain.AsMap(expected)
		if !ok || len(a) != len(e) {
			return false
		}
		for k, av := range a {
			ev, exists := e[k]
			if !exists || !ValuesMatch(av, ev) {
				return false
			}
		}
		return true
	}

	return reflect.DeepEqual(actual, expected)
}

// ToFloat64 converts various numeric types to float64 for comparison
func ToFloat64(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	default:
		return 0, false
	}
}

func isNumber(v interface{}) bool {
	_, ok := ToFloat64(v)
	return ok
}

// numbersEqual compares integers exactly and falls back to float64 only
// when either side is a float.
func numbersEqual(a, b interface{}) bool {
	ai, aSigned, aInt := toInteger(a)
	bi, bSigned, bInt := toInteger(b)
	if aInt && bInt {
		switch {
		case aSigned && bSigned:
			return int64(ai) == int64(bi)
		case aSigned:
			return int64(ai) >= 0 && ai == bi
		case bSigned:
			return int64(bi) >= 0 && ai == bi
		default:
			return ai == bi
		}
	}
	af, _ := ToFloat64(a)
	bf, _ := ToFloat64(b)
	if math.IsNaN(af) || math.IsNaN(bf) {
		return false
	}
	return af == bf
}

// toInteger returns the raw bits of an integer value and whether it is signed.
func toInteger(v interface{}) (bits uint64, signed bool, ok bool) {
	switch n := v.(type) {
	case int:
		return uint64(n), true, true
	case int8:
		return uint64(n), true, true
	case int16:
		return uint64(n), true, true
	case int32:
		return uint64(n), true, true
	case int64:
		return uint64(n), true, true
	case uint:
		return uint64(n), false, true
	case uint8:
		return uint64(n), false, true
	case uint16:
		return uint64(n), false, true
	case uint32:
		return uint64(n), false, true
	case uint64:
		return n, false, true
	default:
		return 0, false, false
	}
}
