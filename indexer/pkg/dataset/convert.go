package dataset

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"slices"
	"strconv"
	"time"
)

// InferType returns the column type a value is stored as. Values with no
// natural mapping are stored as text.
func InferType(v any) ColumnType {
	switch x := v.(type) {
	case bool:
		return TypeBoolean
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return TypeInteger
	case float32, float64:
		return TypeReal
	case json.Number:
		if _, err := x.Int64(); err == nil {
			return TypeInteger
		}
		return TypeReal
	default:
		return TypeText
	}
}

// inferColumnType picks the type of column j from its non-nil values.
// Integers mixed with reals give real; any other disagreement gives text.
func inferColumnType(rows [][]any, j int) ColumnType {
	var ct ColumnType
	for _, row := range rows {
		if row[j] == nil {
			continue
		}
		t := InferType(row[j])
		switch {
		case ct == "" || ct == t:
			ct = t
		case isNumeric(ct) && isNumeric(t):
			ct = TypeReal
		default:
			return TypeText
		}
	}
	if ct == "" {
		return TypeText
	}
	return ct
}

func isNumeric(ct ColumnType) bool {
	return ct == TypeInteger || ct == TypeReal
}

// widenColumnType returns the type column j must be stored as so that every
// value in rows converts, and whether that differs from ct. Integer columns
// widen to real when that is enough; everything else widens to text.
func widenColumnType(ct ColumnType, rows [][]any, j int) (ColumnType, bool) {
	if ct == TypeText || convertsAll(ct, rows, j) {
		return ct, false
	}
	if ct == TypeInteger && convertsAll(TypeReal, rows, j) {
		return TypeReal, true
	}
	return TypeText, true
}

func convertsAll(ct ColumnType, rows [][]any, j int) bool {
	for _, row := range rows {
		if _, err := ConvertValue(ct, row[j]); err != nil {
			return false
		}
	}
	return true
}

// ConvertValue converts v to the Go representation written for a column of
// type ct. nil stays nil.
func ConvertValue(ct ColumnType, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch ct {
	case TypeText:
		return toText(v)
	case TypeInteger:
		return toInteger(v)
	case TypeReal:
		return toReal(v)
	case TypeBoolean:
		return toBoolean(v)
	default:
		return nil, fmt.Errorf("unknown column type %q", ct)
	}
}

func toText(v any) (any, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	case json.Number:
		return x.String(), nil
	case bool:
		return strconv.FormatBool(x), nil
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano), nil
	case fmt.Stringer:
		return x.String(), nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return fmt.Sprint(x), nil
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		return string(b), nil
	}
	return fmt.Sprint(v), nil
}

func toInteger(v any) (any, error) {
	switch x := v.(type) {
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case uint:
		return uintToInt64(uint64(x))
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint64:
		return uintToInt64(x)
	case float32:
		return floatToInt64(float64(x))
	case float64:
		return floatToInt64(x)
	case json.Number:
		n, err := x.Int64()
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not an integer", ErrInvalidValue, x.String())
		}
		return n, nil
	case string:
		n, err := strconv.ParseInt(x, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not an integer", ErrInvalidValue, x)
		}
		return n, nil
	}
	return nil, fmt.Errorf("%w: %T cannot be stored as integer", ErrInvalidValue, v)
}

func uintToInt64(u uint64) (any, error) {
	if u > math.MaxInt64 {
		return nil, fmt.Errorf("%w: %d overflows integer", ErrInvalidValue, u)
	}
	return int64(u), nil
}

func floatToInt64(f float64) (any, error) {
	if f != math.Trunc(f) || f > math.MaxInt64 || f < math.MinInt64 {
		return nil, fmt.Errorf("%w: %v is not an integer", ErrInvalidValue, f)
	}
	return int64(f), nil
}

func toReal(v any) (any, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return reflect.ValueOf(x).Convert(reflect.TypeOf(float64(0))).Float(), nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a number", ErrInvalidValue, x.String())
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a number", ErrInvalidValue, x)
		}
		return f, nil
	}
	return nil, fmt.Errorf("%w: %T cannot be stored as real", ErrInvalidValue, v)
}

func toBoolean(v any) (any, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		b, err := strconv.ParseBool(x)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a boolean", ErrInvalidValue, x)
		}
		return b, nil
	case int64:
		if x == 0 || x == 1 {
			return x == 1, nil
		}
	case int:
		if x == 0 || x == 1 {
			return x == 1, nil
		}
	}
	return nil, fmt.Errorf("%w: %v cannot be stored as boolean", ErrInvalidValue, v)
}

// normalizeValue maps a value scanned from a backend onto the canonical Go
// type of ct: string, int64, float64 or bool.
func normalizeValue(ct ColumnType, v any) any {
	if v == nil {
		return nil
	}
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	switch ct {
	case TypeBoolean:
		switch x := v.(type) {
		case int64:
			return x != 0
		case string:
			if b, err := strconv.ParseBool(x); err == nil {
				return b
			}
		}
	case TypeInteger:
		switch x := v.(type) {
		case int32:
			return int64(x)
		case int:
			return int64(x)
		case string:
			if n, err := strconv.ParseInt(x, 10, 64); err == nil {
				return n
			}
		}
	case TypeReal:
		switch x := v.(type) {
		case float32:
			return float64(x)
		case int64:
			return float64(x)
		case string:
			if f, err := strconv.ParseFloat(x, 64); err == nil {
				return f
			}
		}
	case TypeText:
		switch x := v.(type) {
		case time.Time:
			return x.UTC().Format(time.RFC3339Nano)
		case string:
			return x
		default:
			return fmt.Sprint(x)
		}
	}
	return v
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
