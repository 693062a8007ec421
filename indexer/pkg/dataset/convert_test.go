package dataset

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNetstate_Dataset_InferType(t *testing.T) {
	t.Parallel()

	require.Equal(t, TypeText, InferType("x"))
	require.Equal(t, TypeInteger, InferType(3))
	require.Equal(t, TypeInteger, InferType(uint16(3)))
	require.Equal(t, TypeReal, InferType(3.5))
	require.Equal(t, TypeBoolean, InferType(false))
	require.Equal(t, TypeInteger, InferType(json.Number("42")))
	require.Equal(t, TypeReal, InferType(json.Number("4.2")))
	require.Equal(t, TypeText, InferType(map[string]any{"a": 1}))

	rows := [][]any{{nil, nil, int64(1), int64(10), true}, {int64(1), nil, 2.5, "trunk", int64(1)}}
	require.Equal(t, TypeInteger, inferColumnType(rows, 0))
	require.Equal(t, TypeText, inferColumnType(rows, 1))
	require.Equal(t, TypeReal, inferColumnType(rows, 2))
	require.Equal(t, TypeText, inferColumnType(rows, 3))
	require.Equal(t, TypeText, inferColumnType(rows, 4))
}

func TestNetstate_Dataset_WidenColumnType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		ct      ColumnType
		value   any
		want    ColumnType
		widened bool
	}{
		{"integer fits", TypeInteger, "42", TypeInteger, false},
		{"integer to real", TypeInteger, 2.5, TypeReal, true},
		{"integer to text", TypeInteger, "any", TypeText, true},
		{"real to text", TypeReal, true, TypeText, true},
		{"boolean fits", TypeBoolean, "false", TypeBoolean, false},
		{"boolean to text", TypeBoolean, "maybe", TypeText, true},
		{"text stays", TypeText, int64(1), TypeText, false},
		{"nil fits", TypeInteger, nil, TypeInteger, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, widened := widenColumnType(tt.ct, [][]any{{int64(1)}, {tt.value}}, 0)
			require.Equal(t, tt.want, got)
			require.Equal(t, tt.widened, widened)
		})
	}
}

func TestNetstate_Dataset_ConvertValue(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		typ     ColumnType
		in      any
		want    any
		wantErr bool
	}{
		{"nil", TypeInteger, nil, nil, false},
		{"text from int", TypeText, 5, "5", false},
		{"text from bool", TypeText, true, "true", false},
		{"text from slice", TypeText, []string{"a", "b"}, `["a","b"]`, false},
		{"int from int", TypeInteger, 7, int64(7), false},
		{"int from integral float", TypeInteger, 7.0, int64(7), false},
		{"int from fractional float", TypeInteger, 7.5, nil, true},
		{"int from numeric string", TypeInteger, "12", int64(12), false},
		{"int from text", TypeInteger, "twelve", nil, true},
		{"int from json number", TypeInteger, json.Number("9"), int64(9), false},
		{"int from bool", TypeInteger, true, nil, true},
		{"real from int", TypeReal, 2, 2.0, false},
		{"real from string", TypeReal, "2.5", 2.5, false},
		{"bool from string", TypeBoolean, "true", true, false},
		{"bool from one", TypeBoolean, int64(1), true, false},
		{"bool from two", TypeBoolean, int64(2), nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ConvertValue(tt.typ, tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidValue)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestNetstate_Dataset_NormalizeValue(t *testing.T) {
	t.Parallel()

	require.Equal(t, "abc", normalizeValue(TypeText, []byte("abc")))
	require.Equal(t, true, normalizeValue(TypeBoolean, int64(1)))
	require.Equal(t, false, normalizeValue(TypeBoolean, int64(0)))
	require.Equal(t, int64(5), normalizeValue(TypeInteger, int32(5)))
	require.Equal(t, 5.0, normalizeValue(TypeReal, int64(5)))
	require.Nil(t, normalizeValue(TypeText, nil))
}
