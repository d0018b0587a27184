package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFloat64ArrayValueAndScanRoundTrip(t *testing.T) {
	a := float64Array{1.5, -2, 3.25}
	v, err := a.Value()
	require.NoError(t, err)
	assert.Equal(t, "{1.5,-2,3.25}", v)

	var out float64Array
	require.NoError(t, out.Scan(v))
	assert.Equal(t, a, out)
}

func TestFloat64ArrayValueNilIsNil(t *testing.T) {
	var a float64Array
	v, err := a.Value()
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestFloat64ArrayScanEmptyLiteralIsNil(t *testing.T) {
	var out float64Array
	require.NoError(t, out.Scan("{}"))
	assert.Nil(t, out)
}

func TestFloat64ArrayScanNonArrayIsNil(t *testing.T) {
	var out float64Array
	require.NoError(t, out.Scan(nil))
	assert.Nil(t, out)
}

func TestFloat64ArrayScanInvalidNumberErrors(t *testing.T) {
	var out float64Array
	assert.Error(t, out.Scan("{not-a-number}"))
}

func TestInt64ArrayValueAndScanRoundTrip(t *testing.T) {
	a := int64Array{1, 2, 3}
	v, err := a.Value()
	require.NoError(t, err)
	assert.Equal(t, "{1,2,3}", v)

	var out int64Array
	require.NoError(t, out.Scan(v))
	assert.Equal(t, a, out)
}

func TestInt64ArrayValueNilIsEmptyLiteral(t *testing.T) {
	var a int64Array
	v, err := a.Value()
	require.NoError(t, err)
	assert.Equal(t, "{}", v)
}

func TestInt64ArrayScanEmptyLiteralIsEmptySlice(t *testing.T) {
	var out int64Array
	require.NoError(t, out.Scan("{}"))
	assert.Equal(t, []int64{}, []int64(out))
}

func TestStringArrayValueQuotesEntries(t *testing.T) {
	a := stringArray{"plain", `has "quotes"`}
	v, err := a.Value()
	require.NoError(t, err)
	assert.Equal(t, `{"plain","has \"quotes\""}`, v)
}
