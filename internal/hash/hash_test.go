package hash

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueIgnoresKeyOrder(t *testing.T) {
	a, err := Value(map[string]interface{}{"b": 2, "a": 1})
	require.NoError(t, err)
	b, err := Value(map[string]interface{}{"a": 1, "b": 2})
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 40)
}

func TestValueOfNilIsNull(t *testing.T) {
	canonical, err := Canonical(nil)
	require.NoError(t, err)
	assert.Equal(t, "null", string(canonical))

	a, err := Value(nil)
	require.NoError(t, err)
	// sha1("null")
	assert.Equal(t, "2be88ca4242c76e8253ac62474851065032d6833", a)
}

func TestStructMatchesEquivalentMap(t *testing.T) {
	type params struct {
		Z string `json:"z"`
		A int    `json:"a"`
	}
	fromStruct, err := Value(params{Z: "last", A: 1})
	require.NoError(t, err)
	fromMap, err := Value(map[string]interface{}{"a": 1, "z": "last"})
	require.NoError(t, err)
	assert.Equal(t, fromStruct, fromMap)
}

func TestDistinctInputsDiffer(t *testing.T) {
	a, _ := Value(1)
	b, _ := Value(2)
	assert.NotEqual(t, a, b)
}
