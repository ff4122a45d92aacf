package canon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalBasic(t *testing.T) {
	tests := []struct {
		name     string
		input    Value
		expected string
	}{
		{"string", String("hello"), `"hello"`},
		{"empty string", String(""), `""`},
		{"int", Int(42), "42"},
		{"negative int", Int(-100), "-100"},
		{"zero", Int(0), "0"},
		{"bool true", Bool(true), "true"},
		{"bool false", Bool(false), "false"},
		{"empty array", Array{}, "[]"},
		{"empty object", Object{}, "{}"},
		{"array of ints", Array{Int(1), Int(2), Int(3)}, "[1,2,3]"},
		{"simple object", Object{"a": Int(1)}, `{"a":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Marshal(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalSortedKeys(t *testing.T) {
	obj := Object{
		"zebra": Int(1),
		"alpha": Int(2),
		"beta":  Int(3),
	}

	result, err := Marshal(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":2,"beta":3,"zebra":1}`, string(result))
}

func TestMarshalNoHTMLEscaping(t *testing.T) {
	result, err := Marshal(String("<a>&b</a>"))
	require.NoError(t, err)
	assert.Equal(t, `"<a>&b</a>"`, string(result))
}

func TestHashDeterministic(t *testing.T) {
	obj := Object{"s": String("x"), "p": String("y"), "o": String("z")}

	h1, err := Hash("mercury/test/v1", obj)
	require.NoError(t, err)
	h2, err := Hash("mercury/test/v1", obj)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestHashDomainSeparation(t *testing.T) {
	obj := Object{"x": Int(1)}

	h1, err := Hash("domain-a", obj)
	require.NoError(t, err)
	h2, err := Hash("domain-b", obj)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

func TestSortedKeysUTF16Order(t *testing.T) {
	obj := Object{
		"\U0001F600": Int(1), // outside Basic Latin, encodes as a UTF-16 surrogate pair
		"a":          Int(2),
	}
	keys := obj.SortedKeys()
	require.Len(t, keys, 2)
	assert.Equal(t, "a", keys[0])
}
