package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonical(t *testing.T) {
	tests := []struct {
		name string
		in   Value
		want string
	}{
		{"integral number", Number(42), `42`},
		{"negative integral", Number(-7), `-7`},
		{"fraction", Number(1.5), `1.5`},
		{"no html escape", String("<a&b>"), `"<a&b>"`},
		{"line separator literal", String("a\u2028b"), "\"a\u2028b\""},
		{"null", Null{}, `null`},
		{"nested sorted", MustObject(map[string]any{"b": []any{1, "x"}, "a": true}), `{"a":true,"b":[1,"x"]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MarshalCanonical(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestMarshalCanonical_NFCNormalization(t *testing.T) {
	decomposed := String("e\u0301")
	composed := String("\u00e9")

	a, err := MarshalCanonical(decomposed)
	require.NoError(t, err)
	b, err := MarshalCanonical(composed)
	require.NoError(t, err)
	assert.Equal(t, string(b), string(a))
}

func TestUnescapeLineSeparators_PreservesEscapedBackslash(t *testing.T) {
	// A literal backslash followed by "u2028" text must stay escaped.
	in := []byte(`"\\u2028"`)
	assert.Equal(t, string(in), string(unescapeLineSeparators(in)))
}

func TestQueryHash_KeyOrderInsensitive(t *testing.T) {
	h1, err := QueryHash(MustObject(map[string]any{"tag": "x", "n": map[string]any{"$gt": 1}}))
	require.NoError(t, err)
	h2, err := QueryHash(MustObject(map[string]any{"n": map[string]any{"$gt": 1}, "tag": "x"}))
	require.NoError(t, err)
	h3, err := QueryHash(MustObject(map[string]any{"tag": "y"}))
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
	assert.Len(t, h1, 64)
}
