package secretstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueRoundTrip(t *testing.T) {
	values := []string{
		"",
		"SECRET",
		"p@ssw0rd!#$%^&*()",
		"line1\nline2\nline3",
		"Hello 世界 🌍",
		`{"blob": "here is some stuff"}`,
	}

	for _, v := range values {
		decoded, err := DecodeValue(EncodeValue(v))
		require.NoError(t, err)
		assert.Equal(t, v, decoded)
	}
}

func TestEncodeValueIsStandardBase64(t *testing.T) {
	assert.Equal(t, "VkFMVUU=", EncodeValue("VALUE"))
	assert.Equal(t, "U0VDUkVU", EncodeValue("SECRET"))
}

func TestDecodeValueRejectsGarbage(t *testing.T) {
	_, err := DecodeValue("not base64!!")
	assert.Error(t, err)
}

func TestStringify(t *testing.T) {
	tests := []struct {
		name     string
		value    any
		expected string
		isString bool
	}{
		{name: "string", value: "plain", expected: "plain", isString: true},
		{name: "bytes", value: []byte("raw"), expected: "raw", isString: true},
		{name: "int", value: 42, expected: "42"},
		{name: "bool", value: true, expected: "true"},
		{name: "map", value: map[string]int{"a": 1}, expected: `{"a":1}`},
		{name: "slice", value: []string{"x", "y"}, expected: `["x","y"]`},
		{name: "nil", value: nil, expected: "null"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, isString, err := Stringify(tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, text)
			assert.Equal(t, tt.isString, isString)
		})
	}

	_, _, err := Stringify(make(chan int))
	assert.Error(t, err)
}

func TestPayloadRoundTrip(t *testing.T) {
	decoded := map[string]string{"A": "A", "B": "B", "creds.json": `{"k":"v"}`}

	data, err := MarshalPayload(EncodePayload(decoded))
	require.NoError(t, err)

	encoded, err := UnmarshalPayload(data)
	require.NoError(t, err)
	for k, v := range encoded {
		plain, err := DecodeValue(v)
		require.NoError(t, err)
		assert.Equal(t, decoded[k], plain)
	}

	got, err := DecodePayload(encoded)
	require.NoError(t, err)
	assert.Equal(t, decoded, got)
}

func TestMarshalPayloadIsSorted(t *testing.T) {
	data, err := MarshalPayload(map[string]string{"b": "Yg==", "a": "YQ=="})
	require.NoError(t, err)
	assert.Equal(t, `{"a":"YQ==","b":"Yg=="}`, string(data))

	data, err = MarshalPayload(nil)
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(data))
}

func TestUnmarshalPayload(t *testing.T) {
	t.Run("empty input", func(t *testing.T) {
		got, err := UnmarshalPayload(nil)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("empty object", func(t *testing.T) {
		got, err := UnmarshalPayload([]byte(`{}`))
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("json null", func(t *testing.T) {
		got, err := UnmarshalPayload([]byte(`null`))
		require.NoError(t, err)
		assert.NotNil(t, got)
	})

	t.Run("not an object", func(t *testing.T) {
		_, err := UnmarshalPayload([]byte(`["a"]`))
		assert.Error(t, err)
	})

	t.Run("non string values", func(t *testing.T) {
		_, err := UnmarshalPayload([]byte(`{"a": 1}`))
		assert.Error(t, err)
	})
}

func TestDecodePayloadReportsKey(t *testing.T) {
	_, err := DecodePayload(map[string]string{"BROKEN": "%%%"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BROKEN")
}
