package secretstore

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// EncodeValue returns the stored representation of a decoded value.
func EncodeValue(value string) string {
	return base64.StdEncoding.EncodeToString([]byte(value))
}

// DecodeValue reverses EncodeValue.
func DecodeValue(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("invalid base64 value: %w", err)
	}
	return string(raw), nil
}

// Stringify converts a caller-supplied value to the text that gets encoded.
//
// Strings pass through and []byte is taken verbatim. Anything else is
// serialized as a JSON literal, and isString is false so callers can emit a
// diagnostic.
func Stringify(value any) (text string, isString bool, err error) {
	switch v := value.(type) {
	case string:
		return v, true, nil
	case []byte:
		return string(v), true, nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return "", false, fmt.Errorf("value of type %T cannot be serialized as JSON: %w", value, err)
	}
	return string(data), false, nil
}

// MarshalPayload serializes an encoded payload for upstream storage.
// Keys come out sorted, so identical payloads produce identical bytes.
func MarshalPayload(encoded map[string]string) ([]byte, error) {
	if encoded == nil {
		encoded = map[string]string{}
	}
	data, err := json.Marshal(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return data, nil
}

// UnmarshalPayload parses an upstream payload into its encoded form.
// Empty input yields an empty payload.
func UnmarshalPayload(data []byte) (map[string]string, error) {
	encoded := map[string]string{}
	if len(data) == 0 {
		return encoded, nil
	}
	if err := json.Unmarshal(data, &encoded); err != nil {
		return nil, fmt.Errorf("payload is not a JSON object of strings: %w", err)
	}
	if encoded == nil {
		encoded = map[string]string{}
	}
	return encoded, nil
}

// DecodePayload decodes every value of an encoded payload.
func DecodePayload(encoded map[string]string) (map[string]string, error) {
	decoded := make(map[string]string, len(encoded))
	for key, value := range encoded {
		plain, err := DecodeValue(value)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", key, err)
		}
		decoded[key] = plain
	}
	return decoded, nil
}

// EncodePayload encodes every value of a decoded payload.
func EncodePayload(decoded map[string]string) map[string]string {
	encoded := make(map[string]string, len(decoded))
	for key, value := range decoded {
		encoded[key] = EncodeValue(value)
	}
	return encoded
}
