package assets

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
)

func extractJSONString(raw []byte, field string) (string, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", err
	}
	v, ok := m[field]
	if !ok {
		return "", fmt.Errorf("missing field %q in JSON reply", field)
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", err
	}
	return s, nil
}

func extractJSONBase64(raw []byte, field string) ([]byte, error) {
	s, err := extractJSONString(raw, field)
	if err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(stripWhitespace(s))
}

// stripWhitespace removes the embedded newlines GitHub's contents API
// wraps base64 payloads with.
func stripWhitespace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}
