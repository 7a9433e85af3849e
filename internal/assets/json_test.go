package assets

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSONString(t *testing.T) {
	s, err := extractJSONString([]byte(`{"git_url": "https://example.com/blob"}`), "git_url")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/blob", s)
}

func TestExtractJSONStringMissingField(t *testing.T) {
	_, err := extractJSONString([]byte(`{}`), "git_url")
	assert.Error(t, err)
}

func TestExtractJSONBase64StripsNewlines(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString([]byte("hello world"))
	wrapped := encoded[:4] + "\n" + encoded[4:]
	body := []byte(`{"content": "` + wrapped + `"}`)

	content, err := extractJSONBase64(body, "content")
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(content))
}

func TestStripWhitespaceRemovesAllSpaceKinds(t *testing.T) {
	assert.Equal(t, "abc", stripWhitespace("a\nb\t c\r"))
}
