package netfile

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNamePatternMatchesCanonicalName(t *testing.T) {
	assert.True(t, NamePattern.MatchString("nn-1a2b3c4d5e6f.network"))
}

func TestNamePatternRejectsWrongLength(t *testing.T) {
	assert.False(t, NamePattern.MatchString("nn-1a2b3c.network"))
	assert.False(t, NamePattern.MatchString("nn-1a2b3c4d5e6f7.network"))
}

func TestNamePatternRejectsUppercaseHex(t *testing.T) {
	assert.False(t, NamePattern.MatchString("nn-1A2B3C4D5E6F.network"))
}

func TestValidateAcceptsMatchingDigest(t *testing.T) {
	content := []byte("some network weights")
	sum := sha256.Sum256(content)
	name := "nn-" + hex.EncodeToString(sum[:])[:12] + ".network"

	assert.True(t, Validate(name, content))
}

func TestValidateRejectsMismatchedDigest(t *testing.T) {
	content := []byte("some network weights")
	assert.False(t, Validate("nn-000000000000.network", content))
}

func TestValidateRejectsShortName(t *testing.T) {
	assert.False(t, Validate("nn-short", []byte("x")))
}
