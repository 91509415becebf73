package urlutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_PlusBecomesSpace(t *testing.T) {
	s, err := Decode("hello+world")
	require.NoError(t, err)
	assert.Equal(t, "hello world", s)
}

func TestDecode_PercentEscapes(t *testing.T) {
	s, err := Decode("a%20b%2Fc")
	require.NoError(t, err)
	assert.Equal(t, "a b/c", s)
}

func TestDecode_NoEscapesReturnsInputUnchanged(t *testing.T) {
	s, err := Decode("plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", s)
}

func TestDecode_TrailingPercentIsMalformed(t *testing.T) {
	_, err := Decode("abc%")
	assert.ErrorIs(t, err, ErrMalformedEscape)
}

func TestDecode_TruncatedEscapeIsMalformed(t *testing.T) {
	_, err := Decode("abc%2")
	assert.ErrorIs(t, err, ErrMalformedEscape)
}

func TestDecode_NonHexDigitsAreMalformed(t *testing.T) {
	_, err := Decode("a%zzb")
	assert.ErrorIs(t, err, ErrMalformedEscape)
}

func TestDecode_LowercaseHexDigits(t *testing.T) {
	s, err := Decode("%7e")
	require.NoError(t, err)
	assert.Equal(t, "~", s)
}
