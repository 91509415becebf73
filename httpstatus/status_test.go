package httpstatus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessage_KnownCodes(t *testing.T) {
	assert.Equal(t, "OK", Message(200))
	assert.Equal(t, "Not Found", Message(404))
	assert.Equal(t, "Internal Server Error", Message(500))
}

func TestMessage_UnknownCodeReturnsDecimalCode(t *testing.T) {
	assert.Equal(t, "799", Message(799))
}
