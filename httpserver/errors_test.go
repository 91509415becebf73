package httpserver

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_StringIncludesKindAndCause(t *testing.T) {
	cause := errors.New("boom")
	err := newErr(KindIOError, "127.0.0.1:80", cause)

	assert.Contains(t, err.Error(), "io_error")
	assert.Contains(t, err.Error(), "boom")
	assert.ErrorIs(t, err, cause)
}

func TestError_StringWithoutCause(t *testing.T) {
	err := newErr(KindIdleTimeout, "addr", nil)
	assert.Contains(t, err.Error(), "idle_timeout")
	assert.Nil(t, err.Unwrap())
}

func TestKind_String(t *testing.T) {
	cases := map[Kind]string{
		KindBadRequest:      "bad_request",
		KindHandlerFailure:  "handler_failure",
		KindIOError:         "io_error",
		KindPeerClosed:      "peer_closed",
		KindIdleTimeout:     "idle_timeout",
		KindListenerFailure: "listener_failure",
		Kind(99):            "unknown",
	}
	for k, want := range cases {
		assert.Equal(t, want, k.String())
	}
}
