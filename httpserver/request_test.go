package httpserver

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/joeycumines/go-httploop/httpparser"
)

func sampleResult() httpparser.Result {
	return httpparser.Result{
		Method: "GET",
		Path:   "/a%20b",
		// The parser decodes query params on commit, so a fixture built
		// directly from a Result (bypassing the parser) supplies them
		// already decoded.
		Query:   []httpparser.QueryParam{{Key: "q", Value: "x+y"}},
		Version: "1.1",
		Headers: []httpparser.Header{{Key: "Content-Type", Value: "text/plain"}},
		Body:    []byte("payload"),
	}
}

func TestRequest_PathIsURLDecoded(t *testing.T) {
	req := newRequest(sampleResult(), "127.0.0.1:1234", "req-1")
	assert.Equal(t, "/a b", req.Path())
}

func TestRequest_QueryLooksUpByDecodedKey(t *testing.T) {
	req := newRequest(sampleResult(), "127.0.0.1:1234", "req-1")
	v, ok := req.Query("q")
	assert.True(t, ok)
	assert.Equal(t, "x+y", v)

	_, ok = req.Query("missing")
	assert.False(t, ok)
}

func TestRequest_HeaderLookupIsCaseInsensitive(t *testing.T) {
	req := newRequest(sampleResult(), "127.0.0.1:1234", "req-1")
	v, ok := req.Header("content-type")
	assert.True(t, ok)
	assert.Equal(t, "text/plain", v)
}

func TestRequest_BodyAndBodyString(t *testing.T) {
	req := newRequest(sampleResult(), "127.0.0.1:1234", "req-1")
	assert.Equal(t, []byte("payload"), req.Body())
	assert.Equal(t, "payload", req.BodyString())
}

func TestRequest_IdentifiersAndMetadata(t *testing.T) {
	req := newRequest(sampleResult(), "10.0.0.1:9999", "req-42")
	assert.Equal(t, "GET", req.Method())
	assert.Equal(t, "1.1", req.Version())
	assert.Equal(t, "10.0.0.1:9999", req.RemoteAddr())
	assert.Equal(t, "req-42", req.ID())
}

func TestRequest_QueryAllReturnsParamsInWireOrder(t *testing.T) {
	result := sampleResult()
	result.Query = []httpparser.QueryParam{{Key: "a b", Value: "c d"}, {Key: "a b", Value: "e"}}
	req := newRequest(result, "x", "y")

	all := req.QueryAll()
	assert.Equal(t, []httpparser.QueryParam{{Key: "a b", Value: "c d"}, {Key: "a b", Value: "e"}}, all)
}
