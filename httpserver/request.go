package httpserver

import (
	"github.com/joeycumines/go-httploop/httpparser"
	"github.com/joeycumines/go-httploop/urlutil"
)

// Request is an immutable view of one fully-parsed HTTP request. It is
// constructed once the parser reaches its FINAL state and handed to the
// handler alongside a fresh Response; nothing about it may change for the
// lifetime of that handler invocation.
type Request struct {
	method  string
	path    string
	query   []httpparser.QueryParam
	version string
	headers []httpparser.Header
	body    []byte

	remoteAddr string
	id         string
}

func newRequest(result httpparser.Result, remoteAddr, id string) *Request {
	// The parser leaves the path encoded (only query params are decoded on
	// commit), and by this point the request line has already passed every
	// other parser-level validation. A malformed path escape falls back to
	// the raw path rather than failing the whole request here.
	path := result.Path
	if decoded, err := urlutil.Decode(result.Path); err == nil {
		path = decoded
	}
	return &Request{
		method:     result.Method,
		path:       path,
		query:      result.Query,
		version:    result.Version,
		headers:    result.Headers,
		body:       result.Body,
		remoteAddr: remoteAddr,
		id:         id,
	}
}

func (r *Request) Method() string  { return r.method }
func (r *Request) Path() string    { return r.path }
func (r *Request) Version() string { return r.version }
func (r *Request) Body() []byte    { return r.body }

// BodyString returns the body decoded as UTF-8.
func (r *Request) BodyString() string { return string(r.body) }

func (r *Request) RemoteAddr() string { return r.remoteAddr }

// ID returns a per-request identifier (a v4 UUID) suitable for correlating
// log lines and metrics across the lifetime of one request.
func (r *Request) ID() string { return r.id }

// Query returns the decoded value of the first query parameter named key,
// and whether it was present at all. Query params are already decoded by
// the parser, so key is matched against the decoded form.
func (r *Request) Query(key string) (string, bool) {
	for _, q := range r.query {
		if q.Key == key {
			return q.Value, true
		}
	}
	return "", false
}

// QueryAll returns every query parameter in wire order, already decoded.
func (r *Request) QueryAll() []httpparser.QueryParam {
	return append([]httpparser.QueryParam(nil), r.query...)
}

// Header returns the value of the last header matching name
// case-insensitively (the last value wins for duplicates), and whether it
// was present.
func (r *Request) Header(name string) (string, bool) {
	for i := len(r.headers) - 1; i >= 0; i-- {
		if equalFold(r.headers[i].Key, name) {
			return r.headers[i].Value, true
		}
	}
	return "", false
}

// Headers returns every header as received, preserving wire order and
// casing.
func (r *Request) Headers() []httpparser.Header {
	return append([]httpparser.Header(nil), r.headers...)
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if ca >= 'A' && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if cb >= 'A' && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
