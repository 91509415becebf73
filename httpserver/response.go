package httpserver

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joeycumines/go-httploop/httpstatus"
)

// Response is the mutable write side of one request/response exchange. It
// transitions exactly once from open to sent: every send/end method after
// the first is a no-op, matching the spec's invariant that headers_sent is
// a one-way latch.
type Response struct {
	req *Request

	status     int
	headers    []respHeader
	sent       bool
	writer     func([]byte) error
	onFinish   func(keepAlive bool)
	reqVersion string
	reqConnHdr string
	forceClose func() bool
}

type respHeader struct {
	Key   string
	Value string
}

// newResponse builds a Response for req. forceClose, when non-nil, is
// polled at End time (not construction time) so a connection whose
// closeOnDrain flag flips on after dispatch still gets an honest wire
// Connection header instead of promising keep-alive.
func newResponse(req *Request, reqConnHdr string, writer func([]byte) error, onFinish func(bool), forceClose func() bool) *Response {
	return &Response{
		req:        req,
		status:     200,
		writer:     writer,
		onFinish:   onFinish,
		reqVersion: req.Version(),
		reqConnHdr: reqConnHdr,
		forceClose: forceClose,
	}
}

// Status sets the status code to use when the response is sent. Chainable.
func (r *Response) Status(code int) *Response {
	if !r.sent {
		r.status = code
	}
	return r
}

// Set sets (overwriting any prior value for the same case-insensitive key)
// a response header. Chainable.
func (r *Response) Set(key, value string) *Response {
	if r.sent {
		return r
	}
	for i, h := range r.headers {
		if equalFold(h.Key, key) {
			r.headers[i].Value = value
			return r
		}
	}
	r.headers = append(r.headers, respHeader{Key: key, Value: value})
	return r
}

// Send sets a text/plain content type (unless already set), writes body
// as-is, and ends the response.
func (r *Response) Send(body []byte) {
	r.setDefaultHeader("Content-Type", "text/plain; charset=UTF-8")
	r.end(body)
}

// SendHTML sets a text/html content type (unless already set), writes
// html, and ends the response.
func (r *Response) SendHTML(html string) {
	r.setDefaultHeader("Content-Type", "text/html; charset=UTF-8")
	r.end([]byte(html))
}

// SendJSON sets an application/json content type (unless already set) and
// sends the already-serialized JSON text verbatim, ending the response. It
// does not marshal its argument: callers serialize first, the same way
// send/send_html take already-formed text.
func (r *Response) SendJSON(text string) {
	r.setDefaultHeader("Content-Type", "application/json; charset=UTF-8")
	r.end([]byte(text))
}

// SendStatus sets the status code and sends the standard reason phrase as
// a plain-text body.
func (r *Response) SendStatus(code int) {
	r.Status(code)
	r.Set("Content-Type", "text/plain; charset=UTF-8")
	r.end([]byte(httpstatus.Message(code)))
}

// WriteHead sets the status code and merges the given headers, without
// sending a body yet. A subsequent Send/End call provides the body.
func (r *Response) WriteHead(code int, headers map[string]string) *Response {
	r.Status(code)
	for k, v := range headers {
		r.Set(k, v)
	}
	return r
}

// End sends body (nil for no body) and finalises the response. It is the
// single egress point used by all Send* convenience methods.
func (r *Response) End(body []byte) {
	r.end(body)
}

// HeadersSent reports whether the response has already been serialized to
// the wire.
func (r *Response) HeadersSent() bool { return r.sent }

// StatusCode returns the status code the response was (or will be) sent
// with.
func (r *Response) StatusCode() int { return r.status }

func (r *Response) end(body []byte) {
	if r.sent {
		return
	}
	r.sent = true

	if r.findHeader("Date") == "" {
		r.headers = append(r.headers, respHeader{Key: "Date", Value: time.Now().UTC().Format(http1123GMT)})
	}
	r.setHeader("Content-Length", strconv.Itoa(len(body)))

	keepAlive := r.computeKeepAlive()
	if keepAlive {
		r.setHeader("Connection", "keep-alive")
	} else {
		r.setHeader("Connection", "close")
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "HTTP/%s %d %s\r\n", r.reqVersion, r.status, httpstatus.Message(r.status))
	for _, h := range r.headers {
		fmt.Fprintf(&buf, "%s: %s\r\n", h.Key, h.Value)
	}
	buf.WriteString("\r\n")
	buf.Write(body)

	// A write failure here is a peer/IO concern, not the handler's: it is
	// swallowed, neither returned to the handler nor reported.
	_ = r.writer(buf.Bytes())

	if r.onFinish != nil {
		r.onFinish(keepAlive)
	}
}

// http1123GMT matches RFC 1123 with an explicit "GMT" zone designator;
// time.RFC1123 would print "UTC" for a UTC time instead.
const http1123GMT = "Mon, 02 Jan 2006 15:04:05 GMT"

func (r *Response) findHeader(key string) string {
	for _, h := range r.headers {
		if equalFold(h.Key, key) {
			return h.Value
		}
	}
	return ""
}

// setHeader overwrites key unconditionally, used internally by end to set
// the server-computed Content-Length/Connection headers regardless of any
// value the handler may already have set: the server's own decision always
// wins. (Date, by contrast, is only defaulted when the handler left it unset.)
func (r *Response) setHeader(key, value string) {
	for i, h := range r.headers {
		if equalFold(h.Key, key) {
			r.headers[i].Value = value
			return
		}
	}
	r.headers = append(r.headers, respHeader{Key: key, Value: value})
}

// setDefaultHeader sets key only if it has no value yet, used by the Send*
// helpers to supply their default Content-Type without overriding one a
// handler already set via Set/WriteHead.
func (r *Response) setDefaultHeader(key, value string) {
	if r.findHeader(key) == "" {
		r.headers = append(r.headers, respHeader{Key: key, Value: value})
	}
}

// computeKeepAlive implements the version-gated negotiation: HTTP/1.1
// connections are kept alive unless the request's Connection header
// contains "close"; HTTP/1.0 connections are kept alive only if it
// explicitly contains "keep-alive".
func (r *Response) computeKeepAlive() bool {
	if r.forceClose != nil && r.forceClose() {
		return false
	}
	tokens := strings.Split(strings.ToLower(r.reqConnHdr), ",")
	has := func(tok string) bool {
		for _, t := range tokens {
			if strings.TrimSpace(t) == tok {
				return true
			}
		}
		return false
	}
	if r.reqVersion == "1.0" {
		return has("keep-alive")
	}
	return !has("close")
}
