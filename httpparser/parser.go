// Package httpparser implements a byte-fed HTTP/1.1 request-line/header/body
// parser as a deterministic state machine. It is designed to be driven one
// byte (or one chunk) at a time from a non-blocking socket read, tolerating
// arbitrary chunk boundaries: every state transition depends only on the
// current byte and the accumulated field buffers, never on how many bytes
// arrived in a single Feed call.
package httpparser

import (
	"errors"
	"fmt"

	"github.com/joeycumines/go-httploop/urlutil"
)

// Field size limits, enforced as the parser accumulates each field. A
// field that would exceed its limit causes ErrTooLarge (wrapped with the
// field name) rather than silently truncating.
const (
	MaxMethodLen  = 16
	MaxURLLen     = 8192
	MaxVersionLen = 16
	MaxHeaderKey  = 256
	MaxHeaderVal  = 8192
	MaxHeaders    = 100
	MaxBodyLen    = 10 * 1024 * 1024
)

// ErrMalformed is the sentinel wrapped by every parse failure, so callers
// can distinguish "this connection sent bad bytes" from an I/O error
// without string-matching a message.
var ErrMalformed = errors.New("httpparser: malformed request")

// ErrTooLarge indicates a field exceeded its configured limit.
var ErrTooLarge = errors.New("httpparser: field too large")

type state int

const (
	stateMethod state = iota
	statePath
	stateQueryKey
	stateQueryValue
	stateHTTPLiteral
	stateVersionMajor
	stateVersionMinor
	stateHeaderKey
	stateHeaderValue
	stateBody
	stateFinal
)

// Header is a single parsed header field, preserving the original casing of
// both key and value as received on the wire.
type Header struct {
	Key   string
	Value string
}

// Result is the fully parsed request, available once Feed returns
// (Done()==true, Err()==nil).
type Result struct {
	Method      string
	Path        string
	Query       []QueryParam
	Version     string // "1.0" or "1.1"
	Headers     []Header
	Body        []byte
}

// QueryParam preserves insertion order, per the spec's requirement that
// repeated or ordered query keys are not silently collapsed into a map. Key
// and Value are already percent-decoded; Path, by contrast, keeps its raw
// encoded form.
type QueryParam struct {
	Key   string
	Value string
}

// Parser is a single-connection, single-request-at-a-time byte-fed state
// machine. Reset must be called between requests to support pipelined
// bytes within one read buffer.
type Parser struct {
	st  state
	err error

	method  []byte
	path    []byte
	qkey    []byte
	qval    []byte
	httplit []byte
	vmajor  []byte
	vminor  []byte
	hkey    []byte
	hval    []byte

	query   []QueryParam
	headers []Header

	contentLength   int
	haveContentLen  bool
	haveHost        bool
	haveTransferEnc bool
	body          []byte
	bodyRemaining int
}

// New returns a Parser ready to parse one request.
func New() *Parser {
	p := &Parser{}
	p.Reset()
	return p
}

// Reset clears all accumulated state so the Parser can parse the next
// pipelined request on the same connection.
func (p *Parser) Reset() {
	p.st = stateMethod
	p.err = nil
	p.method = p.method[:0]
	p.path = p.path[:0]
	p.qkey = p.qkey[:0]
	p.qval = p.qval[:0]
	p.httplit = p.httplit[:0]
	p.vmajor = p.vmajor[:0]
	p.vminor = p.vminor[:0]
	p.hkey = p.hkey[:0]
	p.hval = p.hval[:0]
	p.query = nil
	p.headers = nil
	p.contentLength = 0
	p.haveContentLen = false
	p.haveHost = false
	p.haveTransferEnc = false
	p.body = nil
	p.bodyRemaining = 0
}

// Done reports whether parsing has reached a terminal state (success or
// failure). Once Done, Feed must not be called again without a Reset.
func (p *Parser) Done() bool { return p.st == stateFinal || p.err != nil }

// Err returns the malformed-input error, if parsing failed.
func (p *Parser) Err() error { return p.err }

// Feed consumes as much of buf as is needed to reach a terminal state,
// returning the number of bytes consumed. The remainder of buf (if any) is
// left for the caller to feed to a freshly Reset Parser, supporting
// pipelined requests within a single read.
func (p *Parser) Feed(buf []byte) (consumed int) {
	for consumed < len(buf) {
		if p.Done() {
			return consumed
		}
		b := buf[consumed]
		consumed++
		if !p.step(b) {
			return consumed
		}
	}
	return consumed
}

func (p *Parser) fail(field string, cause error) bool {
	p.err = fmt.Errorf("%s: %w", field, cause)
	p.st = stateFinal
	return false
}

// step processes one byte, returning false once a terminal state
// (success or failure) is reached, so Feed can stop early.
func (p *Parser) step(b byte) bool {
	switch p.st {
	case stateMethod:
		return p.stepMethod(b)
	case statePath:
		return p.stepPath(b)
	case stateQueryKey:
		return p.stepQueryKey(b)
	case stateQueryValue:
		return p.stepQueryValue(b)
	case stateHTTPLiteral:
		return p.stepHTTPLiteral(b)
	case stateVersionMajor:
		return p.stepVersionMajor(b)
	case stateVersionMinor:
		return p.stepVersionMinor(b)
	case stateHeaderKey:
		return p.stepHeaderKey(b)
	case stateHeaderValue:
		return p.stepHeaderValue(b)
	case stateBody:
		return p.stepBody(b)
	default:
		return false
	}
}

func (p *Parser) stepMethod(b byte) bool {
	if b == ' ' {
		if len(p.method) == 0 {
			return p.fail("method", ErrMalformed)
		}
		p.st = statePath
		return true
	}
	if isCtl(b) {
		return p.fail("method", ErrMalformed)
	}
	if len(p.method) >= MaxMethodLen {
		return p.fail("method", ErrTooLarge)
	}
	p.method = append(p.method, b)
	return true
}

func (p *Parser) stepPath(b byte) bool {
	switch {
	case b == ' ':
		if len(p.path) == 0 {
			return p.fail("path", ErrMalformed)
		}
		p.st = stateHTTPLiteral
		p.httplit = p.httplit[:0]
		return true
	case b == '?':
		p.st = stateQueryKey
		p.qkey = p.qkey[:0]
		return true
	case isCtl(b):
		return p.fail("path", ErrMalformed)
	default:
		if len(p.path) >= MaxURLLen {
			return p.fail("path", ErrTooLarge)
		}
		p.path = append(p.path, b)
		return true
	}
}

func (p *Parser) stepQueryKey(b byte) bool {
	switch {
	case b == '=':
		if len(p.qkey) == 0 {
			return p.fail("query", ErrMalformed)
		}
		p.st = stateQueryValue
		p.qval = p.qval[:0]
		return true
	case b == '&':
		if !p.pushQuery() {
			return false
		}
		p.qkey = p.qkey[:0]
		return true
	case b == ' ':
		if !p.pushQuery() {
			return false
		}
		p.st = stateHTTPLiteral
		p.httplit = p.httplit[:0]
		return true
	case isCtl(b):
		return p.fail("query", ErrMalformed)
	default:
		if len(p.path)+len(p.qkey)+len(p.qval) >= MaxURLLen {
			return p.fail("query", ErrTooLarge)
		}
		p.qkey = append(p.qkey, b)
		return true
	}
}

func (p *Parser) stepQueryValue(b byte) bool {
	switch {
	case b == '&':
		if !p.pushQuery() {
			return false
		}
		p.st = stateQueryKey
		p.qkey = p.qkey[:0]
		return true
	case b == ' ':
		if !p.pushQuery() {
			return false
		}
		p.st = stateHTTPLiteral
		p.httplit = p.httplit[:0]
		return true
	case isCtl(b):
		return p.fail("query", ErrMalformed)
	default:
		if len(p.path)+len(p.qkey)+len(p.qval) >= MaxURLLen {
			return p.fail("query", ErrTooLarge)
		}
		p.qval = append(p.qval, b)
		return true
	}
}

// pushQuery commits the accumulated key/value pair to the query list,
// rejecting an empty key (an empty value is permitted). A bare separator
// with nothing accumulated on either side (e.g. a trailing "?" or "&&") is
// not a pair at all and commits nothing. Both key and value are
// percent-decoded here, on commit, per the query-list contract; the raw
// path (never touched by this method) keeps its encoded form.
func (p *Parser) pushQuery() bool {
	if len(p.qkey) == 0 && len(p.qval) == 0 {
		return true
	}
	if len(p.qkey) == 0 {
		return p.fail("query", ErrMalformed)
	}
	key, err := urlutil.Decode(string(p.qkey))
	if err != nil {
		return p.fail("query", ErrMalformed)
	}
	val, err := urlutil.Decode(string(p.qval))
	if err != nil {
		return p.fail("query", ErrMalformed)
	}
	p.query = append(p.query, QueryParam{Key: key, Value: val})
	p.qkey = p.qkey[:0]
	p.qval = p.qval[:0]
	return true
}

func (p *Parser) stepHTTPLiteral(b byte) bool {
	const lit = "HTTP/"
	idx := len(p.httplit)
	if idx >= len(lit) {
		return p.fail("version", ErrMalformed)
	}
	if b != lit[idx] {
		return p.fail("version", ErrMalformed)
	}
	p.httplit = append(p.httplit, b)
	if len(p.httplit) == len(lit) {
		p.st = stateVersionMajor
		p.vmajor = p.vmajor[:0]
	}
	return true
}

func (p *Parser) stepVersionMajor(b byte) bool {
	if b == '.' {
		if len(p.vmajor) == 0 {
			return p.fail("version", ErrMalformed)
		}
		p.st = stateVersionMinor
		p.vminor = p.vminor[:0]
		return true
	}
	if b < '0' || b > '9' {
		return p.fail("version", ErrMalformed)
	}
	if len(p.vmajor)+len(p.vminor) >= MaxVersionLen {
		return p.fail("version", ErrTooLarge)
	}
	p.vmajor = append(p.vmajor, b)
	return true
}

func (p *Parser) stepVersionMinor(b byte) bool {
	if b == '\r' {
		if len(p.vminor) == 0 {
			return p.fail("version", ErrMalformed)
		}
		return true // wait for \n
	}
	if b == '\n' {
		if len(p.vminor) == 0 {
			return p.fail("version", ErrMalformed)
		}
		p.st = stateHeaderKey
		p.hkey = p.hkey[:0]
		return true
	}
	if b < '0' || b > '9' {
		return p.fail("version", ErrMalformed)
	}
	if len(p.vmajor)+len(p.vminor) >= MaxVersionLen {
		return p.fail("version", ErrTooLarge)
	}
	p.vminor = append(p.vminor, b)
	return true
}

func (p *Parser) stepHeaderKey(b byte) bool {
	switch {
	case b == '\r':
		if len(p.hkey) != 0 {
			return p.fail("header", ErrMalformed)
		}
		return true // wait for \n terminating the blank line
	case b == '\n':
		if len(p.hkey) != 0 {
			return p.fail("header", ErrMalformed)
		}
		return p.finishHeaders()
	case b == ':':
		if len(p.hkey) == 0 {
			return p.fail("header", ErrMalformed)
		}
		p.st = stateHeaderValue
		p.hval = p.hval[:0]
		return true
	case isCtl(b):
		return p.fail("header", ErrMalformed)
	default:
		if len(p.hkey) >= MaxHeaderKey {
			return p.fail("header", ErrTooLarge)
		}
		p.hkey = append(p.hkey, b)
		return true
	}
}

func (p *Parser) stepHeaderValue(b byte) bool {
	switch {
	case b == ' ' || b == '\t':
		if len(p.hval) == 0 {
			return true // skip leading OWS
		}
		if len(p.hval) >= MaxHeaderVal {
			return p.fail("header", ErrTooLarge)
		}
		p.hval = append(p.hval, b)
		return true
	case b == '\r':
		return true // wait for \n
	case b == '\n':
		return p.finishHeader()
	default:
		if len(p.hval) >= MaxHeaderVal {
			return p.fail("header", ErrTooLarge)
		}
		p.hval = append(p.hval, b)
		return true
	}
}

func trimTrailingOWS(b []byte) []byte {
	i := len(b)
	for i > 0 && (b[i-1] == ' ' || b[i-1] == '\t') {
		i--
	}
	return b[:i]
}

func (p *Parser) finishHeader() bool {
	key := string(p.hkey)
	val := string(trimTrailingOWS(p.hval))

	if len(p.headers) >= MaxHeaders {
		return p.fail("header", ErrTooLarge)
	}
	p.headers = append(p.headers, Header{Key: key, Value: val})

	if equalFoldASCII(key, "Content-Length") {
		n, ok := parseNonNegativeInt(val)
		if !ok {
			return p.fail("content-length", ErrMalformed)
		}
		if n > MaxBodyLen {
			return p.fail("body", ErrTooLarge)
		}
		p.contentLength = n
		p.haveContentLen = true
	}
	if equalFoldASCII(key, "Host") {
		p.haveHost = true
	}
	if equalFoldASCII(key, "Transfer-Encoding") {
		p.haveTransferEnc = true
	}

	p.st = stateHeaderKey
	p.hkey = p.hkey[:0]
	return true
}

func (p *Parser) finishHeaders() bool {
	if p.haveTransferEnc {
		// Chunked transfer-encoding is explicitly out of scope; any
		// Transfer-Encoding header is therefore rejected outright
		// rather than silently mishandled.
		return p.fail("transfer-encoding", ErrMalformed)
	}
	if p.versionString() == "1.1" && !p.haveHost {
		return p.fail("host", ErrMalformed)
	}

	if p.haveContentLen && p.contentLength > 0 {
		p.st = stateBody
		p.bodyRemaining = p.contentLength
		p.body = make([]byte, 0, p.contentLength)
		return true
	}

	p.st = stateFinal
	return false
}

func (p *Parser) stepBody(b byte) bool {
	p.body = append(p.body, b)
	p.bodyRemaining--
	if p.bodyRemaining <= 0 {
		p.st = stateFinal
		return false
	}
	return true
}

func (p *Parser) versionString() string {
	return string(p.vmajor) + "." + string(p.vminor)
}

// Result returns the parsed request. Only valid once Done()==true and
// Err()==nil.
func (p *Parser) Result() Result {
	return Result{
		Method:  string(p.method),
		Path:    string(p.path),
		Query:   append([]QueryParam(nil), p.query...),
		Version: p.versionString(),
		Headers: append([]Header(nil), p.headers...),
		Body:    append([]byte(nil), p.body...),
	}
}

func isCtl(b byte) bool { return b < 0x20 || b == 0x7f }

func equalFoldASCII(a, b string) bool {
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

func parseNonNegativeInt(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
		if n < 0 {
			return 0, false
		}
	}
	return n, true
}
