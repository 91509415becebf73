// Package urlutil provides percent-decoding for URL path segments and query
// components, as the external "url_decode" collaborator the HTTP parser and
// request model depend on. It deliberately does not reuse net/url's
// query-string parsing: this module owns field splitting (the parser state
// machine) and only needs single-component decoding.
package urlutil

import (
	"errors"
	"strings"
)

// ErrMalformedEscape indicates a percent escape was truncated (a trailing
// '%' or '%H' with no second digit) or followed by non-hex digits.
var ErrMalformedEscape = errors.New("urlutil: malformed percent escape")

// Decode percent-decodes s, converting '+' to a literal space, matching the
// application/x-www-form-urlencoded convention used for query components. A
// truncated or invalid percent escape is a decode failure, not a pass-
// through: callers that need the raw text on failure must keep it
// themselves.
func Decode(s string) (string, error) {
	if !strings.ContainsAny(s, "%+") {
		return s, nil
	}

	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '+':
			b.WriteByte(' ')
		case '%':
			if i+2 >= len(s) {
				return "", ErrMalformedEscape
			}
			hi, ok := hexVal(s[i+1])
			if !ok {
				return "", ErrMalformedEscape
			}
			lo, ok := hexVal(s[i+2])
			if !ok {
				return "", ErrMalformedEscape
			}
			b.WriteByte(hi<<4 | lo)
			i += 2
		default:
			b.WriteByte(c)
		}
	}

	return b.String(), nil
}

func hexVal(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	default:
		return 0, false
	}
}
