// Package httpstatus provides the reason-phrase table used when writing an
// HTTP/1.1 status line. It has no dependency on the rest of the module,
// matching the spec's treatment of it as an external collaborator.
package httpstatus

import "strconv"

// reasonPhrases covers the codes the response writer is required to emit
// correctly, plus the remainder of the common RFC 7231/7235 set so a wider
// range of handler-chosen statuses still get a sensible phrase.
var reasonPhrases = map[int]string{
	100: "Continue",
	101: "Switching Protocols",
	200: "OK",
	201: "Created",
	202: "Accepted",
	204: "No Content",
	206: "Partial Content",
	301: "Moved Permanently",
	302: "Found",
	303: "See Other",
	304: "Not Modified",
	307: "Temporary Redirect",
	308: "Permanent Redirect",
	400: "Bad Request",
	401: "Unauthorized",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	406: "Not Acceptable",
	408: "Request Timeout",
	409: "Conflict",
	410: "Gone",
	411: "Length Required",
	413: "Payload Too Large",
	414: "URI Too Long",
	415: "Unsupported Media Type",
	422: "Unprocessable Entity",
	429: "Too Many Requests",
	431: "Request Header Fields Too Large",
	500: "Internal Server Error",
	501: "Not Implemented",
	502: "Bad Gateway",
	503: "Service Unavailable",
	504: "Gateway Timeout",
}

// Message returns the standard reason phrase for code, or the code in
// decimal if it is not recognised. It never returns an empty string, so
// callers can always produce a well-formed status line.
func Message(code int) string {
	if msg, ok := reasonPhrases[code]; ok {
		return msg
	}
	return strconv.Itoa(code)
}
