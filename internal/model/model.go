// Package model defines the shared request/response data model of
// spec.md §3: the method enum, version enum, and status taxonomy that
// both the HTTP/1.x and HTTP/2 pipelines build their Request/Response
// types around.
package model

import "fmt"

// Method enumerates the HTTP methods spec.md §3 lists.
type Method int

const (
	GET Method = iota
	HEAD
	PUT
	POST
	PATCH
	DELETE
	OPTIONS
	TRACE
	CONNECT
	COPY
	LOCK
	MKCOL
	MOVE
	PROPFIND
	PROPPATCH
	UNLOCK
)

var methodNames = [...]string{
	"GET", "HEAD", "PUT", "POST", "PATCH", "DELETE", "OPTIONS", "TRACE",
	"CONNECT", "COPY", "LOCK", "MKCOL", "MOVE", "PROPFIND", "PROPPATCH", "UNLOCK",
}

func (m Method) String() string {
	if int(m) < 0 || int(m) >= len(methodNames) {
		return "UNKNOWN"
	}
	return methodNames[m]
}

// ParseMethod maps a wire method token back to Method, case-sensitively
// per RFC 7230 (method tokens are case-sensitive).
func ParseMethod(s string) (Method, bool) {
	for i, name := range methodNames {
		if name == s {
			return Method(i), true
		}
	}
	return 0, false
}

// Version enumerates the wire protocol versions this core speaks.
type Version int

const (
	HTTP10 Version = iota
	HTTP11
	HTTP2
)

func (v Version) String() string {
	switch v {
	case HTTP10:
		return "HTTP/1.0"
	case HTTP11:
		return "HTTP/1.1"
	case HTTP2:
		return "HTTP/2"
	default:
		return "HTTP/?"
	}
}

// ParseVersion parses a wire version token like "HTTP/1.1".
func ParseVersion(s string) (Version, bool) {
	switch s {
	case "HTTP/1.0":
		return HTTP10, true
	case "HTTP/1.1":
		return HTTP11, true
	case "HTTP/2", "HTTP/2.0":
		return HTTP2, true
	default:
		return 0, false
	}
}

// StatusClass buckets a numeric status code into RFC 7231's five
// classes, used for body-presence rules (spec.md §4.3) and error
// classification.
type StatusClass int

const (
	StatusInformational StatusClass = iota // 1xx
	StatusSuccessful                       // 2xx
	StatusRedirection                      // 3xx
	StatusClientError                      // 4xx
	StatusServerError                      // 5xx
	StatusUnknown
)

func ClassOf(code int) StatusClass {
	switch {
	case code >= 100 && code < 200:
		return StatusInformational
	case code >= 200 && code < 300:
		return StatusSuccessful
	case code >= 300 && code < 400:
		return StatusRedirection
	case code >= 400 && code < 500:
		return StatusClientError
	case code >= 500 && code < 600:
		return StatusServerError
	default:
		return StatusUnknown
	}
}

// MustNotHaveBody reports whether a response with the given status code
// to the given method is forbidden from carrying a body, per RFC 9110
// §6.4.1: "All 1xx, 204, and 304 responses do not include content", and
// no response to HEAD carries content.
func MustNotHaveBody(method Method, statusCode int) bool {
	if method == HEAD {
		return true
	}
	class := ClassOf(statusCode)
	if class == StatusInformational {
		return true
	}
	return statusCode == 204 || statusCode == 304
}

// OriginKey identifies the pool a request's connection is drawn from,
// per spec.md §3: "(host, port, TLS?, proxy settings, client settings
// identity)".
type OriginKey struct {
	Host           string
	Port           int
	TLS            bool
	ProxyKey       string // empty when no proxy is configured
	SettingsIdentity string // identifies the Settings instance in use
}

func (k OriginKey) String() string {
	scheme := "http"
	if k.TLS {
		scheme = "https"
	}
	if k.ProxyKey != "" {
		return fmt.Sprintf("%s://%s:%d via %s [%s]", scheme, k.Host, k.Port, k.ProxyKey, k.SettingsIdentity)
	}
	return fmt.Sprintf("%s://%s:%d [%s]", scheme, k.Host, k.Port, k.SettingsIdentity)
}
