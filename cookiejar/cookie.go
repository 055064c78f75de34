// Package cookiejar defines the storage-agnostic cookie store contract
// the client consumes for Cookie/Set-Cookie handling (spec.md §4.4), and
// ships one file-backed implementation.
package cookiejar

import (
	"bytes"
	"strconv"
	"strings"
	"time"
)

// TimeFormat is the RFC 822-ish format used for the Expires attribute,
// matching the wire format spec.md §6's cookie file format calls for.
const TimeFormat = "Mon, 02-Jan-2006 15:04:05 GMT"

// SessionSentinel is the Unix epoch (Thu, 01 Jan 1970 00:00:00 GMT).
// ParseSetCookie assigns it as Expires for a Max-Age <= 0, which makes
// that cookie expired at once. Session cookies are not marked with it:
// they keep a zero Expires and are persisted without an Expires
// attribute.
var SessionSentinel = time.Unix(0, 0).UTC()

// Cookie holds the attributes of a single cookie value, independent of
// its name (which lives alongside it in a Pair).
type Cookie struct {
	Value    string
	Domain   string
	Path     string
	Expires  time.Time // zero value means "session cookie", in memory and on disk alike
	MaxAge   int        // seconds; 0 means unset
	Secure   bool
	HTTPOnly bool
}

// Pair is a (name, Cookie) tuple, the unit the jar stores and emits.
type Pair struct {
	Name   string
	Cookie Cookie
}

// IsSessionCookie reports whether c has neither Expires nor Max-Age set
// (spec.md GLOSSARY "Session cookie").
func (c Cookie) IsSessionCookie() bool {
	return c.Expires.IsZero() && c.MaxAge == 0
}

// Expired reports whether c has passed its expiry relative to now.
// Session cookies (IsSessionCookie) are never expired by this check;
// callers that want "session cookies only" filtering should test
// IsSessionCookie directly (spec.md §9 open question on the two
// expires-filter modes).
func (c Cookie) Expired(now time.Time) bool {
	if c.IsSessionCookie() {
		return false
	}
	return now.After(c.Expires)
}

// String renders p in Set-Cookie wire format.
func (p Pair) String() string {
	if p.Name == "" {
		return ""
	}
	var b bytes.Buffer
	b.WriteString(p.Name)
	b.WriteByte('=')
	b.WriteString(p.Cookie.Value)

	if p.Cookie.Path != "" {
		b.WriteString("; Path=")
		b.WriteString(p.Cookie.Path)
	}
	if p.Cookie.Domain != "" {
		b.WriteString("; Domain=")
		b.WriteString(p.Cookie.Domain)
	}
	if !p.Cookie.Expires.IsZero() {
		b.WriteString("; Expires=")
		b.WriteString(p.Cookie.Expires.UTC().Format(TimeFormat))
	}
	if p.Cookie.MaxAge != 0 {
		b.WriteString("; Max-Age=")
		b.WriteString(strconv.Itoa(p.Cookie.MaxAge))
	}
	if p.Cookie.Secure {
		b.WriteString("; Secure")
	}
	if p.Cookie.HTTPOnly {
		b.WriteString("; HttpOnly")
	}
	return b.String()
}

// ParseSetCookie parses one Set-Cookie header value into a Pair. If
// Domain is absent it is left empty — the caller (Jar.Set) fills it in
// with the request host per spec.md §4.4: "if Domain is absent, defaults
// to host". If neither Expires nor Max-Age is present, the Pair is a
// session cookie. If Max-Age > 0, Expires is computed from now + Max-Age.
func ParseSetCookie(raw string, now time.Time) (Pair, bool) {
	parts := strings.Split(raw, ";")
	if len(parts) == 0 {
		return Pair{}, false
	}
	nameValue := strings.SplitN(strings.TrimSpace(parts[0]), "=", 2)
	if len(nameValue) != 2 {
		return Pair{}, false
	}
	name := strings.TrimSpace(nameValue[0])
	if name == "" {
		return Pair{}, false
	}
	p := Pair{Name: name, Cookie: Cookie{Value: strings.TrimSpace(nameValue[1])}}

	for _, attr := range parts[1:] {
		attr = strings.TrimSpace(attr)
		if attr == "" {
			continue
		}
		kv := strings.SplitN(attr, "=", 2)
		key := strings.ToLower(strings.TrimSpace(kv[0]))
		var val string
		if len(kv) == 2 {
			val = strings.TrimSpace(kv[1])
		}
		switch key {
		case "domain":
			p.Cookie.Domain = val
		case "path":
			p.Cookie.Path = val
		case "secure":
			p.Cookie.Secure = true
		case "httponly":
			p.Cookie.HTTPOnly = true
		case "max-age":
			if n, err := strconv.Atoi(val); err == nil {
				p.Cookie.MaxAge = n
				if n > 0 {
					p.Cookie.Expires = now.Add(time.Duration(n) * time.Second)
				} else {
					p.Cookie.Expires = SessionSentinel
				}
			}
		case "expires":
			for _, layout := range []string{time.RFC1123, TimeFormat, time.RFC850, time.ANSIC} {
				if t, err := time.Parse(layout, val); err == nil {
					if p.Cookie.MaxAge == 0 {
						p.Cookie.Expires = t.UTC()
					}
					break
				}
			}
		}
	}
	return p, true
}
