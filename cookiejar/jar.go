package cookiejar

import (
	"strings"
	"time"
)

// Emitter receives each cookie Get selects, in the order the jar wants
// them concatenated into the outgoing Cookie header (spec.md §4.4).
type Emitter func(name, value string)

// Jar is the storage-agnostic cookie store contract the client consumes.
// Implementations may back onto memory, a file, a database — the core
// only depends on this interface (spec.md §4.4).
type Jar interface {
	// Get emits, via emit, every cookie that matches host, requestPath
	// and isTLS: unexpired, domain-matching (DomainMatches), and
	// path-prefix matching requestPath.
	Get(host, requestPath string, isTLS bool, emit Emitter)

	// Set parses setCookie as a Set-Cookie header value and stores it,
	// defaulting Domain to host when absent.
	Set(host, setCookie string) error
}

// DomainMatches implements the domain match predicate of spec.md
// §4.4.1: cookieDomain matches host iff any of the documented rules
// holds.
func DomainMatches(cookieDomain, host string) bool {
	if cookieDomain == "" || host == "" {
		return false
	}
	cd := strings.ToLower(cookieDomain)
	h := strings.ToLower(host)

	if cd[0] == '.' {
		suffix := cd
		bare := cd[1:]
		return strings.HasSuffix(h, suffix) || h == bare
	}
	if cd == h {
		return true
	}
	if strings.HasPrefix(h, "www.") && h[4:] == cd {
		return true
	}
	if strings.HasPrefix(cd, "www.") && cd[4:] == h {
		return true
	}
	return false
}

// PathMatches reports whether cookiePath is a path-prefix of
// requestPath, per spec.md §4.4 rule (b): either they are equal, or
// cookiePath is a prefix ending in "/", or the next character in
// requestPath after the shared prefix is "/".
func PathMatches(cookiePath, requestPath string) bool {
	if cookiePath == "" || cookiePath == "/" {
		return true
	}
	if requestPath == cookiePath {
		return true
	}
	if !strings.HasPrefix(requestPath, cookiePath) {
		return false
	}
	if strings.HasSuffix(cookiePath, "/") {
		return true
	}
	return requestPath[len(cookiePath)] == '/'
}

// Matches reports whether p would be sent on a request to host+path
// under isTLS, evaluated at time now (spec.md invariant 6).
func (p Pair) Matches(host, path string, isTLS bool, now time.Time) bool {
	if p.Cookie.Secure && !isTLS {
		return false
	}
	if !DomainMatches(p.Cookie.Domain, host) {
		return false
	}
	if !PathMatches(p.Cookie.Path, path) {
		return false
	}
	return !p.Cookie.Expired(now)
}
