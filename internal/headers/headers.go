// Package headers implements the case-insensitive, insertion-order
// preserving header container described in spec.md §4.1.
//
// Unlike net/http.Header (a map that re-sorts on write), a Map here
// remembers the order fields were inserted and the original case they
// were inserted with, because spec.md invariant 3 requires headers to
// hit the wire in that exact order. A small inline array avoids a heap
// allocation for the common small-header-count case before spilling to
// a growable slice (spec.md §9 "Header map").
package headers

import (
	"io"
	"net/textproto"
	"strings"
)

// inlineCap is the number of header entries stored without allocating a
// backing slice. Chosen generously enough to cover a typical request or
// response; requests with more fields spill to entries transparently.
const inlineCap = 16

type entry struct {
	// name is the original-case field name as inserted.
	name string
	// key is the canonical (ASCII-lowercased) lookup form.
	key   string
	value string
}

// Map is a case-insensitive, order-preserving, duplicate-tolerant header
// container. The zero value is ready to use.
type Map struct {
	inline   [inlineCap]entry
	inlineN  int
	overflow []entry
}

// canonKey lowercases name under ASCII case folding only, per spec.md
// §4.1 ("ASCII case-insensitive").
func canonKey(name string) string {
	return strings.ToLower(name)
}

// IsValidToken reports whether name is a syntactically valid HTTP field
// name (RFC 7230 §3.2 token).
func IsValidToken(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if !isTokenChar(c) {
			return false
		}
	}
	return true
}

func isTokenChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	switch c {
	case '!', '#', '$', '%', '&', '\'', '*', '+', '-', '.', '^', '_', '`', '|', '~':
		return true
	}
	return false
}

// HasRawCRLF reports whether value contains a bare CR or LF, which
// spec.md §4.1 forbids in header values (header/response splitting).
func HasRawCRLF(value string) bool {
	return strings.ContainsAny(value, "\r\n")
}

func (m *Map) all() func(yield func(int) bool) {
	return func(yield func(int) bool) {
		for i := 0; i < m.inlineN; i++ {
			if !yield(i) {
				return
			}
		}
		for i := range m.overflow {
			if !yield(i + inlineCap) {
				return
			}
		}
	}
}

func (m *Map) at(i int) *entry {
	if i < inlineCap {
		return &m.inline[i]
	}
	return &m.overflow[i-inlineCap]
}

func (m *Map) len() int {
	return m.inlineN + len(m.overflow)
}

func (m *Map) append(e entry) {
	if m.inlineN < inlineCap {
		m.inline[m.inlineN] = e
		m.inlineN++
		return
	}
	m.overflow = append(m.overflow, e)
}

// Insert appends a (name, value) pair, preserving both the original case
// of name and insertion order. Duplicate names are retained — required
// for Set-Cookie (spec.md §4.1).
func (m *Map) Insert(name, value string) {
	m.append(entry{name: name, key: canonKey(name), value: value})
}

// Set replaces all existing values for name with a single value,
// inserting at the position of the first existing occurrence if present,
// or appending if not.
func (m *Map) Set(name, value string) {
	canon := canonKey(name)
	replaced := false
	n := m.len()
	for i := 0; i < n; i++ {
		e := m.at(i)
		if e.key != canon {
			continue
		}
		if !replaced {
			e.name = name
			e.value = value
			replaced = true
		} else {
			e.key = "" // tombstone: unmatched by any canon key
		}
	}
	if !replaced {
		m.Insert(name, value)
	}
}

// Get returns the value of the first inserted header matching name
// under ASCII case folding, and whether any match was found (spec.md
// invariant 4).
func (m *Map) Get(name string) (string, bool) {
	canon := canonKey(name)
	n := m.len()
	for i := 0; i < n; i++ {
		e := m.at(i)
		if e.key == canon {
			return e.value, true
		}
	}
	return "", false
}

// GetAll returns every value inserted under name, in insertion order.
func (m *Map) GetAll(name string) []string {
	canon := canonKey(name)
	var out []string
	n := m.len()
	for i := 0; i < n; i++ {
		e := m.at(i)
		if e.key == canon {
			out = append(out, e.value)
		}
	}
	return out
}

// Has reports whether any header named name is present.
func (m *Map) Has(name string) bool {
	_, ok := m.Get(name)
	return ok
}

// Remove deletes the first header matching name and reports whether one
// was removed.
func (m *Map) Remove(name string) bool {
	canon := canonKey(name)
	n := m.len()
	for i := 0; i < n; i++ {
		e := m.at(i)
		if e.key == canon {
			e.key = "" // tombstone
			return true
		}
	}
	return false
}

// RemoveAll deletes every header matching name.
func (m *Map) RemoveAll(name string) {
	canon := canonKey(name)
	n := m.len()
	for i := 0; i < n; i++ {
		e := m.at(i)
		if e.key == canon {
			e.key = ""
		}
	}
}

// Field is one (original-case name, value) pair as it will be written to
// the wire.
type Field struct {
	Name  string
	Value string
}

// Each iterates live (non-tombstoned) fields in insertion order.
func (m *Map) Each(fn func(Field)) {
	n := m.len()
	for i := 0; i < n; i++ {
		e := m.at(i)
		if e.key == "" {
			continue
		}
		fn(Field{Name: e.name, Value: e.value})
	}
}

// Fields returns a snapshot slice of all live fields, in insertion order.
func (m *Map) Fields() []Field {
	out := make([]Field, 0, m.len())
	m.Each(func(f Field) { out = append(out, f) })
	return out
}

// Clone returns a deep, independent copy.
func (m *Map) Clone() *Map {
	clone := &Map{}
	m.Each(func(f Field) { clone.Insert(f.Name, f.Value) })
	return clone
}

// WriteTo serializes the map as "Name: value\r\n" lines, in insertion
// order, matching spec.md §4.5's request/response serialization rule.
func (m *Map) WriteTo(w io.Writer) (int64, error) {
	var total int64
	var err error
	m.Each(func(f Field) {
		if err != nil {
			return
		}
		var n int
		n, err = io.WriteString(w, f.Name+": "+f.Value+"\r\n")
		total += int64(n)
	})
	return total, err
}

// CanonicalName exposes textproto's canonicalization for callers that
// want to display a header name in its conventional form (e.g.
// "content-length" -> "Content-Length") without affecting lookup, which
// always folds to lowercase internally.
func CanonicalName(name string) string {
	return textproto.CanonicalMIMEHeaderKey(name)
}
