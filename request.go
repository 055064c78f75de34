package httpcore

import (
	"bufio"
	"strings"

	"github.com/axelhelm/httpcore/internal/body"
	"github.com/axelhelm/httpcore/internal/errors"
	"github.com/axelhelm/httpcore/internal/h1"
	"github.com/axelhelm/httpcore/internal/h2"
	"github.com/axelhelm/httpcore/internal/headers"
	"github.com/axelhelm/httpcore/internal/model"
)

// Request is the scoped, mutable-until-body-writer request object
// handed to the requester callback (spec.md §3 "Request"). Headers may
// be freely set until BodyWriter/BodyStream is called, at which point
// the method, target, version and headers are frozen; Request never
// escapes the callback.
type Request struct {
	method  model.Method
	target  string // absolute URL when proxied, path+query otherwise
	version model.Version
	headers *headers.Map

	isHTTP2 bool
	frozen  bool

	// h1 path
	h1Dest   *bufio.Writer
	h1Writer *body.RequestWriter

	// h2 path: startH2 opens the stream (HPACK-encoding r.headers) on
	// first use, either from BodyStream (more data still to come) or
	// from finalize (bodyless request, headers carry END_STREAM).
	h2Stream *h2.Stream
	startH2  func(endStream bool) (*h2.Stream, error)
}

// SetHeader sets name to value, replacing any existing value. Panics if
// called after BodyWriter/BodyStream, matching spec.md §3's freeze
// invariant.
func (r *Request) SetHeader(name, value string) {
	r.assertMutable()
	r.headers.Set(name, value)
}

// AddHeader appends an additional value for name without replacing
// existing ones (for repeatable fields like Cookie when
// ConcatenateCookies is false).
func (r *Request) AddHeader(name, value string) {
	r.assertMutable()
	r.headers.Insert(name, value)
}

// Header returns the first value set for name, if any.
func (r *Request) Header(name string) (string, bool) {
	return r.headers.Get(name)
}

// Method returns the request method.
func (r *Request) Method() model.Method { return r.method }

// Target returns the request-URI as it will be (or was) sent on the wire.
func (r *Request) Target() string { return r.target }

// Version returns the HTTP version this request is framed for.
func (r *Request) Version() model.Version { return r.version }

// IsHTTP2 reports whether this request is being transmitted over an
// HTTP/2 stream (spec.md §8 scenario S4's `isHTTP2` flag).
func (r *Request) IsHTTP2() bool { return r.isHTTP2 }

func (r *Request) assertMutable() {
	if r.frozen {
		panic("httpcore: header set after the request body writer was obtained")
	}
}

// BodyWriter freezes the request head, writes the request line and
// headers, and returns a writer for the body. contentLength >= 0 sends
// exactly that many bytes length-delimited; contentLength < 0 selects
// chunked transfer-coding, unless the caller already set
// Connection: close, in which case the body falls back to
// identity framing instead (spec.md §4.3 "Request body writer").
//
// This method is only meaningful on the HTTP/1.x path; HTTP/2 requests
// write directly to the stream returned by BodyStream instead.
func (r *Request) BodyWriter(contentLength int64) (*body.RequestWriter, error) {
	if r.isHTTP2 {
		return nil, errors.NewUserHandler(errNotH1Request)
	}
	if r.frozen {
		return r.h1Writer, nil
	}
	chunked := contentLength < 0 && !r.connectionClose()
	if contentLength >= 0 {
		h1.ApplyContentLength(r.headers, contentLength)
	} else if chunked {
		h1.ApplyChunked(r.headers)
	}
	if err := r.writeHeadLocked(); err != nil {
		return nil, err
	}
	if chunked {
		r.h1Writer = body.NewChunkedRequestWriter(r.h1Dest)
	} else {
		r.h1Writer = body.NewIdentityRequestWriter(r.h1Dest)
	}
	return r.h1Writer, nil
}

func (r *Request) connectionClose() bool {
	v, ok := r.headers.Get("Connection")
	return ok && strings.EqualFold(v, "close")
}

func (r *Request) writeHeadLocked() error {
	r.frozen = true
	return h1.WriteHead(r.h1Dest, &h1.OutgoingRequest{
		Method:     r.method,
		RequestURI: r.target,
		Version:    r.version,
		Headers:    r.headers,
	})
}

// BodyStream opens (on first call) and returns the HTTP/2 stream this
// request writes its body to (spec.md §4.3: "HTTP/2 request writers
// bypass [RequestWriter] and write straight to the stream's data
// channel"). The caller is responsible for calling WriteData with
// endStream=true on the final chunk.
func (r *Request) BodyStream() (*h2.Stream, error) {
	if !r.isHTTP2 {
		return nil, errors.NewUserHandler(errNotH2Request)
	}
	r.frozen = true
	if r.h2Stream != nil {
		return r.h2Stream, nil
	}
	stream, err := r.startH2(false)
	if err != nil {
		return nil, err
	}
	r.h2Stream = stream
	return stream, nil
}

// finalize completes request transmission after the requester callback
// returns (spec.md §4.5 step 4): flushing and terminating a chunked
// body, or — if the callback never called BodyWriter/BodyStream —
// writing the (bodyless) head now.
func (r *Request) finalize() error {
	if r.isHTTP2 {
		if r.h2Stream != nil {
			return nil // body, if any, was already written directly to the stream
		}
		r.frozen = true
		_, err := r.startH2(true)
		return err
	}
	if r.h1Writer != nil {
		return r.h1Writer.Finalize()
	}
	if !r.frozen {
		if err := r.writeHeadLocked(); err != nil {
			return err
		}
	}
	return r.h1Dest.Flush()
}

var (
	errNotH1Request = errSentinel("BodyWriter called on an HTTP/2 request")
	errNotH2Request = errSentinel("BodyStream called on a non-HTTP/2 request")
)

type errSentinel string

func (e errSentinel) Error() string { return string(e) }
