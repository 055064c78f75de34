package httpcore

import (
	"io"

	"github.com/axelhelm/httpcore/internal/buffer"
	"github.com/axelhelm/httpcore/internal/headers"
	"github.com/axelhelm/httpcore/internal/model"
	"github.com/axelhelm/httpcore/internal/timing"
)

// Response is the scoped response object handed to the responder
// callback, or returned directly when the callback form isn't used
// (spec.md §3 "Response", §4.9 step 5).
//
// Close drains any unread body and runs the connection's keep-alive
// finalization; callers that obtain a Response directly (rather than
// through a responder callback) MUST call Close when done with it.
type Response struct {
	StatusCode int
	Reason     string
	Version    model.Version
	Headers    *headers.Map
	Body       io.ReadCloser

	IsHTTP2         bool
	ConnectionReused bool
	Metrics         timing.Metrics

	closed  bool
	onClose func(fullyDrained bool)
}

// Header returns the first value of name under case-insensitive
// lookup, matching spec.md invariant 4.
func (r *Response) Header(name string) (string, bool) {
	return r.Headers.Get(name)
}

// Drain reads and discards the remainder of the body, without closing
// the underlying connection bookkeeping (spec.md §8 invariant 2 "(a)
// the body was fully consumed").
func (r *Response) Drain() error {
	if r.Body == nil {
		return nil
	}
	_, err := io.Copy(io.Discard, r.Body)
	return err
}

// Buffered drains the whole body into a memory-with-disk-spill buffer.Buffer
// (spilling past memLimit bytes; memLimit <= 0 uses buffer.DefaultMemoryLimit)
// for callers that want the complete payload at once rather than streaming
// it. It consumes and closes the body and runs the same keep-alive
// finalization as Close, so it must not be combined with a later call to
// Close or Drain.
func (r *Response) Buffered(memLimit int64) (*buffer.Buffer, error) {
	if r.closed {
		return nil, io.ErrClosedPipe
	}
	r.closed = true

	buf := buffer.New(memLimit)
	fullyDrained := true
	if r.Body != nil {
		if _, err := io.Copy(buf, r.Body); err != nil {
			fullyDrained = false
		}
		r.Body.Close()
	}
	if r.onClose != nil {
		r.onClose(fullyDrained)
	}
	return buf, nil
}

// Close drains the body if it was never fully read, closes it, and
// signals the owning connection's keep-alive accounting (spec.md §4.9
// step 5, §5 "Cancellation": "triggers body drain ... if drain is
// impossible ... the connection is closed rather than returned to the
// pool").
func (r *Response) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	fullyDrained := true
	if r.Body != nil {
		if err := r.Drain(); err != nil {
			fullyDrained = false
		}
		r.Body.Close()
	}
	if r.onClose != nil {
		r.onClose(fullyDrained)
	}
	return nil
}
