package h2

import (
	"sync"
)

// StreamState mirrors the subset of RFC 7540 §5.1's stream state
// machine this driver needs to track.
type StreamState int

const (
	StreamOpen StreamState = iota
	StreamHalfClosedLocal
	StreamHalfClosedRemote
	StreamClosed
)

// Stream is one logical request/response exchange multiplexed over a
// shared Context (spec.md §4.6 "Per-request on an active session").
type Stream struct {
	id    uint32
	ctx   *Context
	state StreamState

	mu           sync.Mutex
	headers      []HeaderField // decoded response headers, pseudo-headers included
	headersDone  bool
	headersCond  *sync.Cond
	data         chan []byte // DATA frame payloads, in arrival order
	err          error
	closeOnce    sync.Once
	doneCh       chan struct{}
}

// HeaderField is a decoded HPACK field; mirrors hpack.HeaderField's
// shape without leaking the hpack import into callers that only need
// the decoded values.
type HeaderField struct {
	Name  string
	Value string
}

func newStream(ctx *Context, id uint32) *Stream {
	s := &Stream{
		id:     id,
		ctx:    ctx,
		state:  StreamOpen,
		data:   make(chan []byte, 16),
		doneCh: make(chan struct{}),
	}
	s.headersCond = sync.NewCond(&s.mu)
	return s
}

// ID returns the HTTP/2 stream identifier.
func (s *Stream) ID() uint32 { return s.id }

// WriteData sends a DATA frame on this stream. endStream marks the
// local side as finished sending.
func (s *Stream) WriteData(p []byte, endStream bool) error {
	return s.ctx.writeData(s, p, endStream)
}

// ResponseHeaders blocks until the response HEADERS frame (and any
// CONTINUATION) has been fully decoded, then returns the decoded
// pseudo- and regular headers in HPACK emission order.
func (s *Stream) ResponseHeaders() ([]HeaderField, error) {
	s.mu.Lock()
	for !s.headersDone && s.err == nil {
		s.headersCond.Wait()
	}
	hdrs, err := s.headers, s.err
	s.mu.Unlock()
	return hdrs, err
}

// Data returns the channel of DATA frame payloads for this stream. The
// channel is closed when the remote side half-closes or the stream
// fails; check Err after the channel closes.
func (s *Stream) Data() <-chan []byte {
	return s.data
}

// Err returns the terminal error for this stream, if any, valid once
// Data()'s channel has been closed.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed once the stream is fully finished (closed or failed).
func (s *Stream) Done() <-chan struct{} {
	return s.doneCh
}

func (s *Stream) deliverHeaders(hdrs []HeaderField) {
	s.mu.Lock()
	s.headers = hdrs
	s.headersDone = true
	s.headersCond.Broadcast()
	s.mu.Unlock()
}

func (s *Stream) deliverData(p []byte) {
	if len(p) == 0 {
		return
	}
	cp := make([]byte, len(p))
	copy(cp, p)
	select {
	case s.data <- cp:
	default:
		// Slow consumer: block until it reads rather than drop, preserving
		// byte-for-byte body integrity over strict non-blocking
		// delivery. A production flow-control layer would instead
		// shrink the advertised window; out of scope here.
		s.data <- cp
	}
}

func (s *Stream) closeRemote() {
	s.closeOnce.Do(func() {
		close(s.data)
		close(s.doneCh)
	})
}

func (s *Stream) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.headersDone = true
	s.headersCond.Broadcast()
	s.mu.Unlock()
	s.closeRemote()
}
