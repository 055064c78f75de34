// Package h2 wraps golang.org/x/net/http2's frame codec to implement
// the HTTP/2 Context & Stream Driver of spec.md §4.6: session setup via
// ALPN or h2c upgrade, a worker task running the frame read loop,
// per-request streams, SETTINGS-driven concurrency limits, and
// PING-measured RTT.
//
// The wire-frame codec itself (golang.org/x/net/http2.Framer and its
// hpack encoder/decoder) is treated as the black-box library spec.md §1
// describes; this package defines how the core drives it, not how
// frames are serialized.
package h2

import "time"

// Options configures a Context.
type Options struct {
	// LocalMaxConcurrentStreams is advertised to the peer in our
	// initial SETTINGS frame. Zero means no limit is advertised.
	LocalMaxConcurrentStreams uint32

	// PingInterval, when non-zero, drives a timer that issues PING
	// frames to measure RTT (spec.md §4.6 "Ping/RTT").
	PingInterval time.Duration

	// ConnectionTimeout bounds how long the worker waits for the next
	// frame from the peer; when it passes with no frame, the session is
	// torn down. Frame writes are not bounded by it. Zero means no bound.
	ConnectionTimeout time.Duration

	// OnTerminate is invoked once, from the worker goroutine, when the
	// session tears down for any reason (GOAWAY sent/received, I/O
	// error, or explicit Disconnect). err is nil for a clean GOAWAY.
	OnTerminate func(err error)
}

// defaultPeerMaxConcurrentStreams is used until the peer's first
// SETTINGS frame arrives; RFC 7540 §6.5.2 says "until [...] receipt of
// the initial SETTINGS frame [...] a sender MUST NOT treat the default
// value as a limit" — callers may start streams speculatively using
// this as a generous working assumption.
const defaultPeerMaxConcurrentStreams = 100
