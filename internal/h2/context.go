package h2

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"

	"github.com/axelhelm/httpcore/internal/errors"
	"github.com/axelhelm/httpcore/internal/timing"
)

// Context wraps one HTTP/2 session: the framer, HPACK codec, the set of
// active logical streams, and the concurrency limit tracking spec.md
// §4.6 describes. It is shared by every logical connection multiplexed
// over the underlying physical connection (spec.md §3 "HTTP/2 Context").
type Context struct {
	conn   net.Conn
	framer *http2.Framer

	encMu  sync.Mutex
	enc    *hpack.Encoder
	encBuf bytes.Buffer

	opts Options

	writeLock sync.Mutex

	mu                sync.Mutex
	streams           map[uint32]*Stream
	nextStreamID      uint32
	peerMaxConcurrent uint32
	activeCount       uint32
	slotFree          *sync.Cond
	closing           atomic.Bool
	closed            atomic.Bool

	rtt         timing.RTTTracker
	pingWaiters map[uint64]chan time.Duration
	pingMu      sync.Mutex

	workerDone chan struct{}
	stopPing   chan struct{}
}

// NewContext sends the client connection preface and initial SETTINGS
// frame over conn, then starts the worker task (spec.md §4.6 "Worker
// task") that drives the session's event loop until it terminates.
//
// NewContext does not block on the peer's SETTINGS ack; callers that
// need to know the negotiated concurrency limit should call
// MaxConcurrentStreams after the first round trip, or simply call
// StartRequest, which blocks for a slot using the provisional default.
func NewContext(conn net.Conn, opts Options) (*Context, error) {
	if _, err := conn.Write([]byte(http2.ClientPreface)); err != nil {
		return nil, errors.NewProtocolH2("preface", "writing client preface", err)
	}

	framer := http2.NewFramer(conn, conn)
	framer.ReadMetaHeaders = nil // we drive HPACK decoding ourselves below

	ctx := &Context{
		conn:              conn,
		framer:            framer,
		streams:           make(map[uint32]*Stream),
		nextStreamID:      1,
		peerMaxConcurrent: defaultPeerMaxConcurrentStreams,
		opts:              opts,
		pingWaiters:       make(map[uint64]chan time.Duration),
		workerDone:        make(chan struct{}),
		stopPing:          make(chan struct{}),
	}
	ctx.enc = hpack.NewEncoder(&ctx.encBuf)
	ctx.slotFree = sync.NewCond(&ctx.mu)

	settings := []http2.Setting{
		{ID: http2.SettingEnablePush, Val: 0},
	}
	if opts.LocalMaxConcurrentStreams > 0 {
		settings = append(settings, http2.Setting{ID: http2.SettingMaxConcurrentStreams, Val: opts.LocalMaxConcurrentStreams})
	}
	if err := framer.WriteSettings(settings...); err != nil {
		return nil, errors.NewProtocolH2("settings", "writing initial SETTINGS", err)
	}

	go ctx.run()
	if opts.PingInterval > 0 {
		go ctx.pingLoop()
	}
	return ctx, nil
}

// MaxConcurrentStreams returns the peer's most recently advertised
// SETTINGS_MAX_CONCURRENT_STREAMS value (spec.md §4.6 "Concurrency
// limit").
func (c *Context) MaxConcurrentStreams() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerMaxConcurrent
}

// RTT returns the last HTTP/2 PING-measured round-trip time.
func (c *Context) RTT() time.Duration {
	return c.rtt.Get()
}

// Closing reports whether GOAWAY has been sent or received and no new
// streams may open (spec.md §4.6 "Closing").
func (c *Context) Closing() bool {
	return c.closing.Load()
}

// StartRequest allocates a new HTTP/2 stream, writes its request
// headers (HPACK-encoded, pseudo-headers first), and optionally a DATA
// frame, per spec.md §4.6 "Per-request on an active session". It
// blocks until a concurrency slot under the peer's
// SETTINGS_MAX_CONCURRENT_STREAMS is available.
func (c *Context) StartRequest(pseudo, regular []HeaderField, body []byte, endStream bool) (*Stream, error) {
	c.mu.Lock()
	for !c.closing.Load() && c.activeCount >= c.peerMaxConcurrent {
		c.slotFree.Wait()
	}
	if c.closing.Load() {
		c.mu.Unlock()
		return nil, errors.ErrH2SessionTerminated
	}
	id := c.nextStreamID
	c.nextStreamID += 2
	c.activeCount++
	stream := newStream(c, id)
	c.streams[id] = stream
	c.mu.Unlock()

	block, err := c.encodeHeaders(pseudo, regular)
	if err != nil {
		c.removeStream(id)
		return nil, err
	}

	endHeaders := true
	hasBody := len(body) > 0
	if err := c.writeHeadersFrame(id, block, endHeaders, endStream && !hasBody); err != nil {
		c.removeStream(id)
		return nil, err
	}
	if hasBody {
		if err := c.writeData(stream, body, endStream); err != nil {
			c.removeStream(id)
			return nil, err
		}
	}
	return stream, nil
}

// AdoptUpgradeStream registers stream 1 as already half-closed-local:
// its request was the plaintext HTTP/1.1 request that carried the h2c
// upgrade offer, so only its response remains to arrive as HTTP/2
// frames (RFC 7540 §3.2 "the HTTP/1.1 request ... is assigned stream
// identifier 1").
func (c *Context) AdoptUpgradeStream() *Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := newStream(c, 1)
	s.state = StreamHalfClosedLocal
	c.streams[1] = s
	c.activeCount++
	if c.nextStreamID <= 1 {
		c.nextStreamID = 3
	}
	return s
}

func (c *Context) encodeHeaders(pseudo, regular []HeaderField) ([]byte, error) {
	c.encMu.Lock()
	defer c.encMu.Unlock()
	c.encBuf.Reset()
	for _, f := range pseudo {
		if err := c.enc.WriteField(hpack.HeaderField{Name: f.Name, Value: f.Value}); err != nil {
			return nil, errors.NewProtocolH2("hpack", "encoding pseudo-header "+f.Name, err)
		}
	}
	for _, f := range regular {
		if err := c.enc.WriteField(hpack.HeaderField{Name: f.Name, Value: f.Value}); err != nil {
			return nil, errors.NewProtocolH2("hpack", "encoding header "+f.Name, err)
		}
	}
	out := make([]byte, c.encBuf.Len())
	copy(out, c.encBuf.Bytes())
	return out, nil
}

func (c *Context) writeHeadersFrame(id uint32, block []byte, endHeaders, endStream bool) error {
	c.connMu().Lock()
	defer c.connMu().Unlock()
	err := c.framer.WriteHeaders(http2.HeadersFrameParam{
		StreamID:      id,
		BlockFragment: block,
		EndHeaders:    endHeaders,
		EndStream:     endStream,
	})
	if err != nil {
		return errors.NewProtocolH2("headers", "writing HEADERS frame", err)
	}
	return nil
}

func (c *Context) writeData(s *Stream, p []byte, endStream bool) error {
	c.connMu().Lock()
	defer c.connMu().Unlock()
	if err := c.framer.WriteData(s.id, endStream, p); err != nil {
		return errors.NewProtocolH2("data", "writing DATA frame", err)
	}
	return nil
}

// connMu returns the lock guarding all writes to the framer; HTTP/2
// frame writes on a single connection must not interleave (RFC 7540
// §5.4.1's frame-integrity expectations assume whole frames).
func (c *Context) connMu() *sync.Mutex { return &c.writeLock }

// Ping issues a PING frame carrying a fresh opaque payload and blocks
// until the matching PING ACK arrives, returning the measured RTT
// (spec.md §4.6 "User-initiated ping() returns the same measurement
// synchronously").
func (c *Context) Ping() (time.Duration, error) {
	var payload [8]byte
	if _, err := rand.Read(payload[:]); err != nil {
		return 0, errors.NewProtocolH2("ping", "generating ping payload", err)
	}
	key := binary.BigEndian.Uint64(payload[:])
	wait := make(chan time.Duration, 1)

	c.pingMu.Lock()
	c.pingWaiters[key] = wait
	c.pingMu.Unlock()

	sent := time.Now()
	c.connMu().Lock()
	err := c.framer.WritePing(false, payload)
	c.connMu().Unlock()
	if err != nil {
		c.pingMu.Lock()
		delete(c.pingWaiters, key)
		c.pingMu.Unlock()
		return 0, errors.NewProtocolH2("ping", "writing PING frame", err)
	}

	select {
	case <-wait:
		rtt := time.Since(sent)
		c.rtt.Record(rtt)
		return rtt, nil
	case <-c.workerDone:
		return 0, errors.ErrH2SessionTerminated
	}
}

func (c *Context) pingLoop() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if c.closing.Load() {
				return
			}
			go c.Ping() //nolint: errcheck — best-effort RTT sampling
		case <-c.stopPing:
			return
		case <-c.workerDone:
			return
		}
	}
}

// Disconnect tears the session down. rstStream, when true, only sends
// RST_STREAM on the current stream and keeps the session; when false it
// sends GOAWAY and waits for the worker to finish (spec.md §4.6
// "Closing").
func (c *Context) Disconnect(rstStream bool, current *Stream) error {
	if rstStream {
		if current == nil {
			return nil
		}
		c.connMu().Lock()
		err := c.framer.WriteRSTStream(current.id, http2.ErrCodeCancel)
		c.connMu().Unlock()
		return err
	}

	if !c.closing.CompareAndSwap(false, true) {
		<-c.workerDone
		return nil
	}
	c.connMu().Lock()
	c.framer.WriteGoAway(c.lastProcessedStreamID(), http2.ErrCodeNo, nil)
	c.connMu().Unlock()
	close(c.stopPing)
	<-c.workerDone
	return c.conn.Close()
}

func (c *Context) lastProcessedStreamID() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var max uint32
	for id := range c.streams {
		if id > max {
			max = id
		}
	}
	return max
}

// run is the worker task: it owns the read side of the connection and
// dispatches frames to streams until the session terminates, at which
// point every in-flight stream fails with ErrH2SessionTerminated
// (spec.md §4.10).
func (c *Context) run() {
	var terminateErr error
	defer func() {
		c.closed.Store(true)
		c.closing.Store(true)
		c.mu.Lock()
		c.activeCount = 0
		c.slotFree.Broadcast()
		streams := make([]*Stream, 0, len(c.streams))
		for _, s := range c.streams {
			streams = append(streams, s)
		}
		c.mu.Unlock()
		for _, s := range streams {
			s.fail(errors.ErrH2SessionTerminated)
		}
		close(c.workerDone)
		if c.opts.OnTerminate != nil {
			c.opts.OnTerminate(terminateErr)
		}
	}()

	var decBuf bytes.Buffer
	var headersStreamID uint32
	var headersEndStream bool

	for {
		if c.opts.ConnectionTimeout > 0 {
			c.conn.SetReadDeadline(time.Now().Add(c.opts.ConnectionTimeout))
		}
		frame, err := c.framer.ReadFrame()
		if err != nil {
			if err != io.EOF {
				terminateErr = errors.NewProtocolH2("read", "reading HTTP/2 frame", err)
			}
			return
		}

		switch f := frame.(type) {
		case *http2.SettingsFrame:
			if f.IsAck() {
				continue
			}
			c.applySettings(f)
			c.connMu().Lock()
			c.framer.WriteSettingsAck()
			c.connMu().Unlock()

		case *http2.PingFrame:
			if f.IsAck() {
				key := binary.BigEndian.Uint64(f.Data[:])
				c.pingMu.Lock()
				waiter, ok := c.pingWaiters[key]
				if ok {
					delete(c.pingWaiters, key)
				}
				c.pingMu.Unlock()
				if ok {
					waiter <- 0
				}
				continue
			}
			c.connMu().Lock()
			c.framer.WritePing(true, f.Data)
			c.connMu().Unlock()

		case *http2.HeadersFrame:
			headersStreamID = f.StreamID
			headersEndStream = f.StreamEnded()
			decBuf.Reset()
			decBuf.Write(f.HeaderBlockFragment())
			if f.HeadersEnded() {
				c.deliverDecodedHeaders(headersStreamID, decBuf.Bytes(), headersEndStream)
			}

		case *http2.ContinuationFrame:
			decBuf.Write(f.HeaderBlockFragment())
			if f.HeadersEnded() {
				c.deliverDecodedHeaders(headersStreamID, decBuf.Bytes(), headersEndStream)
			}

		case *http2.DataFrame:
			if s := c.lookupStream(f.StreamID); s != nil {
				s.deliverData(f.Data())
				if f.StreamEnded() {
					c.finishStream(s)
				}
			}

		case *http2.RSTStreamFrame:
			if s := c.lookupStream(f.StreamID); s != nil {
				s.fail(errors.NewProtocolH2("stream", fmt.Sprintf("stream refused: %v", f.ErrCode), nil))
				c.removeStream(f.StreamID)
			}

		case *http2.GoAwayFrame:
			c.closing.Store(true)
			if f.ErrCode != http2.ErrCodeNo {
				terminateErr = errors.NewProtocolH2("goaway", fmt.Sprintf("peer sent GOAWAY: %v", f.ErrCode), nil)
				return
			}

		case *http2.WindowUpdateFrame:
			// Flow-control accounting beyond initial window sizing is
			// delegated to the peer; the core here never throttles
			// outbound writes on window size, matching the
			// black-box-codec framing in spec.md §1.

		default:
			// Unknown/unhandled frame types are ignored per RFC 7540
			// §4.1 ("implementations MUST ignore and discard frames of
			// unknown types").
		}
	}
}

func (c *Context) applySettings(f *http2.SettingsFrame) {
	f.ForeachSetting(func(s http2.Setting) error {
		if s.ID == http2.SettingMaxConcurrentStreams {
			c.mu.Lock()
			c.peerMaxConcurrent = s.Val
			c.slotFree.Broadcast()
			c.mu.Unlock()
		}
		return nil
	})
}

func (c *Context) deliverDecodedHeaders(streamID uint32, block []byte, endStream bool) {
	var fields []HeaderField
	dec := hpack.NewDecoder(4096, func(f hpack.HeaderField) {
		fields = append(fields, HeaderField{Name: f.Name, Value: f.Value})
	})
	dec.Write(block)
	dec.Close()

	if s := c.lookupStream(streamID); s != nil {
		s.deliverHeaders(fields)
		if endStream {
			c.finishStream(s)
		}
	}
}

func (c *Context) lookupStream(id uint32) *Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streams[id]
}

func (c *Context) removeStream(id uint32) {
	c.mu.Lock()
	if _, ok := c.streams[id]; ok {
		delete(c.streams, id)
		if c.activeCount > 0 {
			c.activeCount--
		}
		c.slotFree.Broadcast()
	}
	c.mu.Unlock()
}

func (c *Context) finishStream(s *Stream) {
	s.closeRemote()
	c.removeStream(s.id)
}
