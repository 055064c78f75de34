package conn

import (
	"bufio"
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/net/proxy"

	"github.com/axelhelm/httpcore/internal/errors"
	"github.com/axelhelm/httpcore/internal/h2"
	"github.com/axelhelm/httpcore/internal/proxyauth"
	"github.com/axelhelm/httpcore/internal/tlsconfig"
)

// DialConfig describes the origin (and optional forward proxy) a
// Connection dials into, plus the TLS and HTTP/2 negotiation policy
// spec.md §4.6/§6 describe.
type DialConfig struct {
	Host string
	Port int
	TLS  bool

	Proxy *proxyauth.Config // nil for direct connections

	// SOCKSProxy, if set, dials the origin through a SOCKS5 forward
	// proxy instead of directly or through Proxy. Mutually exclusive
	// with Proxy.
	SOCKSProxy *proxyauth.SOCKSConfig

	SNI                string
	DisableSNI         bool
	InsecureSkipVerify bool
	ClientCerts        []tls.Certificate
	RootCAs            *x509.CertPool
	Profile            tlsconfig.Profile

	ConnTimeout time.Duration

	// TCPKeepAlive, when true, enables OS-level TCP keep-alive probing
	// on the dialed socket, distinct from the HTTP keep-alive timer
	// above it. TCPKeepAlivePeriod selects the probe interval; <= 0
	// uses 15s.
	TCPKeepAlive       bool
	TCPKeepAlivePeriod time.Duration

	ForceHTTP2         bool
	DisableHTTP2       bool
	OnlyEncryptedHTTP2 bool // default true: no h2c attempts unless false

	H2Options h2.Options
}

// Connection is one physical TCP (optionally TLS) stream plus the
// state machine and counters spec.md §4.7 attaches to it.
type Connection struct {
	cfg DialConfig

	raw net.Conn
	br  *bufio.Reader
	bw  *bufio.Writer

	mu    sync.Mutex
	state State

	totRequests int
	maxRequests int

	keepAliveTimeout time.Duration
	keepAliveTimer   *time.Timer
	onIdleTimeout    func()

	h2Ctx        *h2.Context
	h2Validated  bool
	h2Supported  bool
	h2Upgrading  bool
	negotiatedH2 bool // true when ALPN itself selected h2
}

// Dial performs spec.md §4.7's Connecting phase: TCP dial to the proxy
// (if configured) or the origin, optional TLS wrap with ALPN, then
// branches into H2-Active or H1-Idle.
func Dial(cfg DialConfig) (*Connection, error) {
	dialHost, dialPort := cfg.Host, cfg.Port
	if cfg.Proxy != nil {
		dialHost, dialPort = cfg.Proxy.Host, cfg.Proxy.Port
	}

	c := &Connection{cfg: cfg, state: Connecting, maxRequests: maxInt}

	dialer := tcpDialer(cfg)

	var raw net.Conn
	var err error
	if cfg.SOCKSProxy != nil {
		raw, err = dialSOCKS(cfg, dialer)
	} else {
		raw, err = dialer.Dial("tcp", fmt.Sprintf("%s:%d", dialHost, dialPort))
	}
	if err != nil {
		return nil, errors.NewConnect(dialHost, dialPort, err)
	}

	useTLS := cfg.TLS
	if cfg.Proxy != nil {
		useTLS = cfg.Proxy.Scheme == "https"
	}

	var stream net.Conn = raw
	negotiatedProto := ""
	if useTLS {
		alpn := tlsconfig.ALPNOffer(cfg.DisableHTTP2)
		tlsCfg, err := tlsconfig.Build(dialHost, cfg.SNI, cfg.DisableSNI, cfg.InsecureSkipVerify, alpn, cfg.ClientCerts, cfg.RootCAs, cfg.Profile)
		if err != nil {
			raw.Close()
			return nil, errors.NewConnect(dialHost, dialPort, err)
		}
		tlsConn := tls.Client(raw, tlsCfg)
		hsCtx, cancel := context.WithTimeout(context.Background(), timeoutOr(cfg.ConnTimeout, 10*time.Second))
		err := tlsConn.HandshakeContext(hsCtx)
		cancel()
		if err != nil {
			raw.Close()
			return nil, errors.NewConnect(dialHost, dialPort, err)
		}
		stream = tlsConn
		negotiatedProto = tlsConn.ConnectionState().NegotiatedProtocol
	}

	c.raw = stream
	c.br = bufio.NewReader(stream)
	c.bw = bufio.NewWriter(stream)

	switch {
	case cfg.ForceHTTP2:
		h2Ctx, err := h2.NewContext(stream, cfg.H2Options)
		if err != nil {
			stream.Close()
			return nil, err
		}
		c.h2Ctx, c.h2Validated, c.h2Supported, c.negotiatedH2 = h2Ctx, true, true, true
		c.state = H2Active

	case useTLS && !cfg.DisableHTTP2 && tlsconfig.NegotiatedIsHTTP2(negotiatedProto):
		h2Ctx, err := h2.NewContext(stream, cfg.H2Options)
		if err != nil {
			stream.Close()
			return nil, err
		}
		c.h2Ctx, c.h2Validated, c.h2Supported, c.negotiatedH2 = h2Ctx, true, true, true
		c.state = H2Active

	default:
		c.state = H1Idle
	}

	return c, nil
}

// tcpDialer builds the net.Dialer used for the socket itself, applying
// the connect timeout and the OS-level TCP keep-alive tuning spec.md's
// supplemented keep-alive feature describes (distinct from the HTTP
// keep-alive timer in FinishResponse/armKeepAliveTimerLocked below).
func tcpDialer(cfg DialConfig) *net.Dialer {
	d := &net.Dialer{Timeout: timeoutOr(cfg.ConnTimeout, 10*time.Second)}
	switch {
	case !cfg.TCPKeepAlive:
		d.KeepAlive = -1 // disabled
	case cfg.TCPKeepAlivePeriod > 0:
		d.KeepAlive = cfg.TCPKeepAlivePeriod
	default:
		d.KeepAlive = 15 * time.Second
	}
	return d
}

// dialSOCKS connects to cfg.Host:cfg.Port through the configured SOCKS5
// forward proxy, per spec.md's supplemented SOCKS5 dial path.
func dialSOCKS(cfg DialConfig, forward *net.Dialer) (net.Conn, error) {
	var auth *proxy.Auth
	if cfg.SOCKSProxy.Username != "" {
		auth = &proxy.Auth{User: cfg.SOCKSProxy.Username, Password: cfg.SOCKSProxy.Password}
	}
	dialer, err := proxy.SOCKS5("tcp", cfg.SOCKSProxy.Address, auth, forward)
	if err != nil {
		return nil, err
	}
	return dialer.Dial("tcp", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port))
}

const maxInt = int(^uint(0) >> 1)

func timeoutOr(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}

// State returns the connection's current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsHTTP2 reports whether this connection is running (or has validated
// support for) HTTP/2.
func (c *Connection) IsHTTP2() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.h2Supported
}

// H2Context returns the HTTP/2 session driver, or nil if this
// connection has not (yet) negotiated HTTP/2.
func (c *Connection) H2Context() *h2.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.h2Ctx
}

// Reader and Writer expose the buffered HTTP/1.x stream for the h1
// package to serialize requests and parse responses over.
func (c *Connection) Reader() *bufio.Reader { return c.br }
func (c *Connection) Writer() *bufio.Writer { return c.bw }

// bufConn adapts the connection's already-buffered reader back into a
// net.Conn, so a h2c upgrade (spec.md §4.5 step 7) can hand the HTTP/2
// driver a conn that starts reading from any bytes the HTTP/1.x parser
// already pulled into its bufio.Reader, instead of losing them.
type bufConn struct {
	net.Conn
	br *bufio.Reader
}

func (b *bufConn) Read(p []byte) (int, error) { return b.br.Read(p) }

// RawForUpgrade returns a net.Conn for the HTTP/2 driver to take over
// once an h2c upgrade is accepted. Callers must stop using Reader and
// Writer on this Connection afterward.
func (c *Connection) RawForUpgrade() net.Conn {
	return &bufConn{Conn: c.raw, br: c.br}
}

// BeginRequest asserts the connection is idle and transitions to
// Requesting, per spec.md §4.5 step 1-2 and §5's serialization
// invariant ("no other request may interleave").
func (c *Connection) BeginRequest() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != H1Idle && c.state != H2Active {
		return errors.NewProtocolH1("state", fmt.Sprintf("cannot start a request from state %s", c.state), nil)
	}
	c.stopKeepAliveTimerLocked()
	if c.state == H1Idle {
		c.state = Requesting
	}
	c.totRequests++
	return nil
}

// BeginResponse transitions Requesting -> Responding (spec.md §4.5 step 5).
func (c *Connection) BeginResponse() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Requesting {
		c.state = Responding
	}
}

// UpgradeToHTTP2 installs an h2.Context on an H1 connection that just
// accepted an h2c upgrade (spec.md §4.5 step 7, §4.6 "h2c upgrade").
func (c *Connection) UpgradeToHTTP2(ctx *h2.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.h2Ctx = ctx
	c.h2Validated = true
	c.h2Supported = true
	c.state = H2Active
}

// MarkHTTP2Unsupported records that an h2c upgrade was offered and
// refused, so later requests on this connection stop offering it
// (spec.md §4.5 step 7: "mark HTTP/2 validated-but-not-supported").
func (c *Connection) MarkHTTP2Unsupported() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.h2Validated = true
	c.h2Supported = false
}

// HTTP2Validated reports whether an h2c upgrade attempt has already
// been resolved (accepted or refused) on this connection.
func (c *Connection) HTTP2Validated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.h2Validated
}

// FinishResponse applies keep-alive accounting after a response has
// been fully drained (spec.md §4.5 step 9, §4.7 "Keep-alive timer").
// When keepAlive is false, or the request count has reached max, the
// connection is closed instead of rearmed.
func (c *Connection) FinishResponse(keepAlive bool, timeoutSeconds, max int) {
	c.mu.Lock()
	if c.state == H2Active {
		c.mu.Unlock()
		return
	}
	c.state = H1Idle
	if max > 0 {
		c.maxRequests = max
	}
	if !keepAlive || c.totRequests >= c.maxRequests {
		c.mu.Unlock()
		c.Close()
		return
	}
	if timeoutSeconds > 0 {
		c.keepAliveTimeout = time.Duration(timeoutSeconds) * time.Second
	}
	c.armKeepAliveTimerLocked()
	c.mu.Unlock()
}

// SetIdleTimeoutCallback registers the function invoked when the
// keep-alive timer fires with no new request started, so the owning
// pool can evict this connection (spec.md §4.7 "on fire, gracefully
// close").
func (c *Connection) SetIdleTimeoutCallback(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onIdleTimeout = fn
}

func (c *Connection) armKeepAliveTimerLocked() {
	if c.keepAliveTimeout <= 0 {
		return
	}
	c.keepAliveTimer = time.AfterFunc(c.keepAliveTimeout, func() {
		c.mu.Lock()
		fireState := c.state
		c.mu.Unlock()
		if fireState != H1Idle {
			return // a request started between fire and lock acquisition
		}
		c.Close()
		c.mu.Lock()
		cb := c.onIdleTimeout
		c.mu.Unlock()
		if cb != nil {
			cb()
		}
	})
}

func (c *Connection) stopKeepAliveTimerLocked() {
	if c.keepAliveTimer != nil {
		c.keepAliveTimer.Stop()
		c.keepAliveTimer = nil
	}
}

// TotalRequests returns the number of requests started on this
// connection so far.
func (c *Connection) TotalRequests() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totRequests
}

// Close tears down the physical connection (and, if active, the HTTP/2
// session) and marks the state machine Disconnected.
func (c *Connection) Close() error {
	c.mu.Lock()
	c.stopKeepAliveTimerLocked()
	if c.state == Disconnected {
		c.mu.Unlock()
		return nil
	}
	h2Ctx := c.h2Ctx
	if h2Ctx != nil {
		c.state = H2Closing
	} else {
		c.state = Disconnected
	}
	c.mu.Unlock()

	if h2Ctx != nil {
		h2Ctx.Disconnect(false, nil) // sends GOAWAY and waits for the worker task to drain
		c.mu.Lock()
		c.state = Disconnected
		c.mu.Unlock()
		return nil
	}
	return c.raw.Close()
}
