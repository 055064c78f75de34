package httpcore

import (
	"io"
	"strconv"
	"strings"

	"golang.org/x/net/http2"

	"github.com/axelhelm/httpcore/internal/body"
	"github.com/axelhelm/httpcore/internal/conn"
	"github.com/axelhelm/httpcore/internal/errors"
	"github.com/axelhelm/httpcore/internal/h1"
	"github.com/axelhelm/httpcore/internal/h2"
	"github.com/axelhelm/httpcore/internal/headers"
	"github.com/axelhelm/httpcore/internal/model"
	"github.com/axelhelm/httpcore/internal/pool"
	"github.com/axelhelm/httpcore/internal/proxyauth"
	"github.com/axelhelm/httpcore/internal/timing"
)

// Client issues requests against a shared, per-origin connection pool
// directory (spec.md §3 "Client", §4.8).
type Client struct {
	settings Settings
	proxy    *proxyauth.Config
	socks    *proxyauth.SOCKSConfig
	dir      *pool.Directory
}

// NewClient builds a Client from settings, parsing ProxyURL/SOCKSProxyURL
// once up front so a bad proxy URL fails at construction rather than on
// the first request.
func NewClient(settings Settings) (*Client, error) {
	var proxyCfg *proxyauth.Config
	if settings.ProxyURL != "" {
		var err error
		proxyCfg, err = proxyauth.Parse(settings.ProxyURL)
		if err != nil {
			return nil, err
		}
	}
	var socksCfg *proxyauth.SOCKSConfig
	if settings.SOCKSProxyURL != "" {
		var err error
		socksCfg, err = proxyauth.ParseSOCKS(settings.SOCKSProxyURL)
		if err != nil {
			return nil, err
		}
	}
	return &Client{
		settings: settings,
		proxy:    proxyCfg,
		socks:    socksCfg,
		dir:      pool.NewDirectory(pool.DefaultDirectorySize),
	}, nil
}

// Do runs one request/response cycle against rawURL (spec.md §4.9
// "requestHTTP"): validates the URL, acquires a pooled connection for
// its origin, runs requester against the scoped Request, and returns
// the Response. If responder is non-nil, Do invokes it and closes the
// Response itself; otherwise the caller owns the returned Response and
// must call Close on it.
func (c *Client) Do(method model.Method, rawURL string, requester func(*Request) error, responder func(*Response) error) (*Response, error) {
	target, err := parseTarget(rawURL)
	if err != nil {
		return nil, err
	}

	key := originKey(target, c.proxy, c.socks)
	timer := timing.NewTimer()

	p := c.dir.GetOrCreate(key, func() (*conn.Connection, error) {
		return c.dial(target)
	}, c.settings.MaxConnsPerOrigin)

	lease, err := p.Acquire()
	if err != nil {
		return nil, err
	}
	connection := lease.Connection()
	reused := connection.TotalRequests() > 0

	if err := connection.BeginRequest(); err != nil {
		lease.Release()
		return nil, err
	}

	var resp *Response
	if connection.IsHTTP2() {
		resp, err = c.doHTTP2(connection, lease, target, timer, reused, method, requester)
	} else {
		resp, err = c.doHTTP1(connection, lease, target, timer, reused, method, requester)
	}
	if err != nil {
		return nil, err
	}

	if responder == nil {
		return resp, nil
	}
	cbErr := responder(resp)
	closeErr := resp.Close()
	if cbErr != nil {
		return nil, errors.NewUserHandler(cbErr)
	}
	return nil, closeErr
}

// PoolStats returns a snapshot of the connection pool backing rawURL's
// origin, or ok=false if the client's pool directory holds no pool for
// it (no request to that origin yet, or its pool was evicted) (spec.md's supplemented connection-pool-statistics feature, mirroring
// the teacher's PoolStats/HostPoolStats).
func (c *Client) PoolStats(rawURL string) (stats pool.Stats, ok bool, err error) {
	target, err := parseTarget(rawURL)
	if err != nil {
		return pool.Stats{}, false, err
	}
	key := originKey(target, c.proxy, c.socks)
	p, found := c.dir.Lookup(key)
	if !found {
		return pool.Stats{}, false, nil
	}
	return p.Stats(), true, nil
}

func (c *Client) dial(target *parsedTarget) (*conn.Connection, error) {
	return conn.Dial(conn.DialConfig{
		Host:               target.host,
		Port:               target.port,
		TLS:                target.tls(),
		Proxy:              c.proxy,
		SOCKSProxy:         c.socks,
		SNI:                c.settings.SNI,
		DisableSNI:         c.settings.DisableSNI,
		InsecureSkipVerify: c.settings.InsecureSkipVerify,
		ClientCerts:        c.settings.ClientCerts,
		RootCAs:            c.settings.RootCAs,
		Profile:            c.settings.TLSProfile,
		ConnTimeout:        c.settings.ConnTimeout,
		TCPKeepAlive:       c.settings.TCPKeepAlive,
		TCPKeepAlivePeriod: c.settings.TCPKeepAlivePeriod,
		DisableHTTP2:       c.settings.disableHTTP2(),
		ForceHTTP2:         c.settings.forceHTTP2(),
		OnlyEncryptedHTTP2: c.settings.H2Mode == OnlyEncryptedHTTP2,
		H2Options:          c.settings.h2Options(nil),
	})
}

// doHTTP1 runs one request over an H1Idle connection, offering an h2c
// upgrade when the client is configured to (spec.md §4.5 step 3).
func (c *Client) doHTTP1(cn *conn.Connection, lease *pool.Lease, target *parsedTarget, timer *timing.Timer, reused bool, method model.Method, requester func(*Request) error) (*Response, error) {
	hdrs := &headers.Map{}
	req := &Request{
		method:  method,
		target:  requestURI(target, c.proxy != nil),
		version: model.HTTP11,
		headers: hdrs,
		h1Dest:  cn.Writer(),
	}

	h1.Apply(hdrs, req.version, h1.InjectedHeaders{
		Host:      target.host + portSuffix(target),
		UserAgent: c.settings.UserAgent,
		Proxied:   c.proxy != nil,
	})
	c.injectAuth(hdrs, target)
	c.injectCookies(hdrs, target, true)

	offerH2C := c.settings.allowH2CUpgrade() && !target.tls() && !cn.HTTP2Validated()
	if offerH2C {
		h1.ApplyH2CUpgrade(hdrs, h1.EncodeHTTP2Settings([]http2.Setting{
			{ID: http2.SettingEnablePush, Val: 0},
		}))
	}

	if requester != nil {
		if err := requester(req); err != nil {
			cn.Close()
			lease.Release()
			return nil, errors.NewUserHandler(err)
		}
	}
	if err := req.finalize(); err != nil {
		cn.Close()
		lease.Release()
		return nil, err
	}

	cn.BeginResponse()
	timer.StartTTFB()
	head, err := h1.ReadHead(cn.Reader())
	timer.EndTTFB()
	if err != nil {
		cn.Close()
		lease.Release()
		return nil, err
	}

	if head.StatusCode == 407 {
		cn.Close()
		lease.Release()
		return nil, errors.NewProxyAuthRequired(proxyAuthReason(c.proxy), c.proxy != nil)
	}

	if offerH2C && h1.UpgradeAccepted(head) {
		h2Ctx, err := h2.NewContext(cn.RawForUpgrade(), c.settings.h2Options(nil))
		if err != nil {
			cn.Close()
			lease.Release()
			return nil, err
		}
		cn.UpgradeToHTTP2(h2Ctx)
		stream := h2Ctx.AdoptUpgradeStream()
		return c.buildHTTP2Response(stream, target, timer, reused, method, lease)
	}
	if offerH2C {
		cn.MarkHTTP2Unsupported()
	}

	c.absorbCookies(head.Headers, target)

	configuredTimeout := int(c.settings.MaxKeepAliveTimeout.Seconds())
	onEOF := func(err error) {
		if err != nil && err != io.EOF {
			cn.Close()
			lease.Release()
			return
		}
		keepAlive, timeoutSeconds, max := h1.ResolveKeepAlive(req.version, head, configuredTimeout, 0)
		cn.FinishResponse(keepAlive, timeoutSeconds, max)
		lease.Release()
	}

	var bodyReader io.ReadCloser
	if model.MustNotHaveBody(method, head.StatusCode) {
		bodyReader = io.NopCloser(strings.NewReader(""))
		onEOF(nil)
	} else {
		transferEncoding, _ := head.Headers.Get("Transfer-Encoding")
		contentLength, _ := head.Headers.Get("Content-Length")
		contentEncoding, _ := head.Headers.Get("Content-Encoding")
		bodyReader, err = body.BuildResponseReader(cn.Reader(), transferEncoding, contentLength, contentEncoding, onEOF)
		if err != nil {
			cn.Close()
			lease.Release()
			return nil, err
		}
	}

	return &Response{
		StatusCode:       head.StatusCode,
		Reason:           head.Reason,
		Version:          head.Version,
		Headers:          head.Headers,
		Body:             bodyReader,
		IsHTTP2:          false,
		ConnectionReused: reused,
		Metrics:          timer.Metrics(),
	}, nil
}

// doHTTP2 runs one request over an already-active HTTP/2 session
// (spec.md §4.6 "Per-request on an active session").
func (c *Client) doHTTP2(cn *conn.Connection, lease *pool.Lease, target *parsedTarget, timer *timing.Timer, reused bool, method model.Method, requester func(*Request) error) (*Response, error) {
	h2Ctx := cn.H2Context()

	hdrs := &headers.Map{}
	req := &Request{
		method:  method,
		target:  target.pathQuery,
		version: model.HTTP2,
		headers: hdrs,
		isHTTP2: true,
	}

	h1.Apply(hdrs, model.HTTP2, h1.InjectedHeaders{
		Host:      target.host + portSuffix(target),
		UserAgent: c.settings.UserAgent,
	})
	hdrs.Remove("Host") // carried instead by the :authority pseudo-header
	c.injectAuth(hdrs, target)
	c.injectCookies(hdrs, target, c.settings.ConcatenateCookies)

	authority := target.host + portSuffix(target)
	req.startH2 = func(endStream bool) (*h2.Stream, error) {
		pseudo := []h2.HeaderField{
			{Name: ":method", Value: method.String()},
			{Name: ":scheme", Value: target.scheme},
			{Name: ":authority", Value: authority},
			{Name: ":path", Value: target.pathQuery},
		}
		var regular []h2.HeaderField
		hdrs.Each(func(f headers.Field) {
			regular = append(regular, h2.HeaderField{Name: strings.ToLower(f.Name), Value: f.Value})
		})
		return h2Ctx.StartRequest(pseudo, regular, nil, endStream)
	}

	if requester != nil {
		if err := requester(req); err != nil {
			lease.Release()
			return nil, errors.NewUserHandler(err)
		}
	}
	if err := req.finalize(); err != nil {
		lease.Release()
		return nil, err
	}

	stream := req.h2Stream
	if stream == nil {
		var err error
		stream, err = req.startH2(true)
		if err != nil {
			lease.Release()
			return nil, err
		}
	}

	resp, err := c.buildHTTP2Response(stream, target, timer, reused, method, lease)
	if err == nil {
		resp.Metrics.RTT = h2Ctx.RTT()
	}
	return resp, err
}

// buildHTTP2Response waits for stream's response HEADERS, splits off
// the pseudo-headers, and wires the body reader's completion to
// releasing lease (spec.md §4.6 "Per-request on an active session",
// §4.3).
func (c *Client) buildHTTP2Response(stream *h2.Stream, target *parsedTarget, timer *timing.Timer, reused bool, method model.Method, lease *pool.Lease) (*Response, error) {
	timer.StartTTFB()
	fields, err := stream.ResponseHeaders()
	timer.EndTTFB()
	if err != nil {
		lease.Release()
		return nil, err
	}

	hdrs := &headers.Map{}
	statusCode := 0
	for _, f := range fields {
		if f.Name == ":status" {
			statusCode, _ = strconv.Atoi(f.Value)
			continue
		}
		hdrs.Insert(f.Name, f.Value)
	}
	c.absorbCookies(hdrs, target)

	var bodyReader io.ReadCloser
	if model.MustNotHaveBody(method, statusCode) {
		bodyReader = io.NopCloser(strings.NewReader(""))
		lease.Release()
	} else {
		contentEncoding, _ := hdrs.Get("Content-Encoding")
		decoded, err := body.ContentCoding(newH2BodyReader(stream), contentEncoding)
		if err != nil {
			lease.Release()
			return nil, err
		}
		bodyReader = body.NewEndCallbackReader(decoded, func(error) { lease.Release() })
	}

	return &Response{
		StatusCode:       statusCode,
		Version:          model.HTTP2,
		Headers:          hdrs,
		Body:             bodyReader,
		IsHTTP2:          true,
		ConnectionReused: reused,
		Metrics:          timer.Metrics(),
	}, nil
}

func (c *Client) injectAuth(hdrs *headers.Map, target *parsedTarget) {
	if target.userinfo != nil && !hdrs.Has("Authorization") {
		user := target.userinfo.Username()
		pass, _ := target.userinfo.Password()
		hdrs.Set("Authorization", proxyauth.BasicAuthHeader(user, pass))
	}
	if c.proxy != nil && c.proxy.Username != "" && !hdrs.Has("Proxy-Authorization") {
		hdrs.Set("Proxy-Authorization", proxyauth.BasicAuthHeader(c.proxy.Username, c.proxy.Password))
	}
}

func (c *Client) injectCookies(hdrs *headers.Map, target *parsedTarget, concatenate bool) {
	if c.settings.CookieJar == nil {
		return
	}
	path := target.pathQuery
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	var values []string
	c.settings.CookieJar.Get(target.host, path, target.tls(), func(name, value string) {
		values = append(values, name+"="+value)
	})
	if len(values) == 0 {
		return
	}
	if concatenate {
		hdrs.Set("Cookie", strings.Join(values, "; "))
		return
	}
	for _, v := range values {
		hdrs.Insert("Cookie", v)
	}
}

func (c *Client) absorbCookies(hdrs *headers.Map, target *parsedTarget) {
	if c.settings.CookieJar == nil {
		return
	}
	for _, v := range hdrs.GetAll("Set-Cookie") {
		c.settings.CookieJar.Set(target.host, v)
	}
}

func proxyAuthReason(proxy *proxyauth.Config) errors.ProxySubReason {
	if proxy == nil || proxy.Username == "" {
		return errors.ProxyNoCredentials
	}
	return errors.ProxyWrongCredentials
}

// h2BodyReader adapts an h2.Stream's DATA channel to an io.Reader,
// buffering the residual bytes of a chunk across Read calls (spec.md
// §4.3: body readers for HTTP/2 responses read off the stream's data
// channel instead of the raw connection).
type h2BodyReader struct {
	stream *h2.Stream
	buf    []byte
}

func newH2BodyReader(stream *h2.Stream) *h2BodyReader {
	return &h2BodyReader{stream: stream}
}

func (r *h2BodyReader) Read(p []byte) (int, error) {
	for len(r.buf) == 0 {
		chunk, ok := <-r.stream.Data()
		if !ok {
			if err := r.stream.Err(); err != nil {
				return 0, err
			}
			return 0, io.EOF
		}
		r.buf = chunk
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}
