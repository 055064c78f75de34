// Package body composes the response body reader and request body
// writer chains described in spec.md §4.3, layering transfer coding,
// content coding (gzip/deflate) and finalization callbacks over a raw
// connection stream.
package body

import (
	"bufio"
	"compress/flate"
	"compress/gzip"
	"io"
	"strings"

	"github.com/axelhelm/httpcore/internal/chunked"
	"github.com/axelhelm/httpcore/internal/errors"
)

// LimitedReader reads at most N bytes from the underlying stream, then
// returns io.EOF, enforcing Content-Length (spec.md §4.3 step 2).
type LimitedReader struct {
	src       io.Reader
	remaining int64
}

func NewLimitedReader(src io.Reader, n int64) *LimitedReader {
	return &LimitedReader{src: src, remaining: n}
}

func (l *LimitedReader) Read(p []byte) (int, error) {
	if l.remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > l.remaining {
		p = p[:l.remaining]
	}
	n, err := l.src.Read(p)
	l.remaining -= int64(n)
	if err == nil && l.remaining == 0 {
		err = io.EOF
	}
	return n, err
}

// CloseDelimitedReader reads until the underlying stream reaches EOF,
// used for HTTP/1.0 / HTTP/1.1 responses that carry neither
// Transfer-Encoding: chunked nor Content-Length (spec.md §4.3 step 3).
type CloseDelimitedReader struct {
	src io.Reader
}

func NewCloseDelimitedReader(src io.Reader) *CloseDelimitedReader {
	return &CloseDelimitedReader{src: src}
}

func (c *CloseDelimitedReader) Read(p []byte) (int, error) {
	return c.src.Read(p)
}

// EndCallbackReader invokes onEOF exactly once, the first time the
// wrapped reader reports io.EOF (or any other terminal error), so the
// connection's keep-alive bookkeeping can run once a response body is
// fully drained (spec.md §4.3 step 5).
type EndCallbackReader struct {
	src   io.Reader
	onEOF func(err error)
	fired bool
}

func NewEndCallbackReader(src io.Reader, onEOF func(err error)) *EndCallbackReader {
	return &EndCallbackReader{src: src, onEOF: onEOF}
}

func (e *EndCallbackReader) Read(p []byte) (int, error) {
	n, err := e.src.Read(p)
	if err != nil && !e.fired {
		e.fired = true
		if e.onEOF != nil {
			e.onEOF(err)
		}
	}
	return n, err
}

// Close releases the underlying reader if it is closeable, firing the
// end callback if it has not already fired (covers callers that
// abandon a body without reading it to EOF).
func (e *EndCallbackReader) Close() error {
	if !e.fired {
		e.fired = true
		if e.onEOF != nil {
			e.onEOF(io.ErrClosedPipe)
		}
	}
	if rc, ok := e.src.(io.ReadCloser); ok {
		return rc.Close()
	}
	return nil
}

// TransferFraming selects the transfer-coding reader layer: chunked
// input for "chunked", a length-limited reader for a Content-Length,
// or a connection-close-delimited reader otherwise (spec.md §4.3 steps
// 1-3).
func TransferFraming(src io.Reader, transferEncoding, contentLength string) (io.Reader, error) {
	te := strings.ToLower(strings.TrimSpace(transferEncoding))
	switch {
	case te == "chunked":
		return chunked.NewReader(src), nil
	case te != "" && te != "identity":
		return nil, errors.NewEncoding(transferEncoding)
	case contentLength != "":
		n, err := parseContentLength(contentLength)
		if err != nil {
			return nil, err
		}
		return NewLimitedReader(src, n), nil
	default:
		return NewCloseDelimitedReader(src), nil
	}
}

func parseContentLength(s string) (int64, error) {
	s = strings.TrimSpace(s)
	var n int64
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0, errors.NewProtocolH1("parse", "invalid content-length", nil)
		}
		n = n*10 + int64(c-'0')
	}
	return n, nil
}

// ContentCoding wraps src with a gzip or deflate decoder per the
// Content-Encoding value, or returns src unchanged for "identity" / no
// coding. Any other coding fails with UnsupportedEncoding (spec.md §4.3
// step 4).
func ContentCoding(src io.Reader, contentEncoding string) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(contentEncoding)) {
	case "", "identity":
		return src, nil
	case "gzip":
		gz, err := gzip.NewReader(src)
		if err != nil {
			return nil, errors.NewProtocolH1("gzip", "invalid gzip stream", err)
		}
		return gz, nil
	case "deflate":
		return flate.NewReader(src), nil
	default:
		return nil, errors.NewEncoding(contentEncoding)
	}
}

// BuildResponseReader composes the full chain for a response body: the
// transfer-coding layer, the content-coding layer over it, and an
// end-callback wrapper on top (spec.md §4.3).
func BuildResponseReader(src io.Reader, transferEncoding, contentLength, contentEncoding string, onEOF func(err error)) (io.ReadCloser, error) {
	framed, err := TransferFraming(src, transferEncoding, contentLength)
	if err != nil {
		return nil, err
	}
	decoded, err := ContentCoding(framed, contentEncoding)
	if err != nil {
		return nil, err
	}
	return NewEndCallbackReader(decoded, onEOF), nil
}

// RequestWriter is the body writer a Request hands to the user's
// requester callback (spec.md §4.3 "Request body writer").
//
// For HTTP/1.x it either passes bytes straight through when the caller
// set an explicit Content-Length, or wraps them in chunked-transfer
// coding when none was set (spec.md §4.3: "unless Connection: close was
// explicitly set"). HTTP/2 request writers bypass this type entirely
// and write straight to the stream's data channel (spec.md §4.3).
type RequestWriter struct {
	dst         *bufio.Writer
	chunkWriter *chunked.Writer // nil when length-delimited
	finalized   bool
}

// NewChunkedRequestWriter wraps dst with chunked-transfer-coding output.
func NewChunkedRequestWriter(dst *bufio.Writer) *RequestWriter {
	return &RequestWriter{dst: dst, chunkWriter: chunked.NewWriter(dst, chunked.DefaultFlushSize)}
}

// NewIdentityRequestWriter wraps dst for a length-delimited body; the
// caller is responsible for writing exactly Content-Length bytes.
func NewIdentityRequestWriter(dst *bufio.Writer) *RequestWriter {
	return &RequestWriter{dst: dst}
}

func (w *RequestWriter) Write(p []byte) (int, error) {
	if w.chunkWriter != nil {
		return w.chunkWriter.Write(p)
	}
	return w.dst.Write(p)
}

// Finalize flushes any chunked buffering and writes the terminating
// zero chunk, then flushes the underlying bufio.Writer. A no-op body
// writer call for the identity (Content-Length) case beyond the flush.
func (w *RequestWriter) Finalize() error {
	if w.finalized {
		return nil
	}
	w.finalized = true
	if w.chunkWriter != nil {
		if err := w.chunkWriter.Finalize(); err != nil {
			return err
		}
	}
	return w.dst.Flush()
}
