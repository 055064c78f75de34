package httpcore

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strings"
	"testing"

	"github.com/axelhelm/httpcore/internal/model"
)

// fakeServer accepts exactly one connection and runs handle against it,
// closing the listener once done.
func fakeServer(t *testing.T, handle func(conn net.Conn)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn)
	}()
	t.Cleanup(func() { ln.Close() })
	return ln.Addr().String()
}

func readRequestLine(r *bufio.Reader) {
	for {
		line, err := r.ReadString('\n')
		if err != nil || line == "\r\n" {
			return
		}
	}
}

// TestDoLengthDelimitedResponse covers scenario S1: a Content-Length
// framed response read end to end through Client.Do.
func TestDoLengthDelimitedResponse(t *testing.T) {
	addr := fakeServer(t, func(conn net.Conn) {
		r := bufio.NewReader(conn)
		readRequestLine(r)
		body := "hello world"
		fmt.Fprintf(conn, "HTTP/1.1 200 OK\r\nContent-Length: %d\r\nConnection: close\r\n\r\n%s", len(body), body)
	})

	client, err := NewClient(DefaultSettings())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	resp, err := client.Do(model.GET, "http://"+addr+"/", nil, nil)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Close()

	if resp.StatusCode != 200 {
		t.Fatalf("StatusCode = %d, want 200", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	if string(data) != "hello world" {
		t.Fatalf("body = %q, want %q", data, "hello world")
	}
}

// TestDoChunkedResponse covers scenario S2: chunked-transfer-coded body.
func TestDoChunkedResponse(t *testing.T) {
	addr := fakeServer(t, func(conn net.Conn) {
		r := bufio.NewReader(conn)
		readRequestLine(r)
		io.WriteString(conn, "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\nConnection: close\r\n\r\n")
		io.WriteString(conn, "5\r\nhello\r\n0\r\n\r\n")
	})

	client, err := NewClient(DefaultSettings())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	resp, err := client.Do(model.GET, "http://"+addr+"/", nil, nil)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("body = %q, want hello", data)
	}
}

// TestDoSetsRequestHeadersAndBody exercises the requester callback
// writing a request body and setting a custom header, and confirms the
// server observes both.
func TestDoSetsRequestHeadersAndBody(t *testing.T) {
	var gotHeader string
	var gotBody string

	addr := fakeServer(t, func(conn net.Conn) {
		r := bufio.NewReader(conn)
		// request line
		r.ReadString('\n')
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			line = strings.TrimRight(line, "\r\n")
			if line == "" {
				break
			}
			if strings.HasPrefix(strings.ToLower(line), "x-test:") {
				gotHeader = strings.TrimSpace(line[len("x-test:"):])
			}
		}
		buf := make([]byte, 4)
		io.ReadFull(r, buf)
		gotBody = string(buf)
		io.WriteString(conn, "HTTP/1.1 204 No Content\r\nConnection: close\r\n\r\n")
	})

	client, err := NewClient(DefaultSettings())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	resp, err := client.Do(model.POST, "http://"+addr+"/", func(req *Request) error {
		req.SetHeader("X-Test", "abc")
		w, err := req.BodyWriter(4)
		if err != nil {
			return err
		}
		_, err = w.Write([]byte("body"))
		return err
	}, nil)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	resp.Close()

	if gotHeader != "abc" {
		t.Fatalf("X-Test header = %q, want abc", gotHeader)
	}
	if gotBody != "body" {
		t.Fatalf("body = %q, want body", gotBody)
	}
}

// TestDoCookieRoundTrip covers scenario S6: a Set-Cookie on one
// response is sent back as Cookie on the next request to the same
// origin.
func TestDoCookieRoundTrip(t *testing.T) {
	var secondCookie string
	reqN := 0

	addr := fakeServer(t, func(conn net.Conn) {
		r := bufio.NewReader(conn)
		for i := 0; i < 2; i++ {
			r.ReadString('\n')
			for {
				line, err := r.ReadString('\n')
				if err != nil {
					return
				}
				line = strings.TrimRight(line, "\r\n")
				if line == "" {
					break
				}
				if reqN == 1 && strings.HasPrefix(strings.ToLower(line), "cookie:") {
					secondCookie = strings.TrimSpace(line[len("cookie:"):])
				}
			}
			if reqN == 0 {
				io.WriteString(conn, "HTTP/1.1 200 OK\r\nContent-Length: 0\r\nSet-Cookie: session=abc123; Path=/\r\n\r\n")
			} else {
				io.WriteString(conn, "HTTP/1.1 200 OK\r\nContent-Length: 0\r\nConnection: close\r\n\r\n")
			}
			reqN++
		}
	})

	client, err := NewClient(DefaultSettings())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	resp1, err := client.Do(model.GET, "http://"+addr+"/", nil, nil)
	if err != nil {
		t.Fatalf("first Do: %v", err)
	}
	resp1.Close()

	resp2, err := client.Do(model.GET, "http://"+addr+"/", nil, nil)
	if err != nil {
		t.Fatalf("second Do: %v", err)
	}
	resp2.Close()

	if !strings.Contains(secondCookie, "session=abc123") {
		t.Fatalf("second request Cookie header = %q, want it to contain session=abc123", secondCookie)
	}
}

// TestDoBufferedReadsWholeBody exercises Response.Buffered as an
// alternative to streaming Body directly.
func TestDoBufferedReadsWholeBody(t *testing.T) {
	addr := fakeServer(t, func(conn net.Conn) {
		r := bufio.NewReader(conn)
		readRequestLine(r)
		body := "buffered payload"
		fmt.Fprintf(conn, "HTTP/1.1 200 OK\r\nContent-Length: %d\r\nConnection: close\r\n\r\n%s", len(body), body)
	})

	client, err := NewClient(DefaultSettings())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	resp, err := client.Do(model.GET, "http://"+addr+"/", nil, nil)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}

	buf, err := resp.Buffered(0)
	if err != nil {
		t.Fatalf("Buffered: %v", err)
	}
	defer buf.Close()

	if string(buf.Bytes()) != "buffered payload" {
		t.Fatalf("buf.Bytes() = %q, want %q", buf.Bytes(), "buffered payload")
	}
}

// TestBodyWriterFallsBackToIdentityOnConnectionClose covers the request
// body framing rule: an unknown-length body is chunked by default, but
// falls back to identity framing when the caller already set
// Connection: close.
func TestBodyWriterFallsBackToIdentityOnConnectionClose(t *testing.T) {
	var gotHeaders []string

	addr := fakeServer(t, func(conn net.Conn) {
		r := bufio.NewReader(conn)
		r.ReadString('\n')
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			line = strings.TrimRight(line, "\r\n")
			if line == "" {
				break
			}
			gotHeaders = append(gotHeaders, line)
		}
		io.WriteString(conn, "HTTP/1.1 200 OK\r\nContent-Length: 0\r\nConnection: close\r\n\r\n")
	})

	client, err := NewClient(DefaultSettings())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	resp, err := client.Do(model.POST, "http://"+addr+"/", func(req *Request) error {
		req.SetHeader("Connection", "close")
		w, err := req.BodyWriter(-1)
		if err != nil {
			return err
		}
		_, err = w.Write([]byte("body"))
		return err
	}, nil)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	resp.Close()

	for _, h := range gotHeaders {
		if strings.HasPrefix(strings.ToLower(h), "transfer-encoding:") {
			t.Fatalf("expected no Transfer-Encoding header when Connection: close was set, got %q", h)
		}
	}
}
