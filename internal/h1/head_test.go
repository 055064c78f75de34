package h1

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"github.com/axelhelm/httpcore/internal/headers"
	"github.com/axelhelm/httpcore/internal/model"
)

func TestWriteHeadPreservesOrderAndForm(t *testing.T) {
	hdrs := &headers.Map{}
	hdrs.Insert("Host", "example.org")
	hdrs.Insert("X-Custom", "1")
	hdrs.Insert("Accept", "*/*")

	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	req := &OutgoingRequest{Method: model.GET, RequestURI: "/anything", Version: model.HTTP11, Headers: hdrs}
	if err := WriteHead(w, req); err != nil {
		t.Fatalf("WriteHead: %v", err)
	}
	w.Flush()

	want := "GET /anything HTTP/1.1\r\nHost: example.org\r\nX-Custom: 1\r\nAccept: */*\r\n\r\n"
	if buf.String() != want {
		t.Fatalf("got %q want %q", buf.String(), want)
	}
}

func TestReadHeadParsesStatusLineAndHeaders(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nContent-Length: 5\r\nX-A: 1\r\nX-A: 2\r\n\r\n"
	r := bufio.NewReader(strings.NewReader(raw))
	head, err := ReadHead(r)
	if err != nil {
		t.Fatalf("ReadHead: %v", err)
	}
	if head.StatusCode != 200 || head.Reason != "OK" || head.Version != model.HTTP11 {
		t.Fatalf("unexpected head: %+v", head)
	}
	if got := head.Headers.GetAll("X-A"); len(got) != 2 || got[0] != "1" || got[1] != "2" {
		t.Fatalf("duplicate headers not preserved: %v", got)
	}
}

func TestReadHeadRejectsMalformedStatusLine(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("not a status line\r\n\r\n"))
	if _, err := ReadHead(r); err == nil {
		t.Fatal("expected error for malformed status line")
	}
}

func TestParseKeepAlive(t *testing.T) {
	ka := ParseKeepAlive("timeout=5, max=100")
	if !ka.HasTimeout || ka.Timeout.Seconds() != 5 {
		t.Fatalf("timeout not parsed: %+v", ka)
	}
	if !ka.HasMax || ka.Max != 100 {
		t.Fatalf("max not parsed: %+v", ka)
	}
}

func TestKeepAliveDirected(t *testing.T) {
	if KeepAliveDirected(model.HTTP10, "") {
		t.Fatal("HTTP/1.0 without explicit keep-alive must not persist")
	}
	if !KeepAliveDirected(model.HTTP10, "keep-alive") {
		t.Fatal("HTTP/1.0 with explicit keep-alive must persist")
	}
	if !KeepAliveDirected(model.HTTP11, "") {
		t.Fatal("HTTP/1.1 defaults to persistent")
	}
	if KeepAliveDirected(model.HTTP11, "close") {
		t.Fatal("HTTP/1.1 with Connection: close must not persist")
	}
}

func TestResolveKeepAliveAdoptsShorterServerTimeout(t *testing.T) {
	hdrs := &headers.Map{}
	hdrs.Insert("Keep-Alive", "timeout=5, max=10")
	head := &ResponseHead{Version: model.HTTP11, StatusCode: 200, Headers: hdrs}

	keepAlive, timeout, max := ResolveKeepAlive(model.HTTP11, head, 30, 1000)
	if !keepAlive {
		t.Fatal("expected keep-alive")
	}
	if timeout != 5 {
		t.Fatalf("expected server's shorter timeout to win, got %d", timeout)
	}
	if max != 10 {
		t.Fatalf("expected server's max to win, got %d", max)
	}
}

func TestUpgradeAccepted(t *testing.T) {
	hdrs := &headers.Map{}
	hdrs.Insert("Upgrade", "h2c")
	accepted := &ResponseHead{StatusCode: 101, Headers: hdrs}
	if !UpgradeAccepted(accepted) {
		t.Fatal("expected upgrade to be detected as accepted")
	}

	refused := &ResponseHead{StatusCode: 200, Headers: &headers.Map{}}
	if UpgradeAccepted(refused) {
		t.Fatal("200 response must not be read as an upgrade")
	}
}

