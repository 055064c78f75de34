package h2

import (
	"bytes"
	"io"
	"net"
	"testing"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"
)

// fakePeer drives the server side of one HTTP/2 session over a
// net.Pipe: reads the preface and initial SETTINGS, acks them,
// advertises a concurrency limit, then answers the first HEADERS frame
// it sees with a 200 response and a short body.
func fakePeer(t *testing.T, conn net.Conn, body string) {
	t.Helper()
	preface := make([]byte, len(http2.ClientPreface))
	if _, err := io.ReadFull(conn, preface); err != nil {
		t.Errorf("reading preface: %v", err)
		return
	}
	framer := http2.NewFramer(conn, conn)
	if _, err := framer.ReadFrame(); err != nil { // client's initial SETTINGS
		t.Errorf("reading client SETTINGS: %v", err)
		return
	}
	framer.WriteSettingsAck()
	framer.WriteSettings(http2.Setting{ID: http2.SettingMaxConcurrentStreams, Val: 10})

	frame, err := framer.ReadFrame()
	if err != nil {
		t.Errorf("reading HEADERS: %v", err)
		return
	}
	hf, ok := frame.(*http2.HeadersFrame)
	if !ok {
		t.Errorf("expected HeadersFrame, got %T", frame)
		return
	}

	var buf bytes.Buffer
	enc := hpack.NewEncoder(&buf)
	enc.WriteField(hpack.HeaderField{Name: ":status", Value: "200"})
	enc.WriteField(hpack.HeaderField{Name: "content-type", Value: "text/plain"})
	framer.WriteHeaders(http2.HeadersFrameParam{
		StreamID:      hf.StreamID,
		BlockFragment: buf.Bytes(),
		EndHeaders:    true,
	})
	framer.WriteData(hf.StreamID, true, []byte(body))

	for {
		if _, err := framer.ReadFrame(); err != nil {
			return
		}
	}
}

func TestStartRequestRoundTrip(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		fakePeer(t, serverConn, "hello")
	}()

	ctx, err := NewContext(clientConn, Options{})
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}

	stream, err := ctx.StartRequest(
		[]HeaderField{{Name: ":method", Value: "GET"}, {Name: ":path", Value: "/"}},
		nil, nil, true)
	if err != nil {
		t.Fatalf("StartRequest: %v", err)
	}

	hdrs, err := stream.ResponseHeaders()
	if err != nil {
		t.Fatalf("ResponseHeaders: %v", err)
	}
	var status string
	for _, f := range hdrs {
		if f.Name == ":status" {
			status = f.Value
		}
	}
	if status != "200" {
		t.Fatalf("status = %q, want 200", status)
	}

	var got []byte
	for chunk := range stream.Data() {
		got = append(got, chunk...)
	}
	if err := stream.Err(); err != nil {
		t.Fatalf("stream.Err() = %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("body = %q, want hello", got)
	}

	ctx.Disconnect(false, nil)
	<-done
}

func TestStartRequestBlocksUntilSlotFree(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	serverFramer := http2.NewFramer(serverConn, serverConn)
	go func() {
		preface := make([]byte, len(http2.ClientPreface))
		io.ReadFull(serverConn, preface)
		serverFramer.ReadFrame()
		serverFramer.WriteSettingsAck()
		serverFramer.WriteSettings(http2.Setting{ID: http2.SettingMaxConcurrentStreams, Val: 1})
		for {
			if _, err := serverFramer.ReadFrame(); err != nil {
				return
			}
		}
	}()

	ctx, err := NewContext(clientConn, Options{})
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}

	// Give the peer's SETTINGS (limit=1) time to land before the probe.
	deadline := time.Now().Add(2 * time.Second)
	for ctx.MaxConcurrentStreams() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if ctx.MaxConcurrentStreams() != 1 {
		t.Skip("peer SETTINGS did not land in time; flaky environment")
	}

	if _, err := ctx.StartRequest([]HeaderField{{Name: ":method", Value: "GET"}}, nil, nil, false); err != nil {
		t.Fatalf("first StartRequest: %v", err)
	}

	blocked := make(chan struct{})
	go func() {
		ctx.StartRequest([]HeaderField{{Name: ":method", Value: "GET"}}, nil, nil, true)
		close(blocked)
	}()

	select {
	case <-blocked:
		t.Fatal("second StartRequest should have blocked at the concurrency limit")
	default:
	}

	ctx.Disconnect(false, nil)
}
