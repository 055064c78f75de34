package conn

import (
	"net"
	"testing"
	"time"
)

func newTestConnection(t *testing.T) (*Connection, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { server.Close() })
	c := &Connection{state: H1Idle, maxRequests: maxInt, raw: client}
	return c, server
}

func TestBeginRequestRejectsReentrantRequest(t *testing.T) {
	c, _ := newTestConnection(t)
	if err := c.BeginRequest(); err != nil {
		t.Fatalf("first BeginRequest: %v", err)
	}
	if err := c.BeginRequest(); err == nil {
		t.Fatal("expected error starting a second request while Requesting")
	}
}

func TestFinishResponseClosesWhenKeepAliveFalse(t *testing.T) {
	c, _ := newTestConnection(t)
	if err := c.BeginRequest(); err != nil {
		t.Fatalf("BeginRequest: %v", err)
	}
	c.BeginResponse()
	c.FinishResponse(false, 0, 0)
	if got := c.State(); got != Disconnected {
		t.Fatalf("expected Disconnected after non-keep-alive response, got %s", got)
	}
}

func TestFinishResponseRecyclesOnKeepAlive(t *testing.T) {
	c, _ := newTestConnection(t)
	if err := c.BeginRequest(); err != nil {
		t.Fatalf("BeginRequest: %v", err)
	}
	c.BeginResponse()
	c.FinishResponse(true, 30, 100)
	if got := c.State(); got != H1Idle {
		t.Fatalf("expected H1Idle after keep-alive response, got %s", got)
	}
}

func TestFinishResponseReconnectsWhenMaxRequestsReached(t *testing.T) {
	c, _ := newTestConnection(t)
	c.maxRequests = 1
	if err := c.BeginRequest(); err != nil {
		t.Fatalf("BeginRequest: %v", err)
	}
	c.BeginResponse()
	c.FinishResponse(true, 0, 0)
	if got := c.State(); got != Disconnected {
		t.Fatalf("expected Disconnected once maxRequests is reached, got %s", got)
	}
}

func TestKeepAliveTimerFiresIdleClose(t *testing.T) {
	c, _ := newTestConnection(t)
	fired := make(chan struct{})
	c.SetIdleTimeoutCallback(func() { close(fired) })
	if err := c.BeginRequest(); err != nil {
		t.Fatalf("BeginRequest: %v", err)
	}
	c.BeginResponse()
	c.keepAliveTimeout = 10 * time.Millisecond
	c.FinishResponse(true, 0, 0)

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("idle timeout callback never fired")
	}
	if got := c.State(); got != Disconnected {
		t.Fatalf("expected Disconnected after idle timeout, got %s", got)
	}
}
