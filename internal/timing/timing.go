// Package timing measures per-request and per-connection latencies.
package timing

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Metrics captures the latency breakdown of one request, plus the last
// measured HTTP/2 round-trip time of the connection it ran on, if any.
type Metrics struct {
	DNSLookup    time.Duration
	TCPConnect   time.Duration
	TLSHandshake time.Duration
	TTFB         time.Duration
	TotalTime    time.Duration
	RTT          time.Duration // HTTP/2 PING-measured RTT, zero if unmeasured
}

func (m Metrics) String() string {
	return fmt.Sprintf("dns=%v tcp=%v tls=%v ttfb=%v total=%v rtt=%v",
		m.DNSLookup, m.TCPConnect, m.TLSHandshake, m.TTFB, m.TotalTime, m.RTT)
}

// Timer accumulates the phase boundaries of a single request/connect
// cycle. Zero value is ready to use.
type Timer struct {
	start, dnsStart, dnsEnd, tcpStart, tcpEnd, tlsStart, tlsEnd, ttfbStart, ttfbEnd time.Time
}

func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) StartDNS() { t.dnsStart = time.Now() }
func (t *Timer) EndDNS()   { t.dnsEnd = time.Now() }

func (t *Timer) StartTCP() { t.tcpStart = time.Now() }
func (t *Timer) EndTCP()   { t.tcpEnd = time.Now() }

func (t *Timer) StartTLS() { t.tlsStart = time.Now() }
func (t *Timer) EndTLS()   { t.tlsEnd = time.Now() }

func (t *Timer) StartTTFB() { t.ttfbStart = time.Now() }
func (t *Timer) EndTTFB()   { t.ttfbEnd = time.Now() }

// Metrics renders the recorded phases, leaving any phase that was never
// started at zero.
func (t *Timer) Metrics() Metrics {
	m := Metrics{TotalTime: time.Since(t.start)}
	if !t.dnsStart.IsZero() && !t.dnsEnd.IsZero() {
		m.DNSLookup = t.dnsEnd.Sub(t.dnsStart)
	}
	if !t.tcpStart.IsZero() && !t.tcpEnd.IsZero() {
		m.TCPConnect = t.tcpEnd.Sub(t.tcpStart)
	}
	if !t.tlsStart.IsZero() && !t.tlsEnd.IsZero() {
		m.TLSHandshake = t.tlsEnd.Sub(t.tlsStart)
	}
	if !t.ttfbStart.IsZero() && !t.ttfbEnd.IsZero() {
		m.TTFB = t.ttfbEnd.Sub(t.ttfbStart)
	}
	return m
}

// RTTTracker holds the last HTTP/2 PING-measured round-trip time for a
// connection, shared between the ping timer goroutine and readers of
// Response.Metrics (spec.md §4.6 "Ping/RTT").
type RTTTracker struct {
	nanos int64
}

func (r *RTTTracker) Record(d time.Duration) {
	atomic.StoreInt64(&r.nanos, int64(d))
}

func (r *RTTTracker) Get() time.Duration {
	return time.Duration(atomic.LoadInt64(&r.nanos))
}
