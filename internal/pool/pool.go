// Package pool implements the per-origin connection pool of spec.md
// §4.8: a factory-backed pool of conn.Connection objects with bounded
// concurrency, and the size-16 LRU directory of origin-key -> pool that
// sits in front of it. When a pooled connection upgrades to HTTP/2, the
// pool stops handing out fresh physical connections for that origin and
// instead leases the same Connection repeatedly — h2.Context's own
// concurrency gate in StartRequest plays the role of the "inner pool"
// spec.md describes.
package pool

import (
	"container/list"
	"sync"

	"github.com/axelhelm/httpcore/internal/conn"
	"github.com/axelhelm/httpcore/internal/model"
)

// Factory dials a fresh connection for the pool's origin.
type Factory func() (*conn.Connection, error)

// Stats mirrors the teacher's PoolStats/HostPoolStats shape, scoped to
// one origin (spec.md §4.8).
type Stats struct {
	ActiveConns int
	IdleConns   int
	TotalReused int
	TotalDialed int
}

// Pool manages connections for a single origin key.
type Pool struct {
	factory Factory
	maxSize int

	mu          sync.Mutex
	cond        *sync.Cond
	idle        []*conn.Connection
	active      int
	totalReused int
	totalDialed int

	http2Conn *conn.Connection // set once an H1 connection upgrades, or a fresh dial negotiates H2 directly
}

// DefaultMaxConnsPerOrigin bounds concurrent physical connections to one
// origin absent an explicit override (mirrors the teacher's
// MaxConnsPerHost knob, but with a finite default rather than
// "unlimited" since spec.md §4.8 calls the pool "bounded concurrency").
const DefaultMaxConnsPerOrigin = 6

// New creates a Pool that dials through factory, allowing up to maxSize
// concurrent physical connections. maxSize <= 0 uses
// DefaultMaxConnsPerOrigin.
func New(factory Factory, maxSize int) *Pool {
	if maxSize <= 0 {
		maxSize = DefaultMaxConnsPerOrigin
	}
	p := &Pool{factory: factory, maxSize: maxSize}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Lease is a scoped handle on a pooled Connection; Release returns it
// to the pool (or discards it) depending on its post-request state.
type Lease struct {
	pool *Pool
	conn *conn.Connection
}

// Connection returns the leased connection.
func (l *Lease) Connection() *conn.Connection { return l.conn }

// Release returns the connection to the pool if it is still usable,
// per spec.md §4.8 "when the lease is dropped, the connection returns
// to the pool if still healthy".
func (l *Lease) Release() {
	l.pool.release(l.conn)
}

// Acquire returns a lease on a connection for this origin, dialing a
// new one if needed and the pool has capacity, or waiting for one to
// free up otherwise (spec.md §4.8 "lockConnection()").
func (p *Pool) Acquire() (*Lease, error) {
	p.mu.Lock()
	if p.http2Conn != nil {
		c := p.http2Conn
		p.mu.Unlock()
		return &Lease{pool: p, conn: c}, nil
	}

	for {
		for len(p.idle) > 0 {
			n := len(p.idle)
			c := p.idle[n-1]
			p.idle = p.idle[:n-1]
			if c.State() == conn.Disconnected {
				continue // died of an idle timeout since it was parked; try the next one
			}
			p.active++
			p.totalReused++
			p.mu.Unlock()
			return &Lease{pool: p, conn: c}, nil
		}
		if p.active < p.maxSize {
			p.active++
			p.mu.Unlock()
			c, err := p.factory()
			if err != nil {
				p.mu.Lock()
				p.active--
				p.cond.Broadcast()
				p.mu.Unlock()
				return nil, err
			}
			p.totalDialed++
			if c.IsHTTP2() {
				p.mu.Lock()
				p.http2Conn = c
				p.mu.Unlock()
			}
			return &Lease{pool: p, conn: c}, nil
		}
		p.cond.Wait()
	}
}

func (p *Pool) release(c *conn.Connection) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.http2Conn == c {
		// HTTP/2 connections are never returned to the idle slice; the
		// pool always leases the same session.
		if c.IsHTTP2() {
			return
		}
		// The session died; drop it so the next Acquire dials fresh.
		p.http2Conn = nil
		p.active--
		p.cond.Broadcast()
		return
	}

	p.active--
	if c.IsHTTP2() {
		p.http2Conn = c
		p.cond.Broadcast()
		return
	}
	if c.State() == conn.Disconnected {
		p.cond.Broadcast()
		return
	}
	p.idle = append(p.idle, c)
	p.cond.Broadcast()
}

// Stats reports a snapshot of this origin's pool.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		ActiveConns: p.active,
		IdleConns:   len(p.idle),
		TotalReused: p.totalReused,
		TotalDialed: p.totalDialed,
	}
}

// Directory is the bounded, LRU-by-insertion cache of origin-key ->
// Pool spec.md §4.8 describes ("A small bounded directory (size 16,
// LRU-by-insertion) caches (origin-key) -> pool. Overflow evicts the
// oldest entry; its connections drain naturally through lease
// completion").
type Directory struct {
	maxEntries int

	mu      sync.Mutex
	order   *list.List // front = most recently inserted
	entries map[model.OriginKey]*list.Element
}

type directoryEntry struct {
	key  model.OriginKey
	pool *Pool
}

// DefaultDirectorySize is the fixed size spec.md §4.8 specifies.
const DefaultDirectorySize = 16

// NewDirectory creates a Directory holding up to maxEntries pools.
// maxEntries <= 0 uses DefaultDirectorySize.
func NewDirectory(maxEntries int) *Directory {
	if maxEntries <= 0 {
		maxEntries = DefaultDirectorySize
	}
	return &Directory{
		maxEntries: maxEntries,
		order:      list.New(),
		entries:    make(map[model.OriginKey]*list.Element),
	}
}

// Lookup returns the existing pool for key without creating one, for
// read-only observability callers (spec.md's supplemented pool
// statistics feature).
func (d *Directory) Lookup(key model.OriginKey) (*Pool, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	el, ok := d.entries[key]
	if !ok {
		return nil, false
	}
	return el.Value.(*directoryEntry).pool, true
}

// GetOrCreate returns the pool for key, creating one via factory (and
// evicting the oldest entry if the directory is full) if none exists
// yet.
func (d *Directory) GetOrCreate(key model.OriginKey, factory Factory, maxConnsPerOrigin int) *Pool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if el, ok := d.entries[key]; ok {
		return el.Value.(*directoryEntry).pool
	}

	if d.order.Len() >= d.maxEntries {
		oldest := d.order.Back()
		if oldest != nil {
			entry := oldest.Value.(*directoryEntry)
			d.order.Remove(oldest)
			delete(d.entries, entry.key)
		}
	}

	p := New(factory, maxConnsPerOrigin)
	el := d.order.PushFront(&directoryEntry{key: key, pool: p})
	d.entries[key] = el
	return p
}
