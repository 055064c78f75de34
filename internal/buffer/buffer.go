// Package buffer provides a memory-with-disk-spill accumulator for the
// "read fully" response convenience, complementing the streaming body
// reader that remains the primary path through this module.
package buffer

import (
	"bytes"
	"io"
	"os"
	"sync"

	"github.com/axelhelm/httpcore/internal/errors"
)

// DefaultMemoryLimit is the default in-memory threshold before a Buffer
// spills to a temp file.
const DefaultMemoryLimit = 4 * 1024 * 1024 // 4MB

// Buffer accumulates written bytes in memory up to limit, then spills
// the rest to a temp file so a large response body never forces the
// whole payload to live in the heap at once.
type Buffer struct {
	buf  bytes.Buffer
	file *os.File
	path string

	mu     sync.Mutex
	size   int64
	limit  int64
	closed bool
}

// New creates a Buffer that spills to disk past limit bytes. limit <= 0
// uses DefaultMemoryLimit.
func New(limit int64) *Buffer {
	if limit <= 0 {
		limit = DefaultMemoryLimit
	}
	return &Buffer{limit: limit}
}

// Write stores p, spilling to a temp file once the in-memory portion
// would exceed the configured limit.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, errors.NewIOErrorCompat(os.ErrClosed)
	}
	b.size += int64(len(p))

	if b.file == nil && int64(b.buf.Len()+len(p)) <= b.limit {
		return b.buf.Write(p)
	}

	if b.file == nil {
		tmp, err := os.CreateTemp("", "httpcore-buffer-*.tmp")
		if err != nil {
			return 0, errors.NewIOErrorCompat(err)
		}
		b.file = tmp
		b.path = tmp.Name()
		if b.buf.Len() > 0 {
			if _, err := tmp.Write(b.buf.Bytes()); err != nil {
				b.closeLocked()
				return 0, errors.NewIOErrorCompat(err)
			}
		}
		b.buf.Reset()
	}

	n, err := b.file.Write(p)
	if err != nil {
		return n, errors.NewIOErrorCompat(err)
	}
	return n, nil
}

// Bytes returns the in-memory payload, or nil if the buffer spilled to
// disk.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.file != nil {
		return nil
	}
	return b.buf.Bytes()
}

// Size returns the total number of bytes written.
func (b *Buffer) Size() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Spilled reports whether the buffer's payload lives on disk.
func (b *Buffer) Spilled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.file != nil
}

// Reader returns a fresh reader over the whole stored payload.
func (b *Buffer) Reader() (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, errors.NewIOErrorCompat(os.ErrClosed)
	}
	if b.file != nil {
		if err := b.file.Sync(); err != nil {
			return nil, errors.NewIOErrorCompat(err)
		}
		f, err := os.Open(b.path)
		if err != nil {
			return nil, errors.NewIOErrorCompat(err)
		}
		return f, nil
	}
	return io.NopCloser(bytes.NewReader(b.buf.Bytes())), nil
}

// Close releases the backing temp file, if any. Idempotent.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closeLocked()
}

func (b *Buffer) closeLocked() error {
	if b.closed {
		return nil
	}
	b.closed = true
	if b.file != nil {
		closeErr := b.file.Close()
		removeErr := os.Remove(b.path)
		b.file = nil
		b.path = ""
		if closeErr != nil {
			return errors.NewIOErrorCompat(closeErr)
		}
		if removeErr != nil {
			return errors.NewIOErrorCompat(removeErr)
		}
	}
	return nil
}
