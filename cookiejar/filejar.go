package cookiejar

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/axelhelm/httpcore/internal/errors"
)

// readWindowSize is the fixed-size buffer used to scan the cookie file,
// per spec.md §4.4.2: "scans the file in fixed-size buffer windows,
// carrying over partial lines across buffer boundaries".
const readWindowSize = 64 * 1024

// FileJar is the file-backed cookie store spec.md §4.4.2 describes: one
// RFC-6265-like record per line, protected by a plain (non-re-entrant)
// mutex, read via fixed windows and mutated via copy-then-atomic-rename.
type FileJar struct {
	mu   sync.Mutex // guards path during read-modify-write sequences
	path string
	now  func() time.Time
}

// NewFileJar returns a FileJar backed by path. The file need not exist
// yet; it is created lazily on the first Set.
func NewFileJar(path string) *FileJar {
	return &FileJar{path: path, now: time.Now}
}

// record is one decoded line of the cookie file.
type record struct {
	pair Pair
	host string // the host this record was stored against; empty means Domain carries it
}

func (j *FileJar) readAll() ([]record, error) {
	f, err := os.Open(j.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewIOErrorCompat(err)
	}
	defer f.Close()

	var records []record
	var carry []byte
	buf := make([]byte, readWindowSize)
	for {
		n, readErr := f.Read(buf)
		if n > 0 {
			chunk := append(carry, buf[:n]...)
			lines := bytes.Split(chunk, []byte("\n"))
			// The last element may be a partial line; carry it over
			// unless this was the final read.
			complete := lines[:len(lines)-1]
			carry = append([]byte(nil), lines[len(lines)-1]...)
			for _, line := range complete {
				if rec, ok := decodeLine(string(bytes.TrimRight(line, "\r"))); ok {
					records = append(records, rec)
				}
			}
		}
		if readErr == io.EOF {
			if len(carry) > 0 {
				if rec, ok := decodeLine(string(bytes.TrimRight(carry, "\r"))); ok {
					records = append(records, rec)
				}
			}
			break
		}
		if readErr != nil {
			return nil, errors.NewIOErrorCompat(readErr)
		}
	}
	return records, nil
}

func decodeLine(line string) (record, bool) {
	if line == "" {
		return record{}, false
	}
	pair, ok := ParseSetCookie(line, time.Now())
	if !ok {
		return record{}, false
	}
	// A stored record carries the absolute Expires computed when it was
	// set; keep it rather than re-deriving Expires from Max-Age at load.
	for _, attr := range strings.Split(line, ";")[1:] {
		kv := strings.SplitN(strings.TrimSpace(attr), "=", 2)
		if len(kv) == 2 && strings.EqualFold(kv[0], "expires") {
			if t, err := time.Parse(TimeFormat, strings.TrimSpace(kv[1])); err == nil {
				pair.Cookie.Expires = t.UTC()
			}
		}
	}
	return record{pair: pair, host: pair.Cookie.Domain}, true
}

// writeAll copies records to a temp file in the same directory, then
// renames it over the live path, per spec.md §4.4.2's "copies
// non-matching records to a new temp file, then atomically replaces the
// live file".
func (j *FileJar) writeAll(records []record) error {
	dir := filepath.Dir(j.path)
	tmp, err := os.CreateTemp(dir, ".cookiejar-*.tmp")
	if err != nil {
		return errors.NewIOErrorCompat(err)
	}
	tmpPath := tmp.Name()
	w := bufio.NewWriter(tmp)
	for _, rec := range records {
		if _, err := w.WriteString(rec.pair.String()); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return errors.NewIOErrorCompat(err)
		}
		if err := w.WriteByte('\n'); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return errors.NewIOErrorCompat(err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errors.NewIOErrorCompat(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return errors.NewIOErrorCompat(err)
	}
	if err := os.Rename(tmpPath, j.path); err != nil {
		os.Remove(tmpPath)
		return errors.NewIOErrorCompat(err)
	}
	return nil
}

// Get implements Jar: emits every unexpired record matching host, path
// and isTLS.
func (j *FileJar) Get(host, requestPath string, isTLS bool, emit Emitter) {
	j.mu.Lock()
	records, err := j.readAll()
	j.mu.Unlock()
	if err != nil {
		return
	}
	now := j.now()
	for _, rec := range records {
		if rec.pair.Matches(host, requestPath, isTLS, now) {
			emit(rec.pair.Name, rec.pair.Cookie.Value)
		}
	}
}

// Set implements Jar: parses setCookie, defaults Domain to host if
// absent, and persists it, replacing any existing record for the same
// (name, domain, path).
func (j *FileJar) Set(host, setCookie string) error {
	pair, ok := ParseSetCookie(setCookie, j.now())
	if !ok {
		return errors.NewProtocolH1("cookie", "malformed Set-Cookie value", nil)
	}
	if pair.Cookie.Domain == "" {
		pair.Cookie.Domain = host
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	records, err := j.readAll()
	if err != nil {
		return err
	}
	filtered := records[:0]
	for _, rec := range records {
		if rec.pair.Name == pair.Name && rec.pair.Cookie.Domain == pair.Cookie.Domain && rec.pair.Cookie.Path == pair.Cookie.Path {
			continue
		}
		filtered = append(filtered, rec)
	}
	filtered = append(filtered, record{pair: pair, host: pair.Cookie.Domain})
	return j.writeAll(filtered)
}

// RemoveSessionCookies deletes every session cookie (a record with
// neither Expires nor Max-Age, see Cookie.IsSessionCookie).
func (j *FileJar) RemoveSessionCookies() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	records, err := j.readAll()
	if err != nil {
		return err
	}
	filtered := records[:0]
	for _, rec := range records {
		if rec.pair.Cookie.IsSessionCookie() {
			continue
		}
		filtered = append(filtered, rec)
	}
	return j.writeAll(filtered)
}

var _ Jar = (*FileJar)(nil)
