package cookiejar

import (
	"sync"
	"time"
)

// MemoryJar is a simple in-memory Jar, useful as the zero-config
// default and in tests that should not touch the filesystem. The
// file-backed persistence spec.md §4.4.2 describes lives in FileJar.
type MemoryJar struct {
	mu      sync.Mutex
	records []Pair
	now     func() time.Time
}

func NewMemoryJar() *MemoryJar {
	return &MemoryJar{now: time.Now}
}

func (j *MemoryJar) Get(host, requestPath string, isTLS bool, emit Emitter) {
	j.mu.Lock()
	defer j.mu.Unlock()
	now := j.now()
	for _, p := range j.records {
		if p.Matches(host, requestPath, isTLS, now) {
			emit(p.Name, p.Cookie.Value)
		}
	}
}

func (j *MemoryJar) Set(host, setCookie string) error {
	pair, ok := ParseSetCookie(setCookie, j.now())
	if !ok {
		return nil
	}
	if pair.Cookie.Domain == "" {
		pair.Cookie.Domain = host
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	for i, p := range j.records {
		if p.Name == pair.Name && p.Cookie.Domain == pair.Cookie.Domain && p.Cookie.Path == pair.Cookie.Path {
			j.records[i] = pair
			return nil
		}
	}
	j.records = append(j.records, pair)
	return nil
}

var _ Jar = (*MemoryJar)(nil)
