package pool

import (
	"sync"
	"testing"

	"github.com/axelhelm/httpcore/internal/conn"
	"github.com/axelhelm/httpcore/internal/model"
)

func dummyFactory() (*conn.Connection, error) {
	return conn.NewForTest(), nil
}

func TestAcquireReusesReleasedConnection(t *testing.T) {
	p := New(dummyFactory, 2)

	lease1, err := p.Acquire()
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	first := lease1.Connection()
	lease1.Release()

	lease2, err := p.Acquire()
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if lease2.Connection() != first {
		t.Fatal("expected the released connection to be reused")
	}
	if got := p.Stats().TotalReused; got != 1 {
		t.Fatalf("expected 1 reuse, got %d", got)
	}
}

func TestAcquireBlocksAtCapacity(t *testing.T) {
	p := New(dummyFactory, 1)

	lease, err := p.Acquire()
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := p.Acquire(); err != nil {
			t.Errorf("blocked Acquire: %v", err)
		}
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("second Acquire should have blocked while the pool is at capacity")
	default:
	}

	lease.Release()
	wg.Wait()
}

func TestDirectoryLookupWithoutCreate(t *testing.T) {
	d := NewDirectory(2)
	k1 := model.OriginKey{Host: "a"}

	if _, ok := d.Lookup(k1); ok {
		t.Fatal("Lookup should report false before any pool exists for the key")
	}

	created := d.GetOrCreate(k1, dummyFactory, 1)
	got, ok := d.Lookup(k1)
	if !ok {
		t.Fatal("Lookup should find the pool created by GetOrCreate")
	}
	if got != created {
		t.Fatal("Lookup returned a different pool than GetOrCreate created")
	}
}

func TestDirectoryEvictsOldestOverCapacity(t *testing.T) {
	d := NewDirectory(2)
	k1 := model.OriginKey{Host: "a"}
	k2 := model.OriginKey{Host: "b"}
	k3 := model.OriginKey{Host: "c"}

	p1 := d.GetOrCreate(k1, dummyFactory, 1)
	d.GetOrCreate(k2, dummyFactory, 1)
	d.GetOrCreate(k3, dummyFactory, 1)

	if got := d.GetOrCreate(k1, dummyFactory, 1); got == p1 {
		t.Fatal("expected k1's pool to have been evicted and recreated")
	}
}
