package registry_test

import (
	"context"
	"io"
	"log/slog"
	"reflect"
	"sync"
	"testing"

	"pump-backend/internal/registry"
)

type fakeConn struct {
	mu     sync.Mutex
	addr   string
	closed bool
	sent   [][]byte
}

func (c *fakeConn) Send(_ context.Context, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, payload)
	return nil
}

func (c *fakeConn) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) RemoteAddr() string { return c.addr }

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestConnectAndGet(t *testing.T) {
	reg := registry.New(testLogger())
	conn := &fakeConn{addr: "10.0.0.1:5000"}

	reg.OnConnect("pump-1", conn)

	got, ok := reg.Get("pump-1")
	if !ok || got != conn {
		t.Fatal("Get should return the registered handle")
	}
	if reg.Count() != 1 {
		t.Fatalf("Count = %d, want 1", reg.Count())
	}
}

func TestDisconnectEvictsAndCloses(t *testing.T) {
	reg := registry.New(testLogger())
	conn := &fakeConn{}
	reg.OnConnect("pump-1", conn)

	reg.OnDisconnect("pump-1", conn)

	if _, ok := reg.Get("pump-1"); ok {
		t.Fatal("handle must be gone after disconnect")
	}
	if !conn.isClosed() {
		t.Fatal("handle must be closed on disconnect, not on next access")
	}
	if reg.Count() != 0 {
		t.Fatalf("Count = %d, want 0", reg.Count())
	}
}

func TestReconnectDisplacesOldHandle(t *testing.T) {
	reg := registry.New(testLogger())
	first := &fakeConn{addr: "10.0.0.1:5000"}
	second := &fakeConn{addr: "10.0.0.1:5001"}

	reg.OnConnect("pump-1", first)
	reg.OnConnect("pump-1", second)

	got, _ := reg.Get("pump-1")
	if got != second {
		t.Fatal("last writer must win on a reconnect race")
	}
	if !first.isClosed() {
		t.Fatal("displaced handle must be closed")
	}
	if reg.Count() != 1 {
		t.Fatalf("Count = %d, want 1", reg.Count())
	}
}

func TestStaleDisconnectKeepsLiveHandle(t *testing.T) {
	reg := registry.New(testLogger())
	first := &fakeConn{addr: "10.0.0.1:5000"}
	second := &fakeConn{addr: "10.0.0.1:5001"}

	reg.OnConnect("pump-1", first)
	reg.OnConnect("pump-1", second)

	// the displaced pump reports its death late; it must not evict the
	// replacement
	reg.OnDisconnect("pump-1", first)

	got, ok := reg.Get("pump-1")
	if !ok || got != second {
		t.Fatal("stale disconnect must not evict the live handle")
	}
	if second.isClosed() {
		t.Fatal("live handle must stay open")
	}
}

func TestDisconnectUnknownDeviceIsNoop(t *testing.T) {
	reg := registry.New(testLogger())
	reg.OnDisconnect("never-seen", &fakeConn{})
	if reg.Count() != 0 {
		t.Fatalf("Count = %d, want 0", reg.Count())
	}
}

func TestListIDsSorted(t *testing.T) {
	reg := registry.New(testLogger())
	reg.OnConnect("pump-3", &fakeConn{})
	reg.OnConnect("pump-1", &fakeConn{})
	reg.OnConnect("pump-2", &fakeConn{})

	want := []string{"pump-1", "pump-2", "pump-3"}
	if got := reg.ListIDs(); !reflect.DeepEqual(got, want) {
		t.Fatalf("ListIDs = %v, want %v", got, want)
	}
}

func TestConcurrentAccess(t *testing.T) {
	reg := registry.New(testLogger())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn := &fakeConn{}
			reg.OnConnect("pump-1", conn)
			reg.Get("pump-1")
			reg.Touch("pump-1")
			reg.ListIDs()
			reg.OnDisconnect("pump-1", conn)
		}()
	}
	wg.Wait()

	if reg.Count() != 0 {
		t.Fatalf("Count = %d after balanced connect/disconnect, want 0", reg.Count())
	}
}
