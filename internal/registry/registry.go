package registry

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Conn is the transport handle for one connected device. Implementations
// must be safe for concurrent Send calls; Send blocks only on the underlying
// transport write.
type Conn interface {
	Send(ctx context.Context, payload []byte) error
	Ready() bool
	Close() error
	RemoteAddr() string
}

// Entry tracks one currently-connected device
type Entry struct {
	DeviceID       string
	Conn           Conn
	ConnectedSince time.Time
	LastSeen       time.Time
}

// Registry is the single source of truth for which devices have an open
// transport right now. It owns the handles it holds: a handle is closed the
// moment its entry is displaced or removed, never lazily on next access.
//
// Registries are plain values wired in by the caller so tests can run
// several against fake transports.
type Registry struct {
	logger *slog.Logger

	mu      sync.RWMutex
	entries map[string]*Entry
}

// New creates an empty registry
func New(logger *slog.Logger) *Registry {
	return &Registry{
		logger:  logger.With("component", "registry"),
		entries: make(map[string]*Entry),
	}
}

// OnConnect inserts or replaces the entry for deviceID. A replaced handle
// indicates a reconnect race; last writer wins and the displaced handle is
// closed here so it cannot linger half-open.
func (r *Registry) OnConnect(deviceID string, conn Conn) {
	now := time.Now()

	r.mu.Lock()
	displaced := r.entries[deviceID]
	r.entries[deviceID] = &Entry{
		DeviceID:       deviceID,
		Conn:           conn,
		ConnectedSince: now,
		LastSeen:       now,
	}
	total := len(r.entries)
	r.mu.Unlock()

	if displaced != nil {
		r.logger.Warn("displacing existing connection",
			"device_id", deviceID,
			"old_remote", displaced.Conn.RemoteAddr(),
			"new_remote", conn.RemoteAddr())
		_ = displaced.Conn.Close()
	}

	r.logger.Info("device connected",
		"device_id", deviceID,
		"remote", conn.RemoteAddr(),
		"active_connections", total)
}

// OnDisconnect removes and closes the entry for deviceID, but only if it
// still holds conn: the read pump of a displaced handle reports its death
// after the replacement is registered, and must not evict the live one.
// Removal is synchronous with the disconnect event: once this returns,
// dispatches to the device fail fast instead of writing into a dead socket.
func (r *Registry) OnDisconnect(deviceID string, conn Conn) {
	r.mu.Lock()
	entry := r.entries[deviceID]
	if entry == nil || entry.Conn != conn {
		r.mu.Unlock()
		return
	}
	delete(r.entries, deviceID)
	total := len(r.entries)
	r.mu.Unlock()

	_ = entry.Conn.Close()

	r.logger.Info("device disconnected",
		"device_id", deviceID,
		"connected_for", time.Since(entry.ConnectedSince).Round(time.Second),
		"active_connections", total)
}

// Get returns the live handle for deviceID, if any
func (r *Registry) Get(deviceID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[deviceID]
	if !ok {
		return nil, false
	}
	return entry.Conn, true
}

// Touch updates last_seen for deviceID; called on every inbound message
func (r *Registry) Touch(deviceID string) {
	r.mu.Lock()
	if entry, ok := r.entries[deviceID]; ok {
		entry.LastSeen = time.Now()
	}
	r.mu.Unlock()
}

// ListIDs returns the sorted ids of all currently-connected devices
func (r *Registry) ListIDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Count returns the number of open transports
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Snapshot returns copies of all entries for diagnostics
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	out := make([]Entry, 0, len(r.entries))
	for _, entry := range r.entries {
		out = append(out, *entry)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}
