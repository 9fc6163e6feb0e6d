package discovery

import (
	"sort"
	"sync"
	"time"
)

// Entry is what the directory knows about a live peer.
type Entry struct {
	Username string    `json:"username"`
	LastSeen time.Time `json:"last_seen"`
	// Port is the messaging port from the beacon, 0 if the peer did not send one.
	Port int `json:"port,omitempty"`
}

// Directory is the in-memory set of live peers keyed by address. Readers get
// copies, never the underlying map.
type Directory struct {
	mu    sync.RWMutex
	peers map[string]Entry
	now   func() time.Time
}

// NewDirectory creates an empty directory. A nil clock means time.Now.
func NewDirectory(now func() time.Time) *Directory {
	if now == nil {
		now = time.Now
	}
	return &Directory{peers: make(map[string]Entry), now: now}
}

// Upsert records a beacon from address and returns the stored entry.
func (d *Directory) Upsert(address, username string, port int) Entry {
	d.mu.Lock()
	defer d.mu.Unlock()
	e := Entry{Username: username, LastSeen: d.now(), Port: port}
	d.peers[address] = e
	return e
}

// Prune removes entries not seen for longer than ttl and returns their
// addresses in sorted order.
func (d *Directory) Prune(ttl time.Duration) []string {
	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()
	var removed []string
	for addr, e := range d.peers {
		if now.Sub(e.LastSeen) > ttl {
			delete(d.peers, addr)
			removed = append(removed, addr)
		}
	}
	sort.Strings(removed)
	return removed
}

func (d *Directory) Get(address string) (Entry, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.peers[address]
	return e, ok
}

// Snapshot returns a copy of the directory.
func (d *Directory) Snapshot() map[string]Entry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]Entry, len(d.peers))
	for k, v := range d.peers {
		out[k] = v
	}
	return out
}

func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.peers)
}

func (d *Directory) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	clear(d.peers)
}
