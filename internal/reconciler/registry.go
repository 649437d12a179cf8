package reconciler

import (
	"sort"
	"sync"
	"time"

	"github.com/pavandhadge/vectron/clustermeta/internal/operations"
)

// Registry tracks the last heartbeat of every peer.
type Registry struct {
	mu       sync.RWMutex
	lastSeen map[operations.PeerID]time.Time
	timeout  time.Duration
	started  time.Time
	now      func() time.Time
}

// NewRegistry creates a registry that considers a peer unreachable once
// timeout elapsed since its last heartbeat.
func NewRegistry(timeout time.Duration) *Registry {
	return newRegistry(timeout, time.Now)
}

func newRegistry(timeout time.Duration, now func() time.Time) *Registry {
	return &Registry{
		lastSeen: make(map[operations.PeerID]time.Time),
		timeout:  timeout,
		started:  now(),
		now:      now,
	}
}

// Heartbeat records that peer is alive.
func (r *Registry) Heartbeat(peer operations.PeerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastSeen[peer] = r.now()
}

// Forget drops peer from the registry.
func (r *Registry) Forget(peer operations.PeerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.lastSeen, peer)
}

// IsAlive reports whether peer heartbeated within the timeout. A peer that
// never heartbeated gets one timeout of grace from registry start, so a
// freshly elected leader does not abort every transfer at once.
func (r *Registry) IsAlive(peer operations.PeerID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	now := r.now()
	if seen, ok := r.lastSeen[peer]; ok {
		return now.Sub(seen) < r.timeout
	}
	return now.Sub(r.started) < r.timeout
}

// Alive returns the peers that heartbeated within the timeout, ascending.
func (r *Registry) Alive() []operations.PeerID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	now := r.now()
	peers := make([]operations.PeerID, 0, len(r.lastSeen))
	for peer, seen := range r.lastSeen {
		if now.Sub(seen) < r.timeout {
			peers = append(peers, peer)
		}
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i] < peers[j] })
	return peers
}

// Unhealthy returns the known peers whose heartbeat timed out, ascending.
func (r *Registry) Unhealthy() []operations.PeerID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	now := r.now()
	var peers []operations.PeerID
	for peer, seen := range r.lastSeen {
		if now.Sub(seen) >= r.timeout {
			peers = append(peers, peer)
		}
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i] < peers[j] })
	return peers
}
