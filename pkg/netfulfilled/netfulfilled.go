// Package netfulfilled remembers which requests have already been served to
// which peers so that repeated requests within a window can be refused.
package netfulfilled

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/libp2p/go-libp2p/core/peer"
)

// DefaultSize bounds the number of remembered (peer, request) pairs.
const DefaultSize = 10000

type request struct {
	peer peer.ID
	name string
}

// Manager tracks fulfilled requests per peer. Entries expire after the TTL
// given at construction. It is safe for concurrent use.
type Manager struct {
	fulfilled *expirable.LRU[request, time.Time]
}

func New(size int, ttl time.Duration) *Manager {
	if size <= 0 {
		size = DefaultSize
	}
	return &Manager{
		fulfilled: expirable.NewLRU[request, time.Time](size, nil, ttl),
	}
}

// Has returns true if the request was fulfilled for the peer and has not expired.
func (m *Manager) Has(p peer.ID, name string) bool {
	_, ok := m.fulfilled.Get(request{peer: p, name: name})
	return ok
}

func (m *Manager) Add(p peer.ID, name string) {
	m.fulfilled.Add(request{peer: p, name: name}, time.Now())
}

// Remove forgets a fulfilled request, for example when the peer disconnects.
func (m *Manager) Remove(p peer.ID, name string) {
	m.fulfilled.Remove(request{peer: p, name: name})
}

func (m *Manager) Len() int {
	return m.fulfilled.Len()
}
