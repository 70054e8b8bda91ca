package discovery

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// cache deduplicates servers by id, keeping first-seen order.
type cache struct {
	mu      sync.RWMutex
	order   []uuid.UUID
	servers map[uuid.UUID]*DiscoveredServer
}

func newCache() *cache {
	return &cache{servers: make(map[uuid.UUID]*DiscoveredServer)}
}

// observe merges one sighting. seen is the sighting time; the later of the
// stored and the new time wins.
func (c *cache) observe(id uuid.UUID, name, address string, port uint16, seen time.Time) DiscoveredServer {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.servers[id]
	if !ok {
		s = &DiscoveredServer{ID: id, FirstSeen: seen, LastSeen: seen}
		c.servers[id] = s
		c.order = append(c.order, id)
	}
	if seen.Before(s.FirstSeen) {
		s.FirstSeen = seen
	}
	if !seen.Before(s.LastSeen) {
		s.LastSeen = seen
		s.Name, s.Address, s.Port = name, address, port
	}
	return *s
}

func (c *cache) list() []DiscoveredServer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]DiscoveredServer, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, *c.servers[id])
	}
	return out
}

func (c *cache) get(id uuid.UUID) (DiscoveredServer, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.servers[id]
	if !ok {
		return DiscoveredServer{}, false
	}
	return *s, true
}

func (c *cache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order = nil
	c.servers = make(map[uuid.UUID]*DiscoveredServer)
}
