package transport

import (
	"sync"
	"time"
)

// Stats are aggregate traffic counters of an endpoint.
type Stats struct {
	MessagesSent     uint64        `json:"messages_sent"`
	MessagesReceived uint64        `json:"messages_received"`
	BytesSent        uint64        `json:"bytes_sent"`
	BytesReceived    uint64        `json:"bytes_received"`
	ConnectionUptime time.Duration `json:"connection_uptime"`
	LastActivity     time.Time     `json:"last_activity"`
}

// statsTracker counts traffic. Byte counters include every frame; message
// counters only include Text, File and System messages, so heartbeats, key
// exchanges, acknowledgments and disconnects are not counted.
type statsTracker struct {
	mu        sync.RWMutex
	s         Stats
	startedAt time.Time
}

func newStatsTracker() *statsTracker {
	return &statsTracker{startedAt: time.Now()}
}

func (t *statsTracker) recordSent(bytes int, counted bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.s.BytesSent += uint64(bytes)
	if counted {
		t.s.MessagesSent++
	}
	t.s.LastActivity = time.Now()
}

func (t *statsTracker) recordReceived(bytes int, counted bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.s.BytesReceived += uint64(bytes)
	if counted {
		t.s.MessagesReceived++
	}
	t.s.LastActivity = time.Now()
}

func (t *statsTracker) snapshot() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := t.s
	s.ConnectionUptime = time.Since(t.startedAt)
	return s
}
