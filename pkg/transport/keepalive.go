package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Keep-alive constants.
const (
	// DefaultHeartbeatInterval is the default interval between heartbeats.
	DefaultHeartbeatInterval = 30 * time.Second

	// DefaultConnectionTimeout is the default idle limit before a peer is dropped.
	DefaultConnectionTimeout = 60 * time.Second
)

// KeepAliveConfig configures keep-alive behavior.
type KeepAliveConfig struct {
	// Interval is the period between heartbeats and idle checks.
	Interval time.Duration

	// Timeout is the idle limit. Zero disables idle detection.
	Timeout time.Duration
}

// DefaultKeepAliveConfig returns the default keep-alive configuration.
func DefaultKeepAliveConfig() KeepAliveConfig {
	return KeepAliveConfig{
		Interval: DefaultHeartbeatInterval,
		Timeout:  DefaultConnectionTimeout,
	}
}

// DetectionDelay is the longest time between the last frame and the
// timeout callback.
func (c KeepAliveConfig) DetectionDelay() time.Duration {
	if c.Timeout == 0 {
		return 0
	}
	return c.Timeout + c.Interval
}

// KeepAlive sends heartbeats on a ticker and reports idle peers.
type KeepAlive struct {
	config KeepAliveConfig

	// Callbacks
	sendHeartbeat func() error
	lastSeen      func() time.Time
	onTimeout     func()

	// State
	sent     atomic.Uint64
	failures atomic.Uint64
	lastSent atomic.Int64

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// NewKeepAlive creates a keep-alive manager. sendHeartbeat may be nil for
// a passive monitor; lastSeen and onTimeout are only used when
// config.Timeout is set.
func NewKeepAlive(config KeepAliveConfig, sendHeartbeat func() error, lastSeen func() time.Time, onTimeout func()) *KeepAlive {
	if config.Interval == 0 {
		config.Interval = DefaultHeartbeatInterval
	}
	return &KeepAlive{
		config:        config,
		sendHeartbeat: sendHeartbeat,
		lastSeen:      lastSeen,
		onTimeout:     onTimeout,
		stopCh:        make(chan struct{}),
	}
}

// Start begins the keep-alive loop.
func (ka *KeepAlive) Start(ctx context.Context) {
	ka.mu.Lock()
	if ka.running {
		ka.mu.Unlock()
		return
	}
	ka.running = true
	ka.stopCh = make(chan struct{})
	stopCh := ka.stopCh
	ka.mu.Unlock()

	go ka.loop(ctx, stopCh)
}

// Stop stops the keep-alive loop.
func (ka *KeepAlive) Stop() {
	ka.mu.Lock()
	defer ka.mu.Unlock()

	if !ka.running {
		return
	}
	ka.running = false
	close(ka.stopCh)
}

// IsRunning returns true if the loop is active.
func (ka *KeepAlive) IsRunning() bool {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	return ka.running
}

// KeepAliveStats contains keep-alive statistics.
type KeepAliveStats struct {
	HeartbeatsSent uint64
	SendFailures   uint64
	LastSent       time.Time
}

// Stats returns current keep-alive statistics.
func (ka *KeepAlive) Stats() KeepAliveStats {
	s := KeepAliveStats{
		HeartbeatsSent: ka.sent.Load(),
		SendFailures:   ka.failures.Load(),
	}
	if ns := ka.lastSent.Load(); ns != 0 {
		s.LastSent = time.Unix(0, ns)
	}
	return s
}

func (ka *KeepAlive) loop(ctx context.Context, stopCh chan struct{}) {
	ticker := time.NewTicker(ka.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case now := <-ticker.C:
			if ka.idle(now) {
				ka.Stop()
				if ka.onTimeout != nil {
					ka.onTimeout()
				}
				return
			}
			ka.send()
		}
	}
}

func (ka *KeepAlive) idle(now time.Time) bool {
	if ka.config.Timeout == 0 || ka.lastSeen == nil {
		return false
	}
	return now.Sub(ka.lastSeen()) > ka.config.Timeout
}

func (ka *KeepAlive) send() {
	if ka.sendHeartbeat == nil {
		return
	}
	if err := ka.sendHeartbeat(); err != nil {
		// The read loop notices a dead socket; nothing to do here.
		ka.failures.Add(1)
		return
	}
	ka.sent.Add(1)
	ka.lastSent.Store(time.Now().UnixNano())
}
