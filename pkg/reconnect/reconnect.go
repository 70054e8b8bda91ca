package reconnect

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/tcpmsg/tcpmsg-go/pkg/config"
)

// Reconnect errors.
var (
	ErrClosed           = errors.New("reconnect manager closed")
	ErrAlreadyConnected = errors.New("already connected")
	ErrGaveUp           = errors.New("reconnect attempts exhausted")
)

// DefaultAttemptTimeout bounds one dial of the reconnect loop.
const DefaultAttemptTimeout = 30 * time.Second

// State is the connection state seen by the policy.
type State uint8

const (
	// StateDisconnected indicates no active connection.
	StateDisconnected State = iota

	// StateConnecting indicates a caller-initiated dial is in progress.
	StateConnecting

	// StateConnected indicates an active connection.
	StateConnected

	// StateReconnecting indicates the background loop is redialing.
	StateReconnecting

	// StateFailed indicates the loop gave up.
	StateFailed

	// StateClosed indicates the manager has been closed.
	StateClosed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateFailed:
		return "FAILED"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// ConnectFunc establishes a connection. It returns nil on success.
type ConnectFunc func(ctx context.Context) error

// Policy configures reconnection.
type Policy struct {
	// AutoReconnect enables the background loop.
	AutoReconnect bool

	// MaxAttempts is the number of failed dials before giving up.
	// Zero retries forever.
	MaxAttempts int

	// AttemptTimeout bounds one dial (default: 30s).
	AttemptTimeout time.Duration

	Backoff BackoffConfig

	// Logger is the optional logger for debug output.
	// If nil, logging is disabled.
	Logger *slog.Logger
}

// PolicyFromConfig maps the client section of the configuration file.
func PolicyFromConfig(c config.ClientConfig) Policy {
	return Policy{
		AutoReconnect:  c.AutoReconnect,
		MaxAttempts:    c.RetryAttempts,
		AttemptTimeout: c.ConnectionTimeout,
		Backoff: BackoffConfig{
			Initial: c.RetryDelay,
			Max:     c.ReconnectDelay,
			Jitter:  JitterFactor,
		},
	}
}

// Manager tracks one connection and redials it after a loss.
type Manager struct {
	mu sync.RWMutex

	state         State
	backoff       *Backoff
	connectFn     ConnectFunc
	autoReconnect bool
	maxAttempts   int
	timeout       time.Duration
	logger        *slog.Logger
	lastErr       error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	reconnectCh chan struct{}

	onStateChange  func(oldState, newState State)
	onConnected    func()
	onDisconnected func()
	onReconnecting func(attempt int, delay time.Duration)
	onGiveUp       func(err error)
}

// NewManager creates a manager. StartReconnectLoop must be called before
// losses are acted on.
func NewManager(connectFn ConnectFunc, policy Policy) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	if policy.AttemptTimeout <= 0 {
		policy.AttemptTimeout = DefaultAttemptTimeout
	}

	return &Manager{
		state:         StateDisconnected,
		backoff:       NewBackoffWithConfig(policy.Backoff),
		connectFn:     connectFn,
		autoReconnect: policy.AutoReconnect,
		maxAttempts:   policy.MaxAttempts,
		timeout:       policy.AttemptTimeout,
		logger:        policy.Logger,
		ctx:           ctx,
		cancel:        cancel,
		reconnectCh:   make(chan struct{}, 1),
	}
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsConnected reports whether the connection is up.
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// Err returns the last dial error.
func (m *Manager) Err() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

// SetAutoReconnect enables or disables the background loop.
func (m *Manager) SetAutoReconnect(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.autoReconnect = enabled
}

// Connect dials once.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateConnected:
		m.mu.Unlock()
		return ErrAlreadyConnected
	case StateClosed:
		m.mu.Unlock()
		return ErrClosed
	}
	old := m.state
	m.state = StateConnecting
	m.mu.Unlock()
	m.notifyState(old, StateConnecting)

	err := m.connectFn(ctx)

	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return ErrClosed
	}
	if err != nil {
		m.state = StateDisconnected
		m.lastErr = err
		m.mu.Unlock()
		m.notifyState(StateConnecting, StateDisconnected)
		return err
	}
	m.state = StateConnected
	m.lastErr = nil
	m.backoff.Reset()
	m.mu.Unlock()

	m.notifyState(StateConnecting, StateConnected)
	m.fire(m.connectedHook())
	return nil
}

// Disconnect records a local disconnect. It never triggers a reconnect.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.state != StateConnected && m.state != StateReconnecting {
		m.mu.Unlock()
		return
	}
	old := m.state
	m.state = StateDisconnected
	m.mu.Unlock()

	m.notifyState(old, StateDisconnected)
	m.fire(m.disconnectedHook())
}

// NotifyConnectionLost starts the reconnect loop if auto-reconnect is on.
func (m *Manager) NotifyConnectionLost() {
	m.mu.Lock()
	if m.state != StateConnected {
		m.mu.Unlock()
		return
	}
	old := m.state
	auto := m.autoReconnect
	if auto {
		m.state = StateReconnecting
	} else {
		m.state = StateDisconnected
	}
	next := m.state
	m.mu.Unlock()

	m.notifyState(old, next)
	m.fire(m.disconnectedHook())

	if auto {
		m.triggerReconnect()
	}
}

// StartReconnectLoop starts the background loop. Call it once.
func (m *Manager) StartReconnectLoop() {
	m.wg.Add(1)
	go m.reconnectLoop()
}

// Close stops the loop and waits for it.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return
	}
	old := m.state
	m.state = StateClosed
	m.mu.Unlock()

	m.notifyState(old, StateClosed)
	m.cancel()
	m.wg.Wait()
}

func (m *Manager) triggerReconnect() {
	select {
	case m.reconnectCh <- struct{}{}:
	default:
	}
}

func (m *Manager) reconnectLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-m.reconnectCh:
			m.attemptReconnect()
		}
	}
}

// attemptReconnect redials with backoff until success, give-up or close.
func (m *Manager) attemptReconnect() {
	for {
		if m.State() != StateReconnecting {
			return
		}

		delay := m.backoff.Next()
		attempt := m.backoff.Attempts()

		m.mu.RLock()
		onReconnecting := m.onReconnecting
		m.mu.RUnlock()
		if onReconnecting != nil {
			onReconnecting(attempt, delay)
		}
		m.debugLog("reconnecting", "attempt", attempt, "delay", delay)

		select {
		case <-m.ctx.Done():
			return
		case <-time.After(delay):
		}

		if m.State() != StateReconnecting {
			return
		}

		ctx, cancel := context.WithTimeout(m.ctx, m.timeout)
		err := m.connectFn(ctx)
		cancel()

		m.mu.Lock()
		if m.state != StateReconnecting {
			m.mu.Unlock()
			return
		}
		if err == nil {
			m.state = StateConnected
			m.lastErr = nil
			m.backoff.Reset()
			m.mu.Unlock()

			m.notifyState(StateReconnecting, StateConnected)
			m.fire(m.connectedHook())
			return
		}

		m.lastErr = err
		m.debugLog("reconnect failed", "attempt", attempt, "error", err)
		if m.maxAttempts > 0 && attempt >= m.maxAttempts {
			m.state = StateFailed
			onGiveUp := m.onGiveUp
			m.mu.Unlock()

			m.backoff.Reset()
			m.notifyState(StateReconnecting, StateFailed)
			if onGiveUp != nil {
				onGiveUp(errors.Join(ErrGaveUp, err))
			}
			return
		}
		m.mu.Unlock()
	}
}

// OnStateChange sets a callback for state changes.
func (m *Manager) OnStateChange(fn func(oldState, newState State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStateChange = fn
}

// OnConnected sets a callback for successful dials.
func (m *Manager) OnConnected(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onConnected = fn
}

// OnDisconnected sets a callback for disconnects and losses.
func (m *Manager) OnDisconnected(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDisconnected = fn
}

// OnReconnecting sets a callback for each scheduled redial.
func (m *Manager) OnReconnecting(fn func(attempt int, delay time.Duration)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReconnecting = fn
}

// OnGiveUp sets a callback for when the attempt limit is reached.
func (m *Manager) OnGiveUp(fn func(err error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onGiveUp = fn
}

// BackoffAttempts returns the current number of reconnect attempts.
func (m *Manager) BackoffAttempts() int {
	return m.backoff.Attempts()
}

func (m *Manager) notifyState(old, next State) {
	m.mu.RLock()
	fn := m.onStateChange
	m.mu.RUnlock()
	if fn != nil {
		fn(old, next)
	}
}

func (m *Manager) connectedHook() func() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.onConnected
}

func (m *Manager) disconnectedHook() func() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.onDisconnected
}

func (m *Manager) fire(fn func()) {
	if fn != nil {
		fn()
	}
}

func (m *Manager) debugLog(msg string, args ...any) {
	if m.logger != nil {
		m.logger.Debug(msg, args...)
	}
}
