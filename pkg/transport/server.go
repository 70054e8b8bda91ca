package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tcpmsg/tcpmsg-go/pkg/log"
	"github.com/tcpmsg/tcpmsg-go/pkg/message"
	"github.com/tcpmsg/tcpmsg-go/pkg/msgerr"
	"github.com/tcpmsg/tcpmsg-go/pkg/secure"
)

// DefaultPort is the first port of the default server port range.
const DefaultPort = 8000

// ServerConfig configures a messenger server.
type ServerConfig struct {
	// Address to listen on (e.g., ":8000" or "127.0.0.1:8000").
	Address string

	// ServerID is the sender id of messages generated by the server.
	ServerID uuid.UUID

	// MaxClients caps registered peers. Zero means unlimited.
	MaxClients int

	// MaxMessageSize is the maximum payload size (default: 1 MiB).
	MaxMessageSize uint32

	// HeartbeatInterval is the idle check period (default: 30s).
	HeartbeatInterval time.Duration

	// ConnectionTimeout drops peers silent for longer (default: 60s).
	ConnectionTimeout time.Duration

	// SecureWait bounds how long sends wait for a key exchange.
	SecureWait time.Duration

	Security SecurityConfig

	// ProtocolLogger captures protocol events (optional).
	ProtocolLogger log.Logger

	// Logger is the optional logger for debug output.
	// If nil, logging is disabled.
	Logger *slog.Logger

	// OnConnect is called when a peer is registered.
	OnConnect func(conn *Conn)

	// OnDisconnect is called after a peer was removed.
	OnDisconnect func(conn *Conn)

	// OnMessage is called for every application message, in arrival order
	// per peer.
	OnMessage func(conn *Conn, msg *message.Message)

	// OnError is called for accept failures (conn is nil) and for errors
	// that ended a peer's read loop.
	OnError func(conn *Conn, err error)
}

// ConnectionRecord describes a registered peer.
type ConnectionRecord struct {
	ID            uuid.UUID `json:"id"`
	RemoteAddr    string    `json:"remote_addr"`
	ConnectedAt   time.Time `json:"connected_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	Secured       bool      `json:"secured"`
}

// Server accepts messenger clients.
type Server struct {
	config   ServerConfig
	listener net.Listener
	keys     *secure.Manager
	stats    *statsTracker

	// Registered peers
	peers   map[uuid.UUID]*Conn
	peersMu sync.RWMutex

	// State
	running   atomic.Bool
	startedAt time.Time
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewServer creates a new server.
func NewServer(config ServerConfig) (*Server, error) {
	if config.Address == "" {
		config.Address = fmt.Sprintf(":%d", DefaultPort)
	}
	if config.ServerID == uuid.Nil {
		config.ServerID = uuid.New()
	}
	if config.HeartbeatInterval == 0 {
		config.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if config.ConnectionTimeout == 0 {
		config.ConnectionTimeout = DefaultConnectionTimeout
	}
	if config.MaxClients < 0 {
		return nil, msgerr.Config("server", fmt.Errorf("max clients %d < 0", config.MaxClients))
	}
	if err := config.Security.Validate(); err != nil {
		return nil, err
	}

	return &Server{
		config: config,
		keys:   secure.NewManager(config.Security.Curve),
		peers:  make(map[uuid.UUID]*Conn),
	}, nil
}

// Start binds the listener and begins accepting connections.
func (s *Server) Start(ctx context.Context) error {
	if s.running.Load() {
		return ErrServerRunning
	}

	s.ctx, s.cancel = context.WithCancel(ctx)

	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		s.cancel()
		return msgerr.Network("listen", err)
	}
	s.listener = listener
	s.stats = newStatsTracker()
	s.startedAt = time.Now()

	s.running.Store(true)
	s.debugLog("server listening", "addr", listener.Addr().String())

	s.wg.Add(2)
	go s.acceptLoop()
	go s.reapLoop()

	return nil
}

// Stop closes the listener and every peer.
func (s *Server) Stop() error {
	if !s.running.Load() {
		return nil
	}

	s.running.Store(false)
	s.cancel()

	// Close listener to stop accept loop
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}

	s.peersMu.RLock()
	conns := make([]*Conn, 0, len(s.peers))
	for _, c := range s.peers {
		conns = append(conns, c)
	}
	s.peersMu.RUnlock()
	for _, c := range conns {
		c.Close()
	}

	s.wg.Wait()
	s.debugLog("server stopped")
	return err
}

// Running reports whether the accept loop is active.
func (s *Server) Running() bool {
	return s.running.Load()
}

// ID returns the server id.
func (s *Server) ID() uuid.UUID {
	return s.config.ServerID
}

// Addr returns the server's listen address.
func (s *Server) Addr() net.Addr {
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

// Port returns the bound TCP port, or 0 before Start.
func (s *Server) Port() uint16 {
	if a, ok := s.Addr().(*net.TCPAddr); ok {
		return uint16(a.Port)
	}
	return 0
}

// StartedAt returns when Start succeeded.
func (s *Server) StartedAt() time.Time {
	return s.startedAt
}

// MaxClients returns the configured peer limit.
func (s *Server) MaxClients() int {
	return s.config.MaxClients
}

// ConnectionCount returns the number of registered peers.
func (s *Server) ConnectionCount() int {
	s.peersMu.RLock()
	defer s.peersMu.RUnlock()
	return len(s.peers)
}

// Records returns a snapshot of the peer table.
func (s *Server) Records() []ConnectionRecord {
	s.peersMu.RLock()
	defer s.peersMu.RUnlock()

	out := make([]ConnectionRecord, 0, len(s.peers))
	for _, c := range s.peers {
		out = append(out, ConnectionRecord{
			ID:            c.ID(),
			RemoteAddr:    c.RemoteAddr().String(),
			ConnectedAt:   c.ConnectedAt(),
			LastHeartbeat: c.LastSeen(),
			Secured:       c.Secured(),
		})
	}
	return out
}

// Stats returns aggregate counters across all peers.
func (s *Server) Stats() Stats {
	if s.stats == nil {
		return Stats{}
	}
	return s.stats.snapshot()
}

// Send writes m to every registered peer.
func (s *Server) Send(ctx context.Context, m *message.Message) error {
	s.peersMu.RLock()
	conns := make([]*Conn, 0, len(s.peers))
	for _, c := range s.peers {
		conns = append(conns, c)
	}
	s.peersMu.RUnlock()

	if len(conns) == 0 {
		return msgerr.Network("send", ErrNoPeers)
	}

	var errs []error
	for _, c := range conns {
		if err := c.Send(ctx, m); err != nil {
			errs = append(errs, fmt.Errorf("peer %s: %w", c.ID(), err))
		}
	}
	return errors.Join(errs...)
}

// acceptLoop accepts incoming connections.
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for s.running.Load() {
		nc, err := s.listener.Accept()
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			s.reportError(nil, msgerr.Network("accept", err))
			continue
		}

		c := newConn(nc, connOptions{
			role:           log.RoleServer,
			localID:        s.config.ServerID,
			maxMessageSize: s.config.MaxMessageSize,
			security:       s.config.Security,
			secureWait:     s.config.SecureWait,
			keys:           s.keys,
			stats:          s.stats,
			protoLog:       s.config.ProtocolLogger,
			logger:         s.config.Logger,
			onMessage:      s.config.OnMessage,
		})

		if !s.register(c) {
			s.debugLog("rejecting connection", "remote", nc.RemoteAddr().String(), "max_clients", s.config.MaxClients)
			c.Close()
			s.reportError(c, msgerr.Network("accept", ErrServerFull))
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(c)
	}
}

// register adds c unless the peer limit is reached.
func (s *Server) register(c *Conn) bool {
	s.peersMu.Lock()
	defer s.peersMu.Unlock()
	if s.config.MaxClients > 0 && len(s.peers) >= s.config.MaxClients {
		return false
	}
	s.peers[c.ID()] = c
	return true
}

func (s *Server) unregister(c *Conn) {
	s.peersMu.Lock()
	delete(s.peers, c.ID())
	s.peersMu.Unlock()
}

// handleConnection runs one peer's read loop until it fails.
func (s *Server) handleConnection(c *Conn) {
	defer s.wg.Done()

	stop := context.AfterFunc(s.ctx, func() { c.Close() })
	defer stop()

	c.logState(log.StateEntityConnection, "", StateConnected.String(), "")
	s.debugLog("peer connected", "conn", c.ID(), "remote", c.RemoteAddr().String())

	if s.config.OnConnect != nil {
		s.config.OnConnect(c)
	}

	err := c.readLoop()

	s.unregister(c)
	c.Close()

	if err != nil && s.running.Load() {
		s.reportError(c, err)
	}

	s.debugLog("peer disconnected", "conn", c.ID())
	if s.config.OnDisconnect != nil {
		s.config.OnDisconnect(c)
	}
}

func (s *Server) reapInterval() time.Duration {
	iv := s.config.HeartbeatInterval
	if half := s.config.ConnectionTimeout / 2; half > 0 && half < iv {
		iv = half
	}
	return iv
}

// reapLoop drops idle peers.
func (s *Server) reapLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.reapInterval())
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case now := <-ticker.C:
			s.reapIdle(now)
		}
	}
}

// reapIdle closes peers whose last frame is older than the connection
// timeout and returns how many were closed. Their read loops unregister them.
func (s *Server) reapIdle(now time.Time) int {
	s.peersMu.RLock()
	var idle []*Conn
	for _, c := range s.peers {
		if now.Sub(c.LastSeen()) > s.config.ConnectionTimeout {
			idle = append(idle, c)
		}
	}
	s.peersMu.RUnlock()

	for _, c := range idle {
		s.debugLog("dropping idle peer", "conn", c.ID(), "last_seen", c.LastSeen())
		c.logState(log.StateEntityConnection, c.State().String(), StateClosing.String(), "idle timeout")
		c.Close()
	}
	return len(idle)
}

func (s *Server) reportError(c *Conn, err error) {
	if c != nil {
		c.logError(err)
	}
	if s.config.OnError != nil {
		s.config.OnError(c, err)
	}
}

func (s *Server) debugLog(msg string, args ...any) {
	if s.config.Logger != nil {
		s.config.Logger.Debug(msg, args...)
	}
}
