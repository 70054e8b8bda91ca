package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tcpmsg/tcpmsg-go/pkg/message"
	"github.com/tcpmsg/tcpmsg-go/pkg/msgerr"
	"github.com/tcpmsg/tcpmsg-go/pkg/store"
	"github.com/tcpmsg/tcpmsg-go/pkg/transport"
)

// Send rejections.
var (
	ErrFileTypeNotAllowed = errors.New("file type not allowed")
	ErrFileTooLarge       = errors.New("file too large")
)

// active is the occupied session slot: *serverState or *clientState.
// A nil active means idle.
type active interface {
	endpoint() *endpointState
}

// endpointState is shared by both roles. ctx ends with the session.
type endpointState struct {
	outbound chan *message.Message
	done     chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	once     sync.Once
	ep       transport.Endpoint
}

func newEndpointState(capacity int) *endpointState {
	ctx, cancel := context.WithCancel(context.Background())
	return &endpointState{
		outbound: make(chan *message.Message, capacity),
		done:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (e *endpointState) endpoint() *endpointState { return e }

// release unblocks senders, the writer and pending deliveries.
func (e *endpointState) release() {
	e.once.Do(func() {
		close(e.done)
		e.cancel()
	})
}

type serverState struct {
	*endpointState
	server    *transport.Server
	announced bool
}

type clientState struct {
	*endpointState
	conn    *transport.ClientConn // nil while dialing
	address string
	port    uint16
}

// Manager owns the single active session.
type Manager struct {
	config  Config
	inbound chan *message.Message

	// storeMu orders status updates of stored messages.
	storeMu sync.Mutex

	mu      sync.Mutex
	active  active
	status  Status
	lastErr error
}

// NewManager creates an idle session manager.
func NewManager(config Config) (*Manager, error) {
	config.applyDefaults()
	if err := config.Security.Validate(); err != nil {
		return nil, err
	}
	return &Manager{
		config:  config,
		inbound: make(chan *message.Message, config.InboundCapacity),
	}, nil
}

// ID returns the local sender id.
func (m *Manager) ID() uuid.UUID {
	return m.config.LocalID
}

// Messages returns inbound application messages. The channel is never
// closed.
func (m *Manager) Messages() <-chan *message.Message {
	return m.inbound
}

// Status returns the status of the session slot.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// StartServer binds a server on port, or on the first free port of the
// configured range when port is 0.
func (m *Manager) StartServer(ctx context.Context, port uint16) (ServerInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		return ServerInfo{}, fmt.Errorf("start server: %w", msgerr.ErrAlreadyConnected)
	}

	st := &serverState{endpointState: newEndpointState(m.config.OutboundCapacity)}
	srv, err := m.listen(ctx, st, port)
	if err != nil {
		m.status = StatusError
		m.lastErr = err
		return ServerInfo{}, err
	}
	st.server = srv
	st.ep = srv

	if m.config.Announcer != nil {
		if err := m.config.Announcer.StartAnnouncing(srv.ID(), m.config.Name, srv.Port()); err != nil {
			m.warn("announcement failed", "error", err)
		} else {
			st.announced = true
		}
	}

	m.active = st
	m.status = StatusConnected
	m.lastErr = nil
	go m.writeLoop(st.endpointState)

	m.debugLog("server started", "addr", srv.Addr().String())
	return m.serverInfo(st), nil
}

func (m *Manager) candidatePorts(port uint16) []uint16 {
	if port != 0 {
		return []uint16{port}
	}
	r := m.config.PortRange
	if r[0] == 0 || r[1] < r[0] {
		return []uint16{0}
	}
	ports := make([]uint16, 0, int(r[1])-int(r[0])+1)
	for p := uint32(r[0]); p <= uint32(r[1]); p++ {
		ports = append(ports, uint16(p))
	}
	return ports
}

func (m *Manager) listen(ctx context.Context, st *serverState, port uint16) (*transport.Server, error) {
	var lastErr error
	for _, p := range m.candidatePorts(port) {
		srv, err := transport.NewServer(transport.ServerConfig{
			Address:           net.JoinHostPort(m.config.ListenHost, strconv.Itoa(int(p))),
			ServerID:          m.config.LocalID,
			MaxClients:        m.config.MaxClients,
			MaxMessageSize:    m.config.MaxMessageSize,
			HeartbeatInterval: m.config.HeartbeatInterval,
			ConnectionTimeout: m.config.ConnectionTimeout,
			Security:          m.config.Security,
			ProtocolLogger:    m.config.ProtocolLogger,
			Logger:            m.config.Logger,
			OnMessage: func(_ *transport.Conn, msg *message.Message) {
				m.deliver(st.endpointState, msg)
			},
			OnError: func(c *transport.Conn, err error) {
				if c != nil {
					m.debugLog("peer error", "conn", c.ID(), "error", err)
				}
			},
		})
		if err != nil {
			return nil, err
		}
		// The server outlives the start request.
		if err := srv.Start(context.WithoutCancel(ctx)); err != nil {
			lastErr = err
			continue
		}
		return srv, nil
	}
	return nil, lastErr
}

// ConnectToServer dials address:port and makes the connection the active
// session.
func (m *Manager) ConnectToServer(ctx context.Context, address string, port uint16) (ClientInfo, error) {
	m.mu.Lock()
	if m.active != nil {
		m.mu.Unlock()
		return ClientInfo{}, fmt.Errorf("connect: %w", msgerr.ErrAlreadyConnected)
	}
	st := &clientState{
		endpointState: newEndpointState(m.config.OutboundCapacity),
		address:       address,
		port:          port,
	}
	m.active = st
	m.status = StatusConnecting
	m.mu.Unlock()

	client, err := transport.NewClient(transport.ClientConfig{
		ClientID:          m.config.LocalID,
		ConnectTimeout:    m.config.ConnectTimeout,
		MaxMessageSize:    m.config.MaxMessageSize,
		DisableHeartbeats: m.config.DisableClientHeartbeats,
		// Servers do not answer heartbeats, so the client never times out
		// an idle server.
		KeepAlive:      transport.KeepAliveConfig{Interval: m.config.HeartbeatInterval},
		Security:       m.config.Security,
		ProtocolLogger: m.config.ProtocolLogger,
		Logger:         m.config.Logger,
		OnMessage: func(msg *message.Message) {
			m.deliver(st.endpointState, msg)
		},
		OnDisconnect: func(err error) {
			m.clientLost(st, err)
		},
	})
	var conn *transport.ClientConn
	if err == nil {
		// A Disconnect while dialing aborts the dial.
		dialCtx, cancel := context.WithCancel(ctx)
		stop := context.AfterFunc(st.ctx, cancel)
		conn, err = client.Connect(dialCtx, net.JoinHostPort(address, strconv.Itoa(int(port))))
		stop()
		cancel()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		if m.active == st {
			m.active = nil
			m.status = StatusError
			m.lastErr = err
		}
		st.release()
		return ClientInfo{}, err
	}
	if m.active != st {
		// Disconnected or lost while dialing.
		conn.Close()
		st.release()
		return ClientInfo{}, msgerr.Network("connect", transport.ErrConnectionClosed)
	}

	st.conn = conn
	st.ep = conn
	m.status = StatusConnected
	m.lastErr = nil
	go m.writeLoop(st.endpointState)

	m.debugLog("connected", "addr", conn.RemoteAddr().String())
	return m.clientInfo(st), nil
}

// StopServer stops the active server session.
func (m *Manager) StopServer() error {
	m.mu.Lock()
	st, ok := m.active.(*serverState)
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("stop server: %w", msgerr.ErrNotConnected)
	}
	m.active = nil
	m.status = StatusDisconnected
	m.mu.Unlock()

	return m.stopServer(st)
}

func (m *Manager) stopServer(st *serverState) error {
	st.release()
	if st.announced {
		if err := m.config.Announcer.StopAnnouncing(); err != nil {
			m.warn("stop announcement failed", "error", err)
		}
	}
	err := st.server.Stop()
	m.debugLog("server stopped")
	return err
}

// Disconnect ends the active session of either role. A client tells the
// server before closing.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	a := m.active
	if a == nil {
		m.mu.Unlock()
		return fmt.Errorf("disconnect: %w", msgerr.ErrNotConnected)
	}
	m.active = nil
	m.status = StatusDisconnected
	m.mu.Unlock()

	switch st := a.(type) {
	case *serverState:
		return m.stopServer(st)
	case *clientState:
		st.release()
		if st.conn == nil {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		err := st.conn.Disconnect(ctx, "user disconnect")
		m.debugLog("disconnected")
		return err
	}
	return nil
}

// Close ends any active session.
func (m *Manager) Close() error {
	err := m.Disconnect()
	if errors.Is(err, msgerr.ErrNotConnected) {
		return nil
	}
	return err
}

// Send queues msg for the active endpoint. It blocks while the queue is full
// until space frees up, ctx is done or the session ends. The manager owns msg
// afterwards.
func (m *Manager) Send(ctx context.Context, msg *message.Message) error {
	if err := msg.Validate(); err != nil {
		return msgerr.Protocol("send", err)
	}
	if err := m.checkFile(msg); err != nil {
		return err
	}

	m.mu.Lock()
	a := m.active
	connecting := m.status == StatusConnecting
	m.mu.Unlock()
	if a == nil || connecting {
		return fmt.Errorf("send: %w", msgerr.ErrNotConnected)
	}

	e := a.endpoint()
	select {
	case <-e.done:
		return fmt.Errorf("send: %w", msgerr.ErrNotConnected)
	default:
	}
	select {
	case e.outbound <- msg:
		return nil
	case <-e.done:
		return fmt.Errorf("send: %w", msgerr.ErrNotConnected)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) checkFile(msg *message.Message) error {
	if msg.File == nil {
		return nil
	}
	if m.config.FileFilter != nil && !m.config.FileFilter(msg.File.Name) {
		return msgerr.Config("send", fmt.Errorf("%w: %s", ErrFileTypeNotAllowed, msg.File.Name))
	}
	if m.config.MaxFileSize > 0 && msg.File.Size > m.config.MaxFileSize {
		return msgerr.Config("send", fmt.Errorf("%w: %d > %d", ErrFileTooLarge, msg.File.Size, m.config.MaxFileSize))
	}
	return nil
}

// Stats returns the traffic counters of the active endpoint.
func (m *Manager) Stats() transport.Stats {
	m.mu.Lock()
	var ep transport.Endpoint
	if m.active != nil {
		ep = m.active.endpoint().ep
	}
	m.mu.Unlock()
	if ep == nil {
		return transport.Stats{}
	}
	return ep.Stats()
}

// Info returns a snapshot of the session slot.
func (m *Manager) Info() Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	info := Info{Status: m.status}
	if m.lastErr != nil {
		info.LastError = m.lastErr.Error()
	}
	switch st := m.active.(type) {
	case *serverState:
		info.Role = RoleServer
		si := m.serverInfo(st)
		info.Server = &si
	case *clientState:
		info.Role = RoleClient
		ci := m.clientInfo(st)
		info.Client = &ci
	}
	return info
}

func (m *Manager) serverInfo(st *serverState) ServerInfo {
	host, _, _ := net.SplitHostPort(st.server.Addr().String())
	return ServerInfo{
		ID:          st.server.ID(),
		Name:        m.config.Name,
		Address:     host,
		Port:        st.server.Port(),
		Status:      m.status,
		StartedAt:   st.server.StartedAt(),
		ClientCount: st.server.ConnectionCount(),
		MaxClients:  st.server.MaxClients(),
		Peers:       st.server.Records(),
	}
}

func (m *Manager) clientInfo(st *clientState) ClientInfo {
	ci := ClientInfo{
		ID:            m.config.LocalID,
		ServerAddress: st.address,
		ServerPort:    st.port,
		Status:        m.status,
	}
	if st.conn != nil {
		ci.ConnectedAt = st.conn.ConnectedAt()
		ci.LastHeartbeat = st.conn.LastHeartbeat()
		ci.Secured = st.conn.Conn().Secured()
	}
	return ci
}

// writeLoop drains the outbound queue until the session ends. Messages still
// queued at that point are recorded as Failed.
func (m *Manager) writeLoop(e *endpointState) {
	for {
		select {
		case <-e.done:
			m.abandon(e)
			return
		case msg := <-e.outbound:
			m.transmit(e, msg)
		}
	}
}

func (m *Manager) abandon(e *endpointState) {
	for {
		select {
		case msg := <-e.outbound:
			msg.Status = message.StatusFailed
			m.record(msg)
			m.warn("send abandoned", "id", msg.ID)
		default:
			return
		}
	}
}

func (m *Manager) transmit(e *endpointState, msg *message.Message) {
	m.record(msg)

	ctx, cancel := e.ctx, context.CancelFunc(func() {})
	if m.config.MessageTimeout > 0 {
		ctx, cancel = context.WithTimeout(e.ctx, m.config.MessageTimeout)
	}
	err := e.ep.Send(ctx, msg)
	cancel()

	if err != nil {
		m.warn("send failed", "id", msg.ID, "error", err)
		m.advance(msg.ID, message.StatusFailed)
		return
	}
	m.advance(msg.ID, message.StatusSent)
}

// deliver records and forwards an inbound message. It blocks until the
// consumer takes it or the session ends.
func (m *Manager) deliver(e *endpointState, msg *message.Message) {
	switch msg.Kind {
	case message.KindAcknowledgment:
		m.advance(msg.Acknowledgment.MessageID, message.StatusAcknowledged)
	case message.KindText, message.KindFile, message.KindSystem:
		msg.Status = message.StatusDelivered
		m.record(msg)
	}

	select {
	case m.inbound <- msg:
	case <-e.done:
	}
}

func (m *Manager) record(msg *message.Message) {
	if m.config.Store == nil || msg.IsControl() || msg.Kind == message.KindAcknowledgment {
		return
	}
	if err := m.config.Store.Store(msg); err != nil {
		m.warn("store failed", "id", msg.ID, "error", err)
	}
}

// advance moves a stored message to status. Acknowledged is final.
func (m *Manager) advance(id uuid.UUID, status message.Status) {
	if m.config.Store == nil {
		return
	}
	m.storeMu.Lock()
	defer m.storeMu.Unlock()

	cur, err := m.config.Store.Get(id)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			m.warn("store lookup failed", "id", id, "error", err)
		}
		return
	}
	if cur.Status == message.StatusAcknowledged {
		return
	}
	if err := m.config.Store.UpdateStatus(id, status); err != nil {
		m.warn("status update failed", "id", id, "error", err)
	}
}

// clientLost releases the slot when the connection ends on its own.
func (m *Manager) clientLost(st *clientState, err error) {
	m.mu.Lock()
	if m.active != st {
		m.mu.Unlock()
		return
	}
	m.active = nil
	if err != nil {
		m.status = StatusError
		m.lastErr = err
	} else {
		m.status = StatusDisconnected
	}
	m.mu.Unlock()

	st.release()
	m.debugLog("connection lost", "error", err)
	if m.config.OnConnectionLost != nil {
		m.config.OnConnectionLost(err)
	}
}

// SetStatus lets a reconnection policy publish its progress.
func (m *Manager) SetStatus(s Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		m.status = s
	}
}

func (m *Manager) debugLog(msg string, args ...any) {
	if m.config.Logger != nil {
		m.config.Logger.Debug(msg, args...)
	}
}

func (m *Manager) warn(msg string, args ...any) {
	if m.config.Logger != nil {
		m.config.Logger.Warn(msg, args...)
	}
}
