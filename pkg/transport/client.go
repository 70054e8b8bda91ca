package transport

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tcpmsg/tcpmsg-go/pkg/log"
	"github.com/tcpmsg/tcpmsg-go/pkg/message"
	"github.com/tcpmsg/tcpmsg-go/pkg/msgerr"
	"github.com/tcpmsg/tcpmsg-go/pkg/secure"
)

// DefaultConnectTimeout is the default dial timeout.
const DefaultConnectTimeout = 10 * time.Second

// ClientConfig configures a messenger client.
type ClientConfig struct {
	// ClientID is the sender id of messages generated by the client.
	ClientID uuid.UUID

	// ConnectTimeout is the dial timeout (default: 10s).
	ConnectTimeout time.Duration

	// MaxMessageSize is the maximum payload size (default: 1 MiB).
	MaxMessageSize uint32

	// KeepAlive configures heartbeats. A zero Timeout never drops the server.
	KeepAlive KeepAliveConfig

	// DisableHeartbeats turns the keep-alive into a passive idle monitor.
	DisableHeartbeats bool

	// SecureWait bounds how long sends wait for a key exchange.
	SecureWait time.Duration

	Security SecurityConfig

	// ProtocolLogger captures protocol events (optional).
	ProtocolLogger log.Logger

	// Logger is the optional logger for debug output.
	// If nil, logging is disabled.
	Logger *slog.Logger

	// OnMessage is called for every application message in arrival order.
	OnMessage func(msg *message.Message)

	// OnDisconnect is called once when the connection ends. err is nil for
	// a local close, a clean end of stream or a peer Disconnect.
	OnDisconnect func(err error)
}

// Client dials messenger servers.
type Client struct {
	config ClientConfig
	keys   *secure.Manager
}

// NewClient creates a new client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.ClientID == uuid.Nil {
		config.ClientID = uuid.New()
	}
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = DefaultConnectTimeout
	}
	if config.KeepAlive.Interval == 0 {
		config.KeepAlive.Interval = DefaultHeartbeatInterval
	}
	if err := config.Security.Validate(); err != nil {
		return nil, err
	}

	return &Client{
		config: config,
		keys:   secure.NewManager(config.Security.Curve),
	}, nil
}

// ID returns the client id.
func (c *Client) ID() uuid.UUID {
	return c.config.ClientID
}

// Connect opens one connection to address. Dial failures are returned as
// Network errors, timeouts as ErrConnectionTimeout; there is no retry.
// When encryption is enabled the key exchange is started before Connect
// returns.
func (c *Client) Connect(ctx context.Context, address string) (*ClientConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.config.ConnectTimeout)
	defer cancel()

	dialer := &net.Dialer{}
	nc, err := dialer.DialContext(dialCtx, "tcp", address)
	if err != nil {
		return nil, msgerr.Network("dial "+address, err)
	}

	cc := &ClientConn{
		client: c,
		stats:  newStatsTracker(),
		done:   make(chan struct{}),
	}
	cc.conn = newConn(nc, connOptions{
		role:           log.RoleClient,
		localID:        c.config.ClientID,
		maxMessageSize: c.config.MaxMessageSize,
		security:       c.config.Security,
		secureWait:     c.config.SecureWait,
		keys:           c.keys,
		stats:          cc.stats,
		protoLog:       c.config.ProtocolLogger,
		logger:         c.config.Logger,
		onMessage: func(_ *Conn, m *message.Message) {
			if c.config.OnMessage != nil {
				c.config.OnMessage(m)
			}
		},
	})
	cc.conn.logState(log.StateEntityConnection, "", StateConnected.String(), "")
	c.debugLog("connected", "addr", address, "conn", cc.conn.ID())

	var heartbeat func() error
	if !c.config.DisableHeartbeats {
		heartbeat = func() error {
			return cc.conn.Send(context.Background(), message.NewHeartbeat(c.config.ClientID))
		}
	}
	cc.keepAlive = NewKeepAlive(c.config.KeepAlive,
		heartbeat,
		cc.conn.LastSeen,
		func() {
			c.debugLog("server idle, closing", "conn", cc.conn.ID())
			cc.conn.Close()
		},
	)

	go cc.readLoop()
	cc.keepAlive.Start(context.Background())

	if c.config.Security.Enabled {
		if err := cc.conn.initiateKeyExchange(); err != nil {
			cc.Close()
			return nil, err
		}
	}

	return cc, nil
}

func (c *Client) debugLog(msg string, args ...any) {
	if c.config.Logger != nil {
		c.config.Logger.Debug(msg, args...)
	}
}

// ClientConn is an open connection from client to server.
type ClientConn struct {
	client    *Client
	conn      *Conn
	keepAlive *KeepAlive
	stats     *statsTracker

	done    chan struct{}
	errMu   sync.Mutex
	lastErr error
}

// Conn returns the underlying connection.
func (cc *ClientConn) Conn() *Conn {
	return cc.conn
}

// LocalAddr returns the local network address.
func (cc *ClientConn) LocalAddr() net.Addr {
	return cc.conn.LocalAddr()
}

// RemoteAddr returns the server address.
func (cc *ClientConn) RemoteAddr() net.Addr {
	return cc.conn.RemoteAddr()
}

// ConnectedAt returns when the socket was opened.
func (cc *ClientConn) ConnectedAt() time.Time {
	return cc.conn.ConnectedAt()
}

// LastHeartbeat returns when the last frame from the server arrived.
func (cc *ClientConn) LastHeartbeat() time.Time {
	return cc.conn.LastSeen()
}

// Send writes m to the server.
func (cc *ClientConn) Send(ctx context.Context, m *message.Message) error {
	return cc.conn.Send(ctx, m)
}

// WaitSecured blocks until the key exchange completed.
func (cc *ClientConn) WaitSecured(ctx context.Context) error {
	return cc.conn.WaitSecured(ctx)
}

// Stats returns traffic counters of this connection.
func (cc *ClientConn) Stats() Stats {
	return cc.stats.snapshot()
}

// KeepAliveStats returns heartbeat counters.
func (cc *ClientConn) KeepAliveStats() KeepAliveStats {
	return cc.keepAlive.Stats()
}

// Done is closed when the read loop ended.
func (cc *ClientConn) Done() <-chan struct{} {
	return cc.done
}

// Err returns the error that ended the connection, if any.
func (cc *ClientConn) Err() error {
	cc.errMu.Lock()
	defer cc.errMu.Unlock()
	return cc.lastErr
}

// Disconnect tells the server why and closes the connection.
func (cc *ClientConn) Disconnect(ctx context.Context, reason string) error {
	cc.keepAlive.Stop()
	err := cc.conn.Disconnect(ctx, reason)
	if errors.Is(err, ErrConnectionClosed) {
		return nil
	}
	return err
}

// Close closes the connection without notice.
func (cc *ClientConn) Close() error {
	cc.keepAlive.Stop()
	return cc.conn.Close()
}

func (cc *ClientConn) readLoop() {
	err := cc.conn.readLoop()
	cc.keepAlive.Stop()
	cc.conn.Close()

	if err != nil {
		cc.conn.logError(err)
		cc.client.debugLog("read loop ended", "conn", cc.conn.ID(), "error", err)
	}
	cc.errMu.Lock()
	cc.lastErr = err
	cc.errMu.Unlock()
	close(cc.done)

	if cc.client.config.OnDisconnect != nil {
		cc.client.config.OnDisconnect(err)
	}
}
