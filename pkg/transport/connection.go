package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
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
	"github.com/tcpmsg/tcpmsg-go/pkg/wire"
)

// Connection states.
type ConnectionState int32

const (
	// StateDisconnected indicates no connection.
	StateDisconnected ConnectionState = iota

	// StateConnected indicates an open socket without an installed secret.
	StateConnected

	// StateSecured indicates a completed key exchange.
	StateSecured

	// StateClosing indicates close in progress.
	StateClosing
)

// String returns the connection state name.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnected:
		return "CONNECTED"
	case StateSecured:
		return "SECURED"
	case StateClosing:
		return "CLOSING"
	default:
		return "UNKNOWN"
	}
}

// Connection errors.
var (
	// ErrConnectionClosed is returned when sending on a closed connection.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrNotSecured is returned when a send times out waiting for the key
	// exchange, or when a plaintext application frame arrives on an
	// encrypted connection.
	ErrNotSecured = errors.New("key exchange not completed")
	// ErrServerFull is returned for a peer beyond MaxClients.
	ErrServerFull = errors.New("server full")
	// ErrServerRunning is returned when starting a started server.
	ErrServerRunning = errors.New("server already running")
	// ErrNoPeers is returned when a server send has no registered peer.
	ErrNoPeers = errors.New("no connected peers")

	// errPeerDisconnected ends a read loop after a Disconnect message.
	errPeerDisconnected = errors.New("peer disconnected")
)

// DefaultSecureWait bounds how long a send waits for the key exchange.
const DefaultSecureWait = 10 * time.Second

// SecurityConfig configures message encryption.
type SecurityConfig struct {
	// Enabled encrypts every application message.
	Enabled bool

	Cipher secure.Cipher
	Curve  secure.Curve

	// RotationThreshold is the message count after which a fresh key
	// exchange starts. Zero disables rotation.
	RotationThreshold uint64
}

// DefaultSecurityConfig returns encryption on with AES-256-GCM over P-256.
func DefaultSecurityConfig() SecurityConfig {
	return SecurityConfig{
		Enabled:           true,
		Cipher:            secure.DefaultCipher,
		Curve:             secure.DefaultCurve,
		RotationThreshold: secure.DefaultRotationThreshold,
	}
}

// Validate checks cipher and curve.
func (c SecurityConfig) Validate() error {
	if _, err := secure.ParseCipher(c.Cipher.String()); err != nil {
		return msgerr.Config("security", err)
	}
	if _, err := secure.ParseCurve(c.Curve.String()); err != nil {
		return msgerr.Config("security", err)
	}
	return nil
}

// connOptions are shared by both endpoint roles.
type connOptions struct {
	role           log.Role
	localID        uuid.UUID
	maxMessageSize uint32
	security       SecurityConfig
	secureWait     time.Duration
	keys           *secure.Manager
	stats          *statsTracker
	protoLog       log.Logger
	logger         *slog.Logger

	onMessage func(*Conn, *message.Message)
}

// Conn is one framed, optionally encrypted socket. Frames are processed in
// arrival order by a single read loop.
type Conn struct {
	id         uuid.UUID
	opts       connOptions
	conn       net.Conn
	framer     *wire.Framer
	channel    *secure.Channel
	remoteAddr net.Addr

	connectedAt time.Time
	lastSeen    atomic.Int64
	state       atomic.Int32

	// sendMu keeps seal order equal to write order.
	sendMu sync.Mutex
	// kxMu serializes key exchange initiation and completion.
	kxMu sync.Mutex

	closeOnce sync.Once
	closeCh   chan struct{}
}

func newConn(nc net.Conn, opts connOptions) *Conn {
	if opts.secureWait == 0 {
		opts.secureWait = DefaultSecureWait
	}
	if opts.stats == nil {
		opts.stats = newStatsTracker()
	}
	if opts.keys == nil {
		opts.keys = secure.NewManager(opts.security.Curve)
	}

	c := &Conn{
		id:          uuid.New(),
		opts:        opts,
		conn:        nc,
		framer:      wire.NewFramer(nc, opts.maxMessageSize),
		channel:     secure.NewChannel(opts.security.Cipher, opts.security.RotationThreshold),
		remoteAddr:  nc.RemoteAddr(),
		connectedAt: time.Now(),
		closeCh:     make(chan struct{}),
	}
	c.touch()
	c.state.Store(int32(StateConnected))
	if opts.protoLog != nil {
		c.framer.SetLogger(opts.protoLog, c.id.String())
	}
	return c
}

// ID returns the connection identifier.
func (c *Conn) ID() uuid.UUID {
	return c.id
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.remoteAddr
}

// LocalAddr returns the local socket address.
func (c *Conn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// State returns the current state.
func (c *Conn) State() ConnectionState {
	return ConnectionState(c.state.Load())
}

// ConnectedAt returns when the socket was opened.
func (c *Conn) ConnectedAt() time.Time {
	return c.connectedAt
}

// LastSeen returns when the last frame was received.
func (c *Conn) LastSeen() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

// Secured reports whether a shared secret is installed.
func (c *Conn) Secured() bool {
	return c.channel.Established()
}

// WaitSecured blocks until the first key exchange completed, ctx ends, or
// the connection closes.
func (c *Conn) WaitSecured(ctx context.Context) error {
	select {
	case <-c.channel.Ready():
		return nil
	case <-c.closeCh:
		return ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Conn) touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}

func (c *Conn) closed() bool {
	select {
	case <-c.closeCh:
		return true
	default:
		return false
	}
}

// Send writes m to the peer. When encryption is enabled, application
// messages wait for the key exchange, bounded by the secure wait.
func (c *Conn) Send(ctx context.Context, m *message.Message) error {
	if c.closed() {
		return ErrConnectionClosed
	}

	encrypt := c.opts.security.Enabled && !m.IsControl()
	if encrypt && m.Kind == message.KindDisconnect && !c.channel.Established() {
		// A pending exchange of our own usually completes quickly, and the
		// peer may already hold the secret and refuse a plaintext Disconnect.
		encrypt = c.opts.keys.HasKeyPair(c.id) && c.waitSecured(ctx) == nil
	}
	if encrypt {
		if err := c.waitSecured(ctx); err != nil {
			return err
		}
	}
	if err := c.write(m, encrypt); err != nil {
		return err
	}
	if encrypt {
		c.maybeRotate()
	}
	return nil
}

func (c *Conn) waitSecured(ctx context.Context) error {
	select {
	case <-c.channel.Ready():
		return nil
	default:
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.secureWait)
	defer cancel()
	if err := c.WaitSecured(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return msgerr.Encryption("send", ErrNotSecured)
		}
		return err
	}
	return nil
}

// write encodes, optionally seals and writes m as one frame.
func (c *Conn) write(m *message.Message, encrypt bool) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.closed() {
		return ErrConnectionClosed
	}

	m.Encrypted = encrypt
	payload, err := wire.EncodeMessage(m)
	if err != nil {
		return err
	}
	if encrypt {
		payload, err = c.channel.Seal(payload)
		if err != nil {
			return msgerr.Encryption("seal", err)
		}
	}

	f := &wire.Frame{
		Header:  wire.NewHeader(m.Kind, wire.FlagsFor(m, encrypt), 0),
		Payload: payload,
	}
	if err := c.framer.WriteFrame(f); err != nil {
		return err
	}

	c.opts.stats.recordSent(wire.HeaderSize+len(payload), m.IsApplication())
	c.logMessage(log.DirectionOut, m)
	return nil
}

// Disconnect sends a Disconnect message and closes the socket.
func (c *Conn) Disconnect(ctx context.Context, reason string) error {
	if c.closed() {
		return nil
	}
	err := c.Send(ctx, message.NewDisconnect(reason, c.opts.localID))
	if cerr := c.Close(); err == nil {
		err = cerr
	}
	return err
}

// Close closes the socket and wipes key material.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		old := c.State()
		c.state.Store(int32(StateClosing))
		close(c.closeCh)
		err = c.conn.Close()
		c.channel.Close()
		c.opts.keys.RemovePeer(c.id)
		c.state.Store(int32(StateDisconnected))
		c.logState(log.StateEntityConnection, old.String(), StateDisconnected.String(), "")
	})
	return err
}

// readLoop processes frames until the socket fails. It returns nil on a
// clean end of stream, a local close or a peer Disconnect.
func (c *Conn) readLoop() error {
	for {
		f, err := c.framer.ReadFrame()
		if err != nil {
			if errors.Is(err, io.EOF) || c.closed() {
				return nil
			}
			return err
		}
		if err := c.handleFrame(f); err != nil {
			if errors.Is(err, errPeerDisconnected) {
				return nil
			}
			return err
		}
	}
}

func (c *Conn) handleFrame(f *wire.Frame) error {
	encrypted := f.Header.Flags.Has(wire.FlagEncrypted)
	payload := f.Payload
	if encrypted {
		pt, err := c.channel.Open(payload)
		if err != nil {
			return msgerr.Encryption("open", err)
		}
		payload = pt
	}

	m, err := wire.DecodeFrameMessage(&wire.Frame{Header: f.Header, Payload: payload})
	if err != nil {
		return err
	}
	m.Encrypted = encrypted
	if err := c.checkPlaintext(m); err != nil {
		return err
	}

	c.touch()
	c.opts.stats.recordReceived(wire.HeaderSize+len(f.Payload), m.IsApplication())
	c.logMessage(log.DirectionIn, m)

	switch m.Kind {
	case message.KindHeartbeat:
		return nil
	case message.KindKeyExchange:
		return c.handleKeyExchange(m)
	}

	if f.Header.Flags.Has(wire.FlagAckRequired) {
		ack := message.NewAcknowledgment(m.ID, c.opts.localID)
		if err := c.write(ack, c.opts.security.Enabled && c.channel.Established()); err != nil {
			return err
		}
	}

	if c.opts.onMessage != nil {
		c.opts.onMessage(c, m)
	}

	if m.Kind == message.KindDisconnect {
		return errPeerDisconnected
	}
	if encrypted {
		c.maybeRotate()
	}
	return nil
}

// checkPlaintext rejects unencrypted application frames when encryption is
// enabled. Heartbeats and key exchanges are always plaintext; a Disconnect
// is accepted in plaintext only before the channel is established.
func (c *Conn) checkPlaintext(m *message.Message) error {
	if !c.opts.security.Enabled || m.Encrypted || m.IsControl() {
		return nil
	}
	if m.Kind == message.KindDisconnect && !c.channel.Established() {
		return nil
	}
	return msgerr.Encryption("open", fmt.Errorf("plaintext %s frame: %w", m.Kind, ErrNotSecured))
}

// initiateKeyExchange generates a keypair for this socket and sends the
// public key. It is a no-op while an exchange is pending.
func (c *Conn) initiateKeyExchange() error {
	return c.startExchange(false)
}

func (c *Conn) startExchange(rotation bool) error {
	c.kxMu.Lock()
	defer c.kxMu.Unlock()

	if c.opts.keys.HasKeyPair(c.id) {
		return nil
	}
	// Another goroutine may have completed a rotation while we waited.
	if rotation && !c.channel.NeedsRotation() {
		return nil
	}
	pub, err := c.opts.keys.GenerateKeyPair(c.id)
	if err != nil {
		return msgerr.Encryption("key exchange", err)
	}
	c.debugLog("key exchange initiated", "fingerprint", secure.Fingerprint(pub))
	return c.write(message.NewKeyExchange(pub, c.opts.keys.Curve().String(), c.opts.localID), false)
}

func (c *Conn) handleKeyExchange(m *message.Message) error {
	curve, err := secure.ParseCurve(m.KeyExchange.Curve)
	if err != nil {
		return msgerr.Encryption("key exchange", err)
	}
	if curve != c.opts.keys.Curve() {
		return msgerr.Encryption("key exchange",
			fmt.Errorf("%w: peer %s, local %s", secure.ErrCurveMismatch, curve, c.opts.keys.Curve()))
	}

	c.kxMu.Lock()
	defer c.kxMu.Unlock()

	if !c.opts.keys.HasKeyPair(c.id) {
		pub, err := c.opts.keys.GenerateKeyPair(c.id)
		if err != nil {
			return msgerr.Encryption("key exchange", err)
		}
		// The reply goes out before Install so the peer sees it ahead of
		// any frame sealed with the new secret.
		reply := message.NewKeyExchange(pub, curve.String(), c.opts.localID)
		if err := c.write(reply, false); err != nil {
			return err
		}
	}

	secret, err := c.opts.keys.Exchange(c.id, m.KeyExchange.PublicKey)
	if err != nil {
		return msgerr.Encryption("key exchange", err)
	}

	rotated := c.channel.Established()
	c.channel.Install(secret)
	c.state.CompareAndSwap(int32(StateConnected), int32(StateSecured))

	newState := "ESTABLISHED"
	if rotated {
		newState = "ROTATED"
	}
	c.logState(log.StateEntityKeys, "", newState, secure.Fingerprint(m.KeyExchange.PublicKey))
	c.debugLog("key exchange completed", "state", newState)
	return nil
}

func (c *Conn) maybeRotate() {
	if !c.channel.NeedsRotation() {
		return
	}
	if err := c.startExchange(true); err != nil {
		c.debugLog("key rotation failed", "error", err)
	}
}

func (c *Conn) debugLog(msg string, args ...any) {
	if c.opts.logger != nil {
		c.opts.logger.Debug(msg, append([]any{"conn", c.id, "role", c.opts.role}, args...)...)
	}
}

func (c *Conn) event(ev log.Event) {
	if c.opts.protoLog == nil {
		return
	}
	ev.Timestamp = time.Now()
	ev.ConnectionID = c.id.String()
	ev.LocalRole = c.opts.role
	if c.remoteAddr != nil {
		ev.RemoteAddr = c.remoteAddr.String()
	}
	c.opts.protoLog.Log(ev)
}

func (c *Conn) logMessage(dir log.Direction, m *message.Message) {
	if c.opts.protoLog == nil {
		return
	}
	ev := log.Event{
		Direction: dir,
		Layer:     log.LayerSession,
		Category:  log.CategoryMessage,
		Message:   log.NewMessageEvent(m),
	}
	if dir == log.DirectionIn {
		ev.PeerID = m.SenderID.String()
	}
	if ct, ok := log.ControlTypeFor(m.Kind); ok {
		ev.Category = log.CategoryControl
		ev.Message = nil
		ev.ControlMsg = &log.ControlMsgEvent{Type: ct, Detail: controlDetail(m)}
	}
	c.event(ev)
}

func controlDetail(m *message.Message) string {
	switch {
	case m.KeyExchange != nil:
		return secure.Fingerprint(m.KeyExchange.PublicKey)
	case m.Acknowledgment != nil:
		return m.Acknowledgment.MessageID.String()
	case m.Disconnect != nil:
		return m.Disconnect.Reason
	}
	return ""
}

func (c *Conn) logState(entity log.StateEntity, oldState, newState, reason string) {
	c.event(log.Event{
		Layer:    log.LayerTransport,
		Category: log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   entity,
			OldState: oldState,
			NewState: newState,
			Reason:   reason,
		},
	})
}

func (c *Conn) logError(err error) {
	layer := log.LayerTransport
	if msgerr.KindOf(err) == msgerr.KindEncryption {
		layer = log.LayerSecure
	}
	c.event(log.Event{
		Layer:    layer,
		Category: log.CategoryError,
		Error: &log.ErrorEventData{
			Layer:   layer,
			Message: err.Error(),
			Kind:    msgerr.KindOf(err).String(),
		},
	})
}
