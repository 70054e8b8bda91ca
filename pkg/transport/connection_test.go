package transport

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcpmsg/tcpmsg-go/pkg/log"
	"github.com/tcpmsg/tcpmsg-go/pkg/message"
	"github.com/tcpmsg/tcpmsg-go/pkg/msgerr"
	"github.com/tcpmsg/tcpmsg-go/pkg/secure"
	"github.com/tcpmsg/tcpmsg-go/pkg/wire"
)

// captureLogger records protocol events.
type captureLogger struct {
	mu     sync.Mutex
	events []log.Event
}

func (l *captureLogger) Log(e log.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *captureLogger) keyStates() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, e := range l.events {
		if e.StateChange != nil && e.StateChange.Entity == log.StateEntityKeys {
			out = append(out, e.StateChange.NewState)
		}
	}
	return out
}

// tcpPair returns both ends of a loopback TCP connection.
func tcpPair(t *testing.T) (client, server net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		nc, err := ln.Accept()
		if err == nil {
			accepted <- nc
		}
	}()

	client, err = net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)

	select {
	case server = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("accept timed out")
	}
	return client, server
}

type connEnd struct {
	conn *Conn
	msgs chan *message.Message
	errs chan error
}

func startEnd(t *testing.T, nc net.Conn, role log.Role, sec SecurityConfig, logger log.Logger) *connEnd {
	t.Helper()
	e := &connEnd{
		msgs: make(chan *message.Message, 64),
		errs: make(chan error, 1),
	}
	e.conn = newConn(nc, connOptions{
		role:       role,
		localID:    uuid.New(),
		security:   sec,
		secureWait: 500 * time.Millisecond,
		protoLog:   logger,
		onMessage: func(_ *Conn, m *message.Message) {
			e.msgs <- m
		},
	})
	go func() { e.errs <- e.conn.readLoop() }()
	t.Cleanup(func() { e.conn.Close() })
	return e
}

func connPair(t *testing.T, sec SecurityConfig) (a, b *connEnd) {
	t.Helper()
	ca, cb := tcpPair(t)
	return startEnd(t, ca, log.RoleClient, sec, nil), startEnd(t, cb, log.RoleServer, sec, nil)
}

func nextMessage(t *testing.T, ch <-chan *message.Message) *message.Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestConnectionStateString(t *testing.T) {
	tests := []struct {
		state ConnectionState
		want  string
	}{
		{StateDisconnected, "DISCONNECTED"},
		{StateConnected, "CONNECTED"},
		{StateSecured, "SECURED"},
		{StateClosing, "CLOSING"},
		{ConnectionState(42), "UNKNOWN"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.String())
	}
}

func TestSecurityConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultSecurityConfig().Validate())

	bad := DefaultSecurityConfig()
	bad.Curve = secure.Curve(99)
	err := bad.Validate()
	require.Error(t, err)
	assert.Equal(t, msgerr.KindConfig, msgerr.KindOf(err))
}

func TestConnPlaintextDelivery(t *testing.T) {
	sec := SecurityConfig{Cipher: secure.DefaultCipher, Curve: secure.DefaultCurve}
	a, b := connPair(t, sec)

	text := message.NewText("hello", uuid.New())
	require.NoError(t, a.conn.Send(context.Background(), text))

	got := nextMessage(t, b.msgs)
	assert.Equal(t, message.KindText, got.Kind)
	assert.Equal(t, "hello", got.Text.Content)
	assert.False(t, got.Encrypted)

	ack := nextMessage(t, a.msgs)
	require.Equal(t, message.KindAcknowledgment, ack.Kind)
	assert.Equal(t, text.ID, ack.Acknowledgment.MessageID)
}

func TestConnEncryptedDelivery(t *testing.T) {
	for _, curve := range []secure.Curve{secure.P256, secure.X25519, secure.X448} {
		for _, cipher := range []secure.Cipher{secure.AES256GCM, secure.ChaCha20Poly1305} {
			t.Run(curve.String()+"/"+cipher.String(), func(t *testing.T) {
				sec := SecurityConfig{Enabled: true, Cipher: cipher, Curve: curve}
				a, b := connPair(t, sec)

				require.NoError(t, a.conn.initiateKeyExchange())

				ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				defer cancel()
				require.NoError(t, a.conn.WaitSecured(ctx))
				require.NoError(t, b.conn.WaitSecured(ctx))
				assert.Equal(t, StateSecured, a.conn.State())
				assert.Equal(t, StateSecured, b.conn.State())

				require.NoError(t, b.conn.Send(ctx, message.NewSystem("welcome", message.LevelInfo, uuid.New())))
				got := nextMessage(t, a.msgs)
				assert.Equal(t, "welcome", got.System.Content)
				assert.True(t, got.Encrypted)

				text := message.NewText("secret", uuid.New())
				require.NoError(t, a.conn.Send(ctx, text))
				got = nextMessage(t, b.msgs)
				assert.Equal(t, "secret", got.Text.Content)
				assert.True(t, got.Encrypted)

				ack := nextMessage(t, a.msgs)
				assert.Equal(t, text.ID, ack.Acknowledgment.MessageID)
				assert.True(t, ack.Encrypted)
			})
		}
	}
}

func TestConnSendWaitsForKeyExchange(t *testing.T) {
	a, _ := connPair(t, DefaultSecurityConfig())

	start := time.Now()
	err := a.conn.Send(context.Background(), message.NewText("too early", uuid.New()))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotSecured)
	assert.Equal(t, msgerr.KindEncryption, msgerr.KindOf(err))
	assert.GreaterOrEqual(t, time.Since(start), 400*time.Millisecond)
}

func TestConnSendHonorsContext(t *testing.T) {
	a, _ := connPair(t, DefaultSecurityConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := a.conn.Send(ctx, message.NewText("x", uuid.New()))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConnHeartbeatNotDelivered(t *testing.T) {
	a, b := connPair(t, DefaultSecurityConfig())

	before := b.conn.LastSeen()
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, a.conn.Send(context.Background(), message.NewHeartbeat(uuid.New())))
	require.Eventually(t, func() bool { return b.conn.LastSeen().After(before) }, 2*time.Second, 5*time.Millisecond)

	select {
	case m := <-b.msgs:
		t.Fatalf("heartbeat delivered as %s", m.Kind)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestConnKeyRotation(t *testing.T) {
	sec := DefaultSecurityConfig()
	sec.RotationThreshold = 3

	ca, cb := tcpPair(t)
	logA := &captureLogger{}
	a := startEnd(t, ca, log.RoleClient, sec, logA)
	b := startEnd(t, cb, log.RoleServer, sec, nil)

	require.NoError(t, a.conn.initiateKeyExchange())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.conn.WaitSecured(ctx))

	for i := 0; i < 12; i++ {
		text := message.NewText("msg", uuid.New())
		require.NoError(t, a.conn.Send(ctx, text))
		got := nextMessage(t, b.msgs)
		require.Equal(t, text.ID, got.ID)
		ack := nextMessage(t, a.msgs)
		require.Equal(t, text.ID, ack.Acknowledgment.MessageID)
	}

	require.Eventually(t, func() bool {
		for _, s := range logA.keyStates() {
			if s == "ROTATED" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "ESTABLISHED", logA.keyStates()[0])
}

func TestConnDisconnectEndsReadLoop(t *testing.T) {
	a, b := connPair(t, DefaultSecurityConfig())

	require.NoError(t, a.conn.Disconnect(context.Background(), "bye"))

	got := nextMessage(t, b.msgs)
	require.Equal(t, message.KindDisconnect, got.Kind)
	assert.Equal(t, "bye", got.Disconnect.Reason)
	assert.False(t, got.Encrypted)

	select {
	case err := <-b.errs:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("read loop did not end")
	}
	assert.ErrorIs(t, a.conn.Send(context.Background(), message.NewHeartbeat(uuid.New())), ErrConnectionClosed)
}

func TestConnRejectsUnknownVersion(t *testing.T) {
	raw, srv := tcpPair(t)
	defer raw.Close()
	b := startEnd(t, srv, log.RoleServer, DefaultSecurityConfig(), nil)

	_, err := raw.Write([]byte{2, byte(message.KindText), 0, 0, 0, 0, 0, 0})
	require.NoError(t, err)

	select {
	case err := <-b.errs:
		require.Error(t, err)
		assert.ErrorIs(t, err, wire.ErrUnsupportedVersion)
		assert.Equal(t, msgerr.KindProtocol, msgerr.KindOf(err))
	case <-time.After(2 * time.Second):
		t.Fatal("read loop did not fail")
	}
}

func TestConnEncryptedFrameWithoutSecretFails(t *testing.T) {
	raw, srv := tcpPair(t)
	defer raw.Close()
	logger := &captureLogger{}
	b := startEnd(t, srv, log.RoleServer, DefaultSecurityConfig(), logger)

	f := &wire.Frame{
		Header:  wire.NewHeader(message.KindText, wire.FlagEncrypted|wire.FlagNotSystem, 64),
		Payload: make([]byte, 64),
	}
	_, err := raw.Write(f.Bytes())
	require.NoError(t, err)

	select {
	case err := <-b.errs:
		require.Error(t, err)
		assert.Equal(t, msgerr.KindEncryption, msgerr.KindOf(err))
	case <-time.After(2 * time.Second):
		t.Fatal("read loop did not fail")
	}
	select {
	case m := <-b.msgs:
		t.Fatalf("unexpected delivery %s", m.Kind)
	default:
	}
}

func TestConnCurveMismatch(t *testing.T) {
	ca, cb := tcpPair(t)
	a := startEnd(t, ca, log.RoleClient, SecurityConfig{Enabled: true, Cipher: secure.AES256GCM, Curve: secure.X25519}, nil)
	b := startEnd(t, cb, log.RoleServer, SecurityConfig{Enabled: true, Cipher: secure.AES256GCM, Curve: secure.P256}, nil)

	require.NoError(t, a.conn.initiateKeyExchange())

	select {
	case err := <-b.errs:
		assert.ErrorIs(t, err, secure.ErrCurveMismatch)
	case <-time.After(2 * time.Second):
		t.Fatal("read loop did not fail")
	}
}

func TestConnTamperedCiphertextDropsConnection(t *testing.T) {
	sec := DefaultSecurityConfig()
	ca, cb := tcpPair(t)
	b := startEnd(t, cb, log.RoleServer, sec, nil)

	// Run the client side by hand so the frame can be altered on the wire.
	keys := secure.NewManager(sec.Curve)
	peer := uuid.New()
	pub, err := keys.GenerateKeyPair(peer)
	require.NoError(t, err)

	fw := wire.NewFrameWriter(ca)
	fr := wire.NewFrameReader(ca)
	kx, err := wire.NewFrame(message.NewKeyExchange(pub, sec.Curve.String(), peer))
	require.NoError(t, err)
	require.NoError(t, fw.WriteFrame(kx))

	reply, err := fr.ReadFrame()
	require.NoError(t, err)
	rm, err := wire.DecodeFrameMessage(reply)
	require.NoError(t, err)
	secret, err := keys.Exchange(peer, rm.KeyExchange.PublicKey)
	require.NoError(t, err)

	payload, err := wire.EncodeMessage(message.NewText("hi", peer))
	require.NoError(t, err)
	sealed, err := secure.Encrypt(secret, sec.Cipher, payload)
	require.NoError(t, err)
	sealed[6] ^= 0x01

	require.NoError(t, fw.WriteFrame(&wire.Frame{
		Header:  wire.NewHeader(message.KindText, wire.FlagEncrypted|wire.FlagNotSystem, 0),
		Payload: sealed,
	}))

	select {
	case err := <-b.errs:
		assert.ErrorIs(t, err, secure.ErrMACMismatch)
	case <-time.After(2 * time.Second):
		t.Fatal("read loop did not fail")
	}
}

// securedPair returns two ends that completed the key exchange.
func securedPair(t *testing.T) (a, b *connEnd) {
	t.Helper()
	a, b = connPair(t, DefaultSecurityConfig())
	require.NoError(t, a.conn.initiateKeyExchange())

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, a.conn.WaitSecured(ctx))
	require.NoError(t, b.conn.WaitSecured(ctx))
	return a, b
}

func TestConnRejectsPlaintextAfterKeyExchange(t *testing.T) {
	sender := uuid.New()
	tests := []struct {
		name string
		msg  *message.Message
	}{
		{"text", message.NewText("injected", sender)},
		{"system", message.NewSystem("injected", message.LevelWarning, sender)},
		{"file", message.NewFile("a.txt", 3, "text/plain", []byte("abc"), sender)},
		{"ack", message.NewAcknowledgment(uuid.New(), sender)},
		{"disconnect", message.NewDisconnect("injected", sender)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, b := securedPair(t)

			require.NoError(t, a.conn.write(tt.msg, false))

			select {
			case err := <-b.errs:
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrNotSecured)
				assert.Equal(t, msgerr.KindEncryption, msgerr.KindOf(err))
			case <-time.After(2 * time.Second):
				t.Fatal("read loop did not fail")
			}
			select {
			case m := <-b.msgs:
				t.Fatalf("plaintext %s delivered", m.Kind)
			default:
			}
		})
	}
}

func TestConnAcceptsPlaintextHeartbeatWhenSecured(t *testing.T) {
	a, b := securedPair(t)

	before := b.conn.LastSeen()
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, a.conn.write(message.NewHeartbeat(uuid.New()), false))
	require.Eventually(t, func() bool { return b.conn.LastSeen().After(before) }, 2*time.Second, 5*time.Millisecond)

	select {
	case err := <-b.errs:
		t.Fatalf("read loop ended: %v", err)
	default:
	}
}

func TestConnDisconnectAfterKeyExchangeIsEncrypted(t *testing.T) {
	a, b := securedPair(t)

	require.NoError(t, a.conn.Disconnect(context.Background(), "bye"))

	got := nextMessage(t, b.msgs)
	require.Equal(t, message.KindDisconnect, got.Kind)
	assert.True(t, got.Encrypted)
	select {
	case err := <-b.errs:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("read loop did not end")
	}
}

func TestConnStatsIgnoreAcknowledgments(t *testing.T) {
	sec := SecurityConfig{Cipher: secure.DefaultCipher, Curve: secure.DefaultCurve}
	a, b := connPair(t, sec)

	text := message.NewText("hello", uuid.New())
	require.NoError(t, a.conn.Send(context.Background(), text))
	nextMessage(t, b.msgs)
	ack := nextMessage(t, a.msgs)
	require.Equal(t, message.KindAcknowledgment, ack.Kind)

	as, bs := a.conn.opts.stats.snapshot(), b.conn.opts.stats.snapshot()
	assert.Equal(t, uint64(1), as.MessagesSent)
	assert.Zero(t, as.MessagesReceived)
	assert.Zero(t, bs.MessagesSent)
	assert.Equal(t, uint64(1), bs.MessagesReceived)
	assert.NotZero(t, as.BytesReceived)
	// The ack is counted after it is flushed, which may trail its delivery.
	require.Eventually(t, func() bool {
		return b.conn.opts.stats.snapshot().BytesSent > 0
	}, 2*time.Second, 5*time.Millisecond)
}
