package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tcpmsg/tcpmsg-go/pkg/config"
	"github.com/tcpmsg/tcpmsg-go/pkg/message"
	"github.com/tcpmsg/tcpmsg-go/pkg/msgerr"
	"github.com/tcpmsg/tcpmsg-go/pkg/store"
	"github.com/tcpmsg/tcpmsg-go/pkg/transport"
)

// mockStore is a testify mock of store.Store.
type mockStore struct {
	mock.Mock
}

func (s *mockStore) Store(m *message.Message) error {
	return s.Called(m).Error(0)
}

func (s *mockStore) Get(id uuid.UUID) (*message.Message, error) {
	args := s.Called(id)
	m, _ := args.Get(0).(*message.Message)
	return m, args.Error(1)
}

func (s *mockStore) GetAll() ([]*message.Message, error) {
	args := s.Called()
	ms, _ := args.Get(0).([]*message.Message)
	return ms, args.Error(1)
}

func (s *mockStore) Search(query string) ([]*message.Message, error) {
	args := s.Called(query)
	ms, _ := args.Get(0).([]*message.Message)
	return ms, args.Error(1)
}

func (s *mockStore) Delete(id uuid.UUID) error {
	return s.Called(id).Error(0)
}

func (s *mockStore) UpdateStatus(id uuid.UUID, status message.Status) error {
	return s.Called(id, status).Error(0)
}

func (s *mockStore) Prune(cutoff time.Time) (int, error) {
	args := s.Called(cutoff)
	return args.Int(0), args.Error(1)
}

var _ store.Store = (*mockStore)(nil)

func newTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	m, err := NewManager(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func nextMessage(t *testing.T, m *Manager) *message.Message {
	t.Helper()
	select {
	case msg := <-m.Messages():
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("no message delivered")
		return nil
	}
}

func TestStatusString(t *testing.T) {
	tests := []struct {
		status Status
		want   string
	}{
		{StatusDisconnected, "DISCONNECTED"},
		{StatusConnecting, "CONNECTING"},
		{StatusConnected, "CONNECTED"},
		{StatusReconnecting, "RECONNECTING"},
		{StatusError, "ERROR"},
		{Status(42), "UNKNOWN"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.status.String())
	}
	assert.Equal(t, "SERVER", RoleServer.String())
	assert.Equal(t, "CLIENT", RoleClient.String())
	assert.Equal(t, "NONE", RoleNone.String())
}

func TestStartServerTwice(t *testing.T) {
	m := newTestManager(t, Config{})

	info, err := m.StartServer(context.Background(), 0)
	require.NoError(t, err)
	assert.NotZero(t, info.Port)
	assert.Equal(t, StatusConnected, info.Status)
	assert.Equal(t, m.ID(), info.ID)

	_, err = m.StartServer(context.Background(), 0)
	assert.ErrorIs(t, err, msgerr.ErrAlreadyConnected)
	assert.Equal(t, msgerr.KindState, msgerr.KindOf(err))

	_, err = m.ConnectToServer(context.Background(), "127.0.0.1", info.Port)
	assert.ErrorIs(t, err, msgerr.ErrAlreadyConnected)
}

func TestIdleOperations(t *testing.T) {
	m := newTestManager(t, Config{})

	assert.Equal(t, StatusDisconnected, m.Status())
	assert.ErrorIs(t, m.Disconnect(), msgerr.ErrNotConnected)
	assert.ErrorIs(t, m.StopServer(), msgerr.ErrNotConnected)
	assert.ErrorIs(t, m.Send(context.Background(), message.NewText("hi", m.ID())), msgerr.ErrNotConnected)
	assert.Equal(t, transport.Stats{}, m.Stats())
	assert.NoError(t, m.Close())

	info := m.Info()
	assert.Equal(t, RoleNone, info.Role)
	assert.Nil(t, info.Server)
	assert.Nil(t, info.Client)
}

func TestStopServerReleasesSlot(t *testing.T) {
	m := newTestManager(t, Config{})

	_, err := m.StartServer(context.Background(), 0)
	require.NoError(t, err)
	require.NoError(t, m.StopServer())
	assert.Equal(t, StatusDisconnected, m.Status())

	_, err = m.StartServer(context.Background(), 0)
	require.NoError(t, err)
	require.NoError(t, m.Disconnect())
	assert.ErrorIs(t, m.Disconnect(), msgerr.ErrNotConnected)
}

func TestEndToEnd(t *testing.T) {
	tests := []struct {
		name     string
		security transport.SecurityConfig
	}{
		{"plaintext", transport.SecurityConfig{}},
		{"encrypted", transport.DefaultSecurityConfig()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			serverStore := store.NewMemoryStore(0)
			server := newTestManager(t, Config{Security: tt.security, Store: serverStore})
			sinfo, err := server.StartServer(context.Background(), 0)
			require.NoError(t, err)

			clientStore := store.NewMemoryStore(0)
			client := newTestManager(t, Config{Security: tt.security, Store: clientStore})
			cinfo, err := client.ConnectToServer(context.Background(), "127.0.0.1", sinfo.Port)
			require.NoError(t, err)
			assert.Equal(t, StatusConnected, cinfo.Status)
			assert.Equal(t, sinfo.Port, cinfo.ServerPort)

			hello := message.NewText("hello", client.ID())
			require.NoError(t, client.Send(context.Background(), hello))

			got := nextMessage(t, server)
			assert.Equal(t, message.KindText, got.Kind)
			assert.Equal(t, "hello", got.Content())
			assert.Equal(t, tt.security.Enabled, got.Encrypted)
			assert.Equal(t, uint64(1), server.Stats().MessagesReceived)

			stored, err := serverStore.Get(hello.ID)
			require.NoError(t, err)
			assert.Equal(t, message.StatusDelivered, stored.Status)

			// The server acknowledges; the client marks its copy.
			ack := nextMessage(t, client)
			assert.Equal(t, message.KindAcknowledgment, ack.Kind)
			require.Eventually(t, func() bool {
				m, err := clientStore.Get(hello.ID)
				return err == nil && m.Status == message.StatusAcknowledged
			}, 5*time.Second, 5*time.Millisecond)

			reply := message.NewSystem("welcome", message.LevelSuccess, server.ID())
			require.NoError(t, server.Send(context.Background(), reply))
			got = nextMessage(t, client)
			assert.Equal(t, "welcome", got.Content())

			info := server.Info()
			assert.Equal(t, RoleServer, info.Role)
			require.NotNil(t, info.Server)
			assert.Equal(t, 1, info.Server.ClientCount)
			assert.Len(t, info.Server.Peers, 1)

			info = client.Info()
			assert.Equal(t, RoleClient, info.Role)
			require.NotNil(t, info.Client)
			assert.Equal(t, tt.security.Enabled, info.Client.Secured)
		})
	}
}

func TestSendRecordsWithMockStore(t *testing.T) {
	server := newTestManager(t, Config{})
	sinfo, err := server.StartServer(context.Background(), 0)
	require.NoError(t, err)

	st := &mockStore{}
	client := newTestManager(t, Config{Store: st})
	_, err = client.ConnectToServer(context.Background(), "127.0.0.1", sinfo.Port)
	require.NoError(t, err)

	msg := message.NewText("hello", client.ID())
	acked := make(chan struct{})
	var once sync.Once

	st.On("Store", mock.MatchedBy(func(m *message.Message) bool { return m.ID == msg.ID })).Return(nil).Once()
	st.On("Get", msg.ID).Return(&message.Message{ID: msg.ID, Status: message.StatusSending}, nil)
	st.On("UpdateStatus", msg.ID, message.StatusSent).Return(nil).Maybe()
	st.On("UpdateStatus", msg.ID, message.StatusAcknowledged).Return(nil).Run(func(mock.Arguments) {
		once.Do(func() { close(acked) })
	}).Once()

	require.NoError(t, client.Send(context.Background(), msg))
	nextMessage(t, server)

	select {
	case <-acked:
	case <-time.After(5 * time.Second):
		t.Fatal("acknowledgment not recorded")
	}
	st.AssertCalled(t, "Store", mock.Anything)
}

func TestConnectFailure(t *testing.T) {
	server := newTestManager(t, Config{})
	sinfo, err := server.StartServer(context.Background(), 0)
	require.NoError(t, err)
	require.NoError(t, server.StopServer())

	client := newTestManager(t, Config{})
	_, err = client.ConnectToServer(context.Background(), "127.0.0.1", sinfo.Port)
	require.Error(t, err)
	assert.Equal(t, msgerr.KindNetwork, msgerr.KindOf(err))
	assert.Equal(t, StatusError, client.Status())
	assert.NotEmpty(t, client.Info().LastError)

	// The slot is free again.
	_, err = client.StartServer(context.Background(), 0)
	assert.NoError(t, err)
}

func TestStopServerOnClientSession(t *testing.T) {
	server := newTestManager(t, Config{})
	sinfo, err := server.StartServer(context.Background(), 0)
	require.NoError(t, err)

	client := newTestManager(t, Config{})
	_, err = client.ConnectToServer(context.Background(), "127.0.0.1", sinfo.Port)
	require.NoError(t, err)

	assert.ErrorIs(t, client.StopServer(), msgerr.ErrNotConnected)
	assert.Equal(t, StatusConnected, client.Status())
	require.NoError(t, client.Disconnect())
	assert.Equal(t, StatusDisconnected, client.Status())

	// The server sees the Disconnect message.
	got := nextMessage(t, server)
	assert.Equal(t, message.KindDisconnect, got.Kind)
}

func TestConnectionLost(t *testing.T) {
	server := newTestManager(t, Config{})
	sinfo, err := server.StartServer(context.Background(), 0)
	require.NoError(t, err)

	lost := make(chan error, 1)
	client := newTestManager(t, Config{OnConnectionLost: func(err error) { lost <- err }})
	_, err = client.ConnectToServer(context.Background(), "127.0.0.1", sinfo.Port)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return server.Info().Server.ClientCount == 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, server.StopServer())

	select {
	case <-lost:
	case <-time.After(5 * time.Second):
		t.Fatal("connection loss not reported")
	}
	assert.NotEqual(t, StatusConnected, client.Status())
	assert.ErrorIs(t, client.Send(context.Background(), message.NewText("late", client.ID())), msgerr.ErrNotConnected)
}

func TestSendBlocksWhenQueueFull(t *testing.T) {
	m := newTestManager(t, Config{})

	// An occupied slot without a writer.
	e := newEndpointState(1)
	m.mu.Lock()
	m.active = &serverState{endpointState: e}
	m.status = StatusConnected
	m.mu.Unlock()

	require.NoError(t, m.Send(context.Background(), message.NewText("one", m.ID())))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := m.Send(ctx, message.NewText("two", m.ID()))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	errc := make(chan error, 1)
	go func() { errc <- m.Send(context.Background(), message.NewText("three", m.ID())) }()
	time.Sleep(10 * time.Millisecond)
	e.release()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, msgerr.ErrNotConnected)
	case <-time.After(2 * time.Second):
		t.Fatal("blocked send not released")
	}

	m.mu.Lock()
	m.active = nil
	m.mu.Unlock()
}

// stalledEndpoint accepts nothing until the session context ends.
type stalledEndpoint struct {
	calls chan *message.Message
}

func (s *stalledEndpoint) Send(ctx context.Context, m *message.Message) error {
	s.calls <- m
	<-ctx.Done()
	return ctx.Err()
}

func (s *stalledEndpoint) Stats() transport.Stats { return transport.Stats{} }

func TestQueuedSendsFailWhenSessionEnds(t *testing.T) {
	st := store.NewMemoryStore(0)
	m := newTestManager(t, Config{Store: st})

	ep := &stalledEndpoint{calls: make(chan *message.Message, 8)}
	e := newEndpointState(8)
	e.ep = ep
	m.mu.Lock()
	m.active = &serverState{endpointState: e}
	m.status = StatusConnected
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.writeLoop(e)
		close(done)
	}()

	first := message.NewText("in flight", m.ID())
	require.NoError(t, m.Send(context.Background(), first))
	select {
	case <-ep.calls:
	case <-time.After(2 * time.Second):
		t.Fatal("writer did not pick up the first message")
	}

	queued := []*message.Message{
		message.NewText("queued 1", m.ID()),
		message.NewText("queued 2", m.ID()),
		message.NewText("queued 3", m.ID()),
	}
	for _, msg := range queued {
		require.NoError(t, m.Send(context.Background(), msg))
	}

	e.release()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("writer did not stop")
	}

	assert.Empty(t, e.outbound)
	for _, msg := range append([]*message.Message{first}, queued...) {
		got, err := st.Get(msg.ID)
		require.NoError(t, err, msg.Text.Content)
		assert.Equal(t, message.StatusFailed, got.Status, msg.Text.Content)
	}

	err := m.Send(context.Background(), message.NewText("late", m.ID()))
	assert.ErrorIs(t, err, msgerr.ErrNotConnected)

	m.mu.Lock()
	m.active = nil
	m.mu.Unlock()
}

func TestSendRejectsFiles(t *testing.T) {
	m := newTestManager(t, Config{
		FileFilter:  func(name string) bool { return name == "ok.txt" },
		MaxFileSize: 10,
	})
	_, err := m.StartServer(context.Background(), 0)
	require.NoError(t, err)

	err = m.Send(context.Background(), message.NewFile("evil.exe", 1, "application/octet-stream", []byte{1}, m.ID()))
	assert.ErrorIs(t, err, ErrFileTypeNotAllowed)
	assert.Equal(t, msgerr.KindConfig, msgerr.KindOf(err))

	err = m.Send(context.Background(), message.NewFile("ok.txt", 11, "text/plain", nil, m.ID()))
	assert.ErrorIs(t, err, ErrFileTooLarge)

	assert.NoError(t, m.Send(context.Background(), message.NewFile("ok.txt", 5, "text/plain", []byte("hello"), m.ID())))
}

func TestSendWithoutPeersMarksFailed(t *testing.T) {
	st := store.NewMemoryStore(0)
	m := newTestManager(t, Config{Store: st})
	_, err := m.StartServer(context.Background(), 0)
	require.NoError(t, err)

	msg := message.NewText("nobody", m.ID())
	require.NoError(t, m.Send(context.Background(), msg))
	require.Eventually(t, func() bool {
		got, err := st.Get(msg.ID)
		return err == nil && got.Status == message.StatusFailed
	}, 2*time.Second, 5*time.Millisecond)
}

type recordingAnnouncer struct {
	mu      sync.Mutex
	port    uint16
	name    string
	stopped bool
	fail    bool
}

func (a *recordingAnnouncer) StartAnnouncing(_ uuid.UUID, name string, port uint16) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fail {
		return errors.New("announce failed")
	}
	a.name, a.port = name, port
	return nil
}

func (a *recordingAnnouncer) StopAnnouncing() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopped = true
	return nil
}

func TestServerAnnouncement(t *testing.T) {
	ann := &recordingAnnouncer{}
	m := newTestManager(t, Config{Name: "office", Announcer: ann})

	info, err := m.StartServer(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, "office", info.Name)
	assert.Equal(t, info.Port, ann.port)
	assert.Equal(t, "office", ann.name)

	require.NoError(t, m.StopServer())
	assert.True(t, ann.stopped)
}

func TestAnnouncementFailureIsNotFatal(t *testing.T) {
	ann := &recordingAnnouncer{fail: true}
	m := newTestManager(t, Config{Announcer: ann})

	_, err := m.StartServer(context.Background(), 0)
	require.NoError(t, err)
	require.NoError(t, m.StopServer())
	assert.False(t, ann.stopped)
}

func TestCandidatePorts(t *testing.T) {
	m := newTestManager(t, Config{PortRange: [2]uint16{8000, 8002}})
	assert.Equal(t, []uint16{8000, 8001, 8002}, m.candidatePorts(0))
	assert.Equal(t, []uint16{9000}, m.candidatePorts(9000))

	m = newTestManager(t, Config{})
	assert.Equal(t, []uint16{0}, m.candidatePorts(0))
}

func TestFromConfig(t *testing.T) {
	c := config.Default()
	cfg := FromConfig(c)

	assert.Equal(t, c.App.Name, cfg.Name)
	assert.Equal(t, [2]uint16{8000, 8100}, cfg.PortRange)
	assert.Equal(t, 1, cfg.MaxClients)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 60*time.Second, cfg.ConnectionTimeout)
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout)
	assert.False(t, cfg.DisableClientHeartbeats)
	assert.True(t, cfg.Security.Enabled)
	assert.Equal(t, uint32(1<<20), cfg.MaxMessageSize)
	require.NotNil(t, cfg.FileFilter)
	assert.True(t, cfg.FileFilter("notes.txt"))
	assert.False(t, cfg.FileFilter("run.exe"))
}

func TestNewManagerRejectsInvalidSecurity(t *testing.T) {
	_, err := NewManager(Config{Security: transport.SecurityConfig{Enabled: true, Cipher: 99}})
	require.Error(t, err)
	assert.Equal(t, msgerr.KindConfig, msgerr.KindOf(err))
}
