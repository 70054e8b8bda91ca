package discovery

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tcpmsg/tcpmsg-go/pkg/msgerr"
	"golang.org/x/sync/errgroup"
)

// Announcer advertises one server by UDP broadcast and answers client
// requests.
type Announcer struct {
	config Config

	mu     sync.Mutex
	conn   net.PacketConn
	cancel context.CancelFunc
	group  *errgroup.Group

	id   uuid.UUID
	name string
	port uint16
}

// NewAnnouncer creates a stopped announcer.
func NewAnnouncer(cfg Config) *Announcer {
	cfg.applyDefaults()
	return &Announcer{config: cfg}
}

// StartAnnouncing binds the discovery port and starts the broadcast and
// answer loops for the server id/name/port.
func (a *Announcer) StartAnnouncing(id uuid.UUID, name string, port uint16) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.conn != nil {
		return ErrAlreadyRunning
	}
	target, err := a.config.broadcastTarget()
	if err != nil {
		return msgerr.Config("announce", err)
	}

	lc := net.ListenConfig{Control: reuseControl}
	conn, err := lc.ListenPacket(context.Background(), "udp4", ":"+strconv.Itoa(int(a.config.Port)))
	if err != nil {
		return msgerr.Network("announce listen", err)
	}

	a.id, a.name, a.port = id, name, port
	a.conn = conn

	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	a.cancel = cancel
	a.group = g

	g.Go(func() error { return a.broadcastLoop(ctx, conn, target) })
	g.Go(func() error { return a.answerLoop(ctx, conn) })

	a.debugLog("announcing", "id", id, "name", name, "port", port)
	return nil
}

// StopAnnouncing ends both loops and releases the port.
func (a *Announcer) StopAnnouncing() error {
	a.mu.Lock()
	conn, cancel, g := a.conn, a.cancel, a.group
	a.conn, a.cancel, a.group = nil, nil, nil
	a.mu.Unlock()

	if conn == nil {
		return nil
	}
	cancel()
	conn.Close()
	err := g.Wait()
	a.debugLog("announcing stopped")
	return err
}

// Running reports whether the announcer is active.
func (a *Announcer) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conn != nil
}

// Addr returns the bound local address, or nil when stopped.
func (a *Announcer) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == nil {
		return nil
	}
	return a.conn.LocalAddr()
}

func (a *Announcer) record(kind Kind) ([]byte, error) {
	return (&Record{
		Kind:       kind,
		ServerID:   a.id,
		ServerName: a.name,
		ServerPort: a.port,
		Timestamp:  time.Now().Unix(),
	}).Encode()
}

func (a *Announcer) broadcastLoop(ctx context.Context, conn net.PacketConn, target net.Addr) error {
	ticker := time.NewTicker(a.config.BroadcastInterval)
	defer ticker.Stop()

	for {
		data, err := a.record(KindServerAnnounce)
		if err != nil {
			return msgerr.Serialization("announce", err)
		}
		if _, err := conn.WriteTo(data, target); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			// Broadcast may be unavailable on this host; keep answering.
			a.debugLog("announce failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (a *Announcer) answerLoop(ctx context.Context, conn net.PacketConn) error {
	buf := make([]byte, MaxDatagramSize)
	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return msgerr.Network("announce read", err)
		}

		rec, err := DecodeRecord(buf[:n])
		if err != nil || rec.Kind != KindClientRequest {
			continue
		}

		data, err := a.record(KindServerResponse)
		if err != nil {
			return msgerr.Serialization("announce", err)
		}
		if _, err := conn.WriteTo(data, from); err != nil {
			a.debugLog("response failed", "to", from.String(), "error", err)
			continue
		}
		a.debugLog("answered request", "from", from.String())
	}
}

func (a *Announcer) debugLog(msg string, args ...any) {
	if a.config.Logger != nil {
		a.config.Logger.Debug(msg, args...)
	}
}
