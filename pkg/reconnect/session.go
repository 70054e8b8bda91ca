package reconnect

import (
	"context"
	"time"

	"github.com/tcpmsg/tcpmsg-go/pkg/session"
)

// Connector is the part of session.Manager the policy drives.
type Connector interface {
	ConnectToServer(ctx context.Context, address string, port uint16) (session.ClientInfo, error)
	SetStatus(s session.Status)
}

// ForSession returns a manager that dials address:port through c and
// mirrors its progress into the session status. The caller routes the
// session's OnConnectionLost to NotifyConnectionLost.
func ForSession(c Connector, address string, port uint16, policy Policy) *Manager {
	m := NewManager(func(ctx context.Context) error {
		_, err := c.ConnectToServer(ctx, address, port)
		return err
	}, policy)
	m.OnStateChange(func(_, next State) {
		switch next {
		case StateReconnecting:
			c.SetStatus(session.StatusReconnecting)
		case StateFailed:
			c.SetStatus(session.StatusError)
		}
	})
	m.OnReconnecting(func(int, time.Duration) {
		c.SetStatus(session.StatusReconnecting)
	})
	return m
}
