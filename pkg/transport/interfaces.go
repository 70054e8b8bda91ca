package transport

import (
	"context"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/tcpmsg/tcpmsg-go/pkg/message"
)

// Endpoint is the outbound side of an active session.
// Implemented by Server and ClientConn.
type Endpoint interface {
	// Send writes a message to the remote side.
	Send(ctx context.Context, m *message.Message) error

	// Stats returns aggregate traffic counters.
	Stats() Stats
}

// Peer is one socket of an endpoint.
// Implemented by Conn.
type Peer interface {
	// ID returns the connection identifier.
	ID() uuid.UUID

	// RemoteAddr returns the remote network address.
	RemoteAddr() net.Addr

	// LastSeen returns when the last frame was received.
	LastSeen() time.Time

	// Send sends a message to the peer.
	Send(ctx context.Context, m *message.Message) error

	// Close closes the connection.
	Close() error
}

// TransportServer is a listening messenger server.
// Implemented by Server.
type TransportServer interface {
	Endpoint

	// Start begins accepting connections.
	Start(ctx context.Context) error

	// Stop closes the listener and all peers.
	Stop() error

	// Addr returns the server's listen address.
	Addr() net.Addr

	// ConnectionCount returns the number of registered peers.
	ConnectionCount() int
}

// Compile-time interface satisfaction checks.
var (
	_ Endpoint        = (*ClientConn)(nil)
	_ Peer            = (*Conn)(nil)
	_ TransportServer = (*Server)(nil)
)
