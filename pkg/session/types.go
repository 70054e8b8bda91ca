package session

import (
	"time"

	"github.com/google/uuid"
	"github.com/tcpmsg/tcpmsg-go/pkg/transport"
)

// Status of the session slot.
type Status uint8

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "DISCONNECTED"
	case StatusConnecting:
		return "CONNECTING"
	case StatusConnected:
		return "CONNECTED"
	case StatusReconnecting:
		return "RECONNECTING"
	case StatusError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the status name in JSON output.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Role of the active session.
type Role uint8

const (
	RoleNone Role = iota
	RoleServer
	RoleClient
)

func (r Role) String() string {
	switch r {
	case RoleServer:
		return "SERVER"
	case RoleClient:
		return "CLIENT"
	default:
		return "NONE"
	}
}

// MarshalText renders the role name in JSON output.
func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// ServerInfo describes a running server session.
type ServerInfo struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Address     string    `json:"address"`
	Port        uint16    `json:"port"`
	Status      Status    `json:"status"`
	StartedAt   time.Time `json:"started_at"`
	ClientCount int       `json:"client_count"`
	MaxClients  int       `json:"max_clients"`

	Peers []transport.ConnectionRecord `json:"peers,omitempty"`
}

// ClientInfo describes a client session.
type ClientInfo struct {
	ID            uuid.UUID `json:"id"`
	ServerAddress string    `json:"server_address"`
	ServerPort    uint16    `json:"server_port"`
	Status        Status    `json:"status"`
	ConnectedAt   time.Time `json:"connected_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	Secured       bool      `json:"secured"`
}

// Info is a snapshot of the session slot. At most one of Server and Client
// is set.
type Info struct {
	Role      Role        `json:"role"`
	Status    Status      `json:"status"`
	LastError string      `json:"last_error,omitempty"`
	Server    *ServerInfo `json:"server,omitempty"`
	Client    *ClientInfo `json:"client,omitempty"`
}
