package discovery

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/tcpmsg/tcpmsg-go/pkg/wire"
)

// Service constants.
const (
	// DefaultPort is the UDP discovery port.
	DefaultPort = 9000

	// ServiceType is the DNS-SD service type.
	ServiceType = "_tcpmsg._tcp"

	// Domain is the mDNS domain.
	Domain = "local."
)

// Timing constants.
const (
	// DefaultTimeout bounds one Discover call.
	DefaultTimeout = 5 * time.Second

	// DefaultBroadcastInterval is the announce period.
	DefaultBroadcastInterval = 30 * time.Second

	// pollInterval is the read deadline step while collecting responses.
	pollInterval = 100 * time.Millisecond
)

// Limits.
const (
	// MaxDatagramSize bounds a discovery datagram.
	MaxDatagramSize = 1024

	// MaxInstanceNameLen is the DNS label limit.
	MaxInstanceNameLen = 63
)

// Errors.
var (
	ErrInvalidDatagram     = errors.New("invalid discovery datagram")
	ErrMissingRequired     = errors.New("missing required TXT record")
	ErrInvalidTXTRecord    = errors.New("invalid TXT record")
	ErrIncompatibleVersion = errors.New("incompatible protocol version")
	ErrAlreadyRunning      = errors.New("announcer already running")
)

// Kind is the discovery datagram type.
type Kind uint8

const (
	KindServerAnnounce Kind = iota + 1
	KindClientRequest
	KindServerResponse
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindServerAnnounce:
		return "ServerAnnounce"
	case KindClientRequest:
		return "ClientRequest"
	case KindServerResponse:
		return "ServerResponse"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Record is one discovery datagram.
type Record struct {
	Kind       Kind      `cbor:"1,keyasint"`
	ServerID   uuid.UUID `cbor:"2,keyasint"`
	ServerName string    `cbor:"3,keyasint,omitempty"`
	ServerPort uint16    `cbor:"4,keyasint,omitempty"`
	// Timestamp is the send time in unix seconds.
	Timestamp int64 `cbor:"5,keyasint"`
}

// Time returns Timestamp as a UTC time, or the zero time when unset.
func (r *Record) Time() time.Time {
	if r.Timestamp == 0 {
		return time.Time{}
	}
	return time.Unix(r.Timestamp, 0).UTC()
}

// Encode serializes r.
func (r *Record) Encode() ([]byte, error) {
	return wire.Marshal(r)
}

// DecodeRecord parses and validates a datagram.
func DecodeRecord(data []byte) (*Record, error) {
	if len(data) == 0 || len(data) > MaxDatagramSize {
		return nil, ErrInvalidDatagram
	}
	var r Record
	if err := wire.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDatagram, err)
	}
	switch r.Kind {
	case KindServerAnnounce, KindServerResponse:
		if r.ServerID == uuid.Nil || r.ServerPort == 0 {
			return nil, fmt.Errorf("%w: incomplete %s", ErrInvalidDatagram, r.Kind)
		}
	case KindClientRequest:
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidDatagram, r.Kind)
	}
	return &r, nil
}

// DiscoveredServer is a server found on the network.
type DiscoveredServer struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	Port      uint16    `json:"port"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// HostPort returns the dial address of the server.
func (s DiscoveredServer) HostPort() string {
	return net.JoinHostPort(s.Address, fmt.Sprint(s.Port))
}
