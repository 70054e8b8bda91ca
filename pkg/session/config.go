package session

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tcpmsg/tcpmsg-go/pkg/config"
	"github.com/tcpmsg/tcpmsg-go/pkg/log"
	"github.com/tcpmsg/tcpmsg-go/pkg/store"
	"github.com/tcpmsg/tcpmsg-go/pkg/transport"
)

// Default queue sizes.
const (
	DefaultOutboundCapacity = 1000
	DefaultInboundCapacity  = 1000
)

// Announcer advertises a running server. Implemented by
// discovery.Announcer and discovery.MDNSAdvertiser.
type Announcer interface {
	StartAnnouncing(id uuid.UUID, name string, port uint16) error
	StopAnnouncing() error
}

// Config configures a Manager.
type Config struct {
	// Name is the announced server name.
	Name string

	// LocalID is the sender id of generated messages (default: random).
	LocalID uuid.UUID

	// ListenHost is the server bind host (default: 127.0.0.1).
	ListenHost string

	// PortRange is searched by StartServer when no port is given.
	// A zero range binds an ephemeral port.
	PortRange [2]uint16

	MaxClients        int
	HeartbeatInterval time.Duration
	ConnectionTimeout time.Duration

	// ConnectTimeout is the client dial timeout.
	ConnectTimeout time.Duration

	// DisableClientHeartbeats stops the client from sending heartbeats.
	DisableClientHeartbeats bool

	MaxMessageSize uint32
	Security       transport.SecurityConfig

	// MessageTimeout bounds each write of a queued message. Zero waits for
	// as long as the session lives.
	MessageTimeout time.Duration

	OutboundCapacity int
	InboundCapacity  int

	// Store records sent and received messages (optional).
	Store store.Store

	// Announcer is started with every server session (optional).
	Announcer Announcer

	// FileFilter rejects outbound files by name (optional).
	FileFilter func(name string) bool

	// MaxFileSize rejects larger outbound files. Zero means unlimited.
	MaxFileSize uint64

	ProtocolLogger log.Logger

	// Logger is the optional logger for debug output.
	// If nil, logging is disabled.
	Logger *slog.Logger

	// OnConnectionLost is called when a client session ends without a
	// local Disconnect.
	OnConnectionLost func(err error)
}

// FromConfig maps the configuration file onto a session Config.
func FromConfig(c *config.Config) Config {
	cfg := Config{
		Name:                    c.App.Name,
		ListenHost:              c.ListenHost(),
		PortRange:               c.Network.Server.PortRange,
		MaxClients:              c.Network.Server.MaxClients,
		HeartbeatInterval:       c.Network.Server.HeartbeatInterval,
		ConnectionTimeout:       c.Network.Server.ConnectionTimeout,
		ConnectTimeout:          c.Network.Client.ConnectionTimeout,
		DisableClientHeartbeats: !c.Network.Client.KeepAlive,
		MaxMessageSize:          c.Security.MaxMessageSize,
		MessageTimeout:          c.Network.Server.MessageTimeout,
		Security: transport.SecurityConfig{
			Enabled:           c.Security.EncryptionEnabled,
			Cipher:            c.CipherSuite(),
			Curve:             c.ECDHCurve(),
			RotationThreshold: c.Security.KeyRotationInterval,
		},
		MaxFileSize: c.Security.MaxFileSize,
	}
	if len(c.Security.AllowedFileTypes) > 0 {
		cfg.FileFilter = c.IsFileTypeAllowed
	}
	return cfg
}

func (c *Config) applyDefaults() {
	if c.LocalID == uuid.Nil {
		c.LocalID = uuid.New()
	}
	if c.ListenHost == "" {
		c.ListenHost = "127.0.0.1"
	}
	if c.OutboundCapacity <= 0 {
		c.OutboundCapacity = DefaultOutboundCapacity
	}
	if c.InboundCapacity <= 0 {
		c.InboundCapacity = DefaultInboundCapacity
	}
}
