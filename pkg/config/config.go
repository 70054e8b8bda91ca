package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tcpmsg/tcpmsg-go/pkg/msgerr"
	"github.com/tcpmsg/tcpmsg-go/pkg/secure"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the complete configuration.
type Config struct {
	App      AppConfig      `yaml:"app"`
	Network  NetworkConfig  `yaml:"network"`
	Security SecurityConfig `yaml:"security"`
	Storage  StorageConfig  `yaml:"storage"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// AppConfig identifies this node.
type AppConfig struct {
	// Name is announced during discovery. Defaults to the host name.
	Name string `yaml:"name"`
}

// NetworkConfig groups the socket settings.
type NetworkConfig struct {
	Server    ServerConfig    `yaml:"server"`
	Client    ClientConfig    `yaml:"client"`
	Discovery DiscoveryConfig `yaml:"discovery"`
}

// ServerConfig configures the listening side.
type ServerConfig struct {
	// PortRange is searched when no explicit port is requested.
	PortRange         [2]uint16     `yaml:"port_range,flow"`
	MaxClients        int           `yaml:"max_clients"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	// ConnectionTimeout is the idle time after which a silent peer is dropped.
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
	MessageTimeout    time.Duration `yaml:"message_timeout"`
	BindAllInterfaces bool          `yaml:"bind_all_interfaces"`
}

// ClientConfig configures the dialing side.
type ClientConfig struct {
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryDelay        time.Duration `yaml:"retry_delay"`
	AutoReconnect     bool          `yaml:"auto_reconnect"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
	KeepAlive         bool          `yaml:"keep_alive"`
}

// DiscoveryConfig configures UDP broadcast and mDNS discovery.
type DiscoveryConfig struct {
	Enabled           bool          `yaml:"enabled"`
	BroadcastInterval time.Duration `yaml:"broadcast_interval"`
	ListenPort        uint16        `yaml:"listen_port"`
	ServiceName       string        `yaml:"service_name"`
	Timeout           time.Duration `yaml:"timeout"`
	MDNS              bool          `yaml:"mdns"`
}

// SecurityConfig configures key exchange and limits.
type SecurityConfig struct {
	EncryptionEnabled bool `yaml:"encryption_enabled"`
	// KeyRotationInterval is a message count; 0 disables rotation.
	KeyRotationInterval uint64   `yaml:"key_rotation_interval"`
	MaxMessageSize      uint32   `yaml:"max_message_size"`
	AllowedFileTypes    []string `yaml:"allowed_file_types"`
	MaxFileSize         uint64   `yaml:"max_file_size"`
	Cipher              string   `yaml:"cipher"`
	Curve               string   `yaml:"curve"`
}

// StorageConfig configures the message store.
type StorageConfig struct {
	// Backend is "memory" or "file".
	Backend              string `yaml:"backend"`
	DataDirectory        string `yaml:"data_directory"`
	MaxMessages          int    `yaml:"max_messages"`
	MessageRetentionDays int    `yaml:"message_retention_days"`
}

// LoggingConfig configures operational and protocol logging.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`
	// Format is text or json.
	Format string `yaml:"format"`
	// ProtocolLog, when set, captures protocol events to this file.
	ProtocolLog string `yaml:"protocol_log"`
}

// Default returns the built-in configuration.
func Default() *Config {
	name, err := os.Hostname()
	if err != nil || name == "" {
		name = "tcp-messenger"
	}
	return &Config{
		App: AppConfig{Name: name},
		Network: NetworkConfig{
			Server: ServerConfig{
				PortRange:         [2]uint16{8000, 8100},
				MaxClients:        1,
				HeartbeatInterval: 30 * time.Second,
				ConnectionTimeout: 60 * time.Second,
				MessageTimeout:    5 * time.Second,
				BindAllInterfaces: true,
			},
			Client: ClientConfig{
				ConnectionTimeout: 10 * time.Second,
				RetryAttempts:     3,
				RetryDelay:        1000 * time.Millisecond,
				AutoReconnect:     true,
				ReconnectDelay:    5 * time.Second,
				KeepAlive:         true,
			},
			Discovery: DiscoveryConfig{
				Enabled:           true,
				BroadcastInterval: 30 * time.Second,
				ListenPort:        9000,
				ServiceName:       "tcp-messenger",
				Timeout:           5 * time.Second,
			},
		},
		Security: SecurityConfig{
			EncryptionEnabled:   true,
			KeyRotationInterval: secure.DefaultRotationThreshold,
			MaxMessageSize:      1 << 20,
			AllowedFileTypes:    []string{".txt", ".pdf", ".jpg", ".jpeg", ".png", ".gif", ".zip", ".doc", ".docx"},
			MaxFileSize:         100 << 20,
			Cipher:              secure.DefaultCipher.String(),
			Curve:               secure.DefaultCurve.String(),
		},
		Storage: StorageConfig{
			Backend:              "memory",
			DataDirectory:        defaultDataDir(),
			MaxMessages:          10000,
			MessageRetentionDays: 30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func defaultDataDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "tcp-messenger")
}

// DefaultPath is the conventional configuration file location.
func DefaultPath() string {
	return filepath.Join(defaultDataDir(), "config.yaml")
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, msgerr.Config("parse", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads path. A missing file yields Default().
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, msgerr.Config("load", err)
	}
	return Parse(data)
}

// Save writes c to path as YAML, creating parent directories.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return msgerr.Config("save", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return msgerr.Config("save", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return msgerr.Config("save", err)
	}
	return nil
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return msgerr.Config("validate", fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...)))
	}

	s := c.Network.Server
	if s.PortRange[0] == 0 || s.PortRange[0] > s.PortRange[1] {
		return invalid("port range %d-%d", s.PortRange[0], s.PortRange[1])
	}
	if s.MaxClients <= 0 {
		return invalid("max_clients must be greater than 0")
	}
	if s.HeartbeatInterval <= 0 || s.ConnectionTimeout <= 0 {
		return invalid("server heartbeat_interval and connection_timeout must be positive")
	}
	if s.ConnectionTimeout < s.HeartbeatInterval {
		return invalid("server connection_timeout %s shorter than heartbeat_interval %s", s.ConnectionTimeout, s.HeartbeatInterval)
	}

	cl := c.Network.Client
	if cl.ConnectionTimeout <= 0 {
		return invalid("client connection_timeout must be positive")
	}
	if cl.RetryAttempts < 0 || cl.RetryDelay < 0 {
		return invalid("client retry settings must not be negative")
	}

	d := c.Network.Discovery
	if d.Enabled {
		if d.ListenPort == 0 {
			return invalid("discovery listen_port must be set")
		}
		if d.BroadcastInterval <= 0 || d.Timeout <= 0 {
			return invalid("discovery intervals must be positive")
		}
	}

	sec := c.Security
	if sec.MaxMessageSize == 0 {
		return invalid("max_message_size must be greater than 0")
	}
	if sec.MaxFileSize == 0 {
		return invalid("max_file_size must be greater than 0")
	}
	if _, err := secure.ParseCipher(sec.Cipher); err != nil {
		return invalid("%v", err)
	}
	if _, err := secure.ParseCurve(sec.Curve); err != nil {
		return invalid("%v", err)
	}

	switch c.Storage.Backend {
	case "memory", "file":
	default:
		return invalid("storage backend %q", c.Storage.Backend)
	}
	if c.Storage.MessageRetentionDays <= 0 {
		return invalid("message_retention_days must be greater than 0")
	}

	if _, err := parseLevel(c.Logging.Level); err != nil {
		return invalid("%v", err)
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return invalid("log format %q", c.Logging.Format)
	}
	return nil
}

// CipherSuite returns the configured AEAD.
func (c *Config) CipherSuite() secure.Cipher {
	ci, err := secure.ParseCipher(c.Security.Cipher)
	if err != nil {
		return secure.DefaultCipher
	}
	return ci
}

// ECDHCurve returns the configured curve.
func (c *Config) ECDHCurve() secure.Curve {
	cu, err := secure.ParseCurve(c.Security.Curve)
	if err != nil {
		return secure.DefaultCurve
	}
	return cu
}

// IsFileTypeAllowed reports whether the extension of name is allowed.
func (c *Config) IsFileTypeAllowed(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return false
	}
	for _, allowed := range c.Security.AllowedFileTypes {
		if strings.ToLower(allowed) == ext {
			return true
		}
	}
	return false
}

// ListenHost returns the host to bind the server on.
func (c *Config) ListenHost() string {
	if c.Network.Server.BindAllInterfaces {
		return "0.0.0.0"
	}
	return "127.0.0.1"
}

// NextAvailablePort returns the first port in the server range that can be
// bound right now.
func (c *Config) NextAvailablePort() (uint16, error) {
	r := c.Network.Server.PortRange
	for p := uint32(r[0]); p <= uint32(r[1]); p++ {
		ln, err := net.Listen("tcp", net.JoinHostPort(c.ListenHost(), strconv.Itoa(int(p))))
		if err == nil {
			ln.Close()
			return uint16(p), nil
		}
	}
	return 0, msgerr.Config("port", fmt.Errorf("no available port in %d-%d", r[0], r[1]))
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug", "trace":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("log level %q", s)
}

// NewLogger builds the operational logger described by the logging section.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.Logging.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
