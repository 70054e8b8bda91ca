package discovery

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/tcpmsg/tcpmsg-go/pkg/config"
	"github.com/tcpmsg/tcpmsg-go/pkg/msgerr"
)

// Config configures UDP discovery.
type Config struct {
	// Port is the discovery port (default: 9000).
	Port uint16

	// Timeout bounds one Discover call (default: 5s).
	Timeout time.Duration

	// BroadcastInterval is the announce period (default: 30s).
	BroadcastInterval time.Duration

	// BroadcastAddr is the destination host of broadcasts
	// (default: 255.255.255.255).
	BroadcastAddr string

	// Logger is the optional logger for debug output.
	// If nil, logging is disabled.
	Logger *slog.Logger
}

// FromConfig maps the discovery section of the configuration file.
func FromConfig(c config.DiscoveryConfig) Config {
	return Config{
		Port:              c.ListenPort,
		Timeout:           c.Timeout,
		BroadcastInterval: c.BroadcastInterval,
	}
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.BroadcastInterval <= 0 {
		c.BroadcastInterval = DefaultBroadcastInterval
	}
	if c.BroadcastAddr == "" {
		c.BroadcastAddr = net.IPv4bcast.String()
	}
}

func (c *Config) broadcastTarget() (*net.UDPAddr, error) {
	return net.ResolveUDPAddr("udp4", net.JoinHostPort(c.BroadcastAddr, strconv.Itoa(int(c.Port))))
}

// Service discovers servers by UDP broadcast.
type Service struct {
	config Config
	cache  *cache
}

// NewService creates a discovery client.
func NewService(cfg Config) *Service {
	cfg.applyDefaults()
	return &Service{config: cfg, cache: newCache()}
}

// Discover broadcasts one ClientRequest and collects answers until the
// timeout elapses or ctx is done. It returns the servers seen during this
// call, deduplicated by id.
func (s *Service) Discover(ctx context.Context) ([]DiscoveredServer, error) {
	target, err := s.config.broadcastTarget()
	if err != nil {
		return nil, msgerr.Config("discovery", err)
	}

	pc, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return nil, msgerr.Network("discovery listen", err)
	}
	defer pc.Close()

	req, err := (&Record{Kind: KindClientRequest, Timestamp: time.Now().Unix()}).Encode()
	if err != nil {
		return nil, msgerr.Serialization("discovery request", err)
	}
	if _, err := pc.WriteTo(req, target); err != nil {
		return nil, msgerr.Network("discovery request", err)
	}
	s.debugLog("discovery request sent", "target", target.String())

	deadline := time.Now().Add(s.config.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	seen := make(map[uuid.UUID]struct{})
	var found []uuid.UUID
	buf := make([]byte, MaxDatagramSize)

	for ctx.Err() == nil {
		now := time.Now()
		if !now.Before(deadline) {
			break
		}
		step := now.Add(pollInterval)
		if step.After(deadline) {
			step = deadline
		}
		if err := pc.SetReadDeadline(step); err != nil {
			return nil, msgerr.Network("discovery", err)
		}

		n, addr, err := pc.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			return nil, msgerr.Network("discovery read", err)
		}

		rec, err := DecodeRecord(buf[:n])
		if err != nil {
			s.debugLog("ignoring datagram", "from", addr.String(), "error", err)
			continue
		}
		if rec.Kind == KindClientRequest {
			continue
		}

		srv := s.observe(rec, addr)
		if _, ok := seen[srv.ID]; !ok {
			seen[srv.ID] = struct{}{}
			found = append(found, srv.ID)
			s.debugLog("server discovered", "id", srv.ID, "name", srv.Name, "addr", srv.HostPort())
		}
	}

	out := make([]DiscoveredServer, 0, len(found))
	for _, id := range found {
		if srv, ok := s.cache.get(id); ok {
			out = append(out, srv)
		}
	}
	return out, nil
}

// Cached returns every server seen so far, in first-seen order.
func (s *Service) Cached() []DiscoveredServer {
	return s.cache.list()
}

// ClearCache forgets all discovered servers.
func (s *Service) ClearCache() {
	s.cache.clear()
}

func (s *Service) observe(rec *Record, from net.Addr) DiscoveredServer {
	host := from.String()
	if ua, ok := from.(*net.UDPAddr); ok {
		host = ua.IP.String()
	}
	seen := rec.Time()
	if seen.IsZero() {
		seen = time.Now().UTC()
	}
	return s.cache.observe(rec.ServerID, rec.ServerName, host, rec.ServerPort, seen)
}

func (s *Service) debugLog(msg string, args ...any) {
	if s.config.Logger != nil {
		s.config.Logger.Debug(msg, args...)
	}
}
