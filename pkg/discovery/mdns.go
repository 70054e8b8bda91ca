package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/enbility/zeroconf/v3"
	"github.com/google/uuid"
	"github.com/tcpmsg/tcpmsg-go/pkg/version"
)

// MDNSConfig configures the mDNS backend.
type MDNSConfig struct {
	// Interface specifies which network interface to use.
	// Empty string means all interfaces.
	Interface string

	// TTL is the DNS record TTL.
	// Default: 120 seconds.
	TTL time.Duration

	// Logger is the optional logger for debug output.
	// If nil, logging is disabled.
	Logger *slog.Logger
}

// DefaultMDNSConfig returns the default mDNS configuration.
func DefaultMDNSConfig() MDNSConfig {
	return MDNSConfig{TTL: 120 * time.Second}
}

// interfaces returns the network interfaces to use. nil means all.
func (c MDNSConfig) interfaces() []net.Interface {
	if c.Interface == "" {
		return nil
	}
	iface, err := net.InterfaceByName(c.Interface)
	if err != nil {
		return nil
	}
	return []net.Interface{*iface}
}

// MDNSAdvertiser registers a server as a DNS-SD instance.
type MDNSAdvertiser struct {
	config MDNSConfig

	mu     sync.Mutex
	server *zeroconf.Server
}

// NewMDNSAdvertiser creates a new mDNS advertiser.
func NewMDNSAdvertiser(config MDNSConfig) *MDNSAdvertiser {
	return &MDNSAdvertiser{config: config}
}

// StartAnnouncing registers the server, replacing an earlier registration.
func (a *MDNSAdvertiser) StartAnnouncing(id uuid.UUID, name string, port uint16) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}

	txt := TXTRecordsToStrings(EncodeServerTXT(ServerTXT{ID: id, Name: name, Major: version.Local().Major}))

	var opts []zeroconf.ServerOption
	if a.config.TTL > 0 {
		opts = append(opts, zeroconf.TTL(uint32(a.config.TTL.Seconds())))
	}

	server, err := zeroconf.Register(
		InstanceName(name, id),
		ServiceType,
		Domain,
		int(port),
		txt,
		a.config.interfaces(),
		opts...,
	)
	if err != nil {
		return fmt.Errorf("failed to register service: %w", err)
	}
	a.server = server
	return nil
}

// StopAnnouncing removes the registration.
func (a *MDNSAdvertiser) StopAnnouncing() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
	return nil
}

// MDNSBrowser finds servers registered over mDNS.
type MDNSBrowser struct {
	config MDNSConfig
	cache  *cache
}

// NewMDNSBrowser creates a new mDNS browser.
func NewMDNSBrowser(config MDNSConfig) *MDNSBrowser {
	return &MDNSBrowser{config: config, cache: newCache()}
}

// Browse emits each server once per id until ctx is done. A server that
// disappeared from every interface is emitted again when it comes back.
func (b *MDNSBrowser) Browse(ctx context.Context) (<-chan DiscoveredServer, error) {
	out := make(chan DiscoveredServer)

	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	go func() {
		defer close(out)

		// Instance name to live addresses.
		live := make(map[string][]string)
		gone := (<-chan *zeroconf.ServiceEntry)(removed)

		for {
			select {
			case e, ok := <-entries:
				if !ok {
					return
				}
				entry := fromZeroconf(e)
				srv, ok := entry.server(time.Now().UTC())
				if !ok {
					continue
				}
				_, known := live[entry.Instance]
				live[entry.Instance] = mergeAddresses(live[entry.Instance], entry.addresses())
				if known {
					continue
				}
				srv = b.cache.observe(srv.ID, srv.Name, srv.Address, srv.Port, srv.LastSeen)
				select {
				case out <- srv:
				case <-ctx.Done():
					return
				}

			case e, ok := <-gone:
				if !ok {
					gone = nil
					continue
				}
				entry := fromZeroconf(e)
				if addrs, found := live[entry.Instance]; found {
					addrs = removeAddresses(addrs, entry.addresses())
					if len(addrs) == 0 {
						delete(live, entry.Instance)
					} else {
						live[entry.Instance] = addrs
					}
				}

			case <-ctx.Done():
				return
			}
		}
	}()

	var opts []zeroconf.ClientOption
	if ifaces := b.config.interfaces(); ifaces != nil {
		opts = append(opts, zeroconf.SelectIfaces(ifaces))
	}
	go func() {
		if err := zeroconf.Browse(ctx, ServiceType, Domain, entries, removed, opts...); err != nil {
			b.debugLog("mdns browse failed", "error", err)
		}
	}()

	return out, nil
}

// Discover browses for timeout and returns the servers found.
func (b *MDNSBrowser) Discover(ctx context.Context, timeout time.Duration) ([]DiscoveredServer, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	results, err := b.Browse(ctx)
	if err != nil {
		return nil, err
	}
	var out []DiscoveredServer
	for srv := range results {
		out = append(out, srv)
	}
	return out, nil
}

// Cached returns every server seen so far.
func (b *MDNSBrowser) Cached() []DiscoveredServer {
	return b.cache.list()
}

func (b *MDNSBrowser) debugLog(msg string, args ...any) {
	if b.config.Logger != nil {
		b.config.Logger.Debug(msg, args...)
	}
}

// serviceEntry is the subset of a DNS-SD answer the browser uses.
type serviceEntry struct {
	Instance string
	Port     int
	Text     []string
	IPv4     []net.IP
	IPv6     []net.IP
}

func fromZeroconf(e *zeroconf.ServiceEntry) serviceEntry {
	return serviceEntry{
		Instance: e.Instance,
		Port:     e.Port,
		Text:     e.Text,
		IPv4:     e.AddrIPv4,
		IPv6:     e.AddrIPv6,
	}
}

func (e serviceEntry) addresses() []string {
	addrs := make([]string, 0, len(e.IPv4)+len(e.IPv6))
	for _, ip := range e.IPv4 {
		addrs = append(addrs, ip.String())
	}
	for _, ip := range e.IPv6 {
		addrs = append(addrs, ip.String())
	}
	return addrs
}

// server converts the entry. IPv4 addresses are preferred.
func (e serviceEntry) server(seen time.Time) (DiscoveredServer, bool) {
	info, err := DecodeServerTXT(StringsToTXTRecords(e.Text))
	if err != nil || e.Port <= 0 || e.Port > 0xffff {
		return DiscoveredServer{}, false
	}
	addrs := e.addresses()
	if len(addrs) == 0 {
		return DiscoveredServer{}, false
	}
	name := info.Name
	if name == "" {
		name = e.Instance
	}
	return DiscoveredServer{
		ID:        info.ID,
		Name:      name,
		Address:   addrs[0],
		Port:      uint16(e.Port),
		FirstSeen: seen,
		LastSeen:  seen,
	}, true
}

// mergeAddresses adds new addresses to existing list, avoiding duplicates.
func mergeAddresses(existing, add []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, addr := range existing {
		seen[addr] = true
	}
	for _, addr := range add {
		if !seen[addr] {
			existing = append(existing, addr)
			seen[addr] = true
		}
	}
	return existing
}

// removeAddresses drops every address in remove from addresses.
func removeAddresses(addresses, remove []string) []string {
	drop := make(map[string]bool, len(remove))
	for _, addr := range remove {
		drop[addr] = true
	}
	result := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		if !drop[addr] {
			result = append(result, addr)
		}
	}
	return result
}
