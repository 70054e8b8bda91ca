package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/tcpmsg/tcpmsg-go/pkg/config"
	"github.com/tcpmsg/tcpmsg-go/pkg/discovery"
)

// errNoServers is returned by --discover when nobody answered.
var errNoServers = errors.New("no servers found")

func newConnectCmd(g *globalFlags) *cobra.Command {
	var (
		discover    bool
		interactive bool
		send        string
	)
	cmd := &cobra.Command{
		Use:   "connect [host] [port]",
		Short: "Connect to a server",
		Long: `Connect to a server. The port defaults to the start of the configured
range. With --discover the first server found on the network is used.`,
		Args: cobra.RangeArgs(0, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			host, port, err := resolveTarget(ctx, cfg, args, discover, cfg.NewLogger(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}

			c, err := openConsole(cmd, interactive, "client> ")
			if err != nil {
				return err
			}
			n, err := newNode(cfg, c.log)
			if err != nil {
				return err
			}
			defer n.close()

			if err := n.connect(ctx, host, port); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "Connected to %s\n", net.JoinHostPort(host, strconv.Itoa(int(port))))

			if send != "" {
				sh := &shell{n: n, out: c.out}
				sh.cmdSend(ctx, send)
			}
			return supervise(ctx, n, c)
		},
	}
	cmd.Flags().BoolVarP(&discover, "discover", "d", false, "connect to the first discovered server")
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "start the interactive shell")
	cmd.Flags().StringVar(&send, "send", "", "send one text message after connecting")
	return cmd
}

// resolveTarget picks the server address from the arguments or discovery.
func resolveTarget(ctx context.Context, cfg *config.Config, args []string, discover bool, logger *slog.Logger) (string, uint16, error) {
	if discover {
		if len(args) > 0 {
			return "", 0, errors.New("--discover takes no arguments")
		}
		servers, err := discoverServers(ctx, cfg, false, logger)
		if err != nil {
			return "", 0, err
		}
		if len(servers) == 0 {
			return "", 0, errNoServers
		}
		return servers[0].Address, servers[0].Port, nil
	}

	if len(args) == 0 {
		return "", 0, errors.New("host required (or use --discover)")
	}
	port := cfg.Network.Server.PortRange[0]
	if len(args) == 2 {
		p, err := strconv.ParseUint(args[1], 10, 16)
		if err != nil || p == 0 {
			return "", 0, fmt.Errorf("invalid port %q", args[1])
		}
		port = uint16(p)
	}
	return args[0], port, nil
}

// discoverServers runs one discovery round on the selected backend.
func discoverServers(ctx context.Context, cfg *config.Config, mdns bool, logger *slog.Logger) ([]discovery.DiscoveredServer, error) {
	d := cfg.Network.Discovery
	if mdns || d.MDNS {
		mc := discovery.DefaultMDNSConfig()
		mc.Logger = logger
		return discovery.NewMDNSBrowser(mc).Discover(ctx, d.Timeout)
	}
	dc := discovery.FromConfig(d)
	dc.Logger = logger
	return discovery.NewService(dc).Discover(ctx)
}
