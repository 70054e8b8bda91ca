package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newDiscoverCmd(g *globalFlags) *cobra.Command {
	var (
		mdns    bool
		timeout time.Duration
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "List servers on the local network",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			if timeout > 0 {
				cfg.Network.Discovery.Timeout = timeout
			}

			servers, err := discoverServers(cmd.Context(), cfg, mdns, cfg.NewLogger(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(servers)
			}
			if len(servers) == 0 {
				fmt.Fprintln(out, "No servers found.")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tADDRESS\tID\tLAST SEEN")
			for _, s := range servers {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.Name, s.HostPort(), s.ID, s.LastSeen.Local().Format(time.TimeOnly))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&mdns, "mdns", false, "browse mDNS instead of UDP broadcast")
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 0, "how long to wait for answers (default from config)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}
