package main

import (
	"github.com/spf13/cobra"
	"github.com/tcpmsg/tcpmsg-go/cmd/tcpmsg/commands"
)

func newLogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Inspect protocol capture files",
		Long: `Inspect capture files written with --protocol-log or the
logging.protocol_log setting.`,
	}
	cmd.AddCommand(newLogViewCmd(), newLogStatsCmd())
	return cmd
}

func newLogViewCmd() *cobra.Command {
	var layer, direction, category, connID string
	cmd := &cobra.Command{
		Use:   "view <file.tlog>",
		Short: "View a capture file in human-readable format",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := commands.ViewFilter{ConnectionID: connID}
			if layer != "" {
				l, err := commands.ParseLayerFlag(layer)
				if err != nil {
					return err
				}
				filter.Layer = &l
			}
			if direction != "" {
				d, err := commands.ParseDirectionFlag(direction)
				if err != nil {
					return err
				}
				filter.Direction = &d
			}
			if category != "" {
				c, err := commands.ParseCategoryFlag(category)
				if err != nil {
					return err
				}
				filter.Category = &c
			}
			return commands.RunView(args[0], filter, cmd.OutOrStdout())
		},
	}
	f := cmd.Flags()
	f.StringVar(&layer, "layer", "", "filter by layer (transport, secure, session)")
	f.StringVar(&direction, "direction", "", "filter by direction (in, out)")
	f.StringVar(&category, "category", "", "filter by category (message, control, state, error)")
	f.StringVar(&connID, "conn-id", "", "filter by connection id")
	return cmd
}

func newLogStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <file.tlog>",
		Short: "Show statistics about a capture file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return commands.RunStats(args[0], cmd.OutOrStdout())
		},
	}
}
