package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// console is where a running node writes.
type console struct {
	out io.Writer
	log io.Writer
	rl  *readline.Instance
}

// openConsole routes output through readline in interactive mode so log
// lines do not overwrite the prompt.
func openConsole(cmd *cobra.Command, interactive bool, prompt string) (*console, error) {
	c := &console{out: cmd.OutOrStdout(), log: cmd.ErrOrStderr()}
	if !interactive {
		return c, nil
	}
	rl, err := newShell(prompt)
	if err != nil {
		return nil, err
	}
	c.rl = rl
	c.out = rl.Stdout()
	c.log = rl.Stderr()
	return c, nil
}

// supervise prints incoming messages and runs the shell, if any, until ctx
// is done or the user quits.
func supervise(ctx context.Context, n *node, c *console) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return n.printMessages(ctx, c.out) })
	if c.rl != nil {
		sh := &shell{n: n, rl: c.rl, out: c.out}
		g.Go(func() error { return sh.run(ctx) })
	}
	if err := g.Wait(); err != nil && !errors.Is(err, errQuit) {
		return err
	}
	return nil
}

func newServeCmd(g *globalFlags) *cobra.Command {
	var (
		port        uint16
		interactive bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start a server and wait for clients",
		Long: `Start a server session. Without --port the first free port of the
configured range is used. The server is announced on the discovery port
unless discovery is disabled in the configuration.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			c, err := openConsole(cmd, interactive, "server> ")
			if err != nil {
				return err
			}
			n, err := newNode(cfg, c.log)
			if err != nil {
				return err
			}
			defer n.close()

			ctx := cmd.Context()
			info, err := n.session.StartServer(ctx, port)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "Listening on %s:%d as %q (id %s)\n", info.Address, info.Port, info.Name, info.ID)
			if cfg.Security.EncryptionEnabled {
				fmt.Fprintf(c.out, "Encryption: %s with %s key exchange\n", cfg.CipherSuite(), cfg.ECDHCurve())
			}

			return supervise(ctx, n, c)
		},
	}
	cmd.Flags().Uint16VarP(&port, "port", "p", 0, "listen port (default: first free port of the range)")
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "start the interactive shell")
	return cmd
}
