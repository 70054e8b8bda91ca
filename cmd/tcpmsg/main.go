// Command tcpmsg runs a messenger node.
//
// Usage:
//
//	tcpmsg serve [--port N] [--interactive]
//	tcpmsg connect <host> [port] | --discover
//	tcpmsg discover [--mdns] [--timeout 5s]
//	tcpmsg log view|stats <file.tlog>
//	tcpmsg fingerprint [--curve P-256] [hex-public-key]
//	tcpmsg config init|show
//
// The configuration file defaults to ~/.tcpmsg/config.yaml and is optional.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tcpmsg/tcpmsg-go/pkg/config"
	"github.com/tcpmsg/tcpmsg-go/pkg/version"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath  string
	logLevel    string
	name        string
	protocolLog string
	noEncrypt   bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:           "tcpmsg",
		Short:         "Peer-to-peer TCP messenger",
		Version:       fmt.Sprintf("%s (protocol %s)", version.App, version.Current),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&g.configPath, "config", config.DefaultPath(), "configuration file")
	pf.StringVar(&g.logLevel, "log-level", "", "override logging level (debug, info, warn, error)")
	pf.StringVar(&g.name, "name", "", "override the announced node name")
	pf.StringVar(&g.protocolLog, "protocol-log", "", "capture protocol events to this file")
	pf.BoolVar(&g.noEncrypt, "no-encrypt", false, "disable payload encryption")

	root.AddCommand(
		newServeCmd(g),
		newConnectCmd(g),
		newDiscoverCmd(g),
		newLogCmd(),
		newFingerprintCmd(g),
		newConfigCmd(g),
	)
	return root
}

// loadConfig reads the configuration file and applies flag overrides.
func (g *globalFlags) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, err
	}
	if g.logLevel != "" {
		cfg.Logging.Level = g.logLevel
	}
	if g.name != "" {
		cfg.App.Name = g.name
	}
	if g.protocolLog != "" {
		cfg.Logging.ProtocolLog = g.protocolLog
	}
	if g.noEncrypt {
		cfg.Security.EncryptionEnabled = false
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
