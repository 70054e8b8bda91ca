package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/tcpmsg/tcpmsg-go/pkg/config"
	"github.com/tcpmsg/tcpmsg-go/pkg/discovery"
	"github.com/tcpmsg/tcpmsg-go/pkg/log"
	"github.com/tcpmsg/tcpmsg-go/pkg/message"
	"github.com/tcpmsg/tcpmsg-go/pkg/reconnect"
	"github.com/tcpmsg/tcpmsg-go/pkg/session"
	"github.com/tcpmsg/tcpmsg-go/pkg/store"
)

// node bundles one session manager with its collaborators.
type node struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   store.Store
	capture *log.FileLogger
	session *session.Manager

	// redial is set while a client session is supervised.
	redial atomic.Pointer[reconnect.Manager]
}

// newNode wires a session manager from cfg. Operational logs go to logOut.
func newNode(cfg *config.Config, logOut io.Writer) (*node, error) {
	n := &node{cfg: cfg, logger: cfg.NewLogger(logOut)}

	st, err := store.Open(cfg.Storage)
	if err != nil {
		return nil, err
	}
	n.store = st
	if days := cfg.Storage.MessageRetentionDays; days > 0 {
		cutoff := time.Now().AddDate(0, 0, -days)
		if pruned, err := st.Prune(cutoff); err != nil {
			n.logger.Warn("pruning message history failed", "error", err)
		} else if pruned > 0 {
			n.logger.Info("pruned message history", "removed", pruned)
		}
	}

	var protocol log.Logger
	if path := cfg.Logging.ProtocolLog; path != "" {
		fl, err := log.NewFileLogger(path)
		if err != nil {
			return nil, fmt.Errorf("open protocol log: %w", err)
		}
		n.capture = fl
		protocol = fl
		if n.logger.Enabled(context.Background(), slog.LevelDebug) {
			protocol = log.NewMultiLogger(fl, log.NewSlogAdapter(n.logger))
		}
	}

	scfg := session.FromConfig(cfg)
	scfg.Store = st
	scfg.ProtocolLogger = protocol
	scfg.Logger = n.logger
	scfg.Announcer = n.announcer()
	scfg.OnConnectionLost = func(err error) {
		if err != nil {
			n.logger.Warn("connection lost", "error", err)
		} else {
			n.logger.Info("server closed the connection")
		}
		if r := n.redial.Load(); r != nil {
			r.NotifyConnectionLost()
		}
	}

	sm, err := session.NewManager(scfg)
	if err != nil {
		n.closeResources()
		return nil, err
	}
	n.session = sm
	return n, nil
}

// announcer picks the discovery backend configured for server sessions.
func (n *node) announcer() session.Announcer {
	d := n.cfg.Network.Discovery
	if !d.Enabled {
		return nil
	}
	if d.MDNS {
		mc := discovery.DefaultMDNSConfig()
		mc.Logger = n.logger
		return discovery.NewMDNSAdvertiser(mc)
	}
	dc := discovery.FromConfig(d)
	dc.Logger = n.logger
	return discovery.NewAnnouncer(dc)
}

// connect dials address:port under the configured reconnect policy.
func (n *node) connect(ctx context.Context, address string, port uint16) error {
	policy := reconnect.PolicyFromConfig(n.cfg.Network.Client)
	policy.Logger = n.logger

	rm := reconnect.ForSession(n.session, address, port, policy)
	rm.OnConnected(func() {
		n.logger.Info("connected", "server", fmt.Sprintf("%s:%d", address, port))
	})
	rm.OnGiveUp(func(err error) {
		n.logger.Error("giving up on server", "error", err)
	})

	if old := n.redial.Swap(rm); old != nil {
		old.Close()
	}
	rm.StartReconnectLoop()
	if err := rm.Connect(ctx); err != nil {
		n.redial.CompareAndSwap(rm, nil)
		rm.Close()
		return err
	}
	return nil
}

// disconnect ends the active session and stops supervising it.
func (n *node) disconnect() error {
	if r := n.redial.Swap(nil); r != nil {
		r.Disconnect()
		r.Close()
	}
	return n.session.Disconnect()
}

// send queues a message built by the caller.
func (n *node) send(ctx context.Context, msg *message.Message) error {
	ctx, cancel := context.WithTimeout(ctx, n.cfg.Network.Server.MessageTimeout)
	defer cancel()
	return n.session.Send(ctx, msg)
}

// printMessages writes application messages to w until ctx is done.
func (n *node) printMessages(ctx context.Context, w io.Writer) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-n.session.Messages():
			printMessage(w, msg)
		}
	}
}

func printMessage(w io.Writer, msg *message.Message) {
	ts := msg.Timestamp.Local().Format("15:04:05")
	sender := msg.SenderID.String()[:8]
	switch {
	case msg.Text != nil:
		fmt.Fprintf(w, "[%s] %s: %s\n", ts, sender, msg.Text.Content)
	case msg.File != nil:
		fmt.Fprintf(w, "[%s] %s sent file %s (%d bytes)\n", ts, sender, msg.File.Name, msg.File.Size)
	case msg.System != nil:
		fmt.Fprintf(w, "[%s] * %s: %s\n", ts, msg.System.Level, msg.System.Content)
	}
}

func (n *node) close() error {
	var errs []error
	if r := n.redial.Swap(nil); r != nil {
		r.Close()
	}
	if n.session != nil {
		errs = append(errs, n.session.Close())
	}
	errs = append(errs, n.closeResources())
	return errors.Join(errs...)
}

func (n *node) closeResources() error {
	if n.capture != nil {
		return n.capture.Close()
	}
	return nil
}
