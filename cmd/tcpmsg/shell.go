package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/tcpmsg/tcpmsg-go/pkg/message"
)

// errQuit ends the service group when the user leaves the shell.
var errQuit = errors.New("quit")

// shell is the interactive prompt of serve and connect.
type shell struct {
	n   *node
	rl  *readline.Instance
	out io.Writer
}

func newShell(prompt string) (*readline.Instance, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return rl, nil
}

// run reads commands until the user quits or ctx is done.
func (s *shell) run(ctx context.Context) error {
	defer s.rl.Close()
	stop := context.AfterFunc(ctx, func() { s.rl.Close() })
	defer stop()

	s.printHelp()

	for {
		line, err := s.rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintln(s.out, "Exiting...")
			return errQuit
		}
		if s.handle(ctx, line) {
			fmt.Fprintln(s.out, "Exiting...")
			return errQuit
		}
	}
}

// handle executes one command line and reports whether the user quit.
func (s *shell) handle(ctx context.Context, line string) bool {
	input := strings.TrimSpace(line)
	if input == "" {
		return false
	}
	cmd, rest, _ := strings.Cut(input, " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(cmd) {
	case "help", "?":
		s.printHelp()
	case "send", "s":
		s.cmdSend(ctx, rest)
	case "system":
		s.cmdSystem(ctx, rest)
	case "file":
		s.cmdFile(ctx, rest)
	case "status":
		s.cmdStatus()
	case "stats":
		s.cmdStats()
	case "history", "h":
		s.cmdHistory(rest)
	case "search":
		s.cmdSearch(rest)
	case "disconnect":
		if err := s.n.disconnect(); err != nil {
			fmt.Fprintf(s.out, "Error: %v\n", err)
		}
	case "quit", "exit", "q":
		return true
	default:
		// Bare text is sent as a message.
		s.cmdSend(ctx, input)
	}
	return false
}

func (s *shell) printHelp() {
	fmt.Fprintln(s.out, `
Commands:
  send <text>      - Send a text message (bare text works too)
  system <text>    - Send a system notice
  file <path>      - Send a file
  status           - Show the session
  stats            - Show traffic counters
  history [n]      - Show the last n stored messages (default 20)
  search <query>   - Search stored messages
  disconnect       - End the session
  quit             - Exit`)
}

func (s *shell) cmdSend(ctx context.Context, text string) {
	if text == "" {
		fmt.Fprintln(s.out, "Usage: send <text>")
		return
	}
	s.sendMessage(ctx, message.NewText(text, s.n.session.ID()))
}

func (s *shell) cmdSystem(ctx context.Context, text string) {
	if text == "" {
		fmt.Fprintln(s.out, "Usage: system <text>")
		return
	}
	s.sendMessage(ctx, message.NewSystem(text, message.LevelInfo, s.n.session.ID()))
}

func (s *shell) cmdFile(ctx context.Context, path string) {
	if path == "" {
		fmt.Fprintln(s.out, "Usage: file <path>")
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return
	}
	name := filepath.Base(path)
	mimeType := mime.TypeByExtension(filepath.Ext(name))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	s.sendMessage(ctx, message.NewFile(name, uint64(len(data)), mimeType, data, s.n.session.ID()))
}

func (s *shell) sendMessage(ctx context.Context, msg *message.Message) {
	if err := s.n.send(ctx, msg); err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(s.out, "queued %s\n", msg.ID.String()[:8])
}

func (s *shell) cmdStatus() {
	data, err := json.MarshalIndent(s.n.session.Info(), "", "  ")
	if err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintln(s.out, string(data))
}

func (s *shell) cmdStats() {
	st := s.n.session.Stats()
	fmt.Fprintf(s.out, "Messages: %d sent, %d received\n", st.MessagesSent, st.MessagesReceived)
	fmt.Fprintf(s.out, "Bytes:    %d sent, %d received\n", st.BytesSent, st.BytesReceived)
	fmt.Fprintf(s.out, "Uptime:   %s\n", st.ConnectionUptime.Round(time.Second))
	if !st.LastActivity.IsZero() {
		fmt.Fprintf(s.out, "Last activity: %s\n", st.LastActivity.Local().Format(time.RFC3339))
	}
}

func (s *shell) cmdHistory(arg string) {
	limit := 20
	if arg != "" {
		n, err := strconv.Atoi(arg)
		if err != nil || n <= 0 {
			fmt.Fprintln(s.out, "Usage: history [n]")
			return
		}
		limit = n
	}
	msgs, err := s.n.store.GetAll()
	if err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return
	}
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	s.printStored(msgs)
}

func (s *shell) cmdSearch(query string) {
	if query == "" {
		fmt.Fprintln(s.out, "Usage: search <query>")
		return
	}
	msgs, err := s.n.store.Search(query)
	if err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return
	}
	s.printStored(msgs)
}

func (s *shell) printStored(msgs []*message.Message) {
	if len(msgs) == 0 {
		fmt.Fprintln(s.out, "No messages.")
		return
	}
	self := s.n.session.ID()
	for _, m := range msgs {
		dir := "<-"
		if m.SenderID == self {
			dir = "->"
		}
		fmt.Fprintf(s.out, "%s %s %-14s %-12s %s\n",
			m.Timestamp.Local().Format("2006-01-02 15:04:05"), dir, m.Status, m.Kind, m.Content())
	}
}
