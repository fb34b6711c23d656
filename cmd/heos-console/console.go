package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/strefethen/heos-hub-go/internal/heos/protocol"
)

const helpText = `Enter a CLI command, with or without the heos:// scheme:
  heos://player/get_players
  player/get_volume pid=-1234
  browse/browse?sid=1024
Console commands:
  .host [ip]   show or change the target host
  .help        show this text
  .quit        leave the console
`

// sender is satisfied by *protocol.Pool.
type sender interface {
	Send(ctx context.Context, host string, cmd protocol.Command) (protocol.Envelope, error)
}

type console struct {
	sender  sender
	host    string
	timeout time.Duration
	out     io.Writer
}

// Run reads lines until end of input or .quit.
func (c *console) Run(ctx context.Context, read func(prompt string) (string, error)) error {
	for {
		line, err := read(c.host + "> ")
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if quit := c.Execute(ctx, line); quit {
			return nil
		}
	}
}

// Execute handles one input line and reports whether the console should exit.
func (c *console) Execute(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	switch {
	case line == "" || strings.HasPrefix(line, "#"):
		return false
	case line == ".quit" || line == ".exit":
		return true
	case line == ".help":
		fmt.Fprint(c.out, helpText)
		return false
	case line == ".host":
		fmt.Fprintln(c.out, c.host)
		return false
	case strings.HasPrefix(line, ".host "):
		c.host = strings.TrimSpace(strings.TrimPrefix(line, ".host "))
		return false
	case strings.HasPrefix(line, "."):
		fmt.Fprintf(c.out, "unknown console command %s (try .help)\n", line)
		return false
	}

	cmd, err := parseInput(line)
	if err != nil {
		fmt.Fprintf(c.out, "error: %v\n", err)
		return false
	}
	if c.host == "" {
		fmt.Fprintln(c.out, "error: no host selected (use .host <ip>)")
		return false
	}

	sendCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	env, err := c.sender.Send(sendCtx, c.host, cmd)
	if err != nil {
		fmt.Fprintf(c.out, "error: %v\n", err)
		return false
	}
	c.printEnvelope(env)
	return false
}

func (c *console) printEnvelope(env protocol.Envelope) {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, env.Raw, "", "  "); err != nil {
		c.out.Write(env.Raw)
		fmt.Fprintln(c.out)
		return
	}
	pretty.WriteByte('\n')
	c.out.Write(pretty.Bytes())
}

// parseInput accepts a full command line, or "group/action k=v k=v".
func parseInput(line string) (protocol.Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 1 {
		return protocol.ParseCommand(fields[0])
	}
	cmd, err := protocol.ParseCommand(fields[0])
	if err != nil {
		return protocol.Command{}, err
	}
	for _, field := range fields[1:] {
		key, value, ok := strings.Cut(field, "=")
		if !ok || key == "" {
			return protocol.Command{}, fmt.Errorf("argument %q: want key=value", field)
		}
		cmd = cmd.With(key, value)
	}
	return cmd, nil
}
