package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	cli "github.com/spf13/pflag"

	"sidekick/internal/ipc"
)

func main() {
	socket := cli.StringP("socket", "s", envOrDefault("CONTROL_SOCKET", ipc.DefaultSocketPath), "Control socket path")
	timeout := cli.DurationP("timeout", "t", 5*time.Second, "Request timeout")
	cli.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: sidekick-ctl [flags] say TEXT... | mute | unmute | toggle | status")
		cli.PrintDefaults()
	}
	cli.Parse()

	msg, err := parseCommand(cli.Args())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		cli.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	reply, err := ipc.Send(ctx, *socket, msg)
	if err != nil {
		fmt.Println("sidekick-daemon not running:", err)
		os.Exit(1)
	}
	fmt.Println(formatReply(reply))
	if !reply.OK {
		os.Exit(1)
	}
}

func parseCommand(args []string) (ipc.ControlMessage, error) {
	if len(args) == 0 {
		return ipc.ControlMessage{}, fmt.Errorf("missing command")
	}
	switch cmd := args[0]; cmd {
	case ipc.CmdSay:
		text := strings.TrimSpace(strings.Join(args[1:], " "))
		if text == "" {
			return ipc.ControlMessage{}, fmt.Errorf("say needs text")
		}
		return ipc.ControlMessage{Cmd: cmd, Text: text}, nil
	case ipc.CmdMute, ipc.CmdUnmute, ipc.CmdToggle, ipc.CmdStatus:
		if len(args) > 1 {
			return ipc.ControlMessage{}, fmt.Errorf("%s takes no arguments", cmd)
		}
		return ipc.ControlMessage{Cmd: cmd}, nil
	default:
		return ipc.ControlMessage{}, fmt.Errorf("unknown command %q", cmd)
	}
}

func formatReply(r ipc.Reply) string {
	if !r.OK {
		return "error: " + r.Error
	}
	mic := "on"
	if r.Muted {
		mic = "muted"
	}
	turn := "idle"
	if r.Busy {
		turn = "busy"
	}
	return fmt.Sprintf("mic: %s, assistant: %s, queued: %d", mic, turn, r.QueueDepth)
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
