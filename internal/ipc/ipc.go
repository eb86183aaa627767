package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	log "log/slog"
	"net"
	"os"
	"time"
)

const DefaultSocketPath = "/tmp/sidekick.sock"

const (
	CmdSay    = "say"
	CmdMute   = "mute"
	CmdUnmute = "unmute"
	CmdToggle = "toggle"
	CmdStatus = "status"
)

type ControlMessage struct {
	Cmd  string `json:"cmd"`
	Text string `json:"text,omitempty"`
}

type Reply struct {
	OK         bool   `json:"ok"`
	Error      string `json:"error,omitempty"`
	Muted      bool   `json:"muted"`
	Busy       bool   `json:"busy"`
	QueueDepth int    `json:"queue_depth"`
}

type Handler func(ControlMessage) Reply

// Serve accepts control connections on path until ctx is cancelled. Each
// connection carries one request and one reply.
func Serve(ctx context.Context, path string, handler Handler) error {
	_ = os.Remove(path)

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "unix", path)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer os.Remove(path)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Warn("Control socket accept failed", "err", err)
			continue
		}
		go handleConn(conn, handler)
	}
}

func handleConn(conn net.Conn, handler Handler) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(10 * time.Second))

	var msg ControlMessage
	if err := json.NewDecoder(conn).Decode(&msg); err != nil {
		_ = json.NewEncoder(conn).Encode(Reply{Error: "invalid request: " + err.Error()})
		return
	}
	log.Debug("Control command", "cmd", msg.Cmd)
	_ = json.NewEncoder(conn).Encode(handler(msg))
}

// Send delivers msg to the daemon listening on path and returns its reply.
func Send(ctx context.Context, path string, msg ControlMessage) (Reply, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return Reply{}, err
	}
	defer conn.Close()
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}

	if err := json.NewEncoder(conn).Encode(msg); err != nil {
		return Reply{}, fmt.Errorf("send: %w", err)
	}
	var r Reply
	if err := json.NewDecoder(conn).Decode(&r); err != nil {
		return Reply{}, fmt.Errorf("read reply: %w", err)
	}
	return r, nil
}
