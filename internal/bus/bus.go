package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	log "log/slog"
	"strings"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"

	"sidekick/internal/chat"
	"sidekick/internal/reliability"
)

const (
	KindMessage = "message"
	KindMute    = "mute"
	KindUnmute  = "unmute"
	KindToggle  = "toggle"
	KindState   = "state"
)

// Envelope is the JSON frame exchanged with the overlay hub.
type Envelope struct {
	From    string `json:"from"`
	To      string `json:"to,omitempty"`
	Kind    string `json:"kind"`
	Content string `json:"content,omitempty"`
}

// maxPending bounds the frames waiting for the connection.
const maxPending = 256

// Client keeps a websocket connection to the hub, reconnecting with backoff.
//
// Fragments, tool notices and state frames are only queued while connected
// and are the first to be evicted when the buffer is full. End-of-turn, error
// and mute frames survive disconnects and are never evicted for them.
type Client struct {
	url    string
	name   string
	handle func(Envelope)
	retry  reliability.Backoff
	dialer *ws.Dialer

	mu      sync.Mutex
	online  bool
	pending []Envelope
	ready   chan struct{}
}

func NewClient(url, name string, handle func(Envelope)) *Client {
	return &Client{
		url:    url,
		name:   name,
		handle: handle,
		ready:  make(chan struct{}, 1),
		retry:  reliability.Backoff{Base: time.Second, Cap: 30 * time.Second},
		dialer: ws.DefaultDialer,
	}
}

// Emit forwards conversation events to the hub.
func (c *Client) Emit(e chat.Event) {
	c.Publish(e.Kind.String(), e.Text)
}

func (c *Client) Publish(kind, content string) {
	c.mu.Lock()
	if !c.online && !essential(kind) {
		c.mu.Unlock()
		return
	}
	if len(c.pending) >= maxPending {
		c.evict()
	}
	c.pending = append(c.pending, Envelope{From: c.name, Kind: kind, Content: content})
	c.mu.Unlock()

	select {
	case c.ready <- struct{}{}:
	default:
	}
}

func essential(kind string) bool {
	switch kind {
	case chat.EventEndOfTurn.String(), chat.EventError.String(), KindMute, KindUnmute:
		return true
	}
	return false
}

// evict removes the oldest non-essential frame, or the oldest frame when all
// are essential. c.mu must be held.
func (c *Client) evict() {
	for i, env := range c.pending {
		if !essential(env.Kind) {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return
		}
	}
	c.pending = c.pending[1:]
}

func (c *Client) setOnline(online bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.online = online
	if online {
		return
	}
	kept := c.pending[:0]
	for _, env := range c.pending {
		if essential(env.Kind) {
			kept = append(kept, env)
		}
	}
	c.pending = kept
}

func (c *Client) take() []Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.pending
	c.pending = nil
	return out
}

// Run returns when ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	for {
		conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			delay := c.retry.Next()
			log.Warn("Failed to dial bus", "url", c.url, "err", err, "retry_in", delay)
			if reliability.Sleep(ctx, delay) != nil {
				return nil
			}
			continue
		}
		c.retry.Reset()
		log.Info("Connected to bus", "url", c.url)

		err = c.serve(ctx, conn)
		if ctx.Err() != nil {
			return nil
		}
		log.Warn("Bus connection lost", "url", c.url, "err", err)
	}
}

func (c *Client) serve(ctx context.Context, conn *ws.Conn) error {
	defer conn.Close()
	c.setOnline(true)
	defer c.setOnline(false)

	readErr := make(chan error, 1)
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			c.receive(data)
		}
	}()

	flush := time.NewTimer(0)
	defer flush.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(ws.CloseMessage,
				ws.FormatCloseMessage(ws.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return ctx.Err()
		case err := <-readErr:
			if isClosed(err) {
				return fmt.Errorf("closed by hub: %w", err)
			}
			return err
		case <-flush.C:
		case <-c.ready:
		}

		for _, env := range c.take() {
			data, err := json.Marshal(env)
			if err != nil {
				return err
			}
			if err := conn.WriteMessage(ws.TextMessage, data); err != nil {
				return err
			}
		}
	}
}

func (c *Client) receive(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn("Failed to parse bus frame", "msg", string(data), "err", err)
		return
	}
	if !c.isRecipient(env) {
		return
	}
	if c.handle != nil {
		c.handle(env)
	}
}

func (c *Client) isRecipient(env Envelope) bool {
	to := strings.TrimSpace(env.To)
	return to == "" || strings.EqualFold(to, "all") || to == c.name
}

func isClosed(err error) bool {
	var ce *ws.CloseError
	return errors.As(err, &ce) || ws.IsCloseError(err,
		ws.CloseNormalClosure,
		ws.CloseGoingAway,
		ws.CloseAbnormalClosure)
}
