package signal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/snapbooth/photobooth-agent/internal/logging"
)

// ErrNotConnected is returned by Send while the client is reconnecting.
var ErrNotConnected = errors.New("signal: not connected")

const (
	minBackoff = 500 * time.Millisecond
	maxBackoff = 10 * time.Second
)

// Client is a websocket Conn that reconnects and rejoins its room when the
// link drops. Messages sent while disconnected are lost.
type Client struct {
	url    string
	room   string
	role   string
	dialer *websocket.Dialer
	logger *slog.Logger

	mu sync.Mutex
	ws *websocket.Conn

	messages chan Envelope
	cancel   context.CancelFunc
	done     chan struct{}
}

// Dial connects to a signaling endpoint, joins room and keeps the link up
// until ctx is cancelled or Close is called. The first connection attempt
// must succeed.
func Dial(ctx context.Context, url, room, role string, logger *slog.Logger) (*Client, error) {
	c := &Client{
		url:      url,
		room:     room,
		role:     role,
		dialer:   websocket.DefaultDialer,
		logger:   logging.WithRoom(logging.WithComponent(logging.OrDiscard(logger), "signal-client"), room),
		messages: make(chan Envelope, DefaultBufferSize),
		done:     make(chan struct{}),
	}

	ws, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	go c.run(runCtx, ws)
	return c, nil
}

func (c *Client) connect(ctx context.Context) (*websocket.Conn, error) {
	ws, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.url, err)
	}
	ws.SetReadLimit(maxMessageSize)

	join, err := NewEnvelope(EventJoin, Join{SessionID: c.room, Role: c.role})
	if err != nil {
		ws.Close()
		return nil, err
	}
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ws.WriteJSON(join); err != nil {
		ws.Close()
		return nil, fmt.Errorf("send join: %w", err)
	}

	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()
	return ws, nil
}

func (c *Client) run(ctx context.Context, ws *websocket.Conn) {
	defer close(c.done)
	defer close(c.messages)

	go func() {
		<-ctx.Done()
		c.mu.Lock()
		if c.ws != nil {
			c.ws.Close()
		}
		c.mu.Unlock()
	}()

	for {
		c.readLoop(ctx, ws)

		c.mu.Lock()
		c.ws = nil
		c.mu.Unlock()

		if ctx.Err() != nil {
			return
		}

		var err error
		ws, err = c.reconnect(ctx)
		if err != nil {
			return
		}
	}
}

func (c *Client) readLoop(ctx context.Context, ws *websocket.Conn) {
	defer ws.Close()
	for {
		var env Envelope
		if err := ws.ReadJSON(&env); err != nil {
			if ctx.Err() == nil {
				c.logger.Warn("signaling link lost", "error", err)
			}
			return
		}
		select {
		case c.messages <- env:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) reconnect(ctx context.Context) (*websocket.Conn, error) {
	backoff := minBackoff
	for attempt := 1; ; attempt++ {
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		ws, err := c.connect(ctx)
		if err == nil {
			c.logger.Info("signaling reconnected", "attempt", attempt)
			return ws, nil
		}
		c.logger.Debug("reconnect failed", "attempt", attempt, "error", err)

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// Send writes one envelope. It fails fast while disconnected.
func (c *Client) Send(event string, payload any) error {
	env, err := NewEnvelope(event, payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws == nil {
		return ErrNotConnected
	}
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteJSON(env); err != nil {
		return fmt.Errorf("send %s: %w", event, err)
	}
	return nil
}

// Messages returns inbound envelopes. It is closed when the client stops.
func (c *Client) Messages() <-chan Envelope { return c.messages }

// Close stops reconnecting and waits for the read loop to exit.
func (c *Client) Close() error {
	c.cancel()
	<-c.done
	return nil
}
