// Package client provides a Go client for the herald realtime gateway.
//
// Usage:
//
//	c, err := client.Dial(ctx, "wss://api.example.com/ws",
//	    client.WithToken(token),
//	)
//	defer c.Close()
//
//	_ = c.JoinCourse("c1")
//	for evt := range c.Events() {
//	    fmt.Printf("%s: %s\n", evt.Name, evt.Data)
//	}
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/xraph/herald/gateway"
	"github.com/xraph/herald/stream"
)

// ErrClosed is returned by Emit after Close.
var ErrClosed = errors.New("herald/client: closed")

// Client is a connection to a herald gateway.
type Client struct {
	url    string
	token  string
	format string
	codec  gateway.Codec
	logger *slog.Logger

	// Reconnection.
	reconnect  bool
	maxRetries int
	baseDelay  time.Duration

	// Connection state.
	conn   net.Conn
	mu     sync.Mutex // guards conn writes and swaps
	closed atomic.Bool
	userID string

	// Joined courses are rejoined after a reconnect.
	courses   map[string]struct{}
	coursesMu sync.Mutex

	events    chan *stream.Event
	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the gateway at url and waits for the connected
// acknowledgement. The ack is consumed here and is not delivered on
// Events; UserID reports the identity it carried.
func Dial(ctx context.Context, rawURL string, opts ...Option) (*Client, error) {
	c := &Client{
		url:        rawURL,
		format:     gateway.CodecNameJSON,
		logger:     slog.Default(),
		maxRetries: 5,
		baseDelay:  time.Second,
		courses:    make(map[string]struct{}),
		events:     make(chan *stream.Event, 64),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.codec = gateway.GetCodec(c.format)

	if err := c.connect(ctx); err != nil {
		return nil, fmt.Errorf("herald/client: dial: %w", err)
	}

	go c.readLoop()

	return c, nil
}

// connect performs the handshake and reads the connected event directly,
// before the read loop starts.
func (c *Client) connect(ctx context.Context) error {
	target, err := c.dialURL()
	if err != nil {
		return err
	}

	dialer := ws.Dialer{
		Header: ws.HandshakeHeaderHTTP(http.Header{
			"Authorization": []string{"Bearer " + c.token},
		}),
	}
	conn, br, _, err := dialer.Dial(ctx, target)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	if br != nil {
		// The connected frame can arrive together with the upgrade response.
		conn = &bufConn{Conn: conn, r: br}
	}

	type readResult struct {
		evt *stream.Event
		err error
	}
	resultCh := make(chan readResult, 1)
	go func() {
		data, _, readErr := wsutil.ReadServerData(conn)
		if readErr != nil {
			resultCh <- readResult{err: fmt.Errorf("read connected event: %w", readErr)}
			return
		}
		evt, decErr := c.codec.Decode(data)
		resultCh <- readResult{evt: evt, err: decErr}
	}()

	select {
	case result := <-resultCh:
		if result.err != nil {
			_ = conn.Close()
			return result.err
		}
		if result.evt.Name != stream.EventConnected {
			_ = conn.Close()
			return fmt.Errorf("expected %q event, got %q", stream.EventConnected, result.evt.Name)
		}
		var ack stream.ConnectedData
		if err := decodeData(result.evt, &ack); err != nil {
			c.logger.Warn("gateway client: invalid connected event", slog.String("error", err.Error()))
		}

		c.mu.Lock()
		c.conn = conn
		c.userID = ack.UserID
		c.mu.Unlock()

		c.logger.Info("gateway client connected",
			slog.String("user_id", ack.UserID),
			slog.String("format", c.codec.Name()),
		)
		return nil
	case <-ctx.Done():
		_ = conn.Close()
		return ctx.Err()
	case <-time.After(10 * time.Second):
		_ = conn.Close()
		return errors.New("connected event timeout")
	}
}

// bufConn reads what the handshake reader already buffered before reading
// from the socket again.
type bufConn struct {
	net.Conn
	r *bufio.Reader
}

func (b *bufConn) Read(p []byte) (int, error) {
	if b.r != nil {
		if b.r.Buffered() > 0 {
			return b.r.Read(p)
		}
		ws.PutReader(b.r)
		b.r = nil
	}
	return b.Conn.Read(p)
}

func (c *Client) dialURL() (string, error) {
	u, err := url.Parse(c.url)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if c.format != gateway.CodecNameJSON {
		q := u.Query()
		q.Set("format", c.format)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// readLoop reads events from the socket and delivers them on Events. It
// is the only sender on the events channel.
func (c *Client) readLoop() {
	defer close(c.events)
	for {
		if c.closed.Load() {
			return
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		data, _, err := wsutil.ReadServerData(conn)
		if err != nil {
			if c.closed.Load() {
				return
			}
			c.logger.Warn("gateway client read error", slog.String("error", err.Error()))
			if c.reconnect && c.tryReconnect() {
				continue
			}
			c.closed.Store(true)
			c.closeDone()
			return
		}

		evt, decErr := c.codec.Decode(data)
		if decErr != nil {
			c.logger.Warn("gateway client: invalid frame", slog.String("error", decErr.Error()))
			continue
		}

		select {
		case c.events <- evt:
		case <-c.done:
			return
		default:
			c.logger.Debug("gateway client: event dropped", slog.String("event", string(evt.Name)))
		}
	}
}

// tryReconnect redials with exponential backoff and rejoins courses.
func (c *Client) tryReconnect() bool {
	c.mu.Lock()
	_ = c.conn.Close()
	c.mu.Unlock()

	delay := c.baseDelay
	for i := range c.maxRetries {
		c.logger.Info("gateway client reconnecting",
			slog.Int("attempt", i+1),
			slog.Duration("delay", delay),
		)
		select {
		case <-time.After(delay):
		case <-c.done:
			return false
		}

		if err := c.connect(context.Background()); err != nil {
			c.logger.Warn("gateway client reconnect failed", slog.String("error", err.Error()))
			delay = min(delay*2, 30*time.Second)
			continue
		}

		c.coursesMu.Lock()
		courses := make([]string, 0, len(c.courses))
		for id := range c.courses {
			courses = append(courses, id)
		}
		c.coursesMu.Unlock()
		for _, id := range courses {
			if err := c.Emit(gateway.EventJoinCourse, id); err != nil {
				c.logger.Warn("gateway client rejoin failed",
					slog.String("course_id", id),
					slog.String("error", err.Error()),
				)
			}
		}

		c.logger.Info("gateway client reconnected")
		return true
	}
	c.logger.Error("gateway client: max reconnection attempts reached")
	return false
}

// Emit sends a client event.
func (c *Client) Emit(name stream.Name, data any) error {
	if c.closed.Load() {
		return ErrClosed
	}
	evt := &stream.Event{Name: name, Timestamp: time.Now().UTC()}
	if data != nil {
		raw, err := marshalData(data)
		if err != nil {
			return fmt.Errorf("marshal %s data: %w", name, err)
		}
		evt.Data = raw
	}
	frame, err := c.codec.Encode(evt)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return wsutil.WriteClientMessage(c.conn, c.codec.OpCode(), frame)
}

// Events returns the channel of server events. It is closed when the
// client shuts down.
func (c *Client) Events() <-chan *stream.Event { return c.events }

// UserID returns the user id the gateway authenticated.
func (c *Client) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// Close closes the connection and the events channel.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.closeDone()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Client) closeDone() {
	c.closeOnce.Do(func() { close(c.done) })
}
