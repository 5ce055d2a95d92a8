// Package feed connects to the device server's event stream.
//
// The server pushes one JSON envelope per WebSocket text message:
//
//	{"pluginId": "http", "eventType": "http.request", "payload": {...}}
//
// Each decoded envelope is handed to a Dispatcher, normally the plugin
// registry. Envelopes passed to Send travel the other way, which is how
// plugin actions such as resuming a breakpoint reach the device. The client
// reconnects after a fixed delay until its context is cancelled.
package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dshills/devscope/internal/event"
)

const (
	// DefaultReconnectDelay is the wait between connection attempts.
	DefaultReconnectDelay = 2 * time.Second

	// DefaultSendBuffer bounds queued outbound envelopes.
	DefaultSendBuffer = 64

	pingInterval = 30 * time.Second
	writeWait    = 5 * time.Second
)

// ErrSendBufferFull is returned by Send when the outbound queue is full.
var ErrSendBufferFull = errors.New("feed send buffer full")

// Dispatcher receives decoded envelopes.
type Dispatcher interface {
	DispatchEvent(env event.Envelope)
}

// Status describes the connection.
type Status struct {
	Connected  bool
	Attempts   int
	Received   int
	Rejected   int
	LastError  string
	LastChange time.Time
}

// Client maintains the event stream connection.
type Client struct {
	url        string
	deviceID   string
	dispatcher Dispatcher
	dialer     *websocket.Dialer
	header     http.Header
	delay      time.Duration
	logger     *zap.Logger

	send chan event.Envelope

	mu     sync.Mutex
	status Status
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithReconnectDelay sets the wait between connection attempts.
func WithReconnectDelay(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.delay = d
		}
	}
}

// WithDeviceID selects the device whose events are streamed. It is sent as
// the "device" query parameter.
func WithDeviceID(id string) Option {
	return func(c *Client) {
		c.deviceID = id
	}
}

// WithHeader adds request headers to the handshake.
func WithHeader(h http.Header) Option {
	return func(c *Client) {
		c.header = h.Clone()
	}
}

// WithDialer replaces the default dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) {
		if d != nil {
			c.dialer = d
		}
	}
}

// New creates a client for the ws:// or wss:// url.
func New(rawURL string, dispatcher Dispatcher, opts ...Option) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("feed url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("feed url: unsupported scheme %q", u.Scheme)
	}
	if dispatcher == nil {
		return nil, errors.New("feed: nil dispatcher")
	}

	c := &Client{
		url:        rawURL,
		dispatcher: dispatcher,
		dialer:     websocket.DefaultDialer,
		delay:      DefaultReconnectDelay,
		logger:     zap.NewNop(),
		send:       make(chan event.Envelope, DefaultSendBuffer),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("feed")
	return c, nil
}

// Status returns a snapshot of the connection status.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Send queues env for delivery to the server. Envelopes queued while
// disconnected are sent after the next successful connection.
func (c *Client) Send(env event.Envelope) error {
	select {
	case c.send <- env:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Run connects and dispatches events until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	for {
		conn, err := c.dial(ctx)
		if err == nil {
			c.setConnected(true, nil)
			c.logger.Info("connected", zap.String("url", c.url))
			err = c.serve(ctx, conn)
			c.setConnected(false, err)
		} else {
			c.setConnected(false, err)
		}

		if ctx.Err() != nil {
			return nil
		}
		c.logger.Warn("feed disconnected", zap.Error(err), zap.Duration("retry_in", c.delay))

		t := time.NewTimer(c.delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	c.mu.Lock()
	c.status.Attempts++
	c.mu.Unlock()

	target := c.url
	if c.deviceID != "" {
		u, _ := url.Parse(c.url)
		q := u.Query()
		q.Set("device", c.deviceID)
		u.RawQuery = q.Encode()
		target = u.String()
	}

	conn, resp, err := c.dialer.DialContext(ctx, target, c.header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.url, err)
	}
	return conn, nil
}

// serve pumps messages until the connection fails or ctx is cancelled.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) error {
	done := make(chan struct{})
	writeErr := make(chan error, 1)

	go func() {
		writeErr <- c.writePump(ctx, conn, done)
	}()

	readErr := c.readPump(conn)
	close(done)
	conn.Close()

	if werr := <-writeErr; werr != nil && readErr == nil {
		return werr
	}
	return readErr
}

func (c *Client) readPump(conn *websocket.Conn) error {
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		if kind != websocket.TextMessage {
			continue
		}

		env, err := event.DecodeEnvelope(data)
		if err != nil {
			c.mu.Lock()
			c.status.Rejected++
			c.mu.Unlock()
			c.logger.Warn("dropping malformed event", zap.Error(err))
			continue
		}

		c.mu.Lock()
		c.status.Received++
		c.mu.Unlock()
		c.dispatcher.DispatchEvent(env)
	}
}

func (c *Client) writePump(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) error {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return nil

		case <-ctx.Done():
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			conn.Close()
			return nil

		case env := <-c.send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(env); err != nil {
				c.logger.Warn("outbound event lost", zap.Stringer("event", env), zap.Error(err))
				conn.Close()
				return err
			}

		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				conn.Close()
				return err
			}
		}
	}
}

func (c *Client) setConnected(connected bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status.Connected = connected
	c.status.LastChange = time.Now()
	if err != nil {
		c.status.LastError = err.Error()
	}
}
