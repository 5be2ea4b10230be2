// Package wsconn provides a WebSocket client with automatic reconnection.
//
// Consumers register an OnMessage handler and an optional OnReconnect hook
// for re-subscribing; the client owns the read loop, liveness pings and
// exponential backoff between redials.
package wsconn

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/jm31-art/ultraflashbot/internal/retry"
)

// State represents the connection state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

// ErrNotConnected is returned by Send when there is no live connection.
var ErrNotConnected = errors.New("wsconn: not connected")

const maxMessageBytes = 1 << 20

// MessageHandler receives every data frame read from the socket.
type MessageHandler func(ctx context.Context, data []byte)

// Config holds WebSocket client configuration.
type Config struct {
	URL            string
	Name           string // connection name for error messages
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxReconnects  int // 0 = infinite
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	PingInterval   time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(wsURL, name string) Config {
	return Config{
		URL:            wsURL,
		Name:           name,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
		MaxReconnects:  0, // infinite
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   10 * time.Second,
		PingInterval:   30 * time.Second,
	}
}

// Client is a reconnecting WebSocket client.
type Client struct {
	config Config

	handler     MessageHandler
	onReconnect func(context.Context)
	handlerMu   sync.RWMutex

	conn   *websocket.Conn
	connMu sync.RWMutex

	state   State
	stateMu sync.RWMutex

	done      chan struct{}
	closeOnce sync.Once
}

// New creates a new WebSocket client. The URL must be ws:// or wss://.
func New(config Config) (*Client, error) {
	u, err := url.Parse(config.URL)
	if err != nil {
		return nil, fmt.Errorf("wsconn %s: invalid url: %w", config.Name, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("wsconn %s: unsupported scheme %q", config.Name, u.Scheme)
	}

	return &Client{
		config: config,
		state:  StateDisconnected,
		done:   make(chan struct{}),
	}, nil
}

// OnMessage registers the frame handler. Must be called before Connect.
func (c *Client) OnMessage(h MessageHandler) {
	c.handlerMu.Lock()
	c.handler = h
	c.handlerMu.Unlock()
}

// OnReconnect registers a hook invoked after every successful redial,
// typically to re-subscribe streams.
func (c *Client) OnReconnect(h func(context.Context)) {
	c.handlerMu.Lock()
	c.onReconnect = h
	c.handlerMu.Unlock()
}

// Connect performs a single dial attempt and starts the read loop.
func (c *Client) Connect(ctx context.Context) error {
	c.setState(StateConnecting)

	conn, err := c.dial(ctx)
	if err != nil {
		c.setState(StateDisconnected)
		return fmt.Errorf("wsconn %s: dial: %w", c.config.Name, err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	c.setState(StateConnected)

	go c.readLoop(ctx)
	if c.config.PingInterval > 0 {
		go c.pingLoop(ctx)
	}
	return nil
}

// ConnectWithRetry dials with exponential backoff until connected, the
// attempt budget is spent, or the context ends.
func (c *Client) ConnectWithRetry(ctx context.Context) error {
	p := c.backoffPolicy()

	attempt := 0
	for {
		err := c.Connect(ctx)
		if err == nil {
			return nil
		}

		attempt++
		if c.config.MaxReconnects > 0 && attempt >= c.config.MaxReconnects {
			return fmt.Errorf("wsconn %s: giving up after %d attempts: %w", c.config.Name, attempt, err)
		}
		if serr := retry.Sleep(ctx, p.Backoff(attempt)); serr != nil {
			return serr
		}
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dctx := ctx
	if c.config.WriteTimeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, c.config.WriteTimeout)
		defer cancel()
	}

	conn, _, err := websocket.Dial(dctx, c.config.URL, nil)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(maxMessageBytes)
	return conn, nil
}

func (c *Client) readLoop(ctx context.Context) {
	for {
		c.connMu.RLock()
		conn := c.conn
		c.connMu.RUnlock()
		if conn == nil {
			return
		}

		rctx := ctx
		var cancel context.CancelFunc
		if c.config.ReadTimeout > 0 {
			rctx, cancel = context.WithTimeout(ctx, c.config.ReadTimeout)
		}
		_, data, err := conn.Read(rctx)
		if cancel != nil {
			cancel()
		}

		if err != nil {
			select {
			case <-c.done:
				return
			case <-ctx.Done():
				return
			default:
			}
			if !c.reconnect(ctx) {
				return
			}
			continue
		}

		c.handlerMu.RLock()
		handler := c.handler
		c.handlerMu.RUnlock()
		if handler != nil {
			handler(ctx, data)
		}
	}
}

// reconnect redials after a dropped connection. Returns false when the
// client is closed, the context ended, or the attempt budget is spent.
func (c *Client) reconnect(ctx context.Context) bool {
	c.setState(StateReconnecting)
	c.closeConn(websocket.StatusGoingAway)

	p := c.backoffPolicy()

	attempt := 0
	for {
		select {
		case <-c.done:
			return false
		case <-ctx.Done():
			return false
		default:
		}

		attempt++
		if c.config.MaxReconnects > 0 && attempt > c.config.MaxReconnects {
			c.setState(StateDisconnected)
			return false
		}
		if err := retry.Sleep(ctx, p.Backoff(attempt)); err != nil {
			return false
		}

		conn, err := c.dial(ctx)
		if err != nil {
			continue
		}

		c.connMu.Lock()
		c.conn = conn
		c.connMu.Unlock()
		c.setState(StateConnected)

		c.handlerMu.RLock()
		hook := c.onReconnect
		c.handlerMu.RUnlock()
		if hook != nil {
			hook(ctx)
		}
		return true
	}
}

func (c *Client) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.connMu.RLock()
			conn := c.conn
			c.connMu.RUnlock()
			if conn == nil || c.State() != StateConnected {
				continue
			}

			pctx, cancel := context.WithTimeout(ctx, c.config.WriteTimeout)
			// Read loop notices a dead peer; ping errors need no handling here.
			_ = conn.Ping(pctx)
			cancel()
		}
	}
}

// Send sends a text message through the WebSocket.
func (c *Client) Send(ctx context.Context, msg []byte) error {
	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()

	if conn == nil || c.State() != StateConnected {
		return ErrNotConnected
	}

	wctx := ctx
	if c.config.WriteTimeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, c.config.WriteTimeout)
		defer cancel()
	}
	return conn.Write(wctx, websocket.MessageText, msg)
}

// State returns the current connection state.
func (c *Client) State() State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// IsConnected returns whether the client has a live connection.
func (c *Client) IsConnected() bool {
	return c.State() == StateConnected
}

// Close gracefully closes the WebSocket connection.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	c.closeConn(websocket.StatusNormalClosure)
	c.setState(StateDisconnected)
	return nil
}

func (c *Client) closeConn(code websocket.StatusCode) {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close(code, "")
		c.conn = nil
	}
}

func (c *Client) setState(state State) {
	c.stateMu.Lock()
	c.state = state
	c.stateMu.Unlock()
}

func (c *Client) backoffPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	if c.config.InitialBackoff > 0 {
		p.Initial = c.config.InitialBackoff
	}
	if c.config.MaxBackoff > 0 {
		p.Max = c.config.MaxBackoff
	}
	return p
}
