// Package websocket provides a reusable WebSocket client with automatic
// reconnection. Exchange drivers build their streams on it: the client owns
// the dial/read/heartbeat cycle and hands every inbound frame to a handler.
package websocket

import (
	"fmt"
	"sync"
	"time"

	"context"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"flashgate/internal/core"
	"flashgate/pkg/telemetry"
)

// MessageHandler handles one inbound frame. It runs on the read loop
// goroutine, so it must not block for long.
type MessageHandler func(message []byte)

// Config tunes one client.
type Config struct {
	URL           string
	ReconnectWait time.Duration
	PingInterval  time.Duration
	PingWait      time.Duration
	PongWait      time.Duration
	// Dialer overrides the default dialer. Drivers pinned to a source IP
	// pass one with a bound local address.
	Dialer *websocket.Dialer
}

// DefaultConfig returns the standing defaults for exchange streams.
func DefaultConfig(url string) Config {
	return Config{
		URL:           url,
		ReconnectWait: 5 * time.Second,
		PingInterval:  30 * time.Second,
		PingWait:      10 * time.Second,
		PongWait:      60 * time.Second,
	}
}

// Client is a resilient WebSocket client. Once started it keeps a
// connection up until stopped, redialing after ReconnectWait on any loss.
type Client struct {
	cfg     Config
	handler MessageHandler
	dialer  *websocket.Dialer
	logger  core.ILogger

	conn *websocket.Conn
	mu   sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	onConnected func() // runs after every successful (re)dial

	tracer      trace.Tracer
	msgCounter  metric.Int64Counter
	connCounter metric.Int64Counter
}

// NewClient creates a new WebSocket client.
func NewClient(cfg Config, handler MessageHandler, logger core.ILogger) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	tracer := telemetry.GetTracer("ws-client")
	meter := telemetry.GetMeter("ws-client")

	msgCounter, _ := meter.Int64Counter("ws_messages_total",
		metric.WithDescription("Total number of WebSocket messages received"))
	connCounter, _ := meter.Int64Counter("ws_connections_total",
		metric.WithDescription("Total number of WebSocket connections initiated"))

	return &Client{
		cfg:         cfg,
		handler:     handler,
		dialer:      dialer,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		tracer:      tracer,
		msgCounter:  msgCounter,
		connCounter: connCounter,
	}
}

// SetOnConnected sets the callback invoked after every successful dial,
// before the read loop starts. Useful for stream subscriptions.
func (c *Client) SetOnConnected(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnected = cb
}

// Send writes a JSON message over the connection.
func (c *Client) Send(message interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("websocket not connected")
	}

	return c.conn.WriteJSON(message)
}

// IsConnected reports whether a connection is currently up.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Start connects and begins listening for messages.
func (c *Client) Start() {
	c.wg.Add(1)
	go c.runLoop()
}

// Stop closes the connection and stops the loop. The connection is closed
// before waiting so a blocked read returns immediately.
func (c *Client) Stop() {
	c.cancel()
	c.closeConn()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		c.logger.Warn("WebSocket client stop timed out", "url", c.cfg.URL)
	}
}

func (c *Client) runLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
			if err := c.connect(); err != nil {
				c.logger.Error("WebSocket connect failed", "url", c.cfg.URL, "error", err)
				select {
				case <-c.ctx.Done():
					return
				case <-time.After(c.cfg.ReconnectWait):
				}
				continue
			}

			c.mu.Lock()
			onConnected := c.onConnected
			c.mu.Unlock()

			if onConnected != nil {
				onConnected()
			}

			heartbeatCtx, heartbeatCancel := context.WithCancel(c.ctx)
			if c.cfg.PingInterval > 0 {
				c.wg.Add(1)
				go c.heartbeat(heartbeatCtx)
			}

			c.readLoop()
			heartbeatCancel()

			// Connection lost; pause before redialing.
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(c.cfg.ReconnectWait):
				c.logger.Warn("WebSocket reconnecting", "url", c.cfg.URL)
			}
		}
	}
}

func (c *Client) heartbeat(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()

			if conn == nil {
				return
			}

			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(c.cfg.PingWait)); err != nil {
				// Failed ping means a dead peer; close to trigger a redial.
				c.closeConn()
				return
			}
		}
	}
}

func (c *Client) connect() error {
	ctx, span := c.tracer.Start(c.ctx, "WS Connect",
		trace.WithAttributes(attribute.String("ws.url", c.cfg.URL)),
	)
	defer span.End()

	c.connCounter.Add(ctx, 1)

	c.mu.Lock()
	defer c.mu.Unlock()

	conn, _, err := c.dialer.Dial(c.cfg.URL, nil)
	if err != nil {
		span.RecordError(err)
		return err
	}

	conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		return nil
	})

	c.conn = conn
	return nil
}

func (c *Client) closeConn() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) readLoop() {
	defer c.closeConn()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()

			if conn == nil {
				return
			}

			_, message, err := conn.ReadMessage()
			if err != nil {
				return
			}

			c.msgCounter.Add(c.ctx, 1)

			if c.handler != nil {
				c.handler(message)
			}
		}
	}
}
