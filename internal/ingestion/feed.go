package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handler consumes decoded feed envelopes. Implemented by Service.
type Handler interface {
	HandleEnvelope(ctx context.Context, env Envelope) error
}

// FeedConfig configures the event feed client.
type FeedConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing control frames.
	WriteTimeout time.Duration
}

// DefaultFeedConfig returns default feed configuration.
func DefaultFeedConfig() FeedConfig {
	return FeedConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// FeedStats is a point-in-time view of the feed.
type FeedStats struct {
	Connected  bool   `json:"connected"`
	Received   uint64 `json:"received"`
	Failed     uint64 `json:"failed"`
	Reconnects uint64 `json:"reconnects"`
}

// FeedClient consumes the inbound websocket event feed.
type FeedClient struct {
	endpoint string
	config   FeedConfig
	handler  Handler
	logger   *zap.Logger
	onState  func(connected bool)

	connected  atomic.Bool
	received   atomic.Uint64
	failed     atomic.Uint64
	reconnects atomic.Uint64
}

// NewFeedClient creates a feed client. Nothing is dialed until Run.
func NewFeedClient(endpoint string, config *FeedConfig, handler Handler, logger *zap.Logger) *FeedClient {
	cfg := DefaultFeedConfig()
	if config != nil {
		cfg = *config
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FeedClient{
		endpoint: endpoint,
		config:   cfg,
		handler:  handler,
		logger:   logger.Named("feed").With(zap.String("endpoint", endpoint)),
		onState:  func(bool) {},
	}
}

// OnStateChange registers fn to be called when the connection opens or drops.
func (c *FeedClient) OnStateChange(fn func(connected bool)) *FeedClient {
	c.onState = fn
	return c
}

func (c *FeedClient) setConnected(v bool) {
	c.connected.Store(v)
	c.onState(v)
}

// Stats returns the current counters.
func (c *FeedClient) Stats() FeedStats {
	return FeedStats{
		Connected:  c.connected.Load(),
		Received:   c.received.Load(),
		Failed:     c.failed.Load(),
		Reconnects: c.reconnects.Load(),
	}
}

// Run consumes the feed until ctx is cancelled, reconnecting with
// exponential backoff. The delay resets after a session that delivered messages.
func (c *FeedClient) Run(ctx context.Context) error {
	delay := c.config.ReconnectDelay

	for {
		read, err := c.session(ctx)
		if ctx.Err() != nil {
			c.logger.Info("feed stopped")
			return nil
		}
		if read > 0 {
			delay = c.config.ReconnectDelay
		}
		c.logger.Warn("feed disconnected, reconnecting",
			zap.Error(err),
			zap.Duration("delay", delay))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		c.reconnects.Add(1)

		delay *= 2
		if delay > c.config.MaxReconnectDelay {
			delay = c.config.MaxReconnectDelay
		}
	}
}

// session runs one connection and returns the number of messages read.
func (c *FeedClient) session(ctx context.Context) (int, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("websocket dial: %w", err)
	}
	defer conn.Close()

	c.setConnected(true)
	defer c.setConnected(false)
	c.logger.Info("feed connected")

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	})

	done := make(chan struct{})
	defer close(done)
	go c.pingLoop(conn, done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.config.WriteTimeout))
			conn.Close()
		case <-done:
		}
	}()

	read := 0
	for {
		if err := conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout)); err != nil {
			return read, err
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			return read, fmt.Errorf("read: %w", err)
		}
		read++
		c.handleMessage(ctx, message)
	}
}

func (c *FeedClient) handleMessage(ctx context.Context, message []byte) {
	var env Envelope
	if err := json.Unmarshal(message, &env); err != nil {
		c.failed.Add(1)
		c.logger.Warn("malformed feed message", zap.Error(err))
		return
	}
	if err := c.handler.HandleEnvelope(ctx, env); err != nil {
		c.failed.Add(1)
		c.logger.Warn("feed message rejected",
			zap.String("type", env.Type),
			zap.Error(err))
		return
	}
	c.received.Add(1)
}

// pingLoop sends periodic ping frames to keep the connection alive.
func (c *FeedClient) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.config.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.logger.Debug("ping failed", zap.Error(err))
			}
		}
	}
}
