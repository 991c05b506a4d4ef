package paradex

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	appconfig "perpscan/config"
	"perpscan/logger"
	"perpscan/models"
)

// Channel templates for the public Paradex websocket streams. The {market}
// placeholder is substituted from the subscription params.
const (
	ChannelBbo            = "bbo.{market}"
	ChannelMarketsSummary = "markets_summary"
)

// Handler receives each raw inbound frame. It reports false when the frame
// could not be enqueued; the read loop logs and moves on.
type Handler func(ctx context.Context, msg models.RawMessage) bool

// Client is the Paradex transport: REST discovery plus a gorilla websocket
// connection with subscribe support. The scanner owns reconnect policy;
// the client only reports read failures through feed silence.
type Client struct {
	cfg        *appconfig.Config
	httpClient *http.Client
	handler    Handler
	log        *logger.Log
	limiter    *rate.Limiter

	mu        sync.Mutex
	conn      *websocket.Conn
	sessionID string
	symbols   []string

	nextID int64
}

func NewClient(cfg *appconfig.Config, handler Handler) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Feed.ConnectTimeout},
		handler:    handler,
		log:        logger.GetLogger(),
		limiter:    rate.NewLimiter(rate.Limit(cfg.Feed.SubscribePerSecond), cfg.Feed.SubscribeBurst),
	}
}

// SetSymbols fixes the market set the client subscribes to. Called once
// after discovery, before the first SubscribeAll.
func (c *Client) SetSymbols(symbols []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.symbols = symbols
}

// Connect dials the websocket and starts the read loop. Any previous
// connection is closed first, so Connect is also the reconnect entry point.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		c.closeLocked()
	}

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.Feed.ConnectTimeout}
	conn, _, err := dialer.DialContext(ctx, c.cfg.Feed.WsURL, nil)
	if err != nil {
		return fmt.Errorf("failed to dial websocket: %w", err)
	}

	c.conn = conn
	c.sessionID = uuid.NewString()

	go c.readLoop(ctx, conn, c.sessionID)

	c.log.WithComponent("paradex_ws").WithFields(logger.Fields{
		"url":     c.cfg.Feed.WsURL,
		"session": c.sessionID,
	}).Info("websocket connected")

	return nil
}

// Disconnect sends a close frame and tears the connection down. Callers
// treat failures as non-fatal; the transport is usually already broken
// when Disconnect is called.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}

	err := c.closeLocked()
	c.log.WithComponent("paradex_ws").Info("websocket disconnected")
	return err
}

func (c *Client) closeLocked() error {
	conn := c.conn
	c.conn = nil

	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return conn.Close()
}

type subscribeRequest struct {
	Jsonrpc string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  map[string]string `json:"params"`
	ID      int64             `json:"id"`
}

// Subscribe issues one subscription request for the given channel template
// and params. Requests are paced by the rate limiter so a full resubscribe
// burst does not flood the server.
func (c *Client) Subscribe(ctx context.Context, channel string, params map[string]string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("subscribe rate limit wait: %w", err)
	}

	expanded := expandChannel(channel, params)
	req := subscribeRequest{
		Jsonrpc: "2.0",
		Method:  "subscribe",
		Params:  map[string]string{"channel": expanded},
		ID:      atomic.AddInt64(&c.nextID, 1),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	if err := c.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", expanded, err)
	}

	c.log.WithComponent("paradex_ws").WithFields(logger.Fields{
		"channel": expanded,
		"session": c.sessionID,
	}).Debug("subscribed")

	return nil
}

// SubscribeAll issues the aggregate markets summary subscription plus one
// bbo subscription per tracked market. Used at startup and after every
// watchdog reconnect.
func (c *Client) SubscribeAll(ctx context.Context) error {
	if err := c.Subscribe(ctx, ChannelMarketsSummary, map[string]string{"market": "ALL"}); err != nil {
		return err
	}

	c.mu.Lock()
	symbols := c.symbols
	c.mu.Unlock()

	for _, sym := range symbols {
		if err := c.Subscribe(ctx, ChannelBbo, map[string]string{"market": sym}); err != nil {
			return fmt.Errorf("bbo subscription for %s: %w", sym, err)
		}
	}

	c.log.WithComponent("paradex_ws").WithFields(logger.Fields{
		"markets": len(symbols),
	}).Info("subscribed to summary and per-market bbo channels")

	return nil
}

// readLoop forwards every inbound frame to the handler until the
// connection dies. Recovery is the watchdog's job: the resulting feed
// silence triggers reconnection, so the loop just exits on error.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, session string) {
	log := c.log.WithComponent("paradex_ws").WithFields(logger.Fields{"session": session})

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.WithError(err).Warn("websocket read ended")
			}
			return
		}

		logger.IncrementFeedRead(len(frame))

		msg := models.RawMessage{Received: time.Now().UTC(), Frame: frame}
		if !c.handler(ctx, msg) && ctx.Err() == nil {
			log.Warn("raw channel is full, dropping frame")
		}
	}
}

// expandChannel substitutes {placeholders} in a channel template from the
// subscription params. Params without a matching placeholder are ignored.
func expandChannel(channel string, params map[string]string) string {
	out := channel
	for key, value := range params {
		out = strings.ReplaceAll(out, "{"+key+"}", value)
	}
	return out
}
