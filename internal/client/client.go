// Package client implements a chessd client with automatic reconnection.
// When the connection drops mid-game the client redials with capped
// exponential backoff and rejoins with its remembered game id, landing back
// in its seat if the grace window has not expired.
package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/chessd/internal/protocol"
)

// Config holds client connection settings.
type Config struct {
	// URL is the WebSocket endpoint, e.g. "ws://localhost:8000/ws".
	URL string
	// PlayerName is the identity sent with player_join. Must be non-empty.
	PlayerName string
	// PreferredColor is an optional seat preference ("white" or "black").
	PreferredColor string
	// GameID resumes a specific interrupted game, if set.
	GameID string
	// MaxRetries bounds reconnection attempts per outage. Zero means retry
	// until the context is cancelled.
	MaxRetries uint64
	// InitialBackoff is the first redial delay. Defaults to 500ms.
	InitialBackoff time.Duration
	// MaxBackoff caps the redial delay. Defaults to 15s.
	MaxBackoff time.Duration
	// WriteTimeout bounds each outbound write. Defaults to 10s.
	WriteTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 15 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
}

// Client is a connection to a chessd server. Server messages are delivered
// on the Messages channel in arrival order.
type Client struct {
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	ws      *websocket.Conn
	gameID  string
	color   string
	closed  bool
	stopped chan struct{}

	messages chan protocol.Envelope
}

// New creates a client. Call Run to connect.
//
// Precondition: cfg.URL and cfg.PlayerName must be non-empty; logger must be non-nil.
func New(cfg Config, logger *zap.Logger) *Client {
	cfg.applyDefaults()
	return &Client{
		cfg:      cfg,
		logger:   logger,
		stopped:  make(chan struct{}),
		messages: make(chan protocol.Envelope, 64),
	}
}

// Messages returns the channel of decoded server messages. The channel is
// closed when the client shuts down for good.
func (c *Client) Messages() <-chan protocol.Envelope { return c.messages }

// GameID returns the game the client is currently seated in, if any.
func (c *Client) GameID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gameID
}

// Color returns the seat color assigned by the server, if known.
func (c *Client) Color() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.color
}

// Run connects, joins, and pumps server messages until the context is
// cancelled, Close is called, or reconnection gives up. It blocks.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.messages)

	for {
		if err := c.connect(ctx); err != nil {
			return err
		}

		err := c.readLoop()

		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed || ctx.Err() != nil {
			return nil
		}

		c.logger.Warn("connection lost, reconnecting", zap.Error(err))
	}
}

// Close shuts the client down. Run returns shortly after.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.stopped)
	ws := c.ws
	c.mu.Unlock()

	if ws != nil {
		ws.Close()
	}
}

// connect dials with capped exponential backoff and sends player_join. A
// remembered game id turns the join into a resume.
func (c *Client) connect(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.InitialBackoff
	bo.MaxInterval = c.cfg.MaxBackoff
	bo.MaxElapsedTime = 0

	var policy backoff.BackOff = bo
	if c.cfg.MaxRetries > 0 {
		policy = backoff.WithMaxRetries(bo, c.cfg.MaxRetries)
	}
	policy = backoff.WithContext(policy, ctx)

	attempt := 0
	dial := func() error {
		select {
		case <-c.stopped:
			return backoff.Permanent(fmt.Errorf("client closed"))
		default:
		}

		attempt++
		ws, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, nil)
		if err != nil {
			c.logger.Debug("dial failed",
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return err
		}

		c.mu.Lock()
		c.ws = ws
		c.mu.Unlock()
		return nil
	}

	if err := backoff.Retry(dial, policy); err != nil {
		return fmt.Errorf("connecting to %s: %w", c.cfg.URL, err)
	}

	return c.join()
}

func (c *Client) join() error {
	c.mu.Lock()
	gameID := c.gameID
	c.mu.Unlock()
	if gameID == "" {
		gameID = c.cfg.GameID
	}

	return c.Send(protocol.TypePlayerJoin, protocol.JoinRequest{
		PlayerName:     c.cfg.PlayerName,
		PreferredColor: c.cfg.PreferredColor,
		GameID:         gameID,
	})
}

// readLoop pumps server messages into the Messages channel until the
// connection fails.
func (c *Client) readLoop() error {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()

	for {
		_, payload, err := ws.ReadMessage()
		if err != nil {
			return err
		}

		env, err := protocol.DecodeServer(payload)
		if err != nil {
			c.logger.Warn("discarding undecodable server message", zap.Error(err))
			continue
		}
		c.track(env)

		select {
		case c.messages <- env:
		case <-c.stopped:
			return nil
		}
	}
}

// track captures the seat assignment from the connection greeting so a
// reconnect can resume the same game.
func (c *Client) track(env protocol.Envelope) {
	if env.Type != protocol.TypeConnection {
		return
	}
	var status protocol.ConnectionStatus
	if err := protocol.DecodeData(env, &status); err != nil {
		return
	}

	c.mu.Lock()
	c.gameID = status.GameID
	c.color = status.Color
	c.mu.Unlock()
}

// Send transmits one typed message to the server.
func (c *Client) Send(msgType string, data any) error {
	payload, err := protocol.Encode(msgType, data)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws == nil {
		return fmt.Errorf("not connected")
	}
	c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

// Move submits a move in square notation, with an optional promotion piece.
func (c *Client) Move(from, to, promotion string) error {
	return c.Send(protocol.TypePlayerMove, protocol.MoveRequest{
		From:      from,
		To:        to,
		Promotion: promotion,
		GameID:    c.GameID(),
	})
}

// Chat sends a chat line to the opponent.
func (c *Client) Chat(message string) error {
	return c.Send(protocol.TypeChat, protocol.ChatRequest{
		Message: message,
		GameID:  c.GameID(),
	})
}

// Resign concedes the game.
func (c *Client) Resign() error {
	return c.Send(protocol.TypeResign, protocol.ResignRequest{GameID: c.GameID()})
}

// OfferDraw offers the opponent a draw.
func (c *Client) OfferDraw() error {
	return c.Send(protocol.TypeDrawOffer, protocol.DrawOfferRequest{GameID: c.GameID()})
}

// RespondDraw accepts or declines an outstanding draw offer.
func (c *Client) RespondDraw(accept bool) error {
	return c.Send(protocol.TypeDrawResponse, protocol.DrawResponseRequest{
		GameID: c.GameID(),
		Accept: accept,
	})
}
