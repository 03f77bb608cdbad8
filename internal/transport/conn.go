// Package transport accepts WebSocket connections and pumps wire messages
// between clients and the message handler. Each connection gets a dedicated
// writer goroutine fed by a bounded queue, so a slow client never blocks
// game processing.
package transport

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/chessd/internal/protocol"
)

// ErrSendBufferFull is returned by Push when the connection's outbound
// queue is full. The connection is closed as a side effect; a client that
// cannot drain its queue is treated as dead.
var ErrSendBufferFull = errors.New("send buffer full")

// ErrConnClosed is returned by Push after the connection has been closed.
var ErrConnClosed = errors.New("connection closed")

// Conn is a single client connection. It satisfies the Sink contract of the
// game dispatcher: Push never blocks on the network.
type Conn struct {
	id     string
	ws     *websocket.Conn
	logger *zap.Logger

	send      chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	writeTimeout time.Duration
	pongTimeout  time.Duration
	pingPeriod   time.Duration
}

// NewConn wraps an upgraded WebSocket connection. The caller is responsible
// for starting readPump and writePump.
func NewConn(ws *websocket.Conn, sendBuffer int, writeTimeout, pongTimeout, pingPeriod time.Duration, logger *zap.Logger) *Conn {
	id := uuid.NewString()
	return &Conn{
		id:           id,
		ws:           ws,
		logger:       logger.With(zap.String("conn_id", id)),
		send:         make(chan []byte, sendBuffer),
		closed:       make(chan struct{}),
		writeTimeout: writeTimeout,
		pongTimeout:  pongTimeout,
		pingPeriod:   pingPeriod,
	}
}

// ID returns the connection's unique identifier.
func (c *Conn) ID() string { return c.id }

// RemoteAddr returns the peer address for logging.
func (c *Conn) RemoteAddr() string { return c.ws.RemoteAddr().String() }

// Push queues an outbound payload without blocking.
//
// Postcondition: On ErrSendBufferFull the connection has been closed.
func (c *Conn) Push(payload []byte) error {
	select {
	case <-c.closed:
		return ErrConnClosed
	default:
	}

	select {
	case c.send <- payload:
		return nil
	default:
		c.logger.Warn("send buffer full, closing connection",
			zap.String("remote_addr", c.RemoteAddr()),
		)
		c.Close()
		return ErrSendBufferFull
	}
}

// Close tears down the connection. Safe to call multiple times; the read
// pump observes the closed socket and triggers the disconnect path.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.ws.Close()
	})
}

// readPump reads messages from the socket and hands each one to onMessage.
// It blocks until the connection fails or is closed, enforcing the pong
// deadline so dead peers are detected.
func (c *Conn) readPump(onMessage func([]byte)) {
	defer c.Close()

	c.ws.SetReadLimit(protocol.MaxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(c.pongTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(c.pongTimeout))
		return nil
	})

	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Debug("read failed",
					zap.String("remote_addr", c.RemoteAddr()),
					zap.Error(err),
				)
			}
			return
		}
		onMessage(payload)
	}
}

// writePump drains the send queue onto the socket and keeps the connection
// alive with periodic pings. It exits when the connection closes.
func (c *Conn) writePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case payload := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.logger.Debug("write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closed:
			c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
