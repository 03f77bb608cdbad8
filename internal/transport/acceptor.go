package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/chessd/internal/config"
)

// Handler receives connection lifecycle events and inbound messages.
// HandleMessage is called from the connection's read goroutine, one message
// at a time per connection.
type Handler interface {
	HandleConnect(conn ManagedConn)
	HandleMessage(conn ManagedConn, payload []byte)
	HandleDisconnect(conn ManagedConn)
}

// Acceptor listens for WebSocket connections on an HTTP port and dispatches
// each connection to a Handler.
type Acceptor struct {
	cfg     config.ServerConfig
	handler Handler
	logger  *zap.Logger

	upgrader websocket.Upgrader
	httpSrv  *http.Server

	mu       sync.Mutex
	listener net.Listener
	running  bool
}

// NewAcceptor creates a WebSocket acceptor with the given configuration.
//
// Precondition: cfg must have a valid port; handler and logger must be non-nil.
// Postcondition: Returns an Acceptor ready to be started with ListenAndServe.
func NewAcceptor(cfg config.ServerConfig, handler Handler, logger *zap.Logger) *Acceptor {
	a := &Acceptor{
		cfg:     cfg,
		handler: handler,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", a.serveWS)
	a.httpSrv = &http.Server{Handler: mux}
	return a
}

// ListenAndServe starts the listener and serves connections until Stop is
// called. This method blocks until the acceptor is stopped.
//
// Precondition: The acceptor must not already be running.
func (a *Acceptor) ListenAndServe() error {
	start := time.Now()

	listener, err := net.Listen("tcp", a.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", a.cfg.Addr(), err)
	}

	a.mu.Lock()
	a.listener = listener
	a.running = true
	a.mu.Unlock()

	a.logger.Info("websocket acceptor listening",
		zap.String("addr", listener.Addr().String()),
		zap.Duration("startup", time.Since(start)),
	)

	if err := a.httpSrv.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving: %w", err)
	}
	return nil
}

// serveWS upgrades an HTTP request and runs the connection's pumps. The
// request goroutine becomes the read pump; the write pump runs alongside it.
func (a *Acceptor) serveWS(w http.ResponseWriter, r *http.Request) {
	ws, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Error("websocket upgrade failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}

	conn := NewConn(ws, a.cfg.SendBuffer, a.cfg.WriteTimeout, a.cfg.PongTimeout, a.cfg.PingPeriod(), a.logger)
	start := time.Now()
	a.logger.Info("client connected",
		zap.String("conn_id", conn.ID()),
		zap.String("remote_addr", conn.RemoteAddr()),
	)

	a.handler.HandleConnect(conn)
	go conn.writePump()
	conn.readPump(func(payload []byte) {
		a.handler.HandleMessage(conn, payload)
	})
	a.handler.HandleDisconnect(conn)

	a.logger.Info("client disconnected",
		zap.String("conn_id", conn.ID()),
		zap.Duration("duration", time.Since(start)),
	)
}

// Stop gracefully stops the acceptor, refusing new connections and shutting
// down the HTTP server.
//
// Postcondition: The listener is closed when this method returns.
func (a *Acceptor) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.running {
		return
	}
	a.running = false

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.httpSrv.Shutdown(ctx); err != nil {
		a.logger.Warn("acceptor shutdown", zap.Error(err))
	}

	a.logger.Info("websocket acceptor stopped")
}

// Addr returns the actual listening address, or empty string if not yet listening.
func (a *Acceptor) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener != nil {
		return a.listener.Addr().String()
	}
	return ""
}

// IsRunning returns whether the acceptor is currently accepting connections.
func (a *Acceptor) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}
