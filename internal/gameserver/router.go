// Package gameserver routes decoded client messages to the matchmaker and
// game sessions, and owns the disconnect/reconnect flow.
package gameserver

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/chessd/internal/config"
	"github.com/cory-johannsen/chessd/internal/game/match"
	"github.com/cory-johannsen/chessd/internal/game/reconnect"
	"github.com/cory-johannsen/chessd/internal/game/rules"
	"github.com/cory-johannsen/chessd/internal/game/session"
	"github.com/cory-johannsen/chessd/internal/protocol"
	"github.com/cory-johannsen/chessd/internal/transport"
)

// Router implements transport.Handler. Every inbound payload is decoded,
// dispatched to a per-type handler, and any error the handler returns is
// reported to the sender alone as an error envelope.
type Router struct {
	cfg      config.GameConfig
	logger   *zap.Logger
	registry *transport.Registry
	match    *match.Matchmaker
	tickets  *reconnect.Manager

	mu     sync.Mutex
	reaps  map[string]*time.Timer
	closed bool
}

// NewRouter creates a Router and its reconnection ticket manager.
//
// Precondition: registry, matchmaker, and logger must be non-nil; cfg must
// have been validated.
func NewRouter(cfg config.GameConfig, registry *transport.Registry, matchmaker *match.Matchmaker, logger *zap.Logger) *Router {
	r := &Router{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		match:    matchmaker,
		reaps:    make(map[string]*time.Timer),
	}
	r.tickets = reconnect.NewManager(cfg.GracePeriod, r.handleGraceExpired, logger)
	return r
}

// Tickets exposes the reconnection manager, primarily for tests.
func (r *Router) Tickets() *reconnect.Manager { return r.tickets }

// HandleConnect registers the new connection. No greeting is sent until the
// client identifies itself with player_join.
func (r *Router) HandleConnect(conn transport.ManagedConn) {
	r.registry.Register(conn)
}

// HandleMessage decodes one payload and dispatches it. A failure in any
// handler reaches only the offending connection; a payload that cannot be
// decoded is answered with malformed_message or unknown_type.
func (r *Router) HandleMessage(conn transport.ManagedConn, payload []byte) {
	env, err := protocol.Decode(payload)
	if err != nil {
		r.sendError(conn, err)
		return
	}

	switch env.Type {
	case protocol.TypePlayerJoin:
		err = r.handleJoin(conn, env)
	case protocol.TypePlayerMove:
		err = r.handleMove(conn, env)
	case protocol.TypeChat:
		err = r.handleChat(conn, env)
	case protocol.TypeResign:
		err = r.handleResign(conn, env)
	case protocol.TypeDrawOffer:
		err = r.handleDrawOffer(conn, env)
	case protocol.TypeDrawResponse:
		err = r.handleDrawResponse(conn, env)
	}
	if err != nil {
		r.sendError(conn, err)
	}
}

// HandleDisconnect unbinds the connection, pauses its session, and opens a
// reconnection ticket when the game can still be resumed. Duplicate close
// notifications are harmless.
func (r *Router) HandleDisconnect(conn transport.ManagedConn) {
	if !r.registry.Unregister(conn.ID()) {
		return
	}

	sess, color, resumable := r.match.HandleDisconnect(conn.ID())
	if sess == nil {
		return
	}
	if !resumable {
		r.reapIfEnded(sess)
		return
	}

	identity, ok := sess.DisconnectedIdentity(color)
	if !ok {
		r.logger.Warn("disconnected seat has no identity",
			zap.String("game_id", sess.ID()),
			zap.String("color", color.String()),
		)
		return
	}
	r.tickets.MarkDisconnected(sess.ID(), color, identity)
}

// Stop cancels all reconnection tickets and pending session reaps, then
// closes every live connection.
func (r *Router) Stop() {
	r.mu.Lock()
	r.closed = true
	for id, timer := range r.reaps {
		timer.Stop()
		delete(r.reaps, id)
	}
	r.mu.Unlock()

	r.tickets.Stop()
	r.registry.CloseAll()
}

// resolveSession finds the caller's session and checks the optional game id
// against it.
func (r *Router) resolveSession(conn transport.ManagedConn, gameID string) (*session.Session, error) {
	sess, ok := r.match.ByConn(conn.ID())
	if !ok {
		return nil, protocol.NewCodedError(protocol.CodeNoSuchGame, "connection is not in a game")
	}
	if gameID != "" && gameID != sess.ID() {
		return nil, protocol.NewCodedError(protocol.CodeNoSuchGame, "no game %s for this connection", gameID)
	}
	return sess, nil
}

// handleGraceExpired ends the game the disconnected player failed to rejoin
// in time. The remaining player wins.
func (r *Router) handleGraceExpired(gameID string, color rules.Color) {
	sess, ok := r.match.Lookup(gameID)
	if !ok {
		return
	}

	r.logger.Info("grace period expired, ending game",
		zap.String("game_id", gameID),
		zap.String("color", color.String()),
	)
	sess.EndForTimeout(color)
	r.reapIfEnded(sess)
}

// reapIfEnded schedules removal of an ended session after the retention
// window, so a player who reconnects shortly after the end can still learn
// the outcome.
func (r *Router) reapIfEnded(sess *session.Session) {
	if sess.Status() != session.StatusEnded {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if _, scheduled := r.reaps[sess.ID()]; scheduled {
		return
	}
	id := sess.ID()
	r.reaps[id] = time.AfterFunc(r.cfg.Retention, func() {
		r.mu.Lock()
		delete(r.reaps, id)
		r.mu.Unlock()
		r.tickets.CancelGame(id)
		r.match.Remove(id)
		r.logger.Debug("ended session reaped", zap.String("game_id", id))
	})
}

// sendError reports a per-message failure to the offending connection.
// Errors without a code are masked as internal_error.
func (r *Router) sendError(conn transport.ManagedConn, err error) {
	var cerr *protocol.CodedError
	if !errors.As(err, &cerr) {
		r.logger.Error("handler failure",
			zap.String("conn_id", conn.ID()),
			zap.Error(err),
		)
		cerr = protocol.NewCodedError(protocol.CodeInternalError, "internal error")
	} else {
		r.logger.Debug("message rejected",
			zap.String("conn_id", conn.ID()),
			zap.String("code", cerr.Code),
			zap.String("reason", cerr.Message),
		)
	}

	payload, encErr := protocol.EncodeError(cerr)
	if encErr != nil {
		r.logger.Error("encoding error envelope", zap.Error(encErr))
		return
	}
	if pushErr := conn.Push(payload); pushErr != nil {
		r.logger.Debug("error envelope not delivered",
			zap.String("conn_id", conn.ID()),
			zap.Error(pushErr),
		)
	}
}
