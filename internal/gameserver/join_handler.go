package gameserver

import (
	"go.uber.org/zap"

	"github.com/cory-johannsen/chessd/internal/game/reconnect"
	"github.com/cory-johannsen/chessd/internal/game/rules"
	"github.com/cory-johannsen/chessd/internal/protocol"
	"github.com/cory-johannsen/chessd/internal/transport"
)

// handleJoin seats the player. A join that matches an open reconnection
// ticket resumes the interrupted seat; otherwise the player enters
// matchmaking. The client is greeted with a connection status either way.
func (r *Router) handleJoin(conn transport.ManagedConn, env protocol.Envelope) error {
	var req protocol.JoinRequest
	if err := protocol.DecodeData(env, &req); err != nil {
		return err
	}
	if req.PlayerName == "" {
		return protocol.NewCodedError(protocol.CodeInvalidRequest, "player_name must not be empty")
	}

	var preferred *rules.Color
	if req.PreferredColor != "" {
		c, err := rules.ParseColor(req.PreferredColor)
		if err != nil {
			return protocol.NewCodedError(protocol.CodeInvalidRequest, "preferred_color must be white or black")
		}
		preferred = &c
	}

	if _, inGame := r.match.ByConn(conn.ID()); inGame {
		return protocol.NewCodedError(protocol.CodeAlreadyInGame, "connection is already in a game")
	}

	ticket, resumed, err := r.tickets.AttemptResume(req.PlayerName, req.GameID)
	if err != nil {
		return err
	}
	if resumed {
		return r.resumeSeat(conn, req.PlayerName, ticket)
	}
	if req.GameID != "" {
		// An explicit game id is a resume request; without a matching
		// ticket there is nothing to rejoin.
		return protocol.NewCodedError(protocol.CodeNoSuchGame, "no resumable seat in game %s", req.GameID)
	}

	// The session greets the joiner itself so the connection status reaches
	// the wire before the activation broadcast.
	sess, color, err := r.match.Join(conn.ID(), req.PlayerName, preferred, conn)
	if err != nil {
		return err
	}

	r.logger.Info("player joined",
		zap.String("conn_id", conn.ID()),
		zap.String("player", req.PlayerName),
		zap.String("game_id", sess.ID()),
		zap.String("color", color.String()),
	)
	return nil
}

// resumeSeat re-binds a returning player to the seat named by a redeemed
// ticket. The session greets the seat first, then flushes what the player
// missed and a fresh snapshot.
func (r *Router) resumeSeat(conn transport.ManagedConn, identity string, ticket reconnect.Ticket) error {
	sess, ok := r.match.Lookup(ticket.GameID)
	if !ok {
		return protocol.NewCodedError(protocol.CodeNoSuchGame, "game %s no longer exists", ticket.GameID)
	}

	if err := sess.Resume(ticket.Color, identity, conn.ID(), conn); err != nil {
		// The ticket was consumed; restore it with its original deadline so
		// the player can retry without extending the grace window.
		r.tickets.Restore(ticket)
		return err
	}
	r.match.BindConn(conn.ID(), ticket.GameID)

	r.logger.Info("player resumed",
		zap.String("conn_id", conn.ID()),
		zap.String("player", identity),
		zap.String("game_id", ticket.GameID),
		zap.String("color", ticket.Color.String()),
	)
	return nil
}
