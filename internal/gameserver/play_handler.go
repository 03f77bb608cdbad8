package gameserver

import (
	"github.com/cory-johannsen/chessd/internal/protocol"
	"github.com/cory-johannsen/chessd/internal/transport"
)

// handleMove submits a move to the caller's session. Rule rejections are
// answered by the session itself with a private move_response; only turn and
// state violations surface here as errors.
func (r *Router) handleMove(conn transport.ManagedConn, env protocol.Envelope) error {
	var req protocol.MoveRequest
	if err := protocol.DecodeData(env, &req); err != nil {
		return err
	}

	sess, err := r.resolveSession(conn, req.GameID)
	if err != nil {
		return err
	}
	if err := sess.SubmitMove(conn.ID(), req); err != nil {
		return err
	}
	r.reapIfEnded(sess)
	return nil
}

// handleChat relays a chat line through the caller's session.
func (r *Router) handleChat(conn transport.ManagedConn, env protocol.Envelope) error {
	var req protocol.ChatRequest
	if err := protocol.DecodeData(env, &req); err != nil {
		return err
	}

	sess, err := r.resolveSession(conn, req.GameID)
	if err != nil {
		return err
	}
	return sess.Chat(conn.ID(), req.Message)
}

// handleResign concedes the caller's game.
func (r *Router) handleResign(conn transport.ManagedConn, env protocol.Envelope) error {
	var req protocol.ResignRequest
	if len(env.Data) > 0 {
		if err := protocol.DecodeData(env, &req); err != nil {
			return err
		}
	}

	sess, err := r.resolveSession(conn, req.GameID)
	if err != nil {
		return err
	}
	if err := sess.Resign(conn.ID()); err != nil {
		return err
	}
	r.reapIfEnded(sess)
	return nil
}

// handleDrawOffer forwards a draw offer to the opponent.
func (r *Router) handleDrawOffer(conn transport.ManagedConn, env protocol.Envelope) error {
	var req protocol.DrawOfferRequest
	if len(env.Data) > 0 {
		if err := protocol.DecodeData(env, &req); err != nil {
			return err
		}
	}

	sess, err := r.resolveSession(conn, req.GameID)
	if err != nil {
		return err
	}
	return sess.OfferDraw(conn.ID())
}

// handleDrawResponse settles an outstanding draw offer.
func (r *Router) handleDrawResponse(conn transport.ManagedConn, env protocol.Envelope) error {
	var req protocol.DrawResponseRequest
	if err := protocol.DecodeData(env, &req); err != nil {
		return err
	}

	sess, err := r.resolveSession(conn, req.GameID)
	if err != nil {
		return err
	}
	if err := sess.RespondDraw(conn.ID(), req.Accept); err != nil {
		return err
	}
	r.reapIfEnded(sess)
	return nil
}
