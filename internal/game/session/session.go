// Package session implements the authoritative state machine for one
// two-player game: seats, turn authority, chat, draw offers, and the
// broadcast/consistency guarantees between the two connections.
package session

import (
	"sync"

	"go.uber.org/zap"

	"github.com/cory-johannsen/chessd/internal/game/rules"
	"github.com/cory-johannsen/chessd/internal/protocol"
)

// Status is the session lifecycle state.
type Status string

const (
	StatusWaiting Status = "waiting"
	StatusActive  Status = "active"
	StatusPaused  Status = "paused"
	StatusEnded   Status = "ended"
)

// EndReason records why a session ended.
type EndReason string

const (
	EndNone              EndReason = ""
	EndResignation       EndReason = "resignation"
	EndDrawAgreed        EndReason = "draw_agreed"
	EndCheckmate         EndReason = "checkmate"
	EndStalemate         EndReason = "stalemate"
	EndDisconnectTimeout EndReason = "opponent_disconnected_timeout"
	EndInternalError     EndReason = "internal_error"
)

// Params bounds the per-session buffers.
type Params struct {
	// ChatLogCapacity caps the retained chat history; oldest entries drop first.
	ChatLogCapacity int
	// ChatMaxLength caps a single chat message in runes.
	ChatMaxLength int
	// PendingBuffer caps messages queued for a disconnected seat.
	PendingBuffer int
}

// ChatEntry is one line of the session chat log.
type ChatEntry struct {
	From    string
	Message string
}

// Slot is one of the two seats in a session. The connection association is
// held by id plus a push sink so the transport can be torn down without the
// session owning it.
type Slot struct {
	Color     rules.Color
	Identity  string
	ConnID    string
	Connected bool

	sink         Sink
	pendingState []byte
	pendingChat  [][]byte
}

// Session owns one game's authoritative state. All mutation is serialized
// through the session mutex; broadcasts to both seats complete before the
// triggering operation returns, so no client observes a half-applied move.
type Session struct {
	mu sync.Mutex

	id       string
	logger   *zap.Logger
	engine   rules.Engine
	dispatch *Dispatcher
	params   Params

	status    Status
	slots     [2]*Slot
	pos       *rules.Position
	moveSeq   uint64
	chatLog   []ChatEntry
	drawOffer *rules.Color
	endReason EndReason
	winner    string
}

// New creates a waiting session seated by its first player and greets that
// player with a connection status.
//
// Precondition: id, connID, and identity must be non-empty; engine, sink, and
// logger must be non-nil.
// Postcondition: Returns a session in StatusWaiting with one connected seat.
func New(id string, engine rules.Engine, params Params, logger *zap.Logger,
	connID, identity string, color rules.Color, sink Sink) *Session {

	s := &Session{
		id:        id,
		logger:    logger.With(zap.String("game_id", id)),
		engine:    engine,
		dispatch:  NewDispatcher(params.PendingBuffer, logger),
		params:    params,
		status:    StatusWaiting,
		pos:       rules.Initial(),
	}
	s.slots[0] = &Slot{
		Color:     color,
		Identity:  identity,
		ConnID:    connID,
		Connected: true,
		sink:      sink,
	}
	s.greetLocked(s.slots[0], false)
	return s
}

// ID returns the stable game identifier exposed to clients.
func (s *Session) ID() string { return s.id }

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// MoveSeq returns the count of accepted moves.
func (s *Session) MoveSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.moveSeq
}

// Join seats the second player, activates the session, greets the joiner,
// and broadcasts the initial state to both seats. The greeting reaches the
// joiner's sink before the state broadcast, so the first message a client
// ever receives is its connection status.
//
// Postcondition: Returns the assigned color, or a CodedError if the session
// is not waiting.
func (s *Session) Join(connID, identity string, sink Sink) (rules.Color, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusWaiting {
		return 0, protocol.NewCodedError(protocol.CodeGameNotActive, "game %s is not open for joining", s.id)
	}

	color := s.slots[0].Color.Opponent()
	s.slots[1] = &Slot{
		Color:     color,
		Identity:  identity,
		ConnID:    connID,
		Connected: true,
		sink:      sink,
	}
	s.status = StatusActive

	s.logger.Info("session activated",
		zap.String("white", s.identityOf(rules.White)),
		zap.String("black", s.identityOf(rules.Black)),
	)

	s.greetLocked(s.slots[1], false)
	s.broadcastState(ClassState)
	return color, nil
}

// SubmitMove validates and applies a move from the given connection.
//
// On a rule rejection the submitting seat alone receives a rejected
// move_response; the opponent is never informed of the attempt. On success
// the new state reaches both seats before SubmitMove returns.
//
// Postcondition: Returns nil, or a CodedError for turn/state violations.
func (s *Session) SubmitMove(connID string, req protocol.MoveRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot := s.slotByConn(connID)
	if slot == nil {
		return protocol.NewCodedError(protocol.CodeInvalidRequest, "connection has no seat in game %s", s.id)
	}
	if s.status != StatusActive {
		return protocol.NewCodedError(protocol.CodeGameNotActive, "game %s is %s", s.id, s.status)
	}
	if slot.Color != s.pos.Turn() {
		return protocol.NewCodedError(protocol.CodeNotYourTurn, "it is %s's turn", s.pos.Turn())
	}

	mv, err := parseMove(req)
	if err != nil {
		s.rejectMove(slot, req, err.Error())
		return nil
	}

	next, err := s.engine.Validate(s.pos, mv)
	if err != nil {
		s.rejectMove(slot, req, err.Error())
		return nil
	}

	s.pos = next
	s.moveSeq++

	if res := s.engine.Terminal(s.pos); res.Outcome != rules.OutcomeNone {
		switch res.Outcome {
		case rules.OutcomeCheckmate:
			s.endLocked(EndCheckmate, res.Winner.String())
		case rules.OutcomeStalemate:
			s.endLocked(EndStalemate, "")
		}
	}

	state := s.snapshotLocked()
	s.dispatch.ToSlot(slot, ClassTransient, mustEncode(s.logger, protocol.TypeMoveResponse, protocol.MoveResponse{
		Accepted: true,
		From:     req.From,
		To:       req.To,
		State:    &state,
	}))
	s.broadcastState(ClassState)

	s.logger.Debug("move accepted",
		zap.String("move", mv.String()),
		zap.Uint64("move_seq", s.moveSeq),
	)
	return nil
}

func (s *Session) rejectMove(slot *Slot, req protocol.MoveRequest, reason string) {
	s.dispatch.ToSlot(slot, ClassTransient, mustEncode(s.logger, protocol.TypeMoveResponse, protocol.MoveResponse{
		Accepted: false,
		From:     req.From,
		To:       req.To,
		Reason:   reason,
	}))
}

// Chat appends a line to the bounded chat log and relays it to both seats.
//
// Postcondition: Returns nil, or a CodedError if the session has ended or
// the message exceeds the length cap.
func (s *Session) Chat(connID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot := s.slotByConn(connID)
	if slot == nil {
		return protocol.NewCodedError(protocol.CodeInvalidRequest, "connection has no seat in game %s", s.id)
	}
	if s.status == StatusEnded {
		return protocol.NewCodedError(protocol.CodeGameNotActive, "game %s has ended", s.id)
	}
	if len([]rune(text)) > s.params.ChatMaxLength {
		return protocol.NewCodedError(protocol.CodeInvalidRequest, "chat message exceeds %d characters", s.params.ChatMaxLength)
	}

	s.chatLog = append(s.chatLog, ChatEntry{From: slot.Identity, Message: text})
	if len(s.chatLog) > s.params.ChatLogCapacity {
		s.chatLog = s.chatLog[len(s.chatLog)-s.params.ChatLogCapacity:]
	}

	data := mustEncode(s.logger, protocol.TypeChat, protocol.ChatBroadcast{From: slot.Identity, Message: text})
	s.dispatch.ToBoth(s.slots[0], s.slots[1], ClassChat, data)
	return nil
}

// Resign concedes the game for the submitting seat. Valid while active or
// paused; the final result reaches a disconnected opponent through its
// pending buffer.
func (s *Session) Resign(connID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot := s.slotByConn(connID)
	if slot == nil {
		return protocol.NewCodedError(protocol.CodeInvalidRequest, "connection has no seat in game %s", s.id)
	}
	if s.status != StatusActive && s.status != StatusPaused {
		return protocol.NewCodedError(protocol.CodeGameNotActive, "game %s is %s", s.id, s.status)
	}

	s.endLocked(EndResignation, slot.Color.Opponent().String())
	s.broadcastState(ClassState)
	return nil
}

// OfferDraw records a draw offer. A second offer before a response replaces
// the first; there is no offer queue.
func (s *Session) OfferDraw(connID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot := s.slotByConn(connID)
	if slot == nil {
		return protocol.NewCodedError(protocol.CodeInvalidRequest, "connection has no seat in game %s", s.id)
	}
	if s.status != StatusActive {
		return protocol.NewCodedError(protocol.CodeGameNotActive, "game %s is %s", s.id, s.status)
	}

	c := slot.Color
	s.drawOffer = &c

	if opp := s.slotByColor(c.Opponent()); opp != nil {
		s.dispatch.ToSlot(opp, ClassTransient, mustEncode(s.logger, protocol.TypeDrawOffered, protocol.DrawOffered{
			GameID: s.id,
			From:   slot.Identity,
		}))
	}
	return nil
}

// RespondDraw accepts or declines the outstanding offer. Accepting ends the
// session; declining clears the offer with no state transition.
func (s *Session) RespondDraw(connID string, accept bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot := s.slotByConn(connID)
	if slot == nil {
		return protocol.NewCodedError(protocol.CodeInvalidRequest, "connection has no seat in game %s", s.id)
	}
	if s.status != StatusActive {
		return protocol.NewCodedError(protocol.CodeGameNotActive, "game %s is %s", s.id, s.status)
	}
	if s.drawOffer == nil || *s.drawOffer != slot.Color.Opponent() {
		return protocol.NewCodedError(protocol.CodeInvalidRequest, "no draw offer to respond to")
	}

	s.drawOffer = nil
	if accept {
		s.endLocked(EndDrawAgreed, "")
		s.broadcastState(ClassState)
	}
	return nil
}

// HandleDisconnect marks the seat bound to connID as disconnected.
//
// Postcondition: Returns the seat's color and whether the session remains
// resumable (a reconnection ticket should be issued). A waiting or ended
// session is not resumable; a second return of false for an unknown connID
// makes repeated close notifications harmless.
func (s *Session) HandleDisconnect(connID string) (rules.Color, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot := s.slotByConn(connID)
	if slot == nil {
		return 0, false
	}

	slot.Connected = false
	slot.ConnID = ""
	slot.sink = nil

	switch s.status {
	case StatusActive:
		s.status = StatusPaused
		s.logger.Info("session paused", zap.String("color", slot.Color.String()))
		s.broadcastState(ClassState)
		return slot.Color, true
	case StatusPaused:
		return slot.Color, true
	default:
		return slot.Color, false
	}
}

// Resume re-binds a returning player to their seat, greets it, flushes the
// pending buffer to the resumed seat only, and reactivates the session if
// the opponent is still connected.
//
// Precondition: color/identity must match the ticket consumed by the caller.
func (s *Session) Resume(color rules.Color, identity, connID string, sink Sink) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot := s.slotByColor(color)
	if slot == nil || slot.Identity != identity {
		return protocol.NewCodedError(protocol.CodeInvalidRequest, "no seat for %s in game %s", identity, s.id)
	}
	if slot.Connected {
		return protocol.NewCodedError(protocol.CodeAlreadyInGame, "%s is already connected to game %s", identity, s.id)
	}

	slot.ConnID = connID
	slot.Connected = true
	slot.sink = sink

	if s.status == StatusPaused {
		if opp := s.slotByColor(color.Opponent()); opp != nil && opp.Connected {
			s.status = StatusActive
		}
	}

	s.greetLocked(slot, true)
	s.dispatch.Flush(slot)
	// A fresh snapshot follows the backlog; the opponent learns the seat
	// is occupied again from the same broadcast.
	s.broadcastState(ClassState)

	s.logger.Info("session resumed",
		zap.String("color", color.String()),
		zap.String("status", string(s.status)),
	)
	return nil
}

// EndForTimeout terminates the session after the grace window expired for
// the given disconnected seat. Ending an already-ended session is a no-op.
func (s *Session) EndForTimeout(color rules.Color) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == StatusEnded {
		return
	}

	s.endLocked(EndDisconnectTimeout, color.Opponent().String())
	s.broadcastState(ClassState)
}

// Fail terminates the session after an unrecoverable internal error,
// notifying both seats. Other sessions are unaffected.
func (s *Session) Fail() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == StatusEnded {
		return
	}
	s.endLocked(EndInternalError, "")
	s.broadcastState(ClassState)
}

// Snapshot returns the current authoritative state.
func (s *Session) Snapshot() protocol.GameState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// ChatLog returns a copy of the retained chat history.
func (s *Session) ChatLog() []ChatEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ChatEntry, len(s.chatLog))
	copy(out, s.chatLog)
	return out
}

// SlotConnID returns the connection id bound to the given color, if any.
func (s *Session) SlotConnID(color rules.Color) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot := s.slotByColor(color)
	if slot == nil || !slot.Connected {
		return "", false
	}
	return slot.ConnID, true
}

// endLocked transitions to StatusEnded. Caller holds s.mu.
func (s *Session) endLocked(reason EndReason, winner string) {
	s.status = StatusEnded
	s.endReason = reason
	s.winner = winner
	s.drawOffer = nil

	s.logger.Info("session ended",
		zap.String("reason", string(reason)),
		zap.String("winner", winner),
		zap.Uint64("moves", s.moveSeq),
	)
}

// greetLocked pushes a connection status to one seat. Caller holds s.mu.
func (s *Session) greetLocked(slot *Slot, resumed bool) {
	data := mustEncode(s.logger, protocol.TypeConnection, protocol.ConnectionStatus{
		Status:  string(s.status),
		GameID:  s.id,
		Color:   slot.Color.String(),
		Resumed: resumed,
	})
	s.dispatch.ToSlot(slot, ClassTransient, data)
}

// broadcastState sends the current snapshot to both seats. Caller holds s.mu.
func (s *Session) broadcastState(class Class) {
	data := mustEncode(s.logger, protocol.TypeGameState, s.snapshotLocked())
	s.dispatch.ToBoth(s.slots[0], s.slots[1], class, data)
}

func (s *Session) snapshotLocked() protocol.GameState {
	state := protocol.GameState{
		GameID:        s.id,
		Status:        string(s.status),
		CurrentPlayer: s.pos.Turn().String(),
		Board:         s.pos.FEN(),
		MoveSeq:       s.moveSeq,
		Winner:        s.winner,
		EndReason:     string(s.endReason),
	}
	for _, slot := range s.slots {
		if slot == nil {
			continue
		}
		state.Players = append(state.Players, protocol.PlayerInfo{
			Name:      slot.Identity,
			Color:     slot.Color.String(),
			Connected: slot.Connected,
		})
	}
	return state
}

func (s *Session) slotByConn(connID string) *Slot {
	if connID == "" {
		return nil
	}
	for _, slot := range s.slots {
		if slot != nil && slot.ConnID == connID {
			return slot
		}
	}
	return nil
}

func (s *Session) slotByColor(c rules.Color) *Slot {
	for _, slot := range s.slots {
		if slot != nil && slot.Color == c {
			return slot
		}
	}
	return nil
}

func (s *Session) identityOf(c rules.Color) string {
	if slot := s.slotByColor(c); slot != nil {
		return slot.Identity
	}
	return ""
}

// DisconnectedIdentity returns the identity seated at color if that seat is
// currently disconnected.
func (s *Session) DisconnectedIdentity(color rules.Color) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot := s.slotByColor(color)
	if slot == nil || slot.Connected {
		return "", false
	}
	return slot.Identity, true
}

func parseMove(req protocol.MoveRequest) (rules.Move, error) {
	from, err := rules.ParseSquare(req.From)
	if err != nil {
		return rules.Move{}, err
	}
	to, err := rules.ParseSquare(req.To)
	if err != nil {
		return rules.Move{}, err
	}
	mv := rules.Move{From: from, To: to}
	if req.Promotion != "" {
		pt, err := rules.ParsePieceType(req.Promotion)
		if err != nil {
			return rules.Move{}, err
		}
		mv.Promotion = pt
	}
	return mv, nil
}

func mustEncode(logger *zap.Logger, msgType string, data any) []byte {
	payload, err := protocol.Encode(msgType, data)
	if err != nil {
		// Outbound payloads are plain structs; a marshal failure is a bug.
		logger.Error("encoding outbound message", zap.String("type", msgType), zap.Error(err))
		return nil
	}
	return payload
}
