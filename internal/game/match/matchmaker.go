// Package match pairs unassigned connections into game sessions and serves
// as the process-wide session registry.
package match

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cory-johannsen/chessd/internal/game/rules"
	"github.com/cory-johannsen/chessd/internal/game/session"
	"github.com/cory-johannsen/chessd/internal/protocol"
)

// Matchmaker owns the waiting pool and the gameId -> session registry.
// Pairing two connections is a single short critical section so a waiting
// seat can never be handed to two joiners. All methods are safe for
// concurrent use.
type Matchmaker struct {
	mu       sync.Mutex
	logger   *zap.Logger
	engine   rules.Engine
	params   session.Params
	sessions map[string]*session.Session // gameID -> session
	byConn   map[string]string           // connID -> gameID
	waiting  []*session.Session          // FCFS order
}

// New creates an empty Matchmaker.
//
// Precondition: engine and logger must be non-nil.
func New(engine rules.Engine, params session.Params, logger *zap.Logger) *Matchmaker {
	return &Matchmaker{
		logger:   logger,
		engine:   engine,
		params:   params,
		sessions: make(map[string]*session.Session),
		byConn:   make(map[string]string),
	}
}

// Join matches the connection into a session: it completes the oldest
// waiting session if one exists, otherwise it creates a new waiting session
// seated by this connection.
//
// Color preference is cooperative, not a reservation: the joiner of an
// existing session receives its open seat regardless of preference, so two
// players preferring the same color are still paired (the second one gets
// the other color).
//
// Postcondition: Returns the session and assigned color, or a CodedError
// with code already_in_game if the connection is already seated somewhere.
func (m *Matchmaker) Join(connID, identity string, preferred *rules.Color, sink session.Sink) (*session.Session, rules.Color, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gid, ok := m.byConn[connID]; ok {
		return nil, 0, protocol.NewCodedError(protocol.CodeAlreadyInGame, "connection is already in game %s", gid)
	}

	if len(m.waiting) > 0 {
		sess := m.waiting[0]
		color, err := sess.Join(connID, identity, sink)
		if err != nil {
			return nil, 0, err
		}
		m.waiting = m.waiting[1:]
		m.byConn[connID] = sess.ID()

		m.logger.Info("players matched",
			zap.String("game_id", sess.ID()),
			zap.String("identity", identity),
			zap.String("color", color.String()),
		)
		return sess, color, nil
	}

	color := rules.White
	if preferred != nil {
		color = *preferred
	}

	gameID := uuid.NewString()
	sess := session.New(gameID, m.engine, m.params, m.logger, connID, identity, color, sink)
	m.sessions[gameID] = sess
	m.byConn[connID] = gameID
	m.waiting = append(m.waiting, sess)

	m.logger.Info("session created, waiting for opponent",
		zap.String("game_id", gameID),
		zap.String("identity", identity),
		zap.String("color", color.String()),
	)
	return sess, color, nil
}

// Lookup returns the session with the given game id, if registered.
func (m *Matchmaker) Lookup(gameID string) (*session.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[gameID]
	return sess, ok
}

// ByConn returns the session a connection is seated in, if any.
func (m *Matchmaker) ByConn(connID string) (*session.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	gid, ok := m.byConn[connID]
	if !ok {
		return nil, false
	}
	sess, ok := m.sessions[gid]
	return sess, ok
}

// BindConn records a resumed connection's seat association.
//
// Precondition: the session with gameID must be registered.
func (m *Matchmaker) BindConn(connID, gameID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byConn[connID] = gameID
}

// HandleDisconnect releases the connection's association and informs its
// session, if any.
//
// Postcondition: Returns the session, the disconnected seat's color, and
// whether the session remains resumable (a ticket should be issued). A
// waiting session whose only player left is discarded outright. Unknown
// connection ids return (nil, 0, false), making repeated close
// notifications harmless.
func (m *Matchmaker) HandleDisconnect(connID string) (*session.Session, rules.Color, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	gid, ok := m.byConn[connID]
	if !ok {
		return nil, 0, false
	}
	delete(m.byConn, connID)

	sess, ok := m.sessions[gid]
	if !ok {
		return nil, 0, false
	}

	if sess.Status() == session.StatusWaiting {
		// Nothing to resume into: the seat never had an opponent.
		delete(m.sessions, gid)
		m.removeWaitingLocked(sess)
		m.logger.Info("waiting session discarded", zap.String("game_id", gid))
		return nil, 0, false
	}

	color, resumable := sess.HandleDisconnect(connID)
	return sess, color, resumable
}

// Remove drops a session from the registry along with any connection
// associations still pointing at it. Removing an unknown id is a no-op.
func (m *Matchmaker) Remove(gameID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[gameID]
	if !ok {
		return
	}
	delete(m.sessions, gameID)
	m.removeWaitingLocked(sess)
	for connID, gid := range m.byConn {
		if gid == gameID {
			delete(m.byConn, connID)
		}
	}
	m.logger.Debug("session removed", zap.String("game_id", gameID))
}

// WaitingCount returns the number of sessions waiting for an opponent.
func (m *Matchmaker) WaitingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.waiting)
}

// SessionCount returns the number of registered sessions.
func (m *Matchmaker) SessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Matchmaker) removeWaitingLocked(sess *session.Session) {
	for i, w := range m.waiting {
		if w == sess {
			m.waiting = append(m.waiting[:i], m.waiting[i+1:]...)
			return
		}
	}
}
