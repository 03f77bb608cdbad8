// Package reconnect tracks reconnection tickets for players who lost their
// connection mid-game. Each ticket names the game and seat the player may
// reclaim and expires after a configurable grace period.
package reconnect

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/chessd/internal/game/rules"
	"github.com/cory-johannsen/chessd/internal/protocol"
)

// Ticket records a disconnected player's claim on a seat.
type Ticket struct {
	GameID    string
	Color     rules.Color
	Identity  string
	ExpiresAt time.Time
}

// ExpireFunc is invoked, outside any manager lock, when a ticket's grace
// period elapses without a resume.
type ExpireFunc func(gameID string, color rules.Color)

type entry struct {
	ticket Ticket
	timer  *GraceTimer
}

// Manager issues and redeems reconnection tickets. One ticket exists per
// seat at most; a second disconnect of the same seat replaces the first.
type Manager struct {
	mu       sync.Mutex
	logger   *zap.Logger
	grace    time.Duration
	tickets  map[string]*entry
	onExpire ExpireFunc
}

// NewManager creates a Manager that holds tickets open for grace before
// calling onExpire.
//
// Precondition: grace > 0; onExpire must not be nil.
func NewManager(grace time.Duration, onExpire ExpireFunc, logger *zap.Logger) *Manager {
	return &Manager{
		logger:   logger,
		grace:    grace,
		tickets:  make(map[string]*entry),
		onExpire: onExpire,
	}
}

func key(gameID string, color rules.Color) string {
	return gameID + "/" + color.String()
}

// MarkDisconnected opens a ticket for the given seat and starts its grace
// timer. An existing ticket for the same seat is replaced.
//
// Postcondition: onExpire fires for the seat after the grace period unless
// the ticket is redeemed or cancelled first.
func (m *Manager) MarkDisconnected(gameID string, color rules.Color, identity string) Ticket {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key(gameID, color)
	if old, ok := m.tickets[k]; ok {
		old.timer.Stop()
	}

	e := &entry{ticket: Ticket{
		GameID:    gameID,
		Color:     color,
		Identity:  identity,
		ExpiresAt: time.Now().Add(m.grace),
	}}
	e.timer = NewGraceTimer(m.grace, func() { m.expire(k, e) })
	m.tickets[k] = e

	m.logger.Info("reconnection ticket opened",
		zap.String("game_id", gameID),
		zap.String("color", color.String()),
		zap.Duration("grace", m.grace))
	return e.ticket
}

// Restore reopens a consumed ticket with its original deadline. Used when a
// resume fails after the ticket was redeemed; the grace window is never
// extended. A ticket already past its deadline expires immediately.
func (m *Manager) Restore(t Ticket) {
	remaining := time.Until(t.ExpiresAt)
	if remaining <= 0 {
		m.logger.Info("restored ticket already past its deadline",
			zap.String("game_id", t.GameID),
			zap.String("color", t.Color.String()))
		m.onExpire(t.GameID, t.Color)
		return
	}

	m.mu.Lock()
	k := key(t.GameID, t.Color)
	if old, ok := m.tickets[k]; ok {
		old.timer.Stop()
	}
	e := &entry{ticket: t}
	e.timer = NewGraceTimer(remaining, func() { m.expire(k, e) })
	m.tickets[k] = e
	m.mu.Unlock()

	m.logger.Info("reconnection ticket restored",
		zap.String("game_id", t.GameID),
		zap.String("color", t.Color.String()),
		zap.Duration("remaining", remaining))
}

func (m *Manager) expire(k string, e *entry) {
	m.mu.Lock()
	// The ticket may have been redeemed or replaced while the callback was
	// in flight; only the current entry may expire the seat.
	if m.tickets[k] != e {
		m.mu.Unlock()
		return
	}
	delete(m.tickets, k)
	t := e.ticket
	m.mu.Unlock()

	m.logger.Info("reconnection ticket expired",
		zap.String("game_id", t.GameID),
		zap.String("color", t.Color.String()))
	m.onExpire(t.GameID, t.Color)
}

// AttemptResume redeems the ticket matching identity. When gameID is
// non-empty only that game's tickets are considered; otherwise all open
// tickets are searched. A redeemed ticket is consumed and its timer stopped.
//
// Returns the ticket and true on success, false when no ticket matches, and
// a CodedError with CodeAmbiguousIdentity when identity alone matches more
// than one open ticket.
func (m *Manager) AttemptResume(identity, gameID string) (Ticket, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gameID != "" {
		for _, c := range []rules.Color{rules.White, rules.Black} {
			k := key(gameID, c)
			if e, ok := m.tickets[k]; ok && e.ticket.Identity == identity {
				e.timer.Stop()
				delete(m.tickets, k)
				return e.ticket, true, nil
			}
		}
		return Ticket{}, false, nil
	}

	var matchKey string
	var match *entry
	for k, e := range m.tickets {
		if e.ticket.Identity != identity {
			continue
		}
		if match != nil {
			return Ticket{}, false, protocol.NewCodedError(protocol.CodeAmbiguousIdentity,
				"player name matches more than one interrupted game; supply a game_id")
		}
		matchKey, match = k, e
	}
	if match == nil {
		return Ticket{}, false, nil
	}
	match.timer.Stop()
	delete(m.tickets, matchKey)
	return match.ticket, true, nil
}

// Cancel withdraws the ticket for a seat, if one is open. Used when the
// game ends for an unrelated reason while a player is disconnected.
func (m *Manager) Cancel(gameID string, color rules.Color) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(gameID, color)
	if e, ok := m.tickets[k]; ok {
		e.timer.Stop()
		delete(m.tickets, k)
	}
}

// CancelGame withdraws all tickets for a game.
func (m *Manager) CancelGame(gameID string) {
	m.Cancel(gameID, rules.White)
	m.Cancel(gameID, rules.Black)
}

// Stop cancels every open ticket without firing callbacks. Called on
// shutdown.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, e := range m.tickets {
		e.timer.Stop()
		delete(m.tickets, k)
	}
}

// TicketCount reports the number of open tickets.
func (m *Manager) TicketCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tickets)
}
