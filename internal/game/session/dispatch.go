package session

import (
	"go.uber.org/zap"
)

// Sink receives encoded outbound messages for one connection. Push must not
// block: the transport buffers writes and reports overflow as an error.
type Sink interface {
	Push(data []byte) error
}

// Class controls what happens to a message when its seat is disconnected.
type Class int

const (
	// ClassTransient messages are dropped for disconnected seats.
	ClassTransient Class = iota
	// ClassState messages are queued most-recent-wins: a newer snapshot
	// replaces a queued older one.
	ClassState
	// ClassChat messages are appended to the bounded pending buffer.
	ClassChat
)

// Dispatcher delivers outbound messages to the seats of one session.
// ToBoth hands the message to both seats' sinks before returning, which is
// what keeps the two clients' views in lockstep: the caller does not process
// any further operation on the session until both deliveries are done.
type Dispatcher struct {
	logger     *zap.Logger
	pendingCap int
}

// NewDispatcher creates a Dispatcher with the given pending-buffer capacity.
//
// Precondition: pendingCap must be >= 1; logger must be non-nil.
func NewDispatcher(pendingCap int, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{logger: logger, pendingCap: pendingCap}
}

// ToSlot delivers data to one seat, or queues/drops it per class when the
// seat is disconnected.
func (d *Dispatcher) ToSlot(slot *Slot, class Class, data []byte) {
	if slot == nil || data == nil {
		return
	}

	if !slot.Connected || slot.sink == nil {
		switch class {
		case ClassState:
			slot.pendingState = data
		case ClassChat:
			if len(slot.pendingChat) < d.pendingCap {
				slot.pendingChat = append(slot.pendingChat, data)
			} else {
				d.logger.Debug("pending buffer full, dropping chat",
					zap.String("color", slot.Color.String()),
				)
			}
		}
		return
	}

	if err := slot.sink.Push(data); err != nil {
		// A failed push means the transport is dying; its close path will
		// deliver the disconnect notification.
		d.logger.Warn("push to seat failed",
			zap.String("color", slot.Color.String()),
			zap.Error(err),
		)
	}
}

// ToBoth delivers data to both seats before returning.
func (d *Dispatcher) ToBoth(a, b *Slot, class Class, data []byte) {
	d.ToSlot(a, class, data)
	d.ToSlot(b, class, data)
}

// Flush pushes the queued state snapshot and chat backlog to a reattached
// seat, in production order, and clears the buffer.
//
// Precondition: slot must be connected with a live sink.
func (d *Dispatcher) Flush(slot *Slot) {
	if slot.pendingState != nil {
		d.ToSlot(slot, ClassTransient, slot.pendingState)
		slot.pendingState = nil
	}
	for _, data := range slot.pendingChat {
		d.ToSlot(slot, ClassTransient, data)
	}
	slot.pendingChat = nil
}
