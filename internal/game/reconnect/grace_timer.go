package reconnect

import (
	"sync"
	"time"
)

// GraceTimer fires a callback once the reconnection window elapses unless
// stopped first. It is safe for concurrent use.
type GraceTimer struct {
	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

// NewGraceTimer creates and starts a timer that calls onExpire after duration.
// onExpire is called in a separate goroutine.
//
// Precondition: duration > 0; onExpire must not be nil.
// Postcondition: Returns a running GraceTimer; onExpire will be called unless Stop is called first.
func NewGraceTimer(duration time.Duration, onExpire func()) *GraceTimer {
	gt := &GraceTimer{}
	gt.timer = time.AfterFunc(duration, func() {
		gt.mu.Lock()
		stopped := gt.stopped
		gt.mu.Unlock()
		if !stopped {
			onExpire()
		}
	})
	return gt
}

// Stop prevents the callback from firing. Safe to call multiple times.
func (gt *GraceTimer) Stop() {
	gt.mu.Lock()
	defer gt.mu.Unlock()
	gt.stopped = true
	gt.timer.Stop()
}
