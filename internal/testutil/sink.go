// Package testutil provides shared helpers for exercising sessions and the
// message router in tests.
package testutil

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
)

// RecorderSink captures every payload pushed to a seat so tests can assert
// on delivery order and content. It is safe for concurrent use.
type RecorderSink struct {
	mu       sync.Mutex
	payloads [][]byte
	failing  bool
}

// NewRecorderSink returns an empty recorder.
func NewRecorderSink() *RecorderSink {
	return &RecorderSink{}
}

// Push records the payload, or returns an error if the sink was failed.
func (r *RecorderSink) Push(data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failing {
		return errors.New("sink closed")
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	r.payloads = append(r.payloads, cp)
	return nil
}

// Fail makes all subsequent pushes return an error, simulating a dead
// transport.
func (r *RecorderSink) Fail() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failing = true
}

// Payloads returns a copy of everything pushed so far, in order.
func (r *RecorderSink) Payloads() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]byte, len(r.payloads))
	copy(out, r.payloads)
	return out
}

// Len returns the number of recorded payloads.
func (r *RecorderSink) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.payloads)
}

// Reset discards recorded payloads.
func (r *RecorderSink) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads = nil
}

// envelope mirrors the wire envelope without importing the protocol package,
// keeping testutil dependency-free for use anywhere in the tree.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Types returns the envelope type of every recorded payload, in order.
func (r *RecorderSink) Types(t *testing.T) []string {
	t.Helper()
	var types []string
	for _, p := range r.Payloads() {
		var env envelope
		if err := json.Unmarshal(p, &env); err != nil {
			t.Fatalf("recorded payload is not an envelope: %v", err)
		}
		types = append(types, env.Type)
	}
	return types
}

// Last unmarshals the data of the most recent payload with the given
// envelope type into out, failing the test if none exists.
func (r *RecorderSink) Last(t *testing.T, msgType string, out any) {
	t.Helper()
	payloads := r.Payloads()
	for i := len(payloads) - 1; i >= 0; i-- {
		var env envelope
		if err := json.Unmarshal(payloads[i], &env); err != nil {
			t.Fatalf("recorded payload is not an envelope: %v", err)
		}
		if env.Type != msgType {
			continue
		}
		if err := json.Unmarshal(env.Data, out); err != nil {
			t.Fatalf("unmarshalling %s data: %v", msgType, err)
		}
		return
	}
	t.Fatalf("no %s message recorded (got %d payloads)", msgType, len(payloads))
}

// Count returns how many recorded payloads carry the given envelope type.
func (r *RecorderSink) Count(t *testing.T, msgType string) int {
	t.Helper()
	n := 0
	for _, typ := range r.Types(t) {
		if typ == msgType {
			n++
		}
	}
	return n
}
