// Package event provides a manual-reset boolean event in the spirit of
// Win32 event objects: the event stays signalled or unsignalled until
// explicitly changed, and waiting never consumes the signal.
package event

import (
	"sync"
	"time"
)

// Event is a manual-reset event. The zero value is not usable; call New.
// All methods are safe for concurrent use.
type Event struct {
	mu   sync.Mutex
	set  bool
	done chan struct{} // closed while set; replaced on Reset
}

// New returns an Event in the signalled state.
func New() *Event {
	e := &Event{set: true, done: make(chan struct{})}
	close(e.done)
	return e
}

// Set signals the event, waking every current and future waiter until the
// next Reset. Idempotent.
func (e *Event) Set() {
	e.mu.Lock()
	if !e.set {
		e.set = true
		close(e.done)
	}
	e.mu.Unlock()
}

// Reset returns the event to the unsignalled state. Idempotent.
func (e *Event) Reset() {
	e.mu.Lock()
	if e.set {
		e.set = false
		e.done = make(chan struct{})
	}
	e.mu.Unlock()
}

// Signalled reports whether the event is currently set.
func (e *Event) Signalled() bool {
	e.mu.Lock()
	s := e.set
	e.mu.Unlock()
	return s
}

// Done returns a channel that is closed while the event is signalled.
// A Reset installs a fresh channel, so callers should re-fetch it per wait.
func (e *Event) Done() <-chan struct{} {
	e.mu.Lock()
	d := e.done
	e.mu.Unlock()
	return d
}

// Wait blocks until the event is signalled or the timeout elapses and
// reports whether it was signalled. A negative timeout waits indefinitely;
// a zero timeout polls.
func (e *Event) Wait(timeout time.Duration) bool {
	d := e.Done()
	switch {
	case timeout < 0:
		<-d
		return true
	case timeout == 0:
		select {
		case <-d:
			return true
		default:
			return false
		}
	default:
		t := time.NewTimer(timeout)
		defer t.Stop()
		select {
		case <-d:
			return true
		case <-t.C:
			return false
		}
	}
}
