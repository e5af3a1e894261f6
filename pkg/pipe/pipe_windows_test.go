//go:build windows

package pipe

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"
)

func overlappedPair(t *testing.T, opts ...Option) (*ReadEndpoint, *WriteEndpoint) {
	t.Helper()
	r, w, err := New(
		EndpointConfig{BufferSize: 128 * 1024},
		EndpointConfig{BufferSize: 128 * 1024},
		opts...,
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if r.Backend() != BackendOverlapped {
		t.Fatalf("backend = %v, want overlapped", r.Backend())
	}
	return r, w
}

func TestOverlappedStateAfterCreate(t *testing.T) {
	r, w := overlappedPair(t)
	defer r.Close()
	defer w.Close()

	if r.Pending() || w.Pending() {
		t.Fatalf("fresh endpoints must not be pending")
	}
	if !r.Signal().Signalled() || !w.Signal().Signalled() {
		t.Fatalf("completion signals must start signalled")
	}
	if r.RawHandle() == InvalidHandle || w.RawHandle() == InvalidHandle {
		t.Fatalf("open endpoints must expose valid handles")
	}
}

func TestOverlappedRoundTrip(t *testing.T) {
	r, w := overlappedPair(t)
	defer r.Close()
	defer w.Close()

	payload := bytes.Repeat([]byte{0xFF}, 64)
	if err := w.Initiate(payload); err != nil {
		t.Fatalf("write initiate: %v", err)
	}
	n, err := w.Result(true)
	if err != nil || n != len(payload) {
		t.Fatalf("write result: n=%d err=%v", n, err)
	}

	if err := r.Initiate(); err != nil {
		t.Fatalf("read initiate: %v", err)
	}
	if err := r.Initiate(); !errors.Is(err, ErrAlreadyPending) {
		t.Fatalf("second initiate = %v, want ErrAlreadyPending", err)
	}
	data, err := r.Result(true)
	if err != nil {
		t.Fatalf("read result: %v", err)
	}
	if !bytes.Equal(data, payload) {
		t.Fatalf("payload mismatch, read %d bytes", len(data))
	}
}

func TestOverlappedPollIncomplete(t *testing.T) {
	r, w := overlappedPair(t)
	defer r.Close()
	defer w.Close()

	if err := r.Initiate(); err != nil {
		t.Fatalf("read initiate: %v", err)
	}
	if _, err := r.Result(false); !errors.Is(err, ErrIncomplete) {
		t.Fatalf("poll = %v, want ErrIncomplete", err)
	}
	if !r.Pending() {
		t.Fatalf("poll must not retire the read")
	}

	if err := w.Initiate([]byte("ping")); err != nil {
		t.Fatalf("write initiate: %v", err)
	}
	if _, err := w.Result(true); err != nil {
		t.Fatalf("write result: %v", err)
	}
	if !r.Signal().Wait(5 * time.Second) {
		t.Fatalf("read completion signal did not fire")
	}
	data, err := r.Result(false)
	if err != nil || string(data) != "ping" {
		t.Fatalf("read result: %q err=%v", data, err)
	}
}

func TestOverlappedBrokenPipe(t *testing.T) {
	r, w := overlappedPair(t)
	defer r.Close()

	if err := w.Initiate([]byte("tail")); err != nil {
		t.Fatalf("write initiate: %v", err)
	}
	if _, err := w.Result(true); err != nil {
		t.Fatalf("write result: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("write close: %v", err)
	}

	if err := r.Initiate(); err != nil {
		t.Fatalf("read initiate: %v", err)
	}
	data, err := r.Result(true)
	if err != nil || string(data) != "tail" {
		t.Fatalf("buffered read: %q err=%v", data, err)
	}

	if err := r.Initiate(); err != nil {
		t.Fatalf("final initiate: %v", err)
	}
	if _, err := r.Result(true); !errors.Is(err, io.EOF) {
		t.Fatalf("final read = %v, want io.EOF", err)
	}
}

// TestOverlappedNameCollisionRetry pins the first generated name to one that
// is already taken and checks that creation retries instead of failing.
func TestOverlappedNameCollisionRetry(t *testing.T) {
	const taken = "COLLIDETESTNAME"
	r1, w1, err := New(
		EndpointConfig{},
		EndpointConfig{},
		WithNameSource(func() string { return taken }),
	)
	if err != nil {
		t.Fatalf("first pair: %v", err)
	}
	defer r1.Close()
	defer w1.Close()

	calls := 0
	r2, w2, err := New(
		EndpointConfig{},
		EndpointConfig{},
		WithNameSource(func() string {
			calls++
			if calls == 1 {
				return taken
			}
			return randomName()
		}),
	)
	if err != nil {
		t.Fatalf("second pair: %v", err)
	}
	defer r2.Close()
	defer w2.Close()
	if calls < 2 {
		t.Fatalf("expected at least one collision retry, got %d calls", calls)
	}
}

func TestOverlappedInheritAndSDDL(t *testing.T) {
	// D:P(A;;GA;;;WD) — explicit everyone-allow descriptor; the exact policy
	// does not matter, only that the SDDL path produces a usable pair.
	r, w, err := New(
		EndpointConfig{Inherit: true, SDDL: "D:P(A;;GA;;;WD)"},
		EndpointConfig{Inherit: true},
	)
	if err != nil {
		t.Fatalf("New with SDDL: %v", err)
	}
	defer r.Close()
	defer w.Close()

	if err := w.Initiate([]byte{1, 2, 3}); err != nil {
		t.Fatalf("write initiate: %v", err)
	}
	if _, err := w.Result(true); err != nil {
		t.Fatalf("write result: %v", err)
	}
	if err := r.Initiate(); err != nil {
		t.Fatalf("read initiate: %v", err)
	}
	if data, err := r.Result(true); err != nil || len(data) != 3 {
		t.Fatalf("read result: n=%d err=%v", len(data), err)
	}
}
