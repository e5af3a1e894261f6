package event

import (
	"testing"
	"time"
)

func TestNewIsSignalled(t *testing.T) {
	e := New()
	if !e.Signalled() {
		t.Fatalf("new event should be signalled")
	}
	if !e.Wait(0) {
		t.Fatalf("poll on signalled event should succeed")
	}
	// Waiting must not consume the signal.
	if !e.Signalled() {
		t.Fatalf("wait consumed the signal")
	}
}

func TestSetReset(t *testing.T) {
	e := New()
	e.Reset()
	if e.Signalled() {
		t.Fatalf("event should be unsignalled after Reset")
	}
	if e.Wait(0) {
		t.Fatalf("poll on unsignalled event should time out")
	}
	e.Set()
	if !e.Wait(0) {
		t.Fatalf("event should be signalled after Set")
	}
	// Idempotency.
	e.Set()
	e.Set()
	e.Reset()
	e.Reset()
	if e.Signalled() {
		t.Fatalf("event should stay unsignalled")
	}
}

func TestWaitWakesOnSet(t *testing.T) {
	e := New()
	e.Reset()

	go func() {
		time.Sleep(20 * time.Millisecond)
		e.Set()
	}()

	start := time.Now()
	if !e.Wait(2 * time.Second) {
		t.Fatalf("wait should have been woken by Set")
	}
	if time.Since(start) >= 2*time.Second {
		t.Fatalf("wait did not wake promptly")
	}
}

func TestWaitTimeout(t *testing.T) {
	e := New()
	e.Reset()
	if e.Wait(30 * time.Millisecond) {
		t.Fatalf("wait should time out on unsignalled event")
	}
}

func TestDoneChannelPerGeneration(t *testing.T) {
	e := New()
	d1 := e.Done()
	select {
	case <-d1:
	default:
		t.Fatalf("done channel of signalled event should be closed")
	}
	e.Reset()
	d2 := e.Done()
	select {
	case <-d2:
		t.Fatalf("done channel after Reset should be open")
	default:
	}
	e.Set()
	select {
	case <-d2:
	default:
		t.Fatalf("Set should close the current done channel")
	}
}
