package pinger

import (
	"errors"
	"testing"
	"time"
)

func TestTickFiresAfterIntervalElapses(t *testing.T) {
	fired := 0
	p := New(time.Second, func() error { fired++; return nil })

	if err := p.Tick(500 * time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if fired != 0 {
		t.Fatalf("expected no ping before interval elapses, got %d", fired)
	}

	if err := p.Tick(600 * time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if fired != 1 {
		t.Fatalf("expected exactly one ping once interval elapses, got %d", fired)
	}
}

func TestTickResetsAfterFiring(t *testing.T) {
	fired := 0
	p := New(time.Second, func() error { fired++; return nil })

	p.Tick(1200 * time.Millisecond)
	p.Tick(200 * time.Millisecond)
	if fired != 1 {
		t.Fatalf("expected timer to reset after firing, got %d fires", fired)
	}

	p.Tick(900 * time.Millisecond)
	if fired != 2 {
		t.Fatalf("expected second ping once interval elapses again, got %d", fired)
	}
}

func TestNotifyActivityResetsTimer(t *testing.T) {
	fired := 0
	p := New(time.Second, func() error { fired++; return nil })

	p.Tick(900 * time.Millisecond)
	p.NotifyActivity()
	p.Tick(200 * time.Millisecond)

	if fired != 0 {
		t.Fatalf("expected activity to suppress the pending ping, got %d fires", fired)
	}
}

func TestTickPropagatesSendError(t *testing.T) {
	wantErr := errors.New("transport down")
	p := New(time.Second, func() error { return wantErr })

	err := p.Tick(2 * time.Second)
	if err != wantErr {
		t.Fatalf("expected send error to propagate, got %v", err)
	}
}

func TestResetClearsElapsed(t *testing.T) {
	fired := 0
	p := New(time.Second, func() error { fired++; return nil })

	p.Tick(900 * time.Millisecond)
	p.Reset()
	p.Tick(200 * time.Millisecond)

	if fired != 0 {
		t.Fatalf("expected Reset to clear elapsed time, got %d fires", fired)
	}
}
