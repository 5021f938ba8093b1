package shutdown

import (
	"context"
	"testing"
	"time"
)

func TestShutdownCancelsRegisteredTurns(t *testing.T) {
	s := New()
	ctx, cancelTurn := s.BeginTurn(context.Background(), "conv1")
	defer cancelTurn()

	s.Shutdown()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("turn context should be cancelled on shutdown")
	}
	if !s.IsShuttingDown() {
		t.Fatal("IsShuttingDown should report true after Shutdown")
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	s := New()
	s.Shutdown()
	s.Shutdown() // must not panic on double-close
	if !s.IsShuttingDown() {
		t.Fatal("expected shutdown state to stick")
	}
}

func TestCancelConversationOnlyCancelsThatTurn(t *testing.T) {
	s := New()
	ctxA, doneA := s.BeginTurn(context.Background(), "a")
	defer doneA()
	ctxB, doneB := s.BeginTurn(context.Background(), "b")
	defer doneB()

	if !s.CancelConversation("a") {
		t.Fatal("expected CancelConversation to find turn a")
	}

	select {
	case <-ctxA.Done():
	default:
		t.Fatal("turn a should be cancelled")
	}
	select {
	case <-ctxB.Done():
		t.Fatal("turn b must not be cancelled")
	default:
	}
}

func TestActiveTurnsTracksRegistration(t *testing.T) {
	s := New()
	if s.ActiveTurns() != 0 {
		t.Fatal("expected zero active turns initially")
	}
	_, done := s.BeginTurn(context.Background(), "conv1")
	if s.ActiveTurns() != 1 {
		t.Fatalf("expected 1 active turn, got %d", s.ActiveTurns())
	}
	done()
	if s.ActiveTurns() != 0 {
		t.Fatalf("expected 0 active turns after CancelTurn, got %d", s.ActiveTurns())
	}
}
