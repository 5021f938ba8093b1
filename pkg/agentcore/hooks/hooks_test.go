package hooks

import (
	"context"
	"errors"
	"testing"
)

func TestPreEventVetoStopsDispatch(t *testing.T) {
	b := New(nil)
	var secondCalled bool

	b.On(PreToolUse, func(ctx context.Context, p Payload) error {
		return errors.New("blocked")
	})
	b.On(PreToolUse, func(ctx context.Context, p Payload) error {
		secondCalled = true
		return nil
	})

	err := b.Fire(context.Background(), PreToolUse, Payload{ToolName: "delete_file"})
	if err == nil {
		t.Fatal("expected veto error from first handler")
	}
	if secondCalled {
		t.Fatal("second handler should not run after a veto")
	}
}

func TestObservationalEventNeverVetoes(t *testing.T) {
	b := New(nil)
	var secondCalled bool

	b.On(PostToolUse, func(ctx context.Context, p Payload) error {
		return errors.New("should be logged, not propagated")
	})
	b.On(PostToolUse, func(ctx context.Context, p Payload) error {
		secondCalled = true
		return nil
	})

	err := b.Fire(context.Background(), PostToolUse, Payload{ToolName: "read_file"})
	if err != nil {
		t.Fatalf("observational event should never return an error, got %v", err)
	}
	if !secondCalled {
		t.Fatal("second handler should still run after first handler's error on a non-vetoable event")
	}
}

func TestIsVetoable(t *testing.T) {
	if !IsVetoable(PreCompact) {
		t.Fatal("PreCompact should be vetoable")
	}
	if IsVetoable(PostCompact) {
		t.Fatal("PostCompact should not be vetoable")
	}
}
