package queue

import (
	"sync"
	"testing"
	"time"
)

func TestQueueMergesWithinWindow(t *testing.T) {
	var mu sync.Mutex
	var got []Message
	done := make(chan struct{})

	q := New(func(conversationID string, batch []Message) {
		mu.Lock()
		got = batch
		mu.Unlock()
		close(done)
	}, nil)

	now := time.Now()
	if err := q.Enqueue(Message{ConversationID: "c1", Text: "hello", ReceivedAt: now}); err != nil {
		t.Fatalf("enqueue 1: %v", err)
	}
	if err := q.Enqueue(Message{ConversationID: "c1", Text: "world", ReceivedAt: now}); err != nil {
		t.Fatalf("enqueue 2: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("flush did not fire within timeout")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("expected 2 merged messages, got %d", len(got))
	}
	if merged := MergeText(got); merged != "hello\nworld" {
		t.Fatalf("unexpected merged text: %q", merged)
	}
}

func TestQueueOverflowDrops(t *testing.T) {
	flushed := make(chan struct{}, 1)
	q := New(func(conversationID string, batch []Message) { flushed <- struct{}{} }, nil)
	q.capacity = 2

	if err := q.Enqueue(Message{ConversationID: "c1", Text: "1"}); err != nil {
		t.Fatalf("enqueue 1: %v", err)
	}
	if err := q.Enqueue(Message{ConversationID: "c1", Text: "2"}); err != nil {
		t.Fatalf("enqueue 2: %v", err)
	}
	if err := q.Enqueue(Message{ConversationID: "c1", Text: "3"}); err == nil {
		t.Fatal("expected overflow error on 3rd enqueue")
	}
	if q.DroppedCount() != 1 {
		t.Fatalf("expected 1 dropped message, got %d", q.DroppedCount())
	}

	<-flushed
}
