package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (r *recordingSender) Send(_ context.Context, to, _, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, to)
	return r.err
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func TestBestEffortNilSenderIsNoOp(t *testing.T) {
	// Must not panic: callers wire notifications optionally.
	BestEffort(nil, "user@example.com", "Subject", "Body")
}

func TestBestEffortDelivers(t *testing.T) {
	sender := &recordingSender{}
	BestEffort(sender, "user@example.com", "Subject", "Body")

	deadline := time.Now().Add(2 * time.Second)
	for sender.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("notification never delivered")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestBestEffortSwallowsSendFailure(t *testing.T) {
	sender := &recordingSender{err: errors.New("smtp down")}
	BestEffort(sender, "user@example.com", "Subject", "Body")

	deadline := time.Now().Add(2 * time.Second)
	for sender.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("send never attempted")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestLogSender(t *testing.T) {
	if err := NewLogSender().Send(context.Background(), "user@example.com", "Subject", "Body"); err != nil {
		t.Fatalf("log sender must never fail: %v", err)
	}
}
