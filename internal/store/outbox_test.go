package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func outboxBackends(t *testing.T) map[string]Store {
	return map[string]Store{
		"memory": NewInMemoryStore(),
		"sqlite": newTestSQLiteStore(t),
	}
}

func TestOutboxRepo_EnqueueAndClaim(t *testing.T) {
	for name, s := range outboxBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			id, err := s.EnqueueOutboxMessage(ctx, "p_1", OutboxKindCaregiverAlert, `{"body":"Severe migraine"}`, "")
			if err != nil {
				t.Fatalf("EnqueueOutboxMessage failed: %v", err)
			}
			if id == "" {
				t.Fatal("EnqueueOutboxMessage returned empty ID")
			}

			msgs, err := s.ClaimDueOutboxMessages(ctx, time.Now(), 10)
			if err != nil {
				t.Fatalf("ClaimDueOutboxMessages failed: %v", err)
			}
			if len(msgs) != 1 {
				t.Fatalf("Expected 1 message, got %d", len(msgs))
			}
			if msgs[0].Status != OutboxStatusSending || msgs[0].ParticipantID != "p_1" {
				t.Errorf("unexpected claimed message: %+v", msgs[0])
			}

			again, _ := s.ClaimDueOutboxMessages(ctx, time.Now(), 10)
			if len(again) != 0 {
				t.Errorf("claimed message should not be claimable twice, got %d", len(again))
			}
		})
	}
}

func TestOutboxRepo_DedupeKey(t *testing.T) {
	for name, s := range outboxBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			id1, _ := s.EnqueueOutboxMessage(ctx, "p_1", OutboxKindCaregiverAlert, `{}`, "log_1")
			id2, _ := s.EnqueueOutboxMessage(ctx, "p_1", OutboxKindCaregiverAlert, `{}`, "log_1")
			if id1 != id2 {
				t.Errorf("Expected same ID for duplicate dedupe key, got %q and %q", id1, id2)
			}

			s.ClaimDueOutboxMessages(ctx, time.Now(), 10)
			if err := s.MarkOutboxMessageSent(ctx, id1); err != nil {
				t.Fatalf("MarkOutboxMessageSent failed: %v", err)
			}
			id3, _ := s.EnqueueOutboxMessage(ctx, "p_1", OutboxKindCaregiverAlert, `{}`, "log_1")
			if id3 == id1 {
				t.Error("a sent message should not absorb new enqueues")
			}
		})
	}
}

func TestOutboxRepo_FailAndRetry(t *testing.T) {
	for name, s := range outboxBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			id, _ := s.EnqueueOutboxMessage(ctx, "p_1", OutboxKindCaregiverAlert, `{}`, "")
			s.ClaimDueOutboxMessages(ctx, time.Now(), 10)

			if err := s.FailOutboxMessage(ctx, id, "twilio down", time.Now().Add(time.Hour)); err != nil {
				t.Fatalf("FailOutboxMessage failed: %v", err)
			}
			if msgs, _ := s.ClaimDueOutboxMessages(ctx, time.Now(), 10); len(msgs) != 0 {
				t.Errorf("message should wait for its retry time, got %d", len(msgs))
			}
			msgs, _ := s.ClaimDueOutboxMessages(ctx, time.Now().Add(2*time.Hour), 10)
			if len(msgs) != 1 {
				t.Fatalf("Expected 1 retryable message, got %d", len(msgs))
			}
			if msgs[0].Attempts != 1 || msgs[0].LastError != "twilio down" {
				t.Errorf("failure not recorded: %+v", msgs[0])
			}
		})
	}
}

func TestOutboxRepo_RequeueStale(t *testing.T) {
	for name, s := range outboxBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s.EnqueueOutboxMessage(ctx, "p_1", OutboxKindCaregiverAlert, `{}`, "")
			s.ClaimDueOutboxMessages(ctx, time.Now(), 10)

			n, err := s.RequeueStaleSendingMessages(ctx, time.Now().Add(time.Minute))
			if err != nil {
				t.Fatalf("RequeueStaleSendingMessages failed: %v", err)
			}
			if n != 1 {
				t.Errorf("Expected 1 requeued, got %d", n)
			}
		})
	}
}

func TestOutboxSender_Delivers(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	var sent int32
	sender := NewOutboxSender(s, func(ctx context.Context, msg OutboxMessage) error {
		atomic.AddInt32(&sent, 1)
		return nil
	}, time.Second)

	id, _ := s.EnqueueOutboxMessage(ctx, "p_1", OutboxKindCaregiverAlert, `{"body":"hi"}`, "")
	sender.Poll(ctx)
	sender.Poll(ctx)

	if atomic.LoadInt32(&sent) != 1 {
		t.Errorf("Expected 1 send, got %d", atomic.LoadInt32(&sent))
	}
	m, err := s.GetOutboxMessage(ctx, id)
	if err != nil {
		t.Fatalf("GetOutboxMessage failed: %v", err)
	}
	if m.Status != OutboxStatusSent {
		t.Errorf("Expected sent, got %s", m.Status)
	}
}

func TestOutboxSender_GivesUpAfterMaxAttempts(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	sender := NewOutboxSender(s, func(ctx context.Context, msg OutboxMessage) error {
		return errors.New("unreachable")
	}, time.Second)

	id, _ := s.EnqueueOutboxMessage(ctx, "p_1", OutboxKindCaregiverAlert, `{}`, "")
	sender.Poll(ctx)
	first, _ := s.GetOutboxMessage(ctx, id)
	if first.Status != OutboxStatusQueued || first.NextAttemptAt == nil {
		t.Fatalf("first failure should requeue with backoff, got %+v", first)
	}

	// Pretend earlier attempts already failed and the retry is due.
	s.mu.Lock()
	s.outbox[id].Attempts = DefaultOutboxMaxAttempts - 1
	s.outbox[id].NextAttemptAt = nil
	s.mu.Unlock()
	sender.Poll(ctx)

	m, err := s.GetOutboxMessage(ctx, id)
	if err != nil {
		t.Fatalf("GetOutboxMessage failed: %v", err)
	}
	if m.Status != OutboxStatusCanceled {
		t.Errorf("Expected canceled after %d attempts, got %s (attempts=%d)", DefaultOutboxMaxAttempts, m.Status, m.Attempts)
	}
}

func TestOutboxSenderRestartRecovery(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	s1, err := NewSQLiteStore(WithSQLiteDSN(dbPath))
	if err != nil {
		t.Fatalf("NewSQLiteStore (phase 1) failed: %v", err)
	}
	if _, err := s1.EnqueueOutboxMessage(ctx, "p_1", OutboxKindCaregiverAlert, `{"body":"Severe"}`, "log_1"); err != nil {
		t.Fatalf("EnqueueOutboxMessage failed: %v", err)
	}
	if msgs, _ := s1.ClaimDueOutboxMessages(ctx, time.Now(), 10); len(msgs) != 1 {
		t.Fatalf("Expected 1 claimed message, got %d", len(msgs))
	}
	s1.Close()

	s2, err := NewSQLiteStore(WithSQLiteDSN(dbPath))
	if err != nil {
		t.Fatalf("NewSQLiteStore (phase 2) failed: %v", err)
	}
	defer s2.Close()

	var sent int32
	sender := NewOutboxSender(s2, func(ctx context.Context, msg OutboxMessage) error {
		atomic.AddInt32(&sent, 1)
		return nil
	}, time.Second)
	sender.staleThreshold = -time.Minute

	if err := sender.RecoverStaleMessages(ctx); err != nil {
		t.Fatalf("RecoverStaleMessages failed: %v", err)
	}
	sender.Poll(ctx)
	if atomic.LoadInt32(&sent) != 1 {
		t.Errorf("Expected 1 send after recovery, got %d", atomic.LoadInt32(&sent))
	}
}
