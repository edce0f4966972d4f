package store

import (
	"context"
	"log/slog"
	"time"
)

// Outbox sender defaults.
const (
	DefaultOutboxPollInterval   = 5 * time.Second
	DefaultOutboxStaleThreshold = 5 * time.Minute
	DefaultOutboxMaxAttempts    = 6
	defaultOutboxClaimLimit     = 10
)

// OutboxSendFunc delivers one message. A returned error schedules a retry.
type OutboxSendFunc func(ctx context.Context, msg OutboxMessage) error

// OutboxSender polls the outbox and delivers due messages with exponential
// backoff. Messages that fail MaxAttempts times are canceled.
type OutboxSender struct {
	repo           OutboxRepo
	send           OutboxSendFunc
	pollInterval   time.Duration
	staleThreshold time.Duration
	maxAttempts    int
	claimLimit     int
}

// NewOutboxSender creates an OutboxSender. A non-positive pollInterval uses
// DefaultOutboxPollInterval.
func NewOutboxSender(repo OutboxRepo, send OutboxSendFunc, pollInterval time.Duration) *OutboxSender {
	if pollInterval <= 0 {
		pollInterval = DefaultOutboxPollInterval
	}
	return &OutboxSender{
		repo:           repo,
		send:           send,
		pollInterval:   pollInterval,
		staleThreshold: DefaultOutboxStaleThreshold,
		maxAttempts:    DefaultOutboxMaxAttempts,
		claimLimit:     defaultOutboxClaimLimit,
	}
}

// RecoverStaleMessages requeues messages left in sending by a crash. Call it
// once before Run.
func (s *OutboxSender) RecoverStaleMessages(ctx context.Context) error {
	n, err := s.repo.RequeueStaleSendingMessages(ctx, time.Now().Add(-s.staleThreshold))
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("OutboxSender.RecoverStaleMessages: requeued stale messages", "count", n)
	}
	return nil
}

// Run polls until ctx is cancelled.
func (s *OutboxSender) Run(ctx context.Context) {
	slog.Info("OutboxSender.Run: starting", "pollInterval", s.pollInterval)
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("OutboxSender.Run: stopping")
			return
		case <-ticker.C:
			s.Poll(ctx)
		}
	}
}

// Poll claims and delivers one batch of due messages.
func (s *OutboxSender) Poll(ctx context.Context) {
	now := time.Now()
	msgs, err := s.repo.ClaimDueOutboxMessages(ctx, now, s.claimLimit)
	if err != nil {
		slog.Error("OutboxSender.Poll: claim failed", "error", err)
		return
	}
	for _, msg := range msgs {
		s.deliver(ctx, now, msg)
	}
}

func (s *OutboxSender) deliver(ctx context.Context, now time.Time, msg OutboxMessage) {
	err := s.send(ctx, msg)
	if err == nil {
		if err := s.repo.MarkOutboxMessageSent(ctx, msg.ID); err != nil {
			slog.Error("OutboxSender.deliver: mark sent failed", "id", msg.ID, "error", err)
			return
		}
		slog.Debug("OutboxSender.deliver: message sent", "id", msg.ID, "kind", msg.Kind, "participantID", msg.ParticipantID)
		return
	}

	slog.Error("OutboxSender.deliver: send failed", "id", msg.ID, "attempt", msg.Attempts+1, "error", err)
	if msg.Attempts+1 >= s.maxAttempts {
		if cerr := s.repo.CancelOutboxMessage(ctx, msg.ID, err.Error()); cerr != nil {
			slog.Error("OutboxSender.deliver: cancel failed", "id", msg.ID, "error", cerr)
		}
		slog.Warn("OutboxSender.deliver: giving up", "id", msg.ID, "attempts", msg.Attempts+1)
		return
	}
	// 10s, 20s, 40s, ...
	backoff := time.Duration(10*(1<<msg.Attempts)) * time.Second
	if ferr := s.repo.FailOutboxMessage(ctx, msg.ID, err.Error(), now.Add(backoff)); ferr != nil {
		slog.Error("OutboxSender.deliver: requeue failed", "id", msg.ID, "error", ferr)
	}
}
