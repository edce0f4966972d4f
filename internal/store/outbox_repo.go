package store

import (
	"context"
	"errors"
	"time"
)

// ErrOutboxMessageNotFound is returned when an outbox ID is unknown.
var ErrOutboxMessageNotFound = errors.New("outbox message not found")

// OutboxKindCaregiverAlert is the kind of alerts raised by severe logs.
const OutboxKindCaregiverAlert = "caregiver_alert"

// OutboxStatus is the delivery state of an outbox message.
type OutboxStatus string

const (
	OutboxStatusQueued   OutboxStatus = "queued"
	OutboxStatusSending  OutboxStatus = "sending"
	OutboxStatusSent     OutboxStatus = "sent"
	OutboxStatusCanceled OutboxStatus = "canceled"
)

// Terminal reports whether no further delivery attempts will be made.
func (s OutboxStatus) Terminal() bool {
	return s == OutboxStatusSent || s == OutboxStatusCanceled
}

// OutboxMessage is a durable notification waiting to be delivered.
type OutboxMessage struct {
	ID            string       `json:"id"`
	ParticipantID string       `json:"participant_id"`
	Kind          string       `json:"kind"`
	PayloadJSON   string       `json:"payload_json"`
	Status        OutboxStatus `json:"status"`
	Attempts      int          `json:"attempts"`
	NextAttemptAt *time.Time   `json:"next_attempt_at,omitempty"`
	DedupeKey     string       `json:"dedupe_key,omitempty"`
	LockedAt      *time.Time   `json:"locked_at,omitempty"`
	LastError     string       `json:"last_error,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// OutboxRepo persists outgoing notifications so they survive restarts.
type OutboxRepo interface {
	// EnqueueOutboxMessage queues a message. A non-empty dedupeKey that matches
	// a message still pending returns that message's ID instead.
	EnqueueOutboxMessage(ctx context.Context, participantID, kind, payloadJSON, dedupeKey string) (string, error)

	// ClaimDueOutboxMessages moves up to limit due queued messages to sending.
	ClaimDueOutboxMessages(ctx context.Context, now time.Time, limit int) ([]OutboxMessage, error)

	MarkOutboxMessageSent(ctx context.Context, id string) error

	// FailOutboxMessage records a failed attempt and requeues for nextAttemptAt.
	FailOutboxMessage(ctx context.Context, id, errMsg string, nextAttemptAt time.Time) error

	// CancelOutboxMessage gives up on a message.
	CancelOutboxMessage(ctx context.Context, id, reason string) error

	// RequeueStaleSendingMessages returns messages stuck in sending since
	// before staleBefore to the queue.
	RequeueStaleSendingMessages(ctx context.Context, staleBefore time.Time) (int, error)

	GetOutboxMessage(ctx context.Context, id string) (OutboxMessage, error)
}
