// Package store provides storage backends for SymptomPipe.
//
// It persists saved symptom logs, in-progress flow drafts and the caregiver
// alert outbox. Backends are in-memory, SQLite and PostgreSQL.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/SymptomPipe/internal/models"
	"github.com/BTreeMap/SymptomPipe/internal/util"
)

// ErrDraftNotFound is returned when no draft exists for a session.
var ErrDraftNotFound = errors.New("draft not found")

// Store is the persistence surface the rest of the service depends on.
type Store interface {
	AddLog(ctx context.Context, log models.SymptomLog) error
	// GetLogs returns logs oldest first. An empty participantID returns every log.
	GetLogs(ctx context.Context, participantID string) ([]models.SymptomLog, error)

	SaveDraft(ctx context.Context, draft models.FlowDraft) error
	GetDraft(ctx context.Context, sessionID string) (models.FlowDraft, error)
	DeleteDraft(ctx context.Context, sessionID string) error
	// PurgeDrafts deletes drafts not updated since before.
	PurgeDrafts(ctx context.Context, before time.Time) (int, error)

	OutboxRepo
	Close() error
}

// Driver names returned by DetectDSNType.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// Opts holds configuration for store backends.
type Opts struct {
	DSN    string
	Driver string
}

// Option configures a store backend.
type Option func(*Opts)

// WithSQLiteDSN selects the SQLite backend at the given file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
		o.Driver = DriverSQLite
	}
}

// WithPostgresDSN selects the PostgreSQL backend.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
		o.Driver = DriverPostgres
	}
}

// DetectDSNType reports which driver a DSN is meant for. URLs and key/value
// strings that look like PostgreSQL return DriverPostgres; anything else is
// treated as a SQLite file path.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") {
		return DriverPostgres
	}
	return DriverSQLite
}

// Open builds the backend the options select. Without a DSN it returns an
// in-memory store.
func Open(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	switch {
	case cfg.DSN == "":
		slog.Debug("store.Open: no DSN, using in-memory store")
		return NewInMemoryStore(), nil
	case cfg.Driver == DriverPostgres:
		return NewPostgresStore(opts...)
	case cfg.Driver == DriverSQLite:
		return NewSQLiteStore(opts...)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// InMemoryStore keeps everything in process memory. Data is lost on exit.
type InMemoryStore struct {
	mu     sync.RWMutex
	logs   []models.SymptomLog
	drafts map[string]models.FlowDraft
	outbox map[string]*OutboxMessage
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		drafts: make(map[string]models.FlowDraft),
		outbox: make(map[string]*OutboxMessage),
	}
}

var _ Store = (*InMemoryStore)(nil)

func (s *InMemoryStore) AddLog(_ context.Context, log models.SymptomLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, log)
	slog.Debug("InMemoryStore AddLog succeeded", "id", log.ID, "participantID", log.ParticipantID)
	return nil
}

func (s *InMemoryStore) GetLogs(_ context.Context, participantID string) ([]models.SymptomLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.SymptomLog, 0, len(s.logs))
	for _, l := range s.logs {
		if participantID == "" || l.ParticipantID == participantID {
			out = append(out, l)
		}
	}
	slices.SortStableFunc(out, func(a, b models.SymptomLog) int { return a.LoggedAt.Compare(b.LoggedAt) })
	return out, nil
}

func (s *InMemoryStore) SaveDraft(_ context.Context, draft models.FlowDraft) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.drafts[draft.SessionID]; ok {
		draft.CreatedAt = prev.CreatedAt
	}
	s.drafts[draft.SessionID] = draft
	return nil
}

func (s *InMemoryStore) GetDraft(_ context.Context, sessionID string) (models.FlowDraft, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.drafts[sessionID]
	if !ok {
		return models.FlowDraft{}, fmt.Errorf("%w: %s", ErrDraftNotFound, sessionID)
	}
	return d, nil
}

func (s *InMemoryStore) DeleteDraft(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.drafts, sessionID)
	return nil
}

func (s *InMemoryStore) PurgeDrafts(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, d := range s.drafts {
		if d.UpdatedAt.Before(before) {
			delete(s.drafts, id)
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) EnqueueOutboxMessage(_ context.Context, participantID, kind, payloadJSON, dedupeKey string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dedupeKey != "" {
		for _, m := range s.outbox {
			if m.DedupeKey == dedupeKey && !m.Status.Terminal() {
				return m.ID, nil
			}
		}
	}
	now := time.Now()
	id := util.GenerateRandomID("outbox_", 32)
	s.outbox[id] = &OutboxMessage{
		ID: id, ParticipantID: participantID, Kind: kind, PayloadJSON: payloadJSON,
		Status: OutboxStatusQueued, DedupeKey: dedupeKey, CreatedAt: now, UpdatedAt: now,
	}
	return id, nil
}

func (s *InMemoryStore) ClaimDueOutboxMessages(_ context.Context, now time.Time, limit int) ([]OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*OutboxMessage
	for _, m := range s.outbox {
		if m.Status == OutboxStatusQueued && (m.NextAttemptAt == nil || !m.NextAttemptAt.After(now)) {
			due = append(due, m)
		}
	}
	slices.SortFunc(due, func(a, b *OutboxMessage) int { return a.CreatedAt.Compare(b.CreatedAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	out := make([]OutboxMessage, 0, len(due))
	for _, m := range due {
		locked := now
		m.Status = OutboxStatusSending
		m.LockedAt = &locked
		m.UpdatedAt = now
		out = append(out, *m)
	}
	return out, nil
}

func (s *InMemoryStore) MarkOutboxMessageSent(_ context.Context, id string) error {
	return s.updateOutbox(id, func(m *OutboxMessage) {
		m.Status = OutboxStatusSent
	})
}

func (s *InMemoryStore) FailOutboxMessage(_ context.Context, id, errMsg string, nextAttemptAt time.Time) error {
	return s.updateOutbox(id, func(m *OutboxMessage) {
		m.Status = OutboxStatusQueued
		m.Attempts++
		m.LastError = errMsg
		m.NextAttemptAt = &nextAttemptAt
		m.LockedAt = nil
	})
}

func (s *InMemoryStore) CancelOutboxMessage(_ context.Context, id, reason string) error {
	return s.updateOutbox(id, func(m *OutboxMessage) {
		m.Status = OutboxStatusCanceled
		m.Attempts++
		m.LastError = reason
		m.LockedAt = nil
	})
}

func (s *InMemoryStore) RequeueStaleSendingMessages(_ context.Context, staleBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.outbox {
		if m.Status == OutboxStatusSending && m.LockedAt != nil && m.LockedAt.Before(staleBefore) {
			m.Status = OutboxStatusQueued
			m.LockedAt = nil
			m.UpdatedAt = time.Now()
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) GetOutboxMessage(_ context.Context, id string) (OutboxMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.outbox[id]
	if !ok {
		return OutboxMessage{}, fmt.Errorf("%w: %s", ErrOutboxMessageNotFound, id)
	}
	return *m, nil
}

func (s *InMemoryStore) updateOutbox(id string, fn func(m *OutboxMessage)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.outbox[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrOutboxMessageNotFound, id)
	}
	fn(m)
	m.UpdatedAt = time.Now()
	return nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
