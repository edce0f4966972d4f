package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/SymptomPipe/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore is a PostgreSQL-backed Store.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects to PostgreSQL and applies migrations.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) AddLog(ctx context.Context, l models.SymptomLog) error {
	data, err := encodeData(l.Data)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO symptom_logs (`+logColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		l.ID, l.ParticipantID, string(l.FlowID), data, nilIfNoSeverity(l.Severity),
		nilIfEmpty(l.SeverityLabel), nilIfEmpty(l.Summary), l.LoggedAt,
	)
	if err != nil {
		slog.Error("PostgresStore AddLog failed", "error", err, "id", l.ID)
		return fmt.Errorf("failed to insert symptom log %s: %w", l.ID, err)
	}
	slog.Debug("PostgresStore AddLog succeeded", "id", l.ID, "participantID", l.ParticipantID, "flowID", l.FlowID)
	return nil
}

func (s *PostgresStore) GetLogs(ctx context.Context, participantID string) ([]models.SymptomLog, error) {
	query := `SELECT ` + logColumns + ` FROM symptom_logs`
	var args []any
	if participantID != "" {
		query += ` WHERE participant_id = $1`
		args = append(args, participantID)
	}
	query += ` ORDER BY logged_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Error("PostgresStore GetLogs query failed", "error", err)
		return nil, fmt.Errorf("failed to query symptom logs: %w", err)
	}
	defer rows.Close()

	logs := []models.SymptomLog{}
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			slog.Error("PostgresStore GetLogs scan failed", "error", err)
			return nil, err
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate symptom log rows: %w", err)
	}
	slog.Debug("PostgresStore GetLogs succeeded", "participantID", participantID, "count", len(logs))
	return logs, nil
}

func (s *PostgresStore) SaveDraft(ctx context.Context, d models.FlowDraft) error {
	data, err := encodeData(d.Data)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO flow_drafts (`+draftColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (session_id) DO UPDATE SET current_step = EXCLUDED.current_step,
		   data_json = EXCLUDED.data_json, updated_at = EXCLUDED.updated_at`,
		d.SessionID, d.ParticipantID, string(d.FlowID), d.CurrentStep, data, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		slog.Error("PostgresStore SaveDraft failed", "error", err, "sessionID", d.SessionID)
		return fmt.Errorf("failed to save draft %s: %w", d.SessionID, err)
	}
	return nil
}

func (s *PostgresStore) GetDraft(ctx context.Context, sessionID string) (models.FlowDraft, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+draftColumns+` FROM flow_drafts WHERE session_id = $1`, sessionID)
	d, err := scanDraft(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.FlowDraft{}, fmt.Errorf("%w: %s", ErrDraftNotFound, sessionID)
	}
	if err != nil {
		slog.Error("PostgresStore GetDraft failed", "error", err, "sessionID", sessionID)
		return models.FlowDraft{}, fmt.Errorf("failed to load draft %s: %w", sessionID, err)
	}
	return d, nil
}

func (s *PostgresStore) DeleteDraft(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM flow_drafts WHERE session_id = $1`, sessionID); err != nil {
		slog.Error("PostgresStore DeleteDraft failed", "error", err, "sessionID", sessionID)
		return fmt.Errorf("failed to delete draft %s: %w", sessionID, err)
	}
	return nil
}

func (s *PostgresStore) PurgeDrafts(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM flow_drafts WHERE updated_at < $1`, before)
	if err != nil {
		slog.Error("PostgresStore PurgeDrafts failed", "error", err)
		return 0, fmt.Errorf("failed to purge drafts: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
