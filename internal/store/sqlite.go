package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/BTreeMap/SymptomPipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions is used when creating the database directory.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore is a file-backed Store.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if needed) the SQLite database at the
// configured DSN and applies migrations.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// A single writer avoids SQLITE_BUSY between the API and the outbox sender.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully", "dsn", dsn)

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) AddLog(ctx context.Context, l models.SymptomLog) error {
	data, err := encodeData(l.Data)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO symptom_logs (`+logColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.ParticipantID, string(l.FlowID), data, nilIfNoSeverity(l.Severity),
		nilIfEmpty(l.SeverityLabel), nilIfEmpty(l.Summary), l.LoggedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore AddLog failed", "error", err, "id", l.ID)
		return fmt.Errorf("failed to insert symptom log %s: %w", l.ID, err)
	}
	slog.Debug("SQLiteStore AddLog succeeded", "id", l.ID, "participantID", l.ParticipantID, "flowID", l.FlowID)
	return nil
}

func (s *SQLiteStore) GetLogs(ctx context.Context, participantID string) ([]models.SymptomLog, error) {
	query := `SELECT ` + logColumns + ` FROM symptom_logs`
	var args []any
	if participantID != "" {
		query += ` WHERE participant_id = ?`
		args = append(args, participantID)
	}
	query += ` ORDER BY logged_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Error("SQLiteStore GetLogs query failed", "error", err)
		return nil, fmt.Errorf("failed to query symptom logs: %w", err)
	}
	defer rows.Close()

	logs := []models.SymptomLog{}
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			slog.Error("SQLiteStore GetLogs scan failed", "error", err)
			return nil, err
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate symptom log rows: %w", err)
	}
	slog.Debug("SQLiteStore GetLogs succeeded", "participantID", participantID, "count", len(logs))
	return logs, nil
}

func (s *SQLiteStore) SaveDraft(ctx context.Context, d models.FlowDraft) error {
	data, err := encodeData(d.Data)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO flow_drafts (`+draftColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET current_step = excluded.current_step,
		   data_json = excluded.data_json, updated_at = excluded.updated_at`,
		d.SessionID, d.ParticipantID, string(d.FlowID), d.CurrentStep, data, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore SaveDraft failed", "error", err, "sessionID", d.SessionID)
		return fmt.Errorf("failed to save draft %s: %w", d.SessionID, err)
	}
	return nil
}

func (s *SQLiteStore) GetDraft(ctx context.Context, sessionID string) (models.FlowDraft, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+draftColumns+` FROM flow_drafts WHERE session_id = ?`, sessionID)
	d, err := scanDraft(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.FlowDraft{}, fmt.Errorf("%w: %s", ErrDraftNotFound, sessionID)
	}
	if err != nil {
		slog.Error("SQLiteStore GetDraft failed", "error", err, "sessionID", sessionID)
		return models.FlowDraft{}, fmt.Errorf("failed to load draft %s: %w", sessionID, err)
	}
	return d, nil
}

func (s *SQLiteStore) DeleteDraft(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM flow_drafts WHERE session_id = ?`, sessionID); err != nil {
		slog.Error("SQLiteStore DeleteDraft failed", "error", err, "sessionID", sessionID)
		return fmt.Errorf("failed to delete draft %s: %w", sessionID, err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) PurgeDrafts(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM flow_drafts WHERE updated_at < ?`, before)
	if err != nil {
		slog.Error("SQLiteStore PurgeDrafts failed", "error", err)
		return 0, fmt.Errorf("failed to purge drafts: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
