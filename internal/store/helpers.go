package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/BTreeMap/SymptomPipe/internal/models"
)

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// nilIfEmpty returns nil for an empty string so nullable columns store NULL.
func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nilIfNoSeverity(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func encodeData(data map[string]any) (string, error) {
	if data == nil {
		data = map[string]any{}
	}
	b, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("encode form data: %w", err)
	}
	return string(b), nil
}

func decodeData(raw string) (map[string]any, error) {
	data := map[string]any{}
	if raw == "" {
		return data, nil
	}
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("decode form data: %w", err)
	}
	return data, nil
}

// logColumns is the column list scanLog expects.
const logColumns = `id, participant_id, flow_id, data_json, severity, severity_label, summary, logged_at`

func scanLog(row rowScanner) (models.SymptomLog, error) {
	var l models.SymptomLog
	var flowID, dataJSON string
	var severity sql.NullInt64
	var label, summary sql.NullString
	if err := row.Scan(&l.ID, &l.ParticipantID, &flowID, &dataJSON, &severity, &label, &summary, &l.LoggedAt); err != nil {
		return l, fmt.Errorf("scan symptom log failed: %w", err)
	}
	data, err := decodeData(dataJSON)
	if err != nil {
		return l, err
	}
	l.FlowID = models.FlowID(flowID)
	l.Data = data
	l.SeverityLabel = label.String
	l.Summary = summary.String
	if severity.Valid {
		v := int(severity.Int64)
		l.Severity = &v
	}
	return l, nil
}

// draftColumns is the column list scanDraft expects.
const draftColumns = `session_id, participant_id, flow_id, current_step, data_json, created_at, updated_at`

func scanDraft(row rowScanner) (models.FlowDraft, error) {
	var d models.FlowDraft
	var flowID, dataJSON string
	if err := row.Scan(&d.SessionID, &d.ParticipantID, &flowID, &d.CurrentStep, &dataJSON, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return d, err
	}
	data, err := decodeData(dataJSON)
	if err != nil {
		return d, err
	}
	d.FlowID = models.FlowID(flowID)
	d.Data = data
	return d, nil
}

// outboxColumns is the column list scanOutboxMessage expects.
const outboxColumns = `id, participant_id, kind, payload_json, status, attempts, next_attempt_at, dedupe_key, locked_at, last_error, created_at, updated_at`

func scanOutboxMessage(row rowScanner) (OutboxMessage, error) {
	var m OutboxMessage
	var payloadJSON, dedupeKey, lastError sql.NullString
	var nextAttemptAt, lockedAt sql.NullTime
	err := row.Scan(
		&m.ID, &m.ParticipantID, &m.Kind, &payloadJSON, &m.Status, &m.Attempts,
		&nextAttemptAt, &dedupeKey, &lockedAt, &lastError, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return m, err
	}
	m.PayloadJSON = payloadJSON.String
	m.DedupeKey = dedupeKey.String
	m.LastError = lastError.String
	if nextAttemptAt.Valid {
		m.NextAttemptAt = &nextAttemptAt.Time
	}
	if lockedAt.Valid {
		m.LockedAt = &lockedAt.Time
	}
	return m, nil
}
