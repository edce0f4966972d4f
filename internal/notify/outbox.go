package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/BTreeMap/SymptomPipe/internal/store"
)

// AlertPayload is the outbox payload of a caregiver alert.
type AlertPayload struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

// Enqueue queues an alert in the outbox. dedupeKey keeps one alert per source
// record even if the caller retries.
func Enqueue(ctx context.Context, repo store.OutboxRepo, participantID, dedupeKey string, p AlertPayload) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode alert payload: %w", err)
	}
	return repo.EnqueueOutboxMessage(ctx, participantID, store.OutboxKindCaregiverAlert, string(raw), dedupeKey)
}

// SendFunc delivers caregiver alerts claimed from the outbox through n.
func SendFunc(n Notifier) store.OutboxSendFunc {
	return func(ctx context.Context, msg store.OutboxMessage) error {
		if msg.Kind != store.OutboxKindCaregiverAlert {
			return fmt.Errorf("unsupported outbox kind %q", msg.Kind)
		}
		var p AlertPayload
		if err := json.Unmarshal([]byte(msg.PayloadJSON), &p); err != nil {
			return fmt.Errorf("decode alert payload %s: %w", msg.ID, err)
		}
		return n.Alert(ctx, p.To, p.Body)
	}
}
