package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/BTreeMap/SymptomPipe/internal/store"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

type fakeCreator struct {
	params []*twilioApi.CreateMessageParams
	err    error
}

func (f *fakeCreator) CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error) {
	f.params = append(f.params, params)
	if f.err != nil {
		return nil, f.err
	}
	sid := "SM123"
	return &twilioApi.ApiV2010Message{Sid: &sid}, nil
}

func TestCanonicalizePhone(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"+1 (555) 123-4567", "+15551234567", false},
		{"+447700900123", "+447700900123", false},
		{"5551234567", "", true},
		{"+0123456789", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := CanonicalizePhone(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidPhoneNumber) {
				t.Errorf("CanonicalizePhone(%q) expected ErrInvalidPhoneNumber, got %v", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("CanonicalizePhone(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestTwilioNotifier_Alert(t *testing.T) {
	fake := &fakeCreator{}
	n := &TwilioNotifier{api: fake, from: "+15550000000"}

	if err := n.Alert(context.Background(), "+1 555 123 4567", "Severe migraine logged"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fake.params) != 1 {
		t.Fatalf("expected 1 message, got %d", len(fake.params))
	}
	p := fake.params[0]
	if *p.To != "+15551234567" || *p.From != "+15550000000" || *p.Body != "Severe migraine logged" {
		t.Errorf("unexpected params to=%s from=%s body=%s", *p.To, *p.From, *p.Body)
	}

	if err := n.Alert(context.Background(), "not-a-number", "x"); !errors.Is(err, ErrInvalidPhoneNumber) {
		t.Errorf("expected ErrInvalidPhoneNumber, got %v", err)
	}

	fake.err = errors.New("twilio down")
	if err := n.Alert(context.Background(), "+15551234567", "x"); err == nil {
		t.Error("expected API error to propagate")
	}
}

func TestNewTwilioNotifier_MissingConfig(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_FROM_NUMBER", "")

	if _, err := NewTwilioNotifier(); !errors.Is(err, ErrMissingCredentials) {
		t.Errorf("expected ErrMissingCredentials, got %v", err)
	}
	if _, err := NewTwilioNotifier(WithAccountSID("AC1"), WithAuthToken("tok")); !errors.Is(err, ErrMissingFromNumber) {
		t.Errorf("expected ErrMissingFromNumber, got %v", err)
	}
	n, err := NewTwilioNotifier(WithAccountSID("AC1"), WithAuthToken("tok"), WithFromNumber("+15550000000"))
	if err != nil || n == nil {
		t.Fatalf("expected notifier, got %v", err)
	}
}

func TestOutboxRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := store.NewInMemoryStore()
	mock := NewMockNotifier()

	id, err := Enqueue(ctx, s, "p_1", "log_1", AlertPayload{To: "+15551234567", Body: "Severe joint pain"})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	sender := store.NewOutboxSender(s, SendFunc(mock), 0)
	sender.Poll(ctx)

	sent := mock.Sent()
	if len(sent) != 1 || sent[0].Body != "Severe joint pain" {
		t.Fatalf("unexpected alerts: %+v", sent)
	}
	m, _ := s.GetOutboxMessage(ctx, id)
	if m.Status != store.OutboxStatusSent {
		t.Errorf("expected sent, got %s", m.Status)
	}
}

func TestSendFunc_RejectsUnknownKind(t *testing.T) {
	err := SendFunc(NewMockNotifier())(context.Background(), store.OutboxMessage{ID: "x", Kind: "prompt"})
	if err == nil {
		t.Error("expected error for unknown kind")
	}
}
