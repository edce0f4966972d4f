// Package notify sends caregiver alerts by SMS through Twilio.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

var (
	ErrMissingCredentials = errors.New("account SID and auth token must be provided")
	ErrMissingFromNumber  = errors.New("from number must be provided")
	ErrInvalidPhoneNumber = errors.New("phone number must be in E.164 format")
)

var e164 = regexp.MustCompile(`^\+[1-9]\d{6,14}$`)

// CanonicalizePhone strips spaces, dashes and parentheses and checks the
// result is an E.164 number.
func CanonicalizePhone(raw string) (string, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '.':
			return -1
		}
		return r
	}, strings.TrimSpace(raw))
	if !e164.MatchString(cleaned) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPhoneNumber, raw)
	}
	return cleaned, nil
}

// Notifier delivers a short text alert.
type Notifier interface {
	Alert(ctx context.Context, to, body string) error
}

// Opts holds configuration for the Twilio notifier.
type Opts struct {
	AccountSID string
	AuthToken  string
	FromNumber string
}

// Option configures a TwilioNotifier.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFromNumber sets the sending phone number.
func WithFromNumber(from string) Option {
	return func(o *Opts) { o.FromNumber = from }
}

// messageCreator is the slice of the Twilio API the notifier uses.
type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// TwilioNotifier sends SMS alerts via the Twilio REST API.
type TwilioNotifier struct {
	api  messageCreator
	from string
}

// NewTwilioNotifier builds a notifier. Unset options fall back to
// TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER.
func NewTwilioNotifier(opts ...Option) (*TwilioNotifier, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.FromNumber == "" {
		cfg.FromNumber = os.Getenv("TWILIO_FROM_NUMBER")
	}
	slog.Debug("Twilio notifier config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"FromNumber_set", cfg.FromNumber != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, ErrMissingCredentials
	}
	if cfg.FromNumber == "" {
		return nil, ErrMissingFromNumber
	}
	from, err := CanonicalizePhone(cfg.FromNumber)
	if err != nil {
		return nil, err
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &TwilioNotifier{api: client.Api, from: from}, nil
}

// Alert sends body to the E.164 number to.
func (n *TwilioNotifier) Alert(ctx context.Context, to, body string) error {
	canonical, err := CanonicalizePhone(to)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(canonical)
	params.SetFrom(n.from)
	params.SetBody(body)

	resp, err := n.api.CreateMessage(params)
	if err != nil {
		slog.Error("TwilioNotifier Alert failed", "to", canonical, "error", err)
		return fmt.Errorf("failed to send alert to %s: %w", canonical, err)
	}
	sid := ""
	if resp != nil && resp.Sid != nil {
		sid = *resp.Sid
	}
	slog.Debug("TwilioNotifier Alert sent", "to", canonical, "sid", sid)
	return nil
}

// SentAlert is one alert recorded by MockNotifier.
type SentAlert struct {
	To   string
	Body string
}

// MockNotifier records alerts instead of sending them.
type MockNotifier struct {
	mu   sync.Mutex
	sent []SentAlert
	// Err, when set, is returned by every Alert call.
	Err error
}

// NewMockNotifier creates an empty MockNotifier.
func NewMockNotifier() *MockNotifier {
	return &MockNotifier{}
}

func (m *MockNotifier) Alert(_ context.Context, to, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.sent = append(m.sent, SentAlert{To: to, Body: body})
	return nil
}

// Sent returns a copy of the recorded alerts.
func (m *MockNotifier) Sent() []SentAlert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentAlert(nil), m.sent...)
}
