package genai

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/SymptomPipe/internal/models"
	"github.com/openai/openai-go"
)

// mockChatService implements chatService for testing.
type mockChatService struct {
	resp   openai.ChatCompletion
	err    error
	params openai.ChatCompletionNewParams
}

func (m *mockChatService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	m.params = params
	return m.resp, m.err
}

func completion(content string) openai.ChatCompletion {
	return openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: content}},
		},
	}
}

func testLog() models.SymptomLog {
	sev := 8
	return models.SymptomLog{
		ID:            "log_1",
		ParticipantID: "p_1",
		FlowID:        models.FlowMigraine,
		Data:          map[string]any{"severity": 8, "headRegions": []string{"left_temple"}, "attackMinutes": 180},
		Severity:      &sev,
		SeverityLabel: "Severe",
		LoggedAt:      time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestSummarize_Success(t *testing.T) {
	mock := &mockChatService{resp: completion("  Severe left temple migraine for three hours.  ")}
	client := &Client{chat: mock, model: "test-model", temperature: 0.2, maxTokens: 100}

	out, err := client.Summarize(context.Background(), testLog())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out != "Severe left temple migraine for three hours." {
		t.Errorf("unexpected summary %q", out)
	}
	if string(mock.params.Model) != "test-model" {
		t.Errorf("expected model test-model, got %s", mock.params.Model)
	}
	if len(mock.params.Messages) != 2 {
		t.Errorf("expected system and user messages, got %d", len(mock.params.Messages))
	}
}

func TestSummarize_ServiceError(t *testing.T) {
	client := &Client{chat: &mockChatService{err: errors.New("service failure")}}
	_, err := client.Summarize(context.Background(), testLog())
	if err == nil || !strings.Contains(err.Error(), "service failure") {
		t.Errorf("expected service failure error, got %v", err)
	}
}

func TestSummarize_NoChoices(t *testing.T) {
	client := &Client{chat: &mockChatService{resp: openai.ChatCompletion{}}}
	_, err := client.Summarize(context.Background(), testLog())
	if err != ErrNoChoicesReturned {
		t.Errorf("expected ErrNoChoicesReturned, got %v", err)
	}
}

func TestSummarize_Truncates(t *testing.T) {
	client := &Client{chat: &mockChatService{resp: completion(strings.Repeat("a", models.MaxSummaryLength+50))}}
	out, err := client.Summarize(context.Background(), testLog())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != models.MaxSummaryLength {
		t.Errorf("expected summary capped at %d, got %d", models.MaxSummaryLength, len(out))
	}
}

func TestDescribeLog(t *testing.T) {
	text, err := describeLog(testLog())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"Symptom: migraine", "Severity: 8/10 (Severe)", `- headRegions: ["left_temple"]`} {
		if !strings.Contains(text, want) {
			t.Errorf("prompt missing %q:\n%s", want, text)
		}
	}
	if strings.Index(text, "attackMinutes") > strings.Index(text, "severity:") {
		t.Error("fields should be listed in sorted order")
	}
}

func TestNewClient_NoKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := NewClient()
	if !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("expected ErrNoAPIKey, got %v", err)
	}
}

func TestNewClient_WithKey(t *testing.T) {
	cli, err := NewClient(WithAPIKey("test-key"), WithModel("gpt-test"))
	if err != nil {
		t.Fatalf("expected no error with API key, got %v", err)
	}
	if cli.model != "gpt-test" || cli.maxTokens != DefaultMaxTokens {
		t.Errorf("options not applied: %+v", cli)
	}
}
