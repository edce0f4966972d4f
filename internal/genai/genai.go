// Package genai writes short clinician-facing summaries of saved symptom
// logs using the OpenAI chat completions API.
package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/BTreeMap/SymptomPipe/internal/models"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Default generation settings.
const (
	DefaultModel       = string(openai.ChatModelGPT4oMini)
	DefaultTemperature = 0.2
	DefaultMaxTokens   = 200
)

var (
	ErrNoAPIKey          = errors.New("OpenAI API key not set")
	ErrNoChoicesReturned = errors.New("no choices returned")
)

const summarySystemPrompt = `You write one short paragraph summarising a patient's symptom log for their clinician.
Report only what the data says: the symptom, severity, location, duration, related context and the weather if present.
Do not diagnose or give advice. Use plain clinical language and at most three sentences.`

// chatService is the subset of the chat completions API the client uses.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// completions adapts the SDK's completion service to chatService.
type completions struct {
	svc openai.ChatCompletionService
}

func (c completions) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := c.svc.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// Opts holds client configuration.
type Opts struct {
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int64
	DebugMode   bool
	StateDir    string
}

// Option configures a Client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel overrides the chat model.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithTemperature overrides the sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *Opts) { o.Temperature = t }
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int64) Option {
	return func(o *Opts) { o.MaxTokens = n }
}

// WithDebugMode writes every request and response to StateDir/debug.
func WithDebugMode(enabled bool) Option {
	return func(o *Opts) { o.DebugMode = enabled }
}

// WithStateDir sets the directory debug logs are written under.
func WithStateDir(dir string) Option {
	return func(o *Opts) { o.StateDir = dir }
}

// Client generates summaries.
type Client struct {
	chat        chatService
	model       string
	temperature float64
	maxTokens   int64
	debugMode   bool
	stateDir    string
}

// NewClient builds a client. The API key comes from WithAPIKey or OPENAI_API_KEY.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{
		Model:       DefaultModel,
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		slog.Debug("genai.NewClient: no API key")
		return nil, ErrNoAPIKey
	}
	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	slog.Debug("genai.NewClient succeeded", "model", cfg.Model, "debugMode", cfg.DebugMode)
	return &Client{
		chat:        completions{svc: cli.Chat.Completions},
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		debugMode:   cfg.DebugMode,
		stateDir:    cfg.StateDir,
	}, nil
}

// Summarize returns a short narrative of log, capped at models.MaxSummaryLength.
func (c *Client) Summarize(ctx context.Context, log models.SymptomLog) (string, error) {
	user, err := describeLog(log)
	if err != nil {
		return "", err
	}
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(summarySystemPrompt),
			openai.UserMessage(user),
		},
		Temperature:         openai.Float(c.temperature),
		MaxCompletionTokens: openai.Int(c.maxTokens),
	}
	resp, err := c.chat.Create(ctx, params)
	if err != nil {
		slog.Error("genai.Summarize: completion failed", "logID", log.ID, "error", err)
		return "", fmt.Errorf("summarize log %s: %w", log.ID, err)
	}
	c.writeDebug("Summarize", params, resp)
	if len(resp.Choices) == 0 {
		return "", ErrNoChoicesReturned
	}
	summary := strings.TrimSpace(resp.Choices[0].Message.Content)
	if len(summary) > models.MaxSummaryLength {
		summary = summary[:models.MaxSummaryLength]
	}
	slog.Debug("genai.Summarize succeeded", "logID", log.ID, "length", len(summary))
	return summary, nil
}

// describeLog renders the log as a compact prompt. Keys are sorted so the
// prompt is stable for identical logs.
func describeLog(log models.SymptomLog) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Symptom: %s\n", log.FlowID)
	fmt.Fprintf(&b, "Logged at: %s\n", log.LoggedAt.Format(time.RFC1123))
	if log.Severity != nil {
		fmt.Fprintf(&b, "Severity: %d/10 (%s)\n", *log.Severity, log.SeverityLabel)
	}
	keys := make([]string, 0, len(log.Data))
	for k := range log.Data {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	b.WriteString("Fields:\n")
	for _, k := range keys {
		v, err := json.Marshal(log.Data[k])
		if err != nil {
			return "", fmt.Errorf("encode field %s: %w", k, err)
		}
		fmt.Fprintf(&b, "- %s: %s\n", k, v)
	}
	return b.String(), nil
}

func (c *Client) writeDebug(method string, params openai.ChatCompletionNewParams, resp openai.ChatCompletion) {
	if !c.debugMode || c.stateDir == "" {
		return
	}
	dir := filepath.Join(c.stateDir, "debug")
	if err := os.MkdirAll(dir, 0755); err != nil {
		slog.Warn("genai.writeDebug: create dir failed", "error", err)
		return
	}
	now := time.Now()
	entry := map[string]any{
		"timestamp": now.Format(time.RFC3339Nano),
		"method":    method,
		"model":     c.model,
		"params":    params,
		"response":  resp,
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		slog.Warn("genai.writeDebug: marshal failed", "error", err)
		return
	}
	name := filepath.Join(dir, fmt.Sprintf("%s_%d.json", strings.ToLower(method), now.UnixNano()))
	if err := os.WriteFile(name, data, 0644); err != nil {
		slog.Warn("genai.writeDebug: write failed", "error", err)
	}
}
