// Package models defines the core data structures for SymptomPipe.
//
// It includes the saved symptom log record, in-progress drafts, API request
// payloads and the JSON response envelope shared across modules.
package models

import (
	"errors"
	"time"
)

// Validation constants for input validation
const (
	// MaxParticipantIDLength defines the maximum allowed length for a participant ID
	MaxParticipantIDLength = 128
	// MaxSummaryLength defines the maximum stored length of a generated summary
	MaxSummaryLength = 2000
)

// Error variables for better error handling and testability
var (
	ErrEmptyParticipantID   = errors.New("participant_id is required")
	ErrParticipantIDTooLong = errors.New("participant_id exceeds maximum length")
	ErrEmptyFlowID          = errors.New("flow_id is required")
	ErrUnknownFlow          = errors.New("unknown flow")
	ErrInvalidStep          = errors.New("step must be a positive integer")
)

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
	// APIStatusInvalid indicates the submitted step did not pass validation.
	APIStatusInvalid APIStatus = "invalid"
	// APIStatusRecorded indicates a symptom log was successfully recorded.
	APIStatusRecorded APIStatus = "recorded"
)

// SymptomLog is the final record handed to the log store when a flow is saved.
type SymptomLog struct {
	ID            string         `json:"id"`
	ParticipantID string         `json:"participant_id"`
	FlowID        FlowID         `json:"flow_id"`
	Data          map[string]any `json:"data"`
	Severity      *int           `json:"severity,omitempty"`
	SeverityLabel string         `json:"severity_label,omitempty"`
	Summary       string         `json:"summary,omitempty"`
	LoggedAt      time.Time      `json:"logged_at"`
}

// FlowDraft is an in-progress flow persisted so a session can be resumed.
type FlowDraft struct {
	SessionID     string         `json:"session_id"`
	ParticipantID string         `json:"participant_id"`
	FlowID        FlowID         `json:"flow_id"`
	CurrentStep   int            `json:"current_step"`
	Data          map[string]any `json:"data"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// StartSessionRequest represents the payload for starting a flow session.
type StartSessionRequest struct {
	FlowID        FlowID `json:"flow_id"`
	ParticipantID string `json:"participant_id"`
	// SizeHint is passed through to visualization lookups (e.g. "compact").
	SizeHint string `json:"size_hint,omitempty"`
}

// Validate validates a StartSessionRequest.
func (r *StartSessionRequest) Validate() error {
	if r.FlowID == "" {
		return ErrEmptyFlowID
	}
	if r.ParticipantID == "" {
		return ErrEmptyParticipantID
	}
	if len(r.ParticipantID) > MaxParticipantIDLength {
		return ErrParticipantIDTooLong
	}
	return nil
}

// FieldUpdateRequest carries the raw value a widget produced.
type FieldUpdateRequest struct {
	Value any `json:"value"`
}

// GoToStepRequest represents the payload for jumping to a step.
type GoToStepRequest struct {
	Step int `json:"step"`
}

// Validate validates a GoToStepRequest.
func (r *GoToStepRequest) Validate() error {
	if r.Step < 1 {
		return ErrInvalidStep
	}
	return nil
}

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{
		response: APIResponse{},
	}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithResult sets the result data of the API response.
func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Convenience functions for common response patterns

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithResult(result).
		Build()
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithMessage(message).
		WithResult(result).
		Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		Build()
}

// Invalid creates a response for a step that failed validation. The result
// carries the validation errors so the client can show them inline.
func Invalid(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusInvalid).
		WithMessage(message).
		WithResult(result).
		Build()
}

// RecordedWithMessage creates a recorded API response with a message.
func RecordedWithMessage(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusRecorded).
		WithMessage(message).
		WithResult(result).
		Build()
}
