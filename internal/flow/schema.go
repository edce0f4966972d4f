// Package flow defines the declarative symptom-logging flow engine.
//
// A flow is pure data (steps, typed fields, content blocks, validator keys).
// The Controller turns that data into live form state and step navigation,
// and the Renderer maps field-type tags to input accessors for the current step.
package flow

import (
	"errors"
	"fmt"
)

// FieldType tags the kind of input a field collects.
type FieldType string

const (
	// FieldTypeScale is a bounded integer score (e.g. pain 0-10).
	FieldTypeScale FieldType = "scale"
	// FieldTypeToggle is a yes/no switch.
	FieldTypeToggle FieldType = "toggle"
	// FieldTypeSingleSelect picks exactly one option.
	FieldTypeSingleSelect FieldType = "single_select"
	// FieldTypeMultiSelect picks any subset of options.
	FieldTypeMultiSelect FieldType = "multi_select"
	// FieldTypeBodyMap selects regions on a body or region map.
	FieldTypeBodyMap FieldType = "body_map"
	// FieldTypeDuration is a composite hours/minutes picker stored as minutes.
	FieldTypeDuration FieldType = "duration"
	// FieldTypeTwoAxis writes two independent slots from one gesture.
	FieldTypeTwoAxis FieldType = "two_axis"
	// FieldTypeText is free-form text.
	FieldTypeText FieldType = "text"
	// FieldTypePhoto holds a reference to a captured image.
	FieldTypePhoto FieldType = "photo"
)

// ContentType tags a read-only content block.
type ContentType string

const (
	ContentTypeWeatherSummary      ContentType = "weather_summary"
	ContentTypeSelectionCount      ContentType = "note:selection_count"
	ContentTypeWeatherConfirmation ContentType = "note:weather_confirmation"
	ContentTypeText                ContentType = "note:text"
)

// VisibilityType tags a visibility rule.
type VisibilityType string

const (
	// VisibilityBeforeHour shows the field only before the given local hour.
	VisibilityBeforeHour VisibilityType = "before_hour"
)

// FormData is the open bag of named slots a flow reads and writes.
type FormData map[string]any

// Visibility is a render-time predicate on a field.
type Visibility struct {
	Type VisibilityType `json:"type" yaml:"type"`
	Hour int            `json:"hour,omitempty" yaml:"hour,omitempty"`
}

// Choice is one selectable option.
type Choice struct {
	Value string `json:"value" yaml:"value"`
	Label string `json:"label" yaml:"label"`
}

// ScaleConfig bounds a scale field.
type ScaleConfig struct {
	Min      int    `json:"min" yaml:"min"`
	Max      int    `json:"max" yaml:"max"`
	Step     int    `json:"step,omitempty" yaml:"step,omitempty"`
	MinLabel string `json:"min_label,omitempty" yaml:"min_label,omitempty"`
	MaxLabel string `json:"max_label,omitempty" yaml:"max_label,omitempty"`
}

// Region is one selectable area of a map.
type Region struct {
	ID    string `json:"id" yaml:"id"`
	Label string `json:"label" yaml:"label"`
	Side  string `json:"side,omitempty" yaml:"side,omitempty"`
}

// MapConfig is the geometry of a body/region map.
type MapConfig struct {
	Image   string   `json:"image,omitempty" yaml:"image,omitempty"`
	Regions []Region `json:"regions" yaml:"regions"`
}

// DurationConfig bounds a duration picker.
type DurationConfig struct {
	MaxHours   int `json:"max_hours" yaml:"max_hours"`
	MinuteStep int `json:"minute_step,omitempty" yaml:"minute_step,omitempty"`
}

// Axis describes one dimension of a two-axis selector.
type Axis struct {
	Label   string   `json:"label" yaml:"label"`
	Options []Choice `json:"options" yaml:"options"`
}

// AxesConfig holds both axes of a two-axis selector.
type AxesConfig struct {
	X Axis `json:"x" yaml:"x"`
	Y Axis `json:"y" yaml:"y"`
}

// FieldConfig is a tagged union over field kinds. Kind-specific config lives
// in the optional sub-structs; only the one matching Type is consulted.
type FieldConfig struct {
	ID               string      `json:"id" yaml:"id"`
	Type             FieldType   `json:"type" yaml:"type"`
	FieldKey         string      `json:"field_key" yaml:"field_key"`
	SecondaryKey     string      `json:"secondary_key,omitempty" yaml:"secondary_key,omitempty"`
	DominantKey      string      `json:"dominant_key,omitempty" yaml:"dominant_key,omitempty"`
	Label            string      `json:"label,omitempty" yaml:"label,omitempty"`
	Placeholder      string      `json:"placeholder,omitempty" yaml:"placeholder,omitempty"`
	Visibility       *Visibility `json:"visibility,omitempty" yaml:"visibility,omitempty"`
	VisualizationKey string      `json:"visualization_key,omitempty" yaml:"visualization_key,omitempty"`

	Scale    *ScaleConfig    `json:"scale,omitempty" yaml:"scale,omitempty"`
	Options  []Choice        `json:"options,omitempty" yaml:"options,omitempty"`
	Map      *MapConfig      `json:"map,omitempty" yaml:"map,omitempty"`
	Duration *DurationConfig `json:"duration,omitempty" yaml:"duration,omitempty"`
	Axes     *AxesConfig     `json:"axes,omitempty" yaml:"axes,omitempty"`
}

// ContentBlock is a read-only projection of form data.
type ContentBlock struct {
	Type ContentType `json:"type" yaml:"type"`
	// SourceKey is the slot the block reads (weather slot, selection slot).
	SourceKey string `json:"source_key,omitempty" yaml:"source_key,omitempty"`
	// Text is the literal text of a note:text block, or the noun of a
	// note:selection_count block ("area", "symptom").
	Text string `json:"text,omitempty" yaml:"text,omitempty"`
}

// StepConfig is one screen of a flow.
type StepConfig struct {
	ID            string         `json:"id" yaml:"id"`
	Title         string         `json:"title,omitempty" yaml:"title,omitempty"`
	Subtitle      string         `json:"subtitle,omitempty" yaml:"subtitle,omitempty"`
	Fields        []FieldConfig  `json:"fields" yaml:"fields"`
	Content       []ContentBlock `json:"content,omitempty" yaml:"content,omitempty"`
	ValidationKey string         `json:"validation_key,omitempty" yaml:"validation_key,omitempty"`
}

// FlowConfig describes a whole flow. It is treated as immutable once loaded.
type FlowConfig struct {
	ID          string       `json:"id" yaml:"id"`
	Title       string       `json:"title,omitempty" yaml:"title,omitempty"`
	InitialData FormData     `json:"initial_data,omitempty" yaml:"initial_data,omitempty"`
	Steps       []StepConfig `json:"steps" yaml:"steps"`
}

// ValidationResult is the outcome of running one or more step validators.
type ValidationResult struct {
	IsValid bool              `json:"is_valid"`
	Errors  map[string]string `json:"errors,omitempty"`
	// StepIndex is the 1-based index of the first failing step. Only
	// ValidateAllSteps sets it.
	StepIndex int `json:"step_index,omitempty"`
}

// Valid is the passing ValidationResult.
func Valid() ValidationResult {
	return ValidationResult{IsValid: true, Errors: map[string]string{}}
}

// Invalid builds a failing result from field errors.
func Invalid(errs map[string]string) ValidationResult {
	return ValidationResult{IsValid: false, Errors: errs}
}

// Schema errors
var (
	ErrNoSteps           = errors.New("flow has no steps")
	ErrEmptyFlowID       = errors.New("flow id cannot be empty")
	ErrDuplicateStepID   = errors.New("duplicate step id")
	ErrDuplicateFieldKey = errors.New("duplicate field key within step")
	ErrEmptyFieldKey     = errors.New("field key cannot be empty")
	ErrUnknownFieldType  = errors.New("unknown field type")
)

// IsValidFieldType reports whether ft is a known field kind.
func IsValidFieldType(ft FieldType) bool {
	switch ft {
	case FieldTypeScale, FieldTypeToggle, FieldTypeSingleSelect, FieldTypeMultiSelect,
		FieldTypeBodyMap, FieldTypeDuration, FieldTypeTwoAxis, FieldTypeText, FieldTypePhoto:
		return true
	default:
		return false
	}
}

// TotalSteps returns the number of steps in the flow.
func (c *FlowConfig) TotalSteps() int {
	return len(c.Steps)
}

// Validate checks the structural invariants of a flow definition.
//
// Field keys must be unique among the fields of one step; reuse across steps
// is allowed. Kind-specific config is deliberately not required here since
// the renderer degrades partially configured fields to a no-op.
func (c *FlowConfig) Validate() error {
	if c.ID == "" {
		return ErrEmptyFlowID
	}
	if len(c.Steps) == 0 {
		return fmt.Errorf("%s: %w", c.ID, ErrNoSteps)
	}
	stepIDs := make(map[string]struct{}, len(c.Steps))
	for i, step := range c.Steps {
		if _, dup := stepIDs[step.ID]; dup {
			return fmt.Errorf("%s step %d (%s): %w", c.ID, i+1, step.ID, ErrDuplicateStepID)
		}
		stepIDs[step.ID] = struct{}{}

		keys := make(map[string]struct{}, len(step.Fields))
		for _, f := range step.Fields {
			if !IsValidFieldType(f.Type) {
				return fmt.Errorf("%s step %s field %s: %w: %q", c.ID, step.ID, f.ID, ErrUnknownFieldType, f.Type)
			}
			if f.FieldKey == "" {
				return fmt.Errorf("%s step %s field %s: %w", c.ID, step.ID, f.ID, ErrEmptyFieldKey)
			}
			if _, dup := keys[f.FieldKey]; dup {
				return fmt.Errorf("%s step %s key %s: %w", c.ID, step.ID, f.FieldKey, ErrDuplicateFieldKey)
			}
			keys[f.FieldKey] = struct{}{}
		}
	}
	return nil
}
