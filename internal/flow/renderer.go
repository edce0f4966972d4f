package flow

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RenderedField is one visible, fully configured field of the current step.
type RenderedField struct {
	FieldValue

	ID            string               `json:"id"`
	Type          FieldType            `json:"type"`
	FieldKey      string               `json:"field_key"`
	Label         string               `json:"label,omitempty"`
	Placeholder   string               `json:"placeholder,omitempty"`
	Error         string               `json:"error,omitempty"`
	Visualization *VisualizationConfig `json:"visualization,omitempty"`

	Scale    *ScaleConfig    `json:"scale,omitempty"`
	Options  []Choice        `json:"options,omitempty"`
	Map      *MapConfig      `json:"map,omitempty"`
	Duration *DurationConfig `json:"duration,omitempty"`
	Axes     *AxesConfig     `json:"axes,omitempty"`
}

// RenderedStep is the dispatcher's output for the controller's current step.
type RenderedStep struct {
	StepID     string            `json:"step_id"`
	Title      string            `json:"title,omitempty"`
	Subtitle   string            `json:"subtitle,omitempty"`
	Number     int               `json:"number"`
	TotalSteps int               `json:"total_steps"`
	Fields     []RenderedField   `json:"fields"`
	Content    []RenderedContent `json:"content,omitempty"`
}

// Renderer dispatches the current step's fields to their accessors.
// It holds the controller explicitly; there is no ambient current flow.
type Renderer struct {
	ctrl     *Controller
	visuals  *VisualizationRegistry
	weather  WeatherSource
	clock    func() time.Time
	sizeHint string
}

// RendererOption configures a Renderer.
type RendererOption func(*Renderer)

// WithVisualizations resolves field visualization keys against reg.
func WithVisualizations(reg *VisualizationRegistry) RendererOption {
	return func(r *Renderer) { r.visuals = reg }
}

// WithWeather enables lazy weather seeding from src.
func WithWeather(src WeatherSource) RendererOption {
	return func(r *Renderer) { r.weather = src }
}

// WithClock overrides the clock visibility rules are evaluated against.
func WithClock(clock func() time.Time) RendererOption {
	return func(r *Renderer) { r.clock = clock }
}

// WithSizeHint passes a size hint to visualization lookups.
func WithSizeHint(hint string) RendererOption {
	return func(r *Renderer) { r.sizeHint = hint }
}

// NewRenderer creates a Renderer bound to ctrl.
func NewRenderer(ctrl *Controller, opts ...RendererOption) *Renderer {
	r := &Renderer{ctrl: ctrl, clock: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Visible evaluates f's visibility rule at now (local time).
func Visible(f FieldConfig, now time.Time) bool {
	if f.Visibility == nil {
		return true
	}
	switch f.Visibility.Type {
	case VisibilityBeforeHour:
		return now.Hour() < f.Visibility.Hour
	default:
		slog.Warn("Unknown visibility rule, showing field", "field", f.ID, "rule", f.Visibility.Type)
		return true
	}
}

// Render projects the current step. Hidden fields and fields missing their
// kind-specific config are left out. Weather content may seed its slot once.
func (r *Renderer) Render(ctx context.Context) (RenderedStep, error) {
	step := r.ctrl.CurrentStepConfig()
	for _, b := range step.Content {
		if b.Type == ContentTypeWeatherSummary || b.Type == ContentTypeWeatherConfirmation {
			r.seedWeather(ctx, b)
		}
	}

	state := r.ctrl.Snapshot()
	now := r.clock()
	out := RenderedStep{
		StepID:     step.ID,
		Title:      step.Title,
		Subtitle:   step.Subtitle,
		Number:     state.CurrentStep,
		TotalSteps: state.TotalSteps,
		Fields:     make([]RenderedField, 0, len(step.Fields)),
	}

	for _, f := range step.Fields {
		if !Visible(f, now) {
			continue
		}
		acc, ok := resolveAccessor(f)
		if !ok {
			slog.Debug("Renderer skipping incompletely configured field", "flowID", r.ctrl.Config().ID, "field", f.ID, "type", f.Type)
			continue
		}
		rf := RenderedField{
			ID:          f.ID,
			Type:        f.Type,
			FieldKey:    f.FieldKey,
			Label:       f.Label,
			Placeholder: f.Placeholder,
			FieldValue:  acc.read(state.FormData),
			Error:       state.Errors[f.FieldKey],
			Scale:       f.Scale,
			Options:     f.Options,
			Map:         f.Map,
			Duration:    f.Duration,
			Axes:        f.Axes,
		}
		if rf.Error == "" && f.SecondaryKey != "" {
			rf.Error = state.Errors[f.SecondaryKey]
		}
		if f.VisualizationKey != "" {
			vis, err := r.visuals.Lookup(f.VisualizationKey, VisualizationContext{SizeHint: r.sizeHint})
			if err != nil {
				return RenderedStep{}, fmt.Errorf("field %s: %w", f.ID, err)
			}
			rf.Visualization = &vis
		}
		out.Fields = append(out.Fields, rf)
	}

	for _, b := range step.Content {
		out.Content = append(out.Content, projectContent(b, state.FormData))
	}
	return out, nil
}

// Apply routes input for fieldID on the current step through the
// controller's single mutation path.
func (r *Renderer) Apply(fieldID string, input any) error {
	step := r.ctrl.CurrentStepConfig()
	var field *FieldConfig
	for i := range step.Fields {
		if step.Fields[i].ID == fieldID {
			field = &step.Fields[i]
			break
		}
	}
	if field == nil {
		return fmt.Errorf("%w: %s", ErrFieldNotFound, fieldID)
	}
	if !Visible(*field, r.clock()) {
		return fmt.Errorf("%w: %s is hidden", ErrFieldUnavailable, fieldID)
	}
	acc, ok := resolveAccessor(*field)
	if !ok {
		return fmt.Errorf("%w: %s is not fully configured", ErrFieldUnavailable, fieldID)
	}
	err := r.ctrl.UpdateFieldsFrom(func(current FormData) (map[string]any, error) {
		return acc.decode(input, current)
	})
	if err != nil {
		slog.Debug("Renderer Apply rejected input", "flowID", r.ctrl.Config().ID, "field", fieldID, "error", err)
		return err
	}
	slog.Debug("Renderer Apply succeeded", "flowID", r.ctrl.Config().ID, "field", fieldID)
	return nil
}
