package flow

import (
	"errors"
	"fmt"
	"maps"
)

// ErrUnknownVisualizationKey is returned when a field names an unregistered visualization.
var ErrUnknownVisualizationKey = errors.New("unknown visualization key")

// VisualizationConfig overrides how a field is presented in one flow.
type VisualizationConfig struct {
	Variant      string `json:"variant,omitempty"`
	ListStyle    string `json:"list_style,omitempty"`
	RenderOption string `json:"render_option,omitempty"`
}

// VisualizationContext carries hints that may parameterise a lookup.
type VisualizationContext struct {
	SizeHint string
}

// VisualizationFunc computes a config for a context.
type VisualizationFunc func(ctx VisualizationContext) VisualizationConfig

// Static wraps a fixed config as a VisualizationFunc.
func Static(cfg VisualizationConfig) VisualizationFunc {
	return func(VisualizationContext) VisualizationConfig { return cfg }
}

// VisualizationRegistry maps keys to presentation overrides. Immutable after construction.
type VisualizationRegistry struct {
	entries map[string]VisualizationFunc
}

// NewVisualizationRegistry copies entries into a new registry.
func NewVisualizationRegistry(entries map[string]VisualizationFunc) *VisualizationRegistry {
	return &VisualizationRegistry{entries: maps.Clone(entries)}
}

// Lookup resolves key for the given context.
func (r *VisualizationRegistry) Lookup(key string, ctx VisualizationContext) (VisualizationConfig, error) {
	if r != nil {
		if fn, ok := r.entries[key]; ok {
			return fn(ctx), nil
		}
	}
	return VisualizationConfig{}, fmt.Errorf("%w: %q", ErrUnknownVisualizationKey, key)
}

// CheckFlow verifies that every visualization key referenced by cfg is registered.
func (r *VisualizationRegistry) CheckFlow(cfg *FlowConfig) error {
	for _, step := range cfg.Steps {
		for _, f := range step.Fields {
			if f.VisualizationKey == "" {
				continue
			}
			if r == nil {
				return fmt.Errorf("flow %s field %s: %w: %q", cfg.ID, f.ID, ErrUnknownVisualizationKey, f.VisualizationKey)
			}
			if _, ok := r.entries[f.VisualizationKey]; !ok {
				return fmt.Errorf("flow %s field %s: %w: %q", cfg.ID, f.ID, ErrUnknownVisualizationKey, f.VisualizationKey)
			}
		}
	}
	return nil
}
