package flow

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// threeStepFlow has a selection requirement on step 2.
func threeStepFlow() *FlowConfig {
	return &FlowConfig{
		ID:          "test_flow",
		InitialData: FormData{"selection": []string{}, "intensity": 2, "intensityLabel": "Mild"},
		Steps: []StepConfig{
			{ID: "intensity", Fields: []FieldConfig{
				{ID: "intensity", Type: FieldTypeScale, FieldKey: "intensity", Scale: &ScaleConfig{Min: 0, Max: 10}},
			}},
			{ID: "selection", ValidationKey: "requireSelection", Fields: []FieldConfig{
				{ID: "selection", Type: FieldTypeMultiSelect, FieldKey: "selection", Options: []Choice{
					{Value: "a", Label: "A"}, {Value: "b", Label: "B"},
				}},
			}, Content: []ContentBlock{{Type: ContentTypeSelectionCount, SourceKey: "selection", Text: "area"}}},
			{ID: "notes", Fields: []FieldConfig{
				{ID: "notes", Type: FieldTypeText, FieldKey: "notes"},
			}},
		},
	}
}

func testRegistry() *ValidationRegistry {
	return NewValidationRegistry(map[string]ValidatorFunc{
		"requireSelection": RequireSelection("selection", 1, "Pick at least one"),
		"requireNotes":     RequireNonEmpty("notes", "Notes are required"),
		"requireTrigger":   RequireNonEmpty("trigger", "Pick a trigger"),
		"requireDuration":  RequireNonEmpty("duration", "Enter a duration"),
	})
}

func newTestController(t *testing.T, cfg *FlowConfig, opts ...Option) *Controller {
	t.Helper()
	opts = append([]Option{WithValidationRegistry(testRegistry())}, opts...)
	c, err := NewController(cfg, opts...)
	require.NoError(t, err)
	return c
}
