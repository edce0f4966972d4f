package symptoms

import "github.com/BTreeMap/SymptomPipe/internal/flow"

// SizeHintCompact asks for layouts suited to small screens.
const SizeHintCompact = "compact"

// Visualizations builds the registry of presentation overrides.
func Visualizations() *flow.VisualizationRegistry {
	return flow.NewVisualizationRegistry(map[string]flow.VisualizationFunc{
		"severity_slider": severitySlider,
		"symptom_chips": func(ctx flow.VisualizationContext) flow.VisualizationConfig {
			if ctx.SizeHint == SizeHintCompact {
				return flow.VisualizationConfig{ListStyle: "list"}
			}
			return flow.VisualizationConfig{ListStyle: "chips"}
		},
		"option_list":    flow.Static(flow.VisualizationConfig{ListStyle: "list"}),
		"body_map_front": flow.Static(flow.VisualizationConfig{Variant: "body_front", RenderOption: "mirror_sides"}),
		"abdomen_map":    flow.Static(flow.VisualizationConfig{Variant: "abdomen"}),
		"head_map":       flow.Static(flow.VisualizationConfig{Variant: "head", RenderOption: "mirror_sides"}),
	})
}

func severitySlider(ctx flow.VisualizationContext) flow.VisualizationConfig {
	if ctx.SizeHint == SizeHintCompact {
		return flow.VisualizationConfig{Variant: "stepper"}
	}
	return flow.VisualizationConfig{Variant: "slider", RenderOption: "gradient"}
}
