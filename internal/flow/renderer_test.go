package flow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingWeather struct {
	calls int
	w     Weather
	err   error
}

func (c *countingWeather) Current(context.Context) (Weather, error) {
	c.calls++
	return c.w, c.err
}

func at(hour int) func() time.Time {
	return func() time.Time { return time.Date(2026, 3, 14, hour, 30, 0, 0, time.Local) }
}

func fieldIDs(step RenderedStep) []string {
	ids := make([]string, 0, len(step.Fields))
	for _, f := range step.Fields {
		ids = append(ids, f.ID)
	}
	return ids
}

func morningFlow() *FlowConfig {
	return &FlowConfig{
		ID:          "morning",
		InitialData: FormData{"stiffness": 15},
		Steps: []StepConfig{{
			ID: "morning",
			Fields: []FieldConfig{
				{ID: "stiffness", Type: FieldTypeDuration, FieldKey: "stiffness",
					Duration: &DurationConfig{MaxHours: 4}, Visibility: &Visibility{Type: VisibilityBeforeHour, Hour: 10}},
				{ID: "notes", Type: FieldTypeText, FieldKey: "notes"},
			},
		}},
	}
}

func TestRender_BeforeHourVisibility(t *testing.T) {
	tests := []struct {
		hour    int
		visible bool
	}{
		{0, true},
		{9, true},
		{10, false},
		{18, false},
	}
	for _, tt := range tests {
		c := newTestController(t, morningFlow())
		r := NewRenderer(c, WithClock(at(tt.hour)))
		step, err := r.Render(context.Background())
		require.NoError(t, err)
		if tt.visible {
			assert.Equal(t, []string{"stiffness", "notes"}, fieldIDs(step), "hour %d", tt.hour)
		} else {
			assert.Equal(t, []string{"notes"}, fieldIDs(step), "hour %d", tt.hour)
		}
		assert.Equal(t, 15, c.FormData()["stiffness"], "visibility never touches stored data")
	}
}

func TestApply_HiddenFieldRejected(t *testing.T) {
	c := newTestController(t, morningFlow())
	r := NewRenderer(c, WithClock(at(11)))
	err := r.Apply("stiffness", 30)
	assert.ErrorIs(t, err, ErrFieldUnavailable)
	assert.Equal(t, 15, c.FormData()["stiffness"])
}

func TestRender_IncompleteFieldsDegradeSilently(t *testing.T) {
	cfg := &FlowConfig{ID: "partial", Steps: []StepConfig{{
		ID: "s",
		Fields: []FieldConfig{
			{ID: "map", Type: FieldTypeBodyMap, FieldKey: "regions"},
			{ID: "scale", Type: FieldTypeScale, FieldKey: "pain"},
			{ID: "pick", Type: FieldTypeSingleSelect, FieldKey: "pick"},
			{ID: "axes", Type: FieldTypeTwoAxis, FieldKey: "x", Axes: &AxesConfig{}},
			{ID: "ok", Type: FieldTypeToggle, FieldKey: "ok"},
		},
	}}}
	c := newTestController(t, cfg)
	r := NewRenderer(c)

	step, err := r.Render(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, fieldIDs(step))

	assert.ErrorIs(t, r.Apply("map", []any{"knee"}), ErrFieldUnavailable)
	assert.ErrorIs(t, r.Apply("missing", 1), ErrFieldNotFound)
}

func TestRender_VisualizationOverrides(t *testing.T) {
	cfg := threeStepFlow()
	cfg.Steps[0].Fields[0].VisualizationKey = "painSlider"
	visuals := NewVisualizationRegistry(map[string]VisualizationFunc{
		"painSlider": func(ctx VisualizationContext) VisualizationConfig {
			if ctx.SizeHint == "compact" {
				return VisualizationConfig{Variant: "slider", ListStyle: "inline"}
			}
			return VisualizationConfig{Variant: "slider", ListStyle: "grid", RenderOption: "faces"}
		},
	})
	c := newTestController(t, cfg)

	step, err := NewRenderer(c, WithVisualizations(visuals), WithSizeHint("compact")).Render(context.Background())
	require.NoError(t, err)
	require.NotNil(t, step.Fields[0].Visualization)
	assert.Equal(t, "inline", step.Fields[0].Visualization.ListStyle)

	step, err = NewRenderer(c, WithVisualizations(visuals)).Render(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "faces", step.Fields[0].Visualization.RenderOption)

	_, err = NewRenderer(c).Render(context.Background())
	assert.ErrorIs(t, err, ErrUnknownVisualizationKey)
}

func TestApply_RoutesThroughController(t *testing.T) {
	c := newTestController(t, threeStepFlow(),
		WithFormDataChange(SeverityLabel("intensity", "intensityLabel", nil)))
	r := NewRenderer(c)

	require.NoError(t, r.Apply("intensity", float64(8)))
	data := c.FormData()
	assert.Equal(t, 8, data["intensity"])
	assert.Equal(t, "Severe", data["intensityLabel"])

	assert.ErrorIs(t, r.Apply("intensity", 11), ErrInvalidInput)
	assert.ErrorIs(t, r.Apply("intensity", "lots"), ErrInvalidInput)
	assert.Equal(t, 8, c.FormData()["intensity"])

	step, err := r.Render(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 8, step.Fields[0].Value)
}

func TestApply_MultiSelectToggleAndReplace(t *testing.T) {
	c := newTestController(t, threeStepFlow())
	c.GoToStep(2)
	r := NewRenderer(c)

	require.NoError(t, r.Apply("selection", "a"))
	require.NoError(t, r.Apply("selection", "b"))
	assert.Equal(t, []string{"a", "b"}, c.FormData().Strings("selection"))

	require.NoError(t, r.Apply("selection", "a"))
	assert.Equal(t, []string{"b"}, c.FormData().Strings("selection"))

	require.NoError(t, r.Apply("selection", []any{"a", "a", "b"}))
	assert.Equal(t, []string{"a", "b"}, c.FormData().Strings("selection"))

	assert.ErrorIs(t, r.Apply("selection", "z"), ErrInvalidInput)

	step, err := r.Render(context.Background())
	require.NoError(t, err)
	require.Len(t, step.Content, 1)
	assert.Equal(t, "2 areas selected", step.Content[0].Text)
}

func TestApply_BodyMapDominantRegion(t *testing.T) {
	cfg := &FlowConfig{ID: "joints", Steps: []StepConfig{{ID: "where", Fields: []FieldConfig{{
		ID: "joints", Type: FieldTypeBodyMap, FieldKey: "joints", DominantKey: "worstJoint",
		Map: &MapConfig{Regions: []Region{{ID: "knee_l"}, {ID: "knee_r"}, {ID: "wrist_l"}}},
	}}}}}
	c := newTestController(t, cfg)
	r := NewRenderer(c)

	require.NoError(t, r.Apply("joints", "knee_r"))
	require.NoError(t, r.Apply("joints", "wrist_l"))
	data := c.FormData()
	assert.Equal(t, []string{"knee_r", "wrist_l"}, data.Strings("joints"))
	assert.Equal(t, "knee_r", data["worstJoint"])

	require.NoError(t, r.Apply("joints", "knee_r"))
	assert.Equal(t, "wrist_l", c.FormData()["worstJoint"])

	require.NoError(t, r.Apply("joints", nil))
	assert.Nil(t, c.FormData()["worstJoint"])
}

func TestApply_TwoAxisWritesBothSlots(t *testing.T) {
	cfg := &FlowConfig{ID: "skin", Steps: []StepConfig{{ID: "grid", Fields: []FieldConfig{{
		ID: "itchPain", Type: FieldTypeTwoAxis, FieldKey: "itch", SecondaryKey: "pain",
		Axes: &AxesConfig{
			X: Axis{Label: "Itch", Options: []Choice{{Value: "low"}, {Value: "high"}}},
			Y: Axis{Label: "Pain", Options: []Choice{{Value: "low"}, {Value: "high"}}},
		},
	}}}}}
	c := newTestController(t, cfg)
	r := NewRenderer(c)
	before := c.Snapshot().Revision

	require.NoError(t, r.Apply("itchPain", map[string]any{"x": "high", "y": "low"}))
	s := c.Snapshot()
	assert.Equal(t, "high", s.FormData["itch"])
	assert.Equal(t, "low", s.FormData["pain"])
	assert.Equal(t, before+1, s.Revision, "one gesture is one update")

	assert.ErrorIs(t, r.Apply("itchPain", map[string]any{"x": "high", "y": "extreme"}), ErrInvalidInput)
	assert.Equal(t, "low", c.FormData()["pain"])
}

func TestApply_Duration(t *testing.T) {
	cfg := &FlowConfig{ID: "d", Steps: []StepConfig{{ID: "d", Fields: []FieldConfig{{
		ID: "d", Type: FieldTypeDuration, FieldKey: "duration", Duration: &DurationConfig{MaxHours: 12, MinuteStep: 15},
	}}}}}
	c := newTestController(t, cfg)
	r := NewRenderer(c)

	require.NoError(t, r.Apply("d", map[string]any{"hours": float64(2), "minutes": float64(20)}))
	assert.Equal(t, 135, c.FormData()["duration"])

	require.NoError(t, r.Apply("d", float64(90)))
	step, err := r.Render(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"hours": 1, "minutes": 30, "total_minutes": 90}, step.Fields[0].Value)

	assert.ErrorIs(t, r.Apply("d", map[string]any{"hours": float64(13)}), ErrInvalidInput)
	assert.ErrorIs(t, r.Apply("d", map[string]any{"hours": float64(1), "minutes": float64(75)}), ErrInvalidInput)
}

func TestApply_DurationRejectsFractions(t *testing.T) {
	cfg := &FlowConfig{ID: "d", Steps: []StepConfig{{ID: "d", Fields: []FieldConfig{{
		ID: "d", Type: FieldTypeDuration, FieldKey: "duration", Duration: &DurationConfig{MaxHours: 12},
	}}}}}
	c := newTestController(t, cfg)
	r := NewRenderer(c)

	assert.ErrorIs(t, r.Apply("d", map[string]any{"hours": 1.5}), ErrInvalidInput)
	assert.ErrorIs(t, r.Apply("d", map[string]any{"hours": float64(1), "minutes": 10.5}), ErrInvalidInput)
	assert.ErrorIs(t, r.Apply("d", 90.5), ErrInvalidInput)
	assert.Nil(t, c.FormData()["duration"])

	require.NoError(t, r.Apply("d", map[string]any{"hours": float64(1)}))
	assert.Equal(t, 60, c.FormData()["duration"])
}

func TestApply_ToggleClears(t *testing.T) {
	cfg := &FlowConfig{ID: "t", Steps: []StepConfig{{ID: "t", Fields: []FieldConfig{{
		ID: "ok", Type: FieldTypeToggle, FieldKey: "ok",
	}}}}}
	c := newTestController(t, cfg)
	r := NewRenderer(c)

	require.NoError(t, r.Apply("ok", true))
	assert.Equal(t, true, c.FormData()["ok"])

	require.NoError(t, r.Apply("ok", nil))
	assert.Nil(t, c.FormData()["ok"])
	assert.ErrorIs(t, r.Apply("ok", "maybe"), ErrInvalidInput)
}

func TestRender_ErrorsAttachToFields(t *testing.T) {
	c := newTestController(t, threeStepFlow())
	c.GoToStep(2)
	c.ValidateStep()
	step, err := NewRenderer(c).Render(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Pick at least one", step.Fields[0].Error)
}

func weatherFlow() *FlowConfig {
	return &FlowConfig{ID: "w", Steps: []StepConfig{{
		ID: "w",
		Content: []ContentBlock{
			{Type: ContentTypeWeatherSummary},
			{Type: ContentTypeWeatherConfirmation},
			{Type: ContentTypeText, Text: "Weather can affect joint pain."},
		},
	}}}
}

func TestRender_WeatherSeededOnce(t *testing.T) {
	src := &countingWeather{w: Weather{TemperatureC: 18.2, Condition: "Cloudy", HumidityPct: 71, PressureHPa: 1012}}
	c := newTestController(t, weatherFlow())
	r := NewRenderer(c, WithWeather(src))

	for i := 0; i < 3; i++ {
		step, err := r.Render(context.Background())
		require.NoError(t, err)
		require.Len(t, step.Content, 3)
		assert.Equal(t, "Currently 18°C and cloudy, humidity 71%, pressure 1012 hPa.", step.Content[0].Text)
		assert.Contains(t, step.Content[1].Text, "cloudy, 18°C")
		assert.Equal(t, "Weather can affect joint pain.", step.Content[2].Text)
	}
	assert.Equal(t, 1, src.calls)
}

func TestRender_WeatherFailureLeavesSlotUnset(t *testing.T) {
	src := &countingWeather{err: errors.New("offline")}
	c := newTestController(t, weatherFlow())
	step, err := NewRenderer(c, WithWeather(src)).Render(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Checking local weather...", step.Content[0].Text)
	assert.Nil(t, c.FormData()[DefaultWeatherKey])
}

func TestRender_WeatherAlreadyPresentIsNotFetched(t *testing.T) {
	cfg := weatherFlow()
	cfg.InitialData = FormData{"weather": Weather{Condition: "Rain", TemperatureC: 9}.FormValue()}
	src := &countingWeather{}
	c := newTestController(t, cfg)
	step, err := NewRenderer(c, WithWeather(src)).Render(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, src.calls)
	assert.Contains(t, step.Content[1].Text, "rain, 9°C")
}

func TestVisible_UnknownRuleShowsField(t *testing.T) {
	f := FieldConfig{ID: "x", Visibility: &Visibility{Type: "after_hour", Hour: 3}}
	assert.True(t, Visible(f, time.Now()))
}
