package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Weather is a reading attached to a log.
type Weather struct {
	TemperatureC float64 `json:"temperature_c"`
	Condition    string  `json:"condition"`
	HumidityPct  float64 `json:"humidity_pct"`
	PressureHPa  float64 `json:"pressure_hpa"`
}

// FormValue converts w to the shape stored in form data.
func (w Weather) FormValue() map[string]any {
	return map[string]any{
		"temperature_c": w.TemperatureC,
		"condition":     w.Condition,
		"humidity_pct":  w.HumidityPct,
		"pressure_hpa":  w.PressureHPa,
	}
}

// weatherFromForm reads a Weather back from form data.
func weatherFromForm(v any) (Weather, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return Weather{}, false
	}
	var w Weather
	w.TemperatureC, _ = toFloat(m["temperature_c"])
	w.Condition, _ = m["condition"].(string)
	w.HumidityPct, _ = toFloat(m["humidity_pct"])
	w.PressureHPa, _ = toFloat(m["pressure_hpa"])
	return w, true
}

// WeatherSource supplies the current weather for lazy seeding.
type WeatherSource interface {
	Current(ctx context.Context) (Weather, error)
}

// DefaultWeatherKey is the slot weather blocks use when SourceKey is empty.
const DefaultWeatherKey = "weather"

// RenderedContent is the text of one projected content block.
type RenderedContent struct {
	Type ContentType `json:"type"`
	Text string      `json:"text"`
}

func weatherKey(b ContentBlock) string {
	if b.SourceKey != "" {
		return b.SourceKey
	}
	return DefaultWeatherKey
}

// seedWeather fills the weather slot the first time a weather block renders.
// The fetch is skipped once the slot is set or was already seeded.
func (r *Renderer) seedWeather(ctx context.Context, b ContentBlock) {
	if r.weather == nil {
		return
	}
	key := weatherKey(b)
	if !r.ctrl.NeedsSeed(key) {
		return
	}
	w, err := r.weather.Current(ctx)
	if err != nil {
		slog.Warn("Renderer weather fetch failed", "flowID", r.ctrl.Config().ID, "error", err)
		return
	}
	r.ctrl.SeedIfUnset(key, w.FormValue())
}

// projectContent computes a block's text from form data. It never writes.
func projectContent(b ContentBlock, data FormData) RenderedContent {
	out := RenderedContent{Type: b.Type}
	switch b.Type {
	case ContentTypeWeatherSummary:
		w, ok := weatherFromForm(data[weatherKey(b)])
		if !ok {
			out.Text = "Checking local weather..."
			break
		}
		out.Text = fmt.Sprintf("Currently %.0f°C and %s, humidity %.0f%%, pressure %.0f hPa.",
			w.TemperatureC, strings.ToLower(w.Condition), w.HumidityPct, w.PressureHPa)
	case ContentTypeWeatherConfirmation:
		w, ok := weatherFromForm(data[weatherKey(b)])
		if !ok {
			out.Text = "Weather will be attached once it is available."
			break
		}
		out.Text = fmt.Sprintf("Today's weather (%s, %.0f°C) will be saved with this log.", strings.ToLower(w.Condition), w.TemperatureC)
	case ContentTypeSelectionCount:
		noun := b.Text
		if noun == "" {
			noun = "item"
		}
		n := len(data.Strings(b.SourceKey))
		switch n {
		case 0:
			out.Text = fmt.Sprintf("No %ss selected", noun)
		case 1:
			out.Text = fmt.Sprintf("1 %s selected", noun)
		default:
			out.Text = fmt.Sprintf("%d %ss selected", n, noun)
		}
	case ContentTypeText:
		out.Text = b.Text
	}
	return out
}
