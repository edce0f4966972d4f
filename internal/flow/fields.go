package flow

import (
	"errors"
	"fmt"
	"math"
	"slices"
)

// Field dispatch errors
var (
	ErrFieldNotFound    = errors.New("field not found on current step")
	ErrFieldUnavailable = errors.New("field is not available")
	ErrInvalidInput     = errors.New("invalid field input")
)

// FieldValue is what a field currently shows.
type FieldValue struct {
	Value     any `json:"value"`
	Secondary any `json:"secondary,omitempty"`
	Dominant  any `json:"dominant,omitempty"`
}

// accessor knows which slots a field kind reads and writes.
type accessor interface {
	read(data FormData) FieldValue
	// decode turns raw input into slot writes. current is a private copy.
	decode(input any, current FormData) (map[string]any, error)
}

// resolveAccessor dispatches on the field's type tag. It reports false when
// the field lacks the kind-specific config it needs.
func resolveAccessor(f FieldConfig) (accessor, bool) {
	switch f.Type {
	case FieldTypeScale:
		if f.Scale == nil || f.Scale.Max <= f.Scale.Min {
			return nil, false
		}
		return scaleAccessor{key: f.FieldKey, cfg: *f.Scale}, true
	case FieldTypeToggle:
		return toggleAccessor{key: f.FieldKey}, true
	case FieldTypeSingleSelect:
		if len(f.Options) == 0 {
			return nil, false
		}
		return singleSelectAccessor{key: f.FieldKey, allowed: optionValues(f.Options)}, true
	case FieldTypeMultiSelect:
		if len(f.Options) == 0 {
			return nil, false
		}
		return multiSelectAccessor{key: f.FieldKey, allowed: optionValues(f.Options)}, true
	case FieldTypeBodyMap:
		if f.Map == nil || len(f.Map.Regions) == 0 {
			return nil, false
		}
		allowed := make([]string, 0, len(f.Map.Regions))
		for _, r := range f.Map.Regions {
			allowed = append(allowed, r.ID)
		}
		return bodyMapAccessor{
			multiSelectAccessor: multiSelectAccessor{key: f.FieldKey, allowed: allowed},
			dominantKey:         f.DominantKey,
		}, true
	case FieldTypeDuration:
		if f.Duration == nil || f.Duration.MaxHours <= 0 {
			return nil, false
		}
		return durationAccessor{key: f.FieldKey, cfg: *f.Duration}, true
	case FieldTypeTwoAxis:
		if f.Axes == nil || f.SecondaryKey == "" || len(f.Axes.X.Options) == 0 || len(f.Axes.Y.Options) == 0 {
			return nil, false
		}
		return twoAxisAccessor{
			xKey: f.FieldKey, yKey: f.SecondaryKey,
			xAllowed: optionValues(f.Axes.X.Options), yAllowed: optionValues(f.Axes.Y.Options),
		}, true
	case FieldTypeText, FieldTypePhoto:
		return textAccessor{key: f.FieldKey}, true
	default:
		return nil, false
	}
}

func optionValues(opts []Choice) []string {
	out := make([]string, 0, len(opts))
	for _, o := range opts {
		out = append(out, o.Value)
	}
	return out
}

func invalid(key, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidInput, key, fmt.Sprintf(format, args...))
}

type scaleAccessor struct {
	key string
	cfg ScaleConfig
}

func (a scaleAccessor) read(data FormData) FieldValue {
	if n, ok := data.Int(a.key); ok {
		return FieldValue{Value: n}
	}
	return FieldValue{}
}

func (a scaleAccessor) decode(input any, _ FormData) (map[string]any, error) {
	if input == nil {
		return map[string]any{a.key: nil}, nil
	}
	f, ok := toFloat(input)
	if !ok {
		return nil, invalid(a.key, "expected a number, got %T", input)
	}
	n := int(math.Round(f))
	if n < a.cfg.Min || n > a.cfg.Max {
		return nil, invalid(a.key, "%d outside %d-%d", n, a.cfg.Min, a.cfg.Max)
	}
	return map[string]any{a.key: n}, nil
}

type toggleAccessor struct {
	key string
}

func (a toggleAccessor) read(data FormData) FieldValue {
	return FieldValue{Value: data.Bool(a.key)}
}

func (a toggleAccessor) decode(input any, _ FormData) (map[string]any, error) {
	if input == nil {
		return map[string]any{a.key: nil}, nil
	}
	b, ok := toBool(input)
	if !ok {
		return nil, invalid(a.key, "expected a boolean, got %T", input)
	}
	return map[string]any{a.key: b}, nil
}

type singleSelectAccessor struct {
	key     string
	allowed []string
}

func (a singleSelectAccessor) read(data FormData) FieldValue {
	if v := data.String(a.key); v != "" {
		return FieldValue{Value: v}
	}
	return FieldValue{}
}

func (a singleSelectAccessor) decode(input any, _ FormData) (map[string]any, error) {
	if input == nil {
		return map[string]any{a.key: nil}, nil
	}
	s, ok := input.(string)
	if !ok || !slices.Contains(a.allowed, s) {
		return nil, invalid(a.key, "unknown option %v", input)
	}
	return map[string]any{a.key: s}, nil
}

// multiSelectAccessor accepts either a full list (replace) or a single value
// (toggle membership, as a tap on a chip does).
type multiSelectAccessor struct {
	key     string
	allowed []string
}

func (a multiSelectAccessor) read(data FormData) FieldValue {
	return FieldValue{Value: orEmpty(data.Strings(a.key))}
}

func (a multiSelectAccessor) selection(input any, current FormData) ([]string, error) {
	switch v := input.(type) {
	case nil:
		return []string{}, nil
	case string:
		if !slices.Contains(a.allowed, v) {
			return nil, invalid(a.key, "unknown option %q", v)
		}
		sel := slices.Clone(current.Strings(a.key))
		if i := slices.Index(sel, v); i >= 0 {
			return slices.Delete(sel, i, i+1), nil
		}
		return append(sel, v), nil
	case []string, []any:
		if raw, ok := v.([]any); ok && len(toStrings(raw)) != len(raw) {
			return nil, invalid(a.key, "expected a list of strings")
		}
		sel := []string{}
		for _, item := range toStrings(v) {
			if !slices.Contains(a.allowed, item) {
				return nil, invalid(a.key, "unknown option %q", item)
			}
			if !slices.Contains(sel, item) {
				sel = append(sel, item)
			}
		}
		return sel, nil
	default:
		return nil, invalid(a.key, "expected a string or list, got %T", input)
	}
}

func (a multiSelectAccessor) decode(input any, current FormData) (map[string]any, error) {
	sel, err := a.selection(input, current)
	if err != nil {
		return nil, err
	}
	return map[string]any{a.key: sel}, nil
}

// bodyMapAccessor selects regions and, when dominantKey is set, keeps the
// dominant region in a second slot: the previous dominant while it stays
// selected, otherwise the first selected region.
type bodyMapAccessor struct {
	multiSelectAccessor
	dominantKey string
}

func (a bodyMapAccessor) read(data FormData) FieldValue {
	fv := a.multiSelectAccessor.read(data)
	if a.dominantKey != "" {
		if d := data.String(a.dominantKey); d != "" {
			fv.Dominant = d
		}
	}
	return fv
}

func (a bodyMapAccessor) decode(input any, current FormData) (map[string]any, error) {
	sel, err := a.selection(input, current)
	if err != nil {
		return nil, err
	}
	writes := map[string]any{a.key: sel}
	if a.dominantKey == "" {
		return writes, nil
	}
	prev := current.String(a.dominantKey)
	switch {
	case prev != "" && slices.Contains(sel, prev):
		writes[a.dominantKey] = prev
	case len(sel) > 0:
		writes[a.dominantKey] = sel[0]
	default:
		writes[a.dominantKey] = nil
	}
	return writes, nil
}

type durationAccessor struct {
	key string
	cfg DurationConfig
}

func (a durationAccessor) read(data FormData) FieldValue {
	total, ok := data.Int(a.key)
	if !ok {
		return FieldValue{}
	}
	return FieldValue{Value: map[string]any{"hours": total / 60, "minutes": total % 60, "total_minutes": total}}
}

// decode accepts {"hours": h, "minutes": m} or a number of minutes.
func (a durationAccessor) decode(input any, _ FormData) (map[string]any, error) {
	var hours, minutes int
	switch v := input.(type) {
	case nil:
		return map[string]any{a.key: nil}, nil
	case map[string]any:
		h, hok := toFloat(v["hours"])
		m, mok := toFloat(v["minutes"])
		if !hok && !mok {
			return nil, invalid(a.key, "expected hours and/or minutes")
		}
		if h != math.Trunc(h) || m != math.Trunc(m) {
			return nil, invalid(a.key, "hours and minutes must be whole numbers")
		}
		hours, minutes = int(h), int(m)
	default:
		total, ok := toFloat(input)
		if !ok {
			return nil, invalid(a.key, "expected minutes or {hours, minutes}, got %T", input)
		}
		if total != math.Trunc(total) {
			return nil, invalid(a.key, "minutes must be a whole number")
		}
		hours, minutes = int(total)/60, int(total)%60
	}
	if hours < 0 || minutes < 0 || minutes > 59 {
		return nil, invalid(a.key, "bad duration %dh%dm", hours, minutes)
	}
	if hours > a.cfg.MaxHours || (hours == a.cfg.MaxHours && minutes > 0) {
		return nil, invalid(a.key, "duration exceeds %d hours", a.cfg.MaxHours)
	}
	if step := a.cfg.MinuteStep; step > 1 {
		minutes -= minutes % step
	}
	return map[string]any{a.key: hours*60 + minutes}, nil
}

// twoAxisAccessor writes two independent slots from one {"x", "y"} gesture.
type twoAxisAccessor struct {
	xKey, yKey         string
	xAllowed, yAllowed []string
}

func (a twoAxisAccessor) read(data FormData) FieldValue {
	fv := FieldValue{}
	if x := data.String(a.xKey); x != "" {
		fv.Value = x
	}
	if y := data.String(a.yKey); y != "" {
		fv.Secondary = y
	}
	return fv
}

func (a twoAxisAccessor) decode(input any, _ FormData) (map[string]any, error) {
	v, ok := input.(map[string]any)
	if !ok {
		return nil, invalid(a.xKey, "expected {x, y}, got %T", input)
	}
	x, _ := v["x"].(string)
	y, _ := v["y"].(string)
	if !slices.Contains(a.xAllowed, x) {
		return nil, invalid(a.xKey, "unknown option %q", x)
	}
	if !slices.Contains(a.yAllowed, y) {
		return nil, invalid(a.yKey, "unknown option %q", y)
	}
	return map[string]any{a.xKey: x, a.yKey: y}, nil
}

// textAccessor serves free text and photo references alike.
type textAccessor struct {
	key string
}

func (a textAccessor) read(data FormData) FieldValue {
	if v := data.String(a.key); v != "" {
		return FieldValue{Value: v}
	}
	return FieldValue{}
}

func (a textAccessor) decode(input any, _ FormData) (map[string]any, error) {
	if input == nil {
		return map[string]any{a.key: nil}, nil
	}
	s, ok := input.(string)
	if !ok {
		return nil, invalid(a.key, "expected a string, got %T", input)
	}
	return map[string]any{a.key: s}, nil
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
