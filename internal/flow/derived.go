package flow

// Threshold maps scores at or above Min to Label.
type Threshold struct {
	Min   int
	Label string
}

// DefaultSeverityThresholds label a 0-10 score.
var DefaultSeverityThresholds = []Threshold{
	{Min: 0, Label: "Mild"},
	{Min: 4, Label: "Moderate"},
	{Min: 7, Label: "Severe"},
}

// LabelFor returns the label of the highest threshold score reaches.
// thresholds must be sorted by Min ascending.
func LabelFor(score int, thresholds []Threshold) string {
	label := ""
	for _, t := range thresholds {
		if score >= t.Min {
			label = t.Label
		}
	}
	return label
}

// SeverityLabel returns a transform that keeps labelKey in step with the
// numeric valueKey. When valueKey is unset the label is removed.
func SeverityLabel(valueKey, labelKey string, thresholds []Threshold) Transform {
	if thresholds == nil {
		thresholds = DefaultSeverityThresholds
	}
	return func(data FormData) FormData {
		score, ok := data.Int(valueKey)
		if !ok {
			delete(data, labelKey)
			return data
		}
		data[labelKey] = LabelFor(score, thresholds)
		return data
	}
}

// ChainTransforms applies transforms in order.
func ChainTransforms(transforms ...Transform) Transform {
	return func(data FormData) FormData {
		for _, t := range transforms {
			if t != nil {
				data = t(data)
			}
		}
		return data
	}
}
