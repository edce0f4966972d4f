package symptoms

import (
	"github.com/BTreeMap/SymptomPipe/internal/flow"
	"github.com/BTreeMap/SymptomPipe/internal/models"
)

// Validation keys referenced by the embedded flows.
const (
	ValidateJointLocation       = "joint_location"
	ValidateSeverityRequired    = "severity_required"
	ValidateCongestionSymptoms  = "congestion_symptoms"
	ValidateGISymptoms          = "gi_symptoms"
	ValidateGILocation          = "gi_location"
	ValidateMigraineAttack      = "migraine_attack"
	ValidateMigraineLocation    = "migraine_location"
	ValidateRespiratorySymptoms = "respiratory_symptoms"
	ValidateSkinLocation        = "skin_location"
	ValidateSkinSymptoms        = "skin_symptoms"
)

var severityRange = flow.RequireRange(models.DataKeySeverity, 0, 10, "Rate the severity from 0 to 10")

// Validations builds the registry of step validators.
func Validations() *flow.ValidationRegistry {
	return flow.NewValidationRegistry(map[string]flow.ValidatorFunc{
		ValidateJointLocation:      flow.RequireSelection("joints", 1, "Select at least one joint"),
		ValidateSeverityRequired:   severityRange,
		ValidateCongestionSymptoms: flow.RequireSelection("congestionSymptoms", 1, "Pick at least one symptom"),
		ValidateGISymptoms:         flow.RequireSelection("giSymptoms", 1, "Pick at least one symptom"),
		ValidateGILocation:         flow.RequireSelection("abdomenRegions", 1, "Mark where it hurts"),
		ValidateMigraineAttack: flow.All(
			severityRange,
			flow.RequireRange("attackMinutes", 1, 72*60, "Enter how long the attack has lasted"),
		),
		ValidateMigraineLocation:    flow.RequireSelection("headRegions", 1, "Mark where the pain is"),
		ValidateRespiratorySymptoms: flow.RequireSelection("respiratorySymptoms", 1, "Pick at least one symptom"),
		ValidateSkinLocation:        flow.RequireSelection("skinRegions", 1, "Mark where the flare is"),
		ValidateSkinSymptoms: flow.All(
			flow.RequireSelection("skinSymptoms", 1, "Pick at least one symptom"),
			severityRange,
		),
	})
}
