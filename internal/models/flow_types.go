// Package models defines flow type definitions to avoid circular imports.
package models

// FlowID identifies one symptom-logging flow.
type FlowID string

// Flow ID constants.
const (
	FlowJointPain   FlowID = "joint_pain"
	FlowCongestion  FlowID = "congestion"
	FlowGIDistress  FlowID = "gi_distress"
	FlowMigraine    FlowID = "migraine"
	FlowRespiratory FlowID = "respiratory"
	FlowSkin        FlowID = "skin"
)

// AllFlowIDs lists the built-in flows in display order.
var AllFlowIDs = []FlowID{
	FlowJointPain,
	FlowCongestion,
	FlowGIDistress,
	FlowMigraine,
	FlowRespiratory,
	FlowSkin,
}

// Form data keys shared by every flow. Flow-specific keys live in the flow definitions.
const (
	DataKeySeverity      = "severity"      // 0-10 overall severity score
	DataKeySeverityLabel = "severityLabel" // derived from DataKeySeverity
	DataKeyWeather       = "weather"       // lazily seeded weather reading
	DataKeyNotes         = "notes"         // free-text notes
)

// IsValidFlowID checks if the given flow ID is one of the built-in flows.
func IsValidFlowID(id FlowID) bool {
	for _, known := range AllFlowIDs {
		if known == id {
			return true
		}
	}
	return false
}
