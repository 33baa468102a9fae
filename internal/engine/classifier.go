package engine

import "github.com/rloza/tramite/pkg/schema"

// executionModes is the static classification table. It drives whether the
// state machine pauses for a person or proceeds unattended; it is never
// computed from step data.
var executionModes = map[schema.ActionType]schema.ExecutionMode{
	schema.ActionInput:       schema.ModeHuman,
	schema.ActionApproval:    schema.ModeHuman,
	schema.ActionManualTask:  schema.ModeHuman,
	schema.ActionNegotiation: schema.ModeHuman,
	schema.ActionInspection:  schema.ModeHuman,

	schema.ActionAIParse:     schema.ModeAuto,
	schema.ActionDBInsert:    schema.ModeAuto,
	schema.ActionGenerateDoc: schema.ModeAuto,
	schema.ActionSendEmail:   schema.ModeAuto,
	schema.ActionGoogleSheet: schema.ModeAuto,
	schema.ActionHTTPCall:    schema.ModeAuto,
	schema.ActionCompute:     schema.ModeAuto,
	schema.ActionCompare:     schema.ModeAuto,
	schema.ActionValidate:    schema.ModeAuto,
	schema.ActionGateway:     schema.ModeAuto,
}

// Classify maps an action kind to its execution mode. Unknown actions
// classify as HUMAN so a misconfigured step pauses for intervention instead
// of being executed blindly.
func Classify(action schema.ActionType) schema.ExecutionMode {
	if mode, ok := executionModes[action]; ok {
		return mode
	}
	return schema.ModeHuman
}

// IsAuto reports whether an action executes unattended.
func IsAuto(action schema.ActionType) bool {
	return Classify(action) == schema.ModeAuto
}
