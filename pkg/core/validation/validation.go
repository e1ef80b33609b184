// Package validation provides the per-field validation pipeline: debounced
// checks against the intake service, sequence-guarded result delivery, and
// score-to-status mapping.
package validation

import "context"

// Status is the user-facing outcome of a field validation.
type Status string

const (
	// StatusPending is emitted while a check is scheduled or in flight.
	StatusPending Status = "pending"
	// StatusValid means the value passed (score >= 80).
	StatusValid Status = "valid"
	// StatusWarning means the value is acceptable but flagged (60..79).
	StatusWarning Status = "warning"
	// StatusInvalid means the value failed (score < 60).
	StatusInvalid Status = "invalid"
)

// Result is a single validation outcome for a field.
type Result struct {
	FieldID     string   `json:"field_id"`
	Status      Status   `json:"status"`
	Score       int      `json:"score"`
	Message     string   `json:"message,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// StatusForScore maps a numeric score onto a Status band.
func StatusForScore(score int) Status {
	switch {
	case score >= 80:
		return StatusValid
	case score >= 60:
		return StatusWarning
	default:
		return StatusInvalid
	}
}

// Checker performs one remote validation call for a field value.
type Checker interface {
	ValidateField(ctx context.Context, sessionID, fieldID, value string) (Result, error)
}

// Saver persists a field value. The pipeline calls it on blur so an answer
// is never lost to a pending debounce window.
type Saver interface {
	SaveResponse(ctx context.Context, fieldID, value string) error
}
