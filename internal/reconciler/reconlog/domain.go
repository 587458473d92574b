// Package reconlog is the append-only audit trail of reconciliation attempts.
//
// Every CreateOrder attempt writes one row per step transition, tagged with
// the transaction reference and the active trace so that a stuck or failed
// attempt can be followed from the log into the distributed trace.
package reconlog

import "time"

// Status is the lifecycle state of one reconciliation attempt.
type Status string

const (
	StatusStarted      Status = "STARTED"
	StatusStepDone     Status = "STEP_DONE"
	StatusCompleted    Status = "COMPLETED"
	StatusHalted       Status = "HALTED"
	StatusCompensating Status = "COMPENSATING"
	StatusFailed       Status = "FAILED"
)

// Entry is one row of the reconciliation log.
type Entry struct {
	// AttemptID identifies a single CreateOrder call.
	AttemptID string

	// Reference is the provider transaction reference being reconciled.
	Reference string

	Status Status

	// Step is the name of the step that just ran or failed.
	Step string

	// Payload is the JSON input of the attempt, written on STARTED only.
	Payload string

	// ErrorMessages is a JSON array of failure details.
	ErrorMessages string

	TraceID string
	SpanID  string

	UpdatedAt time.Time
}
