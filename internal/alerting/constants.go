// Package alerting turns position reports into deduplicated zone alert
// activities. An Engine owns one rule cache and the goroutines that keep it
// in sync with the rule store and the position feed.
package alerting

import "time"

// EvaluationType selects how a report is compared against a zone.
type EvaluationType string

// Evaluation types. Only in and out raise alarms; the others are accepted
// and stored so rules can be created ahead of support.
const (
	EvaluationIn      EvaluationType = "in"
	EvaluationOut     EvaluationType = "out"
	EvaluationNear    EvaluationType = "near"
	EvaluationGreater EvaluationType = "greater"
	EvaluationLess    EvaluationType = "less"
)

// Implemented reports whether the evaluator can raise alarms for t.
func (t EvaluationType) Implemented() bool {
	return t == EvaluationIn || t == EvaluationOut
}

// Known reports whether t is one of the recognized evaluation types.
func (t EvaluationType) Known() bool {
	switch t {
	case EvaluationIn, EvaluationOut, EvaluationNear, EvaluationGreater, EvaluationLess:
		return true
	default:
		return false
	}
}

// Activity classification codes.
const (
	CodeZoneEnter = 24
	CodeZoneExit  = 25
)

// DedupWindow is how long after an activity further alarms for the same
// origin and classification are suppressed.
const DedupWindow = time.Hour

const component = "alerting"
