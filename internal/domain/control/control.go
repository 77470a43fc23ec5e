// Package control defines the control plane value types and validation rules.
package control

import (
	"time"

	"github.com/example/minder/internal/platform/errors"
)

// Mode selects which decision-logic variant upstream components should run.
type Mode string

const (
	// ModeDeterministic always uses the primary algorithm.
	ModeDeterministic Mode = "deterministic"
	// ModeShadow runs the candidate in parallel for audit without acting on it.
	ModeShadow Mode = "shadow"
	// ModeBounded lets the candidate act within defined limits.
	ModeBounded Mode = "bounded"
)

// RunStatus is the lifecycle state of an experiment run.
type RunStatus string

const (
	RunStatusProposed   RunStatus = "proposed"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusApplied    RunStatus = "applied"
	RunStatusRolledBack RunStatus = "rolled_back"
	RunStatusNoOp       RunStatus = "no_op"
)

// DecisionAction is the decision taken on a completed experiment run.
type DecisionAction string

const (
	ActionApply    DecisionAction = "apply"
	ActionRollback DecisionAction = "rollback"
	ActionNoOp     DecisionAction = "no_op"
)

// State is one version of the control configuration. Versions are monotonic
// and never reused; rollback activates prior values as a new version.
type State struct {
	Version         uint64
	Mode            Mode
	Threshold       float64
	Actor           string
	Rationale       string
	ActivatedAt     time.Time
	PreviousVersion uint64
	RunID           string
}

// Run is a proposed alternate configuration plus its evaluation outcome.
type Run struct {
	RunID              string
	ProposedAt         time.Time
	Actor              string
	Rationale          string
	CandidateMode      Mode
	CandidateThreshold float64
	Status             RunStatus
	Metrics            map[string]float64
	DecidedAt          time.Time
}

// IsValid reports whether the mode is a recognized enum value.
func (m Mode) IsValid() bool {
	switch m {
	case ModeDeterministic, ModeShadow, ModeBounded:
		return true
	}
	return false
}

// IsValid reports whether the action is a recognized decision.
func (a DecisionAction) IsValid() bool {
	switch a {
	case ActionApply, ActionRollback, ActionNoOp:
		return true
	}
	return false
}

// ValidateConfig checks a mode and confidence threshold pair.
func ValidateConfig(mode Mode, threshold float64) error {
	if !mode.IsValid() {
		return errors.WithMetadata(errors.CodeValidation, "unrecognized control mode", map[string]string{
			"mode": string(mode),
		})
	}
	if threshold < 0 || threshold > 1 {
		return errors.New(errors.CodeValidation, "threshold must be between 0 and 1")
	}
	return nil
}
