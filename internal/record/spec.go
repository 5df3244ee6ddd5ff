package record

import (
	"errors"
	"time"
)

// Spec is a Pool's frozen task configuration (spec.md §3.2). Timeout and
// Retries are validated here but never acted on by the claim/resolve/
// reject/progress core — they exist for a sibling timeout-reclamation
// component to read (spec.md §9).
type Spec struct {
	StartState      *string
	InProgressState string
	FinishedState   *string
	ErrorState      string
	Timeout         time.Duration
	Retries         int
}

// DefaultSpec returns the spec.md §3.2 defaults.
func DefaultSpec() Spec {
	return Spec{
		InProgressState: "in_progress",
		ErrorState:      "error",
	}
}

var (
	ErrEmptyInProgressState  = errors.New("record: inProgressState must be a non-empty string")
	ErrStartEqualsInProgress = errors.New("record: startState must differ from inProgressState")
	ErrFinishedEqualsOther   = errors.New("record: finishedState must differ from inProgressState and startState")
	ErrErrorStateCollision   = errors.New("record: errorState must differ from inProgressState, startState and finishedState")
	ErrNegativeTimeout       = errors.New("record: timeout must be positive when set")
	ErrNegativeRetries       = errors.New("record: retries must be non-negative when set")
)

// Validate implements isValidSpec from spec.md §4.5.
func Validate(s Spec) error {
	if s.InProgressState == "" {
		return ErrEmptyInProgressState
	}
	if s.StartState != nil && *s.StartState == s.InProgressState {
		return ErrStartEqualsInProgress
	}
	if s.FinishedState != nil {
		if *s.FinishedState == s.InProgressState {
			return ErrFinishedEqualsOther
		}
		if s.StartState != nil && *s.FinishedState == *s.StartState {
			return ErrFinishedEqualsOther
		}
	}
	if s.ErrorState == "" {
		return ErrErrorStateCollision
	}
	if s.ErrorState == s.InProgressState {
		return ErrErrorStateCollision
	}
	if s.StartState != nil && s.ErrorState == *s.StartState {
		return ErrErrorStateCollision
	}
	if s.FinishedState != nil && s.ErrorState == *s.FinishedState {
		return ErrErrorStateCollision
	}
	if s.Timeout < 0 {
		return ErrNegativeTimeout
	}
	if s.Retries < 0 {
		return ErrNegativeRetries
	}
	return nil
}

// MatchesStart reports whether a record's current state makes it eligible
// for claim under s — nil StartState matches an absent _state field.
func (s Spec) MatchesStart(current Record) bool {
	state := current.State()
	hasState := current != nil && current[FieldState] != nil
	if s.StartState == nil {
		return !hasState
	}
	return hasState && state == *s.StartState
}

// StrPtr is a small convenience for building a *string literal inline,
// matching the optional-string fields throughout Spec.
func StrPtr(s string) *string { return &s }
