package record

// Claim returns the TransactionBody that transitions a task from
// spec.StartState to spec.InProgressState and assigns it owner
// ownerToken, per spec.md §4.1.
func Claim(spec Spec, ownerToken string) TransactionBody {
	return func(current any) Outcome {
		if current == nil {
			return abort()
		}
		m, ok := IsMapping(current)
		if !ok {
			return replace(Record{
				FieldState:        spec.ErrorState,
				FieldStateChanged: Sentinel,
				FieldErrorDetails: map[string]any{
					fieldError:        "Task was malformed",
					fieldOriginalTask: current,
				},
			})
		}
		if !spec.MatchesStart(m) {
			return abort()
		}
		return replace(merge(m, Record{
			FieldState:        spec.InProgressState,
			FieldStateChanged: Sentinel,
			FieldOwner:        ownerToken,
			FieldProgress:     0,
		}))
	}
}

// ownedAndInProgress is the owner+state precondition shared by Resolve,
// Reject and SetProgress (spec.md §3.4 invariant 2 and 3). A current
// value that isn't even a mapping fails the precondition the same as an
// absent one.
func ownedAndInProgress(spec Spec, ownerToken string, current any) (Record, bool) {
	if current == nil {
		return nil, false
	}
	m, ok := IsMapping(current)
	if !ok {
		return nil, false
	}
	return m, m.Owner() == ownerToken && m.State() == spec.InProgressState
}

// newStateDecision captures what Resolve's optional _new_state field
// selects: remove the record, or replace into a named (or default)
// target state.
type newStateDecision struct {
	remove bool
	target string
}

func decideNewState(spec Spec, nt Record) newStateDecision {
	raw, present := nt[fieldNewState]
	if !present {
		if spec.FinishedState == nil {
			return newStateDecision{remove: true}
		}
		return newStateDecision{target: *spec.FinishedState}
	}
	switch v := raw.(type) {
	case bool:
		if !v {
			return newStateDecision{remove: true}
		}
		// _new_state: true has no defined meaning; fall through to default.
		if spec.FinishedState == nil {
			return newStateDecision{remove: true}
		}
		return newStateDecision{target: *spec.FinishedState}
	case nil:
		// _new_state explicitly null selects removal directly, regardless
		// of FinishedState — distinct from _new_state being absent.
		return newStateDecision{remove: true}
	case string:
		return newStateDecision{target: v}
	default:
		if spec.FinishedState == nil {
			return newStateDecision{remove: true}
		}
		return newStateDecision{target: *spec.FinishedState}
	}
}

// Resolve returns the TransactionBody that finalizes a claimed task
// successfully, per spec.md §4.1.
func Resolve(spec Spec, newTask Record, ownerToken string) TransactionBody {
	return func(current any) Outcome {
		if _, ok := ownedAndInProgress(spec, ownerToken, current); !ok {
			return abort()
		}
		nt, ok := IsMapping(newTask)
		if !ok {
			nt = Record{}
		}

		decision := decideNewState(spec, nt)
		if decision.remove {
			return remove()
		}

		clean := nt.Clone()
		delete(clean, fieldNewState)

		return replace(merge(clean, Record{
			FieldState:        decision.target,
			FieldStateChanged: Sentinel,
			FieldOwner:        nil,
			FieldProgress:     100,
			FieldErrorDetails: nil,
		}))
	}
}

// Reject returns the TransactionBody that finalizes a claimed task as
// failed, per spec.md §4.1. errorStack may be nil.
func Reject(spec Spec, errorString, errorStack any, ownerToken string) TransactionBody {
	return func(current any) Outcome {
		m, ok := ownedAndInProgress(spec, ownerToken, current)
		if !ok {
			return abort()
		}
		details := map[string]any{fieldError: errorString}
		if errorStack != nil {
			details[fieldErrorStack] = errorStack
		}
		return replace(merge(m, Record{
			FieldState:        spec.ErrorState,
			FieldStateChanged: Sentinel,
			FieldOwner:        nil,
			FieldErrorDetails: details,
		}))
	}
}

// SetProgress returns the TransactionBody that updates _progress on a
// claimed, in-progress task. progress must already be validated to
// 0..100 by the caller (spec.md §4.1) — this function trusts its input.
func SetProgress(spec Spec, progress int, ownerToken string) TransactionBody {
	return func(current any) Outcome {
		m, ok := ownedAndInProgress(spec, ownerToken, current)
		if !ok {
			return abort()
		}
		return replace(merge(m, Record{
			FieldProgress: progress,
		}))
	}
}
