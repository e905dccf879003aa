package document

// State is the fine-grained position of a document in the issuance state machine.
type State string

const (
	StateDraft             State = "draft"
	StateBuilt             State = "built"
	StateSigned            State = "signed"
	StateValidationPending State = "validation_pending"
	StateAuthorized        State = "authorized"
	StateNotified          State = "notified"
	StateFailed            State = "failed"
	StateVoided            State = "voided"
)

// Status is the lifecycle status exposed to callers.
type Status string

const (
	StatusDraft                Status = "draft"
	StatusPendingAuthorization Status = "pending_authorization"
	StatusAuthorized           Status = "authorized"
	StatusNotified             Status = "notified"
	StatusFailed               Status = "failed"
	StatusVoided               Status = "voided"
)

// Stage names the workflow step an error happened in.
type Stage string

const (
	StageBuild     Stage = "build"
	StageSign      Stage = "sign"
	StageValidate  Stage = "validate"
	StageAuthorize Stage = "authorize"
	StageNotify    Stage = "notify"
)

// Status maps a state to its lifecycle status.
func (s State) Status() Status {
	switch s {
	case StateDraft:
		return StatusDraft
	case StateBuilt, StateSigned, StateValidationPending:
		return StatusPendingAuthorization
	case StateAuthorized:
		return StatusAuthorized
	case StateNotified:
		return StatusNotified
	case StateFailed:
		return StatusFailed
	case StateVoided:
		return StatusVoided
	default:
		return Status(s)
	}
}

// Terminal reports whether the workflow has nothing left to do automatically.
func (s State) Terminal() bool {
	return s == StateNotified || s == StateFailed || s == StateVoided
}

// CanVoid reports whether a document in state s may be voided.
// Authorized documents are corrected with a credit note instead.
func (s State) CanVoid() bool {
	return s == StateDraft || s == StateFailed
}

// CanCredit reports whether a sale in state s may be annulled by a credit note.
func (s State) CanCredit() bool {
	return s == StateAuthorized || s == StateNotified
}

// EntryState returns the state a failed document re-enters when retried from stage.
func (st Stage) EntryState() (State, bool) {
	switch st {
	case StageBuild:
		return StateDraft, true
	case StageSign:
		return StateBuilt, true
	case StageValidate:
		return StateSigned, true
	case StageAuthorize:
		return StateValidationPending, true
	default:
		return "", false
	}
}

var transitions = map[State][]State{
	StateDraft:             {StateBuilt, StateFailed, StateVoided},
	StateBuilt:             {StateSigned, StateFailed},
	StateSigned:            {StateValidationPending, StateFailed},
	StateValidationPending: {StateAuthorized, StateFailed},
	StateAuthorized:        {StateNotified},
	StateFailed:            {StateDraft, StateBuilt, StateSigned, StateValidationPending, StateVoided},
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
