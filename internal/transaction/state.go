package transaction

// State is the lifecycle position of a transaction
type State string

const (
	StateIdle              State = "idle"
	StateLockPending       State = "lock_pending"
	StateLocked            State = "locked"
	StatePlanning          State = "planning"
	StateApplying          State = "applying"
	StateCommitting        State = "committing"
	StateCommitted         State = "committed"
	StatePartialIncomplete State = "partial_incomplete"
	StateRolledBack        State = "rolled_back"
)

// Terminal reports whether no further transition is possible
func (s State) Terminal() bool {
	switch s {
	case StateCommitted, StatePartialIncomplete, StateRolledBack:
		return true
	}
	return false
}

// Outcome is what happened to one planned action
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
	OutcomeUnapplied Outcome = "unapplied"
)
