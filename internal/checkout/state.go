package checkout

// State is where one checkout attempt is in its lifecycle.
type State string

const (
	StateIdle            State = "idle"
	StateReviewing       State = "reviewing"
	StateSubmitting      State = "submitting"
	StateAwaitingPayment State = "awaiting_payment"
	StateCommitted       State = "committed"
	StateRejected        State = "rejected"
	StateRolledBack      State = "rolled_back"
)

var transitions = map[State][]State{
	StateIdle:            {StateReviewing, StateRolledBack},
	StateReviewing:       {StateReviewing, StateSubmitting, StateRolledBack},
	StateSubmitting:      {StateAwaitingPayment, StateCommitted, StateRejected, StateRolledBack},
	StateAwaitingPayment: {StateCommitted, StateRejected, StateRolledBack},
	StateRejected:        {StateReviewing},
	StateRolledBack:      {StateReviewing},
}

func (s State) CanTransitionTo(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether nothing more can happen to the attempt.
func (s State) Terminal() bool {
	return s == StateCommitted
}
