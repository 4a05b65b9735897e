package txn

// State is the lifecycle state of a transaction.
type State string

const (
	StatePending     State = "pending"
	StateCommitted   State = "committed"
	StateRollingBack State = "rolling_back"
	StateFailed      State = "failed"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCommitted || s == StateFailed
}

// CanTransition reports whether s -> to is a legal transition.
func (s State) CanTransition(to State) bool {
	switch s {
	case StatePending:
		return to == StateCommitted || to == StateRollingBack
	case StateRollingBack:
		return to == StateFailed
	default:
		return false
	}
}

func (s State) String() string {
	return string(s)
}
