package domain

// CallbackStatus is the lifecycle state of one gateway return, keyed by
// transaction reference. Records are created at the start of callback
// handling and never deleted; a terminal record is what makes reloading
// the return URL safe.
type CallbackStatus string

const (
	// CallbackStatusUnseen is the zero state: no record exists yet.
	CallbackStatusUnseen     CallbackStatus = ""
	CallbackStatusProcessing CallbackStatus = "PROCESSING"
	CallbackStatusCompleted  CallbackStatus = "COMPLETED"
	CallbackStatusFailed     CallbackStatus = "FAILED"
	CallbackStatusError      CallbackStatus = "ERROR"
)

func (s CallbackStatus) IsTerminal() bool {
	return s == CallbackStatusCompleted || s == CallbackStatusFailed || s == CallbackStatusError
}

// String representation (for logging)
func (s CallbackStatus) String() string {
	if s == CallbackStatusUnseen {
		return "UNSEEN"
	}
	return string(s)
}

// CanTransitionTo reports whether the state machine allows moving from
// one callback status to another. Terminal states have no outgoing edges.
func CanTransitionTo(from, to CallbackStatus) bool {
	switch from {
	case CallbackStatusUnseen:
		return to == CallbackStatusProcessing
	case CallbackStatusProcessing:
		return to.IsTerminal()
	}
	return false
}
