package workflow

// Machine is an immutable transition table for one entity kind.
// S is the status type, E the event type and T the subject that guards and actions receive.
type Machine[S ~string, E ~string, T any] interface {
	// Fire resolves the transition for event from state, runs its actions against subject
	// and returns the target state. The subject is left untouched on error.
	Fire(from S, event E, subject T) (S, error)

	// CanFire reports whether Fire would succeed for the given subject
	CanFire(from S, event E, subject T) bool

	// PermittedEvents returns the events configured for a state, ignoring guards
	PermittedEvents(from S) []E

	// IsTerminal reports whether a state has no outgoing transitions
	IsTerminal(state S) bool
}
