package workflow

import (
	"fmt"
	"sort"
)

// GuardFunc evaluates whether a transition is allowed for the subject
type GuardFunc[T any] func(subject T) bool

// ActionFunc mutates the subject once a transition has been selected
type ActionFunc[T any] func(subject T)

// transition represents a state transition with optional guard and actions
type transition[S ~string, T any] struct {
	toState S
	guard   GuardFunc[T]
	actions []ActionFunc[T]
}

// StateConfiguration configures transitions for a specific state
type StateConfiguration[S ~string, E ~string, T any] struct {
	builder     *Builder[S, E, T]
	fromState   S
	transitions map[E][]transition[S, T]
}

// Builder builds a transition table
type Builder[S ~string, E ~string, T any] struct {
	valid          map[S]bool
	configurations map[S]*StateConfiguration[S, E, T]
}

// NewBuilder creates a new builder. When states are given, Configure and Permit
// panic on any state outside that set.
func NewBuilder[S ~string, E ~string, T any](states ...S) *Builder[S, E, T] {
	b := &Builder[S, E, T]{
		configurations: make(map[S]*StateConfiguration[S, E, T]),
	}
	if len(states) > 0 {
		b.valid = make(map[S]bool, len(states))
		for _, s := range states {
			b.valid[s] = true
		}
	}
	return b
}

func (b *Builder[S, E, T]) isValid(state S) bool {
	if state == "" {
		return false
	}
	return b.valid == nil || b.valid[state]
}

// Configure returns a state configuration for the given state
func (b *Builder[S, E, T]) Configure(state S) *StateConfiguration[S, E, T] {
	if !b.isValid(state) {
		panic(fmt.Sprintf("invalid state: %s", state))
	}

	config, exists := b.configurations[state]
	if !exists {
		config = &StateConfiguration[S, E, T]{
			builder:     b,
			fromState:   state,
			transitions: make(map[E][]transition[S, T]),
		}
		b.configurations[state] = config
	}

	return config
}

// Permit allows an event to move to the target state, running actions on the subject
func (c *StateConfiguration[S, E, T]) Permit(event E, toState S, actions ...ActionFunc[T]) *StateConfiguration[S, E, T] {
	return c.PermitIf(event, toState, nil, actions...)
}

// PermitIf allows an event to move to the target state if the guard passes
func (c *StateConfiguration[S, E, T]) PermitIf(event E, toState S, guard GuardFunc[T], actions ...ActionFunc[T]) *StateConfiguration[S, E, T] {
	if !c.builder.isValid(toState) {
		panic(fmt.Sprintf("invalid target state: %s", toState))
	}

	c.transitions[event] = append(c.transitions[event], transition[S, T]{
		toState: toState,
		guard:   guard,
		actions: actions,
	})

	return c
}

// Build returns an immutable machine holding a copy of the configured transitions
func (b *Builder[S, E, T]) Build() Machine[S, E, T] {
	table := make(map[S]map[E][]transition[S, T], len(b.configurations))
	for state, config := range b.configurations {
		events := make(map[E][]transition[S, T], len(config.transitions))
		for event, transitions := range config.transitions {
			events[event] = append([]transition[S, T]{}, transitions...)
		}
		table[state] = events
	}

	return &machine[S, E, T]{table: table}
}

// machine implements Machine
type machine[S ~string, E ~string, T any] struct {
	table map[S]map[E][]transition[S, T]
}

// Fire resolves and applies a transition
func (m *machine[S, E, T]) Fire(from S, event E, subject T) (S, error) {
	t, err := m.resolve(from, event, subject)
	if err != nil {
		return from, err
	}

	for _, action := range t.actions {
		action(subject)
	}

	return t.toState, nil
}

// CanFire returns true if a transition exists and its guard passes
func (m *machine[S, E, T]) CanFire(from S, event E, subject T) bool {
	_, err := m.resolve(from, event, subject)
	return err == nil
}

func (m *machine[S, E, T]) resolve(from S, event E, subject T) (transition[S, T], error) {
	transitions := m.table[from][event]
	if len(transitions) == 0 {
		return transition[S, T]{}, fmt.Errorf("%w: cannot fire %s from state %s", ErrInvalidTransition, event, from)
	}

	// First passing guard wins
	for _, t := range transitions {
		if t.guard == nil || t.guard(subject) {
			return t, nil
		}
	}

	return transition[S, T]{}, fmt.Errorf("%w: %s from state %s", ErrGuardFailed, event, from)
}

// PermittedEvents returns all events configured for the state, sorted
func (m *machine[S, E, T]) PermittedEvents(from S) []E {
	events := make([]E, 0, len(m.table[from]))
	for event := range m.table[from] {
		events = append(events, event)
	}
	sort.Slice(events, func(i, j int) bool { return events[i] < events[j] })
	return events
}

// IsTerminal reports whether no event is configured for the state
func (m *machine[S, E, T]) IsTerminal(state S) bool {
	return len(m.table[state]) == 0
}
