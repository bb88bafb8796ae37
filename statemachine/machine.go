// Package statemachine provides a small generic transition engine. A machine
// is built from a mapping of state to an ordered list of transitions; each
// transition names an event, a target state, and an optional condition over a
// caller-supplied decision context.
package statemachine

import (
	"errors"
	"fmt"
)

// ErrInvalidStateTransition is returned when no declared transition matches
// the current state and event.
var ErrInvalidStateTransition = errors.New("invalid state transition")

// Condition decides whether a transition applies for a given decision
// context. Conditions must be pure: same context, same answer.
type Condition[C any] func(decision C) bool

// Transition moves the machine to Target when Event occurs and Condition is
// met. A nil Condition is always met and acts as the default transition.
type Transition[S comparable, E comparable, C any] struct {
	Event     E
	Target    S
	Condition Condition[C]
}

// Machine evaluates transitions in declaration order and is immutable after
// construction, so it is safe for concurrent use.
type Machine[S comparable, E comparable, C any] struct {
	transitions map[S][]Transition[S, E, C]
}

// New builds a Machine from the given transition table. It rejects tables
// where a default (condition-less) transition for a state/event pair is not
// the last declared transition for that pair, since anything after it would
// be unreachable, and tables whose targets are not themselves declared
// states. Terminal states are declared with an empty transition list.
func New[S comparable, E comparable, C any](transitions map[S][]Transition[S, E, C]) (*Machine[S, E, C], error) {
	for state, list := range transitions {
		seenDefault := make(map[E]bool)
		for _, t := range list {
			if seenDefault[t.Event] {
				return nil, fmt.Errorf("state %v: default transition for event %v must be last", state, t.Event)
			}
			if t.Condition == nil {
				seenDefault[t.Event] = true
			}
			if _, ok := transitions[t.Target]; !ok {
				return nil, fmt.Errorf("state %v: transition target %v is not a declared state", state, t.Target)
			}
		}
	}

	copied := make(map[S][]Transition[S, E, C], len(transitions))
	for state, list := range transitions {
		copied[state] = append([]Transition[S, E, C](nil), list...)
	}

	return &Machine[S, E, C]{transitions: copied}, nil
}

// Transition computes the next state for an event carrying no decision
// context. Conditional transitions see the zero value of C.
func (m *Machine[S, E, C]) Transition(current S, event E) (S, error) {
	var decision C
	return m.TransitionWithContext(current, event, decision)
}

// TransitionWithContext computes the next state for an event, evaluating
// each matching transition's condition in declaration order and returning
// the target of the first that is met.
func (m *Machine[S, E, C]) TransitionWithContext(current S, event E, decision C) (S, error) {
	for _, t := range m.transitions[current] {
		if t.Event != event {
			continue
		}
		if t.Condition == nil || t.Condition(decision) {
			return t.Target, nil
		}
	}

	var zero S
	return zero, fmt.Errorf("%w: no transition from %v on %v", ErrInvalidStateTransition, current, event)
}
