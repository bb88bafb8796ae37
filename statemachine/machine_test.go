package statemachine

import (
	"errors"
	"testing"
)

type testState string

type testEvent string

const (
	state1 testState = "STATE_1"
	state2 testState = "STATE_2"
	state3 testState = "STATE_3"
	state4 testState = "STATE_4"
	state5 testState = "STATE_5"

	moveTo2         testEvent = "MOVE_TO_2"
	moveTo3         testEvent = "MOVE_TO_3"
	conditionalMove testEvent = "CONDITIONAL_MOVE"
)

func newTestMachine(t *testing.T) *Machine[testState, testEvent, bool] {
	t.Helper()

	m, err := New(map[testState][]Transition[testState, testEvent, bool]{
		state1: {
			{Event: moveTo2, Target: state2},
		},
		state2: {
			{Event: moveTo3, Target: state3},
		},
		state3: {
			{Event: conditionalMove, Target: state4, Condition: func(d bool) bool { return d }},
			{Event: conditionalMove, Target: state5},
		},
		// terminal states
		state4: {},
		state5: {},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return m
}

func TestSimpleTransition(t *testing.T) {
	m := newTestMachine(t)

	next, err := m.Transition(state1, moveTo2)
	if err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	if next != state2 {
		t.Fatalf("expected %v, got %v", state2, next)
	}

	next, err = m.Transition(state2, moveTo3)
	if err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	if next != state3 {
		t.Fatalf("expected %v, got %v", state3, next)
	}
}

func TestConditionalTransition(t *testing.T) {
	m := newTestMachine(t)

	next, err := m.TransitionWithContext(state3, conditionalMove, true)
	if err != nil {
		t.Fatalf("TransitionWithContext failed: %v", err)
	}
	if next != state4 {
		t.Fatalf("expected %v, got %v", state4, next)
	}
}

func TestDefaultTransitionWhenNoConditionMatches(t *testing.T) {
	m := newTestMachine(t)

	next, err := m.TransitionWithContext(state3, conditionalMove, false)
	if err != nil {
		t.Fatalf("TransitionWithContext failed: %v", err)
	}
	if next != state5 {
		t.Fatalf("expected %v, got %v", state5, next)
	}
}

func TestMissingTransition(t *testing.T) {
	m := newTestMachine(t)

	if _, err := m.Transition(state1, moveTo3); !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("expected ErrInvalidStateTransition, got %v", err)
	}
}

func TestTransitionIsDeterministic(t *testing.T) {
	m := newTestMachine(t)

	for i := 0; i < 100; i++ {
		next, err := m.TransitionWithContext(state3, conditionalMove, i%2 == 0)
		if err != nil {
			t.Fatalf("TransitionWithContext failed: %v", err)
		}
		want := state5
		if i%2 == 0 {
			want = state4
		}
		if next != want {
			t.Fatalf("iteration %d: expected %v, got %v", i, want, next)
		}
	}
}

func TestRejectsUnreachableTransitionAfterDefault(t *testing.T) {
	_, err := New(map[testState][]Transition[testState, testEvent, bool]{
		state1: {
			{Event: moveTo2, Target: state2},
			{Event: moveTo2, Target: state3, Condition: func(d bool) bool { return d }},
		},
		state2: {},
		state3: {},
	})
	if err == nil {
		t.Fatal("expected construction error for transition declared after default")
	}
}

func TestRejectsUndeclaredTargetState(t *testing.T) {
	_, err := New(map[testState][]Transition[testState, testEvent, bool]{
		state1: {
			{Event: moveTo2, Target: state2},
		},
	})
	if err == nil {
		t.Fatal("expected construction error for target that is not a declared state")
	}
}
