package statemachine

import (
	"errors"
	"testing"
)

func TestSessionStateMachineTransitions(t *testing.T) {
	sm := NewSessionStateMachine()

	cases := []struct {
		from, to SessionStatus
		allowed  bool
	}{
		{SessionStatusInProgress, SessionStatusCompleted, true},
		{SessionStatusInProgress, SessionStatusError, true},
		{SessionStatusError, SessionStatusInProgress, true},
		{SessionStatusError, SessionStatusCompleted, false},
		{SessionStatusCompleted, SessionStatusInProgress, false},
		{SessionStatusCompleted, SessionStatusError, false},
		{SessionStatusInProgress, SessionStatusInProgress, false},
	}

	for _, c := range cases {
		if got := sm.CanTransition(c.from, c.to); got != c.allowed {
			t.Fatalf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.allowed)
		}
	}

	err := sm.Transition(SessionStatusCompleted, SessionStatusInProgress, "s1")
	var transitionErr *InvalidStateTransitionError
	if !errors.As(err, &transitionErr) {
		t.Fatalf("expected InvalidStateTransitionError, got %v", err)
	}
	if transitionErr.From != "completed" || transitionErr.To != "in_progress" {
		t.Fatalf("unexpected error fields: %+v", transitionErr)
	}
}

func TestStatusAfterStage(t *testing.T) {
	if StatusAfterStage(3, 8) != SessionStatusInProgress {
		t.Fatalf("expected in_progress before the last stage")
	}
	if StatusAfterStage(8, 8) != SessionStatusCompleted {
		t.Fatalf("expected completed after the last stage")
	}
	if !IsTerminal(SessionStatusCompleted) || IsTerminal(SessionStatusError) {
		t.Fatalf("unexpected terminal states")
	}
}
