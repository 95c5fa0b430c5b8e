package agent

import (
	"context"
	"sync"

	"github.com/m-mizutani/lakeagent/pkg/trace"
)

// State is the position of a run in its lifecycle.
type State string

const (
	StateIdle         State = "idle"
	StatePlanning     State = "planning"
	StateToolInvoking State = "tool_invoking"
	StateResponding   State = "responding"
	StateDone         State = "done"
	StateFailed       State = "failed"
)

func (s State) String() string { return string(s) }

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// stateTracker follows the planning loop's callbacks and moves the run
// between Planning, ToolInvoking and Responding.
type stateTracker struct {
	trace.Nop
	mu      sync.Mutex
	current State
	history []State
}

func newStateTracker() *stateTracker {
	return &stateTracker{current: StateIdle, history: []State{StateIdle}}
}

func (s *stateTracker) set(next State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == next || s.current.Terminal() {
		return
	}
	s.current = next
	s.history = append(s.history, next)
}

func (s *stateTracker) get() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *stateTracker) path() []State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]State(nil), s.history...)
}

func (s *stateTracker) OrchestrationStarted(context.Context, any) { s.set(StatePlanning) }
func (s *stateTracker) ToolStarted(context.Context, any)          { s.set(StateToolInvoking) }
func (s *stateTracker) ToolFinished(context.Context, any)         { s.set(StatePlanning) }

func (s *stateTracker) DecisionMade(_ context.Context, payload any) {
	d, ok := payload.(trace.Decision)
	if !ok {
		return
	}
	switch d.Action {
	case trace.ActionFinalAnswer, trace.ActionFinalize:
		s.set(StateResponding)
	}
}
