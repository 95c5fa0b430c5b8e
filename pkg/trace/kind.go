package trace

// Kind is the closed set of events a run can record.
type Kind string

const (
	KindModelStarted          Kind = "model_invocation_started"
	KindModelFinished         Kind = "model_invocation_finished"
	KindToolStarted           Kind = "tool_invocation_started"
	KindToolFinished          Kind = "tool_invocation_finished"
	KindOrchestrationStarted  Kind = "orchestration_started"
	KindOrchestrationFinished Kind = "orchestration_finished"
	KindDecisionMade          Kind = "decision_made"
	KindRunFinished           Kind = "run_finished"
)

// Kinds returns every event kind in lifecycle order.
func Kinds() []Kind {
	return []Kind{
		KindOrchestrationStarted,
		KindModelStarted,
		KindModelFinished,
		KindDecisionMade,
		KindToolStarted,
		KindToolFinished,
		KindOrchestrationFinished,
		KindRunFinished,
	}
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindModelStarted, KindModelFinished,
		KindToolStarted, KindToolFinished,
		KindOrchestrationStarted, KindOrchestrationFinished,
		KindDecisionMade, KindRunFinished:
		return true
	}
	return false
}

func (k Kind) String() string { return string(k) }
