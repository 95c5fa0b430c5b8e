package trace

// Typed payloads emitted by the planning loop. The collector reduces each one
// to a Map with fixed keys so tool name, input and output survive
// serialization unchanged.

// Orchestration describes the start or end of a run.
type Orchestration struct {
	RunID string
	Query string
	Model string
	State string
	Error string
}

// ModelCall is sent when a request is handed to the language model.
type ModelCall struct {
	Model     string
	Iteration int
	Messages  any
}

// ModelReply is sent when the language model answers.
type ModelReply struct {
	Model        string
	Iteration    int
	Text         string
	ToolCalls    int
	StopReason   string
	InputTokens  int64
	OutputTokens int64
	Error        string
}

// Decision is the action selected after a model reply.
type Decision struct {
	Action string
	Tool   string
	Input  string
	Log    string
}

const (
	ActionToolCall    = "tool_call"
	ActionFinalAnswer = "final_answer"
	ActionFinalize    = "finalize"
)

// ToolCall is the start of a tool invocation.
type ToolCall struct {
	ID    string
	Tool  string
	Input string
}

// ToolResult is the textual observation a tool returned.
type ToolResult struct {
	ID      string
	Tool    string
	Output  string
	IsError bool
}

// Outcome closes a run.
type Outcome struct {
	Response string
	State    string
	Error    string
}

func (x Orchestration) toValue() Value {
	m := Map{
		"run_id": String(x.RunID),
		"query":  String(x.Query),
	}
	putText(m, "model", x.Model)
	putText(m, "state", x.State)
	putText(m, "error", x.Error)
	return m
}

func (x ModelCall) toValue() Value {
	return Map{
		"model":     String(x.Model),
		"iteration": Int(x.Iteration),
		"messages":  Normalize(x.Messages),
	}
}

func (x ModelReply) toValue() Value {
	m := Map{
		"model":         String(x.Model),
		"iteration":     Int(x.Iteration),
		"text":          String(x.Text),
		"tool_calls":    Int(x.ToolCalls),
		"input_tokens":  Int(x.InputTokens),
		"output_tokens": Int(x.OutputTokens),
	}
	putText(m, "stop_reason", x.StopReason)
	putText(m, "error", x.Error)
	return m
}

func (x Decision) toValue() Value {
	m := Map{"action": String(x.Action)}
	putText(m, "tool", x.Tool)
	putText(m, "input", x.Input)
	putText(m, "log", x.Log)
	return m
}

func (x ToolCall) toValue() Value {
	return Map{
		"id":    String(x.ID),
		"tool":  String(x.Tool),
		"input": String(x.Input),
	}
}

func (x ToolResult) toValue() Value {
	return Map{
		"id":       String(x.ID),
		"tool":     String(x.Tool),
		"output":   String(x.Output),
		"is_error": Bool(x.IsError),
	}
}

func (x Outcome) toValue() Value {
	m := Map{
		"response": String(x.Response),
		"state":    String(x.State),
	}
	putText(m, "error", x.Error)
	return m
}

func putText(m Map, key, s string) {
	if s != "" {
		m[key] = String(s)
	}
}
