// Package llm hides the language model provider behind a small chat API and
// runs the tool-calling loop on top of it.
package llm

import (
	"context"
	"encoding/json"

	"github.com/m-mizutani/lakeagent/pkg/tool"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// InputText returns the single string argument if there is exactly one,
// otherwise the arguments as JSON.
func (c ToolCall) InputText() string {
	if len(c.Args) == 1 {
		for _, v := range c.Args {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	b, err := json.Marshal(c.Args)
	if err != nil {
		return ""
	}
	return string(b)
}

// ToolResult is the observation returned for a ToolCall.
type ToolResult struct {
	ID      string
	Name    string
	Content string
	IsError bool
}

// Message is one turn of the conversation.
type Message struct {
	Role        Role
	Text        string
	ToolCalls   []ToolCall
	ToolResults []ToolResult
}

// ToPlain reduces the message for trace recording.
func (m Message) ToPlain() any {
	out := map[string]any{"role": string(m.Role)}
	if m.Text != "" {
		out["text"] = m.Text
	}
	if len(m.ToolCalls) > 0 {
		calls := make([]any, len(m.ToolCalls))
		for i, c := range m.ToolCalls {
			calls[i] = map[string]any{"id": c.ID, "name": c.Name, "input": c.InputText()}
		}
		out["tool_calls"] = calls
	}
	if len(m.ToolResults) > 0 {
		results := make([]any, len(m.ToolResults))
		for i, r := range m.ToolResults {
			results[i] = map[string]any{"id": r.ID, "name": r.Name, "content": r.Content, "is_error": r.IsError}
		}
		out["tool_results"] = results
	}
	return out
}

// Request is one call to the model. Sampling settings belong to the Client.
type Request struct {
	System   string
	Messages []Message
	Tools    []tool.Spec
}

// Response is the model's reply.
type Response struct {
	Text         string
	ToolCalls    []ToolCall
	StopReason   string
	InputTokens  int64
	OutputTokens int64
}

// Client talks to one provider with a fixed model and temperature.
type Client interface {
	Generate(ctx context.Context, req *Request) (*Response, error)
	Model() string
}

// ProviderError marks a failure of the model backend.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Err == nil {
		return e.Provider + " request failed"
	}
	return e.Err.Error()
}

func (e *ProviderError) Unwrap() error { return e.Err }

type options struct {
	model       string
	temperature float64
	maxTokens   int64
}

// Option configures a Client.
type Option func(*options)

// WithModel sets the model identifier.
func WithModel(model string) Option {
	return func(o *options) {
		if model != "" {
			o.model = model
		}
	}
}

// WithTemperature sets the sampling temperature. Default is 0.
func WithTemperature(t float64) Option {
	return func(o *options) { o.temperature = t }
}

// WithMaxTokens sets the output token budget per call.
func WithMaxTokens(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.maxTokens = n
		}
	}
}
