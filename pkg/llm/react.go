package llm

import (
	"context"
	"fmt"

	"github.com/m-mizutani/goerr/v2"

	"github.com/m-mizutani/lakeagent/pkg/tool"
	"github.com/m-mizutani/lakeagent/pkg/trace"
	"github.com/m-mizutani/lakeagent/pkg/utils/logging"
)

const (
	DefaultMaxIterations = 10

	defaultFinalizationPrompt = "You have reached the maximum number of tool calls. " +
		"Do not call any more tools. Answer the original question using the results gathered so far."
)

// React runs the reason/act loop: ask the model, run the tools it picks, feed
// the observations back, and stop when it answers without tool calls.
type React struct {
	client        Client
	tools         *tool.Registry
	maxIterations int
	finalPrompt   string
}

type ReactOption func(*React)

// WithMaxIterations caps the number of model calls that may request tools.
func WithMaxIterations(n int) ReactOption {
	return func(r *React) {
		if n > 0 {
			r.maxIterations = n
		}
	}
}

// WithFinalizationPrompt replaces the message sent when the cap is reached.
func WithFinalizationPrompt(p string) ReactOption {
	return func(r *React) {
		if p != "" {
			r.finalPrompt = p
		}
	}
}

func NewReact(client Client, tools *tool.Registry, opts ...ReactOption) *React {
	r := &React{
		client:        client,
		tools:         tools,
		maxIterations: DefaultMaxIterations,
		finalPrompt:   defaultFinalizationPrompt,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.tools == nil {
		r.tools = tool.New()
	}
	return r
}

// RunResult is the outcome of a completed loop.
type RunResult struct {
	Text       string
	Messages   []Message
	Iterations int
	Finalized  bool
}

// Run answers query. Every step is reported to h. A returned error is always
// a model or context failure; tool failures become observations.
func (r *React) Run(ctx context.Context, system, query string, h trace.Handler) (*RunResult, error) {
	if h == nil {
		h = trace.Nop{}
	}
	logger := logging.From(ctx)

	messages := []Message{{Role: RoleUser, Text: query}}
	specs := r.tools.Specs()

	for i := 1; i <= r.maxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, goerr.Wrap(err, "planning loop interrupted", goerr.V("iteration", i))
		}

		resp, err := r.generate(ctx, h, i, &Request{System: system, Messages: messages, Tools: specs})
		if err != nil {
			return nil, err
		}

		if len(resp.ToolCalls) == 0 {
			h.DecisionMade(ctx, trace.Decision{Action: trace.ActionFinalAnswer, Log: resp.Text})
			messages = append(messages, Message{Role: RoleAssistant, Text: resp.Text})
			return &RunResult{Text: resp.Text, Messages: messages, Iterations: i}, nil
		}

		messages = append(messages, Message{Role: RoleAssistant, Text: resp.Text, ToolCalls: resp.ToolCalls})

		results := make([]ToolResult, 0, len(resp.ToolCalls))
		for _, call := range resp.ToolCalls {
			input := call.InputText()
			h.DecisionMade(ctx, trace.Decision{
				Action: trace.ActionToolCall,
				Tool:   call.Name,
				Input:  input,
				Log:    resp.Text,
			})
			logger.Debug("calling tool", "tool", call.Name, "iteration", i)

			h.ToolStarted(ctx, trace.ToolCall{ID: call.ID, Tool: call.Name, Input: input})
			result := r.execute(ctx, call)
			h.ToolFinished(ctx, trace.ToolResult{
				ID:      call.ID,
				Tool:    call.Name,
				Output:  result.Content,
				IsError: result.IsError,
			})
			results = append(results, result)
		}

		messages = append(messages, Message{Role: RoleUser, ToolResults: results})
	}

	logger.Warn("iteration limit reached, forcing final answer", "max_iterations", r.maxIterations)
	messages = withFinalizationPrompt(messages, r.finalPrompt)

	// Tools stay declared: the history carries tool calls and results, which
	// providers refuse without tool definitions.
	resp, err := r.generate(ctx, h, r.maxIterations+1, &Request{System: system, Messages: messages, Tools: specs})
	if err != nil {
		return nil, err
	}
	if len(resp.ToolCalls) > 0 {
		logger.Warn("ignoring tool calls in final answer", "tool_calls", len(resp.ToolCalls))
	}
	h.DecisionMade(ctx, trace.Decision{Action: trace.ActionFinalize, Log: resp.Text})
	messages = append(messages, Message{Role: RoleAssistant, Text: resp.Text})

	return &RunResult{
		Text:       resp.Text,
		Messages:   messages,
		Iterations: r.maxIterations + 1,
		Finalized:  true,
	}, nil
}

// withFinalizationPrompt adds prompt to the trailing tool-result turn so user
// and assistant turns keep alternating. The input slice is not modified.
func withFinalizationPrompt(messages []Message, prompt string) []Message {
	n := len(messages)
	if n == 0 || messages[n-1].Role != RoleUser {
		return append(messages, Message{Role: RoleUser, Text: prompt})
	}
	last := messages[n-1]
	if last.Text != "" {
		last.Text += "\n\n"
	}
	last.Text += prompt
	return append(messages[:n-1:n-1], last)
}

func (r *React) generate(ctx context.Context, h trace.Handler, iteration int, req *Request) (*Response, error) {
	model := r.client.Model()
	h.ModelStarted(ctx, trace.ModelCall{Model: model, Iteration: iteration, Messages: req.Messages})

	resp, err := r.client.Generate(ctx, req)
	if err != nil {
		h.ModelFinished(ctx, trace.ModelReply{Model: model, Iteration: iteration, Error: err.Error()})
		return nil, goerr.Wrap(err, "model call failed", goerr.V("iteration", iteration))
	}

	h.ModelFinished(ctx, trace.ModelReply{
		Model:        model,
		Iteration:    iteration,
		Text:         resp.Text,
		ToolCalls:    len(resp.ToolCalls),
		StopReason:   resp.StopReason,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
	})
	return resp, nil
}

func (r *React) execute(ctx context.Context, call ToolCall) (result ToolResult) {
	result = ToolResult{ID: call.ID, Name: call.Name}

	defer func() {
		if rec := recover(); rec != nil {
			logging.From(ctx).Error("tool panicked", "tool", call.Name, "panic", rec)
			result.Content = fmt.Sprintf("Error: tool %s failed: %v", call.Name, rec)
			result.IsError = true
		}
	}()

	out, err := r.tools.Execute(ctx, call.Name, call.Args)
	if err != nil {
		logging.From(ctx).Warn("tool execution failed", "tool", call.Name, "error", err)
		result.Content = "Error: " + err.Error()
		result.IsError = true
		return result
	}
	result.Content = out
	return result
}
