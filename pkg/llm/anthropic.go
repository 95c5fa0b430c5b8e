package llm

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/m-mizutani/goerr/v2"

	"github.com/m-mizutani/lakeagent/pkg/adapter"
	"github.com/m-mizutani/lakeagent/pkg/tool"
)

const (
	DefaultAnthropicModel = "claude-3-5-sonnet-20240620"
	defaultMaxTokens      = 4096
)

// Anthropic implements Client on the Claude Messages API.
type Anthropic struct {
	claude adapter.Claude
	opts   options
}

func NewAnthropic(claude adapter.Claude, opts ...Option) *Anthropic {
	o := options{model: DefaultAnthropicModel, maxTokens: defaultMaxTokens}
	for _, opt := range opts {
		opt(&o)
	}
	return &Anthropic{claude: claude, opts: o}
}

func (a *Anthropic) Model() string { return a.opts.model }

func (a *Anthropic) Generate(ctx context.Context, req *Request) (*Response, error) {
	params, err := a.buildParams(req)
	if err != nil {
		return nil, err
	}

	msg, err := a.claude.Chat(ctx, params)
	if err != nil {
		return nil, &ProviderError{Provider: "anthropic", Err: err}
	}
	if msg == nil {
		return nil, &ProviderError{Provider: "anthropic", Err: goerr.New("empty response from Claude")}
	}

	return convertAnthropicResponse(msg)
}

func (a *Anthropic) buildParams(req *Request) (anthropic.MessageNewParams, error) {
	msgs := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, toAnthropicMessage(m))
	}

	tools := make([]anthropic.ToolUnionParam, 0, len(req.Tools))
	for _, spec := range req.Tools {
		t, err := toAnthropicTool(spec)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		tools = append(tools, t)
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(a.opts.model),
		MaxTokens:   a.opts.maxTokens,
		Messages:    msgs,
		Tools:       tools,
		Temperature: anthropic.Float(a.opts.temperature),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	return params, nil
}

func toAnthropicMessage(m Message) anthropic.MessageParam {
	var blocks []anthropic.ContentBlockParamUnion
	// tool_result blocks must lead a user turn; text follows them
	for _, r := range m.ToolResults {
		blocks = append(blocks, anthropic.NewToolResultBlock(r.ID, r.Content, r.IsError))
	}
	if m.Text != "" {
		blocks = append(blocks, anthropic.NewTextBlock(m.Text))
	}
	for _, c := range m.ToolCalls {
		args := c.Args
		if args == nil {
			args = map[string]any{}
		}
		blocks = append(blocks, anthropic.NewToolUseBlock(c.ID, args, c.Name))
	}

	if m.Role == RoleAssistant {
		return anthropic.NewAssistantMessage(blocks...)
	}
	return anthropic.NewUserMessage(blocks...)
}

func toAnthropicTool(spec tool.Spec) (anthropic.ToolUnionParam, error) {
	props, err := schemaProperties(spec.Parameters)
	if err != nil {
		return anthropic.ToolUnionParam{}, goerr.Wrap(err, "failed to convert tool schema", goerr.V("tool", spec.Name))
	}

	var required []string
	if spec.Parameters != nil {
		required = spec.Parameters.Required
	}

	p := anthropic.ToolParam{
		Name:        spec.Name,
		Description: anthropic.Opt(spec.Description),
		InputSchema: anthropic.ToolInputSchemaParam{
			Properties: props,
			Required:   required,
		},
	}
	return anthropic.ToolUnionParam{OfTool: &p}, nil
}

func convertAnthropicResponse(msg *anthropic.Message) (*Response, error) {
	resp := &Response{
		StopReason:   string(msg.StopReason),
		InputTokens:  msg.Usage.InputTokens,
		OutputTokens: msg.Usage.OutputTokens,
	}

	var texts []string
	for _, blk := range msg.Content {
		switch blk.Type {
		case "text":
			if t := blk.AsText().Text; t != "" {
				texts = append(texts, t)
			}
		case "tool_use":
			tu := blk.AsToolUse()
			var args map[string]any
			if len(tu.Input) > 0 {
				if err := json.Unmarshal(tu.Input, &args); err != nil {
					return nil, &ProviderError{
						Provider: "anthropic",
						Err:      goerr.Wrap(err, "failed to parse tool input", goerr.V("tool", tu.Name)),
					}
				}
			}
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{ID: tu.ID, Name: tu.Name, Args: args})
		}
	}
	resp.Text = strings.TrimSpace(strings.Join(texts, "\n"))

	return resp, nil
}

var _ Client = (*Anthropic)(nil)
