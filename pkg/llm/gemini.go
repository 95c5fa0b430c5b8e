package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"

	"github.com/m-mizutani/lakeagent/pkg/adapter"
)

// Gemini implements Client on Vertex AI Gemini.
type Gemini struct {
	gemini adapter.Gemini
	opts   options
}

// NewGemini wraps the adapter. The model name is taken from the adapter.
func NewGemini(gemini adapter.Gemini, opts ...Option) *Gemini {
	o := options{model: gemini.Model(), maxTokens: defaultMaxTokens}
	for _, opt := range opts {
		opt(&o)
	}
	return &Gemini{gemini: gemini, opts: o}
}

func (g *Gemini) Model() string { return g.opts.model }

func (g *Gemini) Generate(ctx context.Context, req *Request) (*Response, error) {
	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(g.opts.temperature)),
		MaxOutputTokens: int32(g.opts.maxTokens),
	}
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, "")
	}

	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, spec := range req.Tools {
			params, err := convertJSONSchemaToGenai(spec.Parameters)
			if err != nil {
				return nil, goerr.Wrap(err, "failed to convert tool schema", goerr.V("tool", spec.Name))
			}
			decls = append(decls, &genai.FunctionDeclaration{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  params,
			})
		}
		config.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		contents = append(contents, toGenaiContent(m))
	}

	resp, err := g.gemini.GenerateContent(ctx, contents, config)
	if err != nil {
		return nil, &ProviderError{Provider: "gemini", Err: err}
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, &ProviderError{Provider: "gemini", Err: goerr.New("empty response from Gemini")}
	}

	candidate := resp.Candidates[0]
	out := &Response{StopReason: string(candidate.FinishReason)}
	if resp.UsageMetadata != nil {
		out.InputTokens = int64(resp.UsageMetadata.PromptTokenCount)
		out.OutputTokens = int64(resp.UsageMetadata.CandidatesTokenCount)
	}

	var texts []string
	for i, part := range candidate.Content.Parts {
		if part.Text != "" && !part.Thought {
			texts = append(texts, part.Text)
		}
		if part.FunctionCall != nil {
			id := part.FunctionCall.ID
			if id == "" {
				id = fmt.Sprintf("call_%d", i)
			}
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:   id,
				Name: part.FunctionCall.Name,
				Args: part.FunctionCall.Args,
			})
		}
	}
	out.Text = strings.TrimSpace(strings.Join(texts, "\n"))

	return out, nil
}

func toGenaiContent(m Message) *genai.Content {
	role := genai.RoleUser
	if m.Role == RoleAssistant {
		role = genai.RoleModel
	}

	content := &genai.Content{Role: role}
	if m.Text != "" {
		content.Parts = append(content.Parts, genai.NewPartFromText(m.Text))
	}
	for _, c := range m.ToolCalls {
		part := genai.NewPartFromFunctionCall(c.Name, c.Args)
		part.FunctionCall.ID = c.ID
		content.Parts = append(content.Parts, part)
	}
	for _, r := range m.ToolResults {
		key := "output"
		if r.IsError {
			key = "error"
		}
		part := genai.NewPartFromFunctionResponse(r.Name, map[string]any{key: r.Content})
		part.FunctionResponse.ID = r.ID
		content.Parts = append(content.Parts, part)
	}
	return content
}

var _ Client = (*Gemini)(nil)
