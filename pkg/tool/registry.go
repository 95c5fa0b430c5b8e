package tool

import (
	"context"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

var ErrToolNotFound = goerr.New("tool not found")

// Registry manages available tools for the LLM
type Registry struct {
	tools    map[string]Tool
	allTools []Tool
}

// New creates a new tool registry with the given tools
func New(tools ...Tool) *Registry {
	r := &Registry{
		tools: make(map[string]Tool),
	}

	for _, t := range tools {
		if t == nil {
			continue
		}
		r.allTools = append(r.allTools, t)
		if name := t.Spec().Name; name != "" {
			r.tools[name] = t
		}
	}

	return r
}

// Len returns the number of registered tools
func (r *Registry) Len() int {
	return len(r.allTools)
}

// Specs returns all tool specifications in registration order
func (r *Registry) Specs() []Spec {
	specs := make([]Spec, 0, len(r.allTools))
	for _, t := range r.allTools {
		specs = append(specs, t.Spec())
	}
	return specs
}

// Prompts returns all tool prompts concatenated
func (r *Registry) Prompts(ctx context.Context) string {
	var prompts []string
	for _, t := range r.allTools {
		if prompt := t.Prompt(ctx); prompt != "" {
			prompts = append(prompts, prompt)
		}
	}
	return strings.Join(prompts, "\n\n")
}

// Execute runs the named tool
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	t, ok := r.tools[name]
	if !ok {
		return "", goerr.Wrap(ErrToolNotFound, "tool not found", goerr.V("name", name))
	}

	return t.Execute(ctx, args)
}
