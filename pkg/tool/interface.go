package tool

import (
	"context"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/urfave/cli/v3"
)

// Spec describes a tool independently of the LLM provider
type Spec struct {
	Name        string
	Description string
	Parameters  *jsonschema.Schema
}

// Tool represents an external tool that can be called by the LLM
type Tool interface {
	// Spec returns the tool specification
	Spec() Spec

	// Execute runs the tool with decoded arguments and returns a textual
	// observation. Failures the LLM can react to are part of the text; an error
	// is only returned for malformed calls.
	Execute(ctx context.Context, args map[string]any) (string, error)

	// Prompt returns additional information to be added to the system prompt
	// Returns empty string if no additional prompt is needed
	Prompt(ctx context.Context) string

	// Flags returns CLI flags for this tool
	// Returns nil if no flags are needed
	Flags() []cli.Flag
}
