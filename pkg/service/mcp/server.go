// Package mcp exposes the data lake over the Model Context Protocol so other
// agents can run SQL or ask questions through lakeagent.
package mcp

import (
	"context"
	"net/http"

	"github.com/m-mizutani/goerr/v2"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/m-mizutani/lakeagent/pkg/agent"
	"github.com/m-mizutani/lakeagent/pkg/tool/lakequery"
	"github.com/m-mizutani/lakeagent/pkg/usecase/ask"
	"github.com/m-mizutani/lakeagent/pkg/utils/logging"
)

const AskToolName = "ask_datalake"

// Querier runs one SQL statement and renders the outcome as text.
type Querier interface {
	Invoke(ctx context.Context, sqlText string) string
}

// Asker answers a natural language question.
type Asker interface {
	RunQuery(ctx context.Context, query string) (*ask.Answer, error)
}

type queryParams struct {
	Query string `json:"query" jsonschema:"A single read-only SQL statement to run against the data lake"`
}

type askParams struct {
	Question string `json:"question" jsonschema:"A question about the Salesforce data in plain language"`
}

// NewServer registers datalake_query and, when asker is set, ask_datalake.
func NewServer(version string, querier Querier, asker Asker) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "lakeagent",
		Version: version,
	}, nil)

	if querier != nil {
		mcp.AddTool(server, &mcp.Tool{
			Name:        lakequery.Name,
			Description: lakequery.Description,
		}, func(ctx context.Context, req *mcp.CallToolRequest, params *queryParams) (*mcp.CallToolResult, any, error) {
			if params.Query == "" {
				return nil, nil, goerr.New("query is required")
			}
			return textResult(querier.Invoke(ctx, params.Query), false), nil, nil
		})
	}

	if asker != nil {
		mcp.AddTool(server, &mcp.Tool{
			Name:        AskToolName,
			Description: "Answer a question about the GRAX Salesforce data lake. The agent writes and runs the SQL itself.",
		}, func(ctx context.Context, req *mcp.CallToolRequest, params *askParams) (*mcp.CallToolResult, any, error) {
			answer, err := asker.RunQuery(ctx, params.Question)
			if err != nil && answer == nil {
				return nil, nil, err
			}
			return textResult(answer.Response, err != nil || answer.State == agent.StateFailed), nil, nil
		})
	}

	return server
}

func textResult(text string, isError bool) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: isError,
	}
}

// NewHTTPHandler serves server over streamable HTTP without sessions.
func NewHTTPHandler(server *mcp.Server) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(_ *http.Request) *mcp.Server {
		return server
	}, &mcp.StreamableHTTPOptions{Stateless: true})
}

// ServeStdio blocks serving server on stdin and stdout.
func ServeStdio(ctx context.Context, server *mcp.Server) error {
	logging.From(ctx).Info("serving MCP on stdio")
	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return goerr.Wrap(err, "MCP stdio server stopped")
	}
	return nil
}
