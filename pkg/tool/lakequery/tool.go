// Package lakequery provides the datalake_query tool that lets the agent run
// SQL against the data lake.
package lakequery

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/m-mizutani/lakeagent/pkg/datalake"
	"github.com/m-mizutani/lakeagent/pkg/tool"
	"github.com/m-mizutani/lakeagent/pkg/utils/logging"
)

const (
	// Name is the capability name the LLM sees.
	Name = "datalake_query"

	NoResultsMessage = "Query executed successfully but returned no results."

	defaultResultLimitRows = 200
)

var (
	ErrAsyncNotImplemented = goerr.New("Async not implemented")
	errQueryRequired       = goerr.New("query is required")
)

// Description documents the GRAX schema convention for the model.
const Description = `Useful for querying the GRAX data lake using SQL. Input should be a valid SQL query.
The query is executed against a SQL database containing Salesforce data.
Use this tool when you need to retrieve data from the data lake.

List table names to see the available tables.
The data lake contains historical data tables that begin with object_ and then the object name, such as object_account.
Every row carries grax__idseq, a per-record sequence number that increases with each new version, and grax__deleted, which is set when the record was deleted.

Use a common table expression to get the latest data, for example:

SELECT A.*
FROM
(datalake.object_lead A
INNER JOIN (
SELECT
    B.Id
, Max(B.grax__idseq) Latest
FROM
    datalake.object_lead B
GROUP BY B.ID
)  B ON ((A.Id = B.Id) AND (A.grax__idseq = B.Latest)))
WHERE (A.grax__deleted IS NULL)

to get the latest data for the lead object.
Use this technique for any object that has a grax__idseq column.
Do not use sql code block markers in your query.`

// Tool runs SQL through a datalake.Executor and always answers with text.
type Tool struct {
	// Configuration
	guard           bool
	policyPath      string
	resultLimitRows int64

	// Dependencies
	exec   datalake.Executor
	policy Policy
}

// Option configures a Tool without going through CLI flags.
type Option func(*Tool)

// WithExecutor sets the executor.
func WithExecutor(exec datalake.Executor) Option {
	return func(t *Tool) { t.exec = exec }
}

// WithPolicy replaces the safety policy.
func WithPolicy(p Policy) Option {
	return func(t *Tool) { t.policy = p }
}

// WithResultLimit caps rendered rows.
func WithResultLimit(rows int) Option {
	return func(t *Tool) { t.resultLimitRows = int64(rows) }
}

// New creates the tool. Without WithPolicy the keyword denylist is active.
func New(opts ...Option) *Tool {
	t := &Tool{
		guard:           true,
		resultLimitRows: defaultResultLimitRows,
		policy:          NewDenylist(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Flags returns CLI flags for the query tool
func (t *Tool) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:        "sql-guard",
			Usage:       "Reject statements containing mutating keywords (advisory, bypassable)",
			Value:       true,
			Sources:     cli.EnvVars("LAKEAGENT_SQL_GUARD"),
			Destination: &t.guard,
		},
		&cli.StringFlag{
			Name:        "sql-policy",
			Usage:       "Rego file or directory evaluated as data.sql.deny before each statement",
			Sources:     cli.EnvVars("LAKEAGENT_SQL_POLICY"),
			Destination: &t.policyPath,
		},
		&cli.IntFlag{
			Name:        "result-limit-rows",
			Usage:       "Maximum number of rows rendered back to the model",
			Value:       defaultResultLimitRows,
			Sources:     cli.EnvVars("LAKEAGENT_RESULT_LIMIT_ROWS"),
			Destination: &t.resultLimitRows,
		},
	}
}

// Init wires the executor and builds the policy from flag values.
func (t *Tool) Init(ctx context.Context, client *tool.Client) error {
	if client != nil {
		t.exec = client.Executor
	}

	var policies []Policy
	if t.guard {
		policies = append(policies, NewDenylist())
	}
	if t.policyPath != "" {
		p, err := LoadRegoPolicy(ctx, t.policyPath)
		if err != nil {
			return goerr.Wrap(err, "failed to load SQL policy")
		}
		policies = append(policies, p)
	}
	t.policy = All(policies...)

	return nil
}

// Spec returns the tool specification
func (t *Tool) Spec() tool.Spec {
	return tool.Spec{
		Name:        Name,
		Description: Description,
		Parameters: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"query": {
					Type:        "string",
					Description: "SQL query to execute",
				},
			},
			Required: []string{"query"},
		},
	}
}

// Prompt returns additional information to be added to the system prompt
func (t *Tool) Prompt(ctx context.Context) string {
	if t.resultLimitRows <= 0 {
		return ""
	}
	return fmt.Sprintf("The %s tool shows at most %d rows per query. Aggregate or filter when you expect more.", Name, t.resultLimitRows)
}

// Execute decodes the query argument and calls Invoke.
func (t *Tool) Execute(ctx context.Context, args map[string]any) (string, error) {
	query, _ := args["query"].(string)
	if query == "" {
		return "", goerr.Wrap(errQueryRequired, "invalid datalake_query call", goerr.V("args", args))
	}
	return t.Invoke(ctx, query), nil
}

// Invoke runs sqlText and renders the outcome. It never fails: rejections,
// driver errors and panics are all returned as text.
func (t *Tool) Invoke(ctx context.Context, sqlText string) (out string) {
	logger := logging.From(ctx)
	query := cleanSQL(sqlText)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic in datalake query", "panic", r, "sql", query)
			out = fmt.Sprintf("Error executing query: %v", r)
		}
	}()

	if query == "" {
		return "Error executing query: empty SQL statement"
	}
	if t.exec == nil {
		return "Error executing query: " + datalake.ErrNotConfigured.Error()
	}

	if t.policy != nil {
		if err := t.policy.Check(ctx, query); err != nil {
			logger.Warn("SQL statement rejected", "sql", query, "reason", err.Error())
			return rejectionText(err)
		}
	}

	logger.Debug("executing SQL", "sql", query)
	rs, err := t.exec.Execute(ctx, query)
	if err != nil {
		logger.Debug("SQL execution failed", "sql", query, "error", err)
		return fmt.Sprintf("Error executing query: %s", err.Error())
	}

	if rs.Empty() {
		return NoResultsMessage
	}
	return Render(rs, int(t.resultLimitRows))
}

// InvokeAsync is not supported.
func (t *Tool) InvokeAsync(ctx context.Context, sqlText string) (string, error) {
	return "", goerr.Wrap(ErrAsyncNotImplemented, "datalake_query is synchronous only")
}

// cleanSQL trims whitespace and code fences the model may add despite the
// description.
func cleanSQL(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 && !strings.Contains(s[:nl], " ") {
			s = s[nl+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

var _ tool.Tool = (*Tool)(nil)
