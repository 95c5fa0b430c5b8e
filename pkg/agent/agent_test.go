package agent_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/lakeagent/pkg/agent"
	"github.com/m-mizutani/lakeagent/pkg/datalake"
	"github.com/m-mizutani/lakeagent/pkg/llm"
	"github.com/m-mizutani/lakeagent/pkg/tool/lakequery"
	"github.com/m-mizutani/lakeagent/pkg/trace"
)

type mockExecutor struct {
	datalake.Executor
	executeFunc func(ctx context.Context, query string) (*datalake.ResultSet, error)
}

func (m *mockExecutor) Execute(ctx context.Context, query string) (*datalake.ResultSet, error) {
	return m.executeFunc(ctx, query)
}

// sqlThenSummarize asks for one SQL statement and then answers with the
// observation it received.
type sqlThenSummarize struct {
	sql    string
	prefix string
	err    error
	system []string
}

func (c *sqlThenSummarize) Model() string { return "stub-model" }

func (c *sqlThenSummarize) Generate(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.system = append(c.system, req.System)

	last := req.Messages[len(req.Messages)-1]
	if len(last.ToolResults) == 0 {
		return &llm.Response{ToolCalls: []llm.ToolCall{{
			ID:   "call_1",
			Name: lakequery.Name,
			Args: map[string]any{"query": c.sql},
		}}}, nil
	}
	return &llm.Response{Text: c.prefix + last.ToolResults[0].Content}, nil
}

func tableListExecutor() *mockExecutor {
	return &mockExecutor{
		executeFunc: func(ctx context.Context, query string) (*datalake.ResultSet, error) {
			return &datalake.ResultSet{
				Columns: []string{"table_name"},
				Rows:    [][]any{{"object_account"}, {"object_contact"}, {"object_lead"}},
			}, nil
		},
	}
}

func fixedClock() time.Time { return time.Date(2024, 6, 20, 12, 0, 0, 0, time.UTC) }

func TestListAllTables(t *testing.T) {
	client := &sqlThenSummarize{
		sql:    "SELECT table_name FROM information_schema.tables",
		prefix: "The data lake has these tables:\n",
	}
	a, err := agent.New(client, lakequery.New(lakequery.WithExecutor(tableListExecutor())))
	gt.NoError(t, err)

	res := a.Run(context.Background(), "List all tables")
	gt.NoError(t, res.Err)
	gt.Equal(t, res.State, agent.StateDone)
	for _, name := range []string{"object_account", "object_contact", "object_lead"} {
		gt.S(t, res.Response).Contains(name)
	}

	started := res.Trace.Filter(trace.KindToolStarted)
	gt.A(t, started).Longer(0)
	gt.Equal(t, started[0].Payload.(trace.Map).Text("input"), "SELECT table_name FROM information_schema.tables")

	for _, ev := range res.Trace {
		gt.True(t, ev.Kind.Valid())
	}
	gt.Equal(t, res.Trace[0].Kind, trace.KindOrchestrationStarted)
	gt.Equal(t, res.Trace[len(res.Trace)-1].Kind, trace.KindRunFinished)

	gt.Equal(t, res.Path, []agent.State{
		agent.StateIdle,
		agent.StatePlanning,
		agent.StateToolInvoking,
		agent.StatePlanning,
		agent.StateResponding,
		agent.StateDone,
	})
}

func TestDeterministicWithStubs(t *testing.T) {
	run := func() string {
		client := &sqlThenSummarize{sql: "SELECT table_name FROM information_schema.tables"}
		a, err := agent.New(client, lakequery.New(lakequery.WithExecutor(tableListExecutor())), agent.WithClock(fixedClock))
		gt.NoError(t, err)
		return a.Run(context.Background(), "List all tables").Response
	}

	gt.Equal(t, run(), run())
}

func TestExecutorFaultIsObserved(t *testing.T) {
	exec := &mockExecutor{
		executeFunc: func(ctx context.Context, query string) (*datalake.ResultSet, error) {
			return nil, &datalake.ExecutionError{SQL: query, Err: errors.New("dial tcp 10.0.0.1:5432: connection refused")}
		},
	}
	client := &sqlThenSummarize{sql: "SELECT 1", prefix: "I could not reach the data lake. "}
	a, err := agent.New(client, lakequery.New(lakequery.WithExecutor(exec)))
	gt.NoError(t, err)

	res := a.Run(context.Background(), "How many accounts?")
	gt.NoError(t, res.Err)
	gt.Equal(t, res.State, agent.StateDone)
	gt.S(t, res.Response).Contains("connection refused")
	gt.False(t, strings.HasPrefix(res.Response, agent.ErrorPrefix))

	finished := res.Trace.Filter(trace.KindToolFinished)
	gt.A(t, finished).Length(1)
	gt.S(t, finished[0].Payload.(trace.Map).Text("output")).Contains("Error executing query")
}

func TestProviderFailure(t *testing.T) {
	client := &sqlThenSummarize{err: &llm.ProviderError{Provider: "anthropic", Err: errors.New("invalid x-api-key")}}
	a, err := agent.New(client, lakequery.New(lakequery.WithExecutor(tableListExecutor())))
	gt.NoError(t, err)

	res := a.Run(context.Background(), "List all tables")
	gt.Equal(t, res.State, agent.StateFailed)
	gt.True(t, strings.HasPrefix(res.Response, agent.ErrorPrefix))
	gt.S(t, res.Response).Contains("invalid x-api-key")
	gt.A(t, res.Trace).Longer(0)

	var pe *llm.ProviderError
	gt.True(t, errors.As(res.Err, &pe))
	gt.Equal(t, res.Trace[len(res.Trace)-1].Payload.(trace.Map).Text("state"), "failed")
}

type blockingClient struct{}

func (blockingClient) Model() string { return "slow" }

func (blockingClient) Generate(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestTimeoutIsFailure(t *testing.T) {
	a, err := agent.New(blockingClient{}, lakequery.New())
	gt.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	res := a.Run(ctx, "q")
	gt.Equal(t, res.State, agent.StateFailed)
	gt.S(t, res.Response).Contains("timed out")
	gt.True(t, errors.Is(res.Err, context.DeadlineExceeded))
}

type panickingClient struct{}

func (panickingClient) Model() string { return "broken" }

func (panickingClient) Generate(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	panic("nil map write")
}

func TestPanicDoesNotEscape(t *testing.T) {
	a, err := agent.New(panickingClient{}, lakequery.New())
	gt.NoError(t, err)

	res := a.Run(context.Background(), "q")
	gt.Equal(t, res.State, agent.StateFailed)
	gt.S(t, res.Response).Contains("nil map write")
	gt.A(t, res.Trace).Longer(0)
}

func TestNewRequiresClientAndTool(t *testing.T) {
	_, err := agent.New(nil, lakequery.New())
	gt.True(t, errors.Is(err, agent.ErrConfiguration))

	_, err = agent.New(&sqlThenSummarize{}, nil)
	gt.True(t, errors.Is(err, agent.ErrConfiguration))
}

func TestHandlersReceiveEvents(t *testing.T) {
	extra := trace.NewCollector()
	a, err := agent.New(
		&sqlThenSummarize{sql: "SELECT 1"},
		lakequery.New(lakequery.WithExecutor(tableListExecutor())),
		agent.WithHandlers(extra),
	)
	gt.NoError(t, err)

	res := a.Run(context.Background(), "q")
	gt.Equal(t, extra.Len(), len(res.Trace))
}

func TestSystemPrompt(t *testing.T) {
	ctx := context.Background()

	t.Run("base prompt", func(t *testing.T) {
		a, err := agent.New(&sqlThenSummarize{}, lakequery.New())
		gt.NoError(t, err)
		p := a.SystemPrompt(ctx)
		gt.S(t, p).Contains("helpful data analyst assistant")
		gt.S(t, p).Contains("datalake_query")
		gt.S(t, p).Contains("grax__idseq")
		gt.S(t, p).NotContains("Known entity types")
	})

	t.Run("missing document degrades silently", func(t *testing.T) {
		a, err := agent.New(&sqlThenSummarize{}, lakequery.New(), agent.WithSchemaDocument("testdata/no-such-file.md"))
		gt.NoError(t, err)
		gt.S(t, a.SystemPrompt(ctx)).NotContains("Known entity types")
	})

	t.Run("plain text document", func(t *testing.T) {
		a, err := agent.New(&sqlThenSummarize{}, lakequery.New(), agent.WithSchemaDocument("testdata/entities.txt"))
		gt.NoError(t, err)
		gt.S(t, a.SystemPrompt(ctx)).Contains("Contact: people who work at accounts.")
	})

	t.Run("yaml entity catalog", func(t *testing.T) {
		a, err := agent.New(&sqlThenSummarize{}, lakequery.New(), agent.WithSchemaDocument("testdata/entities.yaml"))
		gt.NoError(t, err)
		p := a.SystemPrompt(ctx)
		gt.S(t, p).Contains("Account (`object_account`): Companies and organizations")
		gt.S(t, p).Contains("Opportunity (`object_opportunity`)")
		gt.S(t, p).Contains("`Industry`")
	})

	t.Run("example queries", func(t *testing.T) {
		a, err := agent.New(&sqlThenSummarize{}, lakequery.New(), agent.WithExampleQueries("testdata/examples"))
		gt.NoError(t, err)
		p := a.SystemPrompt(ctx)
		gt.S(t, p).Contains("### Current accounts")
		gt.S(t, p).Contains("Latest non-deleted version of every account")
		gt.S(t, p).Contains("### 20_tables")
		gt.S(t, p).NotContains("not a query")
	})

	t.Run("missing example directory", func(t *testing.T) {
		a, err := agent.New(&sqlThenSummarize{}, lakequery.New(), agent.WithExampleQueries("testdata/nowhere"))
		gt.NoError(t, err)
		gt.S(t, a.SystemPrompt(ctx)).NotContains("Example queries")
	})

	t.Run("prompt reaches the model", func(t *testing.T) {
		client := &sqlThenSummarize{sql: "SELECT 1"}
		a, err := agent.New(client, lakequery.New(lakequery.WithExecutor(tableListExecutor())), agent.WithSchemaDocument("testdata/entities.txt"))
		gt.NoError(t, err)
		a.Run(ctx, "q")
		gt.A(t, client.system).Longer(0)
		gt.S(t, client.system[0]).Contains("Contact: people who work at accounts.")
	})
}

// keepsQuerying requests a tool on every call until it sees the
// finalization instruction.
type keepsQuerying struct {
	final *llm.Request
}

func (c *keepsQuerying) Model() string { return "stub-model" }

func (c *keepsQuerying) Generate(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	last := req.Messages[len(req.Messages)-1]
	if last.Text == "wrap up" {
		c.final = req
		return &llm.Response{Text: "three tables"}, nil
	}
	return &llm.Response{ToolCalls: []llm.ToolCall{{
		ID:   "call_1",
		Name: lakequery.Name,
		Args: map[string]any{"query": "SELECT 1"},
	}}}, nil
}

func TestIterationLimitFinalizes(t *testing.T) {
	client := &keepsQuerying{}
	a, err := agent.New(client, lakequery.New(lakequery.WithExecutor(tableListExecutor())),
		agent.WithMaxIterations(2),
		agent.WithFinalizationPrompt("wrap up"),
	)
	gt.NoError(t, err)

	result := a.Run(context.Background(), "How many tables?")
	gt.False(t, result.Failed())
	gt.Equal(t, result.State, agent.StateDone)
	gt.Equal(t, result.Response, "three tables")

	gt.V(t, client.final).NotNil()
	gt.A(t, client.final.Tools).Length(1)
	gt.A(t, result.Trace.Filter(trace.KindToolStarted)).Length(2)
}
