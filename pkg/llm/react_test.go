package llm_test

import (
	"context"
	"errors"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/lakeagent/pkg/llm"
	"github.com/m-mizutani/lakeagent/pkg/tool"
	"github.com/m-mizutani/lakeagent/pkg/trace"
	"github.com/urfave/cli/v3"
)

type scriptedClient struct {
	replies  []*llm.Response
	err      error
	requests []*llm.Request
}

func (c *scriptedClient) Model() string { return "scripted" }

func (c *scriptedClient) Generate(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	c.requests = append(c.requests, req)
	if c.err != nil {
		return nil, c.err
	}
	if len(c.replies) == 0 {
		return &llm.Response{Text: "done"}, nil
	}
	r := c.replies[0]
	c.replies = c.replies[1:]
	return r, nil
}

type fakeQueryTool struct {
	executeFunc func(ctx context.Context, args map[string]any) (string, error)
}

func (f *fakeQueryTool) Spec() tool.Spec                    { return queryToolSpec() }
func (f *fakeQueryTool) Prompt(ctx context.Context) string { return "" }
func (f *fakeQueryTool) Flags() []cli.Flag                 { return nil }
func (f *fakeQueryTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	return f.executeFunc(ctx, args)
}

func callQuery(id, sql string) llm.ToolCall {
	return llm.ToolCall{ID: id, Name: "datalake_query", Args: map[string]any{"query": sql}}
}

func TestReactToolThenAnswer(t *testing.T) {
	client := &scriptedClient{replies: []*llm.Response{
		{ToolCalls: []llm.ToolCall{callQuery("c1", "SELECT COUNT(*) FROM object_account")}},
		{Text: "There are 42 accounts."},
	}}
	qt := &fakeQueryTool{executeFunc: func(ctx context.Context, args map[string]any) (string, error) {
		gt.Equal(t, args["query"], "SELECT COUNT(*) FROM object_account")
		return "42", nil
	}}

	col := trace.NewCollector()
	res, err := llm.NewReact(client, tool.New(qt)).Run(context.Background(), "sys", "How many accounts?", col)
	gt.NoError(t, err)
	gt.Equal(t, res.Text, "There are 42 accounts.")
	gt.Equal(t, res.Iterations, 2)
	gt.False(t, res.Finalized)

	// second request carries the observation back
	gt.A(t, client.requests).Length(2)
	last := client.requests[1].Messages
	gt.Equal(t, last[len(last)-1].ToolResults[0].Content, "42")

	var kinds []trace.Kind
	for _, ev := range col.Events() {
		kinds = append(kinds, ev.Kind)
	}
	gt.Equal(t, kinds, []trace.Kind{
		trace.KindModelStarted, trace.KindModelFinished,
		trace.KindDecisionMade, trace.KindToolStarted, trace.KindToolFinished,
		trace.KindModelStarted, trace.KindModelFinished,
		trace.KindDecisionMade,
	})

	finished := col.Events()[4].Payload.(trace.Map)
	gt.Equal(t, finished.Text("tool"), "datalake_query")
	gt.Equal(t, finished.Text("output"), "42")
}

func TestReactToolErrorBecomesObservation(t *testing.T) {
	client := &scriptedClient{replies: []*llm.Response{
		{ToolCalls: []llm.ToolCall{{ID: "c1", Name: "unknown_tool"}}},
		{ToolCalls: []llm.ToolCall{callQuery("c2", "SELECT 1")}},
		{Text: "ok"},
	}}
	qt := &fakeQueryTool{executeFunc: func(ctx context.Context, args map[string]any) (string, error) {
		panic("boom")
	}}

	res, err := llm.NewReact(client, tool.New(qt)).Run(context.Background(), "", "q", nil)
	gt.NoError(t, err)
	gt.Equal(t, res.Text, "ok")

	first := client.requests[1].Messages
	gt.True(t, first[len(first)-1].ToolResults[0].IsError)
	gt.S(t, first[len(first)-1].ToolResults[0].Content).Contains("tool not found")

	second := client.requests[2].Messages
	gt.S(t, second[len(second)-1].ToolResults[0].Content).Contains("boom")
}

func TestReactIterationLimit(t *testing.T) {
	var replies []*llm.Response
	for i := 0; i < 3; i++ {
		replies = append(replies, &llm.Response{ToolCalls: []llm.ToolCall{callQuery("c", "SELECT 1")}})
	}
	replies = append(replies, &llm.Response{Text: "best effort"})
	client := &scriptedClient{replies: replies}
	qt := &fakeQueryTool{executeFunc: func(ctx context.Context, args map[string]any) (string, error) {
		return "1", nil
	}}

	res, err := llm.NewReact(client, tool.New(qt), llm.WithMaxIterations(3)).Run(context.Background(), "", "q", nil)
	gt.NoError(t, err)
	gt.True(t, res.Finalized)
	gt.Equal(t, res.Text, "best effort")
	gt.A(t, client.requests).Length(4)

	// history holds tool calls, so the tools stay declared
	final := client.requests[3]
	gt.A(t, final.Tools).Length(1)
	last := final.Messages[len(final.Messages)-1]
	gt.Equal(t, last.Role, llm.RoleUser)
	gt.A(t, last.ToolResults).Length(1)
	gt.S(t, last.Text).Contains("maximum number of tool calls")

	// earlier requests keep their own view of the history
	prev := client.requests[2].Messages
	gt.Equal(t, prev[len(prev)-1].Text, "")
}

func TestReactFinalAnswerIgnoresToolCalls(t *testing.T) {
	client := &scriptedClient{replies: []*llm.Response{
		{ToolCalls: []llm.ToolCall{callQuery("c1", "SELECT 1")}},
		{Text: "partial answer", ToolCalls: []llm.ToolCall{callQuery("c2", "SELECT 2")}},
	}}
	calls := 0
	qt := &fakeQueryTool{executeFunc: func(ctx context.Context, args map[string]any) (string, error) {
		calls++
		return "1", nil
	}}

	col := trace.NewCollector()
	res, err := llm.NewReact(client, tool.New(qt),
		llm.WithMaxIterations(1),
		llm.WithFinalizationPrompt("answer now"),
	).Run(context.Background(), "", "q", col)
	gt.NoError(t, err)
	gt.True(t, res.Finalized)
	gt.Equal(t, res.Text, "partial answer")
	gt.Equal(t, calls, 1)
	gt.A(t, col.Events().Filter(trace.KindToolStarted)).Length(1)

	final := client.requests[1]
	gt.Equal(t, final.Messages[len(final.Messages)-1].Text, "answer now")
}

func TestReactModelFailure(t *testing.T) {
	client := &scriptedClient{err: errors.New("rate limited")}

	col := trace.NewCollector()
	_, err := llm.NewReact(client, tool.New()).Run(context.Background(), "", "q", col)
	gt.Error(t, err)
	gt.S(t, err.Error()).Contains("rate limited")

	events := col.Events()
	gt.A(t, events).Length(2)
	gt.Equal(t, events[1].Payload.(trace.Map).Text("error"), "rate limited")
}

func TestReactCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := &scriptedClient{}
	_, err := llm.NewReact(client, tool.New()).Run(ctx, "", "q", nil)
	gt.True(t, errors.Is(err, context.Canceled))
	gt.A(t, client.requests).Length(0)
}
