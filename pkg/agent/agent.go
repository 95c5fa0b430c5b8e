// Package agent answers natural language questions about the data lake by
// driving a language model that may call the SQL tool.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"

	"github.com/m-mizutani/lakeagent/pkg/llm"
	"github.com/m-mizutani/lakeagent/pkg/tool"
	"github.com/m-mizutani/lakeagent/pkg/trace"
	"github.com/m-mizutani/lakeagent/pkg/utils/logging"
)

var ErrConfiguration = goerr.New("configuration error")

// ErrorPrefix starts the response text of every failed run.
const ErrorPrefix = "Error processing query: "

// Agent binds one model client and one tool. It is safe for concurrent use;
// every Run owns its trace collector.
type Agent struct {
	client llm.Client
	tool   tool.Tool
	tools  *tool.Registry

	schemaDocPath string
	examplesDir   string
	maxIterations int
	finalPrompt   string
	handlers      []trace.Handler
	now           func() time.Time

	schemaDoc string
	examples  []*exampleQuery
}

type Option func(*Agent)

// WithSchemaDocument adds a document describing known entity types to the
// system prompt. A missing or unreadable document is ignored.
func WithSchemaDocument(path string) Option {
	return func(a *Agent) { a.schemaDocPath = path }
}

// WithExampleQueries adds the .sql files of dir to the system prompt.
func WithExampleQueries(dir string) Option {
	return func(a *Agent) { a.examplesDir = dir }
}

func WithMaxIterations(n int) Option {
	return func(a *Agent) { a.maxIterations = n }
}

// WithFinalizationPrompt replaces the instruction sent once the iteration
// limit is reached.
func WithFinalizationPrompt(p string) Option {
	return func(a *Agent) { a.finalPrompt = p }
}

// WithHandlers receives every trace event in addition to the run's collector.
func WithHandlers(hs ...trace.Handler) Option {
	return func(a *Agent) { a.handlers = append(a.handlers, hs...) }
}

// WithClock replaces time.Now for trace timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *Agent) { a.now = now }
}

func New(client llm.Client, t tool.Tool, opts ...Option) (*Agent, error) {
	if client == nil {
		return nil, goerr.Wrap(ErrConfiguration, "language model client is not configured")
	}
	if t == nil {
		return nil, goerr.Wrap(ErrConfiguration, "query tool is not configured")
	}

	a := &Agent{
		client:        client,
		tool:          t,
		tools:         tool.New(t),
		maxIterations: llm.DefaultMaxIterations,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}

	logger := logging.Default()
	a.schemaDoc = loadSchemaDocument(a.schemaDocPath, logger)

	examples, err := loadExampleQueries(a.examplesDir)
	if err != nil {
		logger.Warn("example queries unavailable, using base prompt", "error", err)
	}
	a.examples = examples

	return a, nil
}

// SystemPrompt returns the prompt sent with every model call.
func (a *Agent) SystemPrompt(ctx context.Context) string {
	return buildSystemPrompt(promptInput{
		ToolName:       a.tool.Spec().Name,
		ToolPrompt:     a.tools.Prompts(ctx),
		SchemaDocument: a.schemaDoc,
		Examples:       a.examples,
	})
}

// Result is the outcome of one run. Response is always set; on failure it
// starts with ErrorPrefix and Trace holds what was captured before the fault.
type Result struct {
	RunID    string
	Response string
	Trace    trace.Trace
	State    State
	Path     []State
	Err      error
}

func (r *Result) Failed() bool { return r.State == StateFailed }

// Run answers query. It never returns an error or panics; failures are
// reported through Result.
func (a *Agent) Run(ctx context.Context, query string) (result *Result) {
	runID := uuid.NewString()
	logger := logging.From(ctx).With("run_id", runID)
	ctx = logging.With(ctx, logger)

	collector := trace.NewCollector(trace.WithClock(a.now))
	states := newStateTracker()
	handler := trace.Multi(append([]trace.Handler{collector, states}, a.handlers...)...)

	result = &Result{RunID: runID}

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("run panicked", "panic", rec)
			a.fail(ctx, handler, states, result, goerr.New(fmt.Sprintf("unexpected failure: %v", rec)))
		}
		result.State = states.get()
		result.Path = states.path()
		result.Trace = collector.Events()
	}()

	handler.OrchestrationStarted(ctx, trace.Orchestration{
		RunID: runID,
		Query: query,
		Model: a.client.Model(),
		State: StatePlanning.String(),
	})

	react := llm.NewReact(a.client, a.tools,
		llm.WithMaxIterations(a.maxIterations),
		llm.WithFinalizationPrompt(a.finalPrompt),
	)
	out, err := react.Run(ctx, a.SystemPrompt(ctx), query, handler)
	if err != nil {
		a.fail(ctx, handler, states, result, err)
		return result
	}

	states.set(StateResponding)
	handler.OrchestrationFinished(ctx, trace.Orchestration{
		RunID: runID,
		Query: query,
		Model: a.client.Model(),
		State: StateResponding.String(),
	})

	states.set(StateDone)
	result.Response = out.Text
	handler.RunFinished(ctx, trace.Outcome{Response: out.Text, State: StateDone.String()})
	logger.Info("run finished", "iterations", out.Iterations, "finalized", out.Finalized)

	return result
}

func (a *Agent) fail(ctx context.Context, h trace.Handler, states *stateTracker, result *Result, err error) {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = goerr.Wrap(err, "run timed out")
	}

	logging.From(ctx).Error("run failed", "error", err)

	states.set(StateFailed)
	result.Err = err
	result.Response = ErrorPrefix + err.Error()
	h.RunFinished(ctx, trace.Outcome{
		Response: result.Response,
		State:    StateFailed.String(),
		Error:    err.Error(),
	})
}
