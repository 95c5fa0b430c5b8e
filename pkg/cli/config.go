package cli

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/m-mizutani/lakeagent/pkg/adapter"
	"github.com/m-mizutani/lakeagent/pkg/agent"
	"github.com/m-mizutani/lakeagent/pkg/datalake"
	"github.com/m-mizutani/lakeagent/pkg/llm"
	"github.com/m-mizutani/lakeagent/pkg/metrics"
	"github.com/m-mizutani/lakeagent/pkg/repository"
	"github.com/m-mizutani/lakeagent/pkg/tool"
	"github.com/m-mizutani/lakeagent/pkg/tool/lakequery"
	"github.com/m-mizutani/lakeagent/pkg/trace"
	"github.com/m-mizutani/lakeagent/pkg/usecase/ask"
)

const (
	providerAnthropic = "anthropic"
	providerGemini    = "gemini"

	repoMemory    = "memory"
	repoPostgres  = "postgres"
	repoFirestore = "firestore"
)

// config holds configuration values
type config struct {
	// Data lake
	datalakeURL  string
	rowLimit     int64
	maxOpenConns int64
	connLifetime time.Duration
	scanLimit    int64
	jobLocations []string

	// LLM
	provider        string
	anthropicAPIKey string
	anthropicURL    string
	anthropicRetry  int64
	model           string
	temperature     float64
	maxTokens       int64
	maxIterations   int64
	finalPrompt     string
	geminiProject   string
	geminiLocation  string
	geminiAPIKey    string
	schemaDoc       string
	examplesDir     string
	runTimeout      time.Duration

	// Repository
	repoType    string
	databaseURL string
	project     string
	database    string
	traceBucket string
}

// datalakeFlags returns flags for the data source
func datalakeFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "datalake-url",
			Usage:       "Data lake connection URL (postgres://, clickhouse://, mysql://, duckdb://, sqlite://, bigquery://)",
			Sources:     cli.EnvVars("GRAX_DATALAKE_URL"),
			Destination: &cfg.datalakeURL,
		},
		&cli.IntFlag{
			Name:        "datalake-row-limit",
			Usage:       "Maximum rows read from one statement",
			Value:       10000,
			Sources:     cli.EnvVars("LAKEAGENT_ROW_LIMIT"),
			Destination: &cfg.rowLimit,
		},
		&cli.IntFlag{
			Name:        "datalake-max-conns",
			Usage:       "Maximum open connections to the data lake (1 serializes statements)",
			Value:       8,
			Sources:     cli.EnvVars("LAKEAGENT_MAX_OPEN_CONNS"),
			Destination: &cfg.maxOpenConns,
		},
		&cli.DurationFlag{
			Name:        "datalake-conn-max-lifetime",
			Usage:       "How long a pooled data lake connection may be reused",
			Value:       30 * time.Minute,
			Sources:     cli.EnvVars("LAKEAGENT_CONN_MAX_LIFETIME"),
			Destination: &cfg.connLifetime,
		},
		&cli.IntFlag{
			Name:        "bigquery-scan-limit",
			Usage:       "Refuse BigQuery statements scanning more bytes than this (0 disables)",
			Sources:     cli.EnvVars("LAKEAGENT_BIGQUERY_SCAN_LIMIT"),
			Destination: &cfg.scanLimit,
		},
		&cli.StringSliceFlag{
			Name:        "bigquery-location",
			Usage:       "BigQuery job locations to try when reading results",
			Sources:     cli.EnvVars("LAKEAGENT_BIGQUERY_LOCATIONS"),
			Destination: &cfg.jobLocations,
		},
	}
}

// llmFlags returns flags for LLM-related configuration with destination config
func llmFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "llm-provider",
			Usage:       "Language model provider (anthropic, gemini)",
			Value:       providerAnthropic,
			Sources:     cli.EnvVars("LAKEAGENT_LLM_PROVIDER"),
			Destination: &cfg.provider,
		},
		&cli.StringFlag{
			Name:        "anthropic-api-key",
			Usage:       "Anthropic API key",
			Sources:     cli.EnvVars("ANTHROPIC_API_KEY"),
			Destination: &cfg.anthropicAPIKey,
		},
		&cli.StringFlag{
			Name:        "anthropic-base-url",
			Usage:       "Anthropic API endpoint, for proxies and gateways",
			Sources:     cli.EnvVars("ANTHROPIC_BASE_URL"),
			Destination: &cfg.anthropicURL,
		},
		&cli.IntFlag{
			Name:        "anthropic-max-retries",
			Usage:       "Retries on transient Anthropic API failures",
			Value:       2,
			Sources:     cli.EnvVars("LAKEAGENT_ANTHROPIC_MAX_RETRIES"),
			Destination: &cfg.anthropicRetry,
		},
		&cli.StringFlag{
			Name:        "model",
			Usage:       "Model name (default depends on provider)",
			Sources:     cli.EnvVars("LAKEAGENT_MODEL"),
			Destination: &cfg.model,
		},
		&cli.FloatFlag{
			Name:        "temperature",
			Usage:       "Sampling temperature",
			Value:       0,
			Sources:     cli.EnvVars("LAKEAGENT_TEMPERATURE"),
			Destination: &cfg.temperature,
		},
		&cli.IntFlag{
			Name:        "max-tokens",
			Usage:       "Output token budget per model call",
			Value:       4096,
			Sources:     cli.EnvVars("LAKEAGENT_MAX_TOKENS"),
			Destination: &cfg.maxTokens,
		},
		&cli.IntFlag{
			Name:        "max-iterations",
			Usage:       "Maximum tool-calling rounds before a final answer is forced",
			Value:       llm.DefaultMaxIterations,
			Sources:     cli.EnvVars("LAKEAGENT_MAX_ITERATIONS"),
			Destination: &cfg.maxIterations,
		},
		&cli.StringFlag{
			Name:        "finalization-prompt",
			Usage:       "Instruction sent when the iteration limit is reached",
			Sources:     cli.EnvVars("LAKEAGENT_FINALIZATION_PROMPT"),
			Destination: &cfg.finalPrompt,
		},
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini",
			Sources:     cli.EnvVars("GEMINI_PROJECT_ID"),
			Destination: &cfg.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-api-key",
			Usage:       "Gemini Developer API key, used instead of Vertex AI when set",
			Sources:     cli.EnvVars("GEMINI_API_KEY"),
			Destination: &cfg.geminiAPIKey,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini",
			Value:       "us-central1",
			Sources:     cli.EnvVars("GEMINI_LOCATION"),
			Destination: &cfg.geminiLocation,
		},
		&cli.StringFlag{
			Name:        "schema-doc",
			Usage:       "Document describing known entity types (text or YAML catalog)",
			Sources:     cli.EnvVars("LAKEAGENT_SCHEMA_DOC"),
			Destination: &cfg.schemaDoc,
		},
		&cli.StringFlag{
			Name:        "example-queries",
			Usage:       "Directory of .sql example queries added to the prompt",
			Sources:     cli.EnvVars("LAKEAGENT_EXAMPLE_QUERIES"),
			Destination: &cfg.examplesDir,
		},
		&cli.DurationFlag{
			Name:        "run-timeout",
			Usage:       "Time limit for answering one question",
			Value:       ask.DefaultTimeout,
			Sources:     cli.EnvVars("LAKEAGENT_RUN_TIMEOUT"),
			Destination: &cfg.runTimeout,
		},
	}
}

// repositoryFlags returns flags for interaction storage
func repositoryFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "repository",
			Usage:       "Interaction store (memory, postgres, firestore). Defaults to postgres when a database URL is set",
			Sources:     cli.EnvVars("LAKEAGENT_REPOSITORY"),
			Destination: &cfg.repoType,
		},
		&cli.StringFlag{
			Name:        "database-url",
			Usage:       "PostgreSQL URL for interactions",
			Sources:     cli.EnvVars("DATABASE_URL"),
			Destination: &cfg.databaseURL,
		},
		&cli.StringFlag{
			Name:        "project",
			Aliases:     []string{"p"},
			Usage:       "Google Cloud project ID for Firestore",
			Sources:     cli.EnvVars("GOOGLE_CLOUD_PROJECT"),
			Destination: &cfg.project,
		},
		&cli.StringFlag{
			Name:        "database",
			Aliases:     []string{"d"},
			Usage:       "Firestore database ID",
			Value:       "(default)",
			Sources:     cli.EnvVars("FIRESTORE_DATABASE_ID"),
			Destination: &cfg.database,
		},
		&cli.StringFlag{
			Name:        "trace-bucket",
			Usage:       "Cloud Storage bucket for archived traces",
			Sources:     cli.EnvVars("LAKEAGENT_TRACE_BUCKET"),
			Destination: &cfg.traceBucket,
		},
	}
}

func configError(msg string) error {
	return goerr.Wrap(agent.ErrConfiguration, msg)
}

// newExecutor opens the data lake
func (cfg *config) newExecutor(ctx context.Context) (datalake.Executor, error) {
	opts := []datalake.Option{
		datalake.WithRowLimit(int(cfg.rowLimit)),
		datalake.WithMaxOpenConns(int(cfg.maxOpenConns)),
		datalake.WithConnMaxLifetime(cfg.connLifetime),
		datalake.WithScanLimit(cfg.scanLimit),
		datalake.WithJobLocations(cfg.jobLocations...),
	}
	exec, err := datalake.Open(ctx, cfg.datalakeURL, opts...)
	if err != nil {
		if errors.Is(err, datalake.ErrNotConfigured) {
			return nil, configError(datalake.ErrNotConfigured.Error())
		}
		return nil, err
	}
	return exec, nil
}

// newLLM creates the model client for the configured provider
func (cfg *config) newLLM(ctx context.Context) (llm.Client, error) {
	opts := []llm.Option{
		llm.WithModel(cfg.model),
		llm.WithTemperature(cfg.temperature),
		llm.WithMaxTokens(cfg.maxTokens),
	}

	switch cfg.provider {
	case "", providerAnthropic:
		if cfg.anthropicAPIKey == "" {
			return nil, configError("ANTHROPIC_API_KEY environment variable is not set")
		}
		claudeOpts := []adapter.ClaudeOption{adapter.WithClaudeMaxRetries(int(cfg.anthropicRetry))}
		if cfg.anthropicURL != "" {
			claudeOpts = append(claudeOpts, adapter.WithClaudeBaseURL(cfg.anthropicURL))
		}
		claude, err := adapter.NewClaude(cfg.anthropicAPIKey, claudeOpts...)
		if err != nil {
			return nil, configError(err.Error())
		}
		return llm.NewAnthropic(claude, opts...), nil

	case providerGemini:
		if cfg.geminiProject == "" && cfg.geminiAPIKey == "" {
			return nil, configError("GEMINI_PROJECT_ID or GEMINI_API_KEY environment variable is not set")
		}
		gemini, err := adapter.NewGemini(ctx, cfg.geminiProject, cfg.geminiLocation,
			adapter.WithGenerativeModel(cfg.model),
			adapter.WithGeminiAPIKey(cfg.geminiAPIKey),
		)
		if err != nil {
			return nil, configError(err.Error())
		}
		return llm.NewGemini(gemini, opts...), nil

	default:
		return nil, configError("unsupported LLM provider: " + cfg.provider)
	}
}

// newRepository creates the interaction store
func (cfg *config) newRepository(ctx context.Context) (repository.Repository, error) {
	kind := cfg.repoType
	if kind == "" {
		kind = repoMemory
		if cfg.databaseURL != "" {
			kind = repoPostgres
		}
	}

	switch kind {
	case repoMemory:
		return repository.NewMemory(), nil
	case repoPostgres:
		repo, err := repository.NewPostgres(ctx, cfg.databaseURL)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create repository")
		}
		return repo, nil
	case repoFirestore:
		repo, err := repository.NewFirestore(ctx, cfg.project, cfg.database)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create repository")
		}
		return repo, nil
	default:
		return nil, goerr.New("unsupported repository", goerr.V("repository", kind))
	}
}

// newStorage creates the trace archive, or nil when no bucket is set
func (cfg *config) newStorage(ctx context.Context) (adapter.Storage, error) {
	if cfg.traceBucket == "" {
		return nil, nil
	}

	storage, err := adapter.NewStorage(ctx, cfg.traceBucket)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage")
	}
	return storage, nil
}

// runtime holds the lazily opened data lake shared by all runs.
type runtime struct {
	cfg  *config
	tool *lakequery.Tool

	mu   sync.Mutex
	exec datalake.Executor
}

func newRuntime(cfg *config, t *lakequery.Tool) *runtime {
	return &runtime{cfg: cfg, tool: t}
}

// queryTool returns the SQL tool wired to the data lake, opening the
// connection on first use. A failed open is retried on the next call.
func (r *runtime) queryTool(ctx context.Context) (*lakequery.Tool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.exec != nil {
		return r.tool, nil
	}

	exec, err := r.cfg.newExecutor(ctx)
	if err != nil {
		return nil, err
	}
	if err := r.tool.Init(ctx, &tool.Client{Executor: exec}); err != nil {
		_ = exec.Close()
		return nil, err
	}
	r.exec = exec
	return r.tool, nil
}

// runnerFactory builds a fresh agent for every question.
func (r *runtime) runnerFactory() ask.RunnerFactory {
	return func(ctx context.Context) (ask.Runner, error) {
		client, err := r.cfg.newLLM(ctx)
		if err != nil {
			return nil, err
		}
		t, err := r.queryTool(ctx)
		if err != nil {
			return nil, err
		}

		a, err := agent.New(client, t,
			agent.WithSchemaDocument(r.cfg.schemaDoc),
			agent.WithExampleQueries(r.cfg.examplesDir),
			agent.WithMaxIterations(int(r.cfg.maxIterations)),
			agent.WithFinalizationPrompt(r.cfg.finalPrompt),
			agent.WithHandlers(trace.LogHandler{}, metrics.TraceHandler{}),
		)
		if err != nil {
			return nil, err
		}
		return a, nil
	}
}

func (r *runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.exec == nil {
		return nil
	}
	return r.exec.Close()
}

// newUseCase wires the repository, archive and agent factory.
func (cfg *config) newUseCase(ctx context.Context, rt *runtime) (*ask.UseCase, func(), error) {
	repo, err := cfg.newRepository(ctx)
	if err != nil {
		return nil, nil, err
	}
	storage, err := cfg.newStorage(ctx)
	if err != nil {
		_ = repo.Close()
		return nil, nil, err
	}

	opts := []ask.Option{ask.WithTimeout(cfg.runTimeout)}
	if storage != nil {
		opts = append(opts, ask.WithStorage(storage))
	}

	cleanup := func() {
		_ = repo.Close()
		_ = rt.Close()
	}
	return ask.New(repo, rt.runnerFactory(), opts...), cleanup, nil
}
