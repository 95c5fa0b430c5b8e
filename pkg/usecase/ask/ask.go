// Package ask runs one natural language question end to end: build the
// agent, run it under a deadline, and keep the successful interactions.
package ask

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/m-mizutani/lakeagent/pkg/adapter"
	"github.com/m-mizutani/lakeagent/pkg/agent"
	"github.com/m-mizutani/lakeagent/pkg/repository"
)

var ErrQueryRequired = goerr.New("query is required")

// ConfigErrorPrefix starts the response of a run that could not start
// because a credential or connection setting is missing.
const ConfigErrorPrefix = "Configuration error: "

const DefaultTimeout = 2 * time.Minute

// Runner executes one run. *agent.Agent implements it.
type Runner interface {
	Run(ctx context.Context, query string) *agent.Result
}

// RunnerFactory builds the runner for a request. It is called on every
// RunQuery so a missing setting surfaces at first use.
type RunnerFactory func(ctx context.Context) (Runner, error)

// UseCase provides question answering and interaction history
type UseCase struct {
	repo    repository.Repository
	factory RunnerFactory
	storage adapter.Storage
	timeout time.Duration
	now     func() time.Time
}

// Option is a functional option for UseCase
type Option func(*UseCase)

// WithStorage archives each stored trace as JSON in Cloud Storage
func WithStorage(s adapter.Storage) Option {
	return func(u *UseCase) { u.storage = s }
}

// WithTimeout bounds each run. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(u *UseCase) { u.timeout = d }
}

func WithClock(now func() time.Time) Option {
	return func(u *UseCase) { u.now = now }
}

// New creates a new ask UseCase instance
func New(repo repository.Repository, factory RunnerFactory, opts ...Option) *UseCase {
	u := &UseCase{
		repo:    repo,
		factory: factory,
		timeout: DefaultTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}
