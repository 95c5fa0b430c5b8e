package ask

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/m-mizutani/lakeagent/pkg/agent"
	"github.com/m-mizutani/lakeagent/pkg/metrics"
	"github.com/m-mizutani/lakeagent/pkg/model"
	"github.com/m-mizutani/lakeagent/pkg/trace"
	"github.com/m-mizutani/lakeagent/pkg/utils/logging"
)

// Answer is what the caller gets back from RunQuery.
type Answer struct {
	ID        model.InteractionID `json:"id,omitempty"`
	Query     string              `json:"query"`
	Response  string              `json:"message"`
	Trace     trace.Trace         `json:"trace"`
	State     agent.State         `json:"state"`
	Persisted bool                `json:"-"`
}

// RunQuery answers query.
//
// An empty query returns ErrQueryRequired. A missing credential or data
// source returns an Answer whose Response starts with ConfigErrorPrefix
// together with an error wrapping agent.ErrConfiguration. Every other failure,
// including the timeout, is reported inside the Answer and is not stored.
func (u *UseCase) RunQuery(ctx context.Context, query string) (*Answer, error) {
	logger := logging.From(ctx)

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, goerr.Wrap(ErrQueryRequired, "empty query")
	}

	logger.Info("received query", "query", query)

	runner, err := u.newRunner(ctx)
	if err != nil {
		logger.Error("configuration error", "error", err)
		metrics.ObserveRun(agent.StateFailed.String(), 0)
		return &Answer{
			Query:    query,
			Response: ConfigErrorPrefix + configReason(err),
			Trace:    trace.Trace{},
			State:    agent.StateFailed,
		}, err
	}

	runCtx := ctx
	if u.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, u.timeout)
		defer cancel()
	}

	start := time.Now()
	res := runner.Run(runCtx, query)
	metrics.ObserveRun(res.State.String(), time.Since(start))

	answer := &Answer{
		Query:    query,
		Response: res.Response,
		Trace:    res.Trace,
		State:    res.State,
	}
	if answer.Trace == nil {
		answer.Trace = trace.Trace{}
	}

	if res.Failed() {
		logger.Warn("run failed, not storing interaction", "error", res.Err, "run_id", res.RunID)
		return answer, nil
	}

	x := model.NewInteraction(query, res.Response, res.Trace, u.now())
	if err := u.repo.PutInteraction(ctx, x); err != nil {
		logger.Error("failed to store interaction", "error", err, "run_id", res.RunID)
		return answer, nil
	}
	answer.ID = x.ID
	answer.Persisted = true

	u.archive(ctx, x)

	logger.Info("query answered", "id", x.ID, "events", len(x.Trace))
	return answer, nil
}

func (u *UseCase) newRunner(ctx context.Context) (runner Runner, err error) {
	if u.factory == nil {
		return nil, goerr.Wrap(agent.ErrConfiguration, "agent is not configured")
	}

	runner, err = u.factory(ctx)
	if err != nil {
		if !errors.Is(err, agent.ErrConfiguration) {
			err = goerr.Wrap(agent.ErrConfiguration, err.Error())
		}
		return nil, err
	}
	if runner == nil {
		return nil, goerr.Wrap(agent.ErrConfiguration, "agent is not configured")
	}
	return runner, nil
}

// configReason drops the sentinel text so the response reads
// "Configuration error: <what is missing>".
func configReason(err error) string {
	return strings.TrimSuffix(err.Error(), ": "+agent.ErrConfiguration.Error())
}

func (u *UseCase) archive(ctx context.Context, x *model.Interaction) {
	if u.storage == nil {
		return
	}
	logger := logging.From(ctx)

	w, err := u.storage.Put(ctx, traceKey(x.ID))
	if err != nil {
		logger.Warn("failed to open trace archive", "error", err, "id", x.ID)
		return
	}

	enc := json.NewEncoder(w)
	if err := enc.Encode(x); err != nil {
		_ = w.Close()
		logger.Warn("failed to write trace archive", "error", err, "id", x.ID)
		return
	}
	if err := w.Close(); err != nil {
		logger.Warn("failed to close trace archive", "error", err, "id", x.ID)
	}
}

func traceKey(id model.InteractionID) string {
	return "traces/" + id.String() + ".json"
}
