package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"

	"github.com/m-mizutani/lakeagent/pkg/agent"
	"github.com/m-mizutani/lakeagent/pkg/model"
	"github.com/m-mizutani/lakeagent/pkg/repository"
	"github.com/m-mizutani/lakeagent/pkg/server"
	"github.com/m-mizutani/lakeagent/pkg/trace"
	"github.com/m-mizutani/lakeagent/pkg/usecase/ask"
)

type mockUseCase struct {
	runQueryFunc func(ctx context.Context, query string) (*ask.Answer, error)
	listFunc     func(ctx context.Context, opts ask.ListOptions) ([]*model.Interaction, error)
	showFunc     func(ctx context.Context, id model.InteractionID) (*model.Interaction, error)
}

func (m *mockUseCase) RunQuery(ctx context.Context, query string) (*ask.Answer, error) {
	return m.runQueryFunc(ctx, query)
}

func (m *mockUseCase) List(ctx context.Context, opts ask.ListOptions) ([]*model.Interaction, error) {
	return m.listFunc(ctx, opts)
}

func (m *mockUseCase) Show(ctx context.Context, id model.InteractionID) (*model.Interaction, error) {
	return m.showFunc(ctx, id)
}

func sampleInteraction() *model.Interaction {
	col := trace.NewCollector()
	col.ToolStarted(context.Background(), trace.ToolCall{Tool: "datalake_query", Input: "SELECT COUNT(*) FROM object_account"})
	return model.NewInteraction("How many accounts?", "There are <b>42</b> accounts.", col.Events(),
		time.Date(2024, 6, 20, 9, 30, 0, 0, time.UTC))
}

func post(t *testing.T, h http.Handler, body string, auth ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if len(auth) == 2 {
		req.SetBasicAuth(auth[0], auth[1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestQuerySuccess(t *testing.T) {
	x := sampleInteraction()
	uc := &mockUseCase{runQueryFunc: func(ctx context.Context, query string) (*ask.Answer, error) {
		gt.Equal(t, query, "How many accounts?")
		return &ask.Answer{ID: x.ID, Query: query, Response: "42", Trace: x.Trace, State: agent.StateDone}, nil
	}}

	rec := post(t, server.New(uc), `{"query": "How many accounts?"}`)
	gt.Equal(t, rec.Code, http.StatusOK)

	var resp struct {
		ID      string            `json:"id"`
		Message string            `json:"message"`
		Trace   []json.RawMessage `json:"trace"`
	}
	gt.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	gt.Equal(t, resp.Message, "42")
	gt.Equal(t, resp.ID, x.ID.String())
	gt.A(t, resp.Trace).Length(1)
	gt.S(t, string(resp.Trace[0])).Contains("tool_invocation_started")
}

func TestQueryMissingField(t *testing.T) {
	uc := &mockUseCase{runQueryFunc: func(ctx context.Context, query string) (*ask.Answer, error) {
		t.Fatal("must not be called")
		return nil, nil
	}}
	h := server.New(uc)

	for _, body := range []string{`{}`, `not json`, `{"q": "x"}`} {
		rec := post(t, h, body)
		gt.Equal(t, rec.Code, http.StatusBadRequest)
		gt.S(t, rec.Body.String()).Contains("'query' field is required")
	}
}

func TestQueryEmptyString(t *testing.T) {
	uc := &mockUseCase{runQueryFunc: func(ctx context.Context, query string) (*ask.Answer, error) {
		return nil, goerr.Wrap(ask.ErrQueryRequired, "empty query")
	}}
	rec := post(t, server.New(uc), `{"query": ""}`)
	gt.Equal(t, rec.Code, http.StatusBadRequest)
}

func TestQueryConfigurationError(t *testing.T) {
	uc := &mockUseCase{runQueryFunc: func(ctx context.Context, query string) (*ask.Answer, error) {
		return &ask.Answer{Response: ask.ConfigErrorPrefix + "ANTHROPIC_API_KEY is not set", State: agent.StateFailed},
			goerr.Wrap(agent.ErrConfiguration, "ANTHROPIC_API_KEY is not set")
	}}

	rec := post(t, server.New(uc), `{"query": "List all tables"}`)
	gt.Equal(t, rec.Code, http.StatusInternalServerError)

	var resp map[string]string
	gt.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	gt.True(t, strings.HasPrefix(resp["error"], "Configuration error: "))
}

func TestQueryFailedRunIsOK(t *testing.T) {
	uc := &mockUseCase{runQueryFunc: func(ctx context.Context, query string) (*ask.Answer, error) {
		return &ask.Answer{Response: agent.ErrorPrefix + "overloaded", Trace: trace.Trace{}, State: agent.StateFailed}, nil
	}}

	rec := post(t, server.New(uc), `{"query": "q"}`)
	gt.Equal(t, rec.Code, http.StatusOK)
	gt.S(t, rec.Body.String()).Contains("Error processing query: overloaded")
}

func TestBasicAuth(t *testing.T) {
	uc := &mockUseCase{runQueryFunc: func(ctx context.Context, query string) (*ask.Answer, error) {
		return &ask.Answer{Response: "ok", Trace: trace.Trace{}}, nil
	}}
	h := server.New(uc, server.WithBasicAuth("heroku", "agent"))

	rec := post(t, h, `{"query": "q"}`)
	gt.Equal(t, rec.Code, http.StatusUnauthorized)
	gt.S(t, rec.Header().Get("WWW-Authenticate")).Contains("Basic")

	rec = post(t, h, `{"query": "q"}`, "heroku", "wrong")
	gt.Equal(t, rec.Code, http.StatusUnauthorized)

	rec = post(t, h, `{"query": "q"}`, "heroku", "agent")
	gt.Equal(t, rec.Code, http.StatusOK)

	// health stays open for probes
	hrec := httptest.NewRecorder()
	h.ServeHTTP(hrec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	gt.Equal(t, hrec.Code, http.StatusOK)
}

func TestInteractionsJSON(t *testing.T) {
	x := sampleInteraction()
	uc := &mockUseCase{
		listFunc: func(ctx context.Context, opts ask.ListOptions) ([]*model.Interaction, error) {
			gt.Equal(t, opts.Offset, 5)
			gt.Equal(t, opts.Limit, 2)
			return []*model.Interaction{x}, nil
		},
		showFunc: func(ctx context.Context, id model.InteractionID) (*model.Interaction, error) {
			if id == x.ID {
				return x, nil
			}
			return nil, goerr.Wrap(repository.ErrNotFound, "no such interaction")
		},
	}
	h := server.New(uc)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/interactions?offset=5&limit=2", nil))
	gt.Equal(t, rec.Code, http.StatusOK)
	gt.S(t, rec.Body.String()).Contains(x.ID.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/interactions/"+x.ID.String(), nil))
	gt.Equal(t, rec.Code, http.StatusOK)
	var got model.Interaction
	gt.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	gt.Equal(t, got.Query, x.Query)
	gt.A(t, got.Trace).Length(1)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/interactions/"+model.NewInteractionID().String(), nil))
	gt.Equal(t, rec.Code, http.StatusNotFound)
}

func TestPages(t *testing.T) {
	x := sampleInteraction()
	uc := &mockUseCase{
		listFunc: func(ctx context.Context, opts ask.ListOptions) ([]*model.Interaction, error) {
			return []*model.Interaction{x}, nil
		},
		showFunc: func(ctx context.Context, id model.InteractionID) (*model.Interaction, error) {
			if id == x.ID {
				return x, nil
			}
			return nil, errors.New("backend down")
		},
	}
	h := server.New(uc)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	gt.Equal(t, rec.Code, http.StatusOK)
	gt.S(t, rec.Body.String()).Contains("How many accounts?")
	gt.S(t, rec.Body.String()).Contains("/ui/interactions/" + x.ID.String())
	// response text is escaped
	gt.S(t, rec.Body.String()).NotContains("<b>42</b>")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ui/interactions/"+x.ID.String(), nil))
	gt.Equal(t, rec.Code, http.StatusOK)
	gt.S(t, rec.Body.String()).Contains("tool_invocation_started")
	gt.S(t, rec.Body.String()).Contains("SELECT COUNT(*) FROM object_account")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ui/interactions/other", nil))
	gt.Equal(t, rec.Code, http.StatusInternalServerError)
}

func TestMCPMount(t *testing.T) {
	called := false
	mcpHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusAccepted)
	})
	h := server.New(&mockUseCase{}, server.WithMCP(mcpHandler))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader("{}")))
	gt.True(t, called)
	gt.Equal(t, rec.Code, http.StatusAccepted)
}

func TestMetricsEndpoint(t *testing.T) {
	rec := httptest.NewRecorder()
	server.New(&mockUseCase{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	gt.Equal(t, rec.Code, http.StatusOK)
	gt.S(t, rec.Body.String()).Contains("go_goroutines")
}
