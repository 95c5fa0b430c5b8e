package datalake_test

import (
	"context"
	"errors"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/lakeagent/pkg/adapter"
	"github.com/m-mizutani/lakeagent/pkg/datalake"
)

type mockBigQuery struct {
	adapter.BigQuery
	dryRunFunc func(ctx context.Context, query string) (int64, error)
	queryFunc  func(ctx context.Context, query string) (string, error)
	resultFunc func(ctx context.Context, jobID string, limit int) (*adapter.QueryResult, error)
}

func (m *mockBigQuery) DryRun(ctx context.Context, query string) (int64, error) {
	return m.dryRunFunc(ctx, query)
}

func (m *mockBigQuery) Query(ctx context.Context, query string) (string, error) {
	return m.queryFunc(ctx, query)
}

func (m *mockBigQuery) GetQueryResult(ctx context.Context, jobID string, limit int) (*adapter.QueryResult, error) {
	return m.resultFunc(ctx, jobID, limit)
}

func TestBigQueryExecute(t *testing.T) {
	var gotLimit int
	mock := &mockBigQuery{
		queryFunc: func(ctx context.Context, query string) (string, error) {
			gt.Equal(t, query, "SELECT name FROM lake.object_account")
			return "job-1", nil
		},
		resultFunc: func(ctx context.Context, jobID string, limit int) (*adapter.QueryResult, error) {
			gt.Equal(t, jobID, "job-1")
			gotLimit = limit
			return &adapter.QueryResult{
				Columns: []string{"name"},
				Rows:    [][]any{{"Acme"}, {[]byte("Globex")}},
			}, nil
		},
	}

	x := datalake.NewBigQuery(mock, datalake.WithRowLimit(50))
	rs, err := x.Execute(context.Background(), "SELECT name FROM lake.object_account")
	gt.NoError(t, err)
	gt.Equal(t, gotLimit, 50)
	gt.Equal(t, rs.Columns, []string{"name"})
	gt.Equal(t, rs.Rows[1][0], any("Globex"))
}

func TestBigQueryScanLimit(t *testing.T) {
	called := false
	mock := &mockBigQuery{
		dryRunFunc: func(ctx context.Context, query string) (int64, error) {
			return 20 * 1024 * 1024, nil
		},
		queryFunc: func(ctx context.Context, query string) (string, error) {
			called = true
			return "", nil
		},
	}

	x := datalake.NewBigQuery(mock, datalake.WithScanLimit(10*1024*1024))
	_, err := x.Execute(context.Background(), "SELECT * FROM big")
	gt.Error(t, err)
	gt.False(t, called)

	execErr, ok := datalake.AsExecutionError(err)
	gt.True(t, ok)
	gt.S(t, execErr.Error()).Contains("exceeds the limit")
}

func TestBigQueryQueryFailure(t *testing.T) {
	mock := &mockBigQuery{
		queryFunc: func(ctx context.Context, query string) (string, error) {
			return "", errors.New("Syntax error: Unexpected keyword FROM")
		},
	}

	x := datalake.NewBigQuery(mock)
	_, err := x.Execute(context.Background(), "SELECT FROM")
	execErr, ok := datalake.AsExecutionError(err)
	gt.True(t, ok)
	gt.Equal(t, execErr.SQL, "SELECT FROM")
	gt.S(t, execErr.Error()).Contains("Syntax error")
}
