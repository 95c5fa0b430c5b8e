package datalake

import (
	"context"
	"fmt"

	"github.com/m-mizutani/goerr/v2"

	"github.com/m-mizutani/lakeagent/pkg/adapter"
)

// BigQuery executes statements as BigQuery jobs.
type BigQuery struct {
	client         adapter.BigQuery
	rowLimit       int
	scanLimitBytes int64
}

func NewBigQuery(client adapter.BigQuery, opts ...Option) *BigQuery {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &BigQuery{
		client:         client,
		rowLimit:       o.rowLimit,
		scanLimitBytes: o.scanLimitBytes,
	}
}

func (x *BigQuery) Execute(ctx context.Context, query string) (*ResultSet, error) {
	if x.scanLimitBytes > 0 {
		bytes, err := x.client.DryRun(ctx, query)
		if err != nil {
			return nil, newExecutionError(query, err)
		}
		if bytes > x.scanLimitBytes {
			return nil, newExecutionError(query, goerr.New(fmt.Sprintf(
				"query would scan %.2f MB, which exceeds the limit of %.2f MB; add filters or select fewer columns",
				float64(bytes)/1024/1024, float64(x.scanLimitBytes)/1024/1024,
			), goerr.V("bytes", bytes)))
		}
	}

	jobID, err := x.client.Query(ctx, query)
	if err != nil {
		return nil, newExecutionError(query, err)
	}

	result, err := x.client.GetQueryResult(ctx, jobID, x.rowLimit)
	if err != nil {
		return nil, newExecutionError(query, err)
	}

	rows := make([][]any, len(result.Rows))
	for i, row := range result.Rows {
		values := make([]any, len(row))
		for j, v := range row {
			values[j] = normalizeValue(v)
		}
		rows[i] = values
	}

	return &ResultSet{
		Columns:   result.Columns,
		Rows:      rows,
		Truncated: result.Truncated,
	}, nil
}

func (x *BigQuery) Close() error {
	return x.client.Close()
}
