package adapter

import (
	"context"

	"cloud.google.com/go/bigquery"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/api/iterator"
)

// BigQuery is an interface for BigQuery operations
type BigQuery interface {
	// DryRun executes a query in dry-run mode and returns the number of bytes that will be scanned
	DryRun(ctx context.Context, query string) (int64, error)

	// Query executes a query, waits for it and returns the job ID
	Query(ctx context.Context, query string) (string, error)

	// GetQueryResult reads at most limit rows of a finished job. limit <= 0 reads all rows.
	GetQueryResult(ctx context.Context, jobID string, limit int) (*QueryResult, error)

	Close() error
}

// QueryResult keeps the column order of the job's schema.
type QueryResult struct {
	Columns   []string
	Rows      [][]any
	Truncated bool
}

type bigqueryClient struct {
	client    *bigquery.Client
	locations []string
}

// BigQueryOption is a functional option for BigQuery client
type BigQueryOption func(*bigqueryClient)

// WithJobLocations sets locations tried when a job is not found in the client's default location
func WithJobLocations(locations ...string) BigQueryOption {
	return func(bq *bigqueryClient) {
		bq.locations = locations
	}
}

// NewBigQuery creates a new BigQuery client
func NewBigQuery(ctx context.Context, projectID string, opts ...BigQueryOption) (BigQuery, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create BigQuery client", goerr.V("project", projectID))
	}

	bq := &bigqueryClient{
		client:    client,
		locations: []string{"US", "EU", "us-central1", "asia-northeast1", "europe-west1"},
	}

	for _, opt := range opts {
		opt(bq)
	}

	return bq, nil
}

// DryRun executes a query in dry-run mode and returns the number of bytes that will be scanned
func (bq *bigqueryClient) DryRun(ctx context.Context, query string) (int64, error) {
	q := bq.client.Query(query)
	q.DryRun = true

	job, err := q.Run(ctx)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to run dry-run query")
	}

	status := job.LastStatus()
	if status == nil || status.Statistics == nil {
		return 0, goerr.New("no statistics available from dry-run")
	}

	return status.Statistics.TotalBytesProcessed, nil
}

// Query executes a query and returns the job ID
func (bq *bigqueryClient) Query(ctx context.Context, query string) (string, error) {
	q := bq.client.Query(query)

	job, err := q.Run(ctx)
	if err != nil {
		return "", goerr.Wrap(err, "failed to run query")
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return "", goerr.Wrap(err, "failed to wait for query completion", goerr.V("job_id", job.ID()))
	}

	if status.Err() != nil {
		return "", goerr.Wrap(status.Err(), "query execution failed", goerr.V("job_id", job.ID()))
	}

	return job.ID(), nil
}

func (bq *bigqueryClient) lookupJob(ctx context.Context, jobID string) (*bigquery.Job, error) {
	job, err := bq.client.JobFromID(ctx, jobID)
	if err == nil {
		return job, nil
	}

	for _, loc := range bq.locations {
		job, err = bq.client.JobFromIDLocation(ctx, jobID, loc)
		if err == nil {
			return job, nil
		}
	}
	return nil, goerr.Wrap(err, "failed to get job from ID (tried multiple locations)", goerr.V("job_id", jobID))
}

// GetQueryResult retrieves the result of a query job
func (bq *bigqueryClient) GetQueryResult(ctx context.Context, jobID string, limit int) (*QueryResult, error) {
	job, err := bq.lookupJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	it, err := job.Read(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read query result", goerr.V("job_id", jobID))
	}

	result := &QueryResult{}
	for {
		var row []bigquery.Value
		err := it.Next(&row)
		if result.Columns == nil && it.Schema != nil {
			result.Columns = make([]string, len(it.Schema))
			for i, field := range it.Schema {
				result.Columns[i] = field.Name
			}
		}
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate query result", goerr.V("job_id", jobID))
		}

		if limit > 0 && len(result.Rows) >= limit {
			result.Truncated = true
			break
		}

		values := make([]any, len(row))
		for i, v := range row {
			values[i] = v
		}
		result.Rows = append(result.Rows, values)
	}

	return result, nil
}

func (bq *bigqueryClient) Close() error {
	if err := bq.client.Close(); err != nil {
		return goerr.Wrap(err, "failed to close BigQuery client")
	}
	return nil
}
