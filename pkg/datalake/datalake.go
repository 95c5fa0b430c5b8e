// Package datalake runs single SQL statements against the configured tabular
// store and returns rectangular results.
package datalake

import (
	"context"
	"errors"

	"github.com/m-mizutani/goerr/v2"
)

var (
	// ErrNotConfigured means no data source URL was supplied.
	ErrNotConfigured = goerr.New("GRAX_DATALAKE_URL environment variable is not set")

	ErrUnsupportedScheme = goerr.New("unsupported data source scheme")
)

// Executor runs one statement and reports the outcome. It never retries.
type Executor interface {
	Execute(ctx context.Context, query string) (*ResultSet, error)
	Close() error
}

// ResultSet is an ordered list of columns and rows. Zero rows is a valid
// result, not an error.
type ResultSet struct {
	Columns []string
	Rows    [][]any

	// Truncated is set when rows beyond the configured row limit were dropped.
	Truncated bool
}

// Empty reports whether the statement produced no rows.
func (x *ResultSet) Empty() bool {
	return x == nil || len(x.Rows) == 0
}

// ExecutionError carries the statement and the driver's original message.
type ExecutionError struct {
	SQL string
	Err error
}

func (e *ExecutionError) Error() string {
	if e.Err == nil {
		return "query execution failed"
	}
	return e.Err.Error()
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// AsExecutionError extracts an ExecutionError from an error chain.
func AsExecutionError(err error) (*ExecutionError, bool) {
	var e *ExecutionError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

func newExecutionError(query string, err error) error {
	return &ExecutionError{SQL: query, Err: err}
}

func normalizeValue(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	default:
		return v
	}
}
