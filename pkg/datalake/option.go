package datalake

import "time"

type options struct {
	rowLimit        int
	maxOpenConns    int
	maxIdleConns    int
	connMaxLifetime time.Duration
	scanLimitBytes  int64
	jobLocations    []string
}

func defaultOptions() options {
	return options{
		rowLimit:        10000,
		maxOpenConns:    8,
		maxIdleConns:    2,
		connMaxLifetime: 30 * time.Minute,
	}
}

// Option configures an Executor.
type Option func(*options)

// WithRowLimit caps rows read from one result. n <= 0 disables the cap.
func WithRowLimit(n int) Option {
	return func(o *options) { o.rowLimit = n }
}

// WithMaxOpenConns limits pooled connections. 1 serializes every statement on
// a single connection.
func WithMaxOpenConns(n int) Option {
	return func(o *options) {
		o.maxOpenConns = n
		if o.maxIdleConns > n {
			o.maxIdleConns = n
		}
	}
}

// WithConnMaxLifetime sets how long a pooled connection may be reused.
func WithConnMaxLifetime(d time.Duration) Option {
	return func(o *options) { o.connMaxLifetime = d }
}

// WithScanLimit rejects BigQuery statements whose dry run reports more bytes
// than limit. It has no effect on other backends.
func WithScanLimit(limit int64) Option {
	return func(o *options) { o.scanLimitBytes = limit }
}

// WithJobLocations lists the BigQuery locations tried when fetching a job.
func WithJobLocations(locations ...string) Option {
	return func(o *options) { o.jobLocations = append(o.jobLocations, locations...) }
}
